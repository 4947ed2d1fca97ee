package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/irsalhamdi/course-cart/core/coupon"
	"github.com/irsalhamdi/course-cart/core/event"
	"github.com/irsalhamdi/course-cart/core/instance"
	"github.com/irsalhamdi/course-cart/core/notify"
	"github.com/irsalhamdi/course-cart/validate"
	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrStatusChanged is returned when another request moved the cart out of
// the expected status first.
var ErrStatusChanged = errors.New("cart status changed concurrently")

// Result codes set by the cart itself.
const (
	ErrCodeEditBlocked    = "error_cart_edit_blocked"
	ErrCodeAlreadyApplied = "error_coupon_already_applied"
)

const (
	msgEditBlocked      = "The cart cannot be edited while a payment is in progress."
	msgUnavailable      = "The enrolment is not available."
	msgAlreadyInCart    = "The enrolment is already in your cart."
	msgNotInCart        = "The enrolment is not in your cart."
	msgNoCourseInstance = "The course has no enrolment available for purchase."
	msgItemRemoved      = "An enrolment was removed from your cart because it is no longer available."
	msgEmpty            = "Your cart is empty."
	msgCancelSuccess    = "The cart was canceled."
	msgCancelFailed     = "The cart could not be canceled."
	msgEnrolSuccess     = "You have been enrolled successfully."
	msgEnrolFailed      = "The enrolment failed."
	msgCouponInvalid    = "The coupon code is invalid."
	msgCouponApplied    = "The coupon was applied."
	msgCouponAttached   = "A coupon is already applied to the cart. Cancel it first."
)

func alreadyEnrolled(name string) string {
	return fmt.Sprintf("You are already enrolled in %s.", name)
}

// UserCart is a persisted cart seen by an acting user.
type UserCart struct {
	svc     *Service
	rec     Cart
	items   []Item
	actor   string
	changed bool
	coupon  coupon.Result
}

func (c *UserCart) load(ctx context.Context) error {
	if c.rec.ID == "" {
		c.items = []Item{}
		return nil
	}

	items, err := c.svc.store.Items(ctx, c.rec.ID)
	if err != nil {
		return err
	}
	c.items = items
	return nil
}

func (c *UserCart) Record() Cart { return c.rec }

func (c *UserCart) ID() string { return c.rec.ID }

func (c *UserCart) Status() Status { return c.rec.Status }

func (c *UserCart) Items() []Item { return c.items }

func (c *UserCart) Count() int { return len(c.items) }

func (c *UserCart) IsEmpty() bool { return len(c.items) == 0 }

func (c *UserCart) HasItem(instanceID string) bool {
	_, ok := c.item(instanceID)
	return ok
}

func (c *UserCart) item(instanceID string) (Item, bool) {
	for _, it := range c.items {
		if it.InstanceID == instanceID {
			return it, true
		}
	}
	return Item{}, false
}

// HasChanged reports whether the last Refresh removed items or moved totals.
func (c *UserCart) HasChanged() bool { return c.changed }

// CouponResult is the outcome of the last coupon call.
func (c *UserCart) CouponResult() coupon.Result { return c.coupon }

func (c *UserCart) IsOwner() bool {
	return c.actor != "" && c.actor == c.rec.UserID
}

// IsCheckoutExpired reports whether the payment completion window of a
// checked out cart has lapsed.
func (c *UserCart) IsCheckoutExpired() bool {
	if c.rec.Status != StatusCheckout || c.rec.CheckoutAt == nil {
		return false
	}
	return c.svc.now().Sub(*c.rec.CheckoutAt) > c.svc.cfg.PaymentCompletionTime
}

func (c *UserCart) CanEditItems() bool {
	if !c.IsOwner() {
		return false
	}
	return c.rec.Status == StatusCurrent || (c.rec.Status == StatusCheckout && c.IsCheckoutExpired())
}

func (c *UserCart) FinalCurrency() string {
	if c.rec.Currency != "" {
		return c.rec.Currency
	}
	return c.svc.cfg.Currency
}

// FinalPrice is the stored price of a delivered cart, otherwise the live sum.
func (c *UserCart) FinalPrice() decimal.Decimal {
	if c.rec.Status == StatusDelivered {
		return c.rec.Price
	}
	price, _ := sum(c.items)
	return price
}

// FinalPayable is the stored payable of a locked cart. An editable cart sums
// its items and subtracts the attached coupon discount.
func (c *UserCart) FinalPayable() decimal.Decimal {
	if !c.CanEditItems() {
		return c.rec.Payable
	}

	_, payable := sum(c.items)
	if c.HasCoupon() {
		payable = payable.Sub(c.rec.CouponDiscount)
	}
	if payable.IsNegative() {
		return decimal.Zero
	}
	return payable
}

func (c *UserCart) ItemsDiscount() decimal.Decimal {
	price, payable := sum(c.items)
	return price.Sub(payable)
}

func (c *UserCart) FinalDiscount() decimal.Decimal {
	return c.FinalPrice().Sub(c.FinalPayable())
}

func (c *UserCart) IsFinalPayableZero() bool {
	return !c.FinalPayable().IsPositive()
}

func (c *UserCart) projection() coupon.CartView {
	return Projection(c.rec, c.items, c.FinalPrice(), c.FinalPayable())
}

func (c *UserCart) save(ctx context.Context) error {
	now := c.svc.now().UTC()
	c.rec.UpdatedAt = now
	c.rec.UpdatedBy = c.actor

	if c.rec.ID != "" {
		return c.svc.store.Update(ctx, c.rec)
	}

	rec := c.rec
	rec.ID = validate.GenerateID()
	rec.CreatedAt = now
	rec.CreatedBy = c.actor
	if len(rec.Data) == 0 {
		rec.Data = types.JSONText("{}")
	}

	err := c.svc.store.Create(ctx, rec)
	if errors.Is(err, ErrExists) {
		existing, err := c.svc.store.Current(ctx, rec.UserID)
		if err != nil {
			return err
		}
		c.rec = existing
		return c.load(ctx)
	}
	if err != nil {
		return err
	}

	c.rec = rec
	return nil
}

func (c *UserCart) available(ctx context.Context, in instance.Instance) (bool, string, error) {
	if c.svc.avail == nil {
		return true, "", nil
	}
	return c.svc.avail.IsAvailable(ctx, in.Availability, c.rec.UserID)
}

// AddItem puts an enrolment instance into the cart. Rejections return false
// with a notice.
func (c *UserCart) AddItem(ctx context.Context, instanceID string) (bool, error) {
	if !c.CanEditItems() {
		notify.Warn(ctx, msgEditBlocked)
		return false, nil
	}

	in, err := c.svc.catalog.Instance(ctx, instanceID)
	if err != nil {
		if unavailable(err) {
			notify.Info(ctx, msgUnavailable)
			return false, nil
		}
		return false, err
	}

	ok, info, err := c.available(ctx, in)
	if err != nil {
		return false, err
	}
	if !ok {
		notify.Info(ctx, info)
		return false, nil
	}

	if c.HasItem(in.ID) {
		notify.Info(ctx, msgAlreadyInCart)
		return false, nil
	}

	enrolled, err := c.svc.enroller.IsEnrolled(ctx, in.ID, c.rec.UserID)
	if err != nil {
		return false, err
	}
	if enrolled {
		notify.Info(ctx, alreadyEnrolled(in.Name))
		return false, nil
	}

	if c.rec.ID == "" {
		if err := c.save(ctx); err != nil {
			return false, fmt.Errorf("creating cart: %w", err)
		}
	}

	it := Item{
		ID:         validate.GenerateID(),
		CartID:     c.rec.ID,
		InstanceID: in.ID,
		CourseID:   in.CourseID,
		Price:      in.Price(),
		Payable:    in.Payable(),
		CreatedAt:  c.svc.now().UTC(),
	}

	created, err := c.svc.store.CreateItem(ctx, it)
	if err != nil {
		return false, err
	}
	if !created {
		notify.Info(ctx, msgAlreadyInCart)
		return false, nil
	}
	c.items = append(c.items, it)

	return c.Refresh(ctx, false)
}

func (c *UserCart) RemoveItem(ctx context.Context, instanceID string) (bool, error) {
	if !c.CanEditItems() {
		notify.Warn(ctx, msgEditBlocked)
		return false, nil
	}

	it, ok := c.item(instanceID)
	if !ok {
		notify.Info(ctx, msgNotInCart)
		return false, nil
	}

	if err := c.svc.store.DeleteItem(ctx, it.ID); err != nil {
		return false, err
	}
	c.drop(it.ID)

	return c.Refresh(ctx, false)
}

func (c *UserCart) drop(itemID string) {
	for i, it := range c.items {
		if it.ID == itemID {
			c.items = append(c.items[:i:i], c.items[i+1:]...)
			return
		}
	}
}

// AddCourse adds the first enabled instance of the course.
func (c *UserCart) AddCourse(ctx context.Context, courseID string) (bool, error) {
	id, err := c.svc.catalog.CourseInstance(ctx, courseID)
	if err != nil {
		if unavailable(err) {
			notify.Info(ctx, msgNoCourseInstance)
			return false, nil
		}
		return false, err
	}
	return c.AddItem(ctx, id)
}

func (c *UserCart) RemoveCourse(ctx context.Context, courseID string) (bool, error) {
	for _, it := range c.items {
		if it.CourseID == courseID {
			return c.RemoveItem(ctx, it.InstanceID)
		}
	}

	notify.Info(ctx, msgNotInCart)
	return false, nil
}

// Refresh reconciles the items with the live instances. Items whose instance
// is gone, already owned or no longer available are removed; prices are
// refreshed while the cart is editable. force skips the edit rights check.
func (c *UserCart) Refresh(ctx context.Context, force bool) (bool, error) {
	if !c.CanEditItems() && !force {
		return false, nil
	}

	c.changed = false
	if c.rec.ID == "" {
		c.items = []Item{}
		return true, nil
	}

	items, err := c.svc.store.Items(ctx, c.rec.ID)
	if err != nil {
		return false, err
	}

	editable := c.CanEditItems()
	kept := make([]Item, 0, len(items))
	for _, it := range items {
		keep, err := c.reconcile(ctx, &it, editable)
		if err != nil {
			return false, err
		}
		if !keep {
			c.changed = true
			if err := c.svc.store.DeleteItem(ctx, it.ID); err != nil {
				return false, err
			}
			continue
		}
		kept = append(kept, it)
	}
	c.items = kept

	price, payable := c.FinalPrice(), c.FinalPayable()
	if !price.Equal(c.rec.Price) || !payable.Equal(c.rec.Payable) {
		c.changed = true
		c.rec.Price = price
		c.rec.Payable = payable

		if err := c.save(ctx); err != nil {
			return false, err
		}
	}

	return true, nil
}

func (c *UserCart) reconcile(ctx context.Context, it *Item, editable bool) (bool, error) {
	in, err := c.svc.catalog.Instance(ctx, it.InstanceID)
	if err != nil {
		if unavailable(err) {
			notify.Info(ctx, msgItemRemoved)
			return false, nil
		}
		return false, err
	}

	enrolled, err := c.svc.enroller.IsEnrolled(ctx, it.InstanceID, c.rec.UserID)
	if err != nil {
		return false, err
	}
	if enrolled {
		notify.Info(ctx, alreadyEnrolled(in.Name))
		return false, nil
	}

	ok, info, err := c.available(ctx, in)
	if err != nil {
		return false, err
	}
	if !ok {
		notify.Info(ctx, info)
		return false, nil
	}

	if editable && (!it.Price.Equal(in.Price()) || !it.Payable.Equal(in.Payable())) {
		if err := c.svc.store.UpdateItemPrice(ctx, it.ID, in.Price(), in.Payable()); err != nil {
			return false, err
		}
		it.Price = in.Price()
		it.Payable = in.Payable()
	}

	return true, nil
}

// Checkout locks the cart for payment: the currency is frozen, the totals are
// snapshotted and checkout_at is stamped.
func (c *UserCart) Checkout(ctx context.Context) (bool, error) {
	if !c.CanEditItems() {
		notify.Warn(ctx, msgEditBlocked)
		return false, nil
	}
	if c.IsEmpty() {
		notify.Warn(ctx, msgEmpty)
		return false, nil
	}

	prev := c.rec
	now := c.svc.now().UTC()

	c.rec.Price = c.FinalPrice()
	c.rec.Payable = c.FinalPayable()
	c.rec.Currency = c.FinalCurrency()
	c.rec.Status = StatusCheckout
	c.rec.CheckoutAt = &now

	if err := c.save(ctx); err != nil {
		c.rec = prev
		return false, fmt.Errorf("checking out cart[%s]: %w", prev.ID, err)
	}
	return true, nil
}

// Cancel closes the cart in one transaction, releasing an attached coupon
// when the provider allows it.
func (c *UserCart) Cancel(ctx context.Context) (bool, error) {
	if c.rec.ID == "" || c.rec.Status.Terminal() || !c.IsOwner() {
		notify.Warn(ctx, msgCancelFailed)
		return false, nil
	}

	prev := c.rec
	err := c.svc.store.WithTx(ctx, func(ctx context.Context) error {
		if c.rec.HasCouponRecord() {
			res, err := c.svc.coupons.Cancel(ctx, c.projection())
			if err != nil {
				return err
			}
			c.coupon = res
			if res.OK {
				c.rec.clearCoupon()
			} else {
				c.svc.log.WithFields(logrus.Fields{
					"cart_id":    c.rec.ID,
					"error_code": res.ErrorCode,
				}).Warn("releasing coupon of canceled cart")
			}
		}

		c.rec.Status = StatusCanceled
		return c.save(ctx)
	})
	if err != nil {
		c.rec = prev
		notify.Warn(ctx, msgCancelFailed)
		return false, fmt.Errorf("canceling cart[%s]: %w", prev.ID, err)
	}

	c.svc.publish(ctx, event.CartCanceled, c.rec, nil)
	notify.Info(ctx, msgCancelSuccess)
	return true, nil
}

// Deliver enrols the owner into every purchased instance and marks the cart
// delivered, all in one transaction. Only a cart in checkout can be delivered.
func (c *UserCart) Deliver(ctx context.Context) (bool, error) {
	if c.rec.Status != StatusCheckout {
		return false, nil
	}

	now := c.svc.now().UTC()
	err := c.svc.store.WithTx(ctx, func(ctx context.Context) error {
		items, err := c.svc.store.Items(ctx, c.rec.ID)
		if err != nil {
			return err
		}

		for _, it := range items {
			in, err := c.svc.catalog.Lookup(ctx, it.InstanceID)
			if err != nil {
				return fmt.Errorf("instance[%s] of item[%s]: %w", it.InstanceID, it.ID, err)
			}

			start, end := in.Window(now)
			if err := c.svc.enroller.Enrol(ctx, in, c.rec.UserID, start, end); err != nil {
				return err
			}

			for _, g := range in.GroupIDs() {
				if err := c.svc.enroller.AddToGroup(ctx, g, c.rec.UserID); err != nil {
					return err
				}
			}
		}

		ok, err := c.svc.store.Transition(ctx, c.rec.ID, StatusCheckout, StatusDelivered, now, c.actor)
		if err != nil {
			return err
		}
		if !ok {
			return ErrStatusChanged
		}

		c.items = items
		return nil
	})
	if err != nil {
		c.svc.log.WithFields(logrus.Fields{
			"cart_id": c.rec.ID,
			"user_id": c.rec.UserID,
			"message": err,
		}).Error("delivering cart")
		return false, fmt.Errorf("delivering cart[%s]: %w", c.rec.ID, err)
	}

	c.rec.Status = StatusDelivered
	c.rec.UpdatedAt = now
	c.rec.UpdatedBy = c.actor

	c.svc.publish(ctx, event.CartDelivered, c.rec, nil)
	return true, nil
}

// ProcessFreeItems checks out and delivers a cart that has nothing to pay.
// A cart still locked in checkout is delivered as it is; a lapsed one is
// priced and locked again first.
func (c *UserCart) ProcessFreeItems(ctx context.Context) (bool, error) {
	if !c.IsFinalPayableZero() {
		return false, nil
	}

	ok, err := true, error(nil)
	if c.rec.Status != StatusCheckout || c.CanEditItems() {
		ok, err = c.Checkout(ctx)
	}
	if err == nil && ok {
		ok, err = c.Deliver(ctx)
	}
	if err != nil || !ok {
		notify.Error(ctx, msgEnrolFailed)
		return false, err
	}

	notify.Success(ctx, msgEnrolSuccess)
	return true, nil
}

func (c *UserCart) HasCoupon() bool {
	return c.rec.HasCouponRecord() || c.coupon.DiscountAmount.IsPositive()
}

// CanUseCoupon reports whether coupons can be applied now. A refusal is
// recorded in CouponResult.
func (c *UserCart) CanUseCoupon() bool {
	if !c.CanEditItems() {
		c.coupon = coupon.Failure(ErrCodeEditBlocked, msgEditBlocked)
		return false
	}
	if !c.svc.coupons.Enabled() {
		c.coupon = coupon.Failure(coupon.ErrCodeDisabled, "The discount code is disabled.")
		return false
	}
	return true
}

func (c *UserCart) couponID(ctx context.Context, code string) (string, error) {
	id, err := c.svc.coupons.CouponID(ctx, code)
	if errors.Is(err, coupon.ErrNotFound) || (err == nil && id == "") {
		c.coupon = coupon.Failure(coupon.ErrCodeInvalid, msgCouponInvalid)
		return "", nil
	}
	return id, err
}

// CouponValidate checks a code against the cart without recording a usage.
func (c *UserCart) CouponValidate(ctx context.Context, code string) (bool, error) {
	id, err := c.couponID(ctx, code)
	if err != nil || id == "" {
		return false, err
	}

	res, err := c.svc.coupons.Validate(ctx, c.projection(), id)
	if err != nil {
		return false, err
	}
	c.coupon = res
	return res.OK, nil
}

// CouponApply attaches a coupon. A cart holds at most one coupon; an attached
// one must be canceled first.
func (c *UserCart) CouponApply(ctx context.Context, code string) (bool, error) {
	if !c.CanUseCoupon() {
		return false, nil
	}
	if c.rec.CouponID != "" {
		c.coupon = coupon.Failure(ErrCodeAlreadyApplied, msgCouponAttached)
		return false, nil
	}

	id, err := c.couponID(ctx, code)
	if err != nil || id == "" {
		return false, err
	}

	view := c.projection()
	res, err := c.svc.coupons.Validate(ctx, view, id)
	if err != nil {
		return false, err
	}
	c.coupon = res
	if !res.OK {
		return false, nil
	}

	res, err = c.svc.coupons.Apply(ctx, view, id)
	if err != nil {
		return false, err
	}
	c.coupon = res
	if !res.OK {
		return false, nil
	}

	prev := c.rec
	c.rec.CouponID = res.CouponID
	if c.rec.CouponID == "" {
		c.rec.CouponID = id
	}
	c.rec.CouponCode = res.CouponCode
	if c.rec.CouponCode == "" {
		c.rec.CouponCode = code
	}
	c.rec.CouponUsageID = res.UsageID
	c.rec.CouponDiscount = res.DiscountAmount
	c.rec.Payable = c.FinalPayable()

	if err := c.save(ctx); err != nil {
		if _, cerr := c.svc.coupons.Cancel(ctx, c.projection()); cerr != nil {
			c.svc.log.WithFields(logrus.Fields{
				"cart_id": prev.ID,
				"message": cerr,
			}).Warn("releasing coupon after failed save")
		}
		c.rec = prev
		return false, err
	}

	notify.Success(ctx, msgCouponApplied)
	return true, nil
}

// CouponCancel releases the attached coupon and refreshes the cart.
func (c *UserCart) CouponCancel(ctx context.Context) (bool, error) {
	if !c.rec.HasCouponRecord() {
		return false, nil
	}
	if !c.CanEditItems() {
		notify.Error(ctx, msgEditBlocked)
		return false, nil
	}

	res, err := c.svc.coupons.Cancel(ctx, c.projection())
	if err != nil {
		return false, err
	}
	c.coupon = res
	if !res.OK {
		return false, nil
	}

	c.coupon = coupon.Result{}
	c.rec.clearCoupon()
	if err := c.save(ctx); err != nil {
		return false, err
	}

	return c.Refresh(ctx, true)
}

// CouponCheckAvailability revalidates an attached coupon. It fails when the
// coupon is no longer valid or its discount moved.
func (c *UserCart) CouponCheckAvailability(ctx context.Context) (bool, error) {
	if c.rec.CouponID == "" {
		return true, nil
	}

	res, err := c.svc.coupons.Validate(ctx, c.projection(), c.rec.CouponID)
	if err != nil {
		return false, err
	}
	c.coupon = res

	return res.OK && res.DiscountAmount.Equal(c.rec.CouponDiscount), nil
}
