package cart

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/irsalhamdi/course-cart/api/web"
	"github.com/irsalhamdi/course-cart/api/weberr"
	"github.com/irsalhamdi/course-cart/core/claims"
	"github.com/irsalhamdi/course-cart/core/coupon"
	"github.com/irsalhamdi/course-cart/core/notify"
	"github.com/irsalhamdi/course-cart/validate"
	"github.com/shopspring/decimal"
)

// Cookie carries the guest cart token.
type Cookie struct {
	Name   string
	Secure bool
}

func (ck Cookie) read(r *http.Request) string {
	c, err := r.Cookie(ck.Name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (ck Cookie) write(w http.ResponseWriter, g *GuestCart) error {
	if g.IsEmpty() {
		ck.clear(w)
		return nil
	}

	token, exp, err := g.Token()
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     ck.Name,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		Secure:   ck.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (ck Cookie) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     ck.Name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   ck.Secure,
	})
}

// LoginHook moves the guest cart of the request into the cart of the user
// who just signed in.
func (s *Service) LoginHook(ck Cookie) func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		if !s.cfg.EnableGuest {
			return nil
		}

		token := ck.read(r)
		if token == "" {
			return nil
		}

		g, err := s.Guest(ctx, token)
		if err != nil {
			return err
		}

		if _, err := s.MoveGuestCart(ctx, g); err != nil {
			return fmt.Errorf("moving guest cart: %w", err)
		}

		ck.clear(w)
		return nil
	}
}

type ItemView struct {
	Item
	HasDiscount     bool `json:"hasDiscount"`
	DiscountPercent int  `json:"discountPercent,omitempty"`
}

type View struct {
	ID             string          `json:"id,omitempty"`
	Status         Status          `json:"status"`
	Guest          bool            `json:"guest"`
	Currency       string          `json:"currency"`
	Items          []ItemView      `json:"items"`
	Count          int             `json:"count"`
	Price          decimal.Decimal `json:"price"`
	Payable        decimal.Decimal `json:"payable"`
	ItemsDiscount  decimal.Decimal `json:"itemsDiscount"`
	Discount       decimal.Decimal `json:"discount"`
	CouponCode     string          `json:"couponCode,omitempty"`
	CouponDiscount decimal.Decimal `json:"couponDiscount"`
	CanEditItems   bool            `json:"canEditItems"`
	HasChanged     bool            `json:"hasChanged"`
	CheckoutAt     *time.Time      `json:"checkoutAt,omitempty"`
}

func NewView(b Basket) View {
	items := b.Items()
	views := make([]ItemView, 0, len(items))
	for _, it := range items {
		pct, _ := it.DiscountPercent()
		views = append(views, ItemView{Item: it, HasDiscount: it.HasDiscount(), DiscountPercent: pct})
	}

	price, payable := sum(items)
	v := View{
		Currency:      b.FinalCurrency(),
		Items:         views,
		Count:         len(items),
		Price:         b.FinalPrice(),
		Payable:       b.FinalPayable(),
		ItemsDiscount: price.Sub(payable),
		CanEditItems:  b.CanEditItems(),
		HasChanged:    b.HasChanged(),
	}
	v.Discount = v.Price.Sub(v.Payable)

	switch c := b.(type) {
	case *UserCart:
		v.ID = c.rec.ID
		v.Status = c.rec.Status
		v.CouponCode = c.rec.CouponCode
		v.CouponDiscount = c.rec.CouponDiscount
		v.CheckoutAt = c.rec.CheckoutAt
	case *GuestCart:
		v.Guest = true
	}

	return v
}

type Response struct {
	OK      bool            `json:"ok"`
	Cart    View            `json:"cart"`
	Coupon  *coupon.Result  `json:"coupon,omitempty"`
	Notices []notify.Notice `json:"notices"`
}

func respond(ctx context.Context, w http.ResponseWriter, b Basket, ok bool, ck Cookie) error {
	if g, isGuest := b.(*GuestCart); isGuest {
		if err := ck.write(w, g); err != nil {
			return err
		}
	}

	resp := Response{
		OK:      ok,
		Cart:    NewView(b),
		Notices: notify.List(ctx),
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

func respondCoupon(ctx context.Context, w http.ResponseWriter, c *UserCart, ok bool) error {
	res := c.CouponResult()
	resp := Response{
		OK:      ok,
		Cart:    NewView(c),
		Coupon:  &res,
		Notices: notify.List(ctx),
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

func basket(ctx context.Context, svc *Service, r *http.Request, ck Cookie) (Basket, error) {
	b, err := svc.Basket(ctx, ck.read(r))
	if err != nil {
		if errors.Is(err, ErrGuestDisabled) {
			return nil, weberr.NotAuthorized(err)
		}
		return nil, fmt.Errorf("loading cart: %w", err)
	}
	return b, nil
}

func current(ctx context.Context, svc *Service) (*UserCart, error) {
	c, err := svc.Current(ctx)
	if err != nil {
		if errors.Is(err, claims.ErrMissing) {
			return nil, weberr.NotAuthorized(err)
		}
		return nil, fmt.Errorf("loading current cart: %w", err)
	}
	return c, nil
}

func HandleShow(svc *Service, ck Cookie) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		b, err := basket(ctx, svc, r, ck)
		if err != nil {
			return err
		}

		if _, err := b.Refresh(ctx, false); err != nil {
			return fmt.Errorf("refreshing cart: %w", err)
		}

		return respond(ctx, w, b, true, ck)
	}
}

type ItemNew struct {
	InstanceID string `json:"instanceId" validate:"required,uuid"`
}

type CourseNew struct {
	CourseID string `json:"courseId" validate:"required,uuid"`
}

func HandleAddItem(svc *Service, ck Cookie) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var in ItemNew
		if err := web.Decode(w, r, &in); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(in); err != nil {
			return weberr.Invalid(err)
		}

		b, err := basket(ctx, svc, r, ck)
		if err != nil {
			return err
		}

		ok, err := b.AddItem(ctx, in.InstanceID)
		if err != nil {
			return fmt.Errorf("adding instance[%s] to cart: %w", in.InstanceID, err)
		}

		return respond(ctx, w, b, ok, ck)
	}
}

func HandleRemoveItem(svc *Service, ck Cookie) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "instance_id")
		if err := validate.CheckID(id); err != nil {
			return weberr.NotFound(err)
		}

		b, err := basket(ctx, svc, r, ck)
		if err != nil {
			return err
		}

		ok, err := b.RemoveItem(ctx, id)
		if err != nil {
			return fmt.Errorf("removing instance[%s] from cart: %w", id, err)
		}

		return respond(ctx, w, b, ok, ck)
	}
}

func HandleAddCourse(svc *Service, ck Cookie) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var cn CourseNew
		if err := web.Decode(w, r, &cn); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(cn); err != nil {
			return weberr.Invalid(err)
		}

		b, err := basket(ctx, svc, r, ck)
		if err != nil {
			return err
		}

		ok, err := b.AddCourse(ctx, cn.CourseID)
		if err != nil {
			return fmt.Errorf("adding course[%s] to cart: %w", cn.CourseID, err)
		}

		return respond(ctx, w, b, ok, ck)
	}
}

func HandleRemoveCourse(svc *Service, ck Cookie) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "course_id")
		if err := validate.CheckID(id); err != nil {
			return weberr.NotFound(err)
		}

		b, err := basket(ctx, svc, r, ck)
		if err != nil {
			return err
		}

		ok, err := b.RemoveCourse(ctx, id)
		if err != nil {
			return fmt.Errorf("removing course[%s] from cart: %w", id, err)
		}

		return respond(ctx, w, b, ok, ck)
	}
}

// Prepare runs the checks every payment entry point shares: refresh, stale
// coupon release and the changed cart guard. It reports whether payment may
// proceed.
func Prepare(ctx context.Context, c *UserCart) (bool, error) {
	if _, err := c.Refresh(ctx, false); err != nil {
		return false, fmt.Errorf("refreshing cart: %w", err)
	}

	ok, err := c.CouponCheckAvailability(ctx)
	if err != nil {
		return false, fmt.Errorf("checking coupon: %w", err)
	}
	if !ok {
		msg := c.CouponResult().ErrorMessage
		if msg == "" {
			msg = "The applied coupon is no longer valid and was removed."
		}
		notify.Warn(ctx, msg)

		if _, err := c.CouponCancel(ctx); err != nil {
			return false, fmt.Errorf("canceling stale coupon: %w", err)
		}
		return false, nil
	}

	if c.HasChanged() {
		notify.Warn(ctx, "Your cart has changed. Review it before paying.")
		return false, nil
	}

	if c.IsEmpty() {
		notify.Warn(ctx, msgEmpty)
		return false, nil
	}

	return true, nil
}

// HandleCheckoutShow renders the checkout page data of the current cart.
func HandleCheckoutShow(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		c, err := current(ctx, svc)
		if err != nil {
			return err
		}

		ok, err := Prepare(ctx, c)
		if err != nil {
			return err
		}

		return respondCoupon(ctx, w, c, ok)
	}
}

// HandleCheckoutFree completes a cart that has nothing to pay.
func HandleCheckoutFree(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		c, err := current(ctx, svc)
		if err != nil {
			return err
		}

		ok, err := Prepare(ctx, c)
		if err != nil {
			return err
		}
		if !ok {
			return respondCoupon(ctx, w, c, false)
		}

		if !c.IsFinalPayableZero() {
			err := errors.New("the cart has an amount to pay")
			return weberr.Unprocessable(err)
		}

		ok, err = c.ProcessFreeItems(ctx)
		if err != nil {
			return fmt.Errorf("processing free items: %w", err)
		}

		return respondCoupon(ctx, w, c, ok)
	}
}

type CouponNew struct {
	Code string `json:"code" validate:"required,max=64,couponcode"`
}

func HandleCouponApply(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var cn CouponNew
		if err := web.Decode(w, r, &cn); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(cn); err != nil {
			return weberr.Invalid(err)
		}

		c, err := current(ctx, svc)
		if err != nil {
			return err
		}

		if _, err := c.Refresh(ctx, false); err != nil {
			return fmt.Errorf("refreshing cart: %w", err)
		}

		ok, err := c.CouponApply(ctx, cn.Code)
		if err != nil {
			return fmt.Errorf("applying coupon to cart[%s]: %w", c.ID(), err)
		}
		if !ok {
			notify.Error(ctx, c.CouponResult().ErrorMessage)
		}

		return respondCoupon(ctx, w, c, ok)
	}
}

func HandleCouponCancel(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		c, err := current(ctx, svc)
		if err != nil {
			return err
		}

		ok, err := c.CouponCancel(ctx)
		if err != nil {
			return fmt.Errorf("canceling coupon of cart[%s]: %w", c.ID(), err)
		}
		if !ok {
			notify.Error(ctx, c.CouponResult().ErrorMessage)
		}

		return respondCoupon(ctx, w, c, ok)
	}
}

type CancelReq struct {
	CartID string `json:"cartId" validate:"omitempty,uuid"`
}

func HandleCancel(svc *Service, ck Cookie) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var req CancelReq
		if r.ContentLength != 0 {
			if err := web.Decode(w, r, &req); err != nil {
				return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
			}
			if err := validate.Check(req); err != nil {
				return weberr.Invalid(err)
			}
		}

		var b Basket
		if req.CartID != "" && !claims.IsGuest(ctx) {
			c, err := svc.Load(ctx, req.CartID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return weberr.NotFound(err)
				}
				return fmt.Errorf("loading cart[%s]: %w", req.CartID, err)
			}
			if !c.IsOwner() {
				return weberr.NotFound(fmt.Errorf("cart[%s] not owned by user", req.CartID))
			}
			b = c
		} else {
			var err error
			if b, err = basket(ctx, svc, r, ck); err != nil {
				return err
			}
		}

		ok, err := b.Cancel(ctx)
		if err != nil {
			return fmt.Errorf("canceling cart: %w", err)
		}

		return respond(ctx, w, b, ok, ck)
	}
}

type History struct {
	Carts   []Cart `json:"carts"`
	Total   int    `json:"total"`
	Page    int    `json:"page"`
	PerPage int    `json:"perPage"`
}

func HandleList(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(err)
		}

		page, perPage, err := web.Page(r, 20, 100)
		if err != nil {
			return weberr.BadRequest(err)
		}

		cs, total, err := svc.ListByUser(ctx, clm.UserID, page, perPage)
		if err != nil {
			return fmt.Errorf("listing carts of user[%s]: %w", clm.UserID, err)
		}

		return web.Respond(ctx, w, History{Carts: cs, Total: total, Page: page, PerPage: perPage}, http.StatusOK)
	}
}

func HandleShowByID(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.NotFound(err)
		}

		c, err := svc.Load(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("loading cart[%s]: %w", id, err)
		}

		if !c.IsOwner() && !claims.IsAdmin(ctx) {
			return weberr.NotFound(fmt.Errorf("cart[%s] not visible to user", id))
		}

		if _, err := c.Refresh(ctx, false); err != nil {
			return fmt.Errorf("refreshing cart[%s]: %w", id, err)
		}

		return respondCoupon(ctx, w, c, true)
	}
}
