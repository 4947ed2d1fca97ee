// Package cart implements the enrolment cart: line items, pricing
// reconciliation, coupon orchestration, checkout and delivery.
package cart

import (
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/course-cart/core/coupon"
	"github.com/irsalhamdi/course-cart/core/instance"
	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("cart not found")
	ErrExists   = errors.New("the user already has a current cart")
)

type Status int

const (
	StatusCurrent   Status = 0
	StatusCheckout  Status = 10
	StatusCanceled  Status = 70
	StatusDelivered Status = 90
)

func (s Status) String() string {
	switch s {
	case StatusCurrent:
		return "current"
	case StatusCheckout:
		return "checkout"
	case StatusCanceled:
		return "canceled"
	case StatusDelivered:
		return "delivered"
	}
	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for _, st := range []Status{StatusCurrent, StatusCheckout, StatusCanceled, StatusDelivered} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown cart status %q", b)
}

// Terminal states are never left.
func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusDelivered
}

// Cart is the persisted cart record. Empty coupon fields mean no coupon.
type Cart struct {
	ID             string          `json:"id" db:"cart_id"`
	UserID         string          `json:"userId" db:"user_id"`
	Status         Status          `json:"status" db:"status"`
	Currency       string          `json:"currency" db:"currency"`
	Price          decimal.Decimal `json:"price" db:"price"`
	Payable        decimal.Decimal `json:"payable" db:"payable"`
	CouponID       string          `json:"couponId,omitempty" db:"coupon_id"`
	CouponCode     string          `json:"couponCode,omitempty" db:"coupon_code"`
	CouponUsageID  string          `json:"-" db:"coupon_usage_id"`
	CouponDiscount decimal.Decimal `json:"couponDiscountAmount" db:"coupon_discount_amount"`
	Data           types.JSONText  `json:"data" db:"data"`
	CheckoutAt     *time.Time      `json:"checkoutAt" db:"checkout_at"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
	CreatedBy      string          `json:"-" db:"created_by"`
	UpdatedAt      time.Time       `json:"updatedAt" db:"updated_at"`
	UpdatedBy      string          `json:"-" db:"updated_by"`
}

func (c Cart) HasCouponRecord() bool {
	return c.CouponID != "" && c.CouponUsageID != ""
}

func (c *Cart) clearCoupon() {
	c.CouponID = ""
	c.CouponCode = ""
	c.CouponUsageID = ""
	c.CouponDiscount = decimal.Zero
}

// Item is a cart line with the price snapshot taken from its instance.
type Item struct {
	ID         string          `json:"id" db:"item_id"`
	CartID     string          `json:"cartId" db:"cart_id"`
	InstanceID string          `json:"instanceId" db:"instance_id"`
	CourseID   string          `json:"courseId" db:"course_id"`
	Price      decimal.Decimal `json:"price" db:"price"`
	Payable    decimal.Decimal `json:"payable" db:"payable"`
	CreatedAt  time.Time       `json:"createdAt" db:"created_at"`
}

func (it Item) HasDiscount() bool {
	return it.Price.Sub(it.Payable).IsPositive()
}

// DiscountPercent is 100 - floor(payable*100/price).
func (it Item) DiscountPercent() (int, bool) {
	return instance.PercentOff(it.Price, it.Payable)
}

func sum(items []Item) (price, payable decimal.Decimal) {
	price, payable = decimal.Zero, decimal.Zero
	for _, it := range items {
		price = price.Add(it.Price)
		payable = payable.Add(it.Payable)
	}
	return price, payable
}

// Projection builds the read-only view handed to coupon providers.
func Projection(c Cart, items []Item, finalPrice, finalPayable decimal.Decimal) coupon.CartView {
	views := make([]coupon.ItemView, 0, len(items))
	for _, it := range items {
		views = append(views, coupon.ItemView{
			ItemID:      it.ID,
			InstanceID:  it.InstanceID,
			CourseID:    it.CourseID,
			Payable:     it.Payable,
			HasDiscount: it.HasDiscount(),
		})
	}

	return coupon.CartView{
		CartID:         c.ID,
		UserID:         c.UserID,
		CouponID:       c.CouponID,
		CouponCode:     c.CouponCode,
		CouponUsageID:  c.CouponUsageID,
		CouponDiscount: c.CouponDiscount,
		FinalPrice:     finalPrice,
		FinalPayable:   finalPayable,
		Items:          views,
	}
}
