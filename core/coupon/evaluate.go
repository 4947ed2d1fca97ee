package coupon

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Evaluate checks a coupon against a cart. usages and userUsages are the
// recorded usages of the coupon overall and by the cart owner.
func Evaluate(c Coupon, cart CartView, usages, userUsages int, now time.Time) Result {
	if !c.Active {
		return Failure(ErrCodeInactive, "Coupon is inactive.")
	}
	if c.ValidFrom != nil && c.ValidFrom.After(now) {
		return Failure(ErrCodeNotActive, "Coupon is not active yet.")
	}
	if c.ValidUntil != nil && c.ValidUntil.Before(now) {
		return Failure(ErrCodeExpired, "Coupon has expired.")
	}
	if len(c.AllowedUsers) > 0 && !contains(c.AllowedUsers, cart.UserID) {
		return Failure(ErrCodeUserNotAllowed, "This coupon is not available for your user account.")
	}
	if c.UsageLimit > 0 && usages >= c.UsageLimit {
		return Failure(ErrCodeUsageLimit, "Coupon usage limit has been reached.")
	}
	if c.UserUsageLimit > 0 && userUsages >= c.UserUsageLimit {
		return Failure(ErrCodeUserUsageLimit, "You have reached your personal usage limit for this coupon.")
	}

	total := decimal.Zero
	eligible := decimal.Zero
	var affected []ItemView
	for _, it := range cart.Items {
		total = total.Add(it.Payable)

		allowed := len(c.AllowedCourses) == 0 || contains(c.AllowedCourses, it.CourseID)
		if it.Payable.IsPositive() && allowed && !it.HasDiscount {
			eligible = eligible.Add(it.Payable)
			affected = append(affected, it)
		}
	}

	if !eligible.IsPositive() {
		return Failure(ErrCodeNoEligible, "This coupon does not apply to any eligible items in your cart.")
	}
	if c.MinOrder.IsPositive() && eligible.LessThan(c.MinOrder) {
		return Failure(ErrCodeMinOrder, "Your cart does not meet the minimum required amount for this coupon.")
	}

	discount := decimal.Zero
	switch c.Type {
	case TypeFixed:
		discount = c.Amount
	case TypePercentage:
		discount = eligible.Mul(c.Amount).Div(hundred).Round(2)
	}
	if c.MaxDiscount.IsPositive() {
		discount = decimal.Min(discount, c.MaxDiscount)
	}
	discount = decimal.Min(discount, eligible)
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	return Result{
		OK:             true,
		CouponID:       c.ID,
		CouponCode:     c.Code,
		DiscountAmount: discount,
		PayableAmount:  total.Sub(discount),
		Items:          affected,
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
