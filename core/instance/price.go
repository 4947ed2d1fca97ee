package instance

import (
	"errors"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// AppliedDiscount is the instance-level discount. A fixed amount above the
// cost, or a percentage that is not an integer in [0, 100], yields no discount.
func (i Instance) AppliedDiscount() decimal.Decimal {
	a := i.DiscountAmount

	switch i.DiscountType {
	case Fixed:
		if !a.IsNegative() && a.LessThanOrEqual(i.Cost) {
			return a
		}
	case Percentage:
		if a.IsInteger() && !a.IsNegative() && a.LessThanOrEqual(hundred) {
			return i.Cost.Mul(a).Div(hundred).Round(2)
		}
	}

	return decimal.Zero
}

func (i Instance) Price() decimal.Decimal {
	return i.Cost
}

func (i Instance) Payable() decimal.Decimal {
	return i.Price().Sub(i.AppliedDiscount())
}

func (i Instance) HasDiscount() bool {
	return i.AppliedDiscount().IsPositive()
}

// DiscountPercentage reports the discount as a whole percentage of the price.
func (i Instance) DiscountPercentage() (int, bool) {
	if !i.HasDiscount() {
		return 0, false
	}

	if i.DiscountType == Percentage {
		return int(i.DiscountAmount.Ceil().IntPart()), true
	}

	return PercentOff(i.Price(), i.Payable())
}

// PercentOff returns 100 - floor(payable*100/price).
func PercentOff(price, payable decimal.Decimal) (int, bool) {
	if !price.IsPositive() || !price.Sub(payable).IsPositive() {
		return 0, false
	}
	kept := payable.Mul(hundred).Div(price).Floor()
	return int(hundred.Sub(kept).IntPart()), true
}

var (
	ErrEnrolEnd             = errors.New("the enrolment end date cannot be earlier than the start date")
	ErrCost                 = errors.New("the cost must be a non negative amount")
	ErrDiscountType         = errors.New("the discount type is invalid")
	ErrDiscountAmount       = errors.New("the discount amount is invalid")
	ErrDiscountHigher       = errors.New("the discount amount cannot exceed the original price")
	ErrDiscountPercentRange = errors.New("the discount percentage must be an integer between 0 and 100")
)

// CheckPricing validates the administrator input that the calculator
// otherwise degrades to "no discount".
func CheckPricing(i Instance) error {
	if i.EnrolEnd != 0 && i.EnrolEnd < i.EnrolStart {
		return ErrEnrolEnd
	}
	if i.Cost.IsNegative() {
		return ErrCost
	}
	if !i.DiscountType.Valid() {
		return ErrDiscountType
	}

	a := i.DiscountAmount
	switch i.DiscountType {
	case Fixed:
		if a.IsNegative() {
			return ErrDiscountAmount
		}
		if a.GreaterThan(i.Cost) {
			return ErrDiscountHigher
		}
	case Percentage:
		if !a.IsInteger() || a.IsNegative() || a.GreaterThan(hundred) {
			return ErrDiscountPercentRange
		}
	}
	return nil
}
