package coupon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/irsalhamdi/course-cart/api/web"
	"github.com/irsalhamdi/course-cart/api/weberr"
	"github.com/irsalhamdi/course-cart/database"
	"github.com/irsalhamdi/course-cart/random"
	"github.com/irsalhamdi/course-cart/validate"
	"github.com/shopspring/decimal"
)

const codeLength = 10

type CouponNew struct {
	Code           string          `json:"code" validate:"omitempty,couponcode,max=32"`
	Type           string          `json:"type" validate:"required,oneof=fixed percentage"`
	Amount         decimal.Decimal `json:"amount"`
	MaxDiscount    decimal.Decimal `json:"maxDiscountAmount"`
	MinOrder       decimal.Decimal `json:"minOrderAmount"`
	ValidFrom      *time.Time      `json:"validFrom"`
	ValidUntil     *time.Time      `json:"validUntil"`
	UsageLimit     int             `json:"usageLimit" validate:"gte=0"`
	UserUsageLimit int             `json:"userUsageLimit" validate:"gte=0"`
	AllowedUsers   []string        `json:"allowedUsers" validate:"dive,uuid"`
	AllowedCourses []string        `json:"allowedCourses" validate:"dive,uuid"`
}

func (cn CouponNew) check() error {
	if !cn.Amount.IsPositive() {
		return errors.New("amount must be positive")
	}
	if cn.Type == TypePercentage && cn.Amount.GreaterThan(hundred) {
		return errors.New("percentage amount cannot exceed 100")
	}
	if cn.MaxDiscount.IsNegative() || cn.MinOrder.IsNegative() {
		return errors.New("amount limits cannot be negative")
	}
	if cn.ValidFrom != nil && cn.ValidUntil != nil && cn.ValidUntil.Before(*cn.ValidFrom) {
		return errors.New("validUntil cannot be earlier than validFrom")
	}
	return nil
}

func HandleCreate(s *Store) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var cn CouponNew
		if err := web.Decode(w, r, &cn); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(cn); err != nil {
			return weberr.Invalid(err)
		}
		if err := cn.check(); err != nil {
			return weberr.Invalid(err)
		}

		code := strings.ToUpper(cn.Code)
		if code == "" {
			var err error
			if code, err = random.Code(codeLength); err != nil {
				return fmt.Errorf("generating coupon code: %w", err)
			}
		}

		c := Coupon{
			ID:             validate.GenerateID(),
			Code:           code,
			Active:         true,
			Type:           cn.Type,
			Amount:         cn.Amount,
			MaxDiscount:    cn.MaxDiscount,
			MinOrder:       cn.MinOrder,
			ValidFrom:      cn.ValidFrom,
			ValidUntil:     cn.ValidUntil,
			UsageLimit:     cn.UsageLimit,
			UserUsageLimit: cn.UserUsageLimit,
			AllowedUsers:   nonNil(cn.AllowedUsers),
			AllowedCourses: nonNil(cn.AllowedCourses),
			CreatedAt:      time.Now().UTC(),
		}

		if err := s.Create(ctx, c); err != nil {
			if database.IsUniqueViolation(err) {
				return weberr.Conflict(err, "a coupon with this code already exists")
			}
			return fmt.Errorf("creating coupon: %w", err)
		}

		return web.Respond(ctx, w, c, http.StatusCreated)
	}
}

func HandleList(s *Store) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		cs, err := s.FetchAll(ctx)
		if err != nil {
			return fmt.Errorf("fetching coupons: %w", err)
		}

		return web.Respond(ctx, w, cs, http.StatusOK)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
