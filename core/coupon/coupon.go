// Package coupon defines the pluggable discount coupon capability used by the cart.
package coupon

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var ErrNotFound = errors.New("coupon not found")

// Error codes carried by Result.
const (
	ErrCodeDisabled       = "error_coupon_disabled"
	ErrCodeInvalid        = "error_coupon_is_invalid"
	ErrCodeNotFound       = "error_coupon_not_found"
	ErrCodeInactive       = "error_coupon_inactive"
	ErrCodeNotActive      = "error_coupon_not_active"
	ErrCodeExpired        = "error_coupon_expired"
	ErrCodeUserNotAllowed = "error_user_not_allowed"
	ErrCodeUsageLimit     = "error_coupon_usage_limit"
	ErrCodeUserUsageLimit = "error_user_usage_limit"
	ErrCodeNoEligible     = "error_no_eligible_courses"
	ErrCodeMinOrder       = "error_min_order_not_met"
	ErrCodeApplyFailed    = "error_applying_coupon"
	ErrCodeNotApplied     = "error_coupon_not_applied"
	ErrCodeCancelFailed   = "error_coupon_cancel_failed"
)

// ItemView is the read-only projection of a cart item.
type ItemView struct {
	ItemID      string          `json:"itemId"`
	InstanceID  string          `json:"instanceId"`
	CourseID    string          `json:"courseId"`
	Payable     decimal.Decimal `json:"payable"`
	HasDiscount bool            `json:"hasDiscount"`
}

// CartView is the read-only projection of a cart handed to providers.
type CartView struct {
	CartID         string
	UserID         string
	CouponID       string
	CouponCode     string
	CouponUsageID  string
	CouponDiscount decimal.Decimal
	FinalPrice     decimal.Decimal
	FinalPayable   decimal.Decimal
	Items          []ItemView
}

// Result is the outcome of every provider call.
type Result struct {
	OK             bool            `json:"ok"`
	CouponID       string          `json:"couponId,omitempty"`
	CouponCode     string          `json:"couponCode,omitempty"`
	UsageID        string          `json:"usageId,omitempty"`
	ErrorCode      string          `json:"errorCode,omitempty"`
	ErrorMessage   string          `json:"errorMessage,omitempty"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	PayableAmount  decimal.Decimal `json:"payableAmount"`
	Items          []ItemView      `json:"items,omitempty"`
}

func Failure(code, msg string) Result {
	return Result{ErrorCode: code, ErrorMessage: msg}
}

// Provider validates, records and releases coupon usages.
type Provider interface {
	Enabled() bool
	CouponID(ctx context.Context, code string) (string, error)
	Validate(ctx context.Context, cart CartView, couponID string) (Result, error)
	Apply(ctx context.Context, cart CartView, couponID string) (Result, error)
	Cancel(ctx context.Context, cart CartView) (Result, error)
}

// Disabled answers every call with a disabled failure.
type Disabled struct{}

var disabled = Failure(ErrCodeDisabled, "The discount code is disabled.")

func (Disabled) Enabled() bool { return false }

func (Disabled) CouponID(ctx context.Context, code string) (string, error) {
	return "", ErrNotFound
}

func (Disabled) Validate(ctx context.Context, cart CartView, couponID string) (Result, error) {
	return disabled, nil
}

func (Disabled) Apply(ctx context.Context, cart CartView, couponID string) (Result, error) {
	return disabled, nil
}

func (Disabled) Cancel(ctx context.Context, cart CartView) (Result, error) {
	return disabled, nil
}

type Factory func(db *sqlx.DB, log logrus.FieldLogger) Provider

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = f
}

func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New builds the configured provider. A disabled capability yields Disabled.
func New(enabled bool, name string, db *sqlx.DB, log logrus.FieldLogger) (Provider, error) {
	if !enabled {
		return Disabled{}, nil
	}

	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown coupon provider %q, registered: %v", name, Names())
	}
	return f(db, log), nil
}
