package coupon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/course-cart/database"
	"github.com/irsalhamdi/course-cart/validate"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	TypeFixed      = "fixed"
	TypePercentage = "percentage"
)

// Coupon is a discount code managed by the reference provider.
// Empty allow lists admit every user or course.
type Coupon struct {
	ID             string          `json:"id" db:"coupon_id"`
	Code           string          `json:"code" db:"code"`
	Active         bool            `json:"active" db:"active"`
	Type           string          `json:"type" db:"type"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	MaxDiscount    decimal.Decimal `json:"maxDiscountAmount" db:"max_discount_amount"`
	MinOrder       decimal.Decimal `json:"minOrderAmount" db:"min_order_amount"`
	ValidFrom      *time.Time      `json:"validFrom" db:"valid_from"`
	ValidUntil     *time.Time      `json:"validUntil" db:"valid_until"`
	UsageLimit     int             `json:"usageLimit" db:"usage_limit"`
	UserUsageLimit int             `json:"userUsageLimit" db:"user_usage_limit"`
	AllowedUsers   pq.StringArray  `json:"allowedUsers" db:"allowed_users"`
	AllowedCourses pq.StringArray  `json:"allowedCourses" db:"allowed_courses"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
}

type Usage struct {
	ID             string          `db:"usage_id"`
	CouponID       string          `db:"coupon_id"`
	UserID         string          `db:"user_id"`
	CartID         string          `db:"cart_id"`
	DiscountAmount decimal.Decimal `db:"discount_amount"`
	PayableAmount  decimal.Decimal `db:"payable_amount"`
	AppliedAt      time.Time       `db:"applied_at"`
}

func init() {
	Register("reference", func(db *sqlx.DB, log logrus.FieldLogger) Provider {
		return NewStore(db, log)
	})
}

// Store is the reference provider backed by the coupons tables.
type Store struct {
	db  *sqlx.DB
	log logrus.FieldLogger
	now func() time.Time
}

func NewStore(db *sqlx.DB, log logrus.FieldLogger) *Store {
	return &Store{db: db, log: log, now: time.Now}
}

func (s *Store) Enabled() bool { return true }

func (s *Store) CouponID(ctx context.Context, code string) (string, error) {
	const q = `SELECT coupon_id FROM coupons WHERE upper(code) = upper($1)`

	var id string
	if err := sqlx.GetContext(ctx, database.Ext(ctx, s.db), &id, q, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("selecting coupon by code: %w", err)
	}
	return id, nil
}

func (s *Store) Validate(ctx context.Context, cart CartView, couponID string) (Result, error) {
	c, err := s.Fetch(ctx, couponID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Failure(ErrCodeNotFound, "Coupon not found."), nil
		}
		return Result{}, err
	}

	var total, mine int
	if c.UsageLimit > 0 || c.UserUsageLimit > 0 {
		total, mine, err = s.countUsages(ctx, couponID, cart.UserID, cart.CartID)
		if err != nil {
			return Result{}, err
		}
	}

	return Evaluate(c, cart, total, mine, s.now()), nil
}

func (s *Store) Apply(ctx context.Context, cart CartView, couponID string) (Result, error) {
	res, err := s.Validate(ctx, cart, couponID)
	if err != nil || !res.OK {
		return res, err
	}

	u := Usage{
		ID:             validate.GenerateID(),
		CouponID:       couponID,
		UserID:         cart.UserID,
		CartID:         cart.CartID,
		DiscountAmount: res.DiscountAmount,
		PayableAmount:  res.PayableAmount,
		AppliedAt:      s.now().UTC(),
	}

	const q = `
	INSERT INTO coupon_usages
		(usage_id, coupon_id, user_id, cart_id, discount_amount, payable_amount, applied_at)
	VALUES
		(:usage_id, :coupon_id, :user_id, :cart_id, :discount_amount, :payable_amount, :applied_at)`

	if _, err := sqlx.NamedExecContext(ctx, database.Ext(ctx, s.db), q, u); err != nil {
		s.log.WithFields(logrus.Fields{
			"coupon_id": couponID,
			"cart_id":   cart.CartID,
			"message":   err,
		}).Error("recording coupon usage")
		return Failure(ErrCodeApplyFailed, "An error occurred while applying the coupon."), nil
	}

	res.UsageID = u.ID
	return res, nil
}

func (s *Store) Cancel(ctx context.Context, cart CartView) (Result, error) {
	if cart.CouponUsageID == "" {
		return Failure(ErrCodeNotApplied, "No coupon is applied to this cart."), nil
	}

	const q = `DELETE FROM coupon_usages WHERE usage_id = $1`

	res, err := database.Ext(ctx, s.db).ExecContext(ctx, q, cart.CouponUsageID)
	if err == nil {
		var n int64
		if n, err = res.RowsAffected(); err == nil && n == 0 {
			err = errors.New("usage record not found")
		}
	}
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"usage_id": cart.CouponUsageID,
			"cart_id":  cart.CartID,
			"message":  err,
		}).Warn("deleting coupon usage")
		return Failure(ErrCodeCancelFailed, "Failed to cancel the applied coupon."), nil
	}

	return Result{OK: true, CouponID: cart.CouponID, CouponCode: cart.CouponCode}, nil
}

func (s *Store) Fetch(ctx context.Context, id string) (Coupon, error) {
	const q = `SELECT * FROM coupons WHERE coupon_id = $1`

	var c Coupon
	if err := sqlx.GetContext(ctx, database.Ext(ctx, s.db), &c, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Coupon{}, ErrNotFound
		}
		return Coupon{}, fmt.Errorf("selecting coupon[%s]: %w", id, err)
	}
	return c, nil
}

func (s *Store) FetchAll(ctx context.Context) ([]Coupon, error) {
	const q = `SELECT * FROM coupons ORDER BY created_at DESC`

	cs := []Coupon{}
	if err := sqlx.SelectContext(ctx, database.Ext(ctx, s.db), &cs, q); err != nil {
		return nil, fmt.Errorf("selecting coupons: %w", err)
	}
	return cs, nil
}

func (s *Store) Create(ctx context.Context, c Coupon) error {
	const q = `
	INSERT INTO coupons
		(coupon_id, code, active, type, amount, max_discount_amount, min_order_amount, valid_from, valid_until,
		usage_limit, user_usage_limit, allowed_users, allowed_courses, created_at)
	VALUES
		(:coupon_id, :code, :active, :type, :amount, :max_discount_amount, :min_order_amount, :valid_from, :valid_until,
		:usage_limit, :user_usage_limit, :allowed_users, :allowed_courses, :created_at)`

	if _, err := sqlx.NamedExecContext(ctx, database.Ext(ctx, s.db), q, c); err != nil {
		return fmt.Errorf("inserting coupon: %w", err)
	}
	return nil
}

// countUsages ignores the usage recorded for the cart itself, so an attached
// coupon still validates against its own limits.
func (s *Store) countUsages(ctx context.Context, couponID, userID, cartID string) (total int, mine int, err error) {
	const q = `
	SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE user_id = $2) AS mine
	FROM coupon_usages WHERE coupon_id = $1 AND cart_id <> $3`

	var row struct {
		Total int `db:"total"`
		Mine  int `db:"mine"`
	}
	if err := sqlx.GetContext(ctx, database.Ext(ctx, s.db), &row, q, couponID, userID, cartID); err != nil {
		return 0, 0, fmt.Errorf("counting usages of coupon[%s]: %w", couponID, err)
	}
	return row.Total, row.Mine, nil
}
