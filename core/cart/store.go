package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/course-cart/database"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Store persists carts and their items. Calls made with a context returned
// by WithTx run inside that transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	Current(ctx context.Context, userID string) (Cart, error)
	Fetch(ctx context.Context, id string) (Cart, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Cart, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	Create(ctx context.Context, c Cart) error
	Update(ctx context.Context, c Cart) error
	Delete(ctx context.Context, id string) error
	Transition(ctx context.Context, id string, from, to Status, at time.Time, by string) (bool, error)

	Canceled(ctx context.Context, before time.Time) ([]Cart, error)
	PendingPayment(ctx context.Context, before time.Time) ([]Cart, error)

	Items(ctx context.Context, cartID string) ([]Item, error)
	CreateItem(ctx context.Context, it Item) (bool, error)
	UpdateItemPrice(ctx context.Context, itemID string, price, payable decimal.Decimal) error
	DeleteItem(ctx context.Context, itemID string) error
	DeleteItems(ctx context.Context, cartID string) error
}

type PGStore struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.InTx(ctx, s.db, fn)
}

func (s *PGStore) Current(ctx context.Context, userID string) (Cart, error) {
	const q = `SELECT * FROM carts WHERE user_id = $1 AND status = $2`

	var c Cart
	if err := sqlx.GetContext(ctx, database.Ext(ctx, s.db), &c, q, userID, StatusCurrent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Cart{}, ErrNotFound
		}
		return Cart{}, fmt.Errorf("selecting current cart of user[%s]: %w", userID, err)
	}
	return c, nil
}

func (s *PGStore) Fetch(ctx context.Context, id string) (Cart, error) {
	const q = `SELECT * FROM carts WHERE cart_id = $1`

	var c Cart
	if err := sqlx.GetContext(ctx, database.Ext(ctx, s.db), &c, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Cart{}, ErrNotFound
		}
		return Cart{}, fmt.Errorf("selecting cart[%s]: %w", id, err)
	}
	return c, nil
}

func (s *PGStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Cart, error) {
	const q = `
	SELECT * FROM carts
	WHERE user_id = $1
	ORDER BY created_at DESC
	LIMIT $2 OFFSET $3`

	cs := []Cart{}
	if err := sqlx.SelectContext(ctx, database.Ext(ctx, s.db), &cs, q, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("selecting carts of user[%s]: %w", userID, err)
	}
	return cs, nil
}

func (s *PGStore) CountByUser(ctx context.Context, userID string) (int, error) {
	const q = `SELECT COUNT(*) FROM carts WHERE user_id = $1`

	var n int
	if err := sqlx.GetContext(ctx, database.Ext(ctx, s.db), &n, q, userID); err != nil {
		return 0, fmt.Errorf("counting carts of user[%s]: %w", userID, err)
	}
	return n, nil
}

func (s *PGStore) Create(ctx context.Context, c Cart) error {
	const q = `
	INSERT INTO carts
		(cart_id, user_id, status, currency, price, payable, coupon_id, coupon_code, coupon_usage_id,
		coupon_discount_amount, data, checkout_at, created_at, created_by, updated_at, updated_by)
	VALUES
		(:cart_id, :user_id, :status, :currency, :price, :payable, :coupon_id, :coupon_code, :coupon_usage_id,
		:coupon_discount_amount, :data, :checkout_at, :created_at, :created_by, :updated_at, :updated_by)`

	if _, err := sqlx.NamedExecContext(ctx, database.Ext(ctx, s.db), q, c); err != nil {
		if database.IsUniqueViolation(err) {
			return ErrExists
		}
		return fmt.Errorf("inserting cart: %w", err)
	}
	return nil
}

func (s *PGStore) Update(ctx context.Context, c Cart) error {
	const q = `
	UPDATE carts SET
		status = :status,
		currency = :currency,
		price = :price,
		payable = :payable,
		coupon_id = :coupon_id,
		coupon_code = :coupon_code,
		coupon_usage_id = :coupon_usage_id,
		coupon_discount_amount = :coupon_discount_amount,
		data = :data,
		checkout_at = :checkout_at,
		updated_at = :updated_at,
		updated_by = :updated_by
	WHERE cart_id = :cart_id`

	res, err := sqlx.NamedExecContext(ctx, database.Ext(ctx, s.db), q, c)
	if err != nil {
		return fmt.Errorf("updating cart[%s]: %w", c.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM carts WHERE cart_id = $1`

	if _, err := database.Ext(ctx, s.db).ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("deleting cart[%s]: %w", id, err)
	}
	return nil
}

// Transition moves the cart from one status to another only if it is still
// in the expected status. It reports whether a row changed.
func (s *PGStore) Transition(ctx context.Context, id string, from, to Status, at time.Time, by string) (bool, error) {
	const q = `
	UPDATE carts SET status = $3, updated_at = $4, updated_by = $5
	WHERE cart_id = $1 AND status = $2`

	res, err := database.Ext(ctx, s.db).ExecContext(ctx, q, id, from, to, at, by)
	if err != nil {
		return false, fmt.Errorf("moving cart[%s] from %s to %s: %w", id, from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("moving cart[%s] from %s to %s: %w", id, from, to, err)
	}
	return n == 1, nil
}

func (s *PGStore) Canceled(ctx context.Context, before time.Time) ([]Cart, error) {
	const q = `SELECT * FROM carts WHERE status = $1 AND updated_at < $2 ORDER BY updated_at`

	cs := []Cart{}
	if err := sqlx.SelectContext(ctx, database.Ext(ctx, s.db), &cs, q, StatusCanceled, before); err != nil {
		return nil, fmt.Errorf("selecting canceled carts: %w", err)
	}
	return cs, nil
}

func (s *PGStore) PendingPayment(ctx context.Context, before time.Time) ([]Cart, error) {
	const q = `SELECT * FROM carts WHERE status = $1 AND checkout_at < $2 ORDER BY checkout_at`

	cs := []Cart{}
	if err := sqlx.SelectContext(ctx, database.Ext(ctx, s.db), &cs, q, StatusCheckout, before); err != nil {
		return nil, fmt.Errorf("selecting pending payment carts: %w", err)
	}
	return cs, nil
}

func (s *PGStore) Items(ctx context.Context, cartID string) ([]Item, error) {
	const q = `SELECT * FROM cart_items WHERE cart_id = $1 ORDER BY created_at, item_id`

	items := []Item{}
	if err := sqlx.SelectContext(ctx, database.Ext(ctx, s.db), &items, q, cartID); err != nil {
		return nil, fmt.Errorf("selecting items of cart[%s]: %w", cartID, err)
	}
	return items, nil
}

// CreateItem reports false when the instance is already in the cart.
func (s *PGStore) CreateItem(ctx context.Context, it Item) (bool, error) {
	const q = `
	INSERT INTO cart_items
		(item_id, cart_id, instance_id, course_id, price, payable, created_at)
	VALUES
		(:item_id, :cart_id, :instance_id, :course_id, :price, :payable, :created_at)
	ON CONFLICT (cart_id, instance_id) DO NOTHING`

	res, err := sqlx.NamedExecContext(ctx, database.Ext(ctx, s.db), q, it)
	if err != nil {
		return false, fmt.Errorf("inserting item of cart[%s]: %w", it.CartID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting item of cart[%s]: %w", it.CartID, err)
	}
	return n == 1, nil
}

func (s *PGStore) UpdateItemPrice(ctx context.Context, itemID string, price, payable decimal.Decimal) error {
	const q = `UPDATE cart_items SET price = $2, payable = $3 WHERE item_id = $1`

	if _, err := database.Ext(ctx, s.db).ExecContext(ctx, q, itemID, price, payable); err != nil {
		return fmt.Errorf("updating price of item[%s]: %w", itemID, err)
	}
	return nil
}

func (s *PGStore) DeleteItem(ctx context.Context, itemID string) error {
	const q = `DELETE FROM cart_items WHERE item_id = $1`

	if _, err := database.Ext(ctx, s.db).ExecContext(ctx, q, itemID); err != nil {
		return fmt.Errorf("deleting item[%s]: %w", itemID, err)
	}
	return nil
}

func (s *PGStore) DeleteItems(ctx context.Context, cartID string) error {
	const q = `DELETE FROM cart_items WHERE cart_id = $1`

	if _, err := database.Ext(ctx, s.db).ExecContext(ctx, q, cartID); err != nil {
		return fmt.Errorf("deleting items of cart[%s]: %w", cartID, err)
	}
	return nil
}
