package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/irsalhamdi/course-cart/database"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("payment not found")

func Create(ctx context.Context, db sqlx.ExtContext, p Payment) error {
	const q = `
	INSERT INTO payments
		(payment_id, cart_id, user_id, gateway, provider_ref, account, amount, currency, status, created_at, updated_at)
	VALUES
		(:payment_id, :cart_id, :user_id, :gateway, :provider_ref, :account, :amount, :currency, :status, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, p); err != nil {
		return fmt.Errorf("inserting payment: %w", err)
	}
	return nil
}

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (Payment, error) {
	const q = `SELECT * FROM payments WHERE payment_id = $1`

	var p Payment
	if err := sqlx.GetContext(ctx, db, &p, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, fmt.Errorf("selecting payment[%s]: %w", id, err)
	}
	return p, nil
}

func FetchByProviderRef(ctx context.Context, db sqlx.ExtContext, ref string) (Payment, error) {
	const q = `SELECT * FROM payments WHERE provider_ref = $1`

	var p Payment
	if err := sqlx.GetContext(ctx, db, &p, q, ref); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, fmt.Errorf("selecting payment bound to ref[%s]: %w", ref, err)
	}
	return p, nil
}

func FetchByCart(ctx context.Context, db sqlx.ExtContext, cartID string) ([]Payment, error) {
	const q = `SELECT * FROM payments WHERE cart_id = $1 ORDER BY created_at`

	ps := []Payment{}
	if err := sqlx.SelectContext(ctx, db, &ps, q, cartID); err != nil {
		return nil, fmt.Errorf("selecting payments of cart[%s]: %w", cartID, err)
	}
	return ps, nil
}

func UpdateStatus(ctx context.Context, db sqlx.ExtContext, up StatusUp) error {
	const q = `
	UPDATE payments SET
		status = :status,
		updated_at = :updated_at
	WHERE payment_id = :payment_id`

	if _, err := sqlx.NamedExecContext(ctx, db, q, up); err != nil {
		return fmt.Errorf("updating status of payment[%s]: %w", up.ID, err)
	}
	return nil
}

// Ledger answers payment questions about carts.
type Ledger struct {
	db *sqlx.DB
}

func NewLedger(db *sqlx.DB) *Ledger {
	return &Ledger{db: db}
}

// HasPayment reports whether any payment was ever started for the cart.
func (l *Ledger) HasPayment(ctx context.Context, cartID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM payments WHERE cart_id = $1)`

	var ok bool
	if err := sqlx.GetContext(ctx, database.Ext(ctx, l.db), &ok, q, cartID); err != nil {
		return false, fmt.Errorf("checking payments of cart[%s]: %w", cartID, err)
	}
	return ok, nil
}
