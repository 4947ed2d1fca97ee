package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/irsalhamdi/course-cart/core/cart"
	"github.com/irsalhamdi/course-cart/core/claims"
	"github.com/irsalhamdi/course-cart/core/notify"
	"github.com/irsalhamdi/course-cart/database"
	"github.com/irsalhamdi/course-cart/validate"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotPayable   = errors.New("cart is not payable")
	ErrNotDelivered = errors.New("paid cart could not be delivered")
)

const (
	msgNotPayable      = "The cart cannot be paid."
	msgCouponFailed    = "The coupon could not be applied."
	msgDelivered       = "Your payment was received and you have been enrolled."
	msgDeliveryFailed  = "The payment was received but the enrolment failed."
	msgUnverifiedPayer = "The payment does not match the cart."
)

type Config struct {
	Account          string
	VerifyOnDelivery bool
}

// Provider is the payment side of the cart: it locks carts for payment,
// records gateway orders and delivers paid carts.
type Provider struct {
	carts   *cart.Service
	catalog cart.Catalog
	db      *sqlx.DB
	cfg     Config
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewProvider(carts *cart.Service, catalog cart.Catalog, db *sqlx.DB, cfg Config, log logrus.FieldLogger) *Provider {
	return &Provider{
		carts:   carts,
		catalog: catalog,
		db:      db,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// Payable returns the amount to charge for the acting user's locked cart.
// Carts that are editable, empty of value or not owned are not payable.
func (p *Provider) Payable(ctx context.Context, cartID string) (Payable, error) {
	c, err := p.carts.Load(ctx, cartID)
	if err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			return Payable{}, ErrNotPayable
		}
		return Payable{}, err
	}
	return p.payable(c)
}

func (p *Provider) payable(c *cart.UserCart) (Payable, error) {
	st := c.Status()
	if !c.IsOwner() || !c.FinalPayable().IsPositive() || c.CanEditItems() ||
		(st != cart.StatusCurrent && st != cart.StatusCheckout) {
		return Payable{}, ErrNotPayable
	}

	return Payable{
		Amount:   c.FinalPayable(),
		Currency: c.FinalCurrency(),
		Account:  p.cfg.Account,
	}, nil
}

// Begin runs the payment page checks on the cart and locks it for payment.
// It reports false when the user must review the cart first; the reason is
// left in the notices. A cart with nothing to pay is delivered right away.
func (p *Provider) Begin(ctx context.Context, c *cart.UserCart, code string) (bool, error) {
	st := c.Status()
	if c.IsEmpty() || !c.IsOwner() || (st != cart.StatusCurrent && st != cart.StatusCheckout) {
		notify.Warn(ctx, msgNotPayable)
		return false, nil
	}

	ok, err := cart.Prepare(ctx, c)
	if err != nil || !ok {
		return false, err
	}

	if code != "" && !strings.EqualFold(code, c.Record().CouponCode) {
		if c.HasCoupon() {
			if _, err := c.CouponCancel(ctx); err != nil {
				return false, fmt.Errorf("replacing coupon of cart[%s]: %w", c.ID(), err)
			}
		}

		ok, err := c.CouponApply(ctx, code)
		if err != nil {
			return false, fmt.Errorf("applying coupon to cart[%s]: %w", c.ID(), err)
		}
		if !ok {
			msg := c.CouponResult().ErrorMessage
			if msg == "" {
				msg = msgCouponFailed
			}
			notify.Error(ctx, msg)
			return false, nil
		}
	}

	if c.IsFinalPayableZero() {
		return c.ProcessFreeItems(ctx)
	}

	// A lapsed checkout is locked again with a fresh payment window.
	if c.CanEditItems() {
		return c.Checkout(ctx)
	}
	return true, nil
}

// Record stores the gateway order started for the cart.
func (p *Provider) Record(ctx context.Context, c *cart.UserCart, gateway, ref string, pay Payable) (Payment, error) {
	now := p.now().UTC()
	rec := Payment{
		ID:          validate.GenerateID(),
		CartID:      c.ID(),
		UserID:      c.Record().UserID,
		Gateway:     gateway,
		ProviderRef: ref,
		Account:     pay.Account,
		Amount:      pay.Amount,
		Currency:    pay.Currency,
		Status:      Pending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := Create(ctx, database.Ext(ctx, p.db), rec); err != nil {
		return Payment{}, fmt.Errorf("recording %s payment[%s] of cart[%s]: %w", gateway, ref, c.ID(), err)
	}
	return rec, nil
}

// DeliverOrder delivers a paid cart to its owner. With verification on, the
// recorded payment must match the final payable of the cart.
func (p *Provider) DeliverOrder(ctx context.Context, cartID, paymentID, userID string) (bool, error) {
	if claims.IsGuest(ctx) {
		ctx = claims.Set(ctx, claims.Claims{UserID: userID, Role: claims.RoleUser})
	}

	c, err := p.carts.Load(ctx, cartID)
	if err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			notify.Error(ctx, msgDeliveryFailed)
			return false, nil
		}
		return false, err
	}

	verified := c.Record().UserID == userID && c.Status() == cart.StatusCheckout
	if verified && p.cfg.VerifyOnDelivery {
		pay, err := Fetch(ctx, database.Ext(ctx, p.db), paymentID)
		if err != nil {
			return false, fmt.Errorf("fetching payment[%s] of cart[%s]: %w", paymentID, cartID, err)
		}
		verified = pay.CartID == cartID && pay.Amount.Equal(c.FinalPayable())
		if !verified {
			notify.Error(ctx, msgUnverifiedPayer)
		}
	}

	if !verified {
		notify.Error(ctx, msgDeliveryFailed)
		return false, nil
	}

	ok, err := c.Deliver(ctx)
	if err != nil || !ok {
		notify.Error(ctx, msgDeliveryFailed)
		return false, err
	}

	notify.Success(ctx, msgDelivered)
	return true, nil
}

// Fulfill marks the payment bound to the gateway reference completed and
// delivers its cart in one transaction. Fulfilling twice is a no-op.
func (p *Provider) Fulfill(ctx context.Context, ref string) error {
	pay, err := FetchByProviderRef(ctx, database.Ext(ctx, p.db), ref)
	if err != nil {
		return fmt.Errorf("fetching the payment bound to ref[%s]: %w", ref, err)
	}
	if pay.Status == Completed {
		return nil
	}

	err = database.InTx(ctx, p.db, func(ctx context.Context) error {
		up := StatusUp{
			ID:        pay.ID,
			Status:    Completed,
			UpdatedAt: p.now().UTC(),
		}
		if err := UpdateStatus(ctx, database.Ext(ctx, p.db), up); err != nil {
			return err
		}

		ok, err := p.DeliverOrder(ctx, pay.CartID, pay.ID, pay.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotDelivered
		}
		return nil
	})

	if errors.Is(err, cart.ErrStatusChanged) {
		p.log.WithFields(logrus.Fields{
			"cart_id":    pay.CartID,
			"payment_id": pay.ID,
		}).Info("cart already delivered by a concurrent fulfillment")
		return nil
	}
	if err != nil {
		return fmt.Errorf("fulfilling payment[%s] of cart[%s]: %w", pay.ID, pay.CartID, err)
	}
	return nil
}
