// Package sweeper deletes carts that were canceled or left unpaid for longer
// than their configured lifetime.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/course-cart/core/cart"
	"github.com/irsalhamdi/course-cart/core/coupon"
	"github.com/irsalhamdi/course-cart/core/event"
	"github.com/sirupsen/logrus"
)

// Config holds the retention rules. A zero lifetime disables its population.
type Config struct {
	CanceledLifetime time.Duration
	PendingLifetime  time.Duration
	KeepPaid         bool
}

type Payments interface {
	HasPayment(ctx context.Context, cartID string) (bool, error)
}

type Sweeper struct {
	store    cart.Store
	coupons  coupon.Provider
	payments Payments
	events   event.Publisher
	cfg      Config
	log      logrus.FieldLogger
	now      func() time.Time
}

func New(cfg Config, store cart.Store, coupons coupon.Provider, payments Payments, events event.Publisher, log logrus.FieldLogger) *Sweeper {
	if coupons == nil {
		coupons = coupon.Disabled{}
	}

	return &Sweeper{
		store:    store,
		coupons:  coupons,
		payments: payments,
		events:   events,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Run makes one pass over both populations and returns the number of
// deleted carts. A failing cart is logged and skipped; the errors are
// joined in the result.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	now := s.now().UTC()

	var errs []error
	deleted := 0

	if s.cfg.CanceledLifetime > 0 {
		cs, err := s.store.Canceled(ctx, now.Add(-s.cfg.CanceledLifetime))
		if err != nil {
			errs = append(errs, err)
		} else {
			n, err := s.sweep(ctx, cs)
			deleted += n
			errs = append(errs, err)
		}
	}

	if s.cfg.PendingLifetime > 0 {
		cs, err := s.store.PendingPayment(ctx, now.Add(-s.cfg.PendingLifetime))
		if err != nil {
			errs = append(errs, err)
		} else {
			n, err := s.sweep(ctx, cs)
			deleted += n
			errs = append(errs, err)
		}
	}

	if deleted > 0 {
		s.log.WithField("deleted", deleted).Info("expired carts swept")
	}
	return deleted, errors.Join(errs...)
}

func (s *Sweeper) sweep(ctx context.Context, cs []cart.Cart) (int, error) {
	var errs []error
	deleted := 0

	for _, c := range cs {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		if s.cfg.KeepPaid && s.payments != nil {
			paid, err := s.payments.HasPayment(ctx, c.ID)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if paid {
				continue
			}
		}

		if err := s.delete(ctx, c); err != nil {
			s.log.WithFields(logrus.Fields{
				"cart_id": c.ID,
				"message": err,
			}).Error("deleting expired cart")
			errs = append(errs, err)
			continue
		}
		deleted++
	}

	return deleted, errors.Join(errs...)
}

func (s *Sweeper) delete(ctx context.Context, c cart.Cart) error {
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		if c.HasCouponRecord() {
			items, err := s.store.Items(ctx, c.ID)
			if err != nil {
				return err
			}

			res, err := s.coupons.Cancel(ctx, cart.Projection(c, items, c.Price, c.Payable))
			if err != nil {
				return err
			}
			if !res.OK {
				s.log.WithFields(logrus.Fields{
					"cart_id":    c.ID,
					"error_code": res.ErrorCode,
				}).Warn("releasing coupon of expired cart")
			}
		}

		if err := s.store.DeleteItems(ctx, c.ID); err != nil {
			return err
		}
		return s.store.Delete(ctx, c.ID)
	})
	if err != nil {
		return fmt.Errorf("deleting cart[%s]: %w", c.ID, err)
	}

	if s.events != nil {
		e := event.Event{
			Name:     event.CartDeleted,
			ObjectID: c.ID,
			UserID:   c.UserID,
			Time:     s.now().UTC(),
			Other:    cart.Snapshot(c),
		}
		if err := s.events.Publish(ctx, e); err != nil {
			s.log.WithFields(logrus.Fields{
				"cart_id": c.ID,
				"message": err,
			}).Warn("publishing cart event")
		}
	}
	return nil
}
