// Command sweeper deletes expired carts once and exits.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ardanlabs/conf/v3"
	"github.com/irsalhamdi/course-cart/config"
	"github.com/irsalhamdi/course-cart/core/cart"
	"github.com/irsalhamdi/course-cart/core/coupon"
	"github.com/irsalhamdi/course-cart/core/event"
	"github.com/irsalhamdi/course-cart/core/payment"
	"github.com/irsalhamdi/course-cart/core/sweeper"
	"github.com/irsalhamdi/course-cart/database"
	"github.com/sirupsen/logrus"
)

type Config struct {
	DB     config.DB
	Cart   config.Cart
	Events config.Events
}

func main() {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if err := run(log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(log *logrus.Logger) error {
	const prefix = "COURSECART"
	var cfg Config
	if _, err := conf.Parse(prefix, &cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	db, err := database.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open db connection: %w", err)
	}
	defer db.Close()

	events, err := event.New(cfg.Events, log)
	if err != nil {
		return fmt.Errorf("failed to build the event publisher: %w", err)
	}
	if c, ok := events.(io.Closer); ok {
		defer c.Close()
	}

	coupons, err := coupon.New(cfg.Cart.CouponEnable, cfg.Cart.CouponProvider, db, log)
	if err != nil {
		return fmt.Errorf("failed to build the coupon provider: %w", err)
	}

	sw := sweeper.New(sweeper.Config{
		CanceledLifetime: cfg.Cart.CanceledCartLifetime,
		PendingLifetime:  cfg.Cart.PendingPaymentCartLifetime,
		KeepPaid:         cfg.Cart.NotDeleteCartWithPaymentRecord,
	}, cart.NewStore(db), coupons, payment.NewLedger(db), events, log)

	n, err := sw.Run(context.Background())
	log.WithField("deleted", n).Info("sweep complete")
	return err
}
