package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/ardanlabs/conf/v3"
	"github.com/irsalhamdi/course-cart/api"
	"github.com/irsalhamdi/course-cart/api/background"
	"github.com/irsalhamdi/course-cart/config"
	"github.com/irsalhamdi/course-cart/core/auth"
	"github.com/irsalhamdi/course-cart/core/availability"
	"github.com/irsalhamdi/course-cart/core/cart"
	"github.com/irsalhamdi/course-cart/core/coupon"
	"github.com/irsalhamdi/course-cart/core/enrolment"
	"github.com/irsalhamdi/course-cart/core/event"
	"github.com/irsalhamdi/course-cart/core/instance"
	"github.com/irsalhamdi/course-cart/core/payment"
	"github.com/irsalhamdi/course-cart/core/sweeper"
	"github.com/irsalhamdi/course-cart/database"
	"github.com/irsalhamdi/course-cart/rate"
	"github.com/plutov/paypal/v4"
	"github.com/sirupsen/logrus"
	stripecl "github.com/stripe/stripe-go/v74/client"
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if err := Run(log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func Run(logger *logrus.Logger) error {
	logger.Infof("starting server")
	defer logger.Info("shutdown complete")

	const prefix = "COURSECART"
	var cfg config.Config
	if _, err := conf.Parse(prefix, &cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Cart.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	lw := logger.Writer()
	defer lw.Close()
	errLog := log.New(lw, "", 0)

	db, err := database.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open db connection: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate the database: %w", err)
	}

	sessionManager := scs.New()
	sessionManager.Lifetime = cfg.Auth.SessionLifetime

	events, err := event.New(cfg.Events, logger)
	if err != nil {
		return fmt.Errorf("failed to build the event publisher: %w", err)
	}
	if c, ok := events.(io.Closer); ok {
		defer c.Close()
	}

	coupons, err := coupon.New(cfg.Cart.CouponEnable, cfg.Cart.CouponProvider, db, logger)
	if err != nil {
		return fmt.Errorf("failed to build the coupon provider: %w", err)
	}
	couponStore, _ := coupons.(*coupon.Store)

	catalog := instance.NewCatalog(db, cfg.Cart.PaymentCurrency)
	enrol := enrolment.NewStore(db)
	store := cart.NewStore(db)

	carts := cart.NewService(cart.Config{
		Currency:              cfg.Cart.PaymentCurrency,
		PaymentCompletionTime: cfg.Cart.PaymentCompletionTime,
		EnableGuest:           cfg.Cart.EnableGuestCart,
		GuestSecret:           cfg.Cart.GuestSecret,
		GuestLifetime:         cfg.Cart.GuestLifetime,
	}, cart.Deps{
		Store:        store,
		Catalog:      catalog,
		Enroller:     enrol,
		Availability: availability.NewEvaluator(enrol),
		Coupons:      coupons,
		Events:       events,
		Log:          logger,
	})

	payments := payment.NewProvider(carts, catalog, db, payment.Config{
		Account:          cfg.Cart.PaymentAccount,
		VerifyOnDelivery: cfg.Cart.VerifyPaymentOnDelivery,
	}, logger)

	bg := background.New(logger)

	sw := sweeper.New(sweeper.Config{
		CanceledLifetime: cfg.Cart.CanceledCartLifetime,
		PendingLifetime:  cfg.Cart.PendingPaymentCartLifetime,
		KeepPaid:         cfg.Cart.NotDeleteCartWithPaymentRecord,
	}, store, coupons, payment.NewLedger(db), events, logger)

	if cfg.Cart.SweepSchedule != "" {
		err := bg.Schedule("cart sweeper", cfg.Cart.SweepSchedule, func(ctx context.Context) error {
			_, err := sw.Run(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to schedule the cart sweeper: %w", err)
		}
	}

	limiter := rate.NewLimiter(cfg.RateLimit.CouponBurst, cfg.RateLimit.CouponInterval, cfg.RateLimit.Expiry)
	bg.Go("rate limiter pruning", func(ctx context.Context) error {
		limiter.Run(ctx, time.Minute)
		return nil
	})

	pp, err := paypal.NewClient(
		cfg.Paypal.ClientID,
		cfg.Paypal.Secret,
		cfg.Paypal.URL,
	)
	if err != nil {
		return fmt.Errorf("failed to build the paypal client: %w", err)
	}

	if _, err = pp.GetAccessToken(context.TODO()); err != nil {
		return fmt.Errorf("failed to get the first paypal access token: %w", err)
	}

	strp := &stripecl.API{}
	strp.Init(cfg.Stripe.APISecret, nil)

	var oauthCfgs []auth.ProviderConfig
	if google := cfg.Oauth.Google; google.Client != "" {
		oauthCfgs = append(oauthCfgs, auth.ProviderConfig{
			Name: "google", Client: google.Client, Secret: google.Secret, URL: google.URL, RedirectURL: google.RedirectURL,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Oauth.DiscoveryTimeout)
	defer cancel()
	oauthProvs, err := auth.MakeProviders(ctx, oauthCfgs)
	if err != nil {
		return fmt.Errorf("failed to discover oauth providers: %w", err)
	}

	mux := api.APIMux(api.APIConfig{
		CorsOrigin: cfg.Cors.Origin,
		Log:        logger,
		DB:         db,
		Session:    sessionManager,
		Carts:      carts,
		CartCookie: cart.Cookie{
			Name:   cfg.Cart.GuestCookieName,
			Secure: cfg.Cors.Origin != "",
		},
		Catalog:       catalog,
		Coupons:       couponStore,
		CouponLimiter: limiter,
		Payments:      payments,
		Paypal:        pp,
		Stripe:        strp,
		StripeCfg:     cfg.Stripe,

		Providers:        oauthProvs,
		LoginRedirectURL: cfg.Oauth.LoginRedirectURL,
	})

	api := http.Server{
		Handler:      mux,
		Addr:         cfg.Web.Address,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     errLog,
	}

	serverErrors := make(chan error, 1)

	go func() {
		logger.Infof("starting api router at %s", api.Addr)
		serverErrors <- api.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Infof("shutting down: signal %s", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := api.Shutdown(ctx); err != nil {
			api.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}

		if err := bg.Shutdown(ctx); err != nil {
			return fmt.Errorf("could not complete all background tasks: %w", err)
		}
	}
	return nil
}
