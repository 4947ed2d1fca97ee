package config

import (
	"errors"
	"time"
)

type Config struct {
	Web       Web
	DB        DB
	Auth      Auth
	Cors      Cors
	Cart      Cart
	Paypal    Paypal
	Stripe    Stripe
	Events    Events
	RateLimit RateLimit
	Oauth     Oauth
}

type Web struct {
	Address         string        `conf:"default:localhost:8000"`
	ReadTimeout     time.Duration `conf:"default:5s"`
	WriteTimeout    time.Duration `conf:"default:10s"`
	IdleTimeout     time.Duration `conf:"default:120s"`
	ShutdownTimeout time.Duration `conf:"default:20s"`
}

type DB struct {
	User         string `conf:"default:postgres"`
	Password     string `conf:"default:postgres,mask"`
	Host         string `conf:"default:localhost:5432"`
	Name         string `conf:"default:postgres"`
	MaxIdleConns int    `conf:"default:0"`
	MaxOpenConns int    `conf:"default:0"`
	DisableTLS   bool   `conf:"default:true"`
}

type Auth struct {
	SessionLifetime time.Duration `conf:"default:24h"`
}

type Cors struct {
	Origin string
}

// Cart holds the enrolment cart settings.
type Cart struct {
	PaymentCurrency string `conf:"default:USD"`
	PaymentAccount  string `conf:"default:default"`

	EnableGuestCart bool          `conf:"default:true"`
	GuestCookieName string        `conf:"default:cart_items"`
	GuestSecret     string        `conf:"mask"`
	GuestLifetime   time.Duration `conf:"default:720h"`

	CouponEnable   bool   `conf:"default:false"`
	CouponProvider string `conf:"default:reference"`

	PaymentCompletionTime          time.Duration `conf:"default:15m"`
	CanceledCartLifetime           time.Duration `conf:"default:0s"`
	PendingPaymentCartLifetime     time.Duration `conf:"default:0s"`
	NotDeleteCartWithPaymentRecord bool          `conf:"default:true"`
	VerifyPaymentOnDelivery        bool          `conf:"default:true"`
	SweepSchedule                  string        `conf:"default:@every 1h"`
}

// MinGuestSecret is the shortest key accepted to sign guest cart tokens.
const MinGuestSecret = 32

var ErrGuestSecret = errors.New("the guest cart secret must be set to at least 32 characters when guest carts are enabled")

// Validate rejects settings the server cannot run safely with.
func (c Cart) Validate() error {
	if c.EnableGuestCart && len(c.GuestSecret) < MinGuestSecret {
		return ErrGuestSecret
	}
	return nil
}

type Paypal struct {
	ClientID string
	Secret   string `conf:"mask"`
	URL      string `conf:"default:https://api-m.sandbox.paypal.com"`
}

type Stripe struct {
	APISecret     string `conf:"mask"`
	WebhookSecret string `conf:"mask"`
	SuccessURL    string
	CancelURL     string
}

type Events struct {
	Publisher string   `conf:"default:log"`
	Brokers   []string `conf:"default:localhost:9092"`
	Topic     string   `conf:"default:cart-events"`
}

type Oauth struct {
	DiscoveryTimeout time.Duration `conf:"default:10s"`
	LoginRedirectURL string        `conf:"default:/"`
	Google           Google
}

// Google is left disabled while Client is empty.
type Google struct {
	Client      string
	Secret      string `conf:"mask"`
	URL         string `conf:"default:https://accounts.google.com"`
	RedirectURL string
}

type RateLimit struct {
	CouponBurst    int           `conf:"default:5"`
	CouponInterval time.Duration `conf:"default:10s"`
	Expiry         time.Duration `conf:"default:10m"`
}
