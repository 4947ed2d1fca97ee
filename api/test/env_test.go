package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/irsalhamdi/course-cart/api"
	"github.com/irsalhamdi/course-cart/config"
	"github.com/irsalhamdi/course-cart/core/auth"
	"github.com/irsalhamdi/course-cart/core/availability"
	"github.com/irsalhamdi/course-cart/core/cart"
	"github.com/irsalhamdi/course-cart/core/claims"
	"github.com/irsalhamdi/course-cart/core/coupon"
	"github.com/irsalhamdi/course-cart/core/enrolment"
	"github.com/irsalhamdi/course-cart/core/event"
	"github.com/irsalhamdi/course-cart/core/instance"
	"github.com/irsalhamdi/course-cart/core/payment"
	"github.com/irsalhamdi/course-cart/core/user"
	"github.com/irsalhamdi/course-cart/database/dbtest"
	"github.com/irsalhamdi/course-cart/rate"
	"github.com/jmoiron/sqlx"
	"github.com/plutov/paypal/v4"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
)

type TestEnv struct {
	*httptest.Server
	DB            *sqlx.DB
	Paypal        *mockPaypal
	Stripe        *mockStripe
	Idp           *mockIdP
	WebhookSecret string
	UserEmail     string
	UserPass      string
	AdminEmail    string
	AdminPass     string
}

func NewTestEnv(t *testing.T, name string) (*TestEnv, error) {
	t.Helper()

	db := dbtest.NewDatabase(t, name)

	log := logrus.New()
	log.SetOutput(io.Discard)

	env := &TestEnv{
		DB:            db,
		Paypal:        &mockPaypal{},
		Stripe:        &mockStripe{},
		WebhookSecret: "whsec_test",
		UserEmail:     "user@example.com",
		UserPass:      "user-password",
		AdminEmail:    "admin@example.com",
		AdminPass:     "admin-password",
	}

	now := time.Now().UTC()
	for _, un := range []user.UserNew{
		{Name: "User", Email: env.UserEmail, Password: env.UserPass, Role: claims.RoleUser},
		{Name: "Admin", Email: env.AdminEmail, Password: env.AdminPass, Role: claims.RoleAdmin},
	} {
		u, err := user.New(un, now)
		if err != nil {
			return nil, err
		}
		if err := user.Create(context.Background(), db, u); err != nil {
			return nil, fmt.Errorf("creating user %s: %w", un.Email, err)
		}
	}

	pps := httptest.NewServer(env.Paypal.handle())
	t.Cleanup(pps.Close)

	pp, err := paypal.NewClient("client", "secret", pps.URL)
	if err != nil {
		return nil, fmt.Errorf("building paypal client: %w", err)
	}

	sts := httptest.NewServer(env.Stripe.handle())
	t.Cleanup(sts.Close)

	strp := &stripecl.API{}
	strp.Init("sk_test", &stripe.Backends{
		API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:           stripe.String(sts.URL),
			LeveledLogger: &stripe.LeveledLogger{Level: stripe.LevelNull},
		}),
	})

	env.Idp, err = newMockIdP(t)
	if err != nil {
		return nil, fmt.Errorf("building identity provider: %w", err)
	}

	coupons, err := coupon.New(true, "reference", db, log)
	if err != nil {
		return nil, err
	}

	catalog := instance.NewCatalog(db, "USD")
	enrol := enrolment.NewStore(db)

	carts := cart.NewService(cart.Config{
		Currency:              "USD",
		PaymentCompletionTime: 15 * time.Minute,
		EnableGuest:           true,
		GuestSecret:           "guest-secret",
		GuestLifetime:         time.Hour,
	}, cart.Deps{
		Store:        cart.NewStore(db),
		Catalog:      catalog,
		Enroller:     enrol,
		Availability: availability.NewEvaluator(enrol),
		Coupons:      coupons,
		Events:       event.NewLogPublisher(log),
		Log:          log,
	})

	stripeCfg := config.Stripe{
		WebhookSecret: env.WebhookSecret,
		SuccessURL:    "http://localhost/success",
		CancelURL:     "http://localhost/cancel",
	}

	mux := api.APIMux(api.APIConfig{
		Log:           log,
		DB:            db,
		Session:       scs.New(),
		Carts:         carts,
		CartCookie:    cart.Cookie{Name: "cart_items"},
		Catalog:       catalog,
		Coupons:       coupons.(*coupon.Store),
		CouponLimiter: rate.NewLimiter(100, time.Millisecond, time.Minute),
		Payments: payment.NewProvider(carts, catalog, db, payment.Config{
			Account:          "main",
			VerifyOnDelivery: true,
		}, log),
		Paypal:    pp,
		Stripe:    strp,
		StripeCfg: stripeCfg,

		Providers:        map[string]auth.Provider{"google": env.Idp.provider()},
		LoginRedirectURL: "/",
	})

	env.Server = httptest.NewServer(mux)
	t.Cleanup(env.Server.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	env.Server.Client().Jar = jar

	return env, nil
}

// Do sends body as JSON and decodes the response into out when it is not nil.
func (env *TestEnv) Do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}

	r, err := http.NewRequest(method, env.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}

	w, err := env.Client().Do(r)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Body.Close()

	if out != nil && w.StatusCode < 300 && w.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(w.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s response: %v", method, path, err)
		}
	}
	return w.StatusCode
}

func Login(s *httptest.Server, email, pass string) error {
	b, err := json.Marshal(map[string]string{"email": email, "password": pass})
	if err != nil {
		return err
	}

	w, err := s.Client().Post(s.URL+"/auth/login", "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer w.Body.Close()

	if w.StatusCode != http.StatusOK {
		return fmt.Errorf("login as %s failed: status code %s", email, w.Status)
	}
	return nil
}

func Logout(s *httptest.Server) error {
	w, err := s.Client().Post(s.URL+"/auth/logout", "application/json", nil)
	if err != nil {
		return err
	}
	defer w.Body.Close()

	if w.StatusCode != http.StatusNoContent {
		return fmt.Errorf("logout failed: status code %s", w.Status)
	}
	return nil
}
