package api

import (
	"context"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
	"github.com/irsalhamdi/course-cart/api/middleware"
	"github.com/irsalhamdi/course-cart/api/web"
	"github.com/irsalhamdi/course-cart/config"
	"github.com/irsalhamdi/course-cart/core/auth"
	"github.com/irsalhamdi/course-cart/core/cart"
	"github.com/irsalhamdi/course-cart/core/coupon"
	"github.com/irsalhamdi/course-cart/core/course"
	"github.com/irsalhamdi/course-cart/core/instance"
	"github.com/irsalhamdi/course-cart/core/payment"
	"github.com/irsalhamdi/course-cart/core/user"
	"github.com/irsalhamdi/course-cart/rate"
	"github.com/jmoiron/sqlx"
	"github.com/plutov/paypal/v4"
	"github.com/sirupsen/logrus"
	stripecl "github.com/stripe/stripe-go/v74/client"
)

type APIConfig struct {
	CorsOrigin    string
	Log           logrus.FieldLogger
	DB            *sqlx.DB
	Session       *scs.SessionManager
	Carts         *cart.Service
	CartCookie    cart.Cookie
	Catalog       *instance.Catalog
	Coupons       *coupon.Store
	CouponLimiter *rate.Limiter
	Payments      *payment.Provider
	Paypal        *paypal.Client
	Stripe        *stripecl.API
	StripeCfg     config.Stripe

	Providers        map[string]auth.Provider
	LoginRedirectURL string
}

type api struct {
	*mux.Router
	mw  []web.Middleware
	log logrus.FieldLogger
}

func APIMux(cfg APIConfig) http.Handler {
	a := &api{
		Router: mux.NewRouter(),
		log:    cfg.Log,
	}

	a.mw = append(a.mw, auth.LoadAndSave(cfg.Session))
	a.mw = append(a.mw, middleware.RequestID())
	a.mw = append(a.mw, middleware.Notices())
	a.mw = append(a.mw, auth.Claims(cfg.Session))
	a.mw = append(a.mw, middleware.Logger(cfg.Log))
	a.mw = append(a.mw, middleware.Errors(cfg.Log))
	a.mw = append(a.mw, middleware.Panics())

	if cfg.CorsOrigin != "" {
		a.mw = append(a.mw, middleware.Cors(cfg.CorsOrigin))

		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			w.WriteHeader(http.StatusNoContent)
			return nil
		}

		a.Handle(http.MethodOptions, "/{path:.*}", h)
	}

	authen := auth.Authenticate(cfg.Session)
	admin := auth.Admin(cfg.Session)

	var limit web.Middleware
	if cfg.CouponLimiter != nil {
		limit = middleware.RateLimit(cfg.CouponLimiter)
	}

	migrate := auth.Hook(cfg.Carts.LoginHook(cfg.CartCookie))

	a.Handle(http.MethodPost, "/auth/signup", auth.HandleSignup(cfg.DB, cfg.Session, migrate))
	a.Handle(http.MethodPost, "/auth/login", auth.HandleLogin(cfg.DB, cfg.Session, migrate))
	a.Handle(http.MethodPost, "/auth/logout", auth.HandleLogout(cfg.Session))
	a.Handle(http.MethodGet, "/auth/oauth-login/{provider}", auth.HandleOauthLogin(cfg.Session, cfg.Providers))
	a.Handle(http.MethodGet, "/auth/oauth-callback/{provider}", auth.HandleOauthCallback(cfg.DB, cfg.Session, cfg.Providers, cfg.LoginRedirectURL, migrate))

	a.Handle(http.MethodGet, "/users/current", user.HandleShowCurrent(cfg.DB), authen)
	a.Handle(http.MethodGet, "/users/{id}", user.HandleShow(cfg.DB), authen)
	a.Handle(http.MethodPost, "/users", user.HandleCreate(cfg.DB), admin)

	a.Handle(http.MethodGet, "/courses/owned", course.HandleListOwned(cfg.DB), authen)
	a.Handle(http.MethodGet, "/courses/{course_id}/instances", instance.HandleListByCourse(cfg.Catalog, cfg.DB))
	a.Handle(http.MethodPost, "/courses/{id}/groups", course.HandleCreateGroup(cfg.DB), admin)
	a.Handle(http.MethodGet, "/courses/{id}", course.HandleShow(cfg.DB))
	a.Handle(http.MethodGet, "/courses", course.HandleList(cfg.DB))
	a.Handle(http.MethodPost, "/courses", course.HandleCreate(cfg.DB), admin)
	a.Handle(http.MethodPut, "/courses/{id}", course.HandleUpdate(cfg.DB), admin)

	a.Handle(http.MethodGet, "/instances/{id}", instance.HandleShow(cfg.Catalog))
	a.Handle(http.MethodPost, "/instances", instance.HandleCreate(cfg.DB), admin)
	a.Handle(http.MethodPut, "/instances/{id}", instance.HandleUpdate(cfg.DB), admin)

	a.Handle(http.MethodGet, "/cart", cart.HandleShow(cfg.Carts, cfg.CartCookie))
	a.Handle(http.MethodPut, "/cart/items", cart.HandleAddItem(cfg.Carts, cfg.CartCookie))
	a.Handle(http.MethodDelete, "/cart/items/{instance_id}", cart.HandleRemoveItem(cfg.Carts, cfg.CartCookie))
	a.Handle(http.MethodPut, "/cart/courses", cart.HandleAddCourse(cfg.Carts, cfg.CartCookie))
	a.Handle(http.MethodDelete, "/cart/courses/{course_id}", cart.HandleRemoveCourse(cfg.Carts, cfg.CartCookie))
	a.Handle(http.MethodGet, "/cart/checkout", cart.HandleCheckoutShow(cfg.Carts), authen)
	a.Handle(http.MethodPost, "/cart/checkout/free", cart.HandleCheckoutFree(cfg.Carts), authen)
	a.Handle(http.MethodPost, "/cart/coupon", cart.HandleCouponApply(cfg.Carts), authen, limit)
	a.Handle(http.MethodDelete, "/cart/coupon", cart.HandleCouponCancel(cfg.Carts), authen)
	a.Handle(http.MethodPost, "/cart/cancel", cart.HandleCancel(cfg.Carts, cfg.CartCookie))

	a.Handle(http.MethodGet, "/carts", cart.HandleList(cfg.Carts), authen)
	a.Handle(http.MethodGet, "/carts/{id}", cart.HandleShowByID(cfg.Carts), authen)

	if cfg.Coupons != nil {
		a.Handle(http.MethodGet, "/coupons", coupon.HandleList(cfg.Coupons), admin)
		a.Handle(http.MethodPost, "/coupons", coupon.HandleCreate(cfg.Coupons), admin)
	}

	a.Handle(http.MethodPost, "/payments/paypal", payment.HandlePaypalCheckout(cfg.Payments, cfg.Paypal), authen, limit)
	a.Handle(http.MethodPost, "/payments/paypal/{id}/capture", payment.HandlePaypalCapture(cfg.Payments, cfg.Paypal), authen)
	a.Handle(http.MethodPost, "/payments/stripe", payment.HandleStripeCheckout(cfg.Payments, cfg.Stripe, cfg.StripeCfg), authen, limit)
	a.Handle(http.MethodPost, "/payments/stripe/webhook", payment.HandleStripeWebhook(cfg.Payments, cfg.StripeCfg))

	return a.Router
}

func (a *api) Handle(method string, path string, handler web.Handler, mw ...web.Middleware) {

	handler = web.WrapMiddleware(mw, handler)

	handler = web.WrapMiddleware(a.mw, handler)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ctx := r.Context()

		if err := handler(ctx, w, r); err != nil {

			a.log.WithFields(logrus.Fields{
				"req_id":  middleware.ContextRequestID(ctx),
				"message": err,
			}).Error("ERROR")
		}
	})

	a.Router.Handle(path, h).Methods(method)
}
