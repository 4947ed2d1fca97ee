package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/irsalhamdi/course-cart/api/web"
	"github.com/irsalhamdi/course-cart/api/weberr"
	"github.com/irsalhamdi/course-cart/config"
	"github.com/irsalhamdi/course-cart/core/cart"
	"github.com/irsalhamdi/course-cart/core/claims"
	"github.com/irsalhamdi/course-cart/core/notify"
	"github.com/irsalhamdi/course-cart/validate"
	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"
)

type PayReq struct {
	CartID     string `json:"cartId" validate:"omitempty,uuid"`
	CouponCode string `json:"couponCode" validate:"omitempty,max=64,couponcode"`
}

type Response struct {
	OK      bool            `json:"ok"`
	Cart    cart.View       `json:"cart"`
	Payment *Payment        `json:"payment,omitempty"`
	Order   *paypal.Order   `json:"order,omitempty"`
	URL     string          `json:"url,omitempty"`
	Notices []notify.Notice `json:"notices"`
}

func decode(w http.ResponseWriter, r *http.Request) (PayReq, error) {
	var req PayReq
	if r.ContentLength == 0 {
		return req, nil
	}

	if err := web.Decode(w, r, &req); err != nil {
		return req, weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
	}

	if err := validate.Check(req); err != nil {
		return req, weberr.Invalid(err)
	}
	return req, nil
}

// open returns the cart to pay: the one named in the request or the
// current one.
func (p *Provider) open(ctx context.Context, cartID string) (*cart.UserCart, error) {
	if claims.IsGuest(ctx) {
		return nil, weberr.NotAuthorized(errors.New("user not authenticated"))
	}

	if cartID == "" {
		c, err := p.carts.Current(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading current cart: %w", err)
		}
		return c, nil
	}

	c, err := p.carts.Load(ctx, cartID)
	if err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			return nil, weberr.NotFound(err)
		}
		return nil, fmt.Errorf("loading cart[%s]: %w", cartID, err)
	}
	if !c.IsOwner() {
		return nil, weberr.Forbidden(fmt.Errorf("cart[%s] belongs to another user", cartID))
	}
	return c, nil
}

// start runs the common part of every gateway checkout. A nil Payable with
// a nil error means the response was already written.
func (p *Provider) start(ctx context.Context, w http.ResponseWriter, r *http.Request) (*cart.UserCart, *Payable, error) {
	req, err := decode(w, r)
	if err != nil {
		return nil, nil, err
	}

	c, err := p.open(ctx, req.CartID)
	if err != nil {
		return nil, nil, err
	}

	ok, err := p.Begin(ctx, c, req.CouponCode)
	if err != nil {
		return nil, nil, weberr.Wrap(fmt.Errorf("preparing cart[%s] for payment: %w", c.ID(), err), weberr.WithCart(c.ID()))
	}

	switch {
	case c.Status() == cart.StatusDelivered:
		return nil, nil, respond(ctx, w, c, Response{OK: ok}, http.StatusOK)
	case !ok:
		return nil, nil, respond(ctx, w, c, Response{}, http.StatusConflict)
	}

	pay, err := p.payable(c)
	if err != nil {
		return nil, nil, weberr.Unprocessable(err)
	}
	return c, &pay, nil
}

func respond(ctx context.Context, w http.ResponseWriter, c *cart.UserCart, resp Response, status int) error {
	resp.Cart = cart.NewView(c)
	resp.Notices = notify.List(ctx)
	return web.Respond(ctx, w, resp, status)
}

func (p *Provider) itemName(ctx context.Context, it cart.Item) string {
	in, err := p.catalog.Lookup(ctx, it.InstanceID)
	if err != nil || in.Name == "" {
		return "Course enrolment"
	}
	return in.Name
}

func money(currency string, amount decimal.Decimal) *paypal.Money {
	return &paypal.Money{
		Currency: currency,
		Value:    amount.StringFixed(2),
	}
}

// HandlePaypalCheckout locks the cart and creates the matching PayPal order.
func HandlePaypalCheckout(p *Provider, pp *paypal.Client) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		c, pay, err := p.start(ctx, w, r)
		if err != nil || pay == nil {
			return err
		}

		total := decimal.Zero
		items := make([]paypal.Item, 0, c.Count())
		for _, it := range c.Items() {
			items = append(items, paypal.Item{
				Quantity:   "1",
				Name:       p.itemName(ctx, it),
				SKU:        it.InstanceID,
				UnitAmount: money(pay.Currency, it.Payable),
			})
			total = total.Add(it.Payable)
		}

		breakdown := &paypal.PurchaseUnitAmountBreakdown{ItemTotal: money(pay.Currency, total)}
		if discount := total.Sub(pay.Amount); discount.IsPositive() {
			breakdown.Discount = money(pay.Currency, discount)
		}

		units := []paypal.PurchaseUnitRequest{{
			ReferenceID: c.ID(),
			Items:       items,

			Amount: &paypal.PurchaseUnitAmount{
				Currency:  pay.Currency,
				Value:     pay.Amount.StringFixed(2),
				Breakdown: breakdown,
			},
		}}

		ord, err := pp.CreateOrder(ctx, "CAPTURE", units, nil, &paypal.ApplicationContext{})
		if err != nil {
			return weberr.Wrap(fmt.Errorf("creating paypal order: %w", err), weberr.WithCart(c.ID()))
		}

		rec, err := p.Record(ctx, c, GatewayPaypal, ord.ID, *pay)
		if err != nil {
			return fmt.Errorf("creating the payment on the database: %w", err)
		}

		return respond(ctx, w, c, Response{OK: true, Payment: &rec, Order: ord}, http.StatusOK)
	}
}

// HandlePaypalCapture captures an approved PayPal order and delivers the cart.
func HandlePaypalCapture(p *Provider, pp *paypal.Client) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		ref := web.Param(r, "id")

		pay, err := FetchByProviderRef(ctx, p.db, ref)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return err
		}

		if !claims.IsUser(ctx, pay.UserID) {
			return weberr.Forbidden(fmt.Errorf("payment[%s] belongs to another user", pay.ID))
		}

		if pay.Status == Completed {
			return web.Respond(ctx, w, nil, http.StatusNoContent)
		}

		resp, err := pp.CaptureOrder(ctx, ref, paypal.CaptureOrderRequest{})
		if err != nil {
			return weberr.Wrap(fmt.Errorf("capturing paypal order[%s]: %w", ref, err), weberr.WithPayment(GatewayPaypal, ref))
		}

		if resp.Status != "COMPLETED" {
			return fmt.Errorf("captured order[%s] with status[%s] different from 'COMPLETED'", ref, resp.Status)
		}

		if err := p.Fulfill(ctx, ref); err != nil {
			err = fmt.Errorf("the order was payed but its fulfillment failed: %w", err)
			return weberr.Wrap(err, weberr.WithPayment(GatewayPaypal, ref), weberr.WithCart(pay.CartID))
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}

func cents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// stripeLines lists one line per item. A coupon discount cannot be spread
// over ad hoc prices, so a discounted cart is charged as a single line.
func (p *Provider) stripeLines(ctx context.Context, c *cart.UserCart, pay Payable) []*stripe.CheckoutSessionLineItemParams {
	currency := strings.ToLower(pay.Currency)

	line := func(name string, amount decimal.Decimal) *stripe.CheckoutSessionLineItemParams {
		return &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),

			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				TaxBehavior: stripe.String("inclusive"),
				UnitAmount:  stripe.Int64(cents(amount)),

				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
			},
		}
	}

	if c.Record().CouponDiscount.IsPositive() {
		return []*stripe.CheckoutSessionLineItemParams{line(fmt.Sprintf("Cart %s", c.ID()), pay.Amount)}
	}

	li := make([]*stripe.CheckoutSessionLineItemParams, 0, c.Count())
	for _, it := range c.Items() {
		if !it.Payable.IsPositive() {
			continue
		}
		li = append(li, line(p.itemName(ctx, it), it.Payable))
	}
	return li
}

// HandleStripeCheckout locks the cart and opens a Stripe checkout session.
func HandleStripeCheckout(p *Provider, strp *stripecl.API, cfg config.Stripe) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		c, pay, err := p.start(ctx, w, r)
		if err != nil || pay == nil {
			return err
		}

		params := &stripe.CheckoutSessionParams{
			SuccessURL:        stripe.String(cfg.SuccessURL),
			CancelURL:         stripe.String(cfg.CancelURL),
			Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
			ClientReferenceID: stripe.String(c.ID()),
			LineItems:         p.stripeLines(ctx, c, *pay),
		}

		s, err := strp.CheckoutSessions.New(params)
		if err != nil {
			return weberr.Wrap(fmt.Errorf("creating stripe session: %w", err), weberr.WithCart(c.ID()))
		}

		rec, err := p.Record(ctx, c, GatewayStripe, s.ID, *pay)
		if err != nil {
			return fmt.Errorf("creating the payment on the database: %w", err)
		}

		return respond(ctx, w, c, Response{OK: true, Payment: &rec, URL: s.URL}, http.StatusOK)
	}
}

// HandleStripeWebhook delivers the cart of a completed Stripe checkout session.
func HandleStripeWebhook(p *Provider, cfg config.Stripe) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return weberr.BadRequest(fmt.Errorf("cannot read the request body: %w", err))
		}

		sig := r.Header.Get("Stripe-Signature")
		if sig == "" {
			return weberr.BadRequest(errors.New("received stripe event is not signed"))
		}

		event, err := webhook.ConstructEvent(b, sig, cfg.WebhookSecret)
		if err != nil {
			return weberr.BadRequest(fmt.Errorf("cannot construct stripe event: %w", err))
		}

		if event.Type != "checkout.session.completed" {
			return web.Respond(ctx, w, nil, http.StatusNoContent)
		}

		var session stripe.CheckoutSession
		if err = json.Unmarshal(event.Data.Raw, &session); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode stripe event: %w", err))
		}

		if session.Mode != stripe.CheckoutSessionModePayment {
			return web.Respond(ctx, w, nil, http.StatusNoContent)
		}

		if err := p.Fulfill(ctx, session.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			err = fmt.Errorf("the order was payed but its fulfillment failed: %w", err)
			return weberr.Wrap(err, weberr.WithPayment(GatewayStripe, session.ID))
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}
