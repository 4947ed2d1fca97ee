package test

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/irsalhamdi/course-cart/api/web"
	"github.com/irsalhamdi/course-cart/validate"
	"github.com/plutov/paypal/v4"
	mock "github.com/stripe/stripe-mock/param"
)

// mockPaypal accepts orders whose single purchase unit matches the expected
// item count and total.
type mockPaypal struct {
	mu            sync.Mutex
	expectedItems int
	expectedTotal string
	discount      string
}

func (m *mockPaypal) expect(items int, total, discount string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expectedItems = items
	m.expectedTotal = total
	m.discount = discount
}

func (m *mockPaypal) handle() http.Handler {
	token := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := map[string]any{
			"access_token": "paypal-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
		web.Respond(context.Background(), w, tok, 200)
	})

	checkout := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()

		var pu struct {
			Units []paypal.PurchaseUnitRequest `json:"purchase_units"`
		}
		if err := json.NewDecoder(r.Body).Decode(&pu); err != nil {
			web.Respond(context.Background(), w, nil, 400)
			return
		}

		if len(pu.Units) != 1 || len(pu.Units[0].Items) != m.expectedItems {
			web.Respond(context.Background(), w, nil, 400)
			return
		}

		amount := pu.Units[0].Amount
		if amount == nil || amount.Value != m.expectedTotal {
			web.Respond(context.Background(), w, nil, 400)
			return
		}

		if m.discount != "" {
			if amount.Breakdown == nil || amount.Breakdown.Discount == nil || amount.Breakdown.Discount.Value != m.discount {
				web.Respond(context.Background(), w, nil, 400)
				return
			}
		}

		ord := paypal.Order{ID: "paypal-" + validate.GenerateID(), Status: "CREATED"}
		web.Respond(context.Background(), w, ord, 200)
	})

	capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ord := paypal.Order{ID: mux.Vars(r)["id"], Status: "COMPLETED"}
		web.Respond(context.Background(), w, ord, 200)
	})

	r := mux.NewRouter()
	r.Handle("/v1/oauth2/token", token).Methods("POST")
	r.Handle("/v2/checkout/orders", checkout).Methods("POST")
	r.Handle("/v2/checkout/orders/{id}/capture", capture).Methods("POST")
	return r
}

// mockStripe accepts checkout sessions whose lines match the expected count
// and total in cents.
type mockStripe struct {
	mu            sync.Mutex
	expectedLines int
	expectedTotal int64
}

func (m *mockStripe) expect(lines int, cents int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expectedLines = lines
	m.expectedTotal = cents
}

func (m *mockStripe) handle() http.Handler {
	checkout := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()

		params, err := mock.ParseParams(r)
		if err != nil {
			web.Respond(context.Background(), w, nil, 400)
			return
		}

		lines, ok := params["line_items"].(map[string]any)
		if !ok {
			web.Respond(context.Background(), w, nil, 400)
			return
		}

		var n int
		var tot int64
		for _, li := range lines {
			it := li.(map[string]any)

			if it["quantity"] != "1" {
				web.Respond(context.Background(), w, nil, 400)
				return
			}

			pd := it["price_data"].(map[string]any)
			amount, err := strconv.ParseInt(pd["unit_amount"].(string), 10, 64)
			if err != nil {
				web.Respond(context.Background(), w, err, 400)
				return
			}

			tot += amount
			n++
		}

		if n != m.expectedLines || tot != m.expectedTotal {
			web.Respond(context.Background(), w, nil, 400)
			return
		}

		id := "cs_test_" + validate.GenerateID()
		sess := map[string]any{
			"id":     id,
			"object": "checkout.session",
			"mode":   "payment",
			"url":    "https://checkout.stripe.test/" + id,
		}
		web.Respond(context.Background(), w, sess, 200)
	})

	r := mux.NewRouter()
	r.Handle("/v1/checkout/sessions", checkout).Methods("POST")
	return r
}
