package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/irsalhamdi/course-cart/core/claims"
	"github.com/irsalhamdi/course-cart/core/notify"
	"github.com/shopspring/decimal"
)

var ErrGuestDisabled = errors.New("guest cart is disabled")

const msgGuestCheckout = "Log in to complete your purchase."

// Basket is the cart contract shared by signed in and anonymous users.
type Basket interface {
	AddItem(ctx context.Context, instanceID string) (bool, error)
	RemoveItem(ctx context.Context, instanceID string) (bool, error)
	AddCourse(ctx context.Context, courseID string) (bool, error)
	RemoveCourse(ctx context.Context, courseID string) (bool, error)
	Refresh(ctx context.Context, force bool) (bool, error)
	Checkout(ctx context.Context) (bool, error)
	Cancel(ctx context.Context) (bool, error)
	Deliver(ctx context.Context) (bool, error)

	Items() []Item
	HasChanged() bool
	CanEditItems() bool
	FinalCurrency() string
	FinalPrice() decimal.Decimal
	FinalPayable() decimal.Decimal
}

var (
	_ Basket = (*UserCart)(nil)
	_ Basket = (*GuestCart)(nil)
)

// Basket returns the user cart for signed in requests and the guest cart
// carried by token otherwise.
func (s *Service) Basket(ctx context.Context, token string) (Basket, error) {
	if !claims.IsGuest(ctx) {
		return s.Current(ctx)
	}
	return s.Guest(ctx, token)
}

type guestClaims struct {
	Items []string `json:"items"`
	jwt.RegisteredClaims
}

// GuestCart keeps instance ids in a signed token. Its items are rebuilt from
// the catalog on every load and it can never be paid.
type GuestCart struct {
	svc     *Service
	ids     []string
	items   []Item
	changed bool
}

// Guest restores a guest cart from its token. A missing, expired or forged
// token yields an empty cart.
func (s *Service) Guest(ctx context.Context, token string) (*GuestCart, error) {
	if !s.cfg.EnableGuest {
		return nil, ErrGuestDisabled
	}

	g := &GuestCart{svc: s, ids: []string{}, items: []Item{}}
	if token != "" {
		var gc guestClaims
		_, err := jwt.ParseWithClaims(token, &gc, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(s.cfg.GuestSecret), nil
		})
		if err == nil {
			g.ids = dedupe(gc.Items)
		}
	}

	if err := g.load(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// load rebuilds the items and drops ids whose instance is no longer sold.
func (g *GuestCart) load(ctx context.Context) error {
	ids := make([]string, 0, len(g.ids))
	items := make([]Item, 0, len(g.ids))

	for _, id := range g.ids {
		in, err := g.svc.catalog.Instance(ctx, id)
		if err != nil {
			if unavailable(err) {
				g.changed = true
				notify.Info(ctx, msgItemRemoved)
				continue
			}
			return err
		}

		ids = append(ids, id)
		items = append(items, Item{
			ID:         in.ID,
			InstanceID: in.ID,
			CourseID:   in.CourseID,
			Price:      in.Price(),
			Payable:    in.Payable(),
		})
	}

	g.ids = ids
	g.items = items
	return nil
}

// Token signs the current item list.
func (g *GuestCart) Token() (string, time.Time, error) {
	now := g.svc.now()
	exp := now.Add(g.svc.cfg.GuestLifetime)

	gc := guestClaims{
		Items: g.ids,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, gc).SignedString([]byte(g.svc.cfg.GuestSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing guest cart: %w", err)
	}
	return token, exp, nil
}

func (g *GuestCart) InstanceIDs() []string { return g.ids }

func (g *GuestCart) Items() []Item { return g.items }

func (g *GuestCart) IsEmpty() bool { return len(g.ids) == 0 }

func (g *GuestCart) HasChanged() bool { return g.changed }

func (g *GuestCart) CanEditItems() bool { return true }

func (g *GuestCart) FinalCurrency() string { return g.svc.cfg.Currency }

func (g *GuestCart) FinalPrice() decimal.Decimal {
	price, _ := sum(g.items)
	return price
}

func (g *GuestCart) FinalPayable() decimal.Decimal {
	_, payable := sum(g.items)
	return payable
}

func (g *GuestCart) has(instanceID string) bool {
	for _, id := range g.ids {
		if id == instanceID {
			return true
		}
	}
	return false
}

func (g *GuestCart) AddItem(ctx context.Context, instanceID string) (bool, error) {
	if g.has(instanceID) {
		notify.Info(ctx, msgAlreadyInCart)
		return false, nil
	}

	if _, err := g.svc.catalog.Instance(ctx, instanceID); err != nil {
		if unavailable(err) {
			notify.Info(ctx, msgUnavailable)
			return false, nil
		}
		return false, err
	}

	g.ids = append(g.ids, instanceID)
	return g.Refresh(ctx, false)
}

func (g *GuestCart) RemoveItem(ctx context.Context, instanceID string) (bool, error) {
	for i, id := range g.ids {
		if id == instanceID {
			g.ids = append(g.ids[:i:i], g.ids[i+1:]...)
			return g.Refresh(ctx, false)
		}
	}

	notify.Info(ctx, msgNotInCart)
	return false, nil
}

func (g *GuestCart) AddCourse(ctx context.Context, courseID string) (bool, error) {
	id, err := g.svc.catalog.CourseInstance(ctx, courseID)
	if err != nil {
		if unavailable(err) {
			notify.Info(ctx, msgNoCourseInstance)
			return false, nil
		}
		return false, err
	}
	return g.AddItem(ctx, id)
}

func (g *GuestCart) RemoveCourse(ctx context.Context, courseID string) (bool, error) {
	for _, it := range g.items {
		if it.CourseID == courseID {
			return g.RemoveItem(ctx, it.InstanceID)
		}
	}

	notify.Info(ctx, msgNotInCart)
	return false, nil
}

func (g *GuestCart) Refresh(ctx context.Context, force bool) (bool, error) {
	g.changed = false
	if err := g.load(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (g *GuestCart) Checkout(ctx context.Context) (bool, error) {
	notify.Info(ctx, msgGuestCheckout)
	return false, nil
}

func (g *GuestCart) Deliver(ctx context.Context) (bool, error) {
	return false, nil
}

// Cancel empties the cart. The caller rewrites the token.
func (g *GuestCart) Cancel(ctx context.Context) (bool, error) {
	g.ids = []string{}
	g.items = []Item{}
	return true, nil
}

// MoveGuestCart replays the guest items into the acting user's cart through
// the regular add rules and empties the guest cart. It returns the number of
// items moved.
func (s *Service) MoveGuestCart(ctx context.Context, g *GuestCart) (int, error) {
	if g == nil || g.IsEmpty() {
		return 0, nil
	}

	uc, err := s.Current(ctx)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, id := range g.InstanceIDs() {
		ok, err := uc.AddItem(ctx, id)
		if err != nil {
			return moved, fmt.Errorf("moving instance[%s] to cart: %w", id, err)
		}
		if ok {
			moved++
		}
	}

	_, err = g.Cancel(ctx)
	return moved, err
}
