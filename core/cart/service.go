package cart

import (
	"context"
	"errors"
	"time"

	"github.com/irsalhamdi/course-cart/core/claims"
	"github.com/irsalhamdi/course-cart/core/coupon"
	"github.com/irsalhamdi/course-cart/core/event"
	"github.com/irsalhamdi/course-cart/core/instance"
	"github.com/irsalhamdi/course-cart/database"
	"github.com/sirupsen/logrus"
)

// Catalog resolves enrolment instances.
type Catalog interface {
	// Instance returns an enabled instance open for enrolment.
	Instance(ctx context.Context, id string) (instance.Instance, error)
	// Lookup returns the instance whatever its status.
	Lookup(ctx context.Context, id string) (instance.Instance, error)
	CourseInstance(ctx context.Context, courseID string) (string, error)
}

type Enroller interface {
	IsEnrolled(ctx context.Context, instanceID, userID string) (bool, error)
	Enrol(ctx context.Context, in instance.Instance, userID string, start, end int64) error
	AddToGroup(ctx context.Context, groupID, userID string) error
}

type Availability interface {
	IsAvailable(ctx context.Context, rule string, userID string) (bool, string, error)
}

type Config struct {
	Currency              string
	PaymentCompletionTime time.Duration
	EnableGuest           bool
	GuestSecret           string
	GuestLifetime         time.Duration
}

type Deps struct {
	Store        Store
	Catalog      Catalog
	Enroller     Enroller
	Availability Availability
	Coupons      coupon.Provider
	Events       event.Publisher
	Log          logrus.FieldLogger
}

// Service loads carts on behalf of the acting user found in the context.
type Service struct {
	store    Store
	catalog  Catalog
	enroller Enroller
	avail    Availability
	coupons  coupon.Provider
	events   event.Publisher
	log      logrus.FieldLogger
	cfg      Config
	now      func() time.Time
}

func NewService(cfg Config, deps Deps) *Service {
	coupons := deps.Coupons
	if coupons == nil {
		coupons = coupon.Disabled{}
	}

	return &Service{
		store:    deps.Store,
		catalog:  deps.Catalog,
		enroller: deps.Enroller,
		avail:    deps.Availability,
		coupons:  coupons,
		events:   deps.Events,
		log:      deps.Log,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) Coupons() coupon.Provider {
	return s.coupons
}

// Current returns the acting user's current cart. A user without one gets an
// unsaved cart that is persisted by the first added item.
func (s *Service) Current(ctx context.Context) (*UserCart, error) {
	actor := claims.UserID(ctx)
	if actor == "" {
		return nil, claims.ErrMissing
	}

	rec, err := s.store.Current(ctx, actor)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		rec = Cart{UserID: actor, Status: StatusCurrent}
	}

	return s.open(ctx, rec, actor)
}

// Load returns any cart by id. The acting user in the context decides the
// edit rights.
func (s *Service) Load(ctx context.Context, id string) (*UserCart, error) {
	rec, err := s.store.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	return s.open(ctx, rec, claims.UserID(ctx))
}

func (s *Service) ListByUser(ctx context.Context, userID string, page, perPage int) ([]Cart, int, error) {
	if perPage <= 0 {
		perPage = 20
	}
	if page < 0 {
		page = 0
	}

	cs, err := s.store.ListByUser(ctx, userID, perPage, page*perPage)
	if err != nil {
		return nil, 0, err
	}

	n, err := s.store.CountByUser(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	return cs, n, nil
}

func (s *Service) open(ctx context.Context, rec Cart, actor string) (*UserCart, error) {
	c := &UserCart{svc: s, rec: rec, actor: actor, items: []Item{}}
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) publish(ctx context.Context, name string, c Cart, other map[string]any) {
	if s.events == nil {
		return
	}

	e := event.Event{
		Name:     name,
		ObjectID: c.ID,
		UserID:   c.UserID,
		Time:     s.now().UTC(),
		Other:    other,
	}

	// Events of a cart changed inside a caller's transaction wait for its
	// commit.
	database.AfterCommit(ctx, func() {
		if err := s.events.Publish(ctx, e); err != nil {
			s.log.WithFields(logrus.Fields{
				"event":   name,
				"cart_id": c.ID,
				"message": err,
			}).Warn("publishing cart event")
		}
	})
}

// Snapshot is the audit payload of cart events.
func Snapshot(c Cart) map[string]any {
	var checkoutAt any
	if c.CheckoutAt != nil {
		checkoutAt = c.CheckoutAt.Unix()
	}

	return map[string]any{
		"status":                 int(c.Status),
		"currency":               c.Currency,
		"price":                  c.Price.String(),
		"payable":                c.Payable.String(),
		"coupon_id":              c.CouponID,
		"coupon_code":            c.CouponCode,
		"coupon_usage_id":        c.CouponUsageID,
		"coupon_discount_amount": c.CouponDiscount.String(),
		"checkout_at":            checkoutAt,
		"created_at":             c.CreatedAt.Unix(),
		"updated_at":             c.UpdatedAt.Unix(),
	}
}

func unavailable(err error) bool {
	return errors.Is(err, instance.ErrNotFound) || errors.Is(err, instance.ErrUnavailable)
}
