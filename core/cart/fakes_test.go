package cart

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/irsalhamdi/course-cart/core/claims"
	"github.com/irsalhamdi/course-cart/core/coupon"
	"github.com/irsalhamdi/course-cart/core/event"
	"github.com/irsalhamdi/course-cart/core/instance"
	"github.com/irsalhamdi/course-cart/core/notify"
	"github.com/irsalhamdi/course-cart/validate"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// txParticipant takes part in memStore transactions. snapshot returns a
// function restoring the state at the time of the call.
type txParticipant interface {
	snapshot() func()
}

type memStore struct {
	carts        map[string]Cart
	items        []Item
	participants []txParticipant
	inTx         bool
}

func newMemStore() *memStore {
	return &memStore{carts: map[string]Cart{}}
}

func (s *memStore) snapshot() func() {
	carts := make(map[string]Cart, len(s.carts))
	for k, v := range s.carts {
		carts[k] = v
	}
	items := append([]Item(nil), s.items...)

	return func() {
		s.carts = carts
		s.items = items
	}
}

func (s *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx {
		return fn(ctx)
	}

	restores := []func(){s.snapshot()}
	for _, p := range s.participants {
		restores = append(restores, p.snapshot())
	}

	s.inTx = true
	err := fn(ctx)
	s.inTx = false

	if err != nil {
		for _, r := range restores {
			r()
		}
	}
	return err
}

func (s *memStore) Current(ctx context.Context, userID string) (Cart, error) {
	for _, c := range s.carts {
		if c.UserID == userID && c.Status == StatusCurrent {
			return c, nil
		}
	}
	return Cart{}, ErrNotFound
}

func (s *memStore) Fetch(ctx context.Context, id string) (Cart, error) {
	c, ok := s.carts[id]
	if !ok {
		return Cart{}, ErrNotFound
	}
	return c, nil
}

func (s *memStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Cart, error) {
	cs := []Cart{}
	for _, c := range s.carts {
		if c.UserID == userID {
			cs = append(cs, c)
		}
	}
	if offset >= len(cs) {
		return []Cart{}, nil
	}
	cs = cs[offset:]
	if len(cs) > limit {
		cs = cs[:limit]
	}
	return cs, nil
}

func (s *memStore) CountByUser(ctx context.Context, userID string) (int, error) {
	n := 0
	for _, c := range s.carts {
		if c.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) Create(ctx context.Context, c Cart) error {
	if c.Status == StatusCurrent {
		if _, err := s.Current(ctx, c.UserID); err == nil {
			return ErrExists
		}
	}
	s.carts[c.ID] = c
	return nil
}

func (s *memStore) Update(ctx context.Context, c Cart) error {
	if _, ok := s.carts[c.ID]; !ok {
		return ErrNotFound
	}
	s.carts[c.ID] = c
	return nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	delete(s.carts, id)
	return s.DeleteItems(ctx, id)
}

func (s *memStore) Transition(ctx context.Context, id string, from, to Status, at time.Time, by string) (bool, error) {
	c, ok := s.carts[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = at
	c.UpdatedBy = by
	s.carts[id] = c
	return true, nil
}

func (s *memStore) Canceled(ctx context.Context, before time.Time) ([]Cart, error) {
	cs := []Cart{}
	for _, c := range s.carts {
		if c.Status == StatusCanceled && c.UpdatedAt.Before(before) {
			cs = append(cs, c)
		}
	}
	return cs, nil
}

func (s *memStore) PendingPayment(ctx context.Context, before time.Time) ([]Cart, error) {
	cs := []Cart{}
	for _, c := range s.carts {
		if c.Status == StatusCheckout && c.CheckoutAt != nil && c.CheckoutAt.Before(before) {
			cs = append(cs, c)
		}
	}
	return cs, nil
}

func (s *memStore) Items(ctx context.Context, cartID string) ([]Item, error) {
	items := []Item{}
	for _, it := range s.items {
		if it.CartID == cartID {
			items = append(items, it)
		}
	}
	return items, nil
}

func (s *memStore) CreateItem(ctx context.Context, it Item) (bool, error) {
	for _, x := range s.items {
		if x.CartID == it.CartID && x.InstanceID == it.InstanceID {
			return false, nil
		}
	}
	s.items = append(s.items, it)
	return true, nil
}

func (s *memStore) UpdateItemPrice(ctx context.Context, itemID string, price, payable decimal.Decimal) error {
	for i := range s.items {
		if s.items[i].ID == itemID {
			s.items[i].Price = price
			s.items[i].Payable = payable
		}
	}
	return nil
}

func (s *memStore) DeleteItem(ctx context.Context, itemID string) error {
	kept := s.items[:0:0]
	for _, it := range s.items {
		if it.ID != itemID {
			kept = append(kept, it)
		}
	}
	s.items = kept
	return nil
}

func (s *memStore) DeleteItems(ctx context.Context, cartID string) error {
	kept := s.items[:0:0]
	for _, it := range s.items {
		if it.CartID != cartID {
			kept = append(kept, it)
		}
	}
	s.items = kept
	return nil
}

type fakeCatalog struct {
	instances map[string]instance.Instance
	order     []string
	disabled  map[string]bool
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{instances: map[string]instance.Instance{}, disabled: map[string]bool{}}
}

func (c *fakeCatalog) add(in instance.Instance) instance.Instance {
	if in.ID == "" {
		in.ID = validate.GenerateID()
	}
	if in.CourseID == "" {
		in.CourseID = validate.GenerateID()
	}
	if in.Name == "" {
		in.Name = "Course " + in.ID[:8]
	}
	in.Enabled = true
	if _, ok := c.instances[in.ID]; !ok {
		c.order = append(c.order, in.ID)
	}
	c.instances[in.ID] = in
	return in
}

func (c *fakeCatalog) setCost(id string, cost string) {
	in := c.instances[id]
	in.Cost = d(cost)
	c.instances[id] = in
}

func (c *fakeCatalog) Instance(ctx context.Context, id string) (instance.Instance, error) {
	in, ok := c.instances[id]
	if !ok {
		return instance.Instance{}, instance.ErrNotFound
	}
	if c.disabled[id] {
		return instance.Instance{}, fmt.Errorf("instance[%s]: %w", id, instance.ErrUnavailable)
	}
	return in, nil
}

func (c *fakeCatalog) Lookup(ctx context.Context, id string) (instance.Instance, error) {
	in, ok := c.instances[id]
	if !ok {
		return instance.Instance{}, instance.ErrNotFound
	}
	return in, nil
}

func (c *fakeCatalog) CourseInstance(ctx context.Context, courseID string) (string, error) {
	for _, id := range c.order {
		in, ok := c.instances[id]
		if ok && in.CourseID == courseID && !c.disabled[id] {
			return id, nil
		}
	}
	return "", instance.ErrNotFound
}

type enrolment struct {
	instanceID string
	start, end int64
}

type fakeEnroller struct {
	catalog  *fakeCatalog
	enrolled map[string]map[string]enrolment
	groups   map[string][]string
	failOn   string
}

func newFakeEnroller(cat *fakeCatalog) *fakeEnroller {
	return &fakeEnroller{
		catalog:  cat,
		enrolled: map[string]map[string]enrolment{},
		groups:   map[string][]string{},
	}
}

func (e *fakeEnroller) snapshot() func() {
	enrolled := make(map[string]map[string]enrolment, len(e.enrolled))
	for u, m := range e.enrolled {
		cp := make(map[string]enrolment, len(m))
		for k, v := range m {
			cp[k] = v
		}
		enrolled[u] = cp
	}
	groups := make(map[string][]string, len(e.groups))
	for g, us := range e.groups {
		groups[g] = append([]string(nil), us...)
	}

	return func() {
		e.enrolled = enrolled
		e.groups = groups
	}
}

func (e *fakeEnroller) enrolIn(userID, courseID string) {
	if e.enrolled[userID] == nil {
		e.enrolled[userID] = map[string]enrolment{}
	}
	e.enrolled[userID][courseID] = enrolment{}
}

func (e *fakeEnroller) isEnrolledInCourse(userID, courseID string) bool {
	_, ok := e.enrolled[userID][courseID]
	return ok
}

func (e *fakeEnroller) IsEnrolled(ctx context.Context, instanceID, userID string) (bool, error) {
	in, ok := e.catalog.instances[instanceID]
	if !ok {
		return false, nil
	}
	return e.isEnrolledInCourse(userID, in.CourseID), nil
}

func (e *fakeEnroller) Enrol(ctx context.Context, in instance.Instance, userID string, start, end int64) error {
	if in.ID == e.failOn {
		return fmt.Errorf("enrolment of instance[%s] failed", in.ID)
	}
	if e.enrolled[userID] == nil {
		e.enrolled[userID] = map[string]enrolment{}
	}
	e.enrolled[userID][in.CourseID] = enrolment{instanceID: in.ID, start: start, end: end}
	return nil
}

func (e *fakeEnroller) AddToGroup(ctx context.Context, groupID, userID string) error {
	e.groups[groupID] = append(e.groups[groupID], userID)
	return nil
}

type fakeAvailability struct {
	deny map[string]string
}

func (a fakeAvailability) IsAvailable(ctx context.Context, rule string, userID string) (bool, string, error) {
	if reason, ok := a.deny[rule]; ok {
		return false, reason, nil
	}
	return true, "", nil
}

type usage struct {
	couponID string
	cartID   string
	userID   string
}

// fakeCoupons evaluates coupons with the reference rules and keeps usages in memory.
type fakeCoupons struct {
	coupons    map[string]coupon.Coupon
	usages     map[string]usage
	cancelFail bool
	now        func() time.Time
}

func newFakeCoupons() *fakeCoupons {
	return &fakeCoupons{
		coupons: map[string]coupon.Coupon{},
		usages:  map[string]usage{},
		now:     time.Now,
	}
}

func (f *fakeCoupons) snapshot() func() {
	usages := make(map[string]usage, len(f.usages))
	for k, v := range f.usages {
		usages[k] = v
	}
	return func() { f.usages = usages }
}

func (f *fakeCoupons) add(c coupon.Coupon) coupon.Coupon {
	c.ID = validate.GenerateID()
	c.Active = true
	f.coupons[c.ID] = c
	return c
}

func (f *fakeCoupons) Enabled() bool { return true }

func (f *fakeCoupons) CouponID(ctx context.Context, code string) (string, error) {
	for _, c := range f.coupons {
		if c.Code == code {
			return c.ID, nil
		}
	}
	return "", coupon.ErrNotFound
}

func (f *fakeCoupons) Validate(ctx context.Context, cart coupon.CartView, couponID string) (coupon.Result, error) {
	c, ok := f.coupons[couponID]
	if !ok {
		return coupon.Failure(coupon.ErrCodeNotFound, "Coupon not found."), nil
	}

	var total, mine int
	for _, u := range f.usages {
		if u.couponID != couponID || u.cartID == cart.CartID {
			continue
		}
		total++
		if u.userID == cart.UserID {
			mine++
		}
	}
	return coupon.Evaluate(c, cart, total, mine, f.now()), nil
}

func (f *fakeCoupons) Apply(ctx context.Context, cart coupon.CartView, couponID string) (coupon.Result, error) {
	res, err := f.Validate(ctx, cart, couponID)
	if err != nil || !res.OK {
		return res, err
	}
	res.UsageID = validate.GenerateID()
	f.usages[res.UsageID] = usage{couponID: couponID, cartID: cart.CartID, userID: cart.UserID}
	return res, nil
}

func (f *fakeCoupons) Cancel(ctx context.Context, cart coupon.CartView) (coupon.Result, error) {
	if cart.CouponUsageID == "" {
		return coupon.Failure(coupon.ErrCodeNotApplied, "No coupon is applied to this cart."), nil
	}
	if _, ok := f.usages[cart.CouponUsageID]; !ok || f.cancelFail {
		return coupon.Failure(coupon.ErrCodeCancelFailed, "Failed to cancel the applied coupon."), nil
	}
	delete(f.usages, cart.CouponUsageID)
	return coupon.Result{OK: true, CouponID: cart.CouponID, CouponCode: cart.CouponCode}, nil
}

type recorder struct {
	events []event.Event
}

func (r *recorder) Publish(ctx context.Context, e event.Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) names() []string {
	names := make([]string, 0, len(r.events))
	for _, e := range r.events {
		names = append(names, e.Name)
	}
	return names
}

type env struct {
	svc      *Service
	store    *memStore
	catalog  *fakeCatalog
	enroller *fakeEnroller
	coupons  *fakeCoupons
	events   *recorder
	log      *test.Hook
	now      time.Time
	userID   string
}

func newEnv(t *testing.T) *env {
	t.Helper()

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	e := &env{
		store:   newMemStore(),
		catalog: newFakeCatalog(),
		coupons: newFakeCoupons(),
		events:  &recorder{},
		log:     hook,
		// guest tokens are verified against the wall clock
		now:     time.Now().UTC().Truncate(time.Second),
		userID:  validate.GenerateID(),
	}
	e.enroller = newFakeEnroller(e.catalog)
	e.store.participants = []txParticipant{e.enroller, e.coupons}

	e.svc = NewService(Config{
		Currency:              "USD",
		PaymentCompletionTime: 15 * time.Minute,
		EnableGuest:           true,
		GuestSecret:           "test-secret",
		GuestLifetime:         24 * time.Hour,
	}, Deps{
		Store:        e.store,
		Catalog:      e.catalog,
		Enroller:     e.enroller,
		Availability: fakeAvailability{deny: map[string]string{"deny": "You do not meet the requirements."}},
		Coupons:      e.coupons,
		Events:       e.events,
		Log:          log,
	})
	e.svc.now = func() time.Time { return e.now }
	e.coupons.now = e.svc.now

	return e
}

// ctx returns a request context for the user with a notice collector.
func (e *env) ctx(userID string) (context.Context, *notify.Notices) {
	ctx := context.Background()
	if userID != "" {
		ctx = claims.Set(ctx, claims.Claims{UserID: userID, Role: claims.RoleUser})
	}
	return notify.New(ctx)
}

func (e *env) current(t *testing.T, ctx context.Context) *UserCart {
	t.Helper()

	c, err := e.svc.Current(ctx)
	if err != nil {
		t.Fatalf("loading current cart: %v", err)
	}
	return c
}

func (e *env) paid(cost string) instance.Instance {
	return e.catalog.add(instance.Instance{Cost: d(cost), Role: "student"})
}

func mustAdd(t *testing.T, ctx context.Context, c Basket, instanceID string) {
	t.Helper()

	ok, err := c.AddItem(ctx, instanceID)
	if err != nil {
		t.Fatalf("adding instance[%s]: %v", instanceID, err)
	}
	if !ok {
		t.Fatalf("instance[%s] was not added", instanceID)
	}
}
