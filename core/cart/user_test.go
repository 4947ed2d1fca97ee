package cart

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/irsalhamdi/course-cart/core/coupon"
	"github.com/irsalhamdi/course-cart/core/event"
	"github.com/irsalhamdi/course-cart/core/notify"
	"github.com/irsalhamdi/course-cart/validate"
	"github.com/lib/pq"
)

func TestAddItem(t *testing.T) {
	e := newEnv(t)
	ctx, notices := e.ctx(e.userID)

	in := e.paid("100")
	owned := e.paid("40")
	e.enroller.enrolIn(e.userID, owned.CourseID)
	denied := e.paid("10")
	denied.Availability = "deny"
	e.catalog.add(denied)

	c := e.current(t, ctx)
	if c.ID() != "" {
		t.Fatalf("expected an unsaved cart, got id %q", c.ID())
	}

	mustAdd(t, ctx, c, in.ID)
	if c.ID() == "" {
		t.Fatal("expected the first item to persist the cart")
	}
	if got := c.FinalPayable(); !got.Equal(d("100")) {
		t.Fatalf("expected payable 100, got %s", got)
	}
	if rec := e.store.carts[c.ID()]; !rec.Price.Equal(d("100")) || !rec.Payable.Equal(d("100")) {
		t.Fatalf("expected stored totals of 100, got %s/%s", rec.Price, rec.Payable)
	}

	tests := []struct {
		name       string
		instanceID string
		notice     string
	}{
		{"duplicate", in.ID, msgAlreadyInCart},
		{"unknown", validate.GenerateID(), msgUnavailable},
		{"enrolled", owned.ID, alreadyEnrolled(owned.Name)},
		{"availability", denied.ID, "You do not meet the requirements."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := c.AddItem(ctx, tt.instanceID)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok {
				t.Fatal("expected the item to be rejected")
			}

			list := notices.List()
			if got := list[len(list)-1].Message; got != tt.notice {
				t.Fatalf("expected notice %q, got %q", tt.notice, got)
			}
		})
	}

	if c.Count() != 1 || len(e.store.items) != 1 {
		t.Fatalf("expected a single item, got %d in cart and %d stored", c.Count(), len(e.store.items))
	}
}

func TestSingleCurrentCart(t *testing.T) {
	e := newEnv(t)
	ctx, _ := e.ctx(e.userID)

	a, b := e.paid("10"), e.paid("20")

	first := e.current(t, ctx)
	second := e.current(t, ctx)

	mustAdd(t, ctx, first, a.ID)
	mustAdd(t, ctx, second, b.ID)

	if first.ID() != second.ID() {
		t.Fatalf("expected both handles to share one cart, got %s and %s", first.ID(), second.ID())
	}
	if len(e.store.carts) != 1 {
		t.Fatalf("expected one stored cart, got %d", len(e.store.carts))
	}

	c := e.current(t, ctx)
	if c.Count() != 2 {
		t.Fatalf("expected 2 items, got %d", c.Count())
	}
}

func TestRemoveItem(t *testing.T) {
	e := newEnv(t)
	ctx, _ := e.ctx(e.userID)

	a, b := e.paid("10"), e.paid("20")

	c := e.current(t, ctx)
	mustAdd(t, ctx, c, a.ID)
	mustAdd(t, ctx, c, b.ID)

	ok, err := c.RemoveCourse(ctx, a.CourseID)
	if err != nil || !ok {
		t.Fatalf("removing course: ok=%v err=%v", ok, err)
	}
	if c.HasItem(a.ID) {
		t.Fatal("expected the course item to be removed")
	}

	ok, err = c.RemoveItem(ctx, a.ID)
	if err != nil || ok {
		t.Fatalf("expected removal of a missing item to be rejected: ok=%v err=%v", ok, err)
	}

	if got := e.store.carts[c.ID()].Payable; !got.Equal(d("20")) {
		t.Fatalf("expected stored payable 20, got %s", got)
	}
}

func TestAddCourse(t *testing.T) {
	e := newEnv(t)
	ctx, _ := e.ctx(e.userID)

	in := e.paid("30")
	ok, err := e.current(t, ctx).AddCourse(ctx, in.CourseID)
	if err != nil || !ok {
		t.Fatalf("adding course: ok=%v err=%v", ok, err)
	}

	ok, err = e.current(t, ctx).AddCourse(ctx, validate.GenerateID())
	if err != nil || ok {
		t.Fatalf("expected a course without instances to be rejected: ok=%v err=%v", ok, err)
	}
}

func TestRefresh(t *testing.T) {
	e := newEnv(t)
	ctx, notices := e.ctx(e.userID)

	a, b, gone := e.paid("50"), e.paid("30"), e.paid("20")

	c := e.current(t, ctx)
	for _, id := range []string{a.ID, b.ID, gone.ID} {
		mustAdd(t, ctx, c, id)
	}

	e.catalog.setCost(a.ID, "45")
	e.catalog.disabled[gone.ID] = true
	e.enroller.enrolIn(e.userID, b.CourseID)

	ok, err := c.Refresh(ctx, false)
	if err != nil || !ok {
		t.Fatalf("refreshing: ok=%v err=%v", ok, err)
	}
	if !c.HasChanged() {
		t.Fatal("expected the refresh to report a change")
	}
	if c.Count() != 1 || !c.HasItem(a.ID) {
		t.Fatalf("expected only instance %s to remain, got %d items", a.ID, c.Count())
	}
	if got := c.Items()[0].Price; !got.Equal(d("45")) {
		t.Fatalf("expected item price 45, got %s", got)
	}
	if got := e.store.carts[c.ID()].Payable; !got.Equal(d("45")) {
		t.Fatalf("expected stored payable 45, got %s", got)
	}
	if n := len(notices.List()); n < 2 {
		t.Fatalf("expected notices for removed items, got %d", n)
	}

	items := append([]Item(nil), c.Items()...)
	rec := c.Record()

	ok, err = c.Refresh(ctx, false)
	if err != nil || !ok {
		t.Fatalf("second refresh: ok=%v err=%v", ok, err)
	}
	if c.HasChanged() {
		t.Fatal("expected a second refresh to change nothing")
	}
	if diff := cmp.Diff(items, c.Items(), decimalEqual); diff != "" {
		t.Fatalf("items moved on second refresh (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(rec, c.Record(), decimalEqual); diff != "" {
		t.Fatalf("record moved on second refresh (-want +got):\n%s", diff)
	}
}

func TestCheckoutAndDeliver(t *testing.T) {
	e := newEnv(t)
	ctx, _ := e.ctx(e.userID)

	group := validate.GenerateID()
	in := e.paid("100")
	in.Groups = pq.StringArray{group}
	in.EnrolPeriod = 3600
	e.catalog.add(in)

	c := e.current(t, ctx)

	ok, err := c.Checkout(ctx)
	if err != nil || ok {
		t.Fatalf("expected an empty cart checkout to be rejected: ok=%v err=%v", ok, err)
	}

	mustAdd(t, ctx, c, in.ID)

	ok, err = c.Checkout(ctx)
	if err != nil || !ok {
		t.Fatalf("checking out: ok=%v err=%v", ok, err)
	}

	rec := e.store.carts[c.ID()]
	if rec.Status != StatusCheckout || rec.CheckoutAt == nil || rec.Currency != "USD" {
		t.Fatalf("unexpected checkout record: status=%s checkoutAt=%v currency=%q", rec.Status, rec.CheckoutAt, rec.Currency)
	}
	if c.CanEditItems() {
		t.Fatal("expected a checked out cart to be locked")
	}

	ok, err = c.AddItem(ctx, e.paid("5").ID)
	if err != nil || ok {
		t.Fatalf("expected a locked cart to reject items: ok=%v err=%v", ok, err)
	}

	ok, err = c.Deliver(ctx)
	if err != nil || !ok {
		t.Fatalf("delivering: ok=%v err=%v", ok, err)
	}

	if got := e.store.carts[c.ID()].Status; got != StatusDelivered {
		t.Fatalf("expected delivered, got %s", got)
	}
	en, ok := e.enroller.enrolled[e.userID][in.CourseID]
	if !ok {
		t.Fatal("expected the user to be enrolled")
	}
	if want := e.now.Unix(); en.start != want || en.end != want+3600 {
		t.Fatalf("unexpected enrolment window %d-%d", en.start, en.end)
	}
	if diff := cmp.Diff([]string{e.userID}, e.enroller.groups[group]); diff != "" {
		t.Fatalf("group members mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{event.CartDelivered}, e.events.names()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}

	// Delivered totals no longer follow the catalog.
	e.catalog.setCost(in.ID, "50")
	delivered, err := e.svc.Load(ctx, c.ID())
	if err != nil {
		t.Fatalf("loading delivered cart: %v", err)
	}
	if _, err := delivered.Refresh(ctx, false); err != nil {
		t.Fatalf("refreshing delivered cart: %v", err)
	}
	if !delivered.FinalPrice().Equal(d("100")) || !delivered.FinalPayable().Equal(d("100")) {
		t.Fatalf("expected frozen totals of 100, got %s/%s", delivered.FinalPrice(), delivered.FinalPayable())
	}
	if delivered.Count() != 1 {
		t.Fatalf("expected items to survive delivery, got %d", delivered.Count())
	}
}

func TestCheckoutExpiry(t *testing.T) {
	e := newEnv(t)
	ctx, _ := e.ctx(e.userID)

	c := e.current(t, ctx)
	mustAdd(t, ctx, c, e.paid("10").ID)

	if ok, err := c.Checkout(ctx); err != nil || !ok {
		t.Fatalf("checking out: ok=%v err=%v", ok, err)
	}

	e.now = e.now.Add(10 * time.Minute)
	if c.CanEditItems() || c.IsCheckoutExpired() {
		t.Fatal("expected the cart to stay locked inside the payment window")
	}

	e.now = e.now.Add(6 * time.Minute)
	if !c.IsCheckoutExpired() || !c.CanEditItems() {
		t.Fatal("expected the cart to unlock after the payment window")
	}

	mustAdd(t, ctx, c, e.paid("15").ID)
	if got := c.FinalPayable(); !got.Equal(d("25")) {
		t.Fatalf("expected payable 25, got %s", got)
	}
}

func TestDeliverRollback(t *testing.T) {
	tests := []struct {
		name  string
		fault func(e *env, second string)
	}{
		{"missing instance", func(e *env, second string) { delete(e.catalog.instances, second) }},
		{"enrolment failure", func(e *env, second string) { e.enroller.failOn = second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			ctx, _ := e.ctx(e.userID)

			first, second := e.paid("10"), e.paid("20")

			c := e.current(t, ctx)
			mustAdd(t, ctx, c, first.ID)
			mustAdd(t, ctx, c, second.ID)
			if ok, err := c.Checkout(ctx); err != nil || !ok {
				t.Fatalf("checking out: ok=%v err=%v", ok, err)
			}

			tt.fault(e, second.ID)

			ok, err := c.Deliver(ctx)
			if err == nil || ok {
				t.Fatalf("expected delivery to fail: ok=%v err=%v", ok, err)
			}

			if got := e.store.carts[c.ID()].Status; got != StatusCheckout {
				t.Fatalf("expected the cart to stay in checkout, got %s", got)
			}
			if c.Status() != StatusCheckout {
				t.Fatalf("expected the handle to stay in checkout, got %s", c.Status())
			}
			if len(e.enroller.enrolled[e.userID]) != 0 {
				t.Fatalf("expected no enrolment to survive, got %v", e.enroller.enrolled[e.userID])
			}
			if len(e.events.events) != 0 {
				t.Fatalf("expected no event, got %v", e.events.names())
			}
		})
	}
}

func TestDoubleDelivery(t *testing.T) {
	e := newEnv(t)
	ctx, _ := e.ctx(e.userID)

	in := e.paid("10")
	c := e.current(t, ctx)
	mustAdd(t, ctx, c, in.ID)
	if ok, err := c.Checkout(ctx); err != nil || !ok {
		t.Fatalf("checking out: ok=%v err=%v", ok, err)
	}

	a, err := e.svc.Load(ctx, c.ID())
	if err != nil {
		t.Fatalf("loading cart: %v", err)
	}
	b, err := e.svc.Load(ctx, c.ID())
	if err != nil {
		t.Fatalf("loading cart: %v", err)
	}

	if ok, err := a.Deliver(ctx); err != nil || !ok {
		t.Fatalf("first delivery: ok=%v err=%v", ok, err)
	}

	ok, err := b.Deliver(ctx)
	if ok || !errors.Is(err, ErrStatusChanged) {
		t.Fatalf("expected ErrStatusChanged, got ok=%v err=%v", ok, err)
	}

	if len(e.enroller.enrolled[e.userID]) != 1 {
		t.Fatalf("expected one enrolment, got %d", len(e.enroller.enrolled[e.userID]))
	}
	if diff := cmp.Diff([]string{event.CartDelivered}, e.events.names()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}

	ok, err = a.Deliver(ctx)
	if ok || err != nil {
		t.Fatalf("expected a delivered cart to reject delivery: ok=%v err=%v", ok, err)
	}
}

func TestTerminalStates(t *testing.T) {
	e := newEnv(t)
	ctx, _ := e.ctx(e.userID)

	e.coupons.add(coupon.Coupon{Code: "TEN", Type: coupon.TypeFixed, Amount: d("10")})

	canceled := e.current(t, ctx)
	mustAdd(t, ctx, canceled, e.paid("40").ID)
	if ok, err := canceled.Cancel(ctx); err != nil || !ok {
		t.Fatalf("canceling: ok=%v err=%v", ok, err)
	}

	delivered := e.current(t, ctx)
	mustAdd(t, ctx, delivered, e.paid("0").ID)
	if ok, err := delivered.ProcessFreeItems(ctx); err != nil || !ok {
		t.Fatalf("processing free items: ok=%v err=%v", ok, err)
	}

	other := e.paid("25")
	for _, c := range []*UserCart{canceled, delivered} {
		t.Run(c.Status().String(), func(t *testing.T) {
			status := c.Status()
			items := append([]Item(nil), c.Items()...)

			ops := map[string]func() (bool, error){
				"add":      func() (bool, error) { return c.AddItem(ctx, other.ID) },
				"remove":   func() (bool, error) { return c.RemoveItem(ctx, items[0].InstanceID) },
				"checkout": func() (bool, error) { return c.Checkout(ctx) },
				"cancel":   func() (bool, error) { return c.Cancel(ctx) },
				"coupon":   func() (bool, error) { return c.CouponApply(ctx, "TEN") },
			}
			for name, op := range ops {
				ok, err := op()
				if err != nil || ok {
					t.Fatalf("%s: expected rejection, got ok=%v err=%v", name, ok, err)
				}
			}

			if c.Status() != status || e.store.carts[c.ID()].Status != status {
				t.Fatalf("expected status %s to hold", status)
			}
			if diff := cmp.Diff(items, c.Items(), decimalEqual); diff != "" {
				t.Fatalf("items changed (-want +got):\n%s", diff)
			}
		})
	}

	if diff := cmp.Diff([]string{event.CartCanceled, event.CartDelivered}, e.events.names()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessFreeItems(t *testing.T) {
	e := newEnv(t)
	ctx, notices := e.ctx(e.userID)

	paid, free := e.paid("20"), e.paid("0")

	c := e.current(t, ctx)
	mustAdd(t, ctx, c, paid.ID)
	mustAdd(t, ctx, c, free.ID)

	ok, err := c.ProcessFreeItems(ctx)
	if err != nil || ok {
		t.Fatalf("expected a cart with a payable amount to be refused: ok=%v err=%v", ok, err)
	}
	if c.Status() != StatusCurrent {
		t.Fatalf("expected the cart to stay current, got %s", c.Status())
	}

	if ok, err := c.RemoveItem(ctx, paid.ID); err != nil || !ok {
		t.Fatalf("removing item: ok=%v err=%v", ok, err)
	}

	ok, err = c.ProcessFreeItems(ctx)
	if err != nil || !ok {
		t.Fatalf("processing free items: ok=%v err=%v", ok, err)
	}
	if c.Status() != StatusDelivered {
		t.Fatalf("expected delivered, got %s", c.Status())
	}
	if !e.enroller.isEnrolledInCourse(e.userID, free.CourseID) {
		t.Fatal("expected the user to be enrolled in the free course")
	}

	list := notices.List()
	if got := list[len(list)-1]; got.Level != notify.LevelSuccess || got.Message != msgEnrolSuccess {
		t.Fatalf("expected a success notice, got %+v", got)
	}
}

func TestProcessFreeItemsLockedCart(t *testing.T) {
	e := newEnv(t)
	ctx, _ := e.ctx(e.userID)

	free := e.paid("0")

	c := e.current(t, ctx)
	mustAdd(t, ctx, c, free.ID)

	if ok, err := c.Checkout(ctx); err != nil || !ok {
		t.Fatalf("checking out: ok=%v err=%v", ok, err)
	}
	if c.CanEditItems() {
		t.Fatal("expected the cart to be locked")
	}

	ok, err := c.ProcessFreeItems(ctx)
	if err != nil || !ok {
		t.Fatalf("processing free items of a locked cart: ok=%v err=%v", ok, err)
	}
	if c.Status() != StatusDelivered || e.store.carts[c.ID()].Status != StatusDelivered {
		t.Fatalf("expected delivered, got %s", c.Status())
	}
	if !e.enroller.isEnrolledInCourse(e.userID, free.CourseID) {
		t.Fatal("expected the user to be enrolled in the free course")
	}
}
