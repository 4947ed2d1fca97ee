package instance

import (
	"context"
	"fmt"
	"time"

	"github.com/irsalhamdi/course-cart/database"
	"github.com/jmoiron/sqlx"
)

// Catalog is the read side of enrolment instances used by the cart.
type Catalog struct {
	db       *sqlx.DB
	currency string
	now      func() time.Time
}

func NewCatalog(db *sqlx.DB, currency string) *Catalog {
	return &Catalog{
		db:       db,
		currency: currency,
		now:      time.Now,
	}
}

// Instance returns an enabled instance open for enrolment.
func (c *Catalog) Instance(ctx context.Context, id string) (Instance, error) {
	in, err := FetchEnabled(ctx, database.Ext(ctx, c.db), id)
	if err != nil {
		return Instance{}, err
	}

	if !in.Open(c.now()) {
		return Instance{}, fmt.Errorf("instance[%s]: %w", id, ErrUnavailable)
	}

	return c.fill(in), nil
}

// Lookup returns the instance regardless of its status or window.
func (c *Catalog) Lookup(ctx context.Context, id string) (Instance, error) {
	in, err := Fetch(ctx, database.Ext(ctx, c.db), id)
	if err != nil {
		return Instance{}, err
	}
	return c.fill(in), nil
}

func (c *Catalog) CourseInstance(ctx context.Context, courseID string) (string, error) {
	return FirstByCourse(ctx, database.Ext(ctx, c.db), courseID)
}

func (c *Catalog) fill(in Instance) Instance {
	if in.Currency == "" {
		in.Currency = c.currency
	}
	return in
}
