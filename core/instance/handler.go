package instance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/irsalhamdi/course-cart/api/web"
	"github.com/irsalhamdi/course-cart/api/weberr"
	"github.com/irsalhamdi/course-cart/core/availability"
	"github.com/irsalhamdi/course-cart/validate"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// View is an instance as shown to buyers.
type View struct {
	Instance
	Price              decimal.Decimal `json:"price"`
	Payable            decimal.Decimal `json:"payable"`
	HasDiscount        bool            `json:"hasDiscount"`
	DiscountPercentage int             `json:"discountPercentage,omitempty"`
}

func NewView(in Instance) View {
	pct, _ := in.DiscountPercentage()
	return View{
		Instance:           in,
		Price:              in.Price(),
		Payable:            in.Payable(),
		HasDiscount:        in.HasDiscount(),
		DiscountPercentage: pct,
	}
}

func HandleListByCourse(cat *Catalog, db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		courseID := web.Param(r, "course_id")
		if err := validate.CheckID(courseID); err != nil {
			return weberr.BadRequest(err)
		}

		ins, err := ListByCourse(ctx, db, courseID)
		if err != nil {
			return fmt.Errorf("fetching instances of course[%s]: %w", courseID, err)
		}

		now := cat.now()
		views := make([]View, 0, len(ins))
		for _, in := range ins {
			if !in.Open(now) {
				continue
			}
			views = append(views, NewView(cat.fill(in)))
		}

		return web.Respond(ctx, w, views, http.StatusOK)
	}
}

func HandleShow(cat *Catalog) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.BadRequest(err)
		}

		in, err := cat.Instance(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnavailable) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("fetching instance[%s]: %w", id, err)
		}

		return web.Respond(ctx, w, NewView(in), http.StatusOK)
	}
}

func HandleCreate(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var nw InstanceNew
		if err := web.Decode(w, r, &nw); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(nw); err != nil {
			return weberr.Invalid(err)
		}

		now := time.Now().UTC()
		in := Instance{
			ID:             validate.GenerateID(),
			CourseID:       nw.CourseID,
			Name:           nw.Name,
			Enabled:        nw.Enabled,
			SortOrder:      nw.SortOrder,
			Cost:           nw.Cost,
			DiscountType:   nw.DiscountType,
			DiscountAmount: nw.DiscountAmount,
			Currency:       nw.Currency,
			EnrolStart:     nw.EnrolStart,
			EnrolEnd:       nw.EnrolEnd,
			EnrolPeriod:    nw.EnrolPeriod,
			Role:           nw.Role,
			Instructions:   nw.Instructions,
			Groups:         nw.Groups,
			Availability:   nw.Availability,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if in.Role == "" {
			in.Role = "student"
		}
		if in.Groups == nil {
			in.Groups = []string{}
		}

		if err := check(in); err != nil {
			return err
		}

		if err := Create(ctx, db, in); err != nil {
			return fmt.Errorf("creating instance: %w", err)
		}

		return web.Respond(ctx, w, in, http.StatusCreated)
	}
}

func HandleUpdate(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.BadRequest(err)
		}

		var up InstanceUp
		if err := web.Decode(w, r, &up); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(up); err != nil {
			return weberr.Invalid(err)
		}

		in, err := Fetch(ctx, db, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("fetching instance[%s]: %w", id, err)
		}

		apply(&in, up)
		in.UpdatedAt = time.Now().UTC()

		if err := check(in); err != nil {
			return err
		}

		if err := Update(ctx, db, in); err != nil {
			return fmt.Errorf("updating instance[%s]: %w", id, err)
		}

		return web.Respond(ctx, w, in, http.StatusOK)
	}
}

func check(in Instance) error {
	if err := CheckPricing(in); err != nil {
		return weberr.Invalid(err)
	}
	if _, err := availability.Parse(in.Availability); err != nil {
		return weberr.Invalid(err)
	}
	return nil
}

func apply(in *Instance, up InstanceUp) {
	if up.Name != nil {
		in.Name = *up.Name
	}
	if up.Enabled != nil {
		in.Enabled = *up.Enabled
	}
	if up.SortOrder != nil {
		in.SortOrder = *up.SortOrder
	}
	if up.Cost != nil {
		in.Cost = *up.Cost
	}
	if up.DiscountType != nil {
		in.DiscountType = *up.DiscountType
	}
	if up.DiscountAmount != nil {
		in.DiscountAmount = *up.DiscountAmount
	}
	if up.Currency != nil {
		in.Currency = *up.Currency
	}
	if up.EnrolStart != nil {
		in.EnrolStart = *up.EnrolStart
	}
	if up.EnrolEnd != nil {
		in.EnrolEnd = *up.EnrolEnd
	}
	if up.EnrolPeriod != nil {
		in.EnrolPeriod = *up.EnrolPeriod
	}
	if up.Role != nil {
		in.Role = *up.Role
	}
	if up.Instructions != nil {
		in.Instructions = *up.Instructions
	}
	if up.Groups != nil {
		in.Groups = *up.Groups
	}
	if up.Availability != nil {
		in.Availability = *up.Availability
	}
}
