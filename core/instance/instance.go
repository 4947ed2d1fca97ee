package instance

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type DiscountType int

const (
	NoDiscount DiscountType = 0
	Percentage DiscountType = 1
	Fixed      DiscountType = 2
)

func (t DiscountType) Valid() bool {
	return t == NoDiscount || t == Percentage || t == Fixed
}

func (t DiscountType) String() string {
	switch t {
	case NoDiscount:
		return "none"
	case Percentage:
		return "percentage"
	case Fixed:
		return "fixed"
	}
	return "unknown"
}

// Instance is a paid enrolment option of a course.
type Instance struct {
	ID             string          `json:"id" db:"instance_id"`
	CourseID       string          `json:"courseId" db:"course_id"`
	Name           string          `json:"name" db:"name"`
	Enabled        bool            `json:"enabled" db:"enabled"`
	SortOrder      int             `json:"sortOrder" db:"sort_order"`
	Cost           decimal.Decimal `json:"cost" db:"cost"`
	DiscountType   DiscountType    `json:"discountType" db:"discount_type"`
	DiscountAmount decimal.Decimal `json:"discountAmount" db:"discount_amount"`
	Currency       string          `json:"currency" db:"currency"`
	EnrolStart     int64           `json:"enrolStart" db:"enrol_start"`
	EnrolEnd       int64           `json:"enrolEnd" db:"enrol_end"`
	EnrolPeriod    int64           `json:"enrolPeriod" db:"enrol_period"`
	Role           string          `json:"role" db:"role"`
	Instructions   string          `json:"instructions" db:"instructions"`
	Groups         pq.StringArray  `json:"groups" db:"groups"`
	Availability   string          `json:"availability" db:"availability"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time       `json:"updatedAt" db:"updated_at"`
}

// Open reports whether now falls inside the enrolment window. Zero bounds are open.
func (i Instance) Open(now time.Time) bool {
	ts := now.Unix()
	if i.EnrolStart != 0 && i.EnrolStart >= ts {
		return false
	}
	if i.EnrolEnd != 0 && i.EnrolEnd <= ts {
		return false
	}
	return true
}

func (i Instance) GroupIDs() []string {
	ids := make([]string, 0, len(i.Groups))
	for _, g := range i.Groups {
		if g != "" {
			ids = append(ids, g)
		}
	}
	return ids
}

// Window returns the enrolment time range granted on delivery.
func (i Instance) Window(now time.Time) (start, end int64) {
	if i.EnrolPeriod <= 0 {
		return 0, 0
	}
	start = now.Unix()
	return start, start + i.EnrolPeriod
}

type InstanceNew struct {
	CourseID       string          `json:"courseId" validate:"required,uuid"`
	Name           string          `json:"name" validate:"required"`
	Enabled        bool            `json:"enabled"`
	SortOrder      int             `json:"sortOrder" validate:"gte=0"`
	Cost           decimal.Decimal `json:"cost"`
	DiscountType   DiscountType    `json:"discountType" validate:"gte=0,lte=2"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	Currency       string          `json:"currency" validate:"omitempty,currency"`
	EnrolStart     int64           `json:"enrolStart" validate:"gte=0"`
	EnrolEnd       int64           `json:"enrolEnd" validate:"gte=0"`
	EnrolPeriod    int64           `json:"enrolPeriod" validate:"gte=0"`
	Role           string          `json:"role"`
	Instructions   string          `json:"instructions"`
	Groups         []string        `json:"groups" validate:"dive,uuid"`
	Availability   string          `json:"availability"`
}

type InstanceUp struct {
	Name           *string          `json:"name"`
	Enabled        *bool            `json:"enabled"`
	SortOrder      *int             `json:"sortOrder" validate:"omitempty,gte=0"`
	Cost           *decimal.Decimal `json:"cost"`
	DiscountType   *DiscountType    `json:"discountType" validate:"omitempty,gte=0,lte=2"`
	DiscountAmount *decimal.Decimal `json:"discountAmount"`
	Currency       *string          `json:"currency" validate:"omitempty,currency"`
	EnrolStart     *int64           `json:"enrolStart" validate:"omitempty,gte=0"`
	EnrolEnd       *int64           `json:"enrolEnd" validate:"omitempty,gte=0"`
	EnrolPeriod    *int64           `json:"enrolPeriod" validate:"omitempty,gte=0"`
	Role           *string          `json:"role"`
	Instructions   *string          `json:"instructions"`
	Groups         *[]string        `json:"groups"`
	Availability   *string          `json:"availability"`
}
