package instance

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPayable(t *testing.T) {
	tests := []struct {
		name    string
		typ     DiscountType
		cost    string
		amount  string
		payable string
		percent int
	}{
		{name: "no discount", typ: NoDiscount, cost: "100", amount: "30", payable: "100"},
		{name: "percentage", typ: Percentage, cost: "100", amount: "20", payable: "80", percent: 20},
		{name: "percentage rounds", typ: Percentage, cost: "9.99", amount: "15", payable: "8.49", percent: 15},
		{name: "percentage full", typ: Percentage, cost: "40", amount: "100", payable: "0", percent: 100},
		{name: "percentage above 100", typ: Percentage, cost: "100", amount: "120", payable: "100"},
		{name: "percentage negative", typ: Percentage, cost: "100", amount: "-5", payable: "100"},
		{name: "percentage fraction", typ: Percentage, cost: "100", amount: "12.5", payable: "100"},
		{name: "fixed", typ: Fixed, cost: "100", amount: "25", payable: "75", percent: 25},
		{name: "fixed equal cost", typ: Fixed, cost: "50", amount: "50", payable: "0", percent: 100},
		{name: "fixed above cost", typ: Fixed, cost: "50", amount: "60", payable: "50"},
		{name: "fixed negative", typ: Fixed, cost: "50", amount: "-10", payable: "50"},
		{name: "fixed odd percent", typ: Fixed, cost: "30", amount: "10", payable: "20", percent: 34},
		{name: "unknown type", typ: DiscountType(7), cost: "50", amount: "10", payable: "50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Instance{Cost: d(tt.cost), DiscountType: tt.typ, DiscountAmount: d(tt.amount)}

			if !in.Payable().Equal(d(tt.payable)) {
				t.Fatalf("expected payable %s, got %s", tt.payable, in.Payable())
			}
			if !in.Price().Equal(d(tt.cost)) {
				t.Fatalf("expected price %s, got %s", tt.cost, in.Price())
			}
			if in.Payable().IsNegative() || in.Payable().GreaterThan(in.Price()) {
				t.Fatalf("payable %s outside [0, %s]", in.Payable(), in.Price())
			}

			pct, ok := in.DiscountPercentage()
			if ok != (tt.percent != 0) || pct != tt.percent {
				t.Fatalf("expected discount percentage %d, got %d (%v)", tt.percent, pct, ok)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	now := time.Unix(1000, 0)

	tests := []struct {
		start, end int64
		exp        bool
	}{
		{0, 0, true},
		{999, 0, true},
		{1000, 0, false},
		{0, 1001, true},
		{0, 1000, false},
		{500, 2000, true},
	}

	for _, tt := range tests {
		in := Instance{EnrolStart: tt.start, EnrolEnd: tt.end}
		if got := in.Open(now); got != tt.exp {
			t.Fatalf("window [%d, %d]: expected %v, got %v", tt.start, tt.end, tt.exp, got)
		}
	}
}

func TestWindow(t *testing.T) {
	now := time.Unix(1000, 0)

	if s, e := (Instance{}).Window(now); s != 0 || e != 0 {
		t.Fatalf("expected unbounded window, got [%d, %d]", s, e)
	}

	s, e := Instance{EnrolPeriod: 3600}.Window(now)
	if s != 1000 || e != 4600 {
		t.Fatalf("expected [1000, 4600], got [%d, %d]", s, e)
	}
}

func TestCheckPricing(t *testing.T) {
	tests := []struct {
		name string
		in   Instance
		exp  error
	}{
		{name: "ok", in: Instance{Cost: d("10"), DiscountType: Fixed, DiscountAmount: d("5")}},
		{name: "end before start", in: Instance{EnrolStart: 10, EnrolEnd: 5}, exp: ErrEnrolEnd},
		{name: "negative cost", in: Instance{Cost: d("-1")}, exp: ErrCost},
		{name: "bad type", in: Instance{Cost: d("1"), DiscountType: 9}, exp: ErrDiscountType},
		{name: "fixed higher", in: Instance{Cost: d("10"), DiscountType: Fixed, DiscountAmount: d("11")}, exp: ErrDiscountHigher},
		{name: "fixed negative", in: Instance{Cost: d("10"), DiscountType: Fixed, DiscountAmount: d("-1")}, exp: ErrDiscountAmount},
		{name: "percent fraction", in: Instance{Cost: d("10"), DiscountType: Percentage, DiscountAmount: d("2.5")}, exp: ErrDiscountPercentRange},
		{name: "percent high", in: Instance{Cost: d("10"), DiscountType: Percentage, DiscountAmount: d("101")}, exp: ErrDiscountPercentRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := CheckPricing(tt.in); err != tt.exp {
				t.Fatalf("expected %v, got %v", tt.exp, err)
			}
		})
	}
}
