package validate

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type couponReq struct {
	Code     string `json:"code" validate:"required,max=16,couponcode"`
	Currency string `json:"currency" validate:"omitempty,currency"`
	CartID   string `json:"cartId" validate:"omitempty,uuid"`
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name   string
		req    couponReq
		fields []string
	}{
		{name: "valid", req: couponReq{Code: "SAVE-10", Currency: "EUR", CartID: GenerateID()}},
		{name: "missing code", req: couponReq{}, fields: []string{"code"}},
		{name: "code with spaces", req: couponReq{Code: "SAVE 10"}, fields: []string{"code"}},
		{name: "lower case currency", req: couponReq{Code: "X", Currency: "usd"}, fields: []string{"currency"}},
		{name: "several fields", req: couponReq{Code: "X!", Currency: "US", CartID: "nope"}, fields: []string{"cartId", "code", "currency"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.req)
			if len(tt.fields) == 0 {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}

			fe, ok := Fields(err)
			if !ok {
				t.Fatalf("expected field errors, got %v", err)
			}

			var got []string
			for _, f := range tt.fields {
				if fe[f] == "" {
					t.Fatalf("expected a message for %q in %v", f, fe)
				}
				got = append(got, f)
			}
			if diff := cmp.Diff(tt.fields, got); diff != "" || len(fe) != len(tt.fields) {
				t.Fatalf("unexpected fields %v", fe)
			}
			if err.Error() != fe[tt.fields[0]] {
				t.Fatalf("expected the first field message, got %q", err.Error())
			}
		})
	}
}

func TestFieldsNotValidation(t *testing.T) {
	if _, ok := Fields(errors.New("boom")); ok {
		t.Fatal("expected no field errors")
	}
}
