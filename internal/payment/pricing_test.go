package payment

import (
	"errors"
	"testing"

	"marketplace-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

func strPtr(s string) *string { return &s }

func TestApplyCoupon(t *testing.T) {
	coupons := map[string]models.Coupon{
		"HALF":    {Code: "HALF", Kind: models.CouponPercent, Value: decimal.NewFromInt(50)},
		"THIRD":   {Code: "THIRD", Kind: models.CouponPercent, Value: decimal.RequireFromString("33.55")},
		"TENOFF":  {Code: "TENOFF", Kind: models.CouponFixed, Value: decimal.NewFromInt(1000)},
		"COURSE1": {Code: "COURSE1", Kind: models.CouponPercent, Value: decimal.NewFromInt(100), ContentIds: []string{"c1"}},
	}

	tests := []struct {
		name      string
		code      string
		price     int64
		contentId *string
		want      int64
		wantErr   error
	}{
		{"no coupon", "", 5000, nil, 5000, nil},
		{"percent", "half", 5001, nil, 2501, nil},
		{"fractional percent rounds half up", "THIRD", 1000, nil, 665, nil},
		{"fixed", "TENOFF", 5000, nil, 4000, nil},
		{"fixed clamps at zero", "TENOFF", 400, nil, 0, nil},
		{"scoped coupon", "COURSE1", 5000, strPtr("c1"), 0, nil},
		{"scoped coupon wrong content", "COURSE1", 5000, strPtr("c2"), 0, models.ErrValidation},
		{"scoped coupon on bundle", "COURSE1", 5000, nil, 0, models.ErrValidation},
		{"unknown coupon", "NOPE", 5000, nil, 0, models.ErrValidation},
	}

	for _, tt := range tests {
		got, err := ApplyCoupon(coupons, tt.code, tt.price, tt.contentId)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("%s: expected %v, got %v", tt.name, tt.wantErr, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.want, got)
		}
	}
}

func TestConverter(t *testing.T) {
	c := NewConverter(map[string]map[string]decimal.Decimal{
		"USD": {"NGN": decimal.NewFromInt(1500)},
	})

	tests := []struct {
		amount   int64
		from, to string
		want     int64
	}{
		{2500, "USD", "USD", 2500},
		{100, "USD", "NGN", 150000},
		{150000, "NGN", "USD", 100},
		{100000, "NGN", "USD", 67},
	}
	for _, tt := range tests {
		got, err := c.Convert(tt.amount, tt.from, tt.to)
		if err != nil {
			t.Errorf("%d %s->%s: unexpected error %v", tt.amount, tt.from, tt.to, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%d %s->%s: expected %d, got %d", tt.amount, tt.from, tt.to, tt.want, got)
		}
	}

	empty := NewConverter(nil)
	if _, err := empty.Convert(100, "USD", "NGN"); !errors.Is(err, models.ErrUnsupportedCurrency) {
		t.Errorf("Expected missing rate to fail, got %v", err)
	}
}
