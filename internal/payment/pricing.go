package payment

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"marketplace-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

// Catalog resolves the price, native currency and owner of content.
type Catalog interface {
	GetContentPriceAndCurrency(ctx context.Context, contentType string, contentId *string) (*models.CatalogItem, error)
}

var hundred = decimal.NewFromInt(100)

// ApplyCoupon discounts price by the named coupon. Percent coupons take Value
// percent off; fixed coupons take Value minor units off. The result is
// rounded half-up to whole minor units and never below zero.
func ApplyCoupon(coupons map[string]models.Coupon, code string, price int64, contentId *string) (int64, error) {
	if code == "" {
		return price, nil
	}
	coupon, ok := coupons[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return 0, fmt.Errorf("%w: unknown coupon %q", models.ErrValidation, code)
	}
	if len(coupon.ContentIds) > 0 && (contentId == nil || !slices.Contains(coupon.ContentIds, *contentId)) {
		return 0, fmt.Errorf("%w: coupon %s does not apply to this content", models.ErrValidation, coupon.Code)
	}

	p := decimal.NewFromInt(price)
	var discounted decimal.Decimal
	switch coupon.Kind {
	case models.CouponPercent:
		discounted = p.Sub(p.Mul(coupon.Value).Div(hundred))
	case models.CouponFixed:
		discounted = p.Sub(coupon.Value)
	default:
		return 0, fmt.Errorf("%w: coupon %s has unknown kind %q", models.ErrValidation, coupon.Code, coupon.Kind)
	}
	if discounted.IsNegative() {
		return 0, nil
	}
	return discounted.Round(0).IntPart(), nil
}

// Converter converts minor-unit amounts between currencies with a static
// rate table. rates[from][to] is the price of one major unit of from in to.
type Converter struct {
	rates map[string]map[string]decimal.Decimal
}

func NewConverter(rates map[string]map[string]decimal.Decimal) *Converter {
	return &Converter{rates: rates}
}

// Convert rounds half-up to whole minor units of the target currency.
func (c *Converter) Convert(amount int64, from, to string) (int64, error) {
	if from == to {
		return amount, nil
	}
	rate, ok := c.rates[from][to]
	if !ok {
		inverse, found := c.rates[to][from]
		if !found || inverse.IsZero() {
			return 0, fmt.Errorf("%w: no conversion rate from %s to %s", models.ErrUnsupportedCurrency, from, to)
		}
		rate = decimal.NewFromInt(1).DivRound(inverse, 12)
	}

	major := decimal.New(amount, -models.CurrencyPrecision(from))
	converted := major.Mul(rate).Shift(models.CurrencyPrecision(to))
	return converted.Round(0).IntPart(), nil
}
