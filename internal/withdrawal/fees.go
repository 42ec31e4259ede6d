package withdrawal

import (
	"fmt"

	"marketplace-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

// feePlaces is the precision fee components are rounded to, in minor units
const feePlaces = 2

// Fees is the breakdown of a withdrawal amount. Amounts are minor units;
// the decimal components keep two fractional places.
type Fees struct {
	Amount       int64           `json:"amount"`
	Commission   decimal.Decimal `json:"commission"`
	GatewayFee   decimal.Decimal `json:"gateway_fee"`
	NetAmount    decimal.Decimal `json:"net_amount"`
	PayoutAmount int64           `json:"payout_amount"`
}

// FeeCalculator applies the platform commission and the currency's gateway fee
type FeeCalculator struct {
	commissionRate decimal.Decimal
	schedules      map[string]models.FeeSchedule
}

func NewFeeCalculator(policy *models.Policy) *FeeCalculator {
	return &FeeCalculator{
		commissionRate: policy.CommissionRate,
		schedules:      policy.Fees,
	}
}

// Calculate rounds each component half-up to two places as it is computed:
//
//	commission = amount * rate
//	gatewayFee = clamp((amount - commission) * percent + fixed, floor, cap)
//	net        = amount - commission - gatewayFee
//
// The payout is net floored to whole minor units.
func (c *FeeCalculator) Calculate(amount int64, currency string) (*Fees, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	cur, err := models.NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}
	schedule, ok := c.schedules[cur]
	if !ok {
		return nil, fmt.Errorf("%w: no fee schedule for %s", models.ErrUnsupportedCurrency, cur)
	}

	gross := decimal.NewFromInt(amount)
	commission := gross.Mul(c.commissionRate).Round(feePlaces)

	fee := gross.Sub(commission).Mul(schedule.Percent).Add(schedule.Fixed).Round(feePlaces)
	if fee.LessThan(schedule.Floor) {
		fee = schedule.Floor
	}
	if schedule.Cap.IsPositive() && fee.GreaterThan(schedule.Cap) {
		fee = schedule.Cap
	}

	net := gross.Sub(commission).Sub(fee)
	payout := net.Floor().IntPart()
	if payout <= 0 {
		return nil, fmt.Errorf("%w: amount %d does not cover fees of %s %s", models.ErrValidation, amount, commission.Add(fee).StringFixed(feePlaces), cur)
	}

	return &Fees{
		Amount:       amount,
		Commission:   commission,
		GatewayFee:   fee,
		NetAmount:    net,
		PayoutAmount: payout,
	}, nil
}
