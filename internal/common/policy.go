package common

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"marketplace-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

type feeFile struct {
	Percent string `yaml:"percent"`
	Fixed   string `yaml:"fixed"`
	Floor   string `yaml:"floor"`
	Cap     string `yaml:"cap"`
}

type couponFile struct {
	Kind       string   `yaml:"kind"`
	Value      string   `yaml:"value"`
	ContentIds []string `yaml:"content_ids"`
}

type tierFile struct {
	Daily   int64 `yaml:"daily"`
	Monthly int64 `yaml:"monthly"`
}

type fraudFile struct {
	VelocityMaxCount   *int64           `yaml:"velocity_max_count"`
	VelocityMaxSum     map[string]int64 `yaml:"velocity_max_sum"`
	NewPayeeGrace      string           `yaml:"new_payee_grace"`
	OffHoursStart      *int             `yaml:"off_hours_start"`
	OffHoursEnd        *int             `yaml:"off_hours_end"`
	BaselineMultiplier string           `yaml:"baseline_multiplier"`
	BaselineMinSamples *int64           `yaml:"baseline_min_samples"`
	ReviewThreshold    *int             `yaml:"review_threshold"`
	BlockThreshold     *int             `yaml:"block_threshold"`
	Weights            map[string]int   `yaml:"weights"`
}

// PolicyFile is the YAML layout of the money-movement policy. Omitted
// sections keep their defaults.
type PolicyFile struct {
	CommissionRate   string                         `yaml:"commission_rate"`
	Fees             map[string]feeFile             `yaml:"fees"`
	LargeTransaction map[string]int64               `yaml:"large_transaction"`
	Rates            map[string]map[string]string   `yaml:"rates"`
	Coupons          map[string]couponFile          `yaml:"coupons"`
	DefaultTier      string                         `yaml:"default_tier"`
	Tiers            map[string]map[string]tierFile `yaml:"tiers"`
	Fraud            fraudFile                      `yaml:"fraud"`
}

// DefaultPolicy is used when no policy file exists.
func DefaultPolicy() *models.Policy {
	d := decimal.RequireFromString
	return &models.Policy{
		CommissionRate: d("0.20"),
		Fees: map[string]models.FeeSchedule{
			models.CurrencyNGN: {Percent: d("0.015"), Floor: d("1000"), Cap: d("200000")},
			models.CurrencyUSD: {Percent: d("0.029"), Fixed: d("30"), Floor: d("50")},
		},
		LargeTransaction: map[string]int64{
			models.CurrencyNGN: 50000000,
			models.CurrencyUSD: 100000,
		},
		Rates: map[string]map[string]decimal.Decimal{
			models.CurrencyUSD: {models.CurrencyNGN: d("1500")},
		},
		Coupons:     map[string]models.Coupon{},
		DefaultTier: "basic",
		Tiers: map[string]map[string]models.TierLimits{
			"basic": {
				models.CurrencyNGN: {Daily: 10000000, Monthly: 50000000},
				models.CurrencyUSD: {Daily: 50000, Monthly: 200000},
			},
			"verified": {
				models.CurrencyNGN: {Daily: 50000000, Monthly: 200000000},
				models.CurrencyUSD: {Daily: 500000, Monthly: 2000000},
			},
			"premium": {
				models.CurrencyNGN: {Daily: 200000000, Monthly: 1000000000},
				models.CurrencyUSD: {Daily: 2000000, Monthly: 10000000},
			},
		},
		Fraud: models.FraudPolicy{
			VelocityMaxCount:   10,
			VelocityMaxSum:     map[string]int64{models.CurrencyNGN: 100000000, models.CurrencyUSD: 200000},
			NewPayeeGrace:      24 * time.Hour,
			OffHoursStart:      1,
			OffHoursEnd:        5,
			BaselineMultiplier: d("5"),
			BaselineMinSamples: 3,
			ReviewThreshold:    31,
			BlockThreshold:     61,
			Weights: models.FraudWeights{
				Velocity:          30,
				VelocitySum:       25,
				LargeTransaction:  35,
				NewPayee:          15,
				OffHours:          10,
				BaselineDeviation: 20,
			},
		},
	}
}

// LoadPolicy reads the policy file over the defaults. A missing file yields
// the defaults.
func LoadPolicy(policyFile string) (*models.Policy, error) {
	policyPath := policyFile
	if !filepath.IsAbs(policyFile) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		policyPath = filepath.Join(wd, policyFile)
	}

	data, err := os.ReadFile(policyPath)
	if errors.Is(err, os.ErrNotExist) {
		zap.L().Info("Policy file not found, using defaults", zap.String("path", policyPath))
		return DefaultPolicy(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", policyFile, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy applies a YAML document to the default policy.
func ParsePolicy(data []byte) (*models.Policy, error) {
	var file PolicyFile
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return nil, fmt.Errorf("unable to parse policy: %w", err)
	}

	policy := DefaultPolicy()
	if err := file.apply(policy); err != nil {
		return nil, err
	}
	if _, ok := policy.Tiers[policy.DefaultTier]; !ok {
		return nil, fmt.Errorf("default tier %q is not defined", policy.DefaultTier)
	}
	if policy.Fraud.ReviewThreshold > policy.Fraud.BlockThreshold {
		return nil, fmt.Errorf("fraud review threshold %d exceeds block threshold %d",
			policy.Fraud.ReviewThreshold, policy.Fraud.BlockThreshold)
	}
	return policy, nil
}

func (f *PolicyFile) apply(p *models.Policy) error {
	var err error
	if f.CommissionRate != "" {
		if p.CommissionRate, err = parseDecimal("commission_rate", f.CommissionRate); err != nil {
			return err
		}
		if p.CommissionRate.IsNegative() || p.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("commission_rate must be between 0 and 1")
		}
	}

	for cur, fee := range f.Fees {
		cur = strings.ToUpper(cur)
		var s models.FeeSchedule
		for _, field := range []struct {
			name string
			raw  string
			dst  *decimal.Decimal
		}{
			{"percent", fee.Percent, &s.Percent},
			{"fixed", fee.Fixed, &s.Fixed},
			{"floor", fee.Floor, &s.Floor},
			{"cap", fee.Cap, &s.Cap},
		} {
			if field.raw == "" {
				continue
			}
			if *field.dst, err = parseDecimal("fees."+cur+"."+field.name, field.raw); err != nil {
				return err
			}
		}
		p.Fees[cur] = s
	}

	for cur, v := range f.LargeTransaction {
		p.LargeTransaction[strings.ToUpper(cur)] = v
	}

	for from, row := range f.Rates {
		from = strings.ToUpper(from)
		if p.Rates[from] == nil {
			p.Rates[from] = map[string]decimal.Decimal{}
		}
		for to, raw := range row {
			rate, err := parseDecimal("rates."+from+"."+to, raw)
			if err != nil {
				return err
			}
			if !rate.IsPositive() {
				return fmt.Errorf("rates.%s.%s must be positive", from, to)
			}
			p.Rates[from][strings.ToUpper(to)] = rate
		}
	}

	for code, c := range f.Coupons {
		code = strings.ToUpper(code)
		kind := models.CouponKind(strings.ToLower(c.Kind))
		if kind != models.CouponPercent && kind != models.CouponFixed {
			return fmt.Errorf("coupon %s has unknown kind %q", code, c.Kind)
		}
		value, err := parseDecimal("coupons."+code+".value", c.Value)
		if err != nil {
			return err
		}
		p.Coupons[code] = models.Coupon{Code: code, Kind: kind, Value: value, ContentIds: c.ContentIds}
	}

	if f.DefaultTier != "" {
		p.DefaultTier = f.DefaultTier
	}
	for tier, byCur := range f.Tiers {
		limits := map[string]models.TierLimits{}
		for cur, l := range byCur {
			limits[strings.ToUpper(cur)] = models.TierLimits{Daily: l.Daily, Monthly: l.Monthly}
		}
		p.Tiers[tier] = limits
	}

	return f.Fraud.apply(&p.Fraud)
}

func (f *fraudFile) apply(p *models.FraudPolicy) error {
	if f.VelocityMaxCount != nil {
		p.VelocityMaxCount = *f.VelocityMaxCount
	}
	for cur, v := range f.VelocityMaxSum {
		p.VelocityMaxSum[strings.ToUpper(cur)] = v
	}
	if f.NewPayeeGrace != "" {
		grace, err := time.ParseDuration(f.NewPayeeGrace)
		if err != nil {
			return fmt.Errorf("invalid fraud.new_payee_grace %q: %w", f.NewPayeeGrace, err)
		}
		p.NewPayeeGrace = grace
	}
	if f.OffHoursStart != nil {
		p.OffHoursStart = *f.OffHoursStart
	}
	if f.OffHoursEnd != nil {
		p.OffHoursEnd = *f.OffHoursEnd
	}
	if f.BaselineMultiplier != "" {
		m, err := parseDecimal("fraud.baseline_multiplier", f.BaselineMultiplier)
		if err != nil {
			return err
		}
		p.BaselineMultiplier = m
	}
	if f.BaselineMinSamples != nil {
		p.BaselineMinSamples = *f.BaselineMinSamples
	}
	if f.ReviewThreshold != nil {
		p.ReviewThreshold = *f.ReviewThreshold
	}
	if f.BlockThreshold != nil {
		p.BlockThreshold = *f.BlockThreshold
	}

	weights := map[string]*int{
		"velocity":           &p.Weights.Velocity,
		"velocity_sum":       &p.Weights.VelocitySum,
		"large_transaction":  &p.Weights.LargeTransaction,
		"new_payee":          &p.Weights.NewPayee,
		"off_hours":          &p.Weights.OffHours,
		"baseline_deviation": &p.Weights.BaselineDeviation,
	}
	for name, w := range f.Weights {
		dst, ok := weights[name]
		if !ok {
			return fmt.Errorf("unknown fraud weight %q", name)
		}
		*dst = w
	}
	return nil
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	return v, nil
}
