package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-ledger-go/internal/models"
	"marketplace-ledger-go/internal/store"

	"go.uber.org/zap"
)

// Check is the outcome of a limit evaluation. It never mutates usage.
type Check struct {
	Allowed          bool   `json:"allowed"`
	Tier             string `json:"tier"`
	DailyLimit       int64  `json:"daily_limit"`
	MonthlyLimit     int64  `json:"monthly_limit"`
	InFlight         int64  `json:"in_flight"`
	RemainingDaily   int64  `json:"remaining_daily"`
	RemainingMonthly int64  `json:"remaining_monthly"`
	Suspended        bool   `json:"suspended"`
	Reason           string `json:"reason,omitempty"`
}

// Err maps a denied check to the error taxonomy.
func (c *Check) Err() error {
	switch {
	case c.Allowed:
		return nil
	case c.Suspended:
		return fmt.Errorf("%w: %s", models.ErrAccountSuspended, c.Reason)
	default:
		return fmt.Errorf("%w: %s", models.ErrLimitExceeded, c.Reason)
	}
}

// Limiter enforces daily and monthly withdrawal caps per user and currency
type Limiter struct {
	store  store.Transactor
	policy *models.Policy
	now    func() time.Time
}

func NewLimiter(st store.Transactor, policy *models.Policy) *Limiter {
	return &Limiter{
		store:  st,
		policy: policy,
		now:    time.Now,
	}
}

// CheckLimits evaluates amount against the effective limits. Withdrawals
// still in flight count against the remaining headroom. Calendar rollover is
// applied to the evaluated copy only.
func (l *Limiter) CheckLimits(ctx context.Context, userId string, amount int64, currency string) (*Check, error) {
	return l.check(ctx, l.store.Repos(), userId, amount, currency)
}

// CheckLimitsTx is CheckLimits inside tx. Creating the withdrawal row in the
// same transaction keeps concurrent requests from claiming the same headroom.
func (l *Limiter) CheckLimitsTx(ctx context.Context, tx store.Tx, userId string, amount int64, currency string) (*Check, error) {
	return l.check(ctx, tx, userId, amount, currency)
}

func (l *Limiter) check(ctx context.Context, repos store.Repositories, userId string, amount int64, currency string) (*Check, error) {
	cur, err := models.NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}
	if amount < 0 {
		return nil, fmt.Errorf("%w: amount cannot be negative", models.ErrValidation)
	}

	rec, err := l.load(ctx, repos, userId, cur)
	if err != nil {
		return nil, err
	}
	l.rollover(rec)
	inFlight, err := repos.Withdrawals().OpenWithdrawalTotal(ctx, userId, cur)
	if err != nil {
		return nil, err
	}
	return l.evaluate(rec, inFlight, amount), nil
}

// RecordUsage adds a committed withdrawal to the used counters.
func (l *Limiter) RecordUsage(ctx context.Context, userId string, amount int64, currency string) error {
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		return l.RecordUsageTx(ctx, tx, userId, amount, currency)
	})
	if err != nil {
		zap.L().Error("Failed to record withdrawal usage",
			zap.String("user_id", userId),
			zap.String("currency", currency),
			zap.Int64("amount", amount),
			zap.Error(err))
		return err
	}

	zap.L().Info("Withdrawal usage recorded",
		zap.String("user_id", userId),
		zap.String("currency", currency),
		zap.Int64("amount", amount))
	return nil
}

// RecordUsageTx is RecordUsage inside the caller's transaction.
func (l *Limiter) RecordUsageTx(ctx context.Context, tx store.Tx, userId string, amount int64, currency string) error {
	cur, err := models.NormalizeCurrency(currency)
	if err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}

	rec, err := l.load(ctx, tx, userId, cur)
	if err != nil {
		return err
	}
	l.rollover(rec)
	rec.DailyUsed += amount
	rec.MonthlyUsed += amount
	return tx.Limits().UpsertLimitRecord(ctx, rec)
}

// SetTier moves the user to tier for every supported currency.
func (l *Limiter) SetTier(ctx context.Context, userId, tier string) error {
	if _, ok := l.policy.Tiers[tier]; !ok {
		return fmt.Errorf("%w: unknown tier %q", models.ErrValidation, tier)
	}
	return l.updateAll(ctx, userId, func(rec *models.WithdrawalLimitRecord) {
		rec.Tier = tier
		limits := l.tierLimits(tier, rec.Currency)
		rec.DailyLimit = limits.Daily
		rec.MonthlyLimit = limits.Monthly
	}, zap.String("tier", tier))
}

// SetCustomLimits overrides the tier defaults for one currency. A nil value
// clears that override.
func (l *Limiter) SetCustomLimits(ctx context.Context, userId, currency string, daily, monthly *int64) error {
	cur, err := models.NormalizeCurrency(currency)
	if err != nil {
		return err
	}
	for _, v := range []*int64{daily, monthly} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%w: custom limits cannot be negative", models.ErrValidation)
		}
	}
	return l.update(ctx, userId, cur, func(rec *models.WithdrawalLimitRecord) {
		rec.CustomDaily = daily
		rec.CustomMonthly = monthly
	})
}

// SuspendUser blocks all withdrawals for the user regardless of limits.
func (l *Limiter) SuspendUser(ctx context.Context, userId, reason string) error {
	if reason == "" {
		return fmt.Errorf("%w: suspension reason is required", models.ErrValidation)
	}
	return l.updateAll(ctx, userId, func(rec *models.WithdrawalLimitRecord) {
		rec.Suspended = true
		rec.SuspendReason = reason
	}, zap.String("reason", reason))
}

// RestoreUser lifts a suspension.
func (l *Limiter) RestoreUser(ctx context.Context, userId string) error {
	return l.updateAll(ctx, userId, func(rec *models.WithdrawalLimitRecord) {
		rec.Suspended = false
		rec.SuspendReason = ""
	})
}

func (l *Limiter) updateAll(ctx context.Context, userId string, mutate func(*models.WithdrawalLimitRecord), fields ...zap.Field) error {
	if userId == "" {
		return fmt.Errorf("%w: user id is required", models.ErrValidation)
	}
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		for _, cur := range models.SupportedCurrencies {
			rec, err := l.load(ctx, tx, userId, cur)
			if err != nil {
				return err
			}
			mutate(rec)
			if err := tx.Limits().UpsertLimitRecord(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	zap.L().Info("Withdrawal limits updated", append([]zap.Field{zap.String("user_id", userId)}, fields...)...)
	return nil
}

func (l *Limiter) update(ctx context.Context, userId, currency string, mutate func(*models.WithdrawalLimitRecord)) error {
	if userId == "" {
		return fmt.Errorf("%w: user id is required", models.ErrValidation)
	}
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		rec, err := l.load(ctx, tx, userId, currency)
		if err != nil {
			return err
		}
		mutate(rec)
		return tx.Limits().UpsertLimitRecord(ctx, rec)
	})
	if err != nil {
		return err
	}
	zap.L().Info("Withdrawal limits updated", zap.String("user_id", userId), zap.String("currency", currency))
	return nil
}

// load returns the stored record or a default-tier record that is not yet persisted.
func (l *Limiter) load(ctx context.Context, repos store.Repositories, userId, currency string) (*models.WithdrawalLimitRecord, error) {
	rec, err := repos.Limits().GetLimitRecord(ctx, userId, currency)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	now := l.now().UTC()
	limits := l.tierLimits(l.policy.DefaultTier, currency)
	return &models.WithdrawalLimitRecord{
		UserId:           userId,
		Currency:         currency,
		Tier:             l.policy.DefaultTier,
		DailyLimit:       limits.Daily,
		MonthlyLimit:     limits.Monthly,
		LastDailyReset:   startOfDay(now),
		LastMonthlyReset: startOfMonth(now),
	}, nil
}

// rollover resets used counters that belong to an earlier UTC day or month.
func (l *Limiter) rollover(rec *models.WithdrawalLimitRecord) {
	now := l.now().UTC()
	if day := startOfDay(now); rec.LastDailyReset.UTC().Before(day) {
		rec.DailyUsed = 0
		rec.LastDailyReset = day
	}
	if month := startOfMonth(now); rec.LastMonthlyReset.UTC().Before(month) {
		rec.MonthlyUsed = 0
		rec.LastMonthlyReset = month
	}
}

func (l *Limiter) evaluate(rec *models.WithdrawalLimitRecord, inFlight, amount int64) *Check {
	daily, monthly := l.effectiveLimits(rec)
	check := &Check{
		Allowed:          true,
		Tier:             rec.Tier,
		DailyLimit:       daily,
		MonthlyLimit:     monthly,
		InFlight:         inFlight,
		RemainingDaily:   max(daily-rec.DailyUsed-inFlight, 0),
		RemainingMonthly: max(monthly-rec.MonthlyUsed-inFlight, 0),
		Suspended:        rec.Suspended,
	}

	switch {
	case rec.Suspended:
		check.Allowed = false
		check.Reason = "account suspended"
		if rec.SuspendReason != "" {
			check.Reason += ": " + rec.SuspendReason
		}
	case amount > check.RemainingDaily:
		check.Allowed = false
		check.Reason = fmt.Sprintf("daily limit exceeded: remaining %d, requested %d", check.RemainingDaily, amount)
	case amount > check.RemainingMonthly:
		check.Allowed = false
		check.Reason = fmt.Sprintf("monthly limit exceeded: remaining %d, requested %d", check.RemainingMonthly, amount)
	}
	return check
}

// effectiveLimits applies custom overrides over the tier defaults.
func (l *Limiter) effectiveLimits(rec *models.WithdrawalLimitRecord) (daily, monthly int64) {
	daily, monthly = rec.DailyLimit, rec.MonthlyLimit
	if tier, ok := l.policy.Tiers[rec.Tier][rec.Currency]; ok {
		daily, monthly = tier.Daily, tier.Monthly
	}
	if rec.CustomDaily != nil {
		daily = *rec.CustomDaily
	}
	if rec.CustomMonthly != nil {
		monthly = *rec.CustomMonthly
	}
	return daily, monthly
}

func (l *Limiter) tierLimits(tier, currency string) models.TierLimits {
	return l.policy.Tiers[tier][currency]
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
