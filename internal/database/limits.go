package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace-ledger-go/internal/models"
)

func (r *repos) GetLimitRecord(ctx context.Context, userId, currency string) (*models.WithdrawalLimitRecord, error) {
	var rec models.WithdrawalLimitRecord
	var customDaily, customMonthly sql.NullInt64
	err := r.q.QueryRowContext(ctx, queryGetLimitRecord, userId, currency).Scan(
		&rec.UserId, &rec.Currency, &rec.Tier, &rec.DailyLimit, &rec.MonthlyLimit, &rec.DailyUsed, &rec.MonthlyUsed,
		&rec.LastDailyReset, &rec.LastMonthlyReset, &customDaily, &customMonthly, &rec.Suspended, &rec.SuspendReason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: withdrawal limits %s/%s", models.ErrNotFound, userId, currency)
		}
		return nil, fmt.Errorf("failed to get withdrawal limits: %w", err)
	}
	if customDaily.Valid {
		rec.CustomDaily = &customDaily.Int64
	}
	if customMonthly.Valid {
		rec.CustomMonthly = &customMonthly.Int64
	}
	return &rec, nil
}

func (r *repos) UpsertLimitRecord(ctx context.Context, rec *models.WithdrawalLimitRecord) error {
	_, err := r.q.ExecContext(ctx, queryUpsertLimitRecord,
		rec.UserId, rec.Currency, rec.Tier, rec.DailyLimit, rec.MonthlyLimit, rec.DailyUsed, rec.MonthlyUsed,
		rec.LastDailyReset.UTC(), rec.LastMonthlyReset.UTC(), nullableInt64(rec.CustomDaily), nullableInt64(rec.CustomMonthly),
		rec.Suspended, rec.SuspendReason)
	if err != nil {
		return fmt.Errorf("failed to save withdrawal limits: %w", err)
	}
	return nil
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
