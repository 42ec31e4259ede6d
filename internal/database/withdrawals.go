/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace-ledger-go/internal/models"
	"marketplace-ledger-go/internal/store"

	"github.com/google/uuid"
)

func (r *repos) CreateWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	if w.Id == "" {
		w.Id = uuid.New().String()
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now

	_, err := r.q.ExecContext(ctx, queryInsertWithdrawal,
		w.Id, w.UserId, w.Currency, w.Amount, w.Commission, w.GatewayFee, w.NetAmount, w.PayoutAmount,
		w.BankCode, w.AccountNumber, w.AccountName, w.Gateway, w.PayoutId, w.Reference, string(w.Status),
		w.FailureReason, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: withdrawal reference %s already exists", store.ErrDuplicateReference, w.Reference)
		}
		return fmt.Errorf("failed to insert withdrawal: %w", err)
	}
	return nil
}

func (r *repos) TransitionWithdrawal(ctx context.Context, id string, from []models.WithdrawalStatus, to models.WithdrawalStatus, payoutId, reason string) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition of withdrawal %s requires a source status", id)
	}
	args := []any{string(to), payoutId, payoutId, reason, time.Now().UTC(), id}
	placeholders := make([]string, len(from))
	for i, status := range from {
		placeholders[i] = "?"
		args = append(args, string(status))
	}
	query := queryTransitionWithdrawal + "(" + strings.Join(placeholders, ", ") + ")"

	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update withdrawal: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

func (r *repos) OpenWithdrawalTotal(ctx context.Context, userId, currency string) (int64, error) {
	var total int64
	if err := r.q.QueryRowContext(ctx, queryOpenWithdrawalTotal, userId, currency).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum open withdrawals: %w", err)
	}
	return total, nil
}

func scanWithdrawal(row rowScanner) (*models.Withdrawal, error) {
	var w models.Withdrawal
	var status string
	err := row.Scan(&w.Id, &w.UserId, &w.Currency, &w.Amount, &w.Commission, &w.GatewayFee, &w.NetAmount, &w.PayoutAmount,
		&w.BankCode, &w.AccountNumber, &w.AccountName, &w.Gateway, &w.PayoutId, &w.Reference, &status,
		&w.FailureReason, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.Status = models.WithdrawalStatus(status)
	return &w, nil
}

func (r *repos) GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	w, err := scanWithdrawal(r.q.QueryRowContext(ctx, queryGetWithdrawal, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: withdrawal %s", models.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	return w, nil
}

func (r *repos) ListWithdrawalsByStatus(ctx context.Context, status models.WithdrawalStatus, limit int) ([]models.Withdrawal, error) {
	return r.listWithdrawals(ctx, queryGetWithdrawalsByStatus, string(status), limit)
}

func (r *repos) ListStaleWithdrawals(ctx context.Context, status models.WithdrawalStatus, cutoff time.Time, limit int) ([]models.Withdrawal, error) {
	return r.listWithdrawals(ctx, queryGetStaleWithdrawals, string(status), cutoff.UTC(), limit)
}

func (r *repos) ListUserWithdrawals(ctx context.Context, userId string, limit, offset int) ([]models.Withdrawal, error) {
	return r.listWithdrawals(ctx, queryGetUserWithdrawals, userId, limit, offset)
}

func (r *repos) listWithdrawals(ctx context.Context, query string, args ...any) ([]models.Withdrawal, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query withdrawals: %w", err)
	}
	defer closeRows(rows)

	var withdrawals []models.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		withdrawals = append(withdrawals, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating withdrawal rows: %w", err)
	}
	return withdrawals, nil
}
