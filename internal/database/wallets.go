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
	"time"

	"marketplace-ledger-go/internal/models"
	"marketplace-ledger-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWalletAccount(row rowScanner) (*models.WalletAccount, error) {
	var acct models.WalletAccount
	err := row.Scan(&acct.Id, &acct.UserId, &acct.Currency, &acct.BalanceAvailable, &acct.BalancePending,
		&acct.LastEntryId, &acct.Version, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

func (r *repos) GetAccount(ctx context.Context, userId, currency string) (*models.WalletAccount, error) {
	acct, err := scanWalletAccount(r.q.QueryRowContext(ctx, queryGetWalletAccount, userId, currency))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: wallet %s/%s", models.ErrNotFound, userId, currency)
		}
		return nil, fmt.Errorf("failed to get wallet account: %w", err)
	}
	return acct, nil
}

func (r *repos) EnsureAccount(ctx context.Context, userId, currency string) (*models.WalletAccount, error) {
	now := time.Now().UTC()
	result, err := r.q.ExecContext(ctx, queryInsertWalletAccount, uuid.New().String(), userId, currency, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet account: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		zap.L().Info("Wallet account created",
			zap.String("user_id", userId),
			zap.String("currency", currency))
	}
	return r.GetAccount(ctx, userId, currency)
}

func (r *repos) UpdateBalances(ctx context.Context, acct *models.WalletAccount, available, pending int64, lastEntryId string) error {
	now := time.Now().UTC()
	result, err := r.q.ExecContext(ctx, queryUpdateWalletBalances, available, pending, lastEntryId, now, acct.Id, acct.Version)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	acct.BalanceAvailable = available
	acct.BalancePending = pending
	acct.LastEntryId = lastEntryId
	acct.Version++
	acct.UpdatedAt = now
	return nil
}

func (r *repos) ListAccounts(ctx context.Context, userId string) ([]models.WalletAccount, error) {
	zap.L().Debug("Getting all wallet accounts", zap.String("user_id", userId))

	rows, err := r.q.QueryContext(ctx, queryGetUserWalletAccounts, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallet accounts: %w", err)
	}
	defer closeRows(rows)

	var accounts []models.WalletAccount
	for rows.Next() {
		acct, err := scanWalletAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet account: %w", err)
		}
		accounts = append(accounts, *acct)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during wallet row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating wallet rows: %w", err)
	}

	return accounts, nil
}

func (r *repos) ListWalletUsers(ctx context.Context) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, queryGetWalletUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallet users: %w", err)
	}
	defer closeRows(rows)

	var users []string
	for rows.Next() {
		var userId string
		if err := rows.Scan(&userId); err != nil {
			return nil, fmt.Errorf("failed to scan wallet user: %w", err)
		}
		users = append(users, userId)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wallet user rows: %w", err)
	}
	return users, nil
}
