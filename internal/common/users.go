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

package common

import (
	"context"
	"fmt"

	"marketplace-ledger-go/internal/store"

	"go.uber.org/zap"
)

// InitializeUsers returns the wallet holders to report on. A non-empty
// userFilter selects that user alone; otherwise every user holding a wallet
// is returned.
func InitializeUsers(ctx context.Context, wallets store.WalletRepository, userFilter string, logger *zap.Logger) ([]string, error) {
	if userFilter != "" {
		logger.Info("Looking up wallets for user", zap.String("user_id", userFilter))
		accounts, err := wallets.ListAccounts(ctx, userFilter)
		if err != nil {
			return nil, fmt.Errorf("failed to get wallets: %w", err)
		}
		if len(accounts) == 0 {
			return nil, fmt.Errorf("user %s holds no wallets", userFilter)
		}
		return []string{userFilter}, nil
	}

	users, err := wallets.ListWalletUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}

	logger.Info("Retrieved users", zap.Int("count", len(users)))
	return users, nil
}
