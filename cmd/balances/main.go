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

package main

import (
	"context"
	"flag"
	"fmt"

	"marketplace-ledger-go/internal/common"
	"marketplace-ledger-go/internal/config"
	"marketplace-ledger-go/internal/database"
	"marketplace-ledger-go/internal/ledger"
	"marketplace-ledger-go/internal/models"

	"go.uber.org/zap"
)

type balanceStats struct {
	totalUsers    int
	totalWallets  int
	usersWithFund int
	mismatches    int
}

func formatEntryId(entryId string) string {
	if entryId == "" {
		return "none"
	}
	if len(entryId) > 8 {
		return entryId[:8] + "..."
	}
	return entryId
}

func printWallet(acct models.WalletAccount, verifyErr error, isLast bool) {
	symbol := common.BoxPrefix(isLast)
	status := "ok"
	if verifyErr != nil {
		status = "MISMATCH"
	}

	fmt.Printf("%s %-4s available: %15s  pending: %15s (v%d, last_entry: %s, updated: %s) [%s]\n",
		symbol,
		acct.Currency,
		common.FormatMinor(acct.BalanceAvailable, acct.Currency),
		common.FormatMinor(acct.BalancePending, acct.Currency),
		acct.Version,
		formatEntryId(acct.LastEntryId),
		acct.UpdatedAt.Format("2006-01-02 15:04:05"),
		status)
	if verifyErr != nil {
		fmt.Printf("%s   %v\n", common.BoxDetailPrefix(isLast), verifyErr)
	}
}

func printUserHeader(userId string, walletCount int) {
	fmt.Printf("\n┌─ User: %s\n", userId)
	fmt.Printf("│  Wallets: %d\n", walletCount)
	common.PrintBoxSeparator(78)
}

// processUser prints each wallet of the user, checked against its entry log.
func processUser(ctx context.Context, userId string, ledgerService *ledger.Service) (int, int, error) {
	accounts, err := ledgerService.Balances(ctx, userId)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get balances: %w", err)
	}
	if len(accounts) == 0 {
		return 0, 0, nil
	}

	printUserHeader(userId, len(accounts))
	mismatches := 0
	for i, acct := range accounts {
		verifyErr := ledgerService.Reconcile(ctx, userId, acct.Currency)
		if verifyErr != nil {
			mismatches++
		}
		printWallet(acct, verifyErr, i == len(accounts)-1)
	}
	return len(accounts), mismatches, nil
}

func processUsersAndGenerateReport(ctx context.Context, users []string, dbService *database.Service, logger *zap.Logger) balanceStats {
	stats := balanceStats{}
	ledgerService := ledger.NewService(dbService, nil)

	for _, userId := range users {
		stats.totalUsers++

		walletCount, mismatches, err := processUser(ctx, userId, ledgerService)
		if err != nil {
			logger.Error("Failed to process user",
				zap.String("user_id", userId),
				zap.Error(err))
			continue
		}

		if walletCount > 0 {
			stats.usersWithFund++
			stats.totalWallets += walletCount
		}
		stats.mismatches += mismatches
	}

	return stats
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	// Parse command line flags
	userFlag := flag.String("user", "", "Filter by specific user id (optional)")
	flag.Parse()

	logger.Info("Starting balance query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Read-only report, no gateways needed
	logger.Info("Connecting to database", zap.String("path", cfg.Database.Path))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	users, err := common.InitializeUsers(ctx, dbService.Repos().Wallets(), *userFlag, logger)
	if err != nil {
		logger.Fatal("Failed to initialize users", zap.Error(err))
	}

	common.PrintHeader("WALLET BALANCE REPORT", common.WideWidth)

	stats := processUsersAndGenerateReport(ctx, users, dbService, logger)

	summary := fmt.Sprintf("SUMMARY: %d users with wallets (%d wallets across %d users queried, %d mismatches)",
		stats.usersWithFund, stats.totalWallets, stats.totalUsers, stats.mismatches)
	common.PrintFooter(summary, common.WideWidth)

	logger.Info("Balance query completed",
		zap.Int("users_queried", stats.totalUsers),
		zap.Int("users_with_wallets", stats.usersWithFund),
		zap.Int("total_wallets", stats.totalWallets),
		zap.Int("mismatches", stats.mismatches))
}
