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
	"strings"

	"marketplace-ledger-go/internal/common"
	"marketplace-ledger-go/internal/config"
	"marketplace-ledger-go/internal/models"
	"marketplace-ledger-go/internal/withdrawal"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type withdrawalRequest struct {
	userId         string
	currency       string
	amount         int64
	bank           models.BankDestination
	idempotencyKey string
	dryRun         bool
}

func parseAndValidateFlags() (*withdrawalRequest, error) {
	userFlag := flag.String("user", "", "User id (required)")
	currencyFlag := flag.String("currency", "", "Wallet currency, NGN or USD (required)")
	amountFlag := flag.String("amount", "", "Amount to withdraw in major units, e.g. 2500.00 (required)")
	bankCodeFlag := flag.String("bank-code", "", "Bank code (NGN) or ABA routing number (USD) (required)")
	accountFlag := flag.String("account", "", "Destination account number (required)")
	nameFlag := flag.String("name", "", "Account holder name (required for USD)")
	keyFlag := flag.String("idempotency-key", "", "Idempotency key; reuse it to retry safely (default: generated)")
	dryRunFlag := flag.Bool("dry-run", false, "Only show limits and fees")
	flag.Parse()

	if *userFlag == "" || *currencyFlag == "" || *amountFlag == "" || *bankCodeFlag == "" || *accountFlag == "" {
		return nil, fmt.Errorf("required flags: --user, --currency, --amount, --bank-code, --account")
	}

	currency, err := models.NormalizeCurrency(*currencyFlag)
	if err != nil {
		return nil, err
	}
	amount, err := common.ParseMajor(*amountFlag, currency)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be greater than zero")
	}

	key := *keyFlag
	if key == "" {
		key = generateIdempotencyKey(*userFlag)
	}

	return &withdrawalRequest{
		userId:   *userFlag,
		currency: currency,
		amount:   amount,
		bank: models.BankDestination{
			BankCode:      *bankCodeFlag,
			AccountNumber: *accountFlag,
			AccountName:   *nameFlag,
		},
		idempotencyKey: key,
		dryRun:         *dryRunFlag,
	}, nil
}

func generateIdempotencyKey(userId string) string {
	uuidSegments := strings.Split(uuid.New().String(), "-")
	return "cli-" + userId + "-" + strings.Join(uuidSegments[1:], "-")
}

// majorFee renders a fractional minor-unit fee in major units.
func majorFee(fee decimal.Decimal, currency string) string {
	return fee.Shift(-models.CurrencyPrecision(currency)).String()
}

func printWithdrawalSummary(req *withdrawalRequest, acct *models.WalletAccount, fees *withdrawal.Fees) {
	cur := req.currency
	common.PrintHeader("WITHDRAWAL REQUEST", common.DefaultWidth)
	fmt.Printf("User:              %s\n", req.userId)
	fmt.Printf("Available Balance: %s %s\n", common.FormatMinor(acct.BalanceAvailable, cur), cur)
	fmt.Printf("Withdrawal Amount: %s %s\n", common.FormatMinor(req.amount, cur), cur)
	fmt.Printf("Commission:        %s %s\n", majorFee(fees.Commission, cur), cur)
	fmt.Printf("Gateway Fee:       %s %s\n", majorFee(fees.GatewayFee, cur), cur)
	fmt.Printf("Payout Amount:     %s %s\n", common.FormatMinor(fees.PayoutAmount, cur), cur)
	fmt.Printf("Destination:       %s / %s %s\n", req.bank.BankCode, req.bank.AccountNumber, req.bank.AccountName)
	fmt.Printf("Idempotency Key:   %s\n", req.idempotencyKey)
	common.PrintSeparator("=", common.DefaultWidth)
}

func printResult(result *withdrawal.Result) {
	w := result.Withdrawal
	switch w.Status {
	case models.WithdrawalCompleted:
		fmt.Println("\n✅ Withdrawal completed")
	case models.WithdrawalPendingReconciliation:
		fmt.Println("\n⏳ Payout outcome unknown, funds held pending until reconciliation")
	case models.WithdrawalReleased:
		fmt.Println("\n❌ Payout failed, funds returned to available balance")
	default:
		fmt.Printf("\nWithdrawal status: %s\n", w.Status)
	}
	fmt.Printf("   Withdrawal ID: %s\n", w.Id)
	fmt.Printf("   Reference:     %s\n", w.Reference)
	if w.PayoutId != "" {
		fmt.Printf("   Payout ID:     %s\n", w.PayoutId)
	}
	if w.FailureReason != "" {
		fmt.Printf("   Reason:        %s\n", w.FailureReason)
	}
	fmt.Printf("   Risk:          %d (%s)\n\n", result.RiskScore, result.RiskAction)
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	req, err := parseAndValidateFlags()
	if err != nil {
		zap.L().Fatal("Invalid flags", zap.Error(err))
	}

	zap.L().Info("Starting withdrawal process",
		zap.String("user_id", req.userId),
		zap.String("currency", req.currency),
		zap.Int64("amount", req.amount),
		zap.String("idempotency_key", req.idempotencyKey))

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	zap.L().Info("Initializing services")
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	acct, err := services.Ledger.Balance(ctx, req.userId, req.currency)
	if err != nil {
		zap.L().Fatal("Failed to get balance", zap.Error(err))
	}
	fees, err := withdrawal.NewFeeCalculator(services.Policy).Calculate(req.amount, req.currency)
	if err != nil {
		zap.L().Fatal("Failed to calculate fees", zap.Error(err))
	}
	printWithdrawalSummary(req, acct, fees)

	check, err := services.Limiter.CheckLimits(ctx, req.userId, req.amount, req.currency)
	if err != nil {
		zap.L().Fatal("Failed to check limits", zap.Error(err))
	}
	fmt.Printf("Tier %s: remaining daily %s, monthly %s\n", check.Tier,
		common.FormatMinor(check.RemainingDaily, req.currency),
		common.FormatMinor(check.RemainingMonthly, req.currency))
	if !check.Allowed {
		fmt.Printf("\n❌ Withdrawal not allowed: %s\n", check.Reason)
		zap.L().Fatal("Limit check failed", zap.Error(check.Err()))
	}
	if req.dryRun {
		fmt.Println("\nDry run, no funds moved")
		return
	}

	result, err := services.Withdrawals.Withdraw(ctx, withdrawal.Request{
		UserID:         req.userId,
		Currency:       req.currency,
		Amount:         req.amount,
		Bank:           req.bank,
		IdempotencyKey: req.idempotencyKey,
	})
	if err != nil {
		fmt.Printf("\n❌ Withdrawal failed (%s)\n", models.ErrorKind(err))
		zap.L().Fatal("Withdrawal failed", zap.Error(err))
	}
	printResult(result)

	zap.L().Info("Withdrawal finished",
		zap.String("withdrawal_id", result.Withdrawal.Id),
		zap.String("status", string(result.Withdrawal.Status)))
}
