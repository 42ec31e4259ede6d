package ledger

import (
	"context"
	"errors"
	"fmt"

	"marketplace-ledger-go/internal/models"

	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Balance returns the wallet for userId and currency. A wallet that was never
// used reads as zero.
func (s *Service) Balance(ctx context.Context, userId, currency string) (*models.WalletAccount, error) {
	cur, err := models.NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}
	acct, err := s.store.Repos().Wallets().GetAccount(ctx, userId, cur)
	if errors.Is(err, models.ErrNotFound) {
		return &models.WalletAccount{UserId: userId, Currency: cur}, nil
	}
	if err != nil {
		zap.L().Error("Failed to get balance", zap.String("user_id", userId), zap.String("currency", cur), zap.Error(err))
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return acct, nil
}

// Balances returns every wallet the user holds.
func (s *Service) Balances(ctx context.Context, userId string) ([]models.WalletAccount, error) {
	accounts, err := s.store.Repos().Wallets().ListAccounts(ctx, userId)
	if err != nil {
		zap.L().Error("Failed to get balances", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}
	return accounts, nil
}

// History returns ledger entries newest first.
func (s *Service) History(ctx context.Context, userId, currency string, limit, offset int) ([]models.LedgerEntry, error) {
	cur, err := models.NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset cannot be negative", models.ErrValidation)
	}
	return s.store.Repos().Entries().ListEntries(ctx, userId, cur, limit, offset)
}

// Reconcile verifies that stored balances match the sum of the entry log
func (s *Service) Reconcile(ctx context.Context, userId, currency string) error {
	cur, err := models.NormalizeCurrency(currency)
	if err != nil {
		return err
	}
	zap.L().Info("Reconciling balance", zap.String("user_id", userId), zap.String("currency", cur))

	repos := s.store.Repos()
	acct, err := repos.Wallets().GetAccount(ctx, userId, cur)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get current balance: %w", err)
	}

	totals, err := repos.Entries().EntryTotals(ctx, acct.Id)
	if err != nil {
		return fmt.Errorf("failed to calculate balance from entries: %w", err)
	}
	available, pending := expectedBalances(totals)

	if available != acct.BalanceAvailable || pending != acct.BalancePending {
		zap.L().Error("Balance reconciliation failed",
			zap.String("user_id", userId),
			zap.String("currency", cur),
			zap.Int64("current_available", acct.BalanceAvailable),
			zap.Int64("calculated_available", available),
			zap.Int64("current_pending", acct.BalancePending),
			zap.Int64("calculated_pending", pending))
		return fmt.Errorf("%w: available current=%d calculated=%d, pending current=%d calculated=%d",
			ErrBalanceMismatch, acct.BalanceAvailable, available, acct.BalancePending, pending)
	}

	zap.L().Info("Balance reconciliation successful",
		zap.String("user_id", userId),
		zap.String("currency", cur),
		zap.Int64("available", available),
		zap.Int64("pending", pending))
	return nil
}

func expectedBalances(t map[models.EntryKind]int64) (available, pending int64) {
	available = t[models.EntryCredit] + t[models.EntryTransferIn] + t[models.EntryRelease] -
		t[models.EntryDebit] - t[models.EntryTransferOut] - t[models.EntryLock]
	pending = t[models.EntryLock] - t[models.EntryRelease] - t[models.EntryWithdrawalComplete]
	return available, pending
}
