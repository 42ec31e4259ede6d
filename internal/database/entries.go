package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace-ledger-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AppendEntry records an immutable ledger entry and its journal lines
func (r *repos) AppendEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.Id == "" {
		entry.Id = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.q.ExecContext(ctx, queryInsertLedgerEntry,
		entry.Id, entry.WalletId, entry.UserId, entry.Currency, string(entry.Kind), entry.Amount,
		entry.BalanceBefore, entry.BalanceAfter, entry.Reference, entry.Description, entry.Metadata, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	if err := r.addJournalEntries(ctx, entry); err != nil {
		return fmt.Errorf("failed to add journal entries: %w", err)
	}
	return nil
}

type journalLine struct {
	accountType  string
	accountId    string
	debitAmount  int64
	creditAmount int64
}

// journalLines maps an entry to balanced double-entry lines. User balances are
// liabilities of the platform, so a credit increases them.
func journalLines(entry *models.LedgerEntry) []journalLine {
	userAvailable := fmt.Sprintf("%s_%s", entry.UserId, entry.Currency)
	userPending := fmt.Sprintf("%s_%s_pending", entry.UserId, entry.Currency)
	amt := entry.Amount

	switch entry.Kind {
	case models.EntryCredit:
		return []journalLine{
			{"platform_settlement", "settlement_" + entry.Currency, amt, 0},
			{"user_wallet", userAvailable, 0, amt},
		}
	case models.EntryDebit:
		return []journalLine{
			{"user_wallet", userAvailable, amt, 0},
			{"platform_settlement", "settlement_" + entry.Currency, 0, amt},
		}
	case models.EntryTransferOut:
		return []journalLine{
			{"user_wallet", userAvailable, amt, 0},
			{"transfer_clearing", "transfers_" + entry.Currency, 0, amt},
		}
	case models.EntryTransferIn:
		return []journalLine{
			{"transfer_clearing", "transfers_" + entry.Currency, amt, 0},
			{"user_wallet", userAvailable, 0, amt},
		}
	case models.EntryLock:
		return []journalLine{
			{"user_wallet", userAvailable, amt, 0},
			{"user_pending", userPending, 0, amt},
		}
	case models.EntryRelease:
		return []journalLine{
			{"user_pending", userPending, amt, 0},
			{"user_wallet", userAvailable, 0, amt},
		}
	case models.EntryWithdrawalComplete:
		return []journalLine{
			{"user_pending", userPending, amt, 0},
			{"payout_clearing", "payouts_" + entry.Currency, 0, amt},
		}
	}
	return nil
}

func (r *repos) addJournalEntries(ctx context.Context, entry *models.LedgerEntry) error {
	for _, line := range journalLines(entry) {
		_, err := r.q.ExecContext(ctx, queryInsertJournalEntry,
			uuid.New().String(), entry.Id, line.accountType, line.accountId, line.debitAmount, line.creditAmount, entry.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListEntries returns paginated ledger history for a user and currency, newest first
func (r *repos) ListEntries(ctx context.Context, userId, currency string, limit, offset int) ([]models.LedgerEntry, error) {
	zap.L().Debug("Getting ledger history",
		zap.String("user_id", userId),
		zap.String("currency", currency),
		zap.Int("limit", limit),
		zap.Int("offset", offset))

	rows, err := r.q.QueryContext(ctx, queryGetLedgerHistory, userId, currency, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger history: %w", err)
	}
	defer closeRows(rows)

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var kind string
		err := rows.Scan(&e.Id, &e.WalletId, &e.UserId, &e.Currency, &kind, &e.Amount,
			&e.BalanceBefore, &e.BalanceAfter, &e.Reference, &e.Description, &e.Metadata, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Kind = models.EntryKind(kind)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during ledger row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating ledger rows: %w", err)
	}

	return entries, nil
}

func (r *repos) GetEntry(ctx context.Context, id string) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	var kind string
	err := r.q.QueryRowContext(ctx, queryGetLedgerEntry, id).Scan(&e.Id, &e.WalletId, &e.UserId, &e.Currency, &kind, &e.Amount,
		&e.BalanceBefore, &e.BalanceAfter, &e.Reference, &e.Description, &e.Metadata, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: ledger entry %s", models.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	e.Kind = models.EntryKind(kind)
	return &e, nil
}

// EntryTotals sums a wallet's entry amounts per kind
func (r *repos) EntryTotals(ctx context.Context, walletId string) (map[models.EntryKind]int64, error) {
	rows, err := r.q.QueryContext(ctx, queryGetEntryTotals, walletId)
	if err != nil {
		return nil, fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	defer closeRows(rows)

	totals := make(map[models.EntryKind]int64)
	for rows.Next() {
		var kind string
		var sum int64
		if err := rows.Scan(&kind, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan entry total: %w", err)
		}
		totals[models.EntryKind(kind)] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entry totals: %w", err)
	}
	return totals, nil
}
