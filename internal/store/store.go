package store

import (
	"context"
	"errors"
	"time"

	"marketplace-ledger-go/internal/models"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrDuplicateReference     = errors.New("duplicate reference")
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// WalletRepository persists wallet accounts. Missing accounts surface as models.ErrNotFound.
type WalletRepository interface {
	GetAccount(ctx context.Context, userId, currency string) (*models.WalletAccount, error)
	// EnsureAccount returns the account, creating a zero-balance one if absent.
	EnsureAccount(ctx context.Context, userId, currency string) (*models.WalletAccount, error)
	// UpdateBalances writes new balances if acct.Version is still current,
	// otherwise it returns ErrConcurrentModification.
	UpdateBalances(ctx context.Context, acct *models.WalletAccount, available, pending int64, lastEntryId string) error
	ListAccounts(ctx context.Context, userId string) ([]models.WalletAccount, error)
	ListWalletUsers(ctx context.Context) ([]string, error)
}

// LedgerRepository appends and reads immutable ledger entries.
type LedgerRepository interface {
	AppendEntry(ctx context.Context, entry *models.LedgerEntry) error
	GetEntry(ctx context.Context, id string) (*models.LedgerEntry, error)
	ListEntries(ctx context.Context, userId, currency string, limit, offset int) ([]models.LedgerEntry, error)
	// EntryTotals sums entry amounts of a wallet by kind.
	EntryTotals(ctx context.Context, walletId string) (map[models.EntryKind]int64, error)
}

// IdempotencyRepository stores idempotency records. It is used outside
// wallet transactions so a key is claimed before any money moves.
type IdempotencyRepository interface {
	// InsertIfAbsent atomically claims rec.Key. An existing record whose
	// ExpiresAt is not after now is replaced. When the key is live it returns
	// inserted=false and the stored record.
	InsertIfAbsent(ctx context.Context, rec *models.IdempotencyRecord, now time.Time) (bool, *models.IdempotencyRecord, error)
	// Finalize moves a processing record to status. It reports false if the
	// record was not processing.
	Finalize(ctx context.Context, key, result string, status models.IdempotencyStatus) (bool, error)
	// DeleteProcessing removes a record still in processing.
	DeleteProcessing(ctx context.Context, key string) error
	GetRecord(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// PurchaseRepository persists settlement records.
type PurchaseRepository interface {
	// CreatePurchase fails with ErrDuplicateReference when the payment reference exists.
	CreatePurchase(ctx context.Context, p *models.Purchase) error
	GetPurchaseByReference(ctx context.Context, reference string) (*models.Purchase, error)
	HasCompletedPurchase(ctx context.Context, userId, contentType, contentId string) (bool, error)
	ListPurchases(ctx context.Context, userId string, limit, offset int) ([]models.Purchase, error)
}

// WithdrawalRepository persists payout requests.
type WithdrawalRepository interface {
	CreateWithdrawal(ctx context.Context, w *models.Withdrawal) error
	// TransitionWithdrawal moves the withdrawal to status `to` only if it is
	// currently in one of from. It reports false when the row is in any other
	// state, so concurrent callers settle a withdrawal at most once.
	TransitionWithdrawal(ctx context.Context, id string, from []models.WithdrawalStatus, to models.WithdrawalStatus, payoutId, reason string) (bool, error)
	GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error)
	ListWithdrawalsByStatus(ctx context.Context, status models.WithdrawalStatus, limit int) ([]models.Withdrawal, error)
	// ListStaleWithdrawals returns withdrawals in status last updated before cutoff.
	ListStaleWithdrawals(ctx context.Context, status models.WithdrawalStatus, cutoff time.Time, limit int) ([]models.Withdrawal, error)
	ListUserWithdrawals(ctx context.Context, userId string, limit, offset int) ([]models.Withdrawal, error)
	// OpenWithdrawalTotal sums the user's withdrawals in currency that are
	// neither completed nor released.
	OpenWithdrawalTotal(ctx context.Context, userId, currency string) (int64, error)
}

// LimitRepository persists withdrawal limit records.
type LimitRepository interface {
	GetLimitRecord(ctx context.Context, userId, currency string) (*models.WithdrawalLimitRecord, error)
	UpsertLimitRecord(ctx context.Context, rec *models.WithdrawalLimitRecord) error
}

// ReconciliationRepository persists reconciliation tasks.
type ReconciliationRepository interface {
	// CreateTask is a no-op when a task of the same kind and reference exists.
	CreateTask(ctx context.Context, task *models.ReconciliationTask) error
	ListOpenTasks(ctx context.Context, limit int) ([]models.ReconciliationTask, error)
	ResolveTask(ctx context.Context, id string, at time.Time) error
}

// Repositories groups the repositories sharing one connection or transaction.
type Repositories interface {
	Wallets() WalletRepository
	Entries() LedgerRepository
	Purchases() PurchaseRepository
	Withdrawals() WithdrawalRepository
	Limits() LimitRepository
	Tasks() ReconciliationRepository
}

// Tx is a unit of work. Changes become visible on commit only.
type Tx interface {
	Repositories
	// Savepoint runs fn in a nested savepoint. An error from fn undoes only
	// the savepoint's changes and is returned to the caller.
	Savepoint(ctx context.Context, name string, fn func() error) error
}

// Transactor runs units of work.
type Transactor interface {
	// WithinTx commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	// Repos returns repositories outside any transaction (autocommit reads and single writes).
	Repos() Repositories
}
