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

package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"

	"marketplace-ledger-go/internal/metrics"
	"marketplace-ledger-go/internal/models"
	"marketplace-ledger-go/internal/store"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// ErrBalanceMismatch is returned by Reconcile when stored balances disagree with the entry log.
var ErrBalanceMismatch = errors.New("balance mismatch")

// Options describe the entry written by a mutation
type Options struct {
	Reference   string
	Description string
	Metadata    models.Metadata
}

// Service is the wallet ledger: the authoritative per-currency balance store.
type Service struct {
	store  store.Transactor
	mirror *MirrorQueue
}

// NewService creates a wallet ledger. mirror may be nil.
func NewService(st store.Transactor, mirror *MirrorQueue) *Service {
	return &Service{
		store:  st,
		mirror: mirror,
	}
}

// Credit increases the available balance.
func (s *Service) Credit(ctx context.Context, userId, currency string, amount int64, opts Options) (*models.LedgerEntry, error) {
	return s.single(ctx, models.EntryCredit, userId, currency, amount, opts)
}

// Debit decreases the available balance. The balance never goes below zero.
func (s *Service) Debit(ctx context.Context, userId, currency string, amount int64, opts Options) (*models.LedgerEntry, error) {
	return s.single(ctx, models.EntryDebit, userId, currency, amount, opts)
}

// LockForWithdrawal moves amount from available to pending.
func (s *Service) LockForWithdrawal(ctx context.Context, userId, currency string, amount int64, opts Options) (*models.LedgerEntry, error) {
	return s.single(ctx, models.EntryLock, userId, currency, amount, opts)
}

// ReleaseLock moves amount from pending back to available.
func (s *Service) ReleaseLock(ctx context.Context, userId, currency string, amount int64, opts Options) (*models.LedgerEntry, error) {
	return s.single(ctx, models.EntryRelease, userId, currency, amount, opts)
}

// CompleteWithdrawal removes amount from pending once the payout left the system.
func (s *Service) CompleteWithdrawal(ctx context.Context, userId, currency string, amount int64, opts Options) (*models.LedgerEntry, error) {
	return s.single(ctx, models.EntryWithdrawalComplete, userId, currency, amount, opts)
}

func (s *Service) single(ctx context.Context, kind models.EntryKind, userId, currency string, amount int64, opts Options) (*models.LedgerEntry, error) {
	cur, err := validate(userId, currency, amount)
	if err != nil {
		return nil, err
	}
	if opts.Reference == "" {
		opts.Reference = ulid.Make().String()
	}

	zap.L().Info("Processing ledger operation",
		zap.String("kind", string(kind)),
		zap.String("user_id", userId),
		zap.String("currency", cur),
		zap.Int64("amount", amount),
		zap.String("reference", opts.Reference))

	var entry *models.LedgerEntry
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		acct, err := tx.Wallets().EnsureAccount(ctx, userId, cur)
		if err != nil {
			return err
		}
		entry, err = applyEntry(ctx, tx, acct, kind, amount, opts)
		return err
	})
	metrics.Business.LedgerOperationsTotal.WithLabelValues(string(kind), cur, metrics.Result(err)).Inc()
	if err != nil {
		if !models.IsBusinessError(err) {
			zap.L().Error("Ledger operation failed",
				zap.String("kind", string(kind)),
				zap.String("user_id", userId),
				zap.String("currency", cur),
				zap.Error(err))
		}
		return nil, err
	}

	zap.L().Info("Ledger operation committed",
		zap.String("entry_id", entry.Id),
		zap.String("kind", string(kind)),
		zap.String("user_id", userId),
		zap.String("currency", cur),
		zap.Int64("balance_before", entry.BalanceBefore),
		zap.Int64("balance_after", entry.BalanceAfter))

	s.PublishCommitted(entry)
	return entry, nil
}

// Transfer moves amount between two users' wallets of the same currency in one
// transaction. Both legs share opts.Reference.
func (s *Service) Transfer(ctx context.Context, fromUserId, toUserId, currency string, amount int64, opts Options) ([]*models.LedgerEntry, error) {
	cur, err := validate(fromUserId, currency, amount)
	if err != nil {
		return nil, err
	}
	if toUserId == "" {
		return nil, fmt.Errorf("%w: recipient is required", models.ErrValidation)
	}
	if fromUserId == toUserId {
		return nil, fmt.Errorf("%w: cannot transfer to the same wallet", models.ErrValidation)
	}
	if opts.Reference == "" {
		opts.Reference = "TRF-" + ulid.Make().String()
	}

	zap.L().Info("Processing transfer",
		zap.String("from_user_id", fromUserId),
		zap.String("to_user_id", toUserId),
		zap.String("currency", cur),
		zap.Int64("amount", amount),
		zap.String("reference", opts.Reference))

	var entries []*models.LedgerEntry
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		entries = nil
		from, err := tx.Wallets().EnsureAccount(ctx, fromUserId, cur)
		if err != nil {
			return err
		}
		to, err := tx.Wallets().EnsureAccount(ctx, toUserId, cur)
		if err != nil {
			return err
		}

		legs := []struct {
			acct         *models.WalletAccount
			kind         models.EntryKind
			counterparty string
		}{
			{from, models.EntryTransferOut, toUserId},
			{to, models.EntryTransferIn, fromUserId},
		}
		// Fixed global order: ascending account id.
		if to.Id < from.Id {
			legs[0], legs[1] = legs[1], legs[0]
		}

		for _, leg := range legs {
			acct, err := tx.Wallets().GetAccount(ctx, leg.acct.UserId, cur)
			if err != nil {
				return err
			}
			legOpts := opts
			legOpts.Metadata = opts.Metadata.Merge(models.Metadata{models.MetaCounterparty: leg.counterparty})
			entry, err := applyEntry(ctx, tx, acct, leg.kind, amount, legOpts)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	metrics.Business.LedgerOperationsTotal.WithLabelValues("transfer", cur, metrics.Result(err)).Inc()
	if err != nil {
		if !models.IsBusinessError(err) {
			zap.L().Error("Transfer failed",
				zap.String("from_user_id", fromUserId),
				zap.String("to_user_id", toUserId),
				zap.String("currency", cur),
				zap.Error(err))
		}
		return nil, err
	}

	zap.L().Info("Transfer committed",
		zap.String("reference", opts.Reference),
		zap.String("from_user_id", fromUserId),
		zap.String("to_user_id", toUserId),
		zap.Int64("amount", amount))

	s.PublishCommitted(entries...)
	return entries, nil
}

// EnsureAccountTx creates the wallet inside the caller's transaction if absent.
func (s *Service) EnsureAccountTx(ctx context.Context, tx store.Tx, userId, currency string) (*models.WalletAccount, error) {
	cur, err := models.NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}
	return tx.Wallets().EnsureAccount(ctx, userId, cur)
}

// CreditTx credits an existing wallet inside the caller's transaction. It
// fails with models.ErrNotFound when the wallet does not exist yet. The caller
// passes the returned entry to PublishCommitted after its commit.
func (s *Service) CreditTx(ctx context.Context, tx store.Tx, userId, currency string, amount int64, opts Options) (*models.LedgerEntry, error) {
	cur, err := validate(userId, currency, amount)
	if err != nil {
		return nil, err
	}
	if opts.Reference == "" {
		opts.Reference = ulid.Make().String()
	}
	acct, err := tx.Wallets().GetAccount(ctx, userId, cur)
	if err != nil {
		return nil, err
	}
	return applyEntry(ctx, tx, acct, models.EntryCredit, amount, opts)
}

// PublishCommitted offers committed entries to the mirror, if any.
func (s *Service) PublishCommitted(entries ...*models.LedgerEntry) {
	if s.mirror == nil || len(entries) == 0 {
		return
	}
	s.mirror.Publish(entries...)
}

// RepostMirrored posts an entry whose mirroring failed earlier. It is an error
// when no mirror is configured.
func (s *Service) RepostMirrored(ctx context.Context, task *models.ReconciliationTask) error {
	if s.mirror == nil {
		return fmt.Errorf("%w: formance mirror is disabled", models.ErrNotFound)
	}
	return s.mirror.Repost(ctx, task)
}

// WithdrawalEntryTx applies a lock, release or withdrawal_complete entry
// inside the caller's transaction, so the withdrawal row and the wallet move
// together. The caller passes the returned entry to PublishCommitted after
// its commit.
func (s *Service) WithdrawalEntryTx(ctx context.Context, tx store.Tx, kind models.EntryKind, userId, currency string, amount int64, opts Options) (*models.LedgerEntry, error) {
	switch kind {
	case models.EntryLock, models.EntryRelease, models.EntryWithdrawalComplete:
	default:
		return nil, fmt.Errorf("%w: %s is not a withdrawal entry", models.ErrValidation, kind)
	}
	cur, err := validate(userId, currency, amount)
	if err != nil {
		return nil, err
	}
	if opts.Reference == "" {
		opts.Reference = ulid.Make().String()
	}
	acct, err := tx.Wallets().EnsureAccount(ctx, userId, cur)
	if err != nil {
		return nil, err
	}
	entry, err := applyEntry(ctx, tx, acct, kind, amount, opts)
	metrics.Business.LedgerOperationsTotal.WithLabelValues(string(kind), cur, metrics.Result(err)).Inc()
	return entry, err
}

// applyEntry appends one entry and writes the resulting balances with the
// version check. acct must have been read inside tx.
func applyEntry(ctx context.Context, tx store.Repositories, acct *models.WalletAccount, kind models.EntryKind, amount int64, opts Options) (*models.LedgerEntry, error) {
	available, pending := acct.BalanceAvailable, acct.BalancePending
	before, after := available, available

	switch kind {
	case models.EntryCredit, models.EntryTransferIn:
		if available > math.MaxInt64-amount {
			return nil, fmt.Errorf("%w: balance overflow", models.ErrValidation)
		}
		available += amount
		after = available
	case models.EntryDebit, models.EntryTransferOut:
		if available < amount {
			return nil, fmt.Errorf("%w: available %d, requested %d", models.ErrInsufficientFunds, available, amount)
		}
		available -= amount
		after = available
	case models.EntryLock:
		if available < amount {
			return nil, fmt.Errorf("%w: available %d, requested %d", models.ErrInsufficientFunds, available, amount)
		}
		available -= amount
		pending += amount
		after = available
	case models.EntryRelease:
		if pending < amount {
			return nil, fmt.Errorf("%w: pending %d, requested %d", models.ErrInsufficientFunds, pending, amount)
		}
		pending -= amount
		available += amount
		after = available
	case models.EntryWithdrawalComplete:
		if pending < amount {
			return nil, fmt.Errorf("%w: pending %d, requested %d", models.ErrInsufficientFunds, pending, amount)
		}
		// Tracks the pending balance; available is untouched.
		before = pending
		pending -= amount
		after = pending
	default:
		return nil, fmt.Errorf("%w: unknown entry kind %q", models.ErrValidation, kind)
	}

	entry := &models.LedgerEntry{
		WalletId:      acct.Id,
		UserId:        acct.UserId,
		Currency:      acct.Currency,
		Kind:          kind,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reference:     opts.Reference,
		Description:   opts.Description,
		Metadata:      withRequestMetadata(ctx, opts.Metadata),
	}
	if err := tx.Entries().AppendEntry(ctx, entry); err != nil {
		return nil, err
	}
	if err := tx.Wallets().UpdateBalances(ctx, acct, available, pending, entry.Id); err != nil {
		return nil, err
	}
	return entry, nil
}

func withRequestMetadata(ctx context.Context, md models.Metadata) models.Metadata {
	rc := models.GetRequestContext(ctx)
	if rc == nil {
		return md
	}
	return models.Metadata{
		models.MetaSource: rc.Source,
		models.MetaIP:     rc.IP,
	}.Merge(md)
}

func validate(userId, currency string, amount int64) (string, error) {
	if userId == "" {
		return "", fmt.Errorf("%w: user id is required", models.ErrValidation)
	}
	cur, err := models.NormalizeCurrency(currency)
	if err != nil {
		return "", err
	}
	if amount <= 0 {
		return "", fmt.Errorf("%w: amount must be positive, got %d", models.ErrValidation, amount)
	}
	return cur, nil
}
