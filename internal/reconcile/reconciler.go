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

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketplace-ledger-go/internal/idempotency"
	"marketplace-ledger-go/internal/ledger"
	"marketplace-ledger-go/internal/metrics"
	"marketplace-ledger-go/internal/models"
	"marketplace-ledger-go/internal/store"
	"marketplace-ledger-go/internal/withdrawal"

	"go.uber.org/zap"
)

const (
	defaultBatchSize  = 100
	defaultStaleAfter = 15 * time.Minute
)

// Reconciler settles the work that money movement left undetermined:
// withdrawals whose payout outcome is unknown or whose processing stopped
// midway, owner credits that could not be applied at settlement time, and
// ledger entries the mirror missed. Nothing in the request path depends on it.
type Reconciler struct {
	store      store.Transactor
	ledger     *ledger.Service
	processor  *withdrawal.Processor
	guard      *idempotency.Guard
	batchSize  int
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

func NewReconciler(
	st store.Transactor,
	ledgerService *ledger.Service,
	processor *withdrawal.Processor,
	guard *idempotency.Guard,
	cfg models.ReconcileConfig,
) *Reconciler {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &Reconciler{
		store:      st,
		ledger:     ledgerService,
		processor:  processor,
		guard:      guard,
		batchSize:  batch,
		interval:   cfg.Interval,
		staleAfter: staleAfter,
		now:        time.Now,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
}

// RunOnce performs one full pass and reports what it did.
func (r *Reconciler) RunOnce(ctx context.Context) (*models.ReconcileSummary, error) {
	start := r.now()
	defer func() {
		metrics.Business.ReconcileRunDuration.Observe(time.Since(start).Seconds())
	}()

	summary := &models.ReconcileSummary{}
	if err := r.reconcileWithdrawals(ctx, summary); err != nil {
		return summary, err
	}
	if err := r.retryTasks(ctx, summary); err != nil {
		return summary, err
	}

	if r.guard != nil {
		purged, err := r.guard.Purge(ctx)
		if err != nil {
			summary.Errors++
			zap.L().Error("Failed to purge expired idempotency keys", zap.Error(err))
		}
		summary.KeysPurged = purged
	}

	zap.L().Info("Reconciliation pass finished",
		zap.Int("withdrawals_checked", summary.WithdrawalsChecked),
		zap.Int("withdrawals_completed", summary.WithdrawalsCompleted),
		zap.Int("withdrawals_released", summary.WithdrawalsReleased),
		zap.Int("withdrawals_pending", summary.WithdrawalsPending),
		zap.Int("tasks_checked", summary.TasksChecked),
		zap.Int("tasks_resolved", summary.TasksResolved),
		zap.Int("entries_reposted", summary.EntriesReposted),
		zap.Int64("keys_purged", summary.KeysPurged),
		zap.Int("errors", summary.Errors),
		zap.Duration("duration", time.Since(start)))
	return summary, nil
}

func (r *Reconciler) reconcileWithdrawals(ctx context.Context, summary *models.ReconcileSummary) error {
	pending, err := r.store.Repos().Withdrawals().ListWithdrawalsByStatus(ctx, models.WithdrawalPendingReconciliation, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list pending withdrawals: %w", err)
	}

	// Rows left locked or requested past the grace period belong to a process
	// that stopped before recording the payout outcome.
	cutoff := r.now().Add(-r.staleAfter)
	locked, err := r.store.Repos().Withdrawals().ListStaleWithdrawals(ctx, models.WithdrawalLocked, cutoff, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list stale locked withdrawals: %w", err)
	}
	requested, err := r.store.Repos().Withdrawals().ListStaleWithdrawals(ctx, models.WithdrawalRequested, cutoff, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list stale requested withdrawals: %w", err)
	}

	for i := range requested {
		w := &requested[i]
		summary.WithdrawalsChecked++
		moved, err := r.processor.Abandon(ctx, w, "abandoned before funds were locked")
		if err != nil {
			summary.Errors++
			zap.L().Error("Failed to release abandoned withdrawal",
				zap.String("withdrawal_id", w.Id),
				zap.String("reference", w.Reference),
				zap.Error(err))
			continue
		}
		if moved {
			summary.WithdrawalsReleased++
		}
	}

	for _, batch := range [][]models.Withdrawal{pending, locked} {
		for i := range batch {
			r.settleWithdrawal(ctx, &batch[i], summary)
		}
	}
	return nil
}

func (r *Reconciler) settleWithdrawal(ctx context.Context, w *models.Withdrawal, summary *models.ReconcileSummary) {
	summary.WithdrawalsChecked++

	payout, err := r.processor.PayoutStatus(ctx, w)
	if err != nil {
		summary.Errors++
		summary.WithdrawalsPending++
		zap.L().Warn("Payout status unavailable",
			zap.String("withdrawal_id", w.Id),
			zap.String("reference", w.Reference),
			zap.String("gateway", w.Gateway),
			zap.String("status", string(w.Status)),
			zap.Error(err))
		return
	}

	switch payout.Status {
	case models.GatewayStatusSuccess:
		moved, err := r.processor.Complete(ctx, w, payout.PayoutId)
		switch {
		case err != nil:
			summary.Errors++
			summary.WithdrawalsPending++
			zap.L().Error("Failed to complete withdrawal",
				zap.String("withdrawal_id", w.Id),
				zap.String("reference", w.Reference),
				zap.Error(err))
		case moved:
			summary.WithdrawalsCompleted++
		}
	case models.GatewayStatusFailed:
		moved, err := r.processor.Release(ctx, w, payout.PayoutId, "payout failed at gateway")
		switch {
		case err != nil:
			summary.Errors++
			summary.WithdrawalsPending++
			zap.L().Error("Failed to release withdrawal",
				zap.String("withdrawal_id", w.Id),
				zap.String("reference", w.Reference),
				zap.Error(err))
		case moved:
			summary.WithdrawalsReleased++
		}
	default:
		summary.WithdrawalsPending++
		zap.L().Info("Payout still in flight",
			zap.String("withdrawal_id", w.Id),
			zap.String("reference", w.Reference),
			zap.String("status", payout.Status))
	}
}

func (r *Reconciler) retryTasks(ctx context.Context, summary *models.ReconcileSummary) error {
	tasks, err := r.store.Repos().Tasks().ListOpenTasks(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list reconciliation tasks: %w", err)
	}

	for i := range tasks {
		task := &tasks[i]
		switch task.Kind {
		case models.TaskOwnerCredit:
			r.retryOwnerCredit(ctx, task, summary)
		case models.TaskMirrorEntry:
			r.repostEntry(ctx, task, summary)
		}
	}
	return nil
}

func (r *Reconciler) retryOwnerCredit(ctx context.Context, task *models.ReconciliationTask, summary *models.ReconcileSummary) {
	summary.TasksChecked++

	entry, err := r.creditOwner(ctx, task)
	if err != nil {
		summary.Errors++
		zap.L().Error("Owner credit retry failed",
			zap.String("task_id", task.Id),
			zap.String("owner_id", task.UserId),
			zap.String("reference", task.Reference),
			zap.Int64("amount", task.Amount),
			zap.String("currency", task.Currency),
			zap.Error(err))
		return
	}
	r.ledger.PublishCommitted(entry)
	summary.TasksResolved++
	zap.L().Info("Deferred owner credit applied",
		zap.String("task_id", task.Id),
		zap.String("owner_id", task.UserId),
		zap.String("reference", task.Reference),
		zap.Int64("amount", task.Amount),
		zap.String("currency", task.Currency))
}

// repostEntry posts a ledger entry the mirror missed. Without a configured
// mirror the task stays open.
func (r *Reconciler) repostEntry(ctx context.Context, task *models.ReconciliationTask, summary *models.ReconcileSummary) {
	summary.TasksChecked++

	if err := r.ledger.RepostMirrored(ctx, task); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			zap.L().Debug("Mirror entry left open", zap.String("entry_id", task.Reference), zap.Error(err))
			return
		}
		summary.Errors++
		zap.L().Error("Mirror repost failed",
			zap.String("task_id", task.Id),
			zap.String("entry_id", task.Reference),
			zap.Error(err))
		return
	}
	summary.TasksResolved++
	summary.EntriesReposted++
	zap.L().Info("Ledger entry reposted to mirror",
		zap.String("task_id", task.Id),
		zap.String("entry_id", task.Reference))
}

// creditOwner applies the credit and resolves the task in one transaction so
// a task is never credited twice.
func (r *Reconciler) creditOwner(ctx context.Context, task *models.ReconciliationTask) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := r.store.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := r.ledger.EnsureAccountTx(ctx, tx, task.UserId, task.Currency); err != nil {
			return err
		}
		var err error
		entry, err = r.ledger.CreditTx(ctx, tx, task.UserId, task.Currency, task.Amount, ledger.Options{
			Reference:   task.Reference,
			Description: "deferred sale credit",
			Metadata:    models.Metadata{models.MetaSource: "reconciliation"},
		})
		if err != nil {
			return err
		}
		return tx.Tasks().ResolveTask(ctx, task.Id, r.now())
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// VerifyBalances compares every wallet's stored balances with its entry log.
func (r *Reconciler) VerifyBalances(ctx context.Context) ([]models.BalanceCheck, error) {
	users, err := r.store.Repos().Wallets().ListWalletUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet users: %w", err)
	}

	var checks []models.BalanceCheck
	for _, userId := range users {
		accounts, err := r.ledger.Balances(ctx, userId)
		if err != nil {
			return nil, err
		}
		for _, acct := range accounts {
			check := models.BalanceCheck{UserId: userId, Currency: acct.Currency}
			if err := r.ledger.Reconcile(ctx, userId, acct.Currency); err != nil {
				check.Error = err.Error()
			}
			checks = append(checks, check)
		}
	}
	return checks, nil
}

// Start runs a pass every interval until Stop is called or ctx ends.
func (r *Reconciler) Start(ctx context.Context) error {
	if r.interval <= 0 {
		return fmt.Errorf("reconcile interval must be positive, got %v", r.interval)
	}
	go r.loop(ctx)
	zap.L().Info("Reconciler started", zap.Duration("interval", r.interval))
	return nil
}

// Stop ends the loop and waits for an in-progress pass to finish.
func (r *Reconciler) Stop() {
	zap.L().Info("Stopping reconciler")
	r.stopOnce.Do(func() { close(r.stopChan) })
	<-r.doneChan
	zap.L().Info("Reconciler stopped")
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.doneChan)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.runLogged(ctx)
	for {
		select {
		case <-ticker.C:
			r.runLogged(ctx)
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) runLogged(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil {
		zap.L().Error("Reconciliation pass failed", zap.Error(err))
	}
}
