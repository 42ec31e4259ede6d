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

package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-ledger-go/internal/fraud"
	"marketplace-ledger-go/internal/gateway"
	"marketplace-ledger-go/internal/idempotency"
	"marketplace-ledger-go/internal/ledger"
	"marketplace-ledger-go/internal/limits"
	"marketplace-ledger-go/internal/metrics"
	"marketplace-ledger-go/internal/models"
	"marketplace-ledger-go/internal/store"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const operationWithdraw = "withdraw"

// Request is a user's payout request
type Request struct {
	UserID         string                 `json:"user_id"`
	Currency       string                 `json:"currency"`
	Amount         int64                  `json:"amount"`
	Bank           models.BankDestination `json:"bank"`
	IdempotencyKey string                 `json:"-"`
	IP             string                 `json:"-"`
}

// Result is the outcome of a withdrawal. It is cached under the idempotency key.
type Result struct {
	Withdrawal models.Withdrawal `json:"withdrawal"`
	RiskScore  int               `json:"risk_score"`
	RiskAction string            `json:"risk_action"`
}

// Processor drives a withdrawal through limits, fraud scoring, bank
// validation, the ledger lock and the payout gateway.
type Processor struct {
	store   store.Transactor
	ledger  *ledger.Service
	guard   *idempotency.Guard
	limiter *limits.Limiter
	fraud   *fraud.Detector
	routes  *gateway.Routes
	fees    *FeeCalculator
	now     func() time.Time
}

func NewProcessor(
	st store.Transactor,
	ledgerService *ledger.Service,
	guard *idempotency.Guard,
	limiter *limits.Limiter,
	detector *fraud.Detector,
	routes *gateway.Routes,
	fees *FeeCalculator,
) *Processor {
	return &Processor{
		store:   st,
		ledger:  ledgerService,
		guard:   guard,
		limiter: limiter,
		fraud:   detector,
		routes:  routes,
		fees:    fees,
		now:     time.Now,
	}
}

// Withdraw executes req at most once per idempotency key. Funds are locked
// before the payout call; a definite gateway failure releases them and an
// unknown outcome leaves them pending for reconciliation.
func (p *Processor) Withdraw(ctx context.Context, req Request) (*Result, error) {
	cur, err := models.NormalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	req.Currency = cur
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrValidation)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", models.ErrValidation)
	}

	key := fmt.Sprintf("%s:%s:%s", operationWithdraw, req.UserID, req.IdempotencyKey)
	claim, err := p.guard.CheckAndStore(ctx, key, req.UserID, operationWithdraw, req)
	if err != nil {
		return nil, err
	}
	if !claim.IsNew {
		var cached Result
		if err := claim.Replay(&cached); err != nil {
			return nil, err
		}
		return &cached, nil
	}

	result, moved, err := p.process(ctx, req, key)
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		// Nothing moved yet, so a gateway error here is safe to retry.
		if !moved && errors.Is(err, models.ErrGateway) {
			if relErr := p.guard.Release(ctx, key); relErr != nil {
				zap.L().Error("Failed to release idempotency key", zap.String("key", key), zap.Error(relErr))
			}
		} else {
			p.guard.Fail(ctx, key, err)
		}
		return nil, err
	}

	if err := p.guard.StoreResult(ctx, key, result, models.IdempotencyCompleted); err != nil {
		zap.L().Error("Failed to store withdrawal result",
			zap.String("key", key),
			zap.String("reference", result.Withdrawal.Reference),
			zap.Error(err))
	}
	return result, nil
}

// process reports moved=true once funds have been locked.
func (p *Processor) process(ctx context.Context, req Request, key string) (*Result, bool, error) {
	check, err := p.limiter.CheckLimits(ctx, req.UserID, req.Amount, req.Currency)
	if err != nil {
		return nil, false, err
	}
	if err := check.Err(); err != nil {
		p.logDenied(req, check)
		return nil, false, err
	}

	payee := req.Bank.BankCode + ":" + req.Bank.AccountNumber
	risk := p.fraud.Analyze(ctx, fraud.Input{
		UserID:    req.UserID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Operation: fraud.OperationWithdrawal,
		IP:        req.IP,
		Payee:     payee,
		At:        p.now(),
	})
	if err := risk.Err(); err != nil {
		return nil, false, err
	}

	payoutGateway, err := p.routes.Resolve(req.Currency, "")
	if err != nil {
		return nil, false, err
	}
	dest, err := ValidateDestination(ctx, p.routes.Resolver(req.Currency), req.Currency, req.Bank)
	if err != nil {
		return nil, false, err
	}

	fees, err := p.fees.Calculate(req.Amount, req.Currency)
	if err != nil {
		return nil, false, err
	}

	w := &models.Withdrawal{
		UserId:        req.UserID,
		Currency:      req.Currency,
		Amount:        req.Amount,
		Commission:    fees.Commission.StringFixed(feePlaces),
		GatewayFee:    fees.GatewayFee.StringFixed(feePlaces),
		NetAmount:     fees.NetAmount.StringFixed(feePlaces),
		PayoutAmount:  fees.PayoutAmount,
		BankCode:      dest.BankCode,
		AccountNumber: dest.AccountNumber,
		AccountName:   dest.AccountName,
		Gateway:       payoutGateway.Name(),
		Reference:     "WD-" + ulid.Make().String(),
		Status:        models.WithdrawalRequested,
	}

	// The row reserves its amount against the limits, so the re-check and the
	// insert share one transaction.
	err = p.store.WithinTx(ctx, func(tx store.Tx) error {
		check, err := p.limiter.CheckLimitsTx(ctx, tx, req.UserID, req.Amount, req.Currency)
		if err != nil {
			return err
		}
		if err := check.Err(); err != nil {
			p.logDenied(req, check)
			return err
		}
		return tx.Withdrawals().CreateWithdrawal(ctx, w)
	})
	if err != nil {
		return nil, false, err
	}

	opts := ledger.Options{
		Reference:   w.Reference,
		Description: "withdrawal to " + dest.BankCode + " " + maskAccount(dest.AccountNumber),
		Metadata: models.Metadata{
			models.MetaIdempotencyKey: key,
			models.MetaPayee:          payee,
			models.MetaRiskFlags:      risk.FlagString(),
			models.MetaIP:             req.IP,
		},
	}
	if _, err := p.transition(ctx, w, step{
		from:  []models.WithdrawalStatus{models.WithdrawalRequested},
		to:    models.WithdrawalLocked,
		entry: models.EntryLock,
		opts:  opts,
	}); err != nil {
		p.Abandon(context.WithoutCancel(ctx), w, "funds could not be locked: "+err.Error())
		return nil, false, err
	}

	payout, payoutErr := payoutGateway.InitiatePayout(ctx, models.PayoutRequest{
		Destination: *dest,
		Amount:      fees.PayoutAmount,
		Currency:    req.Currency,
		Reference:   w.Reference,
		Reason:      "Marketplace earnings withdrawal",
	})
	// The payout may have executed, so its outcome is recorded even if the
	// caller has gone away.
	settleCtx := context.WithoutCancel(ctx)
	if err := p.settle(settleCtx, w, payout, payoutErr); err != nil {
		return nil, true, err
	}

	if w.Status == models.WithdrawalCompleted {
		p.fraud.Observe(settleCtx, fraud.Input{
			UserID:   req.UserID,
			Amount:   req.Amount,
			Currency: req.Currency,
			Payee:    payee,
			At:       p.now(),
		})
	}

	return &Result{Withdrawal: *w, RiskScore: risk.RiskScore, RiskAction: risk.Action}, true, nil
}

func (p *Processor) logDenied(req Request, check *limits.Check) {
	zap.L().Info("Withdrawal denied by limits",
		zap.String("user_id", req.UserID),
		zap.String("currency", req.Currency),
		zap.Int64("amount", req.Amount),
		zap.Int64("in_flight", check.InFlight),
		zap.String("reason", check.Reason))
}

// settle applies a payout outcome to locked funds. A definite failure is
// returned to the caller after the lock is released.
func (p *Processor) settle(ctx context.Context, w *models.Withdrawal, payout *models.Payout, payoutErr error) error {
	switch {
	case payoutErr != nil && models.IsUnknownOutcome(payoutErr):
		p.park(ctx, w, "", "payout outcome unknown: "+payoutErr.Error())
		return nil

	case payoutErr != nil:
		if _, err := p.Release(ctx, w, "", payoutErr.Error()); err != nil {
			zap.L().Error("Failed to release withdrawal lock",
				zap.String("reference", w.Reference),
				zap.Error(err))
			p.park(ctx, w, "", "release failed after payout error: "+payoutErr.Error())
			return nil
		}
		return payoutErr
	}

	switch payout.Status {
	case models.GatewayStatusSuccess:
		if _, err := p.Complete(ctx, w, payout.PayoutId); err != nil {
			zap.L().Error("Failed to complete withdrawal",
				zap.String("reference", w.Reference),
				zap.Error(err))
			p.park(ctx, w, payout.PayoutId, "payout succeeded but completion failed")
		}
		return nil
	case models.GatewayStatusFailed:
		if _, err := p.Release(ctx, w, payout.PayoutId, "payout failed"); err != nil {
			zap.L().Error("Failed to release withdrawal lock", zap.String("reference", w.Reference), zap.Error(err))
			p.park(ctx, w, payout.PayoutId, "release failed after payout failure")
			return nil
		}
		return &models.GatewayError{
			Gateway: w.Gateway,
			Code:    "payout_failed",
			Reason:  "the payout was rejected by the payment provider",
		}
	default:
		p.park(ctx, w, payout.PayoutId, "payout accepted but not settled")
		return nil
	}
}

// unsettled are the states whose funds are still locked.
var unsettled = []models.WithdrawalStatus{models.WithdrawalLocked, models.WithdrawalPendingReconciliation}

// Complete clears the locked funds of a paid-out withdrawal and records the
// limit usage. It reports false when the withdrawal was already settled.
func (p *Processor) Complete(ctx context.Context, w *models.Withdrawal, payoutId string) (bool, error) {
	moved, err := p.transition(ctx, w, step{
		from:     unsettled,
		to:       models.WithdrawalCompleted,
		entry:    models.EntryWithdrawalComplete,
		payoutId: payoutId,
		usage:    true,
		opts:     ledger.Options{Reference: w.Reference, Description: "withdrawal paid out"},
	})
	if moved {
		metrics.Business.WithdrawAmountTotal.WithLabelValues(w.Currency).Add(float64(w.Amount))
	}
	return moved, err
}

// Release returns the locked funds of a withdrawal whose payout failed. It
// reports false when the withdrawal was already settled.
func (p *Processor) Release(ctx context.Context, w *models.Withdrawal, payoutId, reason string) (bool, error) {
	return p.transition(ctx, w, step{
		from:     unsettled,
		to:       models.WithdrawalReleased,
		entry:    models.EntryRelease,
		payoutId: payoutId,
		reason:   reason,
		opts:     ledger.Options{Reference: w.Reference, Description: "withdrawal released"},
	})
}

// Abandon closes a withdrawal that never locked funds.
func (p *Processor) Abandon(ctx context.Context, w *models.Withdrawal, reason string) (bool, error) {
	moved, err := p.transition(ctx, w, step{
		from:   []models.WithdrawalStatus{models.WithdrawalRequested},
		to:     models.WithdrawalReleased,
		reason: reason,
	})
	if err != nil {
		zap.L().Error("Failed to abandon withdrawal",
			zap.String("withdrawal_id", w.Id),
			zap.String("reference", w.Reference),
			zap.Error(err))
	}
	return moved, err
}

// park hands a locked withdrawal to reconciliation. A failure leaves the row
// locked, which the reconciler also picks up once it is stale.
func (p *Processor) park(ctx context.Context, w *models.Withdrawal, payoutId, reason string) {
	_, err := p.transition(ctx, w, step{
		from:     []models.WithdrawalStatus{models.WithdrawalLocked},
		to:       models.WithdrawalPendingReconciliation,
		payoutId: payoutId,
		reason:   reason,
	})
	if err != nil {
		zap.L().Error("Failed to hand withdrawal to reconciliation",
			zap.String("withdrawal_id", w.Id),
			zap.String("reference", w.Reference),
			zap.Error(err))
	}
}

// PayoutStatus asks the withdrawal's gateway for the payout outcome.
func (p *Processor) PayoutStatus(ctx context.Context, w *models.Withdrawal) (*models.Payout, error) {
	g, err := p.routes.Resolve(w.Currency, w.Gateway)
	if err != nil {
		return nil, err
	}
	return g.PayoutStatus(ctx, w.Reference, w.PayoutId)
}

// step is one guarded move of the withdrawal state machine.
type step struct {
	from     []models.WithdrawalStatus
	to       models.WithdrawalStatus
	entry    models.EntryKind // optional wallet entry
	usage    bool             // record limit usage
	payoutId string
	reason   string
	opts     ledger.Options
}

var errSettled = errors.New("withdrawal already moved")

// transition applies s in one transaction: the status change, its wallet entry
// and its limit usage commit together or not at all. When the row is no longer
// in s.from, nothing changes, w is reloaded and transition reports false.
func (p *Processor) transition(ctx context.Context, w *models.Withdrawal, s step) (bool, error) {
	var entry *models.LedgerEntry
	err := p.store.WithinTx(ctx, func(tx store.Tx) error {
		moved, err := tx.Withdrawals().TransitionWithdrawal(ctx, w.Id, s.from, s.to, s.payoutId, s.reason)
		if err != nil {
			return err
		}
		if !moved {
			return errSettled
		}
		if s.entry != "" {
			entry, err = p.ledger.WithdrawalEntryTx(ctx, tx, s.entry, w.UserId, w.Currency, w.Amount, s.opts)
			if err != nil {
				return err
			}
		}
		if s.usage {
			return p.limiter.RecordUsageTx(ctx, tx, w.UserId, w.Amount, w.Currency)
		}
		return nil
	})

	if errors.Is(err, errSettled) {
		current, getErr := p.store.Repos().Withdrawals().GetWithdrawal(ctx, w.Id)
		if getErr != nil {
			return false, getErr
		}
		zap.L().Info("Withdrawal already moved",
			zap.String("withdrawal_id", w.Id),
			zap.String("reference", w.Reference),
			zap.String("status", string(current.Status)),
			zap.String("wanted", string(s.to)))
		*w = *current
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if entry != nil {
		p.ledger.PublishCommitted(entry)
	}
	w.Status = s.to
	if s.payoutId != "" {
		w.PayoutId = s.payoutId
	}
	w.FailureReason = s.reason
	w.UpdatedAt = p.now().UTC()

	metrics.Business.WithdrawalsTotal.WithLabelValues(w.Currency, string(s.to)).Inc()
	logFn := zap.L().Info
	if s.to == models.WithdrawalPendingReconciliation {
		logFn = zap.L().Warn
	}
	logFn("Withdrawal status changed",
		zap.String("withdrawal_id", w.Id),
		zap.String("user_id", w.UserId),
		zap.String("reference", w.Reference),
		zap.String("status", string(s.to)),
		zap.String("payout_id", w.PayoutId),
		zap.String("reason", s.reason))
	return true, nil
}

func maskAccount(account string) string {
	if len(account) <= 4 {
		return account
	}
	return "****" + account[len(account)-4:]
}
