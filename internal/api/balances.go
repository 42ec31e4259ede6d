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

package api

import (
	"context"
	"fmt"
	"net/http"

	"marketplace-ledger-go/internal/fraud"
	"marketplace-ledger-go/internal/ledger"
	"marketplace-ledger-go/internal/models"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const operationTransfer = "wallet_transfer"

// handleBalances returns all wallets of the caller
func (s *Service) handleBalances(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	accounts, err := s.deps.Ledger.Balances(r.Context(), user)
	if err != nil {
		zap.L().Error("Failed to get user balances", zap.String("user_id", user), zap.Error(err))
		writeError(w, r, err)
		return
	}

	result := models.BalancesResponse{UserId: user, Balances: make([]models.UserBalance, len(accounts))}
	for i, acct := range accounts {
		result.Balances[i] = models.UserBalance{
			Currency:  acct.Currency,
			Available: acct.BalanceAvailable,
			Pending:   acct.BalancePending,
		}
	}
	writeJSON(w, http.StatusOK, result)
}

// handleHistory returns paginated wallet history for the caller and currency
func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	currency := chi.URLParam(r, "currency")
	limit, offset := pagination(r)

	entries, err := s.deps.Ledger.History(r.Context(), user, currency, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result := make([]models.TransactionRecord, len(entries))
	for i, e := range entries {
		result[i] = models.TransactionRecord{
			Id:            e.Id,
			Kind:          e.Kind,
			Currency:      e.Currency,
			Amount:        e.Amount,
			BalanceBefore: e.BalanceBefore,
			BalanceAfter:  e.BalanceAfter,
			Reference:     e.Reference,
			Description:   e.Description,
			CreatedAt:     e.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, result)
}

// handleTransfer moves funds from the caller to another user at most once per
// idempotency key.
func (s *Service) handleTransfer(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req models.TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.transfer(r.Context(), user, r.RemoteAddr, r.Header.Get(headerIdempotencyKey), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) transfer(ctx context.Context, user, ip, idempotencyKey string, req models.TransferRequest) (*models.TransferResult, error) {
	if idempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", models.ErrValidation)
	}
	key := fmt.Sprintf("transfer:%s:%s", user, idempotencyKey)
	claim, err := s.deps.Guard.CheckAndStore(ctx, key, user, operationTransfer, req)
	if err != nil {
		return nil, err
	}
	if !claim.IsNew {
		var cached models.TransferResult
		if err := claim.Replay(&cached); err != nil {
			return nil, err
		}
		return &cached, nil
	}

	currency, err := models.NormalizeCurrency(req.Currency)
	if err != nil {
		s.deps.Guard.Fail(context.WithoutCancel(ctx), key, err)
		return nil, err
	}
	risk := s.deps.Fraud.Analyze(ctx, fraud.Input{
		UserID:    user,
		Amount:    req.Amount,
		Currency:  currency,
		Operation: fraud.OperationTransfer,
		IP:        ip,
		Payee:     transferPayee(req.ToUserId),
	})
	if err := risk.Err(); err != nil {
		s.deps.Guard.Fail(context.WithoutCancel(ctx), key, err)
		return nil, err
	}

	entries, err := s.deps.Ledger.Transfer(ctx, user, req.ToUserId, currency, req.Amount, ledger.Options{
		Description: req.Description,
	})
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		s.deps.Guard.Fail(ctx, key, err)
		return nil, err
	}
	s.deps.Fraud.Observe(ctx, fraud.Input{UserID: user, Amount: req.Amount, Currency: currency, Payee: transferPayee(req.ToUserId)})

	result := &models.TransferResult{
		Reference:  entries[0].Reference,
		FromUserId: user,
		ToUserId:   req.ToUserId,
		Currency:   entries[0].Currency,
		Amount:     req.Amount,
	}
	if err := s.deps.Guard.StoreResult(ctx, key, result, models.IdempotencyCompleted); err != nil {
		zap.L().Error("Failed to store transfer result", zap.String("key", key), zap.Error(err))
	}
	return result, nil
}

func transferPayee(userId string) string {
	return "user:" + userId
}
