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

package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marketplace-ledger-go/internal/metrics"
	"marketplace-ledger-go/internal/models"
	"marketplace-ledger-go/internal/store"

	"go.uber.org/zap"
)

// DefaultTTL is how long a key blocks reuse
const DefaultTTL = 24 * time.Hour

// Result of claiming a key. When IsNew is false, Record is the stored record.
type Result struct {
	IsNew  bool
	Record *models.IdempotencyRecord
}

// failure is the stored result of an operation that ended in a business error
type failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Guard deduplicates financial operations by caller-supplied key
type Guard struct {
	repo store.IdempotencyRepository
	ttl  time.Duration
	now  func() time.Time
}

func NewGuard(repo store.IdempotencyRepository, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		repo: repo,
		ttl:  ttl,
		now:  time.Now,
	}
}

// CheckAndStore claims key with a processing record in one atomic statement.
// An expired key is claimed as if it were new. A live key reused with different
// operation data is rejected.
func (g *Guard) CheckAndStore(ctx context.Context, key, userId, operationType string, operationData any) (*Result, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", models.ErrValidation)
	}
	data, err := json.Marshal(operationData)
	if err != nil {
		return nil, fmt.Errorf("failed to encode operation data: %w", err)
	}

	now := g.now().UTC()
	rec := &models.IdempotencyRecord{
		Key:           key,
		UserId:        userId,
		OperationType: operationType,
		OperationData: string(data),
		CreatedAt:     now,
		ExpiresAt:     now.Add(g.ttl),
	}

	inserted, existing, err := g.repo.InsertIfAbsent(ctx, rec, now)
	if err != nil {
		zap.L().Error("Failed to claim idempotency key", zap.String("key", key), zap.Error(err))
		return nil, err
	}
	if inserted {
		return &Result{IsNew: true, Record: rec}, nil
	}

	if existing.OperationType != operationType || existing.OperationData != string(data) {
		zap.L().Warn("Idempotency key reused with different parameters",
			zap.String("key", key),
			zap.String("operation_type", operationType),
			zap.String("stored_operation_type", existing.OperationType))
		return nil, fmt.Errorf("%w: idempotency key reused with different parameters", models.ErrValidation)
	}

	metrics.Business.IdempotencyReplaysTotal.WithLabelValues(operationType, string(existing.Status)).Inc()
	zap.L().Info("Idempotency key already claimed",
		zap.String("key", key),
		zap.String("operation_type", operationType),
		zap.String("status", string(existing.Status)))
	return &Result{IsNew: false, Record: existing}, nil
}

// StoreResult finalizes a processing record exactly once.
func (g *Guard) StoreResult(ctx context.Context, key string, result any, status models.IdempotencyStatus) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode operation result: %w", err)
	}
	ok, err := g.repo.Finalize(ctx, key, string(data), status)
	if err != nil {
		zap.L().Error("Failed to finalize idempotency key", zap.String("key", key), zap.Error(err))
		return err
	}
	if !ok {
		return fmt.Errorf("%w: idempotency key %s is already finalized", models.ErrAlreadyProcessed, key)
	}
	return nil
}

// Release deletes a still-processing record so the caller may retry.
func (g *Guard) Release(ctx context.Context, key string) error {
	return g.repo.DeleteProcessing(ctx, key)
}

// Fail records the outcome of a failed operation. Business errors are stored
// and replayed; infrastructure errors release the key instead.
func (g *Guard) Fail(ctx context.Context, key string, opErr error) {
	var err error
	if models.IsBusinessError(opErr) {
		err = g.StoreResult(ctx, key, failure{Kind: models.ErrorKind(opErr), Message: opErr.Error()}, models.IdempotencyFailed)
	} else {
		err = g.Release(ctx, key)
	}
	if err != nil {
		zap.L().Error("Failed to record idempotency failure",
			zap.String("key", key),
			zap.NamedError("operation_error", opErr),
			zap.Error(err))
	}
}

// Replay decodes the stored outcome of an existing record into out. A
// processing record yields models.ErrOperationInFlight and a failed record
// yields the stored error.
func (r *Result) Replay(out any) error {
	if r == nil || r.Record == nil {
		return errors.New("no stored record to replay")
	}
	switch r.Record.Status {
	case models.IdempotencyProcessing:
		return models.ErrOperationInFlight
	case models.IdempotencyFailed:
		var f failure
		if err := json.Unmarshal([]byte(r.Record.ResultData), &f); err != nil {
			return fmt.Errorf("failed to decode stored failure: %w", err)
		}
		return models.ErrorFromKind(f.Kind, f.Message)
	case models.IdempotencyCompleted:
		if err := json.Unmarshal([]byte(r.Record.ResultData), out); err != nil {
			return fmt.Errorf("failed to decode stored result: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown idempotency status %q", r.Record.Status)
}

// Purge removes expired records
func (g *Guard) Purge(ctx context.Context) (int64, error) {
	n, err := g.repo.PurgeExpired(ctx, g.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		zap.L().Info("Purged expired idempotency keys", zap.Int64("count", n))
	}
	return n, nil
}
