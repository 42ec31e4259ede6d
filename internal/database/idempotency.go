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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace-ledger-go/internal/models"
	"marketplace-ledger-go/internal/store"
)

var _ store.IdempotencyRepository = (*repos)(nil)

// InsertIfAbsent claims a key in a single statement. The unique key makes the
// claim atomic; an expired record is overwritten by the same statement.
func (r *repos) InsertIfAbsent(ctx context.Context, rec *models.IdempotencyRecord, now time.Time) (bool, *models.IdempotencyRecord, error) {
	now = now.UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.Status = models.IdempotencyProcessing

	result, err := r.q.ExecContext(ctx, queryClaimIdempotencyKey,
		rec.Key, rec.UserId, rec.OperationType, rec.OperationData, rec.CreatedAt.UTC(), rec.ExpiresAt.UTC(), now)
	if err != nil {
		return false, nil, fmt.Errorf("failed to claim idempotency key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return true, nil, nil
	}

	existing, err := r.GetRecord(ctx, rec.Key)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (r *repos) GetRecord(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	var status string
	err := r.q.QueryRowContext(ctx, queryGetIdempotencyRecord, key).Scan(
		&rec.Key, &rec.UserId, &rec.OperationType, &rec.OperationData, &rec.ResultData, &status, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: idempotency key %s", models.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}
	rec.Status = models.IdempotencyStatus(status)
	return &rec, nil
}

func (r *repos) Finalize(ctx context.Context, key, result string, status models.IdempotencyStatus) (bool, error) {
	res, err := r.q.ExecContext(ctx, queryFinalizeIdempotencyKey, result, string(status), key)
	if err != nil {
		return false, fmt.Errorf("failed to finalize idempotency key: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

func (r *repos) DeleteProcessing(ctx context.Context, key string) error {
	if _, err := r.q.ExecContext(ctx, queryDeleteProcessingIdempotencyKey, key); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

func (r *repos) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, queryPurgeExpiredIdempotencyKeys, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge idempotency keys: %w", err)
	}
	return res.RowsAffected()
}
