package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace-ledger-go/internal/models"
	"marketplace-ledger-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (r *repos) CreatePurchase(ctx context.Context, p *models.Purchase) error {
	if p.Id == "" {
		p.Id = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := r.q.ExecContext(ctx, queryInsertPurchase,
		p.Id, p.UserId, p.ContentType, nullableString(p.ContentId), p.Amount, p.Currency, p.Gateway,
		p.PaymentReference, p.Status, p.CouponCode, p.Metadata, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: payment_reference %s already exists", store.ErrDuplicateReference, p.PaymentReference)
		}
		return fmt.Errorf("failed to insert purchase: %w", err)
	}

	zap.L().Info("Purchase recorded",
		zap.String("purchase_id", p.Id),
		zap.String("user_id", p.UserId),
		zap.String("reference", p.PaymentReference),
		zap.Int64("amount", p.Amount),
		zap.String("currency", p.Currency))
	return nil
}

func scanPurchase(row rowScanner) (*models.Purchase, error) {
	var p models.Purchase
	var contentId sql.NullString
	err := row.Scan(&p.Id, &p.UserId, &p.ContentType, &contentId, &p.Amount, &p.Currency, &p.Gateway,
		&p.PaymentReference, &p.Status, &p.CouponCode, &p.Metadata, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if contentId.Valid {
		p.ContentId = &contentId.String
	}
	return &p, nil
}

func (r *repos) GetPurchaseByReference(ctx context.Context, reference string) (*models.Purchase, error) {
	p, err := scanPurchase(r.q.QueryRowContext(ctx, queryGetPurchaseByReference, reference))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: purchase %s", models.ErrNotFound, reference)
		}
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}
	return p, nil
}

func (r *repos) HasCompletedPurchase(ctx context.Context, userId, contentType, contentId string) (bool, error) {
	var exists bool
	if err := r.q.QueryRowContext(ctx, queryHasCompletedPurchase, userId, contentType, contentId).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check existing purchase: %w", err)
	}
	return exists, nil
}

func (r *repos) ListPurchases(ctx context.Context, userId string, limit, offset int) ([]models.Purchase, error) {
	rows, err := r.q.QueryContext(ctx, queryGetUserPurchases, userId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	defer closeRows(rows)

	var purchases []models.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		purchases = append(purchases, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating purchase rows: %w", err)
	}
	return purchases, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
