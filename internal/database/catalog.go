package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace-ledger-go/internal/models"

	"go.uber.org/zap"
)

// GetContentPriceAndCurrency reads price, native currency and owner of a catalog item.
// A nil contentId addresses type-level access such as bundles and subscriptions.
func (s *Service) GetContentPriceAndCurrency(ctx context.Context, contentType string, contentId *string) (*models.CatalogItem, error) {
	var item models.CatalogItem
	var id sql.NullString
	err := s.db.QueryRowContext(ctx, queryGetCatalogItem, contentType, nullableString(contentId)).Scan(
		&item.ContentType, &id, &item.Title, &item.Price, &item.Currency, &item.OwnerUserId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: content %s/%s", models.ErrNotFound, contentType, derefOr(contentId, "<none>"))
		}
		zap.L().Error("Failed to query catalog", zap.String("content_type", contentType), zap.Error(err))
		return nil, fmt.Errorf("unable to query catalog: %w", err)
	}
	if id.Valid {
		item.ContentId = &id.String
	}
	return &item, nil
}

// PutCatalogItem inserts or replaces a catalog row. The marketplace owns the
// catalog; this exists for seeding and operator tooling.
func (s *Service) PutCatalogItem(ctx context.Context, item models.CatalogItem) error {
	_, err := s.db.ExecContext(ctx, queryPutCatalogItem,
		item.ContentType, nullableString(item.ContentId), item.Title, item.Price, item.Currency, item.OwnerUserId)
	if err != nil {
		return fmt.Errorf("unable to save catalog item: %w", err)
	}
	zap.L().Info("Catalog item saved",
		zap.String("content_type", item.ContentType),
		zap.String("content_id", derefOr(item.ContentId, "")),
		zap.Int64("price", item.Price),
		zap.String("currency", item.Currency))
	return nil
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
