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

package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-ledger-go/internal/fraud"
	"marketplace-ledger-go/internal/gateway"
	"marketplace-ledger-go/internal/idempotency"
	"marketplace-ledger-go/internal/ledger"
	"marketplace-ledger-go/internal/metrics"
	"marketplace-ledger-go/internal/models"
	"marketplace-ledger-go/internal/store"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	operationInitialize = "initialize_payment"
	operationVerify     = "verify_payment"
)

// Content addresses a catalog item. A nil ID is type-level access (bundles, subscriptions).
type Content struct {
	Type string  `json:"type"`
	ID   *string `json:"id,omitempty"`
}

// InitializeRequest starts a payment for content
type InitializeRequest struct {
	UserID         string  `json:"user_id"`
	Content        Content `json:"content"`
	PayerEmail     string  `json:"payer_email"`
	ForceCurrency  string  `json:"force_currency,omitempty"`
	CouponCode     string  `json:"coupon_code,omitempty"`
	PriceOverride  *int64  `json:"price_override,omitempty"`
	Gateway        string  `json:"gateway,omitempty"`
	IdempotencyKey string  `json:"-"`
	IP             string  `json:"-"`
}

// InitializeResult is cached under the idempotency key and replayed untouched.
type InitializeResult struct {
	Reference   string `json:"reference"`
	RedirectURL string `json:"redirect_url,omitempty"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Gateway     string `json:"gateway"`
	Free        bool   `json:"free,omitempty"`
	PurchaseId  string `json:"purchase_id,omitempty"`
}

// VerifyRequest confirms a payment with the gateway and settles it
type VerifyRequest struct {
	Reference      string `json:"reference"`
	Currency       string `json:"currency"`
	Gateway        string `json:"gateway,omitempty"`
	IdempotencyKey string `json:"-"`
	// Source is client or webhook
	Source string `json:"-"`
}

// VerifyResult describes a settled payment
type VerifyResult struct {
	Purchase      models.Purchase `json:"purchase"`
	OwnerCredited bool            `json:"owner_credited"`
	// ReconciliationTaskId is set when the owner credit was deferred to an operator.
	ReconciliationTaskId string `json:"reconciliation_task_id,omitempty"`
}

// Router initializes and settles content payments through the gateway
// routed for each currency.
type Router struct {
	store     store.Transactor
	catalog   Catalog
	ledger    *ledger.Service
	guard     *idempotency.Guard
	fraud     *fraud.Detector
	routes    *gateway.Routes
	converter *Converter
	coupons   map[string]models.Coupon
	now       func() time.Time
}

func NewRouter(
	st store.Transactor,
	catalog Catalog,
	ledgerService *ledger.Service,
	guard *idempotency.Guard,
	detector *fraud.Detector,
	routes *gateway.Routes,
	policy *models.Policy,
) *Router {
	return &Router{
		store:     st,
		catalog:   catalog,
		ledger:    ledgerService,
		guard:     guard,
		fraud:     detector,
		routes:    routes,
		converter: NewConverter(policy.Rates),
		coupons:   policy.Coupons,
		now:       time.Now,
	}
}

// InitializePayment prices the content and opens a gateway session, at most
// once per idempotency key.
func (r *Router) InitializePayment(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	if req.UserID == "" || req.Content.Type == "" {
		return nil, fmt.Errorf("%w: user id and content type are required", models.ErrValidation)
	}
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", models.ErrValidation)
	}

	key := fmt.Sprintf("init:%s:%s", req.UserID, req.IdempotencyKey)
	claim, err := r.guard.CheckAndStore(ctx, key, req.UserID, operationInitialize, req)
	if err != nil {
		return nil, err
	}
	if !claim.IsNew {
		var cached InitializeResult
		if err := claim.Replay(&cached); err != nil {
			return nil, err
		}
		return &cached, nil
	}

	result, err := r.initialize(ctx, req, key)
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		// No money moves at initialization, so gateway failures stay retryable.
		if errors.Is(err, models.ErrGateway) {
			if relErr := r.guard.Release(ctx, key); relErr != nil {
				zap.L().Error("Failed to release idempotency key", zap.String("key", key), zap.Error(relErr))
			}
		} else {
			r.guard.Fail(ctx, key, err)
		}
		return nil, err
	}

	if err := r.guard.StoreResult(ctx, key, result, models.IdempotencyCompleted); err != nil {
		zap.L().Error("Failed to store payment initialization", zap.String("key", key), zap.Error(err))
	}
	return result, nil
}

func (r *Router) initialize(ctx context.Context, req InitializeRequest, key string) (*InitializeResult, error) {
	item, err := r.catalog.GetContentPriceAndCurrency(ctx, req.Content.Type, req.Content.ID)
	if err != nil {
		return nil, err
	}
	nativeCurrency, err := models.NormalizeCurrency(item.Currency)
	if err != nil {
		return nil, err
	}

	price := item.Price
	if req.PriceOverride != nil {
		if *req.PriceOverride < 0 {
			return nil, fmt.Errorf("%w: price override must not be negative", models.ErrValidation)
		}
		price = *req.PriceOverride
	}
	price, err = ApplyCoupon(r.coupons, req.CouponCode, price, req.Content.ID)
	if err != nil {
		return nil, err
	}

	currency := nativeCurrency
	if req.ForceCurrency != "" {
		if currency, err = models.NormalizeCurrency(req.ForceCurrency); err != nil {
			return nil, err
		}
	}

	md := models.Metadata{
		models.MetaUserId:         req.UserID,
		models.MetaContentType:    req.Content.Type,
		models.MetaOwnerId:        item.OwnerUserId,
		models.MetaCouponCode:     req.CouponCode,
		models.MetaIdempotencyKey: req.IdempotencyKey,
	}
	if req.Content.ID != nil {
		md[models.MetaContentId] = *req.Content.ID
	}

	if price == 0 {
		return r.settleFree(ctx, req, currency, md)
	}

	if req.Content.ID != nil {
		owned, err := r.store.Repos().Purchases().HasCompletedPurchase(ctx, req.UserID, req.Content.Type, *req.Content.ID)
		if err != nil {
			return nil, err
		}
		if owned {
			return nil, fmt.Errorf("%w: %s %s", models.ErrDuplicatePurchase, req.Content.Type, *req.Content.ID)
		}
	}

	amount, err := r.converter.Convert(price, nativeCurrency, currency)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: converted price rounds to zero", models.ErrValidation)
	}

	g, err := r.routes.Resolve(currency, req.Gateway)
	if err != nil {
		return nil, err
	}

	risk := r.fraud.Analyze(ctx, fraud.Input{
		UserID:    req.UserID,
		Amount:    amount,
		Currency:  currency,
		Operation: fraud.OperationPayment,
		IP:        req.IP,
		At:        r.now(),
	})
	if err := risk.Err(); err != nil {
		metrics.Business.PaymentsInitializedTotal.WithLabelValues(g.Name(), currency, metrics.ResultError).Inc()
		return nil, err
	}
	if len(risk.Flags) > 0 {
		md[models.MetaRiskFlags] = risk.FlagString()
	}

	session, err := g.InitializeSession(ctx, models.SessionRequest{
		Reference:  "PAY-" + ulid.Make().String(),
		Amount:     amount,
		Currency:   currency,
		PayerEmail: req.PayerEmail,
		Metadata:   md,
	})
	metrics.Business.PaymentsInitializedTotal.WithLabelValues(g.Name(), currency, metrics.Result(err)).Inc()
	if err != nil {
		return nil, err
	}

	zap.L().Info("Payment initialized",
		zap.String("user_id", req.UserID),
		zap.String("content_type", req.Content.Type),
		zap.String("reference", session.Reference),
		zap.String("gateway", g.Name()),
		zap.Int64("amount", amount),
		zap.String("currency", currency),
		zap.String("key", key))

	return &InitializeResult{
		Reference:   session.Reference,
		RedirectURL: session.RedirectURL,
		Amount:      amount,
		Currency:    currency,
		Gateway:     g.Name(),
	}, nil
}

// settleFree records a zero-amount purchase without touching any gateway.
func (r *Router) settleFree(ctx context.Context, req InitializeRequest, currency string, md models.Metadata) (*InitializeResult, error) {
	purchase := &models.Purchase{
		UserId:           req.UserID,
		ContentType:      req.Content.Type,
		ContentId:        req.Content.ID,
		Amount:           0,
		Currency:         currency,
		Gateway:          models.GatewayNone,
		PaymentReference: "FREE-" + ulid.Make().String(),
		Status:           models.PurchaseCompleted,
		CouponCode:       req.CouponCode,
		Metadata:         md,
	}
	if err := r.store.Repos().Purchases().CreatePurchase(ctx, purchase); err != nil {
		return nil, err
	}

	metrics.Business.PaymentsSettledTotal.WithLabelValues(models.GatewayNone, currency).Inc()
	zap.L().Info("Free purchase recorded",
		zap.String("user_id", req.UserID),
		zap.String("content_type", req.Content.Type),
		zap.String("reference", purchase.PaymentReference),
		zap.String("coupon_code", req.CouponCode))

	return &InitializeResult{
		Reference:  purchase.PaymentReference,
		Amount:     0,
		Currency:   currency,
		Gateway:    models.GatewayNone,
		Free:       true,
		PurchaseId: purchase.Id,
	}, nil
}

// VerifyPayment confirms reference with its gateway and settles it exactly
// once. It is safe to call concurrently from a client and a webhook.
func (r *Router) VerifyPayment(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if req.Reference == "" {
		return nil, fmt.Errorf("%w: payment reference is required", models.ErrValidation)
	}
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", models.ErrValidation)
	}
	currency, err := models.NormalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	req.Currency = currency

	g, err := r.routes.Resolve(currency, req.Gateway)
	if err != nil {
		return nil, err
	}
	v, err := g.Verify(ctx, req.Reference)
	if err != nil {
		return nil, err
	}
	if v.Status != models.GatewayStatusSuccess {
		return nil, &models.GatewayError{
			Gateway: g.Name(),
			Code:    "payment_not_successful",
			Reason:  "payment status is " + v.Status,
		}
	}
	if v.Currency != "" && v.Currency != currency {
		return nil, fmt.Errorf("%w: payment settled in %s, not %s", models.ErrValidation, v.Currency, currency)
	}
	userId := v.Metadata[models.MetaUserId]
	if userId == "" {
		return nil, fmt.Errorf("%w: payment %s carries no user", models.ErrValidation, req.Reference)
	}

	key := fmt.Sprintf("verify:%s:%s", userId, req.IdempotencyKey)
	claim, err := r.guard.CheckAndStore(ctx, key, userId, operationVerify, req)
	if err != nil {
		return nil, err
	}
	if !claim.IsNew {
		var cached VerifyResult
		if err := claim.Replay(&cached); err != nil {
			return nil, err
		}
		return &cached, nil
	}

	// The gateway has confirmed the payment; settlement must not depend on
	// the caller staying connected.
	ctx = context.WithoutCancel(ctx)
	result, err := r.settle(ctx, g.Name(), req, v, userId)
	if err != nil {
		r.guard.Fail(ctx, key, err)
		return nil, err
	}
	if err := r.guard.StoreResult(ctx, key, result, models.IdempotencyCompleted); err != nil {
		zap.L().Error("Failed to store payment verification", zap.String("key", key), zap.Error(err))
	}
	return result, nil
}

func (r *Router) settle(ctx context.Context, gatewayName string, req VerifyRequest, v *models.Verification, userId string) (*VerifyResult, error) {
	existing, err := r.store.Repos().Purchases().GetPurchaseByReference(ctx, v.Reference)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: payment %s is already settled", models.ErrAlreadyProcessed, v.Reference)
	}

	md := v.Metadata.Merge(models.Metadata{models.MetaSource: req.Source})
	purchase := &models.Purchase{
		UserId:           userId,
		ContentType:      md[models.MetaContentType],
		Amount:           v.Amount,
		Currency:         req.Currency,
		Gateway:          gatewayName,
		PaymentReference: v.Reference,
		Status:           models.PurchaseCompleted,
		CouponCode:       md[models.MetaCouponCode],
		Metadata:         md,
	}
	if id := md[models.MetaContentId]; id != "" {
		purchase.ContentId = &id
	}
	ownerId := r.ownerOf(ctx, purchase, md)

	var credit *models.LedgerEntry
	var task *models.ReconciliationTask
	err = r.store.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.Purchases().CreatePurchase(ctx, purchase); err != nil {
			if errors.Is(err, store.ErrDuplicateReference) {
				return fmt.Errorf("%w: payment %s is already settled", models.ErrAlreadyProcessed, v.Reference)
			}
			return err
		}

		if ownerId == "" || purchase.Amount <= 0 {
			return nil
		}
		opts := ledger.Options{
			Reference:   v.Reference,
			Description: "sale of " + purchase.ContentType,
			Metadata: models.Metadata{
				models.MetaUserId:      userId,
				models.MetaContentType: purchase.ContentType,
				models.MetaContentId:   md[models.MetaContentId],
				models.MetaSource:      req.Source,
			},
		}

		creditErr := tx.Savepoint(ctx, "owner_credit", func() error {
			entry, err := r.ledger.CreditTx(ctx, tx, ownerId, req.Currency, purchase.Amount, opts)
			credit = entry
			return err
		})
		if creditErr == nil {
			return nil
		}
		zap.L().Warn("Owner credit failed, retrying with wallet creation",
			zap.String("owner_id", ownerId),
			zap.String("reference", v.Reference),
			zap.Error(creditErr))

		creditErr = tx.Savepoint(ctx, "owner_credit_retry", func() error {
			if _, err := r.ledger.EnsureAccountTx(ctx, tx, ownerId, req.Currency); err != nil {
				return err
			}
			entry, err := r.ledger.CreditTx(ctx, tx, ownerId, req.Currency, purchase.Amount, opts)
			credit = entry
			return err
		})
		if creditErr == nil {
			return nil
		}

		// The buyer has paid; the purchase commits and the credit is left for reconciliation.
		credit = nil
		zap.L().Error("Owner credit failed twice, deferring to reconciliation",
			zap.String("owner_id", ownerId),
			zap.String("reference", v.Reference),
			zap.Int64("amount", purchase.Amount),
			zap.String("currency", req.Currency),
			zap.Error(creditErr))
		task = &models.ReconciliationTask{
			Kind:      models.TaskOwnerCredit,
			Reference: v.Reference,
			UserId:    ownerId,
			Currency:  req.Currency,
			Amount:    purchase.Amount,
			Reason:    creditErr.Error(),
			Status:    models.TaskOpen,
		}
		return tx.Tasks().CreateTask(ctx, task)
	})
	if err != nil {
		return nil, err
	}

	if credit != nil {
		r.ledger.PublishCommitted(credit)
	}
	metrics.Business.PaymentsSettledTotal.WithLabelValues(gatewayName, req.Currency).Inc()
	metrics.Business.PaymentAmountTotal.WithLabelValues(req.Currency).Add(float64(purchase.Amount))
	if task != nil {
		metrics.Business.ReconciliationTasksTotal.WithLabelValues(task.Kind).Inc()
	}
	r.fraud.Observe(ctx, fraud.Input{UserID: userId, Amount: purchase.Amount, Currency: req.Currency, At: r.now()})

	zap.L().Info("Payment settled",
		zap.String("user_id", userId),
		zap.String("reference", v.Reference),
		zap.String("gateway", gatewayName),
		zap.String("source", req.Source),
		zap.Int64("amount", purchase.Amount),
		zap.String("currency", req.Currency),
		zap.Bool("owner_credited", credit != nil))

	result := &VerifyResult{Purchase: *purchase, OwnerCredited: credit != nil}
	if task != nil {
		result.ReconciliationTaskId = task.Id
	}
	return result, nil
}

// ownerOf returns the owner to credit. Type-level purchases credit nobody;
// an owner missing from the payment metadata is looked up in the catalog.
func (r *Router) ownerOf(ctx context.Context, purchase *models.Purchase, md models.Metadata) string {
	if purchase.ContentId == nil {
		return ""
	}
	if owner := md[models.MetaOwnerId]; owner != "" {
		return owner
	}
	item, err := r.catalog.GetContentPriceAndCurrency(ctx, purchase.ContentType, purchase.ContentId)
	if err != nil {
		zap.L().Warn("Unable to resolve content owner",
			zap.String("content_type", purchase.ContentType),
			zap.String("content_id", *purchase.ContentId),
			zap.Error(err))
		return ""
	}
	return item.OwnerUserId
}
