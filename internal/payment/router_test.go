package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketplace-ledger-go/internal/database"
	"marketplace-ledger-go/internal/fraud"
	"marketplace-ledger-go/internal/gateway"
	"marketplace-ledger-go/internal/idempotency"
	"marketplace-ledger-go/internal/ledger"
	"marketplace-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

// fakeGateway settles every session it creates unless told otherwise.
type fakeGateway struct {
	name     string
	sessions atomic.Int32
	verifies atomic.Int32

	mu       sync.Mutex
	payments map[string]*models.Verification
}

func newFakeGateway(name string) *fakeGateway {
	return &fakeGateway{name: name, payments: map[string]*models.Verification{}}
}

func (f *fakeGateway) Name() string { return f.name }

func (f *fakeGateway) InitializeSession(_ context.Context, req models.SessionRequest) (*models.Session, error) {
	n := f.sessions.Add(1)
	ref := fmt.Sprintf("%s-session-%d", f.name, n)
	f.mu.Lock()
	f.payments[ref] = &models.Verification{
		Reference: ref,
		Status:    models.GatewayStatusSuccess,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Metadata:  req.Metadata,
	}
	f.mu.Unlock()
	return &models.Session{Reference: ref, RedirectURL: "https://pay.example.test/" + ref}, nil
}

func (f *fakeGateway) Verify(_ context.Context, reference string) (*models.Verification, error) {
	f.verifies.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.payments[reference]
	if !ok {
		return nil, &models.GatewayError{Gateway: f.name, Code: "not_found", Reason: "Transaction not found", StatusCode: 404}
	}
	out := *v
	return &out, nil
}

func (f *fakeGateway) setStatus(reference, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments[reference].Status = status
}

func (f *fakeGateway) InitiatePayout(context.Context, models.PayoutRequest) (*models.Payout, error) {
	return nil, errors.New("not used")
}

func (f *fakeGateway) PayoutStatus(context.Context, string, string) (*models.Payout, error) {
	return nil, errors.New("not used")
}

func testPolicy() *models.Policy {
	return &models.Policy{
		Rates: map[string]map[string]decimal.Decimal{
			"USD": {"NGN": decimal.NewFromInt(1500)},
		},
		Coupons: map[string]models.Coupon{
			"FREE100": {Code: "FREE100", Kind: models.CouponPercent, Value: decimal.NewFromInt(100)},
		},
		Fraud: models.FraudPolicy{ReviewThreshold: 50, BlockThreshold: 90},
	}
}

type testEnv struct {
	router   *Router
	db       *database.Service
	ledger   *ledger.Service
	detector *fraud.Detector
	paystack *fakeGateway
	stripe   *fakeGateway
}

func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewService(ctx, models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "payments.db"),
		MaxOpenConns: 8,
		MaxIdleConns: 8,
		PingTimeout:  time.Second,
		BusyTimeout:  10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(db.Close)

	items := []models.CatalogItem{
		{ContentType: "course", ContentId: strPtr("c1"), Title: "Go basics", Price: 250000, Currency: "NGN", OwnerUserId: "owner1"},
		{ContentType: "video", ContentId: strPtr("v1"), Title: "Intro", Price: 1999, Currency: "USD", OwnerUserId: "owner2"},
		{ContentType: "subscription", Title: "All access", Price: 500000, Currency: "NGN"},
	}
	for _, item := range items {
		if err := db.PutCatalogItem(ctx, item); err != nil {
			t.Fatalf("PutCatalogItem failed: %v", err)
		}
	}

	paystack := newFakeGateway(models.GatewayPaystack)
	stripe := newFakeGateway(models.GatewayStripe)
	routes, err := gateway.NewRoutes(paystack, stripe)
	if err != nil {
		t.Fatalf("NewRoutes failed: %v", err)
	}

	policy := testPolicy()
	ledgerService := ledger.NewService(db, nil)
	detector := fraud.NewDetector(fraud.NewMemoryStore(), policy)
	router := NewRouter(db, db, ledgerService, idempotency.NewGuard(db.Idempotency(), 0), detector, routes, policy)
	return &testEnv{router: router, db: db, ledger: ledgerService, detector: detector, paystack: paystack, stripe: stripe}
}

func (e *testEnv) totalSessions() int32 {
	return e.paystack.sessions.Load() + e.stripe.sessions.Load()
}

func courseRequest(key string) InitializeRequest {
	return InitializeRequest{
		UserID:         "buyer1",
		Content:        Content{Type: "course", ID: strPtr("c1")},
		PayerEmail:     "buyer1@example.test",
		IdempotencyKey: key,
	}
}

func TestInitializePayment_ReplayReturnsCachedResult(t *testing.T) {
	env := setupTestRouter(t)
	ctx := context.Background()

	first, err := env.router.InitializePayment(ctx, courseRequest("k1"))
	if err != nil {
		t.Fatalf("InitializePayment failed: %v", err)
	}
	if first.Gateway != models.GatewayPaystack || first.Amount != 250000 || first.Currency != "NGN" {
		t.Errorf("Unexpected result %+v", first)
	}

	second, err := env.router.InitializePayment(ctx, courseRequest("k1"))
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if *second != *first {
		t.Errorf("Expected cached result %+v, got %+v", first, second)
	}
	if n := env.totalSessions(); n != 1 {
		t.Errorf("Expected one gateway session, got %d", n)
	}

	// Same key with different parameters is refused.
	changed := courseRequest("k1")
	changed.CouponCode = "FREE100"
	if _, err := env.router.InitializePayment(ctx, changed); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected ErrValidation for reused key, got %v", err)
	}
}

func TestInitializePayment_FreeSkipsGateway(t *testing.T) {
	env := setupTestRouter(t)
	ctx := context.Background()

	req := courseRequest("k1")
	req.CouponCode = "free100"
	result, err := env.router.InitializePayment(ctx, req)
	if err != nil {
		t.Fatalf("InitializePayment failed: %v", err)
	}
	if !result.Free || result.Amount != 0 || result.Gateway != models.GatewayNone {
		t.Errorf("Expected free result, got %+v", result)
	}
	if env.totalSessions() != 0 {
		t.Errorf("Expected zero gateway calls, got %d", env.totalSessions())
	}

	purchase, err := env.db.Repos().Purchases().GetPurchaseByReference(ctx, result.Reference)
	if err != nil {
		t.Fatalf("GetPurchaseByReference failed: %v", err)
	}
	if purchase.Amount != 0 || purchase.Status != models.PurchaseCompleted || purchase.CouponCode != "free100" {
		t.Errorf("Unexpected purchase %+v", purchase)
	}

	override := int64(0)
	req = courseRequest("k2")
	req.Content.ID = strPtr("c1")
	req.PriceOverride = &override
	if _, err := env.router.InitializePayment(ctx, req); err != nil {
		t.Fatalf("Zero price override failed: %v", err)
	}
	if env.totalSessions() != 0 {
		t.Errorf("Expected zero gateway calls, got %d", env.totalSessions())
	}
}

func TestInitializePayment_InvalidPairing(t *testing.T) {
	env := setupTestRouter(t)

	req := courseRequest("k1")
	req.Gateway = models.GatewayStripe
	_, err := env.router.InitializePayment(context.Background(), req)
	if !errors.Is(err, models.ErrInvalidGatewayPairing) {
		t.Fatalf("Expected ErrInvalidGatewayPairing, got %v", err)
	}
	if env.totalSessions() != 0 {
		t.Errorf("Expected no network calls, got %d", env.totalSessions())
	}
}

func TestInitializePayment_ForceCurrencyConverts(t *testing.T) {
	env := setupTestRouter(t)

	req := courseRequest("k1")
	req.ForceCurrency = "usd"
	result, err := env.router.InitializePayment(context.Background(), req)
	if err != nil {
		t.Fatalf("InitializePayment failed: %v", err)
	}
	// 2,500.00 NGN at 1,500 NGN per USD.
	if result.Currency != "USD" || result.Amount != 167 || result.Gateway != models.GatewayStripe {
		t.Errorf("Unexpected converted result %+v", result)
	}
}

func TestInitializePayment_DuplicatePurchase(t *testing.T) {
	env := setupTestRouter(t)
	ctx := context.Background()

	init, err := env.router.InitializePayment(ctx, courseRequest("k1"))
	if err != nil {
		t.Fatalf("InitializePayment failed: %v", err)
	}
	if _, err := env.router.VerifyPayment(ctx, VerifyRequest{Reference: init.Reference, Currency: "NGN", IdempotencyKey: "v1"}); err != nil {
		t.Fatalf("VerifyPayment failed: %v", err)
	}

	if _, err := env.router.InitializePayment(ctx, courseRequest("k2")); !errors.Is(err, models.ErrDuplicatePurchase) {
		t.Errorf("Expected ErrDuplicatePurchase, got %v", err)
	}

	// Type-level content is exempt.
	sub := InitializeRequest{UserID: "buyer1", Content: Content{Type: "subscription"}, IdempotencyKey: "s1"}
	for _, key := range []string{"s1", "s2"} {
		sub.IdempotencyKey = key
		init, err := env.router.InitializePayment(ctx, sub)
		if err != nil {
			t.Fatalf("Subscription init %s failed: %v", key, err)
		}
		if _, err := env.router.VerifyPayment(ctx, VerifyRequest{Reference: init.Reference, Currency: "NGN", IdempotencyKey: key}); err != nil {
			t.Fatalf("Subscription verify %s failed: %v", key, err)
		}
	}
}

func TestInitializePayment_FraudBlocked(t *testing.T) {
	env := setupTestRouter(t)
	if err := env.detector.BlockUser(context.Background(), "buyer1"); err != nil {
		t.Fatalf("BlockUser failed: %v", err)
	}
	_, err := env.router.InitializePayment(context.Background(), courseRequest("k1"))
	if !errors.Is(err, models.ErrFraudBlocked) {
		t.Fatalf("Expected ErrFraudBlocked, got %v", err)
	}
	if env.totalSessions() != 0 {
		t.Errorf("Expected no session for blocked user")
	}
}

func TestVerifyPayment_SettlesOnce(t *testing.T) {
	env := setupTestRouter(t)
	ctx := context.Background()

	init, err := env.router.InitializePayment(ctx, courseRequest("k1"))
	if err != nil {
		t.Fatalf("InitializePayment failed: %v", err)
	}

	result, err := env.router.VerifyPayment(ctx, VerifyRequest{Reference: init.Reference, Currency: "NGN", IdempotencyKey: "client-1", Source: "client"})
	if err != nil {
		t.Fatalf("VerifyPayment failed: %v", err)
	}
	if !result.OwnerCredited || result.Purchase.Amount != 250000 || result.Purchase.UserId != "buyer1" {
		t.Errorf("Unexpected settlement %+v", result)
	}

	// The same key replays the cached settlement.
	replay, err := env.router.VerifyPayment(ctx, VerifyRequest{Reference: init.Reference, Currency: "NGN", IdempotencyKey: "client-1", Source: "client"})
	if err != nil || replay.Purchase.Id != result.Purchase.Id {
		t.Errorf("Expected cached settlement, got %+v, %v", replay, err)
	}

	// A webhook with its own key hits the reference guard.
	_, err = env.router.VerifyPayment(ctx, VerifyRequest{Reference: init.Reference, Currency: "NGN", IdempotencyKey: "webhook-1", Source: "webhook"})
	if !errors.Is(err, models.ErrAlreadyProcessed) {
		t.Errorf("Expected ErrAlreadyProcessed, got %v", err)
	}

	owner, err := env.ledger.Balance(ctx, "owner1", "NGN")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if owner.BalanceAvailable != 250000 {
		t.Errorf("Expected owner credited once with 250000, got %d", owner.BalanceAvailable)
	}
}

func TestVerifyPayment_ConcurrentCallsSettleOnce(t *testing.T) {
	env := setupTestRouter(t)
	ctx := context.Background()

	init, err := env.router.InitializePayment(ctx, courseRequest("k1"))
	if err != nil {
		t.Fatalf("InitializePayment failed: %v", err)
	}

	const callers = 8
	var wg sync.WaitGroup
	var settled, duplicate atomic.Int32
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.router.VerifyPayment(ctx, VerifyRequest{
				Reference:      init.Reference,
				Currency:       "NGN",
				IdempotencyKey: fmt.Sprintf("key-%d", i),
				Source:         "webhook",
			})
			switch {
			case err == nil:
				settled.Add(1)
			case errors.Is(err, models.ErrAlreadyProcessed):
				duplicate.Add(1)
			default:
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Unexpected error: %v", err)
	}

	if settled.Load() != 1 || duplicate.Load() != callers-1 {
		t.Errorf("Expected 1 settlement and %d duplicates, got %d and %d", callers-1, settled.Load(), duplicate.Load())
	}
	purchases, err := env.db.Repos().Purchases().ListPurchases(ctx, "buyer1", 10, 0)
	if err != nil {
		t.Fatalf("ListPurchases failed: %v", err)
	}
	if len(purchases) != 1 {
		t.Errorf("Expected one purchase, got %d", len(purchases))
	}
	entries, err := env.ledger.History(ctx, "owner1", "NGN", 10, 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected one owner credit, got %d", len(entries))
	}
}

func TestVerifyPayment_OwnerCreditDeferredToReconciliation(t *testing.T) {
	env := setupTestRouter(t)
	ctx := context.Background()

	// An owner balance at the ceiling makes both credit attempts fail.
	if _, err := env.ledger.Credit(ctx, "owner2", "USD", math.MaxInt64-100, ledger.Options{}); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	init, err := env.router.InitializePayment(ctx, InitializeRequest{
		UserID:         "buyer1",
		Content:        Content{Type: "video", ID: strPtr("v1")},
		IdempotencyKey: "k1",
	})
	if err != nil {
		t.Fatalf("InitializePayment failed: %v", err)
	}

	result, err := env.router.VerifyPayment(ctx, VerifyRequest{Reference: init.Reference, Currency: "USD", IdempotencyKey: "v1"})
	if err != nil {
		t.Fatalf("VerifyPayment failed: %v", err)
	}
	if result.OwnerCredited || result.ReconciliationTaskId == "" {
		t.Errorf("Expected deferred owner credit, got %+v", result)
	}

	if _, err := env.db.Repos().Purchases().GetPurchaseByReference(ctx, init.Reference); err != nil {
		t.Errorf("Expected purchase to be committed, got %v", err)
	}
	tasks, err := env.db.Repos().Tasks().ListOpenTasks(ctx, 10)
	if err != nil {
		t.Fatalf("ListOpenTasks failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].UserId != "owner2" || tasks[0].Amount != 1999 || tasks[0].Kind != models.TaskOwnerCredit {
		t.Errorf("Unexpected reconciliation tasks %+v", tasks)
	}
}

func TestVerifyPayment_Rejections(t *testing.T) {
	env := setupTestRouter(t)
	ctx := context.Background()

	init, err := env.router.InitializePayment(ctx, courseRequest("k1"))
	if err != nil {
		t.Fatalf("InitializePayment failed: %v", err)
	}
	env.paystack.setStatus(init.Reference, models.GatewayStatusPending)

	_, err = env.router.VerifyPayment(ctx, VerifyRequest{Reference: init.Reference, Currency: "NGN", IdempotencyKey: "v1"})
	var gwErr *models.GatewayError
	if !errors.As(err, &gwErr) || gwErr.Code != "payment_not_successful" {
		t.Errorf("Expected payment_not_successful, got %v", err)
	}
	if _, err := env.db.Repos().Purchases().GetPurchaseByReference(ctx, init.Reference); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected no purchase for unsuccessful payment, got %v", err)
	}

	verifies := env.paystack.verifies.Load()
	_, err = env.router.VerifyPayment(ctx, VerifyRequest{Reference: init.Reference, Currency: "NGN", Gateway: models.GatewayStripe, IdempotencyKey: "v2"})
	if !errors.Is(err, models.ErrInvalidGatewayPairing) {
		t.Errorf("Expected ErrInvalidGatewayPairing, got %v", err)
	}
	if env.paystack.verifies.Load() != verifies || env.stripe.verifies.Load() != 0 {
		t.Error("Expected pairing rejection before any gateway call")
	}

	// Settled later once the gateway reports success.
	env.paystack.setStatus(init.Reference, models.GatewayStatusSuccess)
	if _, err := env.router.VerifyPayment(ctx, VerifyRequest{Reference: init.Reference, Currency: "NGN", IdempotencyKey: "v1"}); err != nil {
		t.Errorf("Expected settlement after success, got %v", err)
	}
}
