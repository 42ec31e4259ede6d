package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"marketplace-ledger-go/internal/database"
	"marketplace-ledger-go/internal/fraud"
	"marketplace-ledger-go/internal/idempotency"
	"marketplace-ledger-go/internal/ledger"
	"marketplace-ledger-go/internal/limits"
	"marketplace-ledger-go/internal/models"
)

const testAdminToken = "s3cret"

func testPolicy() *models.Policy {
	return &models.Policy{
		DefaultTier: "basic",
		Tiers: map[string]map[string]models.TierLimits{
			"basic": {
				"NGN": {Daily: 10000, Monthly: 25000},
				"USD": {Daily: 1000, Monthly: 3000},
			},
			"verified": {
				"NGN": {Daily: 50000, Monthly: 200000},
				"USD": {Daily: 5000, Monthly: 20000},
			},
		},
		Fraud: models.FraudPolicy{ReviewThreshold: 50, BlockThreshold: 90},
	}
}

type testEnv struct {
	handler http.Handler
	db      *database.Service
	ledger  *ledger.Service
}

func setupTestAPI(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "api.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 4,
		PingTimeout:  time.Second,
		BusyTimeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(db.Close)

	policy := testPolicy()
	ledgerService := ledger.NewService(db, nil)
	svc := NewService(Dependencies{
		DB:      db,
		Ledger:  ledgerService,
		Limiter: limits.NewLimiter(db, policy),
		Fraud:   fraud.NewDetector(fraud.NewMemoryStore(), policy),
		Guard:   idempotency.NewGuard(db.Idempotency(), 0),
	}, models.ServerConfig{AdminToken: testAdminToken, RequestTimeout: 5 * time.Second})

	return &testEnv{handler: svc.Routes(), db: db, ledger: ledgerService}
}

func (e *testEnv) do(t *testing.T, method, path string, headers map[string]string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad", models.ErrValidation), http.StatusBadRequest},
		{models.ErrUnsupportedCurrency, http.StatusBadRequest},
		{models.ErrInvalidGatewayPairing, http.StatusBadRequest},
		{models.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{models.ErrLimitExceeded, http.StatusUnprocessableEntity},
		{models.ErrBankValidationFailed, http.StatusUnprocessableEntity},
		{models.ErrDuplicatePurchase, http.StatusConflict},
		{models.ErrAlreadyProcessed, http.StatusConflict},
		{models.ErrOperationInFlight, http.StatusConflict},
		{models.ErrFraudBlocked, http.StatusForbidden},
		{models.ErrAccountSuspended, http.StatusForbidden},
		{&models.GatewayError{Gateway: "paystack", Reason: "declined"}, http.StatusBadGateway},
		{models.ErrNotFound, http.StatusNotFound},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestParseWebhook(t *testing.T) {
	tests := []struct {
		name    string
		gateway string
		body    string
		want    webhookEvent
		ok      bool
		wantErr error
	}{
		{
			name:    "paystack charge success",
			gateway: models.GatewayPaystack,
			body:    `{"event":"charge.success","data":{"id":4099,"reference":"PAY-1","currency":"ngn"}}`,
			want:    webhookEvent{EventId: "paystack-4099", Reference: "PAY-1", Currency: "NGN"},
			ok:      true,
		},
		{
			name:    "paystack other event ignored",
			gateway: models.GatewayPaystack,
			body:    `{"event":"transfer.success","data":{"id":1}}`,
		},
		{
			name:    "stripe checkout completed",
			gateway: models.GatewayStripe,
			body:    `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_123","currency":"usd"}}}`,
			want:    webhookEvent{EventId: "evt_1", Reference: "cs_123", Currency: "USD"},
			ok:      true,
		},
		{
			name:    "stripe currency defaults to USD",
			gateway: models.GatewayStripe,
			body:    `{"id":"evt_2","type":"checkout.session.completed","data":{"object":{"id":"cs_456"}}}`,
			want:    webhookEvent{EventId: "evt_2", Reference: "cs_456", Currency: "USD"},
			ok:      true,
		},
		{
			name:    "malformed body",
			gateway: models.GatewayStripe,
			body:    `{`,
			wantErr: models.ErrValidation,
		},
		{
			name:    "unknown gateway",
			gateway: "paypal",
			body:    `{}`,
			wantErr: models.ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := parseWebhook(tt.gateway, []byte(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseWebhook failed: %v", err)
			}
			if ok != tt.ok || got != tt.want {
				t.Errorf("Got (%+v, %v), want (%+v, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestPagination(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", 20, 0},
		{"?limit=5&offset=10", 5, 10},
		{"?limit=500", 100, 0},
		{"?limit=-1&offset=-3", 20, 0},
		{"?limit=abc", 20, 0},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/x"+tt.query, nil)
		limit, offset := pagination(req)
		if limit != tt.wantLimit || offset != tt.wantOffset {
			t.Errorf("pagination(%q) = (%d, %d), want (%d, %d)", tt.query, limit, offset, tt.wantLimit, tt.wantOffset)
		}
	}
}

func TestHealth(t *testing.T) {
	env := setupTestAPI(t)

	rec := env.do(t, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := decode[models.HealthResponse](t, rec); got.Status != "ok" {
		t.Errorf("Expected ok status, got %+v", got)
	}
}

func TestAdminRequiresToken(t *testing.T) {
	env := setupTestAPI(t)
	path := "/api/v1/admin/users/user1/limits/NGN"

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"wrong token", "nope", http.StatusUnauthorized},
		{"valid token", testAdminToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.token != "" {
				headers[headerAdminToken] = tt.token
			}
			if rec := env.do(t, http.MethodGet, path, headers, nil); rec.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestIsAdmin_EmptyConfiguredTokenDisablesAdmin(t *testing.T) {
	svc := NewService(Dependencies{}, models.ServerConfig{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(headerAdminToken, "")
	if svc.isAdmin(req) {
		t.Error("Expected admin access to be disabled without a configured token")
	}
}

func TestBalancesRequireUser(t *testing.T) {
	env := setupTestAPI(t)

	rec := env.do(t, http.MethodGet, "/api/v1/wallets/balances", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
	if got := decode[models.ErrorResponse](t, rec); got.Error != "validation_error" {
		t.Errorf("Expected validation_error, got %+v", got)
	}
}

func TestTransfer(t *testing.T) {
	env := setupTestAPI(t)
	ctx := context.Background()
	if _, err := env.ledger.Credit(ctx, "alice", "NGN", 10000, ledger.Options{}); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	headers := map[string]string{headerUserID: "alice", headerIdempotencyKey: "k1"}
	body := models.TransferRequest{ToUserId: "bob", Currency: "NGN", Amount: 4000, Description: "split"}

	rec := env.do(t, http.MethodPost, "/api/v1/wallets/transfer", headers, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	first := decode[models.TransferResult](t, rec)
	if first.Reference == "" || first.Amount != 4000 || first.Currency != "NGN" {
		t.Fatalf("Unexpected transfer result: %+v", first)
	}

	// Same key replays the stored result without moving money again
	rec = env.do(t, http.MethodPost, "/api/v1/wallets/transfer", headers, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on replay, got %d: %s", rec.Code, rec.Body.String())
	}
	if replay := decode[models.TransferResult](t, rec); replay.Reference != first.Reference {
		t.Errorf("Expected replayed reference %s, got %s", first.Reference, replay.Reference)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/wallets/balances", map[string]string{headerUserID: "bob"}, nil)
	balances := decode[models.BalancesResponse](t, rec)
	if len(balances.Balances) != 1 || balances.Balances[0].Available != 4000 {
		t.Errorf("Expected bob to hold 4000 NGN, got %+v", balances)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/wallets/NGN/history", map[string]string{headerUserID: "alice"}, nil)
	history := decode[[]models.TransactionRecord](t, rec)
	if len(history) != 2 {
		t.Errorf("Expected credit and transfer_out in history, got %d entries", len(history))
	}

	rec = env.do(t, http.MethodPost, "/api/v1/wallets/transfer",
		map[string]string{headerUserID: "alice", headerIdempotencyKey: "k2"},
		models.TransferRequest{ToUserId: "bob", Currency: "NGN", Amount: 7000})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422 for overdraft, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[models.ErrorResponse](t, rec); got.Error != "insufficient_funds" {
		t.Errorf("Expected insufficient_funds, got %+v", got)
	}
}

func TestTransferBlockedUser(t *testing.T) {
	env := setupTestAPI(t)
	admin := map[string]string{headerAdminToken: testAdminToken}
	if _, err := env.ledger.Credit(context.Background(), "mallory", "NGN", 10000, ledger.Options{}); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/admin/fraud/users/mallory/block", admin, nil); rec.Code != http.StatusOK {
		t.Fatalf("Block: expected 200, got %d", rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/wallets/transfer",
		map[string]string{headerUserID: "mallory", headerIdempotencyKey: "k1"},
		models.TransferRequest{ToUserId: "bob", Currency: "NGN", Amount: 4000})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("Expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[models.ErrorResponse](t, rec); got.Error != "fraud_blocked" {
		t.Errorf("Expected fraud_blocked, got %+v", got)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/wallets/balances", map[string]string{headerUserID: "mallory"}, nil)
	balances := decode[models.BalancesResponse](t, rec)
	if len(balances.Balances) != 1 || balances.Balances[0].Available != 10000 {
		t.Errorf("Expected blocked transfer to leave 10000 NGN, got %+v", balances)
	}
}

func TestTransferRequiresIdempotencyKey(t *testing.T) {
	env := setupTestAPI(t)

	rec := env.do(t, http.MethodPost, "/api/v1/wallets/transfer",
		map[string]string{headerUserID: "alice"},
		models.TransferRequest{ToUserId: "bob", Currency: "NGN", Amount: 1})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	env := setupTestAPI(t)

	rec := env.do(t, http.MethodPost, "/api/v1/wallets/transfer",
		map[string]string{headerUserID: "alice", headerIdempotencyKey: "k"},
		map[string]any{"to_user_id": "bob", "currency": "NGN", "amount": 1, "bonus": true})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestAdminLimitsAndSuspension(t *testing.T) {
	env := setupTestAPI(t)
	admin := map[string]string{headerAdminToken: testAdminToken}

	rec := env.do(t, http.MethodPut, "/api/v1/admin/users/carol/tier", admin, models.TierRequest{Tier: "verified"})
	if rec.Code != http.StatusOK {
		t.Fatalf("SetTier: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPut, "/api/v1/admin/users/carol/tier", admin, models.TierRequest{Tier: "gold"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Unknown tier: expected 400, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/withdrawals/limits/NGN?amount=60000", map[string]string{headerUserID: "carol"}, nil)
	check := decode[limits.Check](t, rec)
	if check.Allowed || check.Tier != "verified" || check.RemainingDaily != 50000 {
		t.Errorf("Expected verified tier to refuse 60000, got %+v", check)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/admin/users/carol/suspend", admin, models.SuspendRequest{Reason: "chargeback"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Suspend: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/api/v1/admin/users/carol/limits/NGN?amount=1", admin, nil)
	if check := decode[limits.Check](t, rec); check.Allowed || !check.Suspended {
		t.Errorf("Expected suspension to refuse, got %+v", check)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/admin/users/carol/restore", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Restore: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/api/v1/admin/users/carol/limits/NGN?amount=1", admin, nil)
	if check := decode[limits.Check](t, rec); !check.Allowed {
		t.Errorf("Expected restored user to be allowed, got %+v", check)
	}
}

func TestAdminFraudBlock(t *testing.T) {
	env := setupTestAPI(t)
	admin := map[string]string{headerAdminToken: testAdminToken}

	if rec := env.do(t, http.MethodPost, "/api/v1/admin/fraud/users/dave/block", admin, nil); rec.Code != http.StatusOK {
		t.Fatalf("Block: expected 200, got %d", rec.Code)
	}
	rec := env.do(t, http.MethodGet, "/api/v1/admin/fraud/users/dave", admin, nil)
	if profile := decode[fraud.Profile](t, rec); !profile.Blocked {
		t.Errorf("Expected blocked profile, got %+v", profile)
	}

	if rec := env.do(t, http.MethodPost, "/api/v1/admin/fraud/users/dave/unblock", admin, nil); rec.Code != http.StatusOK {
		t.Fatalf("Unblock: expected 200, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/v1/admin/fraud/users/dave", admin, nil)
	if profile := decode[fraud.Profile](t, rec); profile.Blocked {
		t.Errorf("Expected unblocked profile, got %+v", profile)
	}
}

func TestAdminVerifyWallet(t *testing.T) {
	env := setupTestAPI(t)
	admin := map[string]string{headerAdminToken: testAdminToken}
	if _, err := env.ledger.Credit(context.Background(), "erin", "USD", 500, ledger.Options{}); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/admin/wallets/erin/USD/verify", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if check := decode[models.BalanceCheck](t, rec); check.Error != "" {
		t.Errorf("Expected consistent wallet, got %+v", check)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/admin/wallets/erin/USD/mirror", admin, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 with the mirror disabled, got %d", rec.Code)
	}
}

func TestGetWithdrawal_NotFound(t *testing.T) {
	env := setupTestAPI(t)

	rec := env.do(t, http.MethodGet, "/api/v1/withdrawals/missing", map[string]string{headerUserID: "frank"}, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/withdrawals", map[string]string{headerUserID: "frank"}, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "[]\n" {
		t.Errorf("Expected empty list, got %d %q", rec.Code, rec.Body.String())
	}
}
