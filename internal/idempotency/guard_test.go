package idempotency

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"marketplace-ledger-go/internal/database"
	"marketplace-ledger-go/internal/models"
)

type session struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
}

func setupTestGuard(t *testing.T) *Guard {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "idempotency.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 4,
		PingTimeout:  time.Second,
		BusyTimeout:  10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(db.Close)
	return NewGuard(db.Idempotency(), time.Hour)
}

func TestCheckAndStore_Lifecycle(t *testing.T) {
	guard := setupTestGuard(t)
	ctx := context.Background()
	input := map[string]string{"content_id": "c1"}

	res, err := guard.CheckAndStore(ctx, "k1", "user1", "initialize_payment", input)
	if err != nil {
		t.Fatalf("CheckAndStore failed: %v", err)
	}
	if !res.IsNew {
		t.Fatal("Expected first claim to be new")
	}

	res, err = guard.CheckAndStore(ctx, "k1", "user1", "initialize_payment", input)
	if err != nil {
		t.Fatalf("CheckAndStore failed: %v", err)
	}
	if res.IsNew {
		t.Fatal("Expected second claim to see the existing record")
	}
	var out session
	if err := res.Replay(&out); !errors.Is(err, models.ErrOperationInFlight) {
		t.Fatalf("Expected ErrOperationInFlight, got %v", err)
	}
	if !errors.Is(models.ErrOperationInFlight, models.ErrAlreadyProcessed) {
		t.Error("Expected in-flight to be an already-processed variant")
	}

	want := session{Reference: "PSK-1", Amount: 5000}
	if err := guard.StoreResult(ctx, "k1", want, models.IdempotencyCompleted); err != nil {
		t.Fatalf("StoreResult failed: %v", err)
	}
	if err := guard.StoreResult(ctx, "k1", want, models.IdempotencyCompleted); !errors.Is(err, models.ErrAlreadyProcessed) {
		t.Fatalf("Expected second StoreResult to fail with ErrAlreadyProcessed, got %v", err)
	}

	res, err = guard.CheckAndStore(ctx, "k1", "user1", "initialize_payment", input)
	if err != nil {
		t.Fatalf("CheckAndStore failed: %v", err)
	}
	if err := res.Replay(&out); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if out != want {
		t.Errorf("Expected cached result %+v, got %+v", want, out)
	}
}

func TestCheckAndStore_DifferentParameters(t *testing.T) {
	guard := setupTestGuard(t)
	ctx := context.Background()

	if _, err := guard.CheckAndStore(ctx, "k1", "user1", "withdraw", map[string]int64{"amount": 100}); err != nil {
		t.Fatalf("CheckAndStore failed: %v", err)
	}
	_, err := guard.CheckAndStore(ctx, "k1", "user1", "withdraw", map[string]int64{"amount": 200})
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("Expected ErrValidation for reused key, got %v", err)
	}
}

func TestFail_ReplaysBusinessErrorAndReleasesInternal(t *testing.T) {
	guard := setupTestGuard(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		opErr     error
		wantNew   bool
		wantError error
	}{
		{"business error is stored", fmt.Errorf("%w: already bought", models.ErrDuplicatePurchase), false, models.ErrDuplicatePurchase},
		{"gateway error is stored", &models.GatewayError{Gateway: "paystack", Reason: "declined"}, false, models.ErrGateway},
		{"internal error releases the key", errors.New("disk full"), true, nil},
	}

	for i, tt := range tests {
		key := fmt.Sprintf("fail-%d", i)
		if _, err := guard.CheckAndStore(ctx, key, "user1", "op", nil); err != nil {
			t.Fatalf("%s: CheckAndStore failed: %v", tt.name, err)
		}
		guard.Fail(ctx, key, tt.opErr)

		res, err := guard.CheckAndStore(ctx, key, "user1", "op", nil)
		if err != nil {
			t.Fatalf("%s: CheckAndStore failed: %v", tt.name, err)
		}
		if res.IsNew != tt.wantNew {
			t.Errorf("%s: expected IsNew=%v, got %v", tt.name, tt.wantNew, res.IsNew)
			continue
		}
		if tt.wantError == nil {
			continue
		}
		err = res.Replay(&session{})
		if !errors.Is(err, tt.wantError) {
			t.Errorf("%s: expected replayed %v, got %v", tt.name, tt.wantError, err)
		}
		if err != nil && err.Error() != tt.opErr.Error() {
			t.Errorf("%s: expected message %q, got %q", tt.name, tt.opErr.Error(), err.Error())
		}
	}
}

func TestCheckAndStore_ExpiredKeyIsReusable(t *testing.T) {
	guard := setupTestGuard(t)
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	guard.now = func() time.Time { return clock }

	if _, err := guard.CheckAndStore(ctx, "k1", "user1", "op", nil); err != nil {
		t.Fatalf("CheckAndStore failed: %v", err)
	}
	if err := guard.StoreResult(ctx, "k1", session{Reference: "old"}, models.IdempotencyCompleted); err != nil {
		t.Fatalf("StoreResult failed: %v", err)
	}

	clock = clock.Add(59 * time.Minute)
	res, err := guard.CheckAndStore(ctx, "k1", "user1", "op", nil)
	if err != nil {
		t.Fatalf("CheckAndStore failed: %v", err)
	}
	if res.IsNew {
		t.Fatal("Expected key to be live before the TTL")
	}

	clock = clock.Add(2 * time.Minute)
	res, err = guard.CheckAndStore(ctx, "k1", "user1", "op", nil)
	if err != nil {
		t.Fatalf("CheckAndStore failed: %v", err)
	}
	if !res.IsNew {
		t.Fatal("Expected expired key to be claimed as new")
	}
}

func TestCheckAndStore_ConcurrentClaims(t *testing.T) {
	guard := setupTestGuard(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	newClaims := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := guard.CheckAndStore(ctx, "shared", "user1", "op", nil)
			if err != nil {
				t.Errorf("CheckAndStore failed: %v", err)
				return
			}
			if res.IsNew {
				mu.Lock()
				newClaims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if newClaims != 1 {
		t.Errorf("Expected exactly one new claim, got %d", newClaims)
	}
}

func TestCheckAndStore_RequiresKey(t *testing.T) {
	guard := setupTestGuard(t)
	if _, err := guard.CheckAndStore(context.Background(), "", "user1", "op", nil); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
}
