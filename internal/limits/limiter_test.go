package limits

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"marketplace-ledger-go/internal/database"
	"marketplace-ledger-go/internal/models"
)

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
	}
}

func setupTestLimiter(t *testing.T) (*Limiter, *time.Time) {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "limits.db"),
		MaxOpenConns: 2,
		MaxIdleConns: 2,
		PingTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(db.Close)

	clock := time.Date(2026, 5, 14, 9, 30, 0, 0, time.UTC)
	limiter := NewLimiter(db, testPolicy())
	limiter.now = func() time.Time { return clock }
	return limiter, &clock
}

func TestCheckLimits_DoesNotMutate(t *testing.T) {
	limiter, _ := setupTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		check, err := limiter.CheckLimits(ctx, "user1", 8000, "NGN")
		if err != nil {
			t.Fatalf("CheckLimits failed: %v", err)
		}
		if !check.Allowed || check.RemainingDaily != 10000 {
			t.Fatalf("Expected repeated checks to be identical, got %+v", check)
		}
	}

	if err := limiter.RecordUsage(ctx, "user1", 8000, "NGN"); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	check, err := limiter.CheckLimits(ctx, "user1", 2001, "NGN")
	if err != nil {
		t.Fatalf("CheckLimits failed: %v", err)
	}
	if check.Allowed {
		t.Error("Expected daily limit to be exceeded")
	}
	if !errors.Is(check.Err(), models.ErrLimitExceeded) {
		t.Errorf("Expected ErrLimitExceeded, got %v", check.Err())
	}
	if check.RemainingDaily != 2000 || check.RemainingMonthly != 17000 {
		t.Errorf("Unexpected remaining %d/%d", check.RemainingDaily, check.RemainingMonthly)
	}
}

func TestCheckLimits_CalendarRollover(t *testing.T) {
	limiter, clock := setupTestLimiter(t)
	ctx := context.Background()

	if err := limiter.RecordUsage(ctx, "user1", 9000, "NGN"); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}

	*clock = time.Date(2026, 5, 15, 0, 0, 1, 0, time.UTC)
	check, err := limiter.CheckLimits(ctx, "user1", 10000, "NGN")
	if err != nil {
		t.Fatalf("CheckLimits failed: %v", err)
	}
	if !check.Allowed || check.RemainingDaily != 10000 || check.RemainingMonthly != 16000 {
		t.Fatalf("Expected daily counter to roll over, got %+v", check)
	}

	if err := limiter.RecordUsage(ctx, "user1", 10000, "NGN"); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	check, err = limiter.CheckLimits(ctx, "user1", 7000, "NGN")
	if err != nil {
		t.Fatalf("CheckLimits failed: %v", err)
	}
	if check.Allowed {
		t.Fatalf("Expected daily limit to block, got %+v", check)
	}

	*clock = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	check, err = limiter.CheckLimits(ctx, "user1", 10000, "NGN")
	if err != nil {
		t.Fatalf("CheckLimits failed: %v", err)
	}
	if !check.Allowed || check.RemainingMonthly != 25000 {
		t.Errorf("Expected monthly counter to roll over, got %+v", check)
	}
}

func TestCustomLimitsOverrideTier(t *testing.T) {
	limiter, _ := setupTestLimiter(t)
	ctx := context.Background()

	if err := limiter.SetTier(ctx, "user1", "verified"); err != nil {
		t.Fatalf("SetTier failed: %v", err)
	}
	check, err := limiter.CheckLimits(ctx, "user1", 40000, "NGN")
	if err != nil {
		t.Fatalf("CheckLimits failed: %v", err)
	}
	if !check.Allowed || check.Tier != "verified" {
		t.Fatalf("Expected verified tier limits, got %+v", check)
	}

	daily := int64(500)
	if err := limiter.SetCustomLimits(ctx, "user1", "NGN", &daily, nil); err != nil {
		t.Fatalf("SetCustomLimits failed: %v", err)
	}
	check, err = limiter.CheckLimits(ctx, "user1", 501, "NGN")
	if err != nil {
		t.Fatalf("CheckLimits failed: %v", err)
	}
	if check.Allowed || check.DailyLimit != 500 || check.MonthlyLimit != 200000 {
		t.Errorf("Expected custom daily override only, got %+v", check)
	}

	if err := limiter.SetCustomLimits(ctx, "user1", "NGN", nil, nil); err != nil {
		t.Fatalf("SetCustomLimits failed: %v", err)
	}
	check, err = limiter.CheckLimits(ctx, "user1", 501, "NGN")
	if err != nil {
		t.Fatalf("CheckLimits failed: %v", err)
	}
	if !check.Allowed {
		t.Errorf("Expected cleared override to restore tier limits, got %+v", check)
	}

	if err := limiter.SetTier(ctx, "user1", "platinum"); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected unknown tier to fail, got %v", err)
	}
}

func TestSuspensionOverridesLimits(t *testing.T) {
	limiter, _ := setupTestLimiter(t)
	ctx := context.Background()

	if err := limiter.SuspendUser(ctx, "user1", "chargeback investigation"); err != nil {
		t.Fatalf("SuspendUser failed: %v", err)
	}
	for _, cur := range models.SupportedCurrencies {
		check, err := limiter.CheckLimits(ctx, "user1", 1, cur)
		if err != nil {
			t.Fatalf("CheckLimits failed: %v", err)
		}
		if check.Allowed || !check.Suspended {
			t.Errorf("%s: expected suspension to block, got %+v", cur, check)
		}
		if !errors.Is(check.Err(), models.ErrAccountSuspended) {
			t.Errorf("%s: expected ErrAccountSuspended, got %v", cur, check.Err())
		}
	}

	if err := limiter.RestoreUser(ctx, "user1"); err != nil {
		t.Fatalf("RestoreUser failed: %v", err)
	}
	check, err := limiter.CheckLimits(ctx, "user1", 1, "USD")
	if err != nil {
		t.Fatalf("CheckLimits failed: %v", err)
	}
	if !check.Allowed {
		t.Errorf("Expected restored user to be allowed, got %+v", check)
	}
}

func TestCheckLimits_UnsupportedCurrency(t *testing.T) {
	limiter, _ := setupTestLimiter(t)
	if _, err := limiter.CheckLimits(context.Background(), "user1", 100, "GBP"); !errors.Is(err, models.ErrUnsupportedCurrency) {
		t.Errorf("Expected ErrUnsupportedCurrency, got %v", err)
	}
}

func TestCheckLimits_CountsWithdrawalsInFlight(t *testing.T) {
	limiter, _ := setupTestLimiter(t)
	ctx := context.Background()
	repo := limiter.store.Repos().Withdrawals()

	for i, status := range []models.WithdrawalStatus{
		models.WithdrawalLocked,
		models.WithdrawalPendingReconciliation,
		models.WithdrawalReleased,
	} {
		w := &models.Withdrawal{
			UserId:    "user1",
			Currency:  "NGN",
			Amount:    3000,
			Reference: fmt.Sprintf("WD-%d", i),
			Status:    status,
		}
		if err := repo.CreateWithdrawal(ctx, w); err != nil {
			t.Fatalf("CreateWithdrawal failed: %v", err)
		}
	}

	check, err := limiter.CheckLimits(ctx, "user1", 5000, "NGN")
	if err != nil {
		t.Fatalf("CheckLimits failed: %v", err)
	}
	if check.InFlight != 6000 || check.RemainingDaily != 4000 || check.RemainingMonthly != 19000 {
		t.Errorf("Unexpected check %+v", check)
	}
	if check.Allowed || !errors.Is(check.Err(), models.ErrLimitExceeded) {
		t.Errorf("Expected 5000 to exceed the 4000 left after in-flight withdrawals, got %+v", check)
	}
}
