package common

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"marketplace-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

func TestParsePolicy_OverridesDefaults(t *testing.T) {
	doc := `
commission_rate: "0.15"
fees:
  ngn:
    percent: "0.02"
    floor: "500"
    cap: "150000"
rates:
  usd:
    ngn: "1600"
coupons:
  launch20:
    kind: percent
    value: "20"
    content_ids: ["c1"]
tiers:
  gold:
    ngn: {daily: 900000, monthly: 9000000}
fraud:
  new_payee_grace: 12h
  block_threshold: 80
  weights:
    off_hours: 5
`
	policy, err := ParsePolicy([]byte(doc))
	if err != nil {
		t.Fatalf("ParsePolicy failed: %v", err)
	}

	if !policy.CommissionRate.Equal(decimal.RequireFromString("0.15")) {
		t.Errorf("Expected commission 0.15, got %s", policy.CommissionRate)
	}
	ngn := policy.Fees[models.CurrencyNGN]
	if !ngn.Percent.Equal(decimal.RequireFromString("0.02")) || !ngn.Cap.Equal(decimal.NewFromInt(150000)) {
		t.Errorf("Unexpected NGN fee schedule: %+v", ngn)
	}
	if _, ok := policy.Fees[models.CurrencyUSD]; !ok {
		t.Error("Expected default USD fee schedule to survive")
	}
	if !policy.Rates["USD"]["NGN"].Equal(decimal.NewFromInt(1600)) {
		t.Errorf("Expected USD->NGN 1600, got %s", policy.Rates["USD"]["NGN"])
	}

	coupon, ok := policy.Coupons["LAUNCH20"]
	if !ok {
		t.Fatal("Expected coupon code to be upper-cased")
	}
	if coupon.Kind != models.CouponPercent || coupon.Code != "LAUNCH20" || len(coupon.ContentIds) != 1 {
		t.Errorf("Unexpected coupon: %+v", coupon)
	}

	if got := policy.Tiers["gold"]["NGN"]; got.Daily != 900000 {
		t.Errorf("Expected gold tier, got %+v", got)
	}
	if _, ok := policy.Tiers["basic"]; !ok {
		t.Error("Expected default tiers to survive")
	}

	if policy.Fraud.NewPayeeGrace != 12*time.Hour || policy.Fraud.BlockThreshold != 80 {
		t.Errorf("Unexpected fraud policy: %+v", policy.Fraud)
	}
	if policy.Fraud.Weights.OffHours != 5 || policy.Fraud.Weights.Velocity != 30 {
		t.Errorf("Unexpected fraud weights: %+v", policy.Fraud.Weights)
	}
}

func TestParsePolicy_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown key", "surcharge: 1\n", "unable to parse policy"},
		{"bad decimal", "commission_rate: abc\n", "invalid commission_rate"},
		{"commission above one", "commission_rate: \"1.5\"\n", "between 0 and 1"},
		{"coupon kind", "coupons:\n  x:\n    kind: bogo\n    value: \"1\"\n", "unknown kind"},
		{"zero rate", "rates:\n  usd:\n    ngn: \"0\"\n", "must be positive"},
		{"missing default tier", "default_tier: platinum\n", "default tier"},
		{"thresholds inverted", "fraud:\n  review_threshold: 95\n", "exceeds block threshold"},
		{"unknown weight", "fraud:\n  weights:\n    moon_phase: 3\n", "unknown fraud weight"},
		{"bad duration", "fraud:\n  new_payee_grace: soon\n", "new_payee_grace"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(tt.doc))
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadPolicy_MissingFileUsesDefaults(t *testing.T) {
	policy, err := LoadPolicy(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}
	if policy.DefaultTier != "basic" || !policy.CommissionRate.Equal(decimal.RequireFromString("0.20")) {
		t.Errorf("Expected defaults, got tier=%s commission=%s", policy.DefaultTier, policy.CommissionRate)
	}
}

func TestLoadPolicy_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("default_tier: verified\n"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}
	if policy.DefaultTier != "verified" {
		t.Errorf("Expected verified default tier, got %s", policy.DefaultTier)
	}
}

func TestFormatAndParseMinor(t *testing.T) {
	if got := FormatMinor(250000, "NGN"); got != "2500.00" {
		t.Errorf("FormatMinor = %s, want 2500.00", got)
	}
	if got := FormatMinor(5, "USD"); got != "0.05" {
		t.Errorf("FormatMinor = %s, want 0.05", got)
	}

	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{"25.50", 2550, false},
		{"7", 700, false},
		{" 0.01 ", 1, false},
		{"1.005", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMajor(tt.raw, "USD")
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMajor(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMajor(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}
