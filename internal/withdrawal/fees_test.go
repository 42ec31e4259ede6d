package withdrawal

import (
	"errors"
	"testing"

	"marketplace-ledger-go/internal/models"
)

func TestFeeCalculator(t *testing.T) {
	calc := NewFeeCalculator(testPolicy())

	tests := []struct {
		name       string
		amount     int64
		currency   string
		commission string
		fee        string
		net        string
		payout     int64
	}{
		{"percent fee", 10000, "NGN", "2000.00", "120.00", "7880.00", 7880},
		{"capped fee", 1000000, "NGN", "200000.00", "2000.00", "798000.00", 798000},
		{"floored fee", 1000, "ngn", "200.00", "50.00", "750.00", 750},
		{"percent plus fixed", 10000, "USD", "2000.00", "262.00", "7738.00", 7738},
		{"fractional components", 333, "USD", "66.60", "50.00", "216.40", 216},
		{"fee rounded to two places", 10003, "NGN", "2000.60", "120.04", "7882.36", 7882},
	}

	for _, tt := range tests {
		fees, err := calc.Calculate(tt.amount, tt.currency)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
			continue
		}
		if got := fees.Commission.StringFixed(2); got != tt.commission {
			t.Errorf("%s: expected commission %s, got %s", tt.name, tt.commission, got)
		}
		if got := fees.GatewayFee.StringFixed(2); got != tt.fee {
			t.Errorf("%s: expected gateway fee %s, got %s", tt.name, tt.fee, got)
		}
		if got := fees.NetAmount.StringFixed(2); got != tt.net {
			t.Errorf("%s: expected net %s, got %s", tt.name, tt.net, got)
		}
		if fees.PayoutAmount != tt.payout {
			t.Errorf("%s: expected payout %d, got %d", tt.name, tt.payout, fees.PayoutAmount)
		}
	}
}

func TestFeeCalculator_Rejects(t *testing.T) {
	calc := NewFeeCalculator(testPolicy())

	if _, err := calc.Calculate(60, "NGN"); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected amount below fees to fail validation, got %v", err)
	}
	if _, err := calc.Calculate(0, "NGN"); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected zero amount to fail validation, got %v", err)
	}
	if _, err := calc.Calculate(1000, "EUR"); !errors.Is(err, models.ErrUnsupportedCurrency) {
		t.Errorf("Expected ErrUnsupportedCurrency, got %v", err)
	}
}

func TestValidRoutingNumber(t *testing.T) {
	tests := []struct {
		rtn  string
		want bool
	}{
		{"021000021", true},
		{"011000015", true},
		{"021000022", false},
		{"02100002", false},
		{"02100002a", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := validRoutingNumber(tt.rtn); got != tt.want {
			t.Errorf("%q: expected %v, got %v", tt.rtn, tt.want, got)
		}
	}
}

func TestValidateUSAccount(t *testing.T) {
	tests := []struct {
		name string
		dest models.BankDestination
		ok   bool
	}{
		{"valid", models.BankDestination{BankCode: "021000021", AccountNumber: "123456789", AccountName: "Ada Obi"}, true},
		{"short account", models.BankDestination{BankCode: "021000021", AccountNumber: "123", AccountName: "Ada Obi"}, false},
		{"long account", models.BankDestination{BankCode: "021000021", AccountNumber: "123456789012345678", AccountName: "Ada Obi"}, false},
		{"missing holder", models.BankDestination{BankCode: "021000021", AccountNumber: "123456789"}, false},
	}
	for _, tt := range tests {
		err := validateUSAccount(tt.dest)
		if tt.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.ok && !errors.Is(err, models.ErrBankValidationFailed) {
			t.Errorf("%s: expected ErrBankValidationFailed, got %v", tt.name, err)
		}
	}
}
