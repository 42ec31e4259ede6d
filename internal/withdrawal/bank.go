package withdrawal

import (
	"context"
	"fmt"
	"strings"

	"marketplace-ledger-go/internal/gateway"
	"marketplace-ledger-go/internal/models"

	"go.uber.org/zap"
)

// ValidateDestination checks a payout destination for currency. Resolver-backed
// currencies take the account name from the bank; the rest are checked
// structurally without any external call.
func ValidateDestination(ctx context.Context, resolver gateway.AccountResolver, currency string, dest models.BankDestination) (*models.BankDestination, error) {
	dest.BankCode = strings.TrimSpace(dest.BankCode)
	dest.AccountNumber = strings.TrimSpace(dest.AccountNumber)
	dest.AccountName = strings.TrimSpace(dest.AccountName)

	switch currency {
	case models.CurrencyNGN:
		return resolveNuban(ctx, resolver, dest)
	case models.CurrencyUSD:
		if err := validateUSAccount(dest); err != nil {
			return nil, err
		}
		return &dest, nil
	}
	return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedCurrency, currency)
}

func resolveNuban(ctx context.Context, resolver gateway.AccountResolver, dest models.BankDestination) (*models.BankDestination, error) {
	if len(dest.AccountNumber) != 10 || !isDigits(dest.AccountNumber) {
		return nil, fmt.Errorf("%w: account number must be 10 digits", models.ErrBankValidationFailed)
	}
	if dest.BankCode == "" || !isDigits(dest.BankCode) {
		return nil, fmt.Errorf("%w: bank code must be numeric", models.ErrBankValidationFailed)
	}
	if resolver == nil {
		return nil, fmt.Errorf("no account resolver configured for %s", models.CurrencyNGN)
	}

	resolved, err := resolver.ResolveAccount(ctx, dest.AccountNumber, dest.BankCode)
	if err != nil {
		return nil, err
	}
	if !resolved.Valid {
		zap.L().Info("Bank account could not be resolved",
			zap.String("bank_code", dest.BankCode),
			zap.String("account_number", dest.AccountNumber))
		return nil, fmt.Errorf("%w: account could not be resolved", models.ErrBankValidationFailed)
	}
	dest.AccountName = resolved.AccountName
	return &dest, nil
}

// validateUSAccount checks an ABA routing number, a 4 to 17 digit account
// number and the holder name.
func validateUSAccount(dest models.BankDestination) error {
	if !validRoutingNumber(dest.BankCode) {
		return fmt.Errorf("%w: invalid routing number", models.ErrBankValidationFailed)
	}
	if n := len(dest.AccountNumber); n < 4 || n > 17 || !isDigits(dest.AccountNumber) {
		return fmt.Errorf("%w: account number must be 4 to 17 digits", models.ErrBankValidationFailed)
	}
	if dest.AccountName == "" {
		return fmt.Errorf("%w: account holder name is required", models.ErrBankValidationFailed)
	}
	return nil
}

// validRoutingNumber applies the ABA 3-7-1 checksum.
func validRoutingNumber(rtn string) bool {
	if len(rtn) != 9 || !isDigits(rtn) {
		return false
	}
	weights := [3]int{3, 7, 1}
	sum := 0
	for i, r := range rtn {
		sum += int(r-'0') * weights[i%3]
	}
	return sum%10 == 0
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
