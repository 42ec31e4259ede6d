package formance

import (
	"context"
	"fmt"
	"math/big"

	"marketplace-ledger-go/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// MirroredBalance is a wallet as the Formance ledger sees it, in minor units.
type MirroredBalance struct {
	UserId    string `json:"user_id"`
	Currency  string `json:"currency"`
	Available int64  `json:"available"`
	Pending   int64  `json:"pending"`
}

// Drift reports whether the mirror disagrees with a local wallet.
func (m *MirroredBalance) Drift(acct *models.WalletAccount) bool {
	return m.Available != acct.BalanceAvailable || m.Pending != acct.BalancePending
}

// GetWalletBalance reads the mirrored available and pending balances of one wallet.
func (s *Service) GetWalletBalance(ctx context.Context, userId, currency string) (*MirroredBalance, error) {
	zap.L().Debug("Getting wallet balance from Formance",
		zap.String("user_id", userId), zap.String("currency", currency))

	fAsset := formanceAsset(currency)
	out := &MirroredBalance{UserId: userId, Currency: currency}
	for _, side := range []struct {
		suffix string
		dst    *int64
	}{
		{":available", &out.Available},
		{":pending", &out.Pending},
	} {
		vols, err := s.getAccountVolumes(ctx, "users:"+userId+side.suffix)
		if err != nil {
			return nil, err
		}
		bal, err := minorUnits(volumeBalance(vols, fAsset))
		if err != nil {
			return nil, err
		}
		*side.dst = bal
	}
	return out, nil
}

// getAccountVolumes fetches volumes for a single account. An account the
// ledger has never seen has no volumes.
func (s *Service) getAccountVolumes(ctx context.Context, address string) (map[string]shared.V2Volume, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: address,
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		zap.L().Warn("Failed to get account volumes", zap.String("address", address), zap.Error(err))
		return nil, fmt.Errorf("failed to get account %s: %w", address, err)
	}
	return resp.V2AccountResponse.Data.Volumes, nil
}

// volumeBalance extracts the balance for a specific asset from volumes.
func volumeBalance(vols map[string]shared.V2Volume, fAsset string) *big.Int {
	vol, ok := vols[fAsset]
	if !ok {
		return nil
	}
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}

func minorUnits(raw *big.Int) (int64, error) {
	if raw == nil {
		return 0, nil
	}
	if !raw.IsInt64() {
		return 0, fmt.Errorf("mirrored balance %s overflows int64", raw.String())
	}
	return raw.Int64(), nil
}
