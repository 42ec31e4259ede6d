package gateway

import (
	"context"
	"fmt"

	"marketplace-ledger-go/internal/models"
)

// Gateway moves money in and out of the platform for one currency family.
type Gateway interface {
	Name() string
	// InitializeSession starts a hosted payment. The returned reference is the
	// one Verify accepts.
	InitializeSession(ctx context.Context, req models.SessionRequest) (*models.Session, error)
	Verify(ctx context.Context, reference string) (*models.Verification, error)
	InitiatePayout(ctx context.Context, req models.PayoutRequest) (*models.Payout, error)
	// PayoutStatus looks up a payout by our reference or the gateway's payout id.
	PayoutStatus(ctx context.Context, reference, payoutId string) (*models.Payout, error)
}

// AccountResolver resolves bank account names in real time.
type AccountResolver interface {
	ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*models.ResolvedAccount, error)
}

// currencyGateways is the fixed routing table: exactly one gateway per currency.
var currencyGateways = map[string]string{
	models.CurrencyNGN: models.GatewayPaystack,
	models.CurrencyUSD: models.GatewayStripe,
}

// GatewayFor returns the gateway name routed for currency.
func GatewayFor(currency string) (string, error) {
	cur, err := models.NormalizeCurrency(currency)
	if err != nil {
		return "", err
	}
	name, ok := currencyGateways[cur]
	if !ok {
		return "", fmt.Errorf("%w: no gateway for %s", models.ErrUnsupportedCurrency, cur)
	}
	return name, nil
}

// ValidatePairing fails with models.ErrInvalidGatewayPairing when gatewayName
// is not the gateway routed for currency. It never touches the network.
func ValidatePairing(currency, gatewayName string) error {
	want, err := GatewayFor(currency)
	if err != nil {
		return err
	}
	if gatewayName != "" && gatewayName != want {
		return fmt.Errorf("%w: %s is settled through %s, not %s", models.ErrInvalidGatewayPairing, currency, want, gatewayName)
	}
	return nil
}

// Routes holds the gateway clients behind the routing table
type Routes struct {
	gateways map[string]Gateway
}

// NewRoutes requires a client for every routed gateway.
func NewRoutes(gateways ...Gateway) (*Routes, error) {
	r := &Routes{gateways: make(map[string]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Name()] = g
	}
	for cur, name := range currencyGateways {
		if _, ok := r.gateways[name]; !ok {
			return nil, fmt.Errorf("no %s client configured for %s", name, cur)
		}
	}
	return r, nil
}

// Resolve checks the pairing and returns the gateway for currency. An empty
// gatewayName selects the routed gateway.
func (r *Routes) Resolve(currency, gatewayName string) (Gateway, error) {
	if err := ValidatePairing(currency, gatewayName); err != nil {
		return nil, err
	}
	name, _ := GatewayFor(currency)
	return r.gateways[name], nil
}

// Resolver returns the account resolver for currency, or nil when that
// currency family validates accounts structurally.
func (r *Routes) Resolver(currency string) AccountResolver {
	g, err := r.Resolve(currency, "")
	if err != nil {
		return nil
	}
	resolver, _ := g.(AccountResolver)
	return resolver
}

// Gateways returns every configured gateway
func (r *Routes) Gateways() []Gateway {
	out := make([]Gateway, 0, len(r.gateways))
	for _, g := range r.gateways {
		out = append(out, g)
	}
	return out
}
