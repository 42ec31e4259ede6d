package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"marketplace-ledger-go/internal/models"

	"go.uber.org/zap"
)

const paystackBaseURL = "https://api.paystack.co"

// Paystack settles NGN payments and payouts
type Paystack struct {
	rest        *restClient
	callbackURL string
}

var (
	_ Gateway         = (*Paystack)(nil)
	_ AccountResolver = (*Paystack)(nil)
)

func NewPaystack(cfg models.GatewayConfig) (*Paystack, error) {
	rest, err := newRestClient(models.GatewayPaystack, cfg, paystackBaseURL)
	if err != nil {
		return nil, err
	}
	return &Paystack{rest: rest, callbackURL: cfg.CallbackURL}, nil
}

func (p *Paystack) Name() string {
	return models.GatewayPaystack
}

// paystackEnvelope is the shape of every Paystack response
type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func (p *Paystack) call(ctx context.Context, operation, method, path string, payload any, out any) error {
	var body io.Reader = http.NoBody
	contentType := ""
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("unable to encode paystack request: %w", err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	resp, err := p.rest.do(ctx, operation, method, path, contentType, body, nil)
	if err != nil {
		return err
	}

	var env paystackEnvelope
	decodeErr := json.Unmarshal(resp.body, &env)
	if !isSuccess(resp.status) || (decodeErr == nil && !env.Status) {
		return p.rest.translate(operation, resp, env.Code, env.Message)
	}
	if decodeErr != nil {
		return p.rest.malformed(operation, resp, decodeErr)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return p.rest.malformed(operation, resp, err)
		}
	}
	return nil
}

func (p *Paystack) InitializeSession(ctx context.Context, req models.SessionRequest) (*models.Session, error) {
	payload := map[string]any{
		"email":     req.PayerEmail,
		"amount":    req.Amount,
		"currency":  req.Currency,
		"reference": req.Reference,
		"metadata":  req.Metadata,
	}
	if p.callbackURL != "" {
		payload["callback_url"] = p.callbackURL
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := p.call(ctx, "initialize", http.MethodPost, "/transaction/initialize", payload, &data); err != nil {
		return nil, err
	}

	zap.L().Info("Paystack session initialized",
		zap.String("reference", data.Reference),
		zap.Int64("amount", req.Amount))
	return &models.Session{Reference: data.Reference, RedirectURL: data.AuthorizationURL}, nil
}

func (p *Paystack) Verify(ctx context.Context, reference string) (*models.Verification, error) {
	var data struct {
		Status    string          `json:"status"`
		Reference string          `json:"reference"`
		Amount    int64           `json:"amount"`
		Currency  string          `json:"currency"`
		Metadata  json.RawMessage `json:"metadata"`
	}
	if err := p.call(ctx, "verify", http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &data); err != nil {
		return nil, err
	}

	return &models.Verification{
		Reference: data.Reference,
		Status:    paystackPaymentStatus(data.Status),
		Amount:    data.Amount,
		Currency:  strings.ToUpper(data.Currency),
		Metadata:  flattenMetadata(data.Metadata),
	}, nil
}

// ResolveAccount checks an account number against the bank in real time.
// An unresolvable account is reported as Valid=false rather than an error.
func (p *Paystack) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*models.ResolvedAccount, error) {
	query := url.Values{}
	query.Set("account_number", accountNumber)
	query.Set("bank_code", bankCode)

	var data struct {
		AccountNumber string `json:"account_number"`
		AccountName   string `json:"account_name"`
	}
	err := p.call(ctx, "resolve_account", http.MethodGet, "/bank/resolve?"+query.Encode(), nil, &data)
	if err != nil {
		var gwErr *models.GatewayError
		if errors.As(err, &gwErr) && !gwErr.Unknown && gwErr.StatusCode >= 400 && gwErr.StatusCode < 500 {
			return &models.ResolvedAccount{Valid: false, AccountNumber: accountNumber}, nil
		}
		return nil, err
	}
	return &models.ResolvedAccount{Valid: true, AccountNumber: data.AccountNumber, AccountName: data.AccountName}, nil
}

// InitiatePayout creates a transfer recipient and sends a transfer to it. The
// transfer reference is our withdrawal reference, which Paystack deduplicates.
func (p *Paystack) InitiatePayout(ctx context.Context, req models.PayoutRequest) (*models.Payout, error) {
	var recipient struct {
		RecipientCode string `json:"recipient_code"`
	}
	err := p.call(ctx, "create_recipient", http.MethodPost, "/transferrecipient", map[string]any{
		"type":           "nuban",
		"name":           req.Destination.AccountName,
		"account_number": req.Destination.AccountNumber,
		"bank_code":      req.Destination.BankCode,
		"currency":       req.Currency,
	}, &recipient)
	if err != nil {
		return nil, err
	}

	var transfer paystackTransfer
	err = p.call(ctx, "transfer", http.MethodPost, "/transfer", map[string]any{
		"source":    "balance",
		"amount":    req.Amount,
		"recipient": recipient.RecipientCode,
		"reference": req.Reference,
		"reason":    req.Reason,
		"currency":  req.Currency,
	}, &transfer)
	if err != nil {
		return nil, err
	}
	return transfer.payout(), nil
}

func (p *Paystack) PayoutStatus(ctx context.Context, reference, _ string) (*models.Payout, error) {
	var transfer paystackTransfer
	if err := p.call(ctx, "transfer_status", http.MethodGet, "/transfer/verify/"+url.PathEscape(reference), nil, &transfer); err != nil {
		return nil, err
	}
	return transfer.payout(), nil
}

type paystackTransfer struct {
	TransferCode string `json:"transfer_code"`
	Reference    string `json:"reference"`
	Status       string `json:"status"`
}

func (t paystackTransfer) payout() *models.Payout {
	status := models.GatewayStatusPending
	switch t.Status {
	case "success":
		status = models.GatewayStatusSuccess
	case "failed", "reversed", "abandoned", "rejected":
		status = models.GatewayStatusFailed
	}
	return &models.Payout{PayoutId: t.TransferCode, Reference: t.Reference, Status: status}
}

func paystackPaymentStatus(status string) string {
	switch status {
	case "success":
		return models.GatewayStatusSuccess
	case "failed", "abandoned", "reversed":
		return models.GatewayStatusFailed
	}
	return models.GatewayStatusPending
}

// flattenMetadata converts an echoed metadata object into string values.
// Non-object metadata yields nil.
func flattenMetadata(raw json.RawMessage) models.Metadata {
	var obj map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &obj) != nil {
		return nil
	}
	md := make(models.Metadata, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case nil:
		case string:
			md[k] = val
		case float64:
			md[k] = fmt.Sprintf("%.0f", val)
		default:
			b, _ := json.Marshal(val)
			md[k] = string(b)
		}
	}
	return md
}
