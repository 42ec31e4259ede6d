package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"marketplace-ledger-go/internal/models"

	"go.uber.org/zap"
)

const stripeBaseURL = "https://api.stripe.com"

// Stripe settles USD payments through Checkout Sessions and USD payouts
type Stripe struct {
	rest       *restClient
	successURL string
	cancelURL  string
}

var _ Gateway = (*Stripe)(nil)

func NewStripe(cfg models.GatewayConfig) (*Stripe, error) {
	rest, err := newRestClient(models.GatewayStripe, cfg, stripeBaseURL)
	if err != nil {
		return nil, err
	}
	cancelURL := cfg.CancelURL
	if cancelURL == "" {
		cancelURL = cfg.CallbackURL
	}
	return &Stripe{rest: rest, successURL: cfg.CallbackURL, cancelURL: cancelURL}, nil
}

func (s *Stripe) Name() string {
	return models.GatewayStripe
}

type stripeError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Stripe) call(ctx context.Context, operation, method, path string, form url.Values, idempotencyKey string, out any) error {
	var body io.Reader = http.NoBody
	contentType := ""
	var headers map[string]string
	if form != nil {
		body = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}
	if idempotencyKey != "" {
		headers = map[string]string{"Idempotency-Key": idempotencyKey}
	}

	resp, err := s.rest.do(ctx, operation, method, path, contentType, body, headers)
	if err != nil {
		return err
	}

	if !isSuccess(resp.status) {
		var e stripeError
		_ = json.Unmarshal(resp.body, &e)
		code := e.Error.Code
		if code == "" {
			code = e.Error.Type
		}
		return s.rest.translate(operation, resp, code, e.Error.Message)
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return s.rest.malformed(operation, resp, err)
	}
	return nil
}

type stripeSession struct {
	Id            string            `json:"id"`
	URL           string            `json:"url"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

// InitializeSession creates a Checkout Session. The session id is the
// reference Verify accepts; our own reference travels as client_reference_id.
func (s *Stripe) InitializeSession(ctx context.Context, req models.SessionRequest) (*models.Session, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", req.Reference)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.Amount, 10))
	form.Set("line_items[0][price_data][product_data][name]", productName(req.Metadata))
	if req.PayerEmail != "" {
		form.Set("customer_email", req.PayerEmail)
	}
	if s.successURL != "" {
		form.Set("success_url", s.successURL)
	}
	if s.cancelURL != "" {
		form.Set("cancel_url", s.cancelURL)
	}
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var session stripeSession
	if err := s.call(ctx, "initialize", http.MethodPost, "/v1/checkout/sessions", form, req.Reference, &session); err != nil {
		return nil, err
	}

	zap.L().Info("Stripe checkout session created",
		zap.String("session_id", session.Id),
		zap.String("client_reference", req.Reference),
		zap.Int64("amount", req.Amount))
	return &models.Session{Reference: session.Id, RedirectURL: session.URL}, nil
}

func (s *Stripe) Verify(ctx context.Context, reference string) (*models.Verification, error) {
	var session stripeSession
	if err := s.call(ctx, "verify", http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(reference), nil, "", &session); err != nil {
		return nil, err
	}

	status := models.GatewayStatusPending
	switch {
	case session.PaymentStatus == "paid":
		status = models.GatewayStatusSuccess
	case session.Status == "expired":
		status = models.GatewayStatusFailed
	}

	return &models.Verification{
		Reference: session.Id,
		Status:    status,
		Amount:    session.AmountTotal,
		Currency:  strings.ToUpper(session.Currency),
		Metadata:  models.Metadata(session.Metadata),
	}, nil
}

type stripePayout struct {
	Id          string            `json:"id"`
	Status      string            `json:"status"`
	Metadata    map[string]string `json:"metadata"`
	FailureCode string            `json:"failure_code"`
}

func (p stripePayout) payout(reference string) *models.Payout {
	status := models.GatewayStatusPending
	switch p.Status {
	case "paid":
		status = models.GatewayStatusSuccess
	case "failed", "canceled":
		status = models.GatewayStatusFailed
	}
	if ref := p.Metadata["reference"]; ref != "" {
		reference = ref
	}
	return &models.Payout{PayoutId: p.Id, Reference: reference, Status: status}
}

// InitiatePayout sends a payout keyed by our reference. The destination
// account travels in the payout metadata.
func (s *Stripe) InitiatePayout(ctx context.Context, req models.PayoutRequest) (*models.Payout, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("description", req.Reason)
	form.Set("metadata[reference]", req.Reference)
	form.Set("metadata[routing_number]", req.Destination.BankCode)
	form.Set("metadata[account_number]", req.Destination.AccountNumber)
	form.Set("metadata[account_name]", req.Destination.AccountName)

	var p stripePayout
	if err := s.call(ctx, "payout", http.MethodPost, "/v1/payouts", form, req.Reference, &p); err != nil {
		return nil, err
	}
	return p.payout(req.Reference), nil
}

// PayoutStatus needs the payout id; without one the outcome stays unknown.
func (s *Stripe) PayoutStatus(ctx context.Context, reference, payoutId string) (*models.Payout, error) {
	if payoutId == "" {
		return nil, &models.GatewayError{
			Gateway: models.GatewayStripe,
			Code:    "payout_unknown",
			Reason:  "no payout id was recorded for " + reference,
			Unknown: true,
		}
	}
	var p stripePayout
	if err := s.call(ctx, "payout_status", http.MethodGet, "/v1/payouts/"+url.PathEscape(payoutId), nil, "", &p); err != nil {
		return nil, err
	}
	return p.payout(reference), nil
}

func productName(md models.Metadata) string {
	if md[models.MetaContentType] == "" {
		return "Marketplace content"
	}
	if id := md[models.MetaContentId]; id != "" {
		return md[models.MetaContentType] + " " + id
	}
	return md[models.MetaContentType]
}
