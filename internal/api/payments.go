package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"marketplace-ledger-go/internal/models"
	"marketplace-ledger-go/internal/payment"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (s *Service) handleInitializePayment(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req payment.InitializeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.UserID = user
	req.IdempotencyKey = r.Header.Get(headerIdempotencyKey)
	req.IP = r.RemoteAddr
	// Price overrides are an operator tool.
	if !s.isAdmin(r) {
		req.PriceOverride = nil
	}

	result, err := s.deps.Payments.InitializePayment(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Free {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

func (s *Service) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req payment.VerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.IdempotencyKey = r.Header.Get(headerIdempotencyKey)
	req.Source = "client"

	result, err := s.deps.Payments.VerifyPayment(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// webhookEvent is the part of a gateway event that settlement needs.
type webhookEvent struct {
	EventId   string
	Reference string
	Currency  string
}

type paystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		Id        json.Number `json:"id"`
		Reference string      `json:"reference"`
		Currency  string      `json:"currency"`
	} `json:"data"`
}

type stripeEvent struct {
	Id   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			Id       string `json:"id"`
			Currency string `json:"currency"`
		} `json:"object"`
	} `json:"data"`
}

// parseWebhook extracts a successful-payment event. ok is false for events
// that do not settle a payment.
func parseWebhook(gatewayName string, body []byte) (event webhookEvent, ok bool, err error) {
	switch gatewayName {
	case models.GatewayPaystack:
		var e paystackEvent
		if err := json.Unmarshal(body, &e); err != nil {
			return webhookEvent{}, false, fmt.Errorf("%w: malformed paystack event: %v", models.ErrValidation, err)
		}
		if e.Event != "charge.success" {
			return webhookEvent{}, false, nil
		}
		id := e.Data.Id.String()
		if id == "" {
			id = e.Data.Reference
		}
		return webhookEvent{EventId: "paystack-" + id, Reference: e.Data.Reference, Currency: strings.ToUpper(e.Data.Currency)}, true, nil
	case models.GatewayStripe:
		var e stripeEvent
		if err := json.Unmarshal(body, &e); err != nil {
			return webhookEvent{}, false, fmt.Errorf("%w: malformed stripe event: %v", models.ErrValidation, err)
		}
		if e.Type != "checkout.session.completed" {
			return webhookEvent{}, false, nil
		}
		currency := strings.ToUpper(e.Data.Object.Currency)
		if currency == "" {
			currency = models.CurrencyUSD
		}
		return webhookEvent{EventId: e.Id, Reference: e.Data.Object.Id, Currency: currency}, true, nil
	default:
		return webhookEvent{}, false, fmt.Errorf("%w: unknown gateway %q", models.ErrNotFound, gatewayName)
	}
}

// handleWebhook settles a payment on a gateway event whose signature was
// verified upstream. Duplicates are acknowledged so the gateway stops retrying.
func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	gatewayName := chi.URLParam(r, "gateway")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: unreadable body", models.ErrValidation))
		return
	}

	event, ok, err := parseWebhook(gatewayName, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if event.Reference == "" {
		writeError(w, r, fmt.Errorf("%w: event carries no payment reference", models.ErrValidation))
		return
	}

	zap.L().Info("Webhook received",
		zap.String("gateway", gatewayName),
		zap.String("event_id", event.EventId),
		zap.String("reference", event.Reference))

	result, err := s.deps.Payments.VerifyPayment(r.Context(), payment.VerifyRequest{
		Reference:      event.Reference,
		Currency:       event.Currency,
		Gateway:        gatewayName,
		IdempotencyKey: "webhook:" + event.EventId,
		Source:         "webhook",
	})
	if errors.Is(err, models.ErrAlreadyProcessed) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already_processed"})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":         "settled",
		"purchase_id":    result.Purchase.Id,
		"owner_credited": strconv.FormatBool(result.OwnerCredited),
	})
}
