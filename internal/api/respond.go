package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"marketplace-ledger-go/internal/models"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

var kindStatus = map[string]int{
	"validation_error":        http.StatusBadRequest,
	"unsupported_currency":    http.StatusBadRequest,
	"invalid_gateway_pairing": http.StatusBadRequest,
	"bank_validation_failed":  http.StatusUnprocessableEntity,
	"insufficient_funds":      http.StatusUnprocessableEntity,
	"limit_exceeded":          http.StatusUnprocessableEntity,
	"duplicate_purchase":      http.StatusConflict,
	"already_processed":       http.StatusConflict,
	"operation_in_flight":     http.StatusConflict,
	"fraud_blocked":           http.StatusForbidden,
	"account_suspended":       http.StatusForbidden,
	"gateway_error":           http.StatusBadGateway,
	"not_found":               http.StatusNotFound,
}

// statusFor maps an error to its HTTP status by taxonomy kind.
func statusFor(err error) int {
	if status, ok := kindStatus[models.ErrorKind(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("Failed to encode response", zap.Error(err))
	}
}

// writeError renders err with its taxonomy kind. Internal failures are logged
// and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := models.ErrorKind(err)
	status := statusFor(err)

	message := err.Error()
	var gwErr *models.GatewayError
	if errors.As(err, &gwErr) {
		message = gwErr.Reason
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		message = "internal error"
	}
	writeJSON(w, status, models.ErrorResponse{Error: kind, Message: message})
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", models.ErrValidation, err)
	}
	return nil
}

// pagination reads limit and offset, defaulting to 20 and capping at 100.
func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func queryInt64(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", models.ErrValidation, name)
	}
	return v, nil
}
