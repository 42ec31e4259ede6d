/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every component. Callers wrap these with
// fmt.Errorf("%w: ...") and match them with errors.Is.
var (
	ErrValidation            = errors.New("validation error")
	ErrUnsupportedCurrency   = errors.New("unsupported currency")
	ErrInvalidGatewayPairing = errors.New("invalid gateway pairing")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrDuplicatePurchase     = errors.New("duplicate purchase")
	ErrAlreadyProcessed      = errors.New("already processed")
	ErrOperationInFlight     = fmt.Errorf("%w: operation in flight", ErrAlreadyProcessed)
	ErrGateway               = errors.New("gateway error")
	ErrFraudBlocked          = errors.New("blocked by fraud detection")
	ErrLimitExceeded         = errors.New("withdrawal limit exceeded")
	ErrAccountSuspended      = errors.New("account suspended")
	ErrBankValidationFailed  = errors.New("bank validation failed")
	ErrNotFound              = errors.New("not found")
)

// GatewayError is an upstream gateway failure translated into a human-readable reason.
// Raw holds the upstream payload for logs; it is never returned to end users.
type GatewayError struct {
	Gateway    string
	Code       string
	Reason     string
	StatusCode int
	Raw        string
	// Unknown marks outcomes that may or may not have executed upstream (timeouts, 5xx).
	Unknown bool
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s gateway error (%s): %s", e.Gateway, e.Code, e.Reason)
	}
	return fmt.Sprintf("%s gateway error: %s", e.Gateway, e.Reason)
}

// Is lets errors.Is(err, ErrGateway) match any *GatewayError.
func (e *GatewayError) Is(target error) bool {
	return target == ErrGateway
}

// IsUnknownOutcome reports whether err leaves the upstream result undetermined.
func IsUnknownOutcome(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.Unknown
}

var errorKinds = []struct {
	kind string
	err  error
}{
	{"operation_in_flight", ErrOperationInFlight},
	{"validation_error", ErrValidation},
	{"unsupported_currency", ErrUnsupportedCurrency},
	{"invalid_gateway_pairing", ErrInvalidGatewayPairing},
	{"insufficient_funds", ErrInsufficientFunds},
	{"duplicate_purchase", ErrDuplicatePurchase},
	{"already_processed", ErrAlreadyProcessed},
	{"gateway_error", ErrGateway},
	{"fraud_blocked", ErrFraudBlocked},
	{"limit_exceeded", ErrLimitExceeded},
	{"account_suspended", ErrAccountSuspended},
	{"bank_validation_failed", ErrBankValidationFailed},
	{"not_found", ErrNotFound},
}

// ErrorKind returns the stable taxonomy name for err, or "internal_error".
func ErrorKind(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal_error"
}

// replayedError carries a stored message while still matching its sentinel.
type replayedError struct {
	sentinel error
	message  string
}

func (e *replayedError) Error() string { return e.message }
func (e *replayedError) Unwrap() error { return e.sentinel }

// ErrorFromKind rebuilds a taxonomy error from a stored kind and message.
func ErrorFromKind(kind, message string) error {
	for _, k := range errorKinds {
		if k.kind == kind {
			return &replayedError{sentinel: k.err, message: message}
		}
	}
	return errors.New(message)
}

// IsBusinessError reports whether err belongs to the taxonomy, as opposed to an
// infrastructure failure that the caller may retry.
func IsBusinessError(err error) bool {
	return ErrorKind(err) != "internal_error"
}
