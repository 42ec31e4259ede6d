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

// Gateway names
const (
	GatewayPaystack = "paystack"
	GatewayStripe   = "stripe"
	GatewayNone     = "none"
)

// Canonical payment and payout statuses reported by gateways
const (
	GatewayStatusSuccess = "success"
	GatewayStatusFailed  = "failed"
	GatewayStatusPending = "pending"
)

// SessionRequest asks a gateway to start a hosted payment session
type SessionRequest struct {
	Reference  string
	Amount     int64
	Currency   string
	PayerEmail string
	Metadata   Metadata
}

// Session is a started payment session
type Session struct {
	Reference   string `json:"reference"`
	RedirectURL string `json:"redirect_url"`
}

// Verification is the gateway's canonical view of a payment
type Verification struct {
	Reference string
	Status    string
	Amount    int64
	Currency  string
	Metadata  Metadata
}

// BankDestination is a withdrawal destination account
type BankDestination struct {
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// PayoutRequest asks a gateway to send funds to a bank account
type PayoutRequest struct {
	Destination BankDestination
	Amount      int64
	Currency    string
	Reference   string
	Reason      string
}

// Payout is a gateway's view of a transfer
type Payout struct {
	PayoutId  string
	Reference string
	Status    string
}

// ResolvedAccount is the result of a real-time account name lookup
type ResolvedAccount struct {
	Valid         bool
	AccountNumber string
	AccountName   string
}
