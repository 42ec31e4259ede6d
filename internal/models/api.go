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
	"time"
)

// ErrorResponse is the body of every failed API call. Message never carries
// raw gateway payloads.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// UserBalance represents a user's balance for a specific currency
type UserBalance struct {
	Currency  string `json:"currency"`
	Available int64  `json:"available"`
	Pending   int64  `json:"pending"`
}

// BalancesResponse lists every wallet of a user
type BalancesResponse struct {
	UserId   string        `json:"user_id"`
	Balances []UserBalance `json:"balances"`
}

// TransactionRecord represents an entry in the user's wallet history
type TransactionRecord struct {
	Id            string    `json:"id"`
	Kind          EntryKind `json:"kind"`
	Currency      string    `json:"currency"`
	Amount        int64     `json:"amount"`
	BalanceBefore int64     `json:"balance_before"`
	BalanceAfter  int64     `json:"balance_after"`
	Reference     string    `json:"reference"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// TransferRequest moves funds between two wallets of the same currency
type TransferRequest struct {
	ToUserId    string `json:"to_user_id"`
	Currency    string `json:"currency"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
}

// TransferResult is cached under the transfer's idempotency key
type TransferResult struct {
	Reference  string `json:"reference"`
	FromUserId string `json:"from_user_id"`
	ToUserId   string `json:"to_user_id"`
	Currency   string `json:"currency"`
	Amount     int64  `json:"amount"`
}

// TierRequest assigns a withdrawal tier
type TierRequest struct {
	Tier string `json:"tier"`
}

// CustomLimitsRequest overrides tier caps. Nil clears the override.
type CustomLimitsRequest struct {
	Currency string `json:"currency"`
	Daily    *int64 `json:"daily"`
	Monthly  *int64 `json:"monthly"`
}

// SuspendRequest suspends all withdrawals of a user
type SuspendRequest struct {
	Reason string `json:"reason"`
}

// HealthResponse reports dependency health
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}
