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

// EntryKind is the kind of balance mutation recorded by a LedgerEntry
type EntryKind string

const (
	EntryCredit             EntryKind = "credit"
	EntryDebit              EntryKind = "debit"
	EntryTransferIn         EntryKind = "transfer_in"
	EntryTransferOut        EntryKind = "transfer_out"
	EntryLock               EntryKind = "lock"
	EntryRelease            EntryKind = "release"
	EntryWithdrawalComplete EntryKind = "withdrawal_complete"
)

// WalletAccount represents current balance state for one user and currency (hot data).
// Amounts are minor units.
type WalletAccount struct {
	Id               string    `db:"id" json:"id"`
	UserId           string    `db:"user_id" json:"user_id"`
	Currency         string    `db:"currency" json:"currency"`
	BalanceAvailable int64     `db:"balance_available" json:"balance_available"`
	BalancePending   int64     `db:"balance_pending" json:"balance_pending"`
	LastEntryId      string    `db:"last_entry_id" json:"last_entry_id,omitempty"`
	Version          int64     `db:"version" json:"version"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// LedgerEntry represents one immutable balance mutation (cold data)
type LedgerEntry struct {
	Id            string    `db:"id" json:"id"`
	WalletId      string    `db:"wallet_id" json:"wallet_id"`
	UserId        string    `db:"user_id" json:"user_id"`
	Currency      string    `db:"currency" json:"currency"`
	Kind          EntryKind `db:"kind" json:"kind"`
	Amount        int64     `db:"amount" json:"amount"`
	BalanceBefore int64     `db:"balance_before" json:"balance_before"`
	BalanceAfter  int64     `db:"balance_after" json:"balance_after"`
	Reference     string    `db:"reference" json:"reference"`
	Description   string    `db:"description" json:"description,omitempty"`
	Metadata      Metadata  `db:"metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// IdempotencyStatus is the lifecycle state of an idempotency record
type IdempotencyStatus string

const (
	IdempotencyProcessing IdempotencyStatus = "processing"
	IdempotencyCompleted  IdempotencyStatus = "completed"
	IdempotencyFailed     IdempotencyStatus = "failed"
)

// IdempotencyRecord guards one logical financial operation
type IdempotencyRecord struct {
	Key           string            `db:"key"`
	UserId        string            `db:"user_id"`
	OperationType string            `db:"operation_type"`
	OperationData string            `db:"operation_data"`
	ResultData    string            `db:"result_data"`
	Status        IdempotencyStatus `db:"status"`
	CreatedAt     time.Time         `db:"created_at"`
	ExpiresAt     time.Time         `db:"expires_at"`
}

// Purchase statuses
const (
	PurchaseCompleted = "completed"
)

// Purchase is the settlement record for a verified payment
type Purchase struct {
	Id               string    `db:"id" json:"id"`
	UserId           string    `db:"user_id" json:"user_id"`
	ContentType      string    `db:"content_type" json:"content_type"`
	ContentId        *string   `db:"content_id" json:"content_id"`
	Amount           int64     `db:"amount" json:"amount"`
	Currency         string    `db:"currency" json:"currency"`
	Gateway          string    `db:"gateway" json:"gateway"`
	PaymentReference string    `db:"payment_reference" json:"payment_reference"`
	Status           string    `db:"status" json:"status"`
	CouponCode       string    `db:"coupon_code" json:"coupon_code,omitempty"`
	Metadata         Metadata  `db:"metadata" json:"metadata,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// WithdrawalStatus tracks the payout state machine
type WithdrawalStatus string

const (
	WithdrawalRequested             WithdrawalStatus = "requested"
	WithdrawalLocked                WithdrawalStatus = "locked"
	WithdrawalCompleted             WithdrawalStatus = "completed"
	WithdrawalReleased              WithdrawalStatus = "released"
	WithdrawalPendingReconciliation WithdrawalStatus = "pending_reconciliation"
)

// Withdrawal records one payout request and its outcome
type Withdrawal struct {
	Id            string           `db:"id" json:"id"`
	UserId        string           `db:"user_id" json:"user_id"`
	Currency      string           `db:"currency" json:"currency"`
	Amount        int64            `db:"amount" json:"amount"`
	Commission    string           `db:"commission" json:"commission"`
	GatewayFee    string           `db:"gateway_fee" json:"gateway_fee"`
	NetAmount     string           `db:"net_amount" json:"net_amount"`
	PayoutAmount  int64            `db:"payout_amount" json:"payout_amount"`
	BankCode      string           `db:"bank_code" json:"bank_code"`
	AccountNumber string           `db:"account_number" json:"account_number"`
	AccountName   string           `db:"account_name" json:"account_name"`
	Gateway       string           `db:"gateway" json:"gateway"`
	PayoutId      string           `db:"payout_id" json:"payout_id,omitempty"`
	Reference     string           `db:"reference" json:"reference"`
	Status        WithdrawalStatus `db:"status" json:"status"`
	FailureReason string           `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// Reconciliation task kinds and statuses
const (
	TaskOwnerCredit = "owner_credit"
	TaskMirrorEntry = "mirror_entry"
	TaskOpen        = "open"
	TaskResolved    = "resolved"
)

// ReconciliationTask is a payout-side failure left for an operator to settle
type ReconciliationTask struct {
	Id         string     `db:"id" json:"id"`
	Kind       string     `db:"kind" json:"kind"`
	Reference  string     `db:"reference" json:"reference"`
	UserId     string     `db:"user_id" json:"user_id"`
	Currency   string     `db:"currency" json:"currency"`
	Amount     int64      `db:"amount" json:"amount"`
	Reason     string     `db:"reason" json:"reason"`
	Status     string     `db:"status" json:"status"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// WithdrawalLimitRecord holds per user and currency withdrawal caps and usage
type WithdrawalLimitRecord struct {
	UserId           string    `db:"user_id"`
	Currency         string    `db:"currency"`
	Tier             string    `db:"tier"`
	DailyLimit       int64     `db:"daily_limit"`
	MonthlyLimit     int64     `db:"monthly_limit"`
	DailyUsed        int64     `db:"daily_used"`
	MonthlyUsed      int64     `db:"monthly_used"`
	LastDailyReset   time.Time `db:"last_daily_reset"`
	LastMonthlyReset time.Time `db:"last_monthly_reset"`
	CustomDaily      *int64    `db:"custom_daily"`
	CustomMonthly    *int64    `db:"custom_monthly"`
	Suspended        bool      `db:"suspended"`
	SuspendReason    string    `db:"suspend_reason"`
}

// CatalogItem is the price view of a piece of content
type CatalogItem struct {
	ContentType string
	ContentId   *string
	Price       int64
	Currency    string
	OwnerUserId string
	Title       string
}
