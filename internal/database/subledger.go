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

package database

const walletSchema = `
	-- Wallet Accounts Table (Current State - Hot Data)
	CREATE TABLE IF NOT EXISTS wallet_accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		balance_available INTEGER NOT NULL DEFAULT 0 CHECK (balance_available >= 0),
		balance_pending INTEGER NOT NULL DEFAULT 0 CHECK (balance_pending >= 0),
		last_entry_id TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(user_id, currency)
	);

	-- Ledger Entries Table (Audit Trail - Cold Data)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		wallet_id TEXT NOT NULL REFERENCES wallet_accounts(id),
		user_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount > 0),
		balance_before INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	);

	-- Entries are append-only
	CREATE TRIGGER IF NOT EXISTS trg_ledger_entries_no_update
	BEFORE UPDATE ON ledger_entries
	BEGIN
		SELECT RAISE(ABORT, 'ledger entries are immutable');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_ledger_entries_no_delete
	BEFORE DELETE ON ledger_entries
	BEGIN
		SELECT RAISE(ABORT, 'ledger entries are immutable');
	END;

	-- Performance Indexes
	CREATE INDEX IF NOT EXISTS idx_wallet_accounts_user_id ON wallet_accounts(user_id);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_wallet ON ledger_entries(wallet_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_currency ON ledger_entries(user_id, currency);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_reference ON ledger_entries(reference);

	-- Journal Entries for Double-Entry Bookkeeping
	CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		entry_id TEXT NOT NULL REFERENCES ledger_entries(id),
		account_type TEXT NOT NULL,
		account_id TEXT NOT NULL,
		debit_amount INTEGER NOT NULL DEFAULT 0,
		credit_amount INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_journal_entry_id ON journal_entries(entry_id);
	CREATE INDEX IF NOT EXISTS idx_journal_account ON journal_entries(account_type, account_id);
	`

const paymentsSchema = `
	CREATE TABLE IF NOT EXISTS idempotency_keys (
		key TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		operation_type TEXT NOT NULL,
		operation_data TEXT NOT NULL DEFAULT '',
		result_data TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_idempotency_expires_at ON idempotency_keys(expires_at);

	CREATE TABLE IF NOT EXISTS purchases (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		content_type TEXT NOT NULL,
		content_id TEXT,
		amount INTEGER NOT NULL CHECK (amount >= 0),
		currency TEXT NOT NULL,
		gateway TEXT NOT NULL,
		payment_reference TEXT NOT NULL,
		status TEXT NOT NULL,
		coupon_code TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	);

	-- Second uniqueness guard beneath idempotency keys
	CREATE UNIQUE INDEX IF NOT EXISTS idx_purchases_reference ON purchases(payment_reference);
	CREATE INDEX IF NOT EXISTS idx_purchases_user_content ON purchases(user_id, content_type, content_id, status);

	CREATE TABLE IF NOT EXISTS withdrawals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount > 0),
		commission TEXT NOT NULL,
		gateway_fee TEXT NOT NULL,
		net_amount TEXT NOT NULL,
		payout_amount INTEGER NOT NULL,
		bank_code TEXT NOT NULL,
		account_number TEXT NOT NULL,
		account_name TEXT NOT NULL DEFAULT '',
		gateway TEXT NOT NULL,
		payout_id TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL,
		status TEXT NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_withdrawals_reference ON withdrawals(reference);
	CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals(status);
	CREATE INDEX IF NOT EXISTS idx_withdrawals_user ON withdrawals(user_id, created_at);

	CREATE TABLE IF NOT EXISTS withdrawal_limits (
		user_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		tier TEXT NOT NULL,
		daily_limit INTEGER NOT NULL,
		monthly_limit INTEGER NOT NULL,
		daily_used INTEGER NOT NULL DEFAULT 0,
		monthly_used INTEGER NOT NULL DEFAULT 0,
		last_daily_reset TIMESTAMP NOT NULL,
		last_monthly_reset TIMESTAMP NOT NULL,
		custom_daily INTEGER,
		custom_monthly INTEGER,
		suspended BOOLEAN NOT NULL DEFAULT 0,
		suspend_reason TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (user_id, currency)
	);

	CREATE TABLE IF NOT EXISTS reconciliation_tasks (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		reference TEXT NOT NULL,
		user_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_reconciliation_kind_reference ON reconciliation_tasks(kind, reference);
	CREATE INDEX IF NOT EXISTS idx_reconciliation_status ON reconciliation_tasks(status);
	`

// The catalog is owned by the marketplace; this core only reads it.
const catalogSchema = `
	CREATE TABLE IF NOT EXISTS content_catalog (
		content_type TEXT NOT NULL,
		content_id TEXT,
		title TEXT NOT NULL DEFAULT '',
		price INTEGER NOT NULL CHECK (price >= 0),
		currency TEXT NOT NULL,
		owner_user_id TEXT NOT NULL DEFAULT ''
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_content_catalog_key ON content_catalog(content_type, IFNULL(content_id, ''));
	`
