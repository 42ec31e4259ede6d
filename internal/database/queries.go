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

const (
	// Wallet queries
	queryGetWalletAccount = `
		SELECT id, user_id, currency, balance_available, balance_pending, last_entry_id, version, created_at, updated_at
		FROM wallet_accounts
		WHERE user_id = ? AND currency = ?`

	queryInsertWalletAccount = `
		INSERT INTO wallet_accounts (id, user_id, currency, balance_available, balance_pending, version, created_at, updated_at)
		VALUES (?, ?, ?, 0, 0, 1, ?, ?)
		ON CONFLICT(user_id, currency) DO NOTHING`

	queryUpdateWalletBalances = `
		UPDATE wallet_accounts
		SET balance_available = ?, balance_pending = ?, last_entry_id = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`

	queryGetUserWalletAccounts = `
		SELECT id, user_id, currency, balance_available, balance_pending, last_entry_id, version, created_at, updated_at
		FROM wallet_accounts
		WHERE user_id = ?
		ORDER BY currency`

	queryGetWalletUsers = `
		SELECT DISTINCT user_id
		FROM wallet_accounts
		ORDER BY user_id`

	// Ledger entry queries
	queryInsertLedgerEntry = `
		INSERT INTO ledger_entries (
			id, wallet_id, user_id, currency, kind, amount, balance_before, balance_after,
			reference, description, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryInsertJournalEntry = `
		INSERT INTO journal_entries (id, entry_id, account_type, account_id, debit_amount, credit_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	queryGetLedgerHistory = `
		SELECT id, wallet_id, user_id, currency, kind, amount, balance_before, balance_after,
		       reference, description, metadata, created_at
		FROM ledger_entries
		WHERE user_id = ? AND currency = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`

	queryGetLedgerEntry = `
		SELECT id, wallet_id, user_id, currency, kind, amount, balance_before, balance_after,
		       reference, description, metadata, created_at
		FROM ledger_entries
		WHERE id = ?`

	queryGetEntryTotals = `
		SELECT kind, COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE wallet_id = ?
		GROUP BY kind`

	// Idempotency queries
	queryClaimIdempotencyKey = `
		INSERT INTO idempotency_keys (key, user_id, operation_type, operation_data, result_data, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, '', 'processing', ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			user_id = excluded.user_id,
			operation_type = excluded.operation_type,
			operation_data = excluded.operation_data,
			result_data = '',
			status = 'processing',
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
		WHERE idempotency_keys.expires_at <= ?`

	queryGetIdempotencyRecord = `
		SELECT key, user_id, operation_type, operation_data, result_data, status, created_at, expires_at
		FROM idempotency_keys
		WHERE key = ?`

	queryFinalizeIdempotencyKey = `
		UPDATE idempotency_keys
		SET result_data = ?, status = ?
		WHERE key = ? AND status = 'processing'`

	queryDeleteProcessingIdempotencyKey = `
		DELETE FROM idempotency_keys WHERE key = ? AND status = 'processing'`

	queryPurgeExpiredIdempotencyKeys = `
		DELETE FROM idempotency_keys WHERE expires_at <= ?`

	// Purchase queries
	queryInsertPurchase = `
		INSERT INTO purchases (
			id, user_id, content_type, content_id, amount, currency, gateway,
			payment_reference, status, coupon_code, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetPurchaseByReference = `
		SELECT id, user_id, content_type, content_id, amount, currency, gateway,
		       payment_reference, status, coupon_code, metadata, created_at
		FROM purchases
		WHERE payment_reference = ?`

	queryHasCompletedPurchase = `
		SELECT EXISTS (
			SELECT 1 FROM purchases
			WHERE user_id = ? AND content_type = ? AND content_id = ? AND status = 'completed'
		)`

	queryGetUserPurchases = `
		SELECT id, user_id, content_type, content_id, amount, currency, gateway,
		       payment_reference, status, coupon_code, metadata, created_at
		FROM purchases
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`

	// Withdrawal queries
	queryInsertWithdrawal = `
		INSERT INTO withdrawals (
			id, user_id, currency, amount, commission, gateway_fee, net_amount, payout_amount,
			bank_code, account_number, account_name, gateway, payout_id, reference, status,
			failure_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	// The status guard is appended by TransitionWithdrawal.
	queryTransitionWithdrawal = `
		UPDATE withdrawals
		SET status = ?,
		    payout_id = CASE WHEN ? = '' THEN payout_id ELSE ? END,
		    failure_reason = ?,
		    updated_at = ?
		WHERE id = ? AND status IN `

	queryOpenWithdrawalTotal = `
		SELECT COALESCE(SUM(amount), 0)
		FROM withdrawals
		WHERE user_id = ? AND currency = ? AND status IN ('requested', 'locked', 'pending_reconciliation')`

	withdrawalColumns = `
		id, user_id, currency, amount, commission, gateway_fee, net_amount, payout_amount,
		bank_code, account_number, account_name, gateway, payout_id, reference, status,
		failure_reason, created_at, updated_at`

	queryGetWithdrawal = `SELECT ` + withdrawalColumns + `
		FROM withdrawals
		WHERE id = ?`

	queryGetWithdrawalsByStatus = `SELECT ` + withdrawalColumns + `
		FROM withdrawals
		WHERE status = ?
		ORDER BY created_at
		LIMIT ?`

	queryGetStaleWithdrawals = `SELECT ` + withdrawalColumns + `
		FROM withdrawals
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at
		LIMIT ?`

	queryGetUserWithdrawals = `SELECT ` + withdrawalColumns + `
		FROM withdrawals
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`

	// Limit queries
	queryGetLimitRecord = `
		SELECT user_id, currency, tier, daily_limit, monthly_limit, daily_used, monthly_used,
		       last_daily_reset, last_monthly_reset, custom_daily, custom_monthly, suspended, suspend_reason
		FROM withdrawal_limits
		WHERE user_id = ? AND currency = ?`

	queryUpsertLimitRecord = `
		INSERT INTO withdrawal_limits (
			user_id, currency, tier, daily_limit, monthly_limit, daily_used, monthly_used,
			last_daily_reset, last_monthly_reset, custom_daily, custom_monthly, suspended, suspend_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, currency) DO UPDATE SET
			tier = excluded.tier,
			daily_limit = excluded.daily_limit,
			monthly_limit = excluded.monthly_limit,
			daily_used = excluded.daily_used,
			monthly_used = excluded.monthly_used,
			last_daily_reset = excluded.last_daily_reset,
			last_monthly_reset = excluded.last_monthly_reset,
			custom_daily = excluded.custom_daily,
			custom_monthly = excluded.custom_monthly,
			suspended = excluded.suspended,
			suspend_reason = excluded.suspend_reason`

	// Reconciliation queries
	queryInsertReconciliationTask = `
		INSERT INTO reconciliation_tasks (id, kind, reference, user_id, currency, amount, reason, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, reference) DO NOTHING`

	queryGetOpenReconciliationTasks = `
		SELECT id, kind, reference, user_id, currency, amount, reason, status, created_at, resolved_at
		FROM reconciliation_tasks
		WHERE status = 'open'
		ORDER BY created_at
		LIMIT ?`

	queryResolveReconciliationTask = `
		UPDATE reconciliation_tasks
		SET status = 'resolved', resolved_at = ?
		WHERE id = ? AND status = 'open'`

	// Catalog queries
	queryGetCatalogItem = `
		SELECT content_type, content_id, title, price, currency, owner_user_id
		FROM content_catalog
		WHERE content_type = ? AND content_id IS ?`

	queryPutCatalogItem = `
		INSERT OR REPLACE INTO content_catalog (content_type, content_id, title, price, currency, owner_user_id)
		VALUES (?, ?, ?, ?, ?, ?)`
)
