package formance

import (
	"context"
	"fmt"
	"strconv"

	"marketplace-ledger-go/internal/models"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Numscript templates. Every wallet is split into :available and :pending
// sub-accounts so the mirror carries both balances of the local ledger.
// Wallet sources allow overdraft: the local ledger has already enforced
// funds, and the mirror must accept entries even after a missed one.
// ---------------------------------------------------------------------------

const numscriptCredit = `vars {
  asset $asset
  number $amount
  account $user_id
  string $entry_ref
  string $event_type
}

send [$asset $amount] (
  source = @world
  destination = @users:$user_id:available
)

set_tx_meta("event_type", $event_type)
set_tx_meta("entry_ref", $entry_ref)
`

const numscriptDebit = `vars {
  asset $asset
  number $amount
  account $user_id
  string $entry_ref
  string $event_type
}

send [$asset $amount] (
  source = @users:$user_id:available allowing unbounded overdraft
  destination = @world
)

set_tx_meta("event_type", $event_type)
set_tx_meta("entry_ref", $entry_ref)
`

const numscriptTransferOut = `vars {
  asset $asset
  number $amount
  account $user_id
  account $clearing
  string $entry_ref
  string $event_type
}

send [$asset $amount] (
  source = @users:$user_id:available allowing unbounded overdraft
  destination = @transfers:$clearing
)

set_tx_meta("event_type", $event_type)
set_tx_meta("entry_ref", $entry_ref)
`

const numscriptTransferIn = `vars {
  asset $asset
  number $amount
  account $user_id
  account $clearing
  string $entry_ref
  string $event_type
}

send [$asset $amount] (
  source = @transfers:$clearing allowing unbounded overdraft
  destination = @users:$user_id:available
)

set_tx_meta("event_type", $event_type)
set_tx_meta("entry_ref", $entry_ref)
`

const numscriptLock = `vars {
  asset $asset
  number $amount
  account $user_id
  string $entry_ref
  string $event_type
}

send [$asset $amount] (
  source = @users:$user_id:available allowing unbounded overdraft
  destination = @users:$user_id:pending
)

set_tx_meta("event_type", $event_type)
set_tx_meta("entry_ref", $entry_ref)
`

const numscriptRelease = `vars {
  asset $asset
  number $amount
  account $user_id
  string $entry_ref
  string $event_type
}

send [$asset $amount] (
  source = @users:$user_id:pending allowing unbounded overdraft
  destination = @users:$user_id:available
)

set_tx_meta("event_type", $event_type)
set_tx_meta("entry_ref", $entry_ref)
`

const numscriptWithdrawalComplete = `vars {
  asset $asset
  number $amount
  account $user_id
  string $entry_ref
  string $event_type
}

send [$asset $amount] (
  source = @users:$user_id:pending allowing unbounded overdraft
  destination = @platform:payouts
)

set_tx_meta("event_type", $event_type)
set_tx_meta("entry_ref", $entry_ref)
`

var numscripts = map[models.EntryKind]string{
	models.EntryCredit:             numscriptCredit,
	models.EntryDebit:              numscriptDebit,
	models.EntryTransferOut:        numscriptTransferOut,
	models.EntryTransferIn:         numscriptTransferIn,
	models.EntryLock:               numscriptLock,
	models.EntryRelease:            numscriptRelease,
	models.EntryWithdrawalComplete: numscriptWithdrawalComplete,
}

// postTransaction builds the Formance transaction for one wallet entry. The
// entry id is the Formance reference, so replays conflict instead of doubling.
func postTransaction(entry *models.LedgerEntry) (shared.V2PostTransaction, error) {
	script, ok := numscripts[entry.Kind]
	if !ok {
		return shared.V2PostTransaction{}, fmt.Errorf("no numscript for entry kind %q", entry.Kind)
	}
	if entry.Id == "" || entry.UserId == "" {
		return shared.V2PostTransaction{}, fmt.Errorf("entry id and user id are required")
	}

	vars := map[string]string{
		"asset":      formanceAsset(entry.Currency),
		"amount":     strconv.FormatInt(entry.Amount, 10),
		"user_id":    entry.UserId,
		"entry_ref":  entry.Reference,
		"event_type": string(entry.Kind),
	}
	if entry.Kind == models.EntryTransferIn || entry.Kind == models.EntryTransferOut {
		// Both legs of a transfer share the entry reference.
		vars["clearing"] = clearingAccount(entry)
	}

	metadata := map[string]string{
		"user_id":  entry.UserId,
		"currency": entry.Currency,
	}
	for k, v := range entry.Metadata {
		if v != "" {
			metadata[k] = v
		}
	}

	postTx := shared.V2PostTransaction{
		Reference: strPtr(entry.Id),
		Script: &shared.V2PostTransactionScript{
			Plain: script,
			Vars:  vars,
		},
		Metadata: metadata,
	}
	if !entry.CreatedAt.IsZero() {
		ts := entry.CreatedAt
		postTx.Timestamp = &ts
	}
	return postTx, nil
}

func clearingAccount(entry *models.LedgerEntry) string {
	if entry.Reference != "" {
		return entry.Currency + ":" + entry.Reference
	}
	return entry.Currency + ":" + entry.Id
}

// MirrorEntry posts one committed entry. A conflict means the entry was
// mirrored before and is not an error.
func (s *Service) MirrorEntry(ctx context.Context, entry *models.LedgerEntry) error {
	postTx, err := postTransaction(entry)
	if err != nil {
		return err
	}

	_, err = s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            s.ledger,
		V2PostTransaction: postTx,
	})
	if err != nil {
		if isConflictError(err) {
			return nil // idempotent
		}
		return fmt.Errorf("error recording %s entry: %w", entry.Kind, err)
	}

	zap.L().Debug("Ledger entry mirrored to Formance",
		zap.String("entry_id", entry.Id),
		zap.String("kind", string(entry.Kind)),
		zap.Int64("amount", entry.Amount),
		zap.String("currency", entry.Currency))
	return nil
}

func strPtr(s string) *string { return &s }
