package formance

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"marketplace-ledger-go/internal/models"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
)

// ---------- Unit tests for pure helpers (no Formance stack needed) ----------

func TestFormanceAsset(t *testing.T) {
	tests := []struct {
		currency string
		want     string
	}{
		{"NGN", "NGN/2"},
		{"USD", "USD/2"},
	}
	for _, tt := range tests {
		if got := formanceAsset(tt.currency); got != tt.want {
			t.Errorf("formanceAsset(%q) = %q, want %q", tt.currency, got, tt.want)
		}
	}
}

func TestPostTransaction_PerKind(t *testing.T) {
	tests := []struct {
		kind        models.EntryKind
		source      string
		destination string
	}{
		{models.EntryCredit, "@world", "@users:$user_id:available"},
		{models.EntryDebit, "@users:$user_id:available", "@world"},
		{models.EntryLock, "@users:$user_id:available", "@users:$user_id:pending"},
		{models.EntryRelease, "@users:$user_id:pending", "@users:$user_id:available"},
		{models.EntryWithdrawalComplete, "@users:$user_id:pending", "@platform:payouts"},
		{models.EntryTransferOut, "@users:$user_id:available", "@transfers:$clearing"},
		{models.EntryTransferIn, "@transfers:$clearing", "@users:$user_id:available"},
	}

	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		entry := &models.LedgerEntry{
			Id:        "01JENTRY" + string(tt.kind),
			UserId:    "user1",
			Currency:  "NGN",
			Kind:      tt.kind,
			Amount:    250000,
			Reference: "PAY-1",
			Metadata:  models.Metadata{models.MetaSource: "webhook"},
			CreatedAt: created,
		}
		postTx, err := postTransaction(entry)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.kind, err)
			continue
		}
		if postTx.Reference == nil || *postTx.Reference != entry.Id {
			t.Errorf("%s: expected reference %s, got %v", tt.kind, entry.Id, postTx.Reference)
		}
		if postTx.Timestamp == nil || !postTx.Timestamp.Equal(created) {
			t.Errorf("%s: expected timestamp %v, got %v", tt.kind, created, postTx.Timestamp)
		}
		script := postTx.Script.Plain
		if !strings.Contains(script, "source = "+tt.source) || !strings.Contains(script, "destination = "+tt.destination) {
			t.Errorf("%s: unexpected postings in script:\n%s", tt.kind, script)
		}
		vars := postTx.Script.Vars
		if vars["asset"] != "NGN/2" || vars["amount"] != "250000" || vars["user_id"] != "user1" || vars["event_type"] != string(tt.kind) {
			t.Errorf("%s: unexpected vars %v", tt.kind, vars)
		}
		if postTx.Metadata[models.MetaSource] != "webhook" || postTx.Metadata["currency"] != "NGN" {
			t.Errorf("%s: unexpected metadata %v", tt.kind, postTx.Metadata)
		}
	}
}

func TestPostTransaction_TransferLegsShareClearingAccount(t *testing.T) {
	out := &models.LedgerEntry{Id: "e1", UserId: "alice", Currency: "USD", Kind: models.EntryTransferOut, Amount: 500, Reference: "TR-1"}
	in := &models.LedgerEntry{Id: "e2", UserId: "bob", Currency: "USD", Kind: models.EntryTransferIn, Amount: 500, Reference: "TR-1"}

	outTx, err := postTransaction(out)
	if err != nil {
		t.Fatalf("postTransaction failed: %v", err)
	}
	inTx, err := postTransaction(in)
	if err != nil {
		t.Fatalf("postTransaction failed: %v", err)
	}
	if outTx.Script.Vars["clearing"] != "USD:TR-1" || inTx.Script.Vars["clearing"] != "USD:TR-1" {
		t.Errorf("Expected shared clearing account, got %q and %q", outTx.Script.Vars["clearing"], inTx.Script.Vars["clearing"])
	}
	if *outTx.Reference == *inTx.Reference {
		t.Error("Expected distinct Formance references per leg")
	}
}

func TestPostTransaction_Rejects(t *testing.T) {
	if _, err := postTransaction(&models.LedgerEntry{Id: "e1", UserId: "u", Currency: "NGN", Kind: "bogus", Amount: 1}); err == nil {
		t.Error("Expected unknown kind to fail")
	}
	if _, err := postTransaction(&models.LedgerEntry{UserId: "u", Currency: "NGN", Kind: models.EntryCredit, Amount: 1}); err == nil {
		t.Error("Expected missing entry id to fail")
	}
}

func TestVolumeBalance(t *testing.T) {
	vols := map[string]shared.V2Volume{
		"NGN/2": {Input: big.NewInt(1000), Output: big.NewInt(250)},
		"USD/2": {Input: big.NewInt(10), Output: big.NewInt(0), Balance: big.NewInt(10)},
	}
	if got := volumeBalance(vols, "NGN/2"); got.Int64() != 750 {
		t.Errorf("expected 750, got %s", got.String())
	}
	if got := volumeBalance(vols, "USD/2"); got.Int64() != 10 {
		t.Errorf("expected 10, got %s", got.String())
	}
	if got := volumeBalance(vols, "EUR/2"); got != nil {
		t.Errorf("expected nil, got %s", got.String())
	}
}

func TestMinorUnits(t *testing.T) {
	if v, err := minorUnits(nil); err != nil || v != 0 {
		t.Errorf("expected 0, got %d, %v", v, err)
	}
	if v, err := minorUnits(big.NewInt(42)); err != nil || v != 42 {
		t.Errorf("expected 42, got %d, %v", v, err)
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 70)
	if _, err := minorUnits(huge); err == nil {
		t.Error("expected overflow error")
	}
}

func TestMirroredBalance_Drift(t *testing.T) {
	m := &MirroredBalance{Available: 100, Pending: 20}
	if m.Drift(&models.WalletAccount{BalanceAvailable: 100, BalancePending: 20}) {
		t.Error("expected no drift")
	}
	if !m.Drift(&models.WalletAccount{BalanceAvailable: 100, BalancePending: 0}) {
		t.Error("expected drift")
	}
}

func TestIsConflictError(t *testing.T) {
	if isConflictError(nil) {
		t.Error("nil should not be a conflict error")
	}
}
