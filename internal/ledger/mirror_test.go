package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketplace-ledger-go/internal/models"
	"marketplace-ledger-go/internal/store"
)

func openMirrorTasks(t *testing.T, st store.Transactor) []models.ReconciliationTask {
	t.Helper()
	tasks, err := st.Repos().Tasks().ListOpenTasks(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListOpenTasks failed: %v", err)
	}
	var out []models.ReconciliationTask
	for _, task := range tasks {
		if task.Kind == models.TaskMirrorEntry {
			out = append(out, task)
		}
	}
	return out
}

func TestMirrorQueue_FailedEntryIsReposted(t *testing.T) {
	svc, db, mirror := setupTestLedger(t)
	ctx := context.Background()
	mirror.setFail(true)

	entry, err := svc.Credit(ctx, "user1", "NGN", 5000, Options{})
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	mirror.drain()

	tasks := openMirrorTasks(t, db)
	if len(tasks) != 1 || tasks[0].Reference != entry.Id || tasks[0].Amount != 5000 {
		t.Fatalf("Expected one mirror task for entry %s, got %+v", entry.Id, tasks)
	}

	mirror.setFail(false)
	if err := svc.RepostMirrored(ctx, &tasks[0]); err != nil {
		t.Fatalf("RepostMirrored failed: %v", err)
	}
	if n := mirror.mirrored(); n != 1 {
		t.Errorf("Expected entry mirrored once, got %d", n)
	}
	if left := openMirrorTasks(t, db); len(left) != 0 {
		t.Errorf("Expected task resolved, got %+v", left)
	}
}

func TestMirrorQueue_FullQueueDefers(t *testing.T) {
	_, db, _ := setupTestLedger(t)
	ctx := context.Background()

	mirror := &recordingMirror{}
	queue := NewMirrorQueue(mirror, db, 1, time.Second)
	svc := NewService(db, queue)

	for i := 0; i < 2; i++ {
		if _, err := svc.Credit(ctx, "user1", "USD", 100, Options{}); err != nil {
			t.Fatalf("Credit failed: %v", err)
		}
	}
	if tasks := openMirrorTasks(t, db); len(tasks) != 1 {
		t.Errorf("Expected the overflow entry deferred, got %d tasks", len(tasks))
	}

	queue.Start()
	queue.Stop()
	if n := mirror.mirrored(); n != 1 {
		t.Errorf("Expected the queued entry mirrored, got %d", n)
	}

	// Entries published after Stop are deferred, never dropped.
	if _, err := svc.Credit(ctx, "user1", "USD", 100, Options{}); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if tasks := openMirrorTasks(t, db); len(tasks) != 2 {
		t.Errorf("Expected 2 deferred entries, got %d", len(tasks))
	}
}

func TestRepostMirrored_NoMirror(t *testing.T) {
	_, db, _ := setupTestLedger(t)
	svc := NewService(db, nil)

	err := svc.RepostMirrored(context.Background(), &models.ReconciliationTask{Kind: models.TaskMirrorEntry, Reference: "x"})
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestWithdrawalEntryTx(t *testing.T) {
	svc, db, _ := setupTestLedger(t)
	ctx := context.Background()
	if _, err := svc.Credit(ctx, "user1", "NGN", 10000, Options{}); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	err := db.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := svc.WithdrawalEntryTx(ctx, tx, models.EntryDebit, "user1", "NGN", 100, Options{}); !errors.Is(err, models.ErrValidation) {
			t.Errorf("Expected debit to be refused, got %v", err)
		}
		_, err := svc.WithdrawalEntryTx(ctx, tx, models.EntryLock, "user1", "NGN", 4000, Options{Reference: "WD-1"})
		return err
	})
	if err != nil {
		t.Fatalf("WithinTx failed: %v", err)
	}

	// A failing transaction takes its entry with it.
	rollback := errors.New("rollback")
	err = db.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := svc.WithdrawalEntryTx(ctx, tx, models.EntryWithdrawalComplete, "user1", "NGN", 4000, Options{Reference: "WD-1"}); err != nil {
			return err
		}
		return rollback
	})
	if !errors.Is(err, rollback) {
		t.Fatalf("Expected rollback error, got %v", err)
	}

	acct, err := svc.Balance(ctx, "user1", "NGN")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if acct.BalanceAvailable != 6000 || acct.BalancePending != 4000 {
		t.Errorf("Expected 6000/4000, got %d/%d", acct.BalanceAvailable, acct.BalancePending)
	}
	if err := svc.Reconcile(ctx, "user1", "NGN"); err != nil {
		t.Errorf("Reconcile failed: %v", err)
	}
}
