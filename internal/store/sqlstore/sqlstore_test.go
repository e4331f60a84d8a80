package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"conciliation-service/internal/models"
	"conciliation-service/internal/store"
	"conciliation-service/internal/store/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	s, err := Open(DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	if err := s.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return s
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return newTestStore(t) })
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	if _, err := Open("oracle", "x"); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	if err := s.Migrate(); err != nil {
		t.Fatalf("second migrate should be a no-op, got %v", err)
	}
	version, dirty, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("expected clean version 1, got %d (dirty=%v)", version, dirty)
	}
}

func TestSchema_RejectsUnknownState(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	txn := storetest.BankTransaction("B1", "EXT-1", "10", storetest.Day)
	txn.State = models.State("conciliado")
	if err := s.InsertBankTransaction(ctx, txn); err == nil {
		t.Error("expected the check constraint to reject an unknown state")
	}
}

func TestConciliationFlagFollowsState(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.InsertBankTransaction(ctx, storetest.BankTransaction("B1", "EXT-1", "10", storetest.Day)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	txn, _ := s.GetBankTransaction(ctx, "B1")
	txn.State = models.StateMatched
	if err := s.UpdateBankTransaction(ctx, txn, models.StatePending); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	var row bankTransactionRow
	if err := s.db.Where("id = ?", "B1").Take(&row).Error; err != nil {
		t.Fatalf("raw read failed: %v", err)
	}
	if row.ConciliationFlag != string(models.FlagReconciled) {
		t.Errorf("expected flag %s, got %s", models.FlagReconciled, row.ConciliationFlag)
	}
}

func TestAtomically_NestedRollback(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.Atomically(ctx, func(tx store.Store) error {
		if err := tx.InsertLedgerEntry(ctx, storetest.LedgerEntry("A", "5", models.EntryTypeIncome, storetest.Day)); err != nil {
			return err
		}
		return tx.Atomically(ctx, func(inner store.Store) error {
			if err := inner.InsertLedgerEntry(ctx, storetest.LedgerEntry("B", "5", models.EntryTypeIncome, storetest.Day)); err != nil {
				return err
			}
			return boom
		})
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	entries, err := s.ListLedgerEntries(ctx, store.LedgerEntryFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected nothing committed, got %d entries", len(entries))
	}
}
