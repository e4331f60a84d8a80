package memory

import (
	"context"
	"testing"

	"conciliation-service/internal/store"
	"conciliation-service/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	txn := storetest.BankTransaction("B1", "EXT-1", "10", storetest.Day)
	if err := s.InsertBankTransaction(ctx, txn); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	txn.Memo = "changed after insert"
	got, _ := s.GetBankTransaction(ctx, "B1")
	if got.Memo != "" {
		t.Error("store should not share memory with the inserted value")
	}

	got.Memo = "changed after read"
	again, _ := s.GetBankTransaction(ctx, "B1")
	if again.Memo != "" {
		t.Error("store should not share memory with returned values")
	}
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := New().GetBankTransaction(ctx, "B1"); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
