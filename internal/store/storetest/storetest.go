// Package storetest holds the behaviour every store.Store implementation
// must share. Implementations call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"conciliation-service/internal/models"
	"conciliation-service/internal/store"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Day is the reference posting date used by the suite.
var Day = time.Date(2025, 8, 18, 0, 0, 0, 0, time.UTC)

var day = Day

// BankTransaction builds a pending bank transaction for tests.
func BankTransaction(id, externalID, amount string, posted time.Time) *models.BankTransaction {
	return &models.BankTransaction{
		ID:         id,
		TenantID:   "tenant-1",
		AccountID:  "account-1",
		ExternalID: externalID,
		Amount:     decimal.RequireFromString(amount),
		PostedAt:   posted,
		State:      models.StatePending,
		CreatedAt:  posted,
	}
}

// LedgerEntry builds an available ledger entry for tests.
func LedgerEntry(id, amount string, typ models.EntryType, date time.Time) *models.LedgerEntry {
	return &models.LedgerEntry{
		ID:        id,
		TenantID:  "tenant-1",
		AccountID: "account-1",
		Amount:    decimal.RequireFromString(amount),
		Type:      typ,
		Date:      date,
		Usage:     models.UsageAvailable,
		CreatedAt: date,
	}
}

// Run executes the shared suite.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"BankTransactionRoundTrip", testBankTransactionRoundTrip},
		{"ExternalIDUniqueness", testExternalIDUniqueness},
		{"ConditionalStateUpdate", testConditionalStateUpdate},
		{"ListBankTransactionsFilter", testListBankTransactionsFilter},
		{"LedgerUsage", testLedgerUsage},
		{"ListLedgerEntriesFilter", testListLedgerEntriesFilter},
		{"Matches", testMatches},
		{"AtomicallyRollsBack", testAtomicallyRollsBack},
		{"AtomicallyCommits", testAtomicallyCommits},
		{"ConcurrentConsumption", testConcurrentConsumption},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func testBankTransactionRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	txn := BankTransaction("B1", "452993", "-25.50", day)
	txn.Payee = "Papelaria Central"
	txn.Memo = "NF 881"

	if err := s.InsertBankTransaction(ctx, txn); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, err := s.GetBankTransaction(ctx, "B1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.Amount.Equal(txn.Amount) {
		t.Errorf("expected amount %s, got %s", txn.Amount, got.Amount)
	}
	if !got.PostedAt.Equal(day) {
		t.Errorf("expected posted %s, got %s", day, got.PostedAt)
	}
	if got.State != models.StatePending || got.ConciliationFlag() != models.FlagPending {
		t.Errorf("unexpected state %s/%s", got.State, got.ConciliationFlag())
	}
	if got.Payee != "Papelaria Central" || got.Memo != "NF 881" {
		t.Errorf("descriptors not preserved: %+v", got)
	}

	if _, err := s.GetBankTransaction(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testExternalIDUniqueness(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.InsertBankTransaction(ctx, BankTransaction("B1", "EXT-1", "10", day)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if err := s.InsertBankTransaction(ctx, BankTransaction("B2", "EXT-1", "10", day)); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for repeated external id, got %v", err)
	}
	if err := s.InsertBankTransaction(ctx, BankTransaction("B1", "EXT-2", "10", day)); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for repeated id, got %v", err)
	}

	other := BankTransaction("B3", "EXT-1", "10", day)
	other.AccountID = "account-2"
	if err := s.InsertBankTransaction(ctx, other); err != nil {
		t.Errorf("same external id on another account should be accepted: %v", err)
	}

	found, err := s.FindBankTransactionByExternalID(ctx, "tenant-1", "account-1", "EXT-1")
	if err != nil || found.ID != "B1" {
		t.Errorf("expected to find B1, got %v (%v)", found, err)
	}
	if _, err := s.FindBankTransactionByExternalID(ctx, "tenant-1", "account-1", "EXT-9"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testConditionalStateUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.InsertBankTransaction(ctx, BankTransaction("B1", "EXT-1", "25", day)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	txn, _ := s.GetBankTransaction(ctx, "B1")
	txn.State = models.StateMatched
	txn.MatchedEntryID = "A"
	txn.MatchConfidence = models.ConfidenceHigh
	txn.MatchType = models.MatchTypeExact
	if err := s.UpdateBankTransaction(ctx, txn, models.StatePending); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	stale := txn.Clone()
	stale.State = models.StateIgnored
	if err := s.UpdateBankTransaction(ctx, stale, models.StatePending); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for stale update, got %v", err)
	}

	got, _ := s.GetBankTransaction(ctx, "B1")
	if got.State != models.StateMatched || !got.IsReconciled() {
		t.Errorf("expected matched state to survive, got %s", got.State)
	}
	if got.MatchedEntryID != "A" || got.MatchConfidence != models.ConfidenceHigh || got.MatchType != models.MatchTypeExact {
		t.Errorf("match metadata not stored: %+v", got)
	}

	missing := BankTransaction("B9", "EXT-9", "1", day)
	if err := s.UpdateBankTransaction(ctx, missing, models.StatePending); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testListBankTransactionsFilter(t *testing.T, s store.Store) {
	ctx := context.Background()
	rows := []*models.BankTransaction{
		BankTransaction("B1", "E1", "10", day.AddDate(0, 0, -5)),
		BankTransaction("B2", "E2", "20", day),
		BankTransaction("B3", "E3", "30", day.AddDate(0, 0, 5)),
	}
	rows[1].State = models.StateNoMatch
	rows[2].TenantID = "tenant-2"
	for _, r := range rows {
		if err := s.InsertBankTransaction(ctx, r); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	tests := []struct {
		name     string
		filter   store.BankTransactionFilter
		expected []string
	}{
		{"all", store.BankTransactionFilter{}, []string{"B1", "B2", "B3"}},
		{"tenant", store.BankTransactionFilter{TenantID: "tenant-1"}, []string{"B1", "B2"}},
		{"states", store.BankTransactionFilter{States: []models.State{models.StateNoMatch}}, []string{"B2"}},
		{"date range", store.BankTransactionFilter{From: day.AddDate(0, 0, -1), To: day.AddDate(0, 0, 10)}, []string{"B2", "B3"}},
		{"limit", store.BankTransactionFilter{Limit: 1}, []string{"B1"}},
	}

	for _, tt := range tests {
		got, err := s.ListBankTransactions(ctx, tt.filter)
		if err != nil {
			t.Fatalf("%s: list failed: %v", tt.name, err)
		}
		if len(got) != len(tt.expected) {
			t.Errorf("%s: expected %v, got %d rows", tt.name, tt.expected, len(got))
			continue
		}
		for i, id := range tt.expected {
			if got[i].ID != id {
				t.Errorf("%s: position %d expected %s, got %s", tt.name, i, id, got[i].ID)
			}
		}
	}
}

func testLedgerUsage(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.InsertLedgerEntry(ctx, LedgerEntry("A", "25.00", models.EntryTypeIncome, day)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := s.InsertLedgerEntry(ctx, LedgerEntry("A", "1", models.EntryTypeIncome, day)); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for repeated id, got %v", err)
	}

	if err := s.UpdateLedgerEntryUsage(ctx, "A", models.UsageAvailable, models.UsageConsumed, "B1"); err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if err := s.UpdateLedgerEntryUsage(ctx, "A", models.UsageAvailable, models.UsageConsumed, "B2"); !errors.Is(err, store.ErrConflict) {
		t.Errorf("second consumer must conflict, got %v", err)
	}

	got, err := s.GetLedgerEntry(ctx, "A")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Usage != models.UsageConsumed || got.ConsumedBy != "B1" {
		t.Errorf("expected consumed by B1, got %s/%s", got.Usage, got.ConsumedBy)
	}
	if got.Type != models.EntryTypeIncome || !got.SignedAmount().Equal(decimal.RequireFromString("25")) {
		t.Errorf("entry fields not preserved: %+v", got)
	}

	if err := s.UpdateLedgerEntryUsage(ctx, "A", models.UsageConsumed, models.UsageAvailable, ""); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	got, _ = s.GetLedgerEntry(ctx, "A")
	if got.Usage != models.UsageAvailable || got.ConsumedBy != "" {
		t.Errorf("expected released entry, got %s/%s", got.Usage, got.ConsumedBy)
	}

	if err := s.UpdateLedgerEntryUsage(ctx, "missing", models.UsageAvailable, models.UsageConsumed, "B1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testListLedgerEntriesFilter(t *testing.T, s store.Store) {
	ctx := context.Background()
	entries := []*models.LedgerEntry{
		LedgerEntry("A", "10", models.EntryTypeIncome, day.AddDate(0, 0, -20)),
		LedgerEntry("B", "20", models.EntryTypeExpense, day),
		LedgerEntry("C", "30", models.EntryTypeIncome, day.AddDate(0, 0, 1)),
	}
	entries[2].Usage = models.UsageConsumed
	entries[2].ConsumedBy = "B0"
	for _, e := range entries {
		if err := s.InsertLedgerEntry(ctx, e); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	tests := []struct {
		name     string
		filter   store.LedgerEntryFilter
		expected []string
	}{
		{"all", store.LedgerEntryFilter{}, []string{"A", "B", "C"}},
		{"available", store.LedgerEntryFilter{Usage: models.UsageAvailable}, []string{"A", "B"}},
		{"window", store.LedgerEntryFilter{From: day.AddDate(0, 0, -14), To: day.AddDate(0, 0, 14)}, []string{"B", "C"}},
		{"ids", store.LedgerEntryFilter{IDs: []string{"C", "A"}}, []string{"A", "C"}},
		{"tenant", store.LedgerEntryFilter{TenantID: "tenant-2"}, nil},
	}

	for _, tt := range tests {
		got, err := s.ListLedgerEntries(ctx, tt.filter)
		if err != nil {
			t.Fatalf("%s: list failed: %v", tt.name, err)
		}
		if len(got) != len(tt.expected) {
			t.Errorf("%s: expected %v, got %d rows", tt.name, tt.expected, len(got))
			continue
		}
		for i, id := range tt.expected {
			if got[i].ID != id {
				t.Errorf("%s: position %d expected %s, got %s", tt.name, i, id, got[i].ID)
			}
		}
	}
}

func testMatches(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, txn := range []*models.BankTransaction{
		BankTransaction("B1", "EXT-1", "150", day),
		BankTransaction("B2", "EXT-2", "5", day),
	} {
		if err := s.InsertBankTransaction(ctx, txn); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}
	for _, id := range []string{"E1", "E2", "E3"} {
		if err := s.InsertLedgerEntry(ctx, LedgerEntry(id, "75", models.EntryTypeIncome, day)); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	created := day.Add(9 * time.Hour)
	rows := []*models.Match{
		{ID: "M2", BankTransactionID: "B1", LedgerEntryID: "E2", Status: models.MatchStatusSuggested, MatchType: models.MatchTypeAutomatic, Confidence: models.ConfidenceMedium, TotalAmount: decimal.RequireFromString("150"), CreatedAt: created},
		{ID: "M1", BankTransactionID: "B1", LedgerEntryID: "E1", Status: models.MatchStatusSuggested, MatchType: models.MatchTypeAutomatic, Confidence: models.ConfidenceMedium, IsPrimary: true, TotalAmount: decimal.RequireFromString("150"), Notes: "primary=E1", CreatedAt: created},
		{ID: "M3", BankTransactionID: "B2", LedgerEntryID: "E3", Status: models.MatchStatusRejected, MatchType: models.MatchTypeManual, Confidence: models.ConfidenceManual, TotalAmount: decimal.RequireFromString("5"), CreatedAt: created},
	}
	if err := s.InsertMatches(ctx, rows); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := s.InsertMatches(ctx, rows[:1]); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for repeated id, got %v", err)
	}

	got, err := s.ListMatches(ctx, store.MatchFilter{BankTransactionID: "B1"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "M1" || got[1].ID != "M2" {
		t.Fatalf("expected primary row first, got %v", got)
	}
	if !got[0].TotalAmount.Equal(decimal.RequireFromString("150")) || got[0].Notes != "primary=E1" {
		t.Errorf("row fields not preserved: %+v", got[0])
	}

	promoted := got[0].Clone()
	promoted.Status = models.MatchStatusConfirmed
	if err := s.UpdateMatch(ctx, promoted, models.MatchStatusSuggested); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := s.UpdateMatch(ctx, promoted, models.MatchStatusSuggested); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for stale status, got %v", err)
	}

	confirmed, _ := s.ListMatches(ctx, store.MatchFilter{Statuses: []models.MatchStatus{models.MatchStatusConfirmed}})
	if len(confirmed) != 1 || confirmed[0].ID != "M1" {
		t.Errorf("expected M1 confirmed, got %v", confirmed)
	}
	byEntry, _ := s.ListMatches(ctx, store.MatchFilter{LedgerEntryID: "E3"})
	if len(byEntry) != 1 || byEntry[0].ID != "M3" {
		t.Errorf("expected M3 by entry, got %v", byEntry)
	}

	n, err := s.DeleteMatches(ctx, "B1", []models.MatchStatus{models.MatchStatusSuggested})
	if err != nil || n != 1 {
		t.Errorf("expected 1 suggested row deleted, got %d (%v)", n, err)
	}
	n, err = s.DeleteMatches(ctx, "B1", nil)
	if err != nil || n != 1 {
		t.Errorf("expected remaining row deleted, got %d (%v)", n, err)
	}
	left, _ := s.ListMatches(ctx, store.MatchFilter{})
	if len(left) != 1 || left[0].ID != "M3" {
		t.Errorf("expected only M3 left, got %v", left)
	}
}

func testAtomicallyRollsBack(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.InsertBankTransaction(ctx, BankTransaction("B1", "EXT-1", "25", day)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := s.InsertLedgerEntry(ctx, LedgerEntry("A", "25", models.EntryTypeIncome, day)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	boom := errors.New("boom")
	err := s.Atomically(ctx, func(tx store.Store) error {
		txn, err := tx.GetBankTransaction(ctx, "B1")
		if err != nil {
			return err
		}
		txn.State = models.StateMatched
		if err := tx.UpdateBankTransaction(ctx, txn, models.StatePending); err != nil {
			return err
		}
		if err := tx.UpdateLedgerEntryUsage(ctx, "A", models.UsageAvailable, models.UsageConsumed, "B1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	txn, _ := s.GetBankTransaction(ctx, "B1")
	if txn.State != models.StatePending {
		t.Errorf("state change should be rolled back, got %s", txn.State)
	}
	entry, _ := s.GetLedgerEntry(ctx, "A")
	if entry.Usage != models.UsageAvailable {
		t.Errorf("usage change should be rolled back, got %s", entry.Usage)
	}
}

func testAtomicallyCommits(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.InsertBankTransaction(ctx, BankTransaction("B1", "EXT-1", "25", day)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	err := s.Atomically(ctx, func(tx store.Store) error {
		txn, err := tx.GetBankTransaction(ctx, "B1")
		if err != nil {
			return err
		}
		txn.State = models.StateIgnored
		txn.IgnoreReason = "tarifa bancaria"
		return tx.UpdateBankTransaction(ctx, txn, models.StatePending)
	})
	if err != nil {
		t.Fatalf("atomically failed: %v", err)
	}

	txn, _ := s.GetBankTransaction(ctx, "B1")
	if txn.State != models.StateIgnored || txn.ConciliationFlag() != models.FlagIgnored {
		t.Errorf("expected ignored, got %s", txn.State)
	}
	if txn.IgnoreReason != "tarifa bancaria" {
		t.Errorf("expected ignore reason stored, got %q", txn.IgnoreReason)
	}
}

// testConcurrentConsumption races settlements of several transactions that all
// claim the same entry. Exactly one may commit.
func testConcurrentConsumption(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 1; i <= 8; i++ {
		id := fmt.Sprintf("B%d", i)
		if err := s.InsertBankTransaction(ctx, BankTransaction(id, "EXT-"+id, "25", day)); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}
	if err := s.InsertLedgerEntry(ctx, LedgerEntry("E", "25", models.EntryTypeIncome, day)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []string
		conflicts int
		others    []error
		start     = make(chan struct{})
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			err := s.Atomically(ctx, func(tx store.Store) error {
				txn, err := tx.GetBankTransaction(ctx, id)
				if err != nil {
					return err
				}
				txn.State = models.StateMatched
				txn.MatchedEntryID = "E"
				if err := tx.UpdateBankTransaction(ctx, txn, models.StatePending); err != nil {
					return err
				}
				return tx.UpdateLedgerEntryUsage(ctx, "E", models.UsageAvailable, models.UsageConsumed, id)
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, id)
			case errors.Is(err, store.ErrConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}(fmt.Sprintf("B%d", i%8+1))
	}
	close(start)
	wg.Wait()

	if len(winners) != 1 || conflicts != 15 || len(others) != 0 {
		t.Fatalf("expected 1 winner and 15 conflicts, got winners=%v conflicts=%d others=%v", winners, conflicts, others)
	}

	entry, err := s.GetLedgerEntry(ctx, "E")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if entry.Usage != models.UsageConsumed || entry.ConsumedBy != winners[0] {
		t.Errorf("expected E consumed by %s, got %s by %q", winners[0], entry.Usage, entry.ConsumedBy)
	}

	matched, err := s.ListBankTransactions(ctx, store.BankTransactionFilter{States: []models.State{models.StateMatched}})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != winners[0] {
		t.Errorf("expected only %s matched, got %d transactions", winners[0], len(matched))
	}
}
