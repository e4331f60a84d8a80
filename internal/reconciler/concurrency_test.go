package reconciler

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"conciliation-service/internal/models"
	"conciliation-service/internal/store"
	"conciliation-service/internal/store/memory"
	"conciliation-service/internal/store/sqlstore"
	"conciliation-service/pkg/errors"
)

func concurrencyStores(t *testing.T) map[string]func(t *testing.T) store.Store {
	return map[string]func(t *testing.T) store.Store{
		"memory": func(t *testing.T) store.Store { return memory.New() },
		"sqlite": func(t *testing.T) store.Store {
			st, err := sqlstore.Open(sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "conciliator.db"))
			if err != nil {
				t.Fatalf("failed to open sqlite store: %v", err)
			}
			t.Cleanup(func() { st.Close() })
			if err := st.Migrate(); err != nil {
				t.Fatalf("failed to migrate: %v", err)
			}
			return st
		},
	}
}

// confirmConcurrently fires every request at once and counts the outcomes.
func confirmConcurrently(f *fixture, reqs []ConfirmRequest) (ok, conflicts int, other []error) {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		start = make(chan struct{})
	)
	for _, req := range reqs {
		wg.Add(1)
		go func(req ConfirmRequest) {
			defer wg.Done()
			<-start
			_, err := f.service.Confirm(f.ctx, req)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.IsConflict(err):
				conflicts++
			default:
				other = append(other, err)
			}
		}(req)
	}
	close(start)
	wg.Wait()
	return ok, conflicts, other
}

func TestConfirm_ConcurrentClaimsOnOneEntry(t *testing.T) {
	for name, open := range concurrencyStores(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixtureWithStore(t, open(t))
			f.entry("E", "25.00", models.EntryTypeIncome, testDay)

			var reqs []ConfirmRequest
			for i := 1; i <= 8; i++ {
				f.bank(fmt.Sprintf("B%d", i), "25.00", testDay, "")
			}
			for i := 0; i < 16; i++ {
				reqs = append(reqs, ConfirmRequest{
					BankTransactionID: fmt.Sprintf("B%d", i%8+1),
					EntryIDs:          []string{"E"},
				})
			}

			ok, conflicts, other := confirmConcurrently(f, reqs)
			if ok != 1 || conflicts != 15 || len(other) != 0 {
				t.Fatalf("expected 1 success and 15 conflicts, got ok=%d conflicts=%d other=%v", ok, conflicts, other)
			}

			e := f.ledger("E")
			if e.Usage != models.UsageConsumed {
				t.Fatalf("expected entry consumed, got %s", e.Usage)
			}
			matched := 0
			for i := 1; i <= 8; i++ {
				id := fmt.Sprintf("B%d", i)
				txn := f.txn(id)
				if txn.State != models.StateMatched {
					if len(f.rows(id, models.MatchStatusConfirmed)) != 0 {
						t.Errorf("%s has confirmed rows without being matched", id)
					}
					continue
				}
				matched++
				if id != e.ConsumedBy {
					t.Errorf("matched %s but entry consumed by %s", id, e.ConsumedBy)
				}
				if n := len(f.rows(id, models.MatchStatusConfirmed)); n != 1 {
					t.Errorf("expected one confirmed row for %s, got %d", id, n)
				}
			}
			if matched != 1 {
				t.Errorf("expected exactly one matched transaction, got %d", matched)
			}
		})
	}
}

func TestConfirm_ConcurrentClaimsOnOneTransaction(t *testing.T) {
	for name, open := range concurrencyStores(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixtureWithStore(t, open(t))
			f.bank("B1", "25.00", testDay, "")

			var reqs []ConfirmRequest
			for i := 1; i <= 12; i++ {
				id := fmt.Sprintf("E%02d", i)
				f.entry(id, "25.00", models.EntryTypeIncome, testDay)
				reqs = append(reqs, ConfirmRequest{BankTransactionID: "B1", EntryIDs: []string{id}})
			}

			ok, conflicts, other := confirmConcurrently(f, reqs)
			if ok != 1 || conflicts != 11 || len(other) != 0 {
				t.Fatalf("expected 1 success and 11 conflicts, got ok=%d conflicts=%d other=%v", ok, conflicts, other)
			}

			txn := f.txn("B1")
			if txn.ConciliationFlag() != models.FlagReconciled {
				t.Fatalf("expected conciliado, got %s", txn.ConciliationFlag())
			}
			consumed := 0
			for _, req := range reqs {
				e := f.ledger(req.EntryIDs[0])
				if e.Usage == models.UsageConsumed {
					consumed++
					if e.ID != txn.MatchedEntryID {
						t.Errorf("consumed %s but transaction points at %s", e.ID, txn.MatchedEntryID)
					}
				}
			}
			if consumed != 1 {
				t.Errorf("expected exactly one consumed entry, got %d", consumed)
			}
			if n := len(f.rows("B1", models.MatchStatusConfirmed)); n != 1 {
				t.Errorf("expected one confirmed row, got %d", n)
			}
		})
	}
}
