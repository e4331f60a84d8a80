package reconciler

import (
	"context"
	"testing"

	"conciliation-service/internal/matcher"
	"conciliation-service/internal/models"
)

func TestSuggestPending(t *testing.T) {
	f := newFixture(t)
	f.bank("B1", "25.00", testDay, "")
	f.bank("B2", "150.00", testDay.AddDate(0, 0, 1), "")
	f.bank("B3", "-40.00", testDay.AddDate(0, 0, 2), "PIX ENVIADO")
	f.bank("B4", "999.00", testDay.AddDate(0, 0, 3), "")
	f.bank("B5", "30.00", testDay.AddDate(0, 0, 4), "")
	f.entry("A", "25.00", models.EntryTypeIncome, testDay)
	f.entry("C", "30.00", models.EntryTypeIncome, testDay.AddDate(0, 0, 4))
	for _, id := range []string{"X1", "X2"} {
		f.entry(id, "75.00", models.EntryTypeIncome, testDay.AddDate(0, 0, 1))
	}

	// settled before the run, so out of scope
	if _, err := f.service.Confirm(f.ctx, ConfirmRequest{BankTransactionID: "B5", EntryIDs: []string{"C"}}); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	report, err := f.service.SuggestPending(f.ctx, RunFilter{TenantID: "tenant-1"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if report.Total != 4 {
		t.Fatalf("expected 4 transactions in scope, got %d", report.Total)
	}
	expected := map[matcher.Kind]int{
		matcher.KindExact:     1,
		matcher.KindAggregate: 1,
		matcher.KindTransfer:  1,
		matcher.KindNoMatch:   1,
	}
	for kind, n := range expected {
		if report.ByKind[kind] != n {
			t.Errorf("expected %d %s, got %d", n, kind, report.ByKind[kind])
		}
	}
	if report.Suggested() != 2 || report.Conflicts != 0 || report.Failures != 0 {
		t.Errorf("unexpected totals: suggested=%d conflicts=%d failures=%d", report.Suggested(), report.Conflicts, report.Failures)
	}

	order := []string{"B1", "B2", "B3", "B4"}
	for i, id := range order {
		if report.Items[i].BankTransactionID != id {
			t.Errorf("item %d: expected %s, got %s", i, id, report.Items[i].BankTransactionID)
		}
	}
	if got := report.Items[1].TotalAmount.StringFixed(2); got != "150.00" {
		t.Errorf("aggregate item should carry the sum, got %s", got)
	}

	states := map[string]models.State{
		"B1": models.StateSuggested,
		"B2": models.StateSuggested,
		"B3": models.StateTransfer,
		"B4": models.StateNoMatch,
		"B5": models.StateMatched,
	}
	for id, state := range states {
		if got := f.txn(id).State; got != state {
			t.Errorf("%s: expected %s, got %s", id, state, got)
		}
	}

	// no_match transactions are picked up again; the others are not
	again, err := f.service.SuggestPending(f.ctx, RunFilter{TenantID: "tenant-1"})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if again.Total != 1 || again.Items[0].BankTransactionID != "B4" {
		t.Errorf("expected only B4 in the second run, got %+v", again.Items)
	}
}

func TestSuggestPending_CanceledContext(t *testing.T) {
	f := newFixture(t)
	f.bank("B1", "25.00", testDay, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.service.SuggestPending(ctx, RunFilter{}); err == nil {
		t.Error("expected the canceled context to be reported")
	}
	if f.txn("B1").State != models.StatePending {
		t.Error("nothing should be written after cancellation")
	}
}
