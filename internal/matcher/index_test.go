package matcher

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"conciliation-service/internal/models"
)

func entry(id, amount string, typ models.EntryType, date time.Time) *models.LedgerEntry {
	return &models.LedgerEntry{
		ID:        id,
		Amount:    decimal.RequireFromString(amount),
		Type:      typ,
		Date:      date,
		Usage:     models.UsageAvailable,
		CreatedAt: date,
	}
}

func TestLedgerIndex_Ordering(t *testing.T) {
	day := time.Date(2025, 8, 18, 0, 0, 0, 0, time.UTC)
	index := NewLedgerIndex([]*models.LedgerEntry{
		entry("C", "30", models.EntryTypeIncome, day),
		entry("A", "10", models.EntryTypeExpense, day),
		nil,
		entry("B", "30", models.EntryTypeIncome, day),
		entry("B", "99", models.EntryTypeIncome, day),
	})

	if index.Len() != 3 {
		t.Fatalf("expected 3 entries after dropping nil and duplicate, got %d", index.Len())
	}

	want := []string{"A", "B", "C"}
	for i, id := range want {
		if index.AmountIndex[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, index.AmountIndex[i].ID)
		}
	}

	if e, ok := index.Get("B"); !ok || !e.Amount.Equal(decimal.NewFromInt(30)) {
		t.Errorf("expected first occurrence of B to win, got %v", e)
	}
}

func TestLedgerIndex_GetByAmountRange(t *testing.T) {
	day := time.Date(2025, 8, 18, 0, 0, 0, 0, time.UTC)
	index := NewLedgerIndex([]*models.LedgerEntry{
		entry("E1", "25.00", models.EntryTypeIncome, day),
		entry("E2", "28.75", models.EntryTypeIncome, day),
		entry("E3", "25.00", models.EntryTypeExpense, day),
		entry("E4", "24.996", models.EntryTypeIncome, day),
	})

	tests := []struct {
		name     string
		min, max string
		expected []string
	}{
		{"exact band", "24.995", "25.005", []string{"E4", "E1"}},
		{"wide band", "22.5", "30", []string{"E4", "E1", "E2"}},
		{"negative", "-30", "-20", []string{"E3"}},
		{"empty", "100", "200", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := index.GetByAmountRange(decimal.RequireFromString(tt.min), decimal.RequireFromString(tt.max))
			if len(got) != len(tt.expected) {
				t.Fatalf("expected %v, got %d entries", tt.expected, len(got))
			}
			for i, id := range tt.expected {
				if got[i].ID != id {
					t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
				}
			}
		})
	}
}

func TestLedgerIndex_Polarity(t *testing.T) {
	day := time.Date(2025, 8, 18, 0, 0, 0, 0, time.UTC)
	index := NewLedgerIndex([]*models.LedgerEntry{
		entry("IN", "25", models.EntryTypeIncome, day),
		entry("OUT", "25", models.EntryTypeExpense, day),
	})

	if got := index.Polarity(decimal.NewFromInt(-1)); len(got) != 1 || got[0].ID != "OUT" {
		t.Errorf("expected only OUT for negative polarity, got %v", got)
	}
	if got := index.Polarity(decimal.NewFromInt(1)); len(got) != 1 || got[0].ID != "IN" {
		t.Errorf("expected only IN for positive polarity, got %v", got)
	}
	if got := index.Polarity(decimal.Zero); got != nil {
		t.Errorf("zero amount has no polarity, got %v", got)
	}
}

func BenchmarkLedgerIndex_GetByAmountRange(b *testing.B) {
	day := time.Date(2025, 8, 18, 0, 0, 0, 0, time.UTC)
	entries := make([]*models.LedgerEntry, 10000)
	for i := range entries {
		entries[i] = entry(fmt.Sprintf("E%05d", i), decimal.NewFromFloat(float64(i)*1.5).String(), models.EntryTypeIncome, day)
	}
	index := NewLedgerIndex(entries)
	minAmount := decimal.NewFromFloat(5000.0)
	maxAmount := decimal.NewFromFloat(6000.0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		index.GetByAmountRange(minAmount, maxAmount)
	}
}
