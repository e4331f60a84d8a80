package matcher

import (
	"testing"

	"github.com/shopspring/decimal"

	"conciliation-service/internal/models"
)

func TestSubsetSearch(t *testing.T) {
	eps := decimal.RequireFromString("0.005")

	tests := []struct {
		name     string
		amounts  []string
		target   string
		maxSize  int
		expected []string
	}{
		{"pair", []string{"10", "20", "35"}, "45", 3, []string{"35", "10"}},
		{"within epsilon", []string{"33.33", "33.33", "33.33"}, "99.99", 3, []string{"33.33", "33.33", "33.33"}},
		{"rounding beyond epsilon", []string{"33.33", "33.33", "33.33"}, "100.00", 3, nil},
		{"size limit", []string{"5", "5", "5", "5"}, "20", 3, nil},
		{"impossible", []string{"1", "2"}, "10", 2, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var items []*models.LedgerEntry
			for i, a := range tt.amounts {
				items = append(items, &models.LedgerEntry{
					ID:     string(rune('A' + i)),
					Amount: decimal.RequireFromString(a),
					Type:   models.EntryTypeIncome,
				})
			}

			got := newSubsetSearch(items, decimal.RequireFromString(tt.target), eps, 10000).find(2, tt.maxSize)
			if len(got) != len(tt.expected) {
				t.Fatalf("expected %d entries, got %d", len(tt.expected), len(got))
			}
			for i, want := range tt.expected {
				if !got[i].Amount.Equal(decimal.RequireFromString(want)) {
					t.Errorf("position %d: expected %s, got %s", i, want, got[i].Amount)
				}
			}
		})
	}
}
