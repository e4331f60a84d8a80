package matcher

import (
	"sort"

	"github.com/shopspring/decimal"

	"conciliation-service/internal/models"
)

// LedgerIndex keeps ledger entries sorted by signed amount for range lookups.
type LedgerIndex struct {
	// AmountIndex holds the entries ordered by signed amount, then ID
	AmountIndex []*models.LedgerEntry

	// ByID maps entry IDs to entries
	ByID map[string]*models.LedgerEntry
}

// NewLedgerIndex creates an index over the given entries. Nil entries and
// repeated IDs are dropped; the first occurrence wins.
func NewLedgerIndex(entries []*models.LedgerEntry) *LedgerIndex {
	index := &LedgerIndex{
		AmountIndex: make([]*models.LedgerEntry, 0, len(entries)),
		ByID:        make(map[string]*models.LedgerEntry, len(entries)),
	}

	for _, e := range entries {
		if e == nil {
			continue
		}
		if _, dup := index.ByID[e.ID]; dup {
			continue
		}
		index.ByID[e.ID] = e
		index.AmountIndex = append(index.AmountIndex, e)
	}

	sort.SliceStable(index.AmountIndex, func(i, j int) bool {
		a, b := index.AmountIndex[i].SignedAmount(), index.AmountIndex[j].SignedAmount()
		if !a.Equal(b) {
			return a.LessThan(b)
		}
		return index.AmountIndex[i].ID < index.AmountIndex[j].ID
	})

	return index
}

// Len returns the number of indexed entries
func (li *LedgerIndex) Len() int {
	return len(li.AmountIndex)
}

// Get returns the entry with the given ID
func (li *LedgerIndex) Get(id string) (*models.LedgerEntry, bool) {
	e, ok := li.ByID[id]
	return e, ok
}

// GetByAmountRange returns entries whose signed amount lies in [min, max]
func (li *LedgerIndex) GetByAmountRange(minAmount, maxAmount decimal.Decimal) []*models.LedgerEntry {
	start := sort.Search(len(li.AmountIndex), func(i int) bool {
		return li.AmountIndex[i].SignedAmount().GreaterThanOrEqual(minAmount)
	})

	var result []*models.LedgerEntry
	for i := start; i < len(li.AmountIndex); i++ {
		if li.AmountIndex[i].SignedAmount().GreaterThan(maxAmount) {
			break
		}
		result = append(result, li.AmountIndex[i])
	}
	return result
}

// GetByAmountNear returns entries whose signed amount is within tolerance of amount
func (li *LedgerIndex) GetByAmountNear(amount, tolerance decimal.Decimal) []*models.LedgerEntry {
	return li.GetByAmountRange(amount.Sub(tolerance), amount.Add(tolerance))
}

// Polarity returns the entries with the same sign as amount, in amount order
func (li *LedgerIndex) Polarity(amount decimal.Decimal) []*models.LedgerEntry {
	sign := amount.Sign()
	if sign == 0 {
		return nil
	}
	var result []*models.LedgerEntry
	for _, e := range li.AmountIndex {
		if e.SignedAmount().Sign() == sign {
			result = append(result, e)
		}
	}
	return result
}
