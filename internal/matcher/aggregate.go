package matcher

import (
	"sort"

	"github.com/shopspring/decimal"

	"conciliation-service/internal/models"
)

// subsetSearch looks for the smallest set of entries whose absolute amounts
// add up to target within eps. Sizes are tried in increasing order and each
// size is explored depth-first over entries sorted by amount, largest
// first, so the result for a given input is always the same.
type subsetSearch struct {
	items  []*models.LedgerEntry
	values []decimal.Decimal
	target decimal.Decimal
	eps    decimal.Decimal

	// prefix[i] is the sum of values[:i]
	prefix []decimal.Decimal

	steps    int
	maxSteps int
	picked   []int
}

func newSubsetSearch(items []*models.LedgerEntry, target, eps decimal.Decimal, maxSteps int) *subsetSearch {
	sorted := make([]*models.LedgerEntry, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SignedAmount().Abs().GreaterThan(sorted[j].SignedAmount().Abs())
	})

	s := &subsetSearch{
		items:    sorted,
		values:   make([]decimal.Decimal, len(sorted)),
		prefix:   make([]decimal.Decimal, len(sorted)+1),
		target:   target.Abs(),
		eps:      eps,
		maxSteps: maxSteps,
	}
	s.prefix[0] = decimal.Zero
	for i, e := range sorted {
		s.values[i] = e.SignedAmount().Abs()
		s.prefix[i+1] = s.prefix[i].Add(s.values[i])
	}
	return s
}

// rangeSum returns the sum of values[from:to]
func (s *subsetSearch) rangeSum(from, to int) decimal.Decimal {
	return s.prefix[to].Sub(s.prefix[from])
}

// find returns the first subset with a size in [minSize, maxSize] that sums
// to the target, or nil. It gives up once the step budget is spent.
func (s *subsetSearch) find(minSize, maxSize int) []*models.LedgerEntry {
	n := len(s.items)
	if maxSize > n {
		maxSize = n
	}
	low := s.target.Sub(s.eps)
	high := s.target.Add(s.eps)

	// Everything together is not enough.
	if s.prefix[n].LessThan(low) {
		return nil
	}

	for size := minSize; size <= maxSize; size++ {
		s.picked = s.picked[:0]
		if s.dfs(0, size, decimal.Zero, low, high) {
			result := make([]*models.LedgerEntry, len(s.picked))
			for i, idx := range s.picked {
				result[i] = s.items[idx]
			}
			return result
		}
		if s.steps >= s.maxSteps {
			return nil
		}
	}
	return nil
}

func (s *subsetSearch) dfs(start, remaining int, sum, low, high decimal.Decimal) bool {
	if remaining == 0 {
		return sum.GreaterThanOrEqual(low) && sum.LessThanOrEqual(high)
	}

	n := len(s.items)
	for i := start; i <= n-remaining; i++ {
		s.steps++
		if s.steps >= s.maxSteps {
			return false
		}

		// values are sorted descending: the largest reachable sum takes
		// the next picks right after i, the smallest takes the tail.
		best := sum.Add(s.rangeSum(i, i+remaining))
		if best.LessThan(low) {
			// later starting points only get smaller
			return false
		}
		worst := sum.Add(s.values[i]).Add(s.rangeSum(n-remaining+1, n))
		if worst.GreaterThan(high) {
			continue
		}

		s.picked = append(s.picked, i)
		if s.dfs(i+1, remaining-1, sum.Add(s.values[i]), low, high) {
			return true
		}
		s.picked = s.picked[:len(s.picked)-1]

		if s.steps >= s.maxSteps {
			return false
		}
	}
	return false
}
