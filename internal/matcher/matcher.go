package matcher

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"conciliation-service/internal/models"
	"conciliation-service/internal/textnorm"
	"conciliation-service/internal/transfer"
)

// Kind is the classification produced by the Matcher.
type Kind string

const (
	KindExact     Kind = "exact"
	KindSuggested Kind = "suggested"
	KindAggregate Kind = "aggregate"
	KindTransfer  Kind = "transfer"
	KindNoMatch   Kind = "no_match"
)

// String returns the string representation of Kind
func (k Kind) String() string {
	return string(k)
}

// MatchResult is the outcome of classifying one bank transaction.
type MatchResult struct {
	Kind Kind `json:"kind"`

	// Entries holds one entry for exact and suggested results, the
	// constituents (primary first) for aggregates, and nothing otherwise.
	Entries []*models.LedgerEntry `json:"entries,omitempty"`

	Confidence models.Confidence `json:"confidence,omitempty"`

	// TotalAmount is the signed sum of Entries.
	TotalAmount decimal.Decimal `json:"totalAmount"`

	// Date is the representative date of the match.
	Date time.Time `json:"date,omitempty"`

	DayDistance  int      `json:"dayDistance"`
	Similarity   float64  `json:"similarity"`
	TransferRule string   `json:"transferRule,omitempty"`
	Reasons      []string `json:"reasons,omitempty"`
}

// Primary returns the representative entry, or nil.
func (r *MatchResult) Primary() *models.LedgerEntry {
	if len(r.Entries) == 0 {
		return nil
	}
	return r.Entries[0]
}

// EntryIDs returns the IDs of Entries in order
func (r *MatchResult) EntryIDs() []string {
	ids := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		ids[i] = e.ID
	}
	return ids
}

// HasCandidates reports whether the result proposes ledger entries.
func (r *MatchResult) HasCandidates() bool {
	return len(r.Entries) > 0
}

// State is the reconciliation state the result moves a transaction to.
func (r *MatchResult) State() models.State {
	switch r.Kind {
	case KindExact, KindSuggested, KindAggregate:
		return models.StateSuggested
	case KindTransfer:
		return models.StateTransfer
	default:
		return models.StateNoMatch
	}
}

// MatchType is the match type recorded on suggestion rows.
func (r *MatchResult) MatchType() models.MatchType {
	switch r.Kind {
	case KindExact:
		return models.MatchTypeExact
	case KindTransfer:
		return models.MatchTypeTransfer
	default:
		return models.MatchTypeAutomatic
	}
}

// Matcher classifies bank transactions. It holds no mutable state and is
// safe for concurrent use.
type Matcher struct {
	config   *MatchingConfig
	detector *transfer.Detector
}

// NewMatcher creates a matcher. Nil arguments fall back to the defaults.
func NewMatcher(config *MatchingConfig, detector *transfer.Detector) *Matcher {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if detector == nil {
		detector = transfer.Default()
	}
	return &Matcher{
		config:   config.Clone(),
		detector: detector,
	}
}

// GetConfiguration returns a copy of the current configuration
func (m *Matcher) GetConfiguration() *MatchingConfig {
	return m.config.Clone()
}

// Detector returns the transfer detector used by the matcher
func (m *Matcher) Detector() *transfer.Detector {
	return m.detector
}

// candidate is an eligible entry with its ranking keys precomputed.
type candidate struct {
	entry      *models.LedgerEntry
	amountDiff decimal.Decimal
	exact      bool
	days       int
	similarity float64
}

// Classify classifies txn against pool. It never fails: missing or
// insufficient input yields KindNoMatch.
func (m *Matcher) Classify(txn *models.BankTransaction, pool []*models.LedgerEntry) *MatchResult {
	if txn == nil {
		return &MatchResult{Kind: KindNoMatch, TotalAmount: decimal.Zero}
	}

	if rule, ok := m.detector.Detect(txn.ExternalID, txn.Description()); ok {
		return &MatchResult{
			Kind:         KindTransfer,
			TotalAmount:  decimal.Zero,
			Date:         models.DateOnly(txn.PostedAt),
			TransferRule: rule.Label,
			Reasons:      []string{fmt.Sprintf("transfer keyword rule %q", rule.Label)},
		}
	}

	if txn.Amount.IsZero() {
		return m.noMatch(txn, "bank amount is zero")
	}

	index := NewLedgerIndex(m.eligible(txn, pool))
	if index.Len() == 0 {
		return m.noMatch(txn, "no eligible ledger entries")
	}

	if result := m.findExact(txn, index); result != nil {
		return result
	}
	if m.config.EnableAggregates {
		if result := m.findAggregate(txn, index); result != nil {
			// an exact-amount single entry no farther away than the
			// aggregate's farthest constituent outranks it
			if single := m.findExactInTiers(txn, index); single != nil && single.DayDistance <= result.DayDistance {
				return single
			}
			return result
		}
	}
	for _, tier := range m.config.Tiers() {
		if result := m.findSuggested(txn, index, tier); result != nil {
			return result
		}
	}

	return m.noMatch(txn, "no candidate within tolerance")
}

// eligible keeps available entries with the same polarity as the bank amount
func (m *Matcher) eligible(txn *models.BankTransaction, pool []*models.LedgerEntry) []*models.LedgerEntry {
	sign := txn.Amount.Sign()
	var result []*models.LedgerEntry
	for _, e := range pool {
		if e == nil || !e.IsAvailable() {
			continue
		}
		if e.SignedAmount().Sign() != sign {
			continue
		}
		result = append(result, e)
	}
	return result
}

func (m *Matcher) score(txn *models.BankTransaction, e *models.LedgerEntry) candidate {
	diff := e.SignedAmount().Sub(txn.Amount).Abs()
	return candidate{
		entry:      e,
		amountDiff: diff,
		exact:      diff.LessThanOrEqual(m.config.Epsilon()),
		days:       m.config.DayDistance(txn.PostedAt, e.Date),
		similarity: textnorm.Similarity(txn.Description(), e.Description),
	}
}

// rank orders candidates: exact amount first, then smaller date distance,
// then smaller amount difference, then higher description similarity, then
// earliest created, then ID.
func rank(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.exact != b.exact {
			return a.exact
		}
		if a.days != b.days {
			return a.days < b.days
		}
		if !a.amountDiff.Equal(b.amountDiff) {
			return a.amountDiff.LessThan(b.amountDiff)
		}
		if a.similarity != b.similarity {
			return a.similarity > b.similarity
		}
		if !a.entry.CreatedAt.Equal(b.entry.CreatedAt) {
			return a.entry.CreatedAt.Before(b.entry.CreatedAt)
		}
		return a.entry.ID < b.entry.ID
	})
}

func (m *Matcher) findExact(txn *models.BankTransaction, index *LedgerIndex) *MatchResult {
	var cands []candidate
	for _, e := range index.GetByAmountNear(txn.Amount, m.config.Epsilon()) {
		c := m.score(txn, e)
		if c.exact && c.days <= m.config.ExactDateWindowDays {
			cands = append(cands, c)
		}
	}
	if len(cands) == 0 {
		return nil
	}
	rank(cands)
	best := cands[0]

	reasons := []string{"amount matches exactly", dayReason(best.days)}
	if len(cands) > 1 {
		reasons = append(reasons, fmt.Sprintf("chosen among %d equal-amount candidates", len(cands)))
	}
	return m.single(KindExact, models.ConfidenceHigh, best, reasons)
}

// findExactInTiers looks for a single entry with the exact bank amount that
// only the tolerance tiers reach because of its date. It is reported as a
// suggestion with the confidence of the first tier whose window holds it.
func (m *Matcher) findExactInTiers(txn *models.BankTransaction, index *LedgerIndex) *MatchResult {
	for _, tier := range m.config.Tiers() {
		var cands []candidate
		for _, e := range index.GetByAmountNear(txn.Amount, m.config.Epsilon()) {
			c := m.score(txn, e)
			if c.exact && c.days <= tier.DateWindowDays {
				cands = append(cands, c)
			}
		}
		if len(cands) == 0 {
			continue
		}
		rank(cands)
		best := cands[0]
		return m.single(KindSuggested, tier.Confidence, best,
			[]string{"amount matches exactly", dayReason(best.days), "preferred over a multi-entry sum"})
	}
	return nil
}

func (m *Matcher) findSuggested(txn *models.BankTransaction, index *LedgerIndex, tier ToleranceTier) *MatchResult {
	tolerance := m.config.GetAmountTolerance(txn.Amount, tier.TolerancePercent)

	var cands []candidate
	for _, e := range index.GetByAmountNear(txn.Amount, tolerance) {
		c := m.score(txn, e)
		if c.days <= tier.DateWindowDays {
			cands = append(cands, c)
		}
	}
	if len(cands) == 0 {
		return nil
	}
	rank(cands)
	best := cands[0]

	reasons := []string{
		fmt.Sprintf("amount differs by %s (within %.1f%%)", best.amountDiff.StringFixed(2), tier.TolerancePercent),
		dayReason(best.days),
	}
	if best.similarity > 0 {
		reasons = append(reasons, fmt.Sprintf("description similarity %.2f", best.similarity))
	}
	return m.single(KindSuggested, tier.Confidence, best, reasons)
}

func (m *Matcher) single(kind Kind, confidence models.Confidence, c candidate, reasons []string) *MatchResult {
	return &MatchResult{
		Kind:        kind,
		Entries:     []*models.LedgerEntry{c.entry},
		Confidence:  confidence,
		TotalAmount: c.entry.SignedAmount(),
		Date:        models.DateOnly(c.entry.Date),
		DayDistance: c.days,
		Similarity:  c.similarity,
		Reasons:     reasons,
	}
}

func (m *Matcher) findAggregate(txn *models.BankTransaction, index *LedgerIndex) *MatchResult {
	var cands []candidate
	for _, e := range index.Polarity(txn.Amount) {
		// an entry larger than the bank amount cannot be part of a sum
		if e.SignedAmount().Abs().GreaterThan(txn.Amount.Abs().Add(m.config.Epsilon())) {
			continue
		}
		c := m.score(txn, e)
		if c.days <= m.config.AggregateDateWindowDays {
			cands = append(cands, c)
		}
	}
	if len(cands) < 2 {
		return nil
	}
	rank(cands)
	if len(cands) > m.config.MaxAggregateCandidates {
		cands = cands[:m.config.MaxAggregateCandidates]
	}

	items := make([]*models.LedgerEntry, len(cands))
	byID := make(map[string]candidate, len(cands))
	for i, c := range cands {
		items[i] = c.entry
		byID[c.entry.ID] = c
	}

	search := newSubsetSearch(items, txn.Amount, m.config.Epsilon(), m.config.MaxSearchSteps)
	found := search.find(2, m.config.MaxAggregateSize)
	if found == nil {
		return nil
	}

	total := models.SumSigned(found)
	date, maxDays, allTight := aggregateDate(txn, found, m.config)

	confidence := models.ConfidenceMedium
	if allTight {
		confidence = models.ConfidenceHigh
	}

	var sim float64
	for _, e := range found {
		if s := byID[e.ID].similarity; s > sim {
			sim = s
		}
	}

	return &MatchResult{
		Kind:        KindAggregate,
		Entries:     found,
		Confidence:  confidence,
		TotalAmount: total,
		Date:        date,
		DayDistance: maxDays,
		Similarity:  sim,
		Reasons: []string{
			fmt.Sprintf("sum of %d entries equals bank amount (%s)", len(found), total.StringFixed(2)),
			fmt.Sprintf("largest date difference %d day(s)", maxDays),
		},
	}
}

// aggregateDate picks the representative date of an aggregate: the bank
// posted date when a constituent shares it, otherwise the most recent
// constituent date.
func aggregateDate(txn *models.BankTransaction, entries []*models.LedgerEntry, config *MatchingConfig) (time.Time, int, bool) {
	posted := config.NormalizeTime(txn.PostedAt)
	var latest time.Time
	shared := false
	maxDays := 0
	allTight := true

	for _, e := range entries {
		d := config.NormalizeTime(e.Date)
		days := models.DayDistance(posted, d)
		if days == 0 {
			shared = true
		}
		if days > maxDays {
			maxDays = days
		}
		if days > config.ExactDateWindowDays {
			allTight = false
		}
		if latest.IsZero() || d.After(latest) {
			latest = d
		}
	}

	if shared {
		return models.DateOnly(posted), maxDays, allTight
	}
	return models.DateOnly(latest), maxDays, allTight
}

func (m *Matcher) noMatch(txn *models.BankTransaction, reason string) *MatchResult {
	return &MatchResult{
		Kind:        KindNoMatch,
		TotalAmount: decimal.Zero,
		Date:        models.DateOnly(txn.PostedAt),
		Reasons:     []string{reason},
	}
}

func dayReason(days int) string {
	if days == 0 {
		return "same date"
	}
	return fmt.Sprintf("date differs by %d day(s)", days)
}
