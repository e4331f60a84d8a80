// Package models defines the records the reconciliation core works on:
// bank transactions imported from statements, ledger entries recorded by
// the accounting side, and the match rows that associate them.
//
// Every enumeration is declared explicitly with IsValid and a Parse helper
// so that values are validated at the boundary instead of being discovered
// from database constraint failures.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// State is the single authoritative reconciliation state of a bank transaction.
type State string

const (
	StatePending   State = "pending"
	StateSuggested State = "suggested"
	StateTransfer  State = "transfer"
	StateNoMatch   State = "no_match"
	StateMatched   State = "matched"
	StateIgnored   State = "ignored"
)

// AllStates lists every valid State in lifecycle order.
var AllStates = []State{StatePending, StateSuggested, StateTransfer, StateNoMatch, StateMatched, StateIgnored}

// String returns the string representation of State
func (s State) String() string {
	return string(s)
}

// IsValid checks if the state is one of the declared values
func (s State) IsValid() bool {
	for _, v := range AllStates {
		if s == v {
			return true
		}
	}
	return false
}

// ParseState parses a state name. "confirmed" is accepted as an alias of matched.
func ParseState(value string) (State, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "confirmed" {
		return StateMatched, nil
	}
	s := State(v)
	if !s.IsValid() {
		return "", fmt.Errorf("invalid reconciliation state: %q", value)
	}
	return s, nil
}

// ConciliationFlag reports whether a bank transaction is done.
type ConciliationFlag string

const (
	FlagPending    ConciliationFlag = "pendente"
	FlagReconciled ConciliationFlag = "conciliado"
	FlagIgnored    ConciliationFlag = "ignorado"
)

// String returns the string representation of ConciliationFlag
func (f ConciliationFlag) String() string {
	return string(f)
}

// IsValid checks if the flag is one of the declared values
func (f ConciliationFlag) IsValid() bool {
	return f == FlagPending || f == FlagReconciled || f == FlagIgnored
}

// Flag projects a state onto its conciliation flag.
func (s State) Flag() ConciliationFlag {
	switch s {
	case StateMatched:
		return FlagReconciled
	case StateIgnored:
		return FlagIgnored
	default:
		return FlagPending
	}
}

// EntryType is the accounting direction of a ledger entry.
type EntryType string

const (
	EntryTypeIncome  EntryType = "income"
	EntryTypeExpense EntryType = "expense"
)

// String returns the string representation of EntryType
func (t EntryType) String() string {
	return string(t)
}

// IsValid checks if the entry type is valid
func (t EntryType) IsValid() bool {
	return t == EntryTypeIncome || t == EntryTypeExpense
}

// ParseEntryType accepts the English and Portuguese names as well as the
// single-letter credit/debit codes found on imported ledgers.
func ParseEntryType(value string) (EntryType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "income", "receita", "credit", "c":
		return EntryTypeIncome, nil
	case "expense", "despesa", "debit", "d":
		return EntryTypeExpense, nil
	default:
		return "", fmt.Errorf("invalid entry type: %q", value)
	}
}

// UsageStatus tells whether a ledger entry is already consumed by a confirmed match.
type UsageStatus string

const (
	UsageAvailable UsageStatus = "available"
	UsageConsumed  UsageStatus = "consumed"
)

// IsValid checks if the usage status is valid
func (u UsageStatus) IsValid() bool {
	return u == UsageAvailable || u == UsageConsumed
}

// MatchStatus is the lifecycle status of a match row.
type MatchStatus string

const (
	MatchStatusSuggested MatchStatus = "suggested"
	MatchStatusConfirmed MatchStatus = "confirmed"
	MatchStatusRejected  MatchStatus = "rejected"
)

// IsValid checks if the match status is valid
func (m MatchStatus) IsValid() bool {
	return m == MatchStatusSuggested || m == MatchStatusConfirmed || m == MatchStatusRejected
}

// MatchType records how a match was produced.
type MatchType string

const (
	MatchTypeExact     MatchType = "exact"
	MatchTypeAutomatic MatchType = "automatic"
	MatchTypeManual    MatchType = "manual"
	MatchTypeTransfer  MatchType = "transfer"
)

// IsValid checks if the match type is valid
func (m MatchType) IsValid() bool {
	switch m {
	case MatchTypeExact, MatchTypeAutomatic, MatchTypeManual, MatchTypeTransfer:
		return true
	}
	return false
}

// ParseMatchType parses a match type; empty input defaults to manual.
func ParseMatchType(value string) (MatchType, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return MatchTypeManual, nil
	}
	m := MatchType(v)
	if !m.IsValid() {
		return "", fmt.Errorf("invalid match type: %q", value)
	}
	return m, nil
}

// Confidence is the confidence level attached to a match.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceManual Confidence = "manual"
)

// IsValid checks if the confidence is valid
func (c Confidence) IsValid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow, ConfidenceManual:
		return true
	}
	return false
}

// ParseConfidence parses a confidence level; empty input defaults to manual.
func ParseConfidence(value string) (Confidence, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return ConfidenceManual, nil
	}
	c := Confidence(v)
	if !c.IsValid() {
		return "", fmt.Errorf("invalid confidence: %q", value)
	}
	return c, nil
}

// BankTransaction is an externally imported statement line.
type BankTransaction struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenantId"`
	AccountID  string          `json:"accountId"`
	ExternalID string          `json:"externalId"`
	Amount     decimal.Decimal `json:"amount"`
	PostedAt   time.Time       `json:"postedAt"`
	Payee      string          `json:"payee,omitempty"`
	Memo       string          `json:"memo,omitempty"`

	// State is the only writable status; see ReconciliationStatus and ConciliationFlag.
	State State `json:"state"`

	MatchedEntryID  string     `json:"matchedEntryId,omitempty"`
	MatchConfidence Confidence `json:"matchConfidence,omitempty"`
	MatchType       MatchType  `json:"matchType,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	IgnoreReason    string     `json:"ignoreReason,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Description joins payee and memo the way descriptors are compared.
func (b *BankTransaction) Description() string {
	return strings.TrimSpace(strings.TrimSpace(b.Payee) + " " + strings.TrimSpace(b.Memo))
}

// ReconciliationStatus is the advisory status derived from State.
func (b *BankTransaction) ReconciliationStatus() State {
	return b.State
}

// ConciliationFlag is the derived "is this done" flag.
func (b *BankTransaction) ConciliationFlag() ConciliationFlag {
	return b.State.Flag()
}

// IsReconciled is true only when the conciliation flag is conciliado.
func (b *BankTransaction) IsReconciled() bool {
	return b.ConciliationFlag() == FlagReconciled
}

// Validate performs boundary validation on an imported bank transaction
func (b *BankTransaction) Validate() error {
	if strings.TrimSpace(b.ExternalID) == "" {
		return fmt.Errorf("external statement identifier cannot be empty")
	}
	if b.Amount.IsZero() {
		return fmt.Errorf("bank transaction amount cannot be zero")
	}
	if b.PostedAt.IsZero() {
		return fmt.Errorf("bank transaction posted date cannot be zero")
	}
	if b.State != "" && !b.State.IsValid() {
		return fmt.Errorf("invalid reconciliation state: %s", b.State)
	}
	return nil
}

// ClearMatch removes the match reference and its metadata.
func (b *BankTransaction) ClearMatch() {
	b.MatchedEntryID = ""
	b.MatchConfidence = ""
	b.MatchType = ""
	b.Notes = ""
}

// Clone returns a copy that can be mutated independently.
func (b *BankTransaction) Clone() *BankTransaction {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

// String returns a string representation of the BankTransaction
func (b *BankTransaction) String() string {
	return fmt.Sprintf("BankTransaction{ID: %s, ExternalID: %s, Amount: %s, Date: %s, State: %s}",
		b.ID, b.ExternalID, b.Amount.StringFixed(2), b.PostedAt.Format("2006-01-02"), b.State)
}

// LedgerEntry is an internally recorded accounting entry.
type LedgerEntry struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenantId"`
	AccountID   string          `json:"accountId,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Type        EntryType       `json:"type"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Usage       UsageStatus     `json:"usage"`
	ConsumedBy  string          `json:"consumedBy,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// SignedAmount returns the amount with the polarity of the entry type:
// positive for income, negative for expense.
func (e *LedgerEntry) SignedAmount() decimal.Decimal {
	abs := e.Amount.Abs()
	if e.Type == EntryTypeExpense {
		return abs.Neg()
	}
	if e.Type == EntryTypeIncome {
		return abs
	}
	return e.Amount
}

// IsAvailable reports whether the entry can still take part in a new match.
func (e *LedgerEntry) IsAvailable() bool {
	return e.Usage == "" || e.Usage == UsageAvailable
}

// Validate performs boundary validation on a ledger entry
func (e *LedgerEntry) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("ledger entry ID cannot be empty")
	}
	if e.Amount.IsZero() {
		return fmt.Errorf("ledger entry amount cannot be zero")
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("invalid entry type: %s", e.Type)
	}
	if e.Date.IsZero() {
		return fmt.Errorf("ledger entry date cannot be zero")
	}
	if e.Usage != "" && !e.Usage.IsValid() {
		return fmt.Errorf("invalid usage status: %s", e.Usage)
	}
	return nil
}

// Clone returns a copy that can be mutated independently.
func (e *LedgerEntry) Clone() *LedgerEntry {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// String returns a string representation of the LedgerEntry
func (e *LedgerEntry) String() string {
	return fmt.Sprintf("LedgerEntry{ID: %s, Amount: %s, Type: %s, Date: %s, Usage: %s}",
		e.ID, e.SignedAmount().StringFixed(2), e.Type, e.Date.Format("2006-01-02"), e.Usage)
}

// Match is one row associating a bank transaction with one ledger entry.
// Aggregate matches have one row per entry; all rows carry the aggregate total.
type Match struct {
	ID                string          `json:"id"`
	BankTransactionID string          `json:"bankTransactionId"`
	LedgerEntryID     string          `json:"ledgerEntryId"`
	Status            MatchStatus     `json:"status"`
	MatchType         MatchType       `json:"matchType"`
	Confidence        Confidence      `json:"confidence"`
	IsPrimary         bool            `json:"isPrimary"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	Notes             string          `json:"notes,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// Validate checks the enumerations and references of a match row
func (m *Match) Validate() error {
	if strings.TrimSpace(m.BankTransactionID) == "" {
		return fmt.Errorf("match bank transaction reference cannot be empty")
	}
	if strings.TrimSpace(m.LedgerEntryID) == "" {
		return fmt.Errorf("match ledger entry reference cannot be empty")
	}
	if !m.Status.IsValid() {
		return fmt.Errorf("invalid match status: %s", m.Status)
	}
	if !m.MatchType.IsValid() {
		return fmt.Errorf("invalid match type: %s", m.MatchType)
	}
	if !m.Confidence.IsValid() {
		return fmt.Errorf("invalid confidence: %s", m.Confidence)
	}
	return nil
}

// Clone returns a copy that can be mutated independently.
func (m *Match) Clone() *Match {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// AggregateNotes renders the note stored on match rows: which entry is
// primary and the total carried by the group.
func AggregateNotes(primaryID string, count int, total decimal.Decimal, extra string) string {
	note := fmt.Sprintf("primary=%s entries=%d total=%s", primaryID, count, total.StringFixed(2))
	if strings.TrimSpace(extra) != "" {
		note += "; " + strings.TrimSpace(extra)
	}
	return note
}

// SumSigned adds up the signed amounts of the given entries.
func SumSigned(entries []*LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.SignedAmount())
	}
	return total
}

// DayDistance returns the absolute number of calendar days between two
// instants, each read in its own location.
func DayDistance(a, b time.Time) int {
	da := DateOnly(a)
	db := DateOnly(b)
	d := int(da.Sub(db).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}

// DateOnly maps an instant to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
