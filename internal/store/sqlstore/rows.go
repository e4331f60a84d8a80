package sqlstore

import (
	"time"

	"github.com/shopspring/decimal"

	"conciliation-service/internal/models"
)

// bankTransactionRow maps the bank_transactions table. ConciliationFlag is
// a projection of State and is only ever written from it.
type bankTransactionRow struct {
	ID               string          `gorm:"primaryKey"`
	TenantID         string          `gorm:"not null"`
	AccountID        string          `gorm:"not null"`
	ExternalID       string          `gorm:"not null"`
	Amount           decimal.Decimal `gorm:"not null"`
	PostedAt         time.Time       `gorm:"not null"`
	Payee            string
	Memo             string
	State            string `gorm:"not null"`
	ConciliationFlag string `gorm:"not null"`
	MatchedEntryID   string
	MatchConfidence  string
	MatchType        string
	Notes            string
	IgnoreReason     string
	CreatedAt        time.Time
}

func (bankTransactionRow) TableName() string { return "bank_transactions" }

type ledgerEntryRow struct {
	ID          string          `gorm:"primaryKey"`
	TenantID    string          `gorm:"not null"`
	AccountID   string
	Amount      decimal.Decimal `gorm:"not null"`
	EntryType   string
	EntryDate   time.Time `gorm:"not null"`
	Description string
	UsageStatus string `gorm:"not null"`
	ConsumedBy  string
	CreatedAt   time.Time
}

func (ledgerEntryRow) TableName() string { return "ledger_entries" }

type matchRow struct {
	ID                string `gorm:"primaryKey"`
	BankTransactionID string `gorm:"not null"`
	LedgerEntryID     string `gorm:"not null"`
	Status            string `gorm:"not null"`
	MatchType         string `gorm:"not null"`
	Confidence        string `gorm:"not null"`
	IsPrimary         bool
	TotalAmount       decimal.Decimal
	Notes             string
	CreatedAt         time.Time
}

func (matchRow) TableName() string { return "transaction_matches" }

func toBankTransactionRow(t *models.BankTransaction) *bankTransactionRow {
	return &bankTransactionRow{
		ID:               t.ID,
		TenantID:         t.TenantID,
		AccountID:        t.AccountID,
		ExternalID:       t.ExternalID,
		Amount:           t.Amount,
		PostedAt:         t.PostedAt.UTC(),
		Payee:            t.Payee,
		Memo:             t.Memo,
		State:            string(t.State),
		ConciliationFlag: string(t.ConciliationFlag()),
		MatchedEntryID:   t.MatchedEntryID,
		MatchConfidence:  string(t.MatchConfidence),
		MatchType:        string(t.MatchType),
		Notes:            t.Notes,
		IgnoreReason:     t.IgnoreReason,
		CreatedAt:        stamp(t.CreatedAt),
	}
}

func (r *bankTransactionRow) model() *models.BankTransaction {
	return &models.BankTransaction{
		ID:              r.ID,
		TenantID:        r.TenantID,
		AccountID:       r.AccountID,
		ExternalID:      r.ExternalID,
		Amount:          r.Amount,
		PostedAt:        r.PostedAt.UTC(),
		Payee:           r.Payee,
		Memo:            r.Memo,
		State:           models.State(r.State),
		MatchedEntryID:  r.MatchedEntryID,
		MatchConfidence: models.Confidence(r.MatchConfidence),
		MatchType:       models.MatchType(r.MatchType),
		Notes:           r.Notes,
		IgnoreReason:    r.IgnoreReason,
		CreatedAt:       r.CreatedAt.UTC(),
	}
}

// updates lists every mutable column, zero values included.
func (r *bankTransactionRow) updates() map[string]interface{} {
	return map[string]interface{}{
		"amount":            r.Amount,
		"posted_at":         r.PostedAt,
		"payee":             r.Payee,
		"memo":              r.Memo,
		"state":             r.State,
		"conciliation_flag": r.ConciliationFlag,
		"matched_entry_id":  r.MatchedEntryID,
		"match_confidence":  r.MatchConfidence,
		"match_type":        r.MatchType,
		"notes":             r.Notes,
		"ignore_reason":     r.IgnoreReason,
	}
}

func toLedgerEntryRow(e *models.LedgerEntry) *ledgerEntryRow {
	usage := e.Usage
	if usage == "" {
		usage = models.UsageAvailable
	}
	return &ledgerEntryRow{
		ID:          e.ID,
		TenantID:    e.TenantID,
		AccountID:   e.AccountID,
		Amount:      e.Amount,
		EntryType:   string(e.Type),
		EntryDate:   e.Date.UTC(),
		Description: e.Description,
		UsageStatus: string(usage),
		ConsumedBy:  e.ConsumedBy,
		CreatedAt:   stamp(e.CreatedAt),
	}
}

func (r *ledgerEntryRow) model() *models.LedgerEntry {
	return &models.LedgerEntry{
		ID:          r.ID,
		TenantID:    r.TenantID,
		AccountID:   r.AccountID,
		Amount:      r.Amount,
		Type:        models.EntryType(r.EntryType),
		Date:        r.EntryDate.UTC(),
		Description: r.Description,
		Usage:       models.UsageStatus(r.UsageStatus),
		ConsumedBy:  r.ConsumedBy,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

func toMatchRow(m *models.Match) *matchRow {
	return &matchRow{
		ID:                m.ID,
		BankTransactionID: m.BankTransactionID,
		LedgerEntryID:     m.LedgerEntryID,
		Status:            string(m.Status),
		MatchType:         string(m.MatchType),
		Confidence:        string(m.Confidence),
		IsPrimary:         m.IsPrimary,
		TotalAmount:       m.TotalAmount,
		Notes:             m.Notes,
		CreatedAt:         stamp(m.CreatedAt),
	}
}

func (r *matchRow) model() *models.Match {
	return &models.Match{
		ID:                r.ID,
		BankTransactionID: r.BankTransactionID,
		LedgerEntryID:     r.LedgerEntryID,
		Status:            models.MatchStatus(r.Status),
		MatchType:         models.MatchType(r.MatchType),
		Confidence:        models.Confidence(r.Confidence),
		IsPrimary:         r.IsPrimary,
		TotalAmount:       r.TotalAmount,
		Notes:             r.Notes,
		CreatedAt:         r.CreatedAt.UTC(),
	}
}

// stamp keeps a caller-provided timestamp and fills in now otherwise.
func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
