// Package store declares the persistence contract of the reconciliation
// core. Implementations live in the memory and sqlstore subpackages.
//
// Writes that change reconciliation state are conditional: they name the
// value the caller read and fail with ErrConflict when another writer got
// there first. Callers never hold locks across requests.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"conciliation-service/internal/models"
)

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrConflict is returned when a conditional write finds a different
	// current value than the one expected, or a uniqueness rule is violated.
	ErrConflict = errors.New("store: conditional write conflict")
)

// BankTransactionFilter scopes bank transaction listings. Zero values mean
// "any".
type BankTransactionFilter struct {
	TenantID  string
	AccountID string
	From      time.Time
	To        time.Time
	States    []models.State
	Limit     int
}

// LedgerEntryFilter scopes ledger entry listings. Zero values mean "any".
type LedgerEntryFilter struct {
	TenantID  string
	AccountID string
	From      time.Time
	To        time.Time
	Usage     models.UsageStatus
	IDs       []string
}

// MatchFilter scopes match listings. Zero values mean "any".
type MatchFilter struct {
	BankTransactionID string
	LedgerEntryID     string
	Statuses          []models.MatchStatus
}

// Store is the persistent collaborator used by the reconciliation service.
type Store interface {
	GetBankTransaction(ctx context.Context, id string) (*models.BankTransaction, error)
	FindBankTransactionByExternalID(ctx context.Context, tenantID, accountID, externalID string) (*models.BankTransaction, error)
	ListBankTransactions(ctx context.Context, filter BankTransactionFilter) ([]*models.BankTransaction, error)
	InsertBankTransaction(ctx context.Context, txn *models.BankTransaction) error

	// UpdateBankTransaction replaces the stored transaction only if its
	// current state is expected.
	UpdateBankTransaction(ctx context.Context, txn *models.BankTransaction, expected models.State) error

	GetLedgerEntry(ctx context.Context, id string) (*models.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, filter LedgerEntryFilter) ([]*models.LedgerEntry, error)
	InsertLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error

	// UpdateLedgerEntryUsage moves an entry from expected to next usage,
	// recording the consuming bank transaction (empty to clear).
	UpdateLedgerEntryUsage(ctx context.Context, id string, expected, next models.UsageStatus, consumedBy string) error

	InsertMatches(ctx context.Context, matches []*models.Match) error
	ListMatches(ctx context.Context, filter MatchFilter) ([]*models.Match, error)

	// UpdateMatch replaces the stored row only if its current status is expected.
	UpdateMatch(ctx context.Context, match *models.Match, expected models.MatchStatus) error

	// DeleteMatches removes the rows of a bank transaction with any of the
	// given statuses (all rows when statuses is empty).
	DeleteMatches(ctx context.Context, bankTransactionID string, statuses []models.MatchStatus) (int, error)

	// Atomically runs fn against a transactional view of the store. When fn
	// returns an error every write made through the view is discarded.
	Atomically(ctx context.Context, fn func(tx Store) error) error

	Close() error
}

// StateIn reports whether state is in states; an empty list matches anything.
func StateIn(state models.State, states []models.State) bool {
	if len(states) == 0 {
		return true
	}
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}

// MatchStatusIn reports whether status is in statuses; an empty list matches anything.
func MatchStatusIn(status models.MatchStatus, statuses []models.MatchStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// InDateRange reports whether t falls in [from, to], comparing calendar
// dates; zero bounds are open.
func InDateRange(t, from, to time.Time) bool {
	d := models.DateOnly(t)
	if !from.IsZero() && d.Before(models.DateOnly(from)) {
		return false
	}
	if !to.IsZero() && d.After(models.DateOnly(to)) {
		return false
	}
	return true
}

// SortMatches orders rows by creation time, primary row first, then entry ID.
func SortMatches(matches []*models.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.IsPrimary != b.IsPrimary {
			return a.IsPrimary
		}
		return a.LedgerEntryID < b.LedgerEntryID
	})
}
