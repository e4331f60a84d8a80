// Package memory is an in-process Store used by tests and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"conciliation-service/internal/models"
	"conciliation-service/internal/store"
)

// Store keeps every record in maps guarded by one mutex. Records are cloned
// on the way in and out so callers never share memory with the store.
type Store struct {
	mu   sync.Mutex
	data *dataset
}

var _ store.Store = (*Store)(nil)

// New returns an empty store
func New() *Store {
	return &Store{data: newDataset()}
}

type dataset struct {
	txns    map[string]*models.BankTransaction
	entries map[string]*models.LedgerEntry
	matches map[string]*models.Match
}

func newDataset() *dataset {
	return &dataset{
		txns:    make(map[string]*models.BankTransaction),
		entries: make(map[string]*models.LedgerEntry),
		matches: make(map[string]*models.Match),
	}
}

func (d *dataset) clone() *dataset {
	c := newDataset()
	for k, v := range d.txns {
		c.txns[k] = v.Clone()
	}
	for k, v := range d.entries {
		c.entries[k] = v.Clone()
	}
	for k, v := range d.matches {
		c.matches[k] = v.Clone()
	}
	return c
}

func (s *Store) locked(ctx context.Context, fn func(d *dataset) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func (s *Store) GetBankTransaction(ctx context.Context, id string) (txn *models.BankTransaction, err error) {
	err = s.locked(ctx, func(d *dataset) error {
		txn, err = d.getBankTransaction(id)
		return err
	})
	return txn, err
}

func (s *Store) FindBankTransactionByExternalID(ctx context.Context, tenantID, accountID, externalID string) (txn *models.BankTransaction, err error) {
	err = s.locked(ctx, func(d *dataset) error {
		txn, err = d.findByExternalID(tenantID, accountID, externalID)
		return err
	})
	return txn, err
}

func (s *Store) ListBankTransactions(ctx context.Context, filter store.BankTransactionFilter) (txns []*models.BankTransaction, err error) {
	err = s.locked(ctx, func(d *dataset) error {
		txns = d.listBankTransactions(filter)
		return nil
	})
	return txns, err
}

func (s *Store) InsertBankTransaction(ctx context.Context, txn *models.BankTransaction) error {
	return s.locked(ctx, func(d *dataset) error { return d.insertBankTransaction(txn) })
}

func (s *Store) UpdateBankTransaction(ctx context.Context, txn *models.BankTransaction, expected models.State) error {
	return s.locked(ctx, func(d *dataset) error { return d.updateBankTransaction(txn, expected) })
}

func (s *Store) GetLedgerEntry(ctx context.Context, id string) (entry *models.LedgerEntry, err error) {
	err = s.locked(ctx, func(d *dataset) error {
		entry, err = d.getLedgerEntry(id)
		return err
	})
	return entry, err
}

func (s *Store) ListLedgerEntries(ctx context.Context, filter store.LedgerEntryFilter) (entries []*models.LedgerEntry, err error) {
	err = s.locked(ctx, func(d *dataset) error {
		entries = d.listLedgerEntries(filter)
		return nil
	})
	return entries, err
}

func (s *Store) InsertLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	return s.locked(ctx, func(d *dataset) error { return d.insertLedgerEntry(entry) })
}

func (s *Store) UpdateLedgerEntryUsage(ctx context.Context, id string, expected, next models.UsageStatus, consumedBy string) error {
	return s.locked(ctx, func(d *dataset) error { return d.updateUsage(id, expected, next, consumedBy) })
}

func (s *Store) InsertMatches(ctx context.Context, matches []*models.Match) error {
	return s.locked(ctx, func(d *dataset) error { return d.insertMatches(matches) })
}

func (s *Store) ListMatches(ctx context.Context, filter store.MatchFilter) (matches []*models.Match, err error) {
	err = s.locked(ctx, func(d *dataset) error {
		matches = d.listMatches(filter)
		return nil
	})
	return matches, err
}

func (s *Store) UpdateMatch(ctx context.Context, match *models.Match, expected models.MatchStatus) error {
	return s.locked(ctx, func(d *dataset) error { return d.updateMatch(match, expected) })
}

func (s *Store) DeleteMatches(ctx context.Context, bankTransactionID string, statuses []models.MatchStatus) (n int, err error) {
	err = s.locked(ctx, func(d *dataset) error {
		n = d.deleteMatches(bankTransactionID, statuses)
		return nil
	})
	return n, err
}

// Atomically runs fn while holding the store lock. A snapshot taken before
// fn runs is restored if fn fails.
func (s *Store) Atomically(ctx context.Context, fn func(tx store.Store) error) error {
	return s.locked(ctx, func(d *dataset) error {
		snapshot := d.clone()
		if err := fn(&txView{data: d}); err != nil {
			s.data = snapshot
			return err
		}
		return nil
	})
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

// txView is the Store handed to Atomically callbacks. The lock is already
// held, so it works on the dataset directly.
type txView struct {
	data *dataset
}

func (v *txView) GetBankTransaction(ctx context.Context, id string) (*models.BankTransaction, error) {
	return v.data.getBankTransaction(id)
}

func (v *txView) FindBankTransactionByExternalID(ctx context.Context, tenantID, accountID, externalID string) (*models.BankTransaction, error) {
	return v.data.findByExternalID(tenantID, accountID, externalID)
}

func (v *txView) ListBankTransactions(ctx context.Context, filter store.BankTransactionFilter) ([]*models.BankTransaction, error) {
	return v.data.listBankTransactions(filter), nil
}

func (v *txView) InsertBankTransaction(ctx context.Context, txn *models.BankTransaction) error {
	return v.data.insertBankTransaction(txn)
}

func (v *txView) UpdateBankTransaction(ctx context.Context, txn *models.BankTransaction, expected models.State) error {
	return v.data.updateBankTransaction(txn, expected)
}

func (v *txView) GetLedgerEntry(ctx context.Context, id string) (*models.LedgerEntry, error) {
	return v.data.getLedgerEntry(id)
}

func (v *txView) ListLedgerEntries(ctx context.Context, filter store.LedgerEntryFilter) ([]*models.LedgerEntry, error) {
	return v.data.listLedgerEntries(filter), nil
}

func (v *txView) InsertLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	return v.data.insertLedgerEntry(entry)
}

func (v *txView) UpdateLedgerEntryUsage(ctx context.Context, id string, expected, next models.UsageStatus, consumedBy string) error {
	return v.data.updateUsage(id, expected, next, consumedBy)
}

func (v *txView) InsertMatches(ctx context.Context, matches []*models.Match) error {
	return v.data.insertMatches(matches)
}

func (v *txView) ListMatches(ctx context.Context, filter store.MatchFilter) ([]*models.Match, error) {
	return v.data.listMatches(filter), nil
}

func (v *txView) UpdateMatch(ctx context.Context, match *models.Match, expected models.MatchStatus) error {
	return v.data.updateMatch(match, expected)
}

func (v *txView) DeleteMatches(ctx context.Context, bankTransactionID string, statuses []models.MatchStatus) (int, error) {
	return v.data.deleteMatches(bankTransactionID, statuses), nil
}

// Atomically nests by running fn on the same view; the outer call owns rollback.
func (v *txView) Atomically(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(v)
}

func (v *txView) Close() error {
	return nil
}

func (d *dataset) getBankTransaction(id string) (*models.BankTransaction, error) {
	txn, ok := d.txns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return txn.Clone(), nil
}

func (d *dataset) findByExternalID(tenantID, accountID, externalID string) (*models.BankTransaction, error) {
	var found *models.BankTransaction
	for _, txn := range d.txns {
		if txn.TenantID != tenantID || txn.AccountID != accountID || txn.ExternalID != externalID {
			continue
		}
		if found == nil || txn.CreatedAt.Before(found.CreatedAt) {
			found = txn
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found.Clone(), nil
}

func (d *dataset) listBankTransactions(filter store.BankTransactionFilter) []*models.BankTransaction {
	var result []*models.BankTransaction
	for _, txn := range d.txns {
		if filter.TenantID != "" && txn.TenantID != filter.TenantID {
			continue
		}
		if filter.AccountID != "" && txn.AccountID != filter.AccountID {
			continue
		}
		if !store.InDateRange(txn.PostedAt, filter.From, filter.To) {
			continue
		}
		if !store.StateIn(txn.State, filter.States) {
			continue
		}
		result = append(result, txn.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.PostedAt.Equal(b.PostedAt) {
			return a.PostedAt.Before(b.PostedAt)
		}
		return a.ID < b.ID
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result
}

func (d *dataset) insertBankTransaction(txn *models.BankTransaction) error {
	if _, exists := d.txns[txn.ID]; exists {
		return store.ErrConflict
	}
	if _, err := d.findByExternalID(txn.TenantID, txn.AccountID, txn.ExternalID); err == nil {
		return store.ErrConflict
	}
	d.txns[txn.ID] = txn.Clone()
	return nil
}

func (d *dataset) updateBankTransaction(txn *models.BankTransaction, expected models.State) error {
	current, ok := d.txns[txn.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.State != expected {
		return store.ErrConflict
	}
	d.txns[txn.ID] = txn.Clone()
	return nil
}

func (d *dataset) getLedgerEntry(id string) (*models.LedgerEntry, error) {
	entry, ok := d.entries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return entry.Clone(), nil
}

func (d *dataset) listLedgerEntries(filter store.LedgerEntryFilter) []*models.LedgerEntry {
	var ids map[string]bool
	if len(filter.IDs) > 0 {
		ids = make(map[string]bool, len(filter.IDs))
		for _, id := range filter.IDs {
			ids[id] = true
		}
	}

	var result []*models.LedgerEntry
	for _, e := range d.entries {
		if ids != nil && !ids[e.ID] {
			continue
		}
		if filter.TenantID != "" && e.TenantID != filter.TenantID {
			continue
		}
		if filter.AccountID != "" && e.AccountID != filter.AccountID {
			continue
		}
		if filter.Usage != "" && e.Usage != filter.Usage {
			continue
		}
		if !store.InDateRange(e.Date, filter.From, filter.To) {
			continue
		}
		result = append(result, e.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.ID < b.ID
	})
	return result
}

func (d *dataset) insertLedgerEntry(entry *models.LedgerEntry) error {
	if _, exists := d.entries[entry.ID]; exists {
		return store.ErrConflict
	}
	c := entry.Clone()
	if c.Usage == "" {
		c.Usage = models.UsageAvailable
	}
	d.entries[c.ID] = c
	return nil
}

func (d *dataset) updateUsage(id string, expected, next models.UsageStatus, consumedBy string) error {
	entry, ok := d.entries[id]
	if !ok {
		return store.ErrNotFound
	}
	if entry.Usage != expected {
		return store.ErrConflict
	}
	entry.Usage = next
	entry.ConsumedBy = consumedBy
	return nil
}

func (d *dataset) insertMatches(matches []*models.Match) error {
	for _, m := range matches {
		if _, exists := d.matches[m.ID]; exists {
			return store.ErrConflict
		}
	}
	for _, m := range matches {
		d.matches[m.ID] = m.Clone()
	}
	return nil
}

func (d *dataset) listMatches(filter store.MatchFilter) []*models.Match {
	var result []*models.Match
	for _, m := range d.matches {
		if filter.BankTransactionID != "" && m.BankTransactionID != filter.BankTransactionID {
			continue
		}
		if filter.LedgerEntryID != "" && m.LedgerEntryID != filter.LedgerEntryID {
			continue
		}
		if !store.MatchStatusIn(m.Status, filter.Statuses) {
			continue
		}
		result = append(result, m.Clone())
	}
	store.SortMatches(result)
	return result
}

func (d *dataset) updateMatch(match *models.Match, expected models.MatchStatus) error {
	current, ok := d.matches[match.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Status != expected {
		return store.ErrConflict
	}
	d.matches[match.ID] = match.Clone()
	return nil
}

func (d *dataset) deleteMatches(bankTransactionID string, statuses []models.MatchStatus) int {
	n := 0
	for id, m := range d.matches {
		if m.BankTransactionID != bankTransactionID || !store.MatchStatusIn(m.Status, statuses) {
			continue
		}
		delete(d.matches, id)
		n++
	}
	return n
}
