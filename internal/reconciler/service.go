// Package reconciler applies classifications and user decisions to bank
// transactions. The Service is the only writer of reconciliation state:
// every change goes through Transition and a conditional store write, so a
// concurrent writer surfaces as a conflict instead of a double match.
package reconciler

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"conciliation-service/internal/matcher"
	"conciliation-service/internal/models"
	"conciliation-service/internal/store"
	"conciliation-service/pkg/errors"
	"conciliation-service/pkg/logger"
)

// Service executes reconciliation operations against a Store.
type Service struct {
	store   store.Store
	matcher *matcher.Matcher
	config  *Config
	logger  logger.Logger

	now   func() time.Time
	newID func() string
}

// NewService creates a service. A nil matcher or config falls back to the
// defaults; a nil logger uses the global one.
func NewService(st store.Store, m *matcher.Matcher, config *Config, log logger.Logger) (*Service, error) {
	if st == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "store", nil, nil).
			WithSuggestion("Provide a store implementation")
	}
	if m == nil {
		m = matcher.NewMatcher(nil, nil)
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", config, err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	return &Service{
		store:   st,
		matcher: m,
		config:  config.Clone(),
		logger:  log.WithComponent("reconciler"),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}, nil
}

// Matcher returns the matcher used for classification
func (s *Service) Matcher() *matcher.Matcher {
	return s.matcher
}

// Classify is the pure classification of txn against pool.
func (s *Service) Classify(txn *models.BankTransaction, pool []*models.LedgerEntry) *matcher.MatchResult {
	return s.matcher.Classify(txn, pool)
}

// Get returns a bank transaction by id
func (s *Service) Get(ctx context.Context, id string) (*models.BankTransaction, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.InvalidRequestError(errors.CodeMissingField, "bankTransactionId", id)
	}
	txn, err := s.store.GetBankTransaction(ctx, id)
	if err != nil {
		return nil, s.storeError(err, "get_bank_transaction", id)
	}
	return txn, nil
}

// ListMatches returns the match rows of a bank transaction, primary first
func (s *Service) ListMatches(ctx context.Context, bankTransactionID string) ([]*models.Match, error) {
	if _, err := s.Get(ctx, bankTransactionID); err != nil {
		return nil, err
	}
	matches, err := s.store.ListMatches(ctx, store.MatchFilter{BankTransactionID: bankTransactionID})
	if err != nil {
		return nil, s.storeError(err, "list_matches", bankTransactionID)
	}
	return matches, nil
}

// Preview classifies a stored transaction against its current candidate
// pool without writing anything.
func (s *Service) Preview(ctx context.Context, bankTransactionID string) (*models.BankTransaction, *matcher.MatchResult, error) {
	txn, err := s.Get(ctx, bankTransactionID)
	if err != nil {
		return nil, nil, err
	}
	pool, err := s.candidatePool(ctx, s.store, txn)
	if err != nil {
		return nil, nil, err
	}
	return txn, s.matcher.Classify(txn, pool), nil
}

// candidatePool loads the available entries of the transaction's tenant
// that any matching stage could look at.
func (s *Service) candidatePool(ctx context.Context, st store.Store, txn *models.BankTransaction) ([]*models.LedgerEntry, error) {
	window := s.matcher.GetConfiguration().WidestDateWindow()
	pool, err := st.ListLedgerEntries(ctx, store.LedgerEntryFilter{
		TenantID: txn.TenantID,
		Usage:    models.UsageAvailable,
		From:     txn.PostedAt.AddDate(0, 0, -window-1),
		To:       txn.PostedAt.AddDate(0, 0, window+1),
	})
	if err != nil {
		return nil, s.storeError(err, "load_candidate_pool", txn.ID)
	}
	return pool, nil
}

// SuggestionResult is the outcome of Suggest.
type SuggestionResult struct {
	Transaction *models.BankTransaction `json:"transaction"`
	Result      *matcher.MatchResult    `json:"result"`
	Matches     []*models.Match         `json:"matches"`
}

// Suggest classifies a transaction and records the outcome: open suggested
// rows are replaced by the new ones and the state moves to suggested,
// transfer or no_match. Running it again over the same data yields the same
// state and rows.
func (s *Service) Suggest(ctx context.Context, bankTransactionID string) (*SuggestionResult, error) {
	txn, err := s.Get(ctx, bankTransactionID)
	if err != nil {
		return nil, err
	}
	// fail fast before loading the pool; the result only picks the target
	if _, err := Transition(txn.ID, txn.State, EventSuggest); err != nil {
		s.logFailure(EventSuggest, txn.ID, err)
		return nil, err
	}

	var out *SuggestionResult
	err = s.store.Atomically(ctx, func(tx store.Store) error {
		current, err := tx.GetBankTransaction(ctx, txn.ID)
		if err != nil {
			return s.storeError(err, "get_bank_transaction", txn.ID)
		}

		pool, err := s.candidatePool(ctx, tx, current)
		if err != nil {
			return err
		}
		result := s.matcher.Classify(current, pool)
		event := EventFor(result.Kind)

		next, err := Transition(current.ID, current.State, event)
		if err != nil {
			return err
		}

		if _, err := tx.DeleteMatches(ctx, current.ID, []models.MatchStatus{models.MatchStatusSuggested}); err != nil {
			return s.storeError(err, "delete_suggestions", current.ID)
		}

		rows := s.suggestionRows(current, result)
		if err := tx.InsertMatches(ctx, rows); err != nil {
			return s.storeError(err, "insert_suggestions", current.ID)
		}

		updated := current.Clone()
		updated.State = next
		updated.ClearMatch()
		if err := tx.UpdateBankTransaction(ctx, updated, current.State); err != nil {
			return s.storeError(err, "update_bank_transaction", current.ID)
		}

		s.logTransition(current, next, event).WithFields(logger.Fields{
			"kind":       result.Kind,
			"confidence": result.Confidence,
			"entries":    len(result.Entries),
		}).Info("Suggestion recorded")

		out = &SuggestionResult{Transaction: updated, Result: result, Matches: rows}
		return nil
	})
	if err != nil {
		s.logFailure(EventSuggest, bankTransactionID, err)
		return nil, err
	}
	return out, nil
}

// suggestionRows builds one suggested row per proposed entry. Every row
// carries the group total, never the entry's own amount.
func (s *Service) suggestionRows(txn *models.BankTransaction, result *matcher.MatchResult) []*models.Match {
	if !result.HasCandidates() {
		return nil
	}
	primary := result.Primary()
	notes := models.AggregateNotes(primary.ID, len(result.Entries), result.TotalAmount, strings.Join(result.Reasons, ", "))
	created := s.now()

	rows := make([]*models.Match, len(result.Entries))
	for i, e := range result.Entries {
		rows[i] = &models.Match{
			ID:                s.newID(),
			BankTransactionID: txn.ID,
			LedgerEntryID:     e.ID,
			Status:            models.MatchStatusSuggested,
			MatchType:         result.MatchType(),
			Confidence:        result.Confidence,
			IsPrimary:         i == 0,
			TotalAmount:       result.TotalAmount,
			Notes:             notes,
			CreatedAt:         created,
		}
	}
	return rows
}

// ConfirmRequest is a manual or automated approval of a set of entries.
type ConfirmRequest struct {
	BankTransactionID string            `json:"bankTransactionId"`
	EntryIDs          []string          `json:"entryIds"`
	Confidence        models.Confidence `json:"confidence"`
	MatchType         models.MatchType  `json:"matchType"`
	Notes             string            `json:"notes"`
}

// Validate checks the request shape and fills in default enumerations.
func (r *ConfirmRequest) Validate() error {
	if strings.TrimSpace(r.BankTransactionID) == "" {
		return errors.InvalidRequestError(errors.CodeMissingField, "bankTransactionId", r.BankTransactionID)
	}
	if len(r.EntryIDs) == 0 {
		return errors.InvalidRequestError(errors.CodeMissingField, "entryIds", r.EntryIDs)
	}
	seen := make(map[string]bool, len(r.EntryIDs))
	for _, id := range r.EntryIDs {
		if strings.TrimSpace(id) == "" {
			return errors.InvalidRequestError(errors.CodeMissingField, "entryIds", r.EntryIDs)
		}
		if seen[id] {
			return errors.InvalidRequestError(errors.CodeInvalidValue, "entryIds", id).
				WithSuggestion("list each ledger entry once")
		}
		seen[id] = true
	}

	confidence, err := models.ParseConfidence(string(r.Confidence))
	if err != nil {
		return errors.InvalidRequestError(errors.CodeInvalidValue, "confidence", r.Confidence)
	}
	matchType, err := models.ParseMatchType(string(r.MatchType))
	if err != nil {
		return errors.InvalidRequestError(errors.CodeInvalidValue, "matchType", r.MatchType)
	}
	r.Confidence = confidence
	r.MatchType = matchType
	return nil
}

// Confirmation is the outcome of Confirm.
type Confirmation struct {
	Transaction *models.BankTransaction `json:"transaction"`
	Matches     []*models.Match         `json:"matches"`
	TotalAmount decimal.Decimal         `json:"totalAmount"`
}

// Confirm settles a bank transaction against the given entries. It fails
// with a conflict when the transaction is already reconciled or an entry
// is consumed, and leaves nothing changed on any failure.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (*Confirmation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var out *Confirmation
	err := s.store.Atomically(ctx, func(tx store.Store) error {
		txn, err := tx.GetBankTransaction(ctx, req.BankTransactionID)
		if err != nil {
			return s.storeError(err, "get_bank_transaction", req.BankTransactionID)
		}

		next, err := Transition(txn.ID, txn.State, EventConfirm)
		if err != nil {
			return err
		}

		entries, err := s.loadEntries(ctx, tx, txn, req.EntryIDs)
		if err != nil {
			return err
		}
		total, err := s.checkEntries(txn, entries, req.MatchType)
		if err != nil {
			return err
		}

		primaryID := req.EntryIDs[0]
		notes := models.AggregateNotes(primaryID, len(entries), total, req.Notes)

		updated := txn.Clone()
		updated.State = next
		updated.MatchedEntryID = primaryID
		updated.MatchConfidence = req.Confidence
		updated.MatchType = req.MatchType
		updated.Notes = notes
		updated.IgnoreReason = ""
		if err := tx.UpdateBankTransaction(ctx, updated, txn.State); err != nil {
			return s.storeError(err, "update_bank_transaction", txn.ID)
		}

		for _, e := range entries {
			err := tx.UpdateLedgerEntryUsage(ctx, e.ID, models.UsageAvailable, models.UsageConsumed, txn.ID)
			if stderrors.Is(err, store.ErrConflict) {
				return errors.ConflictError(errors.CodeEntryConsumed, txn.ID, e.ID)
			}
			if err != nil {
				return s.storeError(err, "consume_ledger_entry", e.ID)
			}
		}

		rows, err := s.settleRows(ctx, tx, txn, req, primaryID, total, notes)
		if err != nil {
			return err
		}

		s.logTransition(txn, next, EventConfirm).WithFields(logger.Fields{
			"entries":    len(entries),
			"total":      total.StringFixed(2),
			"match_type": req.MatchType,
			"confidence": req.Confidence,
		}).Info("Bank transaction reconciled")

		out = &Confirmation{Transaction: updated, Matches: rows, TotalAmount: total}
		return nil
	})
	if err != nil {
		s.logFailure(EventConfirm, req.BankTransactionID, err)
		return nil, err
	}
	return out, nil
}

// loadEntries resolves ids in request order. Entries of another tenant are
// reported as not found.
func (s *Service) loadEntries(ctx context.Context, st store.Store, txn *models.BankTransaction, ids []string) ([]*models.LedgerEntry, error) {
	found, err := st.ListLedgerEntries(ctx, store.LedgerEntryFilter{IDs: ids})
	if err != nil {
		return nil, s.storeError(err, "load_ledger_entries", txn.ID)
	}
	byID := make(map[string]*models.LedgerEntry, len(found))
	for _, e := range found {
		byID[e.ID] = e
	}

	entries := make([]*models.LedgerEntry, len(ids))
	for i, id := range ids {
		e, ok := byID[id]
		if !ok || (txn.TenantID != "" && e.TenantID != txn.TenantID) {
			return nil, errors.NotFoundError(errors.CodeLedgerEntryNotFound, id, nil)
		}
		entries[i] = e
	}
	return entries, nil
}

// checkEntries applies the polarity, consumption and sum rules and returns
// the signed total of the entries. Ordinary matches share the bank polarity.
// A transfer may take the opposite polarity, but all of its entries must
// share one, so the signed total is the bank amount or its negation.
func (s *Service) checkEntries(txn *models.BankTransaction, entries []*models.LedgerEntry, matchType models.MatchType) (decimal.Decimal, error) {
	transfer := matchType == models.MatchTypeTransfer

	polarity := txn.Amount.Sign()
	if transfer && len(entries) > 0 {
		polarity = entries[0].SignedAmount().Sign()
	}
	for _, e := range entries {
		if e.SignedAmount().Sign() != polarity {
			return decimal.Zero, errors.InvalidRequestError(errors.CodePolarityMismatch, "entryIds", e.ID)
		}
		if !e.IsAvailable() {
			return decimal.Zero, errors.ConflictError(errors.CodeEntryConsumed, txn.ID, e.ID).
				WithContext("consumed_by", e.ConsumedBy)
		}
	}

	total := models.SumSigned(entries)
	config := s.matcher.GetConfiguration()
	within := func(want decimal.Decimal) bool {
		if config.ConfirmTolerancePercent <= 0 {
			return config.AmountsEqual(total, want)
		}
		tolerance := config.Epsilon().Add(
			want.Abs().Mul(decimal.NewFromFloat(config.ConfirmTolerancePercent / 100.0)))
		return total.Sub(want).Abs().LessThanOrEqual(tolerance)
	}

	ok := within(txn.Amount)
	if transfer && !ok {
		ok = within(txn.Amount.Neg())
	}
	if !ok {
		return decimal.Zero, errors.InvalidRequestError(errors.CodeAmountMismatch, "entryIds", total.StringFixed(2)).
			WithContext("bank_amount", txn.Amount.StringFixed(2))
	}
	return total, nil
}

// settleRows promotes the suggested rows of the confirmed entries, rejects
// the other suggestions and inserts confirmed rows for entries that had
// none. The returned rows are the confirmed group, primary first.
func (s *Service) settleRows(ctx context.Context, tx store.Store, txn *models.BankTransaction, req ConfirmRequest, primaryID string, total decimal.Decimal, notes string) ([]*models.Match, error) {
	existing, err := tx.ListMatches(ctx, store.MatchFilter{
		BankTransactionID: txn.ID,
		Statuses:          []models.MatchStatus{models.MatchStatusSuggested},
	})
	if err != nil {
		return nil, s.storeError(err, "list_matches", txn.ID)
	}

	wanted := make(map[string]bool, len(req.EntryIDs))
	for _, id := range req.EntryIDs {
		wanted[id] = true
	}

	byEntry := make(map[string]*models.Match)
	for _, row := range existing {
		updated := row.Clone()
		if wanted[row.LedgerEntryID] && byEntry[row.LedgerEntryID] == nil {
			updated.Status = models.MatchStatusConfirmed
			updated.MatchType = req.MatchType
			updated.Confidence = req.Confidence
			updated.IsPrimary = row.LedgerEntryID == primaryID
			updated.TotalAmount = total
			updated.Notes = notes
			byEntry[row.LedgerEntryID] = updated
		} else {
			updated.Status = models.MatchStatusRejected
		}
		if err := tx.UpdateMatch(ctx, updated, models.MatchStatusSuggested); err != nil {
			return nil, s.storeError(err, "update_match", txn.ID)
		}
	}

	var inserts []*models.Match
	created := s.now()
	for _, id := range req.EntryIDs {
		if byEntry[id] != nil {
			continue
		}
		row := &models.Match{
			ID:                s.newID(),
			BankTransactionID: txn.ID,
			LedgerEntryID:     id,
			Status:            models.MatchStatusConfirmed,
			MatchType:         req.MatchType,
			Confidence:        req.Confidence,
			IsPrimary:         id == primaryID,
			TotalAmount:       total,
			Notes:             notes,
			CreatedAt:         created,
		}
		inserts = append(inserts, row)
		byEntry[id] = row
	}
	if err := tx.InsertMatches(ctx, inserts); err != nil {
		return nil, s.storeError(err, "insert_matches", txn.ID)
	}

	rows := make([]*models.Match, len(req.EntryIDs))
	for i, id := range req.EntryIDs {
		rows[i] = byEntry[id]
	}
	return rows, nil
}

// Reject marks the suggested or confirmed rows rejected and returns the
// transaction to pending, releasing the entries it consumed.
func (s *Service) Reject(ctx context.Context, bankTransactionID string) (*models.BankTransaction, error) {
	return s.release(ctx, bankTransactionID, EventReject)
}

// Unlink deletes the suggested or confirmed rows and returns the
// transaction to pending, releasing the entries it consumed.
func (s *Service) Unlink(ctx context.Context, bankTransactionID string) (*models.BankTransaction, error) {
	return s.release(ctx, bankTransactionID, EventUnlink)
}

func (s *Service) release(ctx context.Context, bankTransactionID string, event Event) (*models.BankTransaction, error) {
	if strings.TrimSpace(bankTransactionID) == "" {
		return nil, errors.InvalidRequestError(errors.CodeMissingField, "bankTransactionId", bankTransactionID)
	}

	var out *models.BankTransaction
	err := s.store.Atomically(ctx, func(tx store.Store) error {
		txn, err := tx.GetBankTransaction(ctx, bankTransactionID)
		if err != nil {
			return s.storeError(err, "get_bank_transaction", bankTransactionID)
		}
		next, err := Transition(txn.ID, txn.State, event)
		if err != nil {
			return err
		}

		open := []models.MatchStatus{models.MatchStatusSuggested, models.MatchStatusConfirmed}
		rows, err := tx.ListMatches(ctx, store.MatchFilter{BankTransactionID: txn.ID, Statuses: open})
		if err != nil {
			return s.storeError(err, "list_matches", txn.ID)
		}

		if err := s.releaseEntries(ctx, tx, txn, rows); err != nil {
			return err
		}

		if event == EventUnlink {
			if _, err := tx.DeleteMatches(ctx, txn.ID, open); err != nil {
				return s.storeError(err, "delete_matches", txn.ID)
			}
		} else {
			for _, row := range rows {
				updated := row.Clone()
				updated.Status = models.MatchStatusRejected
				if err := tx.UpdateMatch(ctx, updated, row.Status); err != nil {
					return s.storeError(err, "update_match", txn.ID)
				}
			}
		}

		updated := txn.Clone()
		updated.State = next
		updated.ClearMatch()
		if err := tx.UpdateBankTransaction(ctx, updated, txn.State); err != nil {
			return s.storeError(err, "update_bank_transaction", txn.ID)
		}

		s.logTransition(txn, next, event).WithField("rows", len(rows)).Info("Match released")
		out = updated
		return nil
	})
	if err != nil {
		s.logFailure(event, bankTransactionID, err)
		return nil, err
	}
	return out, nil
}

// releaseEntries makes the entries consumed by txn available again. Only
// confirmed rows ever consume an entry.
func (s *Service) releaseEntries(ctx context.Context, tx store.Store, txn *models.BankTransaction, rows []*models.Match) error {
	for _, row := range rows {
		if row.Status != models.MatchStatusConfirmed {
			continue
		}
		entry, err := tx.GetLedgerEntry(ctx, row.LedgerEntryID)
		if stderrors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return s.storeError(err, "get_ledger_entry", row.LedgerEntryID)
		}
		if entry.Usage != models.UsageConsumed || entry.ConsumedBy != txn.ID {
			continue
		}
		if err := tx.UpdateLedgerEntryUsage(ctx, entry.ID, models.UsageConsumed, models.UsageAvailable, ""); err != nil {
			return s.storeError(err, "release_ledger_entry", entry.ID)
		}
	}
	return nil
}

// Ignore sets a transaction aside. Open suggestions are rejected so their
// entries stop showing up as proposals for it.
func (s *Service) Ignore(ctx context.Context, bankTransactionID, reason string) (*models.BankTransaction, error) {
	if strings.TrimSpace(bankTransactionID) == "" {
		return nil, errors.InvalidRequestError(errors.CodeMissingField, "bankTransactionId", bankTransactionID)
	}

	var out *models.BankTransaction
	err := s.store.Atomically(ctx, func(tx store.Store) error {
		txn, err := tx.GetBankTransaction(ctx, bankTransactionID)
		if err != nil {
			return s.storeError(err, "get_bank_transaction", bankTransactionID)
		}
		next, err := Transition(txn.ID, txn.State, EventIgnore)
		if err != nil {
			return err
		}

		rows, err := tx.ListMatches(ctx, store.MatchFilter{
			BankTransactionID: txn.ID,
			Statuses:          []models.MatchStatus{models.MatchStatusSuggested},
		})
		if err != nil {
			return s.storeError(err, "list_matches", txn.ID)
		}
		for _, row := range rows {
			updated := row.Clone()
			updated.Status = models.MatchStatusRejected
			if err := tx.UpdateMatch(ctx, updated, models.MatchStatusSuggested); err != nil {
				return s.storeError(err, "update_match", txn.ID)
			}
		}

		updated := txn.Clone()
		updated.State = next
		updated.ClearMatch()
		updated.IgnoreReason = strings.TrimSpace(reason)
		if err := tx.UpdateBankTransaction(ctx, updated, txn.State); err != nil {
			return s.storeError(err, "update_bank_transaction", txn.ID)
		}

		s.logTransition(txn, next, EventIgnore).WithField("reason", updated.IgnoreReason).Info("Bank transaction ignored")
		out = updated
		return nil
	})
	if err != nil {
		s.logFailure(EventIgnore, bankTransactionID, err)
		return nil, err
	}
	return out, nil
}

// Import registers a statement line as pending. Importing the same external
// id again is a no-op while the first copy is still pending, and a
// duplicate-import error once it has moved on. The boolean reports whether a
// new transaction was created.
func (s *Service) Import(ctx context.Context, txn *models.BankTransaction) (*models.BankTransaction, bool, error) {
	if txn == nil {
		return nil, false, errors.InvalidRequestError(errors.CodeMissingField, "bankTransaction", nil)
	}
	if strings.TrimSpace(txn.TenantID) == "" {
		return nil, false, errors.InvalidRequestError(errors.CodeMissingField, "tenantId", txn.TenantID)
	}
	if err := txn.Validate(); err != nil {
		return nil, false, errors.InvalidRequestError(errors.CodeInvalidValue, "bankTransaction", err.Error())
	}

	if existing, err := s.existingImport(ctx, txn); existing != nil || err != nil {
		return existing, false, err
	}

	fresh := txn.Clone()
	if fresh.ID == "" {
		fresh.ID = s.newID()
	}
	fresh.State = models.StatePending
	fresh.ClearMatch()
	fresh.IgnoreReason = ""
	if fresh.CreatedAt.IsZero() {
		fresh.CreatedAt = s.now()
	}

	err := s.store.InsertBankTransaction(ctx, fresh)
	if stderrors.Is(err, store.ErrConflict) {
		// lost a race with another import of the same line
		if existing, err := s.existingImport(ctx, txn); existing != nil || err != nil {
			return existing, false, err
		}
		return nil, false, errors.ConflictError(errors.CodeConcurrentUpdate, fresh.ID, "import")
	}
	if err != nil {
		return nil, false, s.storeError(err, "insert_bank_transaction", fresh.ID)
	}

	s.logger.WithFields(logger.Fields{
		"bank_transaction_id": fresh.ID,
		"external_id":         fresh.ExternalID,
		"amount":              fresh.Amount.StringFixed(2),
	}).Info("Statement line imported")
	return fresh, true, nil
}

func (s *Service) existingImport(ctx context.Context, txn *models.BankTransaction) (*models.BankTransaction, error) {
	existing, err := s.store.FindBankTransactionByExternalID(ctx, txn.TenantID, txn.AccountID, txn.ExternalID)
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.storeError(err, "find_bank_transaction", txn.ExternalID)
	}
	if existing.State != models.StatePending {
		s.logger.WithFields(logger.Fields{
			"external_id": txn.ExternalID,
			"existing_id": existing.ID,
			"state":       existing.State,
		}).Warn("Duplicate statement line")
		return nil, errors.DuplicateImportError(txn.ExternalID, existing.ID)
	}
	return existing, nil
}

// AddLedgerEntry records a ledger entry as available for matching.
func (s *Service) AddLedgerEntry(ctx context.Context, entry *models.LedgerEntry) (*models.LedgerEntry, error) {
	if entry == nil {
		return nil, errors.InvalidRequestError(errors.CodeMissingField, "ledgerEntry", nil)
	}
	fresh := entry.Clone()
	if strings.TrimSpace(fresh.ID) == "" {
		fresh.ID = s.newID()
	}
	if err := fresh.Validate(); err != nil {
		return nil, errors.InvalidRequestError(errors.CodeInvalidValue, "ledgerEntry", err.Error())
	}
	fresh.Usage = models.UsageAvailable
	fresh.ConsumedBy = ""
	if fresh.CreatedAt.IsZero() {
		fresh.CreatedAt = s.now()
	}

	err := s.store.InsertLedgerEntry(ctx, fresh)
	if stderrors.Is(err, store.ErrConflict) {
		return nil, errors.InvalidRequestError(errors.CodeInvalidValue, "id", fresh.ID).
			WithSuggestion("ledger entry ids must be unique")
	}
	if err != nil {
		return nil, s.storeError(err, "insert_ledger_entry", fresh.ID)
	}
	return fresh, nil
}

// ImportLedgerEntry adds entry unless an entry with the same id is already
// stored for the tenant, in which case the stored entry is returned. The
// boolean reports whether a new entry was created.
func (s *Service) ImportLedgerEntry(ctx context.Context, entry *models.LedgerEntry) (*models.LedgerEntry, bool, error) {
	if entry != nil && strings.TrimSpace(entry.ID) != "" {
		existing, err := s.store.GetLedgerEntry(ctx, entry.ID)
		switch {
		case err == nil:
			if existing.TenantID != entry.TenantID {
				return nil, false, errors.InvalidRequestError(errors.CodeInvalidValue, "id", entry.ID).
					WithSuggestion("ledger entry ids must be unique")
			}
			return existing, false, nil
		case !stderrors.Is(err, store.ErrNotFound):
			return nil, false, s.storeError(err, "get_ledger_entry", entry.ID)
		}
	}

	created, err := s.AddLedgerEntry(ctx, entry)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

func (s *Service) logTransition(txn *models.BankTransaction, to models.State, event Event) logger.Logger {
	return s.logger.WithFields(logger.Fields{
		"bank_transaction_id": txn.ID,
		"from":                txn.State,
		"to":                  to,
		"event":               event,
	})
}

// logFailure logs guard violations at Warn. Store failures were already
// logged at Error by storeError.
func (s *Service) logFailure(event Event, id string, err error) {
	if errors.IsConflict(err) || errors.IsNotFound(err) || errors.IsInvalidRequest(err) {
		s.logger.WithError(err).WithFields(logger.Fields{
			"bank_transaction_id": id,
			"event":               event,
		}).Warn("Reconciliation action refused")
	}
}

// storeError translates store sentinels into the error taxonomy. Errors that
// already carry a category pass through unchanged.
func (s *Service) storeError(err error, operation, id string) error {
	if _, ok := errors.AsReconcilerError(err); ok {
		return err
	}
	switch {
	case stderrors.Is(err, store.ErrNotFound):
		code := errors.CodeBankTransactionNotFound
		if strings.Contains(operation, "ledger_entry") {
			code = errors.CodeLedgerEntryNotFound
		}
		return errors.NotFoundError(code, id, err)
	case stderrors.Is(err, store.ErrConflict):
		return errors.ConflictError(errors.CodeConcurrentUpdate, id, operation)
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return errors.InternalError(errors.CodeUnexpectedError, operation, err)
	default:
		s.logger.WithError(err).WithFields(logger.Fields{
			"operation": operation,
			"id":        id,
		}).Error("Store operation failed")
		return errors.StorageError(errors.CodeQueryFailed, operation, err)
	}
}
