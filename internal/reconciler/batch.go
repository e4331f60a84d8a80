package reconciler

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"conciliation-service/internal/matcher"
	"conciliation-service/internal/models"
	"conciliation-service/internal/store"
	"conciliation-service/pkg/errors"
	"conciliation-service/pkg/logger"
)

// RunFilter scopes a batch suggestion run.
type RunFilter struct {
	TenantID  string    `json:"tenantId"`
	AccountID string    `json:"accountId"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
}

// RunItem is the outcome for one transaction of a run.
type RunItem struct {
	BankTransactionID string            `json:"bankTransactionId"`
	ExternalID        string            `json:"externalId"`
	Amount            decimal.Decimal   `json:"amount"`
	PostedAt          time.Time         `json:"postedAt"`
	Kind              matcher.Kind      `json:"kind,omitempty"`
	Confidence        models.Confidence `json:"confidence,omitempty"`
	EntryIDs          []string          `json:"entryIds,omitempty"`
	TotalAmount       decimal.Decimal   `json:"totalAmount"`
	Error             string            `json:"error,omitempty"`
	Conflict          bool              `json:"conflict,omitempty"`
}

// RunReport summarizes a batch suggestion run.
type RunReport struct {
	Filter     RunFilter            `json:"filter"`
	StartedAt  time.Time            `json:"startedAt"`
	FinishedAt time.Time            `json:"finishedAt"`
	Duration   time.Duration        `json:"duration"`
	Total      int                  `json:"total"`
	ByKind     map[matcher.Kind]int `json:"byKind"`
	Conflicts  int                  `json:"conflicts"`
	Failures   int                  `json:"failures"`
	Items      []RunItem            `json:"items"`
}

// Suggested returns how many transactions received candidate entries
func (r *RunReport) Suggested() int {
	return r.ByKind[matcher.KindExact] + r.ByKind[matcher.KindSuggested] + r.ByKind[matcher.KindAggregate]
}

// SuggestPending runs Suggest over every pending or no_match transaction in
// scope with bounded concurrency. Conflicts are counted and skipped; they
// mean another writer moved the transaction during the run.
func (s *Service) SuggestPending(ctx context.Context, filter RunFilter) (*RunReport, error) {
	txns, err := s.store.ListBankTransactions(ctx, store.BankTransactionFilter{
		TenantID:  filter.TenantID,
		AccountID: filter.AccountID,
		From:      filter.From,
		To:        filter.To,
		States:    []models.State{models.StatePending, models.StateNoMatch},
		Limit:     s.config.BatchLimit,
	})
	if err != nil {
		return nil, s.storeError(err, "list_bank_transactions", filter.TenantID)
	}

	report := &RunReport{
		Filter:    filter,
		StartedAt: s.now(),
		Total:     len(txns),
		ByKind:    make(map[matcher.Kind]int),
		Items:     make([]RunItem, len(txns)),
	}

	log := s.logger.WithFields(logger.Fields{
		"tenant_id":    filter.TenantID,
		"account_id":   filter.AccountID,
		"transactions": len(txns),
		"concurrency":  s.config.Concurrency,
	})
	log.Info("Starting suggestion run")

	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation:   "suggestion_run",
		Total:       int64(len(txns)),
		LogInterval: s.config.ProgressInterval,
		Logger:      s.logger,
	})

	p := pool.New().WithMaxGoroutines(s.config.Concurrency)
	for i, txn := range txns {
		i, txn := i, txn
		p.Go(func() {
			defer progress.Increment()
			report.Items[i] = s.runOne(ctx, txn)
		})
	}
	p.Wait()
	progress.Complete()

	for _, item := range report.Items {
		switch {
		case item.Conflict:
			report.Conflicts++
		case item.Error != "":
			report.Failures++
		default:
			report.ByKind[item.Kind]++
		}
	}
	sort.SliceStable(report.Items, func(i, j int) bool {
		a, b := report.Items[i], report.Items[j]
		if !a.PostedAt.Equal(b.PostedAt) {
			return a.PostedAt.Before(b.PostedAt)
		}
		return a.BankTransactionID < b.BankTransactionID
	})

	report.FinishedAt = s.now()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)

	log.WithFields(logger.Fields{
		"suggested": report.Suggested(),
		"transfers": report.ByKind[matcher.KindTransfer],
		"no_match":  report.ByKind[matcher.KindNoMatch],
		"conflicts": report.Conflicts,
		"failures":  report.Failures,
		"duration":  report.Duration,
	}).Info("Suggestion run completed")

	return report, ctx.Err()
}

func (s *Service) runOne(ctx context.Context, txn *models.BankTransaction) RunItem {
	item := RunItem{
		BankTransactionID: txn.ID,
		ExternalID:        txn.ExternalID,
		Amount:            txn.Amount,
		PostedAt:          txn.PostedAt,
		TotalAmount:       decimal.Zero,
	}
	if err := ctx.Err(); err != nil {
		item.Error = err.Error()
		return item
	}

	out, err := s.Suggest(ctx, txn.ID)
	if err != nil {
		item.Error = err.Error()
		item.Conflict = errors.IsConflict(err)
		return item
	}

	item.Kind = out.Result.Kind
	item.Confidence = out.Result.Confidence
	item.EntryIDs = out.Result.EntryIDs()
	item.TotalAmount = out.Result.TotalAmount
	return item
}
