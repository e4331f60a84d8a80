package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"conciliation-service/internal/models"
	"conciliation-service/pkg/errors"
	"conciliation-service/pkg/logger"
)

// Flags for the import command
var (
	importTenant  string
	importAccount string
)

// importFile is the document accepted by the import command
type importFile struct {
	BankTransactions []importBankLine   `json:"bankTransactions"`
	LedgerEntries    []importLedgerLine `json:"ledgerEntries"`
}

type importBankLine struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenantId"`
	AccountID  string          `json:"accountId"`
	ExternalID string          `json:"externalId"`
	Amount     decimal.Decimal `json:"amount"`
	PostedAt   string          `json:"postedAt"`
	Payee      string          `json:"payee"`
	Memo       string          `json:"memo"`
}

type importLedgerLine struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenantId"`
	AccountID   string          `json:"accountId"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
}

// ImportStats counts the outcome of an import
type ImportStats struct {
	Created       int `json:"created"`
	AlreadyThere  int `json:"alreadyThere"`
	LedgerEntries int `json:"ledgerEntries"`
	LedgerKnown   int `json:"ledgerKnown"`
	Failed        int `json:"failed"`
}

// ledgerLineNamespace seeds the ids derived for ledger lines without one
var ledgerLineNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:conciliator:ledger-entry"))

var importCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Import bank statement lines and ledger entries",
	Long: `Import registers the bank transactions and ledger entries of a JSON
document. Statement lines already imported and still pending are skipped;
lines whose earlier import has moved on are reported as duplicates. Ledger
entries already present are skipped. A ledger line without an id gets one
derived from its content, so importing the same file twice adds nothing.

The document has two arrays:
  {
    "bankTransactions": [{"externalId": "452993", "amount": "-25.00", "postedAt": "2025-08-18", "memo": "boleto"}],
    "ledgerEntries":    [{"id": "e-41", "amount": "-25.00", "date": "2025-08-18", "description": "boleto luz"}]
  }

Examples:
  conciliator import statements.json --tenant acme --account itau-01`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importTenant, "tenant", "", "tenant for lines that do not name one")
	importCmd.Flags().StringVar(&importAccount, "account", "", "bank account for lines that do not name one")
}

func readImportFile(path string) (*importFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.InvalidRequestError(errors.CodeInvalidValue, "file", path).
			WithSuggestion("check that the file exists and is readable")
	}
	var doc importFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.InvalidRequestError(errors.CodeInvalidValue, "file", err.Error()).
			WithSuggestion("the file must be a JSON object with bankTransactions and ledgerEntries arrays")
	}
	return &doc, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	doc, err := readImportFile(args[0])
	if err != nil {
		return err
	}

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := cmd.Context()
	log := rt.logger.WithComponent("import").WithField("file", args[0])
	var stats ImportStats
	var failures []*errors.ReconcilerError
	fail := func(err error) {
		stats.Failed++
		failures = append(failures, errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError, "import failed"))
	}

	seen := make(map[string]int)
	for _, line := range doc.LedgerEntries {
		entry, err := line.model()
		if err != nil {
			fail(err)
			continue
		}
		if strings.TrimSpace(entry.ID) == "" {
			entry.ID = derivedLedgerID(entry, seen)
		}
		_, created, err := rt.service.ImportLedgerEntry(ctx, entry)
		if err != nil {
			fail(err)
			continue
		}
		if created {
			stats.LedgerEntries++
		} else {
			stats.LedgerKnown++
		}
	}

	for _, line := range doc.BankTransactions {
		txn, err := line.model()
		if err != nil {
			fail(err)
			continue
		}
		_, created, err := rt.service.Import(ctx, txn)
		if err != nil {
			fail(err)
			continue
		}
		if created {
			stats.Created++
		} else {
			stats.AlreadyThere++
		}
	}

	log.WithFields(logger.Fields{
		"created":        stats.Created,
		"already_there":  stats.AlreadyThere,
		"ledger_entries": stats.LedgerEntries,
		"ledger_known":   stats.LedgerKnown,
		"failed":         stats.Failed,
	}).Info("Import completed")

	fmt.Fprintf(cmd.OutOrStdout(), "bank transactions: %d created, %d already imported\nledger entries: %d added, %d already present\nfailed: %d\n",
		stats.Created, stats.AlreadyThere, stats.LedgerEntries, stats.LedgerKnown, stats.Failed)

	if len(failures) > 0 {
		listed := make([]error, len(failures))
		for i, e := range failures {
			listed[i] = e
		}
		fmt.Fprintln(cmd.ErrOrStderr(), FormatErrors(listed))
		return errors.NewErrorSummary(failures)
	}
	return nil
}

func (l importBankLine) model() (*models.BankTransaction, error) {
	posted, err := parseDate("postedAt", l.PostedAt)
	if err != nil {
		return nil, err
	}
	return &models.BankTransaction{
		ID:         l.ID,
		TenantID:   firstNonEmpty(l.TenantID, importTenant),
		AccountID:  firstNonEmpty(l.AccountID, importAccount),
		ExternalID: l.ExternalID,
		Amount:     l.Amount,
		PostedAt:   posted,
		Payee:      l.Payee,
		Memo:       l.Memo,
	}, nil
}

func (l importLedgerLine) model() (*models.LedgerEntry, error) {
	date, err := parseDate("date", l.Date)
	if err != nil {
		return nil, err
	}
	// an untyped entry takes its type from the sign of the amount
	typ := models.EntryTypeIncome
	if l.Amount.IsNegative() {
		typ = models.EntryTypeExpense
	}
	if strings.TrimSpace(l.Type) != "" {
		if typ, err = models.ParseEntryType(l.Type); err != nil {
			return nil, errors.InvalidRequestError(errors.CodeInvalidValue, "type", l.Type)
		}
	}
	return &models.LedgerEntry{
		ID:          l.ID,
		TenantID:    firstNonEmpty(l.TenantID, importTenant),
		AccountID:   l.AccountID,
		Amount:      l.Amount,
		Type:        typ,
		Date:        date,
		Description: l.Description,
	}, nil
}

// derivedLedgerID names an id-less ledger line after its content. Identical
// lines in one file are told apart by their occurrence count.
func derivedLedgerID(e *models.LedgerEntry, seen map[string]int) string {
	key := strings.Join([]string{
		e.TenantID,
		e.AccountID,
		e.Date.Format("2006-01-02"),
		e.Amount.StringFixed(2),
		string(e.Type),
		e.Description,
	}, "|")
	seen[key]++
	return uuid.NewSHA1(ledgerLineNamespace, []byte(fmt.Sprintf("%s|%d", key, seen[key]))).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
