// Package reporter renders batch suggestion runs for people and for other
// programs.
//
// Supported output formats:
//   - Console: human-readable summary and item list for terminal display
//   - JSON: the full run report for programmatic consumption
//   - CSV: one row per bank transaction for spreadsheet applications
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatCSV})
//	err = generator.GenerateReport(report, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"conciliation-service/internal/matcher"
	"conciliation-service/internal/reconciler"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format" mapstructure:"format"`

	// Detail level options
	IncludeItems    bool `json:"include_items" mapstructure:"include_items"`
	IncludeNoMatch  bool `json:"include_no_match" mapstructure:"include_no_match"`
	IncludeFailures bool `json:"include_failures" mapstructure:"include_failures"`

	// MaxConsoleItems caps the item list on the console; 0 prints everything.
	MaxConsoleItems int `json:"max_console_items" mapstructure:"max_console_items"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter" mapstructure:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers" mapstructure:"csv_headers"`

	SortByAmount bool `json:"sort_by_amount" mapstructure:"sort_by_amount"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:          FormatConsole,
		IncludeItems:    true,
		IncludeNoMatch:  true,
		IncludeFailures: true,
		MaxConsoleItems: 50,
		CSVDelimiter:    ',',
		CSVHeaders:      true,
		SortByAmount:    false,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxConsoleItems < 0 {
		return fmt.Errorf("max console items cannot be negative, got %d", c.MaxConsoleItems)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid csv delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator generates run reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// GenerateReport writes report to writer in the configured format
func (rg *ReportGenerator) GenerateReport(report *reconciler.RunReport, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("run report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(report, writer)
	case FormatJSON:
		return rg.generateJSONReport(report, writer)
	case FormatCSV:
		return rg.generateCSVReport(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateConsoleReport(report *reconciler.RunReport, writer io.Writer) error {
	ew := &errWriter{w: writer}

	ew.printf("SUGGESTION RUN REPORT\n")
	ew.printf("Started:  %s\n", report.StartedAt.Format(time.RFC3339))
	ew.printf("Duration: %v\n", report.Duration)
	ew.printf("Scope:    %s\n\n", describeFilter(report.Filter))

	ew.printf("=== SUMMARY ===\n")
	ew.printf("Transactions: %d\n", report.Total)
	for _, kind := range kindOrder {
		n := report.ByKind[kind]
		ew.printf("  %-10s %d (%.1f%%)\n", kind.String()+":", n, percentage(n, report.Total))
	}
	ew.printf("Conflicts:    %d\n", report.Conflicts)
	ew.printf("Failures:     %d\n", report.Failures)

	if rg.config.IncludeItems {
		items := rg.selectItems(report)
		if len(items) > 0 {
			ew.printf("\n=== TRANSACTIONS ===\n")
			for i, item := range items {
				if rg.config.MaxConsoleItems > 0 && i >= rg.config.MaxConsoleItems {
					ew.printf("  ... and %d more\n", len(items)-i)
					break
				}
				ew.printf("  %d. %s\n", i+1, describeItem(item))
			}
		}
	}

	return ew.err
}

func (rg *ReportGenerator) generateJSONReport(report *reconciler.RunReport, writer io.Writer) error {
	output := *report
	if rg.config.IncludeItems {
		output.Items = rg.selectItems(report)
	} else {
		output.Items = nil
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func (rg *ReportGenerator) generateCSVReport(report *reconciler.RunReport, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		headers := []string{
			"Bank_Transaction_ID",
			"External_ID",
			"Posted_At",
			"Amount",
			"Kind",
			"Confidence",
			"Entry_IDs",
			"Total_Amount",
			"Status",
			"Error",
		}
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, item := range rg.selectItems(report) {
		record := []string{
			item.BankTransactionID,
			item.ExternalID,
			item.PostedAt.Format("2006-01-02"),
			item.Amount.StringFixed(2),
			item.Kind.String(),
			string(item.Confidence),
			strings.Join(item.EntryIDs, " "),
			item.TotalAmount.StringFixed(2),
			itemStatus(item),
			item.Error,
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write record for %s: %w", item.BankTransactionID, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// selectItems applies the detail filters and ordering to a copy of the items
func (rg *ReportGenerator) selectItems(report *reconciler.RunReport) []reconciler.RunItem {
	items := make([]reconciler.RunItem, 0, len(report.Items))
	for _, item := range report.Items {
		failed := item.Error != ""
		if failed && !rg.config.IncludeFailures {
			continue
		}
		if !failed && item.Kind == matcher.KindNoMatch && !rg.config.IncludeNoMatch {
			continue
		}
		items = append(items, item)
	}

	if rg.config.SortByAmount {
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].Amount.Abs().GreaterThan(items[j].Amount.Abs())
		})
	}
	return items
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}
	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}

var kindOrder = []matcher.Kind{
	matcher.KindExact,
	matcher.KindAggregate,
	matcher.KindSuggested,
	matcher.KindTransfer,
	matcher.KindNoMatch,
}

func describeFilter(f reconciler.RunFilter) string {
	var parts []string
	if f.TenantID != "" {
		parts = append(parts, "tenant "+f.TenantID)
	}
	if f.AccountID != "" {
		parts = append(parts, "account "+f.AccountID)
	}
	if !f.From.IsZero() {
		parts = append(parts, "from "+f.From.Format("2006-01-02"))
	}
	if !f.To.IsZero() {
		parts = append(parts, "to "+f.To.Format("2006-01-02"))
	}
	if len(parts) == 0 {
		return "all"
	}
	return strings.Join(parts, ", ")
}

func describeItem(item reconciler.RunItem) string {
	base := fmt.Sprintf("%s %s %s", item.PostedAt.Format("2006-01-02"), item.BankTransactionID, item.Amount.StringFixed(2))
	switch {
	case item.Conflict:
		return base + " skipped: modified concurrently"
	case item.Error != "":
		return base + " failed: " + item.Error
	case len(item.EntryIDs) > 0:
		return fmt.Sprintf("%s %s (%s) -> %s total %s", base, item.Kind, item.Confidence,
			strings.Join(item.EntryIDs, "+"), item.TotalAmount.StringFixed(2))
	default:
		return fmt.Sprintf("%s %s", base, item.Kind)
	}
}

func itemStatus(item reconciler.RunItem) string {
	switch {
	case item.Conflict:
		return "conflict"
	case item.Error != "":
		return "failed"
	default:
		return "ok"
	}
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

// errWriter keeps the first write error so console output reads linearly
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
