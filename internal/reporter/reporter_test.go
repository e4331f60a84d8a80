package reporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"conciliation-service/internal/matcher"
	"conciliation-service/internal/models"
	"conciliation-service/internal/reconciler"
	"conciliation-service/pkg/logger"
)

func TestNewReportGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      *ReportConfig
		expectError bool
	}{
		{
			name:        "default config",
			config:      nil,
			expectError: false,
		},
		{
			name:        "valid config",
			config:      DefaultReportConfig(),
			expectError: false,
		},
		{
			name:        "invalid format",
			config:      &ReportConfig{Format: "invalid"},
			expectError: true,
		},
		{
			name:        "negative item cap",
			config:      &ReportConfig{Format: FormatConsole, MaxConsoleItems: -1},
			expectError: true,
		},
		{
			name:        "csv without delimiter",
			config:      &ReportConfig{Format: FormatCSV},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if generator == nil {
					t.Errorf("expected generator but got nil")
				}
			}
		})
	}
}

func TestOutputFormatValidation(t *testing.T) {
	tests := []struct {
		format OutputFormat
		valid  bool
	}{
		{FormatConsole, true},
		{FormatJSON, true},
		{FormatCSV, true},
		{"invalid", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			if tt.format.IsValid() != tt.valid {
				t.Errorf("expected IsValid() = %v for format %s", tt.valid, tt.format)
			}
		})
	}
}

func TestGenerateReport(t *testing.T) {
	report := createSampleRunReport()

	tests := []struct {
		name        string
		config      *ReportConfig
		checkOutput func(t *testing.T, output string)
	}{
		{
			name:   "console format",
			config: DefaultReportConfig(),
			checkOutput: func(t *testing.T, output string) {
				for _, want := range []string{
					"SUGGESTION RUN REPORT",
					"Scope:    tenant tenant-1, from 2025-08-01",
					"Transactions: 4",
					"exact:     1 (25.0%)",
					"B2 150.00 aggregate (high) -> E2+E3 total 150.00",
					"B4 -9.90 failed: boom",
				} {
					if !strings.Contains(output, want) {
						t.Errorf("console output should contain %q, got:\n%s", want, output)
					}
				}
			},
		},
		{
			name:   "JSON format",
			config: &ReportConfig{Format: FormatJSON, IncludeItems: true, IncludeNoMatch: true, IncludeFailures: true},
			checkOutput: func(t *testing.T, output string) {
				var decoded reconciler.RunReport
				if err := json.Unmarshal([]byte(output), &decoded); err != nil {
					t.Fatalf("output should be valid JSON: %v", err)
				}
				if decoded.Total != 4 || len(decoded.Items) != 4 {
					t.Errorf("expected 4 items, got total=%d items=%d", decoded.Total, len(decoded.Items))
				}
				if decoded.ByKind[matcher.KindAggregate] != 1 {
					t.Errorf("expected aggregate count 1, got %v", decoded.ByKind)
				}
			},
		},
		{
			name:   "JSON without items",
			config: &ReportConfig{Format: FormatJSON},
			checkOutput: func(t *testing.T, output string) {
				var decoded map[string]interface{}
				if err := json.Unmarshal([]byte(output), &decoded); err != nil {
					t.Fatalf("output should be valid JSON: %v", err)
				}
				if items, ok := decoded["items"]; ok && items != nil {
					t.Errorf("expected no items, got %v", items)
				}
			},
		},
		{
			name:   "CSV format",
			config: &ReportConfig{Format: FormatCSV, CSVDelimiter: ';', CSVHeaders: true, IncludeNoMatch: true},
			checkOutput: func(t *testing.T, output string) {
				r := csv.NewReader(strings.NewReader(output))
				r.Comma = ';'
				records, err := r.ReadAll()
				if err != nil {
					t.Fatalf("output should be valid CSV: %v", err)
				}
				// header plus three rows; the failure is excluded
				if len(records) != 4 {
					t.Fatalf("expected 4 records, got %d", len(records))
				}
				if records[0][0] != "Bank_Transaction_ID" {
					t.Errorf("unexpected header %v", records[0])
				}
				if records[2][6] != "E2 E3" || records[2][7] != "150.00" {
					t.Errorf("unexpected aggregate row %v", records[2])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)
			if err != nil {
				t.Fatalf("failed to create generator: %v", err)
			}
			var buf bytes.Buffer
			if err := generator.GenerateReport(report, &buf); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.checkOutput(t, buf.String())
		})
	}
}

func TestGenerateReport_NilReport(t *testing.T) {
	generator, _ := NewReportGenerator(nil)
	if err := generator.GenerateReport(nil, &bytes.Buffer{}); err == nil {
		t.Error("expected error for nil report")
	}
}

func TestSelectItems(t *testing.T) {
	report := createSampleRunReport()

	config := DefaultReportConfig()
	config.IncludeNoMatch = false
	config.IncludeFailures = false
	config.SortByAmount = true
	generator, _ := NewReportGenerator(config)

	items := generator.selectItems(report)
	var ids []string
	for _, item := range items {
		ids = append(ids, item.BankTransactionID)
	}
	if got := strings.Join(ids, ","); got != "B2,B1" {
		t.Errorf("expected B2,B1, got %s", got)
	}
	// the report itself is untouched
	if report.Items[0].BankTransactionID != "B1" {
		t.Errorf("selectItems reordered the report")
	}
}

func TestConsoleItemCap(t *testing.T) {
	config := DefaultReportConfig()
	config.MaxConsoleItems = 2
	generator, _ := NewReportGenerator(config)

	var buf bytes.Buffer
	if err := generator.GenerateReport(createSampleRunReport(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "... and 2 more") {
		t.Errorf("expected truncation line, got:\n%s", buf.String())
	}
}

func TestUpdateConfiguration(t *testing.T) {
	generator, _ := NewReportGenerator(nil)

	if err := generator.UpdateConfiguration(&ReportConfig{Format: "xml"}); err == nil {
		t.Error("expected error for invalid configuration")
	}
	if generator.GetConfiguration().Format != FormatConsole {
		t.Error("invalid configuration should not be applied")
	}
	if err := generator.UpdateConfiguration(&ReportConfig{Format: FormatJSON}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if generator.GetConfiguration().Format != FormatJSON {
		t.Error("configuration was not updated")
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

type failOnceWriter struct {
	bytes.Buffer
	failed bool
}

func (w *failOnceWriter) Write(p []byte) (int, error) {
	if !w.failed {
		w.failed = true
		return 0, errors.New("broken pipe")
	}
	return w.Buffer.Write(p)
}

func TestSafeReportGenerator(t *testing.T) {
	report := createSampleRunReport()

	t.Run("invalid config", func(t *testing.T) {
		if _, err := NewSafeReportGenerator(&ReportConfig{Format: "xml"}, logger.Discard()); err == nil {
			t.Error("expected configuration error")
		}
	})

	t.Run("missing inputs", func(t *testing.T) {
		srg, _ := NewSafeReportGenerator(nil, logger.Discard())
		if err := srg.GenerateReportSafely(nil, &bytes.Buffer{}); err == nil {
			t.Error("expected error for nil report")
		}
		if err := srg.GenerateReportSafely(report, nil); err == nil {
			t.Error("expected error for nil writer")
		}
	})

	t.Run("console failure is returned", func(t *testing.T) {
		srg, _ := NewSafeReportGenerator(nil, logger.Discard())
		if err := srg.GenerateReportSafely(report, failingWriter{}); err == nil {
			t.Error("expected write error")
		}
	})

	t.Run("json failure falls back to console", func(t *testing.T) {
		srg, _ := NewSafeReportGenerator(&ReportConfig{Format: FormatJSON, IncludeItems: true}, logger.Discard())
		w := &failOnceWriter{}
		if err := srg.GenerateReportSafely(report, w); err != nil {
			t.Fatalf("expected fallback to succeed: %v", err)
		}
		if !strings.Contains(w.String(), "SUGGESTION RUN REPORT") {
			t.Errorf("expected console fallback, got:\n%s", w.String())
		}
	})

	t.Run("write file", func(t *testing.T) {
		srg, _ := NewSafeReportGenerator(&ReportConfig{Format: FormatJSON, IncludeItems: true}, logger.Discard())
		path := filepath.Join(t.TempDir(), "reports", "run.json")
		if err := srg.WriteFile(report, path); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read report: %v", err)
		}
		if !json.Valid(data) {
			t.Errorf("expected JSON file, got %s", data)
		}
	})
}

func createSampleRunReport() *reconciler.RunReport {
	day := time.Date(2025, 8, 18, 0, 0, 0, 0, time.UTC)
	return &reconciler.RunReport{
		Filter:     reconciler.RunFilter{TenantID: "tenant-1", From: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)},
		StartedAt:  day,
		FinishedAt: day.Add(2 * time.Second),
		Duration:   2 * time.Second,
		Total:      4,
		ByKind: map[matcher.Kind]int{
			matcher.KindExact:     1,
			matcher.KindAggregate: 1,
			matcher.KindNoMatch:   1,
		},
		Failures: 1,
		Items: []reconciler.RunItem{
			{
				BankTransactionID: "B1", ExternalID: "1", Amount: decimal.RequireFromString("25.00"), PostedAt: day,
				Kind: matcher.KindExact, Confidence: models.ConfidenceHigh, EntryIDs: []string{"E1"},
				TotalAmount: decimal.RequireFromString("25.00"),
			},
			{
				BankTransactionID: "B2", ExternalID: "2", Amount: decimal.RequireFromString("150.00"), PostedAt: day,
				Kind: matcher.KindAggregate, Confidence: models.ConfidenceHigh, EntryIDs: []string{"E2", "E3"},
				TotalAmount: decimal.RequireFromString("150.00"),
			},
			{
				BankTransactionID: "B3", ExternalID: "3", Amount: decimal.RequireFromString("12.00"), PostedAt: day,
				Kind: matcher.KindNoMatch, TotalAmount: decimal.Zero,
			},
			{
				BankTransactionID: "B4", ExternalID: "4", Amount: decimal.RequireFromString("-9.90"), PostedAt: day,
				TotalAmount: decimal.Zero, Error: "boom",
			},
		},
	}
}
