package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"conciliation-service/pkg/errors"
	"conciliation-service/pkg/logger"
)

// CLIErrorHandler turns command errors into readable output and exit codes
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
	out     io.Writer
}

// NewCLIErrorHandler creates a handler writing to stderr
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool("verbose"),
		out:     os.Stderr,
	}
}

// HandleError prints err and returns the process exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	var summary *errors.ErrorSummary
	if stderrors.As(err, &summary) {
		return h.handleSummary(summary)
	}
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}
	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if h.verbose && len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", categoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// handleSummary reports a partial failure; the exit code follows the most
// severe category present.
func (h *CLIErrorHandler) handleSummary(summary *errors.ErrorSummary) int {
	fmt.Fprintf(h.out, "Error: %s\n", summary.Error())

	code := 1
	for _, e := range summary.Errors {
		if c := e.GetExitCode(); c > code {
			code = c
		}
	}
	return code
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	fmt.Fprintf(h.out, "Error: %v\n", err)
	if h.verbose {
		fmt.Fprintf(h.out, "\nRun 'conciliator --help' for usage\n")
	}
	return 1
}

func categoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryConflict:
		return `Conflict help:
• The transaction or one of the entries changed state since it was read
• Use 'conciliator unlink <id>' to undo an existing match before confirming again
• Retry the command if another process was updating the same records`

	case errors.CategoryNotFound:
		return `Not found help:
• Check the bank transaction or ledger entry id
• Use 'conciliator import' to load missing records`

	case errors.CategoryInvalidRequest:
		return `Invalid request help:
• Dates use YYYY-MM-DD
• Amounts are decimal numbers without currency symbols
• Confirmed entries must sum to the bank amount with the same sign`

	case errors.CategoryDuplicateImport:
		return `Duplicate import help:
• A line with the same external id was imported and has already been worked on
• Unlink the existing transaction first if the statement really changed`

	case errors.CategoryConfiguration:
		return `Configuration help:
• Check command-line flags and CONCILIATOR_* environment variables
• Verify configuration file syntax if using --config`

	case errors.CategoryStorage:
		return `Storage help:
• Check --db-driver and --db-dsn
• Run 'conciliator migrate up' to bring the schema up to date`

	default:
		return `For more help:
• Use 'conciliator --help' for general help
• Run with --verbose for the underlying error`
	}
}

// FormatErrors joins several errors into a numbered list.
func FormatErrors(errs []error) string {
	if len(errs) == 0 {
		return ""
	}
	if len(errs) == 1 {
		return errs[0].Error()
	}

	lines := []string{fmt.Sprintf("%d errors:", len(errs))}
	for i, err := range errs {
		if i == 10 {
			lines = append(lines, fmt.Sprintf("  ... and %d more", len(errs)-10))
			break
		}
		lines = append(lines, fmt.Sprintf("  %d. %v", i+1, err))
	}
	return strings.Join(lines, "\n")
}
