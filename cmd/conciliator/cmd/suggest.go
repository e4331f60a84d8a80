package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"conciliation-service/cmd/conciliator/config"
	"conciliation-service/internal/reconciler"
	"conciliation-service/internal/reporter"
	"conciliation-service/pkg/errors"
)

// Flags for the suggest command
var (
	suggestTenant  string
	suggestAccount string
	suggestFrom    string
	suggestTo      string
	suggestFormat  string
	suggestOutput  string
	suggestDryRun  bool
)

var suggestCmd = &cobra.Command{
	Use:   "suggest [bank-transaction-id]",
	Short: "Classify bank transactions and record suggestions",
	Long: `Suggest classifies one bank transaction, or every pending and no_match
transaction in scope, and records the resulting suggestion.

With an id the outcome is printed as JSON; --dry-run classifies without
writing. Without an id a batch run is reported in the chosen format.

Examples:
  conciliator suggest 5f0c2b9e-...
  conciliator suggest 5f0c2b9e-... --dry-run
  conciliator suggest --tenant acme --from 2025-08-01 --to 2025-08-31
  conciliator suggest --tenant acme --format csv --output run.csv`,
	Args:    cobra.MaximumNArgs(1),
	PreRunE: validateSuggestFlags,
	RunE:    runSuggest,
}

func init() {
	rootCmd.AddCommand(suggestCmd)

	flags := suggestCmd.Flags()
	flags.StringVar(&suggestTenant, "tenant", "", "limit the run to a tenant")
	flags.StringVar(&suggestAccount, "account", "", "limit the run to a bank account")
	flags.StringVar(&suggestFrom, "from", "", "first posted date (YYYY-MM-DD)")
	flags.StringVar(&suggestTo, "to", "", "last posted date (YYYY-MM-DD)")
	flags.StringVarP(&suggestFormat, "format", "f", "console", "report format: console, json, csv")
	flags.StringVarP(&suggestOutput, "output", "o", "", "report file (default: stdout)")
	flags.BoolVar(&suggestDryRun, "dry-run", false, "classify a single transaction without recording it")
	flags.Int("concurrency", 4, "transactions classified in parallel")

	viper.BindPFlag("run.concurrency", flags.Lookup("concurrency"))
}

func validateSuggestFlags(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		if suggestTenant != "" || suggestAccount != "" || suggestFrom != "" || suggestTo != "" {
			return errors.InvalidRequestError(errors.CodeInvalidValue, "scope", strings.Join(args, " ")).
				WithSuggestion("scope flags only apply to batch runs; drop the id or the flags")
		}
		return nil
	}
	if suggestDryRun {
		return errors.InvalidRequestError(errors.CodeMissingField, "bank-transaction-id", "").
			WithSuggestion("--dry-run needs a single bank transaction id")
	}

	from, err := parseDate("from", suggestFrom)
	if err != nil {
		return err
	}
	to, err := parseDate("to", suggestTo)
	if err != nil {
		return err
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return errors.InvalidRequestError(errors.CodeInvalidValue, "from", suggestFrom).
			WithSuggestion("the start date cannot be after the end date")
	}
	_, err = config.CreateReportConfig(suggestFormat)
	return err
}

func runSuggest(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		if suggestDryRun {
			txn, result, err := rt.service.Preview(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(out, map[string]interface{}{"transaction": txn, "result": result})
		}
		result, err := rt.service.Suggest(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(out, result)
	}

	from, _ := parseDate("from", suggestFrom)
	to, _ := parseDate("to", suggestTo)
	report, err := rt.service.SuggestPending(ctx, reconciler.RunFilter{
		TenantID:  suggestTenant,
		AccountID: suggestAccount,
		From:      from,
		To:        to,
	})
	if err != nil {
		return err
	}

	reportConfig, err := config.CreateReportConfig(suggestFormat)
	if err != nil {
		return err
	}
	generator, err := reporter.NewSafeReportGenerator(reportConfig, rt.logger)
	if err != nil {
		return err
	}
	if suggestOutput != "" {
		if err := generator.WriteFile(report, suggestOutput); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s (%d transactions, %d suggested)\n",
			suggestOutput, report.Total, report.Suggested())
		return nil
	}
	return generator.GenerateReportSafely(report, out)
}
