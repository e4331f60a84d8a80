package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"conciliation-service/internal/models"
	"conciliation-service/internal/reconciler"
	"conciliation-service/pkg/errors"
)

// Flags for the confirm and ignore commands
var (
	confirmEntries    string
	confirmConfidence string
	confirmMatchType  string
	confirmNotes      string
	ignoreReason      string
)

var confirmCmd = &cobra.Command{
	Use:   "confirm <bank-transaction-id>",
	Short: "Confirm a bank transaction against ledger entries",
	Long: `Confirm links a bank transaction to one or more ledger entries whose sum
equals the bank amount and marks it conciliado. The first entry is the
primary one.

Examples:
  conciliator confirm 5f0c... --entries e-41
  conciliator confirm 5f0c... --entries e-41,e-42,e-43 --confidence high --notes "boletos agosto"
  conciliator confirm 5f0c... --entries e-90 --match-type transfer`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries := splitList(confirmEntries)
		if len(entries) == 0 {
			return errors.InvalidRequestError(errors.CodeMissingField, "entries", confirmEntries)
		}

		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		out, err := rt.service.Confirm(cmd.Context(), reconciler.ConfirmRequest{
			BankTransactionID: args[0],
			EntryIDs:          entries,
			Confidence:        models.Confidence(strings.ToLower(confirmConfidence)),
			MatchType:         models.MatchType(strings.ToLower(confirmMatchType)),
			Notes:             confirmNotes,
		})
		if err != nil {
			return err
		}
		printTransaction(cmd.OutOrStdout(), out.Transaction)
		fmt.Fprintf(cmd.OutOrStdout(), "confirmed %d entries totalling %s\n", len(out.Matches), out.TotalAmount.StringFixed(2))
		return nil
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <bank-transaction-id>",
	Short: "Reject the suggestion or match of a bank transaction",
	Long: `Reject marks the match rows of a suggested or matched transaction as
rejected, releases consumed ledger entries and returns it to pending.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd, func(svc *reconciler.Service) (*models.BankTransaction, error) {
			return svc.Reject(cmd.Context(), args[0])
		})
	},
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <bank-transaction-id>",
	Short: "Remove the match of a bank transaction",
	Long: `Unlink deletes the open match rows of a suggested or matched transaction,
releases consumed ledger entries and returns it to pending.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd, func(svc *reconciler.Service) (*models.BankTransaction, error) {
			return svc.Unlink(cmd.Context(), args[0])
		})
	},
}

var ignoreCmd = &cobra.Command{
	Use:   "ignore <bank-transaction-id>",
	Short: "Set a bank transaction aside",
	Long: `Ignore marks a transaction ignorado so it leaves the reconciliation queue.
Open suggestions are rejected.

Examples:
  conciliator ignore 5f0c... --reason "tarifa bancaria"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd, func(svc *reconciler.Service) (*models.BankTransaction, error) {
			return svc.Ignore(cmd.Context(), args[0], ignoreReason)
		})
	},
}

func init() {
	rootCmd.AddCommand(confirmCmd, rejectCmd, unlinkCmd, ignoreCmd)

	confirmCmd.Flags().StringVarP(&confirmEntries, "entries", "e", "", "comma-separated ledger entry ids, primary first (required)")
	confirmCmd.Flags().StringVar(&confirmConfidence, "confidence", "manual", "confidence: high, medium, low, manual")
	confirmCmd.Flags().StringVar(&confirmMatchType, "match-type", "manual", "match type: exact, automatic, manual, transfer")
	confirmCmd.Flags().StringVar(&confirmNotes, "notes", "", "free-form notes stored with the match")
	confirmCmd.MarkFlagRequired("entries")

	ignoreCmd.Flags().StringVar(&ignoreReason, "reason", "", "why the transaction is ignored")
}

func runTransition(cmd *cobra.Command, fn func(svc *reconciler.Service) (*models.BankTransaction, error)) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	txn, err := fn(rt.service)
	if err != nil {
		return err
	}
	printTransaction(cmd.OutOrStdout(), txn)
	return nil
}
