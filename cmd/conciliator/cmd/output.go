package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"conciliation-service/internal/models"
	"conciliation-service/pkg/errors"
)

func printJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// printTransaction writes the one-line summary used by the state commands
func printTransaction(w io.Writer, txn *models.BankTransaction) {
	fmt.Fprintf(w, "%s %s %s state=%s flag=%s",
		txn.ID, txn.PostedAt.Format("2006-01-02"), txn.Amount.StringFixed(2), txn.State, txn.ConciliationFlag())
	if txn.MatchedEntryID != "" {
		fmt.Fprintf(w, " entry=%s", txn.MatchedEntryID)
	}
	if txn.IgnoreReason != "" {
		fmt.Fprintf(w, " reason=%q", txn.IgnoreReason)
	}
	fmt.Fprintln(w)
}

// parseDate accepts a calendar date or an RFC 3339 timestamp; empty is zero.
func parseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.InvalidRequestError(errors.CodeInvalidValue, field, value).
		WithSuggestion("use YYYY-MM-DD or an RFC 3339 timestamp")
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
