package errors

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryConflict        ErrorCategory = "conflict"
	CategoryNotFound        ErrorCategory = "not_found"
	CategoryInvalidRequest  ErrorCategory = "invalid_request"
	CategoryDuplicateImport ErrorCategory = "duplicate_import"
	CategoryConfiguration   ErrorCategory = "configuration"
	CategoryStorage         ErrorCategory = "storage"
	CategoryInternal        ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Conflict errors
	CodeAlreadyReconciled  ErrorCode = "already_reconciled"
	CodeEntryConsumed      ErrorCode = "entry_consumed"
	CodeInvalidTransition  ErrorCode = "invalid_transition"
	CodeConcurrentUpdate   ErrorCode = "concurrent_update"

	// Not found errors
	CodeBankTransactionNotFound ErrorCode = "bank_transaction_not_found"
	CodeLedgerEntryNotFound     ErrorCode = "ledger_entry_not_found"

	// Invalid request errors
	CodeMissingField     ErrorCode = "missing_field"
	CodeInvalidValue     ErrorCode = "invalid_value"
	CodePolarityMismatch ErrorCode = "polarity_mismatch"
	CodeAmountMismatch   ErrorCode = "amount_mismatch"

	// Duplicate import errors
	CodeExternalIDCollision ErrorCode = "external_id_collision"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Storage errors
	CodeConnectionFailed ErrorCode = "connection_failed"
	CodeQueryFailed      ErrorCode = "query_failed"
	CodeMigrationFailed  ErrorCode = "migration_failed"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ReconcilerError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryInvalidRequest:
		return 2
	case CategoryNotFound:
		return 3
	case CategoryConflict, CategoryDuplicateImport:
		return 4
	case CategoryConfiguration:
		return 5
	case CategoryStorage, CategoryInternal:
		return 6
	default:
		return 1
	}
}

// HTTPStatus maps the error category to a transport status code.
func (e *ReconcilerError) HTTPStatus() int {
	switch e.Category {
	case CategoryInvalidRequest:
		return http.StatusBadRequest
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryConflict, CategoryDuplicateImport:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WithContext adds context information to the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ReconcilerError
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ReconcilerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Specific error constructors

// ConflictError reports a violated transition guard. The caller is expected
// to refresh its view and inform the user rather than retry blindly.
func ConflictError(code ErrorCode, bankTransactionID string, detail string) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeAlreadyReconciled:
		message = fmt.Sprintf("bank transaction %s is already reconciled", bankTransactionID)
		suggestion = "unlink the current match before confirming a different one"
	case CodeEntryConsumed:
		message = fmt.Sprintf("ledger entry %s is already part of a confirmed match", detail)
		suggestion = "refresh the candidate list; the entry was consumed by another reconciliation"
	case CodeInvalidTransition:
		message = fmt.Sprintf("bank transaction %s cannot %s", bankTransactionID, detail)
		suggestion = "refresh the transaction; its reconciliation state has changed"
	case CodeConcurrentUpdate:
		message = fmt.Sprintf("bank transaction %s was modified concurrently", bankTransactionID)
		suggestion = "reload the transaction and try again"
	default:
		message = fmt.Sprintf("conflict on bank transaction %s: %s", bankTransactionID, detail)
		suggestion = "refresh and try again"
	}

	return New(CategoryConflict, code, message).
		WithSuggestion(suggestion).
		WithContext("bank_transaction_id", bankTransactionID)
}

// NotFoundError reports an unknown bank transaction or ledger entry reference.
func NotFoundError(code ErrorCode, id string, err error) *ReconcilerError {
	var message string

	switch code {
	case CodeBankTransactionNotFound:
		message = fmt.Sprintf("bank transaction not found: %s", id)
	case CodeLedgerEntryNotFound:
		message = fmt.Sprintf("ledger entry not found: %s", id)
	default:
		message = fmt.Sprintf("record not found: %s", id)
	}

	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryNotFound, code, message)
	} else {
		result = New(CategoryNotFound, code, message)
	}

	return result.
		WithSuggestion("check the identifier and the tenant scope").
		WithContext("id", id)
}

// InvalidRequestError reports missing or malformed input
func InvalidRequestError(code ErrorCode, field string, value interface{}) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeInvalidValue:
		message = fmt.Sprintf("invalid value in field '%s': %v", field, value)
		suggestion = "use one of the documented values for this field"
	case CodePolarityMismatch:
		message = fmt.Sprintf("polarity of '%s' does not agree with the bank transaction: %v", field, value)
		suggestion = "income entries match credits and expense entries match debits; use a transfer match otherwise"
	case CodeAmountMismatch:
		message = fmt.Sprintf("sum of '%s' does not equal the bank transaction amount: %v", field, value)
		suggestion = "select entries whose total equals the bank amount"
	default:
		message = fmt.Sprintf("invalid request field '%s': %v", field, value)
		suggestion = "check the request and try again"
	}

	return New(CategoryInvalidRequest, code, message).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// DuplicateImportError reports a statement line whose external identifier
// already belongs to a transaction that has left the pending state.
func DuplicateImportError(externalID string, existingID string) *ReconcilerError {
	return New(CategoryDuplicateImport, CodeExternalIDCollision,
		fmt.Sprintf("statement line %s was already imported as %s", externalID, existingID)).
		WithSuggestion("skip this line; the statement appears to have been imported before").
		WithContext("external_id", externalID).
		WithContext("existing_id", existingID)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use a config file"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryConfiguration, code, message)
	} else {
		result = New(CategoryConfiguration, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// StorageError wraps a failure of the persistent store
func StorageError(code ErrorCode, operation string, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeConnectionFailed:
		message = fmt.Sprintf("cannot reach the database during %s", operation)
		suggestion = "check the database DSN and network connectivity"
	case CodeMigrationFailed:
		message = fmt.Sprintf("schema migration failed during %s", operation)
		suggestion = "inspect the migration version table and fix the failed migration"
	default:
		message = fmt.Sprintf("storage error during %s", operation)
		suggestion = "try again; report the error if it persists"
	}

	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryStorage, code, message)
	} else {
		result = New(CategoryStorage, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *ReconcilerError {
	message := fmt.Sprintf("unexpected error during %s", operation)

	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryInternal, code, message)
	} else {
		result = New(CategoryInternal, code, message)
	}

	return result.
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*ReconcilerError    `json:"errors"`
	SampleErrors []*ReconcilerError    `json:"sample_errors,omitempty"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ReconcilerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if len(errs) == 0 {
		summary.Errors = []*ReconcilerError{}
		return summary
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	maxSamples := 5
	if len(errs) > maxSamples {
		summary.SampleErrors = errs[:maxSamples]
	} else {
		summary.SampleErrors = errs
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}

// Utility functions

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// WrapIfNeeded wraps an error if it's not already a ReconcilerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}

	return Wrap(err, category, code, message)
}

func hasCategory(err error, category ErrorCategory) bool {
	if rerr, ok := AsReconcilerError(err); ok {
		return rerr.Category == category
	}
	return false
}

// IsConflict reports whether err is a guard violation.
func IsConflict(err error) bool { return hasCategory(err, CategoryConflict) }

// IsNotFound reports whether err refers to an unknown record.
func IsNotFound(err error) bool { return hasCategory(err, CategoryNotFound) }

// IsInvalidRequest reports whether err is a malformed-input error.
func IsInvalidRequest(err error) bool { return hasCategory(err, CategoryInvalidRequest) }

// IsDuplicateImport reports whether err is an external id collision.
func IsDuplicateImport(err error) bool { return hasCategory(err, CategoryDuplicateImport) }
