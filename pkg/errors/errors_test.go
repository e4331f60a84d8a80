package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestReconcilerError(t *testing.T) {
	tests := []struct {
		name       string
		category   ErrorCategory
		code       ErrorCode
		message    string
		cause      error
		expectCode int
		expectHTTP int
	}{
		{
			name:       "invalid request",
			category:   CategoryInvalidRequest,
			code:       CodeMissingField,
			message:    "missing entry ids",
			expectCode: 2,
			expectHTTP: http.StatusBadRequest,
		},
		{
			name:       "not found",
			category:   CategoryNotFound,
			code:       CodeBankTransactionNotFound,
			message:    "unknown transaction",
			cause:      errors.New("record not found"),
			expectCode: 3,
			expectHTTP: http.StatusNotFound,
		},
		{
			name:       "conflict",
			category:   CategoryConflict,
			code:       CodeAlreadyReconciled,
			message:    "already reconciled",
			expectCode: 4,
			expectHTTP: http.StatusConflict,
		},
		{
			name:       "duplicate import",
			category:   CategoryDuplicateImport,
			code:       CodeExternalIDCollision,
			message:    "imported twice",
			expectCode: 4,
			expectHTTP: http.StatusConflict,
		},
		{
			name:       "storage",
			category:   CategoryStorage,
			code:       CodeQueryFailed,
			message:    "query failed",
			cause:      errors.New("connection reset"),
			expectCode: 6,
			expectHTTP: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err *ReconcilerError
			if tt.cause != nil {
				err = Wrap(tt.cause, tt.category, tt.code, tt.message)
			} else {
				err = New(tt.category, tt.code, tt.message)
			}

			if err.Category != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, err.Category)
			}
			if err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, err.Code)
			}
			if err.Error() != tt.message {
				t.Errorf("expected error string %s, got %s", tt.message, err.Error())
			}
			if err.GetExitCode() != tt.expectCode {
				t.Errorf("expected exit code %d, got %d", tt.expectCode, err.GetExitCode())
			}
			if err.HTTPStatus() != tt.expectHTTP {
				t.Errorf("expected HTTP status %d, got %d", tt.expectHTTP, err.HTTPStatus())
			}
			if tt.cause != nil && err.Unwrap() != tt.cause {
				t.Errorf("expected to unwrap to %v, got %v", tt.cause, err.Unwrap())
			}
		})
	}
}

func TestReconcilerErrorWithContext(t *testing.T) {
	err := New(CategoryConflict, CodeEntryConsumed, "test error").
		WithContext("entry_id", "L-1").
		WithSuggestion("refresh")

	if err.Context["entry_id"] != "L-1" {
		t.Errorf("expected entry_id context 'L-1', got %v", err.Context["entry_id"])
	}

	expected := "test error (suggestion: refresh)"
	if err.Error() != expected {
		t.Errorf("expected error string '%s', got '%s'", expected, err.Error())
	}
}

func TestKindPredicates(t *testing.T) {
	conflict := ConflictError(CodeAlreadyReconciled, "B-1", "")
	notFound := NotFoundError(CodeLedgerEntryNotFound, "L-9", nil)
	invalid := InvalidRequestError(CodeMissingField, "entryIds", nil)
	duplicate := DuplicateImportError("452993", "B-1")

	wrapped := fmt.Errorf("confirm: %w", conflict)

	if !IsConflict(conflict) || !IsConflict(wrapped) {
		t.Error("expected conflict to be detected through wrapping")
	}
	if IsConflict(notFound) || IsConflict(invalid) || IsConflict(duplicate) {
		t.Error("conflict predicate must not match other kinds")
	}
	if !IsNotFound(notFound) {
		t.Error("expected not found kind")
	}
	if !IsInvalidRequest(invalid) {
		t.Error("expected invalid request kind")
	}
	if !IsDuplicateImport(duplicate) {
		t.Error("expected duplicate import kind")
	}
	if IsConflict(errors.New("plain")) {
		t.Error("plain errors carry no kind")
	}
	if duplicate.Context["external_id"] != "452993" {
		t.Errorf("expected external_id context, got %v", duplicate.Context["external_id"])
	}
}

func TestWrapIfNeeded(t *testing.T) {
	if WrapIfNeeded(nil, CategoryInternal, CodeUnexpectedError, "x") != nil {
		t.Error("nil error must stay nil")
	}

	original := NotFoundError(CodeBankTransactionNotFound, "B-1", nil)
	if got := WrapIfNeeded(original, CategoryInternal, CodeUnexpectedError, "x"); got != original {
		t.Error("existing ReconcilerError must be returned as is")
	}

	plain := errors.New("boom")
	got := WrapIfNeeded(plain, CategoryStorage, CodeQueryFailed, "query")
	if got.Category != CategoryStorage || got.Cause != plain {
		t.Errorf("expected wrapped storage error, got %+v", got)
	}
}

func TestErrorSummary(t *testing.T) {
	errs := []*ReconcilerError{
		ConflictError(CodeAlreadyReconciled, "B-1", ""),
		ConflictError(CodeEntryConsumed, "B-2", "L-1"),
		NotFoundError(CodeBankTransactionNotFound, "B-3", nil),
	}

	summary := NewErrorSummary(errs)
	if summary.Total != 3 {
		t.Errorf("expected total 3, got %d", summary.Total)
	}
	if summary.ByCategory[CategoryConflict] != 2 {
		t.Errorf("expected 2 conflicts, got %d", summary.ByCategory[CategoryConflict])
	}
	if !summary.HasCategory(CategoryNotFound) {
		t.Error("expected not found category")
	}
	if summary.HasCategory(CategoryStorage) {
		t.Error("unexpected storage category")
	}

	empty := NewErrorSummary(nil)
	if empty.Error() != "no errors" {
		t.Errorf("unexpected empty summary message %q", empty.Error())
	}
}
