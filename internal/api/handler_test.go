package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"conciliation-service/internal/models"
	"conciliation-service/internal/reconciler"
	"conciliation-service/internal/store/memory"
	"conciliation-service/pkg/logger"
)

var testDay = time.Date(2025, 8, 18, 0, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, *reconciler.Service) {
	t.Helper()
	svc, err := reconciler.NewService(memory.New(), nil, nil, logger.Discard())
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	ctx := context.Background()

	if _, _, err := svc.Import(ctx, &models.BankTransaction{
		ID: "B1", TenantID: "tenant-1", AccountID: "account-1", ExternalID: "452993",
		Amount: decimal.RequireFromString("25.00"), PostedAt: testDay,
	}); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	for _, e := range []struct{ id, amount string }{{"A", "25.00"}, {"B", "28.75"}} {
		if _, err := svc.AddLedgerEntry(ctx, &models.LedgerEntry{
			ID: e.id, TenantID: "tenant-1", Amount: decimal.RequireFromString(e.amount),
			Type: models.EntryTypeIncome, Date: testDay,
		}); err != nil {
			t.Fatalf("add entry failed: %v", err)
		}
	}

	return NewRouter(NewHandler(svc, logger.Discard())), svc
}

func do(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid error body %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t)
	if w := do(r, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestClassification(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodGet, "/api/bank-transactions/B1/classification", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Result struct {
			Kind    string `json:"kind"`
			Entries []struct {
				ID string `json:"id"`
			} `json:"entries"`
		} `json:"result"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if resp.Result.Kind != "exact" || len(resp.Result.Entries) != 1 || resp.Result.Entries[0].ID != "A" {
		t.Errorf("expected exact match with A, got %s", w.Body.String())
	}

	if w := do(r, http.MethodGet, "/api/bank-transactions/NOPE/classification", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestSuggestConciliateUnlinkFlow(t *testing.T) {
	r, svc := newTestRouter(t)

	if w := do(r, http.MethodPost, "/api/bank-transactions/B1/create-suggestion", nil); w.Code != http.StatusOK {
		t.Fatalf("create-suggestion: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w := do(r, http.MethodPost, "/api/bank-transactions/B1/conciliate", gin.H{
		"entryIds":   []string{"A"},
		"confidence": "HIGH",
		"matchType":  "exact",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("conciliate: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		ConciliationFlag string `json:"conciliationFlag"`
		TotalAmount      string `json:"totalAmount"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if resp.ConciliationFlag != "conciliado" || resp.TotalAmount != "25" {
		t.Errorf("unexpected response %s", w.Body.String())
	}

	// second confirmation is a conflict
	w = do(r, http.MethodPost, "/api/bank-transactions/B1/conciliate", gin.H{"entryIds": []string{"B"}})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if e := decodeError(t, w); e.Code != "already_reconciled" || e.Category != "conflict" || e.Suggestion == "" {
		t.Errorf("unexpected error body %+v", e)
	}

	if w := do(r, http.MethodPost, "/api/bank-transactions/B1/unlink", nil); w.Code != http.StatusOK {
		t.Fatalf("unlink: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	txn, _ := svc.Get(context.Background(), "B1")
	if txn.State != models.StatePending || txn.MatchedEntryID != "" {
		t.Errorf("expected pending after unlink, got %+v", txn)
	}

	w = do(r, http.MethodGet, "/api/bank-transactions/B1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
}

func TestConciliate_ErrorMapping(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name     string
		path     string
		body     interface{}
		expected int
		code     string
	}{
		{"no entries", "/api/bank-transactions/B1/conciliate", gin.H{"entryIds": []string{}}, http.StatusBadRequest, "missing_field"},
		{"amount mismatch", "/api/bank-transactions/B1/conciliate", gin.H{"entryIds": []string{"B"}}, http.StatusBadRequest, "amount_mismatch"},
		{"unknown entry", "/api/bank-transactions/B1/conciliate", gin.H{"entryIds": []string{"Z"}}, http.StatusNotFound, "ledger_entry_not_found"},
		{"unknown transaction", "/api/bank-transactions/B9/conciliate", gin.H{"entryIds": []string{"A"}}, http.StatusNotFound, "bank_transaction_not_found"},
		{"malformed body", "/api/bank-transactions/B1/conciliate", "not an object", http.StatusBadRequest, "invalid_value"},
		{"reject pending", "/api/bank-transactions/B1/reject", nil, http.StatusConflict, "invalid_transition"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.expected {
				t.Fatalf("expected %d, got %d: %s", tt.expected, w.Code, w.Body.String())
			}
			if e := decodeError(t, w); e.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, e.Code)
			}
		})
	}
}

func TestIgnore(t *testing.T) {
	r, svc := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/bank-transactions/B1/ignore", gin.H{"reason": "tarifa"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	txn, _ := svc.Get(context.Background(), "B1")
	if txn.ConciliationFlag() != models.FlagIgnored || txn.IgnoreReason != "tarifa" {
		t.Errorf("unexpected transaction %+v", txn)
	}

	if w := do(r, http.MethodPost, "/api/bank-transactions/B1/ignore", nil); w.Code != http.StatusConflict {
		t.Errorf("expected 409 on second ignore, got %d", w.Code)
	}
}

func TestImportAndLedgerEntry(t *testing.T) {
	r, _ := newTestRouter(t)

	line := gin.H{
		"tenantId":   "tenant-1",
		"accountId":  "account-1",
		"externalId": "777",
		"amount":     "-40.00",
		"postedAt":   "2025-08-19",
		"memo":       "boleto",
	}
	if w := do(r, http.MethodPost, "/api/bank-transactions", line); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPost, "/api/bank-transactions", line); w.Code != http.StatusOK {
		t.Errorf("re-import of a pending line: expected 200, got %d", w.Code)
	}

	line["postedAt"] = "19/08/2025"
	line["externalId"] = "778"
	if w := do(r, http.MethodPost, "/api/bank-transactions", line); w.Code != http.StatusBadRequest {
		t.Errorf("bad date: expected 400, got %d", w.Code)
	}

	entry := gin.H{"tenantId": "tenant-1", "amount": "-40.00", "date": "2025-08-19", "description": "boleto"}
	w := do(r, http.MethodPost, "/api/ledger-entries", entry)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created models.LedgerEntry
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if created.ID == "" || created.Type != models.EntryTypeExpense {
		t.Errorf("expected generated id and inferred expense type, got %+v", created)
	}
}

func TestImport_Duplicate(t *testing.T) {
	r, _ := newTestRouter(t)

	if w := do(r, http.MethodPost, "/api/bank-transactions/B1/ignore", nil); w.Code != http.StatusOK {
		t.Fatalf("ignore failed: %d", w.Code)
	}
	w := do(r, http.MethodPost, "/api/bank-transactions", gin.H{
		"tenantId": "tenant-1", "accountId": "account-1", "externalId": "452993",
		"amount": "25.00", "postedAt": "2025-08-18",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if e := decodeError(t, w); e.Category != "duplicate_import" {
		t.Errorf("expected duplicate_import, got %+v", e)
	}
}

func TestRunSuggestions(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/bank-transactions/suggestions/run", gin.H{"tenantId": "tenant-1", "from": "2025-08-01"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var report reconciler.RunReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if report.Total != 1 || report.ByKind["exact"] != 1 {
		t.Errorf("unexpected report %+v", report)
	}

	if w := do(r, http.MethodPost, "/api/bank-transactions/suggestions/run", gin.H{"to": "yesterday"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad date: expected 400, got %d", w.Code)
	}
}
