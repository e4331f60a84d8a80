// Package api is the HTTP surface of the reconciliation service. Handlers
// decode requests, call the reconciler Service and map its error kinds to
// status codes; no reconciliation rule lives here.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"conciliation-service/internal/matcher"
	"conciliation-service/internal/models"
	"conciliation-service/internal/reconciler"
	"conciliation-service/pkg/errors"
	"conciliation-service/pkg/logger"
)

// Handler holds the dependencies of the HTTP handlers
type Handler struct {
	service *reconciler.Service
	logger  logger.Logger
}

// NewHandler creates a handler over service
func NewHandler(service *reconciler.Service, log logger.Logger) *Handler {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Handler{service: service, logger: log.WithComponent("api")}
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Category   string `json:"category"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (h *Handler) fail(c *gin.Context, err error) {
	re := errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError, "unexpected error")
	status := re.HTTPStatus()
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:      re.Message,
		Code:       string(re.Code),
		Category:   string(re.Category),
		Suggestion: re.Suggestion,
	})
}

func (h *Handler) badBody(c *gin.Context, err error) {
	h.fail(c, errors.InvalidRequestError(errors.CodeInvalidValue, "body", err.Error()))
}

// Health answers liveness probes
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type transactionResponse struct {
	Transaction      *models.BankTransaction `json:"transaction"`
	ConciliationFlag models.ConciliationFlag `json:"conciliationFlag"`
	Matches          []*models.Match         `json:"matches,omitempty"`
}

func respond(txn *models.BankTransaction, matches []*models.Match) transactionResponse {
	return transactionResponse{Transaction: txn, ConciliationFlag: txn.ConciliationFlag(), Matches: matches}
}

// GetBankTransaction returns a transaction with its match rows
func (h *Handler) GetBankTransaction(c *gin.Context) {
	id := c.Param("id")
	txn, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	matches, err := h.service.ListMatches(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, respond(txn, matches))
}

type classificationResponse struct {
	Transaction *models.BankTransaction `json:"transaction"`
	Result      *matcher.MatchResult    `json:"result"`
}

// Classification previews the classification without recording it
func (h *Handler) Classification(c *gin.Context) {
	txn, result, err := h.service.Preview(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, classificationResponse{Transaction: txn, Result: result})
}

// CreateSuggestion classifies the transaction and records the outcome
func (h *Handler) CreateSuggestion(c *gin.Context) {
	out, err := h.service.Suggest(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type conciliateRequest struct {
	EntryIDs   []string `json:"entryIds"`
	Confidence string   `json:"confidence"`
	MatchType  string   `json:"matchType"`
	Notes      string   `json:"notes"`
}

// Conciliate confirms the transaction against the given entries
func (h *Handler) Conciliate(c *gin.Context) {
	var body conciliateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badBody(c, err)
		return
	}

	out, err := h.service.Confirm(c.Request.Context(), reconciler.ConfirmRequest{
		BankTransactionID: c.Param("id"),
		EntryIDs:          body.EntryIDs,
		Confidence:        models.Confidence(strings.ToLower(strings.TrimSpace(body.Confidence))),
		MatchType:         models.MatchType(strings.ToLower(strings.TrimSpace(body.MatchType))),
		Notes:             body.Notes,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transaction":      out.Transaction,
		"conciliationFlag": out.Transaction.ConciliationFlag(),
		"matches":          out.Matches,
		"totalAmount":      out.TotalAmount,
	})
}

// Reject marks the match rows rejected and returns the transaction to pending
func (h *Handler) Reject(c *gin.Context) {
	txn, err := h.service.Reject(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, respond(txn, nil))
}

// Unlink removes the match rows and returns the transaction to pending
func (h *Handler) Unlink(c *gin.Context) {
	txn, err := h.service.Unlink(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, respond(txn, nil))
}

type ignoreRequest struct {
	Reason string `json:"reason"`
}

// Ignore sets the transaction aside with a reason
func (h *Handler) Ignore(c *gin.Context) {
	var body ignoreRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			h.badBody(c, err)
			return
		}
	}
	txn, err := h.service.Ignore(c.Request.Context(), c.Param("id"), body.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, respond(txn, nil))
}

type runRequest struct {
	TenantID  string `json:"tenantId"`
	AccountID string `json:"accountId"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// RunSuggestions runs a batch suggestion over the pending transactions in scope
func (h *Handler) RunSuggestions(c *gin.Context) {
	var body runRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			h.badBody(c, err)
			return
		}
	}
	from, err := parseDate("from", body.From)
	if err != nil {
		h.fail(c, err)
		return
	}
	to, err := parseDate("to", body.To)
	if err != nil {
		h.fail(c, err)
		return
	}

	report, err := h.service.SuggestPending(c.Request.Context(), reconciler.RunFilter{
		TenantID:  body.TenantID,
		AccountID: body.AccountID,
		From:      from,
		To:        to,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type importRequest struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenantId"`
	AccountID  string          `json:"accountId"`
	ExternalID string          `json:"externalId"`
	Amount     decimal.Decimal `json:"amount"`
	PostedAt   string          `json:"postedAt"`
	Payee      string          `json:"payee"`
	Memo       string          `json:"memo"`
}

// ImportBankTransaction registers a statement line
func (h *Handler) ImportBankTransaction(c *gin.Context) {
	var body importRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badBody(c, err)
		return
	}
	posted, err := parseDate("postedAt", body.PostedAt)
	if err != nil {
		h.fail(c, err)
		return
	}

	txn, created, err := h.service.Import(c.Request.Context(), &models.BankTransaction{
		ID:         body.ID,
		TenantID:   body.TenantID,
		AccountID:  body.AccountID,
		ExternalID: body.ExternalID,
		Amount:     body.Amount,
		PostedAt:   posted,
		Payee:      body.Payee,
		Memo:       body.Memo,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, respond(txn, nil))
}

type ledgerEntryRequest struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenantId"`
	AccountID   string          `json:"accountId"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
}

// AddLedgerEntry records a ledger entry available for matching
func (h *Handler) AddLedgerEntry(c *gin.Context) {
	var body ledgerEntryRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badBody(c, err)
		return
	}
	date, err := parseDate("date", body.Date)
	if err != nil {
		h.fail(c, err)
		return
	}
	// an untyped entry takes its type from the sign of the amount
	typ := models.EntryTypeIncome
	if body.Amount.IsNegative() {
		typ = models.EntryTypeExpense
	}
	if strings.TrimSpace(body.Type) != "" {
		if typ, err = models.ParseEntryType(body.Type); err != nil {
			h.fail(c, errors.InvalidRequestError(errors.CodeInvalidValue, "type", body.Type))
			return
		}
	}

	entry, err := h.service.AddLedgerEntry(c.Request.Context(), &models.LedgerEntry{
		ID:          body.ID,
		TenantID:    body.TenantID,
		AccountID:   body.AccountID,
		Amount:      body.Amount,
		Type:        typ,
		Date:        date,
		Description: body.Description,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
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
