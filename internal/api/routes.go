package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"conciliation-service/pkg/logger"
)

// NewRouter builds the gin engine with every route registered
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.logger))
	RegisterRoutes(r, h)
	return r
}

// RegisterRoutes registers the API routes on r
func RegisterRoutes(r gin.IRouter, h *Handler) {
	r.GET("/healthz", h.Health)

	api := r.Group("/api")
	{
		txns := api.Group("/bank-transactions")
		{
			txns.POST("", h.ImportBankTransaction)
			txns.POST("/suggestions/run", h.RunSuggestions)
			txns.GET("/:id", h.GetBankTransaction)
			txns.GET("/:id/classification", h.Classification)
			txns.POST("/:id/create-suggestion", h.CreateSuggestion)
			txns.POST("/:id/conciliate", h.Conciliate)
			txns.POST("/:id/reject", h.Reject)
			txns.POST("/:id/unlink", h.Unlink)
			txns.POST("/:id/ignore", h.Ignore)
		}

		entries := api.Group("/ledger-entries")
		{
			entries.POST("", h.AddLedgerEntry)
		}
	}
}

// requestLogger logs one line per request
func requestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logger.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		})
		if c.Writer.Status() >= 500 {
			entry.Warn("Request completed with server error")
			return
		}
		entry.Debug("Request completed")
	}
}
