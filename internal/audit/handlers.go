package audit

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for the audit ledger and compliance
// reporting.
type Handler struct {
	ledger   *Ledger
	reporter *Reporter
	exporter *Exporter
}

// NewHandler creates a new audit handler.
func NewHandler(ledger *Ledger, reporter *Reporter, exporter *Exporter) *Handler {
	return &Handler{ledger: ledger, reporter: reporter, exporter: exporter}
}

// RegisterRoutes sets up audit and compliance endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/audit/events", h.LogEvent)
	r.GET("/audit/events", h.QueryEvents)
	r.POST("/audit/export", h.Export)
	r.POST("/audit/import", h.Import)
	r.POST("/audit/violations/:violationId/resolve", h.ResolveViolation)
	r.GET("/identities/:identityId/compliance/report", h.ComplianceReport)
}

// LogEvent appends an event to the ledger. Callers on the operation path use
// the internal best-effort Record; this endpoint is for external systems that
// need append durability confirmed.
func (h *Handler) LogEvent(c *gin.Context) {
	var e Event
	if err := c.ShouldBindJSON(&e); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be an audit event",
		})
		return
	}

	if err := h.ledger.Append(c.Request.Context(), &e); err != nil {
		if errors.Is(err, ErrMissingField) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "append_failed",
			"message": "Failed to append audit event",
		})
		return
	}
	c.JSON(http.StatusCreated, e)
}

// QueryEvents returns events matching the query parameters, in insertion
// order. GET /v1/audit/events?identityId=&operationType=&success=&from=&to=&limit=
func (h *Handler) QueryEvents(c *gin.Context) {
	f := &Filter{
		IdentityID:    c.Query("identityId"),
		OperationType: c.Query("operationType"),
	}
	if s := c.Query("success"); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			f.Success = &b
		}
	}
	if from := c.Query("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			f.From = t
		}
	}
	if to := c.Query("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			f.To = t
		}
	}
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			f.Limit = parsed
			if f.Limit > 1000 {
				f.Limit = 1000
			}
		}
	}

	events, err := h.ledger.Query(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "query_failed",
			"message": "Failed to query audit events",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

type exportRequest struct {
	IdentityID string `json:"identityId"`
	From       string `json:"from"`
	To         string `json:"to"`
	Format     string `json:"format" binding:"required"`
}

// Export serializes the matching events to a file and returns its handle.
func (h *Handler) Export(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'format' (json, csv or pdf)",
		})
		return
	}

	f := &Filter{IdentityID: req.IdentityID}
	if req.From != "" {
		if t, err := time.Parse(time.RFC3339, req.From); err == nil {
			f.From = t
		}
	}
	if req.To != "" {
		if t, err := time.Parse(time.RFC3339, req.To); err == nil {
			f.To = t
		}
	}

	file, err := h.exporter.Export(c.Request.Context(), f, Format(req.Format))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "export_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"file": file})
}

type importRequest struct {
	File string `json:"file" binding:"required"`
}

// Import reads a JSON export back and returns the event set.
func (h *Handler) Import(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'file'",
		})
		return
	}

	events, err := h.exporter.Import(req.File)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "import_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// ResolveViolation marks a compliance violation resolved.
func (h *Handler) ResolveViolation(c *gin.Context) {
	if err := h.reporter.Resolve(c.Request.Context(), c.Param("violationId")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "violation_not_found",
			"message": "Violation not found or already resolved",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// ComplianceReport generates a compliance report for an identity over a
// period. Defaults to the last 30 days.
func (h *Handler) ComplianceReport(c *gin.Context) {
	identityID := c.Param("identityId")

	to := time.Now()
	from := to.AddDate(0, 0, -30)
	if s := c.Query("from"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			from = t
		}
	}
	if s := c.Query("to"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			to = t
		}
	}

	report, err := h.reporter.GenerateReport(c.Request.Context(), identityID, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "report_failed",
			"message": "Failed to generate compliance report",
		})
		return
	}
	c.JSON(http.StatusOK, report)
}
