package governance

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AnarQorp/qwallet-core/internal/errs"
	"github.com/AnarQorp/qwallet-core/internal/identity"
	"github.com/AnarQorp/qwallet-core/internal/permission"
)

// Handler provides HTTP endpoints for limits and governance change requests.
type Handler struct {
	svc        *Service
	identities identity.Provider
}

// NewHandler creates a new governance handler.
func NewHandler(svc *Service, identities identity.Provider) *Handler {
	return &Handler{svc: svc, identities: identities}
}

// RegisterRoutes sets up governance endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/identities/:identityId/limits", h.GetLimits)
	r.POST("/identities/:identityId/limits/requests", h.RequestChange)
	r.GET("/identities/:identityId/limits/requests", h.ListRequests)
	r.GET("/governance/requests/:requestId", h.GetRequest)
	r.POST("/governance/requests/:requestId/decide", h.Decide)
}

// GetLimits returns the identity's effective limits, falling back to the
// type default when no explicit limits were set.
func (h *Handler) GetLimits(c *gin.Context) {
	ident, err := h.identities.Get(c.Request.Context(), c.Param("identityId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "identity_not_found",
			"message": "Identity not found",
		})
		return
	}

	limits, err := h.svc.LimitsFor(c.Request.Context(), ident)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "limits_unavailable",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, limits)
}

type changeRequestBody struct {
	RequestedBy string             `json:"requestedBy" binding:"required"`
	NewLimits   *permission.Limits `json:"newLimits" binding:"required"`
}

// RequestChange submits a limits change. Requesters with governance
// capability see it applied immediately (200); everyone else gets the
// pending request back with 202.
func (h *Handler) RequestChange(c *gin.Context) {
	var body changeRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'requestedBy' and 'newLimits'",
		})
		return
	}

	requester, err := h.identities.Get(c.Request.Context(), body.RequestedBy)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "identity_not_found",
			"message": "Requesting identity not found",
		})
		return
	}

	req, err := h.svc.RequestChange(c.Request.Context(), requester, c.Param("identityId"), body.NewLimits)
	if err != nil {
		if errs.KindOf(err) == errs.KindGovernanceRequired {
			c.JSON(http.StatusAccepted, gin.H{
				"request": req,
				"message": err.Error(),
			})
			return
		}
		if errs.KindOf(err) == errs.KindConfigValidation {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_failed",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

// ListRequests lists change requests for an identity, optionally filtered by
// status. GET /v1/identities/:identityId/limits/requests?status=PENDING
func (h *Handler) ListRequests(c *gin.Context) {
	requests, err := h.svc.Requests(c.Request.Context(), c.Param("identityId"), RequestStatus(c.Query("status")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "query_failed",
			"message": "Failed to list change requests",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests, "count": len(requests)})
}

// GetRequest returns a single change request.
func (h *Handler) GetRequest(c *gin.Context) {
	req, err := h.svc.Request(c.Request.Context(), c.Param("requestId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "request_not_found",
			"message": "Change request not found",
		})
		return
	}
	c.JSON(http.StatusOK, req)
}

type decideBody struct {
	ApproverID string `json:"approverId" binding:"required"`
	Approve    bool   `json:"approve"`
	Reason     string `json:"reason"`
}

// Decide approves or rejects a pending change request.
func (h *Handler) Decide(c *gin.Context) {
	var body decideBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'approverId'",
		})
		return
	}

	approver, err := h.identities.Get(c.Request.Context(), body.ApproverID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "identity_not_found",
			"message": "Approving identity not found",
		})
		return
	}

	req, err := h.svc.Decide(c.Request.Context(), approver, c.Param("requestId"), body.Approve, body.Reason)
	if err != nil {
		switch {
		case errors.Is(err, ErrRequestNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "request_not_found",
				"message": "Change request not found",
			})
		case errors.Is(err, ErrNotPending):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_decided",
				"message": "Change request was already decided",
			})
		case errs.KindOf(err) == errs.KindGovernanceRequired:
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "governance_required",
				"message": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}
	c.JSON(http.StatusOK, req)
}
