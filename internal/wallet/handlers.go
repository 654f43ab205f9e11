package wallet

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AnarQorp/qwallet-core/internal/errs"
	"github.com/AnarQorp/qwallet-core/internal/identity"
	"github.com/AnarQorp/qwallet-core/internal/permission"
	"github.com/AnarQorp/qwallet-core/internal/risk"
)

// Handler provides HTTP endpoints for wallet operations.
type Handler struct {
	svc *Service
}

// NewHandler creates a new wallet handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up wallet operation endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/wallet/operations", h.ExecuteOperation)
	r.POST("/wallet/operations/validate", h.ValidateOperation)
	r.POST("/wallet/switch", h.SwitchIdentity)
}

type operationRequest struct {
	Type            string        `json:"type" binding:"required"`
	IdentityID      string        `json:"identityId" binding:"required"`
	Amount          float64       `json:"amount"`
	Token           string        `json:"token"`
	Recipient       string        `json:"recipient"`
	ExternalFactors []risk.Factor `json:"externalFactors"`
}

func (r *operationRequest) operation() *permission.Operation {
	return &permission.Operation{
		Type:       identity.OperationType(r.Type),
		IdentityID: r.IdentityID,
		Amount:     r.Amount,
		Token:      r.Token,
		Recipient:  r.Recipient,
		Timestamp:  time.Now(),
	}
}

// ExecuteOperation validates and executes a wallet operation end to end.
func (h *Handler) ExecuteOperation(c *gin.Context) {
	var req operationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'type' and 'identityId'",
		})
		return
	}

	result, err := h.svc.Execute(c.Request.Context(), req.operation(), req.ExternalFactors)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	status := http.StatusOK
	if result.Status == StatusPendingApproval {
		status = http.StatusAccepted
	}
	c.JSON(status, result)
}

// ValidateOperation runs the permission pipeline without executing.
// Advisory only: execution re-validates under the identity lock.
func (h *Handler) ValidateOperation(c *gin.Context) {
	var req operationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'type' and 'identityId'",
		})
		return
	}

	verdict, assessment, err := h.svc.Validate(c.Request.Context(), req.operation(), req.ExternalFactors)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verdict": verdict, "assessment": assessment})
}

type switchRequest struct {
	FromIdentityID string `json:"fromIdentityId"`
	ToIdentityID   string `json:"toIdentityId" binding:"required"`
}

// SwitchIdentity revalidates the wallet context against a new identity.
func (h *Handler) SwitchIdentity(c *gin.Context) {
	var req switchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'toIdentityId'",
		})
		return
	}

	assessment, err := h.svc.SwitchIdentity(c.Request.Context(), req.FromIdentityID, req.ToIdentityID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessment": assessment})
}

func writeServiceError(c *gin.Context, err error) {
	if errors.Is(err, identity.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "identity_not_found",
			"message": "Identity not found",
		})
		return
	}
	switch errs.KindOf(err) {
	case errs.KindService:
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "service_unavailable",
			"message": err.Error(),
		})
	case errs.KindConfigValidation:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
