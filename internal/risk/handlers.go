package risk

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AnarQorp/qwallet-core/internal/identity"
)

// Handler provides HTTP endpoints for risk assessment and reputation.
type Handler struct {
	engine     *Engine
	reputation *ReputationTracker
	identities identity.Provider
}

// NewHandler creates a new risk handler.
func NewHandler(engine *Engine, reputation *ReputationTracker, identities identity.Provider) *Handler {
	return &Handler{engine: engine, reputation: reputation, identities: identities}
}

// RegisterRoutes sets up risk and reputation endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/identities/:identityId/risk", h.GetRisk)
	r.POST("/identities/:identityId/risk/assess", h.AssessRisk)
	r.GET("/identities/:identityId/reputation", h.GetReputation)
	r.POST("/identities/:identityId/reputation/events", h.ApplyReputationEvent)
}

// GetRisk returns the current (cached or freshly computed) assessment.
func (h *Handler) GetRisk(c *gin.Context) {
	ident, err := h.identities.Get(c.Request.Context(), c.Param("identityId"))
	if err != nil {
		writeIdentityError(c, err)
		return
	}

	assessment, err := h.engine.Current(c.Request.Context(), ident, nil, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "assessment_failed",
			"message": "Failed to compute risk assessment",
		})
		return
	}
	c.JSON(http.StatusOK, assessment)
}

type assessRequest struct {
	PendingOperation *struct {
		Type   string  `json:"type"`
		Amount float64 `json:"amount"`
		Token  string  `json:"token"`
	} `json:"pendingOperation"`
	ExternalFactors []Factor `json:"externalFactors"`
}

// AssessRisk forces a fresh assessment, optionally against a hypothetical
// pending operation and externally supplied anomaly factors.
func (h *Handler) AssessRisk(c *gin.Context) {
	ident, err := h.identities.Get(c.Request.Context(), c.Param("identityId"))
	if err != nil {
		writeIdentityError(c, err)
		return
	}

	var req assessRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body is malformed",
		})
		return
	}

	var pending *PendingOperation
	if req.PendingOperation != nil {
		pending = &PendingOperation{
			Type:   identity.OperationType(req.PendingOperation.Type),
			Amount: req.PendingOperation.Amount,
			Token:  req.PendingOperation.Token,
		}
	}

	assessment, err := h.engine.Assess(c.Request.Context(), ident, pending, req.ExternalFactors)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "assessment_failed",
			"message": "Failed to compute risk assessment",
		})
		return
	}
	c.JSON(http.StatusOK, assessment)
}

// GetReputation returns the identity's reputation score and tier.
func (h *Handler) GetReputation(c *gin.Context) {
	identityID := c.Param("identityId")
	score, tier := h.reputation.Current(c.Request.Context(), identityID)
	c.JSON(http.StatusOK, gin.H{
		"identityId": identityID,
		"score":      score,
		"tier":       tier,
	})
}

type reputationEventRequest struct {
	Delta  int    `json:"delta" binding:"required"`
	Reason string `json:"reason"`
}

// ApplyReputationEvent records an explicit reputation movement.
func (h *Handler) ApplyReputationEvent(c *gin.Context) {
	var req reputationEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain a non-zero 'delta'",
		})
		return
	}

	identityID := c.Param("identityId")
	score, err := h.reputation.Apply(c.Request.Context(), &ReputationEvent{
		IdentityID: identityID,
		Delta:      req.Delta,
		Reason:     req.Reason,
		OccurredAt: time.Now(),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "reputation_update_failed",
			"message": "Failed to apply reputation event",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"identityId": identityID,
		"score":      score,
		"tier":       TierFor(score),
	})
}

func writeIdentityError(c *gin.Context, err error) {
	if errors.Is(err, identity.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "identity_not_found",
			"message": "Identity not found",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": err.Error(),
	})
}
