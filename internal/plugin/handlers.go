package plugin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AnarQorp/qwallet-core/internal/errs"
	"github.com/AnarQorp/qwallet-core/internal/identity"
)

// Handler provides HTTP endpoints for the plugin runtime.
type Handler struct {
	manager    *Manager
	identities identity.Provider
}

// NewHandler creates a new plugin handler.
func NewHandler(manager *Manager, identities identity.Provider) *Handler {
	return &Handler{manager: manager, identities: identities}
}

// RegisterRoutes sets up plugin runtime endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/plugins", h.ListPlugins)
	r.POST("/plugins", h.RegisterPlugin)
	r.GET("/plugins/:pluginId", h.GetPlugin)
	r.DELETE("/plugins/:pluginId", h.UnregisterPlugin)
	r.GET("/plugins/:pluginId/validate", h.ValidatePlugin)
	r.POST("/plugins/:pluginId/activate", h.ActivatePlugin)
	r.POST("/plugins/:pluginId/deactivate", h.DeactivatePlugin)
	r.POST("/plugins/:pluginId/reload", h.ReloadPlugin)
	r.POST("/plugins/:pluginId/enable", h.EnablePlugin)
	r.POST("/plugins/:pluginId/disable", h.DisablePlugin)
	r.PUT("/plugins/:pluginId/config", h.UpdateConfig)
	r.POST("/plugins/:pluginId/execute", h.ExecutePlugin)
}

// ListPlugins returns all registered plugins in registration order.
func (h *Handler) ListPlugins(c *gin.Context) {
	plugins, err := h.manager.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plugins": plugins, "count": len(plugins)})
}

// RegisterPlugin registers plugin metadata. Plugins registered over the API
// have no in-process code; they are bound to a no-op instance and serve as
// dependency targets and hook-configuration carriers.
func (h *Handler) RegisterPlugin(c *gin.Context) {
	var p Plugin
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be a plugin manifest",
		})
		return
	}

	registered, err := h.manager.Register(c.Request.Context(), &p, NopInstance{})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, registered)
}

// GetPlugin returns a single plugin's metadata and status.
func (h *Handler) GetPlugin(c *gin.Context) {
	p, err := h.manager.Get(c.Request.Context(), c.Param("pluginId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// UnregisterPlugin removes a non-active plugin from the registry.
func (h *Handler) UnregisterPlugin(c *gin.Context) {
	if err := h.manager.Unregister(c.Request.Context(), c.Param("pluginId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ValidatePlugin checks metadata, configuration and dependency closure
// without changing status.
func (h *Handler) ValidatePlugin(c *gin.Context) {
	res, err := h.manager.Validate(c.Request.Context(), c.Param("pluginId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ActivatePlugin activates a plugin and its dependency closure.
func (h *Handler) ActivatePlugin(c *gin.Context) {
	if err := h.manager.Activate(c.Request.Context(), c.Param("pluginId")); err != nil {
		writeError(c, err)
		return
	}
	p, err := h.manager.Get(c.Request.Context(), c.Param("pluginId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// DeactivatePlugin deactivates a plugin, cascading through active dependents.
func (h *Handler) DeactivatePlugin(c *gin.Context) {
	if err := h.manager.Deactivate(c.Request.Context(), c.Param("pluginId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReloadPlugin deactivates and reactivates a plugin.
func (h *Handler) ReloadPlugin(c *gin.Context) {
	if err := h.manager.Reload(c.Request.Context(), c.Param("pluginId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// EnablePlugin returns a disabled plugin to inactive.
func (h *Handler) EnablePlugin(c *gin.Context) {
	if err := h.manager.Enable(c.Request.Context(), c.Param("pluginId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DisablePlugin administratively disables a plugin.
func (h *Handler) DisablePlugin(c *gin.Context) {
	if err := h.manager.Disable(c.Request.Context(), c.Param("pluginId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateConfig replaces a plugin's configuration. Active plugins keep running
// on the old configuration until the next reload.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var cfg Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be a plugin configuration",
		})
		return
	}
	if err := h.manager.UpdateConfig(c.Request.Context(), c.Param("pluginId"), cfg); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type executeRequest struct {
	Method     string                 `json:"method" binding:"required"`
	Params     map[string]interface{} `json:"params"`
	IdentityID string                 `json:"identityId"`
}

// ExecutePlugin runs a plugin method, optionally on behalf of an identity.
func (h *Handler) ExecutePlugin(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'method'",
		})
		return
	}

	var ident *identity.Identity
	if req.IdentityID != "" {
		var err error
		ident, err = h.identities.Get(c.Request.Context(), req.IdentityID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "identity_not_found",
				"message": "Identity not found",
			})
			return
		}
	}

	result, err := h.manager.Execute(c.Request.Context(), c.Param("pluginId"), req.Method, req.Params, ident)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// writeError maps runtime errors onto HTTP responses.
func writeError(c *gin.Context, err error) {
	if errors.Is(err, ErrNotRegistered) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "plugin_not_found",
			"message": "Plugin is not registered",
		})
		return
	}

	var status int
	var code string
	switch errs.KindOf(err) {
	case errs.KindPluginValidation, errs.KindConfigValidation:
		status, code = http.StatusBadRequest, "validation_failed"
	case errs.KindPluginDependency:
		status, code = http.StatusConflict, "dependency_conflict"
	case errs.KindPluginPermission:
		status, code = http.StatusForbidden, "permission_denied"
	case errs.KindService:
		status, code = http.StatusServiceUnavailable, "service_unavailable"
	default:
		status, code = http.StatusInternalServerError, "internal_error"
	}

	resp := gin.H{"error": code, "message": err.Error()}
	var tagged *errs.Error
	if errors.As(err, &tagged) && len(tagged.Details) > 0 {
		resp["details"] = tagged.Details
	}
	c.JSON(status, resp)
}
