package governance

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnarQorp/qwallet-core/internal/identity"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	idents := identity.NewMemoryStore()
	idents.Put(&identity.Identity{ID: "did:test:root", Type: identity.TypeRoot})
	idents.Put(&identity.Identity{ID: "did:test:dao", Type: identity.TypeDAO})
	idents.Put(&identity.Identity{ID: "did:test:kid", Type: identity.TypeConsentida})

	router := gin.New()
	NewHandler(NewService(NewMemoryStore()), idents).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func limitsBody(daily float64) map[string]interface{} {
	return map[string]interface{}{
		"dailyTransferLimit":   daily,
		"monthlyTransferLimit": daily * 10,
		"maxTransactionAmount": daily / 2,
		"allowedTokens":        []string{"QToken"},
	}
}

func TestHandler_GetLimitsFallsBackToDefaults(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/identities/did:test:dao/limits", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var limits map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &limits))
	assert.InDelta(t, 50000.0, limits["dailyTransferLimit"].(float64), 0.001)

	w = doJSON(t, router, http.MethodGet, "/api/v1/identities/did:test:ghost/limits", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_SelfGoverningChangeApplies(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/identities/did:test:root/limits/requests",
		map[string]interface{}{
			"requestedBy": "did:test:root",
			"newLimits":   limitsBody(20000),
		})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Request ChangeRequest `json:"request"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusApproved, resp.Request.Status)

	w = doJSON(t, router, http.MethodGet, "/api/v1/identities/did:test:root/limits", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var limits map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &limits))
	assert.InDelta(t, 20000.0, limits["dailyTransferLimit"].(float64), 0.001)
}

func TestHandler_NonGoverningChangeIsAccepted(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/identities/did:test:kid/limits/requests",
		map[string]interface{}{
			"requestedBy": "did:test:kid",
			"newLimits":   limitsBody(200),
		})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		Request ChangeRequest `json:"request"`
		Message string        `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusPending, resp.Request.Status)
	assert.Contains(t, resp.Message, "governance approval")
}

func TestHandler_DecideFlow(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/identities/did:test:kid/limits/requests",
		map[string]interface{}{
			"requestedBy": "did:test:kid",
			"newLimits":   limitsBody(200),
		})
	require.Equal(t, http.StatusAccepted, w.Code)
	var created struct {
		Request ChangeRequest `json:"request"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	reqID := created.Request.ID

	// Non-governing approver is refused.
	w = doJSON(t, router, http.MethodPost, "/api/v1/governance/requests/"+reqID+"/decide",
		map[string]interface{}{"approverId": "did:test:kid", "approve": true})
	require.Equal(t, http.StatusForbidden, w.Code)

	// DAO approves.
	w = doJSON(t, router, http.MethodPost, "/api/v1/governance/requests/"+reqID+"/decide",
		map[string]interface{}{"approverId": "did:test:dao", "approve": true, "reason": "ok"})
	require.Equal(t, http.StatusOK, w.Code)
	var decided ChangeRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decided))
	assert.Equal(t, StatusApproved, decided.Status)

	// Deciding twice conflicts.
	w = doJSON(t, router, http.MethodPost, "/api/v1/governance/requests/"+reqID+"/decide",
		map[string]interface{}{"approverId": "did:test:dao", "approve": false})
	require.Equal(t, http.StatusConflict, w.Code)

	// The approved limits are now effective.
	w = doJSON(t, router, http.MethodGet, "/api/v1/identities/did:test:kid/limits", nil)
	var limits map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &limits))
	assert.InDelta(t, 200.0, limits["dailyTransferLimit"].(float64), 0.001)
}

func TestHandler_DecideUnknownRequest(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/governance/requests/gcr_missing/decide",
		map[string]interface{}{"approverId": "did:test:dao", "approve": true})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_ListRequestsFiltersByStatus(t *testing.T) {
	router := newTestRouter(t)

	for _, daily := range []float64{200, 300} {
		w := doJSON(t, router, http.MethodPost, "/api/v1/identities/did:test:kid/limits/requests",
			map[string]interface{}{
				"requestedBy": "did:test:kid",
				"newLimits":   limitsBody(daily),
			})
		require.Equal(t, http.StatusAccepted, w.Code)
	}

	w := doJSON(t, router, http.MethodGet, "/api/v1/identities/did:test:kid/limits/requests?status=PENDING", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}

func TestHandler_InvalidLimitsRejected(t *testing.T) {
	router := newTestRouter(t)

	body := limitsBody(200)
	body["dailyTransferLimit"] = -5.0
	w := doJSON(t, router, http.MethodPost, "/api/v1/identities/did:test:root/limits/requests",
		map[string]interface{}{
			"requestedBy": "did:test:root",
			"newLimits":   body,
		})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/identities/did:test:root/limits/requests",
		map[string]interface{}{"requestedBy": "did:test:root"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}
