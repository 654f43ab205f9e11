package risk

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnarQorp/qwallet-core/internal/audit"
	"github.com/AnarQorp/qwallet-core/internal/identity"
)

type handlerFixture struct {
	router  *gin.Engine
	ledger  *audit.Ledger
	tracker *ReputationTracker
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ledger := testLedger(t)
	tracker := NewReputationTracker(NewMemoryReputationStore())
	engine := NewEngine(DefaultConfig(), ledger, tracker)

	idents := identity.NewMemoryStore()
	idents.Put(&identity.Identity{ID: "did:test:root", Type: identity.TypeRoot})
	idents.Put(&identity.Identity{ID: "did:test:aid", Type: identity.TypeAID})

	router := gin.New()
	NewHandler(engine, tracker, idents).RegisterRoutes(router.Group("/api/v1"))
	return &handlerFixture{router: router, ledger: ledger, tracker: tracker}
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

func TestHandler_GetRisk(t *testing.T) {
	f := newHandlerFixture(t)

	w := doJSON(t, f.router, http.MethodGet, "/api/v1/identities/did:test:root/risk", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var a Assessment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
	assert.Equal(t, "did:test:root", a.IdentityID)
	assert.Equal(t, LevelLow, a.RiskLevel)
	assert.Len(t, a.Factors, 4)

	w = doJSON(t, f.router, http.MethodGet, "/api/v1/identities/did:test:ghost/risk", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "identity_not_found")
}

func TestHandler_AssessRiskWithPendingOperation(t *testing.T) {
	f := newHandlerFixture(t)

	// A large hypothetical transfer moves the amount factor off zero.
	w := doJSON(t, f.router, http.MethodPost, "/api/v1/identities/did:test:root/risk/assess",
		map[string]interface{}{
			"pendingOperation": map[string]interface{}{
				"type":   "TRANSFER",
				"amount": 60000,
				"token":  "QToken",
			},
		})
	require.Equal(t, http.StatusOK, w.Code)

	var a Assessment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
	assert.Greater(t, a.RiskScore, 0.0)
}

func TestHandler_AssessRiskEmptyBody(t *testing.T) {
	f := newHandlerFixture(t)

	// No body is a plain recompute, not a bad request.
	w := doJSON(t, f.router, http.MethodPost, "/api/v1/identities/did:test:root/risk/assess", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var a Assessment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
	assert.Equal(t, LevelLow, a.RiskLevel)
}

func TestHandler_AssessRiskExternalFactors(t *testing.T) {
	f := newHandlerFixture(t)

	w := doJSON(t, f.router, http.MethodPost, "/api/v1/identities/did:test:root/risk/assess",
		map[string]interface{}{
			"externalFactors": []map[string]interface{}{{
				"category":    "device",
				"severity":    "CRITICAL",
				"score":       1.0,
				"description": "login from unrecognized device",
			}},
		})
	require.Equal(t, http.StatusOK, w.Code)

	var a Assessment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
	assert.InDelta(t, 0.20, a.RiskScore, 0.001)
}

func TestHandler_GetReputationDefaults(t *testing.T) {
	f := newHandlerFixture(t)

	w := doJSON(t, f.router, http.MethodGet, "/api/v1/identities/did:test:root/reputation", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		IdentityID string `json:"identityId"`
		Score      int    `json:"score"`
		Tier       Tier   `json:"tier"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "did:test:root", body.IdentityID)
	assert.Equal(t, DefaultReputation, body.Score)
	assert.Equal(t, TierNeutral, body.Tier)
}

func TestHandler_ApplyReputationEvent(t *testing.T) {
	f := newHandlerFixture(t)

	w := doJSON(t, f.router, http.MethodPost, "/api/v1/identities/did:test:root/reputation/events",
		map[string]interface{}{"delta": 250, "reason": "verified KYC"})
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Score int  `json:"score"`
		Tier  Tier `json:"tier"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 750, body.Score)
	assert.Equal(t, TierTrusted, body.Tier)

	// Zero delta fails binding.
	w = doJSON(t, f.router, http.MethodPost, "/api/v1/identities/did:test:root/reputation/events",
		map[string]interface{}{"reason": "noop"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request")
}
