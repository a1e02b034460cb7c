package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hostel-concierge/internal/classify"
	"github.com/hostel-concierge/internal/config"
	"github.com/hostel-concierge/internal/conversation"
	"github.com/hostel-concierge/internal/jsonx"
	"github.com/hostel-concierge/internal/pipeline"
	"github.com/hostel-concierge/internal/policy"
	"github.com/hostel-concierge/internal/routing"
)

func newTestServer(t *testing.T) (*Server, *mux.Router, *conversation.Store) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	intents := []config.Intent{
		{Name: "wifi", Keywords: []string{"wifi", "password"}},
	}
	routes := map[string]config.Route{
		"wifi": {Action: "static_reply"},
	}

	limiter := policy.NewRateLimiter(policy.RateLimitConfig{
		RequestsPerMinute: 100,
		RequestsPerHour:   1000,
	}, nil, logger)
	t.Cleanup(limiter.Close)

	store := conversation.NewStore(nil, logger)
	fuzzy := classify.NewFuzzyMatcher(intents, 0.5, logger)
	t.Cleanup(fuzzy.Close)
	cascade := classify.NewCascade([]classify.Tier{fuzzy}, nil, 0.6, logger)
	resolver := routing.NewResolver(routes, store, nil, logger)
	languages := classify.NewLanguageResolver([]string{"en"})

	p := pipeline.New(limiter, store, cascade, resolver, languages, nil, nil, logger)

	hash, err := HashPassword("hunter2hunter2")
	require.NoError(t, err)
	srv := NewServer(p, store, limiter, resolver, []StaffAccount{{Username: "admin", PasswordHash: hash}}, logger)

	router := mux.NewRouter()
	srv.SetupRoutes(router)
	return srv, router, store
}

func postJSON(t *testing.T, router *mux.Router, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := jsonx.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	_, router, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestClassifyEndpoint(t *testing.T) {
	_, router, _ := newTestServer(t)

	w := postJSON(t, router, "/api/classify", pipeline.Request{Sender: "guest-1", Text: "wifi password"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp pipeline.Response
	require.NoError(t, jsonx.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Classification)
	assert.Equal(t, "wifi", resp.Classification.Intent)
	assert.Equal(t, "static_reply", resp.Routing.Action)
}

func TestStatsReportsMissingRoutes(t *testing.T) {
	_, router, _ := newTestServer(t)

	// No route table entry exists for an unclassifiable message, so the
	// gap shows up in the stats counters.
	w := postJSON(t, router, "/api/classify", pipeline.Request{Sender: "guest-2", Text: "zzqx blorp"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats struct {
		MissingRoutes map[string]int `json:"missing_routes"`
	}
	require.NoError(t, jsonx.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.MissingRoutes[classify.IntentUnknown])
}

func TestClassifyRejectsEmptyBody(t *testing.T) {
	_, router, _ := newTestServer(t)

	w := postJSON(t, router, "/api/classify", map[string]string{"sender": ""}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReplyEndpointRecordsHistory(t *testing.T) {
	_, router, store := newTestServer(t)

	w := postJSON(t, router, "/api/reply", map[string]string{"sender": "guest-1", "text": "Here you go."}, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	state := store.GetOrCreate("guest-1", "")
	require.Len(t, state.History, 1)
	assert.Equal(t, "assistant", state.History[0].Role)
}

func TestLoginAndAdminFlow(t *testing.T) {
	_, router, store := newTestServer(t)
	store.GetOrCreate("guest-9", "")
	store.AddMessage("guest-9", "user", "hello")

	// Bad credentials rejected.
	w := postJSON(t, router, "/api/admin/login", map[string]string{"username": "admin", "password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Good credentials issue a token.
	w = postJSON(t, router, "/api/admin/login", map[string]string{"username": "admin", "password": "hunter2hunter2"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, jsonx.Unmarshal(w.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)

	// Admin delete without a token is refused.
	req := httptest.NewRequest(http.MethodDelete, "/api/admin/conversations/guest-9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// With the token the conversation is cleared.
	req = httptest.NewRequest(http.MethodDelete, "/api/admin/conversations/guest-9", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, store.Count())
}

func TestAdminRejectsGarbageToken(t *testing.T) {
	_, router, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/admin/conversations/guest-1", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret-passphrase")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "s3cret-passphrase"))
	assert.False(t, CheckPassword(hash, "wrong"))
}
