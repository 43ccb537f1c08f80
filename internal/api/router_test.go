package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/elysion/user-service/internal/core/domain"
	"github.com/elysion/user-service/internal/core/service"
	"github.com/elysion/user-service/internal/infrastructure/db/memory"
)

// outbox captures the tokens the service would mail out.
type outbox struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (o *outbox) NotifyActivation(_ context.Context, u *domain.User, t *domain.Token) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tokens["activation:"+u.Email] = t.Value
}

func (o *outbox) NotifyEmailChange(_ context.Context, u *domain.User, t *domain.Token) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tokens["email_change:"+*u.PendingEmail] = t.Value
}

func (o *outbox) token(key string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tokens[key]
}

type testServer struct {
	handler http.Handler
	store   *memory.Store
	mail    *outbox
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	hasher, err := service.NewCredentialHasher("pepper", bcrypt.MinCost)
	require.NoError(t, err)
	sessions, err := service.NewSessionIssuer(service.SessionConfig{Secret: "secret", Issuer: "https://id.example.com", Audience: "shop"})
	require.NoError(t, err)

	store := memory.NewStore()
	mail := &outbox{tokens: map[string]string{}}
	identity := service.NewIdentityService(service.IdentityDeps{
		Store:    store,
		Hasher:   hasher,
		Ledger:   service.NewTokenLedger(store, nil),
		Sessions: sessions,
		Notifier: mail,
	}, service.DefaultIdentityPolicy(), zerolog.Nop())

	e := NewRouter(Deps{
		Identity:    identity,
		Preferences: service.NewPreferenceService(store, nil, zerolog.Nop()),
		Sessions:    sessions,
		Registry:    prometheus.NewRegistry(),
		Log:         zerolog.Nop(),
	})
	return &testServer{handler: e, store: store, mail: mail}
}

func (s *testServer) do(t *testing.T, method, target, body, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) activeUser(t *testing.T, email, password string) (id, session string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/users/register",
		`{"email":"`+email+`","password":"`+password+`","firstName":"Test","lastName":"User"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id = decode(t, rec)["id"].(string)

	rec = s.do(t, http.MethodGet, "/users/confirm-email?token="+s.mail.token("activation:"+email), "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/users/login", `{"email":"`+email+`","password":"`+password+`"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return id, decode(t, rec)["token"].(string)
}

func TestRouter_RegistrationAndLoginFlow(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/users/register",
		`{"email":"alice@example.com","password":"correct-horse","firstName":"Alice","lastName":"Liddell"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/users/login", `{"email":"alice@example.com","password":"correct-horse"}`, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_activated", decode(t, rec)["kind"])

	rec = s.do(t, http.MethodGet, "/users/confirm-email?token="+s.mail.token("activation:alice@example.com"), "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/users/login", `{"email":"alice@example.com","password":"correct-horse"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	token := decode(t, rec)["token"].(string)
	assert.Equal(t, "Bearer "+token, rec.Header().Get("Authorization"))

	rec = s.do(t, http.MethodGet, "/users/me", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode(t, rec)
	assert.Equal(t, "alice@example.com", me["email"])
	assert.Equal(t, "Alice", me["firstName"])
}

func TestRouter_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	s.activeUser(t, "bob@example.com", "correct-horse")

	cases := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{"duplicate email", http.MethodPost, "/users/register", `{"email":"bob@example.com","password":"another-pass","firstName":"B","lastName":"B"}`, http.StatusConflict},
		{"wrong password", http.MethodPost, "/users/login", `{"email":"bob@example.com","password":"nope-nope"}`, http.StatusUnauthorized},
		{"unknown token", http.MethodGet, "/users/confirm-email?token=bogus", "", http.StatusBadRequest},
		{"validation", http.MethodPost, "/users/register", `{"email":"x","password":"1","firstName":"","lastName":""}`, http.StatusUnprocessableEntity},
		{"resend for active account", http.MethodPost, "/users/resend-activation?email=bob@example.com", "", http.StatusConflict},
		{"resend for unknown account", http.MethodPost, "/users/resend-activation?email=nobody@example.com", "", http.StatusNotFound},
		{"missing session", http.MethodGet, "/users/me", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, tc.method, tc.target, tc.body, "")
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode(t, rec)["error"])
		})
	}
}

func TestRouter_AdminRoutesRequireAdminGroup(t *testing.T) {
	s := newTestServer(t)
	_, userSession := s.activeUser(t, "carol@example.com", "correct-horse")
	targetID, _ := s.activeUser(t, "dave@example.com", "correct-horse")

	rec := s.do(t, http.MethodPut, "/users/"+targetID+"/role/seller", "", userSession)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	adminID, _ := s.activeUser(t, "erin@example.com", "admin-password")
	admin, err := s.store.Users().FindByID(context.Background(), adminID)
	require.NoError(t, err)
	admin.Role = domain.RoleAdmin
	require.NoError(t, s.store.Users().Update(context.Background(), admin))

	rec = s.do(t, http.MethodPost, "/users/login", `{"email":"erin@example.com","password":"admin-password"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	adminSession := decode(t, rec)["token"].(string)

	rec = s.do(t, http.MethodPut, "/users/"+targetID+"/role/seller", "", adminSession)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Role updated to Seller", decode(t, rec)["message"])

	rec = s.do(t, http.MethodPut, "/users/"+targetID+"/role/admin", `{"adminPassword":"wrong-password"}`, adminSession)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPut, "/users/"+targetID+"/role/admin", `{"adminPassword":"admin-password"}`, adminSession)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, targetID, decode(t, rec)["userId"])
}

func TestRouter_PreferenceFlow(t *testing.T) {
	s := newTestServer(t)
	_, session := s.activeUser(t, "frank@example.com", "correct-horse")

	rec := s.do(t, http.MethodGet, "/filters", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var filters []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &filters))
	assert.Len(t, filters, len(domain.DefaultFilters))

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/users/preferences", "", "").Code)

	rec = s.do(t, http.MethodPut, "/users/preferences/vegan", `{"importance":"VERY_IMPORTANT"}`, session)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "VERY_IMPORTANT", decode(t, rec)["importance"])

	rec = s.do(t, http.MethodPut, "/users/preferences/unknown", `{"importance":"IMPORTANT"}`, session)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown_filter", decode(t, rec)["kind"])

	rec = s.do(t, http.MethodGet, "/users/preferences/map", "", session)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"vegan": "VERY_IMPORTANT"}, decode(t, rec))

	rec = s.do(t, http.MethodGet, "/users/preferences/vegan", "", session)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "vegan", decode(t, rec)["filterKey"])

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/users/preferences/vegan", "", session).Code)

	rec = s.do(t, http.MethodGet, "/users/preferences/vegan", "", session)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "preference_not_found", decode(t, rec)["kind"])

	rec = s.do(t, http.MethodGet, "/users/preferences", "", session)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health/ready", "", "").Code)

	rec := s.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "user_service_requests_total")
}
