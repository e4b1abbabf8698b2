package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"gatehouse.org/internal/auth"
)

const (
	bootstrapEmail    = "root@example.com"
	bootstrapPassword = "bootstrap-secret"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := auth.NewMemoryStore()
	svc, err := auth.NewService(store,
		auth.WithTokenSecret("test-secret"),
		auth.WithBcryptCost(bcrypt.MinCost),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.EnsureBootstrap(context.Background(), bootstrapEmail, bootstrapPassword); err != nil {
		t.Fatalf("EnsureBootstrap: %v", err)
	}

	api := New(ReadyProbe{}, "test", svc, auth.NewResolver(store))
	api.rateBurst = 100
	api.ratePerSec = 100

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) register(email, password string) tokenPairResponse {
	c.t.Helper()
	resp := c.post("/v1/auth/register", map[string]any{
		"email":      email,
		"password":   password,
		"first_name": "Test",
		"last_name":  "User",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("unexpected register status: %d", resp.StatusCode)
	}
	return decode[tokenPairResponse](c.t, resp)
}

func (c *apiClient) login(email, password string) tokenPairResponse {
	c.t.Helper()
	resp := c.post("/v1/auth/login", map[string]any{
		"email":    email,
		"password": password,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected login status: %d", resp.StatusCode)
	}
	return decode[tokenPairResponse](c.t, resp)
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestAPIRegisterLoginRefreshLogoutFlow(t *testing.T) {
	api := newTestAPI(t)

	reg := api.register("alice@example.com", "correct-horse")
	if reg.AccessToken == "" || reg.RefreshToken == "" {
		t.Fatal("register should issue both tokens")
	}
	if reg.User == nil || reg.User.Email != "alice@example.com" {
		t.Fatalf("unexpected user payload: %+v", reg.User)
	}

	login := api.login("alice@example.com", "correct-horse")

	// The access token authenticates /v1/auth/me.
	resp := api.get("/v1/auth/me", nil, bearerHeader(login.AccessToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected me status: %d", resp.StatusCode)
	}
	me := decode[auth.Principal](t, resp)
	if me.UserID != reg.User.ID {
		t.Fatalf("principal mismatch: %s vs %s", me.UserID, reg.User.ID)
	}

	// Refresh rotates the pair.
	resp = api.post("/v1/auth/refresh", map[string]any{"refresh_token": login.RefreshToken}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected refresh status: %d", resp.StatusCode)
	}
	rotated := decode[tokenPairResponse](t, resp)
	if rotated.RefreshToken == login.RefreshToken {
		t.Fatal("refresh should rotate the refresh token")
	}

	// The consumed refresh token no longer works.
	resp = api.post("/v1/auth/refresh", map[string]any{"refresh_token": login.RefreshToken}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for rotated-out token, got %d", resp.StatusCode)
	}

	// Logout is idempotent.
	for i := 0; i < 2; i++ {
		resp = api.post("/v1/auth/logout", map[string]any{
			"user_id":       reg.User.ID,
			"refresh_token": rotated.RefreshToken,
		}, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("logout attempt %d: expected 200, got %d", i+1, resp.StatusCode)
		}
	}
}

func TestAPIRegisterDuplicateEmail(t *testing.T) {
	api := newTestAPI(t)
	api.register("dup@example.com", "first-password")

	resp := api.post("/v1/auth/register", map[string]any{
		"email":    "dup@example.com",
		"password": "second-password",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestAPILoginBadCredentials(t *testing.T) {
	api := newTestAPI(t)
	api.register("bob@example.com", "right-password")

	for _, body := range []map[string]any{
		{"email": "bob@example.com", "password": "wrong-password"},
		{"email": "ghost@example.com", "password": "whatever-pass"},
	} {
		resp := api.post("/v1/auth/login", body, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %v, got %d", body["email"], resp.StatusCode)
		}
	}
}

func TestAPIRejectsUnauthenticated(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/auth/me", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate challenge")
	}
	errBody := decode[map[string]any](t, resp)
	if errBody["error"] == "" {
		t.Fatal("expected error message")
	}
}

func TestAPIRejectsGarbageBearerToken(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/auth/me", nil, bearerHeader("not-a-jwt"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAPIViewerForbiddenOnRoleAdmin(t *testing.T) {
	api := newTestAPI(t)
	reg := api.register("viewer@example.com", "viewer-password")

	resp := api.get("/v1/roles", nil, bearerHeader(reg.AccessToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d", resp.StatusCode)
	}

	resp = api.post("/v1/roles", map[string]any{
		"name":        "auditor",
		"permissions": []string{"reports:read"},
	}, bearerHeader(reg.AccessToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d", resp.StatusCode)
	}
}

func TestAPIAdminRoleAndDelegationFlow(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login(bootstrapEmail, bootstrapPassword)
	adminAuth := bearerHeader(admin.AccessToken)

	// Create a custom role.
	resp := api.post("/v1/roles", map[string]any{
		"name":        "auditor",
		"permissions": []string{"reports:read", "reports:export"},
	}, adminAuth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected role status: %d", resp.StatusCode)
	}
	role := decode[auth.Role](t, resp)
	if role.ID == "" || role.Name != "auditor" {
		t.Fatalf("unexpected role payload: %+v", role)
	}

	// Invalid permission strings are rejected at write time.
	resp = api.post("/v1/roles", map[string]any{
		"name":        "broken",
		"permissions": []string{"no-colon-here"},
	}, adminAuth)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid permission, got %d", resp.StatusCode)
	}

	// Delegate the new role to a fresh user for two days.
	target := api.register("carol@example.com", "carol-password")
	now := time.Now().UTC()
	resp = api.post("/v1/delegations", map[string]any{
		"to_user":    target.User.ID,
		"role_id":    role.ID,
		"start_date": now,
		"end_date":   now.Add(48 * time.Hour),
		"reason":     "quarter-end review",
	}, adminAuth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected delegation status: %d", resp.StatusCode)
	}
	delegation := decode[auth.Delegation](t, resp)

	// The delegated role now governs the target's permissions. A fresh
	// login picks it up through the resolver on the admin listing check.
	resp = api.get("/v1/delegations", url.Values{"to_user": []string{target.User.ID}}, adminAuth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected list status: %d", resp.StatusCode)
	}
	listing := decode[map[string][]auth.Delegation](t, resp)
	if len(listing["delegations"]) != 1 || listing["delegations"][0].ID != delegation.ID {
		t.Fatalf("unexpected delegation listing: %+v", listing)
	}

	// Revoke and confirm it disappears from the active listing.
	resp = api.post("/v1/delegations/"+delegation.ID+"/revoke", nil, adminAuth)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected revoke status: %d", resp.StatusCode)
	}
	resp = api.get("/v1/delegations", url.Values{
		"to_user": []string{target.User.ID},
		"active":  []string{"true"},
	}, adminAuth)
	listing = decode[map[string][]auth.Delegation](t, resp)
	if len(listing["delegations"]) != 0 {
		t.Fatalf("revoked delegation still listed as active: %+v", listing)
	}

	// The role cannot be deleted while the delegation row references it.
	req, err := http.NewRequest(http.MethodDelete, api.baseURL+"/v1/roles/"+role.ID, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+admin.AccessToken)
	delResp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("delete role: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for referenced role, got %d", delResp.StatusCode)
	}
}

func TestAPIChangePasswordRevokesSessions(t *testing.T) {
	api := newTestAPI(t)
	reg := api.register("dave@example.com", "old-password-1")

	resp := api.post("/v1/auth/password", map[string]any{
		"old_password": "old-password-1",
		"new_password": "new-password-2",
	}, bearerHeader(reg.AccessToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected password status: %d", resp.StatusCode)
	}

	// The pre-change refresh token is dead.
	resp = api.post("/v1/auth/refresh", map[string]any{"refresh_token": reg.RefreshToken}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after password change, got %d", resp.StatusCode)
	}

	// The new password logs in, the old one does not.
	api.login("dave@example.com", "new-password-2")
	resp = api.post("/v1/auth/login", map[string]any{
		"email":    "dave@example.com",
		"password": "old-password-1",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for stale password, got %d", resp.StatusCode)
	}
}

func TestAPIRefreshCookieFallback(t *testing.T) {
	api := newTestAPI(t)
	login := api.register("erin@example.com", "erin-password")

	// No body token: the handler falls back to the refresh cookie.
	req, err := http.NewRequest(http.MethodPost, api.baseURL+"/v1/auth/refresh", bytes.NewReader([]byte("{}")))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: login.RefreshToken})
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected refresh status: %d", resp.StatusCode)
	}
	rotated := decode[tokenPairResponse](t, resp)
	if rotated.AccessToken == "" {
		t.Fatal("expected a fresh access token")
	}
}

func TestAPIHealthAndReady(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected healthz status: %d", resp.StatusCode)
	}
	health := decode[map[string]any](t, resp)
	if health["service"] != "gatehouse-api" {
		t.Fatalf("unexpected health payload: %v", health)
	}

	resp = api.get("/readyz", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected readyz status: %d", resp.StatusCode)
	}
}

func TestAPIRejectsUnknownFields(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/login", map[string]any{
		"email":    "x@example.com",
		"password": "whatever-pass",
		"extra":    true,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.StatusCode)
	}
}
