package dashboard

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parityleague/backend/internal/config"
	"github.com/parityleague/backend/internal/storage"
)

func newTestDashboard(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := &config.Config{
		Environment: "production",
		JWTSecret:   "test-secret",
	}
	store := storage.New(t.TempDir())
	require.NoError(t, SaveAdmin(store, "ops", "Operations", "hunter2"))

	s := NewServer(cfg, store, nil, nil, zap.NewNop())
	ts := httptest.NewServer(s.engine)
	t.Cleanup(ts.Close)
	return s, ts
}

func login(t *testing.T, url, username, password string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := http.Post(url+"/api/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSaveAdminUpserts(t *testing.T) {
	store := storage.New(t.TempDir())
	require.NoError(t, SaveAdmin(store, "ops", "Operations", "first"))
	require.NoError(t, SaveAdmin(store, "ops", "Operations", "second"))
	require.NoError(t, SaveAdmin(store, "viewer", "Viewer", "pw"))

	admins, err := LoadAdmins(store)
	require.NoError(t, err)
	assert.Len(t, admins, 2)
	assert.NotContains(t, admins["ops"].PasswordHash, "second",
		"plain password must never be stored")
}

func TestLoginIssuesToken(t *testing.T) {
	_, ts := newTestDashboard(t)

	resp := login(t, ts.URL, "ops", "hunter2")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Token string `json:"token"`
		Admin struct {
			Username    string `json:"username"`
			DisplayName string `json:"display_name"`
		} `json:"admin"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEmpty(t, out.Token)
	assert.Equal(t, "ops", out.Admin.Username)
	assert.Equal(t, "Operations", out.Admin.DisplayName)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	_, ts := newTestDashboard(t)

	assert.Equal(t, http.StatusUnauthorized, login(t, ts.URL, "ops", "wrong").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, login(t, ts.URL, "ghost", "hunter2").StatusCode)
	assert.Equal(t, http.StatusBadRequest, login(t, ts.URL, "", "").StatusCode)
}

func TestControlEndpointsRequireToken(t *testing.T) {
	_, ts := newTestDashboard(t)

	resp, err := http.Get(ts.URL + "/api/agents")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/agents", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTokenGrantsAccess(t *testing.T) {
	_, ts := newTestDashboard(t)

	resp := login(t, ts.URL, "ops", "hunter2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/agents", nil)
	req.Header.Set("Authorization", "Bearer "+out.Token)
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer authed.Body.Close()
	assert.Equal(t, http.StatusOK, authed.StatusCode)
}
