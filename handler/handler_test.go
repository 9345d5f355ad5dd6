package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietmind/anonid/handler"
	"github.com/quietmind/anonid/pkg/identity"
)

type sessionResponse struct {
	User struct {
		ID          string            `json:"id"`
		TrustScore  float64           `json:"trust_score"`
		Preferences map[string]string `json:"preferences"`
	} `json:"user"`
	Session struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	} `json:"session"`
}

func setup(t *testing.T) *httptest.Server {
	t.Helper()
	svc := identity.New()
	t.Cleanup(svc.Close)

	srv := httptest.NewServer(handler.New(svc, nil))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func createAccount(t *testing.T, srv *httptest.Server) sessionResponse {
	t.Helper()
	resp := postJSON(t, srv.URL+"/accounts", map[string]any{
		"device": map[string]string{
			"user_agent": "Mozilla/5.0",
			"language":   "en-US",
			"timezone":   "Europe/Berlin",
			"screen":     "1920x1080",
			"platform":   "MacIntel",
		},
		"preferences": map[string]string{"theme": "calm"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[sessionResponse](t, resp)
}

func TestCreateAccount(t *testing.T) {
	srv := setup(t)

	acc := createAccount(t, srv)
	assert.NotEmpty(t, acc.User.ID)
	assert.InDelta(t, 0.1, acc.User.TrustScore, 1e-9)
	assert.Equal(t, "calm", acc.User.Preferences["theme"])
	assert.NotEmpty(t, acc.Session.Token)

	// A second account from the same device conflicts with the first.
	resp := postJSON(t, srv.URL+"/accounts", map[string]any{
		"device": map[string]string{
			"user_agent": "Mozilla/5.0",
			"language":   "en-US",
			"timezone":   "Europe/Berlin",
			"screen":     "1920x1080",
			"platform":   "MacIntel",
		},
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestValidateAndLogout(t *testing.T) {
	srv := setup(t)
	acc := createAccount(t, srv)

	get := func(token string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/sessions/current", nil)
		require.NoError(t, err)
		req.Header.Set("X-Session-Token", token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := get(acc.Session.Token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/sessions/current", nil)
	require.NoError(t, err)
	req.Header.Set("X-Session-Token", acc.Session.Token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = get(acc.Session.Token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = get("bogus")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestAuthenticateWithDevice(t *testing.T) {
	srv := setup(t)
	createAccount(t, srv)

	t.Run("known device", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/auth/device", map[string]any{
			"device": map[string]string{
				"user_agent": "Mozilla/5.0",
				"language":   "en-US",
				"timezone":   "Europe/Berlin",
				"screen":     "1920x1080",
				"platform":   "MacIntel",
			},
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("unknown device", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/auth/device", map[string]any{
			"device": map[string]string{"user_agent": "curl/8.0"},
		})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestRecoveryFlow(t *testing.T) {
	srv := setup(t)
	acc := createAccount(t, srv)

	resp := postJSON(t, fmt.Sprintf("%s/users/%s/recovery-tokens", srv.URL, acc.User.ID), map[string]any{"count": 5})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	issued := decode[struct {
		Tokens []string `json:"tokens"`
	}](t, resp)
	require.Len(t, issued.Tokens, 5)

	newDevice := map[string]string{
		"user_agent": "Mozilla/5.0 (Android)",
		"language":   "en-US",
		"timezone":   "Europe/Berlin",
		"screen":     "1080x2400",
		"platform":   "Linux armv8l",
	}

	resp = postJSON(t, srv.URL+"/recovery/redeem", map[string]any{
		"token":  issued.Tokens[0],
		"device": newDevice,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	redeemed := decode[sessionResponse](t, resp)
	assert.Equal(t, acc.User.ID, redeemed.User.ID)

	// Replay collapses to a generic 401.
	resp = postJSON(t, srv.URL+"/recovery/redeem", map[string]any{
		"token":  issued.Tokens[0],
		"device": newDevice,
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestUserResources(t *testing.T) {
	srv := setup(t)
	acc := createAccount(t, srv)

	t.Run("update preferences", func(t *testing.T) {
		data, err := json.Marshal(map[string]string{"theme": "dark"})
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPut, fmt.Sprintf("%s/users/%s/preferences", srv.URL, acc.User.ID), bytes.NewReader(data))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("export is redacted", func(t *testing.T) {
		resp, err := http.Get(fmt.Sprintf("%s/users/%s/export", srv.URL, acc.User.ID))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		raw := decode[map[string]any](t, resp)
		assert.NotContains(t, raw, "fingerprint")
		assert.Contains(t, raw, "audit_trail")
	})

	t.Run("invalid user id", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/users/not-a-uuid/export")
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("delete user", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/users/"+acc.User.ID, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		resp.Body.Close()

		resp, err = http.Get(fmt.Sprintf("%s/users/%s/export", srv.URL, acc.User.ID))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestComplianceSnapshot(t *testing.T) {
	srv := setup(t)
	createAccount(t, srv)

	resp, err := http.Get(srv.URL + "/compliance/snapshot")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	snap := decode[struct {
		TotalUsers     int `json:"total_users"`
		ActiveSessions int `json:"active_sessions"`
	}](t, resp)
	assert.Equal(t, 1, snap.TotalUsers)
	assert.Equal(t, 1, snap.ActiveSessions)
}
