package echo

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthhome/hubauth"
	"github.com/hearthhome/hubauth/internal/metrics"
	"github.com/hearthhome/hubauth/provider"
)

func newTestAPI(t *testing.T, mutate func(*hubauth.Config)) (*echo.Echo, *hubauth.Manager) {
	t.Helper()
	cfg := hubauth.Config{
		Providers: []provider.Config{{
			Type: "static",
			Name: "Static Users",
			Extra: map[string]any{
				"users": []any{
					map[string]any{"username": "test-user", "password": "test-pass", "name": "Test Name"},
					map[string]any{"username": "second-user", "password": "second-pass", "name": "Second Name"},
				},
			},
		}},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	manager, err := hubauth.NewManager(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	e := echo.New()
	NewAuthAPI(manager, nil).RegisterRoutes(e)
	return e, manager
}

func jsonRequest(t *testing.T, e *echo.Echo, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func formRequest(t *testing.T, e *echo.Echo, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// completeLogin drives a full login flow over HTTP and returns the
// completion body.
func completeLogin(t *testing.T, e *echo.Echo, username, pass string) map[string]any {
	t.Helper()
	rec := jsonRequest(t, e, http.MethodPost, "/api/auth/login_flow",
		map[string]string{"type": "static", "client_id": "test-client"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	started := decode(t, rec)
	require.Equal(t, "form", started["type"])

	rec = jsonRequest(t, e, http.MethodPost, "/api/auth/login_flow/"+started["flow_id"].(string),
		map[string]string{"username": username, "password": pass}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	return decode(t, rec)
}

func TestProvidersEndpoint(t *testing.T) {
	e, _ := newTestAPI(t, nil)

	rec := jsonRequest(t, e, http.MethodGet, "/api/auth/providers", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var providers []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &providers))
	require.Len(t, providers, 1)
	assert.Equal(t, "static", providers[0]["type"])
	assert.Equal(t, "", providers[0]["id"])
	assert.Equal(t, "Static Users", providers[0]["name"])
}

func TestLoginFlowRoundTrip(t *testing.T) {
	e, _ := newTestAPI(t, nil)

	rec := jsonRequest(t, e, http.MethodPost, "/api/auth/login_flow",
		map[string]string{"type": "static", "client_id": "test-client"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	started := decode(t, rec)
	assert.Equal(t, "form", started["type"])
	assert.Equal(t, "init", started["step_id"])
	assert.NotEmpty(t, started["flow_id"])
	schema, ok := started["schema"].([]any)
	require.True(t, ok)
	assert.Len(t, schema, 2)

	flowID := started["flow_id"].(string)

	// A wrong password re-shows the form on the same flow.
	rec = jsonRequest(t, e, http.MethodPost, "/api/auth/login_flow/"+flowID,
		map[string]string{"username": "test-user", "password": "nope"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	retry := decode(t, rec)
	assert.Equal(t, "form", retry["type"])
	assert.Equal(t, flowID, retry["flow_id"])
	errs, ok := retry["errors"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "invalid_auth", errs["base"])

	rec = jsonRequest(t, e, http.MethodPost, "/api/auth/login_flow/"+flowID,
		map[string]string{"username": "test-user", "password": "test-pass"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	done := decode(t, rec)
	assert.Equal(t, "create_entry", done["type"])
	assert.Equal(t, flowID, done["flow_id"])
	assert.NotEmpty(t, done["access_token"])
	assert.NotEmpty(t, done["refresh_token"])
	assert.Equal(t, "Bearer", done["token_type"])
	assert.Equal(t, float64(1800), done["expires_in"])

	user, ok := done["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Test Name", user["name"])
	assert.Equal(t, true, user["is_owner"])
	assert.Equal(t, true, user["is_active"])

	// The flow is single use, replaying the final step fails.
	rec = jsonRequest(t, e, http.MethodPost, "/api/auth/login_flow/"+flowID,
		map[string]string{"username": "test-user", "password": "test-pass"}, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_flow", decode(t, rec)["error"])
}

func TestStartFlowRequiresClientID(t *testing.T) {
	e, _ := newTestAPI(t, nil)

	rec := jsonRequest(t, e, http.MethodPost, "/api/auth/login_flow",
		map[string]string{"type": "static"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decode(t, rec)["error"])
}

func TestStartFlowUnknownProvider(t *testing.T) {
	e, _ := newTestAPI(t, nil)

	rec := jsonRequest(t, e, http.MethodPost, "/api/auth/login_flow",
		map[string]string{"type": "saml", "client_id": "test-client"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown_provider", decode(t, rec)["error"])
}

func TestSubmitUnknownFlow(t *testing.T) {
	e, _ := newTestAPI(t, nil)

	rec := jsonRequest(t, e, http.MethodPost, "/api/auth/login_flow/no-such-flow",
		map[string]string{"username": "test-user", "password": "test-pass"}, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_flow", decode(t, rec)["error"])
}

func TestAbandonFlow(t *testing.T) {
	e, manager := newTestAPI(t, nil)

	rec := jsonRequest(t, e, http.MethodPost, "/api/auth/login_flow",
		map[string]string{"type": "static", "client_id": "test-client"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	flowID := decode(t, rec)["flow_id"].(string)
	require.Equal(t, 1, manager.ActiveFlows())

	rec = jsonRequest(t, e, http.MethodDelete, "/api/auth/login_flow/"+flowID, nil, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, manager.ActiveFlows())

	rec = jsonRequest(t, e, http.MethodPost, "/api/auth/login_flow/"+flowID,
		map[string]string{"username": "test-user", "password": "test-pass"}, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMeEndpoint(t *testing.T) {
	e, _ := newTestAPI(t, nil)
	done := completeLogin(t, e, "test-user", "test-pass")

	rec := jsonRequest(t, e, http.MethodGet, "/api/auth/me", nil, done["access_token"].(string))
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode(t, rec)
	assert.Equal(t, done["user"].(map[string]any)["id"], me["id"])
	assert.Equal(t, "Test Name", me["name"])

	rec = jsonRequest(t, e, http.MethodGet, "/api/auth/me", nil, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_token", decode(t, rec)["error"])

	rec = jsonRequest(t, e, http.MethodGet, "/api/auth/me", nil, "not-a-real-token")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_token", decode(t, rec)["error"])

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set(echo.HeaderAuthorization, "Basic dXNlcjpwYXNz")
	raw := httptest.NewRecorder()
	e.ServeHTTP(raw, req)
	require.Equal(t, http.StatusUnauthorized, raw.Code)
}

func TestTokenGrant(t *testing.T) {
	e, _ := newTestAPI(t, nil)
	done := completeLogin(t, e, "test-user", "test-pass")
	refreshToken := done["refresh_token"].(string)

	rec := formRequest(t, e, "/api/auth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {"test-client"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	granted := decode(t, rec)
	assert.NotEmpty(t, granted["access_token"])
	assert.NotEqual(t, done["access_token"], granted["access_token"])
	assert.Equal(t, "Bearer", granted["token_type"])

	// The fresh token authenticates.
	rec = jsonRequest(t, e, http.MethodGet, "/api/auth/me", nil, granted["access_token"].(string))
	require.Equal(t, http.StatusOK, rec.Code)

	// Wrong client binding.
	rec = formRequest(t, e, "/api/auth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {"other-client"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", decode(t, rec)["error"])

	// Unknown refresh token.
	rec = formRequest(t, e, "/api/auth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {"no-such-token"},
		"client_id":     {"test-client"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", decode(t, rec)["error"])

	// Unsupported grant type.
	rec = formRequest(t, e, "/api/auth/token", url.Values{
		"grant_type": {"password"},
		"username":   {"test-user"},
		"password":   {"test-pass"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unsupported_grant_type", decode(t, rec)["error"])
}

func TestRevokeToken(t *testing.T) {
	e, _ := newTestAPI(t, nil)
	done := completeLogin(t, e, "test-user", "test-pass")
	accessToken := done["access_token"].(string)
	refreshToken := done["refresh_token"].(string)

	rec := jsonRequest(t, e, http.MethodDelete, "/api/auth/token",
		map[string]string{"refresh_token": refreshToken}, accessToken)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The grant is gone and the access token died with it.
	rec = formRequest(t, e, "/api/auth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {"test-client"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", decode(t, rec)["error"])

	rec = jsonRequest(t, e, http.MethodGet, "/api/auth/me", nil, accessToken)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRevokeTokenRequiresOwnership(t *testing.T) {
	e, _ := newTestAPI(t, nil)
	first := completeLogin(t, e, "test-user", "test-pass")
	second := completeLogin(t, e, "second-user", "second-pass")

	rec := jsonRequest(t, e, http.MethodDelete, "/api/auth/token",
		map[string]string{"refresh_token": first["refresh_token"].(string)},
		second["access_token"].(string))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decode(t, rec)["error"])

	// The first user's grant survived.
	rec = formRequest(t, e, "/api/auth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {first["refresh_token"].(string)},
		"client_id":     {"test-client"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestInactiveUserCannotLogIn(t *testing.T) {
	e, manager := newTestAPI(t, func(cfg *hubauth.Config) {
		cfg.NewUsersInactive = true
	})

	// The owner bootstraps active regardless of the policy.
	done := completeLogin(t, e, "test-user", "test-pass")
	assert.Equal(t, "create_entry", done["type"])

	rec := jsonRequest(t, e, http.MethodPost, "/api/auth/login_flow",
		map[string]string{"type": "static", "client_id": "test-client"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	flowID := decode(t, rec)["flow_id"].(string)

	rec = jsonRequest(t, e, http.MethodPost, "/api/auth/login_flow/"+flowID,
		map[string]string{"username": "second-user", "password": "second-pass"}, "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "user_inactive", decode(t, rec)["error"])

	// The user exists, it just cannot get tokens.
	assert.Len(t, manager.Store().Users(), 2)
}

func TestHealthz(t *testing.T) {
	e, _ := newTestAPI(t, nil)

	rec := jsonRequest(t, e, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	e, _ := newTestAPI(t, nil)
	metrics.Register(prometheus.DefaultRegisterer, nil)

	rec := jsonRequest(t, e, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hubauth_login_flows_started_total")
}
