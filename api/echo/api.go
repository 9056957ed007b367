// Package echo exposes the auth manager over HTTP using the echo framework.
//
// All endpoints speak JSON. Errors use the {"error": "..."} shape with an
// optional error_description, loosely following the OAuth2 error format so
// clients can share handling between the flow and token endpoints.
package echo

import (
	"errors"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hearthhome/hubauth"
	"github.com/hearthhome/hubauth/flow"
	"github.com/hearthhome/hubauth/log"
)

// AuthAPI wires the auth manager into HTTP handlers.
type AuthAPI struct {
	manager *hubauth.Manager
	logger  log.Logger

	// clients remembers which client_id opened each pending flow so the
	// refresh token minted on completion is bound to that client. Entries
	// are removed on terminal results and on abandon.
	mu      sync.Mutex
	clients map[string]string
}

// NewAuthAPI creates a new AuthAPI around the manager.
func NewAuthAPI(manager *hubauth.Manager, logger log.Logger) *AuthAPI {
	if logger == nil {
		logger = log.NewZerolog()
	}
	return &AuthAPI{
		manager: manager,
		logger:  logger,
		clients: make(map[string]string),
	}
}

// RegisterRoutes registers all auth endpoints on the echo engine.
func (a *AuthAPI) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/auth/providers", a.ProvidersHandler)
	e.POST("/api/auth/login_flow", a.StartFlowHandler)
	e.POST("/api/auth/login_flow/:flow_id", a.SubmitFlowHandler)
	e.DELETE("/api/auth/login_flow/:flow_id", a.AbandonFlowHandler)
	e.POST("/api/auth/token", a.TokenHandler)
	e.DELETE("/api/auth/token", a.RevokeTokenHandler, a.RequireAuth)
	e.GET("/api/auth/me", a.MeHandler, a.RequireAuth)
	e.GET("/healthz", a.HealthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

type providerInfo struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

type startFlowRequest struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
}

type completionResponse struct {
	FlowID       string          `json:"flow_id"`
	Type         flow.ResultType `json:"type"`
	User         *hubauth.User   `json:"user"`
	RefreshToken string          `json:"refresh_token"`
	AccessToken  string          `json:"access_token"`
	TokenType    string          `json:"token_type"`
	ExpiresIn    int             `json:"expires_in"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// ProvidersHandler lists the configured auth providers, the menu a login
// UI offers before starting a flow.
func (a *AuthAPI) ProvidersHandler(c echo.Context) error {
	providers := a.manager.Providers()
	out := make([]providerInfo, 0, len(providers))
	for _, p := range providers {
		out = append(out, providerInfo{Type: p.Type(), ID: p.ID(), Name: p.Name()})
	}
	return c.JSON(http.StatusOK, out)
}

// StartFlowHandler opens a login flow against the requested provider and
// returns its first form.
func (a *AuthAPI) StartFlowHandler(c echo.Context) error {
	var req startFlowRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request"})
	}
	if req.ClientID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":             "invalid_request",
			"error_description": "client_id is required",
		})
	}

	ctx := c.Request().Context()
	res, err := a.manager.StartLogin(ctx, req.Type, req.ID)
	if err != nil {
		if errors.Is(err, hubauth.ErrUnknownProvider) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown_provider"})
		}
		a.logger.Error(ctx, "Failed to start login flow", err, map[string]any{
			"provider_type": req.Type,
			"provider_id":   req.ID,
		})
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server_error"})
	}

	switch res.Type {
	case flow.TypeForm:
		a.rememberClient(res.FlowID, req.ClientID)
		return c.JSON(http.StatusOK, res)
	case flow.TypeCreateEntry:
		return a.finishFlow(c, res, req.ClientID)
	default:
		return c.JSON(http.StatusOK, res)
	}
}

// SubmitFlowHandler advances a pending flow with the submitted form input.
func (a *AuthAPI) SubmitFlowHandler(c echo.Context) error {
	flowID := c.Param("flow_id")

	var input map[string]string
	if err := c.Bind(&input); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request"})
	}

	ctx := c.Request().Context()
	res, err := a.manager.SubmitLogin(ctx, flowID, input)
	if err != nil {
		if errors.Is(err, flow.ErrUnknownFlow) {
			a.takeClient(flowID)
			return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown_flow"})
		}
		a.logger.Error(ctx, "Failed to advance login flow", err, map[string]any{"flow_id": flowID})
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server_error"})
	}

	switch res.Type {
	case flow.TypeForm:
		return c.JSON(http.StatusOK, res)
	case flow.TypeCreateEntry:
		return a.finishFlow(c, res, a.takeClient(flowID))
	default:
		a.takeClient(flowID)
		return c.JSON(http.StatusOK, res)
	}
}

// AbandonFlowHandler discards a pending flow.
func (a *AuthAPI) AbandonFlowHandler(c echo.Context) error {
	flowID := c.Param("flow_id")
	a.manager.AbandonLogin(flowID)
	a.takeClient(flowID)
	return c.NoContent(http.StatusNoContent)
}

// finishFlow turns finished-flow credentials into tokens: resolve the user,
// mint a refresh token bound to the requesting client, and issue the first
// access token.
func (a *AuthAPI) finishFlow(c echo.Context, res flow.Result, clientID string) error {
	ctx := c.Request().Context()

	creds, ok := res.Data.(*hubauth.Credentials)
	if !ok {
		a.logger.Error(ctx, "Login flow finished without credentials", nil, map[string]any{"flow_id": res.FlowID})
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server_error"})
	}

	user, err := a.manager.ResolveUser(ctx, creds)
	if err != nil {
		a.logger.Error(ctx, "Failed to resolve user", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server_error"})
	}
	if !user.IsActive {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "user_inactive"})
	}

	refreshToken, err := a.manager.CreateRefreshToken(ctx, user, clientID)
	if err != nil {
		a.logger.Error(ctx, "Failed to create refresh token", err, map[string]any{"user_id": user.ID})
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server_error"})
	}
	accessToken, err := a.manager.CreateAccessToken(ctx, refreshToken)
	if err != nil {
		a.logger.Error(ctx, "Failed to create access token", err, map[string]any{"user_id": user.ID})
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server_error"})
	}

	a.logger.Info(ctx, "Login flow completed", map[string]any{
		"user_id":   user.ID,
		"client_id": clientID,
	})
	return c.JSON(http.StatusOK, completionResponse{
		FlowID:       res.FlowID,
		Type:         flow.TypeCreateEntry,
		User:         user,
		RefreshToken: refreshToken.ID,
		AccessToken:  accessToken.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int(a.manager.AccessTokenTTL().Seconds()),
	})
}

// TokenHandler implements the refresh_token grant: it trades a refresh
// token for a fresh access token. The request must carry the client_id the
// refresh token was issued to.
func (a *AuthAPI) TokenHandler(c echo.Context) error {
	if grantType := c.FormValue("grant_type"); grantType != "refresh_token" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unsupported_grant_type"})
	}
	refreshTokenID := c.FormValue("refresh_token")
	clientID := c.FormValue("client_id")
	if refreshTokenID == "" || clientID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":             "invalid_request",
			"error_description": "refresh_token and client_id are required",
		})
	}

	refreshToken := a.manager.RefreshTokenByID(refreshTokenID)
	if refreshToken == nil || refreshToken.ClientID != clientID || !refreshToken.User.IsActive {
		// Same answer for every failure so callers cannot probe which
		// refresh tokens exist.
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_grant"})
	}

	ctx := c.Request().Context()
	accessToken, err := a.manager.CreateAccessToken(ctx, refreshToken)
	if err != nil {
		a.logger.Error(ctx, "Failed to create access token", err, map[string]any{"user_id": refreshToken.User.ID})
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server_error"})
	}
	return c.JSON(http.StatusOK, tokenResponse{
		AccessToken: accessToken.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int(a.manager.AccessTokenTTL().Seconds()),
	})
}

type revokeRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RevokeTokenHandler deletes one of the caller's refresh tokens. Access
// tokens issued from it die with it. Revoking an already-gone token
// succeeds.
func (a *AuthAPI) RevokeTokenHandler(c echo.Context) error {
	var req revokeRequest
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":             "invalid_request",
			"error_description": "refresh_token is required",
		})
	}

	refreshToken := a.manager.RefreshTokenByID(req.RefreshToken)
	if refreshToken == nil {
		return c.NoContent(http.StatusNoContent)
	}
	user := CurrentUser(c)
	if user == nil || refreshToken.User.ID != user.ID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}

	ctx := c.Request().Context()
	if err := a.manager.RemoveRefreshToken(ctx, req.RefreshToken); err != nil {
		a.logger.Error(ctx, "Failed to remove refresh token", err, map[string]any{"user_id": user.ID})
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server_error"})
	}
	return c.NoContent(http.StatusNoContent)
}

// MeHandler returns the user owning the presented access token.
func (a *AuthAPI) MeHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, CurrentUser(c))
}

// HealthHandler reports liveness.
func (a *AuthAPI) HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

func (a *AuthAPI) rememberClient(flowID, clientID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clients[flowID] = clientID
}

// takeClient removes and returns the client bound to a flow.
func (a *AuthAPI) takeClient(flowID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	clientID := a.clients[flowID]
	delete(a.clients, flowID)
	return clientID
}
