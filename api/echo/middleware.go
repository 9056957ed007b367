package echo

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hearthhome/hubauth"
)

// Context keys for values stored by RequireAuth.
const (
	userContextKey  = "hubauth.user"
	tokenContextKey = "hubauth.access_token"
)

// RequireAuth validates the request's bearer token and stores the owning
// user on the context. Expired or evicted tokens get the same answer as
// tokens that never existed.
func (a *AuthAPI) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if header == "" {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing_token"})
		}
		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_token"})
		}

		ctx := c.Request().Context()
		token, err := a.manager.GetAccessToken(ctx, parts[1])
		if err != nil {
			a.logger.Error(ctx, "Access token lookup failed", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server_error"})
		}
		if token == nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_token"})
		}
		user := token.RefreshToken.User
		if !user.IsActive {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "user_inactive"})
		}

		c.Set(userContextKey, user)
		c.Set(tokenContextKey, token)
		return next(c)
	}
}

// CurrentUser returns the authenticated user stored by RequireAuth, or nil
// when the route did not pass through it.
func CurrentUser(c echo.Context) *hubauth.User {
	user, _ := c.Get(userContextKey).(*hubauth.User)
	return user
}

// CurrentAccessToken returns the access token stored by RequireAuth, or nil.
func CurrentAccessToken(c echo.Context) *hubauth.AccessToken {
	token, _ := c.Get(tokenContextKey).(*hubauth.AccessToken)
	return token
}
