package middleware

import (
	"net/http"

	"unibox/internal/handler"

	"github.com/labstack/echo/v4"
)

// AuthMiddleware rejects requests without a valid primary session
func AuthMiddleware(authHandler *handler.AuthHandler) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, err := authHandler.GetCurrentUser(c)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "Unauthorized",
				})
			}
			c.Set("user_id", user.ID)
			return next(c)
		}
	}
}
