package router

import (
	"net/http"

	"unibox/internal/handler"
	"unibox/internal/middleware"

	"github.com/labstack/echo/v4"
)

func SetupRoutes(
	e *echo.Echo,
	authHandler *handler.AuthHandler,
	accountHandler *handler.AccountHandler,
	emailHandler *handler.EmailHandler,
) {
	// Public routes
	e.GET("/auth/:provider", authHandler.BeginAuthHandler)
	e.GET("/auth/:provider/callback", authHandler.CallbackHandler)
	e.GET("/auth/logout", authHandler.LogoutHandler)

	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	// Protected routes
	protected := e.Group("")
	protected.Use(middleware.AuthMiddleware(authHandler))

	protected.GET("/auth/me", authHandler.MeHandler)
	// never reachable from the detached authorization surface: it has
	// no primary session cookie
	protected.POST("/auth/exchange-code", accountHandler.ExchangeCode)

	protected.GET("/connected-accounts", accountHandler.ListAccounts)
	protected.POST("/connected-accounts", accountHandler.AddAccount)
	protected.POST("/connected-accounts/link", accountHandler.LinkAccount)
	protected.POST("/connected-accounts/complete", accountHandler.CompleteLink)
	protected.DELETE("/connected-accounts/:id", accountHandler.RemoveAccount)
	protected.GET("/connected-accounts/:id/token", accountHandler.GetToken)

	protected.GET("/emails", emailHandler.ListEmails)
	protected.GET("/emails/email-counts", emailHandler.Counts)
	protected.POST("/emails/sync", emailHandler.Sync)
	protected.POST("/emails/send", emailHandler.Send)
	protected.GET("/emails/:id", emailHandler.GetEmail)
	protected.POST("/emails/:id/mark-read", emailHandler.MarkRead)
	protected.POST("/emails/:id/star", emailHandler.Star)
	protected.POST("/emails/:id/archive", emailHandler.Archive)
	protected.DELETE("/emails/:id", emailHandler.Delete)
	protected.PUT("/emails/:id/labels", emailHandler.SetLabels)
	protected.GET("/emails/:id/attachments/:attachmentID", emailHandler.GetAttachment)

	protected.GET("/labels", emailHandler.Labels)
}
