package handler

import (
	"fmt"
	"net/http"

	"unibox/internal/config"
	"unibox/internal/model"
	"unibox/internal/service"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/google"
	"github.com/markbates/goth/providers/microsoftonline"
)

const sessionName = "gothic_session"

// gothProviders maps the URL provider segment onto goth provider names.
var gothProviders = map[string]string{
	"google":    "google",
	"gmail":     "google",
	"microsoft": "microsoftonline",
	"outlook":   "microsoftonline",
}

type AuthHandler struct {
	authService service.AuthService
	config      *config.Config
	logger      echo.Logger
}

func NewAuthHandler(authService service.AuthService, config *config.Config, logger echo.Logger) *AuthHandler {
	gothic.Store = sessions.NewFilesystemStore("", []byte(config.SessionSecret))

	providers := []goth.Provider{
		google.New(
			config.GoogleClientID,
			config.GoogleClientSecret,
			config.BaseURL+"/auth/google/callback",
			"https://www.googleapis.com/auth/gmail.modify",
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		),
	}
	if config.AzureClientID != "" {
		providers = append(providers, microsoftonline.New(
			config.AzureClientID,
			config.AzureClientSecret,
			config.BaseURL+"/auth/microsoft/callback",
			"openid", "profile", "email", "User.Read",
		))
	}
	goth.UseProviders(providers...)

	return &AuthHandler{
		authService: authService,
		config:      config,
		logger:      logger,
	}
}

// BeginAuthHandler initiates the primary sign-in OAuth flow
func (h *AuthHandler) BeginAuthHandler(c echo.Context) error {
	gothName, ok := gothProviders[c.Param("provider")]
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid provider",
		})
	}

	// Set provider in the request URL so Goth can recognize it
	req := c.Request()
	q := req.URL.Query()
	q.Set("provider", gothName)
	req.URL.RawQuery = q.Encode()

	gothic.BeginAuthHandler(c.Response(), req)
	return nil
}

// CallbackHandler handles the OAuth callback
func (h *AuthHandler) CallbackHandler(c echo.Context) error {
	gothName, ok := gothProviders[c.Param("provider")]
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid provider",
		})
	}

	req := c.Request()
	q := req.URL.Query()
	q.Set("provider", gothName)
	req.URL.RawQuery = q.Encode()

	gothUser, err := gothic.CompleteUserAuth(c.Response(), req)
	if err != nil {
		h.logger.Error("Failed to complete user auth:", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Authentication failed",
		})
	}

	user, err := h.authService.GetOrCreateUser(
		c.Request().Context(),
		gothUser.Provider+"_"+gothUser.UserID,
		gothUser.Email,
		gothUser.Name,
	)
	if err != nil {
		h.logger.Error("Failed to get or create user:", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to process user",
		})
	}

	session, _ := gothic.Store.Get(req, sessionName)
	session.Values["user_id"] = user.ID
	if err := session.Save(req, c.Response()); err != nil {
		h.logger.Error("Failed to save session:", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to save session",
		})
	}

	return c.Redirect(http.StatusTemporaryRedirect, "/")
}

// LogoutHandler clears the primary session
func (h *AuthHandler) LogoutHandler(c echo.Context) error {
	req := c.Request()

	session, _ := gothic.Store.Get(req, sessionName)
	delete(session.Values, "user_id")
	session.Options.MaxAge = -1
	if err := session.Save(req, c.Response()); err != nil {
		h.logger.Error("Failed to clear session:", err)
	}

	if err := gothic.Logout(c.Response(), req); err != nil {
		h.logger.Warn("Goth logout:", err)
	}
	return c.Redirect(http.StatusTemporaryRedirect, "/")
}

// GetCurrentUser resolves the signed-in user from the session
func (h *AuthHandler) GetCurrentUser(c echo.Context) (*model.User, error) {
	session, err := gothic.Store.Get(c.Request(), sessionName)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	userID, ok := session.Values["user_id"].(string)
	if !ok || userID == "" {
		return nil, fmt.Errorf("no user in session")
	}

	return h.authService.GetUser(c.Request().Context(), userID)
}

// MeHandler returns the signed-in user
func (h *AuthHandler) MeHandler(c echo.Context) error {
	user, err := h.GetCurrentUser(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "Not authenticated",
		})
	}
	return c.JSON(http.StatusOK, user)
}
