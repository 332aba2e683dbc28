package handler

import (
	"errors"
	"net/http"

	"unibox/internal/linker"
	"unibox/internal/model"
	"unibox/internal/repository"
	"unibox/internal/service"
	"unibox/internal/token"

	"github.com/labstack/echo/v4"
)

type AccountHandler struct {
	accountService service.AccountService
	authHandler    *AuthHandler
	logger         echo.Logger
}

func NewAccountHandler(accountService service.AccountService, authHandler *AuthHandler, logger echo.Logger) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		authHandler:    authHandler,
		logger:         logger,
	}
}

func (h *AccountHandler) currentUserID(c echo.Context) (string, error) {
	user, err := h.authHandler.GetCurrentUser(c)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// linkStatus maps credential acquisition failures onto HTTP responses.
func linkStatus(err error) (int, string) {
	switch {
	case errors.Is(err, linker.ErrLinkInProgress):
		return http.StatusConflict, "A link for this provider is already in progress"
	case errors.Is(err, linker.ErrUserCancelled):
		return http.StatusBadRequest, "Authorization was cancelled"
	case errors.Is(err, linker.ErrPopupBlocked):
		return http.StatusBadGateway, "Could not open the authorization window"
	case errors.Is(err, linker.ErrExchangeFailed):
		return http.StatusBadGateway, "Authorization exchange failed"
	default:
		return http.StatusInternalServerError, "Failed to link account"
	}
}

// ListAccounts returns the user's active connected accounts
func (h *AccountHandler) ListAccounts(c echo.Context) error {
	userID, err := h.currentUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
	}

	accounts, err := h.accountService.ListAccounts(c.Request().Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list accounts:", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to list accounts"})
	}
	if accounts == nil {
		accounts = []*model.ConnectedAccount{}
	}
	return c.JSON(http.StatusOK, accounts)
}

type addAccountRequest struct {
	Provider     model.Provider `json:"provider"`
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	ExpiresIn    int            `json:"expires_in"`
}

// AddAccount registers a connected account from an exchanged token set
func (h *AccountHandler) AddAccount(c echo.Context) error {
	userID, err := h.currentUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
	}

	var req addAccountRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if !req.Provider.Valid() || req.AccessToken == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "provider and access_token are required"})
	}

	account, err := h.accountService.AddAccount(c.Request().Context(), userID,
		req.Provider, req.AccessToken, req.RefreshToken, req.ExpiresIn)
	if err != nil {
		h.logger.Error("Failed to add account:", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "Failed to connect account"})
	}
	return c.JSON(http.StatusCreated, account)
}

type linkRequest struct {
	Provider model.Provider `json:"provider"`
	Code     string         `json:"code"`
}

// LinkAccount runs the full detached-surface link flow
func (h *AccountHandler) LinkAccount(c echo.Context) error {
	userID, err := h.currentUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
	}

	var req linkRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if !req.Provider.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid provider"})
	}

	account, err := h.accountService.Link(c.Request().Context(), userID, req.Provider)
	if err != nil {
		h.logger.Error("Link failed:", err)
		status, msg := linkStatus(err)
		return c.JSON(status, map[string]string{"error": msg})
	}
	return c.JSON(http.StatusCreated, account)
}

// CompleteLink finishes a link whose code was delivered by the client
func (h *AccountHandler) CompleteLink(c echo.Context) error {
	userID, err := h.currentUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
	}

	var req linkRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if !req.Provider.Valid() || req.Code == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "provider and code are required"})
	}

	account, err := h.accountService.CompleteLink(c.Request().Context(), userID, req.Provider, req.Code)
	if err != nil {
		h.logger.Error("Link completion failed:", err)
		status, msg := linkStatus(err)
		return c.JSON(status, map[string]string{"error": msg})
	}
	return c.JSON(http.StatusCreated, account)
}

type exchangeCodeRequest struct {
	Provider    model.Provider `json:"provider"`
	Code        string         `json:"code"`
	RedirectURI string         `json:"redirect_uri"`
}

// ExchangeCode trades an authorization code for tokens. It requires a
// primary session, so the detached authorization surface cannot call it.
func (h *AccountHandler) ExchangeCode(c echo.Context) error {
	if _, err := h.currentUserID(c); err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
	}

	var req exchangeCodeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if !req.Provider.Valid() || req.Code == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "provider and code are required"})
	}

	tokens, err := h.accountService.ExchangeCode(c.Request().Context(), req.Provider, req.Code, req.RedirectURI)
	if err != nil {
		h.logger.Error("Code exchange failed:", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "Authorization exchange failed"})
	}
	return c.JSON(http.StatusOK, tokens)
}

// RemoveAccount deactivates a connected account
func (h *AccountHandler) RemoveAccount(c echo.Context) error {
	userID, err := h.currentUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
	}

	err = h.accountService.RemoveAccount(c.Request().Context(), userID, c.Param("id"))
	switch {
	case err == nil:
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, service.ErrLastAccount):
		return c.JSON(http.StatusConflict, map[string]string{"error": "Cannot remove the last connected account"})
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, service.ErrAccountNotOwned):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Account not found"})
	default:
		h.logger.Error("Failed to remove account:", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to remove account"})
	}
}

// GetToken hands out a valid access token for one connected account
func (h *AccountHandler) GetToken(c echo.Context) error {
	userID, err := h.currentUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
	}

	borrowed, err := h.accountService.BorrowToken(c.Request().Context(), userID, c.Param("id"))
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, borrowed)
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, service.ErrAccountNotOwned):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Account not found"})
	case errors.Is(err, token.ErrReauthorizationRequired):
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Account requires re-authorization"})
	default:
		h.logger.Error("Failed to borrow token:", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to get token"})
	}
}
