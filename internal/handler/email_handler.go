package handler

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"

	"unibox/internal/aggregator"
	"unibox/internal/provider"
	"unibox/internal/repository"
	"unibox/internal/service"
	"unibox/internal/token"

	"github.com/labstack/echo/v4"
)

type EmailHandler struct {
	emailService service.EmailService
	authHandler  *AuthHandler
	logger       echo.Logger
}

func NewEmailHandler(emailService service.EmailService, authHandler *AuthHandler, logger echo.Logger) *EmailHandler {
	return &EmailHandler{
		emailService: emailService,
		authHandler:  authHandler,
		logger:       logger,
	}
}

func (h *EmailHandler) currentUserID(c echo.Context) (string, error) {
	user, err := h.authHandler.GetCurrentUser(c)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// emailError converts service and adapter failures into HTTP responses.
func (h *EmailHandler) emailError(c echo.Context, err error, action string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, service.ErrEmailNotOwned),
		provider.IsKind(err, provider.KindNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Email not found"})
	case errors.Is(err, token.ErrReauthorizationRequired), provider.IsKind(err, provider.KindTokenExpired):
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Account requires re-authorization"})
	case provider.IsKind(err, provider.KindProviderRejected):
		h.logger.Error("Provider rejected "+action+":", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "Provider rejected the request"})
	default:
		h.logger.Error("Failed to "+action+":", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to " + action})
	}
}

func parseBoolParam(c echo.Context, name string) *bool {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}

// ListEmails serves one page of the unified inbox. mode=live fans the
// request out to the providers; the default serves from the cache.
func (h *EmailHandler) ListEmails(c echo.Context) error {
	userID, err := h.currentUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	perPage, _ := strconv.Atoi(c.QueryParam("per_page"))

	q := aggregator.Query{
		Page:      page,
		PerPage:   perPage,
		Search:    c.QueryParam("search"),
		Label:     c.QueryParam("label"),
		IsRead:    parseBoolParam(c, "is_read"),
		IsStarred: parseBoolParam(c, "is_starred"),
	}
	live := c.QueryParam("mode") == "live"
	accountID := c.QueryParam("account_id")

	result, err := h.emailService.ListEmails(c.Request().Context(), userID, q, live, accountID)
	if err != nil {
		if errors.Is(err, aggregator.ErrAllAccountsFailed) {
			return c.JSON(http.StatusBadGateway, map[string]string{"error": "All account fetches failed"})
		}
		return h.emailError(c, err, "list emails")
	}
	return c.JSON(http.StatusOK, result)
}

// GetEmail returns one cached email
func (h *EmailHandler) GetEmail(c echo.Context) error {
	userID, err := h.currentUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
	}

	email, err := h.emailService.GetEmail(c.Request().Context(), userID, c.Param("id"))
	if err != nil {
		return h.emailError(c, err, "get email")
	}
	return c.JSON(http.StatusOK, email)
}

type markReadRequest struct {
	IsRead bool `json:"is_read"`
}

func (h *EmailHandler) MarkRead(c echo.Context) error {
	userID, err := h.currentUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
	}

	req := markReadRequest{IsRead: true}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	if err := h.emailService.MarkRead(c.Request().Context(), userID, c.Param("id"), req.IsRead); err != nil {
		return h.emailError(c, err, "mark read")
	}
	return c.JSON(http.StatusOK, map[string]bool{"is_read": req.IsRead})
}

type starRequest struct {
	IsStarred bool `json:"is_starred"`
}

func (h *EmailHandler) Star(c echo.Context) error {
	userID, err := h.currentUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
	}

	var req starRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	if err := h.emailService.Star(c.Request().Context(), userID, c.Param("id"), req.IsStarred); err != nil {
		return h.emailError(c, err, "star")
	}
	return c.JSON(http.StatusOK, map[string]bool{"is_starred": req.IsStarred})
}

func (h *EmailHandler) Archive(c echo.Context) error {
	userID, err := h.currentUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
	}

	if err := h.emailService.Archive(c.Request().Context(), userID, c.Param("id")); err != nil {
		return h.emailError(c, err, "archive")
	}
	return c.JSON(http.StatusOK, map[string]bool{"archived": true})
}

func (h *EmailHandler) Delete(c echo.Context) error {
	userID, err := h.currentUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
	}

	if err := h.emailService.Delete(c.Request().Context(), userID, c.Param("id")); err != nil {
		return h.emailError(c, err, "delete")
	}
	return c.NoContent(http.StatusNoContent)
}

type labelsRequest struct {
	Labels []string `json:"labels"`
}

func (h *EmailHandler) SetLabels(c echo.Context) error {
	userID, err := h.currentUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
	}

	var req labelsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	if err := h.emailService.SetLabels(c.Request().Context(), userID, c.Param("id"), req.Labels); err != nil {
		return h.emailError(c, err, "update labels")
	}
	return c.JSON(http.StatusOK, map[string][]string{"labels": req.Labels})
}

// Counts returns the sidebar filter counts
func (h *EmailHandler) Counts(c echo.Context) error {
	userID, err := h.currentUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
	}

	counts, err := h.emailService.Counts(c.Request().Context(), userID)
	if err != nil {
		return h.emailError(c, err, "get counts")
	}
	return c.JSON(http.StatusOK, counts)
}

// Sync kicks off a background cache refresh and returns immediately
func (h *EmailHandler) Sync(c echo.Context) error {
	userID, err := h.currentUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
	}

	status, err := h.emailService.SyncNow(c.Request().Context(), userID)
	if err != nil {
		return h.emailError(c, err, "sync")
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": status})
}

type sendAttachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Content  string `json:"content"`
}

type sendRequest struct {
	AccountID   string           `json:"account_id"`
	To          []string         `json:"to"`
	Cc          []string         `json:"cc"`
	Bcc         []string         `json:"bcc"`
	Subject     string           `json:"subject"`
	BodyText    string           `json:"body_text"`
	BodyHTML    string           `json:"body_html"`
	Attachments []sendAttachment `json:"attachments"`
}

func (h *EmailHandler) Send(c echo.Context) error {
	userID, err := h.currentUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
	}

	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if len(req.To) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "At least one recipient is required"})
	}

	msg := &provider.OutgoingMessage{
		To:       req.To,
		Cc:       req.Cc,
		Bcc:      req.Bcc,
		Subject:  req.Subject,
		BodyText: req.BodyText,
		BodyHTML: req.BodyHTML,
	}
	for _, att := range req.Attachments {
		content, err := base64.StdEncoding.DecodeString(att.Content)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid attachment encoding"})
		}
		msg.Attachments = append(msg.Attachments, provider.OutgoingAttachment{
			Filename: att.Filename,
			MimeType: att.MimeType,
			Content:  content,
		})
	}

	if err := h.emailService.Send(c.Request().Context(), userID, req.AccountID, msg); err != nil {
		return h.emailError(c, err, "send")
	}
	return c.JSON(http.StatusOK, map[string]bool{"sent": true})
}

// GetAttachment streams one attachment's bytes
func (h *EmailHandler) GetAttachment(c echo.Context) error {
	userID, err := h.currentUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
	}

	data, err := h.emailService.GetAttachment(c.Request().Context(), userID, c.Param("id"), c.Param("attachmentID"))
	if err != nil {
		return h.emailError(c, err, "get attachment")
	}
	return c.Blob(http.StatusOK, "application/octet-stream", data)
}

// Labels returns the union of the user's provider labels and folders
func (h *EmailHandler) Labels(c echo.Context) error {
	userID, err := h.currentUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
	}

	labels, err := h.emailService.Labels(c.Request().Context(), userID, c.QueryParam("account_id"))
	if err != nil {
		return h.emailError(c, err, "list labels")
	}
	if labels == nil {
		labels = []provider.Label{}
	}
	return c.JSON(http.StatusOK, labels)
}
