package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"unibox/internal/logger"
	"unibox/internal/model"
	"unibox/internal/provider"
)

// System labels folded into the IsRead/IsStarred booleans. They are
// stripped from the canonical label set so callers don't double-count.
const (
	labelUnread  = "UNREAD"
	labelStarred = "STARRED"
	labelInbox   = "INBOX"
)

type client struct {
	svc       *gmail.Service
	accountID string
	logger    *logger.Logger
}

// NewClient builds a Gmail adapter bound to one account's access token.
// The token is injected per construction; nothing is cached globally.
func NewClient(accessToken, accountID string, logger *logger.Logger) (provider.Adapter, error) {
	httpClient := &http.Client{
		Transport: &oauth2Transport{token: accessToken},
	}

	svc, err := gmail.NewService(context.Background(), option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &client{
		svc:       svc,
		accountID: accountID,
		logger:    logger,
	}, nil
}

type oauth2Transport struct {
	token string
}

func (t *oauth2Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+t.token)
	return http.DefaultTransport.RoundTrip(req)
}

func wrapAPIError(err error) error {
	if gerr, ok := err.(*googleapi.Error); ok {
		return provider.ClassifyStatus(gerr.Code, err)
	}
	return &provider.Error{Kind: provider.KindProviderRejected, Err: err}
}

// buildQuery translates the canonical filter into a Gmail search string.
func buildQuery(filter provider.Filter) string {
	var parts []string
	if filter.Label != "" {
		parts = append(parts, "label:"+filter.Label)
	} else {
		parts = append(parts, "in:inbox")
	}
	if filter.IsRead != nil {
		if *filter.IsRead {
			parts = append(parts, "is:read")
		} else {
			parts = append(parts, "is:unread")
		}
	}
	if filter.IsStarred != nil {
		if *filter.IsStarred {
			parts = append(parts, "is:starred")
		} else {
			parts = append(parts, "-is:starred")
		}
	}
	if filter.Search != "" {
		parts = append(parts, filter.Search)
	}
	return strings.Join(parts, " ")
}

// skipToOffset advances through id-only list pages until offset
// messages have been skipped, returning the cursor for the next page.
// An empty cursor means the offset is past the end of the result set.
func (c *client) skipToOffset(ctx context.Context, query string, offset int64) (string, error) {
	token := ""
	for offset > 0 {
		batch := offset
		if batch > 500 {
			batch = 500
		}
		call := c.svc.Users.Messages.List("me").MaxResults(batch).Q(query).Fields("messages/id", "nextPageToken")
		if token != "" {
			call = call.PageToken(token)
		}
		list, err := call.Context(ctx).Do()
		if err != nil {
			return "", wrapAPIError(err)
		}
		offset -= int64(len(list.Messages))
		token = list.NextPageToken
		if token == "" {
			return "", nil
		}
	}
	return token, nil
}

func (c *client) Fetch(ctx context.Context, filter provider.Filter) (*provider.FetchResult, error) {
	user := "me"
	maxResults := filter.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	pageToken := filter.PageToken
	if pageToken == "" && filter.Offset > 0 {
		// Gmail paginates by opaque cursor; an offset request is served
		// by walking id-only pages up to the offset first.
		var err error
		pageToken, err = c.skipToOffset(ctx, buildQuery(filter), filter.Offset)
		if err != nil {
			return nil, err
		}
		if pageToken == "" {
			return &provider.FetchResult{Emails: []*model.Email{}}, nil
		}
	}

	call := c.svc.Users.Messages.List(user).MaxResults(maxResults).Q(buildQuery(filter))
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	list, err := call.Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError(err)
	}

	var emails []*model.Email
	for _, msg := range list.Messages {
		message, err := c.svc.Users.Messages.Get(user, msg.Id).Format("full").Context(ctx).Do()
		if err != nil {
			c.logger.Error("Failed to get message:", msg.Id, err)
			continue
		}
		emails = append(emails, c.normalize(message))
	}

	return &provider.FetchResult{
		Emails:        emails,
		NextPageToken: list.NextPageToken,
		ResultCount:   int(list.ResultSizeEstimate),
	}, nil
}

// normalize maps one Gmail message onto the canonical record. Every field
// is populated; UNREAD and STARRED become booleans and leave the label set.
func (c *client) normalize(message *gmail.Message) *model.Email {
	email := model.NewEmail(c.accountID, model.ProviderGmail, message.Id)
	email.ThreadID = message.ThreadId
	email.Snippet = message.Snippet
	email.SentAt = time.Unix(message.InternalDate/1000, 0)

	for _, header := range message.Payload.Headers {
		switch header.Name {
		case "Subject":
			email.Subject = header.Value
		case "From":
			email.From = header.Value
		case "To":
			for _, addr := range strings.Split(header.Value, ",") {
				if addr = strings.TrimSpace(addr); addr != "" {
					email.To = append(email.To, addr)
				}
			}
		}
	}

	email.IsRead = true
	for _, label := range message.LabelIds {
		switch label {
		case labelUnread:
			email.IsRead = false
		case labelStarred:
			email.IsStarred = true
		default:
			email.Labels = append(email.Labels, label)
		}
	}

	email.BodyText, email.BodyHTML = extractBodies(message.Payload)
	email.Attachments = extractAttachments(message.Payload, nil)
	return email
}

// extractBodies walks the MIME tree collecting the first text/plain and
// text/html parts.
func extractBodies(payload *gmail.MessagePart) (text, html string) {
	if payload == nil {
		return "", ""
	}
	if len(payload.Parts) == 0 {
		decoded := decodePart(payload.Body)
		if payload.MimeType == "text/html" {
			return "", decoded
		}
		return decoded, ""
	}
	for _, part := range payload.Parts {
		switch {
		case part.MimeType == "text/plain" && text == "":
			text = decodePart(part.Body)
		case part.MimeType == "text/html" && html == "":
			html = decodePart(part.Body)
		case len(part.Parts) > 0:
			nestedText, nestedHTML := extractBodies(part)
			if text == "" {
				text = nestedText
			}
			if html == "" {
				html = nestedHTML
			}
		}
	}
	return text, html
}

func decodePart(body *gmail.MessagePartBody) string {
	if body == nil || body.Data == "" {
		return ""
	}
	decoded, err := decodeBase64URL(body.Data)
	if err != nil {
		return ""
	}
	return string(decoded)
}

// decodeBase64URL accepts both padded and unpadded base64url, which the
// Gmail API mixes freely.
func decodeBase64URL(data string) ([]byte, error) {
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return decoded, nil
	}
	return base64.RawURLEncoding.DecodeString(data)
}

func extractAttachments(payload *gmail.MessagePart, acc []model.Attachment) []model.Attachment {
	if payload == nil {
		return acc
	}
	if payload.Filename != "" && payload.Body != nil && payload.Body.AttachmentId != "" {
		acc = append(acc, model.Attachment{
			ID:          payload.Body.AttachmentId,
			Filename:    payload.Filename,
			MimeType:    payload.MimeType,
			Size:        payload.Body.Size,
			ProviderRef: payload.Body.AttachmentId,
		})
	}
	for _, part := range payload.Parts {
		acc = extractAttachments(part, acc)
	}
	return acc
}

func (c *client) Mutate(ctx context.Context, messageID string, op provider.Op) error {
	user := "me"

	var modify *gmail.ModifyMessageRequest
	switch op {
	case provider.OpMarkRead:
		modify = &gmail.ModifyMessageRequest{RemoveLabelIds: []string{labelUnread}}
	case provider.OpMarkUnread:
		modify = &gmail.ModifyMessageRequest{AddLabelIds: []string{labelUnread}}
	case provider.OpStar:
		modify = &gmail.ModifyMessageRequest{AddLabelIds: []string{labelStarred}}
	case provider.OpUnstar:
		modify = &gmail.ModifyMessageRequest{RemoveLabelIds: []string{labelStarred}}
	case provider.OpArchive:
		// Removing INBOX is how Gmail archives. There is no unarchive
		// through this interface.
		modify = &gmail.ModifyMessageRequest{RemoveLabelIds: []string{labelInbox}}
	case provider.OpTrash:
		return c.trash(ctx, messageID)
	default:
		return fmt.Errorf("unsupported op: %s", op)
	}

	if _, err := c.svc.Users.Messages.Modify(user, messageID, modify).Context(ctx).Do(); err != nil {
		return wrapAPIError(err)
	}
	return nil
}

// trash moves the message to Gmail's trash, falling back to a permanent
// delete only when the trash call is rejected.
func (c *client) trash(ctx context.Context, messageID string) error {
	user := "me"
	if _, err := c.svc.Users.Messages.Trash(user, messageID).Context(ctx).Do(); err != nil {
		c.logger.Warn("Trash rejected, attempting hard delete:", messageID, err)
		if delErr := c.svc.Users.Messages.Delete(user, messageID).Context(ctx).Do(); delErr != nil {
			return wrapAPIError(delErr)
		}
	}
	return nil
}

func (c *client) Send(ctx context.Context, msg *provider.OutgoingMessage) error {
	raw := buildMIME(msg)
	encoded := base64.URLEncoding.EncodeToString([]byte(raw))

	_, err := c.svc.Users.Messages.Send("me", &gmail.Message{Raw: encoded}).Context(ctx).Do()
	if err != nil {
		return wrapAPIError(err)
	}
	return nil
}

// buildMIME assembles an RFC 2822 multipart/alternative message.
func buildMIME(msg *provider.OutgoingMessage) string {
	const boundary = "unibox-alt-boundary"

	var lines []string
	lines = append(lines, "To: "+strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		lines = append(lines, "Cc: "+strings.Join(msg.Cc, ", "))
	}
	if len(msg.Bcc) > 0 {
		lines = append(lines, "Bcc: "+strings.Join(msg.Bcc, ", "))
	}
	lines = append(lines, "Subject: "+msg.Subject, "MIME-Version: 1.0")

	switch {
	case msg.BodyHTML != "" && msg.BodyText != "":
		lines = append(lines,
			"Content-Type: multipart/alternative; boundary="+boundary,
			"",
			"--"+boundary,
			"Content-Type: text/plain; charset=utf-8",
			"",
			msg.BodyText,
			"",
			"--"+boundary,
			"Content-Type: text/html; charset=utf-8",
			"",
			msg.BodyHTML,
			"",
			"--"+boundary+"--")
	case msg.BodyHTML != "":
		lines = append(lines, "Content-Type: text/html; charset=utf-8", "", msg.BodyHTML)
	default:
		lines = append(lines, "Content-Type: text/plain; charset=utf-8", "", msg.BodyText)
	}

	return strings.Join(lines, "\r\n")
}

func (c *client) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	body, err := c.svc.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError(err)
	}
	data, err := decodeBase64URL(body.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachment data: %w", err)
	}
	return data, nil
}

func (c *client) Labels(ctx context.Context) ([]provider.Label, error) {
	resp, err := c.svc.Users.Labels.List("me").Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError(err)
	}

	var labels []provider.Label
	for _, l := range resp.Labels {
		// Surface user labels plus the system ones the UI filters on.
		if l.Type == "user" || isVisibleSystemLabel(l.Id) {
			labels = append(labels, provider.Label{ID: l.Id, Name: l.Name, Type: l.Type})
		}
	}
	return labels, nil
}

func isVisibleSystemLabel(id string) bool {
	switch id {
	case "IMPORTANT", "STARRED", "CATEGORY_PERSONAL", "CATEGORY_SOCIAL",
		"CATEGORY_PROMOTIONS", "CATEGORY_UPDATES", "CATEGORY_FORUMS":
		return true
	}
	return false
}
