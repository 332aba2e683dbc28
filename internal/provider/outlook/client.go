package outlook

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"unibox/internal/logger"
	"unibox/internal/model"
	"unibox/internal/provider"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// client speaks Microsoft Graph directly. Outlook has no label taxonomy;
// the containing folder's display name is surfaced as the single canonical
// label, and the flagged state maps to IsStarred.
type client struct {
	httpClient *http.Client
	token      string
	accountID  string
	logger     *logger.Logger
}

func NewClient(accessToken, accountID string, logger *logger.Logger) (provider.Adapter, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}
	return &client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		token:      accessToken,
		accountID:  accountID,
		logger:     logger,
	}, nil
}

func (c *client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, graphBaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// url.Values.Encode escapes "$count" to "%24count".
	if strings.Contains(path, "count=true") {
		req.Header.Set("ConsistencyLevel", "eventual")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &provider.Error{Kind: provider.KindProviderRejected, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return provider.ClassifyStatus(resp.StatusCode,
			fmt.Errorf("graph %s %s: status %d: %s", method, path, resp.StatusCode, string(data)))
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode graph response: %w", err)
		}
	}
	return nil
}

type graphRecipient struct {
	EmailAddress struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	} `json:"emailAddress"`
}

type graphMessage struct {
	ID               string           `json:"id"`
	ConversationID   string           `json:"conversationId"`
	Subject          string           `json:"subject"`
	From             *graphRecipient  `json:"from"`
	ToRecipients     []graphRecipient `json:"toRecipients"`
	ReceivedDateTime time.Time        `json:"receivedDateTime"`
	BodyPreview      string           `json:"bodyPreview"`
	Body             *struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	IsRead bool `json:"isRead"`
	Flag   *struct {
		FlagStatus string `json:"flagStatus"`
	} `json:"flag"`
	HasAttachments bool `json:"hasAttachments"`
}

type graphFolder struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type graphList struct {
	Value []json.RawMessage `json:"value"`
	Count int               `json:"@odata.count"`
}

// folderByName resolves a mail folder by its display name.
func (c *client) folderByName(ctx context.Context, name string) (*graphFolder, error) {
	path := "/me/mailFolders?$filter=" + url.QueryEscape(fmt.Sprintf("displayName eq '%s'", name))
	var list struct {
		Value []graphFolder `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	if len(list.Value) == 0 {
		return nil, &provider.Error{Kind: provider.KindNotFound, Err: fmt.Errorf("folder %q not found", name)}
	}
	return &list.Value[0], nil
}

func (c *client) Fetch(ctx context.Context, filter provider.Filter) (*provider.FetchResult, error) {
	maxResults := filter.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	// Outlook paginates by offset rather than cursor; an offset handed
	// back through PageToken is honored too.
	offset := filter.Offset
	if filter.PageToken != "" {
		if parsed, err := strconv.ParseInt(filter.PageToken, 10, 64); err == nil {
			offset = parsed
		}
	}

	folderName := "Inbox"
	basePath := "/me/mailFolders/inbox/messages"
	if filter.Label != "" {
		folder, err := c.folderByName(ctx, filter.Label)
		if err != nil {
			return nil, err
		}
		folderName = folder.DisplayName
		basePath = "/me/mailFolders/" + folder.ID + "/messages"
	}

	params := url.Values{}
	params.Set("$top", strconv.FormatInt(maxResults, 10))
	params.Set("$skip", strconv.FormatInt(offset, 10))
	params.Set("$select", "id,conversationId,subject,from,toRecipients,receivedDateTime,bodyPreview,body,isRead,flag,hasAttachments")
	params.Set("$count", "true")

	if filter.Search != "" {
		// Graph rejects $search combined with $filter and $orderby; the
		// merge layer re-sorts, so ordering is not lost.
		params.Set("$search", fmt.Sprintf("%q", filter.Search))
	} else {
		params.Set("$orderby", "receivedDateTime desc")
		var clauses []string
		if filter.IsRead != nil {
			clauses = append(clauses, fmt.Sprintf("isRead eq %t", *filter.IsRead))
		}
		if filter.IsStarred != nil {
			if *filter.IsStarred {
				clauses = append(clauses, "flag/flagStatus eq 'flagged'")
			} else {
				clauses = append(clauses, "flag/flagStatus ne 'flagged'")
			}
		}
		if len(clauses) > 0 {
			params.Set("$filter", strings.Join(clauses, " and "))
		}
	}

	var list graphList
	if err := c.do(ctx, http.MethodGet, basePath+"?"+params.Encode(), nil, &list); err != nil {
		return nil, err
	}

	var emails []*model.Email
	for _, raw := range list.Value {
		var msg graphMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Error("Failed to decode graph message:", err)
			continue
		}
		emails = append(emails, c.normalize(ctx, &msg, folderName))
	}

	next := ""
	if int64(len(emails)) == maxResults {
		next = strconv.FormatInt(offset+maxResults, 10)
	}

	count := list.Count
	if count == 0 {
		count = len(emails)
	}

	return &provider.FetchResult{
		Emails:        emails,
		NextPageToken: next,
		ResultCount:   count,
	}, nil
}

func (c *client) normalize(ctx context.Context, msg *graphMessage, folderName string) *model.Email {
	email := model.NewEmail(c.accountID, model.ProviderOutlook, msg.ID)
	email.ThreadID = msg.ConversationID
	if email.ThreadID == "" {
		email.ThreadID = msg.ID
	}
	email.Subject = msg.Subject
	if msg.From != nil {
		email.From = msg.From.EmailAddress.Address
	}
	for _, r := range msg.ToRecipients {
		email.To = append(email.To, r.EmailAddress.Address)
	}
	email.SentAt = msg.ReceivedDateTime
	email.Snippet = msg.BodyPreview
	if msg.Body != nil {
		if strings.EqualFold(msg.Body.ContentType, "html") {
			email.BodyHTML = msg.Body.Content
		} else {
			email.BodyText = msg.Body.Content
		}
	}
	email.IsRead = msg.IsRead
	email.IsStarred = msg.Flag != nil && msg.Flag.FlagStatus == "flagged"
	email.Labels = []string{folderName}

	if msg.HasAttachments {
		atts, err := c.listAttachments(ctx, msg.ID)
		if err != nil {
			c.logger.Error("Failed to list attachments for message:", msg.ID, err)
		} else {
			email.Attachments = atts
		}
	}
	return email
}

type graphAttachment struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
	ContentBytes string `json:"contentBytes"`
}

func (c *client) listAttachments(ctx context.Context, messageID string) ([]model.Attachment, error) {
	var list struct {
		Value []graphAttachment `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, "/me/messages/"+messageID+"/attachments", nil, &list); err != nil {
		return nil, err
	}

	var atts []model.Attachment
	for _, a := range list.Value {
		atts = append(atts, model.Attachment{
			ID:          a.ID,
			Filename:    a.Name,
			MimeType:    a.ContentType,
			Size:        a.Size,
			ProviderRef: a.ID,
		})
	}
	return atts, nil
}

func (c *client) Mutate(ctx context.Context, messageID string, op provider.Op) error {
	switch op {
	case provider.OpMarkRead:
		return c.do(ctx, http.MethodPatch, "/me/messages/"+messageID,
			map[string]interface{}{"isRead": true}, nil)
	case provider.OpMarkUnread:
		return c.do(ctx, http.MethodPatch, "/me/messages/"+messageID,
			map[string]interface{}{"isRead": false}, nil)
	case provider.OpStar:
		return c.do(ctx, http.MethodPatch, "/me/messages/"+messageID,
			map[string]interface{}{"flag": map[string]string{"flagStatus": "flagged"}}, nil)
	case provider.OpUnstar:
		return c.do(ctx, http.MethodPatch, "/me/messages/"+messageID,
			map[string]interface{}{"flag": map[string]string{"flagStatus": "notFlagged"}}, nil)
	case provider.OpArchive:
		return c.archive(ctx, messageID)
	case provider.OpTrash:
		return c.trash(ctx, messageID)
	default:
		return fmt.Errorf("unsupported op: %s", op)
	}
}

// archive moves the message to the account's Archive folder.
func (c *client) archive(ctx context.Context, messageID string) error {
	destination := "archive"
	if folder, err := c.folderByName(ctx, "Archive"); err == nil {
		destination = folder.ID
	}
	return c.do(ctx, http.MethodPost, "/me/messages/"+messageID+"/move",
		map[string]string{"destinationId": destination}, nil)
}

// trash moves the message to Deleted Items, falling back to a hard delete
// only when the move is rejected.
func (c *client) trash(ctx context.Context, messageID string) error {
	err := c.do(ctx, http.MethodPost, "/me/messages/"+messageID+"/move",
		map[string]string{"destinationId": "deleteditems"}, nil)
	if err != nil {
		c.logger.Warn("Move to deleted items rejected, attempting hard delete:", messageID, err)
		return c.do(ctx, http.MethodDelete, "/me/messages/"+messageID, nil, nil)
	}
	return nil
}

func (c *client) Send(ctx context.Context, msg *provider.OutgoingMessage) error {
	toRecipients := func(addrs []string) []map[string]interface{} {
		var out []map[string]interface{}
		for _, addr := range addrs {
			out = append(out, map[string]interface{}{
				"emailAddress": map[string]string{"address": addr},
			})
		}
		return out
	}

	content := msg.BodyHTML
	contentType := "HTML"
	if content == "" {
		content = msg.BodyText
		contentType = "Text"
	}

	message := map[string]interface{}{
		"subject":      msg.Subject,
		"body":         map[string]string{"contentType": contentType, "content": content},
		"toRecipients": toRecipients(msg.To),
	}
	if len(msg.Cc) > 0 {
		message["ccRecipients"] = toRecipients(msg.Cc)
	}
	if len(msg.Bcc) > 0 {
		message["bccRecipients"] = toRecipients(msg.Bcc)
	}
	if len(msg.Attachments) > 0 {
		var atts []map[string]interface{}
		for _, a := range msg.Attachments {
			atts = append(atts, map[string]interface{}{
				"@odata.type":  "#microsoft.graph.fileAttachment",
				"name":         a.Filename,
				"contentType":  a.MimeType,
				"contentBytes": base64.StdEncoding.EncodeToString(a.Content),
			})
		}
		message["attachments"] = atts
	}

	return c.do(ctx, http.MethodPost, "/me/sendMail",
		map[string]interface{}{"message": message}, nil)
}

func (c *client) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	var att graphAttachment
	if err := c.do(ctx, http.MethodGet, "/me/messages/"+messageID+"/attachments/"+attachmentID, nil, &att); err != nil {
		return nil, err
	}
	if att.ContentBytes == "" {
		return nil, &provider.Error{Kind: provider.KindNotFound, Err: fmt.Errorf("attachment %s has no content", attachmentID)}
	}
	data, err := base64.StdEncoding.DecodeString(att.ContentBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachment content: %w", err)
	}
	return data, nil
}

func (c *client) Labels(ctx context.Context) ([]provider.Label, error) {
	var list struct {
		Value []graphFolder `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, "/me/mailFolders?$select=id,displayName", nil, &list); err != nil {
		return nil, err
	}

	var labels []provider.Label
	for _, folder := range list.Value {
		labels = append(labels, provider.Label{ID: folder.ID, Name: folder.DisplayName, Type: "user"})
	}
	return labels, nil
}
