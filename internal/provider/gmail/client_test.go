package gmail

import (
	"encoding/base64"
	"testing"
	"time"

	"google.golang.org/api/gmail/v1"

	"unibox/internal/logger"
	"unibox/internal/model"
	"unibox/internal/provider"

	"github.com/stretchr/testify/assert"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func sampleMessage() *gmail.Message {
	return &gmail.Message{
		Id:           "msg-1",
		ThreadId:     "thread-1",
		Snippet:      "Quarterly numbers attached",
		InternalDate: 1719830000000,
		LabelIds:     []string{"UNREAD", "STARRED", "INBOX", "IMPORTANT"},
		Payload: &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "Q2 report"},
				{Name: "From", Value: "alice@example.com"},
				{Name: "To", Value: "bob@example.com, carol@example.com"},
			},
			Parts: []*gmail.MessagePart{
				{
					MimeType: "multipart/alternative",
					Parts: []*gmail.MessagePart{
						{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("plain body")}},
						{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<p>html body</p>")}},
					},
				},
				{
					MimeType: "application/pdf",
					Filename: "report.pdf",
					Body:     &gmail.MessagePartBody{AttachmentId: "att-1", Size: 2048},
				},
			},
		},
	}
}

func TestNormalizeFoldsSystemLabels(t *testing.T) {
	c := &client{accountID: "acct-1", logger: logger.New()}

	email := c.normalize(sampleMessage())

	assert.Equal(t, "acct-1", email.AccountID)
	assert.Equal(t, model.ProviderGmail, email.Provider)
	assert.Equal(t, "msg-1", email.ProviderID)
	assert.Equal(t, "thread-1", email.ThreadID)
	assert.Equal(t, "Q2 report", email.Subject)
	assert.Equal(t, "alice@example.com", email.From)
	assert.Equal(t, []string{"bob@example.com", "carol@example.com"}, email.To)
	assert.Equal(t, time.Unix(1719830000, 0), email.SentAt)

	// UNREAD and STARRED become booleans and leave the label set
	assert.False(t, email.IsRead)
	assert.True(t, email.IsStarred)
	assert.NotContains(t, email.Labels, "UNREAD")
	assert.NotContains(t, email.Labels, "STARRED")
	assert.Contains(t, email.Labels, "INBOX")
	assert.Contains(t, email.Labels, "IMPORTANT")
}

func TestNormalizeReadMessage(t *testing.T) {
	c := &client{accountID: "acct-1", logger: logger.New()}

	msg := sampleMessage()
	msg.LabelIds = []string{"INBOX"}

	email := c.normalize(msg)
	assert.True(t, email.IsRead)
	assert.False(t, email.IsStarred)
}

func TestNormalizeExtractsBodiesAndAttachments(t *testing.T) {
	c := &client{accountID: "acct-1", logger: logger.New()}

	email := c.normalize(sampleMessage())

	assert.Equal(t, "plain body", email.BodyText)
	assert.Equal(t, "<p>html body</p>", email.BodyHTML)

	assert.Len(t, email.Attachments, 1)
	assert.Equal(t, "report.pdf", email.Attachments[0].Filename)
	assert.Equal(t, "att-1", email.Attachments[0].ProviderRef)
	assert.Equal(t, int64(2048), email.Attachments[0].Size)
}

func TestDecodePartAcceptsUnpaddedData(t *testing.T) {
	raw := base64.RawURLEncoding.EncodeToString([]byte("unpadded?"))
	got := decodePart(&gmail.MessagePartBody{Data: raw})
	assert.Equal(t, "unpadded?", got)
}

func TestBuildQuery(t *testing.T) {
	yes := true
	no := false

	tests := []struct {
		name   string
		filter provider.Filter
		want   string
	}{
		{"default is inbox", provider.Filter{}, "in:inbox"},
		{"label replaces inbox", provider.Filter{Label: "Receipts"}, "label:Receipts"},
		{"unread", provider.Filter{IsRead: &no}, "in:inbox is:unread"},
		{"read", provider.Filter{IsRead: &yes}, "in:inbox is:read"},
		{"starred", provider.Filter{IsStarred: &yes}, "in:inbox is:starred"},
		{"not starred", provider.Filter{IsStarred: &no}, "in:inbox -is:starred"},
		{"free text", provider.Filter{Search: "invoice 42"}, "in:inbox invoice 42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildQuery(tt.filter))
		})
	}
}

func TestBuildMIMEMultipart(t *testing.T) {
	raw := buildMIME(&provider.OutgoingMessage{
		To:       []string{"bob@example.com"},
		Cc:       []string{"carol@example.com"},
		Subject:  "hello",
		BodyText: "plain",
		BodyHTML: "<b>rich</b>",
	})

	assert.Contains(t, raw, "To: bob@example.com")
	assert.Contains(t, raw, "Cc: carol@example.com")
	assert.Contains(t, raw, "Subject: hello")
	assert.Contains(t, raw, "multipart/alternative")
	assert.Contains(t, raw, "plain")
	assert.Contains(t, raw, "<b>rich</b>")
}

func TestBuildMIMEPlainOnly(t *testing.T) {
	raw := buildMIME(&provider.OutgoingMessage{
		To:       []string{"bob@example.com"},
		Subject:  "hello",
		BodyText: "plain only",
	})

	assert.Contains(t, raw, "Content-Type: text/plain; charset=utf-8")
	assert.NotContains(t, raw, "multipart/alternative")
}
