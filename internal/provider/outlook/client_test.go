package outlook

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"unibox/internal/logger"
	"unibox/internal/model"
	"unibox/internal/provider"
)

func testClient() *client {
	return &client{
		accountID: "acc-outlook-1",
		logger:    logger.New(),
	}
}

func sampleMessage() *graphMessage {
	msg := &graphMessage{
		ID:               "AAMkAGI2T001",
		ConversationID:   "AAQkAGI2Tconv",
		Subject:          "Quarterly report",
		ReceivedDateTime: time.Date(2026, 7, 1, 9, 30, 0, 0, time.UTC),
		BodyPreview:      "Please find attached the quarterly...",
		IsRead:           false,
	}
	msg.From = &graphRecipient{}
	msg.From.EmailAddress.Address = "alice@example.com"
	msg.From.EmailAddress.Name = "Alice"

	var to graphRecipient
	to.EmailAddress.Address = "bob@example.com"
	msg.ToRecipients = []graphRecipient{to}

	msg.Body = &struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	}{ContentType: "html", Content: "<p>Please find attached</p>"}
	return msg
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func TestFetchSetsConsistencyHeaderForCountQueries(t *testing.T) {
	var captured *http.Request
	c := testClient()
	c.httpClient = &http.Client{Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		captured = req
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"value":[],"@odata.count":0}`)),
			Header:     make(http.Header),
		}, nil
	})}

	_, err := c.Fetch(context.Background(), provider.Filter{MaxResults: 5})
	assert.NoError(t, err)
	assert.NotNil(t, captured)

	// $count=true is percent-encoded in the query string, and Graph only
	// honors it together with this header.
	assert.Contains(t, captured.URL.RawQuery, "count=true")
	assert.Equal(t, "eventual", captured.Header.Get("ConsistencyLevel"))
	assert.True(t, strings.HasPrefix(captured.Header.Get("Authorization"), "Bearer"))
}

func TestNormalizeMapsFolderToSingleLabel(t *testing.T) {
	c := testClient()
	msg := sampleMessage()

	email := c.normalize(context.Background(), msg, "Inbox")

	assert.Equal(t, "acc-outlook-1", email.AccountID)
	assert.Equal(t, model.ProviderOutlook, email.Provider)
	assert.Equal(t, "AAMkAGI2T001", email.ProviderID)
	assert.Equal(t, "AAQkAGI2Tconv", email.ThreadID)
	assert.Equal(t, []string{"Inbox"}, email.Labels)
	assert.Equal(t, "alice@example.com", email.From)
	assert.Equal(t, []string{"bob@example.com"}, email.To)
	assert.Equal(t, "Quarterly report", email.Subject)
	assert.False(t, email.IsRead)
	assert.False(t, email.IsStarred)
}

func TestNormalizeFlaggedMessageIsStarred(t *testing.T) {
	c := testClient()
	msg := sampleMessage()
	msg.Flag = &struct {
		FlagStatus string `json:"flagStatus"`
	}{FlagStatus: "flagged"}

	email := c.normalize(context.Background(), msg, "Inbox")

	assert.True(t, email.IsStarred)
}

func TestNormalizeNotFlaggedMessageIsNotStarred(t *testing.T) {
	c := testClient()
	msg := sampleMessage()
	msg.Flag = &struct {
		FlagStatus string `json:"flagStatus"`
	}{FlagStatus: "notFlagged"}

	email := c.normalize(context.Background(), msg, "Inbox")

	assert.False(t, email.IsStarred)
}

func TestNormalizeFallsBackToMessageIDForThread(t *testing.T) {
	c := testClient()
	msg := sampleMessage()
	msg.ConversationID = ""

	email := c.normalize(context.Background(), msg, "Inbox")

	assert.Equal(t, msg.ID, email.ThreadID)
}

func TestNormalizeHTMLBody(t *testing.T) {
	c := testClient()
	msg := sampleMessage()

	email := c.normalize(context.Background(), msg, "Inbox")

	assert.Equal(t, "<p>Please find attached</p>", email.BodyHTML)
	assert.Empty(t, email.BodyText)
	assert.Equal(t, "Please find attached the quarterly...", email.Snippet)
}

func TestNormalizeTextBody(t *testing.T) {
	c := testClient()
	msg := sampleMessage()
	msg.Body.ContentType = "text"
	msg.Body.Content = "Please find attached"

	email := c.normalize(context.Background(), msg, "Inbox")

	assert.Equal(t, "Please find attached", email.BodyText)
	assert.Empty(t, email.BodyHTML)
}

func TestNormalizeCustomFolderAsLabel(t *testing.T) {
	c := testClient()
	msg := sampleMessage()
	msg.IsRead = true

	email := c.normalize(context.Background(), msg, "Receipts")

	assert.Equal(t, []string{"Receipts"}, email.Labels)
	assert.True(t, email.IsRead)
	assert.True(t, email.HasLabel("Receipts"))
	assert.False(t, email.HasLabel("Inbox"))
}
