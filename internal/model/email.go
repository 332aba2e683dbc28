package model

import (
	"time"

	"github.com/google/uuid"
)

// Attachment describes one attachment on a canonical email. ProviderRef is
// the provider-local attachment identifier used to download the bytes.
type Attachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	MimeType    string `json:"mime_type"`
	Size        int64  `json:"size"`
	ProviderRef string `json:"provider_ref"`
}

// Email is the provider-agnostic message record. The pair
// (AccountID, ProviderID) is unique across the union of all accounts.
// IsRead and IsStarred are eventually-consistent mirrors of provider
// state; provider label vocabularies are surfaced as opaque strings.
type Email struct {
	ID          string       `json:"id"`
	AccountID   string       `json:"account_id"`
	Provider    Provider     `json:"provider"`
	ProviderID  string       `json:"provider_id"`
	ThreadID    string       `json:"thread_id"`
	Subject     string       `json:"subject"`
	From        string       `json:"from"`
	To          []string     `json:"to"`
	SentAt      time.Time    `json:"sent_at"`
	Snippet     string       `json:"snippet"`
	BodyText    string       `json:"body_text"`
	BodyHTML    string       `json:"body_html"`
	IsRead      bool         `json:"is_read"`
	IsStarred   bool         `json:"is_starred"`
	IsTrash     bool         `json:"-"`
	Labels      []string     `json:"labels"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func NewEmail(accountID string, provider Provider, providerID string) *Email {
	now := time.Now()
	return &Email{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		Provider:   provider,
		ProviderID: providerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (e *Email) HasLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// PageSource tells the caller which fetch path produced a page. Cache
// totals are exact; live totals are the sum of per-account result counts
// observed during that fetch, an estimate by design.
type PageSource string

const (
	SourceCache PageSource = "cache"
	SourceLive  PageSource = "live"
)

// Page is the unit of pagination returned to callers. Emails are ordered
// by SentAt descending.
type Page struct {
	Emails  []*Email   `json:"emails"`
	Total   int        `json:"total"`
	Page    int        `json:"page"`
	PerPage int        `json:"per_page"`
	Source  PageSource `json:"source"`
}
