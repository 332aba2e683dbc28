package model

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifies a mail service a ConnectedAccount belongs to.
type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
)

func (p Provider) Valid() bool {
	return p == ProviderGmail || p == ProviderOutlook
}

// ConnectedAccount is one linked mailbox: identity plus its credential.
// The access token must not be used past TokenExpiry without a refresh
// attempt; an empty RefreshToken means re-authorization on expiry.
type ConnectedAccount struct {
	ID           string    `json:"id"`
	UserID       string    `json:"-"`
	Provider     Provider  `json:"provider"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenExpiry  time.Time `json:"-"`
	IsActive     bool      `json:"is_active"`
	IsPrimary    bool      `json:"is_primary"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func NewConnectedAccount(userID string, provider Provider, email, displayName string) *ConnectedAccount {
	now := time.Now()
	return &ConnectedAccount{
		ID:          uuid.New().String(),
		UserID:      userID,
		Provider:    provider,
		Email:       email,
		DisplayName: displayName,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TokenExpired reports whether the access token is expired or expires
// within the given buffer.
func (a *ConnectedAccount) TokenExpired(buffer time.Duration) bool {
	if a.TokenExpiry.IsZero() {
		return false
	}
	return !a.TokenExpiry.After(time.Now().Add(buffer))
}

// TokenResponse is the body returned by the authorization exchange
// endpoint. The refresh token is omitted when the provider withheld one.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
}

// SyncState tracks incremental sync progress for one connected account.
type SyncState struct {
	AccountID    string    `json:"account_id"`
	Cursor       string    `json:"cursor"`
	LastSyncAt   time.Time `json:"last_sync_at"`
	TotalSynced  int       `json:"total_synced"`
	LastError    string    `json:"last_error"`
	ErrorCount   int       `json:"error_count"`
}
