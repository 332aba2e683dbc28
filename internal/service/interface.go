package service

import (
	"context"

	"golang.org/x/oauth2"

	"unibox/internal/aggregator"
	"unibox/internal/model"
	"unibox/internal/provider"
)

// Linker drives credential acquisition flows.
type Linker interface {
	Link(ctx context.Context, userID string, provider model.Provider) (*model.ConnectedAccount, error)
	Complete(ctx context.Context, userID string, provider model.Provider, code string) (*model.ConnectedAccount, error)
}

// TokenBroker issues, exchanges and refreshes provider tokens.
type TokenBroker interface {
	EnsureValidToken(ctx context.Context, account *model.ConnectedAccount) (string, error)
	Exchange(ctx context.Context, provider model.Provider, code, redirectURI string) (*oauth2.Token, error)
}

type AuthService interface {
	GetOrCreateUser(ctx context.Context, providerID, email, name string) (*model.User, error)
	GetUser(ctx context.Context, userID string) (*model.User, error)
}

// BorrowedToken is what the credential endpoint hands out: a valid
// access token plus enough identity to address the provider.
type BorrowedToken struct {
	AccessToken string         `json:"access_token"`
	Provider    model.Provider `json:"provider"`
	Email       string         `json:"email"`
}

type AccountService interface {
	// Link runs the full detached-surface acquisition flow.
	Link(ctx context.Context, userID string, provider model.Provider) (*model.ConnectedAccount, error)
	// CompleteLink finishes a flow whose code arrived via the
	// cross-window message channel.
	CompleteLink(ctx context.Context, userID string, provider model.Provider, code string) (*model.ConnectedAccount, error)
	// AddAccount registers an account from an already-exchanged token set.
	AddAccount(ctx context.Context, userID string, provider model.Provider, accessToken, refreshToken string, expiresIn int) (*model.ConnectedAccount, error)
	ListAccounts(ctx context.Context, userID string) ([]*model.ConnectedAccount, error)
	RemoveAccount(ctx context.Context, userID, accountID string) error
	BorrowToken(ctx context.Context, userID, accountID string) (*BorrowedToken, error)
	// ExchangeCode trades an authorization code for a token set. The
	// redirect URI must match the one the code was issued against; an
	// empty value falls back to the configured default.
	ExchangeCode(ctx context.Context, provider model.Provider, code, redirectURI string) (*model.TokenResponse, error)
}

type EmailService interface {
	ListEmails(ctx context.Context, userID string, q aggregator.Query, live bool, accountID string) (*model.Page, error)
	GetEmail(ctx context.Context, userID, emailID string) (*model.Email, error)
	MarkRead(ctx context.Context, userID, emailID string, isRead bool) error
	Star(ctx context.Context, userID, emailID string, isStarred bool) error
	Archive(ctx context.Context, userID, emailID string) error
	Delete(ctx context.Context, userID, emailID string) error
	SetLabels(ctx context.Context, userID, emailID string, labels []string) error
	Counts(ctx context.Context, userID string) (map[string]int, error)
	Send(ctx context.Context, userID, accountID string, msg *provider.OutgoingMessage) error
	GetAttachment(ctx context.Context, userID, emailID, attachmentID string) ([]byte, error)
	Labels(ctx context.Context, userID, accountID string) ([]provider.Label, error)
	// SyncNow kicks off a background cache refresh and returns
	// immediately with a status string.
	SyncNow(ctx context.Context, userID string) (string, error)
}
