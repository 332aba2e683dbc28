package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"unibox/internal/config"
	"unibox/internal/logger"
	"unibox/internal/model"
	"unibox/internal/repository"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
)

// ExpiryBuffer is how long before actual expiry a token is treated as
// expired, so a borrowed token cannot die mid-request.
const ExpiryBuffer = 5 * time.Minute

// ErrReauthorizationRequired means the stored credentials cannot be
// refreshed and the user has to link the account again.
var ErrReauthorizationRequired = errors.New("account requires reauthorization")

// Service hands out valid access tokens for connected accounts,
// refreshing them transparently when they are near expiry.
type Service struct {
	accounts repository.AccountRepository
	cfg      *config.Config
	log      *logger.Logger
}

func NewService(accounts repository.AccountRepository, cfg *config.Config, log *logger.Logger) *Service {
	return &Service{accounts: accounts, cfg: cfg, log: log}
}

// EnsureValidToken returns an access token for the account that is good
// for at least ExpiryBuffer. Expired tokens are refreshed and the new
// credentials persisted before the token is returned.
func (s *Service) EnsureValidToken(ctx context.Context, account *model.ConnectedAccount) (string, error) {
	if !account.TokenExpired(ExpiryBuffer) {
		return account.AccessToken, nil
	}

	if account.RefreshToken == "" {
		return "", fmt.Errorf("no refresh token for account %s: %w", account.ID, ErrReauthorizationRequired)
	}

	conf, err := s.oauthConfig(account.Provider)
	if err != nil {
		return "", err
	}

	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: account.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		s.log.Warnf("token refresh failed for account %s: %v", account.ID, err)
		return "", fmt.Errorf("token refresh failed: %w", ErrReauthorizationRequired)
	}

	account.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		account.RefreshToken = tok.RefreshToken
	}
	account.TokenExpiry = tok.Expiry
	account.UpdatedAt = time.Now()

	if err := s.accounts.Update(ctx, account); err != nil {
		return "", fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	s.log.Debugf("refreshed access token for account %s (%s)", account.ID, account.Provider)
	return tok.AccessToken, nil
}

// AuthCodeURL builds the provider authorization URL for a link flow.
func (s *Service) AuthCodeURL(provider model.Provider, state, redirectURI string) (string, error) {
	conf, err := s.oauthConfig(provider)
	if err != nil {
		return "", err
	}
	conf.RedirectURL = redirectURI
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if provider == model.ProviderGmail {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", "consent"))
	}
	return conf.AuthCodeURL(state, opts...), nil
}

// Exchange trades an authorization code for a token set.
func (s *Service) Exchange(ctx context.Context, provider model.Provider, code, redirectURI string) (*oauth2.Token, error) {
	conf, err := s.oauthConfig(provider)
	if err != nil {
		return nil, err
	}
	conf.RedirectURL = redirectURI

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}
	return tok, nil
}

func (s *Service) oauthConfig(provider model.Provider) (*oauth2.Config, error) {
	switch provider {
	case model.ProviderGmail:
		return &oauth2.Config{
			ClientID:     s.cfg.GoogleClientID,
			ClientSecret: s.cfg.GoogleClientSecret,
			Endpoint:     google.Endpoint,
			Scopes: []string{
				"https://www.googleapis.com/auth/gmail.modify",
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
		}, nil
	case model.ProviderOutlook:
		return &oauth2.Config{
			ClientID:     s.cfg.AzureClientID,
			ClientSecret: s.cfg.AzureClientSecret,
			Endpoint:     microsoft.AzureADEndpoint("common"),
			Scopes: []string{
				"offline_access",
				"https://graph.microsoft.com/Mail.ReadWrite",
				"https://graph.microsoft.com/Mail.Send",
				"https://graph.microsoft.com/User.Read",
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
