package linker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"unibox/internal/logger"
	"unibox/internal/model"
	"unibox/internal/repository"

	"golang.org/x/oauth2"
)

var (
	// ErrPopupBlocked means the authorization surface could not be opened.
	ErrPopupBlocked = errors.New("authorization surface blocked")
	// ErrUserCancelled means the surface was closed before authorization completed.
	ErrUserCancelled = errors.New("authorization cancelled by user")
	// ErrExchangeFailed means the code-for-token exchange was rejected.
	ErrExchangeFailed = errors.New("authorization code exchange failed")
	// ErrLinkInProgress means another link for the same provider is already running.
	ErrLinkInProgress = errors.New("link already in progress for this provider")
)

// Message types delivered by an authorization surface.
const (
	MessageSuccess = "oauth-success"
	MessageError   = "oauth-error"
)

// Message is what an authorization surface posts back once the provider
// redirect completes.
type Message struct {
	Type   string
	Code   string
	Err    string
	Origin string
}

// Surface is an out-of-process authorization flow that yields a single
// code via a message channel. The production implementation is a
// loopback HTTP listener; tests use a scripted surface.
type Surface interface {
	// Open starts the surface pointed at the provider authorization URL.
	Open(ctx context.Context, authURL string) error
	// Messages delivers at most one authorization outcome.
	Messages() <-chan Message
	// Closed reports whether the surface was dismissed without completing.
	Closed() bool
	// Close tears the surface down. Failure is non-fatal.
	Close()
}

// Exchanger performs the server-side parts of the OAuth flow.
type Exchanger interface {
	AuthCodeURL(provider model.Provider, state, redirectURI string) (string, error)
	Exchange(ctx context.Context, provider model.Provider, code, redirectURI string) (*oauth2.Token, error)
}

// Profile is the provider identity attached to a freshly linked account.
type Profile struct {
	Email       string
	DisplayName string
}

// ProfileFunc resolves the provider profile for a just-issued access token.
type ProfileFunc func(ctx context.Context, provider model.Provider, accessToken string) (*Profile, error)

// Linker drives the account link flow: open a surface, wait for the
// authorization code, exchange it, and persist the connected account.
// Nothing is persisted unless the whole flow succeeds.
type Linker struct {
	exchanger  Exchanger
	accounts   repository.AccountRepository
	newSurface func(provider model.Provider) Surface
	profile    ProfileFunc
	origin     string
	redirect   string
	poll       time.Duration
	log        *logger.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

func New(exchanger Exchanger, accounts repository.AccountRepository, newSurface func(model.Provider) Surface, profile ProfileFunc, origin, redirectURI string, log *logger.Logger) *Linker {
	return &Linker{
		exchanger:  exchanger,
		accounts:   accounts,
		newSurface: newSurface,
		profile:    profile,
		origin:     origin,
		redirect:   redirectURI,
		poll:       time.Second,
		log:        log,
		inFlight:   make(map[string]bool),
	}
}

// SetPollInterval overrides the surface closed-state poll interval.
func (l *Linker) SetPollInterval(d time.Duration) {
	l.poll = d
}

func (l *Linker) acquire(userID string, provider model.Provider) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := userID + "|" + string(provider)
	if l.inFlight[key] {
		return false
	}
	l.inFlight[key] = true
	return true
}

func (l *Linker) release(userID string, provider model.Provider) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inFlight, userID+"|"+string(provider))
}

// Link runs the full credential acquisition flow for one provider and
// returns the persisted connected account.
func (l *Linker) Link(ctx context.Context, userID string, provider model.Provider) (*model.ConnectedAccount, error) {
	if !provider.Valid() {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
	if !l.acquire(userID, provider) {
		return nil, ErrLinkInProgress
	}
	defer l.release(userID, provider)

	authURL, err := l.exchanger.AuthCodeURL(provider, userID, l.redirect)
	if err != nil {
		return nil, err
	}

	surface := l.newSurface(provider)
	if err := surface.Open(ctx, authURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPopupBlocked, err)
	}
	defer surface.Close()

	code, err := l.awaitCode(ctx, surface)
	if err != nil {
		return nil, err
	}

	tok, err := l.exchanger.Exchange(ctx, provider, code, l.redirect)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	profile, err := l.profile(ctx, provider, tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	return l.persist(ctx, userID, provider, profile, tok)
}

// Complete finishes a link whose authorization code was delivered out
// of band (the web client's cross-window message channel). Exchange and
// persistence behave exactly as in Link: nothing is stored on failure.
func (l *Linker) Complete(ctx context.Context, userID string, provider model.Provider, code string) (*model.ConnectedAccount, error) {
	if !provider.Valid() {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}

	tok, err := l.exchanger.Exchange(ctx, provider, code, l.redirect)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	profile, err := l.profile(ctx, provider, tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	return l.persist(ctx, userID, provider, profile, tok)
}

// awaitCode waits for the surface to deliver the authorization code,
// polling its closed state so a dismissed surface rejects promptly.
func (l *Linker) awaitCode(ctx context.Context, surface Surface) (string, error) {
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			if surface.Closed() {
				return "", ErrUserCancelled
			}
		case msg, ok := <-surface.Messages():
			if !ok {
				return "", ErrUserCancelled
			}
			if msg.Origin != l.origin {
				l.log.Warnf("discarding authorization message from foreign origin %q", msg.Origin)
				continue
			}
			switch msg.Type {
			case MessageSuccess:
				return msg.Code, nil
			case MessageError:
				return "", fmt.Errorf("%w: %s", ErrExchangeFailed, msg.Err)
			default:
				continue
			}
		}
	}
}

func (l *Linker) persist(ctx context.Context, userID string, provider model.Provider, profile *Profile, tok *oauth2.Token) (*model.ConnectedAccount, error) {
	existing, err := l.accounts.FindByProviderEmail(ctx, userID, provider, profile.Email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		existing.AccessToken = tok.AccessToken
		if tok.RefreshToken != "" {
			existing.RefreshToken = tok.RefreshToken
		}
		existing.TokenExpiry = tok.Expiry
		existing.DisplayName = profile.DisplayName
		existing.IsActive = true
		existing.UpdatedAt = time.Now()
		if err := l.accounts.Update(ctx, existing); err != nil {
			return nil, err
		}
		l.log.Infof("relinked %s account %s for user %s", provider, profile.Email, userID)
		return existing, nil
	}

	count, err := l.accounts.CountByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	account := model.NewConnectedAccount(userID, provider, profile.Email, profile.DisplayName)
	account.AccessToken = tok.AccessToken
	account.RefreshToken = tok.RefreshToken
	account.TokenExpiry = tok.Expiry
	account.IsPrimary = count == 0
	if err := l.accounts.Create(ctx, account); err != nil {
		return nil, err
	}
	l.log.Infof("linked %s account %s for user %s", provider, profile.Email, userID)
	return account, nil
}
