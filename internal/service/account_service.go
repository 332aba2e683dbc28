package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"unibox/internal/linker"
	"unibox/internal/logger"
	"unibox/internal/model"
	"unibox/internal/repository"
)

// ErrLastAccount is returned when removal would leave the user with no
// active mailbox.
var ErrLastAccount = errors.New("cannot remove the last connected account")

// ErrAccountNotOwned is returned when an account exists but belongs to
// a different user.
var ErrAccountNotOwned = errors.New("account does not belong to this user")

type accountService struct {
	accountRepo repository.AccountRepository
	linker      Linker
	tokens      TokenBroker
	profile     linker.ProfileFunc
	redirectURI string
	logger      *logger.Logger
}

func NewAccountService(accountRepo repository.AccountRepository, lk Linker, tokens TokenBroker, profile linker.ProfileFunc, redirectURI string, logger *logger.Logger) AccountService {
	return &accountService{
		accountRepo: accountRepo,
		linker:      lk,
		tokens:      tokens,
		profile:     profile,
		redirectURI: redirectURI,
		logger:      logger,
	}
}

func (s *accountService) Link(ctx context.Context, userID string, provider model.Provider) (*model.ConnectedAccount, error) {
	return s.linker.Link(ctx, userID, provider)
}

func (s *accountService) CompleteLink(ctx context.Context, userID string, provider model.Provider, code string) (*model.ConnectedAccount, error) {
	return s.linker.Complete(ctx, userID, provider, code)
}

func (s *accountService) ExchangeCode(ctx context.Context, provider model.Provider, code, redirectURI string) (*model.TokenResponse, error) {
	// The provider rejects an exchange whose redirect_uri differs from
	// the one the code was issued against.
	if redirectURI == "" {
		redirectURI = s.redirectURI
	}
	tok, err := s.tokens.Exchange(ctx, provider, code, redirectURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", linker.ErrExchangeFailed, err)
	}
	expiresIn := 0
	if !tok.Expiry.IsZero() {
		expiresIn = int(time.Until(tok.Expiry).Seconds())
	}
	return &model.TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn,
	}, nil
}

func (s *accountService) AddAccount(ctx context.Context, userID string, provider model.Provider, accessToken, refreshToken string, expiresIn int) (*model.ConnectedAccount, error) {
	if !provider.Valid() {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}

	profile, err := s.profile(ctx, provider, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve account identity: %w", err)
	}

	expiry := time.Time{}
	if expiresIn > 0 {
		expiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	}

	existing, err := s.accountRepo.FindByProviderEmail(ctx, userID, provider, profile.Email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		existing.AccessToken = accessToken
		if refreshToken != "" {
			existing.RefreshToken = refreshToken
		}
		existing.TokenExpiry = expiry
		existing.DisplayName = profile.DisplayName
		existing.IsActive = true
		existing.UpdatedAt = time.Now()
		if err := s.accountRepo.Update(ctx, existing); err != nil {
			return nil, err
		}
		s.logger.Info("Refreshed connected account:", existing.ID)
		return existing, nil
	}

	count, err := s.accountRepo.CountByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	account := model.NewConnectedAccount(userID, provider, profile.Email, profile.DisplayName)
	account.AccessToken = accessToken
	account.RefreshToken = refreshToken
	account.TokenExpiry = expiry
	account.IsPrimary = count == 0
	if err := s.accountRepo.Create(ctx, account); err != nil {
		return nil, err
	}
	s.logger.Info("Connected new account:", account.ID)
	return account, nil
}

func (s *accountService) ListAccounts(ctx context.Context, userID string) ([]*model.ConnectedAccount, error) {
	return s.accountRepo.FindActiveByUserID(ctx, userID)
}

func (s *accountService) RemoveAccount(ctx context.Context, userID, accountID string) error {
	account, err := s.ownedAccount(ctx, userID, accountID)
	if err != nil {
		return err
	}

	count, err := s.accountRepo.CountByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if count <= 1 {
		return ErrLastAccount
	}

	if err := s.accountRepo.Deactivate(ctx, account.ID); err != nil {
		return err
	}

	// removing the primary promotes the oldest remaining account
	if account.IsPrimary {
		remaining, err := s.accountRepo.FindActiveByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if len(remaining) > 0 {
			remaining[0].IsPrimary = true
			if err := s.accountRepo.Update(ctx, remaining[0]); err != nil {
				return err
			}
		}
	}

	s.logger.Info("Removed connected account:", accountID)
	return nil
}

func (s *accountService) BorrowToken(ctx context.Context, userID, accountID string) (*BorrowedToken, error) {
	account, err := s.ownedAccount(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	accessToken, err := s.tokens.EnsureValidToken(ctx, account)
	if err != nil {
		return nil, err
	}
	return &BorrowedToken{
		AccessToken: accessToken,
		Provider:    account.Provider,
		Email:       account.Email,
	}, nil
}

func (s *accountService) ownedAccount(ctx context.Context, userID, accountID string) (*model.ConnectedAccount, error) {
	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.UserID != userID {
		return nil, ErrAccountNotOwned
	}
	return account, nil
}
