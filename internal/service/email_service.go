package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"unibox/internal/aggregator"
	"unibox/internal/logger"
	"unibox/internal/model"
	"unibox/internal/provider"
	"unibox/internal/repository"
)

// ErrEmailNotOwned is returned when an email exists in the cache but
// belongs to another user's account.
var ErrEmailNotOwned = errors.New("email does not belong to this user")

// SyncTrigger starts a cache refresh for one user's accounts.
type SyncTrigger interface {
	SyncUser(ctx context.Context, userID string) error
}

type emailService struct {
	emailRepo   repository.EmailRepository
	accountRepo repository.AccountRepository
	agg         *aggregator.Aggregator
	tokens      TokenBroker
	adapter     aggregator.AdapterFactory
	syncer      SyncTrigger
	logger      *logger.Logger
}

func NewEmailService(emailRepo repository.EmailRepository, accountRepo repository.AccountRepository, agg *aggregator.Aggregator, tokens TokenBroker, adapter aggregator.AdapterFactory, syncer SyncTrigger, logger *logger.Logger) EmailService {
	return &emailService{
		emailRepo:   emailRepo,
		accountRepo: accountRepo,
		agg:         agg,
		tokens:      tokens,
		adapter:     adapter,
		syncer:      syncer,
		logger:      logger,
	}
}

// selectedAccounts resolves "all accounts" or one specific account for
// a list request.
func (s *emailService) selectedAccounts(ctx context.Context, userID, accountID string) ([]*model.ConnectedAccount, error) {
	accounts, err := s.accountRepo.FindActiveByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if accountID == "" {
		return accounts, nil
	}
	for _, account := range accounts {
		if account.ID == accountID {
			return []*model.ConnectedAccount{account}, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *emailService) ListEmails(ctx context.Context, userID string, q aggregator.Query, live bool, accountID string) (*model.Page, error) {
	accounts, err := s.selectedAccounts(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}

	if live {
		return s.agg.FetchLive(ctx, accounts, q)
	}

	ids := make([]string, len(accounts))
	for i, account := range accounts {
		ids[i] = account.ID
	}
	return s.agg.FetchCached(ctx, ids, q)
}

// ownedEmail loads an email and verifies it belongs to one of the
// user's accounts, returning the owning account alongside it.
func (s *emailService) ownedEmail(ctx context.Context, userID, emailID string) (*model.Email, *model.ConnectedAccount, error) {
	email, err := s.emailRepo.FindByID(ctx, emailID)
	if err != nil {
		return nil, nil, err
	}
	account, err := s.accountRepo.FindByID(ctx, email.AccountID)
	if err != nil {
		return nil, nil, err
	}
	if account.UserID != userID {
		return nil, nil, ErrEmailNotOwned
	}
	return email, account, nil
}

// mutateRemote issues a provider mutation with one refresh-and-retry on
// an expired token. NotFound means the message is already gone and is
// treated as success.
func (s *emailService) mutateRemote(ctx context.Context, account *model.ConnectedAccount, email *model.Email, op provider.Op) error {
	accessToken, err := s.tokens.EnsureValidToken(ctx, account)
	if err != nil {
		return err
	}

	err = s.adapter(account, accessToken).Mutate(ctx, email.ProviderID, op)
	if err == nil {
		return nil
	}
	if provider.IsKind(err, provider.KindNotFound) {
		s.logger.Debugf("message %s already gone at provider, treating %s as applied", email.ProviderID, op)
		return nil
	}
	if !provider.IsKind(err, provider.KindTokenExpired) {
		return err
	}

	account.TokenExpiry = time.Now().Add(-time.Minute)
	accessToken, refreshErr := s.tokens.EnsureValidToken(ctx, account)
	if refreshErr != nil {
		return refreshErr
	}
	err = s.adapter(account, accessToken).Mutate(ctx, email.ProviderID, op)
	if provider.IsKind(err, provider.KindNotFound) {
		return nil
	}
	return err
}

func (s *emailService) GetEmail(ctx context.Context, userID, emailID string) (*model.Email, error) {
	email, _, err := s.ownedEmail(ctx, userID, emailID)
	return email, err
}

func (s *emailService) MarkRead(ctx context.Context, userID, emailID string, isRead bool) error {
	email, account, err := s.ownedEmail(ctx, userID, emailID)
	if err != nil {
		return err
	}

	op := provider.OpMarkRead
	if !isRead {
		op = provider.OpMarkUnread
	}
	if err := s.mutateRemote(ctx, account, email, op); err != nil {
		return err
	}

	email.IsRead = isRead
	return s.emailRepo.Update(ctx, email)
}

func (s *emailService) Star(ctx context.Context, userID, emailID string, isStarred bool) error {
	email, account, err := s.ownedEmail(ctx, userID, emailID)
	if err != nil {
		return err
	}

	op := provider.OpStar
	if !isStarred {
		op = provider.OpUnstar
	}
	if err := s.mutateRemote(ctx, account, email, op); err != nil {
		return err
	}

	email.IsStarred = isStarred
	return s.emailRepo.Update(ctx, email)
}

func (s *emailService) Archive(ctx context.Context, userID, emailID string) error {
	email, account, err := s.ownedEmail(ctx, userID, emailID)
	if err != nil {
		return err
	}

	if err := s.mutateRemote(ctx, account, email, provider.OpArchive); err != nil {
		return err
	}

	labels := email.Labels[:0:0]
	for _, label := range email.Labels {
		if label != "INBOX" && label != "Inbox" {
			labels = append(labels, label)
		}
	}
	email.Labels = labels
	return s.emailRepo.Update(ctx, email)
}

func (s *emailService) Delete(ctx context.Context, userID, emailID string) error {
	email, account, err := s.ownedEmail(ctx, userID, emailID)
	if err != nil {
		return err
	}

	if err := s.mutateRemote(ctx, account, email, provider.OpTrash); err != nil {
		return err
	}
	return s.emailRepo.Delete(ctx, email.ID)
}

func (s *emailService) SetLabels(ctx context.Context, userID, emailID string, labels []string) error {
	email, _, err := s.ownedEmail(ctx, userID, emailID)
	if err != nil {
		return err
	}
	email.Labels = labels
	return s.emailRepo.Update(ctx, email)
}

func (s *emailService) Counts(ctx context.Context, userID string) (map[string]int, error) {
	accounts, err := s.accountRepo.FindActiveByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(accounts))
	for i, account := range accounts {
		ids[i] = account.ID
	}
	return s.emailRepo.Counts(ctx, ids)
}

func (s *emailService) Send(ctx context.Context, userID, accountID string, msg *provider.OutgoingMessage) error {
	accounts, err := s.selectedAccounts(ctx, userID, accountID)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return repository.ErrNotFound
	}
	account := accounts[0]
	if accountID == "" {
		// default to the primary account
		for _, a := range accounts {
			if a.IsPrimary {
				account = a
				break
			}
		}
	}

	accessToken, err := s.tokens.EnsureValidToken(ctx, account)
	if err != nil {
		return err
	}
	if err := s.adapter(account, accessToken).Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send via %s: %w", account.Email, err)
	}
	s.logger.Info("Sent message via account:", account.ID)
	return nil
}

func (s *emailService) GetAttachment(ctx context.Context, userID, emailID, attachmentID string) ([]byte, error) {
	email, account, err := s.ownedEmail(ctx, userID, emailID)
	if err != nil {
		return nil, err
	}

	ref := attachmentID
	for _, att := range email.Attachments {
		if att.ID == attachmentID {
			ref = att.ProviderRef
			break
		}
	}

	accessToken, err := s.tokens.EnsureValidToken(ctx, account)
	if err != nil {
		return nil, err
	}
	return s.adapter(account, accessToken).GetAttachment(ctx, email.ProviderID, ref)
}

func (s *emailService) Labels(ctx context.Context, userID, accountID string) ([]provider.Label, error) {
	accounts, err := s.selectedAccounts(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}

	var labels []provider.Label
	seen := make(map[string]bool)
	for _, account := range accounts {
		accessToken, err := s.tokens.EnsureValidToken(ctx, account)
		if err != nil {
			s.logger.Warnf("skipping labels for account %s: %v", account.ID, err)
			continue
		}
		accountLabels, err := s.adapter(account, accessToken).Labels(ctx)
		if err != nil {
			s.logger.Warnf("failed to list labels for account %s: %v", account.ID, err)
			continue
		}
		for _, label := range accountLabels {
			if !seen[label.Name] {
				seen[label.Name] = true
				labels = append(labels, label)
			}
		}
	}
	return labels, nil
}

func (s *emailService) SyncNow(ctx context.Context, userID string) (string, error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := s.syncer.SyncUser(ctx, userID); err != nil {
			s.logger.Error("Background sync failed:", err)
		}
	}()
	return "sync started", nil
}
