package syncer

import (
	"context"
	"errors"
	"time"

	"unibox/internal/aggregator"
	"unibox/internal/logger"
	"unibox/internal/model"
	"unibox/internal/provider"
	"unibox/internal/repository"
)

// SyncJob keeps the email cache warm: it periodically pulls recent
// messages from every active account's provider into the cache, tracking
// per-account progress in SyncState. Accounts synced inside the minimum
// interval window are skipped so providers are not hammered.
type SyncJob struct {
	userRepo    repository.UserRepository
	accountRepo repository.AccountRepository
	emailRepo   repository.EmailRepository
	stateRepo   repository.SyncStateRepository
	tokens      aggregator.TokenSource
	adapter     aggregator.AdapterFactory
	logger      *logger.Logger
	interval    time.Duration
	minInterval time.Duration
	batchSize   int64

	ctx    context.Context
	cancel context.CancelFunc
}

func NewSyncJob(
	userRepo repository.UserRepository,
	accountRepo repository.AccountRepository,
	emailRepo repository.EmailRepository,
	stateRepo repository.SyncStateRepository,
	tokens aggregator.TokenSource,
	adapter aggregator.AdapterFactory,
	logger *logger.Logger,
	interval, minInterval time.Duration,
	batchSize int64,
) *SyncJob {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 50
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SyncJob{
		userRepo:    userRepo,
		accountRepo: accountRepo,
		emailRepo:   emailRepo,
		stateRepo:   stateRepo,
		tokens:      tokens,
		adapter:     adapter,
		logger:      logger,
		interval:    interval,
		minInterval: minInterval,
		batchSize:   batchSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins the periodic sync loop and blocks until Stop is called.
func (j *SyncJob) Start() {
	j.logger.Info("Starting sync job with interval:", j.interval.String())

	go j.runSync()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			go j.runSync()
		case <-j.ctx.Done():
			j.logger.Info("Sync job stopped")
			return
		}
	}
}

// Stop terminates the periodic loop.
func (j *SyncJob) Stop() {
	j.cancel()
}

func (j *SyncJob) runSync() {
	users, err := j.userRepo.FindAll(j.ctx)
	if err != nil {
		j.logger.Error("Failed to list users for sync:", err)
		return
	}

	for _, user := range users {
		if err := j.SyncUser(j.ctx, user.ID); err != nil {
			j.logger.Error("Sync failed for user", user.ID, ":", err)
		}
	}
}

// SyncUser refreshes the cache for every active account of one user.
// Per-account failures are recorded in the account's sync state and do
// not abort the other accounts.
func (j *SyncJob) SyncUser(ctx context.Context, userID string) error {
	accounts, err := j.accountRepo.FindActiveByUserID(ctx, userID)
	if err != nil {
		return err
	}

	var lastErr error
	for _, account := range accounts {
		if err := j.syncAccount(ctx, account); err != nil {
			j.logger.Warnf("sync failed for account %s (%s): %v", account.ID, account.Provider, err)
			lastErr = err
		}
	}
	return lastErr
}

func (j *SyncJob) syncAccount(ctx context.Context, account *model.ConnectedAccount) error {
	state, err := j.stateRepo.Get(ctx, account.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		state = &model.SyncState{AccountID: account.ID}
	}

	if j.minInterval > 0 && time.Since(state.LastSyncAt) < j.minInterval {
		j.logger.Debugf("skipping sync for account %s, last run %s ago", account.ID, time.Since(state.LastSyncAt).Round(time.Second))
		return nil
	}

	accessToken, err := j.tokens.EnsureValidToken(ctx, account)
	if err != nil {
		return j.recordFailure(ctx, state, err)
	}

	result, err := j.adapter(account, accessToken).Fetch(ctx, provider.Filter{
		MaxResults: j.batchSize,
		PageToken:  state.Cursor,
	})
	if err != nil {
		if provider.IsKind(err, provider.KindTokenExpired) {
			// stale stored expiry; force refresh and retry once
			account.TokenExpiry = time.Now().Add(-time.Minute)
			accessToken, refreshErr := j.tokens.EnsureValidToken(ctx, account)
			if refreshErr != nil {
				return j.recordFailure(ctx, state, refreshErr)
			}
			result, err = j.adapter(account, accessToken).Fetch(ctx, provider.Filter{
				MaxResults: j.batchSize,
				PageToken:  state.Cursor,
			})
		}
		if err != nil {
			return j.recordFailure(ctx, state, err)
		}
	}

	synced := 0
	for _, email := range result.Emails {
		if err := j.emailRepo.Upsert(ctx, email); err != nil {
			j.logger.Warnf("failed to cache message %s: %v", email.ProviderID, err)
			continue
		}
		synced++
	}

	state.Cursor = result.NextPageToken
	state.LastSyncAt = time.Now()
	state.TotalSynced += synced
	state.LastError = ""
	state.ErrorCount = 0
	if err := j.stateRepo.Save(ctx, state); err != nil {
		return err
	}

	j.logger.Infof("synced %d messages for account %s (%s)", synced, account.ID, account.Provider)
	return nil
}

func (j *SyncJob) recordFailure(ctx context.Context, state *model.SyncState, cause error) error {
	state.LastSyncAt = time.Now()
	state.LastError = cause.Error()
	state.ErrorCount++
	if err := j.stateRepo.Save(ctx, state); err != nil {
		j.logger.Error("Failed to record sync failure:", err)
	}
	return cause
}
