package syncer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"unibox/internal/logger"
	"unibox/internal/model"
	"unibox/internal/provider"
	"unibox/internal/repository"
	"unibox/internal/repository/memory"
)

type mockTokenSource struct {
	EnsureValidTokenFunc func(ctx context.Context, account *model.ConnectedAccount) (string, error)
}

func (m *mockTokenSource) EnsureValidToken(ctx context.Context, account *model.ConnectedAccount) (string, error) {
	return m.EnsureValidTokenFunc(ctx, account)
}

type jobFixture struct {
	job      *SyncJob
	users    *memory.InMemoryUserRepository
	accounts *memory.InMemoryAccountRepository
	emails   *memory.InMemoryEmailRepository
	states   *memory.InMemorySyncStateRepository
}

func newJobFixture(t *testing.T, adapter func(account *model.ConnectedAccount, accessToken string) provider.Adapter, minInterval time.Duration) *jobFixture {
	t.Helper()
	f := &jobFixture{
		users:    memory.NewInMemoryUserRepository(),
		accounts: memory.NewInMemoryAccountRepository(),
		emails:   memory.NewInMemoryEmailRepository(),
		states:   memory.NewInMemorySyncStateRepository(),
	}
	tokens := &mockTokenSource{
		EnsureValidTokenFunc: func(ctx context.Context, account *model.ConnectedAccount) (string, error) {
			return "token-" + account.ID, nil
		},
	}
	f.job = NewSyncJob(f.users, f.accounts, f.emails, f.states, tokens, adapter,
		logger.New(), time.Minute, minInterval, 10)
	return f
}

func fetchedBatch(accountID string, n int) []*model.Email {
	var out []*model.Email
	for i := 0; i < n; i++ {
		email := model.NewEmail(accountID, model.ProviderGmail, fmt.Sprintf("%s-msg-%d", accountID, i))
		email.Subject = fmt.Sprintf("message %d", i)
		email.SentAt = time.Now().Add(-time.Duration(i) * time.Minute)
		out = append(out, email)
	}
	return out
}

func TestSyncUserCachesMessagesAndAdvancesCursor(t *testing.T) {
	var gotFilter provider.Filter
	adapter := func(account *model.ConnectedAccount, accessToken string) provider.Adapter {
		mock := provider.NewMockAdapter()
		mock.FetchFunc = func(ctx context.Context, filter provider.Filter) (*provider.FetchResult, error) {
			gotFilter = filter
			return &provider.FetchResult{
				Emails:        fetchedBatch(account.ID, 3),
				NextPageToken: "cursor-next",
				ResultCount:   3,
			}, nil
		}
		return mock
	}
	f := newJobFixture(t, adapter, 0)
	ctx := context.Background()

	account := model.NewConnectedAccount("user-1", model.ProviderGmail, "a@gmail.com", "A")
	assert.NoError(t, f.accounts.Create(ctx, account))
	assert.NoError(t, f.states.Save(ctx, &model.SyncState{AccountID: account.ID, Cursor: "cursor-old"}))

	assert.NoError(t, f.job.SyncUser(ctx, "user-1"))

	// Picks up where the previous run left off.
	assert.Equal(t, "cursor-old", gotFilter.PageToken)
	assert.Equal(t, int64(10), gotFilter.MaxResults)

	_, total, err := f.emails.Search(ctx, []string{account.ID}, repository.EmailQuery{})
	assert.NoError(t, err)
	assert.Equal(t, 3, total)

	state, err := f.states.Get(ctx, account.ID)
	assert.NoError(t, err)
	assert.Equal(t, "cursor-next", state.Cursor)
	assert.Equal(t, 3, state.TotalSynced)
	assert.Empty(t, state.LastError)
	assert.Zero(t, state.ErrorCount)
	assert.WithinDuration(t, time.Now(), state.LastSyncAt, time.Second)
}

func TestSyncSkipsRecentlySyncedAccount(t *testing.T) {
	fetches := 0
	adapter := func(account *model.ConnectedAccount, accessToken string) provider.Adapter {
		mock := provider.NewMockAdapter()
		mock.FetchFunc = func(ctx context.Context, filter provider.Filter) (*provider.FetchResult, error) {
			fetches++
			return &provider.FetchResult{}, nil
		}
		return mock
	}
	f := newJobFixture(t, adapter, 5*time.Minute)
	ctx := context.Background()

	account := model.NewConnectedAccount("user-1", model.ProviderGmail, "a@gmail.com", "A")
	assert.NoError(t, f.accounts.Create(ctx, account))
	assert.NoError(t, f.states.Save(ctx, &model.SyncState{
		AccountID:  account.ID,
		LastSyncAt: time.Now().Add(-time.Minute),
	}))

	assert.NoError(t, f.job.SyncUser(ctx, "user-1"))
	assert.Zero(t, fetches)

	// Outside the window the account syncs again.
	assert.NoError(t, f.states.Save(ctx, &model.SyncState{
		AccountID:  account.ID,
		LastSyncAt: time.Now().Add(-10 * time.Minute),
	}))
	assert.NoError(t, f.job.SyncUser(ctx, "user-1"))
	assert.Equal(t, 1, fetches)
}

func TestSyncRetriesOnceOnExpiredToken(t *testing.T) {
	fetches := 0
	adapter := func(account *model.ConnectedAccount, accessToken string) provider.Adapter {
		mock := provider.NewMockAdapter()
		mock.FetchFunc = func(ctx context.Context, filter provider.Filter) (*provider.FetchResult, error) {
			fetches++
			if fetches == 1 {
				return nil, &provider.Error{Kind: provider.KindTokenExpired, Err: fmt.Errorf("401")}
			}
			return &provider.FetchResult{Emails: fetchedBatch(account.ID, 1)}, nil
		}
		return mock
	}
	f := newJobFixture(t, adapter, 0)
	ctx := context.Background()

	account := model.NewConnectedAccount("user-1", model.ProviderGmail, "a@gmail.com", "A")
	assert.NoError(t, f.accounts.Create(ctx, account))

	assert.NoError(t, f.job.SyncUser(ctx, "user-1"))
	assert.Equal(t, 2, fetches)

	state, err := f.states.Get(ctx, account.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, state.TotalSynced)
	assert.Empty(t, state.LastError)
}

func TestSyncRecordsFailureWithoutAbortingOtherAccounts(t *testing.T) {
	adapter := func(account *model.ConnectedAccount, accessToken string) provider.Adapter {
		mock := provider.NewMockAdapter()
		mock.FetchFunc = func(ctx context.Context, filter provider.Filter) (*provider.FetchResult, error) {
			if account.Provider == model.ProviderOutlook {
				return nil, &provider.Error{Kind: provider.KindProviderRejected, Err: fmt.Errorf("503")}
			}
			return &provider.FetchResult{Emails: fetchedBatch(account.ID, 2)}, nil
		}
		return mock
	}
	f := newJobFixture(t, adapter, 0)
	ctx := context.Background()

	healthy := model.NewConnectedAccount("user-1", model.ProviderGmail, "a@gmail.com", "A")
	healthy.CreatedAt = time.Now().Add(-time.Hour)
	broken := model.NewConnectedAccount("user-1", model.ProviderOutlook, "a@outlook.com", "A")
	assert.NoError(t, f.accounts.Create(ctx, healthy))
	assert.NoError(t, f.accounts.Create(ctx, broken))

	err := f.job.SyncUser(ctx, "user-1")
	assert.Error(t, err)

	// The healthy account still synced.
	_, total, searchErr := f.emails.Search(ctx, []string{healthy.ID}, repository.EmailQuery{})
	assert.NoError(t, searchErr)
	assert.Equal(t, 2, total)

	state, stateErr := f.states.Get(ctx, broken.ID)
	assert.NoError(t, stateErr)
	assert.Equal(t, 1, state.ErrorCount)
	assert.Contains(t, state.LastError, "503")
}
