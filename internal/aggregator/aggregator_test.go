package aggregator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"unibox/internal/logger"
	"unibox/internal/model"
	"unibox/internal/provider"
	"unibox/internal/repository/memory"

	"github.com/stretchr/testify/assert"
)

type mockTokenSource struct {
	EnsureValidTokenFunc func(ctx context.Context, account *model.ConnectedAccount) (string, error)
}

func (m *mockTokenSource) EnsureValidToken(ctx context.Context, account *model.ConnectedAccount) (string, error) {
	if m.EnsureValidTokenFunc != nil {
		return m.EnsureValidTokenFunc(ctx, account)
	}
	return "token-" + account.ID, nil
}

func testEmail(accountID string, sentAt time.Time) *model.Email {
	email := model.NewEmail(accountID, model.ProviderGmail, "msg-"+accountID+sentAt.String())
	email.SentAt = sentAt
	email.Labels = []string{"INBOX"}
	return email
}

func newTestLogger() *logger.Logger {
	return logger.New()
}

func TestFetchLiveEvenSplit(t *testing.T) {
	accountA := model.NewConnectedAccount("user-1", model.ProviderGmail, "a@gmail.com", "A")
	accountB := model.NewConnectedAccount("user-1", model.ProviderOutlook, "b@outlook.com", "B")

	requested := make(map[string]int64)
	base := time.Now()

	adapter := func(account *model.ConnectedAccount, accessToken string) provider.Adapter {
		return &provider.MockAdapter{
			FetchFunc: func(ctx context.Context, filter provider.Filter) (*provider.FetchResult, error) {
				requested[account.ID] = filter.MaxResults
				emails := make([]*model.Email, filter.MaxResults)
				for i := range emails {
					emails[i] = testEmail(account.ID, base.Add(-time.Duration(i)*time.Minute))
				}
				count := 30
				if account.Provider == model.ProviderOutlook {
					count = 10
				}
				return &provider.FetchResult{Emails: emails, ResultCount: count}, nil
			},
		}
	}

	agg := New(memory.NewInMemoryEmailRepository(), &mockTokenSource{}, adapter, newTestLogger())

	page, err := agg.FetchLive(context.Background(), []*model.ConnectedAccount{accountA, accountB}, Query{PerPage: 20})
	assert.NoError(t, err)

	// each of the two accounts is asked for ceil(20/2) = 10 items
	assert.Equal(t, int64(10), requested[accountA.ID])
	assert.Equal(t, int64(10), requested[accountB.ID])

	assert.Len(t, page.Emails, 20)
	assert.Equal(t, 40, page.Total)
	assert.Equal(t, model.SourceLive, page.Source)

	for i := 1; i < len(page.Emails); i++ {
		assert.False(t, page.Emails[i].SentAt.After(page.Emails[i-1].SentAt),
			"emails must be sorted by sentAt descending")
	}
}

func TestFetchLivePartialFailure(t *testing.T) {
	accounts := []*model.ConnectedAccount{
		model.NewConnectedAccount("user-1", model.ProviderGmail, "a@gmail.com", "A"),
		model.NewConnectedAccount("user-1", model.ProviderGmail, "b@gmail.com", "B"),
		model.NewConnectedAccount("user-1", model.ProviderOutlook, "c@outlook.com", "C"),
	}
	failing := accounts[1].ID

	adapter := func(account *model.ConnectedAccount, accessToken string) provider.Adapter {
		return &provider.MockAdapter{
			FetchFunc: func(ctx context.Context, filter provider.Filter) (*provider.FetchResult, error) {
				if account.ID == failing {
					return nil, &provider.Error{Kind: provider.KindProviderRejected, Err: errors.New("boom")}
				}
				return &provider.FetchResult{
					Emails:      []*model.Email{testEmail(account.ID, time.Now())},
					ResultCount: 5,
				}, nil
			},
		}
	}

	agg := New(memory.NewInMemoryEmailRepository(), &mockTokenSource{}, adapter, newTestLogger())

	page, err := agg.FetchLive(context.Background(), accounts, Query{PerPage: 20})
	assert.NoError(t, err, "partial failure must not bubble as a page error")
	assert.Len(t, page.Emails, 2)
	for _, email := range page.Emails {
		assert.NotEqual(t, failing, email.AccountID)
	}
	assert.Equal(t, 10, page.Total)
}

func TestFetchLiveAllAccountsFailed(t *testing.T) {
	accounts := []*model.ConnectedAccount{
		model.NewConnectedAccount("user-1", model.ProviderGmail, "a@gmail.com", "A"),
		model.NewConnectedAccount("user-1", model.ProviderOutlook, "b@outlook.com", "B"),
	}

	adapter := func(account *model.ConnectedAccount, accessToken string) provider.Adapter {
		return &provider.MockAdapter{
			FetchFunc: func(ctx context.Context, filter provider.Filter) (*provider.FetchResult, error) {
				return nil, &provider.Error{Kind: provider.KindProviderRejected, Err: errors.New("down")}
			},
		}
	}

	agg := New(memory.NewInMemoryEmailRepository(), &mockTokenSource{}, adapter, newTestLogger())

	_, err := agg.FetchLive(context.Background(), accounts, Query{PerPage: 20})
	assert.ErrorIs(t, err, ErrAllAccountsFailed)
}

func TestFetchLiveRetriesOnceOnExpiredToken(t *testing.T) {
	account := model.NewConnectedAccount("user-1", model.ProviderGmail, "a@gmail.com", "A")

	fetches := 0
	adapter := func(acc *model.ConnectedAccount, accessToken string) provider.Adapter {
		return &provider.MockAdapter{
			FetchFunc: func(ctx context.Context, filter provider.Filter) (*provider.FetchResult, error) {
				fetches++
				if accessToken != "fresh" {
					return nil, &provider.Error{Kind: provider.KindTokenExpired, Err: errors.New("401")}
				}
				return &provider.FetchResult{
					Emails:      []*model.Email{testEmail(acc.ID, time.Now())},
					ResultCount: 1,
				}, nil
			},
		}
	}

	borrows := 0
	tokens := &mockTokenSource{
		EnsureValidTokenFunc: func(ctx context.Context, acc *model.ConnectedAccount) (string, error) {
			borrows++
			if borrows == 1 {
				return "stale", nil
			}
			return "fresh", nil
		},
	}

	agg := New(memory.NewInMemoryEmailRepository(), tokens, adapter, newTestLogger())

	page, err := agg.FetchLive(context.Background(), []*model.ConnectedAccount{account}, Query{PerPage: 10})
	assert.NoError(t, err)
	assert.Len(t, page.Emails, 1)
	assert.Equal(t, 2, fetches)
	assert.Equal(t, 2, borrows)
}

func TestEmptyPagesAreNeverNil(t *testing.T) {
	account := model.NewConnectedAccount("user-1", model.ProviderGmail, "a@gmail.com", "A")

	adapter := func(acc *model.ConnectedAccount, accessToken string) provider.Adapter {
		return &provider.MockAdapter{
			FetchFunc: func(ctx context.Context, filter provider.Filter) (*provider.FetchResult, error) {
				return &provider.FetchResult{}, nil
			},
		}
	}

	agg := New(memory.NewInMemoryEmailRepository(), &mockTokenSource{}, adapter, newTestLogger())

	// A live merge with zero results and a cache page past the end both
	// keep Emails an empty list, so the JSON body is [] rather than null.
	live, err := agg.FetchLive(context.Background(), []*model.ConnectedAccount{account}, Query{PerPage: 10})
	assert.NoError(t, err)
	assert.NotNil(t, live.Emails)
	assert.Empty(t, live.Emails)

	cached, err := agg.FetchCached(context.Background(), []string{"acct-1"}, Query{Page: 99, PerPage: 10})
	assert.NoError(t, err)
	assert.NotNil(t, cached.Emails)
	assert.Empty(t, cached.Emails)
}

func TestFetchCachedSortedAndBounded(t *testing.T) {
	repo := memory.NewInMemoryEmailRepository()
	accountID := "acct-1"
	base := time.Now()
	for i := 0; i < 25; i++ {
		email := model.NewEmail(accountID, model.ProviderGmail, fmt.Sprintf("msg-%d", i))
		email.SentAt = base.Add(-time.Duration(i) * time.Hour)
		email.Labels = []string{"INBOX"}
		assert.NoError(t, repo.Upsert(context.Background(), email))
	}

	agg := New(repo, &mockTokenSource{}, nil, newTestLogger())

	page, err := agg.FetchCached(context.Background(), []string{accountID}, Query{Page: 2, PerPage: 10})
	assert.NoError(t, err)
	assert.Equal(t, 25, page.Total, "cache-mode total is exact")
	assert.Equal(t, model.SourceCache, page.Source)
	assert.LessOrEqual(t, len(page.Emails), 10)
	for i := 1; i < len(page.Emails); i++ {
		assert.False(t, page.Emails[i].SentAt.After(page.Emails[i-1].SentAt))
	}
}
