package aggregator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"unibox/internal/logger"
	"unibox/internal/model"
	"unibox/internal/provider"
	"unibox/internal/repository"
)

// ErrAllAccountsFailed is returned from a live fetch only when every
// selected account's fetch failed. Partial failures are absorbed.
var ErrAllAccountsFailed = errors.New("all account fetches failed")

// TokenSource borrows a valid access token for an account.
type TokenSource interface {
	EnsureValidToken(ctx context.Context, account *model.ConnectedAccount) (string, error)
}

// AdapterFactory builds a provider adapter for an account using a
// freshly borrowed access token.
type AdapterFactory func(account *model.ConnectedAccount, accessToken string) provider.Adapter

// Query selects and filters one page of the unified inbox.
type Query struct {
	Page      int
	PerPage   int
	Search    string
	Label     string
	IsRead    *bool
	IsStarred *bool
}

// Aggregator produces unified pages either from the email cache or from
// the union of live provider fetches.
type Aggregator struct {
	emails  repository.EmailRepository
	tokens  TokenSource
	adapter AdapterFactory
	log     *logger.Logger
}

func New(emails repository.EmailRepository, tokens TokenSource, adapter AdapterFactory, log *logger.Logger) *Aggregator {
	return &Aggregator{emails: emails, tokens: tokens, adapter: adapter, log: log}
}

// FetchCached serves a page from the email cache. Total and ordering
// are authoritative.
func (a *Aggregator) FetchCached(ctx context.Context, accountIDs []string, q Query) (*model.Page, error) {
	page, perPage := normalizePaging(q.Page, q.PerPage)
	emails, total, err := a.emails.Search(ctx, accountIDs, repository.EmailQuery{
		Page:      page,
		PerPage:   perPage,
		Search:    q.Search,
		Label:     q.Label,
		IsRead:    q.IsRead,
		IsStarred: q.IsStarred,
	})
	if err != nil {
		return nil, err
	}
	if emails == nil {
		// A past-the-end page still serializes as an empty list.
		emails = []*model.Email{}
	}
	return &model.Page{
		Emails:  emails,
		Total:   total,
		Page:    page,
		PerPage: perPage,
		Source:  model.SourceCache,
	}, nil
}

type accountResult struct {
	account *model.ConnectedAccount
	result  *provider.FetchResult
	err     error
}

// FetchLive fans a fetch out to every selected account concurrently and
// merges the results. Each account is asked for an even split of the
// page, so the merged page is an approximation of the global top-K and
// Total is an estimate, not an exact inbox count.
func (a *Aggregator) FetchLive(ctx context.Context, accounts []*model.ConnectedAccount, q Query) (*model.Page, error) {
	page, perPage := normalizePaging(q.Page, q.PerPage)
	if len(accounts) == 0 {
		return &model.Page{Emails: []*model.Email{}, Page: page, PerPage: perPage, Source: model.SourceLive}, nil
	}

	// ceil(perPage / accountCount)
	split := (perPage + len(accounts) - 1) / len(accounts)

	results := make(chan accountResult, len(accounts))
	var wg sync.WaitGroup
	for _, account := range accounts {
		wg.Add(1)
		go func(account *model.ConnectedAccount) {
			defer wg.Done()
			result, err := a.fetchAccount(ctx, account, q, page, split)
			results <- accountResult{account: account, result: result, err: err}
		}(account)
	}
	wg.Wait()
	close(results)

	merged := []*model.Email{}
	total := 0
	failures := 0
	for res := range results {
		if res.err != nil {
			failures++
			a.log.Warnf("live fetch failed for account %s (%s): %v",
				res.account.ID, res.account.Provider, res.err)
			continue
		}
		merged = append(merged, res.result.Emails...)
		total += res.result.ResultCount
	}
	if failures == len(accounts) {
		return nil, ErrAllAccountsFailed
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].SentAt.After(merged[j].SentAt)
	})
	if len(merged) > perPage {
		merged = merged[:perPage]
	}

	return &model.Page{
		Emails:  merged,
		Total:   total,
		Page:    page,
		PerPage: perPage,
		Source:  model.SourceLive,
	}, nil
}

// fetchAccount borrows a token, builds the adapter and fetches one
// account's share of the page. A TokenExpired response gets exactly one
// refresh-and-retry.
func (a *Aggregator) fetchAccount(ctx context.Context, account *model.ConnectedAccount, q Query, page, split int) (*provider.FetchResult, error) {
	accessToken, err := a.tokens.EnsureValidToken(ctx, account)
	if err != nil {
		return nil, err
	}

	filter := provider.Filter{
		MaxResults: int64(split),
		Offset:     int64((page - 1) * split),
		Search:     q.Search,
		Label:      q.Label,
		IsRead:     q.IsRead,
		IsStarred:  q.IsStarred,
	}

	result, err := a.adapter(account, accessToken).Fetch(ctx, filter)
	if err == nil {
		return result, nil
	}
	if !provider.IsKind(err, provider.KindTokenExpired) {
		return nil, err
	}

	// stored expiry was stale; force a refresh and retry once
	account.TokenExpiry = time.Now().Add(-time.Minute)
	accessToken, refreshErr := a.tokens.EnsureValidToken(ctx, account)
	if refreshErr != nil {
		return nil, refreshErr
	}
	return a.adapter(account, accessToken).Fetch(ctx, filter)
}

func normalizePaging(page, perPage int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 50
	}
	return page, perPage
}
