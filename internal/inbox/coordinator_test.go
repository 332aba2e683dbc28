package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"unibox/internal/aggregator"
	"unibox/internal/logger"
	"unibox/internal/model"
	"unibox/internal/provider"

	"github.com/stretchr/testify/assert"
)

func fixedPage(emails []*model.Email) FetchFunc {
	return func(ctx context.Context, q aggregator.Query) (*model.Page, error) {
		return &model.Page{Emails: emails, Total: len(emails), Source: model.SourceCache}, nil
	}
}

func listOf(n int) []*model.Email {
	emails := make([]*model.Email, n)
	base := time.Now()
	for i := range emails {
		email := model.NewEmail("acct-1", model.ProviderGmail, fmt.Sprintf("msg-%d", i))
		email.SentAt = base.Add(-time.Duration(i) * time.Minute)
		email.Labels = []string{"INBOX"}
		emails[i] = email
	}
	return emails
}

func noopMutate(ctx context.Context, emailID string, op provider.Op) error { return nil }

func newCoordinator(t *testing.T, emails []*model.Email, mutate MutateFunc) (*Coordinator, *[]string) {
	t.Helper()
	if mutate == nil {
		mutate = noopMutate
	}
	notices := &[]string{}
	c := NewCoordinator(
		fixedPage(emails),
		mutate,
		func(msg string) { *notices = append(*notices, msg) },
		func(ctx context.Context) error { return nil },
		logger.New(),
	)
	assert.NoError(t, c.Refresh(context.Background(), aggregator.Query{}))
	return c, notices
}

func TestStarRollbackIsExact(t *testing.T) {
	emails := listOf(3)
	target := emails[1]
	target.IsStarred = false

	c, notices := newCoordinator(t, emails, func(ctx context.Context, emailID string, op provider.Op) error {
		return errors.New("remote rejected")
	})
	c.SetCounts(map[string]int{"starred": 4})

	err := c.Mutate(context.Background(), target.ID, provider.OpStar)
	assert.Error(t, err)

	assert.False(t, target.IsStarred, "field reverted to pre-mutation value")
	assert.Equal(t, 4, c.Counts()["starred"], "counter reverted by the exact inverse")
	assert.NotEmpty(t, *notices, "failure must surface a user-visible notice")
}

func TestMarkReadIdempotent(t *testing.T) {
	emails := listOf(2)
	target := emails[0]
	target.IsRead = false

	c, _ := newCoordinator(t, emails, nil)
	c.SetCounts(map[string]int{"unread": 2})

	assert.NoError(t, c.Mutate(context.Background(), target.ID, provider.OpMarkRead))
	assert.True(t, target.IsRead)
	assert.Equal(t, 1, c.Counts()["unread"])

	// reapplying has no additional effect
	assert.NoError(t, c.Mutate(context.Background(), target.ID, provider.OpMarkRead))
	assert.True(t, target.IsRead)
	assert.Equal(t, 1, c.Counts()["unread"])
}

func TestDeleteAdvancesSelection(t *testing.T) {
	emails := listOf(7)
	c, _ := newCoordinator(t, emails, nil)

	// deleting the selected item at position 3 of 7 selects the new
	// item at position 3 of the remaining 6
	c.Select(3)
	assert.NoError(t, c.Mutate(context.Background(), emails[3].ID, provider.OpTrash))
	assert.Len(t, c.Emails(), 6)
	assert.Equal(t, 3, c.SelectedIndex())
	assert.Equal(t, emails[4].ID, c.Selected().ID)
}

func TestMutateLeavesFetchedSliceIntact(t *testing.T) {
	emails := listOf(4)
	c, _ := newCoordinator(t, emails, nil)

	assert.NoError(t, c.Mutate(context.Background(), emails[1].ID, provider.OpTrash))
	assert.Len(t, c.Emails(), 3)

	// The coordinator works on its own copy; the slice handed back by
	// the fetch layer keeps its original elements and order.
	assert.Len(t, emails, 4)
	for i, email := range emails {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), email.ProviderID)
	}
}

func TestDeleteLastItemClampsSelection(t *testing.T) {
	emails := listOf(3)
	c, _ := newCoordinator(t, emails, nil)

	c.Select(2)
	assert.NoError(t, c.Mutate(context.Background(), emails[2].ID, provider.OpTrash))
	assert.Equal(t, 1, c.SelectedIndex(), "selection clamps to the new last item")
}

func TestDeleteOnlyItemClearsSelection(t *testing.T) {
	emails := listOf(1)
	c, _ := newCoordinator(t, emails, nil)

	c.Select(0)
	assert.NoError(t, c.Mutate(context.Background(), emails[0].ID, provider.OpTrash))
	assert.Empty(t, c.Emails())
	assert.Equal(t, -1, c.SelectedIndex())
	assert.Nil(t, c.Selected())
}

func TestDeleteRollbackRestoresListAndSelection(t *testing.T) {
	emails := listOf(5)
	c, _ := newCoordinator(t, emails, func(ctx context.Context, emailID string, op provider.Op) error {
		return errors.New("remote rejected")
	})
	c.SetCounts(map[string]int{"all": 5, "inbox": 5, "unread": 5})

	c.Select(2)
	err := c.Mutate(context.Background(), emails[2].ID, provider.OpTrash)
	assert.Error(t, err)

	assert.Len(t, c.Emails(), 5)
	assert.Equal(t, emails[2].ID, c.Emails()[2].ID, "item reinserted at its original position")
	assert.Equal(t, 2, c.SelectedIndex())
	assert.Equal(t, 5, c.Counts()["all"])
	assert.Equal(t, 5, c.Counts()["inbox"])
	assert.Equal(t, 5, c.Counts()["unread"])
}

func TestLastRequestWins(t *testing.T) {
	older := listOf(2)
	newer := listOf(3)

	var mu sync.Mutex
	release := make(chan struct{})
	calls := 0

	fetch := func(ctx context.Context, q aggregator.Query) (*model.Page, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			// the first fetch resolves after the second
			<-release
			return &model.Page{Emails: older, Total: len(older)}, nil
		}
		return &model.Page{Emails: newer, Total: len(newer)}, nil
	}

	c := NewCoordinator(fetch, noopMutate, func(string) {}, func(ctx context.Context) error { return nil }, logger.New())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.Refresh(context.Background(), aggregator.Query{Search: "stale"}))
	}()

	// wait for the first fetch to be in flight before firing the second
	for {
		mu.Lock()
		started := calls >= 1
		mu.Unlock()
		if started {
			break
		}
		time.Sleep(time.Millisecond)
	}

	assert.NoError(t, c.Refresh(context.Background(), aggregator.Query{Search: "fresh"}))
	assert.Len(t, c.Emails(), 3)

	close(release)
	wg.Wait()

	assert.Len(t, c.Emails(), 3, "stale slower result must be discarded")
}

func TestMaybeSyncRateGuard(t *testing.T) {
	syncs := 0
	c := NewCoordinator(
		fixedPage(nil),
		nil,
		func(string) {},
		func(ctx context.Context) error { syncs++; return nil },
		logger.New(),
	)

	ran, err := c.MaybeSync(context.Background())
	assert.NoError(t, err)
	assert.True(t, ran)

	ran, err = c.MaybeSync(context.Background())
	assert.NoError(t, err)
	assert.False(t, ran, "second sync inside the window is skipped")
	assert.Equal(t, 1, syncs)

	c.SetSyncInterval(0)
	ran, _ = c.MaybeSync(context.Background())
	assert.True(t, ran)
	assert.Equal(t, 2, syncs)
}

func TestStarredFilterRefetchesAfterUnstar(t *testing.T) {
	starred := listOf(2)
	for _, e := range starred {
		e.IsStarred = true
	}

	fetches := 0
	fetch := func(ctx context.Context, q aggregator.Query) (*model.Page, error) {
		fetches++
		if fetches == 1 {
			return &model.Page{Emails: starred, Total: 2}, nil
		}
		// after the unstar the item no longer matches the filter
		return &model.Page{Emails: starred[1:], Total: 1}, nil
	}

	c := NewCoordinator(fetch, noopMutate, func(string) {}, func(ctx context.Context) error { return nil }, logger.New())

	isStarred := true
	q := aggregator.Query{IsStarred: &isStarred}
	assert.NoError(t, c.Refresh(context.Background(), q))
	assert.Len(t, c.Emails(), 2)

	assert.NoError(t, c.Mutate(context.Background(), starred[0].ID, provider.OpUnstar))
	assert.Equal(t, 2, fetches, "membership change must trigger a refetch")
	assert.Len(t, c.Emails(), 1)
}
