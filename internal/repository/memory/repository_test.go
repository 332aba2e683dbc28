package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"unibox/internal/model"
	"unibox/internal/repository"
)

func boolPtr(b bool) *bool { return &b }

func seedEmail(t *testing.T, repo *InMemoryEmailRepository, accountID, providerID, subject string, sentAt time.Time, mutate func(*model.Email)) *model.Email {
	t.Helper()
	email := model.NewEmail(accountID, model.ProviderGmail, providerID)
	email.Subject = subject
	email.From = "sender@example.com"
	email.SentAt = sentAt
	email.IsRead = true
	email.Labels = []string{"INBOX"}
	if mutate != nil {
		mutate(email)
	}
	assert.NoError(t, repo.Upsert(context.Background(), email))
	return email
}

func TestUpsertKeepsIDForSameProviderMessage(t *testing.T) {
	repo := NewInMemoryEmailRepository()
	ctx := context.Background()

	first := seedEmail(t, repo, "acc-1", "msg-1", "original", time.Now(), nil)

	updated := model.NewEmail("acc-1", model.ProviderGmail, "msg-1")
	updated.Subject = "updated"
	assert.NoError(t, repo.Upsert(ctx, updated))

	found, err := repo.FindByID(ctx, first.ID)
	assert.NoError(t, err)
	assert.Equal(t, "updated", found.Subject)

	_, total, err := repo.Search(ctx, []string{"acc-1"}, repository.EmailQuery{})
	assert.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestSearchSortsNewestFirstAndPaginates(t *testing.T) {
	repo := NewInMemoryEmailRepository()
	ctx := context.Background()

	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		seedEmail(t, repo, "acc-1", fmt.Sprintf("msg-%d", i),
			fmt.Sprintf("subject %d", i), base.Add(time.Duration(i)*time.Minute), nil)
	}

	page2, total, err := repo.Search(ctx, []string{"acc-1"}, repository.EmailQuery{Page: 2, PerPage: 10})
	assert.NoError(t, err)
	assert.Equal(t, 25, total)
	assert.Len(t, page2, 10)
	// Newest first: page 2 starts at the 11th newest, which is msg-14.
	assert.Equal(t, "subject 14", page2[0].Subject)
	assert.Equal(t, "subject 5", page2[9].Subject)

	page3, total, err := repo.Search(ctx, []string{"acc-1"}, repository.EmailQuery{Page: 3, PerPage: 10})
	assert.NoError(t, err)
	assert.Equal(t, 25, total)
	assert.Len(t, page3, 5)

	empty, total, err := repo.Search(ctx, []string{"acc-1"}, repository.EmailQuery{Page: 4, PerPage: 10})
	assert.NoError(t, err)
	assert.Equal(t, 25, total)
	assert.Empty(t, empty)
}

func TestSearchFilters(t *testing.T) {
	repo := NewInMemoryEmailRepository()
	ctx := context.Background()
	now := time.Now()

	seedEmail(t, repo, "acc-1", "msg-1", "invoice attached", now, func(e *model.Email) {
		e.IsRead = false
	})
	seedEmail(t, repo, "acc-1", "msg-2", "team standup", now.Add(time.Minute), func(e *model.Email) {
		e.IsStarred = true
	})
	seedEmail(t, repo, "acc-1", "msg-3", "trashed invoice", now.Add(2*time.Minute), func(e *model.Email) {
		e.IsTrash = true
	})
	seedEmail(t, repo, "acc-2", "msg-4", "other account invoice", now.Add(3*time.Minute), nil)

	unread, total, err := repo.Search(ctx, []string{"acc-1"}, repository.EmailQuery{IsRead: boolPtr(false)})
	assert.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "invoice attached", unread[0].Subject)

	starred, total, err := repo.Search(ctx, []string{"acc-1"}, repository.EmailQuery{IsStarred: boolPtr(true)})
	assert.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "team standup", starred[0].Subject)

	// Trashed messages never surface; other accounts are out of scope.
	byText, total, err := repo.Search(ctx, []string{"acc-1"}, repository.EmailQuery{Search: "invoice"})
	assert.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "invoice attached", byText[0].Subject)

	both, total, err := repo.Search(ctx, []string{"acc-1", "acc-2"}, repository.EmailQuery{Search: "invoice"})
	assert.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, both, 2)
}

func TestSearchByLabel(t *testing.T) {
	repo := NewInMemoryEmailRepository()
	ctx := context.Background()
	now := time.Now()

	seedEmail(t, repo, "acc-1", "msg-1", "newsletter", now, func(e *model.Email) {
		e.Labels = []string{"CATEGORY_PROMOTIONS"}
	})
	seedEmail(t, repo, "acc-1", "msg-2", "direct mail", now.Add(time.Minute), nil)

	promos, total, err := repo.Search(ctx, []string{"acc-1"}, repository.EmailQuery{Label: "CATEGORY_PROMOTIONS"})
	assert.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "newsletter", promos[0].Subject)
}

func TestCountsCoverSidebarKeys(t *testing.T) {
	repo := NewInMemoryEmailRepository()
	ctx := context.Background()
	now := time.Now()

	seedEmail(t, repo, "acc-1", "msg-1", "a", now, func(e *model.Email) {
		e.IsRead = false
		e.Labels = []string{"INBOX", "IMPORTANT", "CATEGORY_PERSONAL"}
	})
	seedEmail(t, repo, "acc-1", "msg-2", "b", now, func(e *model.Email) {
		e.IsStarred = true
		e.Labels = []string{"CATEGORY_UPDATES"}
	})
	seedEmail(t, repo, "acc-1", "msg-3", "c", now, func(e *model.Email) {
		e.Labels = []string{"CATEGORY_PROMOTIONS"}
	})
	seedEmail(t, repo, "acc-1", "msg-4", "gone", now, func(e *model.Email) {
		e.IsTrash = true
	})

	counts, err := repo.Counts(ctx, []string{"acc-1"})
	assert.NoError(t, err)
	assert.Equal(t, 3, counts["all"])
	assert.Equal(t, 1, counts["inbox"])
	assert.Equal(t, 1, counts["unread"])
	assert.Equal(t, 1, counts["starred"])
	assert.Equal(t, 1, counts["important"])
	assert.Equal(t, 1, counts["personal"])
	assert.Equal(t, 1, counts["updates"])
	assert.Equal(t, 1, counts["promotions"])
}

func TestAccountRepositoryLifecycle(t *testing.T) {
	repo := NewInMemoryAccountRepository()
	ctx := context.Background()

	first := model.NewConnectedAccount("user-1", model.ProviderGmail, "a@gmail.com", "A")
	first.CreatedAt = time.Now().Add(-time.Hour)
	second := model.NewConnectedAccount("user-1", model.ProviderOutlook, "a@outlook.com", "A")
	assert.NoError(t, repo.Create(ctx, first))
	assert.NoError(t, repo.Create(ctx, second))

	active, err := repo.FindActiveByUserID(ctx, "user-1")
	assert.NoError(t, err)
	assert.Len(t, active, 2)
	// Oldest first.
	assert.Equal(t, first.ID, active[0].ID)

	count, err := repo.CountByUserID(ctx, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.NoError(t, repo.Deactivate(ctx, first.ID))
	active, err = repo.FindActiveByUserID(ctx, "user-1")
	assert.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)

	found, err := repo.FindByProviderEmail(ctx, "user-1", model.ProviderOutlook, "a@outlook.com")
	assert.NoError(t, err)
	assert.Equal(t, second.ID, found.ID)

	_, err = repo.FindByProviderEmail(ctx, "user-1", model.ProviderGmail, "missing@gmail.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSyncStateRoundTrip(t *testing.T) {
	repo := NewInMemorySyncStateRepository()
	ctx := context.Background()

	_, err := repo.Get(ctx, "acc-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	state := &model.SyncState{AccountID: "acc-1", Cursor: "page-2", TotalSynced: 50}
	assert.NoError(t, repo.Save(ctx, state))

	loaded, err := repo.Get(ctx, "acc-1")
	assert.NoError(t, err)
	assert.Equal(t, "page-2", loaded.Cursor)
	assert.Equal(t, 50, loaded.TotalSynced)
}
