package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"unibox/internal/model"
	"unibox/internal/repository"
)

type InMemoryUserRepository struct {
	users map[string]*model.User
	mutex sync.RWMutex
}

func NewInMemoryUserRepository() *InMemoryUserRepository {
	return &InMemoryUserRepository{
		users: make(map[string]*model.User),
	}
}

func (r *InMemoryUserRepository) Create(ctx context.Context, user *model.User) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.users[user.ID] = user
	return nil
}

func (r *InMemoryUserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	user, exists := r.users[id]
	if !exists {
		return nil, repository.ErrNotFound
	}
	return user, nil
}

func (r *InMemoryUserRepository) FindByProviderID(ctx context.Context, providerID string) (*model.User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, user := range r.users {
		if user.ProviderID == providerID {
			return user, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *InMemoryUserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *InMemoryUserRepository) FindAll(ctx context.Context) ([]*model.User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var users []*model.User
	for _, user := range r.users {
		users = append(users, user)
	}
	return users, nil
}

func (r *InMemoryUserRepository) Update(ctx context.Context, user *model.User) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.users[user.ID]; !exists {
		return repository.ErrNotFound
	}
	r.users[user.ID] = user
	return nil
}

func (r *InMemoryUserRepository) Delete(ctx context.Context, id string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.users, id)
	return nil
}

// Account repository implementation
type InMemoryAccountRepository struct {
	accounts map[string]*model.ConnectedAccount
	mutex    sync.RWMutex
}

func NewInMemoryAccountRepository() *InMemoryAccountRepository {
	return &InMemoryAccountRepository{
		accounts: make(map[string]*model.ConnectedAccount),
	}
}

func (r *InMemoryAccountRepository) Create(ctx context.Context, account *model.ConnectedAccount) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.accounts[account.ID] = account
	return nil
}

func (r *InMemoryAccountRepository) FindByID(ctx context.Context, id string) (*model.ConnectedAccount, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	account, exists := r.accounts[id]
	if !exists {
		return nil, repository.ErrNotFound
	}
	return account, nil
}

func (r *InMemoryAccountRepository) FindActiveByUserID(ctx context.Context, userID string) ([]*model.ConnectedAccount, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*model.ConnectedAccount
	for _, account := range r.accounts {
		if account.UserID == userID && account.IsActive {
			result = append(result, account)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *InMemoryAccountRepository) FindByProviderEmail(ctx context.Context, userID string, provider model.Provider, email string) (*model.ConnectedAccount, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, account := range r.accounts {
		if account.UserID == userID && account.Provider == provider && account.Email == email {
			return account, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *InMemoryAccountRepository) CountByUserID(ctx context.Context, userID string) (int, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	count := 0
	for _, account := range r.accounts {
		if account.UserID == userID && account.IsActive {
			count++
		}
	}
	return count, nil
}

func (r *InMemoryAccountRepository) Update(ctx context.Context, account *model.ConnectedAccount) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.accounts[account.ID]; !exists {
		return repository.ErrNotFound
	}
	r.accounts[account.ID] = account
	return nil
}

func (r *InMemoryAccountRepository) Deactivate(ctx context.Context, id string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	account, exists := r.accounts[id]
	if !exists {
		return repository.ErrNotFound
	}
	account.IsActive = false
	return nil
}

// Email repository implementation (the cache)
type InMemoryEmailRepository struct {
	emails map[string]*model.Email
	mutex  sync.RWMutex
}

func NewInMemoryEmailRepository() *InMemoryEmailRepository {
	return &InMemoryEmailRepository{
		emails: make(map[string]*model.Email),
	}
}

func (r *InMemoryEmailRepository) Upsert(ctx context.Context, email *model.Email) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, existing := range r.emails {
		if existing.AccountID == email.AccountID && existing.ProviderID == email.ProviderID {
			email.ID = existing.ID
			r.emails[existing.ID] = email
			return nil
		}
	}
	r.emails[email.ID] = email
	return nil
}

func (r *InMemoryEmailRepository) FindByID(ctx context.Context, id string) (*model.Email, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	email, exists := r.emails[id]
	if !exists {
		return nil, repository.ErrNotFound
	}
	return email, nil
}

func (r *InMemoryEmailRepository) FindByProviderID(ctx context.Context, accountID, providerID string) (*model.Email, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, email := range r.emails {
		if email.AccountID == accountID && email.ProviderID == providerID {
			return email, nil
		}
	}
	return nil, repository.ErrNotFound
}

func matches(email *model.Email, query repository.EmailQuery) bool {
	if email.IsTrash {
		return false
	}
	if query.Label != "" && !email.HasLabel(query.Label) {
		return false
	}
	if query.IsRead != nil && email.IsRead != *query.IsRead {
		return false
	}
	if query.IsStarred != nil && email.IsStarred != *query.IsStarred {
		return false
	}
	if query.Search != "" {
		term := strings.ToLower(query.Search)
		if !strings.Contains(strings.ToLower(email.Subject), term) &&
			!strings.Contains(strings.ToLower(email.From), term) &&
			!strings.Contains(strings.ToLower(email.Snippet), term) &&
			!strings.Contains(strings.ToLower(email.BodyText), term) {
			return false
		}
	}
	return true
}

func (r *InMemoryEmailRepository) Search(ctx context.Context, accountIDs []string, query repository.EmailQuery) ([]*model.Email, int, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	accountSet := make(map[string]bool, len(accountIDs))
	for _, id := range accountIDs {
		accountSet[id] = true
	}

	var result []*model.Email
	for _, email := range r.emails {
		if !accountSet[email.AccountID] {
			continue
		}
		if matches(email, query) {
			result = append(result, email)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].SentAt.After(result[j].SentAt)
	})

	total := len(result)

	perPage := query.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	page := query.Page
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= total {
		return nil, total, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return result[start:end], total, nil
}

func (r *InMemoryEmailRepository) Counts(ctx context.Context, accountIDs []string) (map[string]int, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	accountSet := make(map[string]bool, len(accountIDs))
	for _, id := range accountIDs {
		accountSet[id] = true
	}

	counts := map[string]int{
		"all": 0, "inbox": 0, "unread": 0, "starred": 0,
		"important": 0, "personal": 0, "updates": 0, "promotions": 0,
	}
	for _, email := range r.emails {
		if !accountSet[email.AccountID] || email.IsTrash {
			continue
		}
		counts["all"]++
		if email.HasLabel("INBOX") || email.HasLabel("Inbox") {
			counts["inbox"]++
		}
		if !email.IsRead {
			counts["unread"]++
		}
		if email.IsStarred {
			counts["starred"]++
		}
		if email.HasLabel("IMPORTANT") {
			counts["important"]++
		}
		if email.HasLabel("CATEGORY_PERSONAL") {
			counts["personal"]++
		}
		if email.HasLabel("CATEGORY_UPDATES") {
			counts["updates"]++
		}
		if email.HasLabel("CATEGORY_PROMOTIONS") {
			counts["promotions"]++
		}
	}
	return counts, nil
}

func (r *InMemoryEmailRepository) Update(ctx context.Context, email *model.Email) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.emails[email.ID]; !exists {
		return repository.ErrNotFound
	}
	r.emails[email.ID] = email
	return nil
}

func (r *InMemoryEmailRepository) Delete(ctx context.Context, id string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.emails, id)
	return nil
}

// Sync state repository implementation
type InMemorySyncStateRepository struct {
	states map[string]*model.SyncState
	mutex  sync.RWMutex
}

func NewInMemorySyncStateRepository() *InMemorySyncStateRepository {
	return &InMemorySyncStateRepository{
		states: make(map[string]*model.SyncState),
	}
}

func (r *InMemorySyncStateRepository) Get(ctx context.Context, accountID string) (*model.SyncState, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	state, exists := r.states[accountID]
	if !exists {
		return nil, repository.ErrNotFound
	}
	return state, nil
}

func (r *InMemorySyncStateRepository) Save(ctx context.Context, state *model.SyncState) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.states[state.AccountID] = state
	return nil
}
