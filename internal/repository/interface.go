package repository

import (
	"context"
	"errors"

	"unibox/internal/model"
)

var ErrNotFound = errors.New("not found")

// EmailQuery narrows a cache read. Results are always ordered by SentAt
// descending with trashed messages excluded.
type EmailQuery struct {
	Page      int
	PerPage   int
	Search    string
	Label     string
	IsRead    *bool
	IsStarred *bool
}

// UserRepository defines the interface for primary-session user data.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByProviderID(ctx context.Context, providerID string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindAll(ctx context.Context) ([]*model.User, error)
	Update(ctx context.Context, user *model.User) error
	Delete(ctx context.Context, id string) error
}

// AccountRepository is the credential store contract: per-user,
// per-account identity and token state. It is the only shared stateful
// resource; a single writer per account is assumed, not enforced here.
type AccountRepository interface {
	Create(ctx context.Context, account *model.ConnectedAccount) error
	FindByID(ctx context.Context, id string) (*model.ConnectedAccount, error)
	FindActiveByUserID(ctx context.Context, userID string) ([]*model.ConnectedAccount, error)
	FindByProviderEmail(ctx context.Context, userID string, provider model.Provider, email string) (*model.ConnectedAccount, error)
	CountByUserID(ctx context.Context, userID string) (int, error)
	Update(ctx context.Context, account *model.ConnectedAccount) error
	Deactivate(ctx context.Context, id string) error
}

// EmailRepository is the cache collaborator: the pre-synchronized local
// copy of mail that backs the fast fetch path.
type EmailRepository interface {
	Upsert(ctx context.Context, email *model.Email) error
	FindByID(ctx context.Context, id string) (*model.Email, error)
	FindByProviderID(ctx context.Context, accountID, providerID string) (*model.Email, error)
	Search(ctx context.Context, accountIDs []string, query EmailQuery) ([]*model.Email, int, error)
	Counts(ctx context.Context, accountIDs []string) (map[string]int, error)
	Update(ctx context.Context, email *model.Email) error
	Delete(ctx context.Context, id string) error
}

// SyncStateRepository tracks per-account incremental sync progress.
type SyncStateRepository interface {
	Get(ctx context.Context, accountID string) (*model.SyncState, error)
	Save(ctx context.Context, state *model.SyncState) error
}
