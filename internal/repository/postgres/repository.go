package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"unibox/internal/model"
	"unibox/internal/repository"

	"github.com/lib/pq"
)

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) Create(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (id, provider_id, email, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider_id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			updated_at = NOW()`
	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.ProviderID, user.Email, user.Name,
		user.CreatedAt, user.UpdatedAt)
	return err
}

func (r *PostgresUserRepository) scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(
		&user.ID, &user.ProviderID, &user.Email, &user.Name,
		&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

func (r *PostgresUserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT id, provider_id, email, name, created_at, updated_at FROM users WHERE id = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresUserRepository) FindByProviderID(ctx context.Context, providerID string) (*model.User, error) {
	query := `SELECT id, provider_id, email, name, created_at, updated_at FROM users WHERE provider_id = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, providerID))
}

func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT id, provider_id, email, name, created_at, updated_at FROM users WHERE email = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *PostgresUserRepository) FindAll(ctx context.Context) ([]*model.User, error) {
	query := `SELECT id, provider_id, email, name, created_at, updated_at FROM users`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user := &model.User{}
		if err := rows.Scan(&user.ID, &user.ProviderID, &user.Email, &user.Name,
			&user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (r *PostgresUserRepository) Update(ctx context.Context, user *model.User) error {
	query := `UPDATE users SET provider_id=$1, email=$2, name=$3, updated_at=NOW() WHERE id=$4`
	_, err := r.db.ExecContext(ctx, query, user.ProviderID, user.Email, user.Name, user.ID)
	return err
}

func (r *PostgresUserRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	return err
}

// Postgres connected-account repository implementation
type PostgresAccountRepository struct {
	db *sql.DB
}

func NewPostgresAccountRepository(db *sql.DB) *PostgresAccountRepository {
	return &PostgresAccountRepository{db: db}
}

const accountColumns = `id, user_id, provider, email, display_name, access_token,
	refresh_token, token_expiry, is_active, is_primary, created_at, updated_at`

func scanAccount(scan func(dest ...interface{}) error) (*model.ConnectedAccount, error) {
	account := &model.ConnectedAccount{}
	var refreshToken sql.NullString
	var tokenExpiry sql.NullTime
	err := scan(
		&account.ID, &account.UserID, &account.Provider, &account.Email,
		&account.DisplayName, &account.AccessToken, &refreshToken, &tokenExpiry,
		&account.IsActive, &account.IsPrimary, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	account.RefreshToken = refreshToken.String
	account.TokenExpiry = tokenExpiry.Time
	return account, nil
}

func (r *PostgresAccountRepository) Create(ctx context.Context, account *model.ConnectedAccount) error {
	query := `
		INSERT INTO connected_accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id, provider, email) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), connected_accounts.refresh_token),
			token_expiry = EXCLUDED.token_expiry,
			is_active = TRUE,
			updated_at = NOW()`
	_, err := r.db.ExecContext(ctx, query,
		account.ID, account.UserID, account.Provider, account.Email, account.DisplayName,
		account.AccessToken, account.RefreshToken, account.TokenExpiry,
		account.IsActive, account.IsPrimary, account.CreatedAt, account.UpdatedAt)
	return err
}

func (r *PostgresAccountRepository) FindByID(ctx context.Context, id string) (*model.ConnectedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM connected_accounts WHERE id = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, id).Scan)
}

func (r *PostgresAccountRepository) FindActiveByUserID(ctx context.Context, userID string) ([]*model.ConnectedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM connected_accounts
		WHERE user_id = $1 AND is_active = TRUE ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*model.ConnectedAccount
	for rows.Next() {
		account, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (r *PostgresAccountRepository) FindByProviderEmail(ctx context.Context, userID string, provider model.Provider, email string) (*model.ConnectedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM connected_accounts
		WHERE user_id = $1 AND provider = $2 AND email = $3`
	return scanAccount(r.db.QueryRowContext(ctx, query, userID, provider, email).Scan)
}

func (r *PostgresAccountRepository) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM connected_accounts WHERE user_id = $1 AND is_active = TRUE`
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&count)
	return count, err
}

func (r *PostgresAccountRepository) Update(ctx context.Context, account *model.ConnectedAccount) error {
	query := `
		UPDATE connected_accounts SET email=$1, display_name=$2, access_token=$3,
		refresh_token=$4, token_expiry=$5, is_active=$6, is_primary=$7, updated_at=NOW()
		WHERE id=$8`
	_, err := r.db.ExecContext(ctx, query,
		account.Email, account.DisplayName, account.AccessToken,
		account.RefreshToken, account.TokenExpiry, account.IsActive, account.IsPrimary,
		account.ID)
	return err
}

func (r *PostgresAccountRepository) Deactivate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE connected_accounts SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	return err
}

// Postgres email repository implementation (the cache)
type PostgresEmailRepository struct {
	db *sql.DB
}

func NewPostgresEmailRepository(db *sql.DB) *PostgresEmailRepository {
	return &PostgresEmailRepository{db: db}
}

const emailColumns = `id, account_id, provider, provider_id, thread_id, subject, from_address,
	to_addresses, sent_at, snippet, body_text, body_html, is_read, is_starred, is_trash,
	labels, attachments, created_at, updated_at`

func scanEmail(scan func(dest ...interface{}) error) (*model.Email, error) {
	email := &model.Email{}
	var attachmentsJSON []byte
	err := scan(
		&email.ID, &email.AccountID, &email.Provider, &email.ProviderID, &email.ThreadID,
		&email.Subject, &email.From, pq.Array(&email.To), &email.SentAt, &email.Snippet,
		&email.BodyText, &email.BodyHTML, &email.IsRead, &email.IsStarred, &email.IsTrash,
		pq.Array(&email.Labels), &attachmentsJSON, &email.CreatedAt, &email.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if len(attachmentsJSON) > 0 {
		if err := json.Unmarshal(attachmentsJSON, &email.Attachments); err != nil {
			return nil, fmt.Errorf("failed to decode attachments: %w", err)
		}
	}
	return email, nil
}

func (r *PostgresEmailRepository) Upsert(ctx context.Context, email *model.Email) error {
	attachmentsJSON, err := json.Marshal(email.Attachments)
	if err != nil {
		return fmt.Errorf("failed to encode attachments: %w", err)
	}

	query := `
		INSERT INTO emails (` + emailColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (account_id, provider_id) DO UPDATE SET
			subject = EXCLUDED.subject,
			snippet = EXCLUDED.snippet,
			body_text = EXCLUDED.body_text,
			body_html = EXCLUDED.body_html,
			is_read = EXCLUDED.is_read,
			is_starred = EXCLUDED.is_starred,
			labels = EXCLUDED.labels,
			attachments = EXCLUDED.attachments,
			updated_at = NOW()`
	_, err = r.db.ExecContext(ctx, query,
		email.ID, email.AccountID, email.Provider, email.ProviderID, email.ThreadID,
		email.Subject, email.From, pq.Array(email.To), email.SentAt, email.Snippet,
		email.BodyText, email.BodyHTML, email.IsRead, email.IsStarred, email.IsTrash,
		pq.Array(email.Labels), attachmentsJSON, email.CreatedAt, email.UpdatedAt)
	return err
}

func (r *PostgresEmailRepository) FindByID(ctx context.Context, id string) (*model.Email, error) {
	query := `SELECT ` + emailColumns + ` FROM emails WHERE id = $1`
	return scanEmail(r.db.QueryRowContext(ctx, query, id).Scan)
}

func (r *PostgresEmailRepository) FindByProviderID(ctx context.Context, accountID, providerID string) (*model.Email, error) {
	query := `SELECT ` + emailColumns + ` FROM emails WHERE account_id = $1 AND provider_id = $2`
	return scanEmail(r.db.QueryRowContext(ctx, query, accountID, providerID).Scan)
}

func (r *PostgresEmailRepository) Search(ctx context.Context, accountIDs []string, query repository.EmailQuery) ([]*model.Email, int, error) {
	var conditions []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions = append(conditions, "account_id = ANY("+arg(pq.Array(accountIDs))+")")
	conditions = append(conditions, "is_trash = FALSE")

	if query.Search != "" {
		placeholder := arg("%" + query.Search + "%")
		conditions = append(conditions, fmt.Sprintf(
			"(subject ILIKE %[1]s OR from_address ILIKE %[1]s OR snippet ILIKE %[1]s OR body_text ILIKE %[1]s)",
			placeholder))
	}
	if query.Label != "" {
		conditions = append(conditions, arg(query.Label)+" = ANY(labels)")
	}
	if query.IsRead != nil {
		conditions = append(conditions, "is_read = "+arg(*query.IsRead))
	}
	if query.IsStarred != nil {
		conditions = append(conditions, "is_starred = "+arg(*query.IsStarred))
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM emails WHERE ` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := query.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	page := query.Page
	if page <= 0 {
		page = 1
	}

	listQuery := `SELECT ` + emailColumns + ` FROM emails WHERE ` + where +
		` ORDER BY sent_at DESC LIMIT ` + arg(perPage) + ` OFFSET ` + arg((page-1)*perPage)

	rows, err := r.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var emails []*model.Email
	for rows.Next() {
		email, err := scanEmail(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		emails = append(emails, email)
	}
	return emails, total, rows.Err()
}

func (r *PostgresEmailRepository) Counts(ctx context.Context, accountIDs []string) (map[string]int, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE 'INBOX' = ANY(labels) OR 'Inbox' = ANY(labels)),
			COUNT(*) FILTER (WHERE NOT is_read),
			COUNT(*) FILTER (WHERE is_starred),
			COUNT(*) FILTER (WHERE 'IMPORTANT' = ANY(labels)),
			COUNT(*) FILTER (WHERE 'CATEGORY_PERSONAL' = ANY(labels)),
			COUNT(*) FILTER (WHERE 'CATEGORY_UPDATES' = ANY(labels)),
			COUNT(*) FILTER (WHERE 'CATEGORY_PROMOTIONS' = ANY(labels))
		FROM emails WHERE account_id = ANY($1) AND is_trash = FALSE`

	counts := make(map[string]int, 8)
	var all, inbox, unread, starred, important, personal, updates, promotions int
	err := r.db.QueryRowContext(ctx, query, pq.Array(accountIDs)).Scan(
		&all, &inbox, &unread, &starred, &important, &personal, &updates, &promotions)
	if err != nil {
		return nil, err
	}
	counts["all"] = all
	counts["inbox"] = inbox
	counts["unread"] = unread
	counts["starred"] = starred
	counts["important"] = important
	counts["personal"] = personal
	counts["updates"] = updates
	counts["promotions"] = promotions
	return counts, nil
}

func (r *PostgresEmailRepository) Update(ctx context.Context, email *model.Email) error {
	attachmentsJSON, err := json.Marshal(email.Attachments)
	if err != nil {
		return fmt.Errorf("failed to encode attachments: %w", err)
	}

	query := `
		UPDATE emails SET subject=$1, from_address=$2, to_addresses=$3, snippet=$4,
		body_text=$5, body_html=$6, is_read=$7, is_starred=$8, is_trash=$9, labels=$10,
		attachments=$11, updated_at=NOW() WHERE id=$12`
	_, err = r.db.ExecContext(ctx, query,
		email.Subject, email.From, pq.Array(email.To), email.Snippet,
		email.BodyText, email.BodyHTML, email.IsRead, email.IsStarred, email.IsTrash,
		pq.Array(email.Labels), attachmentsJSON, email.ID)
	return err
}

func (r *PostgresEmailRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM emails WHERE id = $1`, id)
	return err
}

// Postgres sync-state repository implementation
type PostgresSyncStateRepository struct {
	db *sql.DB
}

func NewPostgresSyncStateRepository(db *sql.DB) *PostgresSyncStateRepository {
	return &PostgresSyncStateRepository{db: db}
}

func (r *PostgresSyncStateRepository) Get(ctx context.Context, accountID string) (*model.SyncState, error) {
	query := `SELECT account_id, cursor, last_sync_at, total_synced, last_error, error_count
		FROM sync_states WHERE account_id = $1`
	state := &model.SyncState{}
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(
		&state.AccountID, &state.Cursor, &state.LastSyncAt,
		&state.TotalSynced, &state.LastError, &state.ErrorCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return state, nil
}

func (r *PostgresSyncStateRepository) Save(ctx context.Context, state *model.SyncState) error {
	query := `
		INSERT INTO sync_states (account_id, cursor, last_sync_at, total_synced, last_error, error_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id) DO UPDATE SET
			cursor = EXCLUDED.cursor,
			last_sync_at = EXCLUDED.last_sync_at,
			total_synced = EXCLUDED.total_synced,
			last_error = EXCLUDED.last_error,
			error_count = EXCLUDED.error_count`
	_, err := r.db.ExecContext(ctx, query,
		state.AccountID, state.Cursor, state.LastSyncAt,
		state.TotalSynced, state.LastError, state.ErrorCount)
	return err
}

// InitializeDatabase creates the necessary tables
func InitializeDatabase(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(255) PRIMARY KEY,
			provider_id VARCHAR(255) UNIQUE NOT NULL,
			email VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS connected_accounts (
			id VARCHAR(255) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			provider VARCHAR(32) NOT NULL,
			email VARCHAR(255) NOT NULL,
			display_name VARCHAR(255),
			access_token TEXT NOT NULL,
			refresh_token TEXT,
			token_expiry TIMESTAMP,
			is_active BOOLEAN DEFAULT TRUE,
			is_primary BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (user_id, provider, email)
		)`,
		`CREATE TABLE IF NOT EXISTS emails (
			id VARCHAR(255) PRIMARY KEY,
			account_id VARCHAR(255) NOT NULL,
			provider VARCHAR(32) NOT NULL,
			provider_id VARCHAR(255) NOT NULL,
			thread_id VARCHAR(255),
			subject TEXT,
			from_address TEXT,
			to_addresses TEXT[],
			sent_at TIMESTAMP NOT NULL,
			snippet TEXT,
			body_text TEXT,
			body_html TEXT,
			is_read BOOLEAN DEFAULT FALSE,
			is_starred BOOLEAN DEFAULT FALSE,
			is_trash BOOLEAN DEFAULT FALSE,
			labels TEXT[],
			attachments JSONB,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (account_id, provider_id)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_states (
			account_id VARCHAR(255) PRIMARY KEY,
			cursor VARCHAR(255),
			last_sync_at TIMESTAMP,
			total_synced INTEGER DEFAULT 0,
			last_error TEXT,
			error_count INTEGER DEFAULT 0
		)`,
	}

	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}
