package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureUserByUsername returns the user with the given upstream username,
// creating the record on first login.
func (s *PostgresStore) EnsureUserByUsername(ctx context.Context, username string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, private_repos, created_at FROM users WHERE username=$1`,
		username).Scan(&user.ID, &user.Username, &user.PrivateRepos, &user.CreatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (username)
		VALUES ($1)
		ON CONFLICT (username) DO UPDATE SET username=EXCLUDED.username
		RETURNING id, username, private_repos, created_at
	`, username).Scan(&user.ID, &user.Username, &user.PrivateRepos, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, private_repos, created_at FROM users WHERE id=$1`,
		userID).Scan(&user.ID, &user.Username, &user.PrivateRepos, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// SaveLinkedCredential records the provider token for a user, replacing any
// previous token for the same provider.
func (s *PostgresStore) SaveLinkedCredential(ctx context.Context, cred LinkedCredential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO linked_credentials (user_id, provider, token)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, provider) DO UPDATE SET token=EXCLUDED.token
	`, cred.UserID, cred.Provider, cred.Token)
	if err != nil {
		return fmt.Errorf("save linked credential: %w", err)
	}
	return nil
}

// GetLinkedCredential returns the user's credential for the provider, or nil
// when none is linked. Absence is not an error.
func (s *PostgresStore) GetLinkedCredential(ctx context.Context, userID, provider string) (*LinkedCredential, error) {
	var cred LinkedCredential
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, provider, token, created_at
		FROM linked_credentials
		WHERE user_id=$1 AND provider=$2
	`, userID, provider).Scan(&cred.UserID, &cred.Provider, &cred.Token, &cred.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup linked credential: %w", err)
	}
	return &cred, nil
}

// UpsertPublished persists a rendered snapshot, replacing an existing row for
// the same (user_name, repo, branch, path) in a single statement. The unique
// constraint makes concurrent publishes last-writer-wins instead of leaving
// duplicate rows.
func (s *PostgresStore) UpsertPublished(ctx context.Context, file PublishedFile) (PublishedFile, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO published_files (user_name, repo, branch, path, content, toc, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_name, repo, branch, path) DO UPDATE
			SET content=EXCLUDED.content,
			    toc=EXCLUDED.toc,
			    owner_id=EXCLUDED.owner_id,
			    published_at=NOW()
		RETURNING id, published_at
	`, file.UserName, file.Repo, file.Branch, file.Path, file.Content, file.TOC, file.OwnerID).
		Scan(&file.ID, &file.PublishedAt)
	if err != nil {
		return PublishedFile{}, fmt.Errorf("upsert published file: %w", err)
	}
	return file, nil
}

// LookupPublished returns the snapshot for the key, or nil when none exists.
func (s *PostgresStore) LookupPublished(ctx context.Context, userName, repo, branch, path string) (*PublishedFile, error) {
	var file PublishedFile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_name, repo, branch, path, content, toc, owner_id, published_at
		FROM published_files
		WHERE user_name=$1 AND repo=$2 AND branch=$3 AND path=$4
	`, userName, repo, branch, path).Scan(
		&file.ID, &file.UserName, &file.Repo, &file.Branch, &file.Path,
		&file.Content, &file.TOC, &file.OwnerID, &file.PublishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup published file: %w", err)
	}
	return &file, nil
}

// DeletePublished removes the snapshot for the key and reports whether a row
// was deleted. Deleting a missing snapshot is not an error.
func (s *PostgresStore) DeletePublished(ctx context.Context, userName, repo, branch, path string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM published_files
		WHERE user_name=$1 AND repo=$2 AND branch=$3 AND path=$4
	`, userName, repo, branch, path)
	if err != nil {
		return false, fmt.Errorf("delete published file: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete published file rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListPublishedByOwner(ctx context.Context, ownerID string) ([]PublishedFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_name, repo, branch, path, content, toc, owner_id, published_at
		FROM published_files
		WHERE owner_id=$1
		ORDER BY user_name, repo, branch, path
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list published files: %w", err)
	}
	defer rows.Close()

	items := make([]PublishedFile, 0)
	for rows.Next() {
		var file PublishedFile
		if err := rows.Scan(
			&file.ID, &file.UserName, &file.Repo, &file.Branch, &file.Path,
			&file.Content, &file.TOC, &file.OwnerID, &file.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan published file: %w", err)
		}
		items = append(items, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate published files: %w", err)
	}
	return items, nil
}
