package store

import "time"

type User struct {
	ID           string
	Username     string
	PrivateRepos bool
	CreatedAt    time.Time
}

// LinkedCredential is a token for an external hosting provider linked to a
// user. At most one credential per (user, provider); the OAuth exchange that
// produces the token happens outside this service.
type LinkedCredential struct {
	UserID    string
	Provider  string
	Token     string
	CreatedAt time.Time
}

// PublishedFile is a rendered snapshot of a file from a private repository,
// served on the public share page without exposing the repository itself.
// Exactly one row may exist per (user_name, repo, branch, path).
type PublishedFile struct {
	ID          string
	UserName    string
	Repo        string
	Branch      string
	Path        string
	Content     string
	TOC         string
	OwnerID     string
	PublishedAt time.Time
}
