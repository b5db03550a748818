// Package repocache keeps per-session repository state so repeated requests
// for the same repository never re-query the upstream service, and resolves
// file and directory content through the cached handles.
package repocache

import (
	"context"
	"errors"
	"fmt"

	"markhub/internal/store"
	"markhub/internal/upstream"
)

var (
	// ErrRepoNotFound covers every reason a repository state could not be
	// created: no linked credential, unknown repository, or an upstream
	// failure during creation. Callers surface all of them as not-found.
	ErrRepoNotFound = errors.New("repository not found")
	// ErrUnknownBranch rejects a branch switch to a name that is not in
	// the cached branch list.
	ErrUnknownBranch = errors.New("unknown branch")
)

// Handle is the session-owned reference to one upstream repository.
type Handle interface {
	Name() string
	Owner() string
	DefaultBranch() string
	Private() bool
	HTMLURL() string
	ListBranches(ctx context.Context) ([]string, error)
	Contents(ctx context.Context, path, ref string) (*upstream.Contents, error)
	CreateFile(ctx context.Context, path string, content []byte, message, branch string) (*upstream.CommitInfo, error)
	UpdateFile(ctx context.Context, path string, content []byte, message, branch, sha string) (*upstream.CommitInfo, error)
	DeleteFile(ctx context.Context, path, message, branch, sha string) (*upstream.CommitInfo, error)
	LastCommit(ctx context.Context, branch, path string) (*upstream.CommitInfo, error)
}

// Opener opens repositories on behalf of one authenticated user.
type Opener interface {
	OpenRepo(ctx context.Context, name string) (Handle, error)
}

// Resolver supplies an Opener for an identity with a usable credential.
type Resolver interface {
	Resolve(ctx context.Context, user store.User) (Opener, error)
}

// RepoState is the cached state for one repository within a session: the
// live handle, the branch list fetched once at creation, and the branch the
// user is currently working on.
type RepoState struct {
	Name          string
	Handle        Handle
	Branches      []string
	CurrentBranch string
	Private       bool
	HTMLURL       string
	Owner         string
}

// Session holds the repository states for one user session. Requests for a
// session are processed one at a time, so Session does no locking of its own.
type Session struct {
	repos map[string]*RepoState
}

func NewSession() *Session {
	return &Session{repos: make(map[string]*RepoState)}
}

// Get returns the cached state for the repository, if present.
func (s *Session) Get(repoName string) (*RepoState, bool) {
	state, ok := s.repos[repoName]
	return state, ok
}

// SetBranch switches the current branch for an already-cached repository.
// The branch must be in the branch list fetched at creation; the switch
// itself makes no upstream call.
func (s *Session) SetBranch(repoName, branch string) error {
	state, ok := s.repos[repoName]
	if !ok {
		return fmt.Errorf("set branch %s: %w", repoName, ErrRepoNotFound)
	}
	for _, name := range state.Branches {
		if name == branch {
			state.CurrentBranch = branch
			return nil
		}
	}
	return fmt.Errorf("set branch %s on %s: %w", branch, repoName, ErrUnknownBranch)
}

// Clear drops every cached repository state.
func (s *Session) Clear() {
	s.repos = make(map[string]*RepoState)
}
