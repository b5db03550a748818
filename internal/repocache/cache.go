package repocache

import (
	"context"
	"fmt"
	"log"

	"markhub/internal/store"
)

// Cache creates repository state on first access and serves it from the
// session afterwards.
type Cache struct {
	resolver Resolver
}

func NewCache(resolver Resolver) *Cache {
	return &Cache{resolver: resolver}
}

// GetOrCreate returns the session's state for repoName, creating it on first
// access. Creation resolves the credential, looks the repository up, fetches
// the branch list once and selects the upstream default branch. A cached
// entry is returned unchanged with no upstream traffic.
//
// Every creation failure is reported as ErrRepoNotFound: a missing
// credential, an unknown or inaccessible repository, and transient upstream
// errors alike. Nothing is retried here; the underlying cause is logged and
// kept in the error text, but only ErrRepoNotFound is matchable.
func (c *Cache) GetOrCreate(ctx context.Context, sess *Session, user store.User, repoName string) (*RepoState, error) {
	if state, ok := sess.Get(repoName); ok {
		return state, nil
	}

	opener, err := c.resolver.Resolve(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrRepoNotFound, user.Username, repoName, err)
	}

	handle, err := opener.OpenRepo(ctx, repoName)
	if err != nil {
		log.Printf("repocache: open %s/%s: %v", user.Username, repoName, err)
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrRepoNotFound, user.Username, repoName, err)
	}

	branches, err := handle.ListBranches(ctx)
	if err != nil {
		log.Printf("repocache: branches %s/%s: %v", user.Username, repoName, err)
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrRepoNotFound, user.Username, repoName, err)
	}

	state := &RepoState{
		Name:          repoName,
		Handle:        handle,
		Branches:      branches,
		CurrentBranch: handle.DefaultBranch(),
		Private:       handle.Private(),
		HTMLURL:       handle.HTMLURL(),
		Owner:         handle.Owner(),
	}
	sess.repos[repoName] = state
	return state, nil
}
