// Package upstream talks to the remote hosting service that owns repository,
// branch and file data. Every call is a synchronous network request made on
// the request goroutine; callers own timeout policy through ctx.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/go-github/v57/github"
)

const Provider = "github"

var (
	// ErrNotFound covers repositories, branches and paths the upstream
	// does not have or will not show us.
	ErrNotFound = errors.New("upstream object not found")
	// ErrDecode marks file content the upstream returned in an encoding
	// we could not unpack.
	ErrDecode = errors.New("upstream content decode failed")
	// ErrNoCredential means the identity has no usable linked token.
	ErrNoCredential = errors.New("no linked credential")
)

// Contents is the tagged result of a contents lookup: exactly one of File or
// Entries is set, depending on whether the path names a file or a directory.
type Contents struct {
	File    *File
	Entries []Entry
}

type File struct {
	Name    string
	Path    string
	SHA     string
	HTMLURL string
	Data    []byte
}

type Entry struct {
	Name string
	Path string
	Kind string // "dir" or "file"
}

type CommitInfo struct {
	SHA      string
	ShortSHA string
	URL      string
	When     time.Time
}

type RepoInfo struct {
	Name     string
	Private  bool
	PushedAt time.Time
}

// Client is an authenticated handle to the hosting API for one user.
type Client struct {
	gh       *github.Client
	username string
}

func NewClient(username, token string) *Client {
	return &Client{
		gh:       github.NewClient(nil).WithAuthToken(token),
		username: username,
	}
}

func (c *Client) Username() string {
	return c.username
}

// OpenRepo looks up one of the user's repositories by name.
func (c *Client) OpenRepo(ctx context.Context, name string) (*Repo, error) {
	meta, _, err := c.gh.Repositories.Get(ctx, c.username, name)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("repository %s/%s: %w", c.username, name, ErrNotFound)
		}
		return nil, fmt.Errorf("get repository %s/%s: %w", c.username, name, err)
	}
	return &Repo{gh: c.gh, owner: c.username, name: name, meta: meta}, nil
}

// ListRepos returns the repositories owned by the user, most recently pushed
// first.
func (c *Client) ListRepos(ctx context.Context) ([]RepoInfo, error) {
	opts := &github.RepositoryListByAuthenticatedUserOptions{
		Sort:        "pushed",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var out []RepoInfo
	for {
		repos, resp, err := c.gh.Repositories.ListByAuthenticatedUser(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("list repositories: %w", err)
		}
		for _, repo := range repos {
			if repo.GetOwner().GetLogin() != c.username {
				continue
			}
			out = append(out, RepoInfo{
				Name:     repo.GetName(),
				Private:  repo.GetPrivate(),
				PushedAt: repo.GetPushedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PushedAt.After(out[j].PushedAt) })
	return out, nil
}

func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}
