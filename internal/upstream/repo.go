package upstream

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"
)

// Repo is a live handle to one upstream repository. It is owned by a single
// user session and never shared across users.
type Repo struct {
	gh    *github.Client
	owner string
	name  string
	meta  *github.Repository
}

func (r *Repo) Name() string          { return r.name }
func (r *Repo) Owner() string         { return r.owner }
func (r *Repo) DefaultBranch() string { return r.meta.GetDefaultBranch() }
func (r *Repo) Private() bool         { return r.meta.GetPrivate() }
func (r *Repo) HTMLURL() string       { return r.meta.GetHTMLURL() }

// ListBranches fetches the branch names. Called once per handle creation;
// the session cache keeps the result.
func (r *Repo) ListBranches(ctx context.Context) ([]string, error) {
	opts := &github.BranchListOptions{ListOptions: github.ListOptions{PerPage: 100}}
	var names []string
	for {
		branches, resp, err := r.gh.Repositories.ListBranches(ctx, r.owner, r.name, opts)
		if err != nil {
			return nil, fmt.Errorf("list branches %s/%s: %w", r.owner, r.name, err)
		}
		for _, branch := range branches {
			names = append(names, branch.GetName())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return names, nil
}

// Contents fetches a file or directory listing at path on ref. The upstream
// decides which a path is; the result is a tagged variant.
func (r *Repo) Contents(ctx context.Context, path, ref string) (*Contents, error) {
	opts := &github.RepositoryContentGetOptions{Ref: ref}
	file, dir, _, err := r.gh.Repositories.GetContents(ctx, r.owner, r.name, path, opts)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("contents %s@%s: %w", path, ref, ErrNotFound)
		}
		return nil, fmt.Errorf("get contents %s@%s: %w", path, ref, err)
	}

	if file != nil {
		decoded, err := file.GetContent()
		if err != nil {
			return nil, fmt.Errorf("content %s@%s: %w", path, ref, ErrDecode)
		}
		return &Contents{File: &File{
			Name:    file.GetName(),
			Path:    file.GetPath(),
			SHA:     file.GetSHA(),
			HTMLURL: file.GetHTMLURL(),
			Data:    []byte(decoded),
		}}, nil
	}

	entries := make([]Entry, 0, len(dir))
	for _, item := range dir {
		kind := "file"
		if item.GetType() == "dir" {
			kind = "dir"
		}
		entries = append(entries, Entry{
			Name: item.GetName(),
			Path: item.GetPath(),
			Kind: kind,
		})
	}
	return &Contents{Entries: entries}, nil
}

// CreateFile commits a new file to the branch.
func (r *Repo) CreateFile(ctx context.Context, path string, content []byte, message, branch string) (*CommitInfo, error) {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
		Branch:  github.String(branch),
	}
	resp, _, err := r.gh.Repositories.CreateFile(ctx, r.owner, r.name, path, opts)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("create %s@%s: %w", path, branch, ErrNotFound)
		}
		return nil, fmt.Errorf("create file %s@%s: %w", path, branch, err)
	}
	return commitInfo(resp.Commit), nil
}

// UpdateFile replaces the file's content; sha must be the blob SHA of the
// version being replaced.
func (r *Repo) UpdateFile(ctx context.Context, path string, content []byte, message, branch, sha string) (*CommitInfo, error) {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
		Branch:  github.String(branch),
		SHA:     github.String(sha),
	}
	resp, _, err := r.gh.Repositories.UpdateFile(ctx, r.owner, r.name, path, opts)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("update %s@%s: %w", path, branch, ErrNotFound)
		}
		return nil, fmt.Errorf("update file %s@%s: %w", path, branch, err)
	}
	return commitInfo(resp.Commit), nil
}

// DeleteFile removes the file from the branch.
func (r *Repo) DeleteFile(ctx context.Context, path, message, branch, sha string) (*CommitInfo, error) {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Branch:  github.String(branch),
		SHA:     github.String(sha),
	}
	resp, _, err := r.gh.Repositories.DeleteFile(ctx, r.owner, r.name, path, opts)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("delete %s@%s: %w", path, branch, ErrNotFound)
		}
		return nil, fmt.Errorf("delete file %s@%s: %w", path, branch, err)
	}
	return commitInfo(resp.Commit), nil
}

// LastCommit returns the newest commit touching path on branch; an empty
// path asks for the branch head.
func (r *Repo) LastCommit(ctx context.Context, branch, path string) (*CommitInfo, error) {
	opts := &github.CommitsListOptions{
		SHA:         branch,
		Path:        path,
		ListOptions: github.ListOptions{PerPage: 1},
	}
	commits, _, err := r.gh.Repositories.ListCommits(ctx, r.owner, r.name, opts)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("commits %s@%s: %w", path, branch, ErrNotFound)
		}
		return nil, fmt.Errorf("list commits %s@%s: %w", path, branch, err)
	}
	if len(commits) == 0 {
		return nil, fmt.Errorf("commits %s@%s: %w", path, branch, ErrNotFound)
	}
	head := commits[0]
	info := &CommitInfo{
		SHA:  head.GetSHA(),
		URL:  head.GetHTMLURL(),
		When: head.GetCommit().GetCommitter().GetDate().Time,
	}
	if len(info.SHA) >= 7 {
		info.ShortSHA = info.SHA[:7]
	} else {
		info.ShortSHA = info.SHA
	}
	return info, nil
}

func commitInfo(commit github.Commit) *CommitInfo {
	info := &CommitInfo{
		SHA: commit.GetSHA(),
		URL: commit.GetHTMLURL(),
	}
	if commit.GetCommitter() != nil {
		info.When = commit.GetCommitter().GetDate().Time
	}
	if len(info.SHA) >= 7 {
		info.ShortSHA = info.SHA[:7]
	} else {
		info.ShortSHA = info.SHA
	}
	return info
}
