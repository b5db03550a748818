package repocache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"

	"markhub/internal/upstream"
)

type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindDecodeError
)

// Content is the tagged outcome of a content resolution. Exactly one shape
// is populated per kind: File for KindFile and KindDecodeError (the latter
// with placeholder text), Entries for KindDir.
type Content struct {
	Kind    Kind
	File    *FileContent
	Entries []upstream.Entry
}

type FileContent struct {
	Name    string
	Path    string
	SHA     string
	HTMLURL string
	Text    string
}

// NotFoundError reports the full (user, repo, branch, path) tuple so the
// user-facing message says exactly what was missing where.
type NotFoundError struct {
	User   string
	Repo   string
	Branch string
	Path   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("The '%s/%s' repository doesn't contain the '%s' path in '%s'.",
		e.User, e.Repo, e.Path, e.Branch)
}

// ResolveContent fetches the file or directory at path on branch through the
// cached handle. An empty path requests the repository root listing. Branch
// defaults to the session's current branch.
//
// Directory listings are re-sorted by the (kind, name) composite key so the
// order is deterministic regardless of what the upstream returned. A file
// whose bytes are not valid UTF-8 resolves to a decode-error outcome with a
// placeholder message instead of failing the request.
func ResolveContent(ctx context.Context, state *RepoState, path, branch string) (*Content, error) {
	if branch == "" {
		branch = state.CurrentBranch
	}

	contents, err := state.Handle.Contents(ctx, path, branch)
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			return nil, &NotFoundError{User: state.Owner, Repo: state.Name, Branch: branch, Path: path}
		}
		if errors.Is(err, upstream.ErrDecode) {
			return decodeErrorContent(path), nil
		}
		return nil, fmt.Errorf("resolve contents: %w", err)
	}

	if contents.File != nil {
		file := contents.File
		if !utf8.Valid(file.Data) {
			return decodeErrorContent(path), nil
		}
		return &Content{
			Kind: KindFile,
			File: &FileContent{
				Name:    file.Name,
				Path:    file.Path,
				SHA:     file.SHA,
				HTMLURL: file.HTMLURL,
				Text:    string(file.Data),
			},
		}, nil
	}

	entries := make([]upstream.Entry, len(contents.Entries))
	copy(entries, contents.Entries)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Kind+entries[i].Name < entries[j].Kind+entries[j].Name
	})
	return &Content{Kind: KindDir, Entries: entries}, nil
}

func decodeErrorContent(path string) *Content {
	return &Content{
		Kind: KindDecodeError,
		File: &FileContent{
			Path: path,
			Text: fmt.Sprintf("Unicode decode error while opening %s", path),
		},
	}
}
