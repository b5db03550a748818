package repocache

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"markhub/internal/store"
	"markhub/internal/upstream"
)

type fakeHandle struct {
	name          string
	owner         string
	defaultBranch string
	private       bool
	htmlURL       string
	branches      []string

	branchListCalls int
	contentsCalls   int
	contents        map[string]*upstream.Contents
	contentsErr     map[string]error
}

func (h *fakeHandle) Name() string          { return h.name }
func (h *fakeHandle) Owner() string         { return h.owner }
func (h *fakeHandle) DefaultBranch() string { return h.defaultBranch }
func (h *fakeHandle) Private() bool         { return h.private }
func (h *fakeHandle) HTMLURL() string       { return h.htmlURL }

func (h *fakeHandle) ListBranches(ctx context.Context) ([]string, error) {
	h.branchListCalls++
	return h.branches, nil
}

func (h *fakeHandle) Contents(ctx context.Context, path, ref string) (*upstream.Contents, error) {
	h.contentsCalls++
	key := path + "@" + ref
	if err, ok := h.contentsErr[key]; ok {
		return nil, err
	}
	if contents, ok := h.contents[key]; ok {
		return contents, nil
	}
	return nil, fmt.Errorf("contents %s: %w", key, upstream.ErrNotFound)
}

func (h *fakeHandle) CreateFile(ctx context.Context, path string, content []byte, message, branch string) (*upstream.CommitInfo, error) {
	return &upstream.CommitInfo{SHA: "c0ffee1234567", ShortSHA: "c0ffee1"}, nil
}

func (h *fakeHandle) UpdateFile(ctx context.Context, path string, content []byte, message, branch, sha string) (*upstream.CommitInfo, error) {
	return &upstream.CommitInfo{SHA: "c0ffee1234567", ShortSHA: "c0ffee1"}, nil
}

func (h *fakeHandle) DeleteFile(ctx context.Context, path, message, branch, sha string) (*upstream.CommitInfo, error) {
	return &upstream.CommitInfo{SHA: "c0ffee1234567", ShortSHA: "c0ffee1"}, nil
}

func (h *fakeHandle) LastCommit(ctx context.Context, branch, path string) (*upstream.CommitInfo, error) {
	return &upstream.CommitInfo{SHA: "c0ffee1234567", ShortSHA: "c0ffee1"}, nil
}

type fakeOpener struct {
	repos     map[string]*fakeHandle
	openCalls int
}

func (o *fakeOpener) OpenRepo(ctx context.Context, name string) (Handle, error) {
	o.openCalls++
	handle, ok := o.repos[name]
	if !ok {
		return nil, fmt.Errorf("repository %s: %w", name, upstream.ErrNotFound)
	}
	return handle, nil
}

type fakeResolver struct {
	opener       *fakeOpener
	err          error
	resolveCalls int
}

func (r *fakeResolver) Resolve(ctx context.Context, user store.User) (Opener, error) {
	r.resolveCalls++
	if r.err != nil {
		return nil, r.err
	}
	return r.opener, nil
}

func newTestHandle() *fakeHandle {
	return &fakeHandle{
		name:          "notes",
		owner:         "octocat",
		defaultBranch: "main",
		branches:      []string{"develop", "main"},
		htmlURL:       "https://github.com/octocat/notes",
		contents:      map[string]*upstream.Contents{},
		contentsErr:   map[string]error{},
	}
}

func newTestCache(handle *fakeHandle) (*Cache, *fakeResolver) {
	resolver := &fakeResolver{opener: &fakeOpener{repos: map[string]*fakeHandle{handle.name: handle}}}
	return NewCache(resolver), resolver
}

func TestGetOrCreateCachesState(t *testing.T) {
	handle := newTestHandle()
	cache, resolver := newTestCache(handle)
	sess := NewSession()
	user := store.User{ID: "user-1", Username: "octocat"}
	ctx := context.Background()

	first, err := cache.GetOrCreate(ctx, sess, user, "notes")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if first.CurrentBranch != "main" {
		t.Errorf("expected default branch main, got %q", first.CurrentBranch)
	}
	if len(first.Branches) != 2 {
		t.Errorf("expected 2 branches, got %v", first.Branches)
	}

	second, err := cache.GetOrCreate(ctx, sess, user, "notes")
	if err != nil {
		t.Fatalf("second GetOrCreate failed: %v", err)
	}
	if second != first {
		t.Error("second access returned a different state")
	}
	if resolver.resolveCalls != 1 {
		t.Errorf("credential resolved %d times, want 1", resolver.resolveCalls)
	}
	if resolver.opener.openCalls != 1 {
		t.Errorf("repository opened %d times, want 1", resolver.opener.openCalls)
	}
	if handle.branchListCalls != 1 {
		t.Errorf("branches listed %d times, want 1", handle.branchListCalls)
	}
}

func TestGetOrCreateWithoutCredential(t *testing.T) {
	cache := NewCache(&fakeResolver{err: upstream.ErrNoCredential})
	sess := NewSession()

	_, err := cache.GetOrCreate(context.Background(), sess, store.User{Username: "octocat"}, "notes")
	if !errors.Is(err, ErrRepoNotFound) {
		t.Errorf("expected ErrRepoNotFound, got %v", err)
	}
}

func TestGetOrCreateUnknownRepo(t *testing.T) {
	cache, _ := newTestCache(newTestHandle())
	sess := NewSession()

	_, err := cache.GetOrCreate(context.Background(), sess, store.User{Username: "octocat"}, "no-such-repo")
	if !errors.Is(err, ErrRepoNotFound) {
		t.Errorf("expected ErrRepoNotFound, got %v", err)
	}
}

func TestSetBranch(t *testing.T) {
	handle := newTestHandle()
	cache, _ := newTestCache(handle)
	sess := NewSession()
	user := store.User{Username: "octocat"}
	ctx := context.Background()

	state, err := cache.GetOrCreate(ctx, sess, user, "notes")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	if err := sess.SetBranch("notes", "develop"); err != nil {
		t.Fatalf("SetBranch failed: %v", err)
	}
	if state.CurrentBranch != "develop" {
		t.Errorf("branch switch not applied, got %q", state.CurrentBranch)
	}
	if handle.branchListCalls != 1 {
		t.Errorf("branch switch re-fetched the branch list (%d calls)", handle.branchListCalls)
	}

	if err := sess.SetBranch("notes", "no-such-branch"); !errors.Is(err, ErrUnknownBranch) {
		t.Errorf("expected ErrUnknownBranch, got %v", err)
	}
	if err := sess.SetBranch("other-repo", "main"); !errors.Is(err, ErrRepoNotFound) {
		t.Errorf("expected ErrRepoNotFound for unknown repo, got %v", err)
	}
}

func TestSetBranchAffectsSubsequentFetches(t *testing.T) {
	handle := newTestHandle()
	handle.contents["doc.md@develop"] = &upstream.Contents{
		File: &upstream.File{Name: "doc.md", Path: "doc.md", Data: []byte("# from develop\n")},
	}
	cache, _ := newTestCache(handle)
	sess := NewSession()
	ctx := context.Background()

	state, err := cache.GetOrCreate(ctx, sess, store.User{Username: "octocat"}, "notes")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if err := sess.SetBranch("notes", "develop"); err != nil {
		t.Fatalf("SetBranch failed: %v", err)
	}

	content, err := ResolveContent(ctx, state, "doc.md", "")
	if err != nil {
		t.Fatalf("ResolveContent failed: %v", err)
	}
	if content.Kind != KindFile || content.File.Text != "# from develop\n" {
		t.Errorf("content fetch did not use the switched branch: %+v", content)
	}
}

func TestClearDropsState(t *testing.T) {
	handle := newTestHandle()
	cache, resolver := newTestCache(handle)
	sess := NewSession()
	user := store.User{Username: "octocat"}
	ctx := context.Background()

	if _, err := cache.GetOrCreate(ctx, sess, user, "notes"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	sess.Clear()
	if _, err := cache.GetOrCreate(ctx, sess, user, "notes"); err != nil {
		t.Fatalf("GetOrCreate after Clear failed: %v", err)
	}
	if resolver.opener.openCalls != 2 {
		t.Errorf("expected a fresh open after Clear, got %d opens", resolver.opener.openCalls)
	}
}
