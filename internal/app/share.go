package app

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"unicode/utf8"

	"markhub/internal/repocache"
	"markhub/internal/upstream"
)

type ShareResult struct {
	User        string `json:"user"`
	Repo        string `json:"repo"`
	Branch      string `json:"branch"`
	Path        string `json:"path"`
	HTML        string `json:"html"`
	TOC         string `json:"toc"`
	HTMLURL     string `json:"htmlUrl"`
	Private     bool   `json:"private"`
	DecodeError bool   `json:"decodeError,omitempty"`
}

// ResolveShare serves the anonymous share view. A published snapshot takes
// precedence; otherwise the raw public file is fetched, rendered, and the
// result remembered in the render cache, keyed by the raw URL.
func (s *Service) ResolveShare(ctx context.Context, user, repo, branch, filePath string) (ShareResult, error) {
	result := ShareResult{
		User:    user,
		Repo:    repo,
		Branch:  branch,
		Path:    filePath,
		HTMLURL: fmt.Sprintf("https://%s/%s/%s/blob/%s/%s", s.cfg.WebHost, user, repo, branch, filePath),
	}

	snapshot, err := s.store.LookupPublished(ctx, user, repo, branch, filePath)
	if err != nil {
		return ShareResult{}, fmt.Errorf("lookup published: %w", err)
	}
	if snapshot != nil {
		result.HTML = snapshot.Content
		result.TOC = snapshot.TOC
		result.Private = true
		return result, nil
	}

	rawURL := s.raw.RawURL(user, repo, branch, filePath)
	if doc, toc, ok, err := s.renders.Get(ctx, rawURL); err != nil {
		log.Printf("render cache get failed: %v", err)
	} else if ok {
		result.HTML = doc
		result.TOC = toc
		return result, nil
	}

	body, err := s.raw.Fetch(ctx, rawURL)
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			return ShareResult{}, &repocache.NotFoundError{User: user, Repo: repo, Branch: branch, Path: filePath}
		}
		return ShareResult{}, fmt.Errorf("fetch raw file: %w", err)
	}
	if !utf8.Valid(body) {
		// Decode failures render a placeholder and are never cached.
		result.DecodeError = true
		result.HTML = fmt.Sprintf("<p>Unicode decode error while opening %s</p>", html.EscapeString(filePath))
		return result, nil
	}

	doc, toc, err := s.render(body)
	if err != nil {
		return ShareResult{}, fmt.Errorf("render shared file: %w", err)
	}
	result.HTML = doc
	result.TOC = toc
	if err := s.renders.Add(ctx, rawURL, doc, toc); err != nil {
		log.Printf("render cache add failed: %v", err)
	}
	return result, nil
}
