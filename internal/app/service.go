package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"markhub/internal/auth"
	"markhub/internal/authz"
	"markhub/internal/config"
	"markhub/internal/repocache"
	"markhub/internal/session"
	"markhub/internal/store"
	"markhub/internal/upstream"
	"markhub/internal/util"
)

// Session is the authenticated caller of one request.
type Session struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
	User      store.User
}

type dataStore interface {
	Ping(ctx context.Context) error
	EnsureUserByUsername(ctx context.Context, username string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	SaveLinkedCredential(ctx context.Context, cred store.LinkedCredential) error
	GetLinkedCredential(ctx context.Context, userID, provider string) (*store.LinkedCredential, error)
	UpsertPublished(ctx context.Context, file store.PublishedFile) (store.PublishedFile, error)
	LookupPublished(ctx context.Context, userName, repo, branch, path string) (*store.PublishedFile, error)
	DeletePublished(ctx context.Context, userName, repo, branch, path string) (bool, error)
	ListPublishedByOwner(ctx context.Context, ownerID string) ([]store.PublishedFile, error)
}

type sessionStore interface {
	SaveLogin(ctx context.Context, tokenHash, userID, username string, ttl time.Duration) error
	LookupLogin(ctx context.Context, tokenHash string) (session.LoginData, error)
	RevokeLogin(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

type renderCache interface {
	Get(ctx context.Context, url string) (content, toc string, ok bool, err error)
	Add(ctx context.Context, url, content, toc string) error
}

type rawFetcher interface {
	RawURL(user, repo, branch, path string) string
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// upstreamConn is one user's live connection to the hosting service.
type upstreamConn interface {
	repocache.Opener
	ListRepos(ctx context.Context) ([]upstream.RepoInfo, error)
}

// upstreamPort resolves identities to upstream connections.
type upstreamPort interface {
	Resolve(ctx context.Context, user store.User) (upstreamConn, error)
}

// GitHubPort adapts the concrete credential resolver to the service's
// upstream port.
type GitHubPort struct {
	Resolver *upstream.Resolver
}

func (p GitHubPort) Resolve(ctx context.Context, user store.User) (upstreamConn, error) {
	client, err := p.Resolver.Resolve(ctx, user)
	if err != nil {
		return nil, err
	}
	return githubConn{client: client}, nil
}

type githubConn struct {
	client *upstream.Client
}

func (c githubConn) OpenRepo(ctx context.Context, name string) (repocache.Handle, error) {
	repo, err := c.client.OpenRepo(ctx, name)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func (c githubConn) ListRepos(ctx context.Context) ([]upstream.RepoInfo, error) {
	return c.client.ListRepos(ctx)
}

// cacheResolver adapts the port to the session cache's resolver contract.
type cacheResolver struct {
	port upstreamPort
}

func (a cacheResolver) Resolve(ctx context.Context, user store.User) (repocache.Opener, error) {
	conn, err := a.port.Resolve(ctx, user)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type renderFunc func(source []byte) (html, toc string, err error)

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	port     upstreamPort
	cache    *repocache.Cache
	renders  renderCache
	raw      rawFetcher
	render   renderFunc

	// One repocache.Session per login, keyed by JTI. Requests within a
	// login are processed one at a time; the mutex only guards the map.
	// Entries die with the login: explicitly on logout, when the stored
	// login no longer resolves, and by expiry sweep on access.
	mu           sync.Mutex
	repoSessions map[string]*repoSessionEntry
}

type repoSessionEntry struct {
	session   *repocache.Session
	expiresAt time.Time
}

func New(cfg config.Config, dataStore dataStore, sessions sessionStore, port upstreamPort, renders renderCache, raw rawFetcher, render renderFunc) *Service {
	return &Service{
		cfg:          cfg,
		store:        dataStore,
		sessions:     sessions,
		port:         port,
		cache:        repocache.NewCache(cacheResolver{port: port}),
		renders:      renders,
		raw:          raw,
		render:       render,
		repoSessions: make(map[string]*repoSessionEntry),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingSessions(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}

// Login records the externally-acquired provider token for the user and
// opens a session. The OAuth exchange that produced the token is not this
// service's business.
func (s *Service) Login(ctx context.Context, username, provider, token string) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "username is required", nil)
	}
	if provider == "" {
		provider = upstream.Provider
	}

	user, err := s.store.EnsureUserByUsername(ctx, username)
	if err != nil {
		return Session{}, fmt.Errorf("ensure user: %w", err)
	}
	if token != "" {
		err := s.store.SaveLinkedCredential(ctx, store.LinkedCredential{
			UserID:   user.ID,
			Provider: provider,
			Token:    token,
		})
		if err != nil {
			return Session{}, fmt.Errorf("link credential: %w", err)
		}
	}

	jti := util.NewID("jti")
	expiresAt := time.Now().Add(s.cfg.SessionTTL)
	issued, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Username,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	if err := s.sessions.SaveLogin(ctx, auth.HashToken(issued), user.ID, user.Username, s.cfg.SessionTTL); err != nil {
		return Session{}, fmt.Errorf("save login: %w", err)
	}

	return Session{Token: issued, JTI: jti, ExpiresAt: expiresAt, User: user}, nil
}

// SessionFromToken validates the bearer token against both the signature and
// the session store, and loads the user record.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	if _, err := s.sessions.LookupLogin(ctx, auth.HashToken(token)); err != nil {
		// The login is gone from the session store, so its repository
		// cache must go with it.
		s.dropRepoSession(claims.JTI)
		return Session{}, auth.ErrInvalidToken
	}
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	return Session{
		Token:     token,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
		User:      user,
	}, nil
}

// Logout revokes the login and drops the session's repository cache.
func (s *Service) Logout(ctx context.Context, sess Session) error {
	if sess.Token == "" {
		return nil
	}
	if err := s.sessions.RevokeLogin(ctx, auth.HashToken(sess.Token)); err != nil {
		return fmt.Errorf("revoke login: %w", err)
	}
	s.dropRepoSession(sess.JTI)
	return nil
}

func (s *Service) dropRepoSession(jti string) {
	s.mu.Lock()
	if entry, ok := s.repoSessions[jti]; ok {
		entry.session.Clear()
		delete(s.repoSessions, jti)
	}
	s.mu.Unlock()
}

// repoSession returns the repository session cache for the login, creating
// it on first use. Each access also sweeps entries whose login has expired,
// so dead logins never accumulate cached handles.
func (s *Service) repoSession(sess Session) *repocache.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for jti, entry := range s.repoSessions {
		if now.After(entry.expiresAt) {
			entry.session.Clear()
			delete(s.repoSessions, jti)
		}
	}
	entry, ok := s.repoSessions[sess.JTI]
	if !ok {
		entry = &repoSessionEntry{session: repocache.NewSession(), expiresAt: sess.ExpiresAt}
		s.repoSessions[sess.JTI] = entry
	}
	return entry.session
}

type RepoSummary struct {
	Name     string    `json:"name"`
	Private  bool      `json:"private"`
	PushedAt time.Time `json:"pushedAt"`
}

type RepoListing struct {
	Repos            []RepoSummary `json:"repos"`
	CredentialLinked bool          `json:"credentialLinked"`
}

// ListRepos returns the user's repositories, newest push first. A missing
// credential is not an error: the caller gets an unauthenticated view with
// the private-repo actions hidden.
func (s *Service) ListRepos(ctx context.Context, sess Session) (RepoListing, error) {
	conn, err := s.port.Resolve(ctx, sess.User)
	if err != nil {
		if errors.Is(err, upstream.ErrNoCredential) {
			return RepoListing{Repos: []RepoSummary{}}, nil
		}
		return RepoListing{}, fmt.Errorf("resolve upstream: %w", err)
	}

	repos, err := conn.ListRepos(ctx)
	if err != nil {
		return RepoListing{}, fmt.Errorf("list repos: %w", err)
	}

	ident := authz.Identity{Username: sess.User.Username, PrivateRepos: sess.User.PrivateRepos}
	out := make([]RepoSummary, 0, len(repos))
	for _, repo := range repos {
		if repo.Private && !authz.CanViewPrivate(ident) {
			continue
		}
		out = append(out, RepoSummary{Name: repo.Name, Private: repo.Private, PushedAt: repo.PushedAt})
	}
	return RepoListing{Repos: out, CredentialLinked: true}, nil
}

type DirEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Kind string `json:"kind"`
	Icon string `json:"icon"`
}

type RepoPage struct {
	Repo          string     `json:"repo"`
	Branch        string     `json:"branch"`
	Branches      []string   `json:"branches"`
	Path          string     `json:"path"`
	Private       bool       `json:"private"`
	HTMLURL       string     `json:"htmlUrl"`
	Entries       []DirEntry `json:"entries"`
	ReadmeFile    string     `json:"readmeFile,omitempty"`
	ReadmeHTML    string     `json:"readmeHtml,omitempty"`
	ReadmeTOC     string     `json:"readmeToc,omitempty"`
	LastUpdate    *time.Time `json:"lastUpdate,omitempty"`
	DecodeError   bool       `json:"decodeError,omitempty"`
	DecodeMessage string     `json:"decodeMessage,omitempty"`
}

// RepoView resolves a directory listing, plus the rendered readme when the
// root is requested. An empty branch means the session's current branch.
func (s *Service) RepoView(ctx context.Context, sess Session, repoName, branch, dirPath string) (RepoPage, error) {
	state, err := s.cache.GetOrCreate(ctx, s.repoSession(sess), sess.User, repoName)
	if err != nil {
		return RepoPage{}, err
	}
	if err := s.authorize(sess, authz.ActionBrowse, state); err != nil {
		return RepoPage{}, err
	}
	if branch == "" {
		branch = state.CurrentBranch
	}

	content, err := repocache.ResolveContent(ctx, state, dirPath, branch)
	if err != nil {
		return RepoPage{}, err
	}

	page := RepoPage{
		Repo:     repoName,
		Branch:   branch,
		Branches: state.Branches,
		Path:     dirPath,
		Private:  state.Private,
		HTMLURL:  fmt.Sprintf("%s/tree/%s/%s", state.HTMLURL, branch, dirPath),
	}

	if content.Kind == repocache.KindDir {
		page.Entries = make([]DirEntry, 0, len(content.Entries))
		for _, entry := range content.Entries {
			page.Entries = append(page.Entries, DirEntry{
				Name: entry.Name,
				Path: entry.Path,
				Kind: entry.Kind,
				Icon: fileIcon(entry.Name),
			})
		}
	} else if content.File != nil {
		// A file path on the repo view renders as a single-entry listing.
		page.Entries = []DirEntry{{
			Name: content.File.Name,
			Path: content.File.Path,
			Kind: "file",
			Icon: fileIcon(content.File.Name),
		}}
	}

	if commit, err := state.Handle.LastCommit(ctx, branch, ""); err == nil && commit != nil {
		page.LastUpdate = &commit.When
	}

	if dirPath == "" {
		s.attachReadme(ctx, state, branch, &page)
	}
	return page, nil
}

// attachReadme finds and renders the root readme: readme.md wins over
// index.md, matched case-insensitively.
func (s *Service) attachReadme(ctx context.Context, state *repocache.RepoState, branch string, page *RepoPage) {
	readme := ""
	for _, entry := range page.Entries {
		if entry.Kind != "file" {
			continue
		}
		lower := strings.ToLower(entry.Name)
		if lower != "readme.md" && lower != "index.md" {
			continue
		}
		// readme.md wins over index.md when both exist.
		if readme == "" || lower > strings.ToLower(readme) {
			readme = entry.Name
		}
	}
	if readme == "" {
		return
	}

	content, err := repocache.ResolveContent(ctx, state, readme, branch)
	if err != nil || content.File == nil {
		return
	}
	page.ReadmeFile = readme
	if content.Kind == repocache.KindDecodeError {
		page.DecodeError = true
		page.DecodeMessage = content.File.Text
		return
	}
	html, toc, err := s.render([]byte(content.File.Text))
	if err != nil {
		return
	}
	page.ReadmeHTML = html
	page.ReadmeTOC = toc
}

type FilePage struct {
	Repo        string     `json:"repo"`
	Branch      string     `json:"branch"`
	Branches    []string   `json:"branches"`
	Path        string     `json:"path"`
	Private     bool       `json:"private"`
	Published   bool       `json:"published"`
	Content     string     `json:"content"`
	HTML        string     `json:"html,omitempty"`
	TOC         string     `json:"toc,omitempty"`
	SHA         string     `json:"sha,omitempty"`
	HTMLURL     string     `json:"htmlUrl"`
	LastUpdate  *time.Time `json:"lastUpdate,omitempty"`
	DecodeError bool       `json:"decodeError,omitempty"`
}

// FileView resolves and renders a single file.
func (s *Service) FileView(ctx context.Context, sess Session, repoName, branch, filePath string) (FilePage, error) {
	state, err := s.cache.GetOrCreate(ctx, s.repoSession(sess), sess.User, repoName)
	if err != nil {
		return FilePage{}, err
	}
	if err := s.authorize(sess, authz.ActionBrowse, state); err != nil {
		return FilePage{}, err
	}
	if branch == "" {
		branch = state.CurrentBranch
	}

	content, err := repocache.ResolveContent(ctx, state, filePath, branch)
	if err != nil {
		return FilePage{}, err
	}
	if content.Kind == repocache.KindDir {
		return FilePage{}, &repocache.NotFoundError{User: state.Owner, Repo: repoName, Branch: branch, Path: filePath}
	}

	page := FilePage{
		Repo:     repoName,
		Branch:   branch,
		Branches: state.Branches,
		Path:     filePath,
		Private:  state.Private,
		Content:  content.File.Text,
		SHA:      content.File.SHA,
		HTMLURL:  content.File.HTMLURL,
	}
	if content.Kind == repocache.KindDecodeError {
		page.DecodeError = true
		page.HTMLURL = fmt.Sprintf("%s/blob/%s/%s", state.HTMLURL, branch, filePath)
	} else {
		html, toc, err := s.render([]byte(content.File.Text))
		if err != nil {
			return FilePage{}, fmt.Errorf("render file: %w", err)
		}
		page.HTML = html
		page.TOC = toc
	}

	if commit, err := state.Handle.LastCommit(ctx, branch, filePath); err == nil && commit != nil {
		page.LastUpdate = &commit.When
	}
	if state.Private {
		snapshot, err := s.store.LookupPublished(ctx, state.Owner, repoName, branch, filePath)
		if err != nil {
			return FilePage{}, err
		}
		page.Published = snapshot != nil
	}
	return page, nil
}

// SwitchBranch changes the session's current branch for the repository.
func (s *Service) SwitchBranch(ctx context.Context, sess Session, repoName, branch string) error {
	repoSess := s.repoSession(sess)
	if _, err := s.cache.GetOrCreate(ctx, repoSess, sess.User, repoName); err != nil {
		return err
	}
	if err := repoSess.SetBranch(repoName, branch); err != nil {
		if errors.Is(err, repocache.ErrUnknownBranch) {
			return domainError(http.StatusUnprocessableEntity, "UNKNOWN_BRANCH",
				fmt.Sprintf("Branch %q does not exist in this repository", branch), nil)
		}
		return err
	}
	return nil
}

type CommitResult struct {
	Message   string `json:"message"`
	CommitSHA string `json:"commitSha"`
	CommitURL string `json:"commitUrl"`
	Branch    string `json:"branch"`
}

// CreateFile commits a new file on the session's current branch.
func (s *Service) CreateFile(ctx context.Context, sess Session, repoName, filePath, content string) (CommitResult, error) {
	state, err := s.cache.GetOrCreate(ctx, s.repoSession(sess), sess.User, repoName)
	if err != nil {
		return CommitResult{}, err
	}
	if err := s.authorize(sess, authz.ActionWrite, state); err != nil {
		return CommitResult{}, err
	}

	commit, err := state.Handle.CreateFile(ctx, filePath, []byte(content),
		fmt.Sprintf("Create %s", filePath), state.CurrentBranch)
	if err != nil {
		return CommitResult{}, mapUpstreamErr(err, state, filePath)
	}
	return CommitResult{
		Message:   fmt.Sprintf("File %s was created successfully in commit %s", filePath, commit.ShortSHA),
		CommitSHA: commit.ShortSHA,
		CommitURL: commit.URL,
		Branch:    state.CurrentBranch,
	}, nil
}

// UpdateFile replaces a file's content on the session's current branch. When
// republish is set and the file has a snapshot-worthy home, the new content
// is re-published in the same request.
func (s *Service) UpdateFile(ctx context.Context, sess Session, repoName, filePath, content string, republish bool) (CommitResult, error) {
	state, err := s.cache.GetOrCreate(ctx, s.repoSession(sess), sess.User, repoName)
	if err != nil {
		return CommitResult{}, err
	}
	if err := s.authorize(sess, authz.ActionWrite, state); err != nil {
		return CommitResult{}, err
	}
	branch := state.CurrentBranch

	current, err := repocache.ResolveContent(ctx, state, filePath, branch)
	if err != nil {
		return CommitResult{}, err
	}
	if current.File == nil {
		return CommitResult{}, &repocache.NotFoundError{User: state.Owner, Repo: repoName, Branch: branch, Path: filePath}
	}

	commit, err := state.Handle.UpdateFile(ctx, filePath, []byte(content),
		fmt.Sprintf("Update %s", filePath), branch, current.File.SHA)
	if err != nil {
		return CommitResult{}, mapUpstreamErr(err, state, filePath)
	}

	if republish {
		ident := authz.Identity{Username: sess.User.Username, PrivateRepos: sess.User.PrivateRepos}
		if authz.Can(ident, authz.ActionPublish, state.Private) {
			if _, err := s.publishContent(ctx, sess, state, branch, filePath, content); err != nil {
				return CommitResult{}, err
			}
		}
	}
	return CommitResult{
		Message:   fmt.Sprintf("File %s was updated successfully in commit %s", filePath, commit.ShortSHA),
		CommitSHA: commit.ShortSHA,
		CommitURL: commit.URL,
		Branch:    branch,
	}, nil
}

// DeleteFile removes a file from the session's current branch.
func (s *Service) DeleteFile(ctx context.Context, sess Session, repoName, filePath string) (CommitResult, error) {
	state, err := s.cache.GetOrCreate(ctx, s.repoSession(sess), sess.User, repoName)
	if err != nil {
		return CommitResult{}, err
	}
	if err := s.authorize(sess, authz.ActionWrite, state); err != nil {
		return CommitResult{}, err
	}
	branch := state.CurrentBranch

	current, err := repocache.ResolveContent(ctx, state, filePath, branch)
	if err != nil {
		return CommitResult{}, err
	}
	if current.File == nil {
		return CommitResult{}, &repocache.NotFoundError{User: state.Owner, Repo: repoName, Branch: branch, Path: filePath}
	}

	commit, err := state.Handle.DeleteFile(ctx, filePath,
		fmt.Sprintf("Delete %s", filePath), branch, current.File.SHA)
	if err != nil {
		return CommitResult{}, mapUpstreamErr(err, state, filePath)
	}
	return CommitResult{
		Message:   fmt.Sprintf("File %s was deleted successfully in commit %s", filePath, commit.ShortSHA),
		CommitSHA: commit.ShortSHA,
		CommitURL: commit.URL,
		Branch:    branch,
	}, nil
}

type PublishResult struct {
	Message     string    `json:"message"`
	ShareURL    string    `json:"shareUrl"`
	PublishedAt time.Time `json:"publishedAt"`
}

// PublishFile renders the file at (branch, path) and persists the snapshot
// for anonymous sharing.
func (s *Service) PublishFile(ctx context.Context, sess Session, repoName, branch, filePath string) (PublishResult, error) {
	state, err := s.cache.GetOrCreate(ctx, s.repoSession(sess), sess.User, repoName)
	if err != nil {
		return PublishResult{}, err
	}
	if err := s.authorize(sess, authz.ActionPublish, state); err != nil {
		return PublishResult{}, err
	}
	if branch == "" {
		branch = state.CurrentBranch
	}

	content, err := repocache.ResolveContent(ctx, state, filePath, branch)
	if err != nil {
		return PublishResult{}, err
	}
	if content.File == nil || content.Kind == repocache.KindDecodeError {
		return PublishResult{}, domainError(http.StatusUnprocessableEntity, "UNPUBLISHABLE",
			fmt.Sprintf("File %s cannot be published", filePath), nil)
	}

	snapshot, err := s.publishContent(ctx, sess, state, branch, filePath, content.File.Text)
	if err != nil {
		return PublishResult{}, err
	}
	return PublishResult{
		Message:     fmt.Sprintf("File %s was successfully published", filePath),
		ShareURL:    fmt.Sprintf("/share/%s/%s/%s/%s", state.Owner, repoName, branch, filePath),
		PublishedAt: snapshot.PublishedAt,
	}, nil
}

func (s *Service) publishContent(ctx context.Context, sess Session, state *repocache.RepoState, branch, filePath, raw string) (store.PublishedFile, error) {
	html, toc, err := s.render([]byte(raw))
	if err != nil {
		return store.PublishedFile{}, fmt.Errorf("render for publish: %w", err)
	}
	return s.store.UpsertPublished(ctx, store.PublishedFile{
		UserName: state.Owner,
		Repo:     state.Name,
		Branch:   branch,
		Path:     filePath,
		Content:  html,
		TOC:      toc,
		OwnerID:  sess.User.ID,
	})
}

// UnpublishFile deletes the snapshot; a missing snapshot is reported, not
// raised.
func (s *Service) UnpublishFile(ctx context.Context, sess Session, repoName, branch, filePath string) (bool, error) {
	state, err := s.cache.GetOrCreate(ctx, s.repoSession(sess), sess.User, repoName)
	if err != nil {
		return false, err
	}
	if err := s.authorize(sess, authz.ActionUnpublish, state); err != nil {
		return false, err
	}
	if branch == "" {
		branch = state.CurrentBranch
	}
	return s.store.DeletePublished(ctx, state.Owner, repoName, branch, filePath)
}

// ListPublished returns the caller's published snapshots.
func (s *Service) ListPublished(ctx context.Context, sess Session) ([]store.PublishedFile, error) {
	return s.store.ListPublishedByOwner(ctx, sess.User.ID)
}

func (s *Service) authorize(sess Session, action authz.Action, state *repocache.RepoState) error {
	ident := authz.Identity{Username: sess.User.Username, PrivateRepos: sess.User.PrivateRepos}
	if !authz.Can(ident, action, state.Private) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return nil
}

func mapUpstreamErr(err error, state *repocache.RepoState, filePath string) error {
	if errors.Is(err, upstream.ErrNotFound) {
		return &repocache.NotFoundError{User: state.Owner, Repo: state.Name, Branch: state.CurrentBranch, Path: filePath}
	}
	return err
}
