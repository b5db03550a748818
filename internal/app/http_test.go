package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(t *testing.T, fs *fakeStore, port upstreamPort, raw rawFetcher) *HTTPServer {
	t.Helper()
	svc, _ := newTestService(t, fs, port, raw)
	return NewHTTPServer(svc, "*")
}

func doRequest(t *testing.T, server *HTTPServer, method, path, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func loginOverHTTP(t *testing.T, server *HTTPServer) string {
	t.Helper()
	rr := doRequest(t, server, http.MethodPost, "/api/session/login", "",
		`{"username":"alice","token":"gh-token"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login failed with status %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatal("expected a token in the login response")
	}
	return token
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, newFakeStore(), &fakePort{conn: &fakeConn{}}, &fakeRaw{})

	rr := doRequest(t, server, http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if payload := decodeResponse(t, rr); payload["ok"] != true {
		t.Errorf("expected ok=true, got %v", payload["ok"])
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin=*, got %v", origin)
	}
}

func TestOptionsRequest(t *testing.T) {
	server := newTestServer(t, newFakeStore(), &fakePort{conn: &fakeConn{}}, &fakeRaw{})

	rr := doRequest(t, server, http.MethodOptions, "/api/repos", "", "")
	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204 for OPTIONS, got %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("expected an empty body for 204, got %q", rr.Body.String())
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin=*, got %v", origin)
	}
}

func TestApiRequiresSession(t *testing.T) {
	server := newTestServer(t, newFakeStore(), &fakePort{conn: &fakeConn{}}, &fakeRaw{})

	rr := doRequest(t, server, http.MethodGet, "/api/repos", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}

	rr = doRequest(t, server, http.MethodGet, "/api/repos", "not-a-token", "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 for a bogus token, got %d", rr.Code)
	}
}

func TestSessionEndpointReportsState(t *testing.T) {
	server := newTestServer(t, newFakeStore(), &fakePort{conn: &fakeConn{}}, &fakeRaw{})

	rr := doRequest(t, server, http.MethodGet, "/api/session", "", "")
	if payload := decodeResponse(t, rr); payload["authenticated"] != false {
		t.Errorf("expected authenticated=false, got %v", payload["authenticated"])
	}

	token := loginOverHTTP(t, server)
	rr = doRequest(t, server, http.MethodGet, "/api/session", token, "")
	payload := decodeResponse(t, rr)
	if payload["authenticated"] != true || payload["userName"] != "alice" {
		t.Errorf("unexpected session payload %v", payload)
	}

	rr = doRequest(t, server, http.MethodPost, "/api/session/logout", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("logout failed with status %d", rr.Code)
	}
	rr = doRequest(t, server, http.MethodGet, "/api/session", token, "")
	if payload := decodeResponse(t, rr); payload["authenticated"] != false {
		t.Errorf("expected authenticated=false after logout, got %v", payload["authenticated"])
	}
}

func TestRepoAndFileRoutes(t *testing.T) {
	conn := &fakeConn{handles: map[string]*fakeHandle{"notes": markdownHandle(false)}}
	server := newTestServer(t, newFakeStore(), &fakePort{conn: conn}, &fakeRaw{})
	token := loginOverHTTP(t, server)

	rr := doRequest(t, server, http.MethodGet, "/api/repo/notes", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("repo view failed with status %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["branch"] != "main" {
		t.Errorf("expected branch main, got %v", payload["branch"])
	}

	rr = doRequest(t, server, http.MethodGet, "/api/file/notes/guide.md", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("file view failed with status %d: %s", rr.Code, rr.Body.String())
	}
	payload = decodeResponse(t, rr)
	if html, _ := payload["html"].(string); !strings.Contains(html, "Guide") {
		t.Errorf("expected rendered html, got %v", payload["html"])
	}

	rr = doRequest(t, server, http.MethodGet, "/api/file/notes/missing.md", token, "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
	payload = decodeResponse(t, rr)
	want := "The 'alice/notes' repository doesn't contain the 'missing.md' path in 'main'."
	if payload["error"] != want {
		t.Errorf("unexpected error message %v", payload["error"])
	}
}

func TestBranchSwitchRoute(t *testing.T) {
	handle := markdownHandle(false)
	handle.contents["@draft"] = handle.contents["@main"]
	conn := &fakeConn{handles: map[string]*fakeHandle{"notes": handle}}
	server := newTestServer(t, newFakeStore(), &fakePort{conn: conn}, &fakeRaw{})
	token := loginOverHTTP(t, server)

	rr := doRequest(t, server, http.MethodPost, "/api/repo/notes/branch", token, `{"branch":"draft"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("branch switch failed with status %d: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, server, http.MethodPost, "/api/repo/notes/branch", token, `{"branch":"nope"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected status 422 for an unknown branch, got %d", rr.Code)
	}

	rr = doRequest(t, server, http.MethodPost, "/api/repo/notes/branch", token, `{"branch":""}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected status 422 for a blank branch, got %d", rr.Code)
	}
}

func TestShareRouteIsPublic(t *testing.T) {
	raw := &fakeRaw{files: map[string][]byte{
		"https://raw.example.com/alice/notes/main/guide.md": []byte("# Guide\n"),
	}}
	server := newTestServer(t, newFakeStore(), &fakePort{conn: &fakeConn{}}, raw)

	rr := doRequest(t, server, http.MethodGet, "/share/alice/notes/main/guide.md", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("share failed with status %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if html, _ := payload["html"].(string); !strings.Contains(html, "Guide") {
		t.Errorf("expected rendered html, got %v", payload["html"])
	}

	rr = doRequest(t, server, http.MethodGet, "/share/alice/notes", "", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404 for a short share path, got %d", rr.Code)
	}
}

func TestPublishRoutesRequireGrant(t *testing.T) {
	fs := newFakeStore()
	conn := &fakeConn{handles: map[string]*fakeHandle{"notes": markdownHandle(true)}}
	server := newTestServer(t, fs, &fakePort{conn: conn}, &fakeRaw{})
	token := loginOverHTTP(t, server)

	rr := doRequest(t, server, http.MethodPost, "/api/publish/notes/guide.md", token, "")
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected status 403 without the private-repo grant, got %d", rr.Code)
	}
}

func TestPublishAndShareOverHTTP(t *testing.T) {
	fs := newFakeStore()
	fs.grantPrivate = true
	conn := &fakeConn{handles: map[string]*fakeHandle{"notes": markdownHandle(true)}}
	server := newTestServer(t, fs, &fakePort{conn: conn}, &fakeRaw{})
	token := loginOverHTTP(t, server)

	rr := doRequest(t, server, http.MethodPost, "/api/publish/notes/guide.md", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("publish failed with status %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	shareURL, _ := payload["shareUrl"].(string)
	if shareURL != "/share/alice/notes/main/guide.md" {
		t.Fatalf("unexpected share url %q", shareURL)
	}

	// The share page must work without any session.
	rr = doRequest(t, server, http.MethodGet, shareURL, "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("share failed with status %d: %s", rr.Code, rr.Body.String())
	}
	payload = decodeResponse(t, rr)
	if html, _ := payload["html"].(string); !strings.Contains(html, "Guide") {
		t.Errorf("expected the published html, got %v", payload["html"])
	}
	if payload["private"] != true {
		t.Errorf("expected private=true for a snapshot share, got %v", payload["private"])
	}

	rr = doRequest(t, server, http.MethodDelete, "/api/publish/notes/guide.md", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("unpublish failed with status %d", rr.Code)
	}
	if payload := decodeResponse(t, rr); payload["ok"] != true {
		t.Errorf("expected ok=true, got %v", payload["ok"])
	}
}
