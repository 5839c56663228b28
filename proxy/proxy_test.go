package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newProxy(t *testing.T, upstream string) *Proxy {
	t.Helper()
	p, err := New(upstream, "/api/github", "acme", "proc-token")
	if err != nil {
		t.Fatalf("new proxy: %v", err)
	}
	return p
}

func TestRelayMirrorsUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orgs/acme/repos" {
			t.Errorf("unexpected upstream path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-RateLimit-Remaining", "42")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[{"name": "widgets"}]`))
	}))
	defer upstream.Close()

	p := newProxy(t, upstream.URL)
	rec := httptest.NewRecorder()
	p.HandleRepos(rec, httptest.NewRequest(http.MethodGet, "/api/github/repos", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type %q", ct)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "42" {
		t.Fatalf("expected upstream headers mirrored, got %q", got)
	}
	if body := rec.Body.String(); body != `[{"name": "widgets"}]` {
		t.Fatalf("body %q", body)
	}
}

func TestRelayPassesThroughUpstreamErrors(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message": "Not Found"}`))
	}))
	defer upstream.Close()

	p := newProxy(t, upstream.URL)
	rec := httptest.NewRecorder()
	p.HandleRepos(rec, httptest.NewRequest(http.MethodGet, "/api/github/repos", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
	if body := rec.Body.String(); body != `{"message": "Not Found"}` {
		t.Fatalf("upstream body must pass through unchanged, got %q", body)
	}
}

func TestRelayForwardsMethodAndBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method %q", r.Method)
		}
		if r.URL.Path != "/repos/acme/widgets/issues" {
			t.Errorf("path %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"title": "bug"}` {
			t.Errorf("body %q", body)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer upstream.Close()

	p := newProxy(t, upstream.URL)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/github/repos/acme/widgets/issues", strings.NewReader(`{"title": "bug"}`))
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestRelayAuthAndAPIKeyHandling(t *testing.T) {
	var gotAuth, gotKey string
	var gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get(apiKeyHeader)
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p := newProxy(t, upstream.URL)

	// Key in the query string: moved to the header, removed from the URL,
	// other query params kept.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/github/user?key=client-key&per_page=5", nil)
	req.Header.Set("Authorization", "Bearer client-token")
	p.ServeHTTP(rec, req)

	if gotAuth != "Bearer proc-token" {
		t.Fatalf("client credentials must never reach the upstream, got %q", gotAuth)
	}
	if gotKey != "client-key" {
		t.Fatalf("api key header %q", gotKey)
	}
	if gotQuery != "per_page=5" {
		t.Fatalf("query %q", gotQuery)
	}

	// Key already in the header.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/github/user", nil)
	req.Header.Set(apiKeyHeader, "header-key")
	p.ServeHTTP(rec, req)

	if gotKey != "header-key" {
		t.Fatalf("api key header %q", gotKey)
	}
}

func TestRelayStripsHopByHopHeaders(t *testing.T) {
	var gotConnection, gotKeepAlive string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotConnection = r.Header.Get("Connection")
		gotKeepAlive = r.Header.Get("Keep-Alive")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p := newProxy(t, upstream.URL)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/github/user", nil)
	req.Header.Set("Keep-Alive", "timeout=5")
	p.ServeHTTP(rec, req)

	if gotConnection != "" || gotKeepAlive != "" {
		t.Fatalf("hop-by-hop headers must not be forwarded: Connection=%q Keep-Alive=%q", gotConnection, gotKeepAlive)
	}
}

func TestUnreachableUpstreamIs502(t *testing.T) {
	p := newProxy(t, "http://127.0.0.1:1")
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/github/user", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"] != "bad_gateway" || body["message"] == "" {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestNewRejectsRelativeUpstream(t *testing.T) {
	if _, err := New("not a url", "/api/github", "acme", ""); err == nil {
		t.Fatalf("expected error for relative upstream")
	}
}
