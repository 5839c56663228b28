package githubapi

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "acme", "test-token", WithHTTPClient(srv.Client()))
}

func TestListOrgReposProjectsFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orgs/acme/repos" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("missing bearer credential, got %q", got)
		}
		if got := r.Header.Get("Accept"); !strings.Contains(got, "application/vnd.github") {
			t.Errorf("unexpected accept header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{
			"name": "widget",
			"description": "makes widgets",
			"language": "Go",
			"updated_at": "2026-01-02T03:04:05Z",
			"html_url": "https://github.com/acme/widget",
			"default_branch": "main",
			"private": true,
			"stargazers_count": 42,
			"watchers_count": 41
		}]`))
	})

	repos, err := c.ListOrgRepos(context.Background())
	if err != nil {
		t.Fatalf("list repos: %v", err)
	}
	if len(repos) != 1 {
		t.Fatalf("expected 1 repo, got %d", len(repos))
	}
	got := repos[0]
	want := RepoSummary{
		Name:          "widget",
		Description:   "makes widgets",
		Language:      "Go",
		UpdatedAt:     "2026-01-02T03:04:05Z",
		HTMLURL:       "https://github.com/acme/widget",
		DefaultBranch: "main",
		Private:       true,
	}
	if got != want {
		t.Fatalf("unexpected projection\n got %+v\nwant %+v", got, want)
	}
}

func TestGetFileContentDecodesBase64(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("package main\n"))
	// Split the way GitHub does, with embedded newlines.
	wrapped := payload[:8] + "\n" + payload[8:]

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/widget/contents/main.go" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("ref"); got != "dev" {
			t.Errorf("expected ref=dev, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"type": "file",
			"name": "main.go",
			"path": "main.go",
			"sha": "abc123",
			"size": 13,
			"encoding": "base64",
			"content": ` + jsonString(wrapped) + `,
			"html_url": "https://github.com/acme/widget/blob/dev/main.go"
		}`))
	})

	f, err := c.GetFileContent(context.Background(), "widget", "main.go", "dev")
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if f.Content != "package main\n" {
		t.Fatalf("unexpected decoded content %q", f.Content)
	}
	if f.SHA != "abc123" {
		t.Fatalf("unexpected sha %q", f.SHA)
	}
}

func TestGetFileContentRejectsDirectories(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"type": "dir", "name": "src", "path": "src"}`))
	})

	if _, err := c.GetFileContent(context.Background(), "widget", "src", ""); err == nil {
		t.Fatalf("expected error for non-file content")
	}
}

func TestListIssuesSkipsPullRequests(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("state"); got != "closed" {
			t.Errorf("expected state=closed, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"number": 1, "title": "real issue", "state": "closed", "user": {"login": "ada"}, "labels": [{"name": "bug"}]},
			{"number": 2, "title": "sneaky pr", "state": "closed", "user": {"login": "bob"}, "pull_request": {"url": "x"}}
		]`))
	})

	issues, err := c.ListIssues(context.Background(), "widget", "closed")
	if err != nil {
		t.Fatalf("list issues: %v", err)
	}
	if len(issues) != 1 || issues[0].Number != 1 {
		t.Fatalf("expected only the real issue, got %+v", issues)
	}
	if issues[0].Labels[0] != "bug" {
		t.Fatalf("expected label projection, got %+v", issues[0].Labels)
	}
}

func TestNonSuccessStatusReturnsAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message": "Not Found"}`))
	})

	_, err := c.GetRepo(context.Background(), "ghost")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsNotFound(err) {
		t.Fatalf("expected 404 to be detectable, got %v", err)
	}
}

func TestSearchCodeScopesToOrg(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "Flush org:acme" {
			t.Errorf("unexpected query %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"total_count": 1, "items": [{"name": "f.go", "path": "pkg/f.go", "sha": "abc123", "repository": {"full_name": "acme/widget"}}]}`))
	})

	res, err := c.SearchCode(context.Background(), "Flush")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.TotalCount != 1 || res.Matches[0].Repository != "acme/widget" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func jsonString(s string) string {
	out := `"`
	for _, r := range s {
		if r == '\n' {
			out += `\n`
			continue
		}
		out += string(r)
	}
	return out + `"`
}
