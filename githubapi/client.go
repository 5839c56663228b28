// Package githubapi wraps the slice of GitHub's REST API the gateway
// exposes as tools. Each call is a single upstream request followed by a
// field projection; failures surface as typed errors the tool layer turns
// into tool-level error results.
package githubapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v79/github"
)

// DefaultBaseURL is GitHub's public REST endpoint.
const DefaultBaseURL = "https://api.github.com"

// APIError is a non-success response from GitHub.
type APIError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: %s returned %d: %s", e.URL, e.StatusCode, e.Message)
}

// IsNotFound reports whether the error is a 404 from GitHub.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client issues authenticated requests against one organization.
type Client struct {
	rest *gogithub.Client
	org  string
}

type options struct {
	httpc *http.Client
}

// Option configures a Client.
type Option func(*options)

// WithHTTPClient overrides the underlying HTTP client (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpc = c }
}

// New constructs a Client. The token is the process-wide credential; it is
// never sourced from an inbound request.
func New(baseURL, org, token string, opts ...Option) *Client {
	o := options{
		httpc: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				ForceAttemptHTTP2:   true,
				MaxIdleConns:        32,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	rest := gogithub.NewClient(o.httpc)
	if token != "" {
		rest = rest.WithAuthToken(token)
	}
	if baseURL != "" && baseURL != DefaultBaseURL {
		// go-github requires the trailing slash.
		if u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/"); err == nil {
			rest.BaseURL = u
		}
	}
	return &Client{rest: rest, org: org}
}

// Org returns the organization the client is bound to.
func (c *Client) Org() string { return c.org }

// wrapErr maps go-github's typed non-success error onto APIError so callers
// can branch on status without importing the SDK.
func wrapErr(err error) error {
	var er *gogithub.ErrorResponse
	if errors.As(err, &er) {
		apiErr := &APIError{Message: er.Message}
		if er.Response != nil {
			apiErr.StatusCode = er.Response.StatusCode
			if er.Response.Request != nil && er.Response.Request.URL != nil {
				apiErr.URL = er.Response.Request.URL.String()
			}
		}
		return apiErr
	}
	return fmt.Errorf("github request failed: %w", err)
}

func fmtTime(ts gogithub.Timestamp) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}

func summarize(r *gogithub.Repository) RepoSummary {
	return RepoSummary{
		Name:          r.GetName(),
		Description:   r.GetDescription(),
		Language:      r.GetLanguage(),
		UpdatedAt:     fmtTime(r.GetUpdatedAt()),
		HTMLURL:       r.GetHTMLURL(),
		DefaultBranch: r.GetDefaultBranch(),
		Private:       r.GetPrivate(),
	}
}

// ListOrgRepos lists the organization's repositories, most recently updated
// first.
func (c *Client) ListOrgRepos(ctx context.Context) ([]RepoSummary, error) {
	opts := &gogithub.RepositoryListByOrgOptions{
		Sort:        "updated",
		ListOptions: gogithub.ListOptions{PerPage: 100},
	}
	list, _, err := c.rest.Repositories.ListByOrg(ctx, c.org, opts)
	if err != nil {
		return nil, wrapErr(err)
	}
	repos := make([]RepoSummary, 0, len(list))
	for _, r := range list {
		repos = append(repos, summarize(r))
	}
	return repos, nil
}

// GetRepo fetches a single repository's metadata.
func (c *Client) GetRepo(ctx context.Context, repo string) (*RepoDetail, error) {
	r, _, err := c.rest.Repositories.Get(ctx, c.org, repo)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &RepoDetail{
		RepoSummary: summarize(r),
		Stars:       r.GetStargazersCount(),
		Forks:       r.GetForksCount(),
		OpenIssues:  r.GetOpenIssuesCount(),
		Topics:      r.Topics,
	}, nil
}

func dirEntry(rc *gogithub.RepositoryContent) DirEntry {
	return DirEntry{
		Name:    rc.GetName(),
		Path:    rc.GetPath(),
		Type:    rc.GetType(),
		Size:    rc.GetSize(),
		HTMLURL: rc.GetHTMLURL(),
	}
}

// ListContents lists a directory's entries. Pointing it at a file yields a
// single-entry listing.
func (c *Client) ListContents(ctx context.Context, repo, path, ref string) ([]DirEntry, error) {
	opts := &gogithub.RepositoryContentGetOptions{Ref: ref}
	file, dir, _, err := c.rest.Repositories.GetContents(ctx, c.org, repo, path, opts)
	if err != nil {
		return nil, wrapErr(err)
	}
	if file != nil {
		return []DirEntry{dirEntry(file)}, nil
	}
	entries := make([]DirEntry, 0, len(dir))
	for _, rc := range dir {
		entries = append(entries, dirEntry(rc))
	}
	return entries, nil
}

// GetFileContent fetches one file and decodes its base64 payload.
func (c *Client) GetFileContent(ctx context.Context, repo, path, ref string) (*FileContent, error) {
	opts := &gogithub.RepositoryContentGetOptions{Ref: ref}
	file, _, _, err := c.rest.Repositories.GetContents(ctx, c.org, repo, path, opts)
	if err != nil {
		return nil, wrapErr(err)
	}
	if file == nil {
		return nil, fmt.Errorf("%s is not a file", path)
	}
	if t := file.GetType(); t != "file" {
		return nil, fmt.Errorf("%s is not a file (type %q)", path, t)
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode file content: %w", err)
	}

	return &FileContent{
		Name:    file.GetName(),
		Path:    file.GetPath(),
		SHA:     file.GetSHA(),
		Size:    file.GetSize(),
		Content: content,
		HTMLURL: file.GetHTMLURL(),
	}, nil
}

// ListBranches lists a repository's branches.
func (c *Client) ListBranches(ctx context.Context, repo string) ([]Branch, error) {
	opts := &gogithub.BranchListOptions{ListOptions: gogithub.ListOptions{PerPage: 100}}
	list, _, err := c.rest.Repositories.ListBranches(ctx, c.org, repo, opts)
	if err != nil {
		return nil, wrapErr(err)
	}
	branches := make([]Branch, 0, len(list))
	for _, b := range list {
		branches = append(branches, Branch{
			Name:      b.GetName(),
			CommitSHA: b.GetCommit().GetSHA(),
			Protected: b.GetProtected(),
		})
	}
	return branches, nil
}

// ListIssues lists a repository's issues filtered by state ("open",
// "closed", or "all"). Pull requests, which GitHub mixes into the issues
// listing, are skipped.
func (c *Client) ListIssues(ctx context.Context, repo, state string) ([]Issue, error) {
	if state == "" {
		state = "open"
	}
	opts := &gogithub.IssueListByRepoOptions{
		State:       state,
		ListOptions: gogithub.ListOptions{PerPage: 100},
	}
	list, _, err := c.rest.Issues.ListByRepo(ctx, c.org, repo, opts)
	if err != nil {
		return nil, wrapErr(err)
	}
	issues := make([]Issue, 0, len(list))
	for _, is := range list {
		if is.IsPullRequest() {
			continue
		}
		labels := make([]string, 0, len(is.Labels))
		for _, l := range is.Labels {
			labels = append(labels, l.GetName())
		}
		issues = append(issues, Issue{
			Number:    is.GetNumber(),
			Title:     is.GetTitle(),
			State:     is.GetState(),
			Author:    is.GetUser().GetLogin(),
			Labels:    labels,
			Comments:  is.GetComments(),
			CreatedAt: fmtTime(is.GetCreatedAt()),
			UpdatedAt: fmtTime(is.GetUpdatedAt()),
			HTMLURL:   is.GetHTMLURL(),
		})
	}
	return issues, nil
}

// ListPullRequests lists a repository's pull requests filtered by state.
func (c *Client) ListPullRequests(ctx context.Context, repo, state string) ([]PullRequest, error) {
	if state == "" {
		state = "open"
	}
	opts := &gogithub.PullRequestListOptions{
		State:       state,
		ListOptions: gogithub.ListOptions{PerPage: 100},
	}
	list, _, err := c.rest.PullRequests.List(ctx, c.org, repo, opts)
	if err != nil {
		return nil, wrapErr(err)
	}
	prs := make([]PullRequest, 0, len(list))
	for _, pr := range list {
		prs = append(prs, PullRequest{
			Number:    pr.GetNumber(),
			Title:     pr.GetTitle(),
			State:     pr.GetState(),
			Author:    pr.GetUser().GetLogin(),
			Draft:     pr.GetDraft(),
			HeadRef:   pr.GetHead().GetRef(),
			BaseRef:   pr.GetBase().GetRef(),
			CreatedAt: fmtTime(pr.GetCreatedAt()),
			UpdatedAt: fmtTime(pr.GetUpdatedAt()),
			HTMLURL:   pr.GetHTMLURL(),
		})
	}
	return prs, nil
}

// ListCommits lists a repository's recent commits, optionally scoped to a
// branch.
func (c *Client) ListCommits(ctx context.Context, repo, branch string) ([]Commit, error) {
	opts := &gogithub.CommitsListOptions{
		SHA:         branch,
		ListOptions: gogithub.ListOptions{PerPage: 30},
	}
	list, _, err := c.rest.Repositories.ListCommits(ctx, c.org, repo, opts)
	if err != nil {
		return nil, wrapErr(err)
	}
	commits := make([]Commit, 0, len(list))
	for _, rc := range list {
		commits = append(commits, Commit{
			SHA:     rc.GetSHA(),
			Message: rc.GetCommit().GetMessage(),
			Author:  rc.GetCommit().GetAuthor().GetName(),
			Date:    fmtTime(rc.GetCommit().GetAuthor().GetDate()),
			HTMLURL: rc.GetHTMLURL(),
		})
	}
	return commits, nil
}

// SearchCode searches code across the organization.
func (c *Client) SearchCode(ctx context.Context, query string) (*CodeSearchResult, error) {
	opts := &gogithub.SearchOptions{ListOptions: gogithub.ListOptions{PerPage: 30}}
	result, _, err := c.rest.Search.Code(ctx, query+" org:"+c.org, opts)
	if err != nil {
		return nil, wrapErr(err)
	}
	res := &CodeSearchResult{
		TotalCount: result.GetTotal(),
		Matches:    make([]CodeMatch, 0, len(result.CodeResults)),
	}
	for _, cr := range result.CodeResults {
		res.Matches = append(res.Matches, CodeMatch{
			Name:       cr.GetName(),
			Path:       cr.GetPath(),
			SHA:        cr.GetSHA(),
			Repository: cr.GetRepository().GetFullName(),
			HTMLURL:    cr.GetHTMLURL(),
		})
	}
	return res, nil
}
