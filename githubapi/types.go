package githubapi

// Projections of GitHub REST responses. Only the fields the gateway's tools
// surface are kept; everything else is dropped at decode time.

// RepoSummary is the listing projection of a repository.
type RepoSummary struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	Language      string `json:"language"`
	UpdatedAt     string `json:"updated_at"`
	HTMLURL       string `json:"html_url"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
}

// RepoDetail extends the summary with counters for single-repo fetches.
type RepoDetail struct {
	RepoSummary
	Stars      int      `json:"stargazers_count"`
	Forks      int      `json:"forks_count"`
	OpenIssues int      `json:"open_issues_count"`
	Topics     []string `json:"topics,omitempty"`
}

// DirEntry is one entry of a directory listing.
type DirEntry struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Type    string `json:"type"`
	Size    int    `json:"size"`
	HTMLURL string `json:"html_url"`
}

// FileContent is a single file with its content already decoded.
type FileContent struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	SHA     string `json:"sha"`
	Size    int    `json:"size"`
	Content string `json:"content"`
	HTMLURL string `json:"html_url"`
}

// Branch is a branch head.
type Branch struct {
	Name      string `json:"name"`
	CommitSHA string `json:"commit_sha"`
	Protected bool   `json:"protected"`
}

// Issue is an issue or, on the issues listing, possibly a pull request.
type Issue struct {
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	State     string   `json:"state"`
	Author    string   `json:"author"`
	Labels    []string `json:"labels,omitempty"`
	Comments  int      `json:"comments"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
	HTMLURL   string   `json:"html_url"`
}

// PullRequest is a pull request summary.
type PullRequest struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	State     string `json:"state"`
	Author    string `json:"author"`
	Draft     bool   `json:"draft"`
	HeadRef   string `json:"head_ref"`
	BaseRef   string `json:"base_ref"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	HTMLURL   string `json:"html_url"`
}

// Commit is one commit on a branch listing.
type Commit struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
	Author  string `json:"author"`
	Date    string `json:"date"`
	HTMLURL string `json:"html_url"`
}

// CodeMatch is one hit of a code search.
type CodeMatch struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	SHA        string `json:"sha,omitempty"`
	Repository string `json:"repository"`
	HTMLURL    string `json:"html_url"`
}

// CodeSearchResult is the projection of a code search response.
type CodeSearchResult struct {
	TotalCount int         `json:"total_count"`
	Matches    []CodeMatch `json:"matches"`
}
