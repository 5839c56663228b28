package toolset

import (
	"context"
	"log/slog"

	"github.com/gatewaykit/ghgateway/githubapi"
	"github.com/gatewaykit/ghgateway/internal/logctx"
	"github.com/gatewaykit/ghgateway/mcp"
)

type repoArgs struct {
	Repo string `json:"repo" jsonschema:"required,description=Repository name within the organization"`
}

type pathArgs struct {
	Repo string `json:"repo" jsonschema:"required,description=Repository name within the organization"`
	Path string `json:"path,omitempty" jsonschema:"description=Path within the repository; empty for the root"`
	Ref  string `json:"ref,omitempty" jsonschema:"description=Branch or commit to read from; defaults to the default branch"`
}

type stateArgs struct {
	Repo  string `json:"repo" jsonschema:"required,description=Repository name within the organization"`
	State string `json:"state,omitempty" jsonschema:"enum=open,enum=closed,enum=all,description=Filter by state; defaults to open"`
}

type commitsArgs struct {
	Repo   string `json:"repo" jsonschema:"required,description=Repository name within the organization"`
	Branch string `json:"branch,omitempty" jsonschema:"description=Branch to list commits from; defaults to the default branch"`
}

type searchArgs struct {
	Query string `json:"query" jsonschema:"required,description=Code search query; automatically scoped to the organization"`
}

// GitHubTools binds the GitHub upstream client into the gateway's toolset.
// Upstream failures become tool-level error results, never transport
// failures.
func GitHubTools(client *githubapi.Client, log *slog.Logger) []Tool {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	fail := func(ctx context.Context, name string, err error) *mcp.CallToolResult {
		log.WarnContext(logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: name}),
			"tool.upstream.fail", slog.String("err", err.Error()))
		return Errorf("github request failed: %v", err)
	}

	return []Tool{
		New("list_repos", "List the organization's repositories, most recently updated first.",
			func(ctx context.Context, _ struct{}) (*mcp.CallToolResult, error) {
				repos, err := client.ListOrgRepos(ctx)
				if err != nil {
					return fail(ctx, "list_repos", err), nil
				}
				return JSONResult(repos)
			}),

		New("get_repo", "Fetch one repository's metadata.",
			func(ctx context.Context, a repoArgs) (*mcp.CallToolResult, error) {
				repo, err := client.GetRepo(ctx, a.Repo)
				if err != nil {
					return fail(ctx, "get_repo", err), nil
				}
				return JSONResult(repo)
			}),

		New("list_directory", "List the entries of a directory in a repository.",
			func(ctx context.Context, a pathArgs) (*mcp.CallToolResult, error) {
				entries, err := client.ListContents(ctx, a.Repo, a.Path, a.Ref)
				if err != nil {
					return fail(ctx, "list_directory", err), nil
				}
				return JSONResult(entries)
			}),

		New("get_file", "Fetch one file's decoded content.",
			func(ctx context.Context, a pathArgs) (*mcp.CallToolResult, error) {
				file, err := client.GetFileContent(ctx, a.Repo, a.Path, a.Ref)
				if err != nil {
					return fail(ctx, "get_file", err), nil
				}
				return JSONResult(file)
			}),

		New("list_branches", "List a repository's branches.",
			func(ctx context.Context, a repoArgs) (*mcp.CallToolResult, error) {
				branches, err := client.ListBranches(ctx, a.Repo)
				if err != nil {
					return fail(ctx, "list_branches", err), nil
				}
				return JSONResult(branches)
			}),

		New("list_issues", "List a repository's issues filtered by state.",
			func(ctx context.Context, a stateArgs) (*mcp.CallToolResult, error) {
				issues, err := client.ListIssues(ctx, a.Repo, a.State)
				if err != nil {
					return fail(ctx, "list_issues", err), nil
				}
				return JSONResult(issues)
			}),

		New("list_pull_requests", "List a repository's pull requests filtered by state.",
			func(ctx context.Context, a stateArgs) (*mcp.CallToolResult, error) {
				prs, err := client.ListPullRequests(ctx, a.Repo, a.State)
				if err != nil {
					return fail(ctx, "list_pull_requests", err), nil
				}
				return JSONResult(prs)
			}),

		New("list_commits", "List a repository's recent commits, optionally from one branch.",
			func(ctx context.Context, a commitsArgs) (*mcp.CallToolResult, error) {
				commits, err := client.ListCommits(ctx, a.Repo, a.Branch)
				if err != nil {
					return fail(ctx, "list_commits", err), nil
				}
				return JSONResult(commits)
			}),

		New("search_code", "Search code across the organization.",
			func(ctx context.Context, a searchArgs) (*mcp.CallToolResult, error) {
				res, err := client.SearchCode(ctx, a.Query)
				if err != nil {
					return fail(ctx, "search_code", err), nil
				}
				return JSONResult(res)
			}),
	}
}
