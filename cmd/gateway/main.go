// Command gateway runs the GitHub MCP gateway: an MCP streamable HTTP
// endpoint backed by the GitHub REST API, plus a thin reverse proxy for
// direct REST access.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gatewaykit/ghgateway/config"
	"github.com/gatewaykit/ghgateway/eventstore"
	"github.com/gatewaykit/ghgateway/githubapi"
	"github.com/gatewaykit/ghgateway/internal/logctx"
	"github.com/gatewaykit/ghgateway/mcp"
	"github.com/gatewaykit/ghgateway/proxy"
	"github.com/gatewaykit/ghgateway/server"
	"github.com/gatewaykit/ghgateway/sessions"
	"github.com/gatewaykit/ghgateway/streaminghttp"
	"github.com/gatewaykit/ghgateway/toolset"
)

var version = "dev"

const instructions = "Read-only tools for one GitHub organization: repositories, files, branches, issues, pull requests, commits, and code search."

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log := slog.New(logctx.Handler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := sessions.NewRegistry(log)
	store := eventstore.New(eventstore.WithMaxEvents(cfg.EventRetention))
	client := githubapi.New(cfg.GitHubAPIURL, cfg.GitHubOrg, cfg.GitHubToken)
	tools := toolset.NewRegistry(toolset.GitHubTools(client, log)...)

	handler := streaminghttp.NewHandler(registry, store, tools,
		streaminghttp.WithLogger(log),
		streaminghttp.WithServerInfo(mcp.ImplementationInfo{Name: "ghgateway", Version: version}),
		streaminghttp.WithInstructions(instructions),
	)

	ghProxy, err := proxy.New(cfg.UpstreamURL, "/api/github", cfg.GitHubOrg, cfg.GitHubToken,
		proxy.WithLogger(log),
	)
	if err != nil {
		return err
	}

	go func() {
		if err := registry.Sweep(ctx, cfg.SessionSweepInterval, cfg.SessionTTL); err != nil && !errors.Is(err, context.Canceled) {
			log.ErrorContext(ctx, "session.sweep.stopped", slog.String("err", err.Error()))
		}
	}()

	log.InfoContext(ctx, "gateway.start",
		slog.String("version", version),
		slog.String("org", cfg.GitHubOrg),
		slog.String("upstream", cfg.UpstreamURL),
	)
	return server.Run(ctx, log, cfg.ListenAddr, server.NewRouter(handler, ghProxy))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}
