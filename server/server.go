// Package server assembles the HTTP surface: the MCP endpoint, its root
// mirror, the GitHub proxy routes, and the health check.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gatewaykit/ghgateway/proxy"
	"github.com/gatewaykit/ghgateway/streaminghttp"
)

// NewRouter mounts all routes. The MCP endpoint lives at /mcp and is
// mirrored at the root for clients that connect without a path.
func NewRouter(h *streaminghttp.Handler, p *proxy.Proxy) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodHead, http.MethodOptions},
		AllowedHeaders:     []string{"*"},
		ExposedHeaders:     []string{"Mcp-Session-Id", "Mcp-Protocol-Version"},
		MaxAge:             300,
		OptionsPassthrough: true,
	}))
	// The CORS middleware decorates preflights and passes them through;
	// answer them here so every path gets the same 204.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Route("/mcp", func(r chi.Router) {
		r.Post("/", h.HandlePost)
		r.Get("/", h.HandleGet)
		r.Delete("/", h.HandleDelete)
		r.Head("/", h.HandleHead)
	})

	r.Post("/", h.HandlePost)
	r.Get("/", h.HandleRootGet)
	r.Delete("/", h.HandleDelete)
	r.Head("/", h.HandleHead)

	r.Get("/healthz", h.HandleStatus)

	r.Get("/api/github/repos", p.HandleRepos)
	r.HandleFunc("/api/github/*", p.ServeHTTP)

	return r
}

// Run serves the router until ctx is cancelled, then drains connections.
// SSE streams observe the shutdown through their request contexts.
func Run(ctx context.Context, log *slog.Logger, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "server.listen", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.InfoContext(ctx, "server.stopped")
	return nil
}
