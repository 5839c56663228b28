// Package proxy forwards /api/github requests to the fixed upstream host.
// It is deliberately dumb: method, path, and body pass through, the
// response mirrors the upstream verbatim, and only reachability failures
// are translated (into 502).
package proxy

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const apiKeyHeader = "X-Api-Key"

// Hop-by-hop headers are connection-scoped and must not be forwarded.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Proxy relays requests under a path prefix to one upstream host.
type Proxy struct {
	log      *slog.Logger
	upstream *url.URL
	org      string
	token    string
	prefix   string
	httpc    *http.Client
}

// Option customizes a Proxy.
type Option func(*Proxy)

// WithLogger sets the proxy's logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Proxy) { p.log = log }
}

// WithHTTPClient replaces the outbound HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Proxy) { p.httpc = c }
}

// New constructs a Proxy that strips prefix from inbound paths and relays
// the remainder to upstream. The bearer token is the process credential;
// client-supplied Authorization headers are discarded.
func New(upstream, prefix, org, token string, opts ...Option) (*Proxy, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream url %q must be absolute", upstream)
	}

	p := &Proxy{
		upstream: u,
		org:      org,
		token:    token,
		prefix:   strings.TrimSuffix(prefix, "/"),
		httpc: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = slog.New(slog.DiscardHandler)
	}
	return p, nil
}

// HandleRepos relays the organization repository listing. Status and body
// mirror the upstream, including error statuses like 404.
func (p *Proxy) HandleRepos(w http.ResponseWriter, r *http.Request) {
	p.relay(w, r, "/orgs/"+p.org+"/repos")
}

// ServeHTTP relays any request under the proxy prefix to the same path on
// the upstream host.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, p.prefix)
	if path == "" {
		path = "/"
	}
	p.relay(w, r, path)
}

func (p *Proxy) relay(w http.ResponseWriter, r *http.Request, upstreamPath string) {
	target := *p.upstream
	target.Path = strings.TrimSuffix(target.Path, "/") + upstreamPath

	// The client's key travels as a header; it never appears in the
	// upstream URL.
	query := r.URL.Query()
	apiKey := query.Get("key")
	if apiKey != "" {
		query.Del("key")
	} else {
		apiKey = r.Header.Get(apiKeyHeader)
	}
	target.RawQuery = query.Encode()

	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		p.writeError(w, http.StatusBadGateway, "bad_gateway", fmt.Sprintf("build upstream request: %v", err))
		return
	}

	copyHeaders(out.Header, r.Header)
	for _, h := range hopByHopHeaders {
		out.Header.Del(h)
	}
	out.Header.Del("Authorization")
	if apiKey != "" {
		out.Header.Set(apiKeyHeader, apiKey)
	}
	if p.token != "" {
		out.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpc.Do(out)
	if err != nil {
		p.log.WarnContext(r.Context(), "proxy.upstream.unreachable",
			slog.String("path", upstreamPath), slog.String("err", err.Error()))
		p.writeError(w, http.StatusBadGateway, "bad_gateway", fmt.Sprintf("upstream request failed: %v", err))
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	for _, h := range hopByHopHeaders {
		w.Header().Del(h)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.log.WarnContext(r.Context(), "proxy.response.copy_fail", slog.String("err", err.Error()))
	}

	p.log.InfoContext(r.Context(), "proxy.relay.ok",
		slog.String("method", r.Method),
		slog.String("path", upstreamPath),
		slog.Int("status", resp.StatusCode),
	)
}

func (p *Proxy) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
