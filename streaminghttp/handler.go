// Package streaminghttp serves the MCP streamable HTTP surface: session
// creation and dispatch over POST, the SSE event channel over GET with
// Last-Event-ID resume, and explicit teardown over DELETE.
package streaminghttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/gatewaykit/ghgateway/eventstore"
	"github.com/gatewaykit/ghgateway/internal/jsonrpc"
	"github.com/gatewaykit/ghgateway/internal/logctx"
	"github.com/gatewaykit/ghgateway/mcp"
	"github.com/gatewaykit/ghgateway/sessions"
	"github.com/gatewaykit/ghgateway/toolset"
)

const (
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"
	lastEventIDHeader        = "Last-Event-ID"

	allowedMethods = "GET, POST, DELETE"
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

// Handler is the HTTP front of the MCP endpoint. It routes each exchange by
// HTTP method and session state: no session means only initialize may pass,
// a valid session dispatches to its Server, and an unknown session is
// rejected with a code that tells the client whether to re-initialize.
type Handler struct {
	log       *slog.Logger
	registry  *sessions.Registry
	store     *eventstore.Store
	tools     *toolset.Registry
	startedAt time.Time

	serverInfo   mcp.ImplementationInfo
	instructions string
}

// Option customizes a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// WithServerInfo sets the implementation info advertised at initialize time.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(h *Handler) { h.serverInfo = info }
}

// WithInstructions sets the instructions string returned to clients.
func WithInstructions(instructions string) Option {
	return func(h *Handler) { h.instructions = instructions }
}

// NewHandler constructs the MCP endpoint handler.
func NewHandler(registry *sessions.Registry, store *eventstore.Store, tools *toolset.Registry, opts ...Option) *Handler {
	h := &Handler{
		registry:   registry,
		store:      store,
		tools:      tools,
		startedAt:  time.Now(),
		serverInfo: mcp.ImplementationInfo{Name: "ghgateway", Version: "dev"},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = slog.New(slog.DiscardHandler)
	}
	return h
}

// HandlePost accepts JSON-RPC messages: a single object or a batch array.
// Without a session header only an initialize request is admissible and
// creates the session; with one, messages are dispatched to the session's
// server.
func (h *Handler) HandlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
	})

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		h.log.WarnContext(ctx, "http.post.bad_content_type")
		writeRPCError(w, http.StatusUnsupportedMediaType, jsonrpc.ErrorCodeBadRequest, "content type must be application/json")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeParseError, "failed to read request body")
		return
	}

	msgs, batch, err := decodeMessages(body)
	if err != nil {
		h.log.WarnContext(ctx, "jsonrpc.decode.fail", slog.String("err", err.Error()))
		writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeParseError, err.Error())
		return
	}

	sessionID := r.Header.Get(mcpSessionIDHeader)
	if sessionID == "" {
		h.handleInitialize(ctx, w, r, msgs, batch, start)
		return
	}

	sess, ok := h.registry.Get(sessionID)
	if !ok {
		h.log.InfoContext(ctx, "session.lookup.miss", slog.String("session_id", sessionID))
		writeRPCError(w, http.StatusNotFound, jsonrpc.ErrorCodeSessionNotFound, "session not found")
		return
	}
	srv, ok := sess.Server.(*Server)
	if !ok {
		h.log.ErrorContext(ctx, "session.server.type", slog.String("session_id", sess.ID))
		writeRPCError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, "internal server error")
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID, StreamID: srv.transport.StreamID()})

	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && pv != srv.ProtocolVersion() {
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("got", pv))
		writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeBadRequest, fmt.Sprintf("unsupported protocol version %q", pv))
		return
	}

	responses := make([]*jsonrpc.Response, 0, len(msgs))
	for i := range msgs {
		req := msgs[i].AsRequest()
		if req == nil {
			// Responses from the client: the gateway issues no requests of
			// its own, so nothing is waiting on these.
			h.log.WarnContext(ctx, "jsonrpc.response.ignored")
			continue
		}
		if req.ID.IsNil() {
			if err := srv.HandleNotification(ctx, req); err != nil {
				h.log.WarnContext(ctx, "notification.handle.fail", slog.String("err", err.Error()))
			}
			continue
		}
		responses = append(responses, srv.HandleRequest(ctx, req))
	}

	h.writeResponses(w, srv.ProtocolVersion(), responses, batch)
	h.log.InfoContext(ctx, "http.post.ok", slog.Duration("dur", time.Since(start)))
}

// handleInitialize serves the sessionless POST path. The batch must carry an
// initialize request; the session is registered before any byte of the
// response is written so an immediate follow-up request finds it.
func (h *Handler) handleInitialize(ctx context.Context, w http.ResponseWriter, r *http.Request, msgs []jsonrpc.AnyMessage, batch bool, start time.Time) {
	var initReq *jsonrpc.Request
	for i := range msgs {
		req := msgs[i].AsRequest()
		if req != nil && mcp.Method(req.Method) == mcp.InitializeMethod && !req.ID.IsNil() {
			initReq = req
			break
		}
	}
	if initReq == nil {
		h.log.WarnContext(ctx, "session.init.missing")
		writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeBadRequest, "no session: first request must be initialize")
		return
	}

	var params mcp.InitializeRequest
	if err := json.Unmarshal(initReq.Params, &params); err != nil {
		writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidParams, "invalid initialize params")
		return
	}

	sessionID := uuid.NewString()
	transport := NewTransport(sessionID, h.store)
	srv := NewServer(h.log, h.tools, transport, h.serverInfo, h.instructions)

	initResult := srv.Initialize(ctx, &params)

	if err := h.registry.Create(sessionID, transport, srv); err != nil {
		h.log.ErrorContext(ctx, "session.create.fail", slog.String("err", err.Error()))
		writeRPCError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, "failed to create session")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sessionID, StreamID: transport.StreamID()})

	responses := make([]*jsonrpc.Response, 0, len(msgs))
	for i := range msgs {
		req := msgs[i].AsRequest()
		if req == nil {
			continue
		}
		if mcp.Method(req.Method) == mcp.InitializeMethod && !req.ID.IsNil() {
			resp, err := jsonrpc.NewResultResponse(req.ID, initResult)
			if err != nil {
				resp = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error")
			}
			responses = append(responses, resp)
			continue
		}
		if req.ID.IsNil() {
			_ = srv.HandleNotification(ctx, req)
			continue
		}
		responses = append(responses, srv.HandleRequest(ctx, req))
	}

	w.Header().Set(mcpSessionIDHeader, sessionID)
	h.writeResponses(w, srv.ProtocolVersion(), responses, batch)
	h.log.InfoContext(ctx, "session.init.ok", slog.Duration("dur", time.Since(start)))
}

// writeResponses emits the collected responses as JSON. An all-notification
// exchange has nothing to say and is acknowledged with 202.
func (h *Handler) writeResponses(w http.ResponseWriter, protocolVersion string, responses []*jsonrpc.Response, batch bool) {
	if protocolVersion != "" {
		w.Header().Set(mcpProtocolVersionHeader, protocolVersion)
	}
	if len(responses) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	if batch {
		_ = enc.Encode(responses)
		return
	}
	_ = enc.Encode(responses[0])
}

// HandleGet serves the session's SSE channel. A missing or unknown session
// yields 405 with an Allow header: from the client's point of view GET is
// simply not available until a session exists.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
	})

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		h.log.WarnContext(ctx, "http.get.unsupported_media_type")
		writeRPCError(w, http.StatusNotAcceptable, jsonrpc.ErrorCodeBadRequest, "accept must include text/event-stream")
		return
	}

	sessionID := r.Header.Get(mcpSessionIDHeader)
	if sessionID == "" {
		h.log.InfoContext(ctx, "session.id.missing")
		w.Header().Set("Allow", allowedMethods)
		writeRPCError(w, http.StatusMethodNotAllowed, jsonrpc.ErrorCodeBadRequest, "no session: initialize with POST first")
		return
	}

	sess, ok := h.registry.Get(sessionID)
	if !ok {
		h.log.InfoContext(ctx, "session.lookup.miss", slog.String("session_id", sessionID))
		w.Header().Set("Allow", allowedMethods)
		writeRPCError(w, http.StatusMethodNotAllowed, jsonrpc.ErrorCodeBadRequest, "unknown session: re-initialize with POST")
		return
	}
	srv, ok := sess.Server.(*Server)
	if !ok {
		h.log.ErrorContext(ctx, "session.server.type", slog.String("session_id", sess.ID))
		writeRPCError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, "internal server error")
		return
	}
	transport := srv.transport
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID, StreamID: transport.StreamID()})

	f, ok := w.(http.Flusher)
	if !ok {
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		writeRPCError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, "streaming unsupported")
		return
	}

	sub, err := transport.Subscribe()
	if err != nil {
		switch {
		case errors.Is(err, ErrStreamBusy):
			h.log.InfoContext(ctx, "sse.stream.busy")
			writeRPCError(w, http.StatusConflict, jsonrpc.ErrorCodeBadRequest, err.Error())
		default:
			w.Header().Set("Allow", allowedMethods)
			writeRPCError(w, http.StatusMethodNotAllowed, jsonrpc.ErrorCodeBadRequest, "session terminated: re-initialize with POST")
		}
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if pv := srv.ProtocolVersion(); pv != "" {
		w.Header().Set(mcpProtocolVersionHeader, pv)
	}
	w.WriteHeader(http.StatusOK)
	f.Flush()

	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}
	h.log.InfoContext(ctx, "sse.stream.start", slog.String("last_event_id", r.Header.Get(lastEventIDHeader)))

	err = sub.Run(ctx, r.Header.Get(lastEventIDHeader), func(eventID string, message []byte) error {
		return writeSSEEvent(wf, eventID, message)
	})
	switch {
	case err == nil:
		h.log.InfoContext(ctx, "sse.stream.closed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.log.InfoContext(ctx, "sse.stream.disconnect")
	case errors.Is(err, ErrSubscriberLagged):
		// The connection ends here; the client reconnects with
		// Last-Event-ID and replays what it missed.
		h.log.WarnContext(ctx, "sse.stream.lagged")
	default:
		h.log.WarnContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
	}
}

// HandleDelete tears a session down. Both a missing header and an unknown id
// get the session-not-found code so clients always learn they hold nothing.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
	})

	sessionID := r.Header.Get(mcpSessionIDHeader)
	if sessionID == "" {
		writeRPCError(w, http.StatusNotFound, jsonrpc.ErrorCodeSessionNotFound, "session not found")
		return
	}
	if _, ok := h.registry.Get(sessionID); !ok {
		h.log.InfoContext(ctx, "session.lookup.miss", slog.String("session_id", sessionID))
		writeRPCError(w, http.StatusNotFound, jsonrpc.ErrorCodeSessionNotFound, "session not found")
		return
	}

	h.registry.Remove(sessionID)
	h.log.InfoContext(ctx, "session.delete.ok", slog.String("session_id", sessionID))
	w.WriteHeader(http.StatusNoContent)
}

// HandleHead answers capability probes without touching session state.
func (h *Handler) HandleHead(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(mcpProtocolVersionHeader, mcp.ProtocolVersion)
	w.WriteHeader(http.StatusOK)
}

// HandleRootGet serves the mirrored endpoint at the server root: with a
// session header it behaves like GET /mcp, without one it reports health.
func (h *Handler) HandleRootGet(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(mcpSessionIDHeader) != "" {
		h.HandleGet(w, r)
		return
	}
	h.HandleStatus(w, r)
}

// HandleStatus reports liveness and the current session population.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":           "ok",
		"service":          h.serverInfo.Name,
		"version":          h.serverInfo.Version,
		"protocol_version": mcp.ProtocolVersion,
		"active_sessions":  h.registry.Len(),
		"uptime_seconds":   int(time.Since(h.startedAt).Seconds()),
	})
}

// decodeMessages parses a POST body into messages, reporting whether the
// body was a batch array.
func decodeMessages(body []byte) ([]jsonrpc.AnyMessage, bool, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, false, fmt.Errorf("empty request body")
	}

	if trimmed[0] == '[' {
		var msgs []jsonrpc.AnyMessage
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil, true, fmt.Errorf("invalid JSON-RPC batch: %w", err)
		}
		if len(msgs) == 0 {
			return nil, true, fmt.Errorf("empty JSON-RPC batch")
		}
		return msgs, true, nil
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, false, fmt.Errorf("invalid JSON-RPC message: %w", err)
	}
	return []jsonrpc.AnyMessage{msg}, false, nil
}

// writeRPCError writes a transport-level JSON-RPC error body. These carry a
// null id: they concern the exchange, not any particular request.
func writeRPCError(w http.ResponseWriter, status int, code jsonrpc.ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(nil, code, message))
}

// lockedWriteFlusher serializes concurrent writes/flushes and refuses to
// write after ctx is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// writeSSEEvent writes one Server-Sent Event frame and flushes it.
func writeSSEEvent(wf *lockedWriteFlusher, eventID string, payload []byte) error {
	if eventID != "" {
		if _, err := fmt.Fprintf(wf, "id: %s\n", eventID); err != nil {
			return fmt.Errorf("write SSE event id: %w", err)
		}
	}
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}
