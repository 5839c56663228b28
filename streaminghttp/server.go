package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gatewaykit/ghgateway/internal/jsonrpc"
	"github.com/gatewaykit/ghgateway/internal/logctx"
	"github.com/gatewaykit/ghgateway/mcp"
	"github.com/gatewaykit/ghgateway/toolset"
)

// Server is the per-session tool server: it executes the JSON-RPC methods a
// session may invoke and emits logging notifications on the session's
// stream. One Server exists per registered session.
type Server struct {
	log       *slog.Logger
	tools     *toolset.Registry
	transport *Transport

	serverInfo   mcp.ImplementationInfo
	instructions string

	clientInfo      atomic.Pointer[mcp.ImplementationInfo]
	protocolVersion atomic.Pointer[string]
	initialized     atomic.Bool
}

// NewServer constructs the tool server for one session.
func NewServer(log *slog.Logger, tools *toolset.Registry, transport *Transport, serverInfo mcp.ImplementationInfo, instructions string) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{
		log:          log,
		tools:        tools,
		transport:    transport,
		serverInfo:   serverInfo,
		instructions: instructions,
	}
}

// ProtocolVersion reports the version negotiated at initialize time, or
// empty before then.
func (s *Server) ProtocolVersion() string {
	if v := s.protocolVersion.Load(); v != nil {
		return *v
	}
	return ""
}

// Initialize performs the session handshake.
func (s *Server) Initialize(ctx context.Context, req *mcp.InitializeRequest) *mcp.InitializeResult {
	s.clientInfo.Store(&req.ClientInfo)

	// Accept the client's revision if we speak it; otherwise answer with
	// ours and let the client decide whether to proceed.
	version := mcp.ProtocolVersion
	if req.ProtocolVersion != "" && req.ProtocolVersion < mcp.ProtocolVersion {
		version = req.ProtocolVersion
	}
	s.protocolVersion.Store(&version)

	return &mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities: mcp.ServerCapabilities{
			Logging: &struct{}{},
			Tools: &struct {
				ListChanged bool `json:"listChanged"`
			}{},
		},
		ServerInfo:   s.serverInfo,
		Instructions: s.instructions,
	}
}

// HandleRequest executes one JSON-RPC request and returns its response.
// Tool-level failures are encoded in the result; only malformed input or
// unexpected internal failures produce error responses.
func (s *Server) HandleRequest(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	switch mcp.Method(req.Method) {
	case mcp.PingMethod:
		resp, err := jsonrpc.NewResultResponse(req.ID, struct{}{})
		if err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error")
		}
		return resp

	case mcp.ToolsListMethod:
		result := mcp.ListToolsResult{Tools: s.tools.List()}
		resp, err := jsonrpc.NewResultResponse(req.ID, result)
		if err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error")
		}
		return resp

	case mcp.ToolsCallMethod:
		return s.handleToolCall(ctx, req)

	case mcp.InitializeMethod:
		// Reaching here means the session already exists.
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "session already initialized")

	default:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (s *Server) handleToolCall(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var call mcp.CallToolRequest
	if err := json.Unmarshal(req.Params, &call); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid tools/call params")
	}
	if call.Name == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "tool name is required")
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: call.Name})

	result, err := s.tools.Call(ctx, call.Name, call.Arguments)
	if err != nil {
		var notFound *toolset.ErrToolNotFound
		if errors.As(err, &notFound) {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, err.Error())
		}
		s.log.ErrorContext(ctx, "tool.call.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal server error")
	}

	s.notifyToolOutcome(ctx, call.Name, result.IsError)

	resp, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error")
	}
	return resp
}

// notifyToolOutcome emits a notifications/message event on the session
// stream so a listening client sees tool activity; the event is recorded
// for replay whether or not anyone is listening right now.
func (s *Server) notifyToolOutcome(ctx context.Context, tool string, isError bool) {
	level := "info"
	if isError {
		level = "warning"
	}
	params, err := json.Marshal(mcp.LoggingMessageParams{
		Level:  level,
		Logger: "toolset",
		Data:   fmt.Sprintf("tool %s completed", tool),
	})
	if err != nil {
		return
	}
	note := jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.LoggingMessageNotificationMethod),
		Params:         params,
	}
	raw, err := json.Marshal(note)
	if err != nil {
		return
	}
	if _, err := s.transport.Publish(ctx, raw); err != nil && !errors.Is(err, ErrTransportClosed) {
		s.log.WarnContext(ctx, "notify.publish.fail", slog.String("err", err.Error()))
	}
}

// HandleNotification processes an inbound notification. Unknown
// notifications are ignored rather than rejected.
func (s *Server) HandleNotification(ctx context.Context, req *jsonrpc.Request) error {
	switch mcp.Method(req.Method) {
	case mcp.InitializedNotificationMethod:
		s.initialized.Store(true)
	case mcp.CancelledNotificationMethod:
		// Requests are handled synchronously within one exchange; there is
		// nothing in flight to cancel by the time this arrives.
	}
	return nil
}
