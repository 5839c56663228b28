package jsonrpc

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the payload is not a valid request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal server failure.
	ErrorCodeInternalError ErrorCode = -32603

	// ErrorCodeBadRequest is the transport-level rejection code used when a
	// request cannot be tied to a session: missing session header, a
	// non-initialize first message, or an HTTP method the session surface
	// does not allow.
	ErrorCodeBadRequest ErrorCode = -32000
	// ErrorCodeSessionNotFound distinguishes "this session id is unknown or
	// expired" from the bad-request case so clients know to re-initialize.
	ErrorCodeSessionNotFound ErrorCode = -32001
)
