package jsonrpc

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603
)

// Application-defined codes live in the implementation-reserved server error
// range (-32000 to -32099).
const (
	// ErrorCodeUnknownTool indicates tools/call named a tool that is not registered.
	ErrorCodeUnknownTool ErrorCode = -32001
	// ErrorCodeNotInitialized indicates a request arrived before the
	// initialize handshake completed.
	ErrorCodeNotInitialized ErrorCode = -32002
	// ErrorCodeHandlerFailure indicates a tool or resource handler failed or panicked.
	ErrorCodeHandlerFailure ErrorCode = -32003
	// ErrorCodeResourceNotReadable indicates resources/read could not resolve the URI.
	ErrorCodeResourceNotReadable ErrorCode = -32004
	// ErrorCodeRequestCancelled indicates the invocation was cancelled before it completed.
	ErrorCodeRequestCancelled ErrorCode = -32005
)

// String returns a short human-readable name for the code.
func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeParseError:
		return "parse_error"
	case ErrorCodeInvalidRequest:
		return "invalid_request"
	case ErrorCodeMethodNotFound:
		return "method_not_found"
	case ErrorCodeInvalidParams:
		return "invalid_params"
	case ErrorCodeInternalError:
		return "internal_error"
	case ErrorCodeUnknownTool:
		return "unknown_tool"
	case ErrorCodeNotInitialized:
		return "not_initialized"
	case ErrorCodeHandlerFailure:
		return "handler_failure"
	case ErrorCodeResourceNotReadable:
		return "resource_not_readable"
	case ErrorCodeRequestCancelled:
		return "request_cancelled"
	default:
		return "unknown"
	}
}
