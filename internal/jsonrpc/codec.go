package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// DecodeError reports a frame that could not be turned into a message.
// Code is ErrorCodeParseError for malformed JSON and ErrorCodeInvalidRequest
// for well-formed JSON that is not a valid JSON-RPC 2.0 message. ID is set
// when the frame carried a usable id, so the caller can address its reply.
type DecodeError struct {
	Code    ErrorCode
	Message string
	ID      *RequestID
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Response converts the decode failure into the error response a server
// should send back.
func (e *DecodeError) Response() *Response {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return NewErrorResponse(e.ID, e.Code, msg, nil)
}

var (
	errEmptyFrame = errors.New("empty message")
	errBatch      = errors.New("batch messages are not supported")
)

func parseError(err error) *DecodeError {
	return &DecodeError{Code: ErrorCodeParseError, Message: "Parse error", Err: err}
}

func invalidRequest(id *RequestID, format string, args ...any) *DecodeError {
	return &DecodeError{Code: ErrorCodeInvalidRequest, Message: "Invalid Request", ID: id, Err: fmt.Errorf(format, args...)}
}

// Decode parses exactly one JSON-RPC 2.0 message. Errors are always of type
// *DecodeError.
func Decode(raw []byte) (*AnyMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, parseError(errEmptyFrame)
	}
	if !json.Valid(raw) {
		var v any
		err := json.Unmarshal(raw, &v)
		if err == nil {
			err = errors.New("invalid JSON")
		}
		return nil, parseError(err)
	}
	switch raw[0] {
	case '{':
	case '[':
		return nil, &DecodeError{Code: ErrorCodeInvalidRequest, Message: "Invalid Request", Err: errBatch}
	default:
		return nil, invalidRequest(nil, "message must be a JSON object")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, invalidRequest(nil, "message must be a JSON object: %v", err)
	}

	methodRaw, hasMethod := fields["method"]
	resultRaw, hasResult := fields["result"]
	errorRaw, hasError := fields["error"]
	idRaw, hasID := fields["id"]

	var id *RequestID
	if hasID {
		if bytes.Equal(bytes.TrimSpace(idRaw), []byte("null")) {
			if hasMethod {
				return nil, invalidRequest(nil, "id must be a string or number")
			}
		} else {
			id = new(RequestID)
			if err := id.UnmarshalJSON(idRaw); err != nil {
				return nil, invalidRequest(nil, "%v", err)
			}
		}
	}

	var version string
	if err := json.Unmarshal(fields["jsonrpc"], &version); err != nil || version != ProtocolVersion {
		return nil, invalidRequest(id, "jsonrpc member must be %q", ProtocolVersion)
	}

	if hasMethod {
		var method string
		if err := json.Unmarshal(methodRaw, &method); err != nil || method == "" {
			return nil, invalidRequest(id, "method must be a non-empty string")
		}
		if hasResult || hasError {
			return nil, invalidRequest(id, "request cannot carry result or error members")
		}
		params := bytes.TrimSpace(fields["params"])
		if bytes.Equal(params, []byte("null")) {
			params = nil
		}
		if len(params) > 0 && params[0] != '{' && params[0] != '[' {
			return nil, invalidRequest(id, "params must be an object or array")
		}
		return &AnyMessage{
			JSONRPCVersion: version,
			Method:         method,
			Params:         json.RawMessage(params),
			ID:             id,
		}, nil
	}

	switch {
	case hasResult && hasError:
		return nil, invalidRequest(id, "response cannot carry both result and error")
	case !hasResult && !hasError:
		return nil, invalidRequest(id, "missing method")
	case !hasID:
		return nil, invalidRequest(nil, "response missing id")
	}

	msg := &AnyMessage{JSONRPCVersion: version, ID: id}
	if hasResult {
		msg.Result = resultRaw
	} else {
		var rpcErr Error
		if err := json.Unmarshal(errorRaw, &rpcErr); err != nil {
			return nil, invalidRequest(id, "malformed error member: %v", err)
		}
		msg.Error = &rpcErr
	}
	return msg, nil
}

// Encode serializes a response after checking that it carries exactly one
// of result or error.
func Encode(res *Response) ([]byte, error) {
	if res == nil {
		return nil, errors.New("nil response")
	}
	if (res.Error == nil) == (len(res.Result) == 0) {
		return nil, errors.New("response must carry exactly one of result or error")
	}
	if res.JSONRPCVersion == "" {
		cp := *res
		cp.JSONRPCVersion = ProtocolVersion
		res = &cp
	}
	return json.Marshal(res)
}
