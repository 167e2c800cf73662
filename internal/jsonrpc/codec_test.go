package jsonrpc

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeClassifiesMessages(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		kind   Kind
		method string
		id     string
	}{
		{name: "request numeric id", raw: `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, kind: KindRequest, method: "tools/list", id: "n:1"},
		{name: "request string id", raw: `{"jsonrpc":"2.0","id":"abc","method":"ping","params":{}}`, kind: KindRequest, method: "ping", id: "s:abc"},
		{name: "notification", raw: `{"jsonrpc":"2.0","method":"notifications/initialized"}`, kind: KindNotification, method: "notifications/initialized"},
		{name: "result response", raw: `{"jsonrpc":"2.0","id":7,"result":{}}`, kind: KindResponse, id: "n:7"},
		{name: "error response", raw: `{"jsonrpc":"2.0","id":"x","error":{"code":-32601,"message":"nope"}}`, kind: KindResponse, id: "s:x"},
		{name: "surrounding whitespace", raw: "  {\"jsonrpc\":\"2.0\",\"id\":2,\"method\":\"ping\"}\r\n", kind: KindRequest, method: "ping", id: "n:2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if msg.Kind() != tt.kind {
				t.Fatalf("kind: got %s want %s", msg.Kind(), tt.kind)
			}
			if msg.Method != tt.method {
				t.Fatalf("method: got %q want %q", msg.Method, tt.method)
			}
			if got := msg.ID.Key(); got != tt.id {
				t.Fatalf("id key: got %q want %q", got, tt.id)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		code   ErrorCode
		withID string
	}{
		{name: "empty", raw: ``, code: ErrorCodeParseError},
		{name: "truncated", raw: `{"jsonrpc":"2.0","id":1,"method":`, code: ErrorCodeParseError},
		{name: "garbage", raw: `not json`, code: ErrorCodeParseError},
		{name: "batch", raw: `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, code: ErrorCodeInvalidRequest},
		{name: "scalar", raw: `42`, code: ErrorCodeInvalidRequest},
		{name: "wrong version", raw: `{"jsonrpc":"1.0","id":3,"method":"ping"}`, code: ErrorCodeInvalidRequest, withID: "n:3"},
		{name: "missing version", raw: `{"id":"a","method":"ping"}`, code: ErrorCodeInvalidRequest, withID: "s:a"},
		{name: "method not string", raw: `{"jsonrpc":"2.0","id":4,"method":12}`, code: ErrorCodeInvalidRequest, withID: "n:4"},
		{name: "empty method", raw: `{"jsonrpc":"2.0","id":4,"method":""}`, code: ErrorCodeInvalidRequest, withID: "n:4"},
		{name: "bool id", raw: `{"jsonrpc":"2.0","id":true,"method":"ping"}`, code: ErrorCodeInvalidRequest},
		{name: "null id on request", raw: `{"jsonrpc":"2.0","id":null,"method":"ping"}`, code: ErrorCodeInvalidRequest},
		{name: "request with result", raw: `{"jsonrpc":"2.0","id":5,"method":"ping","result":{}}`, code: ErrorCodeInvalidRequest, withID: "n:5"},
		{name: "scalar params", raw: `{"jsonrpc":"2.0","id":6,"method":"ping","params":"x"}`, code: ErrorCodeInvalidRequest, withID: "n:6"},
		{name: "both result and error", raw: `{"jsonrpc":"2.0","id":8,"result":{},"error":{"code":1,"message":"x"}}`, code: ErrorCodeInvalidRequest, withID: "n:8"},
		{name: "no method no result", raw: `{"jsonrpc":"2.0","id":9}`, code: ErrorCodeInvalidRequest, withID: "n:9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))
			if err == nil {
				t.Fatalf("expected error, got message %+v", msg)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected *DecodeError, got %T", err)
			}
			if de.Code != tt.code {
				t.Fatalf("code: got %d want %d (%v)", de.Code, tt.code, err)
			}
			if got := de.ID.Key(); got != tt.withID {
				t.Fatalf("id: got %q want %q", got, tt.withID)
			}
			res := de.Response()
			if res.Error == nil || res.Error.Code != tt.code {
				t.Fatalf("unexpected error response: %+v", res)
			}
		})
	}
}

func TestNotificationIffNoID(t *testing.T) {
	withID, err := Decode([]byte(`{"jsonrpc":"2.0","id":0,"method":"notifications/initialized"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if withID.Kind() != KindRequest {
		t.Fatalf("a message carrying id 0 is a request, got %s", withID.Kind())
	}

	without, err := Decode([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized","params":{}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if without.Kind() != KindNotification {
		t.Fatalf("expected notification, got %s", without.Kind())
	}
}

func TestResponseRoundTrip(t *testing.T) {
	ok, err := NewResultResponse(NewRequestID("req-1"), map[string]any{"tools": []any{}})
	if err != nil {
		t.Fatalf("NewResultResponse: %v", err)
	}
	failed := NewErrorResponse(NewRequestID(42), ErrorCodeUnknownTool, "Unknown tool: nope", map[string]any{"name": "nope"})
	parseFailure := NewErrorResponse(nil, ErrorCodeParseError, "Parse error", nil)

	for _, res := range []*Response{ok, failed, parseFailure} {
		b, err := Encode(res)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		msg, err := Decode(b)
		if err != nil {
			t.Fatalf("Decode(%s): %v", b, err)
		}
		if msg.Kind() != KindResponse {
			t.Fatalf("expected response kind, got %s", msg.Kind())
		}
		got := msg.AsResponse()
		if !got.ID.Equal(res.ID) {
			t.Fatalf("id mismatch: got %v want %v", got.ID.Value(), res.ID.Value())
		}
		if (got.Error == nil) != (res.Error == nil) {
			t.Fatalf("error presence mismatch for %s", b)
		}
		if res.Error != nil {
			if got.Error.Code != res.Error.Code || got.Error.Message != res.Error.Message {
				t.Fatalf("error mismatch: got %+v want %+v", got.Error, res.Error)
			}
			continue
		}
		if string(got.Result) != string(res.Result) {
			t.Fatalf("result mismatch: got %s want %s", got.Result, res.Result)
		}
	}
}

func TestEncodeSerializesNullID(t *testing.T) {
	b, err := Encode(NewErrorResponse(nil, ErrorCodeParseError, "Parse error", nil))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(m["id"]) != "null" {
		t.Fatalf("expected id null, got %s", m["id"])
	}
}

func TestEncodeRejectsAmbiguousResponse(t *testing.T) {
	if _, err := Encode(&Response{JSONRPCVersion: ProtocolVersion, ID: NewRequestID(1)}); err == nil {
		t.Fatalf("expected error for response with neither result nor error")
	}
	both := NewErrorResponse(NewRequestID(1), ErrorCodeInternalError, "x", nil)
	both.Result = json.RawMessage(`{}`)
	if _, err := Encode(both); err == nil {
		t.Fatalf("expected error for response with both result and error")
	}
}
