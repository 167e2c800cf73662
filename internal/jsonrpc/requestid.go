package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
)

// RequestID represents a JSON-RPC ID that can be either a string or a number
type RequestID struct {
	value interface{}
}

// NewRequestID creates a new RequestID from a string or number
func NewRequestID(value interface{}) *RequestID {
	switch v := value.(type) {
	case string, int64, float64, json.Number:
		return &RequestID{value: v}
	case int:
		return &RequestID{value: int64(v)}
	case int32:
		return &RequestID{value: int64(v)}
	case uint32:
		return &RequestID{value: int64(v)}
	default:
		return &RequestID{value: nil}
	}
}

// String returns the string representation of the ID
func (id *RequestID) String() string {
	if id == nil || id.value == nil {
		return ""
	}

	switch v := id.value.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case json.Number:
		return v.String()
	default:
		panic("unreachable: RequestID contains unsupported type")
	}
}

// Key returns a map key that keeps string and numeric IDs apart, so that
// "1" and 1 never collide in per-connection bookkeeping.
func (id *RequestID) Key() string {
	if id == nil || id.value == nil {
		return ""
	}
	switch v := id.value.(type) {
	case string:
		return "s:" + v
	case json.Number:
		// 1.0, 1e0 and 1 name the same request.
		if r, ok := new(big.Rat).SetString(v.String()); ok {
			return "n:" + r.RatString()
		}
	}
	return "n:" + id.String()
}

// Value returns the underlying value
func (id *RequestID) Value() interface{} {
	if id == nil {
		return nil
	}
	return id.value
}

// IsNil returns true if the ID is nil/empty
func (id *RequestID) IsNil() bool {
	if id == nil {
		return true
	}

	return id.value == nil
}

// Equal reports whether both IDs carry the same type and value.
func (id *RequestID) Equal(other *RequestID) bool {
	if id.IsNil() || other.IsNil() {
		return id.IsNil() && other.IsNil()
	}
	return id.Key() == other.Key()
}

// MarshalJSON implements json.Marshaler
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id == nil || id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler. Only strings and numbers are
// accepted; null, booleans, arrays and objects are rejected.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("JSON-RPC ID must be a string or number, got: %q", string(data))
	}

	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return fmt.Errorf("JSON-RPC ID must be a string or number: %w", err)
		}
		id.value = str
		return nil
	}

	var num json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&num); err != nil {
		return fmt.Errorf("JSON-RPC ID must be a string or number, got: %s", string(data))
	}
	if i, err := num.Int64(); err == nil {
		id.value = i
		return nil
	}
	// Fractions and integers beyond int64 keep their literal so the
	// response echoes exactly what the client sent.
	id.value = num
	return nil
}
