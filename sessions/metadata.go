package sessions

import (
	"time"

	"github.com/ggoodman/mcp-atlassian-go/mcp"
)

// CapabilitySet captures the client capability surface negotiated at
// initialize. Booleans keep it cheap to serialize, compare, and extend.
type CapabilitySet struct {
	Roots            bool `json:"roots,omitempty"`
	RootsListChanged bool `json:"roots_list_changed,omitempty"`
	Sampling         bool `json:"sampling,omitempty"`
	Elicitation      bool `json:"elicitation,omitempty"`
}

// CapabilitiesFrom flattens the wire form of client capabilities.
func CapabilitiesFrom(c mcp.ClientCapabilities) CapabilitySet {
	cs := CapabilitySet{
		Sampling:    c.Sampling != nil,
		Elicitation: c.Elicitation != nil,
	}
	if c.Roots != nil {
		cs.Roots = true
		cs.RootsListChanged = c.Roots.ListChanged
	}
	return cs
}

// ClientInfo records the client identity supplied at initialization.
type ClientInfo struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// SessionMetadata is the persisted representation of a connection.
//
// SessionID and UserID never change after creation. ProtocolVersion, Client
// and Capabilities are fixed by the initialize handshake. TTL is a sliding
// window: stores expire a record once LastAccess + TTL < now.
type SessionMetadata struct {
	MetaVersion     int           `json:"meta_version"`
	SessionID       string        `json:"session_id"`
	UserID          string        `json:"user_id"`
	State           SessionState  `json:"state"`
	ProtocolVersion string        `json:"protocol_version,omitempty"`
	Client          ClientInfo    `json:"client,omitzero"`
	Capabilities    CapabilitySet `json:"capabilities,omitzero"`

	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	LastAccess time.Time     `json:"last_access"`
	TTL        time.Duration `json:"ttl"`
}

// CurrentMetaVersion is written into new records.
const CurrentMetaVersion = 1

// Expired reports whether the record's sliding window has lapsed at now.
func (m *SessionMetadata) Expired(now time.Time) bool {
	if m.TTL <= 0 {
		return false
	}
	return m.LastAccess.Add(m.TTL).Before(now)
}

// Clone returns a copy that can be mutated independently.
func (m *SessionMetadata) Clone() *SessionMetadata {
	if m == nil {
		return nil
	}
	cp := *m
	return &cp
}
