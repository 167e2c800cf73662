package sessioncore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-atlassian-go/sessions"
	"github.com/google/uuid"
)

const defaultTTL = time.Hour

// Errors returned by the manager.
var (
	ErrInvalidToken        = errors.New("invalid session token")
	ErrSessionUserMismatch = errors.New("session user mismatch")
	ErrSessionClosed       = errors.New("session closed")
	ErrIllegalTransition   = errors.New("illegal session state transition")
)

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	TTL    time.Duration
	Logger *slog.Logger
}

// applyDefaults populates zero values with conservative defaults.
func (c *ManagerConfig) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = defaultTTL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager issues session IDs, persists their metadata in a sessions.Store,
// and resolves the externally visible token back to a record. The token is a
// compact JWS over the session and user IDs, so forged or tampered IDs are
// rejected before the store is consulted. It is safe for concurrent use.
type Manager struct {
	store  sessions.Store
	signer JWSSignerVerifier
	cfg    ManagerConfig
}

// NewManager constructs a Manager.
func NewManager(store sessions.Store, signer JWSSignerVerifier, cfg ManagerConfig) *Manager {
	cfg.applyDefaults()
	return &Manager{store: store, signer: signer, cfg: cfg}
}

type tokenClaims struct {
	SessionID string `json:"sid"`
	UserID    string `json:"uid"`
	IssuedAt  int64  `json:"iat"`
}

// Handshake carries what the initialize exchange negotiated.
type Handshake struct {
	ProtocolVersion string
	Client          sessions.ClientInfo
	Capabilities    sessions.CapabilitySet
}

// Create allocates and persists a new record in the given state and returns
// the token to hand to the client alongside the stored metadata.
func (m *Manager) Create(ctx context.Context, userID string, hs Handshake, state sessions.SessionState) (string, *sessions.SessionMetadata, error) {
	now := time.Now().UTC()
	meta := &sessions.SessionMetadata{
		MetaVersion:     sessions.CurrentMetaVersion,
		SessionID:       uuid.NewString(),
		UserID:          userID,
		State:           state,
		ProtocolVersion: hs.ProtocolVersion,
		Client:          hs.Client,
		Capabilities:    hs.Capabilities,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastAccess:      now,
		TTL:             m.cfg.TTL,
	}
	payload, err := json.Marshal(tokenClaims{SessionID: meta.SessionID, UserID: userID, IssuedAt: now.Unix()})
	if err != nil {
		return "", nil, fmt.Errorf("encode session token: %w", err)
	}
	token, err := m.signer.Sign(payload)
	if err != nil {
		return "", nil, fmt.Errorf("sign session token: %w", err)
	}
	if err := m.store.Create(ctx, meta); err != nil {
		return "", nil, fmt.Errorf("create session: %w", err)
	}
	m.cfg.Logger.InfoContext(ctx, "session.create.ok", slog.String("session_id", meta.SessionID))
	return token, meta, nil
}

// Load verifies token, checks it belongs to userID and returns the live record.
// Closed records are reported as ErrSessionClosed.
func (m *Manager) Load(ctx context.Context, token, userID string) (*sessions.SessionMetadata, error) {
	payload, _, err := m.signer.Verify(token)
	if err != nil {
		m.cfg.Logger.InfoContext(ctx, "session.load.invalid", slog.String("err", err.Error()))
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var claims tokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	if claims.UserID != userID {
		m.cfg.Logger.InfoContext(ctx, "session.load.denied", slog.String("session_id", claims.SessionID))
		return nil, ErrSessionUserMismatch
	}
	meta, err := m.store.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			m.cfg.Logger.InfoContext(ctx, "session.load.miss", slog.String("session_id", claims.SessionID))
		}
		return nil, err
	}
	if meta.UserID != userID {
		return nil, ErrSessionUserMismatch
	}
	if meta.State == sessions.StateClosed {
		return nil, ErrSessionClosed
	}
	return meta, nil
}

// Transition records a lifecycle step. Moving to the current state is a no-op.
func (m *Manager) Transition(ctx context.Context, sessionID string, next sessions.SessionState) (*sessions.SessionMetadata, error) {
	return m.store.Mutate(ctx, sessionID, func(meta *sessions.SessionMetadata) error {
		if meta.State == next {
			return nil
		}
		if !meta.State.CanTransition(next) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, meta.State, next)
		}
		meta.State = next
		return nil
	})
}

// Delete removes the record idempotently.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	if err := m.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	m.cfg.Logger.InfoContext(ctx, "session.delete.ok", slog.String("session_id", sessionID))
	return nil
}

// IsNotFound reports whether err means the token does not resolve to a live
// session the caller may use. Transports answer these with 404.
func IsNotFound(err error) bool {
	return errors.Is(err, sessions.ErrSessionNotFound) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrSessionUserMismatch) ||
		errors.Is(err, ErrSessionClosed)
}
