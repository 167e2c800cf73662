package sessioncore

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"

	jose "github.com/go-jose/go-jose/v4"
)

// JWSSignerVerifier provides minimal JWS operations needed by the session manager.
type JWSSignerVerifier interface {
	// Sign returns a compact JWS for the given payload using the active key.
	Sign(payload []byte) (string, error)
	// Verify parses and verifies a compact JWS and returns its payload and the kid used.
	Verify(token string) (payload []byte, kid string, err error)
}

// MemoryJWS implements JWSSignerVerifier using an in-memory set of Ed25519 keys
// with a designated active key for signing. Older keys stay registered so
// tokens issued before a rotation still verify.
type MemoryJWS struct {
	mu        sync.RWMutex
	activeKid string
	privKeys  map[string]ed25519.PrivateKey
	pubKeys   map[string]ed25519.PublicKey
}

func NewMemoryJWS() *MemoryJWS {
	return &MemoryJWS{
		privKeys: make(map[string]ed25519.PrivateKey),
		pubKeys:  make(map[string]ed25519.PublicKey),
	}
}

// NewMemoryJWSFromSeed builds a signer with a single active key derived from
// a 32-byte seed. Every process configured with the same seed can verify the
// others' session IDs. An empty seed generates a random key.
func NewMemoryJWSFromSeed(seed []byte) (*MemoryJWS, error) {
	var priv ed25519.PrivateKey
	switch len(seed) {
	case 0:
		_, p, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		priv = p
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(seed)
	default:
		return nil, fmt.Errorf("signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	m := NewMemoryJWS()
	kid := KeyID(priv.Public().(ed25519.PublicKey))
	m.AddEd25519Key(kid, priv)
	if err := m.SetActive(kid); err != nil {
		return nil, err
	}
	return m, nil
}

// KeyID derives a stable kid from a public key.
func KeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return base64.RawURLEncoding.EncodeToString(sum[:8])
}

// AddEd25519Key registers a key pair under kid. The active key is unchanged.
func (m *MemoryJWS) AddEd25519Key(kid string, priv ed25519.PrivateKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.privKeys[kid] = priv
	m.pubKeys[kid] = priv.Public().(ed25519.PublicKey)
}

// SetActive selects the key used for signing.
func (m *MemoryJWS) SetActive(kid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.privKeys[kid]; !ok {
		return fmt.Errorf("unknown kid: %s", kid)
	}
	m.activeKid = kid
	return nil
}

func (m *MemoryJWS) ActiveKID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeKid
}

func (m *MemoryJWS) Sign(payload []byte) (string, error) {
	m.mu.RLock()
	kid := m.activeKid
	priv, ok := m.privKeys[kid]
	m.mu.RUnlock()
	if kid == "" {
		return "", fmt.Errorf("no active kid configured")
	}
	if !ok {
		return "", fmt.Errorf("active kid not found: %s", kid)
	}
	opts := (&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", kid)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: priv}, opts)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	compact, err := jws.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize jws: %w", err)
	}
	return compact, nil
}

func (m *MemoryJWS) Verify(token string) ([]byte, string, error) {
	jws, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.EdDSA})
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse jws: %w", err)
	}
	if len(jws.Signatures) != 1 {
		return nil, "", fmt.Errorf("unexpected signatures: %d", len(jws.Signatures))
	}
	kid := jws.Signatures[0].Protected.KeyID
	m.mu.RLock()
	pub, ok := m.pubKeys[kid]
	m.mu.RUnlock()
	if !ok {
		return nil, kid, fmt.Errorf("unknown kid: %s", kid)
	}
	payload, err := jws.Verify(pub)
	if err != nil {
		return nil, kid, fmt.Errorf("signature verification failed: %w", err)
	}
	return payload, kid, nil
}
