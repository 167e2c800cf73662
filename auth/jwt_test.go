package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

const testAudience = "https://atlassian.example.com/mcp"

type mockIssuer struct {
	srv    *httptest.Server
	issuer string
}

func newMockIssuer(t *testing.T, keysJSON []byte, omitJWKS bool) *mockIssuer {
	t.Helper()
	m := &mockIssuer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		meta := map[string]any{
			"issuer":                   m.issuer,
			"authorization_endpoint":   m.issuer + "/oauth2/auth",
			"token_endpoint":           m.issuer + "/oauth2/token",
			"response_types_supported": []string{"code"},
		}
		if !omitJWKS {
			meta["jwks_uri"] = m.issuer + "/keys"
		}
		_ = json.NewEncoder(w).Encode(meta)
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keysJSON)
	})
	m.srv = httptest.NewServer(mux)
	m.issuer = m.srv.URL
	t.Cleanup(m.srv.Close)
	return m
}

func genRSA(t *testing.T) (*rsa.PrivateKey, string, []byte) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	kid := "test-key"
	set := struct {
		Keys []jose.JSONWebKey `json:"keys"`
	}{Keys: []jose.JSONWebKey{{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}}}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return pk, kid, b
}

func signRS256(t *testing.T, pk *rsa.PrivateKey, kid, typ string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	if typ != "" {
		tok.Header["typ"] = typ
	}
	s, err := tok.SignedString(pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func baseClaims(iss, aud string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": iss,
		"sub": "user-123",
		"aud": aud,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	}
}

func TestDiscovery_HappyPath(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	iss := newMockIssuer(t, jwks, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := NewFromDiscovery(ctx, iss.issuer, testAudience)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	claims := baseClaims(iss.issuer, testAudience)
	claims["scope"] = "mcp:read mcp:write"

	ui, err := a.CheckAuthentication(ctx, signRS256(t, pk, kid, "at+jwt", claims))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ui.UserID() != "user-123" {
		t.Fatalf("want sub user-123, got %s", ui.UserID())
	}
	var out struct {
		Scope string `json:"scope"`
	}
	if err := ui.Claims(&out); err != nil || out.Scope != "mcp:read mcp:write" {
		t.Fatalf("claims roundtrip mismatch: %q %v", out.Scope, err)
	}
}

func TestDiscovery_MissingJWKS(t *testing.T) {
	_, _, jwks := genRSA(t)
	iss := newMockIssuer(t, jwks, true)
	if _, err := NewFromDiscovery(context.Background(), iss.issuer, testAudience); err == nil {
		t.Fatalf("expected error due to missing jwks_uri")
	}
}

func TestDiscovery_Rejections(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	iss := newMockIssuer(t, jwks, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := NewFromDiscovery(ctx, iss.issuer, testAudience, WithRequiredScopes("mcp:write", "mcp:admin"), WithLeeway(0))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	tests := []struct {
		name   string
		typ    string
		mutate func(jwt.MapClaims)
		want   error
	}{
		{name: "wrong typ", typ: "JWT", want: ErrUnauthorized},
		{name: "issuer mismatch", typ: "at+jwt", mutate: func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" }, want: ErrUnauthorized},
		{name: "audience mismatch", typ: "at+jwt", mutate: func(c jwt.MapClaims) { c["aud"] = "https://other" }, want: ErrUnauthorized},
		{name: "expired", typ: "at+jwt", mutate: func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Minute).Unix() }, want: ErrUnauthorized},
		{name: "missing sub", typ: "at+jwt", mutate: func(c jwt.MapClaims) { delete(c, "sub") }, want: ErrUnauthorized},
		{name: "insufficient scope", typ: "at+jwt", mutate: func(c jwt.MapClaims) { c["scope"] = "mcp:write" }, want: ErrInsufficientScope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := baseClaims(iss.issuer, testAudience)
			claims["scope"] = "mcp:write mcp:admin"
			if tt.mutate != nil {
				tt.mutate(claims)
			}
			_, err := a.CheckAuthentication(ctx, signRS256(t, pk, kid, tt.typ, claims))
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
		})
	}
}

func TestJWKS_AudienceArrayAndAdditionalAudiences(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	iss := newMockIssuer(t, jwks, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local := "http://localhost:8080/mcp"
	a, err := NewJWKS(ctx, iss.issuer+"/keys", iss.issuer, testAudience, WithAdditionalAudiences(local))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	claims := baseClaims(iss.issuer, "")
	claims["aud"] = []string{"https://other", testAudience}
	if _, err := a.CheckAuthentication(ctx, signRS256(t, pk, kid, "", claims)); err != nil {
		t.Fatalf("audience array: %v", err)
	}
	claims["aud"] = local
	if _, err := a.CheckAuthentication(ctx, signRS256(t, pk, kid, "", claims)); err != nil {
		t.Fatalf("additional audience: %v", err)
	}
	claims["aud"] = "https://unknown"
	if _, err := a.CheckAuthentication(ctx, signRS256(t, pk, kid, "", claims)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for unknown audience, got %v", err)
	}
}

func TestHMAC(t *testing.T) {
	secret := []byte(strings.Repeat("s", 32))
	a, err := NewHMAC(secret, "gateway", testAudience, WithAnyRequiredScope("jira", "confluence"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	sign := func(key []byte, method jwt.SigningMethod, claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	claims := baseClaims("gateway", testAudience)
	claims["scope"] = "confluence"
	ui, err := a.CheckAuthentication(context.Background(), sign(secret, jwt.SigningMethodHS256, claims))
	if err != nil || ui.UserID() != "user-123" {
		t.Fatalf("check: %v %v", ui, err)
	}

	if _, err := a.CheckAuthentication(context.Background(), sign([]byte(strings.Repeat("x", 32)), jwt.SigningMethodHS256, claims)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong key accepted: %v", err)
	}
	if _, err := a.CheckAuthentication(context.Background(), sign(secret, jwt.SigningMethodHS512, claims)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("disallowed alg accepted: %v", err)
	}
	claims["scope"] = "bitbucket"
	if _, err := a.CheckAuthentication(context.Background(), sign(secret, jwt.SigningMethodHS256, claims)); !errors.Is(err, ErrInsufficientScope) {
		t.Fatalf("expected insufficient scope, got %v", err)
	}
	if _, err := a.CheckAuthentication(context.Background(), ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("empty token accepted: %v", err)
	}

	if _, err := NewHMAC([]byte("short"), "gateway", testAudience); err == nil {
		t.Fatalf("short secret accepted")
	}
	if _, err := NewHMAC(secret, "", testAudience); err == nil {
		t.Fatalf("empty issuer accepted")
	}
}

func TestChallengeHeader(t *testing.T) {
	c := Challenge{Realm: "mcp", ResourceMetadataURL: "https://x/.well-known/oauth-protected-resource", Scopes: []string{"mcp:read"}}
	tests := []struct {
		err  error
		want string
	}{
		{nil, `Bearer realm="mcp", resource_metadata="https://x/.well-known/oauth-protected-resource"`},
		{ErrUnauthorized, `Bearer realm="mcp", resource_metadata="https://x/.well-known/oauth-protected-resource", error="invalid_token", error_description="The access token is invalid"`},
		{ErrInsufficientScope, `Bearer realm="mcp", resource_metadata="https://x/.well-known/oauth-protected-resource", error="insufficient_scope", scope="mcp:read"`},
	}
	for _, tt := range tests {
		if got := c.Header(tt.err); got != tt.want {
			t.Errorf("Header(%v)\n got %s\nwant %s", tt.err, got, tt.want)
		}
	}
	if got := (Challenge{}).Header(nil); got != "Bearer" {
		t.Errorf("bare challenge = %q", got)
	}
}
