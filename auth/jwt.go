package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// Option configures optional aspects of a JWT authenticator.
type Option func(*config)

type config struct {
	issuer       string
	audiences    []string
	scopes       []string
	scopeModeAny bool
	algs         []string
	leeway       time.Duration
	requireATJWT bool
}

func defaultConfig(issuer, audience string, algs ...string) *config {
	return &config{
		issuer:    issuer,
		audiences: []string{audience},
		algs:      algs,
		leeway:    60 * time.Second,
	}
}

// WithRequiredScopes requires all of the provided scopes to be present in the
// space-delimited "scope" claim.
func WithRequiredScopes(scopes ...string) Option {
	return func(c *config) {
		c.scopes = slices.Clone(scopes)
		c.scopeModeAny = false
	}
}

// WithAnyRequiredScope requires at least one of the provided scopes.
func WithAnyRequiredScope(scopes ...string) Option {
	return func(c *config) {
		c.scopes = slices.Clone(scopes)
		c.scopeModeAny = true
	}
}

// WithAdditionalAudiences accepts tokens minted for other audiences too,
// typically a local development URL.
func WithAdditionalAudiences(aud ...string) Option {
	return func(c *config) { c.audiences = append(c.audiences, aud...) }
}

// WithAllowedAlgs restricts allowed JWS algorithms. "none" is never allowed.
func WithAllowedAlgs(algs ...string) Option {
	return func(c *config) {
		if len(algs) > 0 {
			c.algs = slices.DeleteFunc(slices.Clone(algs), func(a string) bool { return a == "none" })
		}
	}
}

// WithLeeway sets clock skew tolerance for time-based claims.
func WithLeeway(d time.Duration) Option {
	return func(c *config) { c.leeway = d }
}

// WithAccessTokenType requires the RFC 9068 "at+jwt" typ header.
func WithAccessTokenType() Option {
	return func(c *config) { c.requireATJWT = true }
}

// jwtAuthenticator verifies signature, issuer, audience, expiry and scopes.
type jwtAuthenticator struct {
	cfg     *config
	keyfunc jwt.Keyfunc
}

func newJWTAuthenticator(cfg *config, kf jwt.Keyfunc, opts []Option) (*jwtAuthenticator, error) {
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.issuer == "" {
		return nil, errors.New("auth: issuer is required")
	}
	if slices.Contains(cfg.audiences, "") {
		return nil, errors.New("auth: audience is required")
	}
	if len(cfg.algs) == 0 {
		return nil, errors.New("auth: no allowed algorithms")
	}
	return &jwtAuthenticator{cfg: cfg, keyfunc: func(t *jwt.Token) (any, error) {
		if alg := t.Method.Alg(); !slices.Contains(cfg.algs, alg) {
			return nil, fmt.Errorf("disallowed alg: %s", alg)
		}
		return kf(t)
	}}, nil
}

// NewHMAC validates HS256 tokens signed with a shared secret. It suits
// deployments behind a gateway that mints its own tokens.
func NewHMAC(secret []byte, issuer, audience string, opts ...Option) (Authenticator, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth: hmac secret must be at least 32 bytes")
	}
	key := slices.Clone(secret)
	return newJWTAuthenticator(defaultConfig(issuer, audience, "HS256"), func(*jwt.Token) (any, error) {
		return key, nil
	}, opts)
}

// NewJWKS validates asymmetric tokens against a JWKS endpoint. Keys are
// refreshed in the background until ctx ends.
func NewJWKS(ctx context.Context, jwksURL, issuer, audience string, opts ...Option) (Authenticator, error) {
	if jwksURL == "" {
		return nil, errors.New("auth: jwks url is required")
	}
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("auth: jwks init failed: %w", err)
	}
	return newJWTAuthenticator(defaultConfig(issuer, audience, "RS256"), kf.Keyfunc, opts)
}

// NewFromDiscovery performs OpenID Connect discovery against issuer and
// validates tokens with the advertised jwks_uri. Access tokens must carry
// the "at+jwt" typ.
func NewFromDiscovery(ctx context.Context, issuer, audience string, opts ...Option) (Authenticator, error) {
	if issuer == "" {
		return nil, errors.New("auth: issuer is required")
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("auth: oidc discovery failed: %w", err)
	}
	var meta struct {
		Issuer  string `json:"issuer"`
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("auth: invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("auth: discovery incomplete: missing jwks_uri")
	}
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{meta.JwksURI})
	if err != nil {
		return nil, fmt.Errorf("auth: jwks init failed: %w", err)
	}
	opts = append([]Option{WithAccessTokenType()}, opts...)
	return newJWTAuthenticator(defaultConfig(meta.Issuer, audience, "RS256"), kf.Keyfunc, opts)
}

func (a *jwtAuthenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(a.cfg.algs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.cfg.issuer),
		jwt.WithLeeway(a.cfg.leeway),
	)
	parsed, err := parser.Parse(tok, a.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}
	if a.cfg.requireATJWT {
		if typ, _ := parsed.Header["typ"].(string); typ != "at+jwt" && typ != "application/at+jwt" {
			return nil, fmt.Errorf("%w: invalid typ; want at+jwt", ErrUnauthorized)
		}
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}
	aud, err := claims.GetAudience()
	if err != nil || !slices.ContainsFunc(aud, func(s string) bool { return slices.Contains(a.cfg.audiences, s) }) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	if len(a.cfg.scopes) > 0 && !a.scopesSatisfied(claims) {
		return nil, ErrInsufficientScope
	}
	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}
	return NewUserInfo(sub, claims), nil
}

func (a *jwtAuthenticator) scopesSatisfied(claims jwt.MapClaims) bool {
	scopeStr, _ := claims["scope"].(string)
	have := strings.Fields(scopeStr)
	if a.cfg.scopeModeAny {
		return slices.ContainsFunc(a.cfg.scopes, func(s string) bool { return slices.Contains(have, s) })
	}
	for _, want := range a.cfg.scopes {
		if !slices.Contains(have, want) {
			return false
		}
	}
	return true
}
