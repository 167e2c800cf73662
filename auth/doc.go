// Package auth provides bearer token authentication for the HTTP transport.
// The stdio transport never authenticates; the process owner is the user.
//
// An Authenticator validates an incoming bearer token string and returns a
// UserInfo (or an error). The transport extracts the token from the request
// and renders failures with a Challenge.
//
// Three JWT constructors are provided:
//
//	auth.NewHMAC(secret, issuer, audience)              // shared secret, HS256
//	auth.NewJWKS(ctx, jwksURL, issuer, audience)         // RS256 via JWKS
//	auth.NewFromDiscovery(ctx, issuer, audience)         // OIDC discovery, RFC 9068 access tokens
//
// Scopes, algorithms and leeway are configured via functional options.
//
// # Errors
//
// ErrUnauthorized signals the token is invalid (signature, expiry, audience,
// etc.). ErrInsufficientScope signals successful authentication but missing
// required scope(s).
package auth
