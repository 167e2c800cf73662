// Package authtest provides authenticators for tests and local development.
package authtest

import (
	"context"
	"fmt"

	"github.com/ggoodman/mcp-atlassian-go/auth"
)

// StaticTokens accepts a fixed set of bearer tokens, each mapped to a user ID.
type StaticTokens map[string]string

func (s StaticTokens) CheckAuthentication(_ context.Context, tok string) (auth.UserInfo, error) {
	uid, ok := s[tok]
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", auth.ErrUnauthorized)
	}
	return auth.NewUserInfo(uid, map[string]any{"sub": uid}), nil
}

// NoAuth accepts any non-empty token as UserID.
type NoAuth struct {
	UserID string
}

// NewNoAuth creates a NoAuth authenticator. An empty userID becomes "test-user".
func NewNoAuth(userID string) *NoAuth {
	if userID == "" {
		userID = "test-user"
	}
	return &NoAuth{UserID: userID}
}

func (n *NoAuth) CheckAuthentication(_ context.Context, tok string) (auth.UserInfo, error) {
	if tok == "" {
		return nil, auth.ErrUnauthorized
	}
	return auth.NewUserInfo(n.UserID, nil), nil
}
