package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthorized indicates authentication failed or no valid credentials were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInsufficientScope indicates the caller authenticated but lacks required scope.
var ErrInsufficientScope = errors.New("insufficient scope")

// UserInfo represents an authenticated principal.
// Implementations should be lightweight and safe for concurrent use.
type UserInfo interface {
	// UserID returns the unique identifier for the user.
	UserID() string
	// Claims unmarshals the user's claims into the provided struct reference.
	Claims(ref any) error
}

// Authenticator validates bearer tokens and returns associated user info.
// It should return ErrUnauthorized for invalid credentials.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, tok string) (UserInfo, error)

func (f AuthenticatorFunc) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	return f(ctx, tok)
}

type userInfo struct {
	sub    string
	claims map[string]any
}

// NewUserInfo builds a UserInfo from a subject and raw claims.
func NewUserInfo(sub string, claims map[string]any) UserInfo {
	return &userInfo{sub: sub, claims: claims}
}

func (u *userInfo) UserID() string { return u.sub }

func (u *userInfo) Claims(ref any) error {
	b, err := json.Marshal(u.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// Challenge describes the WWW-Authenticate value to send with a failed
// authentication.
type Challenge struct {
	Realm               string
	ResourceMetadataURL string
	Scopes              []string
}

// Header renders the challenge for err. A nil err produces the bare
// "credentials required" form.
func (c Challenge) Header(err error) string {
	var params []string
	if c.Realm != "" {
		params = append(params, fmt.Sprintf("realm=%q", c.Realm))
	}
	if c.ResourceMetadataURL != "" {
		params = append(params, fmt.Sprintf("resource_metadata=%q", c.ResourceMetadataURL))
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientScope):
		params = append(params, `error="insufficient_scope"`)
		if len(c.Scopes) > 0 {
			params = append(params, fmt.Sprintf("scope=%q", strings.Join(c.Scopes, " ")))
		}
	default:
		params = append(params, `error="invalid_token"`, `error_description="The access token is invalid"`)
	}
	if len(params) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(params, ", ")
}
