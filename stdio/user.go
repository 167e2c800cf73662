package stdio

import (
	"errors"
	"os/user"
)

// UserProvider supplies the user ID recorded for the stdio peer. stdio has
// no credentials; the process owner is the principal.
type UserProvider interface {
	CurrentUserID() (string, error)
}

// OSUserProvider resolves the current OS user: the username when set,
// otherwise the uid.
type OSUserProvider struct{}

func (OSUserProvider) CurrentUserID() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	if u.Username != "" {
		return u.Username, nil
	}
	return u.Uid, nil
}

// StaticUser is a UserProvider returning a fixed ID.
type StaticUser string

func (s StaticUser) CurrentUserID() (string, error) {
	if s == "" {
		return "", errors.New("empty user id")
	}
	return string(s), nil
}
