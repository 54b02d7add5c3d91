// Package userdir is the user directory collaborator: token
// authentication and per-user preference flags. The agent core trusts
// the user id this package resolves; it never takes one from a request
// body or from model output.
package userdir

import (
	"errors"

	"github.com/tasklight/tasklight/internal/config"
)

// ErrUnauthorized is returned when a token matches no known user.
var ErrUnauthorized = errors.New("unauthorized")

// Directory resolves credentials to user identities and exposes
// preference flags. A production deployment substitutes an identity
// provider behind this interface.
type Directory interface {
	// Authenticate resolves a bearer token to a user id.
	Authenticate(token string) (string, error)

	// Preferences returns the user's display/locale flags. Unknown
	// users get an empty map; preferences are read-only inputs here.
	Preferences(userID string) map[string]string
}

// StaticDirectory is a config-backed directory with a fixed user set.
type StaticDirectory struct {
	byToken map[string]string
	prefs   map[string]map[string]string
}

// NewStaticDirectory builds a directory from configured users.
func NewStaticDirectory(users []config.UserConfig) *StaticDirectory {
	d := &StaticDirectory{
		byToken: make(map[string]string, len(users)),
		prefs:   make(map[string]map[string]string, len(users)),
	}
	for _, u := range users {
		if u.Token != "" {
			d.byToken[u.Token] = u.ID
		}
		d.prefs[u.ID] = u.Preferences
	}
	return d
}

// Authenticate resolves a bearer token to a user id.
func (d *StaticDirectory) Authenticate(token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}
	id, ok := d.byToken[token]
	if !ok {
		return "", ErrUnauthorized
	}
	return id, nil
}

// Preferences returns the user's preference flags.
func (d *StaticDirectory) Preferences(userID string) map[string]string {
	p := d.prefs[userID]
	if p == nil {
		return map[string]string{}
	}
	return p
}
