// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
)

const (
	MaxUserIDLen   = 36
	MaxUsernameLen = 50
)

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
)

// UserID is the stable identity yielded by the identity verifier.
type UserID string

func (id UserID) Validate() error {
	if len(id) == 0 {
		return ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	return nil
}

// User is the display record of an identity. Owned by the profile CRUD,
// the relay only reads it.
type User struct {
	ID             UserID `json:"userId"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id UserID, username string) (*User, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if len(username) > MaxUsernameLen {
		username = username[:MaxUsernameLen]
	}
	return &User{ID: id, Username: username}, nil
}
