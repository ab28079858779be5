package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrNoSuchRoom    = errors.New("no such room")
	ErrAlreadyMember = errors.New("already a member")
)

// Kind classifies relay errors by who sees them and whether the
// connection survives.
type Kind string

const (
	// KindAuth is terminal, the connection is closed.
	KindAuth          Kind = "auth"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	KindMalformed     Kind = "malformed"
	KindDependency    Kind = "dependency"
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func AuthError(err error) *Error {
	return &Error{Kind: KindAuth, Msg: "authentication failed", Err: err}
}

func Authorization(msg string) *Error {
	return &Error{Kind: KindAuthorization, Msg: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Msg: msg}
}

func Malformed(msg string, err error) *Error {
	return &Error{Kind: KindMalformed, Msg: msg, Err: err}
}

func Dependency(msg string, err error) *Error {
	return &Error{Kind: KindDependency, Msg: msg, Err: err}
}

// KindOf returns the kind of err, Dependency for anything unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDependency
}

// Classify turns a store error into a relay error. Taxonomy errors pass
// through unchanged.
func Classify(msg string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	switch {
	case errors.As(err, &e):
		return e
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoSuchRoom):
		return &Error{Kind: KindNotFound, Msg: msg, Err: err}
	case errors.Is(err, ErrAlreadyMember):
		return &Error{Kind: KindAuthorization, Msg: msg, Err: err}
	}
	return Dependency(msg, err)
}

// MessageOf is the requester-facing text of err. Dependency causes stay in
// the logs.
func MessageOf(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	if e.Kind == KindMalformed && e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}
