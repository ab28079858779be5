//go:generate go run go.uber.org/mock/mockgen -source=signal_iface.go -destination=../mocks/mock_signal_iface.go -package=mocks
package core

import "errors"

// Frame is a raw encoded outbound event.
type Frame []byte

// ConnID identifies one live connection. It doubles as the signaling
// participant id: every connection is its own signaling endpoint.
type ConnID string

type CloseCode int

const (
	CloseNormal           CloseCode = 1000
	CloseGoingAway        CloseCode = 1001
	ClosePolicyViolation  CloseCode = 1008
	CloseAuthFailed       CloseCode = 4001
	CloseForbidden        CloseCode = 4003
	CloseHeartbeatTimeout CloseCode = 4008
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend enqueues without blocking. ErrBackpressure when the buffer is full.
	TrySend(Frame) error
	// Ping sends a liveness probe.
	Ping() error
	// CloseWith sends a close frame with code and reason, then closes.
	CloseWith(code CloseCode, reason string)
	Close()
}
