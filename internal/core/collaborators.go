//go:generate go run go.uber.org/mock/mockgen -source=collaborators.go -destination=../mocks/mock_collaborators.go -package=mocks
package core

import (
	"context"
	"time"

	"github.com/dkeye/talkie/internal/domain"
)

// IdentityVerifier validates an opaque bearer credential.
type IdentityVerifier interface {
	Verify(credential string) (domain.UserID, error)
}

// MembershipStore is the durable record of who belongs to which room.
type MembershipStore interface {
	ListRoomsFor(ctx context.Context, user domain.UserID) ([]domain.RoomID, error)
	IsMember(ctx context.Context, room domain.RoomID, user domain.UserID) (bool, error)
	// RoleOf returns ok=false when user is not a member.
	RoleOf(ctx context.Context, room domain.RoomID, user domain.UserID) (role domain.Role, ok bool, err error)
	// RoomOf returns ErrNoSuchRoom when the room was never created.
	RoomOf(ctx context.Context, room domain.RoomID) (domain.Room, error)
	AddMember(ctx context.Context, room domain.RoomID, user domain.UserID, role domain.Role) error
	// RemoveMember reports whether a membership existed.
	RemoveMember(ctx context.Context, room domain.RoomID, user domain.UserID) (bool, error)
	SetRole(ctx context.Context, room domain.RoomID, user domain.UserID, role domain.Role) error
}

// MessageStore is the durable, timestamp ordered log of chat messages.
type MessageStore interface {
	Append(ctx context.Context, room domain.RoomID, author domain.UserID, body string) (domain.ChatMessage, error)
	// Get returns ErrNotFound when the message is absent from room.
	Get(ctx context.Context, room domain.RoomID, id domain.MessageID) (domain.ChatMessage, error)
	MarkPinned(ctx context.Context, room domain.RoomID, id domain.MessageID, pinned bool) (domain.ChatMessage, error)
	Delete(ctx context.Context, room domain.RoomID, id domain.MessageID) (bool, error)
	// List returns up to limit messages older than before (zero means newest),
	// oldest first.
	List(ctx context.Context, room domain.RoomID, limit int, before time.Time) ([]domain.ChatMessage, error)
}

// AudioProcessor is the replaceable audio step applied to call audio frames.
type AudioProcessor interface {
	Process(ctx context.Context, raw []byte) ([]byte, error)
}
