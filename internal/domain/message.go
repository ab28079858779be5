package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageID string

func NewMessageID() MessageID {
	return MessageID(uuid.NewString())
}

// ChatMessage is the canonical persisted record of a chat message.
// AuthorID is always set; Author is nil when the profile can't be resolved.
type ChatMessage struct {
	ID        MessageID `json:"messageId"`
	Room      RoomID    `json:"chatId"`
	AuthorID  UserID    `json:"authorId"`
	Author    *User     `json:"author"`
	Body      string    `json:"message"`
	Pinned    bool      `json:"pinned"`
	CreatedAt time.Time `json:"createdAt"`
}

// AuthoredBy reports whether uid wrote the message.
func (m ChatMessage) AuthoredBy(uid UserID) bool {
	return uid != "" && m.AuthorID == uid
}
