package domain

import (
	"fmt"
	"time"
)

type RoomID string

type RoomKind string

const (
	RoomPrivate   RoomKind = "private"
	RoomCommunity RoomKind = "community"
)

func (k RoomKind) Valid() bool {
	return k == RoomPrivate || k == RoomCommunity
}

// Room is a chat or call context. Created by the CRUD collaborator,
// referenced by the relay only by id.
type Room struct {
	ID        RoomID    `json:"chatId"`
	Kind      RoomKind  `json:"chatType"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewRoom(id RoomID, kind RoomKind) (*Room, error) {
	if id == "" {
		return nil, fmt.Errorf("room id empty")
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid room kind %q", kind)
	}
	return &Room{ID: id, Kind: kind, CreatedAt: time.Now().UTC()}, nil
}
