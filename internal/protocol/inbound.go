// Package protocol is the wire model of the relay: one struct per inbound
// event kind, decoded through a kind table, and the outbound event shapes.
package protocol

import (
	"time"

	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Kind string

const (
	KindJoin         Kind = "join"
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"
	KindLeave        Kind = "leave"
	KindAudio        Kind = "audio"

	KindSendMessage        Kind = "sendMessage"
	KindDeleteMessage      Kind = "deleteMessage"
	KindPinMessage         Kind = "pinMessage"
	KindUnpinMessage       Kind = "unpinMessage"
	KindJoinCommunityChat  Kind = "joinCommunityChat"
	KindLeaveCommunityChat Kind = "leaveCommunityChat"
	KindListMessages       Kind = "listMessages"
	KindChangeRole         Kind = "changeRole"

	KindPing Kind = "ping"
)

// Event is implemented by every inbound event struct.
type Event interface {
	Kind() Kind
}

// Signaling events.

type Join struct {
	RoomID domain.RoomID `json:"roomId" validate:"required,max=128"`
}

type Leave struct {
	RoomID domain.RoomID `json:"roomId" validate:"required,max=128"`
}

type Offer struct {
	RoomID domain.RoomID             `json:"roomId" validate:"required,max=128"`
	To     core.ConnID               `json:"to" validate:"required"`
	Offer  webrtc.SessionDescription `json:"offer"`
}

type Answer struct {
	RoomID domain.RoomID             `json:"roomId" validate:"required,max=128"`
	To     core.ConnID               `json:"to" validate:"required"`
	Answer webrtc.SessionDescription `json:"answer"`
}

type ICECandidate struct {
	RoomID    domain.RoomID           `json:"roomId" validate:"required,max=128"`
	To        core.ConnID             `json:"to" validate:"required"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// Audio carries one encoded frame, base64 on the wire.
type Audio struct {
	RoomID    domain.RoomID `json:"roomId" validate:"required,max=128"`
	AudioData []byte        `json:"audioData" validate:"required,max=65536"`
}

// Chat events.

type SendMessage struct {
	ChatID  domain.RoomID `json:"chatId" validate:"required,max=128"`
	Message string        `json:"message" validate:"required,max=4000"`
}

type DeleteMessage struct {
	ChatID    domain.RoomID    `json:"chatId" validate:"required,max=128"`
	MessageID domain.MessageID `json:"messageId" validate:"required"`
}

type PinMessage struct {
	ChatID    domain.RoomID    `json:"chatId" validate:"required,max=128"`
	MessageID domain.MessageID `json:"messageId" validate:"required"`
}

type UnpinMessage struct {
	ChatID    domain.RoomID    `json:"chatId" validate:"required,max=128"`
	MessageID domain.MessageID `json:"messageId" validate:"required"`
}

type JoinCommunityChat struct {
	ChatID domain.RoomID `json:"chatId" validate:"required,max=128"`
}

type LeaveCommunityChat struct {
	ChatID domain.RoomID `json:"chatId" validate:"required,max=128"`
}

// ListMessages pages backwards through history. Zero Limit means the
// configured default, nil Before means newest.
type ListMessages struct {
	ChatID domain.RoomID `json:"chatId" validate:"required,max=128"`
	Limit  int           `json:"limit" validate:"gte=0,lte=200"`
	Before *time.Time    `json:"before,omitempty"`
}

type ChangeRole struct {
	ChatID domain.RoomID `json:"chatId" validate:"required,max=128"`
	UserID domain.UserID `json:"userId" validate:"required,max=36"`
	Role   domain.Role   `json:"role" validate:"required,oneof=creator admin member"`
}

type Ping struct{}

func (Join) Kind() Kind               { return KindJoin }
func (Leave) Kind() Kind              { return KindLeave }
func (Offer) Kind() Kind              { return KindOffer }
func (Answer) Kind() Kind             { return KindAnswer }
func (ICECandidate) Kind() Kind       { return KindICECandidate }
func (Audio) Kind() Kind              { return KindAudio }
func (SendMessage) Kind() Kind        { return KindSendMessage }
func (DeleteMessage) Kind() Kind      { return KindDeleteMessage }
func (PinMessage) Kind() Kind         { return KindPinMessage }
func (UnpinMessage) Kind() Kind       { return KindUnpinMessage }
func (JoinCommunityChat) Kind() Kind  { return KindJoinCommunityChat }
func (LeaveCommunityChat) Kind() Kind { return KindLeaveCommunityChat }
func (ListMessages) Kind() Kind       { return KindListMessages }
func (ChangeRole) Kind() Kind         { return KindChangeRole }
func (Ping) Kind() Kind               { return KindPing }
