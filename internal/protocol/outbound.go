package protocol

import (
	"encoding/json"

	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/domain"
	"github.com/pion/webrtc/v4"
)

const (
	OutParticipantJoined = "participant-joined"
	OutParticipantLeft   = "participant-left"
	OutSessionState      = "session-state"

	OutNewMessage       = "newMessage"
	OutMessageDeleted   = "messageDeleted"
	OutMessagePinned    = "messagePinned"
	OutMessageUnpinned  = "messageUnpinned"
	OutJoinedChat       = "joinedCommunityChat"
	OutLeftChat         = "leftCommunityChat"
	OutUserJoinedChat   = "userJoinedChat"
	OutUserLeftChat     = "userLeftChat"
	OutMessages         = "messages"
	OutRoleChanged      = "roleChanged"
	OutError            = "error"
	OutPong             = "pong"
	OutWelcome          = "welcome"
)

type ParticipantInfo struct {
	ParticipantID core.ConnID   `json:"participantId"`
	UserID        domain.UserID `json:"userId"`
}

type ParticipantEvent struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	ParticipantInfo
}

func ParticipantJoined(room domain.RoomID, p ParticipantInfo) ParticipantEvent {
	return ParticipantEvent{Type: OutParticipantJoined, RoomID: room, ParticipantInfo: p}
}

func ParticipantLeft(room domain.RoomID, p ParticipantInfo) ParticipantEvent {
	return ParticipantEvent{Type: OutParticipantLeft, RoomID: room, ParticipantInfo: p}
}

// SessionState is sent to a joiner: its own participant id and everyone
// already in the call.
type SessionState struct {
	Type          string            `json:"type"`
	RoomID        domain.RoomID     `json:"roomId"`
	ParticipantID core.ConnID       `json:"participantId"`
	Participants  []ParticipantInfo `json:"participants"`
}

func NewSessionState(room domain.RoomID, self core.ConnID, others []ParticipantInfo) SessionState {
	if others == nil {
		others = []ParticipantInfo{}
	}
	return SessionState{Type: OutSessionState, RoomID: room, ParticipantID: self, Participants: others}
}

// SignalRelay is a peer-addressed offer, answer or ice-candidate as the
// target receives it.
type SignalRelay struct {
	Type      string                     `json:"type"`
	RoomID    domain.RoomID              `json:"roomId"`
	From      core.ConnID                `json:"from"`
	FromUser  domain.UserID              `json:"fromUser"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

type AudioFrame struct {
	Type      string        `json:"type"`
	RoomID    domain.RoomID `json:"roomId"`
	From      core.ConnID   `json:"from"`
	FromUser  domain.UserID `json:"fromUser"`
	AudioData []byte        `json:"audioData"`
}

// MessageEvent carries a canonical persisted message.
type MessageEvent struct {
	Type    string             `json:"type"`
	Message domain.ChatMessage `json:"message"`
}

func NewMessage(m domain.ChatMessage) MessageEvent {
	return MessageEvent{Type: OutNewMessage, Message: m}
}

func MessagePinned(m domain.ChatMessage) MessageEvent {
	t := OutMessagePinned
	if !m.Pinned {
		t = OutMessageUnpinned
	}
	return MessageEvent{Type: t, Message: m}
}

type MessageDeleted struct {
	Type      string           `json:"type"`
	ChatID    domain.RoomID    `json:"chatId"`
	MessageID domain.MessageID `json:"messageId"`
}

// ChatAck answers the requester of a community join or leave.
type ChatAck struct {
	Type   string        `json:"type"`
	ChatID domain.RoomID `json:"chatId"`
}

// ChatPresence tells the other members of a chat that a user joined or left.
type ChatPresence struct {
	Type   string        `json:"type"`
	ChatID domain.RoomID `json:"chatId"`
	UserID domain.UserID `json:"userId"`
}

type Messages struct {
	Type     string               `json:"type"`
	ChatID   domain.RoomID        `json:"chatId"`
	Messages []domain.ChatMessage `json:"messages"`
}

type RoleChanged struct {
	Type   string        `json:"type"`
	ChatID domain.RoomID `json:"chatId"`
	UserID domain.UserID `json:"userId"`
	Role   domain.Role   `json:"role"`
	By     domain.UserID `json:"by"`
}

type Error struct {
	Type      string    `json:"type"`
	Kind      core.Kind `json:"kind"`
	Message   string    `json:"message"`
	Request   Kind      `json:"request,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
}

// ErrorFor builds the reply for a failed request.
func ErrorFor(in Inbound, err error) Error {
	return Error{
		Type:      OutError,
		Kind:      core.KindOf(err),
		Message:   core.MessageOf(err),
		Request:   in.Kind,
		RequestID: in.RequestID,
	}
}

type Pong struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
}

type Welcome struct {
	Type         string          `json:"type"`
	ConnectionID core.ConnID     `json:"connectionId"`
	UserID       domain.UserID   `json:"userId"`
	Chats        []domain.RoomID `json:"chats"`
}

// Encode marshals an outbound event into a frame.
func Encode(v any) (core.Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}
