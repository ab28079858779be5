package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dkeye/talkie/internal/core"
	"github.com/go-playground/validator/v10"
	"github.com/pion/webrtc/v4"
)

var ErrUnknownKind = errors.New("unknown event type")

// registry of inbound kinds; every decoder target is a pointer.
var kinds = map[Kind]func() Event{
	KindJoin:               func() Event { return &Join{} },
	KindLeave:              func() Event { return &Leave{} },
	KindOffer:              func() Event { return &Offer{} },
	KindAnswer:             func() Event { return &Answer{} },
	KindICECandidate:       func() Event { return &ICECandidate{} },
	KindAudio:              func() Event { return &Audio{} },
	KindSendMessage:        func() Event { return &SendMessage{} },
	KindDeleteMessage:      func() Event { return &DeleteMessage{} },
	KindPinMessage:         func() Event { return &PinMessage{} },
	KindUnpinMessage:       func() Event { return &UnpinMessage{} },
	KindJoinCommunityChat:  func() Event { return &JoinCommunityChat{} },
	KindLeaveCommunityChat: func() Event { return &LeaveCommunityChat{} },
	KindListMessages:       func() Event { return &ListMessages{} },
	KindChangeRole:         func() Event { return &ChangeRole{} },
	KindPing:               func() Event { return &Ping{} },
}

// Kinds lists every inbound kind, sorted.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type envelope struct {
	Type      Kind   `json:"type"`
	RequestID string `json:"requestId,omitempty"`
}

// Inbound is a decoded client event with its correlation fields.
type Inbound struct {
	Kind      Kind
	RequestID string
	Event     Event
}

type Decoder struct {
	validate    *validator.Validate
	validateSDP bool
}

func NewDecoder(validateSDP bool) *Decoder {
	return &Decoder{validate: validator.New(), validateSDP: validateSDP}
}

// Decode parses one frame. Every failure is a Malformed core.Error; the
// returned Inbound keeps whatever type and request id could be read.
func (d *Decoder) Decode(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Inbound{}, core.Malformed("invalid json", err)
	}
	in := Inbound{Kind: env.Type, RequestID: env.RequestID}
	mk, ok := kinds[env.Type]
	if !ok {
		return in, core.Malformed(fmt.Sprintf("unknown event type %q", env.Type), ErrUnknownKind)
	}
	ev := mk()
	if err := json.Unmarshal(data, ev); err != nil {
		return in, core.Malformed("invalid "+string(env.Type)+" payload", err)
	}
	if err := d.validate.Struct(ev); err != nil {
		return in, core.Malformed("invalid "+string(env.Type)+" payload", err)
	}
	if err := d.checkSignal(ev); err != nil {
		return in, core.Malformed("invalid "+string(env.Type)+" payload", err)
	}
	in.Event = deref(ev)
	return in, nil
}

func (d *Decoder) checkSignal(ev Event) error {
	switch e := ev.(type) {
	case *Offer:
		return d.checkSDP(e.Offer, webrtc.SDPTypeOffer)
	case *Answer:
		if e.Answer.Type == webrtc.SDPTypePranswer {
			return d.checkSDP(e.Answer, webrtc.SDPTypePranswer)
		}
		return d.checkSDP(e.Answer, webrtc.SDPTypeAnswer)
	}
	return nil
}

func (d *Decoder) checkSDP(sd webrtc.SessionDescription, want webrtc.SDPType) error {
	if sd.Type != want {
		return fmt.Errorf("session description type %s, want %s", sd.Type, want)
	}
	if sd.SDP == "" {
		return errors.New("empty sdp")
	}
	if !d.validateSDP {
		return nil
	}
	if _, err := sd.Unmarshal(); err != nil {
		return fmt.Errorf("parse sdp: %w", err)
	}
	return nil
}

// deref hands handlers value types so the dispatch table switches on them.
func deref(ev Event) Event {
	switch e := ev.(type) {
	case *Join:
		return *e
	case *Leave:
		return *e
	case *Offer:
		return *e
	case *Answer:
		return *e
	case *ICECandidate:
		return *e
	case *Audio:
		return *e
	case *SendMessage:
		return *e
	case *DeleteMessage:
		return *e
	case *PinMessage:
		return *e
	case *UnpinMessage:
		return *e
	case *JoinCommunityChat:
		return *e
	case *LeaveCommunityChat:
		return *e
	case *ListMessages:
		return *e
	case *ChangeRole:
		return *e
	case *Ping:
		return *e
	}
	return ev
}
