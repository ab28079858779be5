// Package signaling routes call-setup messages between participants of a
// call room. Sessions are transient and live only in memory.
package signaling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/talkie/internal/app"
	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/domain"
	"github.com/dkeye/talkie/internal/metrics"
	"github.com/dkeye/talkie/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type participant struct {
	app.Subscriber
	seq uint64
}

func (p *participant) info() protocol.ParticipantInfo {
	return protocol.ParticipantInfo{ParticipantID: p.Conn, UserID: p.User}
}

// session is one call room's arena entry.
type session struct {
	room         domain.RoomID
	participants map[core.ConnID]*participant
	nextSeq      uint64
	createdAt    time.Time
}

func (s *session) ordered() []*participant {
	ps := lo.Values(s.participants)
	sort.Slice(ps, func(i, j int) bool { return ps[i].seq < ps[j].seq })
	return ps
}

type Options struct {
	// EchoAudio delivers audio frames back to the sender as well.
	EchoAudio bool
}

type Router struct {
	mu            sync.Mutex
	sessions      map[domain.RoomID]*session
	byParticipant map[core.ConnID]map[domain.RoomID]struct{}

	audio   core.AudioProcessor
	opts    Options
	metrics *metrics.Metrics
}

func NewRouter(audio core.AudioProcessor, opts Options, m *metrics.Metrics) *Router {
	return &Router{
		sessions:      make(map[domain.RoomID]*session),
		byParticipant: make(map[core.ConnID]map[domain.RoomID]struct{}),
		audio:         audio,
		opts:          opts,
		metrics:       m,
	}
}

// Join adds the participant to the room's session, creating it when absent.
// Other members get participant-joined; the joiner gets session-state.
// Joining a session twice only resends session-state.
func (r *Router) Join(room domain.RoomID, p app.Subscriber) app.PublishResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[room]
	if !ok {
		s = &session{room: room, participants: make(map[core.ConnID]*participant), createdAt: time.Now()}
		r.sessions[room] = s
		r.metrics.SessionOpened()
		log.Info().Str("module", "app.signaling").Str("room", string(room)).Msg("session created")
	}

	res := app.PublishResult{}
	self, already := s.participants[p.Conn]
	if !already {
		s.nextSeq++
		self = &participant{Subscriber: p, seq: s.nextSeq}
		joined := protocol.ParticipantJoined(room, self.info())
		for _, other := range s.ordered() {
			deliver(&res, other.Subscriber, joined)
		}
		s.participants[p.Conn] = self
		if r.byParticipant[p.Conn] == nil {
			r.byParticipant[p.Conn] = make(map[domain.RoomID]struct{})
		}
		r.byParticipant[p.Conn][room] = struct{}{}
		log.Info().Str("module", "app.signaling").Str("room", string(room)).Str("conn", string(p.Conn)).Str("user", string(p.User)).Int("participants", len(s.participants)).Msg("participant joined")
	}

	others := make([]protocol.ParticipantInfo, 0, len(s.participants))
	for _, other := range s.ordered() {
		if other.Conn != p.Conn {
			others = append(others, other.info())
		}
	}
	deliver(&res, p, protocol.NewSessionState(room, p.Conn, others))
	return res
}

// Leave removes the participant from the room's session. Leaving a session
// one is not part of is a no-op.
func (r *Router) Leave(room domain.RoomID, pid core.ConnID) app.PublishResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(room, pid)
}

// LeaveAll removes the participant from every session it is part of, as if
// Leave had been called for each room.
func (r *Router) LeaveAll(pid core.ConnID) app.PublishResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := app.PublishResult{}
	for room := range r.byParticipant[pid] {
		part := r.leaveLocked(room, pid)
		res.SendTo += part.SendTo
		res.Dropped = append(res.Dropped, part.Dropped...)
	}
	return res
}

func (r *Router) leaveLocked(room domain.RoomID, pid core.ConnID) app.PublishResult {
	res := app.PublishResult{}
	s, ok := r.sessions[room]
	if !ok {
		return res
	}
	p, ok := s.participants[pid]
	if !ok {
		return res
	}
	delete(s.participants, pid)
	if rooms := r.byParticipant[pid]; rooms != nil {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.byParticipant, pid)
		}
	}
	log.Info().Str("module", "app.signaling").Str("room", string(room)).Str("conn", string(pid)).Int("participants", len(s.participants)).Msg("participant left")

	if len(s.participants) == 0 {
		delete(r.sessions, room)
		r.metrics.SessionClosed()
		log.Info().Str("module", "app.signaling").Str("room", string(room)).Dur("lifetime", time.Since(s.createdAt)).Msg("session destroyed")
		return res
	}
	left := protocol.ParticipantLeft(room, p.info())
	for _, other := range s.ordered() {
		deliver(&res, other.Subscriber, left)
	}
	return res
}

func (r *Router) Offer(room domain.RoomID, from, to core.ConnID, sd webrtc.SessionDescription) (app.PublishResult, error) {
	return r.relay(room, from, to, protocol.SignalRelay{Type: string(protocol.KindOffer), Offer: &sd})
}

func (r *Router) Answer(room domain.RoomID, from, to core.ConnID, sd webrtc.SessionDescription) (app.PublishResult, error) {
	return r.relay(room, from, to, protocol.SignalRelay{Type: string(protocol.KindAnswer), Answer: &sd})
}

func (r *Router) Candidate(room domain.RoomID, from, to core.ConnID, c webrtc.ICECandidateInit) (app.PublishResult, error) {
	return r.relay(room, from, to, protocol.SignalRelay{Type: string(protocol.KindICECandidate), Candidate: &c})
}

// relay delivers ev to the target only. A target that is not in the
// session drops the message without an error.
func (r *Router) relay(room domain.RoomID, from, to core.ConnID, ev protocol.SignalRelay) (app.PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := app.PublishResult{}
	s, ok := r.sessions[room]
	if !ok {
		return res, core.Authorization("not in call session")
	}
	sender, ok := s.participants[from]
	if !ok {
		return res, core.Authorization("not in call session")
	}
	target, ok := s.participants[to]
	if !ok {
		log.Debug().Str("module", "app.signaling").Str("room", string(room)).Str("type", ev.Type).Str("from", string(from)).Str("to", string(to)).Msg("target absent, dropped")
		return res, nil
	}
	ev.RoomID = room
	ev.From = sender.Conn
	ev.FromUser = sender.User
	deliver(&res, target.Subscriber, ev)
	r.metrics.SignalRelayed(ev.Type)
	return res, nil
}

// Audio runs the frame through the audio processor and fans the result out
// to the session. A processing failure fails this frame only.
func (r *Router) Audio(ctx context.Context, room domain.RoomID, from core.ConnID, raw []byte) (app.PublishResult, error) {
	r.mu.Lock()
	s, ok := r.sessions[room]
	var sender *participant
	if ok {
		sender, ok = s.participants[from]
	}
	r.mu.Unlock()
	if !ok {
		return app.PublishResult{}, core.Authorization("not in call session")
	}

	processed, err := r.audio.Process(ctx, raw)
	if err != nil {
		log.Warn().Str("module", "app.signaling").Str("room", string(room)).Str("conn", string(from)).Err(err).Msg("audio processing failed")
		return app.PublishResult{}, core.Dependency("audio processing failed", err)
	}

	frame := protocol.AudioFrame{
		Type:      string(protocol.KindAudio),
		RoomID:    room,
		From:      sender.Conn,
		FromUser:  sender.User,
		AudioData: processed,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	res := app.PublishResult{}
	s, ok = r.sessions[room]
	if !ok {
		return res, nil
	}
	for _, p := range s.ordered() {
		if p.Conn == from && !r.opts.EchoAudio {
			continue
		}
		deliver(&res, p.Subscriber, frame)
	}
	r.metrics.SignalRelayed(frame.Type)
	return res, nil
}

// Participants lists the room's session members in join order.
func (r *Router) Participants(room domain.RoomID) []protocol.ParticipantInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[room]
	if !ok {
		return nil
	}
	return lo.Map(s.ordered(), func(p *participant, _ int) protocol.ParticipantInfo { return p.info() })
}

func (r *Router) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// RoomsOf lists the call rooms the participant is in.
func (r *Router) RoomsOf(pid core.ConnID) []domain.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Keys(r.byParticipant[pid])
}

func deliver(res *app.PublishResult, to app.Subscriber, ev any) {
	frame, err := protocol.Encode(ev)
	if err != nil {
		log.Error().Str("module", "app.signaling").Err(err).Msg("encode failed")
		return
	}
	if err := to.Signal.TrySend(frame); err != nil {
		res.Dropped = append(res.Dropped, to)
		return
	}
	res.SendTo++
}
