package orch

import (
	"context"
	"errors"

	"github.com/dkeye/talkie/internal/app"
	"github.com/dkeye/talkie/internal/app/chat"
	"github.com/dkeye/talkie/internal/app/signaling"
	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/domain"
	"github.com/dkeye/talkie/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Orchestrator owns the connection lifecycle and routes decoded events to
// the signaling router and the chat engine.
type Orchestrator struct {
	Registry *app.Registry
	Members  core.MembershipStore
	Signals  *signaling.Router
	Chat     *chat.Engine
	Policy   app.Policy
	Metrics  *metrics.Metrics
}

func New(reg *app.Registry, members core.MembershipStore, signals *signaling.Router, engine *chat.Engine, policy app.Policy, m *metrics.Metrics) *Orchestrator {
	o := &Orchestrator{
		Registry: reg,
		Members:  members,
		Signals:  signals,
		Chat:     engine,
		Policy:   policy,
		Metrics:  m,
	}
	engine.OnDrop(o.OnDropped)
	return o
}

// Connect registers an authenticated connection and subscribes it to every
// chat its identity belongs to, or only to scope when one is given.
// Memberships are read after registration and each subscription goes
// through the room's chat lane.
func (o *Orchestrator) Connect(ctx context.Context, user domain.UserID, sig core.SignalConnection, cancel context.CancelFunc, scope domain.RoomID) (core.ConnID, []domain.RoomID, error) {
	if scope != "" {
		member, err := o.Members.IsMember(ctx, scope, user)
		if err != nil {
			return "", nil, core.Dependency("membership lookup failed", err)
		}
		if !member {
			return "", nil, core.Authorization("not authorized for this chat")
		}
	}

	id, err := o.Registry.RegisterScoped(user, sig, cancel, scope)
	if err != nil {
		if errors.Is(err, app.ErrDuplicateAuth) {
			return "", nil, core.Authorization("identity already connected")
		}
		return "", nil, err
	}

	rooms := []domain.RoomID{scope}
	if scope == "" {
		rooms, err = o.Members.ListRoomsFor(ctx, user)
		if err != nil {
			o.Registry.Deregister(id)
			return "", nil, core.Dependency("membership lookup failed", err)
		}
	}
	joined, err := o.Chat.Attach(ctx, id, user, rooms)
	if err != nil {
		o.Registry.Deregister(id)
		return "", nil, core.Classify("membership lookup failed", err)
	}
	if scope != "" && len(joined) == 0 {
		o.Registry.Deregister(id)
		return "", nil, core.Authorization("not authorized for this chat")
	}
	o.Metrics.ConnectionOpened()
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("user", string(user)).Int("rooms", len(joined)).Msg("connection ready")
	return id, joined, nil
}

// Disconnect deregisters the connection and removes it from every call
// session. Calling it again for the same connection does nothing.
func (o *Orchestrator) Disconnect(id core.ConnID) {
	snap, ok := o.Registry.Deregister(id)
	if !ok {
		return
	}
	res := o.Signals.LeaveAll(id)
	o.Metrics.ConnectionClosed()
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("user", string(snap.User)).Msg("connection gone")
	o.applyPolicy("", res)
}

// Reap closes a connection that failed its heartbeat.
func (o *Orchestrator) Reap(c app.ConnSnapshot, reason string) {
	c.Signal.CloseWith(core.CloseHeartbeatTimeout, reason)
	o.Disconnect(c.ID)
}

// MarkAlive records a liveness response.
func (o *Orchestrator) MarkAlive(id core.ConnID) {
	o.Registry.MarkAlive(id)
}

func (o *Orchestrator) Kick(id core.ConnID, code core.CloseCode, reason string) {
	snap, ok := o.Registry.Get(id)
	if !ok {
		return
	}
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("user", string(snap.User)).Int("code", int(code)).Str("reason", reason).Msg("kicking connection")
	snap.Signal.CloseWith(code, reason)
	o.Disconnect(id)
}

// OnDropped applies the backpressure policy to subscribers a broadcast
// could not reach.
func (o *Orchestrator) OnDropped(room domain.RoomID, dropped []app.Subscriber) {
	o.applyPolicy(room, app.PublishResult{Dropped: dropped})
}

func (o *Orchestrator) applyPolicy(room domain.RoomID, res app.PublishResult) {
	if len(res.Dropped) == 0 || o.Policy == nil {
		return
	}
	o.Metrics.Backpressure(len(res.Dropped))
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			o.Kick(slow.Conn, core.ClosePolicyViolation, "send buffer full")
		case app.MarkSlow:
			log.Warn().Str("module", "orch").Str("conn", string(slow.Conn)).Str("room", string(room)).Msg("slow consumer")
		case app.DropFrame, app.NoAction:
		}
	}
}

// Shutdown closes every connection with going-away and drains the chat
// lanes.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	for _, c := range o.Registry.Snapshot() {
		c.Signal.CloseWith(core.CloseGoingAway, "server shutting down")
		o.Disconnect(c.ID)
	}
	return o.Chat.Close(ctx)
}
