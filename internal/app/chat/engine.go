// Package chat is the chat fanout engine: it authorizes a chat operation,
// commits it to the message store and broadcasts the committed record to
// the room, one room at a time.
package chat

import (
	"context"
	"time"

	"github.com/dkeye/talkie/internal/app"
	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/domain"
	"github.com/dkeye/talkie/internal/metrics"
	"github.com/dkeye/talkie/internal/protocol"
	"github.com/rs/zerolog/log"
)

type Options struct {
	HistoryLimit int
	LaneQueue    int
	LaneIdle     time.Duration
	StoreTimeout time.Duration
}

func (o *Options) defaults() {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 50
	}
	if o.LaneQueue <= 0 {
		o.LaneQueue = 64
	}
	if o.LaneIdle <= 0 {
		o.LaneIdle = time.Minute
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 10 * time.Second
	}
}

// DropHandler receives subscribers a broadcast could not reach.
type DropHandler func(room domain.RoomID, dropped []app.Subscriber)

type Engine struct {
	members  core.MembershipStore
	messages core.MessageStore
	reg      *app.Registry
	lanes    *laneManager
	opts     Options
	metrics  *metrics.Metrics
	onDrop   DropHandler
}

func NewEngine(members core.MembershipStore, messages core.MessageStore, reg *app.Registry, opts Options, m *metrics.Metrics) *Engine {
	opts.defaults()
	return &Engine{
		members:  members,
		messages: messages,
		reg:      reg,
		lanes:    newLaneManager(opts.LaneQueue, opts.LaneIdle, opts.StoreTimeout, m),
		opts:     opts,
		metrics:  m,
	}
}

// OnDrop installs the backpressure handler. Call before serving traffic.
func (e *Engine) OnDrop(h DropHandler) { e.onDrop = h }

// Close stops accepting operations and waits for the lanes to drain.
func (e *Engine) Close(ctx context.Context) error {
	return e.lanes.close(ctx)
}

func (e *Engine) ActiveLanes() int { return e.lanes.active() }

// access is what authorize learned about the requester.
type access struct {
	room domain.Room
	role domain.Role
}

func (e *Engine) authorize(ctx context.Context, room domain.RoomID, user domain.UserID) (access, error) {
	r, err := e.members.RoomOf(ctx, room)
	if err != nil {
		return access{}, core.Classify("chat not found", err)
	}
	role, ok, err := e.members.RoleOf(ctx, room, user)
	if err != nil {
		return access{}, core.Dependency("membership lookup failed", err)
	}
	if !ok {
		return access{}, core.Authorization("not a member of this chat")
	}
	return access{room: r, role: role}, nil
}

func (e *Engine) broadcast(room domain.RoomID, ev any, typ string, except core.ConnID) {
	frame, err := protocol.Encode(ev)
	if err != nil {
		log.Error().Str("module", "app.chat").Str("room", string(room)).Err(err).Msg("encode failed")
		return
	}
	res := e.reg.Directory().Broadcast(room, frame, except)
	e.metrics.ChatBroadcast(typ)
	e.dropped(room, res)
}

func (e *Engine) reply(to app.Subscriber, ev any) {
	frame, err := protocol.Encode(ev)
	if err != nil {
		log.Error().Str("module", "app.chat").Err(err).Msg("encode failed")
		return
	}
	if err := to.Signal.TrySend(frame); err != nil {
		e.dropped("", app.PublishResult{Dropped: []app.Subscriber{to}})
	}
}

func (e *Engine) dropped(room domain.RoomID, res app.PublishResult) {
	if len(res.Dropped) == 0 {
		return
	}
	if e.onDrop != nil {
		e.onDrop(room, res.Dropped)
	}
}
