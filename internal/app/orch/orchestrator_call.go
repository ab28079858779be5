package orch

import (
	"context"

	"github.com/dkeye/talkie/internal/app"
	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/protocol"
)

func (o *Orchestrator) subscriber(id core.ConnID) (app.Subscriber, error) {
	snap, ok := o.Registry.Get(id)
	if !ok {
		return app.Subscriber{}, core.ErrConnClosed
	}
	return app.Subscriber{Conn: snap.ID, User: snap.User, Signal: snap.Signal}, nil
}

// JoinCall puts the connection into the room's call session. Only durable
// members of the room may join.
func (o *Orchestrator) JoinCall(ctx context.Context, id core.ConnID, ev protocol.Join) error {
	sub, err := o.subscriber(id)
	if err != nil {
		return err
	}
	member, err := o.Members.IsMember(ctx, ev.RoomID, sub.User)
	if err != nil {
		return core.Dependency("membership lookup failed", err)
	}
	if !member {
		return core.Authorization("not authorized for this room")
	}
	o.applyPolicy(ev.RoomID, o.Signals.Join(ev.RoomID, sub))
	return nil
}

func (o *Orchestrator) LeaveCall(id core.ConnID, ev protocol.Leave) error {
	o.applyPolicy(ev.RoomID, o.Signals.Leave(ev.RoomID, id))
	return nil
}

func (o *Orchestrator) Offer(id core.ConnID, ev protocol.Offer) error {
	res, err := o.Signals.Offer(ev.RoomID, id, ev.To, ev.Offer)
	o.applyPolicy(ev.RoomID, res)
	return err
}

func (o *Orchestrator) Answer(id core.ConnID, ev protocol.Answer) error {
	res, err := o.Signals.Answer(ev.RoomID, id, ev.To, ev.Answer)
	o.applyPolicy(ev.RoomID, res)
	return err
}

func (o *Orchestrator) Candidate(id core.ConnID, ev protocol.ICECandidate) error {
	res, err := o.Signals.Candidate(ev.RoomID, id, ev.To, ev.Candidate)
	o.applyPolicy(ev.RoomID, res)
	return err
}

func (o *Orchestrator) Audio(ctx context.Context, id core.ConnID, ev protocol.Audio) error {
	res, err := o.Signals.Audio(ctx, ev.RoomID, id, ev.AudioData)
	o.applyPolicy(ev.RoomID, res)
	return err
}
