package signal

import (
	"context"

	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/protocol"
)

type handler func(ctx context.Context, s *session, in protocol.Inbound) error

// on adapts a typed handler to the dispatch table.
func on[E protocol.Event](fn func(ctx context.Context, s *session, ev E) error) handler {
	return func(ctx context.Context, s *session, in protocol.Inbound) error {
		ev, ok := in.Event.(E)
		if !ok {
			return core.Malformed("unexpected payload for "+string(in.Kind), nil)
		}
		return fn(ctx, s, ev)
	}
}

func (ctl *SignalWSController) buildRoutes() map[protocol.Kind]handler {
	o := ctl.Orch
	return map[protocol.Kind]handler{
		protocol.KindJoin: on(func(ctx context.Context, s *session, ev protocol.Join) error {
			return o.JoinCall(ctx, s.id, ev)
		}),
		protocol.KindLeave: on(func(_ context.Context, s *session, ev protocol.Leave) error {
			return o.LeaveCall(s.id, ev)
		}),
		protocol.KindOffer: on(func(_ context.Context, s *session, ev protocol.Offer) error {
			return o.Offer(s.id, ev)
		}),
		protocol.KindAnswer: on(func(_ context.Context, s *session, ev protocol.Answer) error {
			return o.Answer(s.id, ev)
		}),
		protocol.KindICECandidate: on(func(_ context.Context, s *session, ev protocol.ICECandidate) error {
			return o.Candidate(s.id, ev)
		}),
		protocol.KindAudio: on(func(ctx context.Context, s *session, ev protocol.Audio) error {
			return o.Audio(ctx, s.id, ev)
		}),

		protocol.KindSendMessage: on(func(ctx context.Context, s *session, ev protocol.SendMessage) error {
			return o.SendMessage(ctx, s.id, ev)
		}),
		protocol.KindDeleteMessage: on(func(ctx context.Context, s *session, ev protocol.DeleteMessage) error {
			return o.DeleteMessage(ctx, s.id, ev)
		}),
		protocol.KindPinMessage: on(func(ctx context.Context, s *session, ev protocol.PinMessage) error {
			return o.PinMessage(ctx, s.id, ev)
		}),
		protocol.KindUnpinMessage: on(func(ctx context.Context, s *session, ev protocol.UnpinMessage) error {
			return o.UnpinMessage(ctx, s.id, ev)
		}),
		protocol.KindJoinCommunityChat: on(func(ctx context.Context, s *session, ev protocol.JoinCommunityChat) error {
			return o.JoinCommunity(ctx, s.id, ev)
		}),
		protocol.KindLeaveCommunityChat: on(func(ctx context.Context, s *session, ev protocol.LeaveCommunityChat) error {
			return o.LeaveCommunity(ctx, s.id, ev)
		}),
		protocol.KindChangeRole: on(func(ctx context.Context, s *session, ev protocol.ChangeRole) error {
			return o.ChangeRole(ctx, s.id, ev)
		}),
		protocol.KindListMessages: on(func(ctx context.Context, s *session, ev protocol.ListMessages) error {
			out, err := o.ListMessages(ctx, s.id, ev)
			if err != nil {
				return err
			}
			ctl.sendJSON(s.conn, out)
			return nil
		}),

		protocol.KindPing: func(_ context.Context, s *session, in protocol.Inbound) error {
			return ctl.handlePing(s, in)
		},
	}
}
