package signal

import (
	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) sendJSON(c core.SignalConnection, v any) {
	b, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("sendJSON dropped")
	}
}

func (ctl *SignalWSController) handlePing(s *session, in protocol.Inbound) error {
	ctl.Orch.MarkAlive(s.id)
	ctl.sendJSON(s.conn, protocol.Pong{Type: protocol.OutPong, RequestID: in.RequestID})
	return nil
}

// replyError reports a failed request to the requester only.
func (ctl *SignalWSController) replyError(s *session, in protocol.Inbound, err error) {
	kind := core.KindOf(err)
	ev := log.Warn()
	if kind == core.KindDependency {
		ev = log.Error()
	}
	ev.Str("module", "signal").Str("conn", string(s.id)).Str("user", string(s.user)).Str("type", string(in.Kind)).Str("kind", string(kind)).Err(err).Msg("request failed")
	ctl.Metrics.Rejected(string(kind))
	ctl.sendJSON(s.conn, protocol.ErrorFor(in, err))
}
