package signal

import (
	"context"
	"time"

	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if !c.isClosed() {
					log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				}
				return
			}
		}
	}
}

// readPump owns the connection: when it returns the connection is
// deregistered and closed.
func (ctl *SignalWSController) readPump(ctx context.Context, s *session) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(s.id)).Str("user", string(s.user)).Msg("readPump closing")
		ctl.Orch.Disconnect(s.id)
		s.conn.Close()
	}()

	ws := s.conn.conn
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}
	_ = ws.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		ctl.Orch.MarkAlive(s.id)
		return ws.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !s.conn.isClosed() {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(s.id)).Msg("readPump read error")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
		ctl.handleFrame(ctx, s, data)
	}
}

func (ctl *SignalWSController) handleFrame(ctx context.Context, s *session, data []byte) {
	in, err := ctl.Decoder.Decode(data)
	if err != nil {
		ctl.replyError(s, in, err)
		return
	}
	if !s.limiter.Allow() {
		ctl.replyError(s, in, core.Malformed("rate_limited", nil))
		return
	}
	if err := ctl.dispatch(ctx, s, in); err != nil {
		ctl.replyError(s, in, err)
	}
}

func (ctl *SignalWSController) dispatch(ctx context.Context, s *session, in protocol.Inbound) error {
	h, ok := ctl.routes[in.Kind]
	if !ok {
		return core.Malformed("unknown event type "+string(in.Kind), protocol.ErrUnknownKind)
	}
	return h(ctx, s, in)
}
