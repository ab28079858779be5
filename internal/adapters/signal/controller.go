package signal

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/talkie/internal/app/orch"
	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/domain"
	"github.com/dkeye/talkie/internal/metrics"
	"github.com/dkeye/talkie/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	SendBuffer      int
	WriteWait       time.Duration
	ReadLimit       int64
	PongWait        time.Duration
	EventsPerSecond float64
	Burst           int
}

type SignalWSController struct {
	Orch     *orch.Orchestrator
	Verifier core.IdentityVerifier
	Decoder  *protocol.Decoder
	Metrics  *metrics.Metrics
	opts     Options
	routes   map[protocol.Kind]handler
}

func NewSignalWSController(o *orch.Orchestrator, verifier core.IdentityVerifier, dec *protocol.Decoder, opts Options, m *metrics.Metrics) *SignalWSController {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 5 * time.Second
	}
	if opts.PongWait <= 0 {
		opts.PongWait = time.Minute
	}
	ctl := &SignalWSController{
		Orch:     o,
		Verifier: verifier,
		Decoder:  dec,
		Metrics:  m,
		opts:     opts,
	}
	ctl.routes = ctl.buildRoutes()
	return ctl
}

// session is the per-connection state owned by the read pump.
type session struct {
	id      core.ConnID
	user    domain.UserID
	conn    *WsSignalConn
	limiter *EventLimiter
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// BearerToken reads the credential from the Authorization header or the
// token query parameter.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return r.URL.Query().Get("token")
}

// HandleSignal upgrades the request, authenticates and runs the
// connection until it closes. Authentication happens after the upgrade so
// the client can read the close code.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	conn := NewWsSignalConn(ws, ctl.opts.SendBuffer, ctl.opts.WriteWait)

	user, err := ctl.Verifier.Verify(BearerToken(c.Request))
	if err != nil {
		log.Info().Str("module", "signal").Str("remote", c.ClientIP()).Err(err).Msg("authentication failed")
		ctl.Metrics.Rejected(string(core.KindAuth))
		conn.CloseWith(core.CloseAuthFailed, "authentication failed")
		return
	}

	connCtx, cancel := context.WithCancel(ctx)
	scope := domain.RoomID(c.Query("chat"))
	id, rooms, err := ctl.Orch.Connect(connCtx, user, conn, cancel, scope)
	if err != nil {
		cancel()
		code := core.CloseCode(websocket.CloseInternalServerErr)
		if core.KindOf(err) == core.KindAuthorization {
			code = core.CloseForbidden
		}
		log.Info().Str("module", "signal").Str("user", string(user)).Str("chat", string(scope)).Err(err).Msg("connection refused")
		conn.CloseWith(code, core.MessageOf(err))
		return
	}

	s := &session{
		id:      id,
		user:    user,
		conn:    conn,
		limiter: NewEventLimiter(ctl.opts.EventsPerSecond, ctl.opts.Burst),
	}
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("user", string(user)).Msg("new WS connection")
	ctl.sendJSON(conn, protocol.Welcome{Type: protocol.OutWelcome, ConnectionID: id, UserID: user, Chats: rooms})

	go ctl.writePump(connCtx, conn)
	go ctl.readPump(connCtx, s)
}
