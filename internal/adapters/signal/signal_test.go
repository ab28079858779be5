package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/talkie/internal/app"
	"github.com/dkeye/talkie/internal/app/chat"
	"github.com/dkeye/talkie/internal/app/orch"
	"github.com/dkeye/talkie/internal/app/signaling"
	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/domain"
	"github.com/dkeye/talkie/internal/mocks"
	"github.com/dkeye/talkie/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type harness struct {
	verifier *mocks.MockIdentityVerifier
	members  *mocks.MockMembershipStore
	messages *mocks.MockMessageStore
	orch     *orch.Orchestrator
	ctl      *SignalWSController
	url      string
}

func newHarness(t *testing.T, opts Options) *harness {
	ctrl := gomock.NewController(t)
	h := &harness{
		verifier: mocks.NewMockIdentityVerifier(ctrl),
		members:  mocks.NewMockMembershipStore(ctrl),
		messages: mocks.NewMockMessageStore(ctrl),
	}
	reg := app.NewRegistry(app.NewDirectory(), true)
	engine := chat.NewEngine(h.members, h.messages, reg, chat.Options{}, nil)
	router := signaling.NewRouter(mocks.NewMockAudioProcessor(ctrl), signaling.Options{}, nil)
	h.orch = orch.New(reg, h.members, router, engine, app.SimplePolicy{}, nil)
	h.ctl = NewSignalWSController(h.orch, h.verifier, protocol.NewDecoder(false), opts, nil)

	ctx, cancel := context.WithCancel(context.Background())
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { h.ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = engine.Close(context.Background())
	})
	h.url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return h
}

func (h *harness) dial(t *testing.T, query string, header http.Header) *websocket.Conn {
	ws, _, err := websocket.DefaultDialer.Dial(h.url+query, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var ev map[string]any
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func readClose(t *testing.T, ws *websocket.Conn) int {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.True(t, errors.As(err, &ce), "expected close error, got %v", err)
		return ce.Code
	}
}

func TestHandleSignal_BadCredentialClosesWithAuthCode(t *testing.T) {
	h := newHarness(t, Options{})
	h.verifier.EXPECT().Verify("bad").Return(domain.UserID(""), errors.New("signature invalid"))

	ws := h.dial(t, "?token=bad", nil)

	require.Equal(t, int(core.CloseAuthFailed), readClose(t, ws))
}

func TestHandleSignal_ScopedNonMemberIsForbidden(t *testing.T) {
	h := newHarness(t, Options{})
	h.verifier.EXPECT().Verify("good").Return(domain.UserID("u1"), nil)
	h.members.EXPECT().IsMember(gomock.Any(), domain.RoomID("c9"), domain.UserID("u1")).Return(false, nil)

	header := http.Header{}
	header.Set("Authorization", "Bearer good")
	ws := h.dial(t, "?chat=c9", header)

	require.Equal(t, int(core.CloseForbidden), readClose(t, ws))
}

func TestHandleSignal_WelcomePingAndErrors(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{})
	h.verifier.EXPECT().Verify("good").Return(domain.UserID("u1"), nil)
	h.members.EXPECT().ListRoomsFor(gomock.Any(), domain.UserID("u1")).Return([]domain.RoomID{"c1"}, nil)
	h.members.EXPECT().IsMember(gomock.Any(), domain.RoomID("c1"), domain.UserID("u1")).Return(true, nil)

	ws := h.dial(t, "?token=good", nil)

	welcome := readEvent(t, ws)
	req.Equal("welcome", welcome["type"])
	req.Equal("u1", welcome["userId"])
	req.Equal([]any{"c1"}, welcome["chats"])

	req.NoError(ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","requestId":"r1"}`)))
	pong := readEvent(t, ws)
	req.Equal("pong", pong["type"])
	req.Equal("r1", pong["requestId"])

	req.NoError(ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"teleport","requestId":"r2"}`)))
	bad := readEvent(t, ws)
	req.Equal("error", bad["type"])
	req.Equal("malformed", bad["kind"])
	req.Equal("r2", bad["requestId"])

	req.NoError(ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"sendMessage","chatId":"c1"}`)))
	invalid := readEvent(t, ws)
	req.Equal("malformed", invalid["kind"])
	req.Equal("sendMessage", invalid["request"])

	// the connection stays open after errors
	req.NoError(ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	req.Equal("pong", readEvent(t, ws)["type"])
}

func TestHandleSignal_RateLimit(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{EventsPerSecond: 0.001, Burst: 1})
	h.verifier.EXPECT().Verify("good").Return(domain.UserID("u1"), nil)
	h.members.EXPECT().ListRoomsFor(gomock.Any(), gomock.Any()).Return(nil, nil)

	ws := h.dial(t, "?token=good", nil)
	readEvent(t, ws)

	req.NoError(ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	req.Equal("pong", readEvent(t, ws)["type"])
	req.NoError(ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	limited := readEvent(t, ws)
	req.Equal("error", limited["type"])
	req.Equal("rate_limited", limited["message"])
}

func TestHandleSignal_OfferBetweenPeers(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{})
	h.verifier.EXPECT().Verify("t1").Return(domain.UserID("u1"), nil)
	h.verifier.EXPECT().Verify("t2").Return(domain.UserID("u2"), nil)
	h.members.EXPECT().ListRoomsFor(gomock.Any(), gomock.Any()).Return([]domain.RoomID{"R1"}, nil).Times(2)
	h.members.EXPECT().IsMember(gomock.Any(), domain.RoomID("R1"), gomock.Any()).Return(true, nil).Times(4)

	ws1 := h.dial(t, "?token=t1", nil)
	w1 := readEvent(t, ws1)
	ws2 := h.dial(t, "?token=t2", nil)
	w2 := readEvent(t, ws2)

	req.NoError(ws1.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","roomId":"R1"}`)))
	req.Equal("session-state", readEvent(t, ws1)["type"])
	req.NoError(ws2.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","roomId":"R1"}`)))
	req.Equal("participant-joined", readEvent(t, ws1)["type"])
	req.Equal("session-state", readEvent(t, ws2)["type"])

	offer := `{"type":"offer","roomId":"R1","to":"` + w2["connectionId"].(string) + `","offer":{"type":"offer","sdp":"v=0"}}`
	req.NoError(ws1.WriteMessage(websocket.TextMessage, []byte(offer)))

	got := readEvent(t, ws2)
	req.Equal("offer", got["type"])
	req.Equal(w1["connectionId"], got["from"])
	req.Equal("u1", got["fromUser"])

	// When U1 goes away U2 is told once
	req.NoError(ws1.Close())
	left := readEvent(t, ws2)
	req.Equal("participant-left", left["type"])
	req.Equal(w1["connectionId"], left["participantId"])
}

func TestDispatchTable_CoversEveryKind(t *testing.T) {
	ctl := &SignalWSController{}
	routes := ctl.buildRoutes()
	for _, k := range protocol.Kinds() {
		_, ok := routes[k]
		require.True(t, ok, "no handler for %s", k)
	}
	require.Len(t, routes, len(protocol.Kinds()))
}

func TestBearerToken(t *testing.T) {
	req := require.New(t)
	r := httptest.NewRequest("GET", "/ws?token=q", nil)
	req.Equal("q", BearerToken(r))
	r.Header.Set("Authorization", "Bearer h")
	req.Equal("h", BearerToken(r))
}
