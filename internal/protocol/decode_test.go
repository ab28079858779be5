package protocol

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/dkeye/talkie/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

const testSDP = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

func TestDecode_ChatEvents(t *testing.T) {
	req := require.New(t)
	d := NewDecoder(true)

	in, err := d.Decode([]byte(`{"type":"sendMessage","chatId":"c1","message":"hello","requestId":"r1"}`))
	req.NoError(err)
	req.Equal(KindSendMessage, in.Kind)
	req.Equal("r1", in.RequestID)
	req.Equal(SendMessage{ChatID: "c1", Message: "hello"}, in.Event)

	in, err = d.Decode([]byte(`{"type":"changeRole","chatId":"c1","userId":"u2","role":"admin"}`))
	req.NoError(err)
	req.Equal(ChangeRole{ChatID: "c1", UserID: "u2", Role: "admin"}, in.Event)
}

func TestDecode_Offer(t *testing.T) {
	req := require.New(t)
	d := NewDecoder(true)
	raw, err := json.Marshal(map[string]any{
		"type":   "offer",
		"roomId": "r1",
		"to":     "p2",
		"offer":  webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP},
	})
	req.NoError(err)

	in, err := d.Decode(raw)
	req.NoError(err)
	offer, ok := in.Event.(Offer)
	req.True(ok)
	req.Equal(core.ConnID("p2"), offer.To)
	req.Equal(webrtc.SDPTypeOffer, offer.Offer.Type)
}

func TestDecode_Rejects(t *testing.T) {
	d := NewDecoder(true)
	cases := map[string]string{
		"not json":        `{"type":`,
		"unknown type":    `{"type":"dance"}`,
		"missing chat":    `{"type":"sendMessage","message":"hi"}`,
		"empty message":   `{"type":"sendMessage","chatId":"c","message":""}`,
		"bad role":        `{"type":"changeRole","chatId":"c","userId":"u","role":"owner"}`,
		"answer as offer": `{"type":"offer","roomId":"r","to":"p","offer":{"type":"answer","sdp":"v=0"}}`,
		"empty sdp":       `{"type":"offer","roomId":"r","to":"p","offer":{"type":"offer","sdp":""}}`,
		"garbage sdp":     `{"type":"answer","roomId":"r","to":"p","answer":{"type":"answer","sdp":"garbage"}}`,
		"missing target":  `{"type":"ice-candidate","roomId":"r","candidate":{"candidate":""}}`,
		"negative limit":  `{"type":"listMessages","chatId":"c","limit":-1}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := d.Decode([]byte(raw))
			require.Error(t, err)
			require.Equal(t, core.KindMalformed, core.KindOf(err))
		})
	}
}

func TestDecode_UnknownKeepsRequestID(t *testing.T) {
	req := require.New(t)
	in, err := NewDecoder(false).Decode([]byte(`{"type":"dance","requestId":"r9"}`))
	req.ErrorIs(err, ErrUnknownKind)
	req.Equal("r9", in.RequestID)
	req.Equal(Kind("dance"), in.Kind)
}

func TestErrorFor(t *testing.T) {
	req := require.New(t)
	in := Inbound{Kind: KindPinMessage, RequestID: "r2"}
	frame, err := Encode(ErrorFor(in, core.Authorization("admin role required")))
	req.NoError(err)
	req.JSONEq(`{"type":"error","kind":"authorization","message":"admin role required","request":"pinMessage","requestId":"r2"}`, string(frame))
}

func TestKinds_AllDecodable(t *testing.T) {
	req := require.New(t)
	for _, k := range Kinds() {
		ev := kinds[k]()
		req.Equal(k, ev.Kind())
		req.Equal(k, deref(ev).Kind())
		req.NotEqual(reflect.Ptr, reflect.TypeOf(deref(ev)).Kind())
	}
}
