package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	req := require.New(t)
	m := New()

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.ChatBroadcast("newMessage")
	m.Rejected("authorization")
	m.Backpressure(3)
	m.Backpressure(0)

	req.Equal(1.0, testutil.ToFloat64(m.activeConnections))
	req.Equal(2.0, testutil.ToFloat64(m.connectionsTotal))
	req.Equal(1.0, testutil.ToFloat64(m.chatBroadcasts.WithLabelValues("newMessage")))
	req.Equal(1.0, testutil.ToFloat64(m.rejected.WithLabelValues("authorization")))
	req.Equal(3.0, testutil.ToFloat64(m.backpressure))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ConnectionOpened()
		m.SessionOpened()
		m.Reaped()
		m.ObserveHTTP("GET", "/healthz", 200, 0.01)
	})
}

func TestMetrics_Handler(t *testing.T) {
	req := require.New(t)
	m := New()
	m.Reaped()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	req.Equal(200, rec.Code)
	req.Contains(rec.Body.String(), "talkie_heartbeat_reaped_total 1")
}
