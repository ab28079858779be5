package heartbeat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/talkie/internal/app"
	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/mocks"
	"github.com/stretchr/testify/require"
)

type recordingReaper struct {
	mu     sync.Mutex
	reg    *app.Registry
	reaped []core.ConnID
}

func (r *recordingReaper) Reap(c app.ConnSnapshot, _ string) {
	r.mu.Lock()
	r.reaped = append(r.reaped, c.ID)
	r.mu.Unlock()
	c.Signal.CloseWith(core.CloseHeartbeatTimeout, "heartbeat timeout")
	r.reg.Deregister(c.ID)
}

func (r *recordingReaper) ids() []core.ConnID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.ConnID(nil), r.reaped...)
}

func TestMonitor_ReapsSilentConnection(t *testing.T) {
	req := require.New(t)
	reg := app.NewRegistry(app.NewDirectory(), true)
	reaper := &recordingReaper{reg: reg}
	m := NewMonitor(reg, reaper, time.Hour, nil)

	silent, responsive := mocks.NewFakeConn(), mocks.NewFakeConn()
	sid, err := reg.Register("u1", silent, nil)
	req.NoError(err)
	rid, err := reg.Register("u2", responsive, nil)
	req.NoError(err)
	reg.Subscribe(sid, "room")

	// First interval probes both
	req.Zero(m.Sweep())
	req.Equal(1, silent.Pings())
	req.Equal(1, responsive.Pings())

	// Only one answers
	reg.MarkAlive(rid)

	// Second interval reaps the silent one
	req.Equal(1, m.Sweep())
	req.Equal([]core.ConnID{sid}, reaper.ids())
	code, closed := silent.Closed()
	req.True(closed)
	req.Equal(core.CloseHeartbeatTimeout, code)
	req.Empty(reg.ConnectionsFor("room"))
	req.Equal(2, responsive.Pings())
	req.Equal(1, reg.Len())
}

func TestMonitor_PingErrorReaps(t *testing.T) {
	req := require.New(t)
	reg := app.NewRegistry(app.NewDirectory(), true)
	reaper := &recordingReaper{reg: reg}
	m := NewMonitor(reg, reaper, time.Hour, nil)
	c := mocks.NewFakeConn()
	c.SetPingErr(errors.New("broken pipe"))
	id, err := reg.Register("u1", c, nil)
	req.NoError(err)

	req.Equal(1, m.Sweep())
	req.Equal([]core.ConnID{id}, reaper.ids())
	req.Zero(reg.Len())
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	req := require.New(t)
	reg := app.NewRegistry(app.NewDirectory(), true)
	reaper := &recordingReaper{reg: reg}
	m := NewMonitor(reg, reaper, 5*time.Millisecond, nil)
	_, err := reg.Register("u1", mocks.NewFakeConn(), nil)
	req.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	req.Eventually(func() bool { return len(reaper.ids()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	req.NoError(<-done)
}
