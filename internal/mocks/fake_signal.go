package mocks

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/talkie/internal/core"
)

// FakeConn is an in-memory core.SignalConnection that records every frame.
type FakeConn struct {
	mu      sync.Mutex
	frames  []core.Frame
	pings   int
	closed  bool
	code    core.CloseCode
	reason  string
	full    bool
	pingErr error
}

func NewFakeConn() *FakeConn { return &FakeConn{} }

// SetFull makes TrySend report backpressure.
func (f *FakeConn) SetFull(full bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.full = full
}

func (f *FakeConn) SetPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func (f *FakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return core.ErrConnClosed
	}
	if f.full {
		return core.ErrBackpressure
	}
	f.frames = append(f.frames, append(core.Frame(nil), fr...))
	return nil
}

func (f *FakeConn) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pingErr != nil {
		return f.pingErr
	}
	f.pings++
	return nil
}

func (f *FakeConn) CloseWith(code core.CloseCode, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed, f.code, f.reason = true, code, reason
}

func (f *FakeConn) Close() { f.CloseWith(core.CloseNormal, "") }

func (f *FakeConn) Pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

// Closed returns the close code, or ok=false while open.
func (f *FakeConn) Closed() (core.CloseCode, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code, f.closed
}

func (f *FakeConn) Frames() []core.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Frame(nil), f.frames...)
}

// Events decodes every recorded frame as a JSON object.
func (f *FakeConn) Events() []map[string]any {
	var out []map[string]any
	for _, fr := range f.Frames() {
		var m map[string]any
		if err := json.Unmarshal(fr, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// EventsOf returns the decoded events whose "type" equals typ.
func (f *FakeConn) EventsOf(typ string) []map[string]any {
	var out []map[string]any
	for _, ev := range f.Events() {
		if ev["type"] == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (f *FakeConn) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}
