package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

var ErrDuplicateAuth = errors.New("identity already has a live connection")

type connEntry struct {
	id          core.ConnID
	user        domain.UserID
	signal      core.SignalConnection
	cancel      context.CancelFunc
	scope       domain.RoomID
	rooms       map[domain.RoomID]struct{}
	connectedAt time.Time
	alive       atomic.Bool
	lastPong    atomic.Int64
}

// ConnSnapshot is a copy of a registry entry safe to use without the lock.
type ConnSnapshot struct {
	ID          core.ConnID
	User        domain.UserID
	Signal      core.SignalConnection
	Scope       domain.RoomID
	Rooms       []domain.RoomID
	ConnectedAt time.Time
	LastPong    time.Time
}

func (e *connEntry) snapshot() ConnSnapshot {
	return ConnSnapshot{
		ID:          e.id,
		User:        e.user,
		Signal:      e.signal,
		Scope:       e.scope,
		Rooms:       lo.Keys(e.rooms),
		ConnectedAt: e.connectedAt,
		LastPong:    time.Unix(0, e.lastPong.Load()),
	}
}

// Registry tracks every live connection and its room subscriptions.
// Lock order is registry then directory.
type Registry struct {
	mu            sync.RWMutex
	conns         map[core.ConnID]*connEntry
	byUser        map[domain.UserID]map[core.ConnID]struct{}
	dir           *Directory
	allowMultiple bool
	now           func() time.Time
}

func NewRegistry(dir *Directory, allowMultiple bool) *Registry {
	return &Registry{
		conns:         make(map[core.ConnID]*connEntry),
		byUser:        make(map[domain.UserID]map[core.ConnID]struct{}),
		dir:           dir,
		allowMultiple: allowMultiple,
		now:           time.Now,
	}
}

func (r *Registry) Directory() *Directory { return r.dir }

func (r *Registry) Register(user domain.UserID, sig core.SignalConnection, cancel context.CancelFunc) (core.ConnID, error) {
	return r.RegisterScoped(user, sig, cancel, "")
}

// RegisterScoped registers a connection that only ever follows scope. An
// empty scope means every chat of the identity.
func (r *Registry) RegisterScoped(user domain.UserID, sig core.SignalConnection, cancel context.CancelFunc, scope domain.RoomID) (core.ConnID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.allowMultiple && len(r.byUser[user]) > 0 {
		log.Warn().Str("module", "app.registry").Str("user", string(user)).Msg("duplicate auth rejected")
		return "", ErrDuplicateAuth
	}
	id := core.ConnID(uuid.NewString())
	now := r.now()
	e := &connEntry{
		id:          id,
		user:        user,
		signal:      sig,
		cancel:      cancel,
		scope:       scope,
		rooms:       make(map[domain.RoomID]struct{}),
		connectedAt: now,
	}
	e.alive.Store(true)
	e.lastPong.Store(now.UnixNano())
	r.conns[id] = e
	if r.byUser[user] == nil {
		r.byUser[user] = make(map[core.ConnID]struct{})
	}
	r.byUser[user][id] = struct{}{}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("user", string(user)).Str("scope", string(scope)).Msg("registered connection")
	return id, nil
}

// Subscribe is idempotent. It reports false when the connection is unknown.
func (r *Registry) Subscribe(id core.ConnID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	e.rooms[room] = struct{}{}
	r.dir.subscribe(room, Subscriber{Conn: id, User: e.user, Signal: e.signal})
	return true
}

// Unsubscribe is idempotent. It reports whether a subscription was removed.
func (r *Registry) Unsubscribe(id core.ConnID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	if _, ok := e.rooms[room]; !ok {
		return false
	}
	delete(e.rooms, room)
	r.dir.unsubscribe(room, id)
	return true
}

// Deregister removes the connection from every room and cancels its context.
// A second call for the same id returns ok=false.
func (r *Registry) Deregister(id core.ConnID) (ConnSnapshot, bool) {
	r.mu.Lock()
	e, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return ConnSnapshot{}, false
	}
	snap := e.snapshot()
	for room := range e.rooms {
		r.dir.unsubscribe(room, id)
	}
	delete(r.conns, id)
	if set := r.byUser[e.user]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(r.byUser, e.user)
		}
	}
	r.mu.Unlock()

	if e.cancel != nil {
		e.cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("user", string(e.user)).Int("rooms", len(snap.Rooms)).Msg("deregistered connection")
	return snap, true
}

// ConnectionsFor returns the subscribers of room at call time.
func (r *Registry) ConnectionsFor(room domain.RoomID) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dir.Subscribers(room)
}

func (r *Registry) ConnectionsOf(user domain.UserID) []core.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.byUser[user])
}

// ConnectionsFollowing returns the connections of user that may be
// subscribed to room: unscoped ones and those scoped to room itself.
func (r *Registry) ConnectionsFollowing(user domain.UserID, room domain.RoomID) []core.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []core.ConnID
	for id := range r.byUser[user] {
		if e := r.conns[id]; e.scope == "" || e.scope == room {
			out = append(out, id)
		}
	}
	return out
}

func (r *Registry) Get(id core.ConnID) (ConnSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return ConnSnapshot{}, false
	}
	return e.snapshot(), true
}

func (r *Registry) IsSubscribed(id core.ConnID, room domain.RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	_, ok = e.rooms[room]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) Snapshot() []ConnSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConnSnapshot, 0, len(r.conns))
	for _, e := range r.conns {
		out = append(out, e.snapshot())
	}
	return out
}

// MarkAlive records a liveness response for the connection.
func (r *Registry) MarkAlive(id core.ConnID) {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	e.alive.Store(true)
	e.lastPong.Store(r.now().UnixNano())
}

// Sweep clears the liveness flag of every connection. Connections whose flag
// was already clear are returned as dead, the rest as due for a new probe.
func (r *Registry) Sweep() (dead, probe []ConnSnapshot) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.conns {
		if e.alive.Swap(false) {
			probe = append(probe, e.snapshot())
		} else {
			dead = append(dead, e.snapshot())
		}
	}
	return dead, probe
}

func (r *Registry) Cancel(id core.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.cancel != nil {
		e.cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("canceled connection")
	return true
}
