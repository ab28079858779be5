package app

import (
	"sort"
	"sync"

	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Subscriber is one connection subscribed to a room.
type Subscriber struct {
	Conn   core.ConnID
	User   domain.UserID
	Signal core.SignalConnection
}

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []Subscriber
}

type RoomInfo struct {
	ID          domain.RoomID `json:"chatId"`
	Subscribers int           `json:"subscribers"`
}

// Directory indexes rooms to the connections currently subscribed to them.
// It is derived state: only the Registry mutates it, and it never closes
// adapter-owned resources.
type Directory struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]map[core.ConnID]Subscriber
}

func NewDirectory() *Directory {
	return &Directory{rooms: make(map[domain.RoomID]map[core.ConnID]Subscriber)}
}

// subscribe reports whether sub was newly added.
func (d *Directory) subscribe(room domain.RoomID, sub Subscriber) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	subs, ok := d.rooms[room]
	if !ok {
		subs = make(map[core.ConnID]Subscriber)
		d.rooms[room] = subs
	}
	if _, ok := subs[sub.Conn]; ok {
		return false
	}
	subs[sub.Conn] = sub
	log.Debug().Str("module", "app.directory").Str("room", string(room)).Str("conn", string(sub.Conn)).Msg("subscribed")
	return true
}

func (d *Directory) unsubscribe(room domain.RoomID, conn core.ConnID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	subs, ok := d.rooms[room]
	if !ok {
		return false
	}
	if _, ok := subs[conn]; !ok {
		return false
	}
	delete(subs, conn)
	if len(subs) == 0 {
		delete(d.rooms, room)
	}
	log.Debug().Str("module", "app.directory").Str("room", string(room)).Str("conn", string(conn)).Msg("unsubscribed")
	return true
}

// Subscribers returns a snapshot of the room's subscribers taken under the lock.
func (d *Directory) Subscribers(room domain.RoomID) []Subscriber {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return lo.Values(d.rooms[room])
}

func (d *Directory) IsSubscribed(room domain.RoomID, conn core.ConnID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.rooms[room][conn]
	return ok
}

func (d *Directory) Count(room domain.RoomID) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms[room])
}

func (d *Directory) List() []RoomInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]RoomInfo, 0, len(d.rooms))
	for id, subs := range d.rooms {
		out = append(out, RoomInfo{ID: id, Subscribers: len(subs)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Broadcast sends frame to every subscriber of room except the given
// connection (empty means nobody is skipped).
func (d *Directory) Broadcast(room domain.RoomID, frame core.Frame, except core.ConnID) PublishResult {
	res := PublishResult{}
	for _, sub := range d.Subscribers(room) {
		if sub.Conn == except {
			continue
		}
		if err := sub.Signal.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, sub)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "app.directory").Str("room", string(room)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
