package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/domain"
	"github.com/dkeye/talkie/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("chat engine closed")

type job func(ctx context.Context)

type result[T any] struct {
	val T
	err error
}

// lane serializes every job for one room. Jobs run on a context owned by
// the lane, not by the submitting connection.
type lane struct {
	room    domain.RoomID
	jobs    chan job
	pending int // guarded by laneManager.mu
}

type laneManager struct {
	mu      sync.Mutex
	lanes   map[domain.RoomID]*lane
	closing bool
	stop    chan struct{}
	wg      sync.WaitGroup

	queue      int
	idle       time.Duration
	jobTimeout time.Duration
	metrics    *metrics.Metrics
}

func newLaneManager(queue int, idle, jobTimeout time.Duration, m *metrics.Metrics) *laneManager {
	return &laneManager{
		lanes:      make(map[domain.RoomID]*lane),
		stop:       make(chan struct{}),
		queue:      queue,
		idle:       idle,
		jobTimeout: jobTimeout,
		metrics:    m,
	}
}

// acquire returns the room's lane, starting it when absent, with one
// pending slot reserved for the caller.
func (m *laneManager) acquire(room domain.RoomID) (*lane, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return nil, ErrClosed
	}
	l, ok := m.lanes[room]
	if !ok {
		l = &lane{room: room, jobs: make(chan job, m.queue)}
		m.lanes[room] = l
		m.wg.Add(1)
		m.metrics.LaneStarted()
		logger := log.With().Str("module", "app.chat").Str("room", string(room)).Logger()
		logger.Debug().Msg("starting lane")
		go m.loop(l, &logger)
	}
	l.pending++
	return l, nil
}

func (m *laneManager) release(l *lane) {
	m.mu.Lock()
	l.pending--
	m.mu.Unlock()
}

// submit enqueues fn on the room's lane and waits for its result. When ctx
// ends first the caller stops waiting; an enqueued job still runs.
func submit[T any](ctx context.Context, m *laneManager, room domain.RoomID, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	l, err := m.acquire(room)
	if err != nil {
		return zero, core.Dependency("chat unavailable", err)
	}
	done := make(chan result[T], 1)
	j := job(func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("module", "app.chat").Str("room", string(room)).Interface("panic", r).Msg("chat job panicked")
				done <- result[T]{err: core.Dependency("internal error", fmt.Errorf("job panicked: %v", r))}
			}
		}()
		v, err := fn(ctx)
		done <- result[T]{val: v, err: err}
	})
	select {
	case l.jobs <- j:
	case <-ctx.Done():
		m.release(l)
		return zero, ctx.Err()
	}
	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// run is submit for jobs without a value.
func run(ctx context.Context, m *laneManager, room domain.RoomID, fn func(ctx context.Context) error) error {
	_, err := submit(ctx, m, room, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (m *laneManager) loop(l *lane, logger *zerolog.Logger) {
	defer m.wg.Done()
	defer m.metrics.LaneStopped()
	idle := time.NewTimer(m.idle)
	defer idle.Stop()
	stop := m.stop
	for {
		select {
		case j := <-l.jobs:
			m.release(l)
			m.runJob(j)
			if stop == nil && m.tryRetire(l) {
				logger.Debug().Msg("lane drained, stopped")
				return
			}
			idle.Reset(m.idle)
		case <-idle.C:
			if m.tryRetire(l) {
				logger.Debug().Msg("lane idle, stopped")
				return
			}
			idle.Reset(m.idle)
		case <-stop:
			stop = nil
			if m.tryRetire(l) {
				logger.Debug().Msg("lane drained, stopped")
				return
			}
		}
	}
}

func (m *laneManager) runJob(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), m.jobTimeout)
	defer cancel()
	j(ctx)
}

// tryRetire removes the lane when nobody holds a pending slot.
func (m *laneManager) tryRetire(l *lane) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.pending > 0 || len(l.jobs) > 0 {
		return false
	}
	delete(m.lanes, l.room)
	return true
}

func (m *laneManager) active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lanes)
}

// close stops accepting jobs and waits for running lanes to drain.
func (m *laneManager) close(ctx context.Context) error {
	m.mu.Lock()
	if !m.closing {
		m.closing = true
		close(m.stop)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
