// Package heartbeat probes every registered connection on a fixed interval
// and reclaims the ones that stopped answering.
package heartbeat

import (
	"context"
	"time"

	"github.com/dkeye/talkie/internal/app"
	"github.com/dkeye/talkie/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Reaper closes and deregisters a dead connection.
type Reaper interface {
	Reap(conn app.ConnSnapshot, reason string)
}

type Monitor struct {
	reg      *app.Registry
	reaper   Reaper
	interval time.Duration
	metrics  *metrics.Metrics
}

func NewMonitor(reg *app.Registry, reaper Reaper, interval time.Duration, m *metrics.Metrics) *Monitor {
	return &Monitor{reg: reg, reaper: reaper, interval: interval, metrics: m}
}

// Run sweeps every interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	log.Info().Str("module", "app.heartbeat").Dur("interval", m.interval).Msg("heartbeat monitor started")
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.heartbeat").Msg("heartbeat monitor stopped")
			return nil
		case <-t.C:
			m.Sweep()
		}
	}
}

// Sweep reaps connections that did not answer the previous probe and
// probes the rest. It returns how many were reaped.
func (m *Monitor) Sweep() int {
	dead, probe := m.reg.Sweep()
	reaped := 0
	for _, c := range dead {
		log.Info().Str("module", "app.heartbeat").Str("conn", string(c.ID)).Str("user", string(c.User)).Time("last_pong", c.LastPong).Msg("no liveness response, reaping")
		m.reaper.Reap(c, "heartbeat timeout")
		m.metrics.Reaped()
		reaped++
	}
	for _, c := range probe {
		if err := c.Signal.Ping(); err != nil {
			log.Info().Str("module", "app.heartbeat").Str("conn", string(c.ID)).Err(err).Msg("probe failed, reaping")
			m.reaper.Reap(c, "heartbeat probe failed")
			m.metrics.Reaped()
			reaped++
		}
	}
	if reaped > 0 || len(probe) > 0 {
		log.Debug().Str("module", "app.heartbeat").Int("probed", len(probe)).Int("reaped", reaped).Msg("sweep done")
	}
	return reaped
}
