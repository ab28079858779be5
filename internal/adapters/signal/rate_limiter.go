package signal

import (
	"golang.org/x/time/rate"
)

// EventLimiter is a per-connection token bucket for inbound events.
type EventLimiter struct {
	lim *rate.Limiter
}

// NewEventLimiter allows perSecond events on average with bursts up to
// burst. A non-positive rate disables limiting.
func NewEventLimiter(perSecond float64, burst int) *EventLimiter {
	if perSecond <= 0 {
		return &EventLimiter{lim: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &EventLimiter{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *EventLimiter) Allow() bool {
	return l.lim.Allow()
}
