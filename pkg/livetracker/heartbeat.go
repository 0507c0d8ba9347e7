package livetracker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// LivenessMonitor sends a heartbeat to every connection on a fixed interval.
// When evictAfter is set, connections with no inbound activity for that long
// are deregistered on the next beat.
type LivenessMonitor struct {
	router      *Router
	connections *ConnectionRegistry

	interval   time.Duration
	evictAfter time.Duration

	metrics *Collector
}

func NewLivenessMonitor(router *Router, connections *ConnectionRegistry, config Config, metrics *Collector) *LivenessMonitor {
	return &LivenessMonitor{
		router:      router,
		connections: connections,
		interval:    config.HeartbeatInterval,
		evictAfter:  config.HeartbeatEvictAfter,
		metrics:     metrics,
	}
}

// Run beats until ctx is cancelled
func (m *LivenessMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Info().
		Str("interval", m.interval.String()).
		Str("evictAfter", m.evictAfter.String()).
		Msg("Liveness monitor started")

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Beat(now)
		}
	}
}

// Beat evicts stale connections when eviction is enabled, then sends the
// heartbeat to the remaining ones. Returns the number of heartbeats handed off
// and the evicted connection ids.
func (m *LivenessMonitor) Beat(now time.Time) (int, []string) {
	var evicted []string

	if m.evictAfter > 0 {
		for _, connectionID := range m.connections.Stale(now.Add(-m.evictAfter)) {
			if m.connections.Deregister(connectionID) {
				evicted = append(evicted, connectionID)
				m.metrics.Evictions.Inc()

				log.Info().Str("connection", connectionID).Msg("Evicted silent connection")
			}
		}
	}

	return m.router.Heartbeat(now), evicted
}
