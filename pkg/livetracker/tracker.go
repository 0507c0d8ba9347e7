package livetracker

import (
	"github.com/travigo/livetrack/pkg/identity"
	"github.com/travigo/livetrack/pkg/trips"
)

// Tracker wires the registries, router, dispatcher and liveness monitor of
// one live-tracking instance
type Tracker struct {
	Config Config

	Connections   *ConnectionRegistry
	Subscriptions *SubscriptionRegistry
	Router        *Router
	Dispatcher    *Dispatcher
	Monitor       *LivenessMonitor

	Metrics *Collector
}

func New(config Config, verifier identity.Verifier, store trips.Store) *Tracker {
	metrics := NewCollector()

	subscriptions := NewSubscriptionRegistry(metrics)
	connections := NewConnectionRegistry(verifier, subscriptions, config, metrics)
	router := NewRouter(connections, subscriptions, config.BroadcastScope, metrics)

	return &Tracker{
		Config:        config,
		Connections:   connections,
		Subscriptions: subscriptions,
		Router:        router,
		Dispatcher:    NewDispatcher(connections, subscriptions, store, router, metrics),
		Monitor:       NewLivenessMonitor(router, connections, config, metrics),
		Metrics:       metrics,
	}
}
