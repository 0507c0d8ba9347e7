package livetracker

import (
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrack/pkg/util"
)

// BroadcastScope decides who receives location and lifecycle updates
type BroadcastScope string

const (
	// BroadcastScopeGlobal delivers location updates to every connection and
	// lifecycle announcements to the route group and then to every connection,
	// so route members receive lifecycle announcements twice.
	BroadcastScopeGlobal BroadcastScope = "global"

	// BroadcastScopeRoute delivers everything to the route group only
	BroadcastScopeRoute BroadcastScope = "route"
)

type Config struct {
	BroadcastScope BroadcastScope

	HeartbeatInterval time.Duration
	// Connections silent for longer than this are closed. 0 disables eviction.
	HeartbeatEvictAfter time.Duration

	VerifyTimeout time.Duration

	// Outbound frames buffered per connection before sends are dropped
	SendBuffer int
}

var defaultConfig = Config{
	BroadcastScope:      BroadcastScopeGlobal,
	HeartbeatInterval:   30 * time.Second,
	HeartbeatEvictAfter: 0,
	VerifyTimeout:       5 * time.Second,
	SendBuffer:          64,
}

func DefaultConfig() Config {
	return defaultConfig
}

// GetConfig returns the live tracker configuration from the environment,
// falling back to the defaults for missing or unparseable values
func GetConfig() Config {
	config := defaultConfig
	env := util.GetEnvironmentVariables()

	switch BroadcastScope(env["TRAVIGO_LIVETRACK_BROADCAST_SCOPE"]) {
	case BroadcastScopeRoute:
		config.BroadcastScope = BroadcastScopeRoute
	case BroadcastScopeGlobal, "":
	default:
		log.Warn().Str("scope", env["TRAVIGO_LIVETRACK_BROADCAST_SCOPE"]).Msg("Unknown broadcast scope, using global")
	}

	if val := env["TRAVIGO_LIVETRACK_HEARTBEAT_INTERVAL"]; val != "" {
		if parsed, err := time.ParseDuration(val); err == nil && parsed > 0 {
			config.HeartbeatInterval = parsed
		}
	}

	if val := env["TRAVIGO_LIVETRACK_HEARTBEAT_EVICT_AFTER"]; val != "" {
		if parsed, err := time.ParseDuration(val); err == nil && parsed >= 0 {
			config.HeartbeatEvictAfter = parsed
		}
	}

	if val := env["TRAVIGO_LIVETRACK_VERIFY_TIMEOUT"]; val != "" {
		if parsed, err := time.ParseDuration(val); err == nil && parsed > 0 {
			config.VerifyTimeout = parsed
		}
	}

	if val := env["TRAVIGO_LIVETRACK_SEND_BUFFER"]; val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			config.SendBuffer = parsed
		}
	}

	return config
}
