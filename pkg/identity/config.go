package identity

import (
	"time"

	"github.com/travigo/livetrack/pkg/util"
)

const (
	defaultIssuer   = "travigo-livetrack"
	defaultAudience = "livetrack"
)

// GetJWTConfig reads the token settings from the environment
func GetJWTConfig() JWTConfig {
	env := util.GetEnvironmentVariables()

	config := JWTConfig{
		Secret:           env["TRAVIGO_LIVETRACK_JWT_SECRET"],
		Issuer:           defaultIssuer,
		Audience:         defaultAudience,
		AllowedClockSkew: time.Minute,
	}

	if env["TRAVIGO_LIVETRACK_JWT_ISSUER"] != "" {
		config.Issuer = env["TRAVIGO_LIVETRACK_JWT_ISSUER"]
	}
	if env["TRAVIGO_LIVETRACK_JWT_AUDIENCE"] != "" {
		config.Audience = env["TRAVIGO_LIVETRACK_JWT_AUDIENCE"]
	}

	return config
}
