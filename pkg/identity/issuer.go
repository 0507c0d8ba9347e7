package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/travigo/livetrack/pkg/ctdf"
)

type issuedClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer mints tokens the JWTVerifier accepts. The account service owns real
// token issuance, this exists for development tooling and tests.
type Issuer struct {
	config JWTConfig
	now    func() time.Time
}

func NewIssuer(config JWTConfig) *Issuer {
	return &Issuer{config: config, now: time.Now}
}

func (i *Issuer) Issue(subject string, role ctdf.Role, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("subject is required")
	}

	now := i.now()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, issuedClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.config.Issuer,
			Audience:  jwt.ClaimStrings{i.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	return token.SignedString([]byte(i.config.Secret))
}
