package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/travigo/livetrack/pkg/ctdf"
)

// Verifier turns a credential token into a verified identity.
// Implementations hold no per-connection state.
type Verifier interface {
	Verify(ctx context.Context, token string) (ctdf.Identity, error)
}

// CustomClaims contains the livetrack specific data carried in the token.
// UserID is accepted for tokens minted by older account services that did not set sub.
type CustomClaims struct {
	Role   string `json:"role"`
	UserID string `json:"userId,omitempty"`
}

func (c *CustomClaims) Validate(ctx context.Context) error {
	if c.Role == "" {
		return errors.New("role claim is required")
	}

	return nil
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string

	AllowedClockSkew time.Duration
}

// JWTVerifier validates HS256 signed tokens
type JWTVerifier struct {
	validator *validator.Validator
}

func NewJWTVerifier(config JWTConfig) (*JWTVerifier, error) {
	if config.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}

	secret := []byte(config.Secret)
	keyFunc := func(ctx context.Context) (interface{}, error) {
		return secret, nil
	}

	jwtValidator, err := validator.New(
		keyFunc,
		validator.HS256,
		config.Issuer,
		[]string{config.Audience},
		validator.WithCustomClaims(
			func() validator.CustomClaims {
				return &CustomClaims{}
			},
		),
		validator.WithAllowedClockSkew(config.AllowedClockSkew),
	)
	if err != nil {
		return nil, err
	}

	return &JWTVerifier{validator: jwtValidator}, nil
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (ctdf.Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return ctdf.Identity{}, fmt.Errorf("%w: authentication token required", ctdf.ErrAuth)
	}

	claimsI, err := v.validator.ValidateToken(ctx, token)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctdf.Identity{}, ctxErr
		}
		return ctdf.Identity{}, fmt.Errorf("%w: %s", ctdf.ErrAuth, err)
	}

	claims := claimsI.(*validator.ValidatedClaims)
	if claims.RegisteredClaims.Expiry == 0 {
		return ctdf.Identity{}, fmt.Errorf("%w: token has no expiry", ctdf.ErrAuth)
	}

	customClaims := claims.CustomClaims.(*CustomClaims)

	subject := claims.RegisteredClaims.Subject
	if subject == "" {
		subject = customClaims.UserID
	}
	if subject == "" {
		return ctdf.Identity{}, fmt.Errorf("%w: token has no subject", ctdf.ErrAuth)
	}

	return ctdf.Identity{
		SubjectID: subject,
		Role:      ctdf.Role(customClaims.Role),
	}, nil
}
