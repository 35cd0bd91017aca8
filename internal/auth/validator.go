package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/codenamespivey12/MojoCode/internal/config"
)

var (
	ErrMissingToken = errors.New("authorization required")
	ErrInvalidToken = errors.New("invalid token")
)

// Validator verifies tokens issued by the external identity provider and
// resolves them to an opaque user id (the sub claim).
type Validator struct {
	cfg    config.AuthConfig
	log    zerolog.Logger
	jwks   *keyfunc.JWKS
	secret []byte

	headerName     string
	csrfHeaderName string
	csrfCookieName string
}

// NewValidator fetches the JWKS when one is configured. With auth disabled the
// validator trusts cfg.DevUserHeader instead of verifying tokens.
func NewValidator(ctx context.Context, cfg config.AuthConfig, log zerolog.Logger) (*Validator, error) {
	v := &Validator{
		cfg:            cfg,
		log:            log.With().Str("component", "auth").Logger(),
		headerName:     "Authorization",
		csrfHeaderName: "X-CSRF-Token",
		csrfCookieName: "csrf_token",
	}
	if !cfg.Enabled {
		v.log.Warn().Str("header", cfg.DevUserHeader).Msg("auth disabled, trusting user header")
		return v, nil
	}
	if cfg.JWTSecret != "" {
		v.secret = []byte(cfg.JWTSecret)
	}
	if cfg.JWKSURL != "" {
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			Ctx:               ctx,
			RefreshInterval:   time.Hour,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				v.log.Error().Err(err).Msg("jwks refresh error")
			},
		})
		if err != nil {
			return nil, fmt.Errorf("fetch jwks: %w", err)
		}
		v.jwks = jwks
	}
	if v.jwks == nil && v.secret == nil {
		return nil, errors.New("auth enabled without jwks url or jwt secret")
	}
	return v, nil
}

// Close stops the background JWKS refresh.
func (v *Validator) Close() {
	if v != nil && v.jwks != nil {
		v.jwks.EndBackground()
	}
}

// Validate parses and verifies a token, returning its subject.
func (v *Validator) Validate(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrMissingToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods()),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, v.keyFor, opts...)
	if err != nil || !token.Valid {
		v.log.Debug().Err(err).Msg("token rejected")
		return "", ErrInvalidToken
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", ErrInvalidToken
	}
	return subject, nil
}

func (v *Validator) methods() []string {
	var methods []string
	if v.jwks != nil {
		methods = append(methods, "RS256", "RS384", "RS512", "ES256", "ES384")
	}
	if v.secret != nil {
		methods = append(methods, "HS256", "HS384", "HS512")
	}
	return methods
}

func (v *Validator) keyFor(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
		if v.secret == nil {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}
	if v.jwks == nil {
		return nil, ErrInvalidToken
	}
	return v.jwks.Keyfunc(token)
}
