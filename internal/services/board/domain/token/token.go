// Package token mints and parses the short-lived action tokens that
// accompany score claims. A token binds a user to one issued action: the
// external action issuer mints it when the action is handed out, and the
// claim verifier checks its freshness when the completed action comes back.
//
// Parse validates structure and signature only. Freshness policy (token age,
// minimum completion time) belongs to the claim verifier so it can apply the
// engine's configured tolerances.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/podium.live/internal/platform/errors"
)

// Environment variables read by LoadConfigFromEnv.
const (
	EnvActionTokenIssuer = "PODIUM_LIVE_BOARD_ACTION_TOKEN_ISSUER"
	EnvActionTokenSecret = "PODIUM_LIVE_BOARD_ACTION_TOKEN_SECRET"
)

// configEnv holds raw env values before post-parse validation.
type configEnv struct {
	Issuer string `env:"PODIUM_LIVE_BOARD_ACTION_TOKEN_ISSUER" envDefault:"podium.live/actions"`
	Secret string `env:"PODIUM_LIVE_BOARD_ACTION_TOKEN_SECRET"`
}

// Config defines how action tokens are minted and verified.
type Config struct {
	Issuer string
	Secret []byte
	Now    func() time.Time
}

// Claims captures the validated contents of an action token.
type Claims struct {
	// TokenID is the per-action nonce (jti).
	TokenID    string
	UserID     string
	ActionType string
	IssuedAt   time.Time
	// StartedAt is when the claimed action run began. Defaults to IssuedAt
	// when the issuer does not record a separate start.
	StartedAt time.Time
}

// actionClaims is the internal claims type used for JWT parsing.
type actionClaims struct {
	jwt.RegisteredClaims
	ActionType  string `json:"action_type"`
	StartedAtMS int64  `json:"started_at_ms,omitempty"`
}

// LoadConfigFromEnv reads action token configuration.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw configEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse action token env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	secret := strings.TrimSpace(raw.Secret)
	if issuer == "" {
		return Config{}, fmt.Errorf("%s is required", EnvActionTokenIssuer)
	}
	if secret == "" {
		return Config{}, fmt.Errorf("%s is required", EnvActionTokenSecret)
	}
	if now == nil {
		now = time.Now
	}
	return Config{
		Issuer: issuer,
		Secret: []byte(secret),
		Now:    now,
	}, nil
}

// Mint signs an action token for the given claims.
func Mint(claims Claims, cfg Config) (string, error) {
	if len(cfg.Secret) == 0 {
		return "", errors.New("action token signer is not configured")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	claims.TokenID = strings.TrimSpace(claims.TokenID)
	claims.UserID = strings.TrimSpace(claims.UserID)
	claims.ActionType = strings.TrimSpace(claims.ActionType)
	if claims.TokenID == "" {
		return "", errors.New("action token id is required")
	}
	if claims.UserID == "" {
		return "", errors.New("action token user id is required")
	}
	if claims.ActionType == "" {
		return "", errors.New("action token action type is required")
	}
	if claims.IssuedAt.IsZero() {
		claims.IssuedAt = cfg.Now().UTC()
	}
	if claims.StartedAt.IsZero() {
		claims.StartedAt = claims.IssuedAt
	}

	signed := actionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   cfg.Issuer,
			Subject:  claims.UserID,
			ID:       claims.TokenID,
			IssuedAt: jwt.NewNumericDate(claims.IssuedAt.UTC()),
		},
		ActionType:  claims.ActionType,
		StartedAtMS: claims.StartedAt.UTC().UnixMilli(),
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, signed).SignedString(cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign action token: %w", err)
	}
	return raw, nil
}

// Parse verifies an action token's signature and structure and returns its
// claims.
func Parse(raw string, cfg Config) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, apperrors.New(apperrors.CodeTokenInvalid, "action token is required")
	}
	if len(cfg.Secret) == 0 {
		return Claims{}, errors.New("action token verifier is not configured")
	}

	var parsed actionClaims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if cfg.Issuer != "" && parsed.Issuer != cfg.Issuer {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeTokenInvalid,
			"action token issuer mismatch",
			map[string]string{"Field": "issuer"},
		)
	}
	if parsed.ID == "" {
		return Claims{}, apperrors.New(apperrors.CodeTokenInvalid, "action token jti is required")
	}
	if parsed.Subject == "" {
		return Claims{}, apperrors.New(apperrors.CodeTokenInvalid, "action token sub is required")
	}
	if parsed.IssuedAt == nil {
		return Claims{}, apperrors.New(apperrors.CodeTokenInvalid, "action token iat is required")
	}
	if strings.TrimSpace(parsed.ActionType) == "" {
		return Claims{}, apperrors.New(apperrors.CodeTokenInvalid, "action token action type is required")
	}

	claims := Claims{
		TokenID:    parsed.ID,
		UserID:     parsed.Subject,
		ActionType: parsed.ActionType,
		IssuedAt:   parsed.IssuedAt.Time.UTC(),
	}
	if parsed.StartedAtMS > 0 {
		claims.StartedAt = time.UnixMilli(parsed.StartedAtMS).UTC()
	} else {
		claims.StartedAt = claims.IssuedAt
	}
	return claims, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return apperrors.New(apperrors.CodeTokenInvalid, "action token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeTokenInvalid, "action token alg is invalid")
	}
	if errors.Is(err, jwt.ErrTokenMalformed) {
		return apperrors.New(apperrors.CodeTokenInvalid, "action token is malformed")
	}
	return apperrors.New(apperrors.CodeTokenInvalid, "action token is invalid")
}
