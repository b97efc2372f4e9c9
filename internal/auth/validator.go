// Package auth validates the optional bearer token a Gateway session may
// present. Unlike the teacher's Auth0/JWKS-backed validator, this engine has
// no external identity provider in scope (spec §6.4 names only "a signing
// secret for authentication tokens (when used)") — so validation is a single
// HMAC secret, not a JWKS fetch.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/watchsync/engine/internal/logging"
)

// Claims is the minimal claim set the engine understands. Subject must equal
// the connecting session's `user` query parameter.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Validator validates an inbound token against a shared HMAC secret.
type Validator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// HMACValidator is the production Validator, backed by a single signing
// secret configured via JWT_SECRET (spec §6.4).
type HMACValidator struct {
	secret []byte
}

func NewHMACValidator(secret string) *HMACValidator {
	return &HMACValidator{secret: []byte(secret)}
}

func (v *HMACValidator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is invalid")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("failed to cast claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("token missing subject")
	}
	return claims, nil
}

// DisabledValidator accepts every token and returns empty Claims. cmd/server
// does not install it: with AUTH_ENABLED=false the gateway's Auth is left
// nil, which skips token validation and trusts the `user` query parameter.
type DisabledValidator struct{}

func (DisabledValidator) ValidateToken(tokenString string) (*Claims, error) {
	return &Claims{}, nil
}

// GetAllowedOriginsFromEnv reads a comma-separated origin allow-list,
// falling back to defaultOrigins (and logging a warning) when unset. The
// gateway's CheckOrigin does not call it; cmd/server builds the gateway's
// allow-list from config.Config.AllowedOrigins.
func GetAllowedOriginsFromEnv(envVarName string, defaultOrigins []string) []string {
	originsStr := os.Getenv(envVarName)
	if originsStr == "" {
		logging.Warn(context.Background(), fmt.Sprintf("%s not set, using default origins", envVarName))
		return defaultOrigins
	}
	return strings.Split(originsStr, ",")
}
