package ratelimit

import (
	"fmt"

	"github.com/watchsync/engine/internal/auth"
)

// MockValidator is a mock Validator for testing.
type MockValidator struct {
	ValidateTokenFunc func(tokenString string) (*auth.Claims, error)
}

func (m *MockValidator) ValidateToken(tokenString string) (*auth.Claims, error) {
	if m.ValidateTokenFunc != nil {
		return m.ValidateTokenFunc(tokenString)
	}
	return nil, fmt.Errorf("invalid token")
}
