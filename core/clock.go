package core

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

const nonceBytes = 24

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

type ClockFunc func() time.Time

func (fn ClockFunc) Now() time.Time {
	if fn == nil {
		return time.Now().UTC()
	}
	return fn()
}

// NonceSource issues unguessable values used as OAuth2 state parameters.
type NonceSource interface {
	NewNonce() (string, error)
}

type RandomNonceSource struct{}

func (RandomNonceSource) NewNonce() (string, error) {
	raw := make([]byte, nonceBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
