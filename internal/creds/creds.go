// Package creds abstracts how the sync engine obtains its bearer credential.
// Token acquisition itself is external; the engine only needs a way to fetch
// the current credential and to report that it looked stale so the owner can
// re-authenticate out of band.
package creds

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrCredentialExpired is surfaced distinctly from transport failure so the
// caller triggers re-authentication instead of blind retry.
var ErrCredentialExpired = errors.New("credential expired")

// Credential is the opaque bearer token plus the device identity presented
// at the WebSocket handshake and on the request/response channel.
type Credential struct {
	Token    string
	DeviceID string
}

// Source supplies credentials and accepts staleness feedback.
type Source interface {
	// Credential returns the current credential, or ErrCredentialExpired
	// when the source knows it can no longer authenticate.
	Credential(ctx context.Context) (Credential, error)

	// MarkStale tells the source a peer rejected the credential (or the
	// handshake failed in a way that suggests it). The source decides
	// whether to refresh.
	MarkStale(reason error)
}

// Static is a Source with a fixed token, for tests and tooling.
type Static struct {
	Cred Credential
}

// Credential returns the fixed credential.
func (s Static) Credential(ctx context.Context) (Credential, error) { return s.Cred, nil }

// MarkStale is a no-op for static credentials.
func (s Static) MarkStale(reason error) {}

// RefreshFunc obtains a fresh bearer token.
type RefreshFunc func(ctx context.Context) (string, error)

// JWTSource caches a JWT bearer token, checks its exp claim before handing
// it out, and refreshes through the provided callback when the token is
// expired or has been marked stale.
type JWTSource struct {
	deviceID string
	refresh  RefreshFunc
	clock    clockwork.Clock

	mu    sync.Mutex
	token string
	stale bool
}

// NewJWTSource creates a source for the given device. The refresh callback
// is the only way tokens enter the process.
func NewJWTSource(deviceID string, refresh RefreshFunc, clock clockwork.Clock) *JWTSource {
	return &JWTSource{deviceID: deviceID, refresh: refresh, clock: clock}
}

// Credential returns a non-expired bearer credential, refreshing if needed.
func (s *JWTSource) Credential(ctx context.Context) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && !s.stale && !s.expiredLocked() {
		return Credential{Token: s.token, DeviceID: s.deviceID}, nil
	}

	token, err := s.refresh(ctx)
	if err != nil {
		return Credential{}, fmt.Errorf("refresh credential: %w", err)
	}
	s.token = token
	s.stale = false
	if s.expiredLocked() {
		return Credential{}, ErrCredentialExpired
	}
	return Credential{Token: s.token, DeviceID: s.deviceID}, nil
}

// MarkStale forces a refresh on the next Credential call.
func (s *JWTSource) MarkStale(reason error) {
	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()
	log.Debug().Err(reason).Msg("credential marked stale")
}

// expiredLocked checks the exp claim without verifying the signature; the
// coordinator is the party that verifies, we only need to know whether
// presenting this token is pointless.
func (s *JWTSource) expiredLocked() bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.token, claims); err != nil {
		// Opaque (non-JWT) tokens carry no expiry we can read.
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !s.clock.Now().Before(exp.Time)
}
