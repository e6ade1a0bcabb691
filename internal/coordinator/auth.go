package coordinator

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/hourglass-app/hourglass/internal/creds"
)

// Verifier checks device bearer tokens. Tokens are HMAC-signed JWTs whose
// subject is the user id.
type Verifier struct {
	secret []byte
	clock  clockwork.Clock
}

// NewVerifier creates a verifier for the given signing secret.
func NewVerifier(secret []byte, clock clockwork.Clock) *Verifier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Verifier{secret: secret, clock: clock}
}

// VerifyToken validates the token and returns the user id it belongs to.
// Expired tokens surface creds.ErrCredentialExpired so the transport layer
// can answer 401 and the device re-authenticates.
func (v *Verifier) VerifyToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
	).ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", creds.ErrCredentialExpired
		}
		return "", fmt.Errorf("verify token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token without subject")
	}
	return sub, nil
}

// Authenticate extracts and verifies the bearer credential on r, returning
// the user id and the device id header.
func (v *Verifier) Authenticate(r *http.Request) (userID, deviceID string, err error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", "", errors.New("missing bearer credential")
	}
	userID, err = v.VerifyToken(token)
	if err != nil {
		return "", "", err
	}
	return userID, r.Header.Get("X-Device-ID"), nil
}
