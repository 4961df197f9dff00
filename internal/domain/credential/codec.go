package credential

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed is returned when a token cannot be decoded: wrong segment
// shape, unparseable payload, or a missing/non-numeric exp claim.
// Callers treat a malformed token as expired (fail closed).
var ErrMalformed = errors.New("credential is malformed")

// ExpiryOf decodes the token's payload without verifying the signature and
// returns the exp claim as a UTC instant. Signature verification is the
// server's responsibility; the client only needs the expiry.
func ExpiryOf(token string) (time.Time, error) {
	if token == "" {
		return time.Time{}, ErrMalformed
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, ErrMalformed
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return time.Time{}, ErrMalformed
	}

	// exp is seconds since epoch, decoded by encoding/json as float64.
	exp, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}, ErrMalformed
	}

	return time.Unix(int64(exp), 0).UTC(), nil
}

// Expired reports whether the token's expiry is at or before now.
// A token that cannot be decoded is expired: an ambiguous credential must
// never be treated as usable.
func Expired(token string, now time.Time) bool {
	exp, err := ExpiryOf(token)
	if err != nil {
		return true
	}
	return !exp.After(now)
}
