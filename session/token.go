package session

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TokenExpiry reports the expiry of the cached access token without verifying
// its signature. Only the server can verify; the client just wants to know
// whether a refresh is coming. Returns false when there is no session or the
// token carries no exp claim.
func (s *Store) TokenExpiry() (time.Time, bool) {
	raw := s.Token()
	if raw == "" {
		return time.Time{}, false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// TokenExpired reports whether the cached access token is past its expiry.
// An unparseable or claim-less token counts as expired only when a session
// exists, since the next 401 will force a refresh anyway.
func (s *Store) TokenExpired() bool {
	exp, ok := s.TokenExpiry()
	if !ok {
		return false
	}
	return time.Now().After(exp)
}
