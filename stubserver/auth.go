package stubserver

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Auth mints and validates HMAC-signed tokens for the stub server. Access
// tokens ride the Authorization header; refresh tokens ride an HTTP-only
// cookie, matching the production contract.
type Auth struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewAuth creates an Auth with the given shared secret. A short access TTL is
// useful for exercising the client's refresh path.
func NewAuth(secret string, accessTTL, refreshTTL time.Duration) *Auth {
	if secret == "" {
		panic("stubserver.NewAuth: empty secret")
	}
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &Auth{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL}
}

type claims struct {
	Email string `json:"email"`
	Kind  string `json:"kind"`
	jwt.RegisteredClaims
}

// IssueAccess mints an access token for the user.
func (a *Auth) IssueAccess(email string) (string, error) {
	return a.issue(email, "access", a.accessTTL)
}

// IssueRefresh mints a refresh token for the user.
func (a *Auth) IssueRefresh(email string) (string, error) {
	return a.issue(email, "refresh", a.refreshTTL)
}

func (a *Auth) issue(email, kind string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: email,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// EmailFromAuthHeader validates the access token in an Authorization header.
// The SPA sends the raw token; a Bearer prefix is accepted too.
func (a *Auth) EmailFromAuthHeader(header string) (string, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(header), "Bearer "))
	if raw == "" {
		return "", errors.New("missing token")
	}
	return a.verify(raw, "access")
}

// EmailFromRefreshToken validates a refresh token from the cookie.
func (a *Auth) EmailFromRefreshToken(raw string) (string, error) {
	return a.verify(raw, "refresh")
}

func (a *Auth) verify(raw, kind string) (string, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}
	if c.Kind != kind {
		return "", fmt.Errorf("token kind %q, want %q", c.Kind, kind)
	}
	if c.Email == "" {
		return "", errors.New("token has no email")
	}
	return c.Email, nil
}
