package management

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionTokenTTL is how long a management session token minted from a
// bearer exchange stays valid.
const sessionTokenTTL = 30 * time.Minute

// sessionClaims is deliberately minimal: the session token only ever
// proves "this holder recently presented USER_TOKEN", it carries no
// per-operator identity since the management surface itself has none.
type sessionClaims struct {
	jwt.RegisteredClaims
}

// issueSessionToken signs a short-lived JWT with the configured bearer
// secret, so a browser-based admin UI can hold this instead of the raw
// USER_TOKEN in local storage.
func (s *Server) issueSessionToken() (string, error) {
	now := time.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "iotbroker-management",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.userToken))
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

func (s *Server) verifySessionToken(raw string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.userToken), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer("iotbroker-management"))
	if err != nil {
		return nil, fmt.Errorf("parsing session token: %w", err)
	}
	return claims, nil
}
