// Package auth validates the optional bearer token carried on a gateway
// connection. Grounded on the teacher's internal/domains/user/service.go
// ValidateToken (golang-jwt/jwt HS256 parse-and-claims pattern), stripped
// down to the fields the gateway actually needs.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any unparsable, unsigned, or expired token.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims is the session-scoped JWT payload.
type Claims struct {
	UserID string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// Validator verifies bearer tokens against a shared HMAC secret.
type Validator struct {
	secret []byte
}

// NewValidator constructs a Validator over the given HMAC secret.
func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// Validate parses and verifies tokenString, returning its claims.
func (v *Validator) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Issue mints a short-lived token for a user id, used by tests and by any
// first-party client that authenticates before opening the socket.
func (v *Validator) Issue(userID string, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
