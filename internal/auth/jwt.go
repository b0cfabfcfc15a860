package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every verification failure: bad signature,
// undecodable payload and expiry are deliberately not distinguished.
var ErrInvalidToken = errors.New("invalid token")

// Codec issues and verifies HS256 session tokens. It is immutable after
// construction and safe for concurrent use.
type Codec struct {
	key    []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

func NewCodec(key []byte, ttl time.Duration) *Codec {
	return NewCodecWithClock(key, ttl, time.Now)
}

func NewCodecWithClock(key []byte, ttl time.Duration, now func() time.Time) *Codec {
	return &Codec{
		key: key,
		ttl: ttl,
		now: now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithStrictDecoding(),
			jwt.WithTimeFunc(now),
		),
	}
}

// Issue mints a token for subject that expires one TTL from now.
func (c *Codec) Issue(subject string) (string, error) {
	if len(c.key) == 0 {
		return "", fmt.Errorf("signing key is not initialized")
	}
	now := c.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.key)
}

// Verify returns the embedded subject of a valid, unexpired token.
func (c *Codec) Verify(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	token, err := c.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return c.key, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
