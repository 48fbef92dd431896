// Package fixtures builds JWTs shaped like the ones the authorization server issues.
package fixtures

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenFixture provides JWT token generation for tests
type TokenFixture struct {
	Issuer   string
	Audience string
	key      []byte
}

// NewTokenFixture creates a fixture with a random HMAC key
func NewTokenFixture() *TokenFixture {
	return &TokenFixture{
		Issuer:   "https://auth.console.local/",
		Audience: "console-client",
		key:      []byte(uuid.NewString()),
	}
}

// DefaultClaims returns standard claims for subject
func (f *TokenFixture) DefaultClaims(subject string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": f.Issuer,
		"aud": f.Audience,
		"sub": subject,
		"sid": uuid.NewString(),
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
		"jti": uuid.NewString(),
	}
}

// Token signs claims with overrides applied on top of the defaults
func (f *TokenFixture) Token(subject string, overrides map[string]any) string {
	claims := f.DefaultClaims(subject)
	for k, v := range overrides {
		if v == nil {
			delete(claims, k)
			continue
		}
		claims[k] = v
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(f.key)
	if err != nil {
		panic(err)
	}
	return signed
}

// IDToken returns an id_token carrying sid and expiring at exp
func (f *TokenFixture) IDToken(subject, sid string, exp time.Time) string {
	return f.Token(subject, map[string]any{"sid": sid, "exp": exp.Unix()})
}
