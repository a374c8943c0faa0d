// Package auth verifies the bearer tokens issued by the identity provider.
// The token subject is the caller's user id; email and display name travel as
// custom claims and are used for checkout pre-fill and confirmation emails.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired   = errors.New("token expired")
	ErrInvalidToken   = errors.New("invalid token")
	ErrEmptyJWTSecret = errors.New("jwt secret cannot be empty")
)

// Claims is the token payload.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens. Issuer and Audience are checked only when
// set.
type Verifier struct {
	Secret   []byte
	Issuer   string
	Audience string
}

// NewVerifier returns a Verifier for secret.
func NewVerifier(secret, issuer, audience string) (*Verifier, error) {
	if secret == "" {
		return nil, ErrEmptyJWTSecret
	}
	return &Verifier{Secret: []byte(secret), Issuer: issuer, Audience: audience}, nil
}

// Parse validates tokenString and returns its claims. A token without a
// subject is rejected.
func (v *Verifier) Parse(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.Audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return v.Secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Issue signs a token for userID. It is used by local tooling and tests; in
// production tokens come from the identity provider.
func (v *Verifier) Issue(userID, email, name string, ttl time.Duration) (string, error) {
	if len(v.Secret) == 0 {
		return "", ErrEmptyJWTSecret
	}
	now := time.Now()
	claims := &Claims{
		Email: email,
		Name:  name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if v.Audience != "" {
		claims.Audience = jwt.ClaimStrings{v.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.Secret)
}
