// Package auth issues and verifies the HS256 bearer tokens carrying an
// actor's identity.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mahaj/dupahar-support/pkg/model"
)

var ErrInvalidToken = errors.New("auth: invalid token")

type Claims struct {
	UserID   string     `json:"user_id"`
	TenantID string     `json:"tenant_id"`
	Role     model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies tokens with a shared secret.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("auth: empty JWT secret")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Generate creates a token for actor.
func (t *Tokens) Generate(actor model.Actor) (string, error) {
	if actor.UserID == "" || !actor.Role.Valid() {
		return "", fmt.Errorf("auth: cannot issue token for %+v", actor)
	}
	now := t.now()
	claims := &Claims{
		UserID:   actor.UserID,
		TenantID: actor.TenantID,
		Role:     actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify parses and validates a token and returns the actor it names.
func (t *Tokens) Verify(tokenString string) (model.Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return model.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" || !claims.Role.Valid() {
		return model.Actor{}, ErrInvalidToken
	}
	return model.Actor{UserID: claims.UserID, TenantID: claims.TenantID, Role: claims.Role}, nil
}
