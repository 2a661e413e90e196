// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package token implements the TokenSigner collaborator the Session
// Authority delegates to: opaque, signed, self-describing bearer
// values. Session tokens are stateless by design: the server keeps no
// table of issued tokens, so revocation is by expiry only.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/AkZcH/MutexTalk/id"
	"github.com/AkZcH/MutexTalk/role"
)

// DefaultExpiry is the default one-hour token lifetime.
const DefaultExpiry = time.Hour

// Errors returned by Verify, translated by the Session Authority.
var (
	ErrExpired = errors.New("token expired")
	ErrInvalid = errors.New("token invalid")
)

// Claims carries the Session Token payload: username, role, issued_at,
// expires_at, and token_id.
type Claims struct {
	Username string    `json:"username"`
	Role     role.Role `json:"role"`
	TokenID  string    `json:"token_id"`
	jwt.RegisteredClaims
}

// Signer is the TokenSigner collaborator: sign(claims) -> token,
// verify(token) -> claims | error.
type Signer interface {
	Sign(username string, r role.Role) (string, error)
	Verify(token string) (Claims, error)
}

// JWTSigner implements Signer using HS256-signed JWTs.
type JWTSigner struct {
	secret []byte
	expiry time.Duration
}

// NewJWTSigner creates a signer using secret to sign and verify tokens,
// with tokens expiring after expiry (use DefaultExpiry when unsure). A
// zero expiry selects DefaultExpiry.
func NewJWTSigner(secret []byte, expiry time.Duration) *JWTSigner {
	if expiry == 0 {
		expiry = DefaultExpiry
	}
	return &JWTSigner{secret: secret, expiry: expiry}
}

// Sign issues a new bearer token for (username, role).
func (s *JWTSigner) Sign(username string, r role.Role) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: username,
		Role:     r,
		TokenID:  id.New(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}

// Verify parses and validates a bearer token's signature and expiry.
// It does not consult the Identity Registry; the Session Authority
// layers the username/role re-check on top of this.
func (s *JWTSigner) Verify(tokenString string) (Claims, error) {
	var claims Claims
	t, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalid
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpired
		}
		return Claims{}, ErrInvalid
	}
	if !t.Valid {
		return Claims{}, ErrInvalid
	}
	return claims, nil
}
