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

// Package session implements the Session Authority component: it
// issues bearer tokens via the token.Signer collaborator and, on every
// verification, re-checks the claims against the Identity Registry so
// a role change or deletion takes effect before the token's own
// expiry. There is no server-side table of issued sessions; this
// wraps token.Signer directly instead.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/AkZcH/MutexTalk/identity"
	"github.com/AkZcH/MutexTalk/role"
	"github.com/AkZcH/MutexTalk/token"
)

// Errors returned by Verify, translated by the Router into apierr kinds.
var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
	ErrUserUnknown  = errors.New("token subject no longer resolves")
	ErrRoleMismatch = errors.New("token role no longer matches principal")
)

// Identity is the narrow view of the Identity Registry the Session
// Authority needs: resolving a username to its current role.
type Identity interface {
	Lookup(ctx context.Context, username string) (identity.Summary, error)
}

// Claims is the verified, re-checked identity of a caller: the
// (principal, role) pair a Session Token resolves to, plus the
// underlying token's expiry so callers that need to detect a vanished
// holder without a subscription (the Router's writer-lock expiry
// sweep) don't have to re-parse the token themselves.
type Claims struct {
	Username  string
	Role      role.Role
	ExpiresAt time.Time
}

// Authority is the Session Authority component.
type Authority struct {
	signer   token.Signer
	registry Identity
}

// NewAuthority creates a Session Authority delegating signing to signer
// and role re-checks to registry.
func NewAuthority(signer token.Signer, registry Identity) *Authority {
	return &Authority{signer: signer, registry: registry}
}

// Issue mints a new bearer token for an authenticated principal.
func (a *Authority) Issue(username string, r role.Role) (string, error) {
	return a.signer.Sign(username, r)
}

// Verify resolves a bearer token to (principal, role): checks expiry,
// that the username still resolves in the registry, and that the
// token's role still matches the Principal's current role.
func (a *Authority) Verify(ctx context.Context, tokenString string) (Claims, error) {
	claims, err := a.signer.Verify(tokenString)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrTokenInvalid
	}

	sum, err := a.registry.Lookup(ctx, claims.Username)
	if err != nil {
		return Claims{}, ErrUserUnknown
	}
	if sum.Role != claims.Role {
		return Claims{}, ErrRoleMismatch
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return Claims{Username: sum.Username, Role: sum.Role, ExpiresAt: expiresAt}, nil
}
