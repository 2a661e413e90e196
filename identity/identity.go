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

// Package identity implements the Identity Registry: Principal
// records, credential verification, and the lockout counter. Built
// around a single flat Role instead of scoped RBAC, with no
// multi-tenant profile or email-hash concerns.
package identity

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/AkZcH/MutexTalk/audit"
	"github.com/AkZcH/MutexTalk/role"
)

// Domain errors, mirrored by the Router into apierr kinds.
var (
	ErrInvalidInput       = errors.New("invalid username, password, or role")
	ErrWeakPassword       = errors.New("password does not meet security requirements")
	ErrUsernameTaken      = errors.New("username already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is locked")
	ErrNotFound           = errors.New("principal not found")
)

const (
	lockoutMaxAttempts = 5
	lockoutDuration    = 15 * time.Minute

	minPasswordLen = 6
	maxPasswordLen = 128
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,50}$`)

// Principal identifies one human user.
type Principal struct {
	Username       string
	PasswordHash   string
	Role           role.Role
	CreatedAt      time.Time
	LastLoginAt    *time.Time
	FailedAttempts int
	LockedUntil    *time.Time
}

// Summary is the subset of a Principal the registry exposes to callers
// outside itself: never the password hash.
type Summary struct {
	Username string
	Role     role.Role
}

// PasswordHasher is the credential-verification collaborator the
// registry delegates to. Satisfied by *password.Hasher.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

// Repository is the narrow persistence contract the Identity Registry
// needs. The registry exclusively owns Principal records; nothing else
// reads or writes through this interface.
type Repository interface {
	Create(ctx context.Context, p *Principal) error
	GetByUsername(ctx context.Context, username string) (*Principal, error)
	UpdateLockout(ctx context.Context, username string, failedAttempts int, lockedUntil *time.Time) error
	UpdateLastLogin(ctx context.Context, username string, at time.Time) error
}

// Registry is the Identity Registry component.
type Registry struct {
	repo   Repository
	hasher PasswordHasher
	audit  *audit.Log
}

// NewRegistry creates an Identity Registry backed by repo and hasher.
func NewRegistry(repo Repository, hasher PasswordHasher, auditLog *audit.Log) *Registry {
	return &Registry{repo: repo, hasher: hasher, audit: auditLog}
}

// ValidateUsername enforces the username shape: 3-50 characters,
// letters, digits, underscore, or hyphen.
func ValidateUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// validatePassword enforces the register-time password policy: length
// 6-128, at least one letter and one digit.
func validatePassword(password string) bool {
	if len(password) < minPasswordLen || len(password) > maxPasswordLen {
		return false
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			hasLetter = true
		}
	}
	return hasLetter && hasDigit
}

// Register creates a new Principal.
func (r *Registry) Register(ctx context.Context, username, password string, rl role.Role) (Summary, error) {
	if !ValidateUsername(username) || !rl.Valid() {
		return Summary{}, ErrInvalidInput
	}
	if !validatePassword(password) {
		return Summary{}, ErrWeakPassword
	}

	if _, err := r.repo.GetByUsername(ctx, username); err == nil {
		return Summary{}, ErrUsernameTaken
	} else if !errors.Is(err, ErrNotFound) {
		return Summary{}, err
	}

	hash, err := r.hasher.Hash(password)
	if err != nil {
		return Summary{}, err
	}

	p := &Principal{
		Username:     username,
		PasswordHash: hash,
		Role:         rl,
		CreatedAt:    time.Now(),
	}
	if err := r.repo.Create(ctx, p); err != nil {
		return Summary{}, err
	}

	name := username
	r.audit.Append(ctx, audit.ActionRegister, &name, "role="+string(rl), 1)

	return Summary{Username: p.Username, Role: p.Role}, nil
}

// Authenticate verifies a credential pair and enforces the lockout
// policy. The dummy-credential path keeps the function's running time
// close to the real-verification path regardless of whether the
// username exists or is currently locked, so response time doesn't
// leak username existence or lock state.
func (r *Registry) Authenticate(ctx context.Context, username, password string) (Summary, error) {
	name := username

	p, err := r.repo.GetByUsername(ctx, username)
	if err != nil {
		dummyVerify(r.hasher)
		r.audit.Append(ctx, audit.ActionLoginFailed, &name, audit.ReasonUnknownUser, 1)
		return Summary{}, ErrInvalidCredentials
	}

	if p.LockedUntil != nil && p.LockedUntil.After(time.Now()) {
		dummyVerify(r.hasher)
		r.audit.Append(ctx, audit.ActionLoginFailed, &name, audit.ReasonLockedOut, 1)
		return Summary{}, ErrAccountLocked
	}

	valid, verr := r.hasher.Verify(password, p.PasswordHash)
	if verr != nil || !valid {
		attempts := p.FailedAttempts + 1
		var lockedUntil *time.Time
		if attempts >= lockoutMaxAttempts {
			until := time.Now().Add(lockoutDuration)
			lockedUntil = &until
			attempts = 0
			r.audit.Append(ctx, audit.ActionLockout, &name, "", 1)
		}
		_ = r.repo.UpdateLockout(ctx, username, attempts, lockedUntil)
		r.audit.Append(ctx, audit.ActionLoginFailed, &name, audit.ReasonInvalidPwd, 1)
		return Summary{}, ErrInvalidCredentials
	}

	if p.FailedAttempts > 0 || p.LockedUntil != nil {
		_ = r.repo.UpdateLockout(ctx, username, 0, nil)
	}
	_ = r.repo.UpdateLastLogin(ctx, username, time.Now())

	r.audit.Append(ctx, audit.ActionLogin, &name, "", 1)

	return Summary{Username: p.Username, Role: p.Role}, nil
}

// Lookup resolves a username to its current Summary, used by the
// Session Authority to re-verify role on every token validation.
func (r *Registry) Lookup(ctx context.Context, username string) (Summary, error) {
	p, err := r.repo.GetByUsername(ctx, username)
	if err != nil {
		return Summary{}, ErrNotFound
	}
	return Summary{Username: p.Username, Role: p.Role}, nil
}

var dummyHash = fmt.Sprintf(
	"$argon2id$v=19$m=65536,t=1,p=4$%s$%s",
	base64.RawStdEncoding.EncodeToString([]byte("mutextalk-dummy-salt!!")),
	base64.RawStdEncoding.EncodeToString([]byte("mutextalk-dummy-hash-value-0000")),
)

// dummyVerify spends the same Argon2id cost as a real Verify call
// without needing a real hash to compare against, so a call path that
// never reaches the stored hash (unknown user, locked account) takes
// the same time as one that does.
func dummyVerify(h PasswordHasher) {
	_, _ = h.Verify("mutextalk-dummy-password-12", dummyHash)
}
