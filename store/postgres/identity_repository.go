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

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/AkZcH/MutexTalk/identity"
	"github.com/AkZcH/MutexTalk/role"
)

// IdentityRepository implements identity.Repository against PostgreSQL.
// Principals are keyed directly by username rather than a surrogate
// UUID, so there is a single GetByUsername lookup rather than a
// separate by-ID and by-hash pair.
type IdentityRepository struct {
	db *DB
}

// NewIdentityRepository creates a new identity repository.
func NewIdentityRepository(db *DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

func (r *IdentityRepository) Create(ctx context.Context, p *identity.Principal) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO principals (username, password_hash, role, created_at, failed_attempts)
		VALUES ($1, $2, $3, $4, 0)
	`, p.Username, p.PasswordHash, string(p.Role), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create principal: %w", err)
	}
	return nil
}

func (r *IdentityRepository) GetByUsername(ctx context.Context, username string) (*identity.Principal, error) {
	var p identity.Principal
	var roleStr string
	err := r.db.pool.QueryRow(ctx, `
		SELECT username, password_hash, role, created_at, last_login_at, failed_attempts, locked_until
		FROM principals
		WHERE username = $1
	`, username).Scan(&p.Username, &p.PasswordHash, &roleStr, &p.CreatedAt, &p.LastLoginAt, &p.FailedAttempts, &p.LockedUntil)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, identity.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	p.Role = role.Role(roleStr)
	return &p, nil
}

func (r *IdentityRepository) UpdateLockout(ctx context.Context, username string, failedAttempts int, lockedUntil *time.Time) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE principals SET failed_attempts = $2, locked_until = $3
		WHERE username = $1
	`, username, failedAttempts, lockedUntil)
	if err != nil {
		return fmt.Errorf("failed to update lockout: %w", err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (r *IdentityRepository) UpdateLastLogin(ctx context.Context, username string, at time.Time) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE principals SET last_login_at = $2
		WHERE username = $1
	`, username, at)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrNotFound
	}
	return nil
}
