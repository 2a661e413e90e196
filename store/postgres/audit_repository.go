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

	"github.com/AkZcH/MutexTalk/audit"
)

// AuditRepository implements audit.Repository (and half of store.Store)
// against PostgreSQL, using the standard COUNT-then-SELECT ...
// LIMIT/OFFSET pagination shape.
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) AppendAudit(ctx context.Context, e audit.Entry) (int64, error) {
	var id int64
	err := r.db.pool.QueryRow(ctx, `
		INSERT INTO audit_events (ts, action, principal, content, lock_value)
		VALUES (NOW(), $1, $2, $3, $4)
		RETURNING id
	`, string(e.Action), e.Principal, e.Content, e.LockValue).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to append audit event: %w", err)
	}
	return id, nil
}

func (r *AuditRepository) ListAudit(ctx context.Context, offset, limit int) ([]audit.Entry, int, error) {
	var total int
	if err := r.db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_events`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit events: %w", err)
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT id, ts, action, principal, content, lock_value
		FROM audit_events
		ORDER BY ts ASC, id ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var items []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var action string
		if err := rows.Scan(&e.ID, &e.Timestamp, &action, &e.Principal, &e.Content, &e.LockValue); err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Action = audit.Action(action)
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return items, total, nil
}
