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

	"github.com/AkZcH/MutexTalk/message"
)

// MessageRepository implements message.Repository (and half of
// store.Store) against PostgreSQL.
type MessageRepository struct {
	db *DB
}

// NewMessageRepository creates a new message repository.
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) PutMessage(ctx context.Context, author, body string, createdAt time.Time) (int64, error) {
	var id int64
	err := r.db.pool.QueryRow(ctx, `
		INSERT INTO messages (author, body, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING id
	`, author, body, createdAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	return id, nil
}

func (r *MessageRepository) UpdateMessage(ctx context.Context, id int64, body string, updatedAt time.Time) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE messages SET body = $2, updated_at = $3
		WHERE id = $1
	`, id, body, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	if result.RowsAffected() == 0 {
		return message.ErrNotFound
	}
	return nil
}

func (r *MessageRepository) DeleteMessage(ctx context.Context, id int64) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if result.RowsAffected() == 0 {
		return message.ErrNotFound
	}
	return nil
}

func (r *MessageRepository) GetMessageAuthor(ctx context.Context, id int64) (string, error) {
	var author string
	err := r.db.pool.QueryRow(ctx, `SELECT author FROM messages WHERE id = $1`, id).Scan(&author)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", message.ErrNotFound
		}
		return "", fmt.Errorf("failed to get message author: %w", err)
	}
	return author, nil
}

func (r *MessageRepository) ListMessages(ctx context.Context, offset, limit int) ([]message.Message, int, error) {
	var total int
	if err := r.db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT id, author, body, created_at, updated_at
		FROM messages
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var items []message.Message
	for rows.Next() {
		var m message.Message
		if err := rows.Scan(&m.ID, &m.Author, &m.Body, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan message: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return items, total, nil
}
