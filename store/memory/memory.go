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

// Package memory implements store.Store entirely in process memory. It
// is the reference Store used by unit tests across the core and doubles
// as the shape the Audit Log's own degraded-mode ring buffer is modeled
// on.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AkZcH/MutexTalk/audit"
	"github.com/AkZcH/MutexTalk/message"
)

// Store is an in-memory, mutex-guarded implementation of store.Store.
type Store struct {
	mu sync.Mutex

	nextMessageID int64
	messages      map[int64]*message.Message

	nextAuditID int64
	auditLog    []audit.Entry
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		messages:      make(map[int64]*message.Message),
		nextMessageID: 1,
		nextAuditID:   1,
	}
}

func (s *Store) PutMessage(ctx context.Context, author, body string, createdAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextMessageID
	s.nextMessageID++

	s.messages[id] = &message.Message{
		ID:        id,
		Author:    author,
		Body:      body,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	return id, nil
}

func (s *Store) UpdateMessage(ctx context.Context, id int64, body string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return message.ErrNotFound
	}
	m.Body = body
	m.UpdatedAt = updatedAt
	return nil
}

func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return message.ErrNotFound
	}
	delete(s.messages, id)
	return nil
}

func (s *Store) GetMessageAuthor(ctx context.Context, id int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return "", message.ErrNotFound
	}
	return m.Author, nil
}

func (s *Store) ListMessages(ctx context.Context, offset, limit int) ([]message.Message, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]message.Message, 0, len(s.messages))
	for _, m := range s.messages {
		all = append(all, *m)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *Store) AppendAudit(ctx context.Context, e audit.Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = s.nextAuditID
	s.nextAuditID++
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.auditLog = append(s.auditLog, e)
	return e.ID, nil
}

func (s *Store) ListAudit(ctx context.Context, offset, limit int) ([]audit.Entry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(s.auditLog)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]audit.Entry, end-offset)
	copy(out, s.auditLog[offset:end])
	return out, total, nil
}
