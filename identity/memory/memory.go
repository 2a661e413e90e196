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

// Package memory implements identity.Repository entirely in process
// memory, the same role store/memory plays for store.Store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/AkZcH/MutexTalk/identity"
)

// Repository is an in-memory, mutex-guarded identity.Repository.
type Repository struct {
	mu         sync.Mutex
	principals map[string]*identity.Principal
}

// New creates an empty Repository.
func New() *Repository {
	return &Repository{principals: make(map[string]*identity.Principal)}
}

func (r *Repository) Create(ctx context.Context, p *identity.Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.principals[p.Username]; ok {
		return identity.ErrUsernameTaken
	}
	cp := *p
	r.principals[p.Username] = &cp
	return nil
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (*identity.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.principals[username]
	if !ok {
		return nil, identity.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *Repository) UpdateLockout(ctx context.Context, username string, failedAttempts int, lockedUntil *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.principals[username]
	if !ok {
		return identity.ErrNotFound
	}
	p.FailedAttempts = failedAttempts
	p.LockedUntil = lockedUntil
	return nil
}

func (r *Repository) UpdateLastLogin(ctx context.Context, username string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.principals[username]
	if !ok {
		return identity.ErrNotFound
	}
	p.LastLoginAt = &at
	return nil
}
