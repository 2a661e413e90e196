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

package message

import (
	"context"
	"time"

	"github.com/AkZcH/MutexTalk/audit"
	"github.com/AkZcH/MutexTalk/eventbus"
)

// Locker is the narrow view of the Writer Lock the Message Service
// needs: an O(1) ownership check, performed before the Store call so
// the lock's own critical section is never held across Store latency.
type Locker interface {
	CheckOwner(u string) error
}

// Service is the Message Service component.
type Service struct {
	repo  Repository
	lock  Locker
	audit *audit.Log
	bus   *eventbus.Bus
}

// NewService creates a Message Service wiring repo, lock, auditLog, and
// bus together.
func NewService(repo Repository, lock Locker, auditLog *audit.Log, bus *eventbus.Bus) *Service {
	return &Service{repo: repo, lock: lock, audit: auditLog, bus: bus}
}

// List returns a newest-first page of messages. Any authenticated
// role may call it; no lock ownership required.
func (s *Service) List(ctx context.Context, page, limit int) (Page, error) {
	if err := ValidatePage(page, limit); err != nil {
		return Page{}, err
	}

	offset := (page - 1) * limit
	items, total, err := s.repo.ListMessages(ctx, offset, limit)
	if err != nil {
		return Page{}, err
	}

	return Page{
		Items:   items,
		Page:    page,
		Limit:   limit,
		Total:   total,
		HasMore: offset+len(items) < total,
	}, nil
}

// Create appends a message as the current lock holder: authorize
// (role checked by caller/Router) -> check lock ownership -> mutate
// store -> append audit entry -> publish event. The audit entry is
// appended even if the event publication fails, since eventbus.Publish
// cannot itself fail (it only ever drops to lossy subscribers, never
// returns an error).
func (s *Service) Create(ctx context.Context, u, body string) (Message, error) {
	if err := ValidateBody(body); err != nil {
		return Message{}, ErrInvalidInput
	}
	if err := s.lock.CheckOwner(u); err != nil {
		return Message{}, err
	}

	now := time.Now()
	id, err := s.repo.PutMessage(ctx, u, body, now)
	if err != nil {
		return Message{}, err
	}

	name := u
	s.audit.Append(ctx, audit.ActionCreate, &name, "", 0)
	s.bus.Publish(eventbus.Event{
		Kind:      eventbus.KindMessageCreated,
		MessageID: id,
		Author:    u,
		Body:      body,
	})

	return Message{ID: id, Author: u, Body: body, CreatedAt: now, UpdatedAt: now}, nil
}

// Update edits a message the caller authored, while holding the lock:
// author(id) = u is checked in addition to lock ownership. The
// author field is never changed by an update.
func (s *Service) Update(ctx context.Context, u string, id int64, body string) (Message, error) {
	if err := ValidateBody(body); err != nil {
		return Message{}, ErrInvalidInput
	}
	if err := s.lock.CheckOwner(u); err != nil {
		return Message{}, err
	}

	author, err := s.repo.GetMessageAuthor(ctx, id)
	if err != nil {
		return Message{}, err
	}
	if author != u {
		return Message{}, ErrForbidden
	}

	now := time.Now()
	if err := s.repo.UpdateMessage(ctx, id, body, now); err != nil {
		return Message{}, err
	}

	name := u
	s.audit.Append(ctx, audit.ActionUpdate, &name, "", 0)
	s.bus.Publish(eventbus.Event{
		Kind:      eventbus.KindMessageUpdated,
		MessageID: id,
		Author:    author,
		Body:      body,
	})

	return Message{ID: id, Author: author, Body: body, UpdatedAt: now}, nil
}

// Delete removes a message the caller authored, while holding the
// lock.
func (s *Service) Delete(ctx context.Context, u string, id int64) error {
	if err := s.lock.CheckOwner(u); err != nil {
		return err
	}

	author, err := s.repo.GetMessageAuthor(ctx, id)
	if err != nil {
		return err
	}
	if author != u {
		return ErrForbidden
	}

	if err := s.repo.DeleteMessage(ctx, id); err != nil {
		return err
	}

	name := u
	s.audit.Append(ctx, audit.ActionDelete, &name, "", 0)
	s.bus.Publish(eventbus.Event{Kind: eventbus.KindMessageDeleted, MessageID: id})

	return nil
}
