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

// Package message implements the Message Service: CRUD over the chat
// log, gated by writer-lock ownership.
package message

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Domain errors, checked by the Router when translating to apierr.
var (
	ErrNotFound     = errors.New("message not found")
	ErrForbidden    = errors.New("message not owned by caller")
	ErrInvalidInput = errors.New("invalid message input")
)

const (
	MinBodyLen = 1
	MaxBodyLen = 2000
)

// Message is one entry in the chat log.
type Message struct {
	ID        int64
	Author    string // immutable once created
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Page is the pagination envelope returned by List.
type Page struct {
	Items   []Message
	Page    int
	Limit   int
	Total   int
	HasMore bool
}

// Repository is the narrow persistence contract the Message Service
// needs; any store.Store satisfies it structurally.
type Repository interface {
	PutMessage(ctx context.Context, author, body string, createdAt time.Time) (int64, error)
	UpdateMessage(ctx context.Context, id int64, body string, updatedAt time.Time) error
	DeleteMessage(ctx context.Context, id int64) error
	GetMessageAuthor(ctx context.Context, id int64) (string, error)
	ListMessages(ctx context.Context, offset, limit int) ([]Message, int, error)
}

// ValidateBody enforces the body-length invariant: 1-2000 UTF-8
// characters, non-empty after trimming.
func ValidateBody(body string) error {
	trimmed := strings.TrimSpace(body)
	n := len([]rune(trimmed))
	if n < MinBodyLen || len([]rune(body)) > MaxBodyLen {
		return ErrInvalidInput
	}
	return nil
}

// ValidatePage enforces the pagination bounds.
func ValidatePage(page, limit int) error {
	if page < 1 || page > 1000 {
		return ErrInvalidInput
	}
	if limit < 1 || limit > 100 {
		return ErrInvalidInput
	}
	return nil
}
