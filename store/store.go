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

// Package store declares the minimal persistence contract the core
// requires: message and audit durability. No component other than
// message.Service and audit.Log may talk to a Store implementation
// directly; everything else in the core only sees the narrower
// message.Repository / audit.Repository interfaces those packages
// declare, which any Store satisfies structurally.
package store

import (
	"github.com/AkZcH/MutexTalk/audit"
	"github.com/AkZcH/MutexTalk/message"
)

// Store is the union of the message and audit persistence contracts.
// Concrete implementations live in store/memory (in-process, used by
// the tests) and store/postgres (the reference production-grade
// collaborator). The Audit Log's degraded mode does not use either; it
// keeps its own in-memory ring buffer.
type Store interface {
	message.Repository
	audit.Repository
}
