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

// Package id generates opaque string identifiers for entities that do not
// carry one of the strictly-increasing integer IDs the core hands out
// itself (message IDs, audit entry IDs). Subscriptions and token IDs use
// it.
package id

import "github.com/google/uuid"

// New returns a new UUIDv7 string identifier. UUIDv7 is time-ordered,
// which keeps subscription and token identifiers roughly sortable by
// creation order without the core having to track a counter for them.
func New() string {
	v, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the global random source is broken;
		// fall back to v4 rather than propagate an error up into
		// constructors that are documented as infallible.
		return uuid.NewString()
	}
	return v.String()
}
