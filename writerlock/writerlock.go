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

// Package writerlock implements the Writer Lock: the single
// process-local mutual-exclusion primitive the whole system is built
// around. A single sync.Mutex guards the state struct and is held only
// long enough for the compare-and-commit, never across audit or bus
// I/O.
package writerlock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AkZcH/MutexTalk/audit"
	"github.com/AkZcH/MutexTalk/eventbus"
	"github.com/AkZcH/MutexTalk/role"
)

// Status is the externally observable shape of the lock.
type Status int

const (
	Free Status = iota
	Held
)

// Errors returned by the Writer Lock's operations, translated by the
// Router into apierr kinds.
var (
	ErrHeldByOther    = errors.New("lock held by another principal")
	ErrWriterDisabled = errors.New("writer lock is administratively disabled")
	ErrNotHeld        = errors.New("lock is not held")
	ErrNotHolder      = errors.New("caller does not hold the lock")
	ErrRoleForbidden  = errors.New("role is not permitted to hold the writer lock")
)

// State is a point-in-time snapshot of the lock.
type State struct {
	Status        Status
	Owner         string
	AcquiredAt    time.Time
	WriterEnabled bool
}

// Lock is the Writer Lock component.
type Lock struct {
	mu sync.Mutex

	status        Status
	owner         string
	acquiredAt    time.Time
	writerEnabled bool

	audit *audit.Log
	bus   *eventbus.Bus
}

// New creates a Writer Lock, initially Free with writing enabled.
func New(auditLog *audit.Log, bus *eventbus.Bus) *Lock {
	return &Lock{
		status:        Free,
		writerEnabled: true,
		audit:         auditLog,
		bus:           bus,
	}
}

// lockValueLocked returns the wire lock_value encoding: 0 = Held, 1 =
// Free. Caller must hold l.mu.
func (l *Lock) lockValueLocked() int {
	if l.status == Held {
		return 0
	}
	return 1
}

// snapshotLocked builds a State from current fields. Caller must hold
// l.mu.
func (l *Lock) snapshotLocked() State {
	return State{
		Status:        l.status,
		Owner:         l.owner,
		AcquiredAt:    l.acquiredAt,
		WriterEnabled: l.writerEnabled,
	}
}

// eventLocked builds the lock_state eventbus.Event reflecting the
// current state. Caller must hold l.mu.
func (l *Lock) eventLocked() eventbus.Event {
	e := eventbus.Event{
		Kind:          eventbus.KindLockState,
		LockValue:     l.lockValueLocked(),
		WriterEnabled: l.writerEnabled,
	}
	if l.status == Held {
		e.Holder = l.owner
		e.HasHolder = true
	}
	return e
}

// Snapshot returns the current lock state: a read path needing no lock
// beyond the brief internal mutex.
func (l *Lock) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// SnapshotEvent returns the current state as a lock_state event, used
// both for the subscribe-time snapshot and for periodic reconciliation.
func (l *Lock) SnapshotEvent() eventbus.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.eventLocked()
}

// TryAcquire implements the Free --try_acquire(u)--> Held{u}
// transition. It never blocks: the caller always gets an immediate
// result. A role that cannot write (reader) is rejected with
// ErrRoleForbidden before the lock state is consulted; after that,
// TryAcquire enforces writer_enabled and current ownership.
func (l *Lock) TryAcquire(ctx context.Context, u string, r role.Role) (State, error) {
	if !r.CanWrite() {
		return State{}, ErrRoleForbidden
	}

	l.mu.Lock()
	if !l.writerEnabled {
		st := l.snapshotLocked()
		l.mu.Unlock()
		return st, ErrWriterDisabled
	}
	if l.status == Held {
		st := l.snapshotLocked()
		l.mu.Unlock()
		return st, ErrHeldByOther
	}

	l.status = Held
	l.owner = u
	l.acquiredAt = time.Now()
	st := l.snapshotLocked()
	evt := l.eventLocked()
	l.mu.Unlock()

	name := u
	l.audit.Append(ctx, audit.ActionAcquire, &name, "", l.lockValueOf(st))
	l.bus.Publish(evt)
	l.bus.Publish(eventbus.Event{Kind: eventbus.KindWriterChanged, Change: eventbus.WriterAcquired, Principal: u})

	return st, nil
}

// lockValueOf mirrors lockValueLocked for an already-captured State,
// used after releasing l.mu: the audit append must not happen under
// it, since it may itself block on Store I/O.
func (l *Lock) lockValueOf(st State) int {
	if st.Status == Held {
		return 0
	}
	return 1
}

// Release implements the Held{u}--release(u)--> Free transition.
func (l *Lock) Release(ctx context.Context, u string) (State, error) {
	l.mu.Lock()
	if l.status == Free {
		st := l.snapshotLocked()
		l.mu.Unlock()
		return st, ErrNotHeld
	}
	if l.owner != u {
		st := l.snapshotLocked()
		l.mu.Unlock()
		return st, ErrNotHolder
	}

	l.status = Free
	prevOwner := l.owner
	l.owner = ""
	l.acquiredAt = time.Time{}
	st := l.snapshotLocked()
	evt := l.eventLocked()
	l.mu.Unlock()

	name := prevOwner
	l.audit.Append(ctx, audit.ActionRelease, &name, "", l.lockValueOf(st))
	l.bus.Publish(evt)
	l.bus.Publish(eventbus.Event{Kind: eventbus.KindWriterChanged, Change: eventbus.WriterReleased, Principal: prevOwner})

	return st, nil
}

// CheckOwner implements check_owner(u): owned, not-held, or
// not-holder, used by the Message Service before any mutation.
func (l *Lock) CheckOwner(u string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status == Free {
		return ErrNotHeld
	}
	if l.owner != u {
		return ErrNotHolder
	}
	return nil
}

// AdminSetEnabled implements the admin_set_enabled(v) transition.
// Disabling forcibly releases any current holder: any state ->
// Free, writer_enabled=false.
func (l *Lock) AdminSetEnabled(ctx context.Context, admin string, enabled bool) (State, error) {
	l.mu.Lock()

	var forcedOwner string
	wasHeld := l.status == Held
	if !enabled {
		if wasHeld {
			forcedOwner = l.owner
		}
		l.status = Free
		l.owner = ""
		l.acquiredAt = time.Time{}
	}
	l.writerEnabled = enabled
	st := l.snapshotLocked()
	evt := l.eventLocked()
	l.mu.Unlock()

	adminName := admin
	if !enabled && wasHeld {
		forced := forcedOwner
		l.audit.Append(ctx, audit.ActionAdminForceRelease, &forced, "", l.lockValueOf(st))
		l.bus.Publish(eventbus.Event{Kind: eventbus.KindWriterChanged, Change: eventbus.WriterForced, Principal: forcedOwner})
	}
	l.audit.Append(ctx, audit.ActionAdminToggle, &adminName, enabledContent(enabled), l.lockValueOf(st))
	l.bus.Publish(evt)
	l.bus.Publish(eventbus.Event{Kind: eventbus.KindAdminToggle, Admin: admin, Enabled: enabled})

	return st, nil
}

func enabledContent(enabled bool) string {
	if enabled {
		return "enabled=true"
	}
	return "enabled=false"
}

// ClientVanished is called when the Router/presence machinery detects
// that u, the current holder, has no remaining activity. It is a no-op
// (not an error) if u is not the current holder, since presence
// detection is inherently racy against a concurrent release.
func (l *Lock) ClientVanished(ctx context.Context, u string) {
	l.mu.Lock()
	if l.status != Held || l.owner != u {
		l.mu.Unlock()
		return
	}

	l.status = Free
	l.owner = ""
	l.acquiredAt = time.Time{}
	st := l.snapshotLocked()
	evt := l.eventLocked()
	l.mu.Unlock()

	name := u
	l.audit.Append(ctx, audit.ActionRelease, &name, audit.ReasonClientGone, l.lockValueOf(st))
	l.bus.Publish(evt)
	l.bus.Publish(eventbus.Event{Kind: eventbus.KindWriterChanged, Change: eventbus.WriterReleased, Principal: u})
}
