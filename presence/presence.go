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

// Package presence implements the Command Router's active-presence
// state machine: it tracks, per principal, whether there is any live
// activity, and tells the Writer Lock when a principal it considers
// the holder has gone silent for longer than the grace window.
// Transport liveness (an open subscription) and principal liveness
// (any request at all) are tracked as two separate signals.
package presence

import (
	"sync"
	"time"
)

// State is one of the three presence states.
type State int

const (
	Absent State = iota
	Active
	Grace
)

// DefaultGraceWindow is the 30-second window of no requests and no
// subscriptions that turns Grace into Absent.
const DefaultGraceWindow = 30 * time.Second

// entry is the per-principal bookkeeping the Tracker keeps.
type entry struct {
	state         State
	subscriptions int
	graceTimer    *time.Timer
}

// Tracker is the presence state machine, one instance per running
// core.
type Tracker struct {
	mu         sync.Mutex
	entries    map[string]*entry
	grace      time.Duration
	onVanished func(principal string)
}

// New creates a Tracker using the default grace window. onVanished is
// called (outside the Tracker's own mutex) whenever a principal
// transitions to Absent; the caller is expected to call
// writerlock.Lock.ClientVanished from it if that principal currently
// holds the lock.
func New(onVanished func(principal string)) *Tracker {
	return &Tracker{
		entries:    make(map[string]*entry),
		grace:      DefaultGraceWindow,
		onVanished: onVanished,
	}
}

// WithGraceWindow overrides the default grace window, for tests.
func (t *Tracker) WithGraceWindow(d time.Duration) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.grace = d
	return t
}

func (t *Tracker) get(principal string) *entry {
	e, ok := t.entries[principal]
	if !ok {
		e = &entry{state: Absent}
		t.entries[principal] = e
	}
	return e
}

// OnRequest records a request with a valid token from principal:
// Absent -> Active when any request with a valid token arrives, and
// Grace -> Active on a new request or subscription.
func (t *Tracker) OnRequest(principal string) {
	t.mu.Lock()
	e := t.get(principal)
	t.cancelGraceLocked(e)
	e.state = Active
	t.mu.Unlock()
}

// OnSubscriptionOpen records a new live subscription for principal.
func (t *Tracker) OnSubscriptionOpen(principal string) {
	t.mu.Lock()
	e := t.get(principal)
	e.subscriptions++
	t.cancelGraceLocked(e)
	e.state = Active
	t.mu.Unlock()
}

// OnSubscriptionClose records that one of principal's subscriptions
// closed: Active -> Grace on subscription close. If the
// principal still has another open subscription or lands back in
// Active via a subsequent request before the grace window elapses, no
// vanished callback fires.
func (t *Tracker) OnSubscriptionClose(principal string) {
	t.mu.Lock()
	e := t.get(principal)
	if e.subscriptions > 0 {
		e.subscriptions--
	}
	if e.subscriptions == 0 && e.state == Active {
		e.state = Grace
		t.armGraceLocked(principal, e)
	}
	t.mu.Unlock()
}

// OnLogout immediately transitions principal to Absent: logging out is
// itself a vanished-detection signal.
func (t *Tracker) OnLogout(principal string) {
	t.mu.Lock()
	e := t.get(principal)
	t.cancelGraceLocked(e)
	e.state = Absent
	e.subscriptions = 0
	t.mu.Unlock()

	t.onVanished(principal)
}

// State reports the current presence state for principal.
func (t *Tracker) State(principal string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.get(principal).state
}

func (t *Tracker) cancelGraceLocked(e *entry) {
	if e.graceTimer != nil {
		e.graceTimer.Stop()
		e.graceTimer = nil
	}
}

func (t *Tracker) armGraceLocked(principal string, e *entry) {
	t.cancelGraceLocked(e)
	grace := t.grace
	e.graceTimer = time.AfterFunc(grace, func() {
		t.mu.Lock()
		cur, ok := t.entries[principal]
		vanished := ok && cur.state == Grace && cur.subscriptions == 0
		if vanished {
			cur.state = Absent
		}
		t.mu.Unlock()

		if vanished {
			t.onVanished(principal)
		}
	})
}
