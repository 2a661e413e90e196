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

// Package router implements the Command Router component: the single
// composition point and the only component that knows about the
// external transport. It binds the Identity Registry, Session
// Authority, Writer Lock, Message Service, Audit Log, and Event Bus,
// translates their outcomes into the response envelope, and drives the
// presence state machine that feeds the Writer Lock's client-vanished
// detection.
//
// Per-principal rate limiting uses a sync.Map of lazily-created
// golang.org/x/time/rate.Limiter values, one per principal, rather
// than one limiter shared across the whole process.
package router

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AkZcH/MutexTalk/apierr"
	"github.com/AkZcH/MutexTalk/audit"
	"github.com/AkZcH/MutexTalk/eventbus"
	"github.com/AkZcH/MutexTalk/identity"
	"github.com/AkZcH/MutexTalk/message"
	"github.com/AkZcH/MutexTalk/presence"
	"github.com/AkZcH/MutexTalk/role"
	"github.com/AkZcH/MutexTalk/session"
	"github.com/AkZcH/MutexTalk/writerlock"
)

// MaxRequestBytes is the request-body ceiling: 1 MiB.
const MaxRequestBytes = 1 << 20

// defaultReconcileInterval mirrors eventbus's own default tick; the
// expiry sweep runs at the same interval as bus reconciliation.
const defaultReconcileInterval = 2 * time.Second

// Config bundles the router's tunables.
type Config struct {
	RateLimit rate.Limit // requests/sec per principal; 0 disables limiting
	Burst     int
}

// DefaultConfig returns a reasonable per-principal rate limit (10
// requests/sec, burst 20).
func DefaultConfig() Config {
	return Config{RateLimit: 10, Burst: 20}
}

// Router is the Command Router component.
type Router struct {
	identity *identity.Registry
	sessions *session.Authority
	lock     *writerlock.Lock
	messages *message.Service
	auditLog *audit.Log
	bus      *eventbus.Bus
	presence *presence.Tracker

	cfg      Config
	limiters sync.Map // map[string]*rate.Limiter, keyed by principal

	expiry holderExpiry
}

// holderExpiry remembers the current writer lock holder's token
// expiry, set on every successful AcquireWriter. Subscription close
// and logout are both transport-visible vanish signals, but a
// principal that only ever issues requests (no subscription) gives
// presence nothing to watch; this is the third signal the periodic
// sweep checks so that principal's token lapsing still force-releases
// the lock instead of stranding it until the process restarts.
type holderExpiry struct {
	mu        sync.Mutex
	principal string
	expiresAt time.Time
}

func (h *holderExpiry) set(principal string, expiresAt time.Time) {
	h.mu.Lock()
	h.principal = principal
	h.expiresAt = expiresAt
	h.mu.Unlock()
}

func (h *holderExpiry) get() (string, time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.principal, h.expiresAt
}

// New creates a Router wiring every component together. It owns its
// own presence.Tracker internally, feeding client-vanished detection
// back into lock.
func New(
	identityRegistry *identity.Registry,
	sessions *session.Authority,
	lock *writerlock.Lock,
	messages *message.Service,
	auditLog *audit.Log,
	bus *eventbus.Bus,
	cfg Config,
) *Router {
	r := &Router{
		identity: identityRegistry,
		sessions: sessions,
		lock:     lock,
		messages: messages,
		auditLog: auditLog,
		bus:      bus,
		cfg:      cfg,
	}
	r.presence = presence.New(func(principal string) {
		r.lock.ClientVanished(context.Background(), principal)
	})
	return r
}

// limiterFor returns (creating if necessary) the rate limiter for
// principal.
func (r *Router) limiterFor(principal string) *rate.Limiter {
	if l, ok := r.limiters.Load(principal); ok {
		return l.(*rate.Limiter)
	}
	l := rate.NewLimiter(r.cfg.RateLimit, r.cfg.Burst)
	actual, _ := r.limiters.LoadOrStore(principal, l)
	return actual.(*rate.Limiter)
}

// checkRateLimit applies the per-principal token bucket; a zero
// RateLimit disables limiting entirely (useful for tests).
func (r *Router) checkRateLimit(principal string) *apierr.Error {
	if r.cfg.RateLimit == 0 {
		return nil
	}
	if !r.limiterFor(principal).Allow() {
		return apierr.New(apierr.RateLimited, "rate limit exceeded").WithRetryAfter(1)
	}
	return nil
}

// authenticate resolves a bearer token to session.Claims and records
// request activity for the presence state machine.
func (r *Router) authenticate(ctx context.Context, token string) (session.Claims, *apierr.Error) {
	claims, err := r.sessions.Verify(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrTokenExpired):
			return session.Claims{}, apierr.New(apierr.TokenExpired, "token expired")
		case errors.Is(err, session.ErrRoleMismatch):
			return session.Claims{}, apierr.New(apierr.RoleMismatch, "role no longer matches principal")
		default:
			return session.Claims{}, apierr.New(apierr.TokenInvalid, "invalid token")
		}
	}
	r.presence.OnRequest(claims.Username)
	return claims, nil
}

func requireRole(claims session.Claims, roles ...role.Role) *apierr.Error {
	for _, want := range roles {
		if claims.Role == want {
			return nil
		}
	}
	return apierr.New(apierr.Forbidden, "role not permitted for this operation")
}

// --- Register / Login / Logout -------------------------------------------------

// RegisterResult is the register/login response payload.
type RegisterResult struct {
	Username string
	Role     role.Role
	Token    string
}

// Register handles the `register` command.
func (r *Router) Register(ctx context.Context, username, password string, rl role.Role) (RegisterResult, *apierr.Error) {
	sum, err := r.identity.Register(ctx, username, password, rl)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrWeakPassword):
			return RegisterResult{}, apierr.New(apierr.InvalidInput, "password does not meet requirements")
		case errors.Is(err, identity.ErrUsernameTaken):
			return RegisterResult{}, apierr.New(apierr.InvalidInput, "username already taken")
		default:
			return RegisterResult{}, apierr.New(apierr.InvalidInput, "invalid registration input")
		}
	}

	tok, signErr := r.sessions.Issue(sum.Username, sum.Role)
	if signErr != nil {
		return RegisterResult{}, apierr.Wrap(apierr.Internal, signErr)
	}

	return RegisterResult{Username: sum.Username, Role: sum.Role, Token: tok}, nil
}

// Login handles the `login` command.
func (r *Router) Login(ctx context.Context, username, password string) (RegisterResult, *apierr.Error) {
	sum, err := r.identity.Authenticate(ctx, username, password)
	if err != nil {
		if errors.Is(err, identity.ErrAccountLocked) {
			return RegisterResult{}, apierr.New(apierr.AccountLocked, "account is locked").WithRetryAfter(900)
		}
		return RegisterResult{}, apierr.New(apierr.InvalidCredentials, "invalid username or password")
	}

	tok, signErr := r.sessions.Issue(sum.Username, sum.Role)
	if signErr != nil {
		return RegisterResult{}, apierr.Wrap(apierr.Internal, signErr)
	}

	r.presence.OnRequest(sum.Username)
	return RegisterResult{Username: sum.Username, Role: sum.Role, Token: tok}, nil
}

// Logout handles the `logout` command: its only effect is presence ->
// Absent, which forces a release if this principal holds the lock.
func (r *Router) Logout(ctx context.Context, token string) *apierr.Error {
	claims, aerr := r.authenticate(ctx, token)
	if aerr != nil {
		return aerr
	}
	r.presence.OnLogout(claims.Username)
	return nil
}

// --- Messages -------------------------------------------------------------

// ListMessages handles `list_messages`.
func (r *Router) ListMessages(ctx context.Context, token string, page, limit int) (message.Page, *apierr.Error) {
	_, aerr := r.authenticate(ctx, token)
	if aerr != nil {
		return message.Page{}, aerr
	}
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = 50
	}

	p, err := r.messages.List(ctx, page, limit)
	if err != nil {
		return message.Page{}, apierr.New(apierr.InvalidInput, "invalid page or limit")
	}
	return p, nil
}

// CreateMessage handles `create_message`.
func (r *Router) CreateMessage(ctx context.Context, token, body string) (message.Message, *apierr.Error) {
	claims, aerr := r.authenticate(ctx, token)
	if aerr != nil {
		return message.Message{}, aerr
	}
	if rerr := requireRole(claims, role.Writer, role.Admin); rerr != nil {
		return message.Message{}, rerr
	}
	if lerr := r.checkRateLimit(claims.Username); lerr != nil {
		return message.Message{}, lerr
	}

	m, err := r.messages.Create(ctx, claims.Username, body)
	if err != nil {
		return message.Message{}, translateMessageErr(err)
	}
	return m, nil
}

// UpdateMessage handles `update_message`.
func (r *Router) UpdateMessage(ctx context.Context, token string, id int64, body string) (message.Message, *apierr.Error) {
	claims, aerr := r.authenticate(ctx, token)
	if aerr != nil {
		return message.Message{}, aerr
	}
	if rerr := requireRole(claims, role.Writer, role.Admin); rerr != nil {
		return message.Message{}, rerr
	}

	m, err := r.messages.Update(ctx, claims.Username, id, body)
	if err != nil {
		return message.Message{}, translateMessageErr(err)
	}
	return m, nil
}

// DeleteMessage handles `delete_message`.
func (r *Router) DeleteMessage(ctx context.Context, token string, id int64) *apierr.Error {
	claims, aerr := r.authenticate(ctx, token)
	if aerr != nil {
		return aerr
	}
	if rerr := requireRole(claims, role.Writer, role.Admin); rerr != nil {
		return rerr
	}

	if err := r.messages.Delete(ctx, claims.Username, id); err != nil {
		return translateMessageErr(err)
	}
	return nil
}

func translateMessageErr(err error) *apierr.Error {
	switch {
	case errors.Is(err, writerlock.ErrNotHeld), errors.Is(err, writerlock.ErrNotHolder):
		return apierr.New(apierr.SemaphoreNotHeld, "caller does not hold the writer lock")
	case errors.Is(err, message.ErrNotFound):
		return apierr.New(apierr.NotFound, "message not found")
	case errors.Is(err, message.ErrForbidden):
		return apierr.New(apierr.Forbidden, "message not owned by caller")
	case errors.Is(err, message.ErrInvalidInput):
		return apierr.New(apierr.InvalidInput, "invalid message body")
	default:
		return apierr.Wrap(apierr.StoreError, err)
	}
}

// --- Writer lock ------------------------------------------------------------

// AcquireResult is the acquire_writer response payload.
type AcquireResult struct {
	Owner      string
	AcquiredAt time.Time
}

// AcquireWriter handles `acquire_writer`.
func (r *Router) AcquireWriter(ctx context.Context, token string) (AcquireResult, *apierr.Error) {
	claims, aerr := r.authenticate(ctx, token)
	if aerr != nil {
		return AcquireResult{}, aerr
	}
	if rerr := requireRole(claims, role.Writer, role.Admin); rerr != nil {
		return AcquireResult{}, rerr
	}

	st, err := r.lock.TryAcquire(ctx, claims.Username, claims.Role)
	if err != nil {
		switch {
		case errors.Is(err, writerlock.ErrWriterDisabled):
			return AcquireResult{}, apierr.New(apierr.WriterDisabled, "writer lock is disabled")
		case errors.Is(err, writerlock.ErrHeldByOther):
			return AcquireResult{}, apierr.New(apierr.SemaphoreUnavailable, "writer lock is held").
				WithRetryAfter(1).WithHolder(st.Owner)
		default:
			return AcquireResult{}, apierr.New(apierr.Forbidden, "role not permitted to hold the writer lock")
		}
	}

	r.expiry.set(claims.Username, claims.ExpiresAt)
	return AcquireResult{Owner: st.Owner, AcquiredAt: st.AcquiredAt}, nil
}

// ReleaseWriter handles `release_writer`.
func (r *Router) ReleaseWriter(ctx context.Context, token string) *apierr.Error {
	claims, aerr := r.authenticate(ctx, token)
	if aerr != nil {
		return aerr
	}

	if _, err := r.lock.Release(ctx, claims.Username); err != nil {
		return apierr.New(apierr.SemaphoreNotHeld, "caller does not hold the writer lock")
	}
	return nil
}

// StatusResult is the get_status response payload.
type StatusResult struct {
	LockValue     int
	Holder        string
	HasHolder     bool
	WriterEnabled bool
	Ts            time.Time
}

// GetStatus handles `get_status`.
func (r *Router) GetStatus(ctx context.Context, token string) (StatusResult, *apierr.Error) {
	if _, aerr := r.authenticate(ctx, token); aerr != nil {
		return StatusResult{}, aerr
	}

	st := r.lock.Snapshot()
	lockValue := 1
	if st.Status == writerlock.Held {
		lockValue = 0
	}
	return StatusResult{
		LockValue:     lockValue,
		Holder:        st.Owner,
		HasHolder:     st.Status == writerlock.Held,
		WriterEnabled: st.WriterEnabled,
		Ts:            time.Now(),
	}, nil
}

// SetWriterEnabled handles `set_writer_enabled` (admin-only).
func (r *Router) SetWriterEnabled(ctx context.Context, token string, enabled bool) (bool, *apierr.Error) {
	claims, aerr := r.authenticate(ctx, token)
	if aerr != nil {
		return false, aerr
	}
	if rerr := requireRole(claims, role.Admin); rerr != nil {
		return false, rerr
	}

	st, err := r.lock.AdminSetEnabled(ctx, claims.Username, enabled)
	if err != nil {
		return false, apierr.Wrap(apierr.Internal, err)
	}
	return st.WriterEnabled, nil
}

// --- Audit ------------------------------------------------------------------

// ListAudit handles `list_audit` (admin-only).
func (r *Router) ListAudit(ctx context.Context, token string, page, limit int) ([]audit.Entry, int, *apierr.Error) {
	claims, aerr := r.authenticate(ctx, token)
	if aerr != nil {
		return nil, 0, aerr
	}
	if rerr := requireRole(claims, role.Admin); rerr != nil {
		return nil, 0, rerr
	}
	if page < 1 || page > 1000 || limit < 1 || limit > 100 {
		return nil, 0, apierr.New(apierr.InvalidInput, "invalid page or limit")
	}

	offset := (page - 1) * limit
	items, total, err := r.auditLog.List(ctx, offset, limit)
	if err != nil {
		return nil, 0, apierr.Wrap(apierr.StoreError, err)
	}
	return items, total, nil
}

// --- Streaming ---------------------------------------------------------------

// Subscribe handles the streaming event surface's subscribe operation:
// it authenticates token, registers a new Subscription seeded with the
// current lock_state, and records the subscription with the presence
// tracker.
func (r *Router) Subscribe(ctx context.Context, token string) (*eventbus.Subscription, *apierr.Error) {
	claims, aerr := r.authenticate(ctx, token)
	if aerr != nil {
		return nil, aerr
	}

	sub := r.bus.Subscribe(claims.Username, r.lock.SnapshotEvent())
	r.presence.OnSubscriptionOpen(claims.Username)
	return sub, nil
}

// CloseSubscription unregisters sub and records its closure with the
// presence tracker: a live subscription closing is itself a
// vanished-detection signal.
func (r *Router) CloseSubscription(sub *eventbus.Subscription) {
	r.bus.Unsubscribe(sub.ID)
	r.presence.OnSubscriptionClose(sub.Principal)
}

// checkExpiry force-releases the writer lock if its current holder's
// token has expired. It is the third client-vanished detection
// signal, alongside subscription-close-plus-grace and logout, for a
// holder who never opens a subscription and never logs out.
func (r *Router) checkExpiry(ctx context.Context) {
	principal, expiresAt := r.expiry.get()
	if principal == "" || expiresAt.IsZero() || time.Now().Before(expiresAt) {
		return
	}

	st := r.lock.Snapshot()
	if st.Status != writerlock.Held || st.Owner != principal {
		return
	}
	r.lock.ClientVanished(ctx, principal)
}

// StartReconciliation wires the Writer Lock's state as the Event Bus's
// periodic reconciliation snapshot, and runs the token-expiry sweep on
// its own ticker at the same interval.
func (r *Router) StartReconciliation(ctx context.Context, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	stopBus := r.bus.StartReconciliation(ctx, interval, r.lock.SnapshotEvent)

	sweepCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				r.checkExpiry(sweepCtx)
			}
		}
	}()

	return func() {
		stopBus()
		cancel()
		<-done
	}
}
