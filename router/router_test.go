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

package router_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AkZcH/MutexTalk/apierr"
	"github.com/AkZcH/MutexTalk/audit"
	"github.com/AkZcH/MutexTalk/eventbus"
	"github.com/AkZcH/MutexTalk/identity"
	imem "github.com/AkZcH/MutexTalk/identity/memory"
	"github.com/AkZcH/MutexTalk/message"
	"github.com/AkZcH/MutexTalk/password"
	"github.com/AkZcH/MutexTalk/role"
	"github.com/AkZcH/MutexTalk/router"
	"github.com/AkZcH/MutexTalk/session"
	"github.com/AkZcH/MutexTalk/store/memory"
	"github.com/AkZcH/MutexTalk/token"
	"github.com/AkZcH/MutexTalk/writerlock"
)

func newTestRouter() *router.Router {
	st := memory.New()
	auditLog := audit.NewLog(st)
	bus := eventbus.New()
	lock := writerlock.New(auditLog, bus)
	hasher := password.NewHasher(1024, 1, 1, 16, 32)
	reg := identity.NewRegistry(imem.New(), hasher, auditLog)
	signer := token.NewJWTSigner([]byte("test-secret"), time.Hour)
	authority := session.NewAuthority(signer, reg)
	messages := message.NewService(st, lock, auditLog, bus)

	cfg := router.DefaultConfig()
	cfg.RateLimit = 0 // disable limiting for deterministic tests

	return router.New(reg, authority, lock, messages, auditLog, bus, cfg)
}

func TestRegisterLoginAndAcquireFlow(t *testing.T) {
	r := newTestRouter()
	ctx := context.Background()

	reg, aerr := r.Register(ctx, "writer1", "p4ssword", role.Writer)
	require.Nil(t, aerr)
	require.NotEmpty(t, reg.Token)

	acquire, aerr := r.AcquireWriter(ctx, reg.Token)
	require.Nil(t, aerr)
	require.Equal(t, "writer1", acquire.Owner)

	status, aerr := r.GetStatus(ctx, reg.Token)
	require.Nil(t, aerr)
	require.True(t, status.HasHolder)
	require.Equal(t, "writer1", status.Holder)

	msg, aerr := r.CreateMessage(ctx, reg.Token, "hello world")
	require.Nil(t, aerr)
	require.Equal(t, "writer1", msg.Author)

	aerr2 := r.ReleaseWriter(ctx, reg.Token)
	require.Nil(t, aerr2)

	status, aerr = r.GetStatus(ctx, reg.Token)
	require.Nil(t, aerr)
	require.False(t, status.HasHolder)
}

func TestCreateMessageWithoutLockIsSemaphoreNotHeld(t *testing.T) {
	r := newTestRouter()
	ctx := context.Background()

	reg, aerr := r.Register(ctx, "writer1", "p4ssword", role.Writer)
	require.Nil(t, aerr)

	_, aerr = r.CreateMessage(ctx, reg.Token, "hello")
	require.NotNil(t, aerr)
	require.Equal(t, apierr.SemaphoreNotHeld, aerr.Kind)
}

func TestReaderCannotCreateMessage(t *testing.T) {
	r := newTestRouter()
	ctx := context.Background()

	reg, aerr := r.Register(ctx, "reader1", "p4ssword", role.Reader)
	require.Nil(t, aerr)

	_, aerr = r.CreateMessage(ctx, reg.Token, "hello")
	require.NotNil(t, aerr)
	require.Equal(t, apierr.Forbidden, aerr.Kind)
}

func TestSetWriterEnabledRequiresAdmin(t *testing.T) {
	r := newTestRouter()
	ctx := context.Background()

	writer, aerr := r.Register(ctx, "writer1", "p4ssword", role.Writer)
	require.Nil(t, aerr)
	admin, aerr := r.Register(ctx, "admin1", "p4ssword", role.Admin)
	require.Nil(t, aerr)

	_, aerr = r.SetWriterEnabled(ctx, writer.Token, false)
	require.NotNil(t, aerr)
	require.Equal(t, apierr.Forbidden, aerr.Kind)

	enabled, aerr := r.SetWriterEnabled(ctx, admin.Token, false)
	require.Nil(t, aerr)
	require.False(t, enabled)
}

func TestLoginLockout(t *testing.T) {
	r := newTestRouter()
	ctx := context.Background()

	_, aerr := r.Register(ctx, "reader1", "p4ssword", role.Reader)
	require.Nil(t, aerr)

	for i := 0; i < 5; i++ {
		_, aerr = r.Login(ctx, "reader1", "wrong-password")
		require.NotNil(t, aerr)
		require.Equal(t, apierr.InvalidCredentials, aerr.Kind)
	}

	_, aerr = r.Login(ctx, "reader1", "p4ssword")
	require.NotNil(t, aerr)
	require.Equal(t, apierr.AccountLocked, aerr.Kind)
	require.True(t, aerr.HasRetryAfter())
}

func TestExpirySweepForceReleasesLockWithoutSubscriptionOrLogout(t *testing.T) {
	st := memory.New()
	auditLog := audit.NewLog(st)
	bus := eventbus.New()
	lock := writerlock.New(auditLog, bus)
	hasher := password.NewHasher(1024, 1, 1, 16, 32)
	reg := identity.NewRegistry(imem.New(), hasher, auditLog)
	// JWT dates carry whole seconds, so a two-second lifetime leaves the
	// token valid for at least one second after issue.
	signer := token.NewJWTSigner([]byte("test-secret"), 2*time.Second)
	authority := session.NewAuthority(signer, reg)
	messages := message.NewService(st, lock, auditLog, bus)

	cfg := router.DefaultConfig()
	cfg.RateLimit = 0
	r := router.New(reg, authority, lock, messages, auditLog, bus, cfg)
	ctx := context.Background()

	writer, aerr := r.Register(ctx, "writer1", "p4ssword", role.Writer)
	require.Nil(t, aerr)

	acquire, aerr := r.AcquireWriter(ctx, writer.Token)
	require.Nil(t, aerr)
	require.Equal(t, "writer1", acquire.Owner)

	// writer1 never opens a subscription and never logs out: only the
	// token-expiry sweep can notice this holder is gone. Status is read
	// straight off the lock rather than through r.GetStatus, since
	// writer1's own token (and any other token this authority issues)
	// expires within two seconds too.
	stop := r.StartReconciliation(ctx, 10*time.Millisecond)
	defer stop()

	require.Eventually(t, func() bool {
		return lock.Snapshot().Status == writerlock.Free
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSubscribeDeliversInitialSnapshot(t *testing.T) {
	r := newTestRouter()
	ctx := context.Background()

	reg, aerr := r.Register(ctx, "writer1", "p4ssword", role.Writer)
	require.Nil(t, aerr)

	sub, aerr := r.Subscribe(ctx, reg.Token)
	require.Nil(t, aerr)
	defer r.CloseSubscription(sub)

	nctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, _, err := sub.Next(nctx)
	require.NoError(t, err)
	require.Equal(t, eventbus.KindLockState, e.Kind)
}
