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

package writerlock

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AkZcH/MutexTalk/audit"
	"github.com/AkZcH/MutexTalk/eventbus"
	"github.com/AkZcH/MutexTalk/role"
	"github.com/AkZcH/MutexTalk/store/memory"
)

func newTestLock() *Lock {
	auditLog := audit.NewLog(memory.New())
	bus := eventbus.New()
	return New(auditLog, bus)
}

// TestContention is scenario S1: exactly one of two concurrent
// try_acquire calls wins.
func TestContention(t *testing.T) {
	l := newTestLock()

	var wg sync.WaitGroup
	results := make([]error, 2)
	names := []string{"writer1", "writer2"}

	wg.Add(2)
	for i := 0; i < 2; i++ {
		i := i
		go func() {
			defer wg.Done()
			_, err := l.TryAcquire(context.Background(), names[i], role.Writer)
			results[i] = err
		}()
	}
	wg.Wait()

	oks, errs := 0, 0
	for _, err := range results {
		if err == nil {
			oks++
		} else {
			require.ErrorIs(t, err, ErrHeldByOther)
			errs++
		}
	}
	require.Equal(t, 1, oks)
	require.Equal(t, 1, errs)

	st := l.Snapshot()
	require.Equal(t, Held, st.Status)
}

// TestOwnershipEnforcement is scenario S2: a non-holder is rejected by
// CheckOwner.
func TestOwnershipEnforcement(t *testing.T) {
	l := newTestLock()
	ctx := context.Background()

	_, err := l.TryAcquire(ctx, "writer1", role.Writer)
	require.NoError(t, err)

	err = l.CheckOwner("writer2")
	require.ErrorIs(t, err, ErrNotHolder)

	err = l.CheckOwner("writer1")
	require.NoError(t, err)
}

// TestForcedReleaseByAdmin is scenario S3.
func TestForcedReleaseByAdmin(t *testing.T) {
	l := newTestLock()
	ctx := context.Background()

	_, err := l.TryAcquire(ctx, "writer1", role.Writer)
	require.NoError(t, err)

	st, err := l.AdminSetEnabled(ctx, "admin1", false)
	require.NoError(t, err)
	require.Equal(t, Free, st.Status)
	require.False(t, st.WriterEnabled)

	_, err = l.TryAcquire(ctx, "writer2", role.Writer)
	require.ErrorIs(t, err, ErrWriterDisabled)
}

// TestClientVanished is scenario S4.
func TestClientVanished(t *testing.T) {
	l := newTestLock()
	ctx := context.Background()

	_, err := l.TryAcquire(ctx, "writer1", role.Writer)
	require.NoError(t, err)

	l.ClientVanished(ctx, "writer1")

	st := l.Snapshot()
	require.Equal(t, Free, st.Status)

	// A vanished-client call for a principal that isn't the holder is a
	// harmless no-op.
	_, err = l.TryAcquire(ctx, "writer2", role.Writer)
	require.NoError(t, err)
	l.ClientVanished(ctx, "writer1")
	st = l.Snapshot()
	require.Equal(t, Held, st.Status)
	require.Equal(t, "writer2", st.Owner)
}

// TestSelfReleaseOnly is testable property 7.
func TestSelfReleaseOnly(t *testing.T) {
	l := newTestLock()
	ctx := context.Background()

	_, err := l.TryAcquire(ctx, "writer1", role.Writer)
	require.NoError(t, err)

	_, err = l.Release(ctx, "writer2")
	require.ErrorIs(t, err, ErrNotHolder)

	st := l.Snapshot()
	require.Equal(t, Held, st.Status)
	require.Equal(t, "writer1", st.Owner)
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	l := newTestLock()
	ctx := context.Background()

	before := l.Snapshot()
	_, err := l.TryAcquire(ctx, "writer1", role.Writer)
	require.NoError(t, err)
	_, err = l.Release(ctx, "writer1")
	require.NoError(t, err)
	after := l.Snapshot()

	require.Equal(t, Free, after.Status)
	require.Equal(t, before.WriterEnabled, after.WriterEnabled)
}

func TestReaderCannotAcquire(t *testing.T) {
	l := newTestLock()
	_, err := l.TryAcquire(context.Background(), "reader1", role.Reader)
	require.ErrorIs(t, err, ErrRoleForbidden)
}
