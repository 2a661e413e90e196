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

package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/AkZcH/MutexTalk/audit"
	"github.com/AkZcH/MutexTalk/identity"
	imem "github.com/AkZcH/MutexTalk/identity/memory"
	"github.com/AkZcH/MutexTalk/password"
	"github.com/AkZcH/MutexTalk/role"
	smem "github.com/AkZcH/MutexTalk/store/memory"
)

func newTestRegistry() *identity.Registry {
	hasher := password.NewHasher(1024, 1, 1, 16, 32)
	auditLog := audit.NewLog(smem.New())
	return identity.NewRegistry(imem.New(), hasher, auditLog)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	sum, err := reg.Register(ctx, "alice", "p4ssword", role.Writer)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if sum.Username != "alice" || sum.Role != role.Writer {
		t.Errorf("unexpected summary: %+v", sum)
	}

	if _, err := reg.Register(ctx, "alice", "p4ssword", role.Writer); err != identity.ErrUsernameTaken {
		t.Errorf("expected ErrUsernameTaken, got %v", err)
	}

	if _, err := reg.Authenticate(ctx, "alice", "p4ssword"); err != nil {
		t.Fatalf("authentication should have succeeded: %v", err)
	}

	if _, err := reg.Authenticate(ctx, "alice", "wrong-password"); err != identity.ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	if _, err := reg.Register(ctx, "a", "p4ssword", role.Writer); err != identity.ErrInvalidInput {
		t.Errorf("expected ErrInvalidInput for short username, got %v", err)
	}
	if _, err := reg.Register(ctx, "bob", "short1", role.Writer); err != nil {
		t.Errorf("6-char password with letter+digit should pass, got %v", err)
	}
	if _, err := reg.Register(ctx, "carol", "nodigits", role.Writer); err != identity.ErrWeakPassword {
		t.Errorf("expected ErrWeakPassword with no digit, got %v", err)
	}
	if _, err := reg.Register(ctx, "dave", "12345678", role.Writer); err != identity.ErrWeakPassword {
		t.Errorf("expected ErrWeakPassword with no letter, got %v", err)
	}
	if _, err := reg.Register(ctx, "eve", "p4ssword", role.Role("superuser")); err != identity.ErrInvalidInput {
		t.Errorf("expected ErrInvalidInput for unknown role, got %v", err)
	}
}

func TestAccountLockout(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	if _, err := reg.Register(ctx, "locked", "p4ssword", role.Reader); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// The lockout threshold is five consecutive failures: four here,
	// then the final failing attempt below.
	for i := 0; i < 4; i++ {
		if _, err := reg.Authenticate(ctx, "locked", "wrong-password"); err != identity.ErrInvalidCredentials {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}

	if _, err := reg.Authenticate(ctx, "locked", "wrong-password"); err != identity.ErrInvalidCredentials {
		t.Fatalf("final failing attempt: expected ErrInvalidCredentials, got %v", err)
	}

	if _, err := reg.Authenticate(ctx, "locked", "p4ssword"); err != identity.ErrAccountLocked {
		t.Errorf("expected ErrAccountLocked once locked, even with the correct password, got %v", err)
	}
}

func TestAuthenticateUnknownUserRunsDummyCheck(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	start := time.Now()
	if _, err := reg.Authenticate(ctx, "ghost", "whatever1"); err != identity.ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
	if time.Since(start) <= 0 {
		t.Error("dummy verification should take nonzero time")
	}
}

func TestLookup(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	if _, err := reg.Lookup(ctx, "nobody"); err != identity.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := reg.Register(ctx, "frank", "p4ssword", role.Admin); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	sum, err := reg.Lookup(ctx, "frank")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if sum.Role != role.Admin {
		t.Errorf("expected admin role, got %v", sum.Role)
	}
}
