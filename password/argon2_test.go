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

package password

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testHasher() *Hasher {
	return NewHasher(1024, 1, 1, 16, 32)
}

func TestHashVerifyRoundTrip(t *testing.T) {
	h := testHasher()

	encoded, err := h.Hash("correct-horse-battery-staple")
	require.NoError(t, err)

	ok, err := h.Verify("correct-horse-battery-staple", encoded)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyRejectsWrongPassword(t *testing.T) {
	h := testHasher()

	encoded, err := h.Hash("correct-horse-battery-staple")
	require.NoError(t, err)

	ok, err := h.Verify("wrong-password", encoded)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	h := testHasher()

	_, err := h.Verify("anything", "not-an-argon2-hash")
	require.Error(t, err)
}

func TestTwoHashesOfSamePasswordDiffer(t *testing.T) {
	h := testHasher()

	a, err := h.Hash("same-password")
	require.NoError(t, err)
	b, err := h.Hash("same-password")
	require.NoError(t, err)

	require.NotEqual(t, a, b, "random salts should produce different encodings")

	okA, err := h.Verify("same-password", a)
	require.NoError(t, err)
	require.True(t, okA)

	okB, err := h.Verify("same-password", b)
	require.NoError(t, err)
	require.True(t, okB)
}
