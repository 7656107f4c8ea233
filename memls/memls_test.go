// Copyright 2014 Google Inc. All rights reserved.
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

package memls

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	w "github.com/google/go-webdav"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func exclusive(path string, depth int) w.LockDetails {
	return w.LockDetails{Path: path, Depth: depth, Scope: w.ScopeExclusive, Timeout: 60 * time.Second}
}

func shared(path string, depth int) w.LockDetails {
	return w.LockDetails{Path: path, Depth: depth, Scope: w.ScopeShared, Timeout: 60 * time.Second}
}

func TestLockTokenFormat(t *testing.T) {
	ls := New()
	l, err := ls.Lock(context.Background(), t0, exclusive("/a", 0), "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(l.Token, "urn:uuid:"), l.Token)
	assert.Len(t, l.Token, len("urn:uuid:")+36)
}

func TestTokenUniqueness(t *testing.T) {
	ls := New()
	ctx := context.Background()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		l, err := ls.Lock(ctx, t0, shared("/a", 0), "")
		require.NoError(t, err)
		require.False(t, seen[l.Token], "token issued twice")
		seen[l.Token] = true
	}
}

func TestExclusiveConflicts(t *testing.T) {
	ctx := context.Background()

	t.Run("same path", func(t *testing.T) {
		ls := New()
		_, err := ls.Lock(ctx, t0, exclusive("/a", 0), "")
		require.NoError(t, err)
		_, err = ls.Lock(ctx, t0, exclusive("/a", 0), "")
		assert.True(t, w.ErrorLocked.Is(err))
	})

	t.Run("ancestor infinite covers child", func(t *testing.T) {
		ls := New()
		_, err := ls.Lock(ctx, t0, exclusive("/a", w.DepthInfinity), "")
		require.NoError(t, err)
		_, err = ls.Lock(ctx, t0, exclusive("/a/b/c", 0), "")
		assert.True(t, w.ErrorLocked.Is(err))
	})

	t.Run("infinite request reaches descendant lock", func(t *testing.T) {
		ls := New()
		_, err := ls.Lock(ctx, t0, exclusive("/a/b", 0), "")
		require.NoError(t, err)
		_, err = ls.Lock(ctx, t0, exclusive("/a", w.DepthInfinity), "")
		assert.True(t, w.ErrorLocked.Is(err))
	})

	t.Run("depth zero ancestor does not cover child", func(t *testing.T) {
		ls := New()
		_, err := ls.Lock(ctx, t0, exclusive("/a", 0), "")
		require.NoError(t, err)
		_, err = ls.Lock(ctx, t0, exclusive("/a/b", 0), "")
		assert.NoError(t, err)
	})

	t.Run("siblings do not conflict", func(t *testing.T) {
		ls := New()
		_, err := ls.Lock(ctx, t0, exclusive("/a/x", w.DepthInfinity), "")
		require.NoError(t, err)
		_, err = ls.Lock(ctx, t0, exclusive("/a/y", w.DepthInfinity), "")
		assert.NoError(t, err)
	})
}

func TestSharedLocks(t *testing.T) {
	ctx := context.Background()
	ls := New()

	l1, err := ls.Lock(ctx, t0, shared("/a", 0), "")
	require.NoError(t, err)
	l2, err := ls.Lock(ctx, t0, shared("/a", 0), "")
	require.NoError(t, err)
	assert.NotEqual(t, l1.Token, l2.Token)

	// Exclusive on the same path conflicts with the shared pair.
	_, err = ls.Lock(ctx, t0, exclusive("/a", 0), "")
	assert.True(t, w.ErrorLocked.Is(err))

	// Holding either shared lock authorizes a write.
	assert.NoError(t, ls.Check(ctx, t0, "/a", []string{l1.Token}, false))
	assert.NoError(t, ls.Check(ctx, t0, "/a", []string{l2.Token}, false))
	assert.Error(t, ls.Check(ctx, t0, "/a", nil, false))
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	ls := New()

	l, err := ls.Lock(ctx, t0, exclusive("/a", w.DepthInfinity), "")
	require.NoError(t, err)

	err = ls.Check(ctx, t0, "/a/deep/child", nil, false)
	require.Error(t, err)
	var lr *w.LockedResource
	we, ok := err.(w.Error)
	require.True(t, ok)
	lr, ok = we.Unwrap().(*w.LockedResource)
	require.True(t, ok)
	assert.Equal(t, "/a", lr.Path)
	assert.Equal(t, l.Token, lr.Token)

	assert.NoError(t, ls.Check(ctx, t0, "/a/deep/child", []string{l.Token}, false))
	assert.NoError(t, ls.Check(ctx, t0, "/unrelated", nil, false))
}

func TestCheckDescendants(t *testing.T) {
	ctx := context.Background()
	ls := New()

	l, err := ls.Lock(ctx, t0, exclusive("/a/b/c", 0), "")
	require.NoError(t, err)

	// Deleting /a depth-infinity must account for the lock at
	// /a/b/c even though it does not cover /a itself.
	assert.NoError(t, ls.Check(ctx, t0, "/a", nil, false))
	assert.Error(t, ls.Check(ctx, t0, "/a", nil, true))
	assert.NoError(t, ls.Check(ctx, t0, "/a", []string{l.Token}, true))
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	ls := New()

	l, err := ls.Lock(ctx, t0, exclusive("/a", 0), "")
	require.NoError(t, err)

	t1 := t0.Add(30 * time.Second)
	rl, err := ls.Lock(ctx, t1, w.LockDetails{Path: "/a", Timeout: 90 * time.Second}, l.Token)
	require.NoError(t, err)
	assert.Equal(t, l.Token, rl.Token)
	assert.Equal(t, 90*time.Second, rl.Timeout)
	assert.Equal(t, t1, rl.Refreshed)
	assert.Equal(t, t0, rl.Created)

	_, err = ls.Lock(ctx, t1, w.LockDetails{Path: "/a"}, "urn:uuid:bogus")
	assert.True(t, w.ErrorNoSuchLock.Is(err))

	// A refresh scoped to a path outside the lock fails.
	_, err = ls.Lock(ctx, t1, w.LockDetails{Path: "/other"}, l.Token)
	assert.True(t, w.ErrorNoSuchLock.Is(err))
}

func TestTimeoutClamp(t *testing.T) {
	ls := New()
	l, err := ls.Lock(context.Background(), t0, w.LockDetails{Path: "/a", Timeout: time.Hour}, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxTimeout, l.Timeout)

	// Zero means "Infinite" requested; it is clamped too.
	l2, err := ls.Lock(context.Background(), t0, w.LockDetails{Path: "/b"}, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxTimeout, l2.Timeout)
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	ls := New()

	l, err := ls.Lock(ctx, t0, exclusive("/a", 0), "")
	require.NoError(t, err)

	live := t0.Add(59 * time.Second)
	assert.True(t, ls.Holds(ctx, live, "/a", l.Token))

	dead := t0.Add(61 * time.Second)
	ls.Sweep(dead)
	assert.False(t, ls.Holds(ctx, dead, "/a", l.Token))

	// The path is lockable again.
	_, err = ls.Lock(ctx, dead, exclusive("/a", 0), "")
	assert.NoError(t, err)
}

func TestUnlock(t *testing.T) {
	ctx := context.Background()
	ls := New()

	l, err := ls.Lock(ctx, t0, exclusive("/a", 0), "")
	require.NoError(t, err)

	// Wrong path for the token is a conflict.
	assert.True(t, w.ErrorNoSuchLock.Is(ls.Unlock(ctx, t0, "/b", l.Token)))
	assert.NoError(t, ls.Unlock(ctx, t0, "/a", l.Token))
	assert.True(t, w.ErrorNoSuchLock.Is(ls.Unlock(ctx, t0, "/a", l.Token)))
}

func TestDiscover(t *testing.T) {
	ctx := context.Background()
	ls := New()

	top, err := ls.Lock(ctx, t0, exclusive("/a", w.DepthInfinity), "")
	require.NoError(t, err)

	locks := ls.Discover(ctx, t0, "/a/b")
	require.Len(t, locks, 1)
	assert.Equal(t, top.Token, locks[0].Token)

	assert.Empty(t, ls.Discover(ctx, t0, "/other"))
}

func TestDeleteAndRenameNode(t *testing.T) {
	ctx := context.Background()
	ls := New()

	l, err := ls.Lock(ctx, t0, exclusive("/a/b", w.DepthInfinity), "")
	require.NoError(t, err)

	ls.RenameNode(ctx, "/a", "/z")
	assert.False(t, ls.Holds(ctx, t0, "/a/b", l.Token))
	assert.True(t, ls.Holds(ctx, t0, "/z/b", l.Token))
	assert.True(t, ls.Holds(ctx, t0, "/z/b/deep", l.Token))

	// The old subtree is lockable again.
	_, err = ls.Lock(ctx, t0, exclusive("/a/b", 0), "")
	require.NoError(t, err)

	ls.DeleteNode(ctx, "/z")
	assert.False(t, ls.Holds(ctx, t0, "/z/b", l.Token))
	_, err = ls.Lock(ctx, t0, exclusive("/z/b", 0), "")
	assert.NoError(t, err)
}

func TestFakeLS(t *testing.T) {
	ctx := context.Background()
	ls := NewFake()

	l1, err := ls.Lock(ctx, t0, exclusive("/a", 0), "")
	require.NoError(t, err)
	l2, err := ls.Lock(ctx, t0, exclusive("/a", 0), "")
	require.NoError(t, err)
	assert.Equal(t, l1.Token, l2.Token, "fake tokens are deterministic")
	assert.True(t, strings.HasPrefix(l1.Token, "urn:uuid:"))

	assert.NoError(t, ls.Check(ctx, t0, "/a", nil, true))
	assert.NoError(t, ls.Unlock(ctx, t0, "/a", "anything"))
	assert.True(t, ls.Holds(ctx, t0, "/a", l1.Token))
	assert.Empty(t, ls.Discover(ctx, t0, "/a"))
}
