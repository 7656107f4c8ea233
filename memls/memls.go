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

/*
Package memls is an in-memory implementation of webdav.LockSystem. Locks
live only as long as the process; restart drops every lock, which RFC
4918 permits since tokens are opaque and clients must handle lock loss.
*/
package memls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	w "github.com/google/go-webdav"
	wp "github.com/google/go-webdav/path"
)

// DefaultMaxTimeout caps client-requested lock durations.
const DefaultMaxTimeout = 600 * time.Second

// MemLS is the in-memory lock table. A single mutex guards the maps;
// every operation under it is short. Subtree checks scan every lock in
// the table; there is no index by path prefix.
type MemLS struct {
	mu      sync.Mutex
	byPath  map[string][]*w.Lock // locks rooted at a path
	byToken map[string]*w.Lock

	// MaxTimeout clamps requested durations; zero means
	// DefaultMaxTimeout.
	MaxTimeout time.Duration
}

// New returns an empty in-memory lock system.
func New() *MemLS {
	return &MemLS{
		byPath:  make(map[string][]*w.Lock),
		byToken: make(map[string]*w.Lock),
	}
}

var _ w.LockSystem = (*MemLS)(nil)

func (m *MemLS) maxTimeout() time.Duration {
	if m.MaxTimeout > 0 {
		return m.MaxTimeout
	}
	return DefaultMaxTimeout
}

func (m *MemLS) clamp(d time.Duration) time.Duration {
	if d <= 0 || d > m.maxTimeout() {
		return m.maxTimeout()
	}
	return d
}

// remove drops the lock from both indexes. Caller holds mu.
func (m *MemLS) remove(l *w.Lock) {
	delete(m.byToken, l.Token)
	locks := m.byPath[l.Path]
	for i, c := range locks {
		if c == l {
			locks = append(locks[:i], locks[i+1:]...)
			break
		}
	}
	if len(locks) == 0 {
		delete(m.byPath, l.Path)
	} else {
		m.byPath[l.Path] = locks
	}
}

// collectExpired removes every lapsed lock. Caller holds mu.
func (m *MemLS) collectExpired(now time.Time) {
	for _, l := range m.byToken {
		if now.After(l.Expiry()) {
			m.remove(l)
		}
	}
}

// Sweep removes expired locks. It is intended to be driven by a
// background ticker of at least one-second period; lock timeout
// resolution is one second.
func (m *MemLS) Sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collectExpired(now)
}

// conflicts reports whether an existing lock blocks a new lock request.
// Shared locks coexist with each other; anything else on overlapping
// extents conflicts.
func conflicts(existing *w.Lock, details w.LockDetails) bool {
	if existing.Scope == w.ScopeShared && details.Scope == w.ScopeShared {
		return false
	}
	// Existing covers the requested root, or the requested extent
	// reaches down to the existing root.
	if existing.Covers(details.Path) {
		return true
	}
	if details.Depth != 0 && wp.InTree(existing.Path, details.Path) {
		return true
	}
	return false
}

// Lock creates or refreshes a lock.
func (m *MemLS) Lock(ctx context.Context, now time.Time, details w.LockDetails, refreshToken string) (w.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collectExpired(now)

	if refreshToken != "" {
		l, ok := m.byToken[refreshToken]
		if !ok {
			return w.Lock{}, w.ErrorNoSuchLock
		}
		if !l.Covers(details.Path) {
			return w.Lock{}, w.ErrorNoSuchLock
		}
		l.Timeout = m.clamp(details.Timeout)
		l.Refreshed = now
		return *l, nil
	}

	for _, existing := range m.byToken {
		if conflicts(existing, details) {
			return w.Lock{}, w.ErrorLocked.WithCause(&w.LockedResource{
				Path:  existing.Path,
				Token: existing.Token,
			})
		}
	}

	details.Timeout = m.clamp(details.Timeout)
	l := &w.Lock{
		LockDetails: details,
		Token:       "urn:uuid:" + uuid.NewString(),
		Created:     now,
		Refreshed:   now,
	}
	m.byToken[l.Token] = l
	m.byPath[l.Path] = append(m.byPath[l.Path], l)
	return *l, nil
}

// Unlock removes the lock with the given token, which must be rooted at
// path.
func (m *MemLS) Unlock(ctx context.Context, now time.Time, path, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collectExpired(now)

	l, ok := m.byToken[token]
	if !ok || l.Path != path {
		return w.ErrorNoSuchLock
	}
	m.remove(l)
	return nil
}

// covering returns the live locks whose extent includes path, in no
// particular order. Caller holds mu.
func (m *MemLS) covering(path string) []*w.Lock {
	var res []*w.Lock
	for _, l := range m.byToken {
		if l.Covers(path) {
			res = append(res, l)
		}
	}
	return res
}

// Check verifies a mutation of path against the submitted tokens.
func (m *MemLS) Check(ctx context.Context, now time.Time, path string, submitted []string, checkDescendants bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collectExpired(now)

	have := make(map[string]bool, len(submitted))
	for _, t := range submitted {
		have[t] = true
	}

	// Group covering locks by root: holding any one lock on a root
	// authorizes writes under the shared-lock model.
	byRoot := make(map[string][]*w.Lock)
	for _, l := range m.covering(path) {
		byRoot[l.Path] = append(byRoot[l.Path], l)
	}
	if checkDescendants {
		for root, locks := range m.byPath {
			if root != path && wp.InTree(root, path) {
				byRoot[root] = append(byRoot[root], locks...)
			}
		}
	}

	for _, locks := range byRoot {
		ok := false
		for _, l := range locks {
			if have[l.Token] {
				ok = true
				break
			}
		}
		if !ok {
			return w.ErrorLocked.WithCause(&w.LockedResource{
				Path:  locks[0].Path,
				Token: locks[0].Token,
			})
		}
	}
	return nil
}

// Holds reports whether token identifies a live lock covering path.
func (m *MemLS) Holds(ctx context.Context, now time.Time, path, token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collectExpired(now)

	l, ok := m.byToken[token]
	return ok && l.Covers(path)
}

// Discover returns every live lock covering path, most deeply rooted
// first.
func (m *MemLS) Discover(ctx context.Context, now time.Time, path string) []w.Lock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collectExpired(now)

	var res []w.Lock
	for _, l := range m.covering(path) {
		res = append(res, *l)
	}
	sort.Slice(res, func(i, j int) bool {
		return len(res[i].Path) > len(res[j].Path)
	})
	return res
}

// DeleteNode drops every lock rooted at or below path.
func (m *MemLS) DeleteNode(ctx context.Context, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for root, locks := range m.byPath {
		if wp.InTree(root, path) {
			for _, l := range append([]*w.Lock(nil), locks...) {
				m.remove(l)
			}
		}
	}
}

// RenameNode relocates every lock rooted at or below from, rewriting
// the root prefix.
func (m *MemLS) RenameNode(ctx context.Context, from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	moved := make(map[string][]*w.Lock)
	for root, locks := range m.byPath {
		if !wp.InTree(root, from) {
			continue
		}
		nr := wp.Rebase(root, from, to)
		for _, l := range locks {
			l.Path = nr
		}
		moved[nr] = locks
		delete(m.byPath, root)
	}
	for nr, locks := range moved {
		m.byPath[nr] = append(m.byPath[nr], locks...)
	}
}
