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

package webdav

import (
	"context"
	"fmt"
	"strings"
	"time"

	x "github.com/google/go-webdav/xml"
)

// LockScope is the scope of a WebDAV write lock.
type LockScope int

const (
	ScopeExclusive LockScope = iota
	ScopeShared
)

// LockDetails is the request side of a lock: everything the client
// chooses.
type LockDetails struct {
	// Path is the canonical root of the lock; for a depth-zero lock
	// it is the only covered resource.
	Path string

	// Depth is 0 or DepthInfinity; an infinite lock covers the whole
	// subtree under Path.
	Depth int

	// Scope selects exclusive or shared.
	Scope LockScope

	// OwnerXML is the verbatim owner element content of the LOCK
	// body.
	OwnerXML string

	// Timeout is the requested lock duration. Implementations clamp
	// it to their configured maximum.
	Timeout time.Duration
}

// Lock is an active lock as stored by a LockSystem.
type Lock struct {
	LockDetails

	// Token is the opaque lock token, a urn:uuid URI.
	Token string

	// Created is when the lock was issued; Refreshed advances on
	// every successful refresh.
	Created   time.Time
	Refreshed time.Time
}

// Expiry returns the instant the lock lapses.
func (l Lock) Expiry() time.Time {
	return l.Refreshed.Add(l.Timeout)
}

// Covers reports whether the lock's extent includes the given path.
func (l Lock) Covers(p string) bool {
	if p == l.Path {
		return true
	}
	if l.Depth == 0 {
		return false
	}
	root := l.Path
	if root != "/" {
		root += "/"
	}
	return strings.HasPrefix(p, root)
}

// ActiveLockXML renders the lock as a DAV: activelock fragment for
// lockdiscovery bodies and properties.
func (l Lock) ActiveLockXML(now time.Time) string {
	scope := "<D:exclusive/>"
	if l.Scope == ScopeShared {
		scope = "<D:shared/>"
	}
	depth := "infinity"
	if l.Depth == 0 {
		depth = "0"
	}
	remain := l.Expiry().Sub(now) / time.Second
	if remain < 0 {
		remain = 0
	}
	return fmt.Sprintf(
		"<D:activelock>"+
			"<D:locktype><D:write/></D:locktype>"+
			"<D:lockscope>%s</D:lockscope>"+
			"<D:depth>%s</D:depth>"+
			"<D:owner>%s</D:owner>"+
			"<D:timeout>Second-%d</D:timeout>"+
			"<D:locktoken><D:href>%s</D:href></D:locktoken>"+
			"<D:lockroot><D:href>%s</D:href></D:lockroot>"+
			"</D:activelock>",
		scope, depth, l.OwnerXML, remain, x.Escape(l.Token), x.Escape(l.Path))
}

// LockedResource identifies which resource blocked an operation and
// under which token. It is returned by Check so handlers can build a
// 423 body naming the conflict.
type LockedResource struct {
	Path  string
	Token string
}

func (l *LockedResource) Error() string {
	return fmt.Sprintf("locked: %s by %s", l.Path, l.Token)
}

// LockSystem manages the locks over a resource namespace. All methods
// are safe for concurrent use.
type LockSystem interface {
	// Lock creates a lock from details, or refreshes the lock named
	// by refreshToken when it is non-empty (only the timeout and
	// refresh instant change on refresh). Creation conflicts return
	// an error wrapping a *LockedResource.
	Lock(ctx context.Context, now time.Time, details LockDetails, refreshToken string) (Lock, error)

	// Unlock removes the lock with the given token. The token must
	// belong to a lock rooted at path, else ErrorNoSuchLock.
	Unlock(ctx context.Context, now time.Time, path, token string) error

	// Check verifies that a mutation of path is permitted given the
	// tokens the client submitted. With checkDescendants it also
	// verifies every lock rooted below path, as a depth-infinity
	// DELETE or MOVE must. A conflict is reported as a
	// *LockedResource error.
	Check(ctx context.Context, now time.Time, path string, submitted []string, checkDescendants bool) error

	// Holds reports whether the given token identifies a live lock
	// covering path. It backs If-header state-token evaluation.
	Holds(ctx context.Context, now time.Time, path, token string) bool

	// Discover returns every live lock covering path, whether rooted
	// at path itself or at an ancestor with infinite depth.
	Discover(ctx context.Context, now time.Time, path string) []Lock

	// DeleteNode drops all locks rooted at or below path, mirroring
	// a filesystem delete.
	DeleteNode(ctx context.Context, path string)

	// RenameNode relocates all locks rooted at or below from,
	// mirroring a filesystem rename.
	RenameNode(ctx context.Context, from, to string)
}
