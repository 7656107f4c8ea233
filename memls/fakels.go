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
	"time"

	"github.com/google/uuid"

	w "github.com/google/go-webdav"
)

// FakeLS pretends to lock. Some clients (macOS Finder, Windows
// Explorer) insist on LOCK before writing but never rely on real
// exclusion; FakeLS grants every request so those clients work without
// the cost of a lock table. Tokens are synthesized deterministically
// from the lock root, and UNLOCK always succeeds.
type FakeLS struct{}

// NewFake returns the no-op lock system.
func NewFake() *FakeLS { return &FakeLS{} }

var _ w.LockSystem = (*FakeLS)(nil)

// fakeToken derives the stable token for a path.
func fakeToken(path string) string {
	return "urn:uuid:" + uuid.NewSHA1(uuid.NameSpaceURL, []byte("fakels:"+path)).String()
}

func (f *FakeLS) Lock(ctx context.Context, now time.Time, details w.LockDetails, refreshToken string) (w.Lock, error) {
	details.Timeout = DefaultMaxTimeout
	tok := refreshToken
	if tok == "" {
		tok = fakeToken(details.Path)
	}
	return w.Lock{
		LockDetails: details,
		Token:       tok,
		Created:     now,
		Refreshed:   now,
	}, nil
}

func (f *FakeLS) Unlock(ctx context.Context, now time.Time, path, token string) error {
	return nil
}

func (f *FakeLS) Check(ctx context.Context, now time.Time, path string, submitted []string, checkDescendants bool) error {
	return nil
}

func (f *FakeLS) Holds(ctx context.Context, now time.Time, path, token string) bool {
	return token == fakeToken(path)
}

func (f *FakeLS) Discover(ctx context.Context, now time.Time, path string) []w.Lock {
	return nil
}

func (f *FakeLS) DeleteNode(ctx context.Context, path string) {}

func (f *FakeLS) RenameNode(ctx context.Context, from, to string) {}
