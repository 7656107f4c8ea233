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

package path

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestInTree(t *testing.T) {
	if !InTree("/", "/") {
		t.Error("/ should contain /")
	}
	if !InTree("/foo", "/") {
		t.Error("/ should contain /foo")
	}
	if !InTree("/foo/bar", "/") {
		t.Error("/ should contain /foo/bar")
	}
	if InTree("/foo/zoo", "/foo/bar") {
		t.Error("/foo/bar should not contain /foo/zoo")
	}
	if InTree("/foozy", "/doozy") {
		t.Error("/doozy should not contain /foozy")
	}
}

func TestIncluded(t *testing.T) {
	if _, ok := Included("/", "/", 0); !ok {
		t.Error("/ should include / with depth 0")
	}
	if _, ok := Included("/foo", "/", 0); ok {
		t.Error("/ should not include /foo with depth 0")
	}
	if _, ok := Included("/foo", "/", 1); !ok {
		t.Error("/ should include /foo with depth 1")
	}
	if _, ok := Included("/foo/bar", "/", 1); ok {
		t.Error("/ should not include /foo/bar with depth 1")
	}
	if rel, ok := Included("/foo/bar", "/foo", -1); !ok || rel != "bar" {
		t.Errorf("relative name of /foo/bar under /foo should be bar, got %q", rel)
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		raw, prefix string
		want        string
		collection  bool
		err         error
	}{
		{raw: "/", want: "/", collection: true},
		{raw: "/a", want: "/a"},
		{raw: "/a/", want: "/a", collection: true},
		{raw: "//a///b", want: "/a/b"},
		{raw: "/a%20b", want: "/a b"},
		{raw: "/caf%C3%A9", want: "/café"},
		{raw: "/a/./b", err: ErrBadPath},
		{raw: "/a/../b", err: ErrBadPath},
		{raw: "/a%00b", err: ErrBadPath},
		{raw: "/a%zz", err: ErrBadPath},
		{raw: "/dav/a", prefix: "/dav", want: "/a"},
		{raw: "/dav/", prefix: "/dav", want: "/", collection: true},
		{raw: "/dav", prefix: "/dav", want: "/", collection: true},
		{raw: "/other/a", prefix: "/dav", err: ErrPrefixMismatch},
	}
	for _, c := range cases {
		got, err := Normalize(c.raw, c.prefix)
		if c.err != nil {
			assert.True(t, errors.Is(err, c.err), "Normalize(%q, %q) = %v, want %v", c.raw, c.prefix, err, c.err)
			continue
		}
		assert.NoError(t, err, "Normalize(%q, %q)", c.raw, c.prefix)
		assert.Equal(t, c.want, got.Path, "path of %q", c.raw)
		assert.Equal(t, c.collection, got.Collection, "collection flag of %q", c.raw)
	}
}

func TestRebase(t *testing.T) {
	assert.Equal(t, "/b/x", Rebase("/a/x", "/a", "/b"))
	assert.Equal(t, "/b", Rebase("/a", "/a", "/b"))
	assert.Equal(t, "/new/deep/x", Rebase("/old/deep/x", "/old", "/new"))
}

func TestURLEncode(t *testing.T) {
	assert.Equal(t, "/a%20b", URLEncode("/a b"))
	assert.Equal(t, "/a", URLEncode("/a"))
}
