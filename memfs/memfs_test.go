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

package memfs

import (
	"context"
	"encoding/xml"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	w "github.com/google/go-webdav"
)

func write(t *testing.T, fs *MemFS, path, content string) {
	t.Helper()
	f, err := fs.Open(context.Background(), path, w.OpenOpts{Write: true, Create: true, Truncate: true})
	require.NoError(t, err)
	_, err = f.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func read(t *testing.T, fs *MemFS, path string) string {
	t.Helper()
	f, err := fs.Open(context.Background(), path, w.OpenOpts{Read: true})
	require.NoError(t, err)
	defer f.Close()
	b, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(b)
}

func TestCreateAndRead(t *testing.T) {
	ctx := context.Background()
	fs := New()

	write(t, fs, "/f", "hello")
	assert.Equal(t, "hello", read(t, fs, "/f"))

	m, err := fs.Metadata(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, w.KindFile, m.Kind)
	assert.Equal(t, int64(5), m.Length)
	assert.NotEmpty(t, m.ETag)

	_, err = fs.Metadata(ctx, "/missing")
	assert.True(t, w.ErrorNotFound.Is(err))
}

func TestOpenModes(t *testing.T) {
	ctx := context.Background()
	fs := New()

	// Without create, a missing file is 404.
	_, err := fs.Open(ctx, "/f", w.OpenOpts{Read: true})
	assert.True(t, w.ErrorNotFound.Is(err))

	// Create in a missing parent is a conflict.
	_, err = fs.Open(ctx, "/no/f", w.OpenOpts{Write: true, Create: true})
	assert.True(t, w.ErrorMissingParent.Is(err))

	write(t, fs, "/f", "abc")

	// CreateNew on an existing file fails.
	_, err = fs.Open(ctx, "/f", w.OpenOpts{Write: true, CreateNew: true})
	assert.Error(t, err)

	// Append positions at EOF.
	f, err := fs.Open(ctx, "/f", w.OpenOpts{Write: true, Append: true})
	require.NoError(t, err)
	_, err = f.Write([]byte("def"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "abcdef", read(t, fs, "/f"))

	// Opening a directory for content fails.
	require.NoError(t, fs.CreateDir(ctx, "/d"))
	_, err = fs.Open(ctx, "/d", w.OpenOpts{Read: true})
	assert.True(t, w.ErrorIsDir.Is(err))
}

func TestSparseWrite(t *testing.T) {
	ctx := context.Background()
	fs := New()
	write(t, fs, "/f", "abc")

	f, err := fs.Open(ctx, "/f", w.OpenOpts{Write: true})
	require.NoError(t, err)
	_, err = f.Seek(6, io.SeekStart)
	require.NoError(t, err)
	_, err = f.Write([]byte("xyz"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Equal(t, "abc\x00\x00\x00xyz", read(t, fs, "/f"))

	m, err := fs.Metadata(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, int64(9), m.Length)
}

func TestETagChangesOnWrite(t *testing.T) {
	ctx := context.Background()
	fs := New()
	write(t, fs, "/f", "one")
	m1, _ := fs.Metadata(ctx, "/f")
	write(t, fs, "/f", "twoo")
	m2, _ := fs.Metadata(ctx, "/f")
	assert.NotEqual(t, m1.ETag, m2.ETag)
}

func TestMkdirSemantics(t *testing.T) {
	ctx := context.Background()
	fs := New()

	require.NoError(t, fs.CreateDir(ctx, "/a"))
	assert.True(t, w.ErrorNotAllowed.Is(fs.CreateDir(ctx, "/a")))
	assert.True(t, w.ErrorMissingParent.Is(fs.CreateDir(ctx, "/x/y")))

	write(t, fs, "/a/f", "1")
	m, err := fs.Metadata(ctx, "/a")
	require.NoError(t, err)
	assert.True(t, m.IsDir())
}

func TestReadDir(t *testing.T) {
	ctx := context.Background()
	fs := New()

	require.NoError(t, fs.CreateDir(ctx, "/a"))
	write(t, fs, "/a/one", "1")
	write(t, fs, "/a/two", "22")
	require.NoError(t, fs.CreateDir(ctx, "/a/sub"))
	write(t, fs, "/a/sub/deep", "3")

	entries, err := fs.ReadDir(ctx, "/a")
	require.NoError(t, err)
	names := []string{}
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"one", "sub", "two"}, names)

	m, err := entries[1].Meta(ctx)
	require.NoError(t, err)
	assert.True(t, m.IsDir())

	_, err = fs.ReadDir(ctx, "/nope")
	assert.True(t, w.ErrorNotFound.Is(err))
	_, err = fs.ReadDir(ctx, "/a/one")
	assert.True(t, w.ErrorIsNotDir.Is(err))
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	fs := New()

	write(t, fs, "/f", "x")
	require.NoError(t, fs.CreateDir(ctx, "/d"))
	write(t, fs, "/d/f", "y")

	assert.True(t, w.ErrorIsDir.Is(fs.RemoveFile(ctx, "/d")))
	assert.True(t, w.ErrorNotEmpty.Is(fs.RemoveDir(ctx, "/d")))
	require.NoError(t, fs.RemoveFile(ctx, "/d/f"))
	require.NoError(t, fs.RemoveDir(ctx, "/d"))
	require.NoError(t, fs.RemoveFile(ctx, "/f"))
	assert.True(t, w.ErrorNotFound.Is(fs.RemoveFile(ctx, "/f")))
}

func TestRenameSubtree(t *testing.T) {
	ctx := context.Background()
	fs := New()

	require.NoError(t, fs.CreateDir(ctx, "/a"))
	require.NoError(t, fs.CreateDir(ctx, "/a/sub"))
	write(t, fs, "/a/sub/f", "deep")
	name := xml.Name{Space: "urn:x", Local: "p"}
	_, err := fs.PatchProps(ctx, "/a/sub/f", []w.DeadProp{{Name: name, InnerXML: []byte("v")}}, nil)
	require.NoError(t, err)

	require.NoError(t, fs.Rename(ctx, "/a", "/b"))

	_, err = fs.Metadata(ctx, "/a")
	assert.True(t, w.ErrorNotFound.Is(err))
	assert.Equal(t, "deep", read(t, fs, "/b/sub/f"))

	// Dead properties travel with the rename.
	dp, err := fs.GetProp(ctx, "/b/sub/f", name)
	require.NoError(t, err)
	assert.Equal(t, "v", string(dp.InnerXML))

	// Renaming into one's own subtree is refused.
	require.NoError(t, fs.CreateDir(ctx, "/c"))
	assert.True(t, w.ErrorForbidden.Is(fs.Rename(ctx, "/c", "/c/x")))
}

func TestCopyResource(t *testing.T) {
	ctx := context.Background()
	fs := New()

	write(t, fs, "/src", "data")
	name := xml.Name{Space: "urn:x", Local: "p"}
	_, err := fs.PatchProps(ctx, "/src", []w.DeadProp{{Name: name, InnerXML: []byte("v")}}, nil)
	require.NoError(t, err)

	require.NoError(t, fs.Copy(ctx, "/src", "/dst"))
	assert.Equal(t, "data", read(t, fs, "/dst"))

	dp, err := fs.GetProp(ctx, "/dst", name)
	require.NoError(t, err)
	assert.Equal(t, "v", string(dp.InnerXML))

	// The copy is independent of the source.
	write(t, fs, "/src", "changed")
	assert.Equal(t, "data", read(t, fs, "/dst"))

	// Copies do not overwrite.
	assert.Error(t, fs.Copy(ctx, "/src", "/dst"))
}

func TestPatchProps(t *testing.T) {
	ctx := context.Background()
	fs := New()
	write(t, fs, "/f", "x")

	a := xml.Name{Space: "urn:x", Local: "a"}
	b := xml.Name{Space: "urn:x", Local: "b"}

	res, err := fs.PatchProps(ctx, "/f",
		[]w.DeadProp{{Name: a, InnerXML: []byte("1")}, {Name: b, InnerXML: []byte("2")}}, nil)
	require.NoError(t, err)
	require.Len(t, res, 2)
	for _, r := range res {
		assert.Equal(t, 200, r.Status)
	}

	has, err := fs.HasProps(ctx, "/f")
	require.NoError(t, err)
	assert.True(t, has)

	res, err = fs.PatchProps(ctx, "/f", nil, []xml.Name{a})
	require.NoError(t, err)
	require.Len(t, res, 1)

	props, err := fs.GetProps(ctx, "/f")
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, b, props[0].Name)
}

func TestQuota(t *testing.T) {
	ctx := context.Background()
	fs := New()
	fs.Limit = 100
	write(t, fs, "/f", "0123456789")

	used, avail, err := fs.Quota(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, int64(10), used)
	assert.Equal(t, int64(90), avail)
}

func TestConcurrentWritersSerialize(t *testing.T) {
	ctx := context.Background()
	fs := New()
	write(t, fs, "/f", "")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := fs.Open(ctx, "/f", w.OpenOpts{Write: true, Append: true})
			if err != nil {
				t.Error(err)
				return
			}
			defer f.Close()
			f.Write([]byte("0123456789"))
		}()
	}
	wg.Wait()

	m, err := fs.Metadata(ctx, "/f")
	require.NoError(t, err)
	// Appends may interleave by offset, but the final length is
	// consistent with every write having landed.
	assert.Equal(t, int64(0), m.Length%10)
	assert.True(t, m.Length >= 10)
}
