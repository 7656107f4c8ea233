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
Package aferofs adapts any afero.Fs into a webdav.FileSystem, which is
how a local directory (afero.NewBasePathFs over the OS filesystem) or
any other afero backend is served.

Afero carries no dead-property storage, so properties live in a side
table in memory; they survive COPY and MOVE but not a restart. Backends
needing durable properties implement webdav.FileSystem directly.
*/
package aferofs

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	gp "path"
	"sync"

	"github.com/spf13/afero"

	w "github.com/google/go-webdav"
	wp "github.com/google/go-webdav/path"
)

// FS wraps an afero.Fs.
type FS struct {
	fs afero.Fs

	mu    sync.Mutex
	props map[string]map[xml.Name]w.DeadProp
}

// New wraps fs.
func New(fs afero.Fs) *FS {
	return &FS{fs: fs, props: make(map[string]map[xml.Name]w.DeadProp)}
}

var _ w.FileSystem = (*FS)(nil)

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return w.ErrorNotFound.WithCause(err)
	case os.IsExist(err):
		return w.ErrorConflict.WithCause(err)
	case os.IsPermission(err):
		return w.ErrorForbidden.WithCause(err)
	default:
		return w.ErrorInternal.WithCause(err)
	}
}

func metaOf(fi os.FileInfo) w.Meta {
	kind := w.KindFile
	if fi.IsDir() {
		kind = w.KindDir
	} else if fi.Mode()&os.ModeSymlink != 0 {
		kind = w.KindSymlink
	}
	m := w.Meta{
		Kind:       kind,
		Length:     fi.Size(),
		ModTime:    fi.ModTime(),
		CreateTime: fi.ModTime(),
		Executable: fi.Mode()&0o111 != 0,
	}
	m.ETag = fmt.Sprintf(`"%x-%x"`, m.ModTime.UnixNano(), m.Length)
	return m
}

func (a *FS) Metadata(ctx context.Context, path string) (w.Meta, error) {
	fi, err := a.fs.Stat(path)
	if err != nil {
		return w.Meta{}, mapError(err)
	}
	return metaOf(fi), nil
}

func (a *FS) SymlinkMetadata(ctx context.Context, path string) (w.Meta, error) {
	if lst, ok := a.fs.(afero.Lstater); ok {
		fi, _, err := lst.LstatIfPossible(path)
		if err != nil {
			return w.Meta{}, mapError(err)
		}
		return metaOf(fi), nil
	}
	return a.Metadata(ctx, path)
}

func openFlag(opts w.OpenOpts) int {
	flag := 0
	switch {
	case opts.Read && (opts.Write || opts.Append || opts.Truncate):
		flag = os.O_RDWR
	case opts.Write || opts.Append || opts.Truncate || opts.Create || opts.CreateNew:
		flag = os.O_WRONLY
	default:
		flag = os.O_RDONLY
	}
	if opts.Create {
		flag |= os.O_CREATE
	}
	if opts.CreateNew {
		flag |= os.O_CREATE | os.O_EXCL
	}
	if opts.Truncate {
		flag |= os.O_TRUNC
	}
	if opts.Append {
		flag |= os.O_APPEND
	}
	return flag
}

func (a *FS) Open(ctx context.Context, path string, opts w.OpenOpts) (w.File, error) {
	f, err := a.fs.OpenFile(path, openFlag(opts), 0o644)
	if err != nil {
		if os.IsNotExist(err) && (opts.Create || opts.CreateNew) {
			// Distinguish a missing parent for MKCOL-style 409.
			if _, perr := a.fs.Stat(gp.Dir(path)); perr != nil {
				return nil, w.ErrorMissingParent.WithCause(err)
			}
		}
		return nil, mapError(err)
	}
	return f, nil
}

func (a *FS) ReadDir(ctx context.Context, path string) ([]w.DirEntry, error) {
	fi, err := a.fs.Stat(path)
	if err != nil {
		return nil, mapError(err)
	}
	if !fi.IsDir() {
		return nil, w.ErrorIsNotDir
	}
	infos, err := afero.ReadDir(a.fs, path)
	if err != nil {
		return nil, mapError(err)
	}
	entries := make([]w.DirEntry, 0, len(infos))
	for _, fi := range infos {
		fi := fi
		entries = append(entries, w.DirEntry{
			Name: fi.Name(),
			Meta: func(ctx context.Context) (w.Meta, error) {
				return metaOf(fi), nil
			},
		})
	}
	return entries, nil
}

func (a *FS) CreateDir(ctx context.Context, path string) error {
	if _, err := a.fs.Stat(path); err == nil {
		return w.ErrorNotAllowed
	}
	if _, err := a.fs.Stat(gp.Dir(path)); err != nil {
		return w.ErrorMissingParent.WithCause(err)
	}
	return mapError(a.fs.Mkdir(path, 0o755))
}

func (a *FS) RemoveFile(ctx context.Context, path string) error {
	fi, err := a.fs.Stat(path)
	if err != nil {
		return mapError(err)
	}
	if fi.IsDir() {
		return w.ErrorIsDir
	}
	if err := a.fs.Remove(path); err != nil {
		return mapError(err)
	}
	a.dropProps(path)
	return nil
}

func (a *FS) RemoveDir(ctx context.Context, path string) error {
	fi, err := a.fs.Stat(path)
	if err != nil {
		return mapError(err)
	}
	if !fi.IsDir() {
		return w.ErrorIsNotDir
	}
	infos, err := afero.ReadDir(a.fs, path)
	if err != nil {
		return mapError(err)
	}
	if len(infos) > 0 {
		return w.ErrorNotEmpty
	}
	if err := a.fs.Remove(path); err != nil {
		return mapError(err)
	}
	a.dropProps(path)
	return nil
}

func (a *FS) Rename(ctx context.Context, from, to string) error {
	if err := a.fs.Rename(from, to); err != nil {
		return mapError(err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	moved := make(map[string]map[xml.Name]w.DeadProp)
	for p, m := range a.props {
		if wp.InTree(p, from) {
			moved[wp.Rebase(p, from, to)] = m
			delete(a.props, p)
		}
	}
	for p, m := range moved {
		a.props[p] = m
	}
	return nil
}

func (a *FS) Copy(ctx context.Context, from, to string) error {
	fi, err := a.fs.Stat(from)
	if err != nil {
		return mapError(err)
	}
	if fi.IsDir() {
		if err := a.fs.Mkdir(to, 0o755); err != nil {
			return mapError(err)
		}
	} else {
		src, err := a.fs.Open(from)
		if err != nil {
			return mapError(err)
		}
		defer src.Close()
		dst, err := a.fs.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fi.Mode())
		if err != nil {
			return mapError(err)
		}
		if _, err := io.Copy(dst, src); err != nil {
			dst.Close()
			return mapError(err)
		}
		if err := dst.Close(); err != nil {
			return mapError(err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if m, ok := a.props[from]; ok {
		cp := make(map[xml.Name]w.DeadProp, len(m))
		for k, v := range m {
			cp[k] = v
		}
		a.props[to] = cp
	}
	return nil
}

func (a *FS) dropProps(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for p := range a.props {
		if wp.InTree(p, path) {
			delete(a.props, p)
		}
	}
}

func (a *FS) HasProps(ctx context.Context, path string) (bool, error) {
	if _, err := a.fs.Stat(path); err != nil {
		return false, mapError(err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.props[path]) > 0, nil
}

func (a *FS) GetProp(ctx context.Context, path string, name xml.Name) (w.DeadProp, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	dp, ok := a.props[path][name]
	if !ok {
		return w.DeadProp{}, w.ErrorNotFound
	}
	return dp, nil
}

func (a *FS) GetProps(ctx context.Context, path string) ([]w.DeadProp, error) {
	if _, err := a.fs.Stat(path); err != nil {
		return nil, mapError(err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	res := make([]w.DeadProp, 0, len(a.props[path]))
	for _, dp := range a.props[path] {
		res = append(res, dp)
	}
	return res, nil
}

func (a *FS) PatchProps(ctx context.Context, path string, set []w.DeadProp, remove []xml.Name) ([]w.PropPatchResult, error) {
	if _, err := a.fs.Stat(path); err != nil {
		return nil, mapError(err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	m := a.props[path]
	if m == nil {
		m = make(map[xml.Name]w.DeadProp)
		a.props[path] = m
	}
	res := make([]w.PropPatchResult, 0, len(set)+len(remove))
	for _, dp := range set {
		m[dp.Name] = dp
		res = append(res, w.PropPatchResult{Name: dp.Name, Status: 200})
	}
	for _, name := range remove {
		delete(m, name)
		res = append(res, w.PropPatchResult{Name: name, Status: 200})
	}
	return res, nil
}
