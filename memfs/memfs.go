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
Package memfs is an in-memory implementation of webdav.FileSystem. It
has no limits on how much memory it will consume for files, and is the
reference backend for the handler's consistency and locking guarantees.
*/
package memfs

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	w "github.com/google/go-webdav"
	wp "github.com/google/go-webdav/path"
)

// MemFS stores nodes in a flat mapping from canonical path to node.
// The map is guarded by mu; each node guards its own content, so a
// slow reader of one file never blocks writers of another.
type MemFS struct {
	mu    sync.Mutex
	nodes map[string]*node
	gen   uint64

	// Limit bounds the byte total reported through Quota; zero means
	// unlimited.
	Limit int64
}

// New creates an empty filesystem containing only the root collection.
func New() *MemFS {
	fs := &MemFS{nodes: make(map[string]*node)}
	fs.nodes["/"] = fs.newNode(w.KindDir)
	return fs
}

var (
	_ w.FileSystem = (*MemFS)(nil)
	_ w.QuotaFS    = (*MemFS)(nil)
)

type node struct {
	mu    sync.Mutex
	id    uint64
	kind  w.ResourceKind
	data  []byte
	ctime time.Time
	mtime time.Time
	props map[xml.Name]w.DeadProp
}

// newNode mints a node with a fresh id. The id counter is advanced
// atomically, so callers need not hold fs.mu.
func (fs *MemFS) newNode(kind w.ResourceKind) *node {
	now := time.Now()
	return &node{
		id:    atomic.AddUint64(&fs.gen, 1),
		kind:  kind,
		ctime: now,
		mtime: now,
	}
}

// meta snapshots length and mtime consistently under the node lock.
func (n *node) meta() w.Meta {
	n.mu.Lock()
	defer n.mu.Unlock()
	m := w.Meta{
		Kind:       n.kind,
		Length:     int64(len(n.data)),
		ModTime:    n.mtime,
		CreateTime: n.ctime,
	}
	// The id participates so a delete-and-recreate at the same path
	// with identical content still changes the validator.
	m.ETag = fmt.Sprintf(`"%x-%x-%x"`, m.Length, m.ModTime.UnixNano(), n.id)
	return m
}

// clone deep-copies content and dead properties into a new node.
func (fs *MemFS) clone(n *node) *node {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := fs.newNode(n.kind)
	if n.kind != w.KindDir {
		c.data = append([]byte(nil), n.data...)
	}
	if n.props != nil {
		c.props = make(map[xml.Name]w.DeadProp, len(n.props))
		for k, v := range n.props {
			c.props[k] = v
		}
	}
	return c
}

func (fs *MemFS) lookup(p string) (*node, bool) {
	n, ok := fs.nodes[p]
	return n, ok
}

// Metadata stats a resource.
func (fs *MemFS) Metadata(ctx context.Context, p string) (w.Meta, error) {
	fs.mu.Lock()
	n, ok := fs.lookup(p)
	fs.mu.Unlock()
	if !ok {
		return w.Meta{}, w.ErrorNotFound
	}
	return n.meta(), nil
}

// SymlinkMetadata is identical to Metadata: memfs stores no symlinks.
func (fs *MemFS) SymlinkMetadata(ctx context.Context, p string) (w.Meta, error) {
	return fs.Metadata(ctx, p)
}

// Open opens a file for reading or writing per opts.
func (fs *MemFS) Open(ctx context.Context, p string, opts w.OpenOpts) (w.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.lookup(p)
	if ok && n.kind == w.KindDir {
		return nil, w.ErrorIsDir
	}
	if ok && opts.CreateNew {
		return nil, w.ErrorConflict
	}
	if !ok {
		if !opts.Create && !opts.CreateNew {
			return nil, w.ErrorNotFound
		}
		parent, pok := fs.lookup(parentOf(p))
		if !pok || parent.kind != w.KindDir {
			return nil, w.ErrorMissingParent
		}
		n = fs.newNode(w.KindFile)
		n.data = []byte{}
		fs.nodes[p] = n
	}

	h := &handle{n: n, write: opts.Write || opts.Append || opts.Truncate}
	if opts.Truncate {
		n.mu.Lock()
		n.data = n.data[:0]
		n.mtime = time.Now()
		n.mu.Unlock()
	}
	if opts.Append {
		n.mu.Lock()
		h.pos = int64(len(n.data))
		n.mu.Unlock()
	}
	return h, nil
}

// ReadDir lists a collection. The name snapshot is taken under the map
// lock; metadata resolves lazily per entry.
func (fs *MemFS) ReadDir(ctx context.Context, p string) ([]w.DirEntry, error) {
	fs.mu.Lock()
	n, ok := fs.lookup(p)
	if !ok {
		fs.mu.Unlock()
		return nil, w.ErrorNotFound
	}
	if n.kind != w.KindDir {
		fs.mu.Unlock()
		return nil, w.ErrorIsNotDir
	}
	var names []string
	for fn := range fs.nodes {
		if rel, ok := wp.Included(fn, p, 1); ok && rel != "" {
			names = append(names, rel)
		}
	}
	fs.mu.Unlock()

	sort.Strings(names)
	entries := make([]w.DirEntry, 0, len(names))
	for _, name := range names {
		child := joinPath(p, name)
		entries = append(entries, w.DirEntry{
			Name: name,
			Meta: func(ctx context.Context) (w.Meta, error) {
				return fs.Metadata(ctx, child)
			},
		})
	}
	return entries, nil
}

// CreateDir makes a collection with MKCOL semantics.
func (fs *MemFS) CreateDir(ctx context.Context, p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.lookup(p); ok {
		return w.ErrorNotAllowed
	}
	parent, ok := fs.lookup(parentOf(p))
	if !ok || parent.kind != w.KindDir {
		return w.ErrorMissingParent
	}
	fs.nodes[p] = fs.newNode(w.KindDir)
	return nil
}

// RemoveFile unlinks a non-collection resource.
func (fs *MemFS) RemoveFile(ctx context.Context, p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.lookup(p)
	if !ok {
		return w.ErrorNotFound
	}
	if n.kind == w.KindDir {
		return w.ErrorIsDir
	}
	delete(fs.nodes, p)
	return nil
}

// RemoveDir removes an empty collection.
func (fs *MemFS) RemoveDir(ctx context.Context, p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.lookup(p)
	if !ok {
		return w.ErrorNotFound
	}
	if n.kind != w.KindDir {
		return w.ErrorIsNotDir
	}
	for fn := range fs.nodes {
		if fn != p && wp.InTree(fn, p) {
			return w.ErrorNotEmpty
		}
	}
	delete(fs.nodes, p)
	return nil
}

// Rename rebinds a resource and its subtree in place by rewriting keys.
// Content, ids and dead properties are untouched.
func (fs *MemFS) Rename(ctx context.Context, from, to string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.lookup(from); !ok {
		return w.ErrorNotFound
	}
	if _, ok := fs.lookup(to); ok {
		return w.ErrorConflict
	}
	parent, ok := fs.lookup(parentOf(to))
	if !ok || parent.kind != w.KindDir {
		return w.ErrorMissingParent
	}
	if wp.InTree(to, from) {
		return w.ErrorForbidden
	}

	moved := make(map[string]*node)
	for fn, n := range fs.nodes {
		if wp.InTree(fn, from) {
			moved[wp.Rebase(fn, from, to)] = n
			delete(fs.nodes, fn)
		}
	}
	for fn, n := range moved {
		fs.nodes[fn] = n
	}
	return nil
}

// Copy clones a single resource to a new path, dead properties
// included. Collections are cloned empty; subtree traversal is the
// caller's job.
func (fs *MemFS) Copy(ctx context.Context, from, to string) error {
	fs.mu.Lock()
	src, ok := fs.lookup(from)
	if !ok {
		fs.mu.Unlock()
		return w.ErrorNotFound
	}
	parent, pok := fs.lookup(parentOf(to))
	if !pok || parent.kind != w.KindDir {
		fs.mu.Unlock()
		return w.ErrorMissingParent
	}
	if _, ok := fs.lookup(to); ok {
		fs.mu.Unlock()
		return w.ErrorConflict
	}
	fs.mu.Unlock()

	// Cloning takes the source node lock; re-acquire the map lock
	// afterwards to keep lock order node-after-map only.
	c := fs.clone(src)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.lookup(to); ok {
		return w.ErrorConflict
	}
	fs.nodes[to] = c
	return nil
}

// HasProps reports whether the resource carries dead properties.
func (fs *MemFS) HasProps(ctx context.Context, p string) (bool, error) {
	fs.mu.Lock()
	n, ok := fs.lookup(p)
	fs.mu.Unlock()
	if !ok {
		return false, w.ErrorNotFound
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.props) > 0, nil
}

// GetProp fetches one dead property.
func (fs *MemFS) GetProp(ctx context.Context, p string, name xml.Name) (w.DeadProp, error) {
	fs.mu.Lock()
	n, ok := fs.lookup(p)
	fs.mu.Unlock()
	if !ok {
		return w.DeadProp{}, w.ErrorNotFound
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	dp, ok := n.props[name]
	if !ok {
		return w.DeadProp{}, w.ErrorNotFound
	}
	return dp, nil
}

// GetProps fetches all dead properties of the resource.
func (fs *MemFS) GetProps(ctx context.Context, p string) ([]w.DeadProp, error) {
	fs.mu.Lock()
	n, ok := fs.lookup(p)
	fs.mu.Unlock()
	if !ok {
		return nil, w.ErrorNotFound
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	res := make([]w.DeadProp, 0, len(n.props))
	for _, dp := range n.props {
		res = append(res, dp)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Name.Space != res[j].Name.Space {
			return res[i].Name.Space < res[j].Name.Space
		}
		return res[i].Name.Local < res[j].Name.Local
	})
	return res, nil
}

// PatchProps applies sets and removes as a single transaction under the
// node lock. In-memory writes cannot fail individually, so every name
// reports 200.
func (fs *MemFS) PatchProps(ctx context.Context, p string, set []w.DeadProp, remove []xml.Name) ([]w.PropPatchResult, error) {
	fs.mu.Lock()
	n, ok := fs.lookup(p)
	fs.mu.Unlock()
	if !ok {
		return nil, w.ErrorNotFound
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.props == nil {
		n.props = make(map[xml.Name]w.DeadProp)
	}
	res := make([]w.PropPatchResult, 0, len(set)+len(remove))
	for _, dp := range set {
		n.props[dp.Name] = dp
		res = append(res, w.PropPatchResult{Name: dp.Name, Status: 200})
	}
	for _, name := range remove {
		delete(n.props, name)
		res = append(res, w.PropPatchResult{Name: name, Status: 200})
	}
	return res, nil
}

// Quota reports used bytes across all files, and what remains of
// Limit.
func (fs *MemFS) Quota(ctx context.Context, p string) (used, available int64, err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, n := range fs.nodes {
		n.mu.Lock()
		used += int64(len(n.data))
		n.mu.Unlock()
	}
	if fs.Limit == 0 {
		return used, -1, nil
	}
	available = fs.Limit - used
	if available < 0 {
		available = 0
	}
	return used, available, nil
}

func parentOf(p string) string {
	if p == "/" {
		return "/"
	}
	i := lastSlash(p)
	if i == 0 {
		return "/"
	}
	return p[:i]
}

func lastSlash(p string) int {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return i
		}
	}
	return -1
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// handle is an open file cursor. Each Read and Write takes the node
// lock, so concurrent writers to the same path serialize and readers
// always see a consistent length.
type handle struct {
	n     *node
	pos   int64
	write bool
}

var _ w.File = (*handle)(nil)

func (h *handle) Read(p []byte) (int, error) {
	h.n.mu.Lock()
	defer h.n.mu.Unlock()

	if h.pos >= int64(len(h.n.data)) {
		return 0, io.EOF
	}
	n := copy(p, h.n.data[h.pos:])
	h.pos += int64(n)
	return n, nil
}

func (h *handle) Write(p []byte) (int, error) {
	if !h.write {
		return 0, w.ErrorForbidden
	}
	if len(p) == 0 {
		return 0, nil
	}
	h.n.mu.Lock()
	defer h.n.mu.Unlock()

	end := h.pos + int64(len(p))
	if end > int64(len(h.n.data)) {
		// Growing past EOF zero-fills any gap between the old
		// length and the write offset.
		grown := make([]byte, end)
		copy(grown, h.n.data)
		h.n.data = grown
	}
	copy(h.n.data[h.pos:end], p)
	h.pos = end
	h.n.mtime = time.Now()
	return len(p), nil
}

func (h *handle) Seek(offset int64, whence int) (int64, error) {
	h.n.mu.Lock()
	defer h.n.mu.Unlock()

	np := h.pos
	switch whence {
	case io.SeekStart:
		np = offset
	case io.SeekCurrent:
		np += offset
	case io.SeekEnd:
		np = int64(len(h.n.data)) + offset
	}
	if np < 0 {
		return h.pos, w.ErrorBadRange
	}
	h.pos = np
	return h.pos, nil
}

func (h *handle) Close() error {
	return nil
}
