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
	"encoding/xml"
	"io"
	"time"
)

// ResourceKind distinguishes the node kinds a backend can report.
type ResourceKind int

const (
	KindFile ResourceKind = iota
	KindDir
	KindSymlink
)

// Meta is the metadata tuple of a resource. ETag must be derived
// deterministically from content-identifying state so identical content
// yields an identical ETag across reads.
type Meta struct {
	Kind       ResourceKind
	Length     int64
	ModTime    time.Time
	CreateTime time.Time
	ETag       string
	Executable bool
}

// IsDir reports whether the resource is a collection.
func (m Meta) IsDir() bool { return m.Kind == KindDir }

// OpenOpts selects the mode a file is opened in.
type OpenOpts struct {
	Read      bool
	Write     bool
	Create    bool
	CreateNew bool
	Truncate  bool
	Append    bool
}

// File is an open handle to a resource's content.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
}

// DirEntry names one member of a collection. Metadata is resolved
// lazily so listing a large collection does not stat every child up
// front.
type DirEntry struct {
	Name string
	Meta func(ctx context.Context) (Meta, error)
}

// DeadProp is a stored dead property: a fully qualified name, the raw
// XML of its value, and the client's original prefix when one was seen,
// kept for round-trip fidelity.
type DeadProp struct {
	Name     xml.Name
	Prefix   string
	InnerXML []byte
}

// PropPatchResult reports the outcome of one name in a PatchProps
// transaction.
type PropPatchResult struct {
	Name   xml.Name
	Status int
}

// FileSystem is the abstract filesystem the handler operates on. All
// operations take a context and are safe for concurrent use from
// multiple request goroutines. Paths are canonical backend paths as
// produced by the path package.
type FileSystem interface {
	// Metadata stats the resource at path, following a trailing
	// symlink.
	Metadata(ctx context.Context, path string) (Meta, error)

	// SymlinkMetadata stats the resource without following a
	// trailing symlink.
	SymlinkMetadata(ctx context.Context, path string) (Meta, error)

	// Open opens a file. With CreateNew the call fails if the path
	// exists; with Create the parent must exist or the call fails
	// with ErrorMissingParent.
	Open(ctx context.Context, path string, opts OpenOpts) (File, error)

	// ReadDir lists a collection. The listing is a consistent
	// snapshot of the member names; metadata is resolved per entry.
	ReadDir(ctx context.Context, path string) ([]DirEntry, error)

	// CreateDir makes a collection: ErrorMissingParent if the parent
	// is absent, ErrorNotAllowed if the path exists.
	CreateDir(ctx context.Context, path string) error

	// RemoveFile unlinks a non-collection resource.
	RemoveFile(ctx context.Context, path string) error

	// RemoveDir removes an empty collection; ErrorNotEmpty
	// otherwise.
	RemoveDir(ctx context.Context, path string) error

	// Rename atomically rebinds a resource (and, for collections,
	// its subtree) to a new path. Dead properties travel with it.
	Rename(ctx context.Context, from, to string) error

	// Copy clones a single resource, including its dead properties.
	// It does not recurse; traversal is the caller's job.
	Copy(ctx context.Context, from, to string) error

	// HasProps reports whether the resource carries dead properties.
	HasProps(ctx context.Context, path string) (bool, error)

	// GetProp fetches one dead property.
	GetProp(ctx context.Context, path string, name xml.Name) (DeadProp, error)

	// GetProps fetches all dead properties of the resource.
	GetProps(ctx context.Context, path string) ([]DeadProp, error)

	// PatchProps applies sets and removes as a single transaction:
	// either every change persists or none does. The result carries
	// one status per submitted name.
	PatchProps(ctx context.Context, path string, set []DeadProp, remove []xml.Name) ([]PropPatchResult, error)
}

// QuotaFS is the optional capability backing the RFC 4331 quota
// properties.
type QuotaFS interface {
	// Quota returns used and available bytes for the subtree at
	// path.
	Quota(ctx context.Context, path string) (used, available int64, err error)
}
