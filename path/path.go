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

// Package path canonicalizes WebDAV request-URIs into backend paths.
package path

import (
	"net/url"
	gp "path"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrBadPath is returned for paths that cannot be canonicalized.
	ErrBadPath = errors.New("path: malformed path")
	// ErrPrefixMismatch is returned when a configured prefix does not
	// cover the request path. Callers map it to 404.
	ErrPrefixMismatch = errors.New("path: prefix mismatch")
)

// Normalized is a canonical backend path. Path always begins with "/",
// never ends with "/" except for the root, and contains no "." or ".."
// segments. Collection carries whether the original URI had a trailing
// slash; on a COPY/MOVE source it indicates the client expects a
// collection.
type Normalized struct {
	Path       string
	Collection bool
}

func (n Normalized) String() string { return n.Path }

// Parent returns the normalized parent path. The parent of the root is
// the root.
func (n Normalized) Parent() Normalized {
	return Normalized{Path: gp.Dir(n.Path), Collection: true}
}

// Base returns the last segment of the path, "/" for the root.
func (n Normalized) Base() string { return gp.Base(n.Path) }

// Normalize canonicalizes a raw request-URI path: percent-decodes,
// collapses runs of "/", strips prefix, and records the trailing slash.
// It rejects embedded NUL and "." or ".." segments rather than resolving
// them, so a hostile URI can never escape the backend root.
func Normalize(raw, prefix string) (Normalized, error) {
	p, err := url.PathUnescape(raw)
	if err != nil {
		return Normalized{}, errors.Wrap(ErrBadPath, err.Error())
	}
	if strings.IndexByte(p, 0) >= 0 {
		return Normalized{}, errors.Wrap(ErrBadPath, "embedded NUL")
	}
	if prefix != "" {
		pre := strings.TrimSuffix(prefix, "/")
		if p == pre {
			p = "/"
		} else if strings.HasPrefix(p, pre+"/") {
			p = "/" + strings.TrimPrefix(p[len(pre):], "/")
		} else {
			return Normalized{}, ErrPrefixMismatch
		}
	}
	if !strings.HasPrefix(p, "/") {
		return Normalized{}, errors.Wrap(ErrBadPath, "not absolute")
	}
	hadSlash := strings.HasSuffix(p, "/")

	segs := strings.Split(p, "/")
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		switch s {
		case "":
			// Collapsed.
		case ".", "..":
			return Normalized{}, errors.Wrapf(ErrBadPath, "dot segment in %q", raw)
		default:
			out = append(out, s)
		}
	}
	joined := "/" + strings.Join(out, "/")
	if joined == "/" {
		hadSlash = true
	}
	return Normalized{Path: joined, Collection: hadSlash}, nil
}

// InTree determines if a given path is within a subtree.
func InTree(path, subtree string) bool {
	if path == subtree {
		return true
	}
	if !strings.HasSuffix(subtree, "/") {
		subtree += "/"
	}
	return strings.HasPrefix(path, subtree)
}

// Included determines if a given name is included in a subtree, subject to the
// provided depth restriction. If it is included, it returns the name relative
// to that subtree's name.
func Included(fn, subtree string, depth int) (string, bool) {
	if fn == subtree {
		return "", true
	}
	if !InTree(fn, subtree) {
		return "", false
	}
	rel := strings.TrimPrefix(fn[len(subtree):], "/")
	fd := len(strings.Split(rel, "/"))
	if depth >= 0 && fd > depth {
		return "", false
	}
	return rel, true
}

// Rebase replaces the subtree prefix of fn with dst. fn must be within
// the subtree.
func Rebase(fn, subtree, dst string) string {
	rel, ok := Included(fn, subtree, -1)
	if !ok {
		return fn
	}
	return gp.Join(dst, rel)
}

// URLEncode encodes a path so it is safe to place in an href.
func URLEncode(s string) string {
	u := url.URL{Path: s}
	return u.RequestURI()
}
