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
	"net/http"
	"net/url"
	"sort"

	wp "github.com/google/go-webdav/path"
	x "github.com/google/go-webdav/xml"
)

// parseDestination resolves the Destination header into a canonical
// backend path, rejecting cross-host destinations.
func (h *Handler) parseDestination(r *http.Request) (wp.Normalized, error) {
	dh := r.Header.Get("Destination")
	if dh == "" {
		return wp.Normalized{}, ErrorBadDest
	}
	du, err := url.Parse(dh)
	if err != nil {
		return wp.Normalized{}, ErrorBadDest.WithCause(err)
	}
	if du.Host != "" && du.Host != r.Host {
		return wp.Normalized{}, ErrorBadHost
	}
	dst, err := wp.Normalize(du.Path, h.Prefix)
	if err != nil {
		return wp.Normalized{}, ErrorBadDest.WithCause(err)
	}
	return dst, nil
}

// http://www.webdav.org/specs/rfc4918.html#METHOD_COPY
func (h *Handler) doCopy(w http.ResponseWriter, r *http.Request, ri *reqInfo) (int, error) {
	return h.copyOrMove(w, r, ri, false)
}

// http://www.webdav.org/specs/rfc4918.html#METHOD_MOVE
func (h *Handler) doMove(w http.ResponseWriter, r *http.Request, ri *reqInfo) (int, error) {
	return h.copyOrMove(w, r, ri, true)
}

func (h *Handler) copyOrMove(w http.ResponseWriter, r *http.Request, ri *reqInfo, move bool) (int, error) {
	ctx := r.Context()
	src := ri.path.Path

	dst, err := h.parseDestination(r)
	if err != nil {
		return statusOf(err), err
	}
	if dst.Path == src {
		return http.StatusForbidden, ErrorSameFile
	}
	if wp.InTree(dst.Path, src) {
		// A destination inside the source subtree would recurse
		// forever.
		return http.StatusForbidden, ErrorForbidden
	}

	// COPY takes Depth 0 or infinity; MOVE only infinity.
	if ri.depthSet {
		if move && ri.depth != DepthInfinity {
			return http.StatusBadRequest, ErrorBadDepth
		}
		if !move && ri.depth != 0 && ri.depth != DepthInfinity {
			return http.StatusBadRequest, ErrorBadDepth
		}
	}

	srcMeta, err := h.FS.Metadata(ctx, src)
	if err != nil {
		return statusOf(err), err
	}

	if move {
		if err := h.checkLocks(r, ri, src, srcMeta.IsDir()); err != nil {
			return h.writeLockedError(w, r, err)
		}
	}
	if err := h.checkLocks(r, ri, dst.Path, false); err != nil {
		return h.writeLockedError(w, r, err)
	}

	if parent := dst.Parent(); parent.Path != dst.Path {
		if _, err := h.FS.Metadata(ctx, parent.Path); err != nil {
			return http.StatusConflict, ErrorMissingParent.WithCause(err)
		}
	}

	_, dstErr := h.FS.Metadata(ctx, dst.Path)
	dstExists := dstErr == nil
	if dstExists {
		if !ri.overwrite {
			return http.StatusPreconditionFailed, ErrorDestExists
		}
		// Overwrite deletes the destination first; its outcome
		// must be a success status before the copy proceeds.
		if status, err := h.deleteForOverwrite(w, r, ri, dst.Path); err != nil {
			return status, err
		}
	}

	if move {
		if err := h.FS.Rename(ctx, src, dst.Path); err != nil {
			switch {
			case ErrorMissingParent.Is(err), ErrorNotFound.Is(err),
				ErrorForbidden.Is(err), ErrorConflict.Is(err):
				return statusOf(err), err
			}
			// The backend cannot rename; fall back to copy then
			// delete. A partial result is reported via 207, not
			// rolled back.
			if failures := h.copyTree(ctx, src, dst.Path, srcMeta.IsDir(), DepthInfinity); len(failures) > 0 {
				return h.writeFailures(w, failures)
			}
			failures := map[string]error{}
			if srcMeta.IsDir() {
				h.removeTree(ctx, src, failures)
			} else if err := h.FS.RemoveFile(ctx, src); err != nil {
				failures[src] = err
			}
			if len(failures) > 0 {
				return h.writeFailures(w, failures)
			}
		}
		h.LS.RenameNode(ctx, src, dst.Path)
	} else {
		depth := DepthInfinity
		if ri.depthSet {
			depth = ri.depth
		}
		if failures := h.copyTree(ctx, src, dst.Path, srcMeta.IsDir(), depth); len(failures) > 0 {
			return h.writeFailures(w, failures)
		}
	}

	if dstExists {
		return http.StatusNoContent, nil
	}
	return http.StatusCreated, nil
}

// deleteForOverwrite clears an existing destination. Any failure aborts
// the whole operation.
func (h *Handler) deleteForOverwrite(w http.ResponseWriter, r *http.Request, ri *reqInfo, dst string) (int, error) {
	ctx := r.Context()
	meta, err := h.FS.Metadata(ctx, dst)
	if err != nil {
		return statusOf(err), err
	}
	if !meta.IsDir() {
		if err := h.FS.RemoveFile(ctx, dst); err != nil {
			return statusOf(err), err
		}
	} else {
		failures := map[string]error{}
		h.removeTree(ctx, dst, failures)
		if len(failures) > 0 {
			return h.writeFailures(w, failures)
		}
	}
	h.LS.DeleteNode(ctx, dst)
	return 0, nil
}

// copyTree clones src to dst at the FS level: the resource itself, then
// (for collections, under depth infinity) each child. Failures are
// collected per resource; cancellation is checked between children.
func (h *Handler) copyTree(ctx context.Context, src, dst string, isDir bool, depth int) map[string]error {
	failures := map[string]error{}
	if err := h.FS.Copy(ctx, src, dst); err != nil {
		failures[src] = err
		return failures
	}
	if !isDir || depth == 0 {
		return failures
	}
	entries, err := h.FS.ReadDir(ctx, src)
	if err != nil {
		failures[src] = err
		return failures
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			failures[src] = ErrorInternal.WithCause(ctx.Err())
			return failures
		}
		childSrc := joinChild(src, e.Name)
		childDst := joinChild(dst, e.Name)
		m, err := e.Meta(ctx)
		if err != nil {
			failures[childSrc] = err
			continue
		}
		for p, err := range h.copyTree(ctx, childSrc, childDst, m.IsDir(), depth) {
			failures[p] = err
		}
	}
	return failures
}

// errPartialFailure marks a response already written as a 207; callers
// must not write anything further.
var errPartialFailure = Error{code: StatusMulti, text: "PartialFailure"}

// writeFailures renders collected per-resource errors as a 207, in
// path order. The returned error is always non-nil so callers abort.
func (h *Handler) writeFailures(w http.ResponseWriter, failures map[string]error) (int, error) {
	paths := make([]string, 0, len(failures))
	for p := range failures {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	mw := x.NewMultiStatusWriter(w)
	for _, p := range paths {
		if werr := mw.Write(&x.Response{
			Href:   h.Prefix + p,
			Status: statusOf(failures[p]),
		}); werr != nil {
			return 0, werr
		}
	}
	if err := mw.Close(); err != nil {
		return 0, err
	}
	return 0, errPartialFailure
}
