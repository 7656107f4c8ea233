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

	wp "github.com/google/go-webdav/path"
)

// http://www.webdav.org/specs/rfc4918.html#METHOD_MKCOL
func (h *Handler) doMkcol(w http.ResponseWriter, r *http.Request, ri *reqInfo) (int, error) {
	if err := h.checkLocks(r, ri, ri.path.Path, false); err != nil {
		return h.writeLockedError(w, r, err)
	}
	// Extended MKCOL bodies are not supported; RFC 4918 section
	// 9.3.1 wants 415 for any unrecognized body.
	if r.ContentLength > 0 {
		return http.StatusUnsupportedMediaType, ErrorMediaType
	}
	if err := h.FS.CreateDir(r.Context(), ri.path.Path); err != nil {
		return statusOf(err), err
	}
	return http.StatusCreated, nil
}

// http://www.webdav.org/specs/rfc4918.html#METHOD_DELETE
func (h *Handler) doDelete(w http.ResponseWriter, r *http.Request, ri *reqInfo) (int, error) {
	ctx := r.Context()

	if r.URL.Fragment != "" {
		return http.StatusBadRequest, ErrorBadPath
	}

	meta, err := h.FS.Metadata(ctx, ri.path.Path)
	if err != nil {
		return statusOf(err), err
	}

	// Depth on a collection DELETE must be infinity when present.
	if meta.IsDir() && ri.depthSet && ri.depth != DepthInfinity {
		return http.StatusBadRequest, ErrorBadDepth
	}

	if err := h.checkLocks(r, ri, ri.path.Path, meta.IsDir()); err != nil {
		return h.writeLockedError(w, r, err)
	}

	if !meta.IsDir() {
		if err := h.FS.RemoveFile(ctx, ri.path.Path); err != nil {
			return statusOf(err), err
		}
		h.LS.DeleteNode(ctx, ri.path.Path)
		return http.StatusNoContent, nil
	}

	failures := map[string]error{}
	h.removeTree(ctx, ri.path.Path, failures)
	if len(failures) == 0 {
		h.LS.DeleteNode(ctx, ri.path.Path)
		return http.StatusNoContent, nil
	}
	return h.writeFailures(w, failures)
}

// removeTree deletes a subtree depth-first, collecting per-resource
// failures instead of aborting. Cancellation is checked between
// children.
func (h *Handler) removeTree(ctx context.Context, path string, failures map[string]error) {
	entries, err := h.FS.ReadDir(ctx, path)
	if err != nil {
		failures[path] = err
		return
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			failures[path] = ErrorInternal.WithCause(ctx.Err())
			return
		}
		child := joinChild(path, e.Name)
		m, err := e.Meta(ctx)
		if err != nil {
			failures[child] = err
			continue
		}
		if m.IsDir() {
			h.removeTree(ctx, child, failures)
		} else if err := h.FS.RemoveFile(ctx, child); err != nil {
			failures[child] = err
		}
	}
	// Only attempt the directory itself if its subtree went away.
	for p := range failures {
		if wp.InTree(p, path) {
			return
		}
	}
	if err := h.FS.RemoveDir(ctx, path); err != nil {
		failures[path] = err
	}
}

func joinChild(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}
