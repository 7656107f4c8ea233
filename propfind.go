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
	"io"
	"net/http"

	x "github.com/google/go-webdav/xml"
)

// http://www.webdav.org/specs/rfc4918.html#METHOD_PROPFIND
func (h *Handler) doPropfind(w http.ResponseWriter, r *http.Request, ri *reqInfo) (int, error) {
	ctx := r.Context()

	meta, err := h.FS.Metadata(ctx, ri.path.Path)
	if err != nil {
		return statusOf(err), err
	}

	if ri.depth == DepthInfinity && meta.IsDir() && !h.AllowInfiniteDepth {
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+"\n"+
			`<D:error xmlns:D="DAV:"><D:propfind-finite-depth/></D:error>`)
		return 0, ErrorForbidden
	}

	pf, err := x.ParsePropFind(r.Body, h.maxXMLBody())
	if err != nil {
		return http.StatusBadRequest, ErrorBadBody.WithCause(err)
	}

	mw := x.NewMultiStatusWriter(w)
	if err := h.propfindWalk(ctx, mw, pf, ri.path.Path, meta, ri.depth); err != nil {
		// A started multistatus can only be truncated at a
		// response boundary; an unstarted one still has its
		// status free.
		if closeErr := mw.Close(); closeErr == nil && !mw.Started() {
			return statusOf(err), err
		}
		return 0, err
	}
	return 0, mw.Close()
}

// propfindWalk emits the response for one resource and recurses per
// depth. Collection hrefs carry a trailing slash.
func (h *Handler) propfindWalk(ctx context.Context, mw *x.MultiStatusWriter, pf *x.PropFind, path string, meta Meta, depth int) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var (
		pstats []x.PropStat
		err    error
	)
	switch {
	case pf.PropName != nil:
		names, nerr := h.propNames(ctx, path, meta)
		if nerr != nil {
			return nerr
		}
		ps := x.PropStat{Status: http.StatusOK}
		for _, pn := range names {
			ps.Props = append(ps.Props, x.Property{XMLName: pn})
		}
		pstats = []x.PropStat{ps}
	case pf.AllProp != nil:
		pstats, err = h.allProps(ctx, path, meta, pf.Include)
	default:
		pstats, err = h.findProps(ctx, path, meta, pf.Prop)
	}
	if err != nil {
		return err
	}

	href := h.Prefix + path
	if meta.IsDir() && href != "/" {
		href += "/"
	}
	if err := mw.Write(&x.Response{Href: href, PropStats: pstats}); err != nil {
		return err
	}

	if !meta.IsDir() || depth == 0 {
		return nil
	}
	childDepth := depth
	if depth == 1 {
		childDepth = 0
	}
	entries, err := h.FS.ReadDir(ctx, path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		child := joinChild(path, e.Name)
		cm, err := e.Meta(ctx)
		if err != nil {
			// The child vanished between listing and stat;
			// report it as gone rather than aborting the walk.
			if werr := mw.Write(&x.Response{
				Href:   h.Prefix + child,
				Status: statusOf(err),
			}); werr != nil {
				return werr
			}
			continue
		}
		if err := h.propfindWalk(ctx, mw, pf, child, cm, childDepth); err != nil {
			return err
		}
	}
	return nil
}

// http://www.webdav.org/specs/rfc4918.html#METHOD_PROPPATCH
func (h *Handler) doProppatch(w http.ResponseWriter, r *http.Request, ri *reqInfo) (int, error) {
	ctx := r.Context()

	if err := h.checkLocks(r, ri, ri.path.Path, false); err != nil {
		return h.writeLockedError(w, r, err)
	}

	meta, err := h.FS.Metadata(ctx, ri.path.Path)
	if err != nil {
		return statusOf(err), err
	}

	ops, err := x.ParsePropPatch(r.Body, h.maxXMLBody())
	if err != nil {
		return http.StatusBadRequest, ErrorBadBody.WithCause(err)
	}

	pstats, err := h.patchProps(ctx, ri.path.Path, ops)
	if err != nil {
		return statusOf(err), err
	}

	href := h.Prefix + ri.path.Path
	if meta.IsDir() && href != "/" {
		href += "/"
	}
	mw := x.NewMultiStatusWriter(w)
	if err := mw.Write(&x.Response{Href: href, PropStats: pstats}); err != nil {
		return 0, err
	}
	return 0, mw.Close()
}
