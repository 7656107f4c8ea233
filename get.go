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
	"fmt"
	"net/http"
	gp "path"
	"sort"

	wp "github.com/google/go-webdav/path"
	x "github.com/google/go-webdav/xml"
)

// http://www.webdav.org/specs/rfc4918.html#rfc.section.9.4
func (h *Handler) doGet(w http.ResponseWriter, r *http.Request, ri *reqInfo) (int, error) {
	return h.servePath(w, r, ri)
}

func (h *Handler) doHead(w http.ResponseWriter, r *http.Request, ri *reqInfo) (int, error) {
	return h.servePath(w, r, ri)
}

// servePath streams a file through http.ServeContent, which evaluates
// Range, If-Range and the GET cache validators and produces 206,
// multipart/byteranges and 416 responses as needed. HEAD takes the
// same route; ServeContent suppresses the body itself.
func (h *Handler) servePath(w http.ResponseWriter, r *http.Request, ri *reqInfo) (int, error) {
	ctx := r.Context()
	meta, err := h.FS.Metadata(ctx, ri.path.Path)
	if err != nil {
		return statusOf(err), err
	}

	if meta.IsDir() {
		if !h.AutoIndex {
			w.Header().Set("Allow", h.allowedMethods(true, true))
			return http.StatusMethodNotAllowed, ErrorIsDir
		}
		return h.serveIndex(w, r, ri)
	}

	f, err := h.FS.Open(ctx, ri.path.Path, OpenOpts{Read: true})
	if err != nil {
		return statusOf(err), err
	}
	defer f.Close()
	w.Header().Set("ETag", meta.ETag)
	http.ServeContent(w, r, ri.path.Base(), meta.ModTime, f)
	return 0, nil
}

// serveIndex renders a minimal HTML listing of a collection.
func (h *Handler) serveIndex(w http.ResponseWriter, r *http.Request, ri *reqInfo) (int, error) {
	ctx := r.Context()
	entries, err := h.FS.ReadDir(ctx, ri.path.Path)
	if err != nil {
		return statusOf(err), err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!DOCTYPE html>\n<html><head><title>%s</title></head><body>\n<h1>%s</h1>\n<ul>\n",
		x.Escape(ri.path.Path), x.Escape(ri.path.Path))
	if ri.path.Path != "/" {
		fmt.Fprintf(w, "<li><a href=\"../\">../</a></li>\n")
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		name := e.Name
		href := wp.URLEncode(gp.Join(h.Prefix+ri.path.Path, name))
		if m, err := e.Meta(ctx); err == nil && m.IsDir() {
			name += "/"
			href += "/"
		}
		fmt.Fprintf(w, "<li><a href=\"%s\">%s</a></li>\n", href, x.Escape(name))
	}
	fmt.Fprintf(w, "</ul>\n</body></html>\n")
	return 0, nil
}
