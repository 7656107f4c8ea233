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
	"net/http"
	"strings"
)

// Finder hint files macOS probes for on every mount. Synthesizing the
// misses here keeps the probes off the backend.
var finderHintFiles = map[string]bool{
	".metadata_never_index":  true,
	".ql_disablethumbnails":  true,
	".hidden":                true,
	".DS_Store":              false, // real lookups, Finder writes these
}

// quirkClient matches the user agents whose probe traffic is worth
// short-circuiting.
func quirkClient(ua string) bool {
	return strings.Contains(ua, "WebDAVFS") ||
		strings.Contains(ua, "Microsoft-WebDAV") ||
		strings.Contains(ua, "Microsoft Office")
}

// serveQuirk answers client probe traffic without touching the
// backend. This is an optimization only; disabling Quirks changes no
// correctness property.
func (h *Handler) serveQuirk(w http.ResponseWriter, r *http.Request, ri *reqInfo) (int, bool) {
	if !quirkClient(r.Header.Get("User-Agent")) {
		return 0, false
	}
	base := ri.path.Base()

	switch r.Method {
	case "GET", "HEAD", "PROPFIND":
		if skip, ok := finderHintFiles[base]; ok && skip {
			return http.StatusNotFound, true
		}
		// AppleDouble companions: answer PROPFIND misses directly
		// so Finder's per-file probes stay cheap.
		if r.Method == "PROPFIND" && strings.HasPrefix(base, "._") {
			if _, err := h.FS.Metadata(r.Context(), ri.path.Path); err != nil {
				w.Header().Set("Cache-Control", "max-age=60")
				return http.StatusNotFound, true
			}
		}
	}
	return 0, false
}
