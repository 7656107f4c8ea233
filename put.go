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
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// updateRange is a parsed partial-write directive: either an absolute
// byte window or an append at EOF.
type updateRange struct {
	start, end int64
	atEOF      bool
}

// parseContentRange parses "Content-Range: bytes START-END/*" for a
// partial PUT. The total, when given, is ignored: the write window is
// what matters.
func parseContentRange(s string) (updateRange, error) {
	const pre = "bytes "
	if !strings.HasPrefix(s, pre) {
		return updateRange{}, errors.New("missing bytes unit")
	}
	s = strings.TrimPrefix(s, pre)
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return parseByteWindow(s)
}

// parseUpdateRange parses the SabreDAV partial-update header
// "X-Update-Range: bytes=START-END" or "append".
func parseUpdateRange(s string) (updateRange, error) {
	if s == "append" {
		return updateRange{atEOF: true}, nil
	}
	const pre = "bytes="
	if !strings.HasPrefix(s, pre) {
		return updateRange{}, errors.New("missing bytes= unit")
	}
	return parseByteWindow(strings.TrimPrefix(s, pre))
}

func parseByteWindow(s string) (updateRange, error) {
	dash := strings.IndexByte(s, '-')
	if dash < 0 {
		return updateRange{}, errors.New("missing dash")
	}
	start, err := strconv.ParseInt(strings.TrimSpace(s[:dash]), 10, 64)
	if err != nil {
		return updateRange{}, errors.Wrap(err, "bad start")
	}
	end, err := strconv.ParseInt(strings.TrimSpace(s[dash+1:]), 10, 64)
	if err != nil {
		return updateRange{}, errors.Wrap(err, "bad end")
	}
	if start < 0 || end < start {
		return updateRange{}, errors.New("inverted window")
	}
	return updateRange{start: start, end: end}, nil
}

// http://www.webdav.org/specs/rfc4918.html#METHOD_PUT
func (h *Handler) doPut(w http.ResponseWriter, r *http.Request, ri *reqInfo) (int, error) {
	ctx := r.Context()

	if err := h.checkLocks(r, ri, ri.path.Path, false); err != nil {
		return h.writeLockedError(w, r, err)
	}

	_, metaErr := h.FS.Metadata(ctx, ri.path.Path)
	exists := metaErr == nil

	if cr := r.Header.Get("Content-Range"); cr != "" {
		// Apache mod_dav compatible partial PUT: the target must
		// already exist.
		if !exists {
			return http.StatusNotFound, ErrorNotFound
		}
		ur, err := parseContentRange(cr)
		if err != nil {
			return http.StatusRequestedRangeNotSatisfiable, ErrorBadRange.WithCause(err)
		}
		if r.ContentLength >= 0 && r.ContentLength != ur.end-ur.start+1 {
			return http.StatusRequestedRangeNotSatisfiable,
				ErrorBadRange.WithCause(errors.New("length disagrees with window"))
		}
		if err := h.writeAt(r, ri, ur); err != nil {
			return statusOf(err), err
		}
		return http.StatusNoContent, nil
	}

	opts := OpenOpts{Write: true, Create: true, Truncate: true}
	f, err := h.FS.Open(ctx, ri.path.Path, opts)
	if err != nil {
		return statusOf(err), err
	}
	if _, err := copyBody(ctx, f, r.Body); err != nil {
		f.Close()
		return statusOf(err), err
	}
	if err := f.Close(); err != nil {
		return statusOf(err), err
	}

	if meta, err := h.FS.Metadata(ctx, ri.path.Path); err == nil {
		w.Header().Set("ETag", meta.ETag)
	}
	if exists {
		return http.StatusNoContent, nil
	}
	return http.StatusCreated, nil
}

// doPatch implements the SabreDAV partial-update extension:
// PATCH with X-Update-Range. https://sabre.io/dav/http-patch/
func (h *Handler) doPatch(w http.ResponseWriter, r *http.Request, ri *reqInfo) (int, error) {
	ctx := r.Context()

	if err := h.checkLocks(r, ri, ri.path.Path, false); err != nil {
		return h.writeLockedError(w, r, err)
	}

	hdr := r.Header.Get("X-Update-Range")
	if hdr == "" {
		return http.StatusBadRequest, ErrorBadBody.WithCause(errors.New("missing X-Update-Range"))
	}
	ur, err := parseUpdateRange(hdr)
	if err != nil {
		return http.StatusRequestedRangeNotSatisfiable, ErrorBadRange.WithCause(err)
	}

	_, metaErr := h.FS.Metadata(ctx, ri.path.Path)
	exists := metaErr == nil
	if !exists {
		return http.StatusNotFound, ErrorNotFound
	}

	if !ur.atEOF {
		if r.ContentLength >= 0 && r.ContentLength != ur.end-ur.start+1 {
			return http.StatusRequestedRangeNotSatisfiable,
				ErrorBadRange.WithCause(errors.New("length disagrees with window"))
		}
		if err := h.writeAt(r, ri, ur); err != nil {
			return statusOf(err), err
		}
		return http.StatusNoContent, nil
	}

	f, err := h.FS.Open(ctx, ri.path.Path, OpenOpts{Write: true, Append: true})
	if err != nil {
		return statusOf(err), err
	}
	if _, err := copyBody(ctx, f, r.Body); err != nil {
		f.Close()
		return statusOf(err), err
	}
	if err := f.Close(); err != nil {
		return statusOf(err), err
	}
	return http.StatusNoContent, nil
}

// writeAt streams the body into an absolute byte window. Writing past
// the current length zero-fills the gap, which the backends guarantee.
func (h *Handler) writeAt(r *http.Request, ri *reqInfo, ur updateRange) error {
	f, err := h.FS.Open(r.Context(), ri.path.Path, OpenOpts{Write: true})
	if err != nil {
		return err
	}
	if _, err := f.Seek(ur.start, io.SeekStart); err != nil {
		f.Close()
		return err
	}
	body := io.LimitReader(r.Body, ur.end-ur.start+1)
	if _, err := copyBody(r.Context(), f, body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// copyBody copies in chunks, honoring cancellation at chunk
// boundaries so an abandoned upload stops promptly.
func copyBody(ctx interface{ Err() error }, dst io.Writer, src io.Reader) (int64, error) {
	var written int64
	buf := make([]byte, 32<<10)
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if wn < n {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
