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

// Package webdav implements a generic WebDAV (RFC 4918) request handler
// over pluggable filesystem and lock backends. The Handler is embedded
// in a host HTTP server; it consumes a standard request and produces a
// standard response, leaving TLS, authentication and the concrete
// storage to its host.
package webdav

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/google/go-webdav/cond"
	wp "github.com/google/go-webdav/path"
	x "github.com/google/go-webdav/xml"
)

// Depth values. DepthInfinity covers an entire subtree.
const (
	DepthInfinity = -1
	invalidDepth  = -2
)

// Handler dispatches WebDAV methods against a FileSystem and a
// LockSystem. The zero value is not usable; FS and LS must be set.
type Handler struct {
	// FS is the filesystem backend.
	FS FileSystem

	// LS is the lock backend; memls.New for real locking,
	// memls.NewFake for clients that only pretend.
	LS LockSystem

	// Prefix is stripped from request URIs before they reach the
	// backend. Requests outside the prefix get 404.
	Prefix string

	// Logger, when set, receives one event per request plus error
	// details.
	Logger *zerolog.Logger

	// MaxXMLBody bounds request documents; zero means
	// xml.DefaultMaxBody.
	MaxXMLBody int

	// AllowInfiniteDepth permits Depth: infinity PROPFIND. Off by
	// default: unbounded traversal of a hostile tree is a trivial
	// denial of service.
	AllowInfiniteDepth bool

	// AutoIndex makes GET on a collection render an HTML listing
	// instead of 405.
	AutoIndex bool

	// Quirks enables User-Agent specific shortcuts for macOS Finder
	// and Windows Explorer.
	Quirks bool

	// Now is the clock; nil means time.Now. Tests pin it.
	Now func() time.Time
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handler) maxXMLBody() int {
	if h.MaxXMLBody > 0 {
		return h.MaxXMLBody
	}
	return x.DefaultMaxBody
}

// reqInfo carries the per-request state every handler needs: the
// canonical path, parsed protocol headers, and the submitted lock
// tokens.
type reqInfo struct {
	path      wp.Normalized
	depth     int
	depthSet  bool
	timeout   time.Duration
	ifTag     *cond.IfTag
	overwrite bool
}

// submitted returns the state tokens of the If header, the lock
// manager's authorization input.
func (ri *reqInfo) submitted() []string {
	if ri.ifTag == nil {
		return nil
	}
	return ri.ifTag.SubmittedTokens()
}

// parseDepth maps "0", "1" and "infinity" onto their depths. Method
// specific restrictions (COPY takes 0 or infinity, MOVE only infinity,
// LOCK 0 or infinity) are enforced by the per-method handlers.
func parseDepth(s string) int {
	switch s {
	case "0":
		return 0
	case "1":
		return 1
	case "infinity", "Infinity":
		return DepthInfinity
	}
	return invalidDepth
}

// parseTimeout picks the first usable Second-N option of a Timeout
// header, per RFC 4918 section 10.7; an Infinite option is passed over
// when a later Second-N option is usable. Unparseable, Infinite-only or
// absent values ask for the backend maximum.
func parseTimeout(s string) time.Duration {
	for _, o := range strings.SplitN(s, ",", 3) {
		o = strings.TrimSpace(o)
		if o == "Infinite" {
			continue
		}
		if !strings.HasPrefix(o, "Second-") {
			continue
		}
		n, err := strconv.ParseInt(o[len("Second-"):], 10, 64)
		if err != nil || n < 0 {
			continue
		}
		return time.Duration(n) * time.Second
	}
	return 0
}

func (h *Handler) extractReqInfo(r *http.Request) (*reqInfo, error) {
	ri := &reqInfo{}
	p, err := wp.Normalize(r.URL.Path, h.Prefix)
	if err != nil {
		if err == wp.ErrPrefixMismatch {
			return nil, ErrorNotFound.WithCause(err)
		}
		return nil, ErrorBadPath.WithCause(err)
	}
	ri.path = p

	ri.depth = DepthInfinity
	if dh := r.Header.Get("Depth"); dh != "" {
		ri.depthSet = true
		ri.depth = parseDepth(dh)
		if ri.depth == invalidDepth {
			return nil, ErrorBadDepth
		}
	}

	if ih := r.Header.Get("If"); ih != "" {
		t, err := cond.ParseIfTag(ih)
		if err != nil {
			return nil, ErrorBadLock.WithCause(err)
		}
		if err := t.RewriteHosts(r.Host); err != nil {
			return nil, ErrorBadDest.WithCause(err)
		}
		ri.ifTag = t
	}

	ri.timeout = parseTimeout(r.Header.Get("Timeout"))
	ri.overwrite = r.Header.Get("Overwrite") != "F"
	return ri, nil
}

// handlerFunc is the shape of every per-method handler. A non-zero
// status is written by ServeHTTP with a text body; zero means the
// handler wrote its own response.
type handlerFunc func(*Handler, http.ResponseWriter, *http.Request, *reqInfo) (int, error)

// methodEntry drives dispatch: the handler plus where the method makes
// sense. A method invoked on an existing resource of a disallowed kind
// fails 405 before its handler runs.
type methodEntry struct {
	handler      handlerFunc
	onFile       bool
	onCollection bool
}

var methodTable map[string]methodEntry

func init() {
	methodTable = map[string]methodEntry{
		"OPTIONS":   {(*Handler).doOptions, true, true},
		"GET":       {(*Handler).doGet, true, true},
		"HEAD":      {(*Handler).doHead, true, true},
		"POST":      {(*Handler).doPost, true, false},
		"PUT":       {(*Handler).doPut, true, false},
		"PATCH":     {(*Handler).doPatch, true, false},
		"DELETE":    {(*Handler).doDelete, true, true},
		"MKCOL":     {(*Handler).doMkcol, false, false},
		"COPY":      {(*Handler).doCopy, true, true},
		"MOVE":      {(*Handler).doMove, true, true},
		"LOCK":      {(*Handler).doLock, true, true},
		"UNLOCK":    {(*Handler).doUnlock, true, true},
		"PROPFIND":  {(*Handler).doPropfind, true, true},
		"PROPPATCH": {(*Handler).doProppatch, true, true},
	}
}

// methodOrder fixes the Allow header ordering.
var methodOrder = []string{
	"OPTIONS", "GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "MKCOL",
	"COPY", "MOVE", "LOCK", "UNLOCK", "PROPFIND", "PROPPATCH",
}

// mutating marks the methods whose preconditions gate a state change.
var mutating = map[string]bool{
	"PUT": true, "PATCH": true, "DELETE": true, "MKCOL": true,
	"COPY": true, "MOVE": true, "PROPPATCH": true, "LOCK": true,
	"UNLOCK": true,
}

// allowedMethods computes the Allow value for a resource state.
func (h *Handler) allowedMethods(exists, isDir bool) string {
	var allowed []string
	for _, m := range methodOrder {
		e := methodTable[m]
		switch {
		case !exists:
			if m == "OPTIONS" || m == "PUT" || m == "MKCOL" || m == "LOCK" {
				allowed = append(allowed, m)
			}
		case isDir:
			if e.onCollection {
				allowed = append(allowed, m)
			}
		default:
			if e.onFile {
				allowed = append(allowed, m)
			}
		}
	}
	return strings.Join(allowed, ", ")
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("DAV", "1, 2, 3, sabredav-partialupdate")

	status, err := h.serve(w, r)
	if status != 0 {
		if status == http.StatusMethodNotAllowed && w.Header().Get("Allow") == "" {
			exists, isDir := false, false
			if ri, e := h.extractReqInfo(r); e == nil {
				if m, e := h.FS.Metadata(r.Context(), ri.path.Path); e == nil {
					exists, isDir = true, m.IsDir()
				}
			}
			w.Header().Set("Allow", h.allowedMethods(exists, isDir))
		}
		w.WriteHeader(status)
		if status >= 400 {
			io.WriteString(w, x.StatusText(status))
		}
	}
	if h.Logger != nil {
		ev := h.Logger.Debug()
		if err != nil {
			ev = h.Logger.Error().Err(err)
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Msg("webdav")
	}
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) (int, error) {
	if h.FS == nil || h.LS == nil {
		return http.StatusInternalServerError, ErrorInternal.WithCause(errNoBackends)
	}
	entry, ok := methodTable[r.Method]
	if !ok {
		return http.StatusNotImplemented, ErrorNotImplemented
	}

	ri, err := h.extractReqInfo(r)
	if err != nil {
		return statusOf(err), err
	}

	if h.Quirks {
		if status, handled := h.serveQuirk(w, r, ri); handled {
			return status, nil
		}
	}

	meta, metaErr := h.FS.Metadata(r.Context(), ri.path.Path)
	exists := metaErr == nil
	if exists {
		if (meta.IsDir() && !entry.onCollection) || (!meta.IsDir() && !entry.onFile) {
			w.Header().Set("Allow", h.allowedMethods(true, meta.IsDir()))
			return http.StatusMethodNotAllowed, ErrorNotAllowed
		}
	}

	if mutating[r.Method] || r.Method == "PROPFIND" {
		if status, err := h.evalPreconditions(r, ri, meta, exists); err != nil {
			return status, err
		}
	}

	return entry.handler(h, w, r, ri)
}

// statusOf maps an error to its wire status, 500 when it carries none.
func statusOf(err error) int {
	if we, ok := err.(Error); ok {
		return we.HTTPCode()
	}
	return http.StatusInternalServerError
}

var errNoBackends = Error{code: http.StatusInternalServerError, text: "NoBackends"}

// condEnv adapts the backends to the cond evaluation environment.
type condEnv struct {
	h   *Handler
	r   *http.Request
	now time.Time
}

func (e condEnv) ETag(res string) string {
	p, err := wp.Normalize(res, e.h.Prefix)
	if err != nil {
		return ""
	}
	m, err := e.h.FS.Metadata(e.r.Context(), p.Path)
	if err != nil {
		return ""
	}
	return m.ETag
}

func (e condEnv) Locked(res, token string) bool {
	p, err := wp.Normalize(res, e.h.Prefix)
	if err != nil {
		return false
	}
	return e.h.LS.Holds(e.r.Context(), e.now, p.Path, token)
}

// evalPreconditions applies, in order: If-Match / If-None-Match against
// the resource's ETag, If-Unmodified-Since against mtime truncated to
// one-second resolution, then the If header. Any mismatch is 412.
// If-Modified-Since is not evaluated here; GET and HEAD honor it through
// http.ServeContent.
//
// The If header is evaluated once against the request-URI (or its
// tagged resources); members of a depth-infinity subtree are not
// individually re-evaluated. See DESIGN.md.
func (h *Handler) evalPreconditions(r *http.Request, ri *reqInfo, meta Meta, exists bool) (int, error) {
	if im := r.Header.Get("If-Match"); im != "" {
		if !etagListMatches(im, meta.ETag, exists) {
			return http.StatusPreconditionFailed, ErrorPrecondition
		}
	}
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		if etagListMatches(inm, meta.ETag, exists) {
			return http.StatusPreconditionFailed, ErrorPrecondition
		}
	}
	if exists {
		mtime := meta.ModTime.Truncate(time.Second)
		if ius := r.Header.Get("If-Unmodified-Since"); ius != "" {
			if t, err := http.ParseTime(ius); err == nil && mtime.After(t) {
				return http.StatusPreconditionFailed, ErrorPrecondition
			}
		}
	}
	if ri.ifTag != nil {
		env := condEnv{h: h, r: r, now: h.now()}
		if !ri.ifTag.Eval(env, h.Prefix+ri.path.Path) {
			return http.StatusPreconditionFailed, ErrorPrecondition
		}
	}
	return 0, nil
}

// etagListMatches evaluates an If-Match / If-None-Match value. "*"
// matches any existing resource.
func etagListMatches(list, etag string, exists bool) bool {
	if strings.TrimSpace(list) == "*" {
		return exists
	}
	if !exists {
		return false
	}
	trim := func(s string) string {
		s = strings.TrimPrefix(strings.TrimSpace(s), "W/")
		return strings.Trim(s, `"`)
	}
	want := trim(etag)
	for _, cand := range strings.Split(list, ",") {
		if trim(cand) == want {
			return true
		}
	}
	return false
}

// checkLocks asks the lock backend whether the mutation is authorized
// by the submitted tokens, and renders the conflict as 423 material.
func (h *Handler) checkLocks(r *http.Request, ri *reqInfo, path string, descendants bool) error {
	err := h.LS.Check(r.Context(), h.now(), path, ri.submitted(), descendants)
	if err != nil {
		return err
	}
	return nil
}

// writeLockedError emits the 423 body carrying lockdiscovery for the
// blocking resource.
func (h *Handler) writeLockedError(w http.ResponseWriter, r *http.Request, err error) (int, error) {
	var lr *LockedResource
	if we, ok := err.(Error); ok {
		if cause, ok := we.Unwrap().(*LockedResource); ok {
			lr = cause
		}
	}
	if lr == nil {
		return StatusLocked, err
	}
	now := h.now()
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(StatusLocked)
	io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+"\n"+`<D:prop xmlns:D="DAV:"><D:lockdiscovery>`)
	for _, l := range h.LS.Discover(r.Context(), now, lr.Path) {
		l.Path = h.Prefix + l.Path
		io.WriteString(w, l.ActiveLockXML(now))
	}
	io.WriteString(w, `</D:lockdiscovery></D:prop>`)
	return 0, err
}

// doOptions advertises compliance and the method list for the resource
// state.
func (h *Handler) doOptions(w http.ResponseWriter, r *http.Request, ri *reqInfo) (int, error) {
	exists, isDir := false, false
	if m, err := h.FS.Metadata(r.Context(), ri.path.Path); err == nil {
		exists, isDir = true, m.IsDir()
	}
	w.Header().Set("Allow", h.allowedMethods(exists, isDir))
	// http://msdn.microsoft.com/en-au/library/cc250217.aspx
	w.Header().Set("MS-Author-Via", "DAV")
	return http.StatusOK, nil
}

// doPost serves POST as GET; plain resources have no form semantics.
func (h *Handler) doPost(w http.ResponseWriter, r *http.Request, ri *reqInfo) (int, error) {
	return h.doGet(w, r, ri)
}
