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
	"time"

	x "github.com/google/go-webdav/xml"
)

// http://www.webdav.org/specs/rfc4918.html#METHOD_LOCK
func (h *Handler) doLock(w http.ResponseWriter, r *http.Request, ri *reqInfo) (int, error) {
	ctx := r.Context()
	now := h.now()

	li, err := x.ParseLockInfo(r.Body, h.maxXMLBody())
	if err != nil {
		return http.StatusBadRequest, ErrorBadLock.WithCause(err)
	}

	// Depth on LOCK must be 0 or infinity; absent means infinity.
	if ri.depthSet && ri.depth != 0 && ri.depth != DepthInfinity {
		return http.StatusBadRequest, ErrorBadDepth
	}

	details := LockDetails{
		Path:    ri.path.Path,
		Depth:   ri.depth,
		Timeout: ri.timeout,
	}

	var lock Lock
	if li.IsRefresh() {
		// A no-body LOCK refreshes the lock named by the If
		// header's single token.
		if ri.ifTag == nil {
			return http.StatusBadRequest, ErrorBadLock
		}
		token, ok := ri.ifTag.SingleToken()
		if !ok {
			return http.StatusBadRequest, ErrorBadLock
		}
		lock, err = h.LS.Lock(ctx, now, details, token)
		if err != nil {
			if ErrorNoSuchLock.Is(err) {
				// A refresh of a vanished lock is a failed
				// precondition, not a conflict.
				return http.StatusPreconditionFailed, ErrorPrecondition.WithCause(err)
			}
			return statusOf(err), err
		}
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		h.writeLockDiscovery(w, lock, now)
		return 0, nil
	}

	details.Scope = ScopeExclusive
	if li.Shared != nil {
		details.Scope = ScopeShared
	}
	details.OwnerXML = li.Owner.InnerXML

	lock, err = h.LS.Lock(ctx, now, details, "")
	if err != nil {
		if ErrorLocked.Is(err) {
			return h.writeLockedError(w, r, err)
		}
		return statusOf(err), err
	}

	// RFC 4918 section 7.3: locking an unmapped URL creates an empty
	// resource.
	created := false
	if _, err := h.FS.Metadata(ctx, ri.path.Path); err != nil {
		f, err := h.FS.Open(ctx, ri.path.Path, OpenOpts{Write: true, CreateNew: true})
		if err != nil {
			h.LS.Unlock(ctx, now, lock.Path, lock.Token)
			return statusOf(err), err
		}
		f.Close()
		created = true
	}

	w.Header().Set("Lock-Token", "<"+lock.Token+">")
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if created {
		w.WriteHeader(http.StatusCreated)
	}
	h.writeLockDiscovery(w, lock, now)
	return 0, nil
}

// writeLockDiscovery emits the prop/lockdiscovery success body of a
// LOCK. The caller's instant is reused so the advertised timeout is
// the one just granted.
func (h *Handler) writeLockDiscovery(w io.Writer, lock Lock, now time.Time) {
	lock.Path = h.Prefix + lock.Path
	io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+"\n"+
		`<D:prop xmlns:D="DAV:"><D:lockdiscovery>`)
	io.WriteString(w, lock.ActiveLockXML(now))
	io.WriteString(w, `</D:lockdiscovery></D:prop>`)
}

// http://www.webdav.org/specs/rfc4918.html#METHOD_UNLOCK
func (h *Handler) doUnlock(w http.ResponseWriter, r *http.Request, ri *reqInfo) (int, error) {
	lt := r.Header.Get("Lock-Token")
	if len(lt) < 2 || lt[0] != '<' || lt[len(lt)-1] != '>' {
		return http.StatusBadRequest, ErrorBadLock
	}
	lt = lt[1 : len(lt)-1]

	if err := h.LS.Unlock(r.Context(), h.now(), ri.path.Path, lt); err != nil {
		return statusOf(err), err
	}
	return http.StatusNoContent, nil
}
