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
	"mime"
	"net/http"
	gp "path"
	"strconv"

	x "github.com/google/go-webdav/xml"
)

const apacheNS = "http://apache.org/dav/props/"

// liveProps are the DAV: properties this server computes. A nil findFn
// marks a property that only surfaces through a stored dead value
// (getcontentlanguage); settable marks the two properties PROPPATCH may
// touch, everything else is protected.
var liveProps = map[xml.Name]struct {
	findFn   func(*Handler, context.Context, string, Meta) (string, error)
	dir      bool
	settable bool
}{
	{Space: "DAV:", Local: "resourcetype"}: {
		findFn: (*Handler).findResourceType,
		dir:    true,
	},
	{Space: "DAV:", Local: "displayname"}: {
		findFn:   (*Handler).findDisplayName,
		dir:      true,
		settable: true,
	},
	{Space: "DAV:", Local: "getcontentlength"}: {
		findFn: (*Handler).findContentLength,
		dir:    false,
	},
	{Space: "DAV:", Local: "getlastmodified"}: {
		findFn: (*Handler).findLastModified,
		dir:    true,
	},
	{Space: "DAV:", Local: "creationdate"}: {
		findFn: (*Handler).findCreationDate,
		dir:    true,
	},
	{Space: "DAV:", Local: "getcontentlanguage"}: {
		findFn:   nil,
		dir:      false,
		settable: true,
	},
	{Space: "DAV:", Local: "getcontenttype"}: {
		findFn: (*Handler).findContentType,
		dir:    false,
	},
	{Space: "DAV:", Local: "getetag"}: {
		findFn: (*Handler).findETag,
		// ETags of collections are not a reliable synchronization
		// signal, so getetag is files only.
		dir: false,
	},
	{Space: "DAV:", Local: "lockdiscovery"}: {
		findFn: (*Handler).findLockDiscovery,
		dir:    true,
	},
	{Space: "DAV:", Local: "supportedlock"}: {
		findFn: (*Handler).findSupportedLock,
		dir:    true,
	},
	{Space: "DAV:", Local: "quota-used-bytes"}: {
		findFn: (*Handler).findQuotaUsed,
		dir:    true,
	},
	{Space: "DAV:", Local: "quota-available-bytes"}: {
		findFn: (*Handler).findQuotaAvailable,
		dir:    true,
	},
	{Space: apacheNS, Local: "executable"}: {
		findFn: (*Handler).findExecutable,
		dir:    false,
	},
}

// quotaProps are only reported on explicit request, per RFC 4331.
var quotaProps = map[xml.Name]bool{
	{Space: "DAV:", Local: "quota-used-bytes"}:      true,
	{Space: "DAV:", Local: "quota-available-bytes"}: true,
}

// propNames lists the defined property names of a resource: applicable
// live properties plus stored dead ones.
func (h *Handler) propNames(ctx context.Context, path string, m Meta) ([]xml.Name, error) {
	dead, err := h.FS.GetProps(ctx, path)
	if err != nil && !ErrorNotFound.Is(err) {
		return nil, err
	}
	names := make([]xml.Name, 0, len(liveProps)+len(dead))
	_, hasQuota := h.FS.(QuotaFS)
	for pn, prop := range liveProps {
		if prop.findFn == nil || (!prop.dir && m.IsDir()) {
			continue
		}
		if quotaProps[pn] && (!hasQuota || !m.IsDir()) {
			continue
		}
		if pn.Space == apacheNS && !m.Executable {
			continue
		}
		names = append(names, pn)
	}
	for _, dp := range dead {
		if lp, ok := liveProps[dp.Name]; ok && lp.findFn != nil {
			continue
		}
		names = append(names, dp.Name)
	}
	return names, nil
}

// findProps resolves an explicit prop list into 200/404 propstat
// groups. Dead values win over computed ones for the settable live
// names.
func (h *Handler) findProps(ctx context.Context, path string, m Meta, names []xml.Name) ([]x.PropStat, error) {
	dead, err := h.FS.GetProps(ctx, path)
	if err != nil && !ErrorNotFound.Is(err) {
		return nil, err
	}
	deadByName := make(map[xml.Name]DeadProp, len(dead))
	for _, dp := range dead {
		deadByName[dp.Name] = dp
	}

	pstatOK := x.PropStat{Status: http.StatusOK}
	pstatMissing := x.PropStat{Status: http.StatusNotFound}
	for _, pn := range names {
		if dp, ok := deadByName[pn]; ok {
			pstatOK.Props = append(pstatOK.Props, x.Property{
				XMLName:  dp.Name,
				InnerXML: dp.InnerXML,
			})
			continue
		}
		if prop, ok := liveProps[pn]; ok && prop.findFn != nil && (prop.dir || !m.IsDir()) {
			if quotaProps[pn] {
				if _, hasQuota := h.FS.(QuotaFS); !hasQuota {
					pstatMissing.Props = append(pstatMissing.Props, x.Property{XMLName: pn})
					continue
				}
			}
			inner, err := prop.findFn(h, ctx, path, m)
			if err != nil {
				return nil, err
			}
			pstatOK.Props = append(pstatOK.Props, x.Property{
				XMLName:  pn,
				InnerXML: []byte(inner),
			})
			continue
		}
		pstatMissing.Props = append(pstatMissing.Props, x.Property{XMLName: pn})
	}

	var pstats []x.PropStat
	if len(pstatOK.Props) > 0 {
		pstats = append(pstats, pstatOK)
	}
	if len(pstatMissing.Props) > 0 {
		pstats = append(pstats, pstatMissing)
	}
	if len(pstats) == 0 {
		pstats = append(pstats, x.PropStat{Status: http.StatusOK})
	}
	return pstats, nil
}

// allProps resolves allprop plus an optional include list.
func (h *Handler) allProps(ctx context.Context, path string, m Meta, include []xml.Name) ([]x.PropStat, error) {
	names, err := h.propNames(ctx, path, m)
	if err != nil {
		return nil, err
	}
	seen := make(map[xml.Name]bool, len(names))
	for _, pn := range names {
		seen[pn] = true
	}
	for _, pn := range include {
		if !seen[pn] {
			names = append(names, pn)
		}
	}
	// allprop must not volunteer quota values, per RFC 4331.
	filtered := names[:0]
	for _, pn := range names {
		if quotaProps[pn] && !includes(include, pn) {
			continue
		}
		filtered = append(filtered, pn)
	}
	return h.findProps(ctx, path, m, filtered)
}

func includes(names []xml.Name, pn xml.Name) bool {
	for _, n := range names {
		if n == pn {
			return true
		}
	}
	return false
}

// patchProps runs a PROPPATCH transaction. If any operation targets a
// protected property, the protected names report 403 with
// cannot-modify-protected-property, everything else reports 424, and
// nothing persists.
func (h *Handler) patchProps(ctx context.Context, path string, ops []x.PatchOp) ([]x.PropStat, error) {
	conflict := false
	for _, op := range ops {
		for _, p := range op.Props {
			if lp, ok := liveProps[p.XMLName]; ok && !lp.settable {
				conflict = true
			}
		}
	}
	if conflict {
		pstatForbidden := x.PropStat{
			Status:   http.StatusForbidden,
			XMLError: `<D:cannot-modify-protected-property/>`,
		}
		pstatFailedDep := x.PropStat{Status: StatusFailedDependency}
		for _, op := range ops {
			for _, p := range op.Props {
				name := x.Property{XMLName: p.XMLName}
				if lp, ok := liveProps[p.XMLName]; ok && !lp.settable {
					pstatForbidden.Props = append(pstatForbidden.Props, name)
				} else {
					pstatFailedDep.Props = append(pstatFailedDep.Props, name)
				}
			}
		}
		return []x.PropStat{pstatForbidden, pstatFailedDep}, nil
	}

	// Collapse the ordered operations into the final intent per name
	// and hand the whole batch to the backend as one transaction.
	var (
		setOrder []xml.Name
		setMap   = make(map[xml.Name]DeadProp)
		removes  []xml.Name
		removed  = make(map[xml.Name]bool)
	)
	for _, op := range ops {
		for _, p := range op.Props {
			if op.Remove {
				if _, ok := setMap[p.XMLName]; ok {
					delete(setMap, p.XMLName)
				}
				if !removed[p.XMLName] {
					removed[p.XMLName] = true
					removes = append(removes, p.XMLName)
				}
			} else {
				if _, ok := setMap[p.XMLName]; !ok {
					setOrder = append(setOrder, p.XMLName)
				}
				setMap[p.XMLName] = DeadProp{Name: p.XMLName, InnerXML: p.InnerXML}
				if removed[p.XMLName] {
					removed[p.XMLName] = false
					removes = deleteName(removes, p.XMLName)
				}
			}
		}
	}
	set := make([]DeadProp, 0, len(setOrder))
	for _, pn := range setOrder {
		if dp, ok := setMap[pn]; ok {
			set = append(set, dp)
		}
	}

	results, err := h.FS.PatchProps(ctx, path, set, removes)
	if err != nil {
		return nil, err
	}
	byStatus := make(map[int]*x.PropStat)
	order := []int{}
	for _, r := range results {
		ps, ok := byStatus[r.Status]
		if !ok {
			ps = &x.PropStat{Status: r.Status}
			byStatus[r.Status] = ps
			order = append(order, r.Status)
		}
		ps.Props = append(ps.Props, x.Property{XMLName: r.Name})
	}
	pstats := make([]x.PropStat, 0, len(order))
	for _, st := range order {
		pstats = append(pstats, *byStatus[st])
	}
	if len(pstats) == 0 {
		pstats = append(pstats, x.PropStat{Status: http.StatusOK})
	}
	return pstats, nil
}

func deleteName(names []xml.Name, pn xml.Name) []xml.Name {
	out := names[:0]
	for _, n := range names {
		if n != pn {
			out = append(out, n)
		}
	}
	return out
}

func (h *Handler) findResourceType(ctx context.Context, path string, m Meta) (string, error) {
	if m.IsDir() {
		return `<D:collection/>`, nil
	}
	return "", nil
}

func (h *Handler) findDisplayName(ctx context.Context, path string, m Meta) (string, error) {
	if path == "/" {
		// Hide the real name of a possibly prefixed root.
		return "", nil
	}
	return x.Escape(gp.Base(path)), nil
}

func (h *Handler) findContentLength(ctx context.Context, path string, m Meta) (string, error) {
	return strconv.FormatInt(m.Length, 10), nil
}

func (h *Handler) findLastModified(ctx context.Context, path string, m Meta) (string, error) {
	return m.ModTime.UTC().Format(http.TimeFormat), nil
}

func (h *Handler) findCreationDate(ctx context.Context, path string, m Meta) (string, error) {
	return m.CreateTime.UTC().Format("2006-01-02T15:04:05Z"), nil
}

func (h *Handler) findContentType(ctx context.Context, path string, m Meta) (string, error) {
	if ctype := mime.TypeByExtension(gp.Ext(path)); ctype != "" {
		return x.Escape(ctype), nil
	}
	// Sniff a prefix of the content, the way net/http's serveContent
	// does.
	f, err := h.FS.Open(ctx, path, OpenOpts{Read: true})
	if err != nil {
		return "", err
	}
	defer f.Close()
	var buf [512]byte
	n, _ := f.Read(buf[:])
	return x.Escape(http.DetectContentType(buf[:n])), nil
}

func (h *Handler) findETag(ctx context.Context, path string, m Meta) (string, error) {
	return x.Escape(m.ETag), nil
}

func (h *Handler) findLockDiscovery(ctx context.Context, path string, m Meta) (string, error) {
	now := h.now()
	inner := ""
	for _, l := range h.LS.Discover(ctx, now, path) {
		l.Path = h.Prefix + l.Path
		inner += l.ActiveLockXML(now)
	}
	return inner, nil
}

func (h *Handler) findSupportedLock(ctx context.Context, path string, m Meta) (string, error) {
	return `<D:lockentry><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockentry>` +
		`<D:lockentry><D:lockscope><D:shared/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockentry>`, nil
}

func (h *Handler) findQuotaUsed(ctx context.Context, path string, m Meta) (string, error) {
	qfs, ok := h.FS.(QuotaFS)
	if !ok {
		return "", nil
	}
	used, _, err := qfs.Quota(ctx, path)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(used, 10), nil
}

func (h *Handler) findQuotaAvailable(ctx context.Context, path string, m Meta) (string, error) {
	qfs, ok := h.FS.(QuotaFS)
	if !ok {
		return "", nil
	}
	_, avail, err := qfs.Quota(ctx, path)
	if err != nil {
		return "", err
	}
	if avail < 0 {
		// Unbounded backends still need a number here; advertise
		// a large remainder rather than omitting the property.
		avail = 1 << 40
	}
	return strconv.FormatInt(avail, 10), nil
}

func (h *Handler) findExecutable(ctx context.Context, path string, m Meta) (string, error) {
	if m.Executable {
		return "T", nil
	}
	return "F", nil
}
