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

package xml

import (
	"fmt"
	"io"
	"net/http"

	wp "github.com/google/go-webdav/path"
	"github.com/pkg/errors"
)

// StatusMulti is the Multi-Status response code defined by RFC 4918.
const StatusMulti = 207

// StatusText covers the RFC 4918 status-code extensions to HTTP/1.1 in
// addition to the standard registry.
func StatusText(code int) string {
	switch code {
	case StatusMulti:
		return "Multi-Status"
	case 422:
		return "Unprocessable Entity"
	case 423:
		return "Locked"
	case 424:
		return "Failed Dependency"
	case 507:
		return "Insufficient Storage"
	}
	return http.StatusText(code)
}

// PropStat groups the properties of a response that share one status.
type PropStat struct {
	Props    []Property
	Status   int
	XMLError string // raw XML of an optional error element
}

// Response is one response element of a multi-status document: either
// an href with propstats, or an href with a plain status.
type Response struct {
	Href      string
	PropStats []PropStat
	Status    int
	XMLError  string
}

// MultiStatusWriter streams a 207 multi-status document, one response
// element at a time, so that an arbitrarily deep PROPFIND never holds
// the whole document in memory. The header is written lazily on the
// first response; Close finishes the document.
//
// Every element carries an explicit D: prefix because some clients
// (the Windows 7 Mini-Redirector among them) ignore elements in a
// default namespace.
type MultiStatusWriter struct {
	w       http.ResponseWriter
	started bool
}

// NewMultiStatusWriter returns a writer emitting to w.
func NewMultiStatusWriter(w http.ResponseWriter) *MultiStatusWriter {
	return &MultiStatusWriter{w: w}
}

func (m *MultiStatusWriter) writeHeader() error {
	if m.started {
		return nil
	}
	m.started = true
	m.w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	m.w.WriteHeader(StatusMulti)
	_, err := io.WriteString(m.w,
		`<?xml version="1.0" encoding="UTF-8"?>`+"\n"+`<D:multistatus xmlns:D="DAV:">`)
	return err
}

// Write emits a single response element.
func (m *MultiStatusWriter) Write(r *Response) error {
	if r.Href == "" {
		return errors.New("xml: response without href")
	}
	if (len(r.PropStats) > 0) == (r.Status != 0) {
		return errors.New("xml: response needs either propstats or a status")
	}
	if err := m.writeHeader(); err != nil {
		return err
	}
	buf := getBuffer()
	defer putBuffer(buf)

	buf.WriteString("<D:response><D:href>")
	buf.WriteString(Escape(wp.URLEncode(r.Href)))
	buf.WriteString("</D:href>")
	if r.Status != 0 {
		fmt.Fprintf(buf, "<D:status>HTTP/1.1 %d %s</D:status>", r.Status, StatusText(r.Status))
		if r.XMLError != "" {
			buf.WriteString("<D:error>")
			buf.WriteString(r.XMLError)
			buf.WriteString("</D:error>")
		}
	}
	for _, ps := range r.PropStats {
		buf.WriteString("<D:propstat><D:prop>")
		for _, p := range ps.Props {
			writeProperty(buf, p)
		}
		fmt.Fprintf(buf, "</D:prop><D:status>HTTP/1.1 %d %s</D:status>", ps.Status, StatusText(ps.Status))
		if ps.XMLError != "" {
			buf.WriteString("<D:error>")
			buf.WriteString(ps.XMLError)
			buf.WriteString("</D:error>")
		}
		buf.WriteString("</D:propstat>")
	}
	buf.WriteString("</D:response>")
	_, err := m.w.Write(buf.Bytes())
	return err
}

// Started reports whether the 207 status and document header have been
// written; once true the response status can no longer change.
func (m *MultiStatusWriter) Started() bool {
	return m.started
}

// Close terminates the multi-status document. It is a no-op if nothing
// was written.
func (m *MultiStatusWriter) Close() error {
	if !m.started {
		return nil
	}
	_, err := io.WriteString(m.w, "</D:multistatus>")
	return err
}

// writeProperty serializes one property element. DAV: names reuse the
// document's D: prefix; foreign namespaces are declared inline as the
// element's default namespace, without any client-chosen prefix.
func writeProperty(buf writer, p Property) {
	local := p.XMLName.Local
	switch {
	case p.XMLName.Space == "DAV:":
		local = "D:" + local
		buf.WriteString("<" + local)
	case p.XMLName.Space != "":
		buf.WriteString("<" + local + ` xmlns="` + Escape(p.XMLName.Space) + `"`)
	default:
		buf.WriteString("<" + local)
	}
	if p.Lang != "" {
		buf.WriteString(` xml:lang="` + Escape(p.Lang) + `"`)
	}
	if len(p.InnerXML) == 0 {
		buf.WriteString("/>")
		return
	}
	buf.WriteString(">")
	buf.Write(p.InnerXML)
	buf.WriteString("</" + local + ">")
}

type writer interface {
	io.Writer
	WriteString(string) (int, error)
}
