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

// Package xml parses WebDAV request documents and emits multi-status
// responses. Request bodies are decoded with a streaming pull parser and
// bounded by a caller-supplied limit; the recognized request roots are
// propfind, propertyupdate and lockinfo. Any other root is an error the
// caller maps to 400.
package xml

import (
	"bytes"
	"encoding/xml"
	"io"

	"github.com/pkg/errors"
)

// DefaultMaxBody bounds the size of request documents this package will
// decode.
const DefaultMaxBody = 64 << 10

var (
	ErrBodyTooLarge     = errors.New("xml: request body too large")
	ErrMalformed        = errors.New("xml: malformed request body")
	ErrUnknownRoot      = errors.New("xml: unrecognized document root")
	ErrInvalidPropfind  = errors.New("xml: invalid propfind")
	ErrInvalidProppatch = errors.New("xml: invalid propertyupdate")
	ErrInvalidLockInfo  = errors.New("xml: invalid lockinfo")
)

// Property is a single resource property: a fully qualified name plus
// the raw XML of its value. The InnerXML of complex values must be
// self-contained with respect to namespaces.
type Property struct {
	XMLName  xml.Name
	Lang     string `xml:"xml:lang,attr,omitempty"`
	InnerXML []byte `xml:",innerxml"`
}

// countingReader tracks how many bytes were consumed so that an empty
// body can be told apart from a malformed one.
type countingReader struct {
	n int
	r io.Reader
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

// limitReader fails with ErrBodyTooLarge instead of silently truncating.
type limitReader struct {
	r      io.Reader
	remain int
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.remain <= 0 {
		return 0, ErrBodyTooLarge
	}
	if len(p) > l.remain {
		p = p[:l.remain]
	}
	n, err := l.r.Read(p)
	l.remain -= n
	return n, err
}

// next returns the next token of the stream, skipping comments,
// directives and processing instructions as RFC 4918 requires.
func next(d *xml.Decoder) (xml.Token, error) {
	for {
		t, err := d.Token()
		if err != nil {
			return t, err
		}
		switch t.(type) {
		case xml.Comment, xml.Directive, xml.ProcInst:
			continue
		default:
			return t, nil
		}
	}
}

// PropNames is the list of property names in a propfind prop element.
type PropNames []xml.Name

// UnmarshalXML appends the property names enclosed within start to pn.
// Character data between names is ignored; a name carrying a value is an
// error.
func (pn *PropNames) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		t, err := next(d)
		if err != nil {
			return err
		}
		switch t.(type) {
		case xml.EndElement:
			return nil
		case xml.StartElement:
			name := t.(xml.StartElement).Name
			if err := d.Skip(); err != nil {
				return err
			}
			*pn = append(*pn, name)
		}
	}
}

// PropFind is a parsed PROPFIND request document.
type PropFind struct {
	XMLName  xml.Name  `xml:"DAV: propfind"`
	AllProp  *struct{} `xml:"DAV: allprop"`
	PropName *struct{} `xml:"DAV: propname"`
	Prop     PropNames `xml:"DAV: prop"`
	Include  PropNames `xml:"DAV: include"`
}

// ParsePropFind decodes a PROPFIND request body. An empty body means
// allprop, per RFC 4918 section 9.1.
func ParsePropFind(r io.Reader, maxBody int) (*PropFind, error) {
	c := &countingReader{r: &limitReader{r: r, remain: maxBody}}
	pf := &PropFind{}
	if err := xml.NewDecoder(c).Decode(pf); err != nil {
		if err == io.EOF && c.n == 0 {
			return &PropFind{AllProp: new(struct{})}, nil
		}
		if errors.Is(err, ErrBodyTooLarge) {
			return nil, ErrBodyTooLarge
		}
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	if pf.AllProp == nil && pf.Include != nil {
		return nil, ErrInvalidPropfind
	}
	if pf.AllProp != nil && (pf.Prop != nil || pf.PropName != nil) {
		return nil, ErrInvalidPropfind
	}
	if pf.Prop != nil && pf.PropName != nil {
		return nil, ErrInvalidPropfind
	}
	if pf.PropName == nil && pf.AllProp == nil && pf.Prop == nil {
		return nil, ErrInvalidPropfind
	}
	return pf, nil
}

// propValue captures a property's arbitrary mixed-content value. All
// tokens are re-encoded through a buffer, which forces redeclaration of
// any namespaces the fragment uses so the value stays self-contained.
type propValue []byte

func (v *propValue) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var b bytes.Buffer
	e := xml.NewEncoder(&b)
	depth := 0
	for {
		t, err := next(d)
		if err != nil {
			return err
		}
		switch t.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			if depth == 0 {
				if err := e.Flush(); err != nil {
					return err
				}
				*v = b.Bytes()
				return nil
			}
			depth--
		}
		if err := e.EncodeToken(t); err != nil {
			return err
		}
	}
}

// patchProps is the prop element of a set or remove operation.
type patchProps []Property

func (ps *patchProps) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		t, err := next(d)
		if err != nil {
			return err
		}
		switch elem := t.(type) {
		case xml.EndElement:
			if len(*ps) == 0 {
				return errors.Wrap(ErrInvalidProppatch, "empty prop")
			}
			return nil
		case xml.StartElement:
			p := Property{XMLName: elem.Name}
			if err := d.DecodeElement((*propValue)(&p.InnerXML), &elem); err != nil {
				return err
			}
			*ps = append(*ps, p)
		}
	}
}

type setRemove struct {
	XMLName xml.Name
	Prop    patchProps `xml:"DAV: prop"`
}

type propertyUpdate struct {
	XMLName   xml.Name    `xml:"DAV: propertyupdate"`
	SetRemove []setRemove `xml:",any"`
}

// PatchOp is a single set or remove instruction of a PROPPATCH, in
// document order.
type PatchOp struct {
	Remove bool
	Props  []Property
}

// ParsePropPatch decodes a PROPPATCH request body into its ordered
// operations.
func ParsePropPatch(r io.Reader, maxBody int) ([]PatchOp, error) {
	var pu propertyUpdate
	lr := &limitReader{r: r, remain: maxBody}
	if err := xml.NewDecoder(lr).Decode(&pu); err != nil {
		if errors.Is(err, ErrBodyTooLarge) {
			return nil, ErrBodyTooLarge
		}
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	ops := make([]PatchOp, 0, len(pu.SetRemove))
	for _, op := range pu.SetRemove {
		remove := false
		switch op.XMLName {
		case xml.Name{Space: "DAV:", Local: "set"}:
		case xml.Name{Space: "DAV:", Local: "remove"}:
			for _, p := range op.Prop {
				if len(p.InnerXML) > 0 {
					return nil, ErrInvalidProppatch
				}
			}
			remove = true
		default:
			return nil, ErrInvalidProppatch
		}
		ops = append(ops, PatchOp{Remove: remove, Props: op.Prop})
	}
	if len(ops) == 0 {
		return nil, ErrInvalidProppatch
	}
	return ops, nil
}

// LockInfo is a parsed LOCK request body. A zero LockInfo (empty body)
// means the request is a lock refresh.
type LockInfo struct {
	XMLName   xml.Name  `xml:"DAV: lockinfo"`
	Exclusive *struct{} `xml:"lockscope>exclusive"`
	Shared    *struct{} `xml:"lockscope>shared"`
	Write     *struct{} `xml:"locktype>write"`
	Owner     Owner     `xml:"owner"`
}

// Owner carries the verbatim owner XML of a lock request.
type Owner struct {
	InnerXML string `xml:",innerxml"`
}

// IsRefresh reports whether the LOCK had no body.
func (li *LockInfo) IsRefresh() bool {
	return li.Exclusive == nil && li.Shared == nil && li.Write == nil
}

// ParseLockInfo decodes a LOCK request body.
func ParseLockInfo(r io.Reader, maxBody int) (*LockInfo, error) {
	c := &countingReader{r: &limitReader{r: r, remain: maxBody}}
	li := &LockInfo{}
	if err := xml.NewDecoder(c).Decode(li); err != nil {
		if err == io.EOF && c.n == 0 {
			// Empty body: refresh.
			return &LockInfo{}, nil
		}
		if errors.Is(err, ErrBodyTooLarge) {
			return nil, ErrBodyTooLarge
		}
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	if li.Write == nil || (li.Exclusive == nil) == (li.Shared == nil) {
		return nil, ErrInvalidLockInfo
	}
	return li, nil
}

// Escape escapes a string for embedding in XML character data with
// xml.EscapeText: & < > become entity references, quotes become numeric
// character references. A string containing none of & < > " ' is
// returned unchanged.
func Escape(s string) string {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"', '&', '\'', '<', '>':
			b := bytes.NewBuffer(nil)
			xml.EscapeText(b, []byte(s))
			return b.String()
		}
	}
	return s
}
