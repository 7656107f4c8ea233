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
	"encoding/xml"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePropFind(t *testing.T) {
	pf, err := ParsePropFind(strings.NewReader(
		`<?xml version="1.0"?><D:propfind xmlns:D="DAV:"><D:prop><D:getetag/><D:getcontentlength/></D:prop></D:propfind>`),
		DefaultMaxBody)
	require.NoError(t, err)
	require.Len(t, pf.Prop, 2)
	assert.Equal(t, xml.Name{Space: "DAV:", Local: "getetag"}, pf.Prop[0])
	assert.Equal(t, xml.Name{Space: "DAV:", Local: "getcontentlength"}, pf.Prop[1])

	pf, err = ParsePropFind(strings.NewReader(
		`<propfind xmlns="DAV:"><propname/></propfind>`), DefaultMaxBody)
	require.NoError(t, err)
	assert.NotNil(t, pf.PropName)

	pf, err = ParsePropFind(strings.NewReader(
		`<propfind xmlns="DAV:"><allprop/><include><foo xmlns="urn:x"/></include></propfind>`), DefaultMaxBody)
	require.NoError(t, err)
	assert.NotNil(t, pf.AllProp)
	require.Len(t, pf.Include, 1)
	assert.Equal(t, xml.Name{Space: "urn:x", Local: "foo"}, pf.Include[0])

	// Empty body means allprop.
	pf, err = ParsePropFind(strings.NewReader(""), DefaultMaxBody)
	require.NoError(t, err)
	assert.NotNil(t, pf.AllProp)

	for _, bad := range []string{
		`<propfind xmlns="DAV:"></propfind>`,
		`<propfind xmlns="DAV:"><allprop/><propname/></propfind>`,
		`<propfind xmlns="DAV:"><prop><a/></prop><propname/></propfind>`,
		`<lockinfo xmlns="DAV:"/>`,
		`not xml`,
	} {
		_, err := ParsePropFind(strings.NewReader(bad), DefaultMaxBody)
		assert.Error(t, err, bad)
	}
}

func TestParsePropFindTooLarge(t *testing.T) {
	big := `<propfind xmlns="DAV:"><prop>` +
		strings.Repeat(`<x xmlns="urn:y"/>`, 200) +
		`</prop></propfind>`
	_, err := ParsePropFind(strings.NewReader(big), 64)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestParsePropPatch(t *testing.T) {
	ops, err := ParsePropPatch(strings.NewReader(`<?xml version="1.0"?>
<D:propertyupdate xmlns:D="DAV:" xmlns:Z="urn:zap">
  <D:set><D:prop><Z:color>red</Z:color></D:prop></D:set>
  <D:remove><D:prop><Z:size/></D:prop></D:remove>
</D:propertyupdate>`), DefaultMaxBody)
	require.NoError(t, err)
	require.Len(t, ops, 2)

	assert.False(t, ops[0].Remove)
	require.Len(t, ops[0].Props, 1)
	assert.Equal(t, xml.Name{Space: "urn:zap", Local: "color"}, ops[0].Props[0].XMLName)
	assert.Contains(t, string(ops[0].Props[0].InnerXML), "red")

	assert.True(t, ops[1].Remove)
	assert.Equal(t, xml.Name{Space: "urn:zap", Local: "size"}, ops[1].Props[0].XMLName)

	// A remove carrying a value is malformed.
	_, err = ParsePropPatch(strings.NewReader(
		`<propertyupdate xmlns="DAV:"><remove><prop><a xmlns="urn:x">v</a></prop></remove></propertyupdate>`),
		DefaultMaxBody)
	assert.Error(t, err)

	// Unknown roots are rejected.
	_, err = ParsePropPatch(strings.NewReader(`<propfind xmlns="DAV:"><propname/></propfind>`), DefaultMaxBody)
	assert.Error(t, err)
}

func TestParseLockInfo(t *testing.T) {
	li, err := ParseLockInfo(strings.NewReader(`<?xml version="1.0"?>
<D:lockinfo xmlns:D="DAV:">
  <D:lockscope><D:exclusive/></D:lockscope>
  <D:locktype><D:write/></D:locktype>
  <D:owner><D:href>nobody</D:href></D:owner>
</D:lockinfo>`), DefaultMaxBody)
	require.NoError(t, err)
	assert.False(t, li.IsRefresh())
	assert.NotNil(t, li.Exclusive)
	assert.Nil(t, li.Shared)
	assert.Contains(t, li.Owner.InnerXML, "nobody")

	li, err = ParseLockInfo(strings.NewReader(""), DefaultMaxBody)
	require.NoError(t, err)
	assert.True(t, li.IsRefresh())

	// Shared scope parses.
	li, err = ParseLockInfo(strings.NewReader(
		`<lockinfo xmlns="DAV:"><lockscope><shared/></lockscope><locktype><write/></locktype></lockinfo>`),
		DefaultMaxBody)
	require.NoError(t, err)
	assert.NotNil(t, li.Shared)

	// Missing locktype is malformed.
	_, err = ParseLockInfo(strings.NewReader(
		`<lockinfo xmlns="DAV:"><lockscope><exclusive/></lockscope></lockinfo>`), DefaultMaxBody)
	assert.Error(t, err)
}

func TestMultiStatusWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	mw := NewMultiStatusWriter(rec)

	require.NoError(t, mw.Write(&Response{
		Href: "/a b",
		PropStats: []PropStat{
			{
				Status: 200,
				Props: []Property{
					{XMLName: xml.Name{Space: "DAV:", Local: "getcontentlength"}, InnerXML: []byte("2")},
					{XMLName: xml.Name{Space: "urn:zap", Local: "color"}, InnerXML: []byte("red")},
				},
			},
			{
				Status: 404,
				Props:  []Property{{XMLName: xml.Name{Space: "DAV:", Local: "missing"}}},
			},
		},
	}))
	require.NoError(t, mw.Write(&Response{Href: "/gone", Status: 423}))
	require.NoError(t, mw.Close())

	assert.Equal(t, StatusMulti, rec.Code)
	assert.Equal(t, "application/xml; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `<D:multistatus xmlns:D="DAV:">`)
	assert.Contains(t, body, `<D:href>/a%20b</D:href>`)
	assert.Contains(t, body, `<D:getcontentlength>2</D:getcontentlength>`)
	assert.Contains(t, body, `<color xmlns="urn:zap">red</color>`)
	assert.Contains(t, body, `<D:missing/>`)
	assert.Contains(t, body, `HTTP/1.1 404 Not Found`)
	assert.Contains(t, body, `<D:status>HTTP/1.1 423 Locked</D:status>`)
	assert.True(t, strings.HasSuffix(body, "</D:multistatus>"))

	// Streams decode as well-formed XML.
	var tree struct {
		XMLName  xml.Name `xml:"DAV: multistatus"`
		Response []struct {
			Href string `xml:"href"`
		} `xml:"response"`
	}
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &tree))
	assert.Len(t, tree.Response, 2)
}

func TestMultiStatusWriterEmpty(t *testing.T) {
	rec := httptest.NewRecorder()
	mw := NewMultiStatusWriter(rec)
	require.NoError(t, mw.Close())
	assert.False(t, mw.Started())
	assert.Equal(t, 200, rec.Code) // nothing written
}

func TestEscape(t *testing.T) {
	assert.Equal(t, "plain", Escape("plain"))
	assert.Equal(t, "a&amp;b", Escape("a&b"))
	assert.Equal(t, "&lt;tag&gt;", Escape("<tag>"))
}
