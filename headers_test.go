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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDepth(t *testing.T) {
	assert.Equal(t, 0, parseDepth("0"))
	assert.Equal(t, 1, parseDepth("1"))
	assert.Equal(t, DepthInfinity, parseDepth("infinity"))
	assert.Equal(t, DepthInfinity, parseDepth("Infinity"))
	assert.Equal(t, invalidDepth, parseDepth("2"))
	assert.Equal(t, invalidDepth, parseDepth("-1"))
	assert.Equal(t, invalidDepth, parseDepth("bogus"))
}

func TestParseTimeout(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseTimeout(""))
	assert.Equal(t, time.Duration(0), parseTimeout("Infinite"))
	assert.Equal(t, 90*time.Second, parseTimeout("Second-90"))
	assert.Equal(t, 5*time.Second, parseTimeout("Infinite, Second-5"))
	assert.Equal(t, 7*time.Second, parseTimeout("garbage, Second-7"))
	assert.Equal(t, time.Duration(0), parseTimeout("Second-abc"))
}

func TestEtagListMatches(t *testing.T) {
	assert.True(t, etagListMatches("*", `"x"`, true))
	assert.False(t, etagListMatches("*", "", false))
	assert.True(t, etagListMatches(`"a", "b"`, `"b"`, true))
	assert.True(t, etagListMatches(`W/"a"`, `"a"`, true))
	assert.False(t, etagListMatches(`"a"`, `"b"`, true))
	assert.False(t, etagListMatches(`"a"`, `"a"`, false))
}

func TestParseContentRange(t *testing.T) {
	ur, err := parseContentRange("bytes 2-3/*")
	require.NoError(t, err)
	assert.Equal(t, int64(2), ur.start)
	assert.Equal(t, int64(3), ur.end)

	ur, err = parseContentRange("bytes 0-0/100")
	require.NoError(t, err)
	assert.Equal(t, int64(0), ur.start)
	assert.Equal(t, int64(0), ur.end)

	for _, bad := range []string{"", "2-3/*", "bytes x-3/*", "bytes 3-2/*", "bytes -1-2/*"} {
		_, err := parseContentRange(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseUpdateRange(t *testing.T) {
	ur, err := parseUpdateRange("append")
	require.NoError(t, err)
	assert.True(t, ur.atEOF)

	ur, err = parseUpdateRange("bytes=10-19")
	require.NoError(t, err)
	assert.Equal(t, int64(10), ur.start)
	assert.Equal(t, int64(19), ur.end)

	for _, bad := range []string{"", "bytes 10-19", "bytes=19-10", "prepend"} {
		_, err := parseUpdateRange(bad)
		assert.Error(t, err, bad)
	}
}
