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

// Package cond parses the WebDAV If header (RFC 4918 section 10.4) into
// condition objects that can be evaluated against resource state.
//
// The grammar:
//
//	If-Header   = "If:" ( 1*No-tag-list | 1*Tagged-list )
//	No-tag-list = List
//	Tagged-list = Resource-Tag 1*List
//	List        = "(" 1*Condition ")"
//	Condition   = ["Not"] ( State-token | "[" entity-tag "]" )
//
// Lists AND their conditions; the header is the OR of its lists, so the
// whole header forms a DNF condition.
package cond

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// Env is the environment conditions are evaluated in.
type Env interface {
	// ETag looks up the current ETag for the resource at the given
	// path, or "" if the resource does not exist.
	ETag(r string) string
	// Locked reports whether the lock identified by the given token
	// covers the given resource. Due to shared locks, several tokens
	// may cover the same resource.
	Locked(r, token string) bool
}

// Condition is a single negatable state-token or entity-tag condition.
type Condition struct {
	Not   bool
	Token string
	ETag  string
}

func parseCondition(l *lex) (Condition, error) {
	res := Condition{}
	tok := l.peek()
	if tok == Not {
		res.Not = true
		l.consume()
		tok = l.peek()
	}
	if tok == '[' {
		l.consume()
		et, err := l.consumeUntil(']')
		res.ETag = et
		if et == "" {
			return res, errors.New("cond: empty entity-tag")
		}
		return res, err
	}
	tt, err := l.consumeIf(func(r rune) bool {
		return r != ')' && r != ' '
	})
	if len(tt) >= 2 && tt[0] == '<' && tt[len(tt)-1] == '>' {
		tt = tt[1 : len(tt)-1]
	}
	res.Token = tt
	if tt == "" {
		return res, errors.New("cond: empty condition")
	}
	return res, err
}

// Eval determines the condition's state in the given environment for
// the given resource.
func (c *Condition) Eval(e Env, r string) bool {
	var res bool
	if c.Token != "" {
		res = e.Locked(r, c.Token)
	} else {
		res = etagMatch(e.ETag(r), c.ETag)
	}
	if c.Not {
		res = !res
	}
	return res
}

// etagMatch compares entity tags ignoring weak-validator prefixes. The
// stored and submitted forms may disagree on surrounding quotes.
func etagMatch(have, want string) bool {
	trim := func(s string) string {
		s = strings.TrimPrefix(s, "W/")
		return strings.Trim(s, `"`)
	}
	if have == "" {
		return false
	}
	return trim(have) == trim(want)
}

func (c *Condition) String() string {
	prefix := ""
	if c.Not {
		prefix = "Not "
	}
	if c.Token != "" {
		return prefix + "<" + c.Token + ">"
	}
	return prefix + "[" + c.ETag + "]"
}

// List is a set of conditions that are AND'ed together, optionally
// scoped to a tagged resource.
type List struct {
	Resource   string
	Conditions []Condition
}

func parseList(l *lex, resource string) (*List, error) {
	res := &List{Resource: resource}
	if tok := l.peek(); tok != '(' {
		return res, errors.Errorf("cond: expected ( got %q", l.tokenText(tok))
	}
	l.consume()
	tok := l.peek()
	for tok != ')' && tok != EOF {
		c, err := parseCondition(l)
		res.Conditions = append(res.Conditions, c)
		if err != nil {
			return res, errors.Wrap(err, "cond: bad condition")
		}
		tok = l.peek()
	}
	if tok != ')' {
		return res, errors.Errorf("cond: expected ) got %q", l.tokenText(tok))
	}
	if len(res.Conditions) == 0 {
		return res, errors.New("cond: empty list")
	}
	l.consume()
	return res, nil
}

// Eval determines the list's state in the given environment, with rdef
// as the resource for untagged lists.
func (l *List) Eval(e Env, rdef string) bool {
	if l.Resource != "" {
		rdef = l.Resource
	}
	for _, c := range l.Conditions {
		if !c.Eval(e, rdef) {
			return false
		}
	}
	return true
}

func (l *List) String() string {
	prefix := ""
	if l.Resource != "" {
		prefix = "<" + l.Resource + "> "
	}
	str := make([]string, len(l.Conditions))
	for i, c := range l.Conditions {
		str[i] = c.String()
	}
	return prefix + "(" + strings.Join(str, " ") + ")"
}

// IfTag represents a complete If header.
type IfTag struct {
	Lists []*List
}

// Eval determines the header's state in the given environment. It is
// short-circuited: the first true list wins.
func (t *IfTag) Eval(e Env, rdef string) bool {
	for _, l := range t.Lists {
		if l.Eval(e, rdef) {
			return true
		}
	}
	return false
}

// SubmittedTokens returns every state-token appearing anywhere in the
// header, including negated ones. These are the tokens the client has
// presented as lock authorization.
func (t *IfTag) SubmittedTokens() []string {
	var res []string
	for _, l := range t.Lists {
		for _, c := range l.Conditions {
			if c.Token != "" {
				res = append(res, c.Token)
			}
		}
	}
	return res
}

// SingleToken extracts the one state-token of a single-list, single-
// condition header, as used by lock refresh. The presence of more than
// one token, an entity-tag, or a negation counts as failure.
func (t *IfTag) SingleToken() (string, bool) {
	if len(t.Lists) != 1 {
		return "", false
	}
	l := t.Lists[0]
	if len(l.Conditions) != 1 {
		return "", false
	}
	c := l.Conditions[0]
	if c.ETag != "" || c.Not || c.Token == "" {
		return "", false
	}
	return c.Token, true
}

// RewriteHosts rewrites all tagged resource URIs to be paths relative
// to the given host, checking that their authority matches it.
func (t *IfTag) RewriteHosts(h string) error {
	for _, l := range t.Lists {
		if l.Resource == "" {
			continue
		}
		u, err := url.Parse(l.Resource)
		if err != nil {
			return errors.Wrap(err, "cond: bad resource tag")
		}
		if u.Host != "" && u.Host != h {
			return errors.Errorf("cond: resource tag host %q does not match %q", u.Host, h)
		}
		l.Resource = u.Path
	}
	return nil
}

func (t *IfTag) String() string {
	str := make([]string, len(t.Lists))
	for i, l := range t.Lists {
		str[i] = l.String()
	}
	return strings.Join(str, " ")
}

// ParseIfTag parses the If HTTP header value.
func ParseIfTag(s string) (*IfTag, error) {
	res := &IfTag{}
	l := newLex(s)
	for {
		tok := l.peek()
		if tok == EOF {
			break
		}
		// A Resource-Tag scopes every following list up to the
		// next tag.
		resource := ""
		if tok == '<' {
			l.consume()
			rt, err := l.consumeUntil('>')
			if err != nil || rt == "" {
				return res, errors.New("cond: unterminated resource tag")
			}
			resource = rt
		}
		list, err := parseList(l, resource)
		res.Lists = append(res.Lists, list)
		if err != nil {
			return res, errors.Wrap(err, "cond: bad list")
		}
		for l.peek() == '(' {
			list, err = parseList(l, resource)
			res.Lists = append(res.Lists, list)
			if err != nil {
				return res, errors.Wrap(err, "cond: bad list")
			}
		}
	}
	if len(res.Lists) == 0 {
		return res, errors.New("cond: empty If header")
	}
	return res, nil
}
