/*
 * Copyright 2017 Pants project contributors (see CONTRIBUTORS.md).
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package glob translates shell-style glob patterns into regular
// expressions. The substitutions, in precedence order:
//
//	?     ->  .
//	.     ->  \.
//	**/   ->  (?:.*/)?
//	*     ->  [^/]*
//
// A trailing `/` is rewritten so both the directory itself and its contents
// match. A leading `/` anchors the pattern to the build root; without it the
// pattern may match at any directory depth.
package glob

import (
	"regexp"
	"strings"
)

// ToRegexp compiles a glob pattern into an anchored regular expression over
// build-root-relative paths.
func ToRegexp(pattern string) (*regexp.Regexp, error) {
	anchored := strings.HasPrefix(pattern, "/")
	pattern = strings.TrimPrefix(pattern, "/")

	dirAndContents := strings.HasSuffix(pattern, "/")
	pattern = strings.TrimSuffix(pattern, "/")

	var b strings.Builder
	if anchored {
		b.WriteString("^")
	} else {
		b.WriteString("^(?:.*/)?")
	}

	for i := 0; i < len(pattern); {
		switch {
		case pattern[i] == '?':
			b.WriteString(".")
			i++
		case pattern[i] == '.':
			b.WriteString(`\.`)
			i++
		case strings.HasPrefix(pattern[i:], "**/"):
			b.WriteString("(?:.*/)?")
			i += 3
		case pattern[i] == '*':
			b.WriteString("[^/]*")
			i++
		default:
			b.WriteByte(pattern[i])
			i++
		}
	}

	if dirAndContents {
		b.WriteString("(?:/.*)?")
	}
	b.WriteString("$")

	return regexp.Compile(b.String())
}

// LiteralPrefix returns the directory prefix of the pattern up to its first
// metacharacter, used to scope invalidation. Every match of the pattern
// anchored at the build root shares this prefix; an unanchored pattern can
// also match below other directories.
func LiteralPrefix(pattern string) string {
	pattern = strings.TrimPrefix(pattern, "/")
	end := strings.IndexAny(pattern, "*?[")
	if end < 0 {
		return pattern
	}
	cut := strings.LastIndex(pattern[:end], "/")
	if cut < 0 {
		return ""
	}
	return pattern[:cut]
}
