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

package engine

import (
	"regexp"
	"strings"

	"github.com/unix1010/pants/types"
	"github.com/unix1010/pants/utils/glob"
)

// invalidator resolves a batch of changed paths against the path-keyed
// subjects in the product graph: Path, Dir, File, and Link subjects are
// covered when they equal a changed path or are a parent of one; PathGlobs
// subjects are covered when any changed path could match one of their
// patterns.
type invalidator struct {
	graph *Graph
}

func newInvalidator(graph *Graph) *invalidator {
	return &invalidator{graph: graph}
}

// InvalidatePaths dirties every node whose subject covers one of the paths,
// plus all transitive dependents, and returns the dirtied count. Unmatched
// paths are not an error: invalidation never fails.
func (inv *invalidator) InvalidatePaths(paths []string) int {
	if len(paths) == 0 {
		return 0
	}
	normalized := make([]string, 0, len(paths))
	for _, p := range paths {
		normalized = append(normalized, normalizePath(p))
	}
	globCache := make(map[string]*regexp.Regexp)

	return inv.graph.Invalidate(func(subject any) bool {
		switch s := subject.(type) {
		case types.Path:
			return coversAny(s.Path, normalized)
		case types.Dir:
			return coversAny(s.Path, normalized)
		case types.File:
			return coversAny(s.Path, normalized)
		case types.Link:
			return coversAny(s.Path, normalized)
		case types.PathGlobs:
			return globsCoverAny(s, normalized, globCache)
		default:
			return false
		}
	})
}

func normalizePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "." {
		return ""
	}
	return p
}

// covers reports whether subjectPath equals path or is one of its parent
// directories. The empty subject path is the build root and covers
// everything.
func covers(subjectPath, path string) bool {
	subjectPath = normalizePath(subjectPath)
	if subjectPath == path {
		return true
	}
	if subjectPath == "" {
		return true
	}
	return strings.HasPrefix(path, subjectPath+"/")
}

func coversAny(subjectPath string, paths []string) bool {
	for _, p := range paths {
		if covers(subjectPath, p) {
			return true
		}
	}
	return false
}

// globsCoverAny reports whether any changed path could match the subject's
// include patterns, either by the compiled pattern itself or by falling
// under the pattern's literal prefix.
func globsCoverAny(subject types.PathGlobs, paths []string, cache map[string]*regexp.Regexp) bool {
	for _, pattern := range subject.Include {
		re, ok := cache[pattern]
		if !ok {
			compiled, err := glob.ToRegexp(pattern)
			if err != nil {
				// An uncompilable pattern is treated as covering
				// everything rather than silently missing changes.
				compiled = nil
			}
			cache[pattern] = compiled
			re = compiled
		}
		for _, p := range paths {
			if re == nil || re.MatchString(p) || covers(glob.LiteralPrefix(pattern), p) {
				return true
			}
		}
	}
	return false
}
