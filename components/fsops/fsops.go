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

// Package fsops implements the file-system intrinsics: directory listing,
// file content reads, symlink resolution, and snapshotting. All paths are
// build-root-relative.
package fsops

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/unix1010/pants/types"
	"github.com/unix1010/pants/utils/glob"
)

// Registry collects the fs intrinsic prototypes for the engine's component
// registry.
var Registry = &types.SafeComponentSlice{}

func init() {
	Registry.Add(
		&ListingNode{},
		&ReadFileNode{},
		&ReadLinkNode{},
		&SnapshotNode{},
	)
}

// baseNode carries the settings shared by every fs intrinsic. extraIgnores
// come from the node's own Configuration and extend the scheduler-wide
// ignore patterns.
type baseNode struct {
	root   string
	ignore []*regexp.Regexp
}

func (b *baseNode) init(config types.Config, extraIgnores []string) error {
	if config.BuildRoot == "" {
		return fmt.Errorf("fs intrinsics require a build root; see WithBuildRoot")
	}
	b.root = config.BuildRoot
	b.ignore = b.ignore[:0]
	patterns := append(append([]string(nil), config.IgnorePatterns...), extraIgnores...)
	for _, pattern := range patterns {
		re, err := glob.ToRegexp(pattern)
		if err != nil {
			return fmt.Errorf("ignore pattern %q: %w", pattern, err)
		}
		b.ignore = append(b.ignore, re)
	}
	return nil
}

func (b *baseNode) ignored(relPath string) bool {
	for _, re := range b.ignore {
		if re.MatchString(relPath) {
			return true
		}
	}
	return false
}

// abs validates a build-root-relative path and joins it under the root.
func (b *baseNode) abs(relPath string) (string, string, error) {
	rel, err := types.ValidateRelPath(relPath)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(b.root, filepath.FromSlash(rel)), rel, nil
}
