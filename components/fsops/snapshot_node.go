package fsops

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"

	"github.com/unix1010/pants/types"
	"github.com/unix1010/pants/utils/glob"
	"github.com/unix1010/pants/utils/maps"
)

// SnapshotNodeConfiguration extends the scheduler-wide ignore patterns for
// this node only.
type SnapshotNodeConfiguration struct {
	IgnorePatterns []string `json:"ignorePatterns"`
}

// SnapshotNode captures the tree matched by a PathGlobs subject as a
// content-addressed Snapshot: the matched stats in path order plus a
// fingerprint over every matched file's path and content.
type SnapshotNode struct {
	baseNode
	Config SnapshotNodeConfiguration
}

func (n *SnapshotNode) New() types.IntrinsicNode {
	return &SnapshotNode{}
}

func (n *SnapshotNode) Init(config types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &n.Config); err != nil {
		return err
	}
	return n.init(config, n.Config.IgnorePatterns)
}

func (n *SnapshotNode) Subject() reflect.Type {
	return reflect.TypeOf(types.PathGlobs{})
}

func (n *SnapshotNode) Output() types.Constraint {
	return types.ConstraintForType(types.Snapshot{})
}

func (n *SnapshotNode) Run(ctx context.Context, ex types.Externs, subject types.Value) (types.Value, error) {
	globs, ok := subject.Inner.(types.PathGlobs)
	if !ok {
		return types.Value{}, errSubjectType(subject.Inner, types.PathGlobs{})
	}

	include, err := compileAll(globs.Include)
	if err != nil {
		return types.Value{}, err
	}
	exclude, err := compileAll(globs.Exclude)
	if err != nil {
		return types.Value{}, err
	}

	var stats []types.Stat
	err = filepath.WalkDir(n.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(n.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if n.ignored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !matchAny(include, rel) || matchAny(exclude, rel) {
			return nil
		}
		switch {
		case d.Type()&os.ModeSymlink != 0:
			stats = append(stats, types.Link{Path: rel})
		case d.IsDir():
			stats = append(stats, types.Dir{Path: rel})
		default:
			stats = append(stats, types.File{Path: rel})
		}
		return nil
	})
	if err != nil {
		return types.Value{}, err
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].StatPath() < stats[j].StatPath()
	})

	fingerprint, err := n.fingerprint(stats)
	if err != nil {
		return types.Value{}, err
	}
	return ex.ToValue(types.Snapshot{
		Fingerprint: fingerprint,
		PathStats:   stats,
	}), nil
}

func (n *SnapshotNode) fingerprint(stats []types.Stat) (string, error) {
	h := sha256.New()
	for _, stat := range stats {
		io.WriteString(h, stat.StatPath())
		h.Write([]byte{0})
		if stat.StatTag() == types.StatTagFile {
			content, err := os.ReadFile(filepath.Join(n.root, filepath.FromSlash(stat.StatPath())))
			if err != nil {
				return "", err
			}
			h.Write(content)
			h.Write([]byte{0})
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		re, err := glob.ToRegexp(p)
		if err != nil {
			return nil, err
		}
		out[i] = re
	}
	return out, nil
}

func matchAny(res []*regexp.Regexp, p string) bool {
	for _, re := range res {
		if re.MatchString(p) {
			return true
		}
	}
	return false
}
