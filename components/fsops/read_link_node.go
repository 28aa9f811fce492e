package fsops

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/unix1010/pants/types"
	"github.com/unix1010/pants/utils/maps"
)

// ReadLinkNodeConfiguration bounds how many chained symlinks are followed.
// Zero or one resolves a single hop.
type ReadLinkNodeConfiguration struct {
	MaxDepth int `json:"maxDepth"`
}

// ReadLinkNode resolves a Link subject to its target, producing a ReadLink
// with a build-root-relative target path. Targets escaping the build root
// are an error.
type ReadLinkNode struct {
	baseNode
	Config ReadLinkNodeConfiguration
}

func (n *ReadLinkNode) New() types.IntrinsicNode {
	return &ReadLinkNode{}
}

func (n *ReadLinkNode) Init(config types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &n.Config); err != nil {
		return err
	}
	return n.init(config, nil)
}

func (n *ReadLinkNode) Subject() reflect.Type {
	return reflect.TypeOf(types.Link{})
}

func (n *ReadLinkNode) Output() types.Constraint {
	return types.ConstraintForType(types.ReadLink{})
}

func (n *ReadLinkNode) Run(ctx context.Context, ex types.Externs, subject types.Value) (types.Value, error) {
	link, ok := subject.Inner.(types.Link)
	if !ok {
		return types.Value{}, errSubjectType(subject.Inner, types.Link{})
	}
	_, rel, err := n.abs(link.Path)
	if err != nil {
		return types.Value{}, err
	}

	depth := n.Config.MaxDepth
	if depth < 1 {
		depth = 1
	}
	resolved, err := n.resolveOnce(rel)
	if err != nil {
		return types.Value{}, err
	}
	for hop := 1; hop < depth; hop++ {
		info, err := os.Lstat(filepath.Join(n.root, filepath.FromSlash(resolved)))
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			break
		}
		resolved, err = n.resolveOnce(resolved)
		if err != nil {
			return types.Value{}, err
		}
	}

	return ex.ToValue(types.ReadLink{
		Symlink: types.Link{Path: rel},
		Target:  resolved,
	}), nil
}

// resolveOnce reads one symlink hop and normalizes the target to a
// build-root-relative path. A relative target resolves against the link's
// directory.
func (n *ReadLinkNode) resolveOnce(rel string) (string, error) {
	target, err := os.Readlink(filepath.Join(n.root, filepath.FromSlash(rel)))
	if err != nil {
		return "", err
	}

	var resolved string
	if filepath.IsAbs(target) {
		resolved, err = filepath.Rel(n.root, target)
		if err != nil {
			return "", err
		}
		resolved = filepath.ToSlash(resolved)
	} else {
		resolved = path.Join(path.Dir(rel), filepath.ToSlash(target))
	}
	resolved = path.Clean(resolved)
	if resolved == ".." || strings.HasPrefix(resolved, "../") {
		return "", fmt.Errorf("link %s escapes the build root: %s", rel, target)
	}
	return resolved, nil
}
