package fsops

import (
	"context"
	"os"
	"path"
	"reflect"
	"sort"

	"github.com/unix1010/pants/types"
	"github.com/unix1010/pants/utils/maps"
)

// ListingNodeConfiguration extends the scheduler-wide ignore patterns for
// this node only.
type ListingNodeConfiguration struct {
	IgnorePatterns []string `json:"ignorePatterns"`
}

// ListingNode lists a directory's direct children for a Dir subject,
// producing a DirectoryListing in path order.
type ListingNode struct {
	baseNode
	Config ListingNodeConfiguration
}

func (n *ListingNode) New() types.IntrinsicNode {
	return &ListingNode{}
}

func (n *ListingNode) Init(config types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &n.Config); err != nil {
		return err
	}
	return n.init(config, n.Config.IgnorePatterns)
}

func (n *ListingNode) Subject() reflect.Type {
	return reflect.TypeOf(types.Dir{})
}

func (n *ListingNode) Output() types.Constraint {
	return types.ConstraintForType(types.DirectoryListing{})
}

func (n *ListingNode) Run(ctx context.Context, ex types.Externs, subject types.Value) (types.Value, error) {
	dir, ok := subject.Inner.(types.Dir)
	if !ok {
		return types.Value{}, types.NewEngineError(ex.ValToStr(subject), "DirectoryListing", errSubjectType(subject.Inner, types.Dir{}))
	}
	absDir, rel, err := n.abs(dir.Path)
	if err != nil {
		return types.Value{}, err
	}
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return types.Value{}, err
	}

	stats := make([]types.Stat, 0, len(entries))
	for _, entry := range entries {
		childRel := path.Join(rel, entry.Name())
		if n.ignored(childRel) {
			continue
		}
		switch {
		case entry.Type()&os.ModeSymlink != 0:
			stats = append(stats, types.Link{Path: childRel})
		case entry.IsDir():
			stats = append(stats, types.Dir{Path: childRel})
		default:
			stats = append(stats, types.File{Path: childRel})
		}
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].StatPath() < stats[j].StatPath()
	})

	return ex.ToValue(types.DirectoryListing{
		Directory:    types.Dir{Path: rel},
		Dependencies: stats,
	}), nil
}
