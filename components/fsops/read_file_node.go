package fsops

import (
	"context"
	"fmt"
	"os"
	"reflect"

	"github.com/unix1010/pants/types"
	"github.com/unix1010/pants/utils/maps"
)

func errSubjectType(got, want any) error {
	return fmt.Errorf("subject is %T, expected %T", got, want)
}

// ReadFileNodeConfiguration bounds the size of a readable file. Zero means
// unlimited.
type ReadFileNodeConfiguration struct {
	MaxSizeBytes int64 `json:"maxSizeBytes"`
}

// ReadFileNode reads the content of a File subject, producing FileContent.
type ReadFileNode struct {
	baseNode
	Config ReadFileNodeConfiguration
}

func (n *ReadFileNode) New() types.IntrinsicNode {
	return &ReadFileNode{}
}

func (n *ReadFileNode) Init(config types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &n.Config); err != nil {
		return err
	}
	return n.init(config, nil)
}

func (n *ReadFileNode) Subject() reflect.Type {
	return reflect.TypeOf(types.File{})
}

func (n *ReadFileNode) Output() types.Constraint {
	return types.ConstraintForType(types.FileContent{})
}

func (n *ReadFileNode) Run(ctx context.Context, ex types.Externs, subject types.Value) (types.Value, error) {
	file, ok := subject.Inner.(types.File)
	if !ok {
		return types.Value{}, errSubjectType(subject.Inner, types.File{})
	}
	absPath, rel, err := n.abs(file.Path)
	if err != nil {
		return types.Value{}, err
	}
	if n.Config.MaxSizeBytes > 0 {
		info, err := os.Stat(absPath)
		if err != nil {
			return types.Value{}, err
		}
		if info.Size() > n.Config.MaxSizeBytes {
			return types.Value{}, fmt.Errorf("file %s is %d bytes, over the %d byte limit", rel, info.Size(), n.Config.MaxSizeBytes)
		}
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return types.Value{}, err
	}
	return ex.ToValue(types.FileContent{Path: rel, Content: content}), nil
}
