package aspect

import (
	"fmt"

	"github.com/unix1010/pants/types"
)

var (
	_ types.NodeAfterAspect = (*NodeDebug)(nil)
)

// NodeDebug prints every node completion.
type NodeDebug struct {
}

func (aspect *NodeDebug) Order() int {
	return 910
}

func (aspect *NodeDebug) New() types.Aspect {
	return &NodeDebug{}
}

func (aspect *NodeDebug) Type() string {
	return "nodeDebug"
}

func (aspect *NodeDebug) AfterNode(subject string, product string, state types.State) {
	fmt.Println("AfterNode:", subject, product, state)
}
