package types

import (
	"sync"
)

// SafeComponentSlice collects intrinsic component prototypes registered from
// package init functions.
type SafeComponentSlice struct {
	components []IntrinsicNode
	sync.Mutex
}

// Add registers one or more intrinsic prototypes.
func (p *SafeComponentSlice) Add(nodes ...IntrinsicNode) {
	p.Lock()
	defer p.Unlock()
	p.components = append(p.components, nodes...)
}

// Components returns the registered prototypes.
func (p *SafeComponentSlice) Components() []IntrinsicNode {
	p.Lock()
	defer p.Unlock()
	return p.components
}
