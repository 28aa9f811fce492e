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
	"fmt"
	"reflect"
	"sync"

	"github.com/unix1010/pants/components/execution"
	"github.com/unix1010/pants/components/fsops"
	"github.com/unix1010/pants/types"
)

// Registry is the default registry for intrinsic components.
var Registry = new(IntrinsicRegistry)

// init registers the built-in intrinsics to the default registry.
func init() {
	var components []types.IntrinsicNode
	components = append(components, fsops.Registry.Components()...)
	components = append(components, execution.Registry.Components()...)

	for _, node := range components {
		_ = Registry.Register(node)
	}
}

// IntrinsicRegistry is a registry of intrinsic components keyed by subject
// type.
type IntrinsicRegistry struct {
	components map[reflect.Type]types.IntrinsicNode
	sync.RWMutex
}

// Register adds an intrinsic prototype to the registry.
func (r *IntrinsicRegistry) Register(node types.IntrinsicNode) error {
	r.Lock()
	defer r.Unlock()
	if r.components == nil {
		r.components = make(map[reflect.Type]types.IntrinsicNode)
	}
	if _, ok := r.components[node.Subject()]; ok {
		return fmt.Errorf("an intrinsic already exists for subject type %s", node.Subject())
	}
	r.components[node.Subject()] = node
	return nil
}

// Unregister removes an intrinsic by its subject type.
func (r *IntrinsicRegistry) Unregister(subject reflect.Type) error {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.components[subject]; !ok {
		return fmt.Errorf("no intrinsic registered for subject type %s", subject)
	}
	delete(r.components, subject)
	return nil
}

// Components returns the registered prototypes.
func (r *IntrinsicRegistry) Components() []types.IntrinsicNode {
	r.RLock()
	defer r.RUnlock()
	out := make([]types.IntrinsicNode, 0, len(r.components))
	for _, node := range r.components {
		out = append(out, node)
	}
	return out
}

// RegisterIntrinsics adds every intrinsic from the default registry to a
// registration set. Schedulers that request snapshots or file content need
// this plus a configured build root.
func RegisterIntrinsics(tasks *Tasks) {
	for _, node := range Registry.Components() {
		tasks.IntrinsicAdd(node)
	}
}
