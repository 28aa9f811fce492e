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

package types

import (
	"context"
	"reflect"
)

// Rule can produce a product for a subject. The three implementations are
// TaskRule (a user function with selector inputs), SingletonRule (a fixed
// value, the only provider for its output), and IntrinsicRule (implemented
// inside the engine, selected by subject type).
type Rule interface {
	Output() TypeConstraint
}

// TaskRule pairs a rule function with the ordered selectors describing its
// inputs. Variant optionally tags the rule for variant-keyed disambiguation
// when several tasks provide the same product. Non-cacheable tasks are
// re-executed on every run instead of being memoized by node identity.
type TaskRule struct {
	Product   TypeConstraint
	Selectors []Selector
	Func      Function
	Variant   string
	Cacheable bool
}

func (r *TaskRule) Output() TypeConstraint { return r.Product }

// SingletonRule binds a fixed Value as the only provider for its output type.
type SingletonRule struct {
	Product TypeConstraint
	Value   Value
}

func (r *SingletonRule) Output() TypeConstraint { return r.Product }

// IntrinsicRule is implemented inside the engine and selected by
// (subject TypeId, product TypeConstraint). Configuration carries the
// node-specific settings decoded during Init.
type IntrinsicRule struct {
	Subject       TypeId
	Product       TypeConstraint
	Node          IntrinsicNode
	Configuration Configuration
}

func (r *IntrinsicRule) Output() TypeConstraint { return r.Product }

// IntrinsicNode is the component contract for intrinsics. Components register
// prototypes in a SafeComponentSlice; the engine instantiates one per
// scheduler with New, configures it with Init, and dispatches Run on the
// worker pool.
type IntrinsicNode interface {
	// New creates a fresh instance for a scheduler.
	New() IntrinsicNode
	// Init configures the instance. The Config carries the build root; the
	// Configuration map carries component-specific settings.
	Init(config Config, configuration Configuration) error
	// Subject is the concrete subject type this intrinsic is selected for.
	Subject() reflect.Type
	// Output is the product constraint this intrinsic provides.
	Output() Constraint
	// Run produces the product Value for the subject. Errors surface as
	// Throw states.
	Run(ctx context.Context, ex Externs, subject Value) (Value, error)
}
