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
	"github.com/unix1010/pants/types"
)

type intrinsicKey struct {
	subject types.TypeId
	product types.TypeConstraint
}

// RuleIndex catalogs registered rules keyed by produced product type, plus
// the root-allowed subject types. It is built once at scheduler creation and
// read-only afterwards.
type RuleIndex struct {
	ex *ExternContext

	tasks      map[types.TypeConstraint][]*types.TaskRule
	singletons map[types.TypeConstraint]*types.SingletonRule
	intrinsics map[intrinsicKey]*types.IntrinsicRule

	// intrinsicsByProduct supports rule-graph queries that only know the
	// product side.
	intrinsicsByProduct map[types.TypeConstraint][]*types.IntrinsicRule

	roots map[types.TypeId]struct{}
}

// NewRuleIndex builds the index for a sealed registration set.
func NewRuleIndex(t *Tasks) *RuleIndex {
	idx := &RuleIndex{
		ex:                  t.ex,
		tasks:               make(map[types.TypeConstraint][]*types.TaskRule),
		singletons:          make(map[types.TypeConstraint]*types.SingletonRule),
		intrinsics:          make(map[intrinsicKey]*types.IntrinsicRule),
		intrinsicsByProduct: make(map[types.TypeConstraint][]*types.IntrinsicRule),
		roots:               make(map[types.TypeId]struct{}),
	}
	for _, rule := range t.tasks {
		idx.tasks[rule.Product] = append(idx.tasks[rule.Product], rule)
	}
	for _, rule := range t.singletons {
		// Last registration wins, the singleton is the only provider.
		idx.singletons[rule.Product] = rule
	}
	for _, rule := range t.intrinsics {
		key := intrinsicKey{subject: rule.Subject, product: rule.Product}
		idx.intrinsics[key] = rule
		idx.intrinsicsByProduct[rule.Product] = append(idx.intrinsicsByProduct[rule.Product], rule)
	}
	for _, root := range t.roots {
		idx.roots[root] = struct{}{}
	}
	return idx
}

// Singleton returns the singleton provider for the product, if any.
func (idx *RuleIndex) Singleton(product types.TypeConstraint) (*types.SingletonRule, bool) {
	s, ok := idx.singletons[product]
	return s, ok
}

// Intrinsic returns the intrinsic selected by (subject type, product).
func (idx *RuleIndex) Intrinsic(subject types.TypeId, product types.TypeConstraint) (*types.IntrinsicRule, bool) {
	r, ok := idx.intrinsics[intrinsicKey{subject: subject, product: product}]
	return r, ok
}

// TasksFor returns the task rules producing the product.
func (idx *RuleIndex) TasksFor(product types.TypeConstraint) []*types.TaskRule {
	return idx.tasks[product]
}

// IsRootSubjectType reports whether subjects of the given type may seed an
// execution.
func (idx *RuleIndex) IsRootSubjectType(t types.TypeId) bool {
	_, ok := idx.roots[t]
	return ok
}

// RootSubjectTypes returns the root-allowed subject types.
func (idx *RuleIndex) RootSubjectTypes() []types.TypeId {
	out := make([]types.TypeId, 0, len(idx.roots))
	for t := range idx.roots {
		out = append(out, t)
	}
	return out
}

// Products returns every product constraint any rule can provide.
func (idx *RuleIndex) Products() []types.TypeConstraint {
	seen := make(map[types.TypeConstraint]struct{})
	var out []types.TypeConstraint
	add := func(p types.TypeConstraint) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	for p := range idx.singletons {
		add(p)
	}
	for p := range idx.tasks {
		add(p)
	}
	for p := range idx.intrinsicsByProduct {
		add(p)
	}
	return out
}
