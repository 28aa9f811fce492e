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

// Tasks accumulates rule registrations before a scheduler is created. The
// begin/add-select/end protocol mirrors the registration sequence rules
// arrive in: TaskBegin opens a task rule, AddSelect* append its selectors in
// declaration order, TaskEnd seals it.
type Tasks struct {
	ex *ExternContext

	tasks      []*types.TaskRule
	singletons []*types.SingletonRule
	intrinsics []*types.IntrinsicRule
	roots      []types.TypeId

	// open is the task under construction between TaskBegin and TaskEnd.
	open *types.TaskRule
}

// NewTasks returns an empty registration set with a fresh interning store.
// The scheduler created from it adopts the same store.
func NewTasks() *Tasks {
	return &Tasks{ex: NewExternContext()}
}

// Externs exposes the interning store backing this registration set.
func (t *Tasks) Externs() *ExternContext {
	return t.ex
}

// TaskBegin opens a task rule producing output via the given function.
func (t *Tasks) TaskBegin(fn types.Runnable, output types.Constraint) {
	if t.open != nil {
		panic("task_begin called with a task already open")
	}
	t.open = &types.TaskRule{
		Product:   t.ex.ConstraintFor(output),
		Func:      t.ex.FunctionFor(fn),
		Cacheable: true,
	}
}

// TaskVariant tags the open task with a variant value for variant-keyed
// disambiguation.
func (t *Tasks) TaskVariant(variant string) {
	t.mustOpen().Variant = variant
}

// TaskUncacheable marks the open task for re-execution on every run.
func (t *Tasks) TaskUncacheable() {
	t.mustOpen().Cacheable = false
}

// AddSelect appends a Select selector to the open task.
func (t *Tasks) AddSelect(product types.Constraint) {
	open := t.mustOpen()
	open.Selectors = append(open.Selectors, types.Select{
		Product: t.ex.ConstraintFor(product),
	})
}

// AddSelectVariant appends a SelectVariant selector to the open task.
func (t *Tasks) AddSelectVariant(product types.Constraint, variantKey string) {
	open := t.mustOpen()
	open.Selectors = append(open.Selectors, types.SelectVariant{
		Product:    t.ex.ConstraintFor(product),
		VariantKey: variantKey,
	})
}

// AddSelectDependencies appends a SelectDependencies selector. fieldTypes
// are zero values of the admissible member types.
func (t *Tasks) AddSelectDependencies(product, depProduct types.Constraint, field string, fieldTypes ...any) {
	open := t.mustOpen()
	open.Selectors = append(open.Selectors, types.SelectDependencies{
		Product:    t.ex.ConstraintFor(product),
		DepProduct: t.ex.ConstraintFor(depProduct),
		Field:      field,
		FieldTypes: t.typeIds(fieldTypes),
	})
}

// AddSelectTransitive appends a SelectTransitive selector.
func (t *Tasks) AddSelectTransitive(product, depProduct types.Constraint, field string, fieldTypes ...any) {
	open := t.mustOpen()
	open.Selectors = append(open.Selectors, types.SelectTransitive{
		Product:    t.ex.ConstraintFor(product),
		DepProduct: t.ex.ConstraintFor(depProduct),
		Field:      field,
		FieldTypes: t.typeIds(fieldTypes),
	})
}

// AddSelectProjection appends a SelectProjection selector. projectedSubject
// is a zero value of the new subject type.
func (t *Tasks) AddSelectProjection(product types.Constraint, projectedSubject any, field string, inputProduct types.Constraint) {
	open := t.mustOpen()
	open.Selectors = append(open.Selectors, types.SelectProjection{
		Product:          t.ex.ConstraintFor(product),
		ProjectedSubject: t.ex.TypeIdOf(projectedSubject),
		Field:            field,
		InputProduct:     t.ex.ConstraintFor(inputProduct),
	})
}

// TaskEnd seals the open task.
func (t *Tasks) TaskEnd() {
	t.tasks = append(t.tasks, t.mustOpen())
	t.open = nil
}

// SingletonAdd binds value as the only provider for output.
func (t *Tasks) SingletonAdd(value any, output types.Constraint) {
	t.singletons = append(t.singletons, &types.SingletonRule{
		Product: t.ex.ConstraintFor(output),
		Value:   t.ex.ToValue(value),
	})
}

// IntrinsicAdd registers an intrinsic prototype, selected by
// (subject type, product constraint).
func (t *Tasks) IntrinsicAdd(node types.IntrinsicNode) {
	t.IntrinsicAddConfigured(node, nil)
}

// IntrinsicAddConfigured registers an intrinsic prototype with a
// node-specific Configuration, decoded by the node's Init at scheduler
// construction.
func (t *Tasks) IntrinsicAddConfigured(node types.IntrinsicNode, configuration types.Configuration) {
	t.intrinsics = append(t.intrinsics, &types.IntrinsicRule{
		Subject:       types.TypeId{Id: t.ex.Put(node.Subject())},
		Product:       t.ex.ConstraintFor(node.Output()),
		Node:          node,
		Configuration: configuration,
	})
}

// AddRootSubjectType permits subjects of the given zero value's type as
// execution roots.
func (t *Tasks) AddRootSubjectType(zero any) {
	t.roots = append(t.roots, t.ex.TypeIdOf(zero))
}

func (t *Tasks) typeIds(zeros []any) []types.TypeId {
	out := make([]types.TypeId, len(zeros))
	for i, z := range zeros {
		out[i] = t.ex.TypeIdOf(z)
	}
	return out
}

func (t *Tasks) mustOpen() *types.TaskRule {
	if t.open == nil {
		panic("no task is open; call TaskBegin first")
	}
	return t.open
}
