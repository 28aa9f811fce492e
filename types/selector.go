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

// SelectorKind names a selector variant, as used in the ruleset DSL.
type SelectorKind string

const (
	KindSelect             SelectorKind = "select"
	KindSelectVariant      SelectorKind = "selectVariant"
	KindSelectDependencies SelectorKind = "selectDependencies"
	KindSelectTransitive   SelectorKind = "selectTransitive"
	KindSelectProjection   SelectorKind = "selectProjection"
)

// Selector declares one input of a rule. The engine resolves each selector to
// a Value by issuing sub-requests; selector order determines both edge order
// and the argument order of the rule function.
type Selector interface {
	Kind() SelectorKind
	// ProductConstraint is the product this selector ultimately delivers.
	ProductConstraint() TypeConstraint
}

// Select requests the product for the current subject.
type Select struct {
	Product TypeConstraint
}

func (Select) Kind() SelectorKind { return KindSelect }

func (s Select) ProductConstraint() TypeConstraint { return s.Product }

// SelectVariant requests the product for the current subject when the
// subject's variants contain VariantKey; otherwise the candidate noops. Rule
// choice is narrowed by every variant value of the subject, not only by the
// value under VariantKey.
type SelectVariant struct {
	Product    TypeConstraint
	VariantKey string
}

func (SelectVariant) Kind() SelectorKind { return KindSelectVariant }

func (s SelectVariant) ProductConstraint() TypeConstraint { return s.Product }

// SelectDependencies first obtains DepProduct for the subject, projects its
// Field (each member's type must be in FieldTypes), and requests Product for
// each projected value. The result is the list of produced values in
// declaration order.
type SelectDependencies struct {
	Product    TypeConstraint
	DepProduct TypeConstraint
	Field      string
	FieldTypes []TypeId
}

func (SelectDependencies) Kind() SelectorKind { return KindSelectDependencies }

func (s SelectDependencies) ProductConstraint() TypeConstraint { return s.Product }

// SelectTransitive is SelectDependencies followed recursively: the Field of
// each produced Product yields further subjects until the closure is
// exhausted. Results are topologically ordered with producers preceding their
// consumers.
type SelectTransitive struct {
	Product    TypeConstraint
	DepProduct TypeConstraint
	Field      string
	FieldTypes []TypeId
}

func (SelectTransitive) Kind() SelectorKind { return KindSelectTransitive }

func (s SelectTransitive) ProductConstraint() TypeConstraint { return s.Product }

// SelectProjection obtains InputProduct for the subject, projects its Field
// as a new subject of type ProjectedSubject, and requests Product for that
// subject.
type SelectProjection struct {
	Product          TypeConstraint
	ProjectedSubject TypeId
	Field            string
	InputProduct     TypeConstraint
}

func (SelectProjection) Kind() SelectorKind { return KindSelectProjection }

func (s SelectProjection) ProductConstraint() TypeConstraint { return s.Product }
