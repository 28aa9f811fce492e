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
	"io"
	"sort"

	"github.com/unix1010/pants/types"
)

// Ensuring RuleGraph implements the aspect-facing view.
var _ types.RuleGraphInfo = (*RuleGraph)(nil)

type satKey struct {
	subject types.TypeId
	product types.TypeConstraint
}

// RuleGraph proves, before any execution, that the registered rules can be
// satisfied. For each registered product it searches the known subject types
// (root subject types, intrinsic subject types, and the types selectors
// project to) for one with a rule chain whose selectors are all satisfiable;
// products with no such subject type surface as missing edges in a
// RulesetError. A product passes once any one subject type satisfies it;
// root subject types are not each checked against every product.
//
// Tie-breaking between candidate rules for one product:
//  1. a singleton rule wins over task rules,
//  2. an intrinsic rule wins over user rules for the same subject type,
//  3. a variant tag narrows the remaining task rules,
//  4. residual ambiguity is a static error.
type RuleGraph struct {
	idx *RuleIndex
	ex  *ExternContext

	memo map[satKey]bool
}

// NewRuleGraph builds the static graph over a sealed rule index.
func NewRuleGraph(idx *RuleIndex) *RuleGraph {
	return &RuleGraph{
		idx:  idx,
		ex:   idx.ex,
		memo: make(map[satKey]bool),
	}
}

// Satisfiable reports whether some rule chain can produce product for a
// subject of the given type.
func (g *RuleGraph) Satisfiable(subject types.TypeId, product types.TypeConstraint) bool {
	return g.satisfiable(subject, product, make(map[satKey]bool))
}

func (g *RuleGraph) satisfiable(subject types.TypeId, product types.TypeConstraint, visiting map[satKey]bool) bool {
	key := satKey{subject: subject, product: product}
	if done, ok := g.memo[key]; ok {
		return done
	}
	if visiting[key] {
		// A cycle is satisfiable if some member of it ever is; assume yes
		// while the chain that entered it is still being proven.
		return true
	}
	visiting[key] = true
	defer delete(visiting, key)

	ok := g.prove(subject, product, visiting)
	g.memo[key] = ok
	return ok
}

func (g *RuleGraph) prove(subject types.TypeId, product types.TypeConstraint, visiting map[satKey]bool) bool {
	if _, ok := g.idx.Singleton(product); ok {
		return true
	}
	// A subject that already satisfies the product is its own product.
	if g.ex.SatisfiedBy(product, subject) {
		return true
	}
	if _, ok := g.idx.Intrinsic(subject, product); ok {
		return true
	}
	for _, task := range g.idx.TasksFor(product) {
		if g.taskSatisfiable(subject, task, visiting) {
			return true
		}
	}
	return false
}

func (g *RuleGraph) taskSatisfiable(subject types.TypeId, task *types.TaskRule, visiting map[satKey]bool) bool {
	for _, sel := range task.Selectors {
		if !g.selectorSatisfiable(subject, sel, visiting) {
			return false
		}
	}
	return true
}

func (g *RuleGraph) selectorSatisfiable(subject types.TypeId, sel types.Selector, visiting map[satKey]bool) bool {
	switch s := sel.(type) {
	case types.Select:
		return g.satisfiable(subject, s.Product, visiting)
	case types.SelectVariant:
		return g.satisfiable(subject, s.Product, visiting)
	case types.SelectDependencies:
		if !g.satisfiable(subject, s.DepProduct, visiting) {
			return false
		}
		for _, ft := range s.FieldTypes {
			if !g.satisfiable(ft, s.Product, visiting) {
				return false
			}
		}
		return true
	case types.SelectTransitive:
		if !g.satisfiable(subject, s.DepProduct, visiting) {
			return false
		}
		for _, ft := range s.FieldTypes {
			if !g.satisfiable(ft, s.Product, visiting) {
				return false
			}
		}
		return true
	case types.SelectProjection:
		return g.satisfiable(subject, s.InputProduct, visiting) &&
			g.satisfiable(s.ProjectedSubject, s.Product, visiting)
	default:
		return false
	}
}

// subjectTypes is the universe of types a node's subject can take: the
// declared roots plus every field type and projected subject named by a
// selector.
func (g *RuleGraph) subjectTypes() []types.TypeId {
	seen := make(map[types.TypeId]struct{})
	var out []types.TypeId
	add := func(t types.TypeId) {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	for _, root := range g.idx.RootSubjectTypes() {
		add(root)
	}
	for key := range g.idx.intrinsics {
		add(key.subject)
	}
	for _, tasks := range g.idx.tasks {
		for _, task := range tasks {
			for _, sel := range task.Selectors {
				switch s := sel.(type) {
				case types.SelectDependencies:
					for _, ft := range s.FieldTypes {
						add(ft)
					}
				case types.SelectTransitive:
					for _, ft := range s.FieldTypes {
						add(ft)
					}
				case types.SelectProjection:
					add(s.ProjectedSubject)
				}
			}
		}
	}
	return out
}

// Validate proves every product reachable for at least one possible subject
// type and rejects ambiguous providers. It is fatal at scheduler
// construction.
func (g *RuleGraph) Validate() error {
	subjects := g.subjectTypes()
	var missing []types.MissingEdge

	for _, product := range g.idx.Products() {
		if err := g.checkAmbiguity(product); err != nil {
			return err
		}
		satisfiable := false
		for _, subject := range subjects {
			if g.Satisfiable(subject, product) {
				satisfiable = true
				break
			}
		}
		if !satisfiable && len(subjects) > 0 {
			missing = append(missing, g.missingEdgesFor(product)...)
		}
	}

	if len(missing) > 0 {
		return &types.RulesetError{Missing: missing}
	}
	return nil
}

// checkAmbiguity rejects products with several task providers that nothing
// can tell apart: no singleton, no variant tags, identical standing.
func (g *RuleGraph) checkAmbiguity(product types.TypeConstraint) error {
	if _, ok := g.idx.Singleton(product); ok {
		return nil
	}
	tasks := g.idx.TasksFor(product)
	if len(tasks) < 2 {
		return nil
	}
	variants := make(map[string]int)
	for _, task := range tasks {
		variants[task.Variant]++
	}
	if dup, ok := firstDuplicate(variants); ok {
		return &types.RulesetError{Missing: []types.MissingEdge{{
			Product: g.constraintStr(product),
			Rule:    fmt.Sprintf("%d providers with variant tag %q", variants[dup], dup),
		}}}
	}
	return nil
}

func firstDuplicate(counts map[string]int) (string, bool) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if counts[k] > 1 {
			return k, true
		}
	}
	return "", false
}

func (g *RuleGraph) missingEdgesFor(product types.TypeConstraint) []types.MissingEdge {
	var edges []types.MissingEdge
	for _, root := range g.idx.RootSubjectTypes() {
		for _, task := range g.idx.TasksFor(product) {
			for _, sel := range task.Selectors {
				if !g.selectorSatisfiable(root, sel, make(map[satKey]bool)) {
					edges = append(edges, types.MissingEdge{
						SubjectType: g.typeStr(root),
						Product:     g.constraintStr(sel.ProductConstraint()),
						Rule:        g.ruleStr(task),
					})
				}
			}
		}
	}
	if len(edges) == 0 {
		for _, root := range g.idx.RootSubjectTypes() {
			edges = append(edges, types.MissingEdge{
				SubjectType: g.typeStr(root),
				Product:     g.constraintStr(product),
				Rule:        "<no provider>",
			})
		}
	}
	return edges
}

// WriteDot emits the static rule graph as graphviz dot for debugging.
func (g *RuleGraph) WriteDot(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "digraph rules {"); err != nil {
		return err
	}
	fmt.Fprintln(w, "  node[colorscheme=set312];")
	for _, product := range g.idx.Products() {
		pname := g.constraintStr(product)
		if s, ok := g.idx.Singleton(product); ok {
			fmt.Fprintf(w, "  %q -> %q;\n", pname, "singleton: "+g.ex.ValToStr(s.Value))
		}
		for _, intrinsic := range g.idx.intrinsicsByProduct[product] {
			fmt.Fprintf(w, "  %q -> %q;\n", pname, "intrinsic for "+g.typeStr(intrinsic.Subject))
		}
		for _, task := range g.idx.TasksFor(product) {
			rname := g.ruleStr(task)
			fmt.Fprintf(w, "  %q -> %q;\n", pname, rname)
			for _, sel := range task.Selectors {
				fmt.Fprintf(w, "  %q -> %q;\n", rname, g.constraintStr(sel.ProductConstraint()))
			}
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}

func (g *RuleGraph) typeStr(t types.TypeId) string {
	if typ := g.ex.TypeForId(t); typ != nil {
		return typ.String()
	}
	return fmt.Sprintf("type#%d", t.Id)
}

func (g *RuleGraph) constraintStr(c types.TypeConstraint) string {
	return g.ex.IdToStr(c.Id)
}

func (g *RuleGraph) ruleStr(task *types.TaskRule) string {
	if r, ok := g.ex.RunnableFor(task.Func); ok {
		return r.Name()
	}
	return fmt.Sprintf("fn#%d", task.Func.Id)
}
