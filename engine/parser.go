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

	"github.com/unix1010/pants/types"
	"github.com/unix1010/pants/utils/json"
)

// JsonParser decodes ruleset definitions from their JSON DSL form.
type JsonParser struct {
}

// DecodeRuleSet parses a ruleset definition.
func (p *JsonParser) DecodeRuleSet(def []byte) (types.RuleSetDef, error) {
	var out types.RuleSetDef
	err := json.Unmarshal(def, &out)
	return out, err
}

// EncodeRuleSet serializes a ruleset definition.
func (p *JsonParser) EncodeRuleSet(def any) ([]byte, error) {
	v, err := json.Marshal(def)
	if err != nil {
		return nil, err
	}
	return json.Format(v)
}

// RegisterRuleSet registers every rule of a decoded ruleset: scripted task
// rules compile to expr or goja runnables, singletons bind their JSON value.
// Product and field type names resolve through config.Types.
func RegisterRuleSet(tasks *Tasks, config types.Config, def types.RuleSetDef) error {
	for i, rule := range def.Rules {
		runnable, err := buildRunnable(config, def.Name, i, rule)
		if err != nil {
			return err
		}
		product, err := resolveType(config, rule.Product)
		if err != nil {
			return err
		}
		tasks.TaskBegin(runnable, types.Exactly{T: product})
		if rule.Variant != "" {
			tasks.TaskVariant(rule.Variant)
		}
		if rule.Cacheable != nil && !*rule.Cacheable {
			tasks.TaskUncacheable()
		}
		for _, sel := range rule.Selectors {
			if err := addSelector(tasks, config, sel); err != nil {
				return err
			}
		}
		tasks.TaskEnd()
	}
	for _, singleton := range def.Singletons {
		product, err := resolveType(config, singleton.Product)
		if err != nil {
			return err
		}
		tasks.SingletonAdd(singleton.Value, types.Exactly{T: product})
	}
	return nil
}

func buildRunnable(config types.Config, setName string, i int, rule *types.RuleDef) (types.Runnable, error) {
	name := fmt.Sprintf("%s/%s[%d]", setName, rule.Product, i)
	switch rule.Script.Type {
	case types.ScriptTypeExpr:
		return newExprRunnable(name, rule.Script.Source, config.Properties)
	case types.ScriptTypeJs:
		return newJsRunnable(config, name, rule.Script.Source, rule.Script.Function)
	default:
		return nil, fmt.Errorf("rule %s: unknown script type %q", name, rule.Script.Type)
	}
}

func addSelector(tasks *Tasks, config types.Config, sel types.SelectorDef) error {
	product, err := resolveConstraint(config, sel.Product)
	if err != nil {
		return err
	}
	switch sel.Kind {
	case types.KindSelect:
		tasks.AddSelect(product)
	case types.KindSelectVariant:
		tasks.AddSelectVariant(product, sel.VariantKey)
	case types.KindSelectDependencies:
		dep, err := resolveConstraint(config, sel.DepProduct)
		if err != nil {
			return err
		}
		fieldTypes, err := resolveZeros(config, sel.FieldTypes)
		if err != nil {
			return err
		}
		tasks.AddSelectDependencies(product, dep, sel.Field, fieldTypes...)
	case types.KindSelectTransitive:
		dep, err := resolveConstraint(config, sel.DepProduct)
		if err != nil {
			return err
		}
		fieldTypes, err := resolveZeros(config, sel.FieldTypes)
		if err != nil {
			return err
		}
		tasks.AddSelectTransitive(product, dep, sel.Field, fieldTypes...)
	case types.KindSelectProjection:
		input, err := resolveConstraint(config, sel.InputProduct)
		if err != nil {
			return err
		}
		projected, err := resolveType(config, sel.ProjectedSubject)
		if err != nil {
			return err
		}
		tasks.AddSelectProjection(product, reflect.New(projected).Elem().Interface(), sel.Field, input)
	default:
		return fmt.Errorf("unknown selector kind %q", sel.Kind)
	}
	return nil
}

func resolveType(config types.Config, name string) (reflect.Type, error) {
	t, ok := config.Types[name]
	if !ok {
		return nil, fmt.Errorf("type %q is not registered; see Config.RegisterType", name)
	}
	return t, nil
}

func resolveConstraint(config types.Config, name string) (types.Constraint, error) {
	t, err := resolveType(config, name)
	if err != nil {
		return nil, err
	}
	return types.Exactly{T: t}, nil
}

func resolveZeros(config types.Config, names []string) ([]any, error) {
	out := make([]any, len(names))
	for i, name := range names {
		t, err := resolveType(config, name)
		if err != nil {
			return nil, err
		}
		out[i] = reflect.New(t).Elem().Interface()
	}
	return out, nil
}
