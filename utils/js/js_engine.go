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

package js

import (
	"context"
	"errors"
	"sync"

	"github.com/dop251/goja"

	"github.com/unix1010/pants/types"
)

const (
	GlobalKey = "global"
)

// GojaJsEngine hosts JavaScript rule functions. A single engine owns one VM;
// rule dispatch serializes on it.
type GojaJsEngine struct {
	config types.Config
	vm     *goja.Runtime
	mu     sync.Mutex
}

// NewGojaJsEngine compiles the script and installs the config's UDFs and
// global properties into the VM.
func NewGojaJsEngine(config types.Config, jsScript string) (*GojaJsEngine, error) {
	vm := goja.New()
	if err := vm.Set(GlobalKey, map[string]any(config.Properties)); err != nil {
		return nil, err
	}
	for name, udf := range config.Udf {
		if err := vm.Set(name, udf); err != nil {
			return nil, err
		}
	}
	if _, err := vm.RunString(jsScript); err != nil {
		return nil, err
	}
	return &GojaJsEngine{
		config: config,
		vm:     vm,
	}, nil
}

// Execute calls the named function with the given arguments and returns the
// exported result.
func (g *GojaJsEngine) Execute(ctx context.Context, funcName string, argumentList ...any) (out any, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	params := make([]goja.Value, len(argumentList))
	for i, v := range argumentList {
		params[i] = g.vm.ToValue(v)
	}
	f, ok := goja.AssertFunction(g.vm.Get(funcName))
	if !ok {
		return nil, errors.New(funcName + " is not a function")
	}
	res, err := f(goja.Undefined(), params...)
	if err != nil {
		return nil, err
	}
	return res.Export(), nil
}

func (g *GojaJsEngine) Stop() {
}
