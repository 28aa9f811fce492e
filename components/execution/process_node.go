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

// Package execution exposes the process-execution intrinsic. The engine
// never runs subprocesses itself; the intrinsic delegates to the
// ProcessExecutor hook supplied in the scheduler's config.
package execution

import (
	"context"
	"fmt"
	"reflect"

	"github.com/unix1010/pants/types"
	"github.com/unix1010/pants/utils/maps"
)

// Registry collects the execution intrinsic prototype.
var Registry = &types.SafeComponentSlice{}

func init() {
	Registry.Add(&ProcessNode{})
}

// ProcessNodeConfiguration supplies environment defaults merged under every
// request's env.
type ProcessNodeConfiguration struct {
	DefaultEnv map[string]string `json:"defaultEnv"`
}

// ProcessNode turns an ExecuteProcessRequest subject into an
// ExecuteProcessResult via the configured executor hook.
type ProcessNode struct {
	Config   ProcessNodeConfiguration
	executor types.ProcessExecutor
}

func (n *ProcessNode) New() types.IntrinsicNode {
	return &ProcessNode{}
}

func (n *ProcessNode) Init(config types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &n.Config); err != nil {
		return err
	}
	n.executor = config.ProcessExecutor
	return nil
}

func (n *ProcessNode) Subject() reflect.Type {
	return reflect.TypeOf(types.ExecuteProcessRequest{})
}

func (n *ProcessNode) Output() types.Constraint {
	return types.ConstraintForType(types.ExecuteProcessResult{})
}

func (n *ProcessNode) Run(ctx context.Context, ex types.Externs, subject types.Value) (types.Value, error) {
	req, ok := subject.Inner.(types.ExecuteProcessRequest)
	if !ok {
		return types.Value{}, fmt.Errorf("subject is %T, expected %T", subject.Inner, types.ExecuteProcessRequest{})
	}
	if n.executor == nil {
		return types.Value{}, types.ErrNoProcessExecutor
	}
	if len(n.Config.DefaultEnv) > 0 {
		merged := make(map[string]string, len(n.Config.DefaultEnv)+len(req.Env))
		for k, v := range n.Config.DefaultEnv {
			merged[k] = v
		}
		for k, v := range req.Env {
			merged[k] = v
		}
		req.Env = merged
	}
	result, err := n.executor(ctx, req)
	if err != nil {
		return types.Value{}, err
	}
	return ex.ToValue(result), nil
}
