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

// Option is a function type that modifies the Config.
type Option func(*Config) error

// WithBuildRoot sets the directory Path subjects are relative to.
func WithBuildRoot(dir string) Option {
	return func(c *Config) error {
		c.BuildRoot = dir
		return nil
	}
}

// WithWorkDir sets Config.WorkDir, a scratch directory recorded for callers.
func WithWorkDir(dir string) Option {
	return func(c *Config) error {
		c.WorkDir = dir
		return nil
	}
}

// WithIgnorePatterns excludes glob patterns from file-system intrinsics.
func WithIgnorePatterns(patterns ...string) Option {
	return func(c *Config) error {
		c.IgnorePatterns = append(c.IgnorePatterns, patterns...)
		return nil
	}
}

// WithParallelism bounds the worker pool.
func WithParallelism(n int) Option {
	return func(c *Config) error {
		c.Parallelism = n
		return nil
	}
}

// WithFailFast stops a run at the first Throw.
func WithFailFast(v bool) Option {
	return func(c *Config) error {
		c.FailFast = v
		return nil
	}
}

// WithVisualizeDir writes `dot` files for the rule graph and per-run product
// graphs into dir.
func WithVisualizeDir(dir string) Option {
	return func(c *Config) error {
		c.VisualizeDir = dir
		return nil
	}
}

// WithLogger replaces the default logger.
func WithLogger(l Logger) Option {
	return func(c *Config) error {
		c.Logger = l
		return nil
	}
}

// WithProperties sets the global properties for scripted rules.
func WithProperties(p Properties) Option {
	return func(c *Config) error {
		c.Properties = p
		return nil
	}
}

// WithProcessExecutor installs the subprocess hook.
func WithProcessExecutor(e ProcessExecutor) Option {
	return func(c *Config) error {
		c.ProcessExecutor = e
		return nil
	}
}

// WithTypes registers host types for the ruleset DSL.
func WithTypes(zeros ...any) Option {
	return func(c *Config) error {
		for _, z := range zeros {
			c.RegisterType(z)
		}
		return nil
	}
}

// WithIncludeTraceOnError controls trace rendering in Throw errors.
func WithIncludeTraceOnError(v bool) Option {
	return func(c *Config) error {
		c.IncludeTraceOnError = v
		return nil
	}
}
