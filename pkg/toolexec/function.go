// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package toolexec

import (
	"context"
	"fmt"
	"time"

	"github.com/fractary/faber/pkg/definitions"
	"github.com/fractary/faber/pkg/registry"
)

// Func is an in-process function a function-variant tool dispatches to.
// A non-map return value is wrapped as {"result": value} in Result.Output.
type Func func(ctx context.Context, params map[string]any) (any, error)

const defaultFunctionTimeout = 10 * time.Second

// FunctionExecutor dispatches function-variant tools to Go functions
// registered under an exact "module.function" key, held in the same
// generic registry.BaseRegistry[T] used for agent/tool definitions (C1).
// Registration is exact-match only - there
// is no prefix or wildcard matching - so a definition naming an
// unregistered function fails closed rather than silently resolving to
// some other symbol. Calls run on a bounded worker pool so a slow or
// blocking function can never starve the engine's own goroutine.
type FunctionExecutor struct {
	registered *registry.BaseRegistry[Func]
	work       chan func()
}

// NewFunctionExecutor constructs a FunctionExecutor with poolSize worker
// goroutines draining a shared dispatch queue.
func NewFunctionExecutor(poolSize int) *FunctionExecutor {
	if poolSize < 1 {
		poolSize = 1
	}
	fe := &FunctionExecutor{
		registered: registry.NewBaseRegistry[Func](),
		work:       make(chan func()),
	}
	for i := 0; i < poolSize; i++ {
		go fe.worker()
	}
	return fe
}

func (fe *FunctionExecutor) worker() {
	for job := range fe.work {
		job()
	}
}

// Register binds module.function to fn. Calling Register twice for the
// same key overwrites the prior binding.
func (fe *FunctionExecutor) Register(module, function string, fn Func) {
	fe.registered.Put(importKey(module, function), fn)
}

func importKey(module, function string) string {
	return module + "." + function
}

// Execute looks up def.Function.Module/.Function by exact key and
// dispatches the call onto the worker pool, bounding it by
// def.Function.TimeoutSecs (or defaultFunctionTimeout).
func (fe *FunctionExecutor) Execute(ctx context.Context, def definitions.ToolDefinition, params map[string]any) (Result, error) {
	spec := def.Function
	if spec == nil {
		return Result{}, &Error{Tool: def.Name, Cause: fmt.Errorf("function variant missing spec")}
	}

	fn, ok := fe.registered.Get(importKey(spec.Module, spec.Function))
	if !ok {
		return Result{}, &Error{Tool: def.Name, Cause: fmt.Errorf("function %q.%q is not in the import allowlist", spec.Module, spec.Function)}
	}

	timeout := defaultFunctionTimeout
	if spec.TimeoutSecs > 0 {
		timeout = time.Duration(spec.TimeoutSecs) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type callResult struct {
		value any
		err   error
	}
	done := make(chan callResult, 1)

	fe.work <- func() {
		v, err := fn(runCtx, params)
		done <- callResult{value: v, err: err}
	}

	select {
	case <-runCtx.Done():
		return Result{}, &Error{Tool: def.Name, Cause: fmt.Errorf("function call exceeded %s timeout", timeout)}
	case r := <-done:
		if r.err != nil {
			return Result{Status: StatusFailure}, &Error{Tool: def.Name, Cause: r.err}
		}
		output, ok := r.value.(map[string]any)
		if !ok {
			output = map[string]any{"result": r.value}
		}
		return Result{Status: StatusSuccess, Output: output}, nil
	}
}
