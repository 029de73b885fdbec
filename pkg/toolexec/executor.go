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

// Package toolexec executes a definitions.ToolDefinition against its
// declared parameters, dispatching to one of three sandboxed variants:
// shell (direct process spawn, no shell interpreter in the call chain),
// function (exact-match import allowlist, worker-pool dispatch), and
// http (SSRF-hardened client). No variant's failure terminates the
// caller - every failure surfaces as a *Error the phase runner can hand
// back to the agent as a tool-call failure.
package toolexec

import (
	"context"
	"fmt"

	"github.com/fractary/faber/pkg/definitions"
)

// Status is the outcome of a tool execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Result is the uniform return value of Execute across all variants.
type Result struct {
	Status     Status         `json:"status"`
	ExitCode   int            `json:"exit_code,omitempty"`
	Stdout     string         `json:"stdout,omitempty"`
	Stderr     string         `json:"stderr,omitempty"`
	StatusCode int            `json:"status_code,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       any            `json:"body,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
}

// Error wraps a tool execution failure. It never terminates the engine;
// the phase runner surfaces it to the agent as a tool-call failure.
type Error struct {
	Tool  string
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("tool %q: %s", e.Tool, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Executor dispatches a definitions.ToolDefinition to the handler for
// its declared Variant.
type Executor struct {
	shell    *ShellExecutor
	function *FunctionExecutor
	http     *HTTPExecutor
}

// New constructs an Executor with the given per-variant handlers. Any
// handler may be nil if that variant is never invoked; Execute returns
// a *Error if a definition names a variant with no configured handler.
func New(shell *ShellExecutor, function *FunctionExecutor, http *HTTPExecutor) *Executor {
	return &Executor{shell: shell, function: function, http: http}
}

// Execute validates params against def's declared parameter schema
// (required fields present, defaults applied, enum values enforced),
// then dispatches to the variant-specific handler.
func (e *Executor) Execute(ctx context.Context, def definitions.ToolDefinition, params map[string]any) (Result, error) {
	validated, err := validateParams(def, params)
	if err != nil {
		return Result{}, &Error{Tool: def.Name, Cause: err}
	}

	switch def.Variant {
	case definitions.VariantShell:
		if e.shell == nil {
			return Result{}, &Error{Tool: def.Name, Cause: fmt.Errorf("no shell executor configured")}
		}
		return e.shell.Execute(ctx, def, validated)
	case definitions.VariantFunction:
		if e.function == nil {
			return Result{}, &Error{Tool: def.Name, Cause: fmt.Errorf("no function executor configured")}
		}
		return e.function.Execute(ctx, def, validated)
	case definitions.VariantHTTP:
		if e.http == nil {
			return Result{}, &Error{Tool: def.Name, Cause: fmt.Errorf("no http executor configured")}
		}
		return e.http.Execute(ctx, def, validated)
	default:
		return Result{}, &Error{Tool: def.Name, Cause: fmt.Errorf("unknown variant %q", def.Variant)}
	}
}

// validateParams checks params against def.Parameters: required fields
// must be present (unless a default is declared), declared defaults are
// applied for absent optional fields, and enumerated values are enforced.
func validateParams(def definitions.ToolDefinition, params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}

	for name, spec := range def.Parameters {
		value, present := out[name]
		if !present {
			if spec.Default != nil {
				out[name] = spec.Default
				continue
			}
			if spec.Required {
				return nil, fmt.Errorf("missing required parameter %q", name)
			}
			continue
		}
		if len(spec.Enum) > 0 && !enumContains(spec.Enum, value) {
			return nil, fmt.Errorf("parameter %q: value %v not in allowed set %v", name, value, spec.Enum)
		}
	}
	return out, nil
}

func enumContains(enum []any, value any) bool {
	for _, e := range enum {
		if fmt.Sprintf("%v", e) == fmt.Sprintf("%v", value) {
			return true
		}
	}
	return false
}
