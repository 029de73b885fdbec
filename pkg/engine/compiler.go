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

package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fractary/faber/pkg/definitions"
	"github.com/fractary/faber/pkg/workflowstate"
)

// WorkflowDocument is the YAML shape of a user-supplied custom workflow:
// a named set of phases plus the `models`/`config` variable context their
// `$models.<name>`, `$config.<key>`, and `$<phase>.<output>` references
// resolve against. Compile turns this into the same *Workflow graph type
// Builtin produces.
type WorkflowDocument struct {
	Models map[string]string `yaml:"models"`
	Config map[string]any    `yaml:"config"`
	Phases []PhaseDocument   `yaml:"phases"`
}

// PhaseDocument is one phase entry in a WorkflowDocument.
type PhaseDocument struct {
	Name  string `yaml:"name"`
	Agent string `yaml:"agent"`
	// Model is a `$models.<name>` reference, or empty to use the agent
	// definition's own selector unchanged.
	Model string `yaml:"model,omitempty"`
	// Task may reference `$config.<key>` substrings, substituted at
	// compile time.
	Task string `yaml:"task"`
	// Inputs are `$<phase>.<output>` dot-path references resolved at
	// runtime against prior phases' structured output (see pkg/phase's
	// resolveInput) - validated here only for phase-name existence and
	// declaration order, since the output itself doesn't exist yet.
	Inputs []string `yaml:"inputs,omitempty"`

	HumanApproval bool `yaml:"human_approval,omitempty"`
	// OnFailure names the phase a failure of this phase retries into, or
	// the literal "fail" for no retry (the zero value also means no retry).
	OnFailure  string `yaml:"on_failure,omitempty"`
	MaxRetries int    `yaml:"max_retries,omitempty"`
}

// modelRefPattern matches a bare `$models.<name>` reference.
var modelRefPattern = regexp.MustCompile(`^\$models\.([A-Za-z0-9_-]+)$`)

// configRefPattern matches a `$config.<key>` substring anywhere in text.
var configRefPattern = regexp.MustCompile(`\$config\.([A-Za-z0-9_.-]+)`)

// phaseRefPattern matches a `$<phase>.<field>[.<nested>...]` reference.
var phaseRefPattern = regexp.MustCompile(`^\$([A-Za-z0-9_-]+)\.(.+)$`)

// CompileError reports a single unresolved or malformed reference found
// while compiling a WorkflowDocument. Per spec.md §4.8, every such error is
// surfaced to the caller before any phase runs.
type CompileError struct {
	Phase  string
	Detail string
}

func (e *CompileError) Error() string {
	if e.Phase == "" {
		return fmt.Sprintf("workflow compile: %s", e.Detail)
	}
	return fmt.Sprintf("workflow compile: phase %q: %s", e.Phase, e.Detail)
}

// Compile turns a WorkflowDocument into a Workflow graph, resolving every
// `$models.*` / `$config.*` / `$<phase>.*` reference and failing with a
// *CompileError on the first one that does not resolve. No phase runs
// during compilation - this is a pure, side-effect-free pass.
func Compile(doc WorkflowDocument) (*Workflow, error) {
	if len(doc.Phases) == 0 {
		return nil, &CompileError{Detail: "workflow document declares no phases"}
	}

	declared := make(map[string]bool, len(doc.Phases))
	order := make([]workflowstate.Phase, 0, len(doc.Phases))
	phases := make(map[workflowstate.Phase]PhaseSpec, len(doc.Phases))

	for i, pd := range doc.Phases {
		if pd.Name == "" {
			return nil, &CompileError{Detail: fmt.Sprintf("phase at index %d has no name", i)}
		}
		if declared[pd.Name] {
			return nil, &CompileError{Phase: pd.Name, Detail: "duplicate phase name"}
		}
		if pd.Agent == "" {
			return nil, &CompileError{Phase: pd.Name, Detail: "no agent specified"}
		}
		declared[pd.Name] = true
		order = append(order, workflowstate.Phase(pd.Name))
	}

	for i, pd := range doc.Phases {
		spec, err := compilePhase(pd, doc, declared, i)
		if err != nil {
			return nil, err
		}
		phases[workflowstate.Phase(pd.Name)] = spec
	}

	// Wire Transition: each phase advances to the next declared phase in
	// order; the last phase ends the workflow. A phase whose OnFailure
	// targets an earlier phase retries there instead, per RetryTarget.
	for i, pd := range doc.Phases {
		name := workflowstate.Phase(pd.Name)
		spec := phases[name]
		if i == len(doc.Phases)-1 {
			spec.Transition = terminal()
		} else {
			spec.Transition = sequential(workflowstate.Phase(doc.Phases[i+1].Name))
		}
		phases[name] = spec
	}

	return &Workflow{
		Start:  workflowstate.Phase(doc.Phases[0].Name),
		Phases: phases,
		Order:  order,
	}, nil
}

func compilePhase(pd PhaseDocument, doc WorkflowDocument, declared map[string]bool, index int) (PhaseSpec, error) {
	task, err := resolveConfigRefs(pd.Task, doc.Config)
	if err != nil {
		return PhaseSpec{}, &CompileError{Phase: pd.Name, Detail: err.Error()}
	}

	var modelOverride *definitions.LLMSelector
	if pd.Model != "" {
		sel, err := resolveModelRef(pd.Model, doc.Models)
		if err != nil {
			return PhaseSpec{}, &CompileError{Phase: pd.Name, Detail: err.Error()}
		}
		modelOverride = sel
	}

	for _, ref := range pd.Inputs {
		if err := validatePhaseRef(ref, pd.Name, doc.Phases, index); err != nil {
			return PhaseSpec{}, err
		}
	}

	spec := PhaseSpec{
		Name:          workflowstate.Phase(pd.Name),
		Agent:         pd.Agent,
		Task:          task,
		Model:         modelOverride,
		Inputs:        pd.Inputs,
		HumanApproval: pd.HumanApproval,
		MaxRetries:    pd.MaxRetries,
	}

	switch pd.OnFailure {
	case "", "fail":
		// RetryTarget stays PhaseNone: a failure here is fatal.
	default:
		if !declared[pd.OnFailure] {
			return PhaseSpec{}, &CompileError{Phase: pd.Name, Detail: fmt.Sprintf("on_failure references undeclared phase %q", pd.OnFailure)}
		}
		spec.RetryTarget = workflowstate.Phase(pd.OnFailure)
	}

	return spec, nil
}

// resolveConfigRefs substitutes every `$config.<key>` in text with its
// stringified value from cfg. An unresolved key is a compile-time error.
func resolveConfigRefs(text string, cfg map[string]any) (string, error) {
	var firstErr error
	resolved := configRefPattern.ReplaceAllStringFunc(text, func(match string) string {
		if firstErr != nil {
			return match
		}
		key := strings.TrimPrefix(match, "$config.")
		val, ok := cfg[key]
		if !ok {
			firstErr = fmt.Errorf("unresolved reference %q: no such config key", match)
			return match
		}
		return stringifyConfigValue(val)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return resolved, nil
}

func stringifyConfigValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// resolveModelRef resolves a `$models.<name>` reference into an
// LLMSelector, parsing the referenced value as `provider:model-name` per
// spec.md §6's `workflow.models.<phase>` format.
func resolveModelRef(ref string, models map[string]string) (*definitions.LLMSelector, error) {
	m := modelRefPattern.FindStringSubmatch(ref)
	if m == nil {
		return nil, fmt.Errorf("malformed model reference %q: want $models.<name>", ref)
	}
	raw, ok := models[m[1]]
	if !ok {
		return nil, fmt.Errorf("unresolved reference %q: no such entry in models", ref)
	}
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed models.%s value %q: want provider:model-name", m[1], raw)
	}
	return &definitions.LLMSelector{
		Provider:    definitions.Provider(parts[0]),
		Model:       parts[1],
		Temperature: 0.2,
		MaxTokens:   4096,
	}, nil
}

// validatePhaseRef checks a `$<phase>.<field>` input reference names a
// phase declared earlier than index in doc's phase order - the runtime
// resolver (pkg/phase's resolveInput) looks the value up the same way
// against prior PhaseResults, so "declared earlier" is exactly "can
// possibly have run by the time this phase does".
func validatePhaseRef(ref, owner string, phases []PhaseDocument, index int) error {
	m := phaseRefPattern.FindStringSubmatch(ref)
	if m == nil {
		return &CompileError{Phase: owner, Detail: fmt.Sprintf("malformed input reference %q: want $<phase>.<field>", ref)}
	}
	referenced := m[1]
	for i, pd := range phases {
		if pd.Name == referenced {
			if i >= index {
				return &CompileError{Phase: owner, Detail: fmt.Sprintf("input reference %q: phase %q is not declared before this one", ref, referenced)}
			}
			return nil
		}
	}
	return &CompileError{Phase: owner, Detail: fmt.Sprintf("unresolved reference %q: no such phase %q", ref, referenced)}
}
