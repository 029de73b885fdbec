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

// Package engine drives a workflow's phases to completion against a
// fixed FABER topology or a compiled custom workflow document, writing a
// checkpoint before and after every phase and pausing for human approval
// where configured.
package engine

import (
	"fmt"
	"strings"

	"github.com/fractary/faber/pkg/definitions"
	"github.com/fractary/faber/pkg/workflowstate"
)

// PhaseSpec is one node of a compiled workflow graph.
type PhaseSpec struct {
	Name  workflowstate.Phase
	Agent string
	Task  string

	// Model overrides the agent definition's own LLM selector, set only by
	// the custom-workflow compiler resolving a phase's `$models.<name>`
	// reference. Nil means "use the agent definition's selector unchanged" -
	// always the case for the built-in FABER topology.
	Model *definitions.LLMSelector
	// Inputs are extra `$<phase>.<field>` hints appended to the agent
	// definition's own Inputs, set only by the custom-workflow compiler.
	Inputs []string

	// HumanApproval gates entry into this phase on an approval request.
	HumanApproval bool

	// MaxRetries bounds how many times a failure of this phase may route
	// back to RetryTarget. Once retries are exhausted, the engine records a
	// NO-GO evaluation and continues at the release phase instead of
	// following Transition. Zero means "never retry this phase's failures".
	MaxRetries int
	// RetryTarget is the phase a failure (or a NO-GO transition, for
	// evaluate) routes back to. PhaseNone means failures here are fatal.
	RetryTarget workflowstate.Phase

	// Transition decides, given the State as updated by this phase's
	// successful run, which phase runs next. Returning PhaseNone ends the
	// workflow successfully.
	Transition func(st *workflowstate.State) workflowstate.Phase
}

// Workflow is an ordered, named set of PhaseSpecs plus the phase to start
// from - a compiled FABER pipeline or custom workflow document.
type Workflow struct {
	Start  workflowstate.Phase
	Phases map[workflowstate.Phase]PhaseSpec
	// Order lists every phase name in declaration order, used to compute
	// NextUnresolvedPhase on resumption.
	Order []workflowstate.Phase
}

// Phase looks up a phase by name.
func (w *Workflow) Phase(name workflowstate.Phase) (PhaseSpec, bool) {
	spec, ok := w.Phases[name]
	return spec, ok
}

// ApplyHumanApproval sets PhaseSpec.HumanApproval for every declared phase
// from requiresApproval, called once per phase name - the builtin topology
// carries no approval gates of its own (Builtin leaves the field at its
// zero value), so a caller wires `workflow.autonomy` / `workflow.human_approval.*`
// in here after construction rather than threading config through Builtin
// itself.
func (w *Workflow) ApplyHumanApproval(requiresApproval func(phase workflowstate.Phase) bool) {
	for name, spec := range w.Phases {
		spec.HumanApproval = requiresApproval(name)
		w.Phases[name] = spec
	}
}

// ApplyModelOverrides sets PhaseSpec.Model for every phase modelFor
// returns a non-empty `provider:model-name` string for, using the same
// parsing rule as the custom-workflow compiler's resolveModelRef. A phase
// modelFor returns "" for keeps its agent definition's own selector.
func (w *Workflow) ApplyModelOverrides(modelFor func(phase workflowstate.Phase) string) error {
	for name, spec := range w.Phases {
		raw := modelFor(name)
		if raw == "" {
			continue
		}
		parts := strings.SplitN(raw, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("engine: workflow.models.%s value %q: want provider:model-name", name, raw)
		}
		spec.Model = &definitions.LLMSelector{
			Provider:    definitions.Provider(parts[0]),
			Model:       parts[1],
			Temperature: 0.2,
			MaxTokens:   4096,
		}
		w.Phases[name] = spec
	}
	return nil
}

// sequential is a Transition that always advances to next, regardless of
// the resulting state - used by frame/architect/release, whose success
// has exactly one successor.
func sequential(next workflowstate.Phase) func(*workflowstate.State) workflowstate.Phase {
	return func(*workflowstate.State) workflowstate.Phase { return next }
}

// terminal is a Transition that always ends the workflow.
func terminal() func(*workflowstate.State) workflowstate.Phase {
	return func(*workflowstate.State) workflowstate.Phase { return workflowstate.PhaseNone }
}

// Builtin constructs the fixed FABER topology: frame -> architect -> build
// -> evaluate -> {build (retry, up to maxRetries), release}. agents maps
// each phase name to the agent definition name that runs it.
//
// frame/architect failures are fatal (no RetryTarget): spec.md's terminal
// status rules mark these as not retried. build/evaluate failures (an
// actual tool/LLM error, not a NO-GO verdict) retry into build, same as
// an evaluate NO-GO, up to maxRetries.
func Builtin(agents map[workflowstate.Phase]string, maxRetries int) *Workflow {
	order := []workflowstate.Phase{
		workflowstate.PhaseFrame,
		workflowstate.PhaseArchitect,
		workflowstate.PhaseBuild,
		workflowstate.PhaseEvaluate,
		workflowstate.PhaseRelease,
	}

	phases := map[workflowstate.Phase]PhaseSpec{
		workflowstate.PhaseFrame: {
			Name:       workflowstate.PhaseFrame,
			Agent:      agents[workflowstate.PhaseFrame],
			Task:       "Classify the incoming work item: determine its work type, requirements, dependencies, and any blockers.",
			Transition: sequential(workflowstate.PhaseArchitect),
		},
		workflowstate.PhaseArchitect: {
			Name:       workflowstate.PhaseArchitect,
			Agent:      agents[workflowstate.PhaseArchitect],
			Task:       "Produce and validate a technical specification for the classified work item.",
			Transition: sequential(workflowstate.PhaseBuild),
		},
		workflowstate.PhaseBuild: {
			Name:        workflowstate.PhaseBuild,
			Agent:       agents[workflowstate.PhaseBuild],
			Task:        "Implement the validated specification: make the necessary commits and add tests.",
			MaxRetries:  maxRetries,
			RetryTarget: workflowstate.PhaseBuild,
			Transition:  sequential(workflowstate.PhaseEvaluate),
		},
		workflowstate.PhaseEvaluate: {
			Name:        workflowstate.PhaseEvaluate,
			Agent:       agents[workflowstate.PhaseEvaluate],
			Task:        "Evaluate the build against the specification's acceptance criteria and render a GO or NO-GO decision.",
			MaxRetries:  maxRetries,
			RetryTarget: workflowstate.PhaseBuild,
			Transition:  evaluateTransition(maxRetries),
		},
		workflowstate.PhaseRelease: {
			Name:       workflowstate.PhaseRelease,
			Agent:      agents[workflowstate.PhaseRelease],
			Task:       "Open (or update) the pull request for the completed work.",
			Transition: terminal(),
		},
	}

	return &Workflow{Start: workflowstate.PhaseFrame, Phases: phases, Order: order}
}

// evaluateTransition implements the evaluate phase's conditional: GO goes
// straight to release; NO-GO retries into build while retry_count stays
// below maxRetries; once exhausted, it proceeds to release anyway with
// the NO-GO verdict recorded (Worked Example 3: "retry_count = 2, flow
// proceeds to release, status = completed with evaluation_result = NO_GO").
func evaluateTransition(maxRetries int) func(*workflowstate.State) workflowstate.Phase {
	return func(st *workflowstate.State) workflowstate.Phase {
		if st.EvaluationResult == workflowstate.EvaluationGo {
			return workflowstate.PhaseRelease
		}
		if st.RetryCount < maxRetries {
			return workflowstate.PhaseBuild
		}
		return workflowstate.PhaseRelease
	}
}
