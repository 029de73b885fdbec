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

// Package workflowstate defines the runtime record threaded through a
// FABER workflow's phases.
//
// State is updated by structural update: every phase transition produces
// a new *State value derived from the previous one, never mutates a value
// another goroutine might be holding. A caller that took a reference to
// an earlier State continues to see a fully consistent, immutable
// snapshot even while the engine advances to later phases.
package workflowstate

import (
	"encoding/json"
	"fmt"
	"time"
)

// Phase names the five stages of the FABER pipeline plus the absence of
// a current phase (the zero value).
type Phase string

const (
	PhaseNone      Phase = ""
	PhaseFrame     Phase = "frame"
	PhaseArchitect Phase = "architect"
	PhaseBuild     Phase = "build"
	PhaseEvaluate  Phase = "evaluate"
	PhaseRelease   Phase = "release"
)

// IsValid reports whether p is a recognized pipeline phase (PhaseNone is
// valid as the "no phase yet" sentinel).
func (p Phase) IsValid() bool {
	switch p {
	case PhaseNone, PhaseFrame, PhaseArchitect, PhaseBuild, PhaseEvaluate, PhaseRelease:
		return true
	default:
		return false
	}
}

// PhaseStatus is the outcome recorded for a single phase execution.
type PhaseStatus string

const (
	PhaseStatusCompleted PhaseStatus = "completed"
	PhaseStatusFailed    PhaseStatus = "failed"
	PhaseStatusSkipped   PhaseStatus = "skipped"
)

// EvaluationResult is the GO/NO-GO verdict parsed from the evaluate phase.
type EvaluationResult string

const (
	EvaluationNone  EvaluationResult = ""
	EvaluationGo    EvaluationResult = "GO"
	EvaluationNoGo  EvaluationResult = "NO-GO"
)

// WorkflowStatus is the terminal or in-progress status of a run.
type WorkflowStatus string

const (
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
)

// PhaseResult is the outcome of a single phase's execution, recorded into
// State.PhaseResults keyed by phase name.
type PhaseResult struct {
	Status     PhaseStatus    `json:"status"`
	DurationMS int64          `json:"duration_ms"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// ApprovalRequestRef pins the approval request a workflow is currently
// awaiting a response to; it is a lightweight reference, the full
// ApprovalRequest lives in the approval queue.
type ApprovalRequestRef struct {
	ID       string `json:"id"`
	Phase    Phase  `json:"phase"`
	Question string `json:"question"`
}

// State is the full runtime record for one workflow run. Every exported
// field is read-only from the caller's perspective; use the With*
// methods to derive a new State rather than mutating fields directly.
type State struct {
	WorkflowID string `json:"workflow_id"`
	WorkID     string `json:"work_id"`

	CurrentPhase    Phase         `json:"current_phase"`
	CompletedPhases []Phase       `json:"completed_phases"`
	PhaseResults    map[Phase]PhaseResult `json:"phase_results"`

	// Frame outputs.
	WorkType           string   `json:"work_type,omitempty"`
	WorkTypeConfidence float64  `json:"work_type_confidence,omitempty"`
	Requirements       []string `json:"requirements,omitempty"`
	Dependencies       []string `json:"dependencies,omitempty"`
	Blockers           []string `json:"blockers,omitempty"`

	// Architect outputs.
	SpecID               string   `json:"spec_id,omitempty"`
	SpecPath             string   `json:"spec_path,omitempty"`
	SpecValidated        bool     `json:"spec_validated"`
	SpecCompleteness     float64  `json:"spec_completeness,omitempty"`
	RefinementQuestions  []string `json:"refinement_questions,omitempty"`

	// Build outputs. Commits accumulates across retries rather than
	// being overwritten, mirroring the original's annotated-reducer field.
	BranchName   string   `json:"branch_name,omitempty"`
	Commits      []string `json:"commits,omitempty"`
	FilesModified []string `json:"files_modified,omitempty"`
	TestsAdded   []string `json:"tests_added,omitempty"`

	// Evaluate outputs.
	EvaluationResult       EvaluationResult `json:"evaluation_result,omitempty"`
	EvaluationDetails      string           `json:"evaluation_details,omitempty"`
	AcceptanceCriteriaMet  []string         `json:"acceptance_criteria_met,omitempty"`
	AcceptanceCriteriaUnmet []string        `json:"acceptance_criteria_unmet,omitempty"`
	IssuesFound            []string         `json:"issues_found,omitempty"`
	RetryCount             int              `json:"retry_count"`

	// Release outputs.
	PRNumber int    `json:"pr_number,omitempty"`
	PRURL    string `json:"pr_url,omitempty"`
	PRState  string `json:"pr_state,omitempty"`

	// Human-in-the-loop.
	AwaitingApproval  bool                `json:"awaiting_approval"`
	ApprovalRequest   *ApprovalRequestRef `json:"approval_request,omitempty"`
	ApprovalDecision  string              `json:"approval_decision,omitempty"`

	// Cost rollup.
	TotalTokens     int64   `json:"total_tokens"`
	TotalCostUSD    float64 `json:"total_cost_usd"`
	BudgetLimitUSD  float64 `json:"budget_limit_usd"`
	BudgetApproved  bool    `json:"budget_approved"`

	// Terminal/error state.
	Status     WorkflowStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
	ErrorPhase Phase          `json:"error_phase,omitempty"`

	Messages []string `json:"messages,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New constructs the initial State for a workflow run (create_initial_state).
func New(workflowID, workID string, budgetLimitUSD float64, now time.Time) *State {
	return &State{
		WorkflowID:     workflowID,
		WorkID:         workID,
		CurrentPhase:   PhaseNone,
		CompletedPhases: []Phase{},
		PhaseResults:   map[Phase]PhaseResult{},
		BudgetLimitUSD: budgetLimitUSD,
		Status:         WorkflowStatusRunning,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// clone returns a shallow copy of s with all slice/map fields deep-copied
// one level, so the returned value may be mutated by a With* method
// without affecting s or any other holder of s.
func (s *State) clone() *State {
	next := *s

	next.CompletedPhases = append([]Phase(nil), s.CompletedPhases...)

	next.PhaseResults = make(map[Phase]PhaseResult, len(s.PhaseResults))
	for k, v := range s.PhaseResults {
		next.PhaseResults[k] = v
	}

	next.Requirements = append([]string(nil), s.Requirements...)
	next.Dependencies = append([]string(nil), s.Dependencies...)
	next.Blockers = append([]string(nil), s.Blockers...)
	next.RefinementQuestions = append([]string(nil), s.RefinementQuestions...)
	next.Commits = append([]string(nil), s.Commits...)
	next.FilesModified = append([]string(nil), s.FilesModified...)
	next.TestsAdded = append([]string(nil), s.TestsAdded...)
	next.AcceptanceCriteriaMet = append([]string(nil), s.AcceptanceCriteriaMet...)
	next.AcceptanceCriteriaUnmet = append([]string(nil), s.AcceptanceCriteriaUnmet...)
	next.IssuesFound = append([]string(nil), s.IssuesFound...)
	next.Messages = append([]string(nil), s.Messages...)

	return &next
}

// WithPhaseResult returns a new State with phase recorded in
// PhaseResults and appended to CompletedPhases when result.Status is
// completed.
func (s *State) WithPhaseResult(phase Phase, result PhaseResult, now time.Time) *State {
	next := s.clone()
	next.PhaseResults[phase] = result
	if result.Status == PhaseStatusCompleted {
		next.CompletedPhases = append(next.CompletedPhases, phase)
	}
	next.UpdatedAt = now
	return next
}

// WithPhaseOutputs returns a new State with the typed output fields for
// phase populated from output, the structured portion of that phase's
// agent reply. Unrecognized or wrong-typed keys are left at their zero
// value rather than erroring - a phase agent's reply is untrusted text,
// and a missing field should degrade gracefully, not abort the workflow.
func (s *State) WithPhaseOutputs(phase Phase, output map[string]any, now time.Time) *State {
	next := s.clone()

	switch phase {
	case PhaseFrame:
		next.WorkType, _ = output["work_type"].(string)
		next.WorkTypeConfidence, _ = output["work_type_confidence"].(float64)
		next.Requirements = stringSlice(output["requirements"])
		next.Dependencies = stringSlice(output["dependencies"])
		next.Blockers = stringSlice(output["blockers"])
	case PhaseArchitect:
		next.SpecID, _ = output["spec_id"].(string)
		next.SpecPath, _ = output["spec_path"].(string)
		next.SpecValidated, _ = output["spec_validated"].(bool)
		next.SpecCompleteness, _ = output["spec_completeness"].(float64)
		next.RefinementQuestions = stringSlice(output["refinement_questions"])
	case PhaseBuild:
		next.BranchName, _ = output["branch_name"].(string)
		next.Commits = append(next.Commits, stringSlice(output["commits"])...)
		next.FilesModified = stringSlice(output["files_modified"])
		next.TestsAdded = stringSlice(output["tests_added"])
	case PhaseEvaluate:
		if decision, ok := output["decision"].(string); ok {
			next.EvaluationResult = EvaluationResult(decision)
		}
		next.EvaluationDetails, _ = output["evaluation_details"].(string)
		next.AcceptanceCriteriaMet = stringSlice(output["acceptance_criteria_met"])
		next.AcceptanceCriteriaUnmet = stringSlice(output["acceptance_criteria_unmet"])
		next.IssuesFound = stringSlice(output["issues_found"])
	case PhaseRelease:
		if n, ok := output["pr_number"].(float64); ok {
			next.PRNumber = int(n)
		}
		next.PRURL, _ = output["pr_url"].(string)
		next.PRState, _ = output["pr_state"].(string)
	}

	next.UpdatedAt = now
	return next
}

// stringSlice coerces a decoded JSON value (typically []any of strings)
// into a []string, returning nil for anything else.
func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// WithCurrentPhase returns a new State advanced to phase.
func (s *State) WithCurrentPhase(phase Phase, now time.Time) *State {
	next := s.clone()
	next.CurrentPhase = phase
	next.UpdatedAt = now
	return next
}

// WithRetry returns a new State with RetryCount incremented and
// CurrentPhase reset to the phase being retried.
func (s *State) WithRetry(phase Phase, now time.Time) *State {
	next := s.clone()
	next.RetryCount++
	next.CurrentPhase = phase
	next.UpdatedAt = now
	return next
}

// WithCommits returns a new State with additional commits appended to
// the accumulating Commits slice (never overwritten across retries).
func (s *State) WithCommits(commits []string, now time.Time) *State {
	next := s.clone()
	next.Commits = append(next.Commits, commits...)
	next.UpdatedAt = now
	return next
}

// WithUsage returns a new State with the cost rollup fields increased by
// the given token count and cost. TotalCostUSD is guaranteed
// non-decreasing by construction: deltaCostUSD must be >= 0.
func (s *State) WithUsage(deltaTokens int64, deltaCostUSD float64, now time.Time) *State {
	next := s.clone()
	next.TotalTokens += deltaTokens
	if deltaCostUSD > 0 {
		next.TotalCostUSD += deltaCostUSD
	}
	next.UpdatedAt = now
	return next
}

// WithBudgetApproved returns a new State with BudgetApproved set.
func (s *State) WithBudgetApproved(approved bool, now time.Time) *State {
	next := s.clone()
	next.BudgetApproved = approved
	next.UpdatedAt = now
	return next
}

// WithAwaitingApproval returns a new State pinning an approval request.
func (s *State) WithAwaitingApproval(req *ApprovalRequestRef, now time.Time) *State {
	next := s.clone()
	next.AwaitingApproval = req != nil
	next.ApprovalRequest = req
	next.UpdatedAt = now
	return next
}

// WithApprovalDecision returns a new State recording an approval response
// and clearing AwaitingApproval.
func (s *State) WithApprovalDecision(decision string, now time.Time) *State {
	next := s.clone()
	next.AwaitingApproval = false
	next.ApprovalRequest = nil
	next.ApprovalDecision = decision
	next.UpdatedAt = now
	return next
}

// WithEvaluationResult returns a new State with the GO/NO-GO verdict set
// directly, bypassing the evaluate phase's own agent-reply parsing in
// WithPhaseOutputs - used when the engine itself decides a NO-GO verdict
// applies, such as retries exhausting after a genuine execution error.
func (s *State) WithEvaluationResult(result EvaluationResult, now time.Time) *State {
	next := s.clone()
	next.EvaluationResult = result
	next.UpdatedAt = now
	return next
}

// WithError returns a new State recording a fatal error for phase.
func (s *State) WithError(phase Phase, err error, now time.Time) *State {
	next := s.clone()
	if err != nil {
		next.Error = err.Error()
	}
	next.ErrorPhase = phase
	next.Status = WorkflowStatusFailed
	next.UpdatedAt = now
	return next
}

// WithStatus returns a new State with the terminal status set.
func (s *State) WithStatus(status WorkflowStatus, now time.Time) *State {
	next := s.clone()
	next.Status = status
	next.UpdatedAt = now
	return next
}

// WithMessage returns a new State with msg appended to the free-form
// message trail (informational notes accumulated across phases).
func (s *State) WithMessage(msg string, now time.Time) *State {
	next := s.clone()
	next.Messages = append(next.Messages, msg)
	next.UpdatedAt = now
	return next
}

// IsPhaseCompleted reports whether phase has a completed PhaseResult.
func (s *State) IsPhaseCompleted(phase Phase) bool {
	result, ok := s.PhaseResults[phase]
	return ok && result.Status == PhaseStatusCompleted
}

// NextUnresolvedPhase returns the first phase in order whose
// PhaseResults status is not completed, for use by resume(workflow_id).
// It returns PhaseNone if every phase in order is completed.
func (s *State) NextUnresolvedPhase(order []Phase) Phase {
	for _, phase := range order {
		if !s.IsPhaseCompleted(phase) {
			return phase
		}
	}
	return PhaseNone
}

// Serialize converts the State to JSON bytes for checkpoint storage.
func (s *State) Serialize() ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("workflowstate: cannot serialize nil state")
	}
	return json.Marshal(s)
}

// Deserialize reconstructs a State from JSON bytes read from a checkpoint.
func Deserialize(data []byte) (*State, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("workflowstate: cannot deserialize empty data")
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("workflowstate: unmarshal: %w", err)
	}
	return &s, nil
}
