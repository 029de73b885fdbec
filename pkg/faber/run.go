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

package faber

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fractary/faber/pkg/cost"
	"github.com/fractary/faber/pkg/engine"
	"github.com/fractary/faber/pkg/phase"
	"github.com/fractary/faber/pkg/workflowstate"
)

// defaultBuiltinAgents maps each FABER phase to the agent definition
// expected to implement it when RunOptions.Agents carries no override -
// the agent-per-phase naming convention `.fractary/agents/<phase>.yaml`.
func defaultBuiltinAgents() map[workflowstate.Phase]string {
	return map[workflowstate.Phase]string{
		workflowstate.PhaseFrame:     "frame",
		workflowstate.PhaseArchitect: "architect",
		workflowstate.PhaseBuild:     "build",
		workflowstate.PhaseEvaluate:  "evaluate",
		workflowstate.PhaseRelease:   "release",
	}
}

// RunOptions overrides a run's defaults. The zero value runs the fixed
// FABER topology against the default per-phase agent names with
// workflow.* config applied unchanged.
type RunOptions struct {
	// WorkflowPath, if set, names a custom workflow YAML document
	// (engine.WorkflowDocument) compiled in place of the builtin FABER
	// topology.
	WorkflowPath string
	// Agents overrides the builtin topology's phase->agent-name mapping.
	// Ignored when WorkflowPath is set.
	Agents map[workflowstate.Phase]string
}

// WorkflowResult is the terminal, caller-facing summary of a run -
// spec.md §4.10's WorkflowResult shape.
type WorkflowResult struct {
	WorkflowID       string                        `json:"workflow_id"`
	WorkID           string                        `json:"work_id"`
	Status           workflowstate.WorkflowStatus  `json:"status"`
	CompletedPhases  []workflowstate.Phase         `json:"completed_phases"`
	PRURL            string                        `json:"pr_url,omitempty"`
	SpecPath         string                        `json:"spec_path,omitempty"`
	BranchName       string                        `json:"branch_name,omitempty"`
	Error            string                        `json:"error,omitempty"`
	ErrorPhase       workflowstate.Phase           `json:"error_phase,omitempty"`
	RetryCount       int                           `json:"retry_count"`
	EvaluationResult workflowstate.EvaluationResult `json:"evaluation_result,omitempty"`
}

func newWorkflowResult(st *workflowstate.State) *WorkflowResult {
	return &WorkflowResult{
		WorkflowID:       st.WorkflowID,
		WorkID:           st.WorkID,
		Status:           st.Status,
		CompletedPhases:  st.CompletedPhases,
		PRURL:            st.PRURL,
		SpecPath:         st.SpecPath,
		BranchName:       st.BranchName,
		Error:            st.Error,
		ErrorPhase:       st.ErrorPhase,
		RetryCount:       st.RetryCount,
		EvaluationResult: st.EvaluationResult,
	}
}

// newWorkflowID mints a "WF-<8 hex>" id from crypto/rand, the same way
// pkg/approval's newRequestID mints its "APR-<8 hex>" ids. The work id is
// not part of the id.
func newWorkflowID() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("faber: generate workflow id: %w", err)
	}
	return "WF-" + hex.EncodeToString(buf), nil
}

// buildWorkflow constructs the *engine.Workflow opts describes: the
// builtin FABER topology (config-driven human-approval gates and model
// overrides applied) or a compiled custom workflow document.
func (s *Session) buildWorkflow(opts RunOptions) (*engine.Workflow, error) {
	if opts.WorkflowPath != "" {
		data, err := os.ReadFile(opts.WorkflowPath)
		if err != nil {
			return nil, fmt.Errorf("faber: read workflow document %s: %w", opts.WorkflowPath, err)
		}
		var doc engine.WorkflowDocument
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("faber: parse workflow document %s: %w", opts.WorkflowPath, err)
		}
		return engine.Compile(doc)
	}

	agents := opts.Agents
	if agents == nil {
		agents = defaultBuiltinAgents()
	}
	wf := engine.Builtin(agents, s.Config.Workflow.MaxRetries)
	wf.ApplyHumanApproval(func(phase workflowstate.Phase) bool {
		return s.Config.HumanApprovalFor(string(phase))
	})
	if err := wf.ApplyModelOverrides(func(phase workflowstate.Phase) string {
		return s.Config.ModelFor(string(phase))
	}); err != nil {
		return nil, fmt.Errorf("faber: apply model overrides: %w", err)
	}
	return wf, nil
}

// costConfig adapts config.CostConfig to cost.Config.
func (s *Session) costConfig() cost.Config {
	return cost.Config{
		BudgetLimitUSD:    s.Config.Workflow.Cost.BudgetLimitUSD,
		WarningThreshold:  s.Config.Workflow.Cost.WarningThreshold,
		RequireApprovalAt: s.Config.Workflow.Cost.RequireApprovalAt,
	}
}

// buildEngine constructs a fresh phase.Runner/engine.Engine pair for one
// workflow id. A new cost.Tracker is minted per run since budget
// accounting is scoped to a single workflow (spec.md §4.4), and a new
// Engine is built around it for the same reason - the Session's stores
// and definitions registry are the only state shared across runs.
func (s *Session) buildEngine(workflowID string) *engine.Engine {
	tracker := cost.New(workflowID, s.costConfig())
	runner := phase.New(s.Definitions, s.executor, tracker, s.Approvals, s.logger)
	runner.SetTracer(s.tracer.Tracer("phase.runner"))
	eng := engine.New(runner, s.Checkpoints, s.Approvals, s.Logs, s.logger)
	eng.SetTracer(s.tracer.Tracer("engine"))
	if s.Config.Workflow.Approval.TimeoutMinutes > 0 {
		eng.ApprovalTimeoutMinutes = s.Config.Workflow.Approval.TimeoutMinutes
	}
	return eng
}

func (s *Session) setActiveEngine(eng *engine.Engine) {
	s.mu.Lock()
	s.Engine = eng
	s.mu.Unlock()
}

func (s *Session) clearActiveEngine() {
	s.mu.Lock()
	s.Engine = nil
	s.mu.Unlock()
}

// RunWorkflow drives a new workflow for workID to completion - spec.md
// §4.10's `run_workflow(work_id, options) -> WorkflowResult`. It blocks
// until the run reaches a terminal status or ctx is cancelled.
func (s *Session) RunWorkflow(ctx context.Context, workID string, opts RunOptions) (*WorkflowResult, error) {
	workflowID, err := newWorkflowID()
	if err != nil {
		return nil, err
	}

	wf, err := s.buildWorkflow(opts)
	if err != nil {
		return nil, err
	}

	eng := s.buildEngine(workflowID)
	s.setActiveEngine(eng)
	defer s.clearActiveEngine()

	st := workflowstate.New(workflowID, workID, s.Config.Workflow.Cost.BudgetLimitUSD, time.Now())
	final := eng.Run(ctx, wf, st)
	return newWorkflowResult(final), nil
}

// ResumeWorkflow continues workflowID from its last checkpoint - spec.md
// §4.8's resumption contract, surfaced here for the CLI's `resume`
// subcommand.
func (s *Session) ResumeWorkflow(ctx context.Context, workflowID string, opts RunOptions) (*WorkflowResult, error) {
	wf, err := s.buildWorkflow(opts)
	if err != nil {
		return nil, err
	}

	eng := s.buildEngine(workflowID)
	s.setActiveEngine(eng)
	defer s.clearActiveEngine()

	st, err := eng.Resume(ctx, wf, workflowID)
	if err != nil {
		return nil, fmt.Errorf("faber: resume %q: %w", workflowID, err)
	}
	return newWorkflowResult(st), nil
}

// CancelWorkflow requests cooperative cancellation of workflowID's
// in-flight Run or Resume call, if one is active in this process. It is
// a no-op otherwise - cancelling a workflow with no active run in this
// process means editing its checkpoint directly, which this package
// does not support.
func (s *Session) CancelWorkflow(workflowID string) {
	s.mu.Lock()
	eng := s.Engine
	s.mu.Unlock()
	if eng != nil {
		eng.Cancel(workflowID)
	}
}
