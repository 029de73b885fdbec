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
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fractary/faber/pkg/approval"
	"github.com/fractary/faber/pkg/checkpoint"
	"github.com/fractary/faber/pkg/phase"
	"github.com/fractary/faber/pkg/workflowstate"
)

// LogSink is the append-only workflow log C9 implements. The engine
// depends only on this narrow interface - a capability set, per
// spec.md §9's "pluggable backends" design note - so it can be built
// and tested before the concrete log store exists. *logstore.FileStore
// and *logstore.MemoryStore both satisfy it directly.
type LogSink interface {
	StartWorkflow(ctx context.Context, workflowID, workID string, now time.Time) error
	EndWorkflow(ctx context.Context, workflowID string, status workflowstate.WorkflowStatus, summary string, now time.Time) error
	StartPhase(ctx context.Context, workflowID string, phase workflowstate.Phase, now time.Time) error
	EndPhase(ctx context.Context, workflowID string, phase workflowstate.Phase, status workflowstate.PhaseStatus, now time.Time) (int64, error)
}

// defaultApprovalTimeoutMinutes is used for a phase's human-approval gate
// when the engine is not configured with an override.
const defaultApprovalTimeoutMinutes = 60

// Engine drives a Workflow's phases to completion, writing a checkpoint
// before every phase (ahead of any human-approval wait) and after every
// phase, and pausing for human approval where a PhaseSpec requires it.
type Engine struct {
	runner      *phase.Runner
	checkpoints checkpoint.Store
	approvals   *approval.Queue
	logs        LogSink
	logger      *slog.Logger
	tracer      trace.Tracer

	ApprovalTimeoutMinutes int

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New constructs an Engine. checkpoints must not be nil - a workflow
// with nowhere to persist state cannot be resumed, which defeats the
// point of running it as a long-lived process. approvals and logs may
// be nil: a nil approvals queue makes any HumanApproval-gated phase fail
// immediately rather than hang, a nil logs sink simply skips logging.
func New(runner *phase.Runner, checkpoints checkpoint.Store, approvals *approval.Queue, logs LogSink, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		runner:                 runner,
		checkpoints:            checkpoints,
		approvals:              approvals,
		logs:                   logs,
		logger:                 logger,
		tracer:                 noop.NewTracerProvider().Tracer("engine"),
		ApprovalTimeoutMinutes: defaultApprovalTimeoutMinutes,
		cancels:                make(map[string]context.CancelFunc),
	}
}

// SetTracer installs the tracer used to emit a span per phase. Passing nil
// restores the no-op tracer. Intended to be called once, right after New,
// from Session wiring (pkg/faber) once workflow.tracing.enabled is read from
// config - never required for the engine to run correctly.
func (e *Engine) SetTracer(tracer trace.Tracer) {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("engine")
	}
	e.tracer = tracer
}

// Run drives st through wf starting at st.CurrentPhase (or wf.Start if
// st has no current phase yet) until the workflow reaches a terminal
// status: completed, failed, or cancelled.
func (e *Engine) Run(ctx context.Context, wf *Workflow, st *workflowstate.State) *workflowstate.State {
	ctx, cancel := context.WithCancel(ctx)
	e.registerCancel(st.WorkflowID, cancel)
	defer e.clearCancel(st.WorkflowID)
	defer cancel()

	if e.logs != nil {
		_ = e.logs.StartWorkflow(ctx, st.WorkflowID, st.WorkID, time.Now())
	}

	phaseName := st.CurrentPhase
	if phaseName == workflowstate.PhaseNone {
		phaseName = wf.Start
	}

	for {
		select {
		case <-ctx.Done():
			st = e.finish(ctx, st.WithStatus(workflowstate.WorkflowStatusCancelled, time.Now()))
			return st
		default:
		}

		spec, ok := wf.Phase(phaseName)
		if !ok {
			st = e.finish(ctx, st.WithError(phaseName, fmt.Errorf("engine: workflow has no phase %q", phaseName), time.Now()))
			return st
		}

		e.writeCheckpoint(ctx, st)

		if spec.HumanApproval && e.approvals != nil {
			approved, decision, err := e.requestPhaseApproval(ctx, st.WorkflowID, phaseName)
			if err != nil {
				st = e.finish(ctx, st.WithError(phaseName, err, time.Now()))
				return st
			}
			st = st.WithApprovalDecision(decision, time.Now())
			if !approved {
				st = e.finish(ctx, st.WithStatus(workflowstate.WorkflowStatusCancelled, time.Now()))
				return st
			}
		}

		st = st.WithCurrentPhase(phaseName, time.Now())
		if e.logs != nil {
			_ = e.logs.StartPhase(ctx, st.WorkflowID, phaseName, time.Now())
		}

		spanCtx, span := e.tracer.Start(ctx, "phase."+string(phaseName),
			trace.WithAttributes(
				attribute.String("faber.workflow_id", st.WorkflowID),
				attribute.String("faber.phase", string(phaseName)),
				attribute.String("faber.agent", spec.Agent),
			),
		)
		result := e.runner.RunWithOptions(spanCtx, phaseName, spec.Agent, spec.Task, phase.Options{Model: spec.Model, ExtraInputs: spec.Inputs}, st)
		phaseResult := result.PhaseResults[phaseName]
		span.SetAttributes(attribute.String("faber.phase_status", string(phaseResult.Status)))
		if phaseResult.Status == workflowstate.PhaseStatusFailed {
			span.SetStatus(codes.Error, phaseResult.Error)
		}
		span.End()

		if e.logs != nil {
			_, _ = e.logs.EndPhase(ctx, result.WorkflowID, phaseName, phaseResult.Status, time.Now())
		}
		e.writeCheckpoint(ctx, result)

		if phaseResult.Status == workflowstate.PhaseStatusFailed {
			if ctx.Err() != nil {
				// The failure unwound from a cancelled context (Cancel or a
				// cancelled parent), not a genuine LLM/tool error - report it
				// as a cancellation rather than a failure.
				st = e.finish(ctx, result.WithStatus(workflowstate.WorkflowStatusCancelled, time.Now()))
				return st
			}
			if spec.RetryTarget != workflowstate.PhaseNone {
				if result.RetryCount < spec.MaxRetries {
					result = result.WithRetry(spec.RetryTarget, time.Now())
					phaseName = spec.RetryTarget
					st = result
					continue
				}
				// Retries exhausted on a genuine execution error, not a
				// NO-GO verdict: per spec.md, this still proceeds to
				// release with the failure recorded as NO-GO rather than
				// failing the workflow outright, same as retry exhaustion
				// from an evaluate NO-GO.
				result = result.WithEvaluationResult(workflowstate.EvaluationNoGo, time.Now())
				phaseName = workflowstate.PhaseRelease
				st = result
				continue
			}
			st = e.finish(ctx, result)
			return st
		}

		next := spec.Transition(result)
		if next == spec.RetryTarget && next != workflowstate.PhaseNone && result.EvaluationResult == workflowstate.EvaluationNoGo {
			result = result.WithRetry(spec.RetryTarget, time.Now())
		}
		if next == workflowstate.PhaseNone {
			st = e.finish(ctx, result.WithStatus(workflowstate.WorkflowStatusCompleted, time.Now()))
			return st
		}
		phaseName = next
		st = result
	}
}

// Resume loads the last checkpoint for threadID and continues wf from
// the first phase that checkpoint does not record as completed. Per
// spec.md §9's Open Question, resumption is defined at phase boundaries
// only - a checkpoint is never written mid-phase (the one ahead of an
// approval wait is written at the phase boundary), so "first
// non-completed phase" is always well-defined.
func (e *Engine) Resume(ctx context.Context, wf *Workflow, threadID string) (*workflowstate.State, error) {
	cp, err := e.checkpoints.Get(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("engine: resume %q: %w", threadID, err)
	}
	st, err := workflowstate.Deserialize(cp.State)
	if err != nil {
		return nil, fmt.Errorf("engine: resume %q: %w", threadID, err)
	}

	next := st.NextUnresolvedPhase(wf.Order)
	if next == workflowstate.PhaseNone {
		return st, nil
	}
	st = st.WithCurrentPhase(next, time.Now())
	return e.Run(ctx, wf, st), nil
}

// Cancel requests cooperative cancellation of the in-flight Run for
// workflowID. It is a no-op if no Run for that id is currently active.
// Run checks for cancellation at the top of each phase iteration, and the
// cancelled context also reaches the running phase, so an in-flight LLM
// or tool call that honors its context returns early and the run ends as
// cancelled.
func (e *Engine) Cancel(workflowID string) {
	e.mu.Lock()
	cancel, ok := e.cancels[workflowID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

func (e *Engine) registerCancel(workflowID string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancels[workflowID] = cancel
}

func (e *Engine) clearCancel(workflowID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancels, workflowID)
}

func (e *Engine) finish(ctx context.Context, st *workflowstate.State) *workflowstate.State {
	e.writeCheckpoint(ctx, st)
	if e.logs != nil {
		_ = e.logs.EndWorkflow(ctx, st.WorkflowID, st.Status, "", time.Now())
	}
	return st
}

func (e *Engine) writeCheckpoint(ctx context.Context, st *workflowstate.State) {
	data, err := st.Serialize()
	if err != nil {
		e.logger.Error("checkpoint serialize failed", "workflow_id", st.WorkflowID, "error", err)
		return
	}
	if err := e.checkpoints.Put(ctx, st.WorkflowID, st.WorkflowID, data); err != nil {
		e.logger.Error("checkpoint write failed", "workflow_id", st.WorkflowID, "error", err)
	}
}

// requestPhaseApproval gates entry into phase on a human decision,
// returning (approved, decision, error).
func (e *Engine) requestPhaseApproval(ctx context.Context, workflowID string, phaseName workflowstate.Phase) (bool, string, error) {
	question := fmt.Sprintf("Proceed with phase %q?", phaseName)
	resp, err := e.approvals.Request(ctx, workflowID, string(phaseName), question, nil, nil, e.ApprovalTimeoutMinutes, time.Now())
	if err != nil {
		return false, "", fmt.Errorf("approval gate for %q: %w", phaseName, err)
	}
	return resp.Decision == "approve", resp.Decision, nil
}
