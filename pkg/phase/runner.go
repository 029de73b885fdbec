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

// Package phase runs a single FABER phase to completion: it resolves an
// agent definition into a live LLM session and a set of callable tools,
// then drives the tool-use loop (call LLM, execute any requested tools,
// feed results back) until the agent returns a plain-text reply or the
// iteration cap is hit. The result is folded into a new workflowstate.State
// - the caller (the workflow engine, C8) never mutates state directly.
package phase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fractary/faber/pkg/approval"
	"github.com/fractary/faber/pkg/cost"
	"github.com/fractary/faber/pkg/definitions"
	"github.com/fractary/faber/pkg/llm"
	"github.com/fractary/faber/pkg/toolexec"
	"github.com/fractary/faber/pkg/workflowstate"
)

// defaultMaxIterations bounds the tool-use loop when an agent definition
// does not override it.
const defaultMaxIterations = 10

// Runner executes phases against a project's definitions registry.
type Runner struct {
	definitions   *definitions.Registry
	executor      *toolexec.Executor
	tracker       *cost.Tracker
	approvals     *approval.Queue
	logger        *slog.Logger
	tracer        trace.Tracer
	maxIterations int

	// newProvider resolves an agent's LLM selector into a live client.
	// Defaults to llm.New; overridden by this package's own tests so they
	// never need a real provider API key or network access.
	newProvider func(definitions.LLMSelector) (llm.Provider, error)
}

// New constructs a Runner. tracker and approvals may be nil: a nil
// tracker skips cost accounting, a nil approvals queue causes a budget
// threshold to fail the phase immediately rather than pausing for a
// human decision.
func New(defs *definitions.Registry, executor *toolexec.Executor, tracker *cost.Tracker, approvals *approval.Queue, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		definitions:   defs,
		executor:      executor,
		tracker:       tracker,
		approvals:     approvals,
		logger:        logger,
		tracer:        noop.NewTracerProvider().Tracer("phase.runner"),
		maxIterations: defaultMaxIterations,
		newProvider:   llm.New,
	}
}

// SetTracer installs the tracer used to emit a span per LLM call and per
// tool call. Passing nil restores the no-op tracer. pkg/faber's
// buildEngine calls it on every run; the tracer it passes is a no-op
// unless workflow.tracing.enabled is set.
func (r *Runner) SetTracer(tracer trace.Tracer) {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("phase.runner")
	}
	r.tracer = tracer
}

// WithMaxIterations overrides the tool-use loop's iteration cap.
func (r *Runner) WithMaxIterations(n int) *Runner {
	if n > 0 {
		r.maxIterations = n
	}
	return r
}

// SetProviderFactoryForTest overrides how Runner resolves an agent's LLM
// provider. It exists so other packages' tests (notably pkg/engine) can
// drive a Runner against a scripted provider without a real API key;
// production callers always get llm.New via New.
func SetProviderFactoryForTest(r *Runner, factory func(definitions.LLMSelector) (llm.Provider, error)) {
	r.newProvider = factory
}

// Options overrides a phase's defaults, set only by the custom-workflow
// compiler (pkg/engine) from a phase document's resolved `model` and
// `inputs` references. The fixed FABER topology always passes the zero
// Options - every field nil/empty means "use the agent definition as-is".
type Options struct {
	// Model substitutes the agent definition's own LLM selector.
	Model *definitions.LLMSelector
	// ExtraInputs are appended to the agent definition's own Inputs before
	// composing the phase's user message.
	ExtraInputs []string
}

// Run executes phaseName using agentName's definition, composing the
// agent's task from task plus context hints resolved from agent_def.Inputs
// against st's prior phase outputs. It always returns a non-nil State:
// on success the returned state carries the phase's PhaseResult and any
// typed output fields; on failure it instead carries WithError(phaseName, ...).
func (r *Runner) Run(ctx context.Context, phaseName workflowstate.Phase, agentName, task string, st *workflowstate.State) *workflowstate.State {
	return r.RunWithOptions(ctx, phaseName, agentName, task, Options{}, st)
}

// RunWithOptions behaves like Run but applies opts - see Options.
func (r *Runner) RunWithOptions(ctx context.Context, phaseName workflowstate.Phase, agentName, task string, opts Options, st *workflowstate.State) *workflowstate.State {
	start := time.Now()

	result, next, err := r.run(ctx, phaseName, agentName, task, opts, st)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		r.logger.Error("phase failed", "phase", phaseName, "agent", agentName, "error", err)
		failed := next.WithPhaseResult(phaseName, workflowstate.PhaseResult{
			Status:     workflowstate.PhaseStatusFailed,
			DurationMS: duration,
			Error:      err.Error(),
		}, time.Now())
		return failed.WithError(phaseName, err, time.Now())
	}

	result.DurationMS = duration
	return next.WithPhaseResult(phaseName, result, time.Now())
}

func (r *Runner) run(ctx context.Context, phaseName workflowstate.Phase, agentName, task string, opts Options, st *workflowstate.State) (workflowstate.PhaseResult, *workflowstate.State, error) {
	agentDef, err := r.definitions.GetAgentOrError(agentName)
	if err != nil {
		return workflowstate.PhaseResult{}, st, fmt.Errorf("phase: resolve agent: %w", err)
	}
	if opts.Model != nil {
		agentDef.LLM = *opts.Model
	}
	if len(opts.ExtraInputs) > 0 {
		agentDef.Inputs = append(append([]string{}, agentDef.Inputs...), opts.ExtraInputs...)
	}

	provider, err := r.newProvider(agentDef.LLM)
	if err != nil {
		return workflowstate.PhaseResult{}, st, fmt.Errorf("phase: resolve llm provider: %w", err)
	}

	tools, specs, err := r.resolveTools(agentDef)
	if err != nil {
		return workflowstate.PhaseResult{}, st, fmt.Errorf("phase: resolve tools: %w", err)
	}

	systemPrompt, err := buildSystemPrompt(agentDef)
	if err != nil {
		return workflowstate.PhaseResult{}, st, fmt.Errorf("phase: build system prompt: %w", err)
	}

	userMessage := composeUserMessage(task, agentDef.Inputs, st)

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userMessage},
	}

	finalText, next, err := r.toolUseLoop(ctx, phaseName, provider, messages, specs, tools, st)
	if err != nil {
		return workflowstate.PhaseResult{}, next, err
	}

	result := workflowstate.PhaseResult{
		Status: workflowstate.PhaseStatusCompleted,
		Output: extractOutput(finalText),
	}

	next = applyPhaseOutputs(phaseName, result.Output, next)
	return result, next, nil
}

// toolUseLoop drives the call-LLM / execute-tools / feed-back cycle until
// the agent returns a message with no tool-use requests or r.maxIterations
// is exhausted.
func (r *Runner) toolUseLoop(ctx context.Context, phaseName workflowstate.Phase, provider llm.Provider, messages []llm.Message, specs []llm.ToolSpec, tools map[string]definitions.ToolDefinition, st *workflowstate.State) (string, *workflowstate.State, error) {
	next := st

	for iteration := 0; iteration < r.maxIterations; iteration++ {
		llmCtx, span := r.tracer.Start(ctx, "llm.generate",
			trace.WithAttributes(
				attribute.String("faber.phase", string(phaseName)),
				attribute.String("faber.llm_model", provider.Model()),
				attribute.Int("faber.iteration", iteration),
			),
		)
		resp, err := provider.Generate(llmCtx, messages, specs)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return "", next, fmt.Errorf("llm call: %w", err)
		}
		span.SetAttributes(
			attribute.Int("faber.input_tokens", resp.Usage.InputTokens),
			attribute.Int("faber.output_tokens", resp.Usage.OutputTokens),
			attribute.Int("faber.tool_calls", len(resp.ToolCalls)),
		)
		span.End()

		if r.tracker != nil {
			event, budgetErr := r.tracker.AddUsage(provider.Model(), resp.Usage.InputTokens, resp.Usage.OutputTokens, string(phaseName), nil, time.Now())
			next = next.WithUsage(event.InputTokens+event.OutputTokens, event.CostUSD, time.Now())
			if budgetErr != nil {
				approved, approvalErr := r.handleBudgetThreshold(ctx, next.WorkflowID, phaseName, budgetErr)
				next = next.WithBudgetApproved(approved, time.Now())
				if approvalErr != nil {
					return "", next, approvalErr
				}
			}
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Text, next, nil
		}

		assistantMsg := llm.Message{Role: "assistant", Content: resp.Text, ToolCalls: resp.ToolCalls}
		messages = append(messages, assistantMsg)

		toolResults, err := r.dispatchToolCalls(ctx, phaseName, tools, resp.ToolCalls)
		if err != nil {
			return "", next, err
		}
		messages = append(messages, toolResults...)
	}

	return "", next, fmt.Errorf("phase: agent loop exceeded %d iterations without a final reply", r.maxIterations)
}

// dispatchToolCalls executes every tool call from a single LLM turn
// concurrently (spec.md's concurrency model makes no ordering guarantee
// among tool calls issued in one turn) and returns one tool-role message
// per call, in call order, regardless of completion order.
func (r *Runner) dispatchToolCalls(ctx context.Context, phaseName workflowstate.Phase, tools map[string]definitions.ToolDefinition, calls []llm.ToolCall) ([]llm.Message, error) {
	results := make([]llm.Message, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			callCtx, span := r.tracer.Start(gctx, "tool."+call.Name,
				trace.WithAttributes(
					attribute.String("faber.phase", string(phaseName)),
					attribute.String("faber.tool", call.Name),
				),
			)
			defer span.End()

			def, ok := tools[call.Name]
			if !ok {
				span.SetStatus(codes.Error, "tool not available")
				results[i] = llm.Message{Role: "tool", ToolCallID: call.ID, Name: call.Name, Content: fmt.Sprintf("error: tool %q is not available to this agent", call.Name)}
				return nil
			}

			res, err := r.executor.Execute(callCtx, def, call.Arguments)
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
				results[i] = llm.Message{Role: "tool", ToolCallID: call.ID, Name: call.Name, Content: fmt.Sprintf("error: %s", err)}
				return nil
			}
			span.SetAttributes(attribute.String("faber.tool_status", string(res.Status)))
			results[i] = llm.Message{Role: "tool", ToolCallID: call.ID, Name: call.Name, Content: toolResultText(res)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// handleBudgetThreshold routes a cost.BudgetError through the approval
// queue (ErrBudgetApprovalRequired) or surfaces it as a fatal phase error
// (ErrBudgetExceeded, or any threshold with no approval queue configured).
func (r *Runner) handleBudgetThreshold(ctx context.Context, workflowID string, phaseName workflowstate.Phase, budgetErr error) (bool, error) {
	be, ok := budgetErr.(*cost.BudgetError)
	if !ok || be.Err != cost.ErrBudgetApprovalRequired || r.approvals == nil {
		return false, budgetErr
	}

	question := fmt.Sprintf("Workflow cost has reached $%.2f of a $%.2f budget (%.0f%%). Continue?", be.TotalCostUSD, be.BudgetLimitUSD, be.PercentUsed*100)
	resp, err := r.approvals.Request(ctx, workflowID, string(phaseName), question, []string{"approve", "reject"}, map[string]any{
		"total_cost_usd":   be.TotalCostUSD,
		"budget_limit_usd": be.BudgetLimitUSD,
	}, 0, time.Now())
	if err != nil {
		return false, fmt.Errorf("budget approval: %w", err)
	}
	if resp.Decision != "approve" {
		return false, fmt.Errorf("budget approval %s: workflow cancelled at $%.2f", resp.Decision, be.TotalCostUSD)
	}
	return true, nil
}

func toolResultText(res toolexec.Result) string {
	switch res.Status {
	case toolexec.StatusSuccess:
		if res.Body != nil {
			return fmt.Sprintf("%v", res.Body)
		}
		if res.Stdout != "" {
			return res.Stdout
		}
		return "ok"
	default:
		if res.Stderr != "" {
			return fmt.Sprintf("failed: %s", res.Stderr)
		}
		return fmt.Sprintf("failed: exit code %d", res.ExitCode)
	}
}
