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

package phase

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractary/faber/pkg/cost"
	"github.com/fractary/faber/pkg/definitions"
	"github.com/fractary/faber/pkg/llm"
	"github.com/fractary/faber/pkg/toolexec"
	"github.com/fractary/faber/pkg/workflowstate"
)

// scriptedProvider returns one queued Response per Generate call, in
// order, and records every call it received.
type scriptedProvider struct {
	responses []llm.Response
	calls     []struct {
		Messages []llm.Message
		Tools    []llm.ToolSpec
	}
	model string
}

func (p *scriptedProvider) Model() string { return p.model }

func (p *scriptedProvider) Generate(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (llm.Response, error) {
	p.calls = append(p.calls, struct {
		Messages []llm.Message
		Tools    []llm.ToolSpec
	}{messages, tools})
	if len(p.responses) == 0 {
		return llm.Response{}, assert.AnError
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func writeDefFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestRegistry(t *testing.T) *definitions.Registry {
	t.Helper()
	root := t.TempDir()
	writeDefFile(t, filepath.Join(root, ".fractary/agents/frame.yaml"), `
name: frame
system_prompt: You classify the incoming work item.
llm:
  provider: anthropic
  model: claude-sonnet-4-20250514
  temperature: 0.2
  max_tokens: 1024
tools:
  - read_file
`)
	writeDefFile(t, filepath.Join(root, ".fractary/tools/read_file.yaml"), `
name: read_file
description: reads a file from the repo
variant: shell
parameters:
  path:
    type: string
    required: true
shell:
  command_template: "cat ${path}"
  sandbox:
    enabled: true
    command_allowlist:
      - cat
`)
	r := definitions.New(root, nil)
	require.NoError(t, r.Discover())
	return r
}

func newRunnerWithProvider(t *testing.T, provider llm.Provider) (*Runner, *toolexec.Executor) {
	t.Helper()
	executor := toolexec.New(toolexec.NewShellExecutor(), nil, nil)
	r := New(newTestRegistry(t), executor, nil, nil, nil)
	r.newProvider = func(definitions.LLMSelector) (llm.Provider, error) { return provider, nil }
	return r, executor
}

func TestRunner_Run_PlainTextReplyCompletesPhase(t *testing.T) {
	provider := &scriptedProvider{model: "claude-sonnet-4-20250514", responses: []llm.Response{
		{Text: "This looks like a bug fix.\n```json\n{\"work_type\": \"bugfix\", \"work_type_confidence\": 0.9}\n```"},
	}}
	r, _ := newRunnerWithProvider(t, provider)

	st := workflowstate.New("wf-1", "work-1", 10, time.Now())
	next := r.Run(context.Background(), workflowstate.PhaseFrame, "frame", "Classify this work item.", st)

	require.Equal(t, workflowstate.WorkflowStatusRunning, next.Status)
	result, ok := next.PhaseResults[workflowstate.PhaseFrame]
	require.True(t, ok)
	assert.Equal(t, workflowstate.PhaseStatusCompleted, result.Status)
	assert.Equal(t, "bugfix", next.WorkType)
	assert.InDelta(t, 0.9, next.WorkTypeConfidence, 0.0001)
	assert.Len(t, provider.calls, 1)
}

func TestRunner_Run_ToolUseLoopExecutesAndFeedsBackResult(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello"), 0o644))

	provider := &scriptedProvider{model: "claude-sonnet-4-20250514", responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "t1", Name: "read_file", Arguments: map[string]any{"path": filepath.Join(root, "notes.txt")}}}},
		{Text: "Done reading."},
	}}
	r, _ := newRunnerWithProvider(t, provider)

	st := workflowstate.New("wf-1", "work-1", 10, time.Now())
	next := r.Run(context.Background(), workflowstate.PhaseFrame, "frame", "Inspect the file.", st)

	result := next.PhaseResults[workflowstate.PhaseFrame]
	require.Equal(t, workflowstate.PhaseStatusCompleted, result.Status)
	require.Len(t, provider.calls, 2)

	secondCallMessages := provider.calls[1].Messages
	var sawToolResult bool
	for _, m := range secondCallMessages {
		if m.Role == "tool" && m.ToolCallID == "t1" {
			sawToolResult = true
			assert.Contains(t, m.Content, "hello")
		}
	}
	assert.True(t, sawToolResult, "expected a tool-role message echoing the read_file result")
}

func TestRunner_Run_UnknownAgentFailsPhase(t *testing.T) {
	r, _ := newRunnerWithProvider(t, &scriptedProvider{})
	st := workflowstate.New("wf-1", "work-1", 10, time.Now())

	next := r.Run(context.Background(), workflowstate.PhaseFrame, "does-not-exist", "task", st)

	assert.Equal(t, workflowstate.WorkflowStatusFailed, next.Status)
	assert.Equal(t, workflowstate.PhaseFrame, next.ErrorPhase)
	result := next.PhaseResults[workflowstate.PhaseFrame]
	assert.Equal(t, workflowstate.PhaseStatusFailed, result.Status)
}

func TestRunner_Run_ExceedingMaxIterationsFailsPhase(t *testing.T) {
	responses := make([]llm.Response, 0, 3)
	for i := 0; i < 3; i++ {
		responses = append(responses, llm.Response{ToolCalls: []llm.ToolCall{{ID: "t", Name: "read_file", Arguments: map[string]any{"path": "/nonexistent"}}}})
	}
	provider := &scriptedProvider{model: "x", responses: responses}
	r, _ := newRunnerWithProvider(t, provider)
	r.WithMaxIterations(2)

	st := workflowstate.New("wf-1", "work-1", 10, time.Now())
	next := r.Run(context.Background(), workflowstate.PhaseBuild, "frame", "task", st)

	assert.Equal(t, workflowstate.WorkflowStatusFailed, next.Status)
	assert.Contains(t, next.Error, "exceeded")
}

func TestRunner_Run_EvaluatePhaseParsesNoGoBeforeGo(t *testing.T) {
	provider := &scriptedProvider{model: "x", responses: []llm.Response{
		{Text: "After review: Decision: NO-GO, tests are failing."},
	}}
	r, _ := newRunnerWithProvider(t, provider)

	st := workflowstate.New("wf-1", "work-1", 10, time.Now())
	next := r.Run(context.Background(), workflowstate.PhaseEvaluate, "frame", "Evaluate the build.", st)

	assert.Equal(t, workflowstate.EvaluationNoGo, next.EvaluationResult)
}

func TestRunner_Run_CostUsageRecordedWhenTrackerConfigured(t *testing.T) {
	provider := &scriptedProvider{model: "claude-sonnet-4-20250514", responses: []llm.Response{
		{Text: "ok", Usage: llm.Usage{InputTokens: 1000, OutputTokens: 500}},
	}}
	executor := toolexec.New(toolexec.NewShellExecutor(), nil, nil)
	tracker := cost.New("wf-1", cost.Config{BudgetLimitUSD: 100})
	r := New(newTestRegistry(t), executor, tracker, nil, nil)
	r.newProvider = func(definitions.LLMSelector) (llm.Provider, error) { return provider, nil }

	st := workflowstate.New("wf-1", "work-1", 100, time.Now())
	next := r.Run(context.Background(), workflowstate.PhaseFrame, "frame", "task", st)

	assert.Equal(t, int64(1500), next.TotalTokens)
	assert.Greater(t, next.TotalCostUSD, 0.0)
}

func TestToolSpecFor_BuildsJSONSchemaFromParameters(t *testing.T) {
	def := definitions.ToolDefinition{
		Name: "search",
		Parameters: map[string]definitions.ParamDef{
			"query": {Type: definitions.ParamString, Required: true},
			"limit": {Type: definitions.ParamInteger, Default: 10},
		},
	}
	spec := toolSpecFor(def)
	schema := spec.Parameters
	assert.Equal(t, "object", schema["type"])
	props := schema["properties"].(map[string]any)
	assert.Equal(t, "string", props["query"].(map[string]any)["type"])
	required := schema["required"].([]string)
	assert.Contains(t, required, "query")
}

func TestResolveInput_ReadsNestedPhaseOutput(t *testing.T) {
	st := workflowstate.New("wf-1", "work-1", 10, time.Now())
	st = st.WithPhaseResult(workflowstate.PhaseFrame, workflowstate.PhaseResult{
		Status: workflowstate.PhaseStatusCompleted,
		Output: map[string]any{"work_type": "bugfix"},
	}, time.Now())

	value, ok := resolveInput("$frame.work_type", st)
	require.True(t, ok)
	assert.Equal(t, "bugfix", value)

	_, ok = resolveInput("$architect.spec_id", st)
	assert.False(t, ok)
}

func TestExtractOutput_ParsesGoOverNoGoAbsentNegation(t *testing.T) {
	out := extractOutput("Everything passed. Decision: GO")
	assert.Equal(t, "GO", out["decision"])
}
