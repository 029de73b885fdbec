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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractary/faber/pkg/definitions"
	"github.com/fractary/faber/pkg/workflowstate"
)

func TestCompile_LinearPipelineWithConfigAndModelRefs(t *testing.T) {
	doc := WorkflowDocument{
		Models: map[string]string{"fast": "anthropic:claude-haiku-20241022"},
		Config: map[string]any{"repo": "fractary/faber"},
		Phases: []PhaseDocument{
			{Name: "triage", Agent: "frame", Model: "$models.fast", Task: "Triage issues in $config.repo."},
			{Name: "fix", Agent: "build", Inputs: []string{"$triage.work_type"}, Task: "Fix it."},
		},
	}

	wf, err := Compile(doc)
	require.NoError(t, err)

	assert.Equal(t, workflowstate.Phase("triage"), wf.Start)
	triage, ok := wf.Phase("triage")
	require.True(t, ok)
	assert.Equal(t, "Triage issues in fractary/faber.", triage.Task)
	require.NotNil(t, triage.Model)
	assert.Equal(t, definitions.ProviderAnthropic, triage.Model.Provider)
	assert.Equal(t, "claude-haiku-20241022", triage.Model.Model)

	fix, ok := wf.Phase("fix")
	require.True(t, ok)
	assert.Equal(t, []string{"$triage.work_type"}, fix.Inputs)

	// triage is not the last phase, so it transitions to fix.
	assert.Equal(t, workflowstate.Phase("fix"), triage.Transition(workflowstate.New("wf", "w", 1, time.Now())))
	// fix is the last phase, so it ends the workflow.
	assert.Equal(t, workflowstate.PhaseNone, fix.Transition(workflowstate.New("wf", "w", 1, time.Now())))
}

func TestCompile_UnresolvedConfigRefIsCompileError(t *testing.T) {
	doc := WorkflowDocument{
		Phases: []PhaseDocument{
			{Name: "triage", Agent: "frame", Task: "Use $config.missing here."},
		},
	}
	_, err := Compile(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "triage")
}

func TestCompile_UnresolvedModelRefIsCompileError(t *testing.T) {
	doc := WorkflowDocument{
		Phases: []PhaseDocument{
			{Name: "triage", Agent: "frame", Model: "$models.nope", Task: "go"},
		},
	}
	_, err := Compile(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "models")
}

func TestCompile_InputReferencingLaterPhaseIsCompileError(t *testing.T) {
	doc := WorkflowDocument{
		Phases: []PhaseDocument{
			{Name: "triage", Agent: "frame", Inputs: []string{"$fix.result"}, Task: "go"},
			{Name: "fix", Agent: "build", Task: "go"},
		},
	}
	_, err := Compile(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fix")
}

func TestCompile_InputReferencingUndeclaredPhaseIsCompileError(t *testing.T) {
	doc := WorkflowDocument{
		Phases: []PhaseDocument{
			{Name: "triage", Agent: "frame", Task: "go"},
			{Name: "fix", Agent: "build", Inputs: []string{"$ghost.field"}, Task: "go"},
		},
	}
	_, err := Compile(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestCompile_OnFailureRoutesRetryTarget(t *testing.T) {
	doc := WorkflowDocument{
		Phases: []PhaseDocument{
			{Name: "triage", Agent: "frame", Task: "go"},
			{Name: "fix", Agent: "build", Task: "go", OnFailure: "fix", MaxRetries: 3},
		},
	}
	wf, err := Compile(doc)
	require.NoError(t, err)

	fix, ok := wf.Phase("fix")
	require.True(t, ok)
	assert.Equal(t, workflowstate.Phase("fix"), fix.RetryTarget)
	assert.Equal(t, 3, fix.MaxRetries)
}

func TestCompile_UndeclaredOnFailureTargetIsCompileError(t *testing.T) {
	doc := WorkflowDocument{
		Phases: []PhaseDocument{
			{Name: "triage", Agent: "frame", Task: "go", OnFailure: "ghost"},
		},
	}
	_, err := Compile(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestCompile_NoPhasesIsCompileError(t *testing.T) {
	_, err := Compile(WorkflowDocument{})
	require.Error(t, err)
}

