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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractary/faber/pkg/definitions"
	"github.com/fractary/faber/pkg/workflowstate"
)

func builtinAgents() map[workflowstate.Phase]string {
	return map[workflowstate.Phase]string{
		workflowstate.PhaseFrame:     "frame",
		workflowstate.PhaseArchitect: "architect",
		workflowstate.PhaseBuild:     "build",
		workflowstate.PhaseEvaluate:  "evaluate",
		workflowstate.PhaseRelease:   "release",
	}
}

func TestWorkflow_ApplyHumanApprovalSetsGatesPerPhase(t *testing.T) {
	wf := Builtin(builtinAgents(), 2)

	wf.ApplyHumanApproval(func(phase workflowstate.Phase) bool {
		return phase == workflowstate.PhaseRelease
	})

	release, _ := wf.Phase(workflowstate.PhaseRelease)
	assert.True(t, release.HumanApproval)

	build, _ := wf.Phase(workflowstate.PhaseBuild)
	assert.False(t, build.HumanApproval)
}

func TestWorkflow_ApplyModelOverridesSetsSelectorForNonEmptyEntries(t *testing.T) {
	wf := Builtin(builtinAgents(), 2)

	err := wf.ApplyModelOverrides(func(phase workflowstate.Phase) string {
		if phase == workflowstate.PhaseBuild {
			return "anthropic:claude-sonnet-4-20250514"
		}
		return ""
	})
	require.NoError(t, err)

	build, _ := wf.Phase(workflowstate.PhaseBuild)
	require.NotNil(t, build.Model)
	assert.Equal(t, definitions.ProviderAnthropic, build.Model.Provider)
	assert.Equal(t, "claude-sonnet-4-20250514", build.Model.Model)

	frame, _ := wf.Phase(workflowstate.PhaseFrame)
	assert.Nil(t, frame.Model)
}

func TestWorkflow_ApplyModelOverridesRejectsMalformedValue(t *testing.T) {
	wf := Builtin(builtinAgents(), 2)

	err := wf.ApplyModelOverrides(func(phase workflowstate.Phase) string {
		if phase == workflowstate.PhaseFrame {
			return "not-a-valid-selector"
		}
		return ""
	})
	assert.Error(t, err)
}
