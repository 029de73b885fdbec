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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractary/faber/pkg/config"
	"github.com/fractary/faber/pkg/workflowstate"
)

func writeDefFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	path := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, name := range []string{"frame", "architect", "build", "evaluate", "release"} {
		writeDefFile(t, root, ".fractary/agents/"+name+".yaml", `
name: `+name+`
llm:
  provider: anthropic
  model: claude-sonnet-4-20250514
  temperature: 0.2
  max_tokens: 1024
`)
	}
	return root
}

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Workflow.Checkpointing.Backend = "memory"
	return cfg
}

func TestOpen_DiscoversDefinitionsAndConstructsStores(t *testing.T) {
	root := newTestProject(t)
	s, err := Open(root, newTestConfig(), nil)
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.Definitions.GetAgent("frame")
	assert.True(t, ok)
	assert.NotNil(t, s.Checkpoints)
	assert.NotNil(t, s.Logs)
	assert.NotNil(t, s.Approvals)
}

func TestValidateDefinitions_ReportsMalformedFiles(t *testing.T) {
	root := newTestProject(t)
	writeDefFile(t, root, ".fractary/agents/broken.yaml", "")

	s, err := Open(root, newTestConfig(), nil)
	require.NoError(t, err)
	defer s.Close()

	errs := s.ValidateDefinitions()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "broken.yaml")
}

func TestBuildWorkflow_BuiltinAppliesHumanApprovalAndModelOverrides(t *testing.T) {
	root := newTestProject(t)
	cfg := newTestConfig()
	cfg.Workflow.Autonomy = config.AutonomyGuarded
	cfg.Workflow.Models = map[string]string{"build": "openai:gpt-4o"}

	s, err := Open(root, cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	wf, err := s.buildWorkflow(RunOptions{})
	require.NoError(t, err)

	release, _ := wf.Phase(workflowstate.PhaseRelease)
	assert.True(t, release.HumanApproval)

	build, _ := wf.Phase(workflowstate.PhaseBuild)
	require.NotNil(t, build.Model)
	assert.Equal(t, "gpt-4o", build.Model.Model)
}

func TestBuildWorkflow_CustomDocumentCompiles(t *testing.T) {
	root := newTestProject(t)
	doc := `
phases:
  - name: frame
    agent: frame
    task: classify
  - name: release
    agent: release
    task: release it
`
	docPath := filepath.Join(root, "workflow.yaml")
	require.NoError(t, os.WriteFile(docPath, []byte(doc), 0o644))

	s, err := Open(root, newTestConfig(), nil)
	require.NoError(t, err)
	defer s.Close()

	wf, err := s.buildWorkflow(RunOptions{WorkflowPath: docPath})
	require.NoError(t, err)
	assert.Equal(t, workflowstate.Phase("frame"), wf.Start)
}

func TestListAndViewWorkflows_EmptyLogStore(t *testing.T) {
	root := newTestProject(t)
	s, err := Open(root, newTestConfig(), nil)
	require.NoError(t, err)
	defer s.Close()

	logs, err := s.ListWorkflows(context.Background(), "", "", 0)
	require.NoError(t, err)
	assert.Empty(t, logs)

	_, err = s.ViewWorkflow(context.Background(), "WF-nonexistent")
	assert.Error(t, err)
}

func TestCancelWorkflow_NoActiveRunIsNoop(t *testing.T) {
	root := newTestProject(t)
	s, err := Open(root, newTestConfig(), nil)
	require.NoError(t, err)
	defer s.Close()

	s.CancelWorkflow("WF-does-not-exist")
}

func TestNewWorkflowID_ProducesDistinctIDs(t *testing.T) {
	a, err := newWorkflowID()
	require.NoError(t, err)
	b, err := newWorkflowID()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^WF-[0-9a-f]{8}$`, a)
}
