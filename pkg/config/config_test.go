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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_SetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	assert.Equal(t, AutonomyGuarded, cfg.Workflow.Autonomy)
	assert.Equal(t, defaultMaxRetries, cfg.Workflow.MaxRetries)
	assert.Equal(t, defaultApprovalTimeoutMinutes, cfg.Workflow.Approval.TimeoutMinutes)
	assert.Equal(t, "file", cfg.Workflow.Checkpointing.Backend)
	assert.Equal(t, defaultCheckpointFilePath, cfg.Workflow.Checkpointing.FilePath)
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid guarded", Config{Workflow: WorkflowConfig{Autonomy: AutonomyGuarded}}, false},
		{"invalid autonomy", Config{Workflow: WorkflowConfig{Autonomy: "reckless"}}, true},
		{"negative retries", Config{Workflow: WorkflowConfig{Autonomy: AutonomyGuarded, MaxRetries: -1}}, true},
		{
			"network backend without endpoints",
			Config{Workflow: WorkflowConfig{Autonomy: AutonomyGuarded, Checkpointing: CheckpointingConfig{Backend: "network"}}},
			true,
		},
		{
			"network backend with endpoints",
			Config{Workflow: WorkflowConfig{Autonomy: AutonomyGuarded, Checkpointing: CheckpointingConfig{
				Backend: "network", Network: NetworkBackendConfig{EtcdEndpoints: []string{"localhost:2379"}},
			}}},
			false,
		},
		{
			"tracing enabled without endpoint",
			Config{Workflow: WorkflowConfig{Autonomy: AutonomyGuarded, Tracing: TracingConfig{Enabled: true}}},
			true,
		},
		{
			"warning threshold out of range",
			Config{Workflow: WorkflowConfig{Autonomy: AutonomyGuarded, Cost: CostConfig{WarningThreshold: 1.5}}},
			true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_HumanApprovalFor(t *testing.T) {
	guarded := &Config{Workflow: WorkflowConfig{Autonomy: AutonomyGuarded}}
	assert.False(t, guarded.HumanApprovalFor("build"))
	assert.True(t, guarded.HumanApprovalFor("release"))

	assisted := &Config{Workflow: WorkflowConfig{Autonomy: AutonomyAssisted}}
	assert.True(t, assisted.HumanApprovalFor("frame"))

	autonomous := &Config{Workflow: WorkflowConfig{Autonomy: AutonomyAutonomous}}
	assert.False(t, autonomous.HumanApprovalFor("release"))

	overridden := &Config{Workflow: WorkflowConfig{
		Autonomy:      AutonomyAutonomous,
		HumanApproval: map[string]bool{"build": true},
	}}
	assert.True(t, overridden.HumanApprovalFor("build"))
}

func TestConfig_ModelFor(t *testing.T) {
	cfg := &Config{Workflow: WorkflowConfig{Models: map[string]string{"build": "anthropic:claude-sonnet-4-20250514"}}}
	assert.Equal(t, "anthropic:claude-sonnet-4-20250514", cfg.ModelFor("build"))
	assert.Equal(t, "", cfg.ModelFor("frame"))
}

func TestLoad_ExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("FABER_BUDGET", "25.5")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := `
workflow:
  autonomy: assisted
  max_retries: 3
  models:
    build: "anthropic:claude-sonnet-4-20250514"
  cost:
    budget_limit_usd: ${FABER_BUDGET}
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, AutonomyAssisted, cfg.Workflow.Autonomy)
	assert.Equal(t, 3, cfg.Workflow.MaxRetries)
	assert.Equal(t, "anthropic:claude-sonnet-4-20250514", cfg.Workflow.Models["build"])
	assert.Equal(t, 25.5, cfg.Workflow.Cost.BudgetLimitUSD)
}

func TestLoad_InvalidDocumentFailsValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workflow:\n  autonomy: reckless\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
