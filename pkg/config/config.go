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

// Package config loads and validates the project-level FABER configuration
// document (`.faber/config.yaml`): the `workflow.*` and
// `observability.*` sections spec.md §6 names. Agent, tool, and LLM
// definitions live under `.fractary/agents/` and `.fractary/tools/` and
// are owned by pkg/definitions, not this package - this is deliberately
// the narrower of the two: one document describing how a workflow runs,
// not what it runs with.
package config

import "fmt"

// Config is the root of the project configuration document.
type Config struct {
	Workflow      WorkflowConfig      `yaml:"workflow,omitempty" mapstructure:"workflow"`
	Observability ObservabilityConfig `yaml:"observability,omitempty" mapstructure:"observability"`
}

const (
	defaultMaxRetries             = 2
	defaultApprovalTimeoutMinutes = 60
	defaultCheckpointFilePath     = ".faber/checkpoints.db"
	defaultWarningThreshold       = 0.8
	defaultRequireApprovalAt      = 0.9
)

// SetDefaults fills in every unset field with its documented default.
func (c *Config) SetDefaults() {
	if c.Workflow.Autonomy == "" {
		c.Workflow.Autonomy = AutonomyGuarded
	}
	if c.Workflow.MaxRetries == 0 {
		c.Workflow.MaxRetries = defaultMaxRetries
	}
	if c.Workflow.Approval.TimeoutMinutes == 0 {
		c.Workflow.Approval.TimeoutMinutes = defaultApprovalTimeoutMinutes
	}
	if c.Workflow.Checkpointing.Backend == "" {
		c.Workflow.Checkpointing.Backend = "file"
	}
	if c.Workflow.Checkpointing.FilePath == "" {
		c.Workflow.Checkpointing.FilePath = defaultCheckpointFilePath
	}
	if c.Workflow.Cost.WarningThreshold == 0 {
		c.Workflow.Cost.WarningThreshold = defaultWarningThreshold
	}
	if c.Workflow.Cost.RequireApprovalAt == 0 {
		c.Workflow.Cost.RequireApprovalAt = defaultRequireApprovalAt
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	var errs []string

	switch c.Workflow.Autonomy {
	case AutonomyAssisted, AutonomyGuarded, AutonomyAutonomous:
	default:
		errs = append(errs, fmt.Sprintf("workflow.autonomy: invalid value %q (want assisted, guarded, or autonomous)", c.Workflow.Autonomy))
	}

	if c.Workflow.MaxRetries < 0 {
		errs = append(errs, "workflow.max_retries: must be non-negative")
	}

	switch c.Workflow.Checkpointing.Backend {
	case "memory", "file", "":
	case "network":
		if len(c.Workflow.Checkpointing.Network.EtcdEndpoints) == 0 {
			errs = append(errs, "workflow.checkpointing.network: requires at least one etcd_endpoints entry")
		}
	default:
		errs = append(errs, fmt.Sprintf("workflow.checkpointing.backend: invalid value %q", c.Workflow.Checkpointing.Backend))
	}

	if t := c.Workflow.Cost.WarningThreshold; t != 0 && (t <= 0 || t >= 1) {
		errs = append(errs, "workflow.cost.warning_threshold: must be in (0, 1)")
	}
	if t := c.Workflow.Cost.RequireApprovalAt; t != 0 && (t <= 0 || t >= 1) {
		errs = append(errs, "workflow.cost.require_approval_at: must be in (0, 1)")
	}

	if c.Workflow.Tracing.Enabled && c.Workflow.Tracing.OTLPEndpoint == "" {
		errs = append(errs, "workflow.tracing.otlp_endpoint: required when workflow.tracing.enabled is true")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", joinLines(errs))
	}
	return nil
}

func joinLines(errs []string) string {
	out := errs[0]
	for _, e := range errs[1:] {
		out += "\n  - " + e
	}
	return out
}

// ModelFor returns the `provider:model-name` override configured for
// phase, or "" if the phase has no override (the agent definition's own
// selector applies unchanged).
func (c *Config) ModelFor(phase string) string {
	return c.Workflow.Models[phase]
}

// HumanApprovalFor reports whether phase requires a human-approval gate,
// applying an explicit `workflow.human_approval.<phase>` override if
// present, otherwise deriving it from Autonomy: assisted gates every
// phase, guarded gates only release, autonomous gates nothing.
func (c *Config) HumanApprovalFor(phase string) bool {
	if v, ok := c.Workflow.HumanApproval[phase]; ok {
		return v
	}
	switch c.Workflow.Autonomy {
	case AutonomyAssisted:
		return true
	case AutonomyAutonomous:
		return false
	default: // AutonomyGuarded
		return phase == "release"
	}
}
