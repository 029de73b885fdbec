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

import "time"

// Autonomy selects which phases require a human-approval gate by default.
type Autonomy string

const (
	// AutonomyAssisted requires approval before every phase.
	AutonomyAssisted Autonomy = "assisted"
	// AutonomyGuarded requires approval only before release (the default).
	AutonomyGuarded Autonomy = "guarded"
	// AutonomyAutonomous never requires approval.
	AutonomyAutonomous Autonomy = "autonomous"
)

// WorkflowConfig is the `workflow.*` section of the project configuration
// document - spec.md §6's external-interface table.
type WorkflowConfig struct {
	// Autonomy selects which phases require human approval absent an
	// explicit HumanApproval override for that phase. Default: guarded.
	Autonomy Autonomy `yaml:"autonomy,omitempty" mapstructure:"autonomy"`

	// MaxRetries bounds the evaluate -> build retry loop. Default: 2.
	MaxRetries int `yaml:"max_retries,omitempty" mapstructure:"max_retries"`

	// Models maps a phase name to a `provider:model-name` selector,
	// overriding that phase's agent definition's own LLM selector.
	Models map[string]string `yaml:"models,omitempty" mapstructure:"models"`

	// HumanApproval maps a phase name to an explicit approval-gate
	// override, taking precedence over the Autonomy-derived default.
	HumanApproval map[string]bool `yaml:"human_approval,omitempty" mapstructure:"human_approval"`

	Approval      ApprovalConfig      `yaml:"approval,omitempty" mapstructure:"approval"`
	Checkpointing CheckpointingConfig `yaml:"checkpointing,omitempty" mapstructure:"checkpointing"`
	Cost          CostConfig          `yaml:"cost,omitempty" mapstructure:"cost"`
	Tracing       TracingConfig       `yaml:"tracing,omitempty" mapstructure:"tracing"`
}

// ApprovalConfig configures how the approval queue notifies and collects
// human decisions.
type ApprovalConfig struct {
	// NotifyChannels lists adapter channel names used to send approval
	// requests (e.g. "slack", "cli").
	NotifyChannels []string `yaml:"notify_channels,omitempty" mapstructure:"notify_channels"`
	// ResponseChannels lists adapter channel names polled for a decision.
	ResponseChannels []string `yaml:"response_channels,omitempty" mapstructure:"response_channels"`
	// TimeoutMinutes bounds how long a request waits before expiring.
	// Default: 60.
	TimeoutMinutes int `yaml:"timeout_minutes,omitempty" mapstructure:"timeout_minutes"`
}

// CheckpointingConfig selects and configures the checkpoint backend,
// mirroring pkg/checkpoint.Config's shape under the project config's
// naming (`workflow.checkpointing.*`).
type CheckpointingConfig struct {
	// Backend is one of "memory", "file", "network". Default: "file".
	Backend string `yaml:"backend,omitempty" mapstructure:"backend"`

	// FilePath is used when Backend is "file".
	// Default: "<project>/.faber/checkpoints.db".
	FilePath string `yaml:"file_path,omitempty" mapstructure:"file_path"`

	Network NetworkBackendConfig `yaml:"network,omitempty" mapstructure:"network"`
}

// NetworkBackendConfig configures the etcd-backed checkpoint and log
// store backends.
type NetworkBackendConfig struct {
	// EtcdEndpoints lists etcd cluster endpoints.
	EtcdEndpoints []string `yaml:"etcd_endpoints,omitempty" mapstructure:"etcd_endpoints"`
	// KeyPrefix namespaces keys within the etcd keyspace.
	KeyPrefix string `yaml:"key_prefix,omitempty" mapstructure:"key_prefix"`
	// DialTimeout bounds the initial etcd connection attempt.
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty" mapstructure:"dial_timeout"`
}

// CostConfig configures the cost tracker's budget thresholds.
type CostConfig struct {
	// BudgetLimitUSD <= 0 disables budget enforcement (not recommended).
	BudgetLimitUSD float64 `yaml:"budget_limit_usd,omitempty" mapstructure:"budget_limit_usd"`
	// WarningThreshold is a fraction in (0, 1). Default: 0.8.
	WarningThreshold float64 `yaml:"warning_threshold,omitempty" mapstructure:"warning_threshold"`
	// RequireApprovalAt is a fraction in (0, 1). Default: 0.9.
	RequireApprovalAt float64 `yaml:"require_approval_at,omitempty" mapstructure:"require_approval_at"`
}

// TracingConfig configures internal/tracing's OpenTelemetry exporter -
// SPEC_FULL.md's addition to spec.md §6's external interfaces.
type TracingConfig struct {
	// Enabled turns on span emission for phase runs and tool calls.
	Enabled bool `yaml:"enabled,omitempty" mapstructure:"enabled"`
	// OTLPEndpoint is the OTLP collector address (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" mapstructure:"otlp_endpoint"`
}

// ObservabilityConfig is the `observability.*` section.
type ObservabilityConfig struct {
	Langsmith LangsmithConfig `yaml:"langsmith,omitempty" mapstructure:"langsmith"`
}

// LangsmithConfig configures LangSmith run logging. There is no Go
// LangSmith SDK in the example pack (it is a Python-first product), so
// this struct is config surface only - internal/tracing's OTLP exporter
// is the realized observability backend; see DESIGN.md.
type LangsmithConfig struct {
	Enabled bool   `yaml:"enabled,omitempty" mapstructure:"enabled"`
	Project string `yaml:"project,omitempty" mapstructure:"project"`
}
