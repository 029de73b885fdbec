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

// Package logstore provides an append-only, per-workflow log: level-filtered
// entries plus phase start/end timings, persisted as one document per
// workflow id. Three interchangeable backends satisfy the same Store
// contract, mirroring pkg/checkpoint: an in-memory map for tests, a JSON
// file per workflow for standalone deployments, and an etcd-backed store
// for deployments that already run etcd for coordination. Unlike
// checkpoint.Store, a workflow log is append-only - entries accumulate
// rather than being overwritten - and tolerates concurrent summary reads
// while its owning workflow is still appending.
package logstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fractary/faber/pkg/workflowstate"
)

// ErrNotFound is returned by Get when no log exists for the workflow id.
var ErrNotFound = errors.New("logstore: not found")

// Level is the severity of a single log Entry, filtered against a Store's
// configured minimum level.
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// levelRank orders Level for minimum-level filtering; higher is more severe.
var levelRank = map[Level]int{
	LevelDebug:    0,
	LevelInfo:     1,
	LevelWarning:  2,
	LevelError:    3,
	LevelCritical: 4,
}

// Rank returns l's severity rank, or -1 for an unrecognized level.
func (l Level) Rank() int {
	r, ok := levelRank[l]
	if !ok {
		return -1
	}
	return r
}

// Entry is one level-filtered log line recorded against a workflow,
// optionally scoped to the phase running when it was logged.
type Entry struct {
	Time    time.Time         `json:"time"`
	Level   Level             `json:"level"`
	Phase   workflowstate.Phase `json:"phase,omitempty"`
	Message string            `json:"message"`
	Fields  map[string]any    `json:"fields,omitempty"`
}

// PhaseTiming records one phase's start/end and the elapsed duration
// between them, measured by a monotonic clock (time.Since on the
// recorded start instant).
type PhaseTiming struct {
	Phase      workflowstate.Phase      `json:"phase"`
	Status     workflowstate.PhaseStatus `json:"status,omitempty"`
	StartedAt  time.Time                `json:"started_at"`
	EndedAt    time.Time                `json:"ended_at,omitempty"`
	DurationMS int64                    `json:"duration_ms,omitempty"`
}

// WorkflowLog is the complete append-only record for one workflow run.
type WorkflowLog struct {
	WorkflowID string                        `json:"workflow_id"`
	WorkID     string                         `json:"work_id,omitempty"`
	Status     workflowstate.WorkflowStatus   `json:"status"`
	Summary    string                         `json:"summary,omitempty"`
	StartedAt  time.Time                      `json:"started_at"`
	EndedAt    time.Time                      `json:"ended_at,omitempty"`
	Phases     []PhaseTiming                  `json:"phases,omitempty"`
	Entries    []Entry                        `json:"entries,omitempty"`
}

// ListFilter narrows List's results.
type ListFilter struct {
	// Status, if non-empty, restricts results to workflows currently at
	// this status.
	Status workflowstate.WorkflowStatus
	// WorkID, if non-empty, restricts results to workflows started for
	// this work item.
	WorkID string
	// Limit caps the number of results returned. Zero means unlimited.
	Limit int
}

// Store is the append-only, per-workflow log C8's engine.LogSink
// interface is satisfied by. StartPhase/EndPhase/StartWorkflow/EndWorkflow
// are the engine's write path; Log records a level-filtered line; Get and
// List are the read path for a CLI or API surface.
//
// Implementations must tolerate a concurrent List/Get observing a
// WorkflowLog mid-append: the owning workflow is always the sole writer
// (spec.md §5), so a reader only ever needs a consistent snapshot, never
// a lock against the writer.
type Store interface {
	StartWorkflow(ctx context.Context, workflowID, workID string, now time.Time) error
	EndWorkflow(ctx context.Context, workflowID string, status workflowstate.WorkflowStatus, summary string, now time.Time) error
	StartPhase(ctx context.Context, workflowID string, phase workflowstate.Phase, now time.Time) error
	EndPhase(ctx context.Context, workflowID string, phase workflowstate.Phase, status workflowstate.PhaseStatus, now time.Time) (int64, error)

	// Log appends one level-filtered entry. Entries below the Store's
	// configured minimum level are dropped silently, matching spec.md
	// §4.9's "level-filtered logging against a configurable minimum level".
	Log(ctx context.Context, workflowID string, level Level, phase workflowstate.Phase, message string, fields map[string]any, now time.Time) error

	// Get returns the full log for workflowID, or ErrNotFound.
	Get(ctx context.Context, workflowID string) (*WorkflowLog, error)

	// List returns logs matching filter, most recently started first.
	List(ctx context.Context, filter ListFilter) ([]*WorkflowLog, error)

	// Close releases any resources held by the store.
	Close() error
}

// Backend selects which Store implementation to construct.
type Backend string

const (
	// BackendMemory keeps logs in an in-process map. Not durable across
	// restarts; suitable for tests and single-shot CLI runs.
	BackendMemory Backend = "memory"

	// BackendFile persists one JSON document per workflow under
	// <project>/.faber/logs/<workflow_id>.json.
	BackendFile Backend = "file"

	// BackendNetwork persists logs to an etcd cluster.
	BackendNetwork Backend = "network"
)

// Config selects and configures a logstore Store.
type Config struct {
	Backend Backend `yaml:"backend,omitempty" mapstructure:"backend"`

	// Dir is the directory holding one JSON file per workflow, used when
	// Backend is BackendFile. Default: ".faber/logs", relative to the
	// process's working directory.
	Dir string `yaml:"dir,omitempty" mapstructure:"dir"`

	// Endpoints lists etcd cluster endpoints, used when Backend is
	// BackendNetwork.
	Endpoints []string `yaml:"endpoints,omitempty" mapstructure:"endpoints"`

	// KeyPrefix namespaces log keys within the etcd keyspace.
	// Default: "/faber/logs/".
	KeyPrefix string `yaml:"key_prefix,omitempty" mapstructure:"key_prefix"`

	// DialTimeout bounds the initial etcd connection attempt.
	// Default: 5s.
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty" mapstructure:"dial_timeout"`

	// MinLevel is the lowest Level recorded by Log; entries below it are
	// dropped. Default: LevelInfo.
	MinLevel Level `yaml:"min_level,omitempty" mapstructure:"min_level"`
}

// SetDefaults applies default values to an unset Config.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.Dir == "" {
		c.Dir = ".faber/logs"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "/faber/logs/"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.MinLevel == "" {
		c.MinLevel = LevelInfo
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, "":
		return nil
	case BackendFile:
		if c.Dir == "" {
			return fmt.Errorf("logstore: file backend requires dir")
		}
		return nil
	case BackendNetwork:
		if len(c.Endpoints) == 0 {
			return fmt.Errorf("logstore: network backend requires at least one endpoint")
		}
		return nil
	default:
		return fmt.Errorf("logstore: unknown backend %q (valid: memory, file, network)", c.Backend)
	}
}

// New constructs the Store named by cfg.Backend.
func New(cfg Config) (Store, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(cfg.MinLevel), nil
	case BackendFile:
		return NewFileStore(cfg.Dir, cfg.MinLevel)
	case BackendNetwork:
		return NewNetworkStore(cfg.Endpoints, cfg.KeyPrefix, cfg.DialTimeout, cfg.MinLevel)
	default:
		return nil, fmt.Errorf("logstore: unknown backend %q", cfg.Backend)
	}
}
