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

// Package checkpoint provides durable, keyed persistence of workflow state.
//
// A checkpoint is a (workflow_id, serialized state) pair stored under a
// logical thread id. The engine writes a checkpoint before each phase
// (ahead of any human-approval wait) and after each phase, never in the
// middle of a phase, and overwrites the previous checkpoint in place -
// only the latest value for a thread id is ever authoritative. Three interchangeable backends satisfy the same
// Store contract: an in-memory map for tests, an embedded single-file
// store for standalone deployments, and a network-managed KV store for
// deployments that already run etcd for coordination.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when no checkpoint exists for the thread id.
var ErrNotFound = errors.New("checkpoint: not found")

// Checkpoint is the durable record written for a thread id.
type Checkpoint struct {
	ThreadID   string    `json:"thread_id"`
	WorkflowID string    `json:"workflow_id"`
	State      []byte    `json:"state"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store persists and retrieves checkpoints keyed by a logical thread id.
//
// Put must be durable before it returns: once Put returns without error, a
// fresh process calling Get with the same thread id observes the write.
// Put is atomic per call - a concurrent Get sees either the pre- or
// post-value, never a torn write. Get on an unknown thread id returns
// ErrNotFound.
type Store interface {
	// Put writes state for threadID, overwriting any prior checkpoint.
	Put(ctx context.Context, threadID, workflowID string, state []byte) error

	// Get returns the most recent checkpoint for threadID, or ErrNotFound.
	Get(ctx context.Context, threadID string) (*Checkpoint, error)

	// Close releases any resources held by the store.
	Close() error
}

// Backend selects which Store implementation to construct.
type Backend string

const (
	// BackendMemory keeps checkpoints in an in-process map. Not durable
	// across restarts; suitable for tests and single-shot CLI runs.
	BackendMemory Backend = "memory"

	// BackendFile persists checkpoints to a single SQLite file on disk.
	BackendFile Backend = "file"

	// BackendNetwork persists checkpoints to an etcd cluster.
	BackendNetwork Backend = "network"
)

// Config selects and configures a checkpoint Store.
type Config struct {
	Backend Backend `yaml:"backend,omitempty" mapstructure:"backend"`

	// FilePath is the SQLite database path, used when Backend is
	// BackendFile. Default: "<project>/.faber/checkpoints.db".
	FilePath string `yaml:"file_path,omitempty" mapstructure:"file_path"`

	// Endpoints lists etcd cluster endpoints, used when Backend is
	// BackendNetwork.
	Endpoints []string `yaml:"endpoints,omitempty" mapstructure:"endpoints"`

	// KeyPrefix namespaces checkpoint keys within the etcd keyspace.
	// Default: "/faber/checkpoints/".
	KeyPrefix string `yaml:"key_prefix,omitempty" mapstructure:"key_prefix"`

	// DialTimeout bounds the initial etcd connection attempt.
	// Default: 5s.
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty" mapstructure:"dial_timeout"`
}

// SetDefaults applies default values to an unset Config.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.FilePath == "" {
		c.FilePath = ".faber/checkpoints.db"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "/faber/checkpoints/"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, "":
		return nil
	case BackendFile:
		if c.FilePath == "" {
			return fmt.Errorf("checkpoint: file backend requires file_path")
		}
		return nil
	case BackendNetwork:
		if len(c.Endpoints) == 0 {
			return fmt.Errorf("checkpoint: network backend requires at least one endpoint")
		}
		return nil
	default:
		return fmt.Errorf("checkpoint: unknown backend %q (valid: memory, file, network)", c.Backend)
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
		return NewMemoryStore(), nil
	case BackendFile:
		return NewFileStore(cfg.FilePath)
	case BackendNetwork:
		return NewNetworkStore(cfg.Endpoints, cfg.KeyPrefix, cfg.DialTimeout)
	default:
		return nil, fmt.Errorf("checkpoint: unknown backend %q", cfg.Backend)
	}
}
