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

// Package faber is the public entry point C10 names: it wires a
// project's definitions registry, checkpoint store, log store, and
// approval queue into an *engine.Engine and exposes run/resume/cancel
// and the C9 query surface (list/view) as plain Go functions - the
// contract cmd/faber's CLI, and any other Go caller, builds on.
package faber

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fractary/faber/internal/tracing"
	"github.com/fractary/faber/pkg/approval"
	"github.com/fractary/faber/pkg/approval/adapters"
	"github.com/fractary/faber/pkg/checkpoint"
	"github.com/fractary/faber/pkg/config"
	"github.com/fractary/faber/pkg/definitions"
	"github.com/fractary/faber/pkg/engine"
	"github.com/fractary/faber/pkg/logstore"
	"github.com/fractary/faber/pkg/toolexec"
)

// functionExecutorPoolSize bounds the worker pool backing function-variant
// tool dispatch. Not user-configurable: spec.md names no such knob, and a
// fixed small pool is enough for the low concurrency a single workflow's
// tool-use loop generates.
const functionExecutorPoolSize = 4

// Session holds everything one project's workflow runs share: the
// definitions registry, the three C5/C9/C3 stores, and the engine built
// from them. Construct with Open; the zero Session is not usable.
type Session struct {
	ProjectRoot string
	Config      *config.Config

	Definitions *definitions.Registry
	Checkpoints checkpoint.Store
	Logs        logstore.Store
	Approvals   *approval.Queue

	// Engine is the Engine driving the currently in-flight Run/Resume
	// call, if any - guarded by mu so CancelWorkflow can reach it safely
	// from a signal-handler goroutine.
	Engine *engine.Engine
	mu     sync.Mutex
	logger *slog.Logger

	// executor is shared across every phase.Runner built per-run (see
	// run.go) - its worker pool and HTTP client are safe for concurrent
	// use by multiple in-flight phases.
	executor *toolexec.Executor

	// tracer is a no-op provider unless workflow.tracing.enabled is set;
	// buildEngine (run.go) installs it on every per-run Engine/Runner pair.
	tracer *tracing.Provider
}

// Open discovers projectRoot's .fractary/ definitions and constructs the
// stores cfg describes. No engine is built here: each run builds its own
// (see buildEngine in run.go). cfg must already have SetDefaults and
// Validate applied (config.Load does both).
func Open(projectRoot string, cfg *config.Config, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	defs := definitions.New(projectRoot, logger)
	if err := defs.Discover(); err != nil {
		return nil, fmt.Errorf("faber: discover definitions: %w", err)
	}

	checkpoints, err := checkpoint.New(resolveCheckpointConfig(projectRoot, cfg.Workflow.Checkpointing))
	if err != nil {
		return nil, fmt.Errorf("faber: open checkpoint store: %w", err)
	}

	logs, err := logstore.New(logstore.Config{
		Backend: logstore.BackendFile,
		Dir:     filepath.Join(projectRoot, ".faber", "logs"),
	})
	if err != nil {
		checkpoints.Close()
		return nil, fmt.Errorf("faber: open log store: %w", err)
	}

	approvals := approval.NewQueue(logger)
	wireApprovalAdapters(approvals, cfg.Workflow.Approval)

	functionExecutor := toolexec.NewFunctionExecutor(functionExecutorPoolSize)
	registerBuiltinFunctions(functionExecutor, logs)

	executor := toolexec.New(
		toolexec.NewShellExecutor(),
		functionExecutor,
		toolexec.NewHTTPExecutor(),
	)

	tracer, err := tracing.Init(context.Background(), tracing.Config{
		Enabled:      cfg.Workflow.Tracing.Enabled,
		OTLPEndpoint: cfg.Workflow.Tracing.OTLPEndpoint,
		ServiceName:  "faber",
	})
	if err != nil {
		checkpoints.Close()
		logs.Close()
		return nil, fmt.Errorf("faber: init tracer: %w", err)
	}

	return &Session{
		ProjectRoot: projectRoot,
		Config:      cfg,
		Definitions: defs,
		Checkpoints: checkpoints,
		Logs:        logs,
		Approvals:   approvals,
		logger:      logger,
		executor:    executor,
		tracer:      tracer,
	}, nil
}

// resolveCheckpointConfig anchors a relative FilePath at projectRoot -
// the config document's `workflow.checkpointing.file_path` is written
// relative to the project, matching spec.md §6's documented layout
// (`<project>/.faber/checkpoints.<ext>`).
func resolveCheckpointConfig(projectRoot string, cc config.CheckpointingConfig) checkpoint.Config {
	out := checkpoint.Config{
		Backend:     checkpoint.Backend(cc.Backend),
		FilePath:    cc.FilePath,
		Endpoints:   cc.Network.EtcdEndpoints,
		KeyPrefix:   cc.Network.KeyPrefix,
		DialTimeout: cc.Network.DialTimeout,
	}
	if out.FilePath != "" && !filepath.IsAbs(out.FilePath) {
		out.FilePath = filepath.Join(projectRoot, out.FilePath)
	}
	return out
}

// wireApprovalAdapters registers the channel adapters a project's
// approval config names. "cli" needs no credentials and is always safe
// to register; "slack" reads its bot token and channel id from the
// environment, the same credential-via-env pattern pkg/config/env.go's
// GetProviderAPIKey uses for LLM provider keys. "github" and "web" are
// left unregistered here: github needs a provider.RepoProvider client
// bound to a specific issue/PR per workflow (cmd/faber's one-shot CLI
// has no config field for that mapping yet) and web needs an HTTP
// server to mount its endpoints on - a long-running server embedding
// this package can register either directly via
// Session.Approvals.RegisterAdapter.
func wireApprovalAdapters(q *approval.Queue, cfg config.ApprovalConfig) {
	wanted := make(map[string]bool)
	for _, name := range cfg.NotifyChannels {
		wanted[name] = true
	}
	for _, name := range cfg.ResponseChannels {
		wanted[name] = true
	}
	if len(wanted) == 0 {
		wanted["cli"] = true
	}

	if wanted["cli"] {
		q.RegisterAdapter(adapters.NewCLI(os.Stdin, os.Stdout))
	}
	if wanted["slack"] {
		token := os.Getenv("SLACK_BOT_TOKEN")
		channel := os.Getenv("SLACK_CHANNEL_ID")
		if token != "" && channel != "" {
			q.RegisterAdapter(adapters.NewSlack(token, channel))
		}
	}
}

// Close releases the session's stores. The approval queue and engine
// hold no closeable resources of their own.
func (s *Session) Close() error {
	var firstErr error
	if err := s.Logs.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.Checkpoints.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.tracer.Shutdown(context.Background()); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
