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

package logstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fractary/faber/pkg/workflowstate"
)

// FileStore persists one JSON document per workflow under dir, chosen to
// match spec.md §4.9's "single serialized document per workflow" - unlike
// checkpoint.FileStore's single SQLite file, a log is append-only and read
// as a whole, so a plain JSON file per workflow id needs no schema.
//
// Every mutating call serializes through a single mutex: the owning
// workflow is always the sole writer for its own id (spec.md §5), so this
// never contends across distinct workflows in practice, but guards the
// read-modify-write-file cycle against a concurrent Get/List observing a
// half-written file.
type FileStore struct {
	mu       sync.Mutex
	dir      string
	minLevel Level
}

// NewFileStore ensures dir exists and returns a FileStore rooted there,
// filtering Log entries below minLevel (LevelInfo if empty).
func NewFileStore(dir string, minLevel Level) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logstore: create directory %s: %w", dir, err)
	}
	if minLevel == "" {
		minLevel = LevelInfo
	}
	return &FileStore{dir: dir, minLevel: minLevel}, nil
}

func (f *FileStore) path(workflowID string) string {
	return filepath.Join(f.dir, workflowID+".json")
}

func (f *FileStore) read(workflowID string) (*WorkflowLog, error) {
	data, err := os.ReadFile(f.path(workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("logstore: read %s: %w", workflowID, err)
	}
	var log WorkflowLog
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("logstore: decode %s: %w", workflowID, err)
	}
	return &log, nil
}

func (f *FileStore) write(log *WorkflowLog) error {
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return fmt.Errorf("logstore: encode %s: %w", log.WorkflowID, err)
	}
	tmp := f.path(log.WorkflowID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("logstore: write %s: %w", log.WorkflowID, err)
	}
	return os.Rename(tmp, f.path(log.WorkflowID))
}

func (f *FileStore) StartWorkflow(_ context.Context, workflowID, workID string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(newWorkflowLog(workflowID, workID, now))
}

func (f *FileStore) EndWorkflow(_ context.Context, workflowID string, status workflowstate.WorkflowStatus, summary string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	log, err := f.read(workflowID)
	if err != nil {
		return err
	}
	endWorkflowLog(log, status, summary, now)
	return f.write(log)
}

func (f *FileStore) StartPhase(_ context.Context, workflowID string, phase workflowstate.Phase, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	log, err := f.read(workflowID)
	if err != nil {
		return err
	}
	startPhaseLog(log, phase, now)
	return f.write(log)
}

func (f *FileStore) EndPhase(_ context.Context, workflowID string, phase workflowstate.Phase, status workflowstate.PhaseStatus, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	log, err := f.read(workflowID)
	if err != nil {
		return 0, err
	}
	elapsed, err := endPhaseLog(log, phase, status, now)
	if err != nil {
		return 0, err
	}
	if err := f.write(log); err != nil {
		return 0, err
	}
	return elapsed, nil
}

func (f *FileStore) Log(_ context.Context, workflowID string, level Level, phase workflowstate.Phase, message string, fields map[string]any, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	log, err := f.read(workflowID)
	if err != nil {
		return err
	}
	if !appendLogEntry(log, f.minLevel, level, phase, message, fields, now) {
		return nil
	}
	return f.write(log)
}

func (f *FileStore) Get(_ context.Context, workflowID string) (*WorkflowLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read(workflowID)
}

func (f *FileStore) List(_ context.Context, filter ListFilter) ([]*WorkflowLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("logstore: list %s: %w", f.dir, err)
	}

	matched := make([]*WorkflowLog, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		workflowID := strings.TrimSuffix(e.Name(), ".json")
		log, err := f.read(workflowID)
		if err != nil {
			continue
		}
		if matchesFilter(log, filter) {
			matched = append(matched, log)
		}
	}
	sortWorkflowLogsDesc(matched)
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Close is a no-op for FileStore: every write is already flushed to disk
// synchronously.
func (f *FileStore) Close() error { return nil }
