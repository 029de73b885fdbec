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
	"sync"
	"time"

	"github.com/fractary/faber/pkg/workflowstate"
)

// MemoryStore is an in-process Store guarded by a RWMutex. It holds no
// durability guarantee across process restarts and exists for tests and
// single-shot CLI invocations that don't need historical log queries.
type MemoryStore struct {
	mu       sync.RWMutex
	logs     map[string]*WorkflowLog
	minLevel Level
}

// NewMemoryStore constructs an empty MemoryStore filtering below minLevel
// (LevelInfo if empty).
func NewMemoryStore(minLevel Level) *MemoryStore {
	if minLevel == "" {
		minLevel = LevelInfo
	}
	return &MemoryStore{logs: make(map[string]*WorkflowLog), minLevel: minLevel}
}

func (m *MemoryStore) StartWorkflow(_ context.Context, workflowID, workID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[workflowID] = newWorkflowLog(workflowID, workID, now)
	return nil
}

func (m *MemoryStore) EndWorkflow(_ context.Context, workflowID string, status workflowstate.WorkflowStatus, summary string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.logs[workflowID]
	if !ok {
		return ErrNotFound
	}
	endWorkflowLog(log, status, summary, now)
	return nil
}

func (m *MemoryStore) StartPhase(_ context.Context, workflowID string, phase workflowstate.Phase, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.logs[workflowID]
	if !ok {
		return ErrNotFound
	}
	startPhaseLog(log, phase, now)
	return nil
}

func (m *MemoryStore) EndPhase(_ context.Context, workflowID string, phase workflowstate.Phase, status workflowstate.PhaseStatus, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.logs[workflowID]
	if !ok {
		return 0, ErrNotFound
	}
	return endPhaseLog(log, phase, status, now)
}

func (m *MemoryStore) Log(_ context.Context, workflowID string, level Level, phase workflowstate.Phase, message string, fields map[string]any, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.logs[workflowID]
	if !ok {
		return ErrNotFound
	}
	appendLogEntry(log, m.minLevel, level, phase, message, fields, now)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, workflowID string) (*WorkflowLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	log, ok := m.logs[workflowID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneWorkflowLog(log), nil
}

func (m *MemoryStore) List(_ context.Context, filter ListFilter) ([]*WorkflowLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*WorkflowLog, 0, len(m.logs))
	for _, log := range m.logs {
		if matchesFilter(log, filter) {
			matched = append(matched, cloneWorkflowLog(log))
		}
	}
	sortWorkflowLogsDesc(matched)
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Close is a no-op for MemoryStore.
func (m *MemoryStore) Close() error { return nil }
