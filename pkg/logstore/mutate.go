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
	"fmt"
	"sort"
	"time"

	"github.com/fractary/faber/pkg/workflowstate"
)

// newWorkflowLog starts a fresh WorkflowLog, used identically by every
// backend so StartWorkflow's semantics never drift between them.
func newWorkflowLog(workflowID, workID string, now time.Time) *WorkflowLog {
	return &WorkflowLog{
		WorkflowID: workflowID,
		WorkID:     workID,
		Status:     workflowstate.WorkflowStatusRunning,
		StartedAt:  now,
	}
}

func endWorkflowLog(log *WorkflowLog, status workflowstate.WorkflowStatus, summary string, now time.Time) {
	log.Status = status
	log.Summary = summary
	log.EndedAt = now
}

func startPhaseLog(log *WorkflowLog, phase workflowstate.Phase, now time.Time) {
	log.Phases = append(log.Phases, PhaseTiming{Phase: phase, StartedAt: now})
}

// endPhaseLog closes the most recent open timing for phase and returns the
// elapsed milliseconds between its StartedAt and now. An EndPhase call with
// no matching open StartPhase is a caller error - every call site in
// pkg/engine always pairs them - so it returns an error rather than
// fabricating a timing.
func endPhaseLog(log *WorkflowLog, phase workflowstate.Phase, status workflowstate.PhaseStatus, now time.Time) (int64, error) {
	for i := len(log.Phases) - 1; i >= 0; i-- {
		if log.Phases[i].Phase == phase && log.Phases[i].EndedAt.IsZero() {
			elapsed := now.Sub(log.Phases[i].StartedAt).Milliseconds()
			log.Phases[i].Status = status
			log.Phases[i].EndedAt = now
			log.Phases[i].DurationMS = elapsed
			return elapsed, nil
		}
	}
	return 0, fmt.Errorf("logstore: end_phase %q: no open start_phase for workflow %q", phase, log.WorkflowID)
}

// appendLogEntry appends an entry if level meets minLevel, reporting
// whether it was kept.
func appendLogEntry(log *WorkflowLog, minLevel Level, level Level, phase workflowstate.Phase, message string, fields map[string]any, now time.Time) bool {
	if level.Rank() < minLevel.Rank() {
		return false
	}
	log.Entries = append(log.Entries, Entry{
		Time:    now,
		Level:   level,
		Phase:   phase,
		Message: message,
		Fields:  fields,
	})
	return true
}

// cloneWorkflowLog returns a deep-enough copy safe to hand to a caller
// while the original continues to be appended to - Phases and Entries are
// copied, not aliased, so a reader never observes a later in-place append.
func cloneWorkflowLog(log *WorkflowLog) *WorkflowLog {
	out := *log
	out.Phases = append([]PhaseTiming(nil), log.Phases...)
	out.Entries = append([]Entry(nil), log.Entries...)
	return &out
}

// sortWorkflowLogsDesc orders logs by StartedAt, most recent first -
// shared by every backend's List so ordering never drifts between them.
func sortWorkflowLogsDesc(logs []*WorkflowLog) {
	sort.Slice(logs, func(i, j int) bool { return logs[i].StartedAt.After(logs[j].StartedAt) })
}

// matchesFilter reports whether log satisfies filter's Status/WorkID
// constraints (Limit is applied by the caller after sorting).
func matchesFilter(log *WorkflowLog, filter ListFilter) bool {
	if filter.Status != "" && log.Status != filter.Status {
		return false
	}
	if filter.WorkID != "" && log.WorkID != filter.WorkID {
		return false
	}
	return true
}
