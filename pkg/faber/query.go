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
	"fmt"

	"github.com/fractary/faber/pkg/logstore"
	"github.com/fractary/faber/pkg/workflowstate"
)

// ListWorkflows is spec.md §4.10's `list_workflows` query: it reads the
// C9 log store, most recently started first.
func (s *Session) ListWorkflows(ctx context.Context, status workflowstate.WorkflowStatus, workID string, limit int) ([]*logstore.WorkflowLog, error) {
	logs, err := s.Logs.List(ctx, logstore.ListFilter{Status: status, WorkID: workID, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("faber: list workflows: %w", err)
	}
	return logs, nil
}

// ViewWorkflow is spec.md §4.10's `view_workflow` query: the full
// WorkflowLog (phase timings plus level-filtered entries) for one
// workflow id.
func (s *Session) ViewWorkflow(ctx context.Context, workflowID string) (*logstore.WorkflowLog, error) {
	log, err := s.Logs.Get(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("faber: view workflow %q: %w", workflowID, err)
	}
	return log, nil
}
