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
	"time"

	"github.com/fractary/faber/pkg/logstore"
	"github.com/fractary/faber/pkg/toolexec"
	"github.com/fractary/faber/pkg/workflowstate"
)

// registerBuiltinFunctions binds the function-variant tools every
// project gets without a .fractary/tools/*.yaml definition of its own:
// a ToolDefinition with variant: function, module: faber, function one
// of log_info/log_warning/log_error. Grounded on the original's
// log_tools.py (log_info/log_warning/log_error LangChain tool
// wrappers), re-pointed at this engine's own pkg/logstore.Store instead
// of a process-wide singleton LogManager, since one Go process may hold
// several *Session/workflows open at once - so, unlike the original,
// workflow_id is a required argument rather than ambient context.
func registerBuiltinFunctions(fe *toolexec.FunctionExecutor, logs logstore.Store) {
	fe.Register("faber", "log_info", logFunc(logs, logstore.LevelInfo))
	fe.Register("faber", "log_warning", logFunc(logs, logstore.LevelWarning))
	fe.Register("faber", "log_error", logFunc(logs, logstore.LevelError))
}

// logFunc builds a Func that appends a level-filtered entry to logs.
func logFunc(logs logstore.Store, level logstore.Level) toolexec.Func {
	return func(ctx context.Context, params map[string]any) (any, error) {
		workflowID, _ := params["workflow_id"].(string)
		if workflowID == "" {
			return nil, fmt.Errorf("faber.log_%s: workflow_id is required", level)
		}
		message, _ := params["message"].(string)
		phase, _ := params["phase"].(string)

		var fields map[string]any
		if agent, ok := params["agent"].(string); ok && agent != "" {
			fields = map[string]any{"agent": agent}
		}
		if metadata, ok := params["metadata"].(map[string]any); ok {
			if fields == nil {
				fields = make(map[string]any, len(metadata))
			}
			for k, v := range metadata {
				fields[k] = v
			}
		}

		if err := logs.Log(ctx, workflowID, level, workflowstate.Phase(phase), message, fields, time.Now()); err != nil {
			return nil, fmt.Errorf("faber.log_%s: %w", level, err)
		}
		return map[string]any{"logged": true}, nil
	}
}
