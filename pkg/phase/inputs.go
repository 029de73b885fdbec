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

package phase

import (
	"fmt"
	"strings"

	"github.com/fractary/faber/pkg/workflowstate"
)

// composeUserMessage builds the phase's user turn: the engine-supplied
// task description, followed by one line per declared input reference
// resolved against the preceding phases' recorded outputs.
func composeUserMessage(task string, inputs []string, st *workflowstate.State) string {
	var b strings.Builder
	b.WriteString(task)

	var hints []string
	for _, ref := range inputs {
		value, ok := resolveInput(ref, st)
		if !ok {
			continue
		}
		hints = append(hints, fmt.Sprintf("%s: %v", ref, value))
	}

	if len(hints) > 0 {
		b.WriteString("\n\nContext from previous phases:\n")
		for _, h := range hints {
			b.WriteString("- ")
			b.WriteString(h)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// resolveInput resolves a reference of the form "$<phase>.<field>[.<nested>...]"
// against st.PhaseResults[phase].Output, which is the map each phase's
// run populates with its structured output.
func resolveInput(ref string, st *workflowstate.State) (any, bool) {
	ref = strings.TrimPrefix(ref, "$")
	parts := strings.Split(ref, ".")
	if len(parts) < 2 {
		return nil, false
	}

	phaseResult, ok := st.PhaseResults[workflowstate.Phase(parts[0])]
	if !ok {
		return nil, false
	}

	var cur any = map[string]any(phaseResult.Output)
	for _, field := range parts[1:] {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[field]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
