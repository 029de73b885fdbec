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
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/fractary/faber/pkg/workflowstate"
)

// maxSummaryChars is the length of the free-text summary kept in every
// PhaseResult.Output alongside any structured fields.
const maxSummaryChars = 500

// fencedJSONBlock matches a ```json ... ``` (or bare ``` ... ```) code
// fence, the convention every phase's system prompt asks the agent to
// end its reply with for structured fields.
var fencedJSONBlock = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*?\\})\\s*```")

// extractOutput builds a phase's Output map from its agent's final text:
// a "summary" truncated to maxSummaryChars, plus any fields found in the
// first fenced JSON block, plus a "decision" of GO or NO-GO parsed by
// substring match from any phase's text (only the evaluate phase's
// decision is read back into State). The substring
// match is fragile by design - it reproduces the upstream behavior
// rather than inventing a stricter parse it never asked the model for.
func extractOutput(text string) map[string]any {
	out := map[string]any{"summary": truncate(text, maxSummaryChars)}

	if m := fencedJSONBlock.FindStringSubmatch(text); m != nil {
		var fields map[string]any
		if err := json.Unmarshal([]byte(m[1]), &fields); err == nil {
			for k, v := range fields {
				out[k] = v
			}
		}
	}

	if _, hasDecision := out["decision"]; !hasDecision {
		if decision, ok := parseGoNoGo(text); ok {
			out["decision"] = decision
		}
	}

	return out
}

// parseGoNoGo looks for "NO-GO" before "GO", since "NO-GO" contains "GO"
// as a substring.
func parseGoNoGo(text string) (string, bool) {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, string(workflowstate.EvaluationNoGo)):
		return string(workflowstate.EvaluationNoGo), true
	case strings.Contains(upper, string(workflowstate.EvaluationGo)):
		return string(workflowstate.EvaluationGo), true
	default:
		return "", false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// applyPhaseOutputs folds a phase's structured Output into the typed
// State fields the rest of the engine (and later phases' Inputs
// resolution) reads directly.
func applyPhaseOutputs(phaseName workflowstate.Phase, output map[string]any, st *workflowstate.State) *workflowstate.State {
	return st.WithPhaseOutputs(phaseName, output, time.Now())
}
