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
	"os"
	"path/filepath"
	"strings"

	"github.com/fractary/faber/pkg/definitions"
)

// buildSystemPrompt appends every cache source block to the agent's base
// system prompt. Provider-side prompt caching is a capability of the
// session, not of this text assembly - when the target provider lacks
// it, these blocks are just ordinary system-message text, which is
// exactly what this function produces.
func buildSystemPrompt(agentDef definitions.AgentDefinition) (string, error) {
	var b strings.Builder
	b.WriteString(agentDef.SystemPrompt)

	for _, src := range agentDef.CacheSources {
		block, err := resolveCacheSource(src)
		if err != nil {
			return "", fmt.Errorf("cache source %s:%s: %w", src.Kind, src.Value, err)
		}
		if block == "" {
			continue
		}
		b.WriteString("\n\n")
		b.WriteString(block)
	}

	return b.String(), nil
}

func resolveCacheSource(src definitions.CacheSource) (string, error) {
	switch src.Kind {
	case "inline":
		return src.Value, nil
	case "file":
		data, err := os.ReadFile(src.Value)
		if err != nil {
			return "", err
		}
		return string(data), nil
	case "glob":
		matches, err := filepath.Glob(src.Value)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for _, m := range matches {
			data, err := os.ReadFile(m)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "--- %s ---\n%s\n", m, data)
		}
		return b.String(), nil
	case "uri":
		// The "codex" cache source: left unimplemented upstream too, with
		// no specified fetch protocol. Resolves to an empty block rather
		// than guessing one.
		return "", nil
	default:
		return "", fmt.Errorf("unknown cache source kind %q", src.Kind)
	}
}
