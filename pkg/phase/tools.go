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

	"github.com/fractary/faber/pkg/definitions"
	"github.com/fractary/faber/pkg/llm"
)

// resolveTools looks up every name in agentDef.Tools against the project
// registry and adds agentDef.InlineTools verbatim, returning both a
// name-keyed lookup table for dispatch and the llm.ToolSpec list the
// provider advertises to the model.
func (r *Runner) resolveTools(agentDef definitions.AgentDefinition) (map[string]definitions.ToolDefinition, []llm.ToolSpec, error) {
	tools := make(map[string]definitions.ToolDefinition, len(agentDef.Tools)+len(agentDef.InlineTools))
	specs := make([]llm.ToolSpec, 0, len(agentDef.Tools)+len(agentDef.InlineTools))

	for _, name := range agentDef.Tools {
		def, err := r.definitions.GetToolOrError(name)
		if err != nil {
			return nil, nil, err
		}
		tools[def.Name] = def
		specs = append(specs, toolSpecFor(def))
	}
	for _, def := range agentDef.InlineTools {
		if err := def.Validate(); err != nil {
			return nil, nil, fmt.Errorf("inline tool %q: %w", def.Name, err)
		}
		tools[def.Name] = def
		specs = append(specs, toolSpecFor(def))
	}
	return tools, specs, nil
}

// toolSpecFor translates a definitions.ToolDefinition's declared
// parameters into the JSON-schema object every provider's tool-use wire
// format expects.
func toolSpecFor(def definitions.ToolDefinition) llm.ToolSpec {
	properties := make(map[string]any, len(def.Parameters))
	var required []string

	for name, p := range def.Parameters {
		prop := map[string]any{"type": jsonSchemaType(p.Type)}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[name] = prop
		if p.Required {
			required = append(required, name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	return llm.ToolSpec{
		Name:        def.Name,
		Description: def.Description,
		Parameters:  schema,
	}
}

func jsonSchemaType(t definitions.ParamType) string {
	switch t {
	case definitions.ParamInteger:
		return "integer"
	case definitions.ParamNumber:
		return "number"
	case definitions.ParamBoolean:
		return "boolean"
	case definitions.ParamObject:
		return "object"
	case definitions.ParamArray:
		return "array"
	default:
		return "string"
	}
}
