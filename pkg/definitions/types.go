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

// Package definitions discovers and validates YAML agent/tool
// definitions from a project's .fractary/ directory tree.
package definitions

import "fmt"

// Provider is the LLM backend an agent's selector names.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGoogle    Provider = "google"
)

// LLMSelector names the concrete model an agent is driven by.
type LLMSelector struct {
	Provider    Provider `yaml:"provider" validate:"required,oneof=anthropic openai google"`
	Model       string   `yaml:"model" validate:"required"`
	Temperature float64  `yaml:"temperature" validate:"gte=0,lte=1"`
	MaxTokens   int      `yaml:"max_tokens" validate:"gte=1,lte=200000"`
}

// CacheSource is one block of content appended to the agent's system
// prompt and marked eligible for provider-side prompt caching.
type CacheSource struct {
	// Kind selects how Value is interpreted: "file", "glob", "inline", or "uri".
	Kind  string `yaml:"kind" validate:"required,oneof=file glob inline uri"`
	Value string `yaml:"value" validate:"required"`
}

// AgentDefinition is the declarative record loaded from
// .fractary/agents/<name>.yaml.
type AgentDefinition struct {
	Name        string        `yaml:"name" validate:"required"`
	Description string        `yaml:"description"`
	LLM         LLMSelector   `yaml:"llm" validate:"required"`
	SystemPrompt string       `yaml:"system_prompt"`
	Tools       []string      `yaml:"tools"`
	CacheSources []CacheSource `yaml:"cache_sources,omitempty"`
	// InlineTools defines custom tools scoped to this agent without a
	// separate file under .fractary/tools/.
	InlineTools []ToolDefinition `yaml:"inline_tools,omitempty"`
	// Inputs declares which preceding phases' outputs this agent's
	// prompt consumes, e.g. "$frame.work_type".
	Inputs []string `yaml:"inputs,omitempty"`
	Tags   []string `yaml:"tags,omitempty"`
}

// ParamType is the declared type of a tool parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamObject  ParamType = "object"
	ParamArray   ParamType = "array"
)

// ParamDef declares one named parameter accepted by a tool.
type ParamDef struct {
	Type     ParamType `yaml:"type" validate:"required,oneof=string integer number boolean object array"`
	Required bool      `yaml:"required,omitempty"`
	Default  any       `yaml:"default,omitempty"`
	Enum     []any     `yaml:"enum,omitempty"`
}

// SandboxPolicy constrains the shell variant of a tool definition.
type SandboxPolicy struct {
	Enabled           bool     `yaml:"enabled"`
	CommandAllowlist  []string `yaml:"command_allowlist,omitempty"`
	EnvAllowlist      []string `yaml:"env_allowlist,omitempty"`
	MaxExecutionSecs  int      `yaml:"max_execution_time,omitempty"`
	MaxOutputBytes    int64    `yaml:"max_output_size,omitempty"`
}

// ShellSpec is the shell implementation variant of a ToolDefinition.
type ShellSpec struct {
	CommandTemplate string        `yaml:"command_template" validate:"required"`
	Sandbox         SandboxPolicy `yaml:"sandbox"`
}

// FunctionSpec is the in-process function implementation variant.
type FunctionSpec struct {
	Module        string `yaml:"module" validate:"required"`
	Function      string `yaml:"function" validate:"required"`
	TimeoutSecs   int    `yaml:"timeout,omitempty"`
}

// HTTPMethod is an allowed method for the http implementation variant.
type HTTPMethod string

const (
	HTTPGet    HTTPMethod = "GET"
	HTTPPost   HTTPMethod = "POST"
	HTTPPut    HTTPMethod = "PUT"
	HTTPDelete HTTPMethod = "DELETE"
)

// HTTPSpec is the http implementation variant of a ToolDefinition.
type HTTPSpec struct {
	Method       HTTPMethod        `yaml:"method" validate:"required,oneof=GET POST PUT DELETE"`
	URLTemplate  string            `yaml:"url_template" validate:"required"`
	Headers      map[string]string `yaml:"headers,omitempty"`
	BodyTemplate string            `yaml:"body_template,omitempty"`
}

// Variant names which implementation a ToolDefinition carries.
type Variant string

const (
	VariantShell    Variant = "shell"
	VariantFunction Variant = "function"
	VariantHTTP     Variant = "http"
)

// ToolDefinition is the declarative record loaded from
// .fractary/tools/<name>.yaml.
type ToolDefinition struct {
	Name        string              `yaml:"name" validate:"required"`
	Description string              `yaml:"description"`
	Parameters  map[string]ParamDef `yaml:"parameters,omitempty"`

	Variant  Variant       `yaml:"variant" validate:"required,oneof=shell function http"`
	Shell    *ShellSpec    `yaml:"shell,omitempty"`
	Function *FunctionSpec `yaml:"function,omitempty"`
	HTTP     *HTTPSpec     `yaml:"http,omitempty"`

	RequireApproval bool   `yaml:"require_approval,omitempty"`
	Tags            []string `yaml:"tags,omitempty"`
}

// Validate checks that the variant-specific spec matching Variant is
// present and that the name only uses alphanumeric/hyphen/underscore/colon.
func (t *ToolDefinition) Validate() error {
	if !isValidToolName(t.Name) {
		return fmt.Errorf("definitions: tool name %q must be alphanumeric, '-', '_', or ':'", t.Name)
	}
	switch t.Variant {
	case VariantShell:
		if t.Shell == nil {
			return fmt.Errorf("definitions: tool %q declares variant shell but has no shell spec", t.Name)
		}
	case VariantFunction:
		if t.Function == nil {
			return fmt.Errorf("definitions: tool %q declares variant function but has no function spec", t.Name)
		}
	case VariantHTTP:
		if t.HTTP == nil {
			return fmt.Errorf("definitions: tool %q declares variant http but has no http spec", t.Name)
		}
	default:
		return fmt.Errorf("definitions: tool %q has unknown variant %q", t.Name, t.Variant)
	}
	return nil
}

func isValidToolName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == ':':
		default:
			return false
		}
	}
	return true
}
