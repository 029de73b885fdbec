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

package definitions

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fractary/faber/pkg/registry"
)

const (
	agentsSubdir = ".fractary/agents"
	toolsSubdir  = ".fractary/tools"
)

var validate = validator.New()

// Registry discovers, validates, and serves AgentDefinitions and
// ToolDefinitions from a project's .fractary/ directory tree. Readers
// may query while a Reload is in progress: the underlying
// registry.Registry's ReplaceAll swaps the whole map atomically, so a
// concurrent Get always observes either the pre- or post-reload set.
type Registry struct {
	projectRoot string
	logger      *slog.Logger

	agents registry.Registry[AgentDefinition]
	tools  registry.Registry[ToolDefinition]
}

// New constructs a Registry rooted at projectRoot. Call Reload (or
// Discover) to populate it.
func New(projectRoot string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		projectRoot: projectRoot,
		logger:      logger,
		agents:      registry.NewBaseRegistry[AgentDefinition](),
		tools:       registry.NewBaseRegistry[ToolDefinition](),
	}
}

// Discover scans both directories and populates the registry. Equivalent
// to a fresh Reload.
func (r *Registry) Discover() error {
	return r.Reload()
}

// Reload discards the current index and re-scans both directories.
// Parse failures for individual files are logged and that definition is
// simply absent from the resulting index - they do not halt discovery
// of the remaining files.
func (r *Registry) Reload() error {
	agents, err := r.discoverAgents()
	if err != nil {
		return err
	}
	tools, err := r.discoverTools()
	if err != nil {
		return err
	}

	r.agents.ReplaceAll(agents)
	r.tools.ReplaceAll(tools)
	return nil
}

// DiscoverStrict re-scans both directories like Reload, but returns every
// per-file parse/validation error instead of logging and skipping it -
// the `faber validate` subcommand's contract (spec.md §4.10's recovered
// validate path: check .fractary/ definitions without running a
// workflow). The registry's live index is still refreshed from whatever
// files did load successfully, exactly as Reload would.
func (r *Registry) DiscoverStrict() []error {
	var errs []error

	agentFiles, err := listYAMLFiles(filepath.Join(r.projectRoot, agentsSubdir))
	if err == nil {
		agents := make(map[string]AgentDefinition, len(agentFiles))
		for _, path := range agentFiles {
			def, err := r.loadAgent(path)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			agents[def.Name] = def
		}
		r.agents.ReplaceAll(agents)
	}

	toolFiles, err := listYAMLFiles(filepath.Join(r.projectRoot, toolsSubdir))
	if err == nil {
		tools := make(map[string]ToolDefinition, len(toolFiles))
		for _, path := range toolFiles {
			def, err := r.loadTool(path)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			tools[def.Name] = def
		}
		r.tools.ReplaceAll(tools)
	}

	return errs
}

func (r *Registry) discoverAgents() (map[string]AgentDefinition, error) {
	dir := filepath.Join(r.projectRoot, agentsSubdir)
	out := make(map[string]AgentDefinition)

	files, err := listYAMLFiles(dir)
	if err != nil {
		return out, nil // missing directory is not an error: no agents defined yet
	}

	for _, path := range files {
		def, err := r.loadAgent(path)
		if err != nil {
			r.logger.Error("failed to load agent definition", "path", path, "error", err)
			continue
		}
		out[def.Name] = def
	}
	return out, nil
}

func (r *Registry) discoverTools() (map[string]ToolDefinition, error) {
	dir := filepath.Join(r.projectRoot, toolsSubdir)
	out := make(map[string]ToolDefinition)

	files, err := listYAMLFiles(dir)
	if err != nil {
		return out, nil
	}

	for _, path := range files {
		def, err := r.loadTool(path)
		if err != nil {
			r.logger.Error("failed to load tool definition", "path", path, "error", err)
			continue
		}
		out[def.Name] = def
	}
	return out, nil
}

func listYAMLFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

func (r *Registry) loadAgent(path string) (AgentDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AgentDefinition{}, fmt.Errorf("read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return AgentDefinition{}, fmt.Errorf("%s: empty definition file", path)
	}

	var def AgentDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return AgentDefinition{}, fmt.Errorf("%s: parse: %w", path, err)
	}
	if err := validate.Struct(&def); err != nil {
		return AgentDefinition{}, fmt.Errorf("%s: %w", path, formatValidationError(err))
	}
	return def, nil
}

func (r *Registry) loadTool(path string) (ToolDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ToolDefinition{}, fmt.Errorf("read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return ToolDefinition{}, fmt.Errorf("%s: empty definition file", path)
	}

	var def ToolDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return ToolDefinition{}, fmt.Errorf("%s: parse: %w", path, err)
	}
	if err := validate.Struct(&def); err != nil {
		return ToolDefinition{}, fmt.Errorf("%s: %w", path, formatValidationError(err))
	}
	if err := def.Validate(); err != nil {
		return ToolDefinition{}, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// formatValidationError turns the first validator.FieldError into a
// "field path: constraint" message naming the violated field, per
// spec.md §4.1's "precise error (file path and the violated field path)".
func formatValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return fmt.Errorf("field %q failed %q constraint", fe.Namespace(), fe.Tag())
}

// GetAgent returns the agent definition named name, if loaded.
func (r *Registry) GetAgent(name string) (AgentDefinition, bool) {
	return r.agents.Get(name)
}

// GetAgentOrError returns the agent definition named name, or an error
// listing all currently known agent names.
func (r *Registry) GetAgentOrError(name string) (AgentDefinition, error) {
	if def, ok := r.agents.Get(name); ok {
		return def, nil
	}
	return AgentDefinition{}, fmt.Errorf("definitions: agent %q not found; available: %s", name, strings.Join(sortedNames(r.agents.Names()), ", "))
}

// GetTool returns the tool definition named name, if loaded.
func (r *Registry) GetTool(name string) (ToolDefinition, bool) {
	return r.tools.Get(name)
}

// GetToolOrError returns the tool definition named name, or an error
// listing all currently known tool names.
func (r *Registry) GetToolOrError(name string) (ToolDefinition, error) {
	if def, ok := r.tools.Get(name); ok {
		return def, nil
	}
	return ToolDefinition{}, fmt.Errorf("definitions: tool %q not found; available: %s", name, strings.Join(sortedNames(r.tools.Names()), ", "))
}

// ListAgents returns agents matching any tag in tags (OR semantics),
// sorted by name. An empty tags list returns every agent.
func (r *Registry) ListAgents(tags []string) []AgentDefinition {
	all := r.agents.List()
	out := filterByTags(all, tags, func(a AgentDefinition) []string { return a.Tags })
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListTools returns tools matching any tag in tags (OR semantics),
// sorted by name. An empty tags list returns every tool.
func (r *Registry) ListTools(tags []string) []ToolDefinition {
	all := r.tools.List()
	out := filterByTags(all, tags, func(t ToolDefinition) []string { return t.Tags })
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func filterByTags[T any](items []T, tags []string, tagsOf func(T) []string) []T {
	if len(tags) == 0 {
		return items
	}
	wanted := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		wanted[t] = struct{}{}
	}

	out := make([]T, 0, len(items))
	for _, item := range items {
		for _, tag := range tagsOf(item) {
			if _, ok := wanted[tag]; ok {
				out = append(out, item)
				break
			}
		}
	}
	return out
}

func sortedNames(names []string) []string {
	sort.Strings(names)
	return names
}

// SaveAgent writes def to .fractary/agents/<name>.yaml and updates the
// in-memory index.
func (r *Registry) SaveAgent(def AgentDefinition) error {
	if err := validate.Struct(&def); err != nil {
		return formatValidationError(err)
	}
	dir := filepath.Join(r.projectRoot, agentsSubdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("definitions: create %s: %w", dir, err)
	}
	data, err := yaml.Marshal(def)
	if err != nil {
		return fmt.Errorf("definitions: marshal agent %q: %w", def.Name, err)
	}
	path := filepath.Join(dir, def.Name+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("definitions: write %s: %w", path, err)
	}
	r.agents.Put(def.Name, def)
	return nil
}

// SaveTool writes def to .fractary/tools/<name>.yaml and updates the
// in-memory index.
func (r *Registry) SaveTool(def ToolDefinition) error {
	if err := validate.Struct(&def); err != nil {
		return formatValidationError(err)
	}
	if err := def.Validate(); err != nil {
		return err
	}
	dir := filepath.Join(r.projectRoot, toolsSubdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("definitions: create %s: %w", dir, err)
	}
	data, err := yaml.Marshal(def)
	if err != nil {
		return fmt.Errorf("definitions: marshal tool %q: %w", def.Name, err)
	}
	path := filepath.Join(dir, def.Name+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("definitions: write %s: %w", path, err)
	}
	r.tools.Put(def.Name, def)
	return nil
}

// DeleteAgent removes the agent's file and in-memory entry.
func (r *Registry) DeleteAgent(name string) error {
	path := filepath.Join(r.projectRoot, agentsSubdir, name+".yaml")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("definitions: delete %s: %w", path, err)
	}
	return r.agents.Remove(name)
}

// DeleteTool removes the tool's file and in-memory entry.
func (r *Registry) DeleteTool(name string) error {
	path := filepath.Join(r.projectRoot, toolsSubdir, name+".yaml")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("definitions: delete %s: %w", path, err)
	}
	return r.tools.Remove(name)
}
