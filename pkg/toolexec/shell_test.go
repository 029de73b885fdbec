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

package toolexec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractary/faber/pkg/definitions"
)

func TestTokenizeTemplate_SplitsOnWhitespaceAndQuotes(t *testing.T) {
	tokens, err := tokenizeTemplate(`echo "${msg}" 'literal $x' plain`)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "${msg}", "literal $x", "plain"}, tokens)
}

func TestSubstitutePlaceholders_DoesNotReTokenize(t *testing.T) {
	// A parameter value containing shell metacharacters must land in the
	// argv slot verbatim - it must never be able to introduce a new
	// argument boundary or redirect.
	out := substitutePlaceholders("${name}", map[string]any{"name": "; rm -rf / #"})
	assert.Equal(t, "; rm -rf / #", out)
}

func TestShellExecutor_Execute_RunsAllowlistedCommand(t *testing.T) {
	def := definitions.ToolDefinition{
		Name:    "echo_tool",
		Variant: definitions.VariantShell,
		Shell: &definitions.ShellSpec{
			CommandTemplate: "echo ${msg}",
			Sandbox: definitions.SandboxPolicy{
				Enabled:          true,
				CommandAllowlist: []string{"echo"},
			},
		},
	}
	exec := NewShellExecutor()
	result, err := exec.Execute(context.Background(), def, map[string]any{"msg": "hello"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Contains(t, result.Stdout, "hello")
}

func TestShellExecutor_Execute_RejectsCommandNotInAllowlist(t *testing.T) {
	def := definitions.ToolDefinition{
		Name:    "rm_tool",
		Variant: definitions.VariantShell,
		Shell: &definitions.ShellSpec{
			CommandTemplate: "rm -rf ${path}",
			Sandbox: definitions.SandboxPolicy{
				Enabled:          true,
				CommandAllowlist: []string{"echo", "cat"},
			},
		},
	}
	exec := NewShellExecutor()
	_, err := exec.Execute(context.Background(), def, map[string]any{"path": "/tmp"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the sandbox allowlist")
}

func TestShellExecutor_Execute_ParameterInjectionCannotEscapeArgument(t *testing.T) {
	// Even though the parameter value looks like a second command, direct
	// spawn with no shell interpreter means it is passed to `echo` as a
	// single literal argument, not executed.
	def := definitions.ToolDefinition{
		Name:    "echo_tool",
		Variant: definitions.VariantShell,
		Shell: &definitions.ShellSpec{
			CommandTemplate: "echo ${msg}",
			Sandbox: definitions.SandboxPolicy{
				Enabled:          true,
				CommandAllowlist: []string{"echo"},
			},
		},
	}
	exec := NewShellExecutor()
	result, err := exec.Execute(context.Background(), def, map[string]any{"msg": "safe; touch /tmp/pwned"})
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "safe; touch /tmp/pwned")
}

func TestShellExecutor_Execute_TimesOutLongRunningCommand(t *testing.T) {
	def := definitions.ToolDefinition{
		Name:    "sleep_tool",
		Variant: definitions.VariantShell,
		Shell: &definitions.ShellSpec{
			CommandTemplate: "sleep 5",
			Sandbox: definitions.SandboxPolicy{
				Enabled:          true,
				CommandAllowlist: []string{"sleep"},
				MaxExecutionSecs: 1,
			},
		},
	}
	exec := NewShellExecutor()
	start := time.Now()
	_, err := exec.Execute(context.Background(), def, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestShellExecutor_Execute_CapsOutputSize(t *testing.T) {
	def := definitions.ToolDefinition{
		Name:    "printf_tool",
		Variant: definitions.VariantShell,
		Shell: &definitions.ShellSpec{
			CommandTemplate: "printf ${text}",
			Sandbox: definitions.SandboxPolicy{
				Enabled:          true,
				CommandAllowlist: []string{"printf"},
				MaxOutputBytes:   8,
			},
		},
	}
	exec := NewShellExecutor()
	result, err := exec.Execute(context.Background(), def, map[string]any{"text": "0123456789ABCDEFGHIJ"})
	require.NoError(t, err)
	assert.Len(t, result.Stdout, 8)
}
