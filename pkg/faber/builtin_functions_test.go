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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractary/faber/pkg/definitions"
	"github.com/fractary/faber/pkg/logstore"
	"github.com/fractary/faber/pkg/toolexec"
)

func TestRegisterBuiltinFunctions_LogInfoAppendsEntry(t *testing.T) {
	logs := logstore.NewMemoryStore(logstore.LevelDebug)
	require.NoError(t, logs.StartWorkflow(context.Background(), "WF-test", "work-1", time.Now()))

	fe := toolexec.NewFunctionExecutor(1)
	registerBuiltinFunctions(fe, logs)

	def := definitions.ToolDefinition{
		Name:     "log_info",
		Variant:  definitions.VariantFunction,
		Function: &definitions.FunctionSpec{Module: "faber", Function: "log_info"},
	}
	result, err := fe.Execute(context.Background(), def, map[string]any{
		"workflow_id": "WF-test",
		"phase":       "build",
		"message":     "compiling",
	})
	require.NoError(t, err)
	assert.Equal(t, toolexec.StatusSuccess, result.Status)

	log, err := logs.Get(context.Background(), "WF-test")
	require.NoError(t, err)
	require.Len(t, log.Entries, 1)
	assert.Equal(t, "compiling", log.Entries[0].Message)
	assert.Equal(t, logstore.LevelInfo, log.Entries[0].Level)
}

func TestRegisterBuiltinFunctions_RequiresWorkflowID(t *testing.T) {
	logs := logstore.NewMemoryStore(logstore.LevelDebug)
	fe := toolexec.NewFunctionExecutor(1)
	registerBuiltinFunctions(fe, logs)

	def := definitions.ToolDefinition{
		Name:     "log_error",
		Variant:  definitions.VariantFunction,
		Function: &definitions.FunctionSpec{Module: "faber", Function: "log_error"},
	}
	_, err := fe.Execute(context.Background(), def, map[string]any{"message": "boom"})
	assert.Error(t, err)
}
