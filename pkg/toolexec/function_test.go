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

func TestFunctionExecutor_Execute_DispatchesRegisteredFunction(t *testing.T) {
	fe := NewFunctionExecutor(2)
	fe.Register("mymodule", "greet", func(ctx context.Context, params map[string]any) (any, error) {
		return map[string]any{"greeting": "hello " + params["name"].(string)}, nil
	})

	def := definitions.ToolDefinition{
		Name:    "greet_tool",
		Variant: definitions.VariantFunction,
		Function: &definitions.FunctionSpec{
			Module:   "mymodule",
			Function: "greet",
		},
	}
	result, err := fe.Execute(context.Background(), def, map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "hello ada", result.Output["greeting"])
}

func TestFunctionExecutor_Execute_RejectsUnregisteredExactMatch(t *testing.T) {
	fe := NewFunctionExecutor(1)
	fe.Register("mymodule", "greet", func(ctx context.Context, params map[string]any) (any, error) {
		return nil, nil
	})

	// "mymodule.greeting" must not fuzzy- or prefix-match "mymodule.greet".
	def := definitions.ToolDefinition{
		Name:    "greet_tool",
		Variant: definitions.VariantFunction,
		Function: &definitions.FunctionSpec{
			Module:   "mymodule",
			Function: "greeting",
		},
	}
	_, err := fe.Execute(context.Background(), def, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "import allowlist")
}

func TestFunctionExecutor_Execute_WrapsNonMapReturn(t *testing.T) {
	fe := NewFunctionExecutor(1)
	fe.Register("m", "count", func(ctx context.Context, params map[string]any) (any, error) {
		return 42, nil
	})
	def := definitions.ToolDefinition{
		Name:     "count_tool",
		Variant:  definitions.VariantFunction,
		Function: &definitions.FunctionSpec{Module: "m", Function: "count"},
	}
	result, err := fe.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, result.Output["result"])
}

func TestFunctionExecutor_Execute_TimesOutBlockingFunction(t *testing.T) {
	fe := NewFunctionExecutor(1)
	fe.Register("m", "block", func(ctx context.Context, params map[string]any) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return nil, nil
		}
	})
	def := definitions.ToolDefinition{
		Name:     "block_tool",
		Variant:  definitions.VariantFunction,
		Function: &definitions.FunctionSpec{Module: "m", Function: "block", TimeoutSecs: 1},
	}
	_, err := fe.Execute(context.Background(), def, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestFunctionExecutor_Execute_PoolDispatchesConcurrently(t *testing.T) {
	fe := NewFunctionExecutor(4)
	fe.Register("m", "wait", func(ctx context.Context, params map[string]any) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return map[string]any{"ok": true}, nil
	})
	def := definitions.ToolDefinition{
		Name:     "wait_tool",
		Variant:  definitions.VariantFunction,
		Function: &definitions.FunctionSpec{Module: "m", Function: "wait"},
	}

	start := time.Now()
	done := make(chan struct{}, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, _ = fe.Execute(context.Background(), def, nil)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	// Four 50ms calls over a 4-worker pool should finish well under
	// the fully-serial 200ms.
	assert.Less(t, time.Since(start), 180*time.Millisecond)
}
