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

package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_DisabledReturnsNoopProvider(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	tracer := p.Tracer("engine")
	_, span := tracer.Start(context.Background(), "phase.frame")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid())
}

func TestProvider_ShutdownIsNoopWhenDisabled(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestProvider_NilReceiverIsSafe(t *testing.T) {
	var p *Provider
	assert.NotNil(t, p.Tracer("engine"))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNoopTracer_StartAndEndDoesNotPanic(t *testing.T) {
	tracer := NoopTracer()
	_, span := tracer.Start(context.Background(), "tool.execute")
	span.End()
}
