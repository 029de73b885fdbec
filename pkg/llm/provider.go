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

package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/fractary/faber/pkg/config"
	"github.com/fractary/faber/pkg/definitions"
	"github.com/fractary/faber/pkg/httpclient"
)

// Provider is a chat-completion backend for one concrete model.
type Provider interface {
	// Generate issues one non-streaming completion request.
	Generate(ctx context.Context, messages []Message, tools []ToolSpec) (Response, error)
	Model() string
}

// New resolves selector to a concrete Provider, reading the provider's
// API key from its standard environment variable.
func New(selector definitions.LLMSelector) (Provider, error) {
	apiKey := config.GetProviderAPIKey(string(selector.Provider))
	if apiKey == "" {
		return nil, fmt.Errorf("llm: no API key configured for provider %q", selector.Provider)
	}

	client := httpclient.New(
		httpclient.WithMaxRetries(5),
		httpclient.WithBaseDelay(2*time.Second),
	)

	switch selector.Provider {
	case definitions.ProviderAnthropic:
		return newAnthropicProvider(client, apiKey, selector), nil
	case definitions.ProviderOpenAI:
		return newOpenAIProvider(client, apiKey, selector), nil
	case definitions.ProviderGoogle:
		return newGoogleProvider(client, apiKey, selector), nil
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", selector.Provider)
	}
}
