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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/fractary/faber/pkg/definitions"
	"github.com/fractary/faber/pkg/httpclient"
)

const anthropicAPIBase = "https://api.anthropic.com/v1/messages"

type anthropicProvider struct {
	client   *httpclient.Client
	apiKey   string
	selector definitions.LLMSelector
	baseURL  string
}

func newAnthropicProvider(client *httpclient.Client, apiKey string, selector definitions.LLMSelector) *anthropicProvider {
	return &anthropicProvider{client: client, apiKey: apiKey, selector: selector, baseURL: anthropicAPIBase}
}

func (p *anthropicProvider) Model() string { return p.selector.Model }

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     *map[string]any `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *anthropicProvider) Generate(ctx context.Context, messages []Message, tools []ToolSpec) (Response, error) {
	req := anthropicRequest{
		Model:       p.selector.Model,
		MaxTokens:   p.selector.MaxTokens,
		Temperature: p.selector.Temperature,
	}

	for _, m := range messages {
		if m.Role == "system" {
			if req.System != "" {
				req.System += "\n\n"
			}
			req.System += m.Content
			continue
		}
		req.Messages = append(req.Messages, toAnthropicMessage(m))
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("llm: marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("llm: build anthropic request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("llm: anthropic request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("llm: read anthropic response: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Response{}, fmt.Errorf("llm: parse anthropic response: %w", err)
	}
	if parsed.Error != nil {
		return Response{}, fmt.Errorf("llm: anthropic API error: %s", parsed.Error.Message)
	}

	var text string
	var toolCalls []ToolCall
	for _, c := range parsed.Content {
		switch c.Type {
		case "text":
			text += c.Text
		case "tool_use":
			var args map[string]any
			if c.Input != nil {
				args = *c.Input
			}
			toolCalls = append(toolCalls, ToolCall{ID: c.ID, Name: c.Name, Arguments: args})
		}
	}

	return Response{
		Text:       text,
		ToolCalls:  toolCalls,
		StopReason: parsed.StopReason,
		Usage:      Usage{InputTokens: parsed.Usage.InputTokens, OutputTokens: parsed.Usage.OutputTokens},
	}, nil
}

func toAnthropicMessage(m Message) anthropicMessage {
	if m.Role == "tool" {
		return anthropicMessage{
			Role: "user",
			Content: []anthropicContent{
				{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content},
			},
		}
	}

	var contents []anthropicContent
	if m.Content != "" {
		contents = append(contents, anthropicContent{Type: "text", Text: m.Content})
	}
	for _, tc := range m.ToolCalls {
		args := tc.Arguments
		if args == nil {
			args = map[string]any{}
		}
		contents = append(contents, anthropicContent{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: &args})
	}
	role := m.Role
	if role != "user" && role != "assistant" {
		role = "user"
	}
	return anthropicMessage{Role: role, Content: contents}
}
