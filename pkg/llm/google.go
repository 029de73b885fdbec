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

const googleAPIBase = "https://generativelanguage.googleapis.com/v1beta/models"

type googleProvider struct {
	client   *httpclient.Client
	apiKey   string
	selector definitions.LLMSelector
	baseURL  string
}

func newGoogleProvider(client *httpclient.Client, apiKey string, selector definitions.LLMSelector) *googleProvider {
	return &googleProvider{client: client, apiKey: apiKey, selector: selector, baseURL: googleAPIBase}
}

func (p *googleProvider) Model() string { return p.selector.Model }

type googlePart struct {
	Text             string              `json:"text,omitempty"`
	FunctionCall     *googleFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *googleFunctionResp `json:"functionResponse,omitempty"`
}

type googleFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type googleFunctionResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type googleContent struct {
	Role  string       `json:"role"`
	Parts []googlePart `json:"parts"`
}

type googleFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type googleRequest struct {
	Contents          []googleContent `json:"contents"`
	SystemInstruction *googleContent  `json:"systemInstruction,omitempty"`
	Tools             []struct {
		FunctionDeclarations []googleFunctionDecl `json:"functionDeclarations"`
	} `json:"tools,omitempty"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature,omitempty"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type googleResponse struct {
	Candidates []struct {
		Content      googleContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *googleProvider) Generate(ctx context.Context, messages []Message, tools []ToolSpec) (Response, error) {
	var req googleRequest
	req.GenerationConfig.Temperature = p.selector.Temperature
	req.GenerationConfig.MaxOutputTokens = p.selector.MaxTokens

	for _, m := range messages {
		if m.Role == "system" {
			req.SystemInstruction = &googleContent{Role: "user", Parts: []googlePart{{Text: m.Content}}}
			continue
		}
		req.Contents = append(req.Contents, toGoogleContent(m))
	}
	if len(tools) > 0 {
		var decls []googleFunctionDecl
		for _, t := range tools {
			decls = append(decls, googleFunctionDecl{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
		}
		req.Tools = append(req.Tools, struct {
			FunctionDeclarations []googleFunctionDecl `json:"functionDeclarations"`
		}{FunctionDeclarations: decls})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("llm: marshal google request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", p.baseURL, p.selector.Model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("llm: build google request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("llm: google request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("llm: read google response: %w", err)
	}

	var parsed googleResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Response{}, fmt.Errorf("llm: parse google response: %w", err)
	}
	if parsed.Error != nil {
		return Response{}, fmt.Errorf("llm: google API error: %s", parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 {
		return Response{}, fmt.Errorf("llm: google response had no candidates")
	}

	candidate := parsed.Candidates[0]
	var text string
	var toolCalls []ToolCall
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
		if part.FunctionCall != nil {
			toolCalls = append(toolCalls, ToolCall{Name: part.FunctionCall.Name, Arguments: part.FunctionCall.Args})
		}
	}

	return Response{
		Text:       text,
		ToolCalls:  toolCalls,
		StopReason: candidate.FinishReason,
		Usage: Usage{
			InputTokens:  parsed.UsageMetadata.PromptTokenCount,
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}

func toGoogleContent(m Message) googleContent {
	role := "user"
	if m.Role == "assistant" {
		role = "model"
	}

	var parts []googlePart
	if m.Content != "" {
		parts = append(parts, googlePart{Text: m.Content})
	}
	for _, tc := range m.ToolCalls {
		parts = append(parts, googlePart{FunctionCall: &googleFunctionCall{Name: tc.Name, Args: tc.Arguments}})
	}
	if m.Role == "tool" {
		parts = append(parts, googlePart{FunctionResponse: &googleFunctionResp{Name: m.Name, Response: map[string]any{"content": m.Content}}})
	}
	return googleContent{Role: role, Parts: parts}
}
