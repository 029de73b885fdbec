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
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/fractary/faber/pkg/definitions"
)

const (
	defaultHTTPTimeout    = 30 * time.Second
	maxHTTPResponseBytes  = 10 << 20 // 10 MiB
)

// HTTPExecutor runs the http variant of a tool definition. Every request
// is validated against SSRF defenses before it is sent: scheme
// restricted to http/https, the target host checked against a blocklist
// and, after DNS resolution, against every returned address (not just
// the first, to defend against DNS rebinding). A gobreaker.CircuitBreaker
// per target host trips after repeated failures so a single
// unreachable/broken endpoint does not stall every subsequent workflow
// that calls the same tool.
type HTTPExecutor struct {
	client *http.Client

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker

	// skipHostValidation disables the SSRF host/IP checks. It exists
	// only so this package's own tests can point the executor at an
	// httptest server, which always binds to loopback; production
	// callers always get it false via NewHTTPExecutor.
	skipHostValidation bool
}

// NewHTTPExecutor constructs an HTTPExecutor. A custom net.Dialer
// control hook re-validates the actually-dialed IP at connection time,
// closing the TOCTOU window between the pre-flight DNS check and the
// real connection.
func NewHTTPExecutor() *HTTPExecutor {
	h := &HTTPExecutor{breakers: make(map[string]*gobreaker.CircuitBreaker)}
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if !h.skipHostValidation {
				host, _, err := net.SplitHostPort(addr)
				if err != nil {
					host = addr
				}
				if ip := net.ParseIP(host); ip != nil {
					if err := validateIP(ip); err != nil {
						return nil, err
					}
				}
			}
			return dialer.DialContext(ctx, network, addr)
		},
	}
	h.client = &http.Client{Transport: transport, Timeout: defaultHTTPTimeout}
	return h
}

func (h *HTTPExecutor) breakerFor(host string) *gobreaker.CircuitBreaker {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.breakers[host]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    host,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	h.breakers[host] = b
	return b
}

// Execute substitutes params into def.HTTP's URL/header/body templates,
// validates the target against SSRF defenses, and issues the request
// through the target host's circuit breaker.
func (h *HTTPExecutor) Execute(ctx context.Context, def definitions.ToolDefinition, params map[string]any) (Result, error) {
	spec := def.HTTP
	if spec == nil {
		return Result{}, &Error{Tool: def.Name, Cause: fmt.Errorf("http variant missing spec")}
	}

	rawURL := substitutePlaceholders(spec.URLTemplate, params)
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, &Error{Tool: def.Name, Cause: fmt.Errorf("parse url: %w", err)}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Result{}, &Error{Tool: def.Name, Cause: fmt.Errorf("scheme %q is not allowed", parsed.Scheme)}
	}
	if !h.skipHostValidation {
		if err := validateHost(ctx, parsed.Hostname()); err != nil {
			return Result{}, &Error{Tool: def.Name, Cause: err}
		}
	}

	var body io.Reader
	if spec.BodyTemplate != "" {
		body = strings.NewReader(substitutePlaceholders(spec.BodyTemplate, params))
	}

	req, err := http.NewRequestWithContext(ctx, string(spec.Method), parsed.String(), body)
	if err != nil {
		return Result{}, &Error{Tool: def.Name, Cause: fmt.Errorf("build request: %w", err)}
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, substitutePlaceholders(v, params))
	}

	breaker := h.breakerFor(parsed.Hostname())
	resp, err := breaker.Execute(func() (any, error) {
		return h.client.Do(req)
	})
	if err != nil {
		return Result{}, &Error{Tool: def.Name, Cause: fmt.Errorf("request: %w", err)}
	}
	httpResp := resp.(*http.Response)
	defer httpResp.Body.Close()

	if httpResp.ContentLength > maxHTTPResponseBytes {
		return Result{}, &Error{Tool: def.Name, Cause: fmt.Errorf("response content-length %d exceeds %d byte cap", httpResp.ContentLength, maxHTTPResponseBytes)}
	}

	limited := io.LimitReader(httpResp.Body, maxHTTPResponseBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return Result{}, &Error{Tool: def.Name, Cause: fmt.Errorf("read response: %w", err)}
	}
	if len(data) > maxHTTPResponseBytes {
		return Result{}, &Error{Tool: def.Name, Cause: fmt.Errorf("response exceeded %d byte cap", maxHTTPResponseBytes)}
	}

	headers := make(map[string]string, len(httpResp.Header))
	for k := range httpResp.Header {
		headers[k] = httpResp.Header.Get(k)
	}

	status := StatusSuccess
	if httpResp.StatusCode >= 400 {
		status = StatusFailure
	}

	return Result{
		Status:     status,
		StatusCode: httpResp.StatusCode,
		Headers:    headers,
		Body:       responseBody(data),
	}, nil
}

// responseBody parses data as JSON when possible, falling back to the
// raw string - spec.md §4.2's http variant contract ("read and parse as
// JSON if possible, else as text").
func responseBody(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(data, &parsed); err == nil {
		return parsed
	}
	return string(data)
}
