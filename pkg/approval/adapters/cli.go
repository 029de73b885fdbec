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

// Package adapters provides the approval channel implementations
// (cli, web, slack, github) registered against an approval.Queue.
package adapters

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fractary/faber/pkg/approval"
)

// CLI prompts for an approval decision on the terminal. Unlike the
// original's use of a blocking synchronous prompt library, SendNotification
// spawns the prompt on its own goroutine so it never blocks the queue's
// notification fan-out; PollResponse simply checks whether that goroutine
// has finished.
type CLI struct {
	out io.Writer
	in  *bufio.Reader

	mu      sync.Mutex
	pending map[string]*approval.Response
}

// NewCLI constructs a CLI adapter reading from in and writing prompts to out.
func NewCLI(in io.Reader, out io.Writer) *CLI {
	return &CLI{
		out:     out,
		in:      bufio.NewReader(in),
		pending: make(map[string]*approval.Response),
	}
}

// Name returns "cli".
func (c *CLI) Name() string { return "cli" }

// SendNotification renders the request and starts a background prompt
// goroutine that records the decision once the user responds.
func (c *CLI) SendNotification(_ context.Context, req *approval.Request) error {
	fmt.Fprintf(c.out, "\n=== Approval Required ===\n%s\n", req.Question)
	fmt.Fprintf(c.out, "Workflow: %s  Phase: %s  Timeout: %dm\n", req.WorkflowID, req.Phase, req.TimeoutMinutes)
	for k, v := range req.Context {
		fmt.Fprintf(c.out, "  %s: %v\n", k, v)
	}
	fmt.Fprintf(c.out, "Options: %s\n", strings.Join(req.Options, " / "))

	go c.prompt(req)
	return nil
}

func (c *CLI) prompt(req *approval.Request) {
	fmt.Fprintf(c.out, "Your decision [%s]: ", req.Options[0])
	line, err := c.in.ReadString('\n')
	decision := strings.TrimSpace(line)
	if err != nil || decision == "" {
		decision = req.Options[0]
	}

	c.mu.Lock()
	c.pending[req.ID] = &approval.Response{
		RequestID: req.ID,
		Decision:  decision,
		Responder: "cli_user",
		Channel:   "cli",
	}
	c.mu.Unlock()
}

// PollResponse returns the decision recorded by prompt, once available.
func (c *CLI) PollResponse(_ context.Context, req *approval.Request) (*approval.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, ok := c.pending[req.ID]
	if !ok {
		return nil, nil
	}
	delete(c.pending, req.ID)
	return resp, nil
}
