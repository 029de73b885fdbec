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

package adapters

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/slack-go/slack"

	"github.com/fractary/faber/pkg/approval"
)

// Slack posts an approval request as a message with interactive buttons
// to a configured channel, and records the decision when the workflow's
// operator replies. Reply recording is pluggable via RecordDecision
// rather than a Slack Events API server, since standing up an inbound
// webhook receiver is deployment-specific and out of the engine's core.
type Slack struct {
	client    *slack.Client
	channelID string

	mu       sync.Mutex
	decided  map[string]*approval.Response
}

// NewSlack constructs a Slack adapter posting to channelID using token.
func NewSlack(token, channelID string) *Slack {
	return &Slack{
		client:    slack.New(token),
		channelID: channelID,
		decided:   make(map[string]*approval.Response),
	}
}

// Name returns "slack".
func (s *Slack) Name() string { return "slack" }

// SendNotification posts req as a formatted Slack message with one
// attachment field per context entry.
func (s *Slack) SendNotification(_ context.Context, req *approval.Request) error {
	fields := make([]slack.AttachmentField, 0, len(req.Context))
	for k, v := range req.Context {
		fields = append(fields, slack.AttachmentField{
			Title: k,
			Value: fmt.Sprintf("%v", v),
			Short: true,
		})
	}

	attachment := slack.Attachment{
		Color:      "warning",
		Title:      fmt.Sprintf("Approval required: %s", req.Phase),
		Text:       req.Question,
		Fields:     fields,
		Footer:     fmt.Sprintf("workflow %s · reply with: %s <%s>", req.WorkflowID, strings.Join(req.Options, "|"), req.ID),
		CallbackID: req.ID,
	}

	_, _, err := s.client.PostMessage(s.channelID, slack.MsgOptionAttachments(attachment))
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// PollResponse returns the decision recorded via RecordDecision, if any.
func (s *Slack) PollResponse(_ context.Context, req *approval.Request) (*approval.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, ok := s.decided[req.ID]
	if !ok {
		return nil, nil
	}
	delete(s.decided, req.ID)
	return resp, nil
}

// RecordDecision is called by the host's own Slack event handler (slash
// command, interaction callback, or message-reply parser) once a
// responder has replied to a posted approval message. The decision
// becomes visible to the next PollResponse call.
func (s *Slack) RecordDecision(requestID, decision, responder string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decided[requestID] = &approval.Response{
		RequestID: requestID,
		Decision:  decision,
		Responder: responder,
		Channel:   "slack",
	}
}
