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

	"github.com/fractary/faber/pkg/approval"
	"github.com/fractary/faber/pkg/provider"
)

// GitHub posts approval requests as issue comments and looks for a
// reply comment containing the request id plus a decision keyword. It
// is built against provider.RepoProvider, not a concrete GitHub client,
// so the approval queue never depends on a specific host's API - the
// engine core treats GitHub itself as an external collaborator, per the
// specification's scope.
type GitHub struct {
	client   provider.RepoProvider
	issueRef func(workflowID string) string
}

// NewGitHub constructs a GitHub adapter. issueRef maps a workflow id to
// the issue/PR reference (e.g. "owner/repo#123") comments are posted to.
func NewGitHub(client provider.RepoProvider, issueRef func(workflowID string) string) *GitHub {
	return &GitHub{client: client, issueRef: issueRef}
}

// Name returns "github".
func (g *GitHub) Name() string { return "github" }

// SendNotification posts req as an issue comment naming its id and
// decision options.
func (g *GitHub) SendNotification(ctx context.Context, req *approval.Request) error {
	body := fmt.Sprintf(
		"**Approval required** (`%s`)\n\n%s\n\nReply with one of: %v\n\n<!-- faber-approval:%s -->",
		req.Phase, req.Question, req.Options, req.ID,
	)
	return g.client.PostComment(ctx, g.issueRef(req.WorkflowID), body)
}

// PollResponse scans comments made since the request for one containing
// a recognized decision keyword.
func (g *GitHub) PollResponse(ctx context.Context, req *approval.Request) (*approval.Response, error) {
	comments, err := g.client.ListCommentsSince(ctx, g.issueRef(req.WorkflowID), req.ID)
	if err != nil {
		return nil, fmt.Errorf("github: list comments: %w", err)
	}

	for _, c := range comments {
		words := strings.Fields(c.Body)
		for _, option := range req.Options {
			for _, word := range words {
				if strings.EqualFold(strings.Trim(word, ".,!:;"), option) {
					return &approval.Response{
						RequestID: req.ID,
						Decision:  option,
						Responder: c.Author,
						Channel:   "github",
					}, nil
				}
			}
		}
	}
	return nil, nil
}
