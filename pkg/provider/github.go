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

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// GitHubCLI implements RepoProvider by shelling out to the `gh` CLI -
// the same mechanism the original Python implementation's
// GitHubWorkProvider used (subprocess calls to `gh issue comment` and
// `gh issue view --json comments`) rather than a REST client, so
// authentication is whatever `gh auth login` already set up on the host
// running faber.
type GitHubCLI struct {
	// Path is the gh binary to invoke. Empty means "gh" on PATH.
	Path string
}

// NewGitHubCLI constructs a GitHubCLI adapter that invokes "gh" on PATH.
func NewGitHubCLI() *GitHubCLI {
	return &GitHubCLI{}
}

func (g *GitHubCLI) bin() string {
	if g.Path == "" {
		return "gh"
	}
	return g.Path
}

// PostComment runs `gh issue comment <issueRef> --body <body>`.
func (g *GitHubCLI) PostComment(ctx context.Context, issueRef, body string) error {
	cmd := exec.CommandContext(ctx, g.bin(), "issue", "comment", issueRef, "--body", body)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("provider: gh issue comment: %w: %s", err, stderr.String())
	}
	return nil
}

type ghAuthor struct {
	Login string `json:"login"`
}

type ghComment struct {
	ID        json.Number `json:"id"`
	Body      string      `json:"body"`
	CreatedAt string      `json:"createdAt"`
	Author    ghAuthor    `json:"author"`
}

type ghIssueView struct {
	Comments []ghComment `json:"comments"`
}

// ListCommentsSince runs `gh issue view <issueRef> --json comments` and
// returns every comment currently on the issue; gh has no "since"
// cursor of its own, so sinceRequestID is not used to filter the gh
// invocation - callers (pkg/approval/adapters.GitHub) scan the returned
// bodies for the request id themselves.
func (g *GitHubCLI) ListCommentsSince(ctx context.Context, issueRef string, sinceRequestID string) ([]Comment, error) {
	cmd := exec.CommandContext(ctx, g.bin(), "issue", "view", issueRef, "--json", "comments")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("provider: gh issue view: %w: %s", err, stderr.String())
	}

	var parsed ghIssueView
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		return nil, fmt.Errorf("provider: parse gh issue view output: %w", err)
	}

	comments := make([]Comment, 0, len(parsed.Comments))
	for _, c := range parsed.Comments {
		comments = append(comments, Comment{
			ID:        c.ID.String(),
			Author:    c.Author.Login,
			Body:      c.Body,
			CreatedAt: c.CreatedAt,
		})
	}
	return comments, nil
}
