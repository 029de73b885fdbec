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
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGH writes an executable shell script standing in for the real gh
// binary, so GitHubCLI's exec.CommandContext plumbing can be exercised
// without a network call or a real GitHub CLI installation.
func fakeGH(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestGitHubCLI_PostComment_RunsGHIssueComment(t *testing.T) {
	path := fakeGH(t, `
if [ "$1" = "issue" ] && [ "$2" = "comment" ]; then
  exit 0
fi
exit 1
`)
	g := &GitHubCLI{Path: path}
	err := g.PostComment(context.Background(), "owner/repo#1", "approved")
	assert.NoError(t, err)
}

func TestGitHubCLI_PostComment_WrapsFailureWithStderr(t *testing.T) {
	path := fakeGH(t, `echo "boom" >&2; exit 1`)
	g := &GitHubCLI{Path: path}
	err := g.PostComment(context.Background(), "owner/repo#1", "approved")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestGitHubCLI_ListCommentsSince_ParsesGHJSONOutput(t *testing.T) {
	path := fakeGH(t, `cat <<'EOF'
{"comments":[{"id":123,"body":"approve faber-approval:APR-1","createdAt":"2026-01-01T00:00:00Z","author":{"login":"alice"}}]}
EOF
`)
	g := &GitHubCLI{Path: path}
	comments, err := g.ListCommentsSince(context.Background(), "owner/repo#1", "APR-1")
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "123", comments[0].ID)
	assert.Equal(t, "alice", comments[0].Author)
	assert.Contains(t, comments[0].Body, "approve")
}

func TestGitHubCLI_ListCommentsSince_WrapsMalformedJSON(t *testing.T) {
	path := fakeGH(t, `echo "not json"`)
	g := &GitHubCLI{Path: path}
	_, err := g.ListCommentsSince(context.Background(), "owner/repo#1", "APR-1")
	assert.Error(t, err)
}

func TestNewGitHubCLI_DefaultsToGHOnPath(t *testing.T) {
	g := NewGitHubCLI()
	assert.Equal(t, "gh", g.bin())
}
