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

// Package provider holds the abstract interface spec.md §1 calls out as
// an external-collaborator surface: the version-control host a workflow's
// approval channel posts comments to and reads decisions back from.
// Concrete adapters (GitHub, GitLab, ...) are implementation detail -
// this package specifies only the shape.
package provider

import "context"

// Comment is a minimal view of a comment on an issue or pull request.
type Comment struct {
	ID        string
	Author    string
	Body      string
	CreatedAt string
}

// RepoProvider is the abstract version-control-host interface: posting a
// comment on a work item's issue/PR and listing comments made since a
// given point, independent of which concrete host backs it.
// pkg/approval/adapters.GitHub is built against this interface rather
// than a concrete client, so the approval queue never depends on a
// specific host's API.
type RepoProvider interface {
	PostComment(ctx context.Context, issueRef, body string) error
	ListCommentsSince(ctx context.Context, issueRef string, sinceRequestID string) ([]Comment, error)
}
