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

package faber

// ValidateDefinitions checks every agent and tool definition under the
// session's project root without running a workflow - the `faber
// validate` subcommand's contract. It returns one error per malformed
// file; a nil/empty result means every definition parsed and validated.
func (s *Session) ValidateDefinitions() []error {
	return s.Definitions.DiscoverStrict()
}
