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

package definitions

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounceDelay coalesces a burst of filesystem events (an editor's
// write-then-rename save pattern, several files dropped in at once) into
// one Reload.
const watchDebounceDelay = 250 * time.Millisecond

// Watch watches .fractary/agents/ and .fractary/tools/ for changes and
// calls Reload whenever a file is created, written, or removed, until ctx
// is cancelled. It is optional - Discover/Reload called explicitly is
// enough for a one-shot CLI run; Watch exists for a long-lived embedder
// (a server process holding a *Session open across many workflow runs)
// that wants its registry to pick up edited definitions without a
// restart. A directory that does not exist when Watch is called is
// skipped, as Discover skips it, and is not watched if it is created
// later.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	for _, dir := range []string{
		filepath.Join(r.projectRoot, agentsSubdir),
		filepath.Join(r.projectRoot, toolsSubdir),
	} {
		if _, statErr := os.Stat(dir); statErr == nil {
			if err := watcher.Add(dir); err != nil {
				watcher.Close()
				return err
			}
		}
	}

	go r.watchLoop(ctx, watcher)
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	reload := func() {
		if err := r.Reload(); err != nil {
			r.logger.Error("definitions: reload after filesystem change failed", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounceDelay, reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("definitions: filesystem watch error", "error", err)
		}
	}
}
