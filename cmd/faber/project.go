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

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fractary/faber/pkg/config"
	"github.com/fractary/faber/pkg/faber"
	"github.com/fractary/faber/pkg/logger"
)

// loadProjectConfig reads `<projectRoot>/.faber/config.yaml` per spec.md
// §6's documented layout. A project with no config file runs under
// SetDefaults alone - config.yaml is optional, not required scaffolding.
func loadProjectConfig(projectRoot string) (*config.Config, error) {
	path := filepath.Join(projectRoot, ".faber", "config.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := &config.Config{}
		cfg.SetDefaults()
		return cfg, nil
	}
	return config.Load(path)
}

// openSession loads projectRoot's configuration and opens a *faber.Session
// against it - the shared setup every subcommand but validate's config-only
// path needs.
func openSession(projectRoot string) (*faber.Session, error) {
	cfg, err := loadProjectConfig(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	session, err := faber.Open(projectRoot, cfg, logger.GetLogger())
	if err != nil {
		return nil, fmt.Errorf("open project %s: %w", projectRoot, err)
	}
	return session, nil
}
