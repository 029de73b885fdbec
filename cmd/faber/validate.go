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
	"encoding/json"
	"fmt"
	"os"
)

// ValidateCmd checks every agent and tool definition under the project's
// .fractary/ directories without running a workflow.
type ValidateCmd struct {
	Format string `short:"f" help:"Output format: compact, verbose, json." default:"compact" enum:"compact,verbose,json"`
}

type validationOutput struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	session, err := openSession(cli.Project)
	if err != nil {
		return printValidateLoadError(c.Format, cli.Project, err)
	}
	defer session.Close()

	errs := session.ValidateDefinitions()
	if len(errs) == 0 {
		printValidateSuccess(c.Format, cli.Project)
		return nil
	}

	messages := make([]string, len(errs))
	for i, e := range errs {
		messages[i] = e.Error()
	}

	switch c.Format {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(validationOutput{Valid: false, Errors: messages})
	case "verbose":
		fmt.Fprintf(os.Stderr, "Definition Validation Failed\n")
		fmt.Fprintf(os.Stderr, "=============================\n\n")
		fmt.Fprintf(os.Stderr, "Project: %s\n\n", cli.Project)
		for _, m := range messages {
			fmt.Fprintf(os.Stderr, "  - %s\n", m)
		}
	default: // compact
		for _, m := range messages {
			fmt.Fprintf(os.Stderr, "%s: %s\n", cli.Project, m)
		}
	}
	return fmt.Errorf("%d definition error(s)", len(errs))
}

func printValidateLoadError(format, project string, err error) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(validationOutput{Valid: false, Errors: []string{err.Error()}})
	case "verbose":
		fmt.Fprintf(os.Stderr, "Project Load Error\n===================\n\n")
		fmt.Fprintf(os.Stderr, "Project: %s\nError:   %s\n", project, err.Error())
	default:
		fmt.Fprintf(os.Stderr, "%s: load error: %s\n", project, err.Error())
	}
	return fmt.Errorf("project load failed")
}

func printValidateSuccess(format, project string) {
	switch format {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(validationOutput{Valid: true})
	case "verbose":
		fmt.Fprintf(os.Stdout, "Definition Validation Successful\n=================================\n\n")
		fmt.Fprintf(os.Stdout, "Project: %s\nStatus:  OK\n", project)
	default:
		fmt.Fprintf(os.Stdout, "%s: valid\n", project)
	}
}
