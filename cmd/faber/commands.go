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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fractary/faber/pkg/faber"
	"github.com/fractary/faber/pkg/workflowstate"
)

// cancellableContext wires SIGINT/SIGTERM into ctx.Done and, if session is
// non-nil, also asks its in-flight engine to cancel cooperatively -
// mirroring the teacher's own serve-command shutdown-signal pattern.
func cancellableContext(session *faber.Session, workflowID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		if session != nil {
			session.CancelWorkflow(workflowID)
		}
		cancel()
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

// RunCmd runs a new workflow for a work item.
type RunCmd struct {
	WorkID   string `arg:"" name:"work-id" help:"Identifier of the work item to run FABER against."`
	Workflow string `help:"Custom workflow YAML document, in place of the builtin FABER topology." type:"path"`
	Watch    bool   `help:"Reload .fractary/ agent and tool definitions automatically as files change while this run is in flight."`
}

func (c *RunCmd) Run(cli *CLI) error {
	session, err := openSession(cli.Project)
	if err != nil {
		return err
	}
	defer session.Close()

	// workflowID isn't known until RunWorkflow mints one, so the signal
	// handler cancels via ctx, which RunWorkflow passes on to the engine's
	// Run; CancelWorkflow is not used here.
	ctx, stop := cancellableContext(nil, "")
	defer stop()

	if c.Watch {
		if err := session.Definitions.Watch(ctx); err != nil {
			return fmt.Errorf("watch definitions: %w", err)
		}
	}

	result, err := session.RunWorkflow(ctx, c.WorkID, faber.RunOptions{WorkflowPath: c.Workflow})
	if err != nil {
		return err
	}
	return printWorkflowResult(result)
}

// ResumeCmd resumes a workflow from its last checkpoint.
type ResumeCmd struct {
	WorkflowID string `arg:"" name:"workflow-id" help:"Workflow id to resume (e.g. WF-a1b2c3d4)."`
	Workflow   string `help:"Custom workflow YAML document, in place of the builtin FABER topology." type:"path"`
}

func (c *ResumeCmd) Run(cli *CLI) error {
	session, err := openSession(cli.Project)
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, stop := cancellableContext(session, c.WorkflowID)
	defer stop()

	result, err := session.ResumeWorkflow(ctx, c.WorkflowID, faber.RunOptions{WorkflowPath: c.Workflow})
	if err != nil {
		return err
	}
	return printWorkflowResult(result)
}

// CancelCmd cancels an in-flight workflow.
type CancelCmd struct {
	WorkflowID string `arg:"" name:"workflow-id" help:"Workflow id to cancel."`
}

func (c *CancelCmd) Run(cli *CLI) error {
	session, err := openSession(cli.Project)
	if err != nil {
		return err
	}
	defer session.Close()

	session.CancelWorkflow(c.WorkflowID)
	fmt.Printf("cancel requested for %s\n", c.WorkflowID)
	return nil
}

// ListCmd lists workflow runs recorded in the project's log store.
type ListCmd struct {
	Status string `help:"Filter by status (running, completed, failed, cancelled)."`
	WorkID string `name:"work-id" help:"Filter by work item id."`
	Limit  int    `help:"Maximum number of results." default:"20"`
	JSON   bool   `name:"json" help:"Output as JSON."`
}

func (c *ListCmd) Run(cli *CLI) error {
	session, err := openSession(cli.Project)
	if err != nil {
		return err
	}
	defer session.Close()

	logs, err := session.ListWorkflows(context.Background(), workflowstate.WorkflowStatus(c.Status), c.WorkID, c.Limit)
	if err != nil {
		return err
	}

	if c.JSON {
		return json.NewEncoder(os.Stdout).Encode(logs)
	}

	if len(logs) == 0 {
		fmt.Println("no workflows recorded")
		return nil
	}
	for _, l := range logs {
		fmt.Printf("%s  %-10s  work=%s  started=%s\n", l.WorkflowID, l.Status, l.WorkID, l.StartedAt.Format("2006-01-02T15:04:05"))
	}
	return nil
}

// ViewCmd views one workflow run's full log.
type ViewCmd struct {
	WorkflowID string `arg:"" name:"workflow-id" help:"Workflow id to view."`
	JSON       bool   `name:"json" help:"Output as JSON."`
}

func (c *ViewCmd) Run(cli *CLI) error {
	session, err := openSession(cli.Project)
	if err != nil {
		return err
	}
	defer session.Close()

	log, err := session.ViewWorkflow(context.Background(), c.WorkflowID)
	if err != nil {
		return err
	}

	if c.JSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(log)
	}

	fmt.Printf("workflow:  %s\n", log.WorkflowID)
	fmt.Printf("work item: %s\n", log.WorkID)
	fmt.Printf("status:    %s\n", log.Status)
	fmt.Printf("started:   %s\n", log.StartedAt.Format("2006-01-02T15:04:05"))
	if !log.EndedAt.IsZero() {
		fmt.Printf("ended:     %s\n", log.EndedAt.Format("2006-01-02T15:04:05"))
	}
	if log.Summary != "" {
		fmt.Printf("summary:   %s\n", log.Summary)
	}
	if len(log.Phases) > 0 {
		fmt.Println("\nphases:")
		for _, p := range log.Phases {
			fmt.Printf("  %-12s %-10s %dms\n", p.Phase, p.Status, p.DurationMS)
		}
	}
	if len(log.Entries) > 0 {
		fmt.Println("\nlog:")
		for _, e := range log.Entries {
			fmt.Printf("  %s [%s] %s: %s\n", e.Time.Format("15:04:05"), e.Level, e.Phase, e.Message)
		}
	}
	return nil
}

func printWorkflowResult(r *faber.WorkflowResult) error {
	fmt.Printf("workflow:  %s\n", r.WorkflowID)
	fmt.Printf("status:    %s\n", r.Status)
	if len(r.CompletedPhases) > 0 {
		fmt.Printf("completed: %v\n", r.CompletedPhases)
	}
	if r.PRURL != "" {
		fmt.Printf("pr:        %s\n", r.PRURL)
	}
	if r.BranchName != "" {
		fmt.Printf("branch:    %s\n", r.BranchName)
	}
	if r.Error != "" {
		fmt.Printf("error:     %s (phase %s)\n", r.Error, r.ErrorPhase)
		return fmt.Errorf("workflow %s ended in error", r.WorkflowID)
	}
	return nil
}
