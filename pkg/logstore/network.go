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

package logstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/fractary/faber/pkg/workflowstate"
)

// NetworkStore persists one JSON document per workflow to an etcd cluster
// under a configurable key prefix, for deployments that already run etcd
// for coordination and want workflow logs visible across multiple engine
// processes. Every mutation is a read-modify-write of the whole document,
// same as FileStore - there is no per-entry etcd key, since a workflow log
// is always read back as one unit.
type NetworkStore struct {
	client    *clientv3.Client
	keyPrefix string
	minLevel  Level
}

// NewNetworkStore dials an etcd cluster at endpoints and returns a Store
// that keys logs under keyPrefix, filtering Log entries below minLevel
// (LevelInfo if empty).
func NewNetworkStore(endpoints []string, keyPrefix string, dialTimeout time.Duration, minLevel Level) (*NetworkStore, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("logstore: network store requires at least one endpoint")
	}
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	if !strings.HasSuffix(keyPrefix, "/") {
		keyPrefix += "/"
	}
	if minLevel == "" {
		minLevel = LevelInfo
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("logstore: connect etcd: %w", err)
	}

	return &NetworkStore{client: client, keyPrefix: keyPrefix, minLevel: minLevel}, nil
}

func (n *NetworkStore) key(workflowID string) string {
	return n.keyPrefix + workflowID
}

func (n *NetworkStore) read(ctx context.Context, workflowID string) (*WorkflowLog, error) {
	resp, err := n.client.Get(ctx, n.key(workflowID))
	if err != nil {
		return nil, fmt.Errorf("logstore: etcd get %s: %w", workflowID, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}
	var log WorkflowLog
	if err := json.Unmarshal(resp.Kvs[0].Value, &log); err != nil {
		return nil, fmt.Errorf("logstore: decode %s: %w", workflowID, err)
	}
	return &log, nil
}

func (n *NetworkStore) write(ctx context.Context, log *WorkflowLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("logstore: encode %s: %w", log.WorkflowID, err)
	}
	if _, err := n.client.Put(ctx, n.key(log.WorkflowID), string(data)); err != nil {
		return fmt.Errorf("logstore: etcd put %s: %w", log.WorkflowID, err)
	}
	return nil
}

func (n *NetworkStore) StartWorkflow(ctx context.Context, workflowID, workID string, now time.Time) error {
	return n.write(ctx, newWorkflowLog(workflowID, workID, now))
}

func (n *NetworkStore) EndWorkflow(ctx context.Context, workflowID string, status workflowstate.WorkflowStatus, summary string, now time.Time) error {
	log, err := n.read(ctx, workflowID)
	if err != nil {
		return err
	}
	endWorkflowLog(log, status, summary, now)
	return n.write(ctx, log)
}

func (n *NetworkStore) StartPhase(ctx context.Context, workflowID string, phase workflowstate.Phase, now time.Time) error {
	log, err := n.read(ctx, workflowID)
	if err != nil {
		return err
	}
	startPhaseLog(log, phase, now)
	return n.write(ctx, log)
}

func (n *NetworkStore) EndPhase(ctx context.Context, workflowID string, phase workflowstate.Phase, status workflowstate.PhaseStatus, now time.Time) (int64, error) {
	log, err := n.read(ctx, workflowID)
	if err != nil {
		return 0, err
	}
	elapsed, err := endPhaseLog(log, phase, status, now)
	if err != nil {
		return 0, err
	}
	return elapsed, n.write(ctx, log)
}

func (n *NetworkStore) Log(ctx context.Context, workflowID string, level Level, phase workflowstate.Phase, message string, fields map[string]any, now time.Time) error {
	log, err := n.read(ctx, workflowID)
	if err != nil {
		return err
	}
	if !appendLogEntry(log, n.minLevel, level, phase, message, fields, now) {
		return nil
	}
	return n.write(ctx, log)
}

func (n *NetworkStore) Get(ctx context.Context, workflowID string) (*WorkflowLog, error) {
	return n.read(ctx, workflowID)
}

func (n *NetworkStore) List(ctx context.Context, filter ListFilter) ([]*WorkflowLog, error) {
	resp, err := n.client.Get(ctx, n.keyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("logstore: etcd list %s: %w", n.keyPrefix, err)
	}

	matched := make([]*WorkflowLog, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var log WorkflowLog
		if err := json.Unmarshal(kv.Value, &log); err != nil {
			continue
		}
		if matchesFilter(&log, filter) {
			l := log
			matched = append(matched, &l)
		}
	}
	sortWorkflowLogsDesc(matched)
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Close closes the underlying etcd client.
func (n *NetworkStore) Close() error {
	return n.client.Close()
}
