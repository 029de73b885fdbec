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

package checkpoint

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// NetworkStore persists checkpoints to an etcd cluster under a configurable
// key prefix, for deployments that already run etcd for coordination and
// want checkpoint durability shared across multiple engine processes.
type NetworkStore struct {
	client    *clientv3.Client
	keyPrefix string
}

// NewNetworkStore dials an etcd cluster at endpoints and returns a Store
// that keys checkpoints under keyPrefix.
func NewNetworkStore(endpoints []string, keyPrefix string, dialTimeout time.Duration) (*NetworkStore, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("checkpoint: network store requires at least one endpoint")
	}
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	if !strings.HasSuffix(keyPrefix, "/") {
		keyPrefix += "/"
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: connect etcd: %w", err)
	}

	return &NetworkStore{client: client, keyPrefix: keyPrefix}, nil
}

func (n *NetworkStore) key(threadID string) string {
	return n.keyPrefix + threadID
}

// Put writes state for threadID, overwriting any prior checkpoint. A
// single etcd Put is inherently atomic at the key level, satisfying the
// no-torn-write guarantee.
func (n *NetworkStore) Put(ctx context.Context, threadID, workflowID string, state []byte) error {
	value := encodeNetworkValue(workflowID, state, time.Now())
	if _, err := n.client.Put(ctx, n.key(threadID), value); err != nil {
		return fmt.Errorf("checkpoint: etcd put %s: %w", threadID, err)
	}
	return nil
}

// Get returns the most recent checkpoint for threadID, or ErrNotFound.
func (n *NetworkStore) Get(ctx context.Context, threadID string) (*Checkpoint, error) {
	resp, err := n.client.Get(ctx, n.key(threadID))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: etcd get %s: %w", threadID, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}

	workflowID, state, updatedAt, err := decodeNetworkValue(resp.Kvs[0].Value)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: decode %s: %w", threadID, err)
	}

	return &Checkpoint{
		ThreadID:   threadID,
		WorkflowID: workflowID,
		State:      state,
		UpdatedAt:  updatedAt,
	}, nil
}

// Close closes the underlying etcd client.
func (n *NetworkStore) Close() error {
	return n.client.Close()
}

// encodeNetworkValue packs workflowID, updatedAt and the opaque state blob
// into a single etcd value using a length-prefixed header so the state
// payload itself never needs escaping.
func encodeNetworkValue(workflowID string, state []byte, updatedAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d\n%s\n%d\n", updatedAt.UnixNano(), workflowID, len(state))
	b.Write(state)
	return b.String()
}

func decodeNetworkValue(raw []byte) (workflowID string, state []byte, updatedAt time.Time, err error) {
	parts := strings.SplitN(string(raw), "\n", 4)
	if len(parts) != 4 {
		return "", nil, time.Time{}, fmt.Errorf("malformed checkpoint value")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return "", nil, time.Time{}, fmt.Errorf("malformed timestamp: %w", err)
	}
	length, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", nil, time.Time{}, fmt.Errorf("malformed length: %w", err)
	}
	if len(parts[3]) != length {
		return "", nil, time.Time{}, fmt.Errorf("truncated state payload")
	}
	return parts[1], []byte(parts[3]), time.Unix(0, nanos), nil
}
