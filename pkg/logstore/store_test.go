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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractary/faber/pkg/workflowstate"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()

	file, err := NewFileStore(t.TempDir(), LevelInfo)
	require.NoError(t, err)
	t.Cleanup(func() { file.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(LevelInfo),
		"file":   file,
	}
}

func TestStore_GetUnknownWorkflowReturnsNotFound(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "WF-missing")
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestStore_StartEndWorkflowRoundTrips(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			start := time.Now()

			require.NoError(t, store.StartWorkflow(ctx, "WF-1", "work-123", start))
			require.NoError(t, store.EndWorkflow(ctx, "WF-1", workflowstate.WorkflowStatusCompleted, "done", start.Add(time.Minute)))

			log, err := store.Get(ctx, "WF-1")
			require.NoError(t, err)
			assert.Equal(t, "WF-1", log.WorkflowID)
			assert.Equal(t, "work-123", log.WorkID)
			assert.Equal(t, workflowstate.WorkflowStatusCompleted, log.Status)
			assert.Equal(t, "done", log.Summary)
			assert.False(t, log.EndedAt.IsZero())
		})
	}
}

func TestStore_StartEndPhaseRecordsElapsedMilliseconds(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			start := time.Now()

			require.NoError(t, store.StartWorkflow(ctx, "WF-2", "work-1", start))
			require.NoError(t, store.StartPhase(ctx, "WF-2", workflowstate.PhaseFrame, start))

			elapsed, err := store.EndPhase(ctx, "WF-2", workflowstate.PhaseFrame, workflowstate.PhaseStatusCompleted, start.Add(250*time.Millisecond))
			require.NoError(t, err)
			assert.Equal(t, int64(250), elapsed)

			log, err := store.Get(ctx, "WF-2")
			require.NoError(t, err)
			require.Len(t, log.Phases, 1)
			assert.Equal(t, workflowstate.PhaseFrame, log.Phases[0].Phase)
			assert.Equal(t, workflowstate.PhaseStatusCompleted, log.Phases[0].Status)
			assert.Equal(t, int64(250), log.Phases[0].DurationMS)
		})
	}
}

func TestStore_EndPhaseWithoutStartIsError(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.StartWorkflow(ctx, "WF-3", "work-1", time.Now()))

			_, err := store.EndPhase(ctx, "WF-3", workflowstate.PhaseBuild, workflowstate.PhaseStatusCompleted, time.Now())
			assert.Error(t, err)
		})
	}
}

func TestStore_LogFiltersBelowMinLevel(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			require.NoError(t, store.StartWorkflow(ctx, "WF-4", "work-1", now))

			require.NoError(t, store.Log(ctx, "WF-4", LevelDebug, workflowstate.PhaseFrame, "too quiet", nil, now))
			require.NoError(t, store.Log(ctx, "WF-4", LevelWarning, workflowstate.PhaseFrame, "heads up", map[string]any{"k": "v"}, now))

			log, err := store.Get(ctx, "WF-4")
			require.NoError(t, err)
			require.Len(t, log.Entries, 1)
			assert.Equal(t, LevelWarning, log.Entries[0].Level)
			assert.Equal(t, "heads up", log.Entries[0].Message)
		})
	}
}

func TestStore_ListFiltersByStatusAndWorkID(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now()

			require.NoError(t, store.StartWorkflow(ctx, "WF-5", "work-a", base))
			require.NoError(t, store.EndWorkflow(ctx, "WF-5", workflowstate.WorkflowStatusCompleted, "", base.Add(time.Minute)))

			require.NoError(t, store.StartWorkflow(ctx, "WF-6", "work-b", base.Add(2*time.Minute)))
			require.NoError(t, store.EndWorkflow(ctx, "WF-6", workflowstate.WorkflowStatusFailed, "", base.Add(3*time.Minute)))

			completed, err := store.List(ctx, ListFilter{Status: workflowstate.WorkflowStatusCompleted})
			require.NoError(t, err)
			require.Len(t, completed, 1)
			assert.Equal(t, "WF-5", completed[0].WorkflowID)

			byWork, err := store.List(ctx, ListFilter{WorkID: "work-b"})
			require.NoError(t, err)
			require.Len(t, byWork, 1)
			assert.Equal(t, "WF-6", byWork[0].WorkflowID)

			all, err := store.List(ctx, ListFilter{})
			require.NoError(t, err)
			require.Len(t, all, 2)
			// Most recently started first.
			assert.Equal(t, "WF-6", all[0].WorkflowID)
		})
	}
}

func TestStore_ListRespectsLimit(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now()
			for i := 0; i < 3; i++ {
				id := []string{"WF-7", "WF-8", "WF-9"}[i]
				require.NoError(t, store.StartWorkflow(ctx, id, "work-1", base.Add(time.Duration(i)*time.Minute)))
			}

			limited, err := store.List(ctx, ListFilter{Limit: 2})
			require.NoError(t, err)
			assert.Len(t, limited, 2)
		})
	}
}

func TestLevel_Rank(t *testing.T) {
	assert.Less(t, LevelDebug.Rank(), LevelInfo.Rank())
	assert.Less(t, LevelInfo.Rank(), LevelWarning.Rank())
	assert.Less(t, LevelWarning.Rank(), LevelError.Rank())
	assert.Less(t, LevelError.Rank(), LevelCritical.Rank())
	assert.Equal(t, -1, Level("bogus").Rank())
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory ok", Config{Backend: BackendMemory}, false},
		{"empty backend defaults to memory", Config{}, false},
		{"file without dir", Config{Backend: BackendFile, Dir: ""}, false}, // SetDefaults fills Dir before Validate runs in New
		{"network without endpoints", Config{Backend: BackendNetwork}, true},
		{"network with endpoints", Config{Backend: BackendNetwork, Endpoints: []string{"localhost:2379"}}, false},
		{"unknown backend", Config{Backend: "bogus"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			cfg.SetDefaults()
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_MemoryBackend(t *testing.T) {
	store, err := New(Config{Backend: BackendMemory})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.StartWorkflow(ctx, "WF-10", "work-1", time.Now()))
	log, err := store.Get(ctx, "WF-10")
	require.NoError(t, err)
	assert.Equal(t, workflowstate.WorkflowStatusRunning, log.Status)
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewFileStore(dir, LevelInfo)
	require.NoError(t, err)
	require.NoError(t, first.StartWorkflow(ctx, "WF-11", "work-1", time.Now()))
	require.NoError(t, first.Close())

	second, err := NewFileStore(dir, LevelInfo)
	require.NoError(t, err)
	defer second.Close()

	log, err := second.Get(ctx, "WF-11")
	require.NoError(t, err)
	assert.Equal(t, "WF-11", log.WorkflowID)
}
