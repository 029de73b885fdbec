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
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()

	file, err := NewFileStore(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { file.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   file,
	}
}

func TestStore_GetUnknownThreadReturnsNotFound(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "thread-missing")
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestStore_PutThenGetRoundTrips(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			payload := []byte(`{"current_phase":"build"}`)

			require.NoError(t, store.Put(ctx, "thread-1", "WF-abc-1234abcd", payload))

			cp, err := store.Get(ctx, "thread-1")
			require.NoError(t, err)
			assert.Equal(t, "thread-1", cp.ThreadID)
			assert.Equal(t, "WF-abc-1234abcd", cp.WorkflowID)
			assert.Equal(t, payload, cp.State)
			assert.False(t, cp.UpdatedAt.IsZero())
		})
	}
}

func TestStore_PutOverwritesInPlace(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.Put(ctx, "thread-1", "WF-abc-1234abcd", []byte(`{"current_phase":"frame"}`)))
			require.NoError(t, store.Put(ctx, "thread-1", "WF-abc-1234abcd", []byte(`{"current_phase":"build"}`)))

			cp, err := store.Get(ctx, "thread-1")
			require.NoError(t, err)
			assert.Equal(t, `{"current_phase":"build"}`, string(cp.State))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory ok", Config{Backend: BackendMemory}, false},
		{"empty backend defaults to memory", Config{}, false},
		{"file without path", Config{Backend: BackendFile}, true},
		{"file with path", Config{Backend: BackendFile, FilePath: "x.db"}, false},
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

	require.NoError(t, store.Put(context.Background(), "t1", "WF-x-00000000", []byte("data")))
	cp, err := store.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), cp.State)
}

func TestNetworkValue_EncodeDecodeRoundTrips(t *testing.T) {
	payload := []byte("line one\nline two\n{\"k\":\"v\"}")
	encoded := encodeNetworkValue("WF-abc-1234abcd", payload, time.Now())

	workflowID, state, _, err := decodeNetworkValue([]byte(encoded))
	require.NoError(t, err)
	assert.Equal(t, "WF-abc-1234abcd", workflowID)
	assert.Equal(t, payload, state)
}
