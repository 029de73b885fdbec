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
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// FileStore persists checkpoints to a single SQLite database file, chosen
// for standalone deployments that want durability without an external
// service. Every Put runs inside a transaction so a concurrent Get never
// observes a torn write.
type FileStore struct {
	db *sql.DB
}

// NewFileStore opens (creating if necessary) the SQLite database at path
// and ensures the checkpoints table exists.
func NewFileStore(path string) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("checkpoint: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	state BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: create schema: %w", err)
	}

	return &FileStore{db: db}, nil
}

// Put writes state for threadID inside a transaction, overwriting any
// prior checkpoint for the same thread id.
func (f *FileStore) Put(ctx context.Context, threadID, workflowID string, state []byte) error {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("checkpoint: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO checkpoints (thread_id, workflow_id, state, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(thread_id) DO UPDATE SET
	workflow_id = excluded.workflow_id,
	state = excluded.state,
	updated_at = excluded.updated_at`,
		threadID, workflowID, state, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("checkpoint: put %s: %w", threadID, err)
	}

	return tx.Commit()
}

// Get returns the most recent checkpoint for threadID, or ErrNotFound.
func (f *FileStore) Get(ctx context.Context, threadID string) (*Checkpoint, error) {
	row := f.db.QueryRowContext(ctx,
		`SELECT workflow_id, state, updated_at FROM checkpoints WHERE thread_id = ?`, threadID)

	var (
		workflowID string
		state      []byte
		updatedAt  int64
	)
	if err := row.Scan(&workflowID, &state, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("checkpoint: get %s: %w", threadID, err)
	}

	return &Checkpoint{
		ThreadID:   threadID,
		WorkflowID: workflowID,
		State:      state,
		UpdatedAt:  time.Unix(0, updatedAt),
	}, nil
}

// Close closes the underlying database handle.
func (f *FileStore) Close() error {
	return f.db.Close()
}
