// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// GetCursor returns the cursor for (accountID, syncType), or nil when
// no sync has completed yet.
func (s *Store) GetCursor(ctx context.Context, accountID, syncType string) (*SyncCursor, error) {
	var c SyncCursor
	err := s.db.GetContext(ctx, &c,
		`SELECT account_id, sync_type, last_cursor, last_sync_at
		 FROM sync_cursors WHERE account_id = ? AND sync_type = ?`,
		accountID, syncType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading sync cursor")
	}
	return &c, nil
}

// SetCursor records cursor as the new baseline for (accountID,
// syncType).  The upsert is idempotent.
func (s *Store) SetCursor(ctx context.Context, accountID, syncType, cursor string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_cursors (account_id, sync_type, last_cursor, last_sync_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (account_id, sync_type) DO UPDATE SET
			last_cursor = excluded.last_cursor,
			last_sync_at = excluded.last_sync_at`,
		accountID, syncType, cursor, time.Now().UnixMilli())
	return errors.Wrap(err, "writing sync cursor")
}
