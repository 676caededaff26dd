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

// Package store is the local cache of remote mail, calendar and
// contact state, keyed per account.  It also persists the per-account
// sync cursors that drive incremental synchronization.
package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a single-record lookup misses the
// cache.  Callers map it to their 404 equivalent.
var ErrNotFound = errors.New("record not found")

// Sync types tracked in the sync_cursors table.
const (
	SyncMail     = "mail"
	SyncCalendar = "calendar"
	SyncContacts = "contacts"
)

var createTableSQL = []string{
	// Connected remote identities.  The engine reads accounts but
	// never creates them as a side effect of sync.
	`
CREATE TABLE IF NOT EXISTS accounts (
id TEXT NOT NULL PRIMARY KEY,
provider TEXT NOT NULL,
email TEXT NOT NULL UNIQUE,
display_name TEXT NOT NULL DEFAULT '',
scopes TEXT NOT NULL DEFAULT '[]'
);`,
	// One row per (account, sync type).  last_cursor is the opaque
	// server-issued change cursor (mail history id); empty means
	// the next pass must be a full sync.
	`
CREATE TABLE IF NOT EXISTS sync_cursors (
account_id TEXT NOT NULL,
sync_type TEXT NOT NULL,
last_cursor TEXT NOT NULL DEFAULT '',
last_sync_at INTEGER NOT NULL,
PRIMARY KEY (account_id, sync_type)
);`,
	// Field: labels
	//
	//   Canonically a JSON array of provider label ids.  A legacy
	//   comma-joined encoding is still accepted on read; see the
	//   label package.
	//
	// Fields: is_read, is_starred
	//
	//   Projections derived from labels (absence of UNREAD,
	//   presence of STARRED).  Maintained only through the label
	//   reconciler, never written independently.
	//
	// Field: raw_payload
	//
	//   The full provider message resource as JSON.  Used to
	//   recover threading headers on reply/forward.
	`
CREATE TABLE IF NOT EXISTS emails (
id TEXT NOT NULL PRIMARY KEY,
account_id TEXT NOT NULL,
thread_id TEXT NOT NULL DEFAULT '',
message_id TEXT NOT NULL DEFAULT '',
subject TEXT NOT NULL DEFAULT '',
snippet TEXT NOT NULL DEFAULT '',
from_email TEXT NOT NULL DEFAULT '',
from_name TEXT NOT NULL DEFAULT '',
to_emails TEXT NOT NULL DEFAULT '[]',
cc_emails TEXT NOT NULL DEFAULT '[]',
date INTEGER NOT NULL DEFAULT 0,
body_text TEXT NOT NULL DEFAULT '',
body_html TEXT NOT NULL DEFAULT '',
labels TEXT NOT NULL DEFAULT '[]',
is_read INTEGER NOT NULL DEFAULT 0,
is_starred INTEGER NOT NULL DEFAULT 0,
has_attachments INTEGER NOT NULL DEFAULT 0,
raw_payload TEXT NOT NULL DEFAULT ''
);`,
	`CREATE INDEX IF NOT EXISTS idx_emails_account_date ON emails (account_id, date DESC);`,
	// start_time/end_time are epoch millis derived from either an
	// exact timestamp or an all-day date.
	`
CREATE TABLE IF NOT EXISTS calendar_events (
id TEXT NOT NULL PRIMARY KEY,
account_id TEXT NOT NULL,
calendar_id TEXT NOT NULL DEFAULT 'primary',
summary TEXT NOT NULL DEFAULT '',
description TEXT NOT NULL DEFAULT '',
location TEXT NOT NULL DEFAULT '',
start_time INTEGER NOT NULL DEFAULT 0,
end_time INTEGER NOT NULL DEFAULT 0,
all_day INTEGER NOT NULL DEFAULT 0,
status TEXT NOT NULL DEFAULT '',
attendees TEXT NOT NULL DEFAULT '[]',
organizer_email TEXT NOT NULL DEFAULT '',
recurrence TEXT NOT NULL DEFAULT '[]',
raw_payload TEXT NOT NULL DEFAULT ''
);`,
	`CREATE INDEX IF NOT EXISTS idx_events_account_start ON calendar_events (account_id, start_time);`,
	// Contacts are full-replace upserts; the read path prefers
	// reconstructing from raw_payload and falls back to the
	// flattened columns.
	`
CREATE TABLE IF NOT EXISTS contacts (
id TEXT NOT NULL PRIMARY KEY,
account_id TEXT NOT NULL,
display_name TEXT NOT NULL DEFAULT '',
given_name TEXT NOT NULL DEFAULT '',
family_name TEXT NOT NULL DEFAULT '',
email TEXT NOT NULL DEFAULT '',
phone TEXT NOT NULL DEFAULT '',
company TEXT NOT NULL DEFAULT '',
job_title TEXT NOT NULL DEFAULT '',
photo_url TEXT NOT NULL DEFAULT '',
raw_payload TEXT NOT NULL DEFAULT ''
);`,
}

// Store wraps the cache database.
type Store struct {
	db  *sqlx.DB
	log *logrus.Logger
}

func dsnFromPath(path string, addValues url.Values) (string, error) {
	var u *url.URL
	if !strings.HasPrefix(path, "file:") {
		u = &url.URL{Scheme: "file", Path: path}
	} else {
		var err error
		u, err = url.Parse(path)
		if err != nil {
			return "", err
		}
	}
	values := u.Query()
	for k, v := range addValues {
		for _, item := range v {
			values.Add(k, item)
		}
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// Open opens (and if necessary creates) the cache database at path.
func Open(ctx context.Context, path string, log *logrus.Logger) (*Store, error) {
	// The default SQLite busy timeout of 5 seconds is too short
	// when a full sync is writing; go with 5 minutes.
	busyTimeout := int(5*time.Minute) / int(time.Millisecond)

	dsn, err := dsnFromPath(path, url.Values{
		"_busy_timeout": {fmt.Sprintf("%d", busyTimeout)}})
	if err != nil {
		return nil, errors.Wrapf(err, "Open(%q) failed: could not form a DB DSN from the given path", path)
	}
	log.WithField("dsn", dsn).Debug("opening cache database")
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "Open(%q) failed: could not open database at %q", path, dsn)
	}

	if err = initSchema(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "Open(%q) failed: could not initialize the database schema", path)
	}

	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func initSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range createTableSQL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "while executing %q", stmt)
		}
	}
	return nil
}
