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

	"github.com/pkg/errors"
)

func (s *Store) UpsertEvent(ctx context.Context, e *CalendarEvent) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO calendar_events (id, account_id, calendar_id, summary, description,
			location, start_time, end_time, all_day, status, attendees,
			organizer_email, recurrence, raw_payload)
		 VALUES (:id, :account_id, :calendar_id, :summary, :description,
			:location, :start_time, :end_time, :all_day, :status, :attendees,
			:organizer_email, :recurrence, :raw_payload)
		 ON CONFLICT (id) DO UPDATE SET
			account_id = excluded.account_id,
			calendar_id = excluded.calendar_id,
			summary = excluded.summary,
			description = excluded.description,
			location = excluded.location,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			all_day = excluded.all_day,
			status = excluded.status,
			attendees = excluded.attendees,
			organizer_email = excluded.organizer_email,
			recurrence = excluded.recurrence,
			raw_payload = excluded.raw_payload`, e)
	return errors.Wrapf(err, "upserting event %s", e.ID)
}

func (s *Store) GetEvent(ctx context.Context, id string) (*CalendarEvent, error) {
	var e CalendarEvent
	err := s.db.GetContext(ctx, &e, `SELECT * FROM calendar_events WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading event %s", id)
	}
	return &e, nil
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM calendar_events WHERE id = ?`, id)
	return errors.Wrapf(err, "deleting event %s", id)
}

// ListEvents returns events overlapping [start, end), epoch millis,
// ordered by start time.
func (s *Store) ListEvents(ctx context.Context, accountID string, start, end int64) ([]CalendarEvent, error) {
	var events []CalendarEvent
	err := s.db.SelectContext(ctx, &events,
		`SELECT * FROM calendar_events
		 WHERE account_id = ? AND end_time >= ? AND start_time < ?
		 ORDER BY start_time`,
		accountID, start, end)
	if err != nil {
		return nil, errors.Wrap(err, "listing events")
	}
	return events, nil
}
