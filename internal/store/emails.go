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
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/mstrand/syncbox/internal/label"
)

// UpsertEmail writes the full record, normalizing the label encoding
// and rederiving the read/starred projections so a row written from a
// legacy encoding comes out canonical.
func (s *Store) UpsertEmail(ctx context.Context, e *Email) error {
	labels := label.Parse(e.Labels)
	e.Labels = label.Encode(labels)
	flags := label.Derive(labels)
	e.IsRead = flags.IsRead
	e.IsStarred = flags.IsStarred

	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO emails (id, account_id, thread_id, message_id, subject, snippet,
			from_email, from_name, to_emails, cc_emails, date, body_text, body_html,
			labels, is_read, is_starred, has_attachments, raw_payload)
		 VALUES (:id, :account_id, :thread_id, :message_id, :subject, :snippet,
			:from_email, :from_name, :to_emails, :cc_emails, :date, :body_text, :body_html,
			:labels, :is_read, :is_starred, :has_attachments, :raw_payload)
		 ON CONFLICT (id) DO UPDATE SET
			account_id = excluded.account_id,
			thread_id = excluded.thread_id,
			message_id = excluded.message_id,
			subject = excluded.subject,
			snippet = excluded.snippet,
			from_email = excluded.from_email,
			from_name = excluded.from_name,
			to_emails = excluded.to_emails,
			cc_emails = excluded.cc_emails,
			date = excluded.date,
			body_text = excluded.body_text,
			body_html = excluded.body_html,
			labels = excluded.labels,
			is_read = excluded.is_read,
			is_starred = excluded.is_starred,
			has_attachments = excluded.has_attachments,
			raw_payload = excluded.raw_payload`, e)
	return errors.Wrapf(err, "upserting email %s", e.ID)
}

func (s *Store) GetEmail(ctx context.Context, id string) (*Email, error) {
	var e Email
	err := s.db.GetContext(ctx, &e, `SELECT * FROM emails WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading email %s", id)
	}
	return &e, nil
}

// DeleteEmail removes the record.  Deleting an absent id is not an
// error; remote change feeds routinely report deletes we never saw.
func (s *Store) DeleteEmail(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM emails WHERE id = ?`, id)
	return errors.Wrapf(err, "deleting email %s", id)
}

// SetEmailLabels overwrites the serialized label state and its derived
// projections.  Callers obtain both from label.ApplyDelta; no other
// path updates is_read or is_starred.
func (s *Store) SetEmailLabels(ctx context.Context, id, encoded string, flags label.Flags) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE emails SET labels = ?, is_read = ?, is_starred = ? WHERE id = ?`,
		encoded, flags.IsRead, flags.IsStarred, id)
	if err != nil {
		return errors.Wrapf(err, "updating labels for email %s", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListEmails(ctx context.Context, accountID string, limit, offset int) ([]Email, error) {
	var emails []Email
	err := s.db.SelectContext(ctx, &emails,
		`SELECT * FROM emails WHERE account_id = ? ORDER BY date DESC LIMIT ? OFFSET ?`,
		accountID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "listing emails")
	}
	return emails, nil
}

// SearchEmails runs the conjunctive predicate list produced by the
// query translator.  Every clause is ANDed; ordering is newest first.
func (s *Store) SearchEmails(ctx context.Context, accountID string, where []string, args []interface{}, limit int) ([]Email, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT * FROM emails WHERE account_id = ?`)
	all := make([]interface{}, 0, len(args)+2)
	all = append(all, accountID)
	for _, w := range where {
		fmt.Fprintf(&sb, " AND %s", w)
	}
	all = append(all, args...)
	sb.WriteString(` ORDER BY date DESC LIMIT ?`)
	all = append(all, limit)

	var emails []Email
	err := s.db.SelectContext(ctx, &emails, sb.String(), all...)
	if err != nil {
		return nil, errors.Wrap(err, "searching emails")
	}
	return emails, nil
}
