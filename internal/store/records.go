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

// This file provides the cached record types used by the rest of the
// program.  List-valued fields are stored as JSON array strings.

// Account identifies a connected remote identity.
type Account struct {
	ID          string `db:"id"`
	Provider    string `db:"provider"`
	Email       string `db:"email"`
	DisplayName string `db:"display_name"`
	Scopes      string `db:"scopes"`
}

// SyncCursor marks the last successfully processed point in a remote
// change stream for one (account, sync type) pair.
type SyncCursor struct {
	AccountID  string `db:"account_id"`
	SyncType   string `db:"sync_type"`
	LastCursor string `db:"last_cursor"`
	LastSyncAt int64  `db:"last_sync_at"`
}

// Email is the cached mail message record.  Date is epoch millis.
type Email struct {
	ID             string `db:"id"`
	AccountID      string `db:"account_id"`
	ThreadID       string `db:"thread_id"`
	MessageID      string `db:"message_id"`
	Subject        string `db:"subject"`
	Snippet        string `db:"snippet"`
	FromEmail      string `db:"from_email"`
	FromName       string `db:"from_name"`
	ToEmails       string `db:"to_emails"`
	CcEmails       string `db:"cc_emails"`
	Date           int64  `db:"date"`
	BodyText       string `db:"body_text"`
	BodyHTML       string `db:"body_html"`
	Labels         string `db:"labels"`
	IsRead         bool   `db:"is_read"`
	IsStarred      bool   `db:"is_starred"`
	HasAttachments bool   `db:"has_attachments"`
	RawPayload     string `db:"raw_payload"`
}

// CalendarEvent is the cached calendar event record.
type CalendarEvent struct {
	ID             string `db:"id"`
	AccountID      string `db:"account_id"`
	CalendarID     string `db:"calendar_id"`
	Summary        string `db:"summary"`
	Description    string `db:"description"`
	Location       string `db:"location"`
	StartTime      int64  `db:"start_time"`
	EndTime        int64  `db:"end_time"`
	AllDay         bool   `db:"all_day"`
	Status         string `db:"status"`
	Attendees      string `db:"attendees"`
	OrganizerEmail string `db:"organizer_email"`
	Recurrence     string `db:"recurrence"`
	RawPayload     string `db:"raw_payload"`
}

// Contact is the cached contact record.  ID is the suffix of the
// remote resource name (people/<id> becomes <id>).
type Contact struct {
	ID          string `db:"id"`
	AccountID   string `db:"account_id"`
	DisplayName string `db:"display_name"`
	GivenName   string `db:"given_name"`
	FamilyName  string `db:"family_name"`
	Email       string `db:"email"`
	Phone       string `db:"phone"`
	Company     string `db:"company"`
	JobTitle    string `db:"job_title"`
	PhotoURL    string `db:"photo_url"`
	RawPayload  string `db:"raw_payload"`
}
