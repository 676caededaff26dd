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

package remote

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	calendar "google.golang.org/api/calendar/v3"
	gmail "google.golang.org/api/gmail/v1"
	people "google.golang.org/api/people/v1"
)

func b64url(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestNormalizeMessage(t *testing.T) {
	msg := &gmail.Message{
		Id:           "m1",
		ThreadId:     "t1",
		Snippet:      "hello there",
		InternalDate: 1700000000000,
		LabelIds:     []string{"INBOX", "UNREAD", "STARRED"},
		Payload: &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "Greetings"},
				{Name: "Message-ID", Value: "<abc@mail.example.com>"},
				{Name: "From", Value: `"Ada Lovelace" <ada@example.com>`},
				{Name: "To", Value: "bob@example.com, carol@example.com"},
				{Name: "Cc", Value: "dan@example.com"},
			},
			Parts: []*gmail.MessagePart{
				{
					MimeType: "text/plain",
					Body:     &gmail.MessagePartBody{Data: b64url("plain body")},
				},
				{
					MimeType: "text/html",
					Body:     &gmail.MessagePartBody{Data: b64url("<p>html body</p>")},
				},
				{
					MimeType: "application/pdf",
					Filename: "notes.pdf",
					Body:     &gmail.MessagePartBody{AttachmentId: "att1"},
				},
			},
		},
	}

	got, err := normalizeMessage(msg)
	if err != nil {
		t.Fatalf("normalizeMessage() = %v", err)
	}
	if got.ID != "m1" || got.ThreadID != "t1" {
		t.Errorf("ids = %s/%s, want m1/t1", got.ID, got.ThreadID)
	}
	if got.Subject != "Greetings" || got.MessageID != "<abc@mail.example.com>" {
		t.Errorf("subject/message-id = %q/%q", got.Subject, got.MessageID)
	}
	if got.FromEmail != "ada@example.com" || got.FromName != "Ada Lovelace" {
		t.Errorf("from = %q <%q>", got.FromName, got.FromEmail)
	}
	if diff := cmp.Diff(`["bob@example.com","carol@example.com"]`, got.ToEmails); diff != "" {
		t.Errorf("to emails mismatch (-want +got):\n%s", diff)
	}
	if got.CcEmails != `["dan@example.com"]` {
		t.Errorf("cc emails = %s", got.CcEmails)
	}
	if got.BodyText != "plain body" || got.BodyHTML != "<p>html body</p>" {
		t.Errorf("bodies = %q / %q", got.BodyText, got.BodyHTML)
	}
	if !got.HasAttachments {
		t.Error("attachment part not detected")
	}
	if got.Date != 1700000000000 {
		t.Errorf("date = %d, want internal date", got.Date)
	}
	if !got.IsStarred || got.IsRead {
		t.Errorf("flags = read %v starred %v, want unread and starred", got.IsRead, got.IsStarred)
	}
	if got.RawPayload == "" {
		t.Error("raw payload not preserved")
	}
}

func TestNormalizeMessageFallsBackToDateHeader(t *testing.T) {
	msg := &gmail.Message{
		Id: "m2",
		Payload: &gmail.MessagePart{
			Headers: []*gmail.MessagePartHeader{
				{Name: "Date", Value: "Tue, 14 Nov 2023 22:13:20 +0000"},
			},
		},
	}
	got, err := normalizeMessage(msg)
	if err != nil {
		t.Fatalf("normalizeMessage() = %v", err)
	}
	want := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC).UnixMilli()
	if got.Date != want {
		t.Errorf("date = %d, want %d from the Date header", got.Date, want)
	}
}

func TestDecodeBodyDataToleratesPadding(t *testing.T) {
	padded := base64.URLEncoding.EncodeToString([]byte("padded text"))
	if got := decodeBodyData(&gmail.MessagePartBody{Data: padded}); got != "padded text" {
		t.Errorf("padded decode = %q", got)
	}
	if got := decodeBodyData(&gmail.MessagePartBody{Data: b64url("bare text")}); got != "bare text" {
		t.Errorf("unpadded decode = %q", got)
	}
	if got := decodeBodyData(nil); got != "" {
		t.Errorf("nil body decode = %q", got)
	}
}

func TestHeaderFromPayload(t *testing.T) {
	rec, err := normalizeMessage(&gmail.Message{
		Id: "m3",
		Payload: &gmail.MessagePart{
			Headers: []*gmail.MessagePartHeader{
				{Name: "Message-ID", Value: "<orig@example.com>"},
				{Name: "References", Value: "<root@example.com>"},
			},
		},
	})
	if err != nil {
		t.Fatalf("normalizeMessage() = %v", err)
	}
	if got := HeaderFromPayload(rec.RawPayload, "message-id"); got != "<orig@example.com>" {
		t.Errorf("message-id lookup = %q", got)
	}
	if got := HeaderFromPayload(rec.RawPayload, "References"); got != "<root@example.com>" {
		t.Errorf("references lookup = %q", got)
	}
	if got := HeaderFromPayload("{not json", "Subject"); got != "" {
		t.Errorf("malformed payload lookup = %q, want empty", got)
	}
}

func TestNormalizeEvent(t *testing.T) {
	ev := &calendar.Event{
		Id:      "e1",
		Summary: "Standup",
		Status:  "confirmed",
		Start:   &calendar.EventDateTime{DateTime: "2024-03-01T09:00:00Z"},
		End:     &calendar.EventDateTime{DateTime: "2024-03-01T09:30:00Z"},
		Attendees: []*calendar.EventAttendee{
			{Email: "ada@example.com"},
			{Email: "bob@example.com"},
		},
		Organizer: &calendar.EventOrganizer{Email: "ada@example.com"},
	}
	got, err := normalizeEvent(ev)
	if err != nil {
		t.Fatalf("normalizeEvent() = %v", err)
	}
	if got.AllDay {
		t.Error("timed event marked all day")
	}
	wantStart := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).UnixMilli()
	if got.StartTime != wantStart {
		t.Errorf("start = %d, want %d", got.StartTime, wantStart)
	}
	if got.Attendees != `["ada@example.com","bob@example.com"]` {
		t.Errorf("attendees = %s", got.Attendees)
	}
	if got.OrganizerEmail != "ada@example.com" {
		t.Errorf("organizer = %q", got.OrganizerEmail)
	}
}

func TestNormalizeEventAllDay(t *testing.T) {
	ev := &calendar.Event{
		Id:    "e2",
		Start: &calendar.EventDateTime{Date: "2024-03-02"},
		End:   &calendar.EventDateTime{Date: "2024-03-03"},
	}
	got, err := normalizeEvent(ev)
	if err != nil {
		t.Fatalf("normalizeEvent() = %v", err)
	}
	if !got.AllDay {
		t.Error("date-only event not marked all day")
	}
	if got.StartTime != time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC).UnixMilli() {
		t.Errorf("start = %d", got.StartTime)
	}
}

func TestNormalizePerson(t *testing.T) {
	person := &people.Person{
		ResourceName: "people/c123",
		Names: []*people.Name{
			{DisplayName: "Ada Lovelace", GivenName: "Ada", FamilyName: "Lovelace"},
		},
		EmailAddresses: []*people.EmailAddress{{Value: "ada@example.com"}},
		PhoneNumbers:   []*people.PhoneNumber{{Value: "+15551234"}},
		Organizations:  []*people.Organization{{Name: "Analytical Engines", Title: "Programmer"}},
		Photos:         []*people.Photo{{Url: "https://example.com/ada.jpg"}},
	}
	got, err := normalizePerson(person)
	if err != nil {
		t.Fatalf("normalizePerson() = %v", err)
	}
	if got.ID != "c123" {
		t.Errorf("id = %q, want resource prefix stripped", got.ID)
	}
	if got.DisplayName != "Ada Lovelace" || got.GivenName != "Ada" || got.FamilyName != "Lovelace" {
		t.Errorf("names = %q/%q/%q", got.DisplayName, got.GivenName, got.FamilyName)
	}
	if got.Email != "ada@example.com" || got.Phone != "+15551234" {
		t.Errorf("email/phone = %q/%q", got.Email, got.Phone)
	}
	if got.Company != "Analytical Engines" || got.JobTitle != "Programmer" {
		t.Errorf("org = %q/%q", got.Company, got.JobTitle)
	}
	if got.PhotoURL != "https://example.com/ada.jpg" {
		t.Errorf("photo = %q", got.PhotoURL)
	}
}
