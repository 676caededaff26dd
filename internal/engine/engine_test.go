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

package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/mail"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mstrand/syncbox/internal/batch"
	"github.com/mstrand/syncbox/internal/compose"
	"github.com/mstrand/syncbox/internal/store"
)

type sentMessage struct {
	raw      []byte
	threadID string
}

type fakeMail struct {
	sent        []sentMessage
	modified    map[string][][]string // id -> [add, remove] per call
	sendErr     error
	modifyErr   error
	nextID      string
	sentRecords map[string]*store.Email
}

func newFakeMail() *fakeMail {
	return &fakeMail{
		modified:    map[string][][]string{},
		sentRecords: map[string]*store.Email{},
		nextID:      "sent-1",
	}
}

func (f *fakeMail) Send(ctx context.Context, encodedRaw, threadID string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	raw, err := base64.RawURLEncoding.DecodeString(encodedRaw)
	if err != nil {
		return "", errors.Wrap(err, "transport encoding not unpadded base64url")
	}
	f.sent = append(f.sent, sentMessage{raw: raw, threadID: threadID})
	return f.nextID, nil
}

func (f *fakeMail) GetMessage(ctx context.Context, id string) (*store.Email, error) {
	if rec, ok := f.sentRecords[id]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, errors.New("no such message")
}

func (f *fakeMail) ModifyLabels(ctx context.Context, id string, add, remove []string) error {
	if f.modifyErr != nil {
		return f.modifyErr
	}
	f.modified[id] = append(f.modified[id], [][]string{add, remove}...)
	return nil
}

type fakeCalendar struct {
	inserted  []*store.CalendarEvent
	deleted   []string
	insertErr error
}

func (f *fakeCalendar) Insert(ctx context.Context, e *store.CalendarEvent) (*store.CalendarEvent, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	cp := *e
	cp.ID = "ev-created"
	cp.Status = "confirmed"
	f.inserted = append(f.inserted, &cp)
	return &cp, nil
}

func (f *fakeCalendar) Patch(ctx context.Context, e *store.CalendarEvent) (*store.CalendarEvent, error) {
	cp := *e
	cp.Status = "confirmed"
	return &cp, nil
}

func (f *fakeCalendar) Delete(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeBatchRemote struct{}

func (fakeBatchRemote) BatchModifyLabels(ctx context.Context, ids, add, remove []string) error {
	return nil
}
func (fakeBatchRemote) Trash(ctx context.Context, id string) error  { return nil }
func (fakeBatchRemote) Delete(ctx context.Context, id string) error { return nil }

func testStore(t *testing.T) *store.Store {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"), log)
	if err != nil {
		t.Fatalf("store.Open() = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.FatalLevel)
	return log
}

func testEngine(t *testing.T) (*Engine, *store.Store, *fakeMail, *fakeCalendar) {
	t.Helper()
	st := testStore(t)
	fm := newFakeMail()
	fc := &fakeCalendar{}
	b := batch.New(fakeBatchRemote{}, st, quietLog())
	return New(st, fm, fc, b, quietLog()), st, fm, fc
}

func parseSent(t *testing.T, sent sentMessage) *mail.Message {
	t.Helper()
	msg, err := mail.ReadMessage(bytes.NewReader(sent.raw))
	if err != nil {
		t.Fatalf("sent bytes do not parse as a message: %v", err)
	}
	return msg
}

func TestSendEmailCachesSentCopy(t *testing.T) {
	ctx := context.Background()
	e, st, fm, _ := testEngine(t)
	fm.sentRecords["sent-1"] = &store.Email{ID: "sent-1", Subject: "Hi", Labels: `["SENT"]`}

	id, err := e.SendEmail(ctx, "acct-1", &compose.Message{
		To:       []string{"bob@example.com"},
		Subject:  "Hi",
		BodyText: "hello",
	})
	if err != nil {
		t.Fatalf("SendEmail() = %v", err)
	}
	if id != "sent-1" {
		t.Errorf("id = %q, want sent-1", id)
	}
	if len(fm.sent) != 1 || fm.sent[0].threadID != "" {
		t.Fatalf("sent = %+v, want one unthreaded message", fm.sent)
	}

	msg := parseSent(t, fm.sent[0])
	if got := msg.Header.Get("Subject"); got != "Hi" {
		t.Errorf("Subject = %q", got)
	}

	cached, err := st.GetEmail(ctx, "sent-1")
	if err != nil {
		t.Fatalf("sent copy not cached: %v", err)
	}
	if cached.AccountID != "acct-1" {
		t.Errorf("cached account = %q, want acct-1", cached.AccountID)
	}
}

func TestSendEmailSurvivesCacheMiss(t *testing.T) {
	e, _, fm, _ := testEngine(t)
	// GetMessage will fail; the send must still report success.
	fm.nextID = "sent-9"

	id, err := e.SendEmail(context.Background(), "acct-1", &compose.Message{
		To:       []string{"bob@example.com"},
		BodyText: "hello",
	})
	if err != nil {
		t.Fatalf("SendEmail() = %v", err)
	}
	if id != "sent-9" {
		t.Errorf("id = %q, want sent-9", id)
	}
}

func TestReplyThreadsIntoOriginal(t *testing.T) {
	ctx := context.Background()
	e, st, fm, _ := testEngine(t)
	fm.sentRecords["sent-1"] = &store.Email{ID: "sent-1"}

	orig := &store.Email{
		ID:        "orig",
		AccountID: "acct-1",
		ThreadID:  "thread-7",
		MessageID: "<orig@example.com>",
		Subject:   "Question",
		FromEmail: "ada@example.com",
	}
	if err := st.UpsertEmail(ctx, orig); err != nil {
		t.Fatalf("seeding original: %v", err)
	}

	if _, err := e.ReplyToEmail(ctx, "acct-1", "orig", "answer", nil); err != nil {
		t.Fatalf("ReplyToEmail() = %v", err)
	}
	if fm.sent[0].threadID != "thread-7" {
		t.Errorf("threadID = %q, want thread-7", fm.sent[0].threadID)
	}

	msg := parseSent(t, fm.sent[0])
	if got := msg.Header.Get("Subject"); got != "Re: Question" {
		t.Errorf("Subject = %q", got)
	}
	if got := msg.Header.Get("To"); got != "ada@example.com" {
		t.Errorf("To = %q, want the original sender", got)
	}
	if got := msg.Header.Get("In-Reply-To"); got != "<orig@example.com>" {
		t.Errorf("In-Reply-To = %q", got)
	}
	if got := msg.Header.Get("References"); got != "<orig@example.com>" {
		t.Errorf("References = %q", got)
	}
}

func TestReplyToUncachedMessageFails(t *testing.T) {
	e, _, _, _ := testEngine(t)
	_, err := e.ReplyToEmail(context.Background(), "acct-1", "missing", "body", nil)
	if errors.Cause(err) != store.ErrNotFound {
		t.Errorf("ReplyToEmail(missing) = %v, want ErrNotFound cause", err)
	}
}

func TestForwardQuotesOriginal(t *testing.T) {
	ctx := context.Background()
	e, st, fm, _ := testEngine(t)
	fm.sentRecords["sent-1"] = &store.Email{ID: "sent-1"}

	orig := &store.Email{
		ID:        "orig",
		AccountID: "acct-1",
		Subject:   "Plans",
		FromEmail: "ada@example.com",
		FromName:  "Ada",
		ToEmails:  `["bob@example.com"]`,
		BodyText:  "original text",
	}
	if err := st.UpsertEmail(ctx, orig); err != nil {
		t.Fatalf("seeding original: %v", err)
	}

	if _, err := e.ForwardEmail(ctx, "acct-1", "orig", []string{"carol@example.com"}, "see below", nil); err != nil {
		t.Fatalf("ForwardEmail() = %v", err)
	}
	if fm.sent[0].threadID != "" {
		t.Errorf("forward threaded into %q, want a new thread", fm.sent[0].threadID)
	}

	msg := parseSent(t, fm.sent[0])
	if got := msg.Header.Get("Subject"); got != "Fwd: Plans" {
		t.Errorf("Subject = %q", got)
	}
	body := string(fm.sent[0].raw)
	for _, want := range []string{
		"---------- Forwarded message ---------",
		"From: Ada <ada@example.com>",
		"To: bob@example.com",
		"original text",
		"see below",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("forward body missing %q", want)
		}
	}
}

func TestMarkAsReadMirrorsLocally(t *testing.T) {
	ctx := context.Background()
	e, st, fm, _ := testEngine(t)
	if err := st.UpsertEmail(ctx, &store.Email{ID: "m1", AccountID: "acct-1", Labels: `["INBOX","UNREAD"]`}); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	if err := e.MarkAsRead(ctx, "m1", true); err != nil {
		t.Fatalf("MarkAsRead() = %v", err)
	}
	if len(fm.modified["m1"]) == 0 {
		t.Fatal("remote labels never modified")
	}

	got, err := st.GetEmail(ctx, "m1")
	if err != nil {
		t.Fatalf("GetEmail() = %v", err)
	}
	if !got.IsRead || got.Labels != `["INBOX"]` {
		t.Errorf("after mark read: labels %s read %v", got.Labels, got.IsRead)
	}

	if err := e.MarkAsRead(ctx, "m1", false); err != nil {
		t.Fatalf("MarkAsRead(false) = %v", err)
	}
	got, _ = st.GetEmail(ctx, "m1")
	if got.IsRead {
		t.Error("mark unread did not clear the read flag")
	}
}

func TestMarkAsReadStopsOnRemoteFailure(t *testing.T) {
	ctx := context.Background()
	e, st, fm, _ := testEngine(t)
	if err := st.UpsertEmail(ctx, &store.Email{ID: "m1", AccountID: "acct-1", Labels: `["UNREAD"]`}); err != nil {
		t.Fatalf("seeding: %v", err)
	}
	fm.modifyErr = errors.New("remote down")

	if err := e.MarkAsRead(ctx, "m1", true); err == nil {
		t.Fatal("MarkAsRead() = nil, want remote error")
	}
	got, _ := st.GetEmail(ctx, "m1")
	if got.IsRead {
		t.Error("local state changed despite remote failure")
	}
}

func TestToggleStar(t *testing.T) {
	ctx := context.Background()
	e, st, _, _ := testEngine(t)
	if err := st.UpsertEmail(ctx, &store.Email{ID: "m1", AccountID: "acct-1", Labels: `["INBOX"]`}); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	if err := e.ToggleStar(ctx, "m1"); err != nil {
		t.Fatalf("ToggleStar() = %v", err)
	}
	got, _ := st.GetEmail(ctx, "m1")
	if !got.IsStarred {
		t.Error("first toggle did not star")
	}

	if err := e.ToggleStar(ctx, "m1"); err != nil {
		t.Fatalf("second ToggleStar() = %v", err)
	}
	got, _ = st.GetEmail(ctx, "m1")
	if got.IsStarred {
		t.Error("second toggle did not unstar")
	}
}

func TestSearchEmails(t *testing.T) {
	ctx := context.Background()
	e, st, _, _ := testEngine(t)
	for _, rec := range []*store.Email{
		{ID: "m1", AccountID: "acct-1", FromEmail: "ada@example.com", Subject: "report", Labels: `["INBOX","UNREAD"]`},
		{ID: "m2", AccountID: "acct-1", FromEmail: "bob@example.com", Subject: "report", Labels: `["INBOX"]`},
		{ID: "m3", AccountID: "acct-2", FromEmail: "ada@example.com", Subject: "report", Labels: `["INBOX","UNREAD"]`},
	} {
		if err := st.UpsertEmail(ctx, rec); err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}

	got, err := e.SearchEmails(ctx, "acct-1", "from:ada is:unread", 50)
	if err != nil {
		t.Fatalf("SearchEmails() = %v", err)
	}
	if len(got) != 1 || got[0].ID != "m1" {
		t.Errorf("SearchEmails() = %+v, want only m1", got)
	}
}

func TestCreateEventCachesRemoteCopy(t *testing.T) {
	ctx := context.Background()
	e, st, _, fc := testEngine(t)

	created, err := e.CreateEvent(ctx, "acct-1", &store.CalendarEvent{
		Summary:   "Standup",
		StartTime: 1000,
		EndTime:   2000,
	})
	if err != nil {
		t.Fatalf("CreateEvent() = %v", err)
	}
	if created.ID != "ev-created" || created.Status != "confirmed" {
		t.Errorf("created = %+v, want the provider's authoritative copy", created)
	}
	if len(fc.inserted) != 1 {
		t.Fatalf("remote inserts = %d, want 1", len(fc.inserted))
	}

	cached, err := st.GetEvent(ctx, "ev-created")
	if err != nil {
		t.Fatalf("created event not cached: %v", err)
	}
	if cached.AccountID != "acct-1" {
		t.Errorf("cached account = %q", cached.AccountID)
	}
}

func TestDeleteEventRemovesBothCopies(t *testing.T) {
	ctx := context.Background()
	e, st, _, fc := testEngine(t)
	if err := st.UpsertEvent(ctx, &store.CalendarEvent{ID: "ev1", AccountID: "acct-1", StartTime: 1, EndTime: 2}); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	if err := e.DeleteEvent(ctx, "ev1"); err != nil {
		t.Fatalf("DeleteEvent() = %v", err)
	}
	if len(fc.deleted) != 1 || fc.deleted[0] != "ev1" {
		t.Errorf("remote deletes = %v", fc.deleted)
	}
	if _, err := st.GetEvent(ctx, "ev1"); errors.Cause(err) != store.ErrNotFound {
		t.Errorf("event still cached: %v", err)
	}
}
