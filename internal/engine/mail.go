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
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/mstrand/syncbox/internal/batch"
	"github.com/mstrand/syncbox/internal/compose"
	"github.com/mstrand/syncbox/internal/label"
	"github.com/mstrand/syncbox/internal/remote"
	"github.com/mstrand/syncbox/internal/store"
)

// SendEmail builds, encodes and submits a new message, then caches
// the sent copy.  A failure to cache is logged, not returned; the
// message is already on the wire.
func (e *Engine) SendEmail(ctx context.Context, accountID string, msg *compose.Message) (string, error) {
	return e.send(ctx, accountID, msg, "")
}

// ReplyToEmail sends a threaded reply to a cached message.  The reply
// goes to the original sender, carries the Re: subject and threads via
// In-Reply-To and References.
func (e *Engine) ReplyToEmail(ctx context.Context, accountID, origID, body string, attachments []compose.Attachment) (string, error) {
	orig, err := e.store.GetEmail(ctx, origID)
	if err != nil {
		return "", errors.Wrapf(err, "reply target %s", origID)
	}
	origMsgID := orig.MessageID
	if origMsgID == "" {
		origMsgID = remote.HeaderFromPayload(orig.RawPayload, "Message-ID")
	}
	msg := &compose.Message{
		To:          []string{orig.FromEmail},
		Subject:     compose.ReplySubject(orig.Subject),
		BodyText:    body,
		InReplyTo:   origMsgID,
		References:  compose.ThreadReferences(remote.HeaderFromPayload(orig.RawPayload, "References"), origMsgID),
		Attachments: attachments,
	}
	return e.send(ctx, accountID, msg, orig.ThreadID)
}

// ForwardEmail sends a cached message on to new recipients with the
// conventional quoted-original body.  The forward starts a new thread.
func (e *Engine) ForwardEmail(ctx context.Context, accountID, origID string, to []string, note string, attachments []compose.Attachment) (string, error) {
	orig, err := e.store.GetEmail(ctx, origID)
	if err != nil {
		return "", errors.Wrapf(err, "forward target %s", origID)
	}
	msg := &compose.Message{
		To:      to,
		Subject: compose.ForwardSubject(orig.Subject),
		BodyText: compose.ForwardBody(note, compose.ForwardedOriginal{
			FromName:  orig.FromName,
			FromEmail: orig.FromEmail,
			Date:      remote.ParseMessageTime(orig.Date),
			Subject:   orig.Subject,
			To:        decodeRecipients(orig.ToEmails),
			Body:      orig.BodyText,
		}),
		Attachments: attachments,
	}
	return e.send(ctx, accountID, msg, "")
}

func (e *Engine) send(ctx context.Context, accountID string, msg *compose.Message, threadID string) (string, error) {
	raw, err := compose.Build(msg)
	if err != nil {
		return "", err
	}
	id, err := e.mail.Send(ctx, compose.TransportEncode(raw), threadID)
	if err != nil {
		return "", err
	}
	sent, err := e.mail.GetMessage(ctx, id)
	if err != nil {
		e.log.WithField("id", id).WithError(err).Warn("sent message not cached")
		return id, nil
	}
	sent.AccountID = accountID
	if err := e.store.UpsertEmail(ctx, sent); err != nil {
		e.log.WithField("id", id).WithError(err).Warn("sent message not cached")
	}
	return id, nil
}

// MarkAsRead sets or clears the unread state remotely, then mirrors
// the delta into the cache.
func (e *Engine) MarkAsRead(ctx context.Context, id string, read bool) error {
	add, remove := []string{label.Unread}, []string(nil)
	if read {
		add, remove = nil, []string{label.Unread}
	}
	return e.applyLabels(ctx, id, add, remove)
}

// ToggleStar flips the starred state based on the cached record.
func (e *Engine) ToggleStar(ctx context.Context, id string) error {
	rec, err := e.store.GetEmail(ctx, id)
	if err != nil {
		return err
	}
	if rec.IsStarred {
		return e.applyLabels(ctx, id, nil, []string{label.Starred})
	}
	return e.applyLabels(ctx, id, []string{label.Starred}, nil)
}

func (e *Engine) applyLabels(ctx context.Context, id string, add, remove []string) error {
	if err := e.mail.ModifyLabels(ctx, id, add, remove); err != nil {
		return err
	}
	rec, err := e.store.GetEmail(ctx, id)
	if err != nil {
		if errors.Cause(err) == store.ErrNotFound {
			// Remote accepted the change; an uncached id converges
			// on the next sync.
			return nil
		}
		return err
	}
	encoded, flags := label.ApplyDelta(rec.Labels, add, remove)
	return e.store.SetEmailLabels(ctx, id, encoded, flags)
}

// TrashEmails, DeleteEmails and ModifyLabels hand whole id sets to the
// batch coordinator.
func (e *Engine) TrashEmails(ctx context.Context, ids []string) (int, []batch.ItemResult, error) {
	return e.batch.Trash(ctx, ids)
}

func (e *Engine) DeleteEmails(ctx context.Context, ids []string) (int, []batch.ItemResult, error) {
	return e.batch.Delete(ctx, ids)
}

func (e *Engine) ModifyLabels(ctx context.Context, ids, add, remove []string) (int, error) {
	return e.batch.ModifyLabels(ctx, ids, add, remove)
}

func decodeRecipients(encoded string) string {
	var emails []string
	if err := json.Unmarshal([]byte(encoded), &emails); err != nil {
		return encoded
	}
	return strings.Join(emails, ", ")
}
