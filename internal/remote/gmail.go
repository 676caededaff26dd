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

// Package remote adapts the provider's mail, calendar and contacts
// APIs to the record shapes the rest of the engine works with.  Every
// call goes through a per-service rate limiter and the transient
// retry wrapper.
package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/mstrand/syncbox/internal/label"
	"github.com/mstrand/syncbox/internal/retry"
	"github.com/mstrand/syncbox/internal/store"
	"github.com/mstrand/syncbox/internal/syncer"
)

const (
	// maxPageSize is the provider's per-page ceiling for message
	// listings.
	maxPageSize = 100

	// See https://developers.google.com/gmail/api/v1/reference/quota
	quotaUnitsMessagesGet     = 5
	quotaUnitsMessagesSend    = 100
	quotaUnitsMessagesModify  = 5
	quotaUnitsPerGetProfile   = 2
	quotaUnitsPerHistoryList  = 2
	quotaUnitsPerMessagesList = 1

	quotaUnitsPerSecond = 250
	rateLimitPerSecond  = quotaUnitsPerSecond * 0.8
	rateLimitBurst      = quotaUnitsPerSecond
)

// Gmail provides access to one account's messages.
type Gmail struct {
	svc     *gmail.Service
	limiter *rate.Limiter
	log     *logrus.Logger
}

func NewGmail(ctx context.Context, client *http.Client, log *logrus.Logger) (*Gmail, error) {
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, errors.Wrap(err, "creating gmail service")
	}
	l := rate.NewLimiter(rateLimitPerSecond, rateLimitBurst)
	return &Gmail{svc: svc, limiter: l, log: log}, nil
}

func (g *Gmail) Profile(ctx context.Context) (*syncer.Profile, error) {
	if err := g.limiter.WaitN(ctx, quotaUnitsPerGetProfile); err != nil {
		return nil, err
	}
	var u *gmail.Profile
	err := retry.Do(ctx, g.log, func() (err error) {
		u, err = gmail.NewUsersService(g.svc).GetProfile("me").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "getting profile")
	}
	return &syncer.Profile{
		EmailAddress: u.EmailAddress,
		HistoryID:    strconv.FormatUint(u.HistoryId, 10),
	}, nil
}

// ListMessageIDs pages through the account's message list, at most
// maxPageSize per page, stopping after maxResults ids when positive.
func (g *Gmail) ListMessageIDs(ctx context.Context, maxResults int, handler func(id string) error) error {
	msgs := gmail.NewUsersMessagesService(g.svc)
	listed := 0
	pageToken := ""
	for {
		if err := g.limiter.WaitN(ctx, quotaUnitsPerMessagesList); err != nil {
			return err
		}
		size := int64(maxPageSize)
		if maxResults > 0 && maxResults-listed < maxPageSize {
			size = int64(maxResults - listed)
		}
		if size <= 0 {
			return nil
		}
		call := msgs.List("me").Context(ctx).MaxResults(size)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		var page *gmail.ListMessagesResponse
		err := retry.Do(ctx, g.log, func() (err error) {
			page, err = call.Do()
			return err
		})
		if err != nil {
			return errors.Wrap(err, "unable to retrieve all messages")
		}
		g.log.WithFields(logrus.Fields{
			"count": len(page.Messages),
			"total": listed + len(page.Messages),
		}).Debug("listed page of messages")
		for _, m := range page.Messages {
			if err := handler(m.Id); err != nil {
				return err
			}
			listed++
			if maxResults > 0 && listed >= maxResults {
				return nil
			}
		}
		if page.NextPageToken == "" {
			return nil
		}
		pageToken = page.NextPageToken
	}
}

func (g *Gmail) getMessage(ctx context.Context, id, format string) (*gmail.Message, error) {
	if err := g.limiter.WaitN(ctx, quotaUnitsMessagesGet); err != nil {
		return nil, err
	}
	var msg *gmail.Message
	err := retry.Do(ctx, g.log, func() (err error) {
		msg, err = gmail.NewUsersMessagesService(g.svc).Get("me", id).
			Context(ctx).Format(format).Do()
		return err
	})
	if err != nil {
		if gerr, ok := errors.Cause(err).(*googleapi.Error); ok && gerr.Code == http.StatusNotFound {
			return nil, syncer.ErrMessageNotFound
		}
		return nil, errors.Wrapf(err, "getting message %v", id)
	}
	return msg, nil
}

func (g *Gmail) GetMessage(ctx context.Context, id string) (*store.Email, error) {
	msg, err := g.getMessage(ctx, id, "full")
	if err != nil {
		return nil, err
	}
	return normalizeMessage(msg)
}

func (g *Gmail) GetMessageLabels(ctx context.Context, id string) ([]string, error) {
	msg, err := g.getMessage(ctx, id, "minimal")
	if err != nil {
		return nil, err
	}
	return msg.LabelIds, nil
}

// ListHistory issues a single "changes since cursor" call.  The
// returned delta carries the new cursor even when no changes were
// reported.
func (g *Gmail) ListHistory(ctx context.Context, cursor string) (*syncer.HistoryDelta, error) {
	start, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "malformed history cursor %q", cursor)
	}
	if err := g.limiter.WaitN(ctx, quotaUnitsPerHistoryList); err != nil {
		return nil, err
	}
	var page *gmail.ListHistoryResponse
	err = retry.Do(ctx, g.log, func() (err error) {
		page, err = gmail.NewUsersHistoryService(g.svc).List("me").Context(ctx).
			StartHistoryId(start).
			HistoryTypes("messageAdded", "messageDeleted", "labelAdded", "labelRemoved").
			Do()
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to retrieve history")
	}

	delta := &syncer.HistoryDelta{}
	if page.HistoryId != 0 {
		delta.NewCursor = strconv.FormatUint(page.HistoryId, 10)
	}
	seen := map[string]bool{}
	note := func(dst *[]string, id string) {
		if !seen[id] {
			seen[id] = true
			*dst = append(*dst, id)
		}
	}
	for _, h := range page.History {
		for _, a := range h.MessagesAdded {
			note(&delta.Added, a.Message.Id)
		}
		for _, d := range h.MessagesDeleted {
			note(&delta.Deleted, d.Message.Id)
		}
		for _, l := range h.LabelsAdded {
			note(&delta.Relabeled, l.Message.Id)
		}
		for _, l := range h.LabelsRemoved {
			note(&delta.Relabeled, l.Message.Id)
		}
	}
	return delta, nil
}

// Send submits a transport-encoded message, threading it into
// threadID when non-empty, and returns the new message id.
func (g *Gmail) Send(ctx context.Context, encodedRaw, threadID string) (string, error) {
	if err := g.limiter.WaitN(ctx, quotaUnitsMessagesSend); err != nil {
		return "", err
	}
	msg := &gmail.Message{Raw: encodedRaw, ThreadId: threadID}
	var sent *gmail.Message
	err := retry.Do(ctx, g.log, func() (err error) {
		sent, err = gmail.NewUsersMessagesService(g.svc).Send("me", msg).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", errors.Wrap(err, "sending message")
	}
	return sent.Id, nil
}

func (g *Gmail) ModifyLabels(ctx context.Context, id string, add, remove []string) error {
	if err := g.limiter.WaitN(ctx, quotaUnitsMessagesModify); err != nil {
		return err
	}
	req := &gmail.ModifyMessageRequest{AddLabelIds: add, RemoveLabelIds: remove}
	err := retry.Do(ctx, g.log, func() error {
		_, err := gmail.NewUsersMessagesService(g.svc).Modify("me", id, req).Context(ctx).Do()
		return err
	})
	return errors.Wrapf(err, "modifying labels on %v", id)
}

func (g *Gmail) BatchModifyLabels(ctx context.Context, ids, add, remove []string) error {
	if err := g.limiter.WaitN(ctx, quotaUnitsMessagesModify); err != nil {
		return err
	}
	req := &gmail.BatchModifyMessagesRequest{
		Ids:            ids,
		AddLabelIds:    add,
		RemoveLabelIds: remove,
	}
	err := retry.Do(ctx, g.log, func() error {
		return gmail.NewUsersMessagesService(g.svc).BatchModify("me", req).Context(ctx).Do()
	})
	return errors.Wrap(err, "batch modifying labels")
}

func (g *Gmail) Trash(ctx context.Context, id string) error {
	if err := g.limiter.WaitN(ctx, quotaUnitsMessagesModify); err != nil {
		return err
	}
	err := retry.Do(ctx, g.log, func() error {
		_, err := gmail.NewUsersMessagesService(g.svc).Trash("me", id).Context(ctx).Do()
		return err
	})
	return errors.Wrapf(err, "trashing message %v", id)
}

func (g *Gmail) Delete(ctx context.Context, id string) error {
	if err := g.limiter.WaitN(ctx, quotaUnitsMessagesModify); err != nil {
		return err
	}
	err := retry.Do(ctx, g.log, func() error {
		return gmail.NewUsersMessagesService(g.svc).Delete("me", id).Context(ctx).Do()
	})
	return errors.Wrapf(err, "deleting message %v", id)
}

// normalizeMessage flattens a provider message resource into the
// cached record shape.  The full resource is preserved as the raw
// payload for later header lookups.
func normalizeMessage(msg *gmail.Message) (*store.Email, error) {
	flags := label.Derive(msg.LabelIds)
	e := &store.Email{
		ID:        msg.Id,
		ThreadID:  msg.ThreadId,
		Snippet:   msg.Snippet,
		Date:      msg.InternalDate,
		Labels:    label.Encode(msg.LabelIds),
		IsRead:    flags.IsRead,
		IsStarred: flags.IsStarred,
	}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "subject":
				e.Subject = h.Value
			case "message-id":
				e.MessageID = h.Value
			case "from":
				if addr, err := mail.ParseAddress(h.Value); err == nil {
					e.FromEmail = addr.Address
					e.FromName = addr.Name
				} else {
					e.FromEmail = h.Value
				}
			case "to":
				e.ToEmails = encodeAddressList(h.Value)
			case "cc":
				e.CcEmails = encodeAddressList(h.Value)
			case "date":
				if e.Date == 0 {
					if t, err := mail.ParseDate(h.Value); err == nil {
						e.Date = t.UnixMilli()
					}
				}
			}
		}
		text, html, attached := walkParts(msg.Payload)
		e.BodyText = text
		e.BodyHTML = html
		e.HasAttachments = attached
	}
	if e.ToEmails == "" {
		e.ToEmails = "[]"
	}
	if e.CcEmails == "" {
		e.CcEmails = "[]"
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding raw payload for %v", msg.Id)
	}
	e.RawPayload = string(raw)
	return e, nil
}

func encodeAddressList(value string) string {
	var emails []string
	if addrs, err := mail.ParseAddressList(value); err == nil {
		for _, a := range addrs {
			emails = append(emails, a.Address)
		}
	} else {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				emails = append(emails, part)
			}
		}
	}
	b, err := json.Marshal(emails)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// walkParts collects the first text/plain and text/html bodies and
// notes whether any part is a named attachment.
func walkParts(part *gmail.MessagePart) (text, html string, attached bool) {
	if part.Filename != "" {
		attached = true
	}
	switch part.MimeType {
	case "text/plain":
		if part.Filename == "" && text == "" {
			text = decodeBodyData(part.Body)
		}
	case "text/html":
		if part.Filename == "" && html == "" {
			html = decodeBodyData(part.Body)
		}
	}
	for _, sub := range part.Parts {
		t, h, a := walkParts(sub)
		if text == "" {
			text = t
		}
		if html == "" {
			html = h
		}
		attached = attached || a
	}
	return text, html, attached
}

// decodeBodyData decodes the base64url body data of a message part,
// tolerating both padded and unpadded forms.
func decodeBodyData(body *gmail.MessagePartBody) string {
	if body == nil || body.Data == "" {
		return ""
	}
	decoded, err := base64.RawURLEncoding.DecodeString(body.Data)
	if err != nil {
		decoded, err = base64.URLEncoding.DecodeString(body.Data)
		if err != nil {
			return ""
		}
	}
	return string(decoded)
}

// headerFromPayload extracts a header value from a stored raw payload.
// Malformed payloads yield the empty string rather than an error; the
// caller degrades to whatever flattened fields it has.
func headerFromPayload(rawPayload, name string) string {
	if rawPayload == "" {
		return ""
	}
	var msg gmail.Message
	if err := json.Unmarshal([]byte(rawPayload), &msg); err != nil || msg.Payload == nil {
		return ""
	}
	for _, h := range msg.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// HeaderFromPayload is the exported lookup used when composing
// replies and forwards.
func HeaderFromPayload(rawPayload, name string) string {
	return headerFromPayload(rawPayload, name)
}

// ParseMessageTime converts epoch millis to a time.  Zero maps to the
// zero time.
func ParseMessageTime(millis int64) time.Time {
	if millis == 0 {
		return time.Time{}
	}
	return time.UnixMilli(millis)
}
