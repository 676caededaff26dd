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

// Package engine exposes the operations callers actually invoke:
// cache-backed reads, composed sends, label flows and batch actions.
// Reads never touch the network; writes go remote first, then mirror
// into the cache.
package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mstrand/syncbox/internal/batch"
	"github.com/mstrand/syncbox/internal/query"
	"github.com/mstrand/syncbox/internal/store"
)

// MailService is the remote mail surface the engine drives directly.
// Batch flows go through the batch coordinator instead.
type MailService interface {
	GetMessage(ctx context.Context, id string) (*store.Email, error)
	Send(ctx context.Context, encodedRaw, threadID string) (string, error)
	ModifyLabels(ctx context.Context, id string, add, remove []string) error
}

// CalendarService is the remote calendar surface.
type CalendarService interface {
	Insert(ctx context.Context, e *store.CalendarEvent) (*store.CalendarEvent, error)
	Patch(ctx context.Context, e *store.CalendarEvent) (*store.CalendarEvent, error)
	Delete(ctx context.Context, id string) error
}

type Engine struct {
	store    *store.Store
	mail     MailService
	calendar CalendarService
	batch    *batch.Coordinator
	log      *logrus.Logger
}

func New(st *store.Store, mail MailService, cal CalendarService, b *batch.Coordinator, log *logrus.Logger) *Engine {
	return &Engine{store: st, mail: mail, calendar: cal, batch: b, log: log}
}

// Emails lists cached messages newest first.
func (e *Engine) Emails(ctx context.Context, accountID string, limit, offset int) ([]store.Email, error) {
	return e.store.ListEmails(ctx, accountID, limit, offset)
}

func (e *Engine) Email(ctx context.Context, id string) (*store.Email, error) {
	return e.store.GetEmail(ctx, id)
}

// SearchEmails translates the raw query string and runs it against the
// cache.
func (e *Engine) SearchEmails(ctx context.Context, accountID, raw string, limit int) ([]store.Email, error) {
	where, args := query.Split(query.Translate(raw, time.Now()))
	return e.store.SearchEmails(ctx, accountID, where, args, limit)
}

func (e *Engine) Contacts(ctx context.Context, accountID string, limit, offset int) ([]store.Contact, error) {
	return e.store.ListContacts(ctx, accountID, limit, offset)
}

func (e *Engine) Contact(ctx context.Context, id string) (*store.Contact, error) {
	return e.store.GetContact(ctx, id)
}
