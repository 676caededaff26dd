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

// Package syncer keeps the local cache consistent with the remote
// provider.  Mail supports both full and cursor-driven incremental
// passes; calendar and contacts resync their full window or page set
// each pass.
package syncer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/mstrand/syncbox/internal/store"
)

// ErrMessageNotFound is returned by remotes when a listed message can
// no longer be fetched.  Change feeds routinely deliver such ids; the
// coordinators skip them.
var ErrMessageNotFound = errors.New("remote message not found")

// Profile is per-account mailbox metadata.
type Profile struct {
	EmailAddress string

	// The opaque cursor naming the mailbox's current position in
	// the change stream.
	HistoryID string
}

// HistoryDelta is the outcome of one "list changes since cursor"
// call.  NewCursor may be set even when no changes were reported.
type HistoryDelta struct {
	NewCursor string
	Added     []string
	Deleted   []string
	Relabeled []string
}

// MailRemote provides all remote mail operations the coordinator
// drives.
type MailRemote interface {
	Profile(ctx context.Context) (*Profile, error)
	ListMessageIDs(ctx context.Context, maxResults int, handler func(id string) error) error
	GetMessage(ctx context.Context, id string) (*store.Email, error)
	GetMessageLabels(ctx context.Context, id string) ([]string, error)
	ListHistory(ctx context.Context, cursor string) (*HistoryDelta, error)
}

// CalendarRemote lists remote calendar events within a window.
type CalendarRemote interface {
	ListEvents(ctx context.Context, start, end time.Time, handler func(*store.CalendarEvent) error) error
}

// ContactsRemote lists the full remote contact set, paging
// internally.
type ContactsRemote interface {
	ListContacts(ctx context.Context, handler func(*store.Contact) error) error
}

// Result is the shared outcome shape of every sync pass.
type Result struct {
	Synced int
	Type   string
}

// Sync pass types.
const (
	TypeFull        = "full"
	TypeIncremental = "incremental"
)

// Options bound a mail sync pass.
type Options struct {
	// Full forces a full pass even when a cursor exists.
	Full bool

	// MaxResults caps the messages fetched by a full pass.
	MaxResults int
}

// Syncer bundles the three per-entity coordinators.
type Syncer struct {
	Mail     *Mail
	Calendar *Calendar
	Contacts *Contacts
}

// AllResult aggregates one SyncAll invocation.
type AllResult struct {
	Mail     *Result
	Calendar *Result
	Contacts *Result
}

// SyncAll runs the three coordinators concurrently for one account.
// Cursors and cache regions are independent, so the passes do not
// contend; callers must not overlap two SyncAll calls for the same
// account.
func (s *Syncer) SyncAll(ctx context.Context, accountID string, opts Options) (*AllResult, error) {
	grp, ctx := errgroup.WithContext(ctx)
	res := &AllResult{}
	grp.Go(func() (err error) {
		res.Mail, err = s.Mail.Sync(ctx, accountID, opts)
		return err
	})
	grp.Go(func() (err error) {
		res.Calendar, err = s.Calendar.Sync(ctx, accountID, Window{})
		return err
	})
	grp.Go(func() (err error) {
		res.Contacts, err = s.Contacts.Sync(ctx, accountID)
		return err
	})
	if err := grp.Wait(); err != nil {
		return nil, errors.Wrap(err, "failed to sync account")
	}
	return res, nil
}
