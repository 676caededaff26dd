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

package syncer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mstrand/syncbox/internal/store"
)

// defaultWindow is the span synced around now when the caller gives
// no explicit window.
const defaultWindow = 30 * 24 * time.Hour

// Window bounds a calendar sync pass.  A zero window defaults to
// thirty days either side of now.
type Window struct {
	Start time.Time
	End   time.Time
}

// Calendar resynchronizes the event window each pass.  There is no
// incremental cursor; the cursor row only records when the last pass
// completed.
type Calendar struct {
	remote CalendarRemote
	store  *store.Store
	log    *logrus.Logger
}

func NewCalendar(remote CalendarRemote, st *store.Store, log *logrus.Logger) *Calendar {
	return &Calendar{remote: remote, store: st, log: log}
}

func (c *Calendar) Sync(ctx context.Context, accountID string, w Window) (*Result, error) {
	if w.Start.IsZero() {
		w.Start = time.Now().Add(-defaultWindow)
	}
	if w.End.IsZero() {
		w.End = time.Now().Add(defaultWindow)
	}
	c.log.WithFields(logrus.Fields{
		"account": accountID,
		"start":   w.Start,
		"end":     w.End,
	}).Info("calendar sync")

	synced := 0
	err := c.remote.ListEvents(ctx, w.Start, w.End, func(e *store.CalendarEvent) error {
		e.AccountID = accountID
		if err := c.store.UpsertEvent(ctx, e); err != nil {
			return err
		}
		synced++
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to retrieve calendar events")
	}

	if err := c.store.SetCursor(ctx, accountID, store.SyncCalendar, ""); err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"account": accountID, "synced": synced}).Info("calendar sync complete")
	return &Result{Synced: synced, Type: TypeFull}, nil
}
