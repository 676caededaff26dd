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

	"github.com/pkg/errors"

	"github.com/mstrand/syncbox/internal/store"
)

// Events lists cached events overlapping the window, in epoch millis.
func (e *Engine) Events(ctx context.Context, accountID string, start, end int64) ([]store.CalendarEvent, error) {
	return e.store.ListEvents(ctx, accountID, start, end)
}

func (e *Engine) Event(ctx context.Context, id string) (*store.CalendarEvent, error) {
	return e.store.GetEvent(ctx, id)
}

// CreateEvent creates the event remotely and caches the authoritative
// copy the provider returns.
func (e *Engine) CreateEvent(ctx context.Context, accountID string, ev *store.CalendarEvent) (*store.CalendarEvent, error) {
	created, err := e.calendar.Insert(ctx, ev)
	if err != nil {
		return nil, err
	}
	created.AccountID = accountID
	if err := e.store.UpsertEvent(ctx, created); err != nil {
		return nil, errors.Wrapf(err, "caching created event %s", created.ID)
	}
	return created, nil
}

// UpdateEvent patches the remote event and refreshes the cached copy.
func (e *Engine) UpdateEvent(ctx context.Context, accountID string, ev *store.CalendarEvent) (*store.CalendarEvent, error) {
	updated, err := e.calendar.Patch(ctx, ev)
	if err != nil {
		return nil, err
	}
	updated.AccountID = accountID
	if err := e.store.UpsertEvent(ctx, updated); err != nil {
		return nil, errors.Wrapf(err, "caching updated event %s", updated.ID)
	}
	return updated, nil
}

// DeleteEvent removes the event remotely, then locally.
func (e *Engine) DeleteEvent(ctx context.Context, id string) error {
	if err := e.calendar.Delete(ctx, id); err != nil {
		return err
	}
	return e.store.DeleteEvent(ctx, id)
}
