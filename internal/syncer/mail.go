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

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mstrand/syncbox/internal/label"
	"github.com/mstrand/syncbox/internal/store"
)

// Mail orchestrates mail synchronization for one provider.
type Mail struct {
	remote MailRemote
	store  *store.Store
	log    *logrus.Logger
}

func NewMail(remote MailRemote, st *store.Store, log *logrus.Logger) *Mail {
	return &Mail{remote: remote, store: st, log: log}
}

// Sync runs one pass for accountID.  A prior cursor selects the
// incremental path unless opts.Full forces a full pass; a full pass
// finishes by persisting the account's current cursor so the next
// call can run incrementally.
func (m *Mail) Sync(ctx context.Context, accountID string, opts Options) (*Result, error) {
	cursor, err := m.store.GetCursor(ctx, accountID, store.SyncMail)
	if err != nil {
		return nil, err
	}
	if !opts.Full && cursor != nil && cursor.LastCursor != "" {
		return m.incremental(ctx, accountID, cursor.LastCursor)
	}
	return m.full(ctx, accountID, opts.MaxResults)
}

func (m *Mail) full(ctx context.Context, accountID string, maxResults int) (*Result, error) {
	m.log.WithField("account", accountID).Info("full mail sync")

	synced := 0
	err := m.remote.ListMessageIDs(ctx, maxResults, func(id string) error {
		msg, err := m.remote.GetMessage(ctx, id)
		if err != nil {
			// Listings sometimes deliver messages that can
			// no longer be fetched; skip them.
			if errors.Cause(err) == ErrMessageNotFound {
				return nil
			}
			return errors.Wrapf(err, "failed getting message %v", id)
		}
		msg.AccountID = accountID
		if err := m.store.UpsertEmail(ctx, msg); err != nil {
			return err
		}
		synced++
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to retrieve all messages")
	}

	profile, err := m.remote.Profile(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading account profile")
	}
	if err := m.store.SetCursor(ctx, accountID, store.SyncMail, profile.HistoryID); err != nil {
		return nil, err
	}
	m.log.WithFields(logrus.Fields{
		"account": accountID,
		"synced":  synced,
		"cursor":  profile.HistoryID,
	}).Info("full mail sync complete")
	return &Result{Synced: synced, Type: TypeFull}, nil
}

func (m *Mail) incremental(ctx context.Context, accountID, cursor string) (*Result, error) {
	m.log.WithFields(logrus.Fields{
		"account": accountID,
		"cursor":  cursor,
	}).Info("incremental mail sync")

	delta, err := m.remote.ListHistory(ctx, cursor)
	if err != nil {
		return nil, errors.Wrap(err, "unable to retrieve incremental changes")
	}

	synced := 0
	for _, id := range delta.Added {
		msg, err := m.remote.GetMessage(ctx, id)
		if err != nil {
			if errors.Cause(err) == ErrMessageNotFound {
				continue
			}
			return nil, errors.Wrapf(err, "failed getting message %v", id)
		}
		msg.AccountID = accountID
		if err := m.store.UpsertEmail(ctx, msg); err != nil {
			return nil, err
		}
		synced++
	}
	for _, id := range delta.Deleted {
		if err := m.store.DeleteEmail(ctx, id); err != nil {
			return nil, err
		}
		synced++
	}
	for _, id := range delta.Relabeled {
		labels, err := m.remote.GetMessageLabels(ctx, id)
		if err != nil {
			if errors.Cause(err) == ErrMessageNotFound {
				continue
			}
			return nil, errors.Wrapf(err, "failed getting labels for %v", id)
		}
		// Only the label state and its projections change; the
		// cached body is left alone.
		encoded, flags := label.ApplyDelta("", labels, nil)
		if err := m.store.SetEmailLabels(ctx, id, encoded, flags); err != nil {
			if errors.Cause(err) == store.ErrNotFound {
				continue
			}
			return nil, err
		}
		synced++
	}

	// Persist the advanced cursor even when nothing changed, so
	// the next pass starts from the newest point.
	if delta.NewCursor != "" {
		if err := m.store.SetCursor(ctx, accountID, store.SyncMail, delta.NewCursor); err != nil {
			return nil, err
		}
	}
	m.log.WithFields(logrus.Fields{
		"account": accountID,
		"synced":  synced,
		"cursor":  delta.NewCursor,
	}).Info("incremental mail sync complete")
	return &Result{Synced: synced, Type: TypeIncremental}, nil
}
