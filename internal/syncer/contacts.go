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

	"github.com/mstrand/syncbox/internal/store"
)

// Contacts resynchronizes the full connection set each pass with a
// full-replace upsert per contact.  Paging is the remote's concern.
type Contacts struct {
	remote ContactsRemote
	store  *store.Store
	log    *logrus.Logger
}

func NewContacts(remote ContactsRemote, st *store.Store, log *logrus.Logger) *Contacts {
	return &Contacts{remote: remote, store: st, log: log}
}

func (c *Contacts) Sync(ctx context.Context, accountID string) (*Result, error) {
	c.log.WithField("account", accountID).Info("contacts sync")

	synced := 0
	err := c.remote.ListContacts(ctx, func(contact *store.Contact) error {
		contact.AccountID = accountID
		if err := c.store.UpsertContact(ctx, contact); err != nil {
			return err
		}
		synced++
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to retrieve contacts")
	}

	if err := c.store.SetCursor(ctx, accountID, store.SyncContacts, ""); err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"account": accountID, "synced": synced}).Info("contacts sync complete")
	return &Result{Synced: synced, Type: TypeFull}, nil
}
