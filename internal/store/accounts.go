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

package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

func (s *Store) AddAccount(ctx context.Context, a *Account) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO accounts (id, provider, email, display_name, scopes)
		 VALUES (:id, :provider, :email, :display_name, :scopes)
		 ON CONFLICT (id) DO UPDATE SET
			provider = excluded.provider,
			email = excluded.email,
			display_name = excluded.display_name,
			scopes = excluded.scopes`, a)
	return errors.Wrapf(err, "adding account %s", a.Email)
}

// RemoveAccount deletes the account together with its cached records
// and cursors.
func (s *Store) RemoveAccount(ctx context.Context, id string) error {
	for _, stmt := range []string{
		`DELETE FROM emails WHERE account_id = ?`,
		`DELETE FROM calendar_events WHERE account_id = ?`,
		`DELETE FROM contacts WHERE account_id = ?`,
		`DELETE FROM sync_cursors WHERE account_id = ?`,
		`DELETE FROM accounts WHERE id = ?`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt, id); err != nil {
			return errors.Wrapf(err, "removing account %s", id)
		}
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*Account, error) {
	var a Account
	err := s.db.GetContext(ctx, &a, `SELECT * FROM accounts WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading account %s", id)
	}
	return &a, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	err := s.db.SelectContext(ctx, &accounts, `SELECT * FROM accounts ORDER BY email`)
	if err != nil {
		return nil, errors.Wrap(err, "listing accounts")
	}
	return accounts, nil
}
