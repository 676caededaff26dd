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
	"encoding/json"

	"github.com/pkg/errors"
)

func (s *Store) UpsertContact(ctx context.Context, c *Contact) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO contacts (id, account_id, display_name, given_name, family_name,
			email, phone, company, job_title, photo_url, raw_payload)
		 VALUES (:id, :account_id, :display_name, :given_name, :family_name,
			:email, :phone, :company, :job_title, :photo_url, :raw_payload)
		 ON CONFLICT (id) DO UPDATE SET
			account_id = excluded.account_id,
			display_name = excluded.display_name,
			given_name = excluded.given_name,
			family_name = excluded.family_name,
			email = excluded.email,
			phone = excluded.phone,
			company = excluded.company,
			job_title = excluded.job_title,
			photo_url = excluded.photo_url,
			raw_payload = excluded.raw_payload`, c)
	return errors.Wrapf(err, "upserting contact %s", c.ID)
}

// GetContact prefers reconstructing the record from the stored
// provider payload; an unparsable payload degrades to the flattened
// columns instead of failing the call.
func (s *Store) GetContact(ctx context.Context, id string) (*Contact, error) {
	var c Contact
	err := s.db.GetContext(ctx, &c, `SELECT * FROM contacts WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading contact %s", id)
	}
	if fromPayload, ok := contactFromPayload(c.ID, c.AccountID, c.RawPayload); ok {
		return fromPayload, nil
	}
	return &c, nil
}

func (s *Store) ListContacts(ctx context.Context, accountID string, limit, offset int) ([]Contact, error) {
	var contacts []Contact
	err := s.db.SelectContext(ctx, &contacts,
		`SELECT * FROM contacts WHERE account_id = ? ORDER BY display_name LIMIT ? OFFSET ?`,
		accountID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "listing contacts")
	}
	return contacts, nil
}

func (s *Store) DeleteContact(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = ?`, id)
	return errors.Wrapf(err, "deleting contact %s", id)
}

// personPayload mirrors the subset of the People API person resource
// the read path cares about.
type personPayload struct {
	Names []struct {
		DisplayName string `json:"displayName"`
		GivenName   string `json:"givenName"`
		FamilyName  string `json:"familyName"`
	} `json:"names"`
	EmailAddresses []struct {
		Value string `json:"value"`
	} `json:"emailAddresses"`
	PhoneNumbers []struct {
		Value string `json:"value"`
	} `json:"phoneNumbers"`
	Organizations []struct {
		Name  string `json:"name"`
		Title string `json:"title"`
	} `json:"organizations"`
	Photos []struct {
		URL string `json:"url"`
	} `json:"photos"`
}

func contactFromPayload(id, accountID, raw string) (*Contact, bool) {
	if raw == "" {
		return nil, false
	}
	var p personPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, false
	}
	c := &Contact{ID: id, AccountID: accountID, RawPayload: raw}
	if len(p.Names) > 0 {
		c.DisplayName = p.Names[0].DisplayName
		c.GivenName = p.Names[0].GivenName
		c.FamilyName = p.Names[0].FamilyName
	}
	if len(p.EmailAddresses) > 0 {
		c.Email = p.EmailAddresses[0].Value
	}
	if len(p.PhoneNumbers) > 0 {
		c.Phone = p.PhoneNumbers[0].Value
	}
	if len(p.Organizations) > 0 {
		c.Company = p.Organizations[0].Name
		c.JobTitle = p.Organizations[0].Title
	}
	if len(p.Photos) > 0 {
		c.PhotoURL = p.Photos[0].URL
	}
	if c.DisplayName == "" && c.Email == "" {
		// Payload parsed but held nothing useful; trust the
		// flattened columns instead.
		return nil, false
	}
	return c, true
}
