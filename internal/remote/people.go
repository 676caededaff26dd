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

package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	people "google.golang.org/api/people/v1"

	"github.com/mstrand/syncbox/internal/retry"
	"github.com/mstrand/syncbox/internal/store"
)

const (
	contactsPageSize    = 200
	contactPersonFields = "names,emailAddresses,phoneNumbers,organizations,photos"

	peopleQueriesPerSecond = 5
)

// People provides read access to one account's contacts.
type People struct {
	svc     *people.Service
	limiter *rate.Limiter
	log     *logrus.Logger
}

func NewPeople(ctx context.Context, client *http.Client, log *logrus.Logger) (*People, error) {
	svc, err := people.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, errors.Wrap(err, "creating people service")
	}
	l := rate.NewLimiter(peopleQueriesPerSecond, peopleQueriesPerSecond)
	return &People{svc: svc, limiter: l, log: log}, nil
}

// ListContacts pages through the account's connections.
func (p *People) ListContacts(ctx context.Context, handler func(*store.Contact) error) error {
	pageToken := ""
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		call := p.svc.People.Connections.List("people/me").Context(ctx).
			PersonFields(contactPersonFields).
			PageSize(contactsPageSize)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		var page *people.ListConnectionsResponse
		err := retry.Do(ctx, p.log, func() (err error) {
			page, err = call.Do()
			return err
		})
		if err != nil {
			return errors.Wrap(err, "listing contacts")
		}
		for _, person := range page.Connections {
			rec, err := normalizePerson(person)
			if err != nil {
				p.log.WithField("resource", person.ResourceName).WithError(err).Warn("skipping unparsable contact")
				continue
			}
			if err := handler(rec); err != nil {
				return err
			}
		}
		if page.NextPageToken == "" {
			return nil
		}
		pageToken = page.NextPageToken
	}
}

// normalizePerson flattens a person resource into the cached record.
// The id is the resource name with its "people/" prefix stripped.
func normalizePerson(person *people.Person) (*store.Contact, error) {
	c := &store.Contact{
		ID: strings.TrimPrefix(person.ResourceName, "people/"),
	}
	if len(person.Names) > 0 {
		c.DisplayName = person.Names[0].DisplayName
		c.GivenName = person.Names[0].GivenName
		c.FamilyName = person.Names[0].FamilyName
	}
	if len(person.EmailAddresses) > 0 {
		c.Email = person.EmailAddresses[0].Value
	}
	if len(person.PhoneNumbers) > 0 {
		c.Phone = person.PhoneNumbers[0].Value
	}
	if len(person.Organizations) > 0 {
		c.Company = person.Organizations[0].Name
		c.JobTitle = person.Organizations[0].Title
	}
	if len(person.Photos) > 0 {
		c.PhotoURL = person.Photos[0].Url
	}

	raw, err := json.Marshal(person)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding raw payload for %v", person.ResourceName)
	}
	c.RawPayload = string(raw)
	return c, nil
}
