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
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	gmail "google.golang.org/api/gmail/v1"
	people "google.golang.org/api/people/v1"

	"github.com/mstrand/syncbox/internal/tracehttp"
)

// Scopes requested for every linked account.
var Scopes = []string{
	gmail.GmailModifyScope,
	calendar.CalendarScope,
	people.ContactsReadonlyScope,
}

// Session supplies a valid bearer credential per account email.  The
// engine calls it before remote work but does not own refresh logic.
type Session interface {
	EnsureValidToken(ctx context.Context, accountEmail string) error
	Client(ctx context.Context, accountEmail string) (*http.Client, error)
}

// FileTokenSession keeps one OAuth2 token file per account email under
// a directory, refreshing and rewriting tokens as they expire.  One
// session object is passed explicitly into every coordinator so
// multiple accounts can sync concurrently without sharing client
// state.
type FileTokenSession struct {
	cfg   *oauth2.Config
	dir   string
	trace bool
}

func NewFileTokenSession(clientID, clientSecret, dir string, trace bool) *FileTokenSession {
	return &FileTokenSession{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       Scopes,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
		},
		dir:   dir,
		trace: trace,
	}
}

func (s *FileTokenSession) tokenPath(accountEmail string) string {
	name := strings.ReplaceAll(accountEmail, string(os.PathSeparator), "_")
	return filepath.Join(s.dir, name+".json")
}

func (s *FileTokenSession) loadToken(accountEmail string) (*oauth2.Token, error) {
	b, err := os.ReadFile(s.tokenPath(accountEmail))
	if err != nil {
		return nil, errors.Wrapf(err, "no stored token for %s", accountEmail)
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(b, tok); err != nil {
		return nil, errors.Wrapf(err, "malformed token for %s", accountEmail)
	}
	return tok, nil
}

// SaveToken stores a freshly authorized token for accountEmail.
func (s *FileTokenSession) SaveToken(accountEmail string, tok *oauth2.Token) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return errors.Wrap(err, "creating token directory")
	}
	b, err := json.Marshal(tok)
	if err != nil {
		return errors.Wrap(err, "encoding token")
	}
	return errors.Wrapf(os.WriteFile(s.tokenPath(accountEmail), b, 0600),
		"writing token for %s", accountEmail)
}

// EnsureValidToken refreshes the stored token if it has expired and
// rewrites the token file when the refresh produced a new credential.
func (s *FileTokenSession) EnsureValidToken(ctx context.Context, accountEmail string) error {
	tok, err := s.loadToken(accountEmail)
	if err != nil {
		return err
	}
	fresh, err := s.cfg.TokenSource(ctx, tok).Token()
	if err != nil {
		return errors.Wrapf(err, "refreshing token for %s", accountEmail)
	}
	if fresh.AccessToken != tok.AccessToken {
		return s.SaveToken(accountEmail, fresh)
	}
	return nil
}

// Client returns an HTTP client that attaches and refreshes the
// account's bearer token on every request.
func (s *FileTokenSession) Client(ctx context.Context, accountEmail string) (*http.Client, error) {
	tok, err := s.loadToken(accountEmail)
	if err != nil {
		return nil, err
	}
	if s.trace {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{
			Transport: tracehttp.Wrap(http.DefaultTransport),
		})
	}
	return oauth2.NewClient(ctx, s.cfg.TokenSource(ctx, tok)), nil
}

// AuthCodeURL exposes the config's consent URL for the account
// linking flow.
func (s *FileTokenSession) AuthCodeURL(state string) string {
	return s.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token and stores it.
func (s *FileTokenSession) Exchange(ctx context.Context, accountEmail, code string) error {
	tok, err := s.cfg.Exchange(ctx, code)
	if err != nil {
		return errors.Wrap(err, "exchanging authorization code")
	}
	return s.SaveToken(accountEmail, tok)
}
