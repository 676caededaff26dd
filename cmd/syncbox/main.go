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

// The syncbox command synchronizes mail, calendar and contacts for
// linked accounts into a local cache and operates on the cached copy.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mstrand/syncbox/internal/batch"
	"github.com/mstrand/syncbox/internal/compose"
	"github.com/mstrand/syncbox/internal/config"
	"github.com/mstrand/syncbox/internal/engine"
	"github.com/mstrand/syncbox/internal/remote"
	"github.com/mstrand/syncbox/internal/store"
	"github.com/mstrand/syncbox/internal/syncer"
)

type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	store   *store.Store
	session *remote.FileTokenSession
}

// setup loads configuration and opens the cache.  Commands call it
// lazily so `syncbox help` works without a database.
func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "bad log level %q", cfg.LogLevel)
	}
	log.SetLevel(level)

	st, err := store.Open(cmd.Context(), cfg.DatabasePath, log)
	if err != nil {
		return nil, errors.Wrap(err, "unable to initialize database")
	}
	session := remote.NewFileTokenSession(cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.TokenDir, cfg.HTTPTrace)
	return &app{cfg: cfg, log: log, store: st, session: session}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("closing database")
	}
}

// services builds the remote adapters and engine for one account.
func (a *app) services(cmd *cobra.Command, email string) (*engine.Engine, *syncer.Syncer, error) {
	ctx := cmd.Context()
	if err := a.session.EnsureValidToken(ctx, email); err != nil {
		return nil, nil, err
	}
	client, err := a.session.Client(ctx, email)
	if err != nil {
		return nil, nil, err
	}
	gm, err := remote.NewGmail(ctx, client, a.log)
	if err != nil {
		return nil, nil, err
	}
	cal, err := remote.NewCalendar(ctx, client, a.log)
	if err != nil {
		return nil, nil, err
	}
	ppl, err := remote.NewPeople(ctx, client, a.log)
	if err != nil {
		return nil, nil, err
	}

	eng := engine.New(a.store, gm, cal, batch.New(gm, a.store, a.log), a.log)
	syn := &syncer.Syncer{
		Mail:     syncer.NewMail(gm, a.store, a.log),
		Calendar: syncer.NewCalendar(cal, a.store, a.log),
		Contacts: syncer.NewContacts(ppl, a.store, a.log),
	}
	return eng, syn, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "syncbox",
		Short:         "Synchronize and operate on mail, calendar and contacts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newAccountsCmd(), newSyncCmd(), newSearchCmd(), newSendCmd(),
		newEventsCmd(), newContactsCmd())
	return root
}

func newAccountsCmd() *cobra.Command {
	accounts := &cobra.Command{
		Use:   "accounts",
		Short: "Manage linked accounts",
	}

	add := &cobra.Command{
		Use:   "add <email>",
		Short: "Link an account via the OAuth consent flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			email := args[0]

			fmt.Fprintf(cmd.OutOrStdout(), "Visit the URL below, authorize, and paste the code:\n%s\n> ",
				a.session.AuthCodeURL(email))
			code, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil {
				return errors.Wrap(err, "reading authorization code")
			}
			if err := a.session.Exchange(cmd.Context(), email, strings.TrimSpace(code)); err != nil {
				return err
			}
			return a.store.AddAccount(cmd.Context(), &store.Account{
				ID:       email,
				Provider: "google",
				Email:    email,
				Scopes:   strings.Join(remote.Scopes, " "),
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List linked accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			accts, err := a.store.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}
			for _, acct := range accts {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", acct.Email, acct.Provider)
			}
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <email>",
		Short: "Unlink an account and drop its cached data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.store.RemoveAccount(cmd.Context(), args[0])
		},
	}

	accounts.AddCommand(add, list, remove)
	return accounts
}

func newSyncCmd() *cobra.Command {
	var full bool
	var maxResults int
	cmd := &cobra.Command{
		Use:   "sync <email>",
		Short: "Synchronize mail, calendar and contacts for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if maxResults == 0 {
				maxResults = a.cfg.MaxResults
			}
			_, syn, err := a.services(cmd, args[0])
			if err != nil {
				return err
			}

			started := time.Now()
			res, err := syn.SyncAll(cmd.Context(), args[0], syncer.Options{Full: full, MaxResults: maxResults})
			if err != nil {
				return errors.Wrap(err, "unable to synchronize")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mail: %d (%s)\ncalendar: %d\ncontacts: %d\nelapsed: %s\n",
				res.Mail.Synced, res.Mail.Type, res.Calendar.Synced, res.Contacts.Synced,
				time.Since(started).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "force a full mail pass even when a cursor exists")
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "bound on messages fetched by a full pass")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <email> <query>",
		Short: "Search cached mail",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			// Search never needs the network.
			eng := engine.New(a.store, nil, nil, nil, a.log)

			emails, err := eng.SearchEmails(cmd.Context(), args[0], strings.Join(args[1:], " "), limit)
			if err != nil {
				return err
			}
			for _, e := range emails {
				flag := " "
				if !e.IsRead {
					flag = "U"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\t%s\t%s\n",
					flag, e.ID, e.FromEmail, e.Subject)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results")
	return cmd
}

func newSendCmd() *cobra.Command {
	var to []string
	var subject, body, replyTo string
	cmd := &cobra.Command{
		Use:   "send <email>",
		Short: "Send a message, optionally as a reply to a cached one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			eng, _, err := a.services(cmd, args[0])
			if err != nil {
				return err
			}

			var id string
			if replyTo != "" {
				id, err = eng.ReplyToEmail(cmd.Context(), args[0], replyTo, body, nil)
			} else {
				id, err = eng.SendEmail(cmd.Context(), args[0], &compose.Message{
					To:       to,
					Subject:  subject,
					BodyText: body,
				})
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&to, "to", nil, "recipient addresses")
	cmd.Flags().StringVar(&subject, "subject", "", "message subject")
	cmd.Flags().StringVar(&body, "body", "", "message body text")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "cached message id to reply to")
	return cmd
}

func newEventsCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "events <email>",
		Short: "List cached calendar events around now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			eng := engine.New(a.store, nil, nil, nil, a.log)

			now := time.Now()
			window := time.Duration(days) * 24 * time.Hour
			events, err := eng.Events(cmd.Context(), args[0],
				now.Add(-window).UnixMilli(), now.Add(window).UnixMilli())
			if err != nil {
				return err
			}
			for _, ev := range events {
				start := time.UnixMilli(ev.StartTime).Format("2006-01-02 15:04")
				if ev.AllDay {
					start = time.UnixMilli(ev.StartTime).UTC().Format("2006-01-02")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", start, ev.ID, ev.Summary)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "days either side of now")
	return cmd
}

func newContactsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "contacts <email>",
		Short: "List cached contacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			eng := engine.New(a.store, nil, nil, nil, a.log)

			contacts, err := eng.Contacts(cmd.Context(), args[0], limit, 0)
			if err != nil {
				return err
			}
			for _, c := range contacts {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", c.DisplayName, c.Email, c.Phone)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum contacts listed")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed: %v\n", err)
		os.Exit(1)
	}
}
