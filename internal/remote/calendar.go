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
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/mstrand/syncbox/internal/retry"
	"github.com/mstrand/syncbox/internal/store"
)

const (
	primaryCalendar = "primary"

	// The calendar API is quota'd per query, not per unit cost.
	calendarQueriesPerSecond = 10
)

// Calendar provides access to one account's primary calendar.
type Calendar struct {
	svc     *calendar.Service
	limiter *rate.Limiter
	log     *logrus.Logger
}

func NewCalendar(ctx context.Context, client *http.Client, log *logrus.Logger) (*Calendar, error) {
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, errors.Wrap(err, "creating calendar service")
	}
	l := rate.NewLimiter(calendarQueriesPerSecond, calendarQueriesPerSecond)
	return &Calendar{svc: svc, limiter: l, log: log}, nil
}

// ListEvents pages through single-instance events overlapping the
// window, expanding recurring series into instances.
func (c *Calendar) ListEvents(ctx context.Context, start, end time.Time, handler func(*store.CalendarEvent) error) error {
	pageToken := ""
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		call := c.svc.Events.List(primaryCalendar).Context(ctx).
			TimeMin(start.Format(time.RFC3339)).
			TimeMax(end.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime")
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		var page *calendar.Events
		err := retry.Do(ctx, c.log, func() (err error) {
			page, err = call.Do()
			return err
		})
		if err != nil {
			return errors.Wrap(err, "listing events")
		}
		for _, ev := range page.Items {
			rec, err := normalizeEvent(ev)
			if err != nil {
				c.log.WithField("event", ev.Id).WithError(err).Warn("skipping unparsable event")
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

// Insert creates an event on the primary calendar and returns its
// cached form.
func (c *Calendar) Insert(ctx context.Context, e *store.CalendarEvent) (*store.CalendarEvent, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ev := eventResource(e)
	var created *calendar.Event
	err := retry.Do(ctx, c.log, func() (err error) {
		created, err = c.svc.Events.Insert(primaryCalendar, ev).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating event")
	}
	return normalizeEvent(created)
}

// Patch applies the non-zero fields of e to the remote event and
// returns the updated cached form.
func (c *Calendar) Patch(ctx context.Context, e *store.CalendarEvent) (*store.CalendarEvent, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ev := eventResource(e)
	var updated *calendar.Event
	err := retry.Do(ctx, c.log, func() (err error) {
		updated, err = c.svc.Events.Patch(primaryCalendar, e.ID, ev).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "updating event %v", e.ID)
	}
	return normalizeEvent(updated)
}

func (c *Calendar) Delete(ctx context.Context, id string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	err := retry.Do(ctx, c.log, func() error {
		return c.svc.Events.Delete(primaryCalendar, id).Context(ctx).Do()
	})
	return errors.Wrapf(err, "deleting event %v", id)
}

// eventResource maps the cached record onto the wire resource for
// insert and patch calls.
func eventResource(e *store.CalendarEvent) *calendar.Event {
	ev := &calendar.Event{
		Summary:     e.Summary,
		Description: e.Description,
		Location:    e.Location,
	}
	if e.AllDay {
		ev.Start = &calendar.EventDateTime{Date: time.UnixMilli(e.StartTime).UTC().Format("2006-01-02")}
		ev.End = &calendar.EventDateTime{Date: time.UnixMilli(e.EndTime).UTC().Format("2006-01-02")}
	} else {
		if e.StartTime != 0 {
			ev.Start = &calendar.EventDateTime{DateTime: time.UnixMilli(e.StartTime).Format(time.RFC3339)}
		}
		if e.EndTime != 0 {
			ev.End = &calendar.EventDateTime{DateTime: time.UnixMilli(e.EndTime).Format(time.RFC3339)}
		}
	}
	if e.Attendees != "" && e.Attendees != "[]" {
		var emails []string
		if err := json.Unmarshal([]byte(e.Attendees), &emails); err == nil {
			for _, addr := range emails {
				ev.Attendees = append(ev.Attendees, &calendar.EventAttendee{Email: addr})
			}
		}
	}
	return ev
}

// normalizeEvent flattens a wire event into the cached record.  Timed
// events carry RFC 3339 datetimes; all-day events carry bare dates.
func normalizeEvent(ev *calendar.Event) (*store.CalendarEvent, error) {
	rec := &store.CalendarEvent{
		ID:          ev.Id,
		CalendarID:  primaryCalendar,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Status:      ev.Status,
	}
	if ev.Organizer != nil {
		rec.OrganizerEmail = ev.Organizer.Email
	}

	var err error
	rec.StartTime, rec.AllDay, err = eventTime(ev.Start)
	if err != nil {
		return nil, errors.Wrapf(err, "event %v start", ev.Id)
	}
	rec.EndTime, _, err = eventTime(ev.End)
	if err != nil {
		return nil, errors.Wrapf(err, "event %v end", ev.Id)
	}

	var attendees []string
	for _, a := range ev.Attendees {
		attendees = append(attendees, a.Email)
	}
	rec.Attendees = encodeStringList(attendees)
	rec.Recurrence = encodeStringList(ev.Recurrence)

	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding raw payload for %v", ev.Id)
	}
	rec.RawPayload = string(raw)
	return rec, nil
}

func eventTime(edt *calendar.EventDateTime) (millis int64, allDay bool, err error) {
	if edt == nil {
		return 0, false, nil
	}
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		if err != nil {
			return 0, false, err
		}
		return t.UnixMilli(), false, nil
	}
	if edt.Date != "" {
		t, err := time.Parse("2006-01-02", edt.Date)
		if err != nil {
			return 0, false, err
		}
		return t.UnixMilli(), true, nil
	}
	return 0, false, nil
}

func encodeStringList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}
