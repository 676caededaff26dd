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

// Package retry wraps remote calls with bounded exponential backoff on
// transient provider failures.
package retry

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
)

const (
	// MaxRetries is the number of additional attempts made after the
	// first failing call.
	MaxRetries = 5

	baseDelay = time.Second
	maxDelay  = 32 * time.Second
)

// Transient reports whether err carries a rate-limit or quota signal
// from the provider.  Only these failures are worth retrying; auth
// errors, not-found and malformed requests propagate immediately.
func Transient(err error) bool {
	gerr, ok := errors.Cause(err).(*googleapi.Error)
	if !ok {
		return false
	}
	switch gerr.Code {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		for _, item := range gerr.Errors {
			switch item.Reason {
			case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
				return true
			}
		}
		return strings.Contains(strings.ToLower(gerr.Message), "quota")
	}
	return false
}

// Delay returns the backoff before retry attempt n (zero based).
func Delay(attempt int) time.Duration {
	d := baseDelay << uint(attempt)
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	return d
}

// sleep is a variable so tests can skip the real backoff.
var sleep = func(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Do invokes op, retrying up to MaxRetries times on transient failures.
// The last transient error is returned once the budget is exhausted.
// Do holds no state and may be called concurrently.
func Do(ctx context.Context, log *logrus.Logger, op func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if !Transient(err) || attempt >= MaxRetries {
			return err
		}
		delay := Delay(attempt)
		if log != nil {
			log.WithFields(logrus.Fields{
				"attempt": attempt + 1,
				"delay":   delay,
			}).Warn("transient remote failure, backing off")
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}
