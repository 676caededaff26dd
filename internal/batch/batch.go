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

// Package batch executes per-item remote mail operations in bounded
// chunks or bounded-concurrency groups, aggregating partial failures
// into per-item results instead of surfacing them as errors.
package batch

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mstrand/syncbox/internal/label"
	"github.com/mstrand/syncbox/internal/store"
)

const (
	// chunkSize is the hard upper bound on ids per remote
	// batch-modify call.
	chunkSize = 100

	// maxInFlight is the hard upper bound on concurrent trash or
	// delete calls.
	maxInFlight = 5
)

// Remote is the per-item mail operation surface the coordinator
// drives.
type Remote interface {
	BatchModifyLabels(ctx context.Context, ids, add, remove []string) error
	Trash(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// ItemResult captures one id's outcome in a trash or delete batch.
type ItemResult struct {
	ID      string
	Success bool
	Error   string
}

// Coordinator issues batched remote operations and mirrors their
// effect into the cache.
type Coordinator struct {
	remote Remote
	store  *store.Store
	log    *logrus.Logger
}

func New(remote Remote, st *store.Store, log *logrus.Logger) *Coordinator {
	return &Coordinator{remote: remote, store: st, log: log}
}

// ModifyLabels applies the label delta to ids in chunks.  A failing
// chunk is logged and skipped, not fatal.  The local projection is
// reconciled for every id regardless of remote outcome, keeping the
// cache's read/starred state consistent with what the caller intended.
func (c *Coordinator) ModifyLabels(ctx context.Context, ids, add, remove []string) (int, error) {
	modified := 0
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		if err := c.remote.BatchModifyLabels(ctx, chunk, add, remove); err != nil {
			c.log.WithFields(logrus.Fields{
				"chunk": start / chunkSize,
				"size":  len(chunk),
			}).WithError(err).Warn("batch modify chunk failed, continuing")
			continue
		}
		modified += len(chunk)
	}

	for _, id := range ids {
		if err := c.reconcile(ctx, id, add, remove); err != nil {
			c.log.WithField("id", id).WithError(err).Warn("local label reconcile failed")
		}
	}
	return modified, nil
}

// Trash moves ids to the provider trash with bounded concurrency and
// reflects success locally as a TRASH/INBOX label swap.
func (c *Coordinator) Trash(ctx context.Context, ids []string) (int, []ItemResult, error) {
	return c.each(ctx, ids, c.remote.Trash, func(ctx context.Context, id string) error {
		return c.reconcile(ctx, id, []string{label.Trash}, []string{label.Inbox})
	})
}

// Delete permanently removes ids with bounded concurrency, dropping
// successful ids from the cache.
func (c *Coordinator) Delete(ctx context.Context, ids []string) (int, []ItemResult, error) {
	return c.each(ctx, ids, c.remote.Delete, func(ctx context.Context, id string) error {
		return c.store.DeleteEmail(ctx, id)
	})
}

// each runs op per id with at most maxInFlight outstanding calls.
// Failures are captured per item; the whole batch never fails.
func (c *Coordinator) each(ctx context.Context, ids []string, op func(context.Context, string) error, onSuccess func(context.Context, string) error) (int, []ItemResult, error) {
	results := make([]ItemResult, len(ids))
	grp := &errgroup.Group{}
	grp.SetLimit(maxInFlight)

	for i, id := range ids {
		i, id := i, id
		grp.Go(func() error {
			if err := op(ctx, id); err != nil {
				results[i] = ItemResult{ID: id, Error: err.Error()}
				return nil
			}
			results[i] = ItemResult{ID: id, Success: true}
			if err := onSuccess(ctx, id); err != nil {
				c.log.WithField("id", id).WithError(err).Warn("local mirror of batch operation failed")
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		// Workers capture their own failures; anything else is a
		// programming error.
		return 0, nil, errors.Wrap(err, "batch group")
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	return succeeded, results, nil
}

func (c *Coordinator) reconcile(ctx context.Context, id string, add, remove []string) error {
	rec, err := c.store.GetEmail(ctx, id)
	if err != nil {
		return err
	}
	encoded, flags := label.ApplyDelta(rec.Labels, add, remove)
	return c.store.SetEmailLabels(ctx, id, encoded, flags)
}
