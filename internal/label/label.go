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

// Package label reconciles provider label sets against their local
// serialized representation.  Two legacy encodings exist in the wild: a
// JSON array and a comma-joined string.  Both are accepted on read;
// only the JSON array is ever written.
package label

import (
	"encoding/json"
	"strings"
)

// Well known system labels.
const (
	Unread  = "UNREAD"
	Starred = "STARRED"
	Inbox   = "INBOX"
	Trash   = "TRASH"
)

// Flags are the boolean projections derived from a label set.  They
// are never stored independently; every mutation recomputes them.
type Flags struct {
	IsRead    bool
	IsStarred bool
}

// Parse decodes either legacy encoding into a label slice, preserving
// order.  Malformed input degrades to the comma-joined reading rather
// than failing the caller.
func Parse(encoded string) []string {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil
	}
	if strings.HasPrefix(encoded, "[") {
		var labels []string
		if err := json.Unmarshal([]byte(encoded), &labels); err == nil {
			return labels
		}
	}
	var labels []string
	for _, l := range strings.Split(encoded, ",") {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, l)
		}
	}
	return labels
}

// Encode serializes labels in the canonical JSON array form.
func Encode(labels []string) string {
	if labels == nil {
		labels = []string{}
	}
	b, err := json.Marshal(labels)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// Derive computes the read/starred projections for a label set.
func Derive(labels []string) Flags {
	f := Flags{IsRead: true}
	for _, l := range labels {
		switch l {
		case Unread:
			f.IsRead = false
		case Starred:
			f.IsStarred = true
		}
	}
	return f
}

// ApplyDelta merges add/remove sets into the serialized label state and
// returns the canonical encoding plus the recomputed projections.  The
// function is pure and idempotent; every code path that touches
// read/starred state goes through it.
func ApplyDelta(encoded string, add, remove []string) (string, Flags) {
	labels := Parse(encoded)

	present := make(map[string]bool, len(labels)+len(add))
	for _, l := range labels {
		present[l] = true
	}
	for _, l := range add {
		if !present[l] {
			labels = append(labels, l)
			present[l] = true
		}
	}
	if len(remove) > 0 {
		drop := make(map[string]bool, len(remove))
		for _, l := range remove {
			drop[l] = true
		}
		kept := labels[:0]
		for _, l := range labels {
			if !drop[l] {
				kept = append(kept, l)
			}
		}
		labels = kept
	}

	return Encode(labels), Derive(labels)
}
