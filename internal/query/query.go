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

// Package query translates the operator-prefixed search mini-language
// into local SQL predicates.  All clauses are conjunctive; the literal
// tokens AND and OR are accepted and stripped as no-ops.
package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Clause is one bound predicate against the emails table.
type Clause struct {
	SQL  string
	Args []interface{}
}

var (
	durationRe = regexp.MustCompile(`^(\d+)([dwmy])$`)
	sizeRe     = regexp.MustCompile(`^(\d+)([kmgKMG]?)$`)
)

// Translate parses raw into an ordered predicate list.  now anchors
// the relative-duration operators.  Unparsable operands drop their
// clause rather than failing the search.
func Translate(raw string, now time.Time) []Clause {
	var clauses []Clause
	var free []string

	tokens := tokenize(raw)
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		lower := strings.ToLower(tok)
		switch {
		case lower == "and" || lower == "or":
			// Stripped as no-ops.  Users may expect OR
			// semantics; preserved as-is pending a product
			// decision.
		case lower == "not" && i+1 < len(tokens):
			i++
			w := contains(tokens[i])
			clauses = append(clauses, Clause{
				SQL:  "NOT (subject LIKE ? OR snippet LIKE ? OR from_email LIKE ? OR from_name LIKE ?)",
				Args: []interface{}{w, w, w, w},
			})
		case strings.HasPrefix(lower, "from:"):
			w := contains(tok[len("from:"):])
			clauses = append(clauses, Clause{
				SQL:  "(from_email LIKE ? OR from_name LIKE ?)",
				Args: []interface{}{w, w},
			})
		case strings.HasPrefix(lower, "to:"):
			clauses = append(clauses, Clause{
				SQL:  "to_emails LIKE ?",
				Args: []interface{}{contains(tok[len("to:"):])},
			})
		case strings.HasPrefix(lower, "subject:"):
			clauses = append(clauses, Clause{
				SQL:  "subject LIKE ?",
				Args: []interface{}{contains(tok[len("subject:"):])},
			})
		case lower == "has:attachment":
			clauses = append(clauses, Clause{SQL: "has_attachments = 1"})
		case lower == "is:unread":
			clauses = append(clauses, Clause{SQL: "is_read = 0"})
		case lower == "is:read":
			clauses = append(clauses, Clause{SQL: "is_read = 1"})
		case lower == "is:starred":
			clauses = append(clauses, Clause{SQL: "is_starred = 1"})
		case strings.HasPrefix(lower, "after:"):
			if t, ok := parseDate(tok[len("after:"):]); ok {
				clauses = append(clauses, Clause{SQL: "date >= ?", Args: []interface{}{t.UnixMilli()}})
			}
		case strings.HasPrefix(lower, "before:"):
			if t, ok := parseDate(tok[len("before:"):]); ok {
				clauses = append(clauses, Clause{SQL: "date <= ?", Args: []interface{}{t.UnixMilli()}})
			}
		case strings.HasPrefix(lower, "older_than:"):
			if d, ok := parseRelative(tok[len("older_than:"):]); ok {
				clauses = append(clauses, Clause{SQL: "date <= ?", Args: []interface{}{now.Add(-d).UnixMilli()}})
			}
		case strings.HasPrefix(lower, "newer_than:"):
			if d, ok := parseRelative(tok[len("newer_than:"):]); ok {
				clauses = append(clauses, Clause{SQL: "date >= ?", Args: []interface{}{now.Add(-d).UnixMilli()}})
			}
		case strings.HasPrefix(lower, "larger:"):
			if n, ok := parseSize(tok[len("larger:"):]); ok {
				clauses = append(clauses, Clause{SQL: "length(body_text) >= ?", Args: []interface{}{n}})
			}
		case strings.HasPrefix(lower, "smaller:"):
			if n, ok := parseSize(tok[len("smaller:"):]); ok {
				clauses = append(clauses, Clause{SQL: "length(body_text) <= ?", Args: []interface{}{n}})
			}
		case strings.HasPrefix(lower, "label:"):
			w := "%" + strings.ToUpper(tok[len("label:"):]) + "%"
			clauses = append(clauses, Clause{SQL: "upper(labels) LIKE ?", Args: []interface{}{w}})
		case strings.HasPrefix(lower, "filename:"):
			clauses = append(clauses, Clause{
				SQL:  "(has_attachments = 1 AND raw_payload LIKE ?)",
				Args: []interface{}{contains(tok[len("filename:"):])},
			})
		default:
			free = append(free, tok)
		}
	}

	// Whatever survives operator stripping is ANDed as substring
	// matches across the text fields.
	for _, word := range free {
		w := contains(word)
		clauses = append(clauses, Clause{
			SQL:  "(subject LIKE ? OR snippet LIKE ? OR from_email LIKE ? OR from_name LIKE ? OR body_text LIKE ?)",
			Args: []interface{}{w, w, w, w, w},
		})
	}
	return clauses
}

// Split splits translated clauses into the flat where/args form the
// store consumes.
func Split(clauses []Clause) (where []string, args []interface{}) {
	for _, c := range clauses {
		where = append(where, c.SQL)
		args = append(args, c.Args...)
	}
	return where, args
}

func contains(operand string) string {
	return "%" + operand + "%"
}

// tokenize splits on whitespace while keeping double-quoted phrases
// (including the operator-prefixed form from:"John Doe") together.
// Quotes are stripped.
func tokenize(raw string) []string {
	var tokens []string
	var cur strings.Builder
	inQuote := false
	for _, r := range raw {
		switch {
		case r == '"':
			inQuote = !inQuote
		case unicode.IsSpace(r) && !inQuote:
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

func parseDate(operand string) (time.Time, bool) {
	// Accept / as a date separator alongside -.
	operand = strings.ReplaceAll(operand, "/", "-")
	t, err := time.Parse("2006-1-2", operand)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// parseRelative parses <integer><unit> where the unit is d, w, m or y
// (1, 7, 30 and 365 days).
func parseRelative(operand string) (time.Duration, bool) {
	m := durationRe.FindStringSubmatch(strings.ToLower(operand))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	days := map[string]int{"d": 1, "w": 7, "m": 30, "y": 365}[m[2]]
	return time.Duration(n*days) * 24 * time.Hour, true
}

// parseSize parses <integer>[K|M|G] as powers of 1024 bytes.
func parseSize(operand string) (int64, bool) {
	m := sizeRe.FindStringSubmatch(operand)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToUpper(m[2]) {
	case "K":
		n *= 1024
	case "M":
		n *= 1024 * 1024
	case "G":
		n *= 1024 * 1024 * 1024
	}
	return n, true
}

// String renders the clause list for debug logging.
func (c Clause) String() string {
	return fmt.Sprintf("%s %v", c.SQL, c.Args)
}
