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

// Package compose builds outbound RFC 2822 messages and performs the
// transport encoding the provider's send endpoint expects.
package compose

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// base64LineLength is a wire compatibility requirement for attachment
// bodies (RFC 2045 limits encoded lines to 76 characters).
const base64LineLength = 76

const crlf = "\r\n"

// Attachment is one file carried by an outbound message.  Content is
// standard base64; any existing line wrapping is normalized away
// before the part is written.
type Attachment struct {
	Filename      string
	MimeType      string
	Base64Content string
}

// Message is a transient outbound message.  It is built, submitted
// once and discarded.
type Message struct {
	To          []string
	Subject     string
	BodyText    string
	InReplyTo   string
	References  string
	Attachments []Attachment
}

// Build renders the message as RFC 2822 bytes, switching to a
// multipart/mixed structure when attachments are present.
func Build(m *Message) ([]byte, error) {
	if len(m.To) == 0 {
		return nil, errors.New("message has no recipients")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "To: %s%s", strings.Join(m.To, ", "), crlf)
	fmt.Fprintf(&sb, "Subject: %s%s", m.Subject, crlf)
	if m.InReplyTo != "" {
		fmt.Fprintf(&sb, "In-Reply-To: %s%s", m.InReplyTo, crlf)
	}
	if m.References != "" {
		fmt.Fprintf(&sb, "References: %s%s", m.References, crlf)
	}
	sb.WriteString("MIME-Version: 1.0" + crlf)

	if len(m.Attachments) == 0 {
		sb.WriteString(`Content-Type: text/plain; charset="UTF-8"` + crlf)
		sb.WriteString(crlf)
		sb.WriteString(m.BodyText)
		return []byte(sb.String()), nil
	}

	boundary := newBoundary()
	fmt.Fprintf(&sb, "Content-Type: multipart/mixed; boundary=%q%s", boundary, crlf)
	sb.WriteString(crlf)

	fmt.Fprintf(&sb, "--%s%s", boundary, crlf)
	sb.WriteString(`Content-Type: text/plain; charset="UTF-8"` + crlf)
	sb.WriteString(crlf)
	sb.WriteString(m.BodyText)
	sb.WriteString(crlf)

	for _, a := range m.Attachments {
		mimeType := a.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		fmt.Fprintf(&sb, "--%s%s", boundary, crlf)
		fmt.Fprintf(&sb, "Content-Type: %s; name=%q%s", mimeType, a.Filename, crlf)
		fmt.Fprintf(&sb, "Content-Disposition: attachment; filename=%q%s", a.Filename, crlf)
		sb.WriteString("Content-Transfer-Encoding: base64" + crlf)
		sb.WriteString(crlf)
		sb.WriteString(wrapBase64(a.Base64Content))
		sb.WriteString(crlf)
	}
	fmt.Fprintf(&sb, "--%s--%s", boundary, crlf)

	return []byte(sb.String()), nil
}

// TransportEncode encodes raw message bytes as unpadded base64url, the
// form the remote send endpoint requires.
func TransportEncode(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// ReplySubject prefixes "Re: " unless the subject already carries it.
func ReplySubject(subject string) string {
	if strings.HasPrefix(subject, "Re: ") {
		return subject
	}
	return "Re: " + subject
}

// ForwardSubject prefixes "Fwd: " unless the subject already carries
// it, mirroring the reply rule.
func ForwardSubject(subject string) string {
	if strings.HasPrefix(subject, "Fwd: ") {
		return subject
	}
	return "Fwd: " + subject
}

// ThreadReferences builds the References header for a reply: the
// original references, if any, with the original Message-ID appended.
func ThreadReferences(origReferences, origMessageID string) string {
	origReferences = strings.TrimSpace(origReferences)
	if origMessageID == "" {
		return origReferences
	}
	if origReferences == "" {
		return origMessageID
	}
	return origReferences + " " + origMessageID
}

// ForwardedOriginal carries the quoted header fields of the message
// being forwarded.
type ForwardedOriginal struct {
	FromName  string
	FromEmail string
	Date      time.Time
	Subject   string
	To        string
	Body      string
}

// ForwardBody renders the conventional forwarded-message body: an
// optional preamble, a marker line, the quoted original headers, then
// the original body.
func ForwardBody(preamble string, orig ForwardedOriginal) string {
	var sb strings.Builder
	if preamble != "" {
		sb.WriteString(preamble)
		sb.WriteString("\n\n")
	}
	sb.WriteString("---------- Forwarded message ---------\n")
	from := orig.FromEmail
	if orig.FromName != "" {
		from = fmt.Sprintf("%s <%s>", orig.FromName, orig.FromEmail)
	}
	fmt.Fprintf(&sb, "From: %s\n", from)
	if !orig.Date.IsZero() {
		fmt.Fprintf(&sb, "Date: %s\n", orig.Date.Format(time.RFC1123Z))
	}
	fmt.Fprintf(&sb, "Subject: %s\n", orig.Subject)
	fmt.Fprintf(&sb, "To: %s\n", orig.To)
	sb.WriteString("\n")
	sb.WriteString(orig.Body)
	return sb.String()
}

func newBoundary() string {
	return "=_syncbox_" + uuid.NewString()
}

// wrapBase64 normalizes any existing whitespace out of the encoded
// content and re-wraps it at the 76 column wire limit.
func wrapBase64(encoded string) string {
	compact := strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', ' ', '\t':
			return -1
		}
		return r
	}, encoded)

	var sb strings.Builder
	for len(compact) > base64LineLength {
		sb.WriteString(compact[:base64LineLength])
		sb.WriteString(crlf)
		compact = compact[base64LineLength:]
	}
	sb.WriteString(compact)
	return sb.String()
}
