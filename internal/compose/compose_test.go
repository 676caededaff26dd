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

package compose

import (
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"testing"
)

func TestBuildPlainMessage(t *testing.T) {
	raw, err := Build(&Message{
		To:       []string{"alice@example.com"},
		Subject:  "status",
		BodyText: "all green",
	})
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}

	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	if err != nil {
		t.Fatalf("re-parsing built message: %v", err)
	}
	if got := msg.Header.Get("To"); got != "alice@example.com" {
		t.Errorf("To = %q", got)
	}
	if got := msg.Header.Get("Subject"); got != "status" {
		t.Errorf("Subject = %q", got)
	}
	if got := msg.Header.Get("MIME-Version"); got != "1.0" {
		t.Errorf("MIME-Version = %q", got)
	}
	body, _ := io.ReadAll(msg.Body)
	if string(body) != "all green" {
		t.Errorf("body = %q", body)
	}
}

func TestBuildRequiresRecipient(t *testing.T) {
	if _, err := Build(&Message{Subject: "no one"}); err == nil {
		t.Error("Build() with no recipients = nil error, want failure")
	}
}

// Composing a multipart message and re-parsing its boundary-delimited
// parts must recover the original body text and the original
// pre-wrap attachment bytes.
func TestMultipartRoundTrip(t *testing.T) {
	payload := []byte("attachment payload: \x00\x01\x02 binary bytes and some length to force wrapping across more than one encoded line of output")
	content := base64.StdEncoding.EncodeToString(payload)

	raw, err := Build(&Message{
		To:       []string{"bob@example.com"},
		Subject:  "with file",
		BodyText: "see attached",
		Attachments: []Attachment{
			{Filename: "data.bin", MimeType: "application/octet-stream", Base64Content: content},
		},
	})
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}

	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	if err != nil {
		t.Fatalf("re-parsing built message: %v", err)
	}
	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		t.Fatalf("parsing content type: %v", err)
	}
	if mediaType != "multipart/mixed" {
		t.Fatalf("media type = %q, want multipart/mixed", mediaType)
	}

	mr := multipart.NewReader(msg.Body, params["boundary"])

	part, err := mr.NextPart()
	if err != nil {
		t.Fatalf("reading body part: %v", err)
	}
	body, _ := io.ReadAll(part)
	if strings.TrimRight(string(body), "\r\n") != "see attached" {
		t.Errorf("body part = %q", body)
	}

	part, err = mr.NextPart()
	if err != nil {
		t.Fatalf("reading attachment part: %v", err)
	}
	if got := part.Header.Get("Content-Transfer-Encoding"); got != "base64" {
		t.Errorf("attachment transfer encoding = %q", got)
	}
	encoded, _ := io.ReadAll(part)
	for _, line := range strings.Split(strings.TrimRight(string(encoded), "\r\n"), "\r\n") {
		if len(line) > 76 {
			t.Errorf("encoded line length %d exceeds 76: %q", len(line), line)
		}
	}
	compact := strings.NewReplacer("\r", "", "\n", "").Replace(string(encoded))
	if compact != content {
		t.Errorf("re-joined attachment base64 does not match the original content")
	}
	decoded, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		t.Fatalf("decoding attachment: %v", err)
	}
	if string(decoded) != string(payload) {
		t.Errorf("attachment payload does not round-trip")
	}

	if _, err := mr.NextPart(); err != io.EOF {
		t.Errorf("extra part after attachment: %v", err)
	}
}

func TestTransportEncodeIsUnpaddedURLSafe(t *testing.T) {
	// Chosen so standard base64 would contain +, / and padding.
	raw := []byte{0xfb, 0xff, 0xfe, 0x01}
	got := TransportEncode(raw)
	if strings.ContainsAny(got, "+/=") {
		t.Errorf("TransportEncode() = %q, contains forbidden characters", got)
	}
	back, err := base64.RawURLEncoding.DecodeString(got)
	if err != nil || string(back) != string(raw) {
		t.Errorf("TransportEncode() did not round-trip: %q, %v", got, err)
	}
}

func TestSubjectPrefixes(t *testing.T) {
	cases := []struct {
		in, reply, fwd string
	}{
		{"hello", "Re: hello", "Fwd: hello"},
		{"Re: hello", "Re: hello", "Fwd: Re: hello"},
		{"Fwd: hello", "Re: Fwd: hello", "Fwd: hello"},
		{"", "Re: ", "Fwd: "},
	}
	for _, tc := range cases {
		if got := ReplySubject(tc.in); got != tc.reply {
			t.Errorf("ReplySubject(%q) = %q, want %q", tc.in, got, tc.reply)
		}
		if got := ForwardSubject(tc.in); got != tc.fwd {
			t.Errorf("ForwardSubject(%q) = %q, want %q", tc.in, got, tc.fwd)
		}
	}
}

func TestThreadReferences(t *testing.T) {
	cases := []struct {
		refs, msgID, want string
	}{
		{"", "<a@x>", "<a@x>"},
		{"<a@x> <b@x>", "<c@x>", "<a@x> <b@x> <c@x>"},
		{"  <a@x>  ", "<b@x>", "<a@x> <b@x>"},
		{"<a@x>", "", "<a@x>"},
	}
	for _, tc := range cases {
		if got := ThreadReferences(tc.refs, tc.msgID); got != tc.want {
			t.Errorf("ThreadReferences(%q, %q) = %q, want %q", tc.refs, tc.msgID, got, tc.want)
		}
	}
}

func TestForwardBody(t *testing.T) {
	body := ForwardBody("FYI", ForwardedOriginal{
		FromName:  "Carol",
		FromEmail: "carol@example.com",
		Subject:   "minutes",
		To:        "team@example.com",
		Body:      "the original text",
	})
	for _, want := range []string{
		"FYI",
		"---------- Forwarded message ---------",
		"From: Carol <carol@example.com>",
		"Subject: minutes",
		"To: team@example.com",
		"the original text",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("ForwardBody() missing %q in:\n%s", want, body)
		}
	}
}
