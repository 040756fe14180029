// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package threadparse

import (
	"strings"
	"testing"
	"time"
)

const outlookThread = `Looping you in on the Acme pilot thread below, thanks!

________________________________
From: Jane Doe <jane@acme.com>
Sent: Monday, March 3, 2025 10:15 AM
To: Bob Smith <bob@example.com>
Cc: Carol <carol@example.com>
Subject: RE: Acme pilot kickoff

Sounds good, see you Thursday.

Sent from my iPhone

From: Bob Smith <bob@example.com>
Sent: Sunday, March 2, 2025 4:00 PM
To: Jane Doe <jane@acme.com>
Subject: RE: Acme pilot kickoff

Can we meet Thursday?

From: jane@acme.com
Sent: Saturday, March 1, 2025 9:00 AM
To: Bob Smith <bob@example.com>
Subject: Acme pilot kickoff

Kicking off the pilot.
`

func envelope() Envelope {
	ts := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	return Envelope{
		Sender:    "Operator <ops@example.com>",
		Subject:   "Fwd: Acme pilot kickoff",
		Timestamp: &ts,
	}
}

// TestParse_OutlookThreadWithPreface verifies that a forwarder note plus
// three header blocks yields four messages, note first.
func TestParse_OutlookThreadWithPreface(t *testing.T) {
	msgs := Parse(outlookThread, envelope())

	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}

	first := msgs[0]
	if !first.FromEnvelope {
		t.Error("first message should come from the envelope")
	}
	if first.SenderEmail != "ops@example.com" || first.SenderName != "Operator" {
		t.Errorf("preface sender = %q <%s>", first.SenderName, first.SenderEmail)
	}
	if first.Subject != "Fwd: Acme pilot kickoff" {
		t.Errorf("preface subject = %q", first.Subject)
	}
	if !strings.HasPrefix(first.Body, "Looping you in") {
		t.Errorf("preface body = %q", first.Body)
	}

	jane := msgs[1]
	if jane.SenderName != "Jane Doe" || jane.SenderEmail != "jane@acme.com" {
		t.Errorf("sender = %q <%s>", jane.SenderName, jane.SenderEmail)
	}
	if jane.Cc != "Carol <carol@example.com>" {
		t.Errorf("cc = %q", jane.Cc)
	}
	if jane.Subject != "RE: Acme pilot kickoff" {
		t.Errorf("subject = %q", jane.Subject)
	}
	if jane.Body != "Sounds good, see you Thursday." {
		t.Errorf("body = %q, want signature stripped", jane.Body)
	}
	if !strings.Contains(jane.RawBody, "Sent from my iPhone") {
		t.Error("raw body should keep the signature")
	}
	if jane.SentAt == nil {
		t.Fatal("expected parsed timestamp")
	}
	want := time.Date(2025, 3, 3, 10, 15, 0, 0, time.UTC)
	if !jane.SentAt.Equal(want) {
		t.Errorf("sent_at = %v, want %v", jane.SentAt, want)
	}

	if msgs[2].SenderEmail != "bob@example.com" {
		t.Errorf("message 3 sender = %q", msgs[2].SenderEmail)
	}

	bare := msgs[3]
	if bare.SenderName != "" || bare.SenderEmail != "jane@acme.com" {
		t.Errorf("bare sender = %q <%s>", bare.SenderName, bare.SenderEmail)
	}
	if bare.Cc != "" {
		t.Errorf("cc = %q, want empty", bare.Cc)
	}
	if bare.Body != "Kicking off the pilot." {
		t.Errorf("body = %q", bare.Body)
	}
}

// TestParse_ReconstructsText verifies that header blocks and raw bodies
// tile the input exactly when there is no preface.
func TestParse_ReconstructsText(t *testing.T) {
	text := outlookThread[strings.Index(outlookThread, "From:"):]

	msgs := Parse(text, envelope())
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}

	var b strings.Builder
	for _, m := range msgs {
		if m.FromEnvelope {
			t.Fatal("no envelope message expected")
		}
		b.WriteString(m.Header)
		b.WriteString(m.RawBody)
	}
	if b.String() != text {
		t.Errorf("reconstructed text differs from input:\n%q\n%q", b.String(), text)
	}
}

// TestParse_DateStyleWithBannerOnly verifies that a Gmail-style block with
// only a forwarding banner in front produces a single message.
func TestParse_DateStyleWithBannerOnly(t *testing.T) {
	text := `---------- Forwarded message ---------
From: Ann Lee <ann@globex.com>
Date: Tue, Mar 4, 2025 at 9:30 AM
To: <ops@example.com>
Subject: Globex workshop

Workshop confirmed for April.
`
	msgs := Parse(text, envelope())
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.SenderEmail != "ann@globex.com" {
		t.Errorf("sender = %q", m.SenderEmail)
	}
	if m.SentAt == nil || m.SentAt.Day() != 4 || m.SentAt.Hour() != 9 {
		t.Errorf("sent_at = %v", m.SentAt)
	}
	if m.Body != "Workshop confirmed for April." {
		t.Errorf("body = %q", m.Body)
	}
}

// TestParse_MixedGrammarsOrdered verifies that blocks from both grammars
// are merged in text order.
func TestParse_MixedGrammarsOrdered(t *testing.T) {
	text := `From: Second <second@example.com>
Date: Tue, Mar 4, 2025 at 9:30 AM
To: ops@example.com
Subject: b

second body
From: First <first@example.com>
Sent: Monday, March 3, 2025 10:15 AM
To: ops@example.com
Subject: a

first body
`
	msgs := Parse(text, envelope())
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].SenderName != "Second" || msgs[1].SenderName != "First" {
		t.Errorf("order = %q, %q", msgs[0].SenderName, msgs[1].SenderName)
	}
	if msgs[0].Body != "second body" {
		t.Errorf("body = %q", msgs[0].Body)
	}
}

// TestParse_UnparseableDateKept verifies that a bad date does not drop the message.
func TestParse_UnparseableDateKept(t *testing.T) {
	text := `From: Jane <jane@acme.com>
Sent: sometime last week
To: ops@example.com
Subject: hello

body
`
	msgs := Parse(text, envelope())
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].SentAt != nil {
		t.Errorf("sent_at = %v, want nil", msgs[0].SentAt)
	}
	if msgs[0].SentAtRaw != "sometime last week" {
		t.Errorf("sent_at_raw = %q", msgs[0].SentAtRaw)
	}
}

func TestParse_EmptyInput(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t\n"} {
		if msgs := Parse(in, envelope()); len(msgs) != 0 {
			t.Errorf("Parse(%q) returned %d messages", in, len(msgs))
		}
	}
}

// TestParse_NoHeadersFallsBackToEnvelope verifies the single-message fallback.
func TestParse_NoHeadersFallsBackToEnvelope(t *testing.T) {
	msgs := Parse("Quick note: Acme wants a follow-up call.", envelope())
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if !m.FromEnvelope || m.SenderEmail != "ops@example.com" || m.SentAt == nil {
		t.Errorf("unexpected fallback message: %+v", m)
	}
}

// TestParse_ShortPrefaceDropped verifies that a preface of ten or fewer
// significant characters is not kept.
func TestParse_ShortPrefaceDropped(t *testing.T) {
	text := "FYI below\n-----\n" + outlookThread[strings.Index(outlookThread, "From:"):]
	msgs := Parse(text, envelope())
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
}

func TestParseSender(t *testing.T) {
	tests := []struct {
		in        string
		wantName  string
		wantEmail string
	}{
		{in: "Jane Doe <jane@acme.com>", wantName: "Jane Doe", wantEmail: "jane@acme.com"},
		{in: `"Doe, Jane" <Jane@Acme.com>`, wantName: "Doe, Jane", wantEmail: "jane@acme.com"},
		{in: "<ops@example.com>", wantName: "", wantEmail: "ops@example.com"},
		{in: "jane@acme.com", wantName: "", wantEmail: "jane@acme.com"},
		{in: "Jane Doe", wantName: "Jane Doe", wantEmail: ""},
		{in: "Jane Doe [mailto:jane@acme.com]", wantName: "Jane Doe", wantEmail: "jane@acme.com"},
		{in: "  ", wantName: "", wantEmail: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, email := ParseSender(tt.in)
			if name != tt.wantName {
				t.Errorf("name = %q, want %q", name, tt.wantName)
			}
			if email != tt.wantEmail {
				t.Errorf("email = %q, want %q", email, tt.wantEmail)
			}
		})
	}
}

func TestParseAddressList(t *testing.T) {
	got := ParseAddressList(`"Doe, Jane" <jane@acme.com>; Bob <bob@example.com>, carol@example.com`)
	if len(got) != 3 {
		t.Fatalf("expected 3 addresses, got %d: %+v", len(got), got)
	}
	if got[0].Name != "Doe, Jane" || got[0].Address != "jane@acme.com" {
		t.Errorf("first = %+v", got[0])
	}
	if got[2].Address != "carol@example.com" {
		t.Errorf("third = %+v", got[2])
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "mobile signature",
			in:   "See you there.\n\nSent from my iPhone",
			want: "See you there.",
		},
		{
			name: "outlook footer",
			in:   "Agreed.\n\nGet Outlook for iOS<https://aka.ms/o0ukef>",
			want: "Agreed.",
		},
		{
			name: "confidentiality block",
			in:   "Thanks,\nAnn\n\nCONFIDENTIALITY NOTICE: This message is intended only for the addressee.\nIt may contain privileged information.",
			want: "Thanks,\nAnn",
		},
		{
			name: "trailing rule",
			in:   "Body text\n\n________________________________\n",
			want: "Body text",
		},
		{
			name: "plain text untouched",
			in:   "Line one\nLine two",
			want: "Line one\nLine two",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.in); got != tt.want {
				t.Errorf("Clean() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{in: "Monday, March 3, 2025 10:15 AM", want: time.Date(2025, 3, 3, 10, 15, 0, 0, time.UTC), ok: true},
		{in: "Mon, Mar 3, 2025 at 10:15 AM", want: time.Date(2025, 3, 3, 10, 15, 0, 0, time.UTC), ok: true},
		{in: "Mon, Mar 3, 2025 at 10:15\u202fAM", want: time.Date(2025, 3, 3, 10, 15, 0, 0, time.UTC), ok: true},
		{in: "Mon, 3 Mar 2025 10:15:00 +0000", want: time.Date(2025, 3, 3, 10, 15, 0, 0, time.UTC), ok: true},
		{in: "2025-03-03 10:15", want: time.Date(2025, 3, 3, 10, 15, 0, 0, time.UTC), ok: true},
		{in: "not a date", ok: false},
		{in: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.in)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("time = %v, want %v", got, tt.want)
			}
		})
	}
}
