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

package classify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/engagetrack/intake/internal/models"
)

type fakeCompleter struct {
	response string
	err      error
	system   string
	user     string
	calls    int
}

func (f *fakeCompleter) Complete(_ context.Context, system, user string) (string, error) {
	f.calls++
	f.system, f.user = system, user
	return f.response, f.err
}

type fakeSource struct {
	engagements []models.Engagement
	events      []models.Event
	programs    []models.Program
	limits      []int
}

func (f *fakeSource) ListActiveEngagements(_ context.Context, limit int) ([]models.Engagement, error) {
	f.limits = append(f.limits, limit)
	return f.engagements, nil
}

func (f *fakeSource) ListEvents(_ context.Context, limit int) ([]models.Event, error) {
	f.limits = append(f.limits, limit)
	return f.events, nil
}

func (f *fakeSource) ListPrograms(_ context.Context, limit int) ([]models.Program, error) {
	f.limits = append(f.limits, limit)
	return f.programs, nil
}

const validResponse = `{
  "engagement_match": {"id": "eng-1", "name": " Acme Pilot ", "confidence": 0.92, "is_new": false},
  "matched_events": [{"id": "ev-1", "name": "Summit", "type": "conference", "confidence": 1.4}],
  "participants": [{"name": "Jane Doe", "email": "Jane@Acme.com", "role": "VP"}],
  "current_state": "Legal review",
  "some_future_field": {"ignored": true}
}`

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"bare object", validResponse, false},
		{"json fence", "```json\n" + validResponse + "\n```", false},
		{"plain fence", "```\n" + validResponse + "\n```", false},
		{"prose around object", "Here is the result:\n" + validResponse + "\nThanks!", false},
		{"empty", "", true},
		{"no object", "I could not classify this message.", true},
		{"broken json", `{"engagement_match": {"id": "eng-1",`, true},
		{"truncated after brace", `{"engagement_match": }`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseResponse(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrUnparsable) {
					t.Fatalf("err = %v, want ErrUnparsable", err)
				}
				if r != nil {
					t.Error("no result should be returned on failure")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if r.EngagementMatch.ID != "eng-1" || r.EngagementMatch.Name != "Acme Pilot" {
				t.Errorf("match = %+v", r.EngagementMatch)
			}
		})
	}
}

func TestParseResponseDefaults(t *testing.T) {
	r, err := ParseResponse(validResponse)
	if err != nil {
		t.Fatal(err)
	}
	if r.EngagementAlternatives == nil || r.EventsReferenced == nil || r.MatchedPrograms == nil ||
		r.EntityLinks == nil || r.OpenItems == nil {
		t.Error("absent arrays should default to empty slices")
	}
	ev := r.MatchedEvents[0]
	if ev.Confidence != 1 {
		t.Errorf("confidence = %v, want clamped to 1", ev.Confidence)
	}
	if ev.DatePrecision != "unknown" {
		t.Errorf("date_precision = %q, want unknown", ev.DatePrecision)
	}
	if r.Participants[0].Email != "jane@acme.com" {
		t.Errorf("email = %q, want lowercased", r.Participants[0].Email)
	}
}

func TestClassifySendsContextAndMessage(t *testing.T) {
	src := &fakeSource{
		engagements: []models.Engagement{{
			ID: "eng-1", Name: "Acme Pilot", PartnerName: "Acme",
			CurrentState: strings.Repeat("x", 400),
		}},
		events: []models.Event{{
			ID: "ev-1", Name: "Summit", Type: "conference",
			StartDate: ptrTime(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)),
			EndDate:   ptrTime(time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC)),
		}},
	}
	fc := &fakeCompleter{response: validResponse}
	o := New(fc, src)

	msg := models.Message{
		ID: "msg-1", SenderName: "Jane Doe", SenderEmail: "jane@acme.com",
		Subject: "Pilot update", Body: strings.Repeat("b", maxBody+500),
	}
	r, err := o.Classify(context.Background(), Unit{
		Message:        msg,
		ThreadSubjects: []string{"Re: Pilot update"},
		ForwarderEmail: "me@example.com",
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if r.EngagementMatch.Confidence != 0.92 {
		t.Errorf("confidence = %v", r.EngagementMatch.Confidence)
	}
	if fc.calls != 1 {
		t.Errorf("calls = %d, want 1", fc.calls)
	}
	if got := src.limits; len(got) != 3 || got[0] != 40 || got[1] != 40 || got[2] != 30 {
		t.Errorf("context limits = %v, want [40 40 30]", got)
	}

	for _, want := range []string{
		"id=eng-1", "partner=Acme", "2026-05-01..2026-05-03",
		"FORWARDED BY: me@example.com", "Re: Pilot update",
		"From: Jane Doe <jane@acme.com>", "Subject: Pilot update",
	} {
		if !strings.Contains(fc.user, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}
	if strings.Contains(fc.user, strings.Repeat("x", maxSynopsis+1)) {
		t.Error("synopsis was not truncated")
	}
	if strings.Contains(fc.user, strings.Repeat("b", maxBody+1)) {
		t.Error("body was not truncated")
	}
	if !strings.Contains(fc.user, "TRACKED PROGRAMS:\nnone") {
		t.Error("empty program list should render as none")
	}
}

func TestClassifyPropagatesErrors(t *testing.T) {
	boom := errors.New("upstream 503")
	o := New(&fakeCompleter{err: boom}, &fakeSource{})
	if _, err := o.Classify(context.Background(), Unit{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped upstream error", err)
	}

	o = New(&fakeCompleter{response: "not json"}, &fakeSource{})
	if _, err := o.Classify(context.Background(), Unit{}); !errors.Is(err, ErrUnparsable) {
		t.Errorf("err = %v, want ErrUnparsable", err)
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
