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

package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/engagetrack/intake/internal/models"
	"github.com/engagetrack/intake/internal/store"
)

type recordingMaterializer struct {
	calls []string
}

func (m *recordingMaterializer) Materialize(_ context.Context, msg *models.Message, engagementID string, _ *models.ClassificationResult) *models.MaterializationRun {
	m.calls = append(m.calls, msg.ID+"->"+engagementID)
	return &models.MaterializationRun{MessageID: msg.ID, EngagementID: engagementID}
}

type recordingNotifier struct {
	err     error
	reviews []*models.PendingReview
}

func (n *recordingNotifier) NotifyReview(_ context.Context, r *models.PendingReview, _ *models.Message) error {
	n.reviews = append(n.reviews, r)
	return n.err
}

func setup(t *testing.T) (*store.Memory, *models.Message) {
	t.Helper()
	s := store.NewMemory()
	ctx := context.Background()
	if err := s.CreateEngagement(ctx, &models.Engagement{ID: "eng-1", Name: "Acme Pilot", Status: models.EngagementActive}); err != nil {
		t.Fatal(err)
	}
	msg := &models.Message{ID: "msg-1", Subject: "Pilot kickoff", Body: "See you Tuesday"}
	if err := s.InsertMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	return s, msg
}

func TestRouteHighConfidenceExistingAssigns(t *testing.T) {
	s, msg := setup(t)
	mat := &recordingMaterializer{}
	notif := &recordingNotifier{}
	r := New(s, mat, notif)

	result := &models.ClassificationResult{
		EngagementMatch: models.EngagementMatch{ID: "eng-1", Name: "Acme Pilot", Confidence: 0.92},
		CurrentState:    "Kickoff scheduled",
	}
	d, err := r.Route(context.Background(), msg, result)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.Kind != DecisionAssigned || d.EngagementID != "eng-1" {
		t.Fatalf("decision = %+v", d)
	}
	if d.ReviewID != "" || len(notif.reviews) != 0 {
		t.Error("high confidence must not open a review")
	}

	stored, _ := s.GetMessage(context.Background(), "msg-1")
	if stored.EngagementID == nil || *stored.EngagementID != "eng-1" || stored.PendingReview {
		t.Errorf("stored message = %+v", stored)
	}
	if r, _ := s.LatestUnresolvedReview(context.Background()); r != nil {
		t.Error("no pending review should exist")
	}
	e, _ := s.GetEngagement(context.Background(), "eng-1")
	if e.CurrentState != "Kickoff scheduled" {
		t.Errorf("current state not merged: %q", e.CurrentState)
	}
	if len(mat.calls) != 1 || mat.calls[0] != "msg-1->eng-1" {
		t.Errorf("materializer calls = %v", mat.calls)
	}
}

func TestRouteHighConfidenceNewCreates(t *testing.T) {
	s, msg := setup(t)
	mat := &recordingMaterializer{}
	r := New(s, mat, nil)

	result := &models.ClassificationResult{
		EngagementMatch: models.EngagementMatch{Name: "Globex Expansion", PartnerName: "Globex", Confidence: 0.9, IsNew: true},
		OpenItems:       []models.OpenItem{{Description: "Draft MOU"}},
	}
	d, err := r.Route(context.Background(), msg, result)
	if err != nil {
		t.Fatal(err)
	}
	if d.Kind != DecisionCreated || d.EngagementID == "" {
		t.Fatalf("decision = %+v", d)
	}
	e, _ := s.GetEngagement(context.Background(), d.EngagementID)
	if e == nil || e.Name != "Globex Expansion" || e.PartnerName != "Globex" || len(e.OpenItems) != 1 {
		t.Errorf("created engagement = %+v", e)
	}
}

func TestRouteUnknownMatchGoesToReview(t *testing.T) {
	s, msg := setup(t)
	r := New(s, &recordingMaterializer{}, nil)

	result := &models.ClassificationResult{
		EngagementMatch: models.EngagementMatch{ID: "eng-404", Name: "Ghost", Confidence: 0.97},
	}
	d, err := r.Route(context.Background(), msg, result)
	if err != nil {
		t.Fatal(err)
	}
	if d.Kind != DecisionReview {
		t.Fatalf("kind = %s, want review", d.Kind)
	}
}

func TestRouteLowConfidenceOpensReview(t *testing.T) {
	s, msg := setup(t)
	mat := &recordingMaterializer{}
	notif := &recordingNotifier{}
	r := New(s, mat, notif)
	fixed := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	result := &models.ClassificationResult{
		EngagementMatch: models.EngagementMatch{ID: "eng-1", Name: "Acme Pilot", Confidence: 0.6},
		EngagementAlternatives: []models.EngagementCandidate{
			{ID: "eng-9", Name: "Acme Renewal", Confidence: 0.4},
		},
	}
	d, err := r.Route(context.Background(), msg, result)
	if err != nil {
		t.Fatal(err)
	}
	if d.Kind != DecisionReview || d.ReviewID == "" || !d.Notified {
		t.Fatalf("decision = %+v", d)
	}
	if len(mat.calls) != 0 {
		t.Error("materializer must not run before resolution")
	}

	review, _ := s.GetPendingReview(context.Background(), d.ReviewID)
	if review == nil || review.Resolved || review.MessageID != "msg-1" {
		t.Fatalf("review = %+v", review)
	}
	if !review.SMSSent || review.SMSSentAt == nil || !review.SMSSentAt.Equal(fixed) {
		t.Errorf("sms flags = %v %v", review.SMSSent, review.SMSSentAt)
	}
	if len(review.ShortCode) != 5 {
		t.Errorf("short code = %q", review.ShortCode)
	}
	if len(notif.reviews) != 1 || len(notif.reviews[0].Options) != len(review.Options) {
		t.Fatal("notification must carry the stored options")
	}
	for i, o := range review.Options {
		if notif.reviews[0].Options[i] != o {
			t.Errorf("option %d differs between notification and snapshot", i)
		}
	}
	want := []models.ReviewOption{
		{Number: 1, EngagementID: "eng-1", Label: "Acme Pilot", Confidence: 0.6},
		{Number: 2, EngagementID: "eng-9", Label: "Acme Renewal", Confidence: 0.4},
		{Number: 3, Label: "Pilot kickoff", IsNew: true},
	}
	if len(review.Options) != len(want) {
		t.Fatalf("options = %+v", review.Options)
	}
	for i := range want {
		if review.Options[i] != want[i] {
			t.Errorf("option %d = %+v, want %+v", i, review.Options[i], want[i])
		}
	}

	stored, _ := s.GetMessage(context.Background(), "msg-1")
	if !stored.PendingReview || stored.EngagementID != nil {
		t.Errorf("message should be pending and unassigned: %+v", stored)
	}
}

func TestRouteNotificationFailureLeavesFlagUnset(t *testing.T) {
	s, msg := setup(t)
	r := New(s, nil, &recordingNotifier{err: errors.New("gateway down")})

	d, err := r.Route(context.Background(), msg, &models.ClassificationResult{
		EngagementMatch: models.EngagementMatch{Name: "Maybe", IsNew: true, Confidence: 0.2},
	})
	if err != nil {
		t.Fatalf("notification failure must not fail routing: %v", err)
	}
	review, _ := s.GetPendingReview(context.Background(), d.ReviewID)
	if review.SMSSent || d.Notified {
		t.Error("sms_sent should stay false after a failed send")
	}
}

func TestBuildOptions(t *testing.T) {
	tests := []struct {
		name   string
		result models.ClassificationResult
		want   []models.ReviewOption
	}{
		{
			name: "new match offered first, no extra fallback",
			result: models.ClassificationResult{
				EngagementMatch: models.EngagementMatch{Name: "Initech Pilot", IsNew: true, Confidence: 0.7},
				EngagementAlternatives: []models.EngagementCandidate{
					{ID: "a", Name: "A", Confidence: 0.5},
					{ID: "b", Name: "B", Confidence: 0.45},
					{ID: "c", Name: "C", Confidence: 0.35},
				},
			},
			want: []models.ReviewOption{
				{Number: 1, Label: "Initech Pilot", IsNew: true, Confidence: 0.7},
				{Number: 2, EngagementID: "a", Label: "A", Confidence: 0.5},
				{Number: 3, EngagementID: "b", Label: "B", Confidence: 0.45},
			},
		},
		{
			name: "weak new match falls back with its name",
			result: models.ClassificationResult{
				EngagementMatch: models.EngagementMatch{Name: "Initech Pilot", IsNew: true, Confidence: 0.3},
			},
			want: []models.ReviewOption{
				{Number: 1, Label: "Initech Pilot", IsNew: true},
			},
		},
		{
			name: "existing below threshold not offered, duplicates and weak alternatives dropped",
			result: models.ClassificationResult{
				EngagementMatch: models.EngagementMatch{ID: "x", Name: "X", Confidence: 0.4},
				EngagementAlternatives: []models.EngagementCandidate{
					{ID: "y", Name: "Y", Confidence: 0.31},
					{ID: "y", Name: "Y again", Confidence: 0.6},
					{ID: "z", Name: "Z", Confidence: 0.1},
					{Name: "no id", Confidence: 0.9},
				},
			},
			want: []models.ReviewOption{
				{Number: 1, EngagementID: "y", Label: "Y", Confidence: 0.31},
				{Number: 2, Label: "Subject line", IsNew: true},
			},
		},
		{
			name: "fallback keeps total at three",
			result: models.ClassificationResult{
				EngagementMatch: models.EngagementMatch{ID: "x", Name: "X", Confidence: 0.8},
				EngagementAlternatives: []models.EngagementCandidate{
					{ID: "x", Name: "X", Confidence: 0.8},
					{ID: "y", Name: "", Confidence: 0.6},
					{ID: "z", Name: "Z", Confidence: 0.5},
				},
			},
			want: []models.ReviewOption{
				{Number: 1, EngagementID: "x", Label: "X", Confidence: 0.8},
				{Number: 2, EngagementID: "y", Label: "y", Confidence: 0.6},
				{Number: 3, Label: "Subject line", IsNew: true},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildOptions(&tt.result, "Subject line")
			if len(got) != len(tt.want) {
				t.Fatalf("got %d options %+v, want %d", len(got), got, len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("option %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestBuildOptionsEmptySubjectUsesDefaultName(t *testing.T) {
	got := BuildOptions(&models.ClassificationResult{}, "  ")
	if len(got) != 1 || got[0].Label != defaultNewName || !got[0].IsNew || got[0].Number != 1 {
		t.Errorf("got %+v", got)
	}
}
