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

package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/engagetrack/intake/internal/classify"
	"github.com/engagetrack/intake/internal/materialize"
	"github.com/engagetrack/intake/internal/models"
	"github.com/engagetrack/intake/internal/routing"
	"github.com/engagetrack/intake/internal/store"
)

const thread = `Forwarding the Acme pilot thread, please file it.

From: Jane Doe <jane@acme.com>
Sent: Monday, March 3, 2025 10:15 AM
To: Bob Smith <bob@example.com>
Subject: RE: Acme pilot kickoff

Sounds good, see you Thursday.

From: Bob Smith <bob@example.com>
Sent: Sunday, March 2, 2025 4:00 PM
To: Jane Doe <jane@acme.com>
Subject: Acme pilot kickoff

Can we meet Thursday?
`

type fakeClassifier struct {
	confidence float64
	err        error
	units      []classify.Unit
}

func (f *fakeClassifier) Classify(_ context.Context, u classify.Unit) (*models.ClassificationResult, error) {
	f.units = append(f.units, u)
	if f.err != nil {
		return nil, f.err
	}
	return &models.ClassificationResult{
		EngagementMatch: models.EngagementMatch{ID: "eng-1", Name: "Acme Pilot", Confidence: f.confidence},
	}, nil
}

type fakeQueue struct {
	ids     []string
	reasons []string
}

func (q *fakeQueue) PublishReclassify(_ context.Context, messageID, reason string) error {
	q.ids = append(q.ids, messageID)
	q.reasons = append(q.reasons, reason)
	return nil
}

// failingReviewStore rejects every review insert.
type failingReviewStore struct {
	*store.Memory
}

func (s failingReviewStore) CreatePendingReview(context.Context, *models.PendingReview) error {
	return errors.New("connection reset")
}

type fakeSeen struct {
	seen      map[string]bool
	forgotten int
}

func (f *fakeSeen) IsNew(_ context.Context, fp string) (bool, error) {
	if f.seen[fp] {
		return false, nil
	}
	f.seen[fp] = true
	return true, nil
}

func (f *fakeSeen) Forget(_ context.Context, fp string) error {
	delete(f.seen, fp)
	f.forgotten++
	return nil
}

type fixture struct {
	store      *store.Memory
	classifier *fakeClassifier
	queue      *fakeQueue
	svc        *Service
}

func newFixture(t *testing.T, confidence float64) *fixture {
	t.Helper()
	s := store.NewMemory()
	if err := s.CreateEngagement(context.Background(), &models.Engagement{
		ID: "eng-1", Name: "Acme Pilot", Status: models.EngagementActive,
	}); err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		store:      s,
		classifier: &fakeClassifier{confidence: confidence},
		queue:      &fakeQueue{},
	}
	f.svc = New(Config{
		Store:      s,
		Classifier: f.classifier,
		Router:     routing.New(s, materialize.New(s, "ops@example.com"), nil),
		Queue:      f.queue,
	})
	return f
}

func delivery() Delivery {
	return Delivery{
		ID:      "del-1",
		Sender:  "Operator <ops@example.com>",
		Subject: "Fwd: Acme pilot kickoff",
		Text:    thread,
	}
}

func TestIngestAutoAssignsEachMessage(t *testing.T) {
	f := newFixture(t, 0.92)

	out, err := f.svc.Ingest(context.Background(), delivery())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if out.Parsed != 3 || len(out.Stored) != 3 {
		t.Fatalf("parsed=%d stored=%d, want 3/3", out.Parsed, len(out.Stored))
	}
	if out.Assigned != 3 || out.Reviews != 0 || out.Failed != 0 {
		t.Errorf("outcome = %+v", out)
	}

	first := f.classifier.units[0]
	if first.ForwarderEmail != "ops@example.com" || first.ForwarderName != "Operator" {
		t.Errorf("forwarder = %q <%s>", first.ForwarderName, first.ForwarderEmail)
	}
	if len(first.ThreadSubjects) != 3 {
		t.Errorf("thread subjects = %v", first.ThreadSubjects)
	}

	for i, id := range out.Stored {
		m, _ := f.store.GetMessage(context.Background(), id)
		if m.Position != i || m.DeliveryID != "del-1" {
			t.Errorf("message %d: position=%d delivery=%q", i, m.Position, m.DeliveryID)
		}
		if !m.Classified() || m.EngagementID == nil || *m.EngagementID != "eng-1" {
			t.Errorf("message %d not classified and assigned: %+v", i, m)
		}
	}
}

func TestIngestLowConfidenceOpensReviews(t *testing.T) {
	f := newFixture(t, 0.4)

	out, err := f.svc.Ingest(context.Background(), delivery())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if out.Reviews != 3 || out.Assigned != 0 {
		t.Errorf("outcome = %+v", out)
	}
	m, _ := f.store.GetMessage(context.Background(), out.Stored[2])
	if !m.PendingReview || m.EngagementID != nil {
		t.Errorf("message should be pending review: %+v", m)
	}
}

func TestIngestSkipsRedeliveredMessages(t *testing.T) {
	f := newFixture(t, 0.92)

	if _, err := f.svc.Ingest(context.Background(), delivery()); err != nil {
		t.Fatal(err)
	}
	d := delivery()
	d.ID = "del-2"
	out, err := f.svc.Ingest(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if out.Duplicates != 3 || len(out.Stored) != 0 {
		t.Errorf("outcome = %+v", out)
	}
	if len(f.classifier.units) != 3 {
		t.Errorf("duplicates were classified: %d calls", len(f.classifier.units))
	}
}

func TestIngestUsesSeenFilter(t *testing.T) {
	f := newFixture(t, 0.92)
	seen := &fakeSeen{seen: map[string]bool{}}
	f.svc.seen = seen

	m := &models.Message{SenderEmail: "bob@example.com", Subject: "Acme pilot kickoff", Body: "Can we meet Thursday?"}
	seen.seen[fingerprint(m)] = true

	out, err := f.svc.Ingest(context.Background(), delivery())
	if err != nil {
		t.Fatal(err)
	}
	if out.Duplicates != 1 || len(out.Stored) != 2 {
		t.Errorf("outcome = %+v", out)
	}
}

func TestIngestClassificationFailureQueuesMessage(t *testing.T) {
	f := newFixture(t, 0.92)
	f.classifier.err = errors.New("upstream timeout")

	out, err := f.svc.Ingest(context.Background(), delivery())
	if err != nil {
		t.Fatalf("classification failure must not fail ingestion: %v", err)
	}
	if out.Failed != 3 || len(out.Stored) != 3 {
		t.Errorf("outcome = %+v", out)
	}
	if len(f.queue.ids) != 3 || f.queue.ids[0] != out.Stored[0] {
		t.Errorf("queued ids = %v", f.queue.ids)
	}

	pending, _ := f.store.ListUnrouted(context.Background(), 0)
	if len(pending) != 3 {
		t.Errorf("unrouted = %d, want 3", len(pending))
	}
}

func TestIngestRouteFailureQueuesMessage(t *testing.T) {
	f := newFixture(t, 0.4)
	f.svc.router = routing.New(failingReviewStore{f.store}, nil, nil)
	ctx := context.Background()

	out, err := f.svc.Ingest(ctx, delivery())
	if err != nil {
		t.Fatalf("route failure must not fail ingestion: %v", err)
	}
	if out.Failed != 3 || out.Reviews != 0 || len(out.Stored) != 3 {
		t.Errorf("outcome = %+v", out)
	}
	if len(f.queue.ids) != 3 {
		t.Fatalf("queued ids = %v", f.queue.ids)
	}
	for _, r := range f.queue.reasons {
		if r != "route_failed" {
			t.Errorf("reason = %q, want route_failed", r)
		}
	}

	unrouted, err := f.store.ListUnrouted(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(unrouted) != 3 {
		t.Fatalf("unrouted = %d, want 3", len(unrouted))
	}
	for _, m := range unrouted {
		if m.Classification == nil || m.PendingReview {
			t.Errorf("message %s: classification=%v pending=%v", m.ID, m.Classification, m.PendingReview)
		}
	}
}

func TestIngestEmptyDelivery(t *testing.T) {
	f := newFixture(t, 0.92)

	out, err := f.svc.Ingest(context.Background(), Delivery{Text: "   \n"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Parsed != 0 || out.DeliveryID == "" {
		t.Errorf("outcome = %+v", out)
	}
}

func TestReclassify(t *testing.T) {
	f := newFixture(t, 0.92)
	f.classifier.err = errors.New("upstream timeout")

	out, err := f.svc.Ingest(context.Background(), delivery())
	if err != nil {
		t.Fatal(err)
	}
	id := out.Stored[0]

	f.classifier.err = nil
	d, err := f.svc.Reclassify(context.Background(), id)
	if err != nil {
		t.Fatalf("Reclassify: %v", err)
	}
	if d.Kind != routing.DecisionAssigned || d.EngagementID != "eng-1" {
		t.Errorf("decision = %+v", d)
	}

	if _, err := f.svc.Reclassify(context.Background(), id); !errors.Is(err, ErrAlreadyRouted) {
		t.Errorf("second reclassify err = %v, want ErrAlreadyRouted", err)
	}
	if _, err := f.svc.Reclassify(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id err = %v, want ErrNotFound", err)
	}
}
