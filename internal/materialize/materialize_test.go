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

package materialize

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/engagetrack/intake/internal/models"
	"github.com/engagetrack/intake/internal/store"
)

func newStore(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	if err := s.CreateEngagement(ctx, &models.Engagement{ID: "eng-1", Name: "Acme Pilot", Status: models.EngagementActive}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateEvent(ctx, &models.Event{ID: "ev-1", Name: "Partner Summit", Type: "conference"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateParticipant(ctx, &models.Participant{ID: "p-old", Name: "Jane Doe", Email: "jane@acme.com", Organization: "Acme"}); err != nil {
		t.Fatal(err)
	}
	msg := &models.Message{ID: "msg-1", ForwarderEmail: "Me@Example.com"}
	if err := s.InsertMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	return s
}

func classification() *models.ClassificationResult {
	return &models.ClassificationResult{
		EngagementMatch: models.EngagementMatch{ID: "eng-1", Name: "Acme Pilot", Confidence: 0.9},
		MatchedEvents: []models.EventReference{
			{ID: "ev-1", Name: "Partner Summit"},
		},
		EventsReferenced: []models.EventReference{
			{Name: "Launch Webinar", Type: "webinar", DatePrecision: "month", Confidence: 0.7, IsNew: true},
			{ID: "ev-missing", Name: "Ghost Expo"},
		},
		MatchedPrograms: []models.ProgramReference{
			{Name: "Startup Accelerator", Description: "Cohort program"},
		},
		Participants: []models.ParticipantReference{
			{Name: "Jane D.", Email: "JANE@acme.com", Organization: "Acme Corp", Role: "VP Partnerships"},
			{Name: "Jane again", Email: "jane@acme.com"},
			{Name: "Bob Roe", Email: "bob@globex.com", Organization: "Globex", Role: "Engineer"},
			{Name: "Me", Email: "me@example.com", Role: "Account Exec"},
			{Name: "No Email"},
		},
		EntityLinks: []models.EntityLinkReference{
			{SourceType: "engagement", SourceName: "Acme Pilot", TargetType: "event", TargetName: "partner summit", Relationship: "presenting_at"},
			{SourceType: "program", SourceName: "Startup Accelerator", TargetType: "engagement", TargetName: "Acme Pilot", Relationship: "sponsors"},
			{SourceName: "Acme Pilot", TargetName: "Acme Pilot", Relationship: "self"},
			{SourceName: "Acme Pilot", TargetName: "Unknown Thing", Relationship: "mentions"},
			{SourceType: "program", SourceName: "Partner Summit", TargetName: "Acme Pilot", Relationship: "wrong_kind"},
			{SourceType: "participant", SourceName: "Jane D.", TargetType: "engagement", TargetName: "Acme Pilot", Relationship: "champion"},
		},
	}
}

func stepByName(run *models.MaterializationRun, name string) models.StepResult {
	for _, s := range run.Steps {
		if s.Name == name {
			return s
		}
	}
	return models.StepResult{}
}

func TestMaterializeCreatesEntities(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	msg, _ := s.GetMessage(ctx, "msg-1")
	m := New(s, "")

	run := m.Materialize(ctx, msg, "eng-1", classification())
	if !run.Complete() {
		t.Fatalf("run incomplete: %+v", run.Steps)
	}
	if len(run.Steps) != 5 {
		t.Fatalf("steps = %d, want 5", len(run.Steps))
	}

	approvals := s.PendingEventApprovals()
	if len(approvals) != 2 {
		t.Fatalf("approvals = %+v, want Launch Webinar and Ghost Expo", approvals)
	}
	for _, a := range approvals {
		if a.Resolved || a.EngagementID != "eng-1" || a.MessageID != "msg-1" {
			t.Errorf("approval = %+v", a)
		}
	}

	p, _ := s.FindProgramByName(ctx, "startup accelerator")
	if p == nil {
		t.Fatal("program not created")
	}

	links := s.EntityLinks()
	rels := map[string]bool{}
	for _, l := range links {
		rels[l.Relationship] = true
	}
	for _, want := range []string{"presenting_at", "sponsors", "champion"} {
		if !rels[want] {
			t.Errorf("missing link %q", want)
		}
	}
	for _, unwanted := range []string{"self", "mentions", "wrong_kind"} {
		if rels[unwanted] {
			t.Errorf("link %q should have been skipped", unwanted)
		}
	}
	if got := stepByName(run, StepLinks).Detail; !strings.Contains(got, "3 created") {
		t.Errorf("links detail = %q", got)
	}

	jane, _ := s.FindParticipantByEmail(ctx, "jane@acme.com")
	if jane.ID != "p-old" || jane.Name != "Jane Doe" || jane.Organization != "Acme" {
		t.Errorf("populated fields overwritten: %+v", jane)
	}
	if jane.Title != "VP Partnerships" {
		t.Errorf("empty title not filled: %q", jane.Title)
	}

	me, _ := s.FindParticipantByEmail(ctx, "me@example.com")
	if me == nil || me.Title != "" {
		t.Errorf("forwarder participant = %+v", me)
	}

	roles := map[string]string{}
	for _, l := range s.ParticipantLinks() {
		if l.Entity != (models.EntityRef{Kind: models.KindEngagement, ID: "eng-1"}) {
			t.Errorf("link to %v", l.Entity)
		}
		roles[l.ParticipantID] = l.Role
	}
	if len(roles) != 3 {
		t.Errorf("participant links = %d, want 3", len(roles))
	}
	if roles[me.ID] != ForwarderRole {
		t.Errorf("forwarder role = %q", roles[me.ID])
	}
	if len(s.Participants()) != 3 {
		t.Errorf("participants = %d, want 3", len(s.Participants()))
	}

	saved, _ := s.GetMaterializationRun(ctx, run.ID)
	if saved == nil || saved.FinishedAt == nil || len(saved.Steps) != 5 {
		t.Errorf("run not persisted: %+v", saved)
	}
}

func TestMaterializeIsMonotonicUnderRepetition(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	msg, _ := s.GetMessage(ctx, "msg-1")
	m := New(s, "me@example.com")

	m.Materialize(ctx, msg, "eng-1", classification())
	counts := func() (int, int, int, int, int) {
		programs, _ := s.ListPrograms(ctx, 0)
		return len(s.Participants()), len(programs), len(s.EntityLinks()), len(s.ParticipantLinks()), len(s.PendingEventApprovals())
	}
	p1, g1, l1, pl1, a1 := counts()

	for i := 0; i < 3; i++ {
		m.Materialize(ctx, msg, "eng-1", classification())
	}
	p2, g2, l2, pl2, a2 := counts()

	if p1 != p2 || g1 != g2 || l1 != l2 || pl1 != pl2 || a1 != a2 {
		t.Errorf("repetition changed counts: participants %d->%d programs %d->%d links %d->%d participant links %d->%d approvals %d->%d",
			p1, p2, g1, g2, l1, l2, pl1, pl2, a1, a2)
	}
}

func TestMaterializeSecondRunLinksNewParticipants(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	msg, _ := s.GetMessage(ctx, "msg-1")
	m := New(s, "")

	c := &models.ClassificationResult{
		Participants: []models.ParticipantReference{{Name: "Bob Roe", Email: "bob@globex.com"}},
		EntityLinks: []models.EntityLinkReference{
			{SourceType: "participant", SourceName: "Bob Roe", TargetType: "engagement", TargetName: "Acme Pilot", Relationship: "owner"},
		},
	}
	m.Materialize(ctx, msg, "eng-1", c)
	if len(s.EntityLinks()) != 0 {
		t.Fatal("participant unknown before the participants step; link should wait")
	}
	m.Materialize(ctx, msg, "eng-1", c)
	if len(s.EntityLinks()) != 1 {
		t.Errorf("links = %d, want 1 after repetition", len(s.EntityLinks()))
	}
}

func TestMaterializeMissingEngagementSkipsSteps(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	msg, _ := s.GetMessage(ctx, "msg-1")

	run := New(s, "").Materialize(ctx, msg, "eng-404", classification())
	if run.Complete() {
		t.Error("run with failed seed should not be complete")
	}
	if got := stepByName(run, StepSeed).Status; got != models.StepFailed {
		t.Errorf("seed status = %s", got)
	}
	for _, name := range []string{StepEvents, StepPrograms, StepLinks} {
		if got := stepByName(run, name).Status; got != models.StepSkipped {
			t.Errorf("%s status = %s, want skipped", name, got)
		}
	}
	if got := stepByName(run, StepParticipants).Status; got != models.StepDone {
		t.Errorf("participants status = %s, want done", got)
	}
	if len(s.PendingEventApprovals()) != 0 {
		t.Error("no approvals should be written without an engagement")
	}
	if len(s.Participants()) != 3 {
		t.Errorf("participants = %d, want 3", len(s.Participants()))
	}
	if len(s.ParticipantLinks()) != 0 {
		t.Errorf("links = %+v, want none for a missing engagement", s.ParticipantLinks())
	}
}

type failingEngagementStore struct {
	*store.Memory
}

func (f failingEngagementStore) GetEngagement(context.Context, string) (*models.Engagement, error) {
	return nil, errors.New("connection reset")
}

func TestMaterializeSeedErrorStillLinksParticipants(t *testing.T) {
	mem := newStore(t)
	ctx := context.Background()
	msg, _ := mem.GetMessage(ctx, "msg-1")

	run := New(failingEngagementStore{mem}, "").Materialize(ctx, msg, "eng-1", classification())
	if got := stepByName(run, StepSeed).Status; got != models.StepFailed {
		t.Errorf("seed status = %s", got)
	}
	if got := stepByName(run, StepLinks).Status; got != models.StepSkipped {
		t.Errorf("links status = %s, want skipped", got)
	}
	if got := stepByName(run, StepParticipants).Status; got != models.StepDone {
		t.Fatalf("participants step = %+v", stepByName(run, StepParticipants))
	}
	links := mem.ParticipantLinks()
	if len(links) != 3 {
		t.Fatalf("links = %d, want 3", len(links))
	}
	for _, l := range links {
		if l.Entity.ID != "eng-1" || l.Entity.Kind != models.KindEngagement {
			t.Errorf("link = %+v", l)
		}
	}
}

type failingProgramStore struct {
	*store.Memory
}

func (f failingProgramStore) CreateProgram(context.Context, *models.Program) error {
	return errors.New("insert failed")
}

func TestMaterializeStepFailureIsRecordedNotFatal(t *testing.T) {
	mem := newStore(t)
	ctx := context.Background()
	msg, _ := mem.GetMessage(ctx, "msg-1")

	run := New(failingProgramStore{mem}, "").Materialize(ctx, msg, "eng-1", classification())
	prog := stepByName(run, StepPrograms)
	if prog.Status != models.StepFailed || len(prog.Errors) != 1 {
		t.Errorf("programs step = %+v", prog)
	}
	if stepByName(run, StepParticipants).Status != models.StepDone {
		t.Error("later steps should still run")
	}
	if len(mem.Participants()) != 3 {
		t.Errorf("participants = %d", len(mem.Participants()))
	}
}

func TestResume(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	c := classification()
	if err := s.SaveClassification(ctx, "msg-1", c, time.Now()); err != nil {
		t.Fatal(err)
	}
	msg, _ := s.GetMessage(ctx, "msg-1")
	m := New(failingProgramStore{s}, "")
	run := m.Materialize(ctx, msg, "eng-1", c)
	if run.Complete() {
		t.Fatal("first run should be incomplete")
	}

	resumed, err := New(s, "").Resume(ctx, run.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.ID != run.ID || !resumed.Complete() {
		t.Errorf("resumed run = %+v", resumed)
	}
	if p, _ := s.FindProgramByName(ctx, "Startup Accelerator"); p == nil {
		t.Error("program should exist after resume")
	}

	if _, err := New(s, "").Resume(ctx, "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestResolveLinksFlagsDangling(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	msg, _ := s.GetMessage(ctx, "msg-1")
	m := New(s, "")
	m.Materialize(ctx, msg, "eng-1", classification())

	ref := models.EntityRef{Kind: models.KindEvent, ID: "ev-1"}
	links, err := m.ResolveLinks(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 || links[0].Dangling() {
		t.Fatalf("links = %+v", links)
	}

	s.DeleteEngagement("eng-1")
	links, err = m.ResolveLinks(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 || !links[0].Dangling() || links[0].SourceExists || !links[0].TargetExists {
		t.Errorf("after delete: %+v", links)
	}
}
