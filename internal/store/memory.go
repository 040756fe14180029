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

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/engagetrack/intake/internal/models"
)

// Memory is an in-process Store. Values are copied on the way in and out
// so callers cannot mutate stored state.
type Memory struct {
	mu sync.Mutex

	messages     map[string]models.Message
	engagements  map[string]models.Engagement
	events       map[string]models.Event
	programs     map[string]models.Program
	approvals    map[string]models.PendingEventApproval
	reviews      map[string]models.PendingReview
	links        map[string]models.EntityLink
	participants map[string]models.Participant
	partLinks    map[string]models.ParticipantLink
	runs         map[string]models.MaterializationRun

	// seq orders inserts for "most recent" queries when timestamps tie.
	seq       int64
	reviewSeq map[string]int64
	msgSeq    map[string]int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		messages:     make(map[string]models.Message),
		engagements:  make(map[string]models.Engagement),
		events:       make(map[string]models.Event),
		programs:     make(map[string]models.Program),
		approvals:    make(map[string]models.PendingEventApproval),
		reviews:      make(map[string]models.PendingReview),
		links:        make(map[string]models.EntityLink),
		participants: make(map[string]models.Participant),
		partLinks:    make(map[string]models.ParticipantLink),
		runs:         make(map[string]models.MaterializationRun),
		reviewSeq:    make(map[string]int64),
		msgSeq:       make(map[string]int64),
	}
}

func (s *Memory) Ping(context.Context) error { return nil }

func (s *Memory) Close() {}

// --- messages ---

func (s *Memory) InsertMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.msgSeq[m.ID] = s.seq
	s.messages[m.ID] = *m
	return nil
}

func (s *Memory) GetMessage(_ context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *Memory) FindDuplicateMessage(_ context.Context, senderEmail, subject, bodyPrefix string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.messages {
		if strings.EqualFold(m.SenderEmail, senderEmail) &&
			m.Subject == subject &&
			strings.HasPrefix(m.Body, bodyPrefix) {
			return id, nil
		}
	}
	return "", nil
}

func (s *Memory) SaveClassification(_ context.Context, messageID string, result *models.ClassificationResult, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	r := *result
	m.Classification = &r
	m.ClassifiedAt = &at
	s.messages[messageID] = m
	return nil
}

func (s *Memory) AssignMessage(_ context.Context, messageID, engagementID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assignLocked(messageID, engagementID)
}

func (s *Memory) assignLocked(messageID, engagementID string) error {
	m, ok := s.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	if engagementID != "" {
		id := engagementID
		m.EngagementID = &id
	}
	m.PendingReview = false
	s.messages[messageID] = m
	return nil
}

func (s *Memory) ListUnrouted(_ context.Context, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reviewed := make(map[string]bool, len(s.reviews))
	for _, r := range s.reviews {
		reviewed[r.MessageID] = true
	}
	var out []models.Message
	for _, m := range s.messages {
		if m.EngagementID == nil && !m.PendingReview && !reviewed[m.ID] {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.msgSeq[out[i].ID] < s.msgSeq[out[j].ID] })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- engagements ---

func (s *Memory) ListActiveEngagements(_ context.Context, limit int) ([]models.Engagement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Engagement
	for _, e := range s.engagements {
		if e.Status == models.EngagementActive {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) GetEngagement(_ context.Context, id string) (*models.Engagement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.engagements[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *Memory) CreateEngagement(_ context.Context, e *models.Engagement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engagements[e.ID] = *e
	return nil
}

func (s *Memory) MergeEngagementState(_ context.Context, id, state string, items []models.OpenItem, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeLocked(id, state, items, at)
}

func (s *Memory) mergeLocked(id, state string, items []models.OpenItem, at time.Time) error {
	e, ok := s.engagements[id]
	if !ok {
		return ErrNotFound
	}
	if strings.TrimSpace(state) != "" {
		e.CurrentState = state
	}
	e.OpenItems = models.MergeOpenItems(e.OpenItems, items)
	e.UpdatedAt = at
	s.engagements[id] = e
	return nil
}

// --- catalog ---

func (s *Memory) ListEvents(_ context.Context, limit int) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) GetEvent(_ context.Context, id string) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// CreateEvent adds an event. Events are confirmed outside the pipeline, so
// this is only part of Memory for seeding.
func (s *Memory) CreateEvent(_ context.Context, e *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = *e
	return nil
}

func (s *Memory) ListPrograms(_ context.Context, limit int) ([]models.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Program, 0, len(s.programs))
	for _, p := range s.programs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) GetProgram(_ context.Context, id string) (*models.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.programs[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Memory) FindProgramByName(_ context.Context, name string) (*models.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.programs {
		if strings.EqualFold(strings.TrimSpace(p.Name), strings.TrimSpace(name)) {
			return &p, nil
		}
	}
	return nil, nil
}

func (s *Memory) CreateProgram(_ context.Context, p *models.Program) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.programs[p.ID] = *p
	return nil
}

func (s *Memory) FindPendingEventApproval(_ context.Context, engagementID, name string) (*models.PendingEventApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.approvals {
		if !a.Resolved && a.EngagementID == engagementID && strings.EqualFold(a.Name, strings.TrimSpace(name)) {
			return &a, nil
		}
	}
	return nil, nil
}

func (s *Memory) CreatePendingEventApproval(_ context.Context, a *models.PendingEventApproval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals[a.ID] = *a
	return nil
}

// PendingEventApprovals returns every stored approval.
func (s *Memory) PendingEventApprovals() []models.PendingEventApproval {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PendingEventApproval, 0, len(s.approvals))
	for _, a := range s.approvals {
		out = append(out, a)
	}
	return out
}

// --- links ---

func linkKey(source, target models.EntityRef, relationship string) string {
	return source.String() + "|" + target.String() + "|" + strings.ToLower(relationship)
}

func (s *Memory) FindEntityLink(_ context.Context, source, target models.EntityRef, relationship string) (*models.EntityLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[linkKey(source, target, relationship)]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (s *Memory) CreateEntityLink(_ context.Context, l *models.EntityLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[linkKey(l.Source, l.Target, l.Relationship)] = *l
	return nil
}

func (s *Memory) ListEntityLinks(_ context.Context, ref models.EntityRef) ([]models.EntityLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EntityLink
	for _, l := range s.links {
		if l.Source == ref || l.Target == ref {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Memory) EntityExists(_ context.Context, ref models.EntityRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ok bool
	switch ref.Kind {
	case models.KindEngagement:
		_, ok = s.engagements[ref.ID]
	case models.KindEvent:
		_, ok = s.events[ref.ID]
	case models.KindProgram:
		_, ok = s.programs[ref.ID]
	case models.KindParticipant:
		_, ok = s.participants[ref.ID]
	}
	return ok, nil
}

// DeleteEngagement removes an engagement without touching links that
// reference it.
func (s *Memory) DeleteEngagement(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.engagements, id)
}

// EntityLinks returns every stored link.
func (s *Memory) EntityLinks() []models.EntityLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.EntityLink, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, l)
	}
	return out
}

// --- participants ---

func (s *Memory) FindParticipantByEmail(_ context.Context, email string) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participants {
		if strings.EqualFold(p.Email, strings.TrimSpace(email)) {
			return &p, nil
		}
	}
	return nil, nil
}

func (s *Memory) CreateParticipant(_ context.Context, p *models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[p.ID] = *p
	return nil
}

func (s *Memory) UpdateParticipant(_ context.Context, p *models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[p.ID]; !ok {
		return ErrNotFound
	}
	s.participants[p.ID] = *p
	return nil
}

func partLinkKey(participantID string, entity models.EntityRef) string {
	return participantID + "|" + entity.String()
}

func (s *Memory) FindParticipantLink(_ context.Context, participantID string, entity models.EntityRef) (*models.ParticipantLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.partLinks[partLinkKey(participantID, entity)]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (s *Memory) CreateParticipantLink(_ context.Context, l *models.ParticipantLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partLinks[partLinkKey(l.ParticipantID, l.Entity)] = *l
	return nil
}

// Participants returns every stored participant.
func (s *Memory) Participants() []models.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	return out
}

// ParticipantLinks returns every stored participant link.
func (s *Memory) ParticipantLinks() []models.ParticipantLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ParticipantLink, 0, len(s.partLinks))
	for _, l := range s.partLinks {
		out = append(out, l)
	}
	return out
}

// --- reviews ---

func (s *Memory) CreatePendingReview(_ context.Context, r *models.PendingReview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.reviewSeq[r.ID] = s.seq
	s.reviews[r.ID] = *r
	if m, ok := s.messages[r.MessageID]; ok {
		m.PendingReview = true
		s.messages[r.MessageID] = m
	}
	return nil
}

func (s *Memory) GetPendingReview(_ context.Context, id string) (*models.PendingReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *Memory) LatestUnresolvedReview(_ context.Context) (*models.PendingReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		best    *models.PendingReview
		bestSeq int64
	)
	for id, r := range s.reviews {
		if r.Resolved {
			continue
		}
		if seq := s.reviewSeq[id]; best == nil || seq > bestSeq {
			r := r
			best, bestSeq = &r, seq
		}
	}
	return best, nil
}

func (s *Memory) FindUnresolvedReviewByCode(_ context.Context, code string) (*models.PendingReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reviews {
		if !r.Resolved && strings.EqualFold(r.ShortCode, code) {
			return &r, nil
		}
	}
	return nil, nil
}

func (s *Memory) MarkReviewNotified(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return ErrNotFound
	}
	r.SMSSent = true
	r.SMSSentAt = &at
	s.reviews[id] = r
	return nil
}

// CommitResolution applies c under the store lock, so the resolved check
// and the writes cannot interleave with another commit.
func (s *Memory) CommitResolution(_ context.Context, c ResolutionCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reviews[c.ReviewID]
	if !ok {
		return ErrNotFound
	}
	if r.Resolved {
		return ErrAlreadyResolved
	}
	if _, ok := s.messages[c.MessageID]; !ok {
		return ErrNotFound
	}

	if c.CreateEngagement != nil {
		s.engagements[c.CreateEngagement.ID] = *c.CreateEngagement
	}
	if err := s.assignLocked(c.MessageID, c.AssignEngagementID); err != nil {
		return err
	}
	if c.AssignEngagementID != "" && (c.MergeState != "" || len(c.MergeOpenItems) > 0) {
		if err := s.mergeLocked(c.AssignEngagementID, c.MergeState, c.MergeOpenItems, c.ResolvedAt); err != nil {
			return err
		}
	}

	at := c.ResolvedAt
	r.Resolved = true
	r.Resolution = c.Resolution
	r.ResolvedAt = &at
	s.reviews[c.ReviewID] = r
	return nil
}

// --- runs ---

func (s *Memory) SaveMaterializationRun(_ context.Context, r *models.MaterializationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	cp.Steps = append([]models.StepResult(nil), r.Steps...)
	s.runs[r.ID] = cp
	return nil
}

func (s *Memory) GetMaterializationRun(_ context.Context, id string) (*models.MaterializationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}
