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
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/engagetrack/intake/internal/models"
)

func (m *Materializer) seed(ctx context.Context, st *runState) (string, []error) {
	e, err := m.store.GetEngagement(ctx, st.engagementID)
	if err != nil {
		return "", []error{fmt.Errorf("load engagement %s: %w", st.engagementID, err)}
	}
	if e == nil {
		st.missing = true
		return "", []error{fmt.Errorf("engagement %s not found", st.engagementID)}
	}
	st.register(e.Name, models.EntityRef{Kind: models.KindEngagement, ID: e.ID})
	st.seeded = true
	return e.Name, nil
}

func (m *Materializer) events(ctx context.Context, st *runState) (string, []error) {
	var (
		errs             []error
		known, approvals int
	)
	for _, ref := range st.result.AllEvents() {
		if ref.ID != "" {
			ev, err := m.store.GetEvent(ctx, ref.ID)
			if err != nil {
				errs = append(errs, fmt.Errorf("load event %s: %w", ref.ID, err))
				continue
			}
			if ev != nil {
				st.register(ev.Name, models.EntityRef{Kind: models.KindEvent, ID: ev.ID})
				if !strings.EqualFold(ev.Name, ref.Name) {
					st.register(ref.Name, models.EntityRef{Kind: models.KindEvent, ID: ev.ID})
				}
				known++
				continue
			}
		}
		name := strings.TrimSpace(ref.Name)
		if name == "" {
			continue
		}
		existing, err := m.store.FindPendingEventApproval(ctx, st.engagementID, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("find approval %q: %w", name, err))
			continue
		}
		if existing != nil {
			approvals++
			continue
		}
		a := &models.PendingEventApproval{
			ID:            uuid.NewString(),
			MessageID:     st.msg.ID,
			EngagementID:  st.engagementID,
			Name:          name,
			Type:          ref.Type,
			Date:          ref.Date,
			DatePrecision: ref.DatePrecision,
			Confidence:    ref.Confidence,
			CreatedAt:     m.now(),
		}
		if err := m.store.CreatePendingEventApproval(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("create approval %q: %w", name, err))
			continue
		}
		approvals++
	}
	return fmt.Sprintf("%d known, %d awaiting approval", known, approvals), errs
}

func (m *Materializer) programs(ctx context.Context, st *runState) (string, []error) {
	var (
		errs           []error
		found, created int
	)
	for _, ref := range st.result.MatchedPrograms {
		if ref.ID != "" {
			p, err := m.store.GetProgram(ctx, ref.ID)
			if err != nil {
				errs = append(errs, fmt.Errorf("load program %s: %w", ref.ID, err))
				continue
			}
			if p != nil {
				st.register(p.Name, models.EntityRef{Kind: models.KindProgram, ID: p.ID})
				found++
				continue
			}
		}
		name := strings.TrimSpace(ref.Name)
		if name == "" {
			continue
		}
		p, err := m.store.FindProgramByName(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("find program %q: %w", name, err))
			continue
		}
		if p == nil {
			p = &models.Program{
				ID:          uuid.NewString(),
				Name:        name,
				Description: ref.Description,
				CreatedAt:   m.now(),
			}
			if err := m.store.CreateProgram(ctx, p); err != nil {
				errs = append(errs, fmt.Errorf("create program %q: %w", name, err))
				continue
			}
			created++
		} else {
			found++
		}
		st.register(p.Name, models.EntityRef{Kind: models.KindProgram, ID: p.ID})
	}
	return fmt.Sprintf("%d found, %d created", found, created), errs
}

func (m *Materializer) links(ctx context.Context, st *runState) (string, []error) {
	var (
		errs                       []error
		created, existing, skipped int
	)
	for _, ref := range st.result.EntityLinks {
		source, ok := m.resolve(ctx, st, ref.SourceName, ref.SourceType)
		if !ok {
			skipped++
			continue
		}
		target, ok := m.resolve(ctx, st, ref.TargetName, ref.TargetType)
		if !ok || source == target {
			skipped++
			continue
		}
		rel := strings.TrimSpace(ref.Relationship)
		if rel == "" {
			rel = "related_to"
		}

		found, err := m.store.FindEntityLink(ctx, source, target, rel)
		if err != nil {
			errs = append(errs, fmt.Errorf("find link %s->%s: %w", source, target, err))
			continue
		}
		if found != nil {
			existing++
			continue
		}
		l := &models.EntityLink{
			ID:           uuid.NewString(),
			Source:       source,
			Target:       target,
			Relationship: rel,
			Context:      ref.Context,
			CreatedAt:    m.now(),
		}
		if err := m.store.CreateEntityLink(ctx, l); err != nil {
			errs = append(errs, fmt.Errorf("create link %s->%s: %w", source, target, err))
			continue
		}
		created++
	}
	return fmt.Sprintf("%d created, %d existing, %d unresolved", created, existing, skipped), errs
}

// resolve looks name up in the run's map. Participant names also resolve
// through participants already stored under the email the classification
// gives for them. A declared kind that disagrees with the map entry leaves
// the name unresolved.
func (m *Materializer) resolve(ctx context.Context, st *runState, name, kind string) (models.EntityRef, bool) {
	want, kindErr := models.ParseEntityKind(kind)
	if ref, ok := st.names[key(name)]; ok {
		if kindErr == nil && want != ref.Kind {
			return models.EntityRef{}, false
		}
		return ref, true
	}
	if kindErr != nil || want != models.KindParticipant {
		return models.EntityRef{}, false
	}
	for _, p := range st.result.Participants {
		if key(p.Name) != key(name) || p.Email == "" {
			continue
		}
		found, err := m.store.FindParticipantByEmail(ctx, p.Email)
		if err != nil || found == nil {
			return models.EntityRef{}, false
		}
		ref := models.EntityRef{Kind: models.KindParticipant, ID: found.ID}
		st.register(name, ref)
		return ref, true
	}
	return models.EntityRef{}, false
}

func (m *Materializer) participants(ctx context.Context, st *runState) (string, []error) {
	var (
		errs                     []error
		created, updated, linked int
	)
	engagement := models.EntityRef{Kind: models.KindEngagement, ID: st.engagementID}
	seen := make(map[string]bool)

	for _, ref := range st.result.Participants {
		email := strings.ToLower(strings.TrimSpace(ref.Email))
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true

		role := strings.TrimSpace(ref.Role)
		forwarder := m.isForwarder(st, email)
		if forwarder {
			role = ForwarderRole
		}

		p, err := m.store.FindParticipantByEmail(ctx, email)
		if err != nil {
			errs = append(errs, fmt.Errorf("find participant %s: %w", email, err))
			continue
		}
		now := m.now()
		if p == nil {
			p = &models.Participant{
				ID:           uuid.NewString(),
				Name:         strings.TrimSpace(ref.Name),
				Email:        email,
				Organization: strings.TrimSpace(ref.Organization),
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if !forwarder {
				p.Title = role
			}
			if err := m.store.CreateParticipant(ctx, p); err != nil {
				errs = append(errs, fmt.Errorf("create participant %s: %w", email, err))
				continue
			}
			created++
		} else {
			changed := fillEmpty(&p.Name, ref.Name)
			changed = fillEmpty(&p.Organization, ref.Organization) || changed
			if !forwarder {
				changed = fillEmpty(&p.Title, role) || changed
			}
			if changed {
				p.UpdatedAt = now
				if err := m.store.UpdateParticipant(ctx, p); err != nil {
					errs = append(errs, fmt.Errorf("update participant %s: %w", email, err))
				} else {
					updated++
				}
			}
		}
		st.register(p.Name, models.EntityRef{Kind: models.KindParticipant, ID: p.ID})
		if st.missing {
			continue
		}

		link, err := m.store.FindParticipantLink(ctx, p.ID, engagement)
		if err != nil {
			errs = append(errs, fmt.Errorf("find participant link %s: %w", email, err))
			continue
		}
		if link != nil {
			continue
		}
		if err := m.store.CreateParticipantLink(ctx, &models.ParticipantLink{
			ParticipantID: p.ID,
			Entity:        engagement,
			Role:          role,
			CreatedAt:     now,
		}); err != nil {
			errs = append(errs, fmt.Errorf("link participant %s: %w", email, err))
			continue
		}
		linked++
	}
	return fmt.Sprintf("%d created, %d updated, %d linked", created, updated, linked), errs
}

func (m *Materializer) isForwarder(st *runState, email string) bool {
	if m.forwarderEmail != "" && email == m.forwarderEmail {
		return true
	}
	return st.msg.ForwarderEmail != "" && strings.EqualFold(email, st.msg.ForwarderEmail)
}

// fillEmpty sets *dst to v when *dst is empty and v is not.
func fillEmpty(dst *string, v string) bool {
	v = strings.TrimSpace(v)
	if *dst != "" || v == "" {
		return false
	}
	*dst = v
	return true
}
