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

// Package materialize persists the events, programs, links and
// participants implied by a classification once its engagement is known.
//
// Work runs as a saga of named steps. Each step is idempotent and
// best-effort: failures are recorded on the run and never returned to the
// caller, and a recorded run can be resumed.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/engagetrack/intake/internal/metrics"
	"github.com/engagetrack/intake/internal/models"
)

// ErrRunNotFound is returned by Resume for an unknown run id.
var ErrRunNotFound = errors.New("materialize: run not found")

// Store is the persistence the materializer needs.
type Store interface {
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	GetEngagement(ctx context.Context, id string) (*models.Engagement, error)
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	GetProgram(ctx context.Context, id string) (*models.Program, error)
	FindProgramByName(ctx context.Context, name string) (*models.Program, error)
	CreateProgram(ctx context.Context, p *models.Program) error
	FindPendingEventApproval(ctx context.Context, engagementID, name string) (*models.PendingEventApproval, error)
	CreatePendingEventApproval(ctx context.Context, a *models.PendingEventApproval) error
	FindEntityLink(ctx context.Context, source, target models.EntityRef, relationship string) (*models.EntityLink, error)
	CreateEntityLink(ctx context.Context, l *models.EntityLink) error
	ListEntityLinks(ctx context.Context, ref models.EntityRef) ([]models.EntityLink, error)
	EntityExists(ctx context.Context, ref models.EntityRef) (bool, error)
	FindParticipantByEmail(ctx context.Context, email string) (*models.Participant, error)
	CreateParticipant(ctx context.Context, p *models.Participant) error
	UpdateParticipant(ctx context.Context, p *models.Participant) error
	FindParticipantLink(ctx context.Context, participantID string, entity models.EntityRef) (*models.ParticipantLink, error)
	CreateParticipantLink(ctx context.Context, l *models.ParticipantLink) error
	SaveMaterializationRun(ctx context.Context, r *models.MaterializationRun) error
	GetMaterializationRun(ctx context.Context, id string) (*models.MaterializationRun, error)
}

// ForwarderRole is forced on participants whose address is the forwarder's.
const ForwarderRole = "forwarder"

// Step names, in execution order.
const (
	StepSeed         = "seed"
	StepEvents       = "events"
	StepPrograms     = "programs"
	StepLinks        = "links"
	StepParticipants = "participants"
)

// Materializer runs the saga.
type Materializer struct {
	store          Store
	forwarderEmail string
	now            func() time.Time
}

// New creates a Materializer. forwarderEmail is the operator's own address;
// it may be empty.
func New(store Store, forwarderEmail string) *Materializer {
	return &Materializer{
		store:          store,
		forwarderEmail: strings.ToLower(strings.TrimSpace(forwarderEmail)),
		now:            time.Now,
	}
}

// runState is shared by the steps of one run.
type runState struct {
	msg          *models.Message
	engagementID string
	result       *models.ClassificationResult
	// names maps lowercased entity names to their stored references.
	names map[string]models.EntityRef
	// seeded is false when the target engagement could not be loaded.
	seeded bool
	// missing is set when the engagement is known not to exist.
	missing bool
}

func (st *runState) register(name string, ref models.EntityRef) {
	if k := key(name); k != "" {
		st.names[k] = ref
	}
}

type stepFunc func(ctx context.Context, st *runState) (detail string, errs []error)

type step struct {
	name string
	fn   stepFunc
	// needsSeed steps are skipped when the seed step failed.
	needsSeed bool
}

func (m *Materializer) steps() []step {
	return []step{
		{StepSeed, m.seed, false},
		{StepEvents, m.events, true},
		{StepPrograms, m.programs, true},
		{StepLinks, m.links, true},
		{StepParticipants, m.participants, false},
	}
}

// Materialize runs every step for msg against engagementID. It never fails;
// the returned run records what happened.
func (m *Materializer) Materialize(ctx context.Context, msg *models.Message, engagementID string, result *models.ClassificationResult) *models.MaterializationRun {
	run := &models.MaterializationRun{
		ID:           uuid.NewString(),
		MessageID:    msg.ID,
		EngagementID: engagementID,
	}
	m.execute(ctx, run, msg, result)
	return run
}

// Resume re-runs a recorded run from its first step, using the message's
// stored classification. Completed steps are no-ops on repetition.
func (m *Materializer) Resume(ctx context.Context, runID string) (*models.MaterializationRun, error) {
	run, err := m.store.GetMaterializationRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	msg, err := m.store.GetMessage(ctx, run.MessageID)
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", run.MessageID, err)
	}
	if msg == nil || msg.Classification == nil {
		return nil, fmt.Errorf("message %s has no classification to materialize", run.MessageID)
	}
	m.execute(ctx, run, msg, msg.Classification)
	return run, nil
}

func (m *Materializer) execute(ctx context.Context, run *models.MaterializationRun, msg *models.Message, result *models.ClassificationResult) {
	run.StartedAt = m.now()
	run.FinishedAt = nil
	run.Steps = nil
	m.save(ctx, run)

	st := &runState{
		msg:          msg,
		engagementID: run.EngagementID,
		result:       result,
		names:        make(map[string]models.EntityRef),
	}

	for _, s := range m.steps() {
		res := models.StepResult{Name: s.name}
		if s.needsSeed && !st.seeded {
			res.Status = models.StepSkipped
			res.Detail = "engagement unavailable"
		} else {
			detail, errs := s.fn(ctx, st)
			res.Detail = detail
			res.Status = models.StepDone
			for _, err := range errs {
				res.Errors = append(res.Errors, err.Error())
			}
			if len(errs) > 0 {
				res.Status = models.StepFailed
				slog.Warn("materialize step failed",
					"run_id", run.ID,
					"message_id", run.MessageID,
					"step", s.name,
					"errors", len(errs),
					"first_error", errs[0],
				)
			}
		}
		metrics.MaterializeSteps.WithLabelValues(s.name, string(res.Status)).Inc()
		run.Steps = append(run.Steps, res)
		m.save(ctx, run)
	}

	finished := m.now()
	run.FinishedAt = &finished
	m.save(ctx, run)

	slog.Info("materialization finished",
		"run_id", run.ID,
		"message_id", run.MessageID,
		"engagement_id", run.EngagementID,
		"complete", run.Complete(),
	)
}

func (m *Materializer) save(ctx context.Context, run *models.MaterializationRun) {
	if err := m.store.SaveMaterializationRun(ctx, run); err != nil {
		slog.Warn("failed to save materialization run", "run_id", run.ID, "error", err)
	}
}

func key(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
