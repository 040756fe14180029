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

// Package store persists messages, engagements, reviews and the entities
// materialized from classification results. Postgres is the production
// backend; Memory backs tests and local runs.
//
// Lookups return (nil, nil) when the row does not exist.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/engagetrack/intake/internal/models"
)

var (
	// ErrAlreadyResolved is returned by CommitResolution when the review
	// was resolved before this commit; nothing is written.
	ErrAlreadyResolved = errors.New("store: review already resolved")

	// ErrNotFound is returned by mutations whose target row is missing.
	ErrNotFound = errors.New("store: not found")
)

// MessageStore persists parsed messages.
type MessageStore interface {
	InsertMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	// FindDuplicateMessage returns the id of a stored message with the same
	// sender, subject and body prefix, or "".
	FindDuplicateMessage(ctx context.Context, senderEmail, subject, bodyPrefix string) (string, error)
	SaveClassification(ctx context.Context, messageID string, result *models.ClassificationResult, at time.Time) error
	// AssignMessage sets the engagement and clears the pending-review flag.
	AssignMessage(ctx context.Context, messageID, engagementID string) error
	// ListUnrouted returns messages with no engagement, no open review and
	// no review ever recorded, oldest first. A limit of 0 means no limit.
	ListUnrouted(ctx context.Context, limit int) ([]models.Message, error)
}

// EngagementStore persists engagements.
type EngagementStore interface {
	ListActiveEngagements(ctx context.Context, limit int) ([]models.Engagement, error)
	GetEngagement(ctx context.Context, id string) (*models.Engagement, error)
	CreateEngagement(ctx context.Context, e *models.Engagement) error
	// MergeEngagementState replaces current_state when state is non-empty
	// and appends open items not already present.
	MergeEngagementState(ctx context.Context, id, state string, items []models.OpenItem, at time.Time) error
}

// CatalogStore persists events, programs and pending event approvals.
type CatalogStore interface {
	ListEvents(ctx context.Context, limit int) ([]models.Event, error)
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	ListPrograms(ctx context.Context, limit int) ([]models.Program, error)
	GetProgram(ctx context.Context, id string) (*models.Program, error)
	FindProgramByName(ctx context.Context, name string) (*models.Program, error)
	CreateProgram(ctx context.Context, p *models.Program) error
	FindPendingEventApproval(ctx context.Context, engagementID, name string) (*models.PendingEventApproval, error)
	CreatePendingEventApproval(ctx context.Context, a *models.PendingEventApproval) error
}

// LinkStore persists polymorphic entity links.
type LinkStore interface {
	FindEntityLink(ctx context.Context, source, target models.EntityRef, relationship string) (*models.EntityLink, error)
	CreateEntityLink(ctx context.Context, l *models.EntityLink) error
	// ListEntityLinks returns links where ref is the source or the target.
	ListEntityLinks(ctx context.Context, ref models.EntityRef) ([]models.EntityLink, error)
	EntityExists(ctx context.Context, ref models.EntityRef) (bool, error)
}

// ParticipantStore persists participants and their entity links.
type ParticipantStore interface {
	FindParticipantByEmail(ctx context.Context, email string) (*models.Participant, error)
	CreateParticipant(ctx context.Context, p *models.Participant) error
	UpdateParticipant(ctx context.Context, p *models.Participant) error
	FindParticipantLink(ctx context.Context, participantID string, entity models.EntityRef) (*models.ParticipantLink, error)
	CreateParticipantLink(ctx context.Context, l *models.ParticipantLink) error
}

// ReviewStore persists pending reviews.
type ReviewStore interface {
	// CreatePendingReview inserts r and flags its message as pending review
	// in the same write.
	CreatePendingReview(ctx context.Context, r *models.PendingReview) error
	GetPendingReview(ctx context.Context, id string) (*models.PendingReview, error)
	LatestUnresolvedReview(ctx context.Context) (*models.PendingReview, error)
	FindUnresolvedReviewByCode(ctx context.Context, code string) (*models.PendingReview, error)
	MarkReviewNotified(ctx context.Context, id string, at time.Time) error
	CommitResolution(ctx context.Context, c ResolutionCommit) error
}

// RunStore persists materialization runs.
type RunStore interface {
	SaveMaterializationRun(ctx context.Context, r *models.MaterializationRun) error
	GetMaterializationRun(ctx context.Context, id string) (*models.MaterializationRun, error)
}

// Store is the full persistence surface.
type Store interface {
	MessageStore
	EngagementStore
	CatalogStore
	LinkStore
	ParticipantStore
	ReviewStore
	RunStore
	Ping(ctx context.Context) error
	Close()
}

// ResolutionCommit is everything a review resolution writes. It is applied
// only if the review is still unresolved, as one unit.
type ResolutionCommit struct {
	ReviewID   string
	MessageID  string
	Resolution string
	ResolvedAt time.Time

	// CreateEngagement is inserted before the message is assigned to it.
	CreateEngagement *models.Engagement
	// AssignEngagementID is empty for skips.
	AssignEngagementID string
	// MergeState and MergeOpenItems are merged into the assigned engagement.
	MergeState     string
	MergeOpenItems []models.OpenItem
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
)
