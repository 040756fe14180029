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

// Package routing decides, from a classification's confidence, whether a
// message is assigned automatically or parked for human review.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/engagetrack/intake/internal/metrics"
	"github.com/engagetrack/intake/internal/models"
)

// Store is the persistence the router writes through.
type Store interface {
	GetEngagement(ctx context.Context, id string) (*models.Engagement, error)
	CreateEngagement(ctx context.Context, e *models.Engagement) error
	MergeEngagementState(ctx context.Context, id, state string, items []models.OpenItem, at time.Time) error
	AssignMessage(ctx context.Context, messageID, engagementID string) error
	// CreatePendingReview also flags the message as pending review.
	CreatePendingReview(ctx context.Context, r *models.PendingReview) error
	MarkReviewNotified(ctx context.Context, id string, at time.Time) error
}

// Materializer turns a classification into linked entities.
type Materializer interface {
	Materialize(ctx context.Context, msg *models.Message, engagementID string, result *models.ClassificationResult) *models.MaterializationRun
}

// Notifier tells the operator about a new review.
type Notifier interface {
	NotifyReview(ctx context.Context, review *models.PendingReview, msg *models.Message) error
}

// DecisionKind is the route a message took.
type DecisionKind string

const (
	DecisionAssigned DecisionKind = "assigned"
	DecisionCreated  DecisionKind = "created"
	DecisionReview   DecisionKind = "review"
)

// Decision describes what Route did.
type Decision struct {
	Kind         DecisionKind               `json:"kind"`
	EngagementID string                     `json:"engagement_id,omitempty"`
	ReviewID     string                     `json:"review_id,omitempty"`
	Options      []models.ReviewOption      `json:"options,omitempty"`
	Notified     bool                       `json:"notified,omitempty"`
	Run          *models.MaterializationRun `json:"-"`
}

// Router applies the confidence policy.
type Router struct {
	store        Store
	materializer Materializer
	notifier     Notifier
	now          func() time.Time
}

// New creates a Router. notifier may be nil, in which case reviews are
// created without sending anything.
func New(store Store, materializer Materializer, notifier Notifier) *Router {
	return &Router{
		store:        store,
		materializer: materializer,
		notifier:     notifier,
		now:          time.Now,
	}
}

// Route assigns msg or opens a review for it.
func (r *Router) Route(ctx context.Context, msg *models.Message, result *models.ClassificationResult) (*Decision, error) {
	match := result.EngagementMatch
	if match.Confidence >= AutoAssignThreshold {
		d, err := r.autoAssign(ctx, msg, result)
		if err != nil {
			return nil, err
		}
		if d != nil {
			metrics.Routes.WithLabelValues(string(d.Kind)).Inc()
			return d, nil
		}
		// No usable id or name: fall through to review despite the confidence.
		slog.Info("high-confidence match not resolvable, routing to review",
			"message_id", msg.ID,
			"engagement_id", match.ID,
			"confidence", match.Confidence,
		)
	}

	d, err := r.openReview(ctx, msg, result)
	if err != nil {
		return nil, err
	}
	metrics.Routes.WithLabelValues(string(d.Kind)).Inc()
	return d, nil
}

// autoAssign returns (nil, nil) when the match cannot be applied and the
// message should go to review.
func (r *Router) autoAssign(ctx context.Context, msg *models.Message, result *models.ClassificationResult) (*Decision, error) {
	match := result.EngagementMatch
	now := r.now()

	var (
		engagementID string
		kind         DecisionKind
	)
	switch {
	case match.IsNew:
		name := strings.TrimSpace(match.Name)
		if name == "" {
			return nil, nil
		}
		e := &models.Engagement{
			ID:           uuid.NewString(),
			Name:         name,
			PartnerName:  match.PartnerName,
			Status:       models.EngagementActive,
			CurrentState: result.CurrentState,
			OpenItems:    models.MergeOpenItems(nil, result.OpenItems),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := r.store.CreateEngagement(ctx, e); err != nil {
			return nil, fmt.Errorf("create engagement: %w", err)
		}
		engagementID, kind = e.ID, DecisionCreated

	default:
		if match.ID == "" {
			return nil, nil
		}
		existing, err := r.store.GetEngagement(ctx, match.ID)
		if err != nil {
			return nil, fmt.Errorf("get engagement %s: %w", match.ID, err)
		}
		if existing == nil {
			return nil, nil
		}
		if err := r.store.MergeEngagementState(ctx, existing.ID, result.CurrentState, result.OpenItems, now); err != nil {
			return nil, fmt.Errorf("merge engagement state: %w", err)
		}
		engagementID, kind = existing.ID, DecisionAssigned
	}

	if err := r.store.AssignMessage(ctx, msg.ID, engagementID); err != nil {
		return nil, fmt.Errorf("assign message: %w", err)
	}
	msg.EngagementID = &engagementID
	msg.PendingReview = false

	slog.Info("message auto-assigned",
		"message_id", msg.ID,
		"engagement_id", engagementID,
		"decision", kind,
		"confidence", match.Confidence,
	)

	d := &Decision{Kind: kind, EngagementID: engagementID}
	if r.materializer != nil {
		d.Run = r.materializer.Materialize(ctx, msg, engagementID, result)
	}
	return d, nil
}

func (r *Router) openReview(ctx context.Context, msg *models.Message, result *models.ClassificationResult) (*Decision, error) {
	now := r.now()
	review := &models.PendingReview{
		ID:             uuid.NewString(),
		ShortCode:      NewShortCode(),
		MessageID:      msg.ID,
		Classification: *result,
		Options:        BuildOptions(result, msg.Subject),
		CreatedAt:      now,
	}
	if err := r.store.CreatePendingReview(ctx, review); err != nil {
		return nil, fmt.Errorf("create pending review: %w", err)
	}
	msg.PendingReview = true

	slog.Info("review opened",
		"message_id", msg.ID,
		"review_id", review.ID,
		"short_code", review.ShortCode,
		"options", len(review.Options),
		"confidence", result.EngagementMatch.Confidence,
	)

	d := &Decision{Kind: DecisionReview, ReviewID: review.ID, Options: review.Options}
	if r.notifier == nil {
		return d, nil
	}
	if err := r.notifier.NotifyReview(ctx, review, msg); err != nil {
		slog.Warn("review notification failed", "review_id", review.ID, "error", err)
		return d, nil
	}
	if err := r.store.MarkReviewNotified(ctx, review.ID, r.now()); err != nil {
		slog.Warn("failed to record notification", "review_id", review.ID, "error", err)
		return d, nil
	}
	d.Notified = true
	return d, nil
}

// NewShortCode returns a five-character reference operators can prefix a
// reply with.
func NewShortCode() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(id[:5])
}
