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

// Package review resolves pending reviews, either from an explicit action
// or from an operator's SMS reply. A review resolves exactly once; the
// store applies each resolution atomically.
package review

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
	"github.com/engagetrack/intake/internal/store"
)

var (
	// ErrNotFound means the review, its message or the chosen engagement
	// does not exist.
	ErrNotFound = errors.New("review: not found")
	// ErrConflict means the review was already resolved.
	ErrConflict = errors.New("review: already resolved")
	// ErrInvalid means the action cannot apply to the review.
	ErrInvalid = errors.New("review: invalid action")
	// ErrUnknownSender means an SMS reply did not come from the operator.
	ErrUnknownSender = errors.New("review: reply from unknown sender")
)

// ActionKind names a resolution action.
type ActionKind string

const (
	ActionSkip   ActionKind = "skip"
	ActionSelect ActionKind = "select"
	ActionNew    ActionKind = "new"
)

// Action is a requested resolution.
type Action struct {
	Kind         ActionKind `json:"action"`
	OptionNumber int        `json:"option_number,omitempty"`
	Name         string     `json:"initiative_name,omitempty"`
}

// Outcome reports an applied resolution.
type Outcome struct {
	ReviewID     string                     `json:"review_id"`
	MessageID    string                     `json:"message_id"`
	Resolution   string                     `json:"resolution"`
	EngagementID string                     `json:"engagement_id,omitempty"`
	Created      bool                       `json:"created,omitempty"`
	Run          *models.MaterializationRun `json:"materialization,omitempty"`
}

// Store is the persistence the review service needs.
type Store interface {
	GetPendingReview(ctx context.Context, id string) (*models.PendingReview, error)
	LatestUnresolvedReview(ctx context.Context) (*models.PendingReview, error)
	FindUnresolvedReviewByCode(ctx context.Context, code string) (*models.PendingReview, error)
	MarkReviewNotified(ctx context.Context, id string, at time.Time) error
	CommitResolution(ctx context.Context, c store.ResolutionCommit) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	GetEngagement(ctx context.Context, id string) (*models.Engagement, error)
}

// Materializer turns a classification into linked entities.
type Materializer interface {
	Materialize(ctx context.Context, msg *models.Message, engagementID string, result *models.ClassificationResult) *models.MaterializationRun
}

// Notifier reaches the operator.
type Notifier interface {
	NotifyReview(ctx context.Context, review *models.PendingReview, msg *models.Message) error
	SendText(ctx context.Context, text string) error
}

// Config wires a Service.
type Config struct {
	Store        Store
	Materializer Materializer
	Notifier     Notifier // optional
	// OperatorNumber is the only number whose replies are processed.
	OperatorNumber string
}

// Service applies review resolutions.
type Service struct {
	store        Store
	materializer Materializer
	notifier     Notifier
	operator     string
	now          func() time.Time
}

// New creates a review Service.
func New(cfg Config) *Service {
	return &Service{
		store:        cfg.Store,
		materializer: cfg.Materializer,
		notifier:     cfg.Notifier,
		operator:     NormalizePhone(cfg.OperatorNumber),
		now:          time.Now,
	}
}

// Resolve applies a UI action to a review.
func (s *Service) Resolve(ctx context.Context, reviewID string, a Action) (*Outcome, error) {
	r, err := s.store.GetPendingReview(ctx, reviewID)
	if err != nil {
		return nil, fmt.Errorf("get review %s: %w", reviewID, err)
	}
	if r == nil {
		return nil, fmt.Errorf("%w: review %s", ErrNotFound, reviewID)
	}
	return s.resolve(ctx, r, a, "ui")
}

func (s *Service) resolve(ctx context.Context, r *models.PendingReview, a Action, channel string) (*Outcome, error) {
	if r.Resolved {
		return nil, fmt.Errorf("%w: review %s is %s", ErrConflict, r.ID, r.Resolution)
	}
	msg, err := s.store.GetMessage(ctx, r.MessageID)
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", r.MessageID, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: message %s", ErrNotFound, r.MessageID)
	}

	now := s.now()
	commit := store.ResolutionCommit{
		ReviewID:   r.ID,
		MessageID:  msg.ID,
		ResolvedAt: now,
	}
	out := &Outcome{ReviewID: r.ID, MessageID: msg.ID}

	switch a.Kind {
	case ActionSkip:
		commit.Resolution = models.ResolutionSkipped

	case ActionSelect:
		opt, ok := r.Option(a.OptionNumber)
		if !ok {
			return nil, fmt.Errorf("%w: option %d not offered (1-%d)", ErrInvalid, a.OptionNumber, len(r.Options))
		}
		if opt.IsNew {
			s.planCreate(&commit, out, r, opt.Label, now)
			break
		}
		target, err := s.store.GetEngagement(ctx, opt.EngagementID)
		if err != nil {
			return nil, fmt.Errorf("get engagement %s: %w", opt.EngagementID, err)
		}
		if target == nil {
			return nil, fmt.Errorf("%w: engagement %s", ErrNotFound, opt.EngagementID)
		}
		commit.Resolution = models.AssignedResolution(target.ID, opt.Label)
		commit.AssignEngagementID = target.ID
		commit.MergeState = r.Classification.CurrentState
		commit.MergeOpenItems = r.Classification.OpenItems
		out.EngagementID = target.ID

	case ActionNew:
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: new engagement needs a name", ErrInvalid)
		}
		s.planCreate(&commit, out, r, name, now)

	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalid, a.Kind)
	}

	if err := s.store.CommitResolution(ctx, commit); err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyResolved):
			return nil, fmt.Errorf("%w: review %s", ErrConflict, r.ID)
		case errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return nil, fmt.Errorf("commit resolution: %w", err)
	}
	out.Resolution = commit.Resolution

	kind := string(a.Kind)
	if out.Created {
		kind = "created"
	} else if out.EngagementID != "" {
		kind = "assigned"
	}
	metrics.Resolutions.WithLabelValues(kind, channel).Inc()
	slog.Info("review resolved",
		"review_id", r.ID,
		"message_id", msg.ID,
		"resolution", out.Resolution,
		"channel", channel,
	)

	if out.EngagementID != "" && s.materializer != nil {
		msg.EngagementID = &out.EngagementID
		msg.PendingReview = false
		snapshot := r.Classification
		out.Run = s.materializer.Materialize(ctx, msg, out.EngagementID, &snapshot)
	}
	return out, nil
}

func (s *Service) planCreate(c *store.ResolutionCommit, out *Outcome, r *models.PendingReview, name string, now time.Time) {
	cls := r.Classification
	e := &models.Engagement{
		ID:           uuid.NewString(),
		Name:         name,
		Status:       models.EngagementActive,
		CurrentState: cls.CurrentState,
		OpenItems:    models.MergeOpenItems(nil, cls.OpenItems),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if cls.EngagementMatch.IsNew {
		e.PartnerName = cls.EngagementMatch.PartnerName
	}
	c.CreateEngagement = e
	c.AssignEngagementID = e.ID
	c.Resolution = models.CreatedResolution(e.ID, name)
	out.EngagementID = e.ID
	out.Created = true
}

// ResolveReply handles an inbound SMS. The review is picked by a leading
// short code when one matches, otherwise the most recent unresolved review.
// Problems are answered with a hint to the operator.
func (s *Service) ResolveReply(ctx context.Context, from, body string) (*Outcome, error) {
	if s.operator == "" || NormalizePhone(from) != s.operator {
		slog.Warn("ignoring reply from unknown sender", "from", from)
		return nil, ErrUnknownSender
	}

	if code, ok := BareReference(body); ok {
		return nil, s.hintBareReference(ctx, code)
	}

	r, text, err := s.pickReview(ctx, body)
	if err != nil {
		return nil, err
	}
	if r == nil {
		s.hint(ctx, "No reviews are waiting.")
		return nil, fmt.Errorf("%w: no unresolved review", ErrNotFound)
	}

	a, err := ParseReply(text)
	if err != nil {
		s.hint(ctx, fmt.Sprintf("Ref %s: reply %s, SKIP, or a new name.", r.ShortCode, optionRange(r)))
		return nil, err
	}

	out, err := s.resolve(ctx, r, a, "sms")
	switch {
	case errors.Is(err, ErrInvalid):
		s.hint(ctx, fmt.Sprintf("Ref %s: %d is not an option. Reply %s, SKIP, or a new name.", r.ShortCode, a.OptionNumber, optionRange(r)))
		return nil, err
	case errors.Is(err, ErrConflict):
		s.hint(ctx, fmt.Sprintf("Ref %s was already resolved.", r.ShortCode))
		return nil, err
	case err != nil:
		return nil, err
	}
	s.hint(ctx, fmt.Sprintf("Ref %s: %s", r.ShortCode, describe(out)))
	return out, nil
}

// hintBareReference answers a reply that names a review but carries no
// answer for it.
func (s *Service) hintBareReference(ctx context.Context, code string) error {
	var (
		r   *models.PendingReview
		err error
	)
	if code != "" {
		r, err = s.store.FindUnresolvedReviewByCode(ctx, code)
	} else {
		r, err = s.store.LatestUnresolvedReview(ctx)
	}
	if err != nil {
		return fmt.Errorf("find review: %w", err)
	}
	if r == nil {
		if code != "" {
			s.hint(ctx, fmt.Sprintf("Ref %s is not waiting for a reply.", code))
		} else {
			s.hint(ctx, "No reviews are waiting.")
		}
		return fmt.Errorf("%w: no unresolved review %s", ErrNotFound, code)
	}
	s.hint(ctx, fmt.Sprintf("Ref %s: add %s, SKIP, or a new name after the code.", r.ShortCode, optionRange(r)))
	return fmt.Errorf("%w: reference %s without an answer", ErrInvalid, r.ShortCode)
}

func (s *Service) pickReview(ctx context.Context, body string) (*models.PendingReview, string, error) {
	if code, rest, ok := SplitShortCode(body); ok {
		r, err := s.store.FindUnresolvedReviewByCode(ctx, code)
		if err != nil {
			return nil, "", fmt.Errorf("find review by code: %w", err)
		}
		if r != nil {
			return r, rest, nil
		}
		if hasRefPrefix(body) {
			s.hint(ctx, fmt.Sprintf("Ref %s is not waiting for a reply.", code))
			return nil, "", fmt.Errorf("%w: no unresolved review %s", ErrNotFound, code)
		}
	}
	r, err := s.store.LatestUnresolvedReview(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("latest unresolved review: %w", err)
	}
	return r, body, nil
}

// Renotify re-sends the SMS for an unresolved review.
func (s *Service) Renotify(ctx context.Context, reviewID string) error {
	if s.notifier == nil {
		return fmt.Errorf("review: notifications are not configured")
	}
	r, err := s.store.GetPendingReview(ctx, reviewID)
	if err != nil {
		return fmt.Errorf("get review %s: %w", reviewID, err)
	}
	if r == nil {
		return fmt.Errorf("%w: review %s", ErrNotFound, reviewID)
	}
	if r.Resolved {
		return fmt.Errorf("%w: review %s", ErrConflict, reviewID)
	}
	msg, err := s.store.GetMessage(ctx, r.MessageID)
	if err != nil {
		return fmt.Errorf("get message %s: %w", r.MessageID, err)
	}
	if err := s.notifier.NotifyReview(ctx, r, msg); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	if err := s.store.MarkReviewNotified(ctx, r.ID, s.now()); err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	return nil
}

func (s *Service) hint(ctx context.Context, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SendText(ctx, text); err != nil {
		slog.Warn("failed to send reply hint", "error", err)
	}
}

func optionRange(r *models.PendingReview) string {
	switch n := len(r.Options); n {
	case 0:
		return "with a name"
	case 1:
		return "1"
	default:
		return fmt.Sprintf("1-%d", n)
	}
}

func describe(o *Outcome) string {
	switch {
	case o.Resolution == models.ResolutionSkipped:
		return "skipped."
	case o.Created:
		return "created " + strings.SplitN(o.Resolution, ":", 3)[2] + "."
	default:
		return "assigned to " + strings.SplitN(o.Resolution, ":", 3)[2] + "."
	}
}
