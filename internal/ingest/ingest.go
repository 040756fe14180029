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

// Package ingest turns one inbound email delivery into stored, classified and
// routed messages.
//
// Each parsed message is deduplicated, stored, classified and routed in
// sequence. A classification failure after the message is stored does not
// fail the delivery; the message id is queued for the reclassify runner.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/engagetrack/intake/internal/classify"
	"github.com/engagetrack/intake/internal/dedup"
	"github.com/engagetrack/intake/internal/metrics"
	"github.com/engagetrack/intake/internal/models"
	"github.com/engagetrack/intake/internal/routing"
	"github.com/engagetrack/intake/internal/threadparse"
)

// duplicatePrefix is how many leading body characters the store precheck
// compares.
const duplicatePrefix = 200

var (
	// ErrNotFound is returned by Reclassify for an unknown message id.
	ErrNotFound = errors.New("ingest: message not found")

	// ErrAlreadyRouted is returned by Reclassify when the message is
	// already assigned or waiting on a review.
	ErrAlreadyRouted = errors.New("ingest: message already routed")
)

// Store is the message persistence ingestion needs.
type Store interface {
	InsertMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	FindDuplicateMessage(ctx context.Context, senderEmail, subject, bodyPrefix string) (string, error)
	SaveClassification(ctx context.Context, messageID string, result *models.ClassificationResult, at time.Time) error
}

// Classifier matches a message against known engagements.
type Classifier interface {
	Classify(ctx context.Context, u classify.Unit) (*models.ClassificationResult, error)
}

// Router assigns a classified message or opens a review for it.
type Router interface {
	Route(ctx context.Context, msg *models.Message, result *models.ClassificationResult) (*routing.Decision, error)
}

// SeenFilter remembers content fingerprints across deliveries.
type SeenFilter interface {
	IsNew(ctx context.Context, fingerprint string) (bool, error)
	Forget(ctx context.Context, fingerprint string) error
}

// Queue receives message ids that need another classification attempt.
type Queue interface {
	PublishReclassify(ctx context.Context, messageID, reason string) error
}

// Delivery is one inbound forwarded thread.
type Delivery struct {
	ID        string
	Sender    string
	Subject   string
	Timestamp *time.Time
	Text      string
}

// Outcome summarises what happened to a delivery's messages.
type Outcome struct {
	DeliveryID string             `json:"delivery_id"`
	Parsed     int                `json:"parsed"`
	Stored     []string           `json:"stored"`
	Duplicates int                `json:"duplicates"`
	Assigned   int                `json:"assigned"`
	Reviews    int                `json:"reviews"`
	Failed     int                `json:"failed"`
	Decisions  []routing.Decision `json:"decisions,omitempty"`
}

// Config wires a Service. Seen and Queue are optional.
type Config struct {
	Store      Store
	Classifier Classifier
	Router     Router
	Seen       SeenFilter
	Queue      Queue
}

// Service runs the ingestion pipeline.
type Service struct {
	store      Store
	classifier Classifier
	router     Router
	seen       SeenFilter
	queue      Queue
	now        func() time.Time
}

// New creates a Service.
func New(cfg Config) *Service {
	return &Service{
		store:      cfg.Store,
		classifier: cfg.Classifier,
		router:     cfg.Router,
		seen:       cfg.Seen,
		queue:      cfg.Queue,
		now:        time.Now,
	}
}

// Ingest parses, stores, classifies and routes every message in d. An error
// is returned only when a message could not be stored; messages handled
// before that point stay handled.
func (s *Service) Ingest(ctx context.Context, d Delivery) (*Outcome, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	out := &Outcome{DeliveryID: d.ID, Stored: []string{}}

	parsed := threadparse.Parse(d.Text, threadparse.Envelope{
		Sender:    d.Sender,
		Subject:   d.Subject,
		Timestamp: d.Timestamp,
	})
	out.Parsed = len(parsed)
	if len(parsed) == 0 {
		slog.Info("delivery had no content", "delivery_id", d.ID)
		return out, nil
	}

	fwdName, fwdEmail := threadparse.ParseSender(d.Sender)
	subjects := threadSubjects(parsed)

	for i, p := range parsed {
		msg := s.newMessage(d.ID, i, p, fwdEmail)

		dup, err := s.isDuplicate(ctx, msg)
		if err != nil {
			return out, err
		}
		if dup {
			out.Duplicates++
			metrics.MessagesIngested.WithLabelValues("duplicate").Inc()
			continue
		}

		if err := s.store.InsertMessage(ctx, msg); err != nil {
			s.forget(ctx, msg)
			metrics.MessagesIngested.WithLabelValues("failed").Inc()
			return out, fmt.Errorf("store message %d of delivery %s: %w", i, d.ID, err)
		}
		out.Stored = append(out.Stored, msg.ID)
		metrics.MessagesIngested.WithLabelValues("stored").Inc()

		unit := classify.Unit{
			Message:        *msg,
			ThreadSubjects: subjects,
			ForwarderName:  fwdName,
			ForwarderEmail: fwdEmail,
		}
		decision, err := s.process(ctx, msg, unit)
		if err != nil {
			out.Failed++
			continue
		}
		out.tally(decision)
	}

	slog.Info("delivery ingested",
		"delivery_id", d.ID,
		"parsed", out.Parsed,
		"stored", len(out.Stored),
		"duplicates", out.Duplicates,
		"assigned", out.Assigned,
		"reviews", out.Reviews,
		"failed", out.Failed,
	)
	return out, nil
}

// Reclassify runs classification and routing again for a stored message
// that has not been routed yet.
func (s *Service) Reclassify(ctx context.Context, messageID string) (*routing.Decision, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("load message %s: %w", messageID, err)
	}
	if msg == nil {
		return nil, ErrNotFound
	}
	if msg.EngagementID != nil || msg.PendingReview {
		return nil, ErrAlreadyRouted
	}

	unit := classify.Unit{
		Message:        *msg,
		ThreadSubjects: []string{msg.Subject},
		ForwarderEmail: msg.ForwarderEmail,
	}
	return s.process(ctx, msg, unit)
}

// process classifies and routes a stored message. Failures are logged,
// counted and queue the message for retry.
func (s *Service) process(ctx context.Context, msg *models.Message, unit classify.Unit) (*routing.Decision, error) {
	result, err := s.classifier.Classify(ctx, unit)
	if err != nil {
		label := "error"
		if errors.Is(err, classify.ErrUnparsable) {
			label = "unparsable"
		}
		metrics.Classifications.WithLabelValues(label).Inc()
		slog.Error("classification failed, message left unclassified",
			"message_id", msg.ID,
			"error", err,
		)
		s.enqueue(ctx, msg.ID, label)
		return nil, err
	}
	metrics.Classifications.WithLabelValues("ok").Inc()

	now := s.now().UTC()
	if err := s.store.SaveClassification(ctx, msg.ID, result, now); err != nil {
		slog.Error("failed to save classification", "message_id", msg.ID, "error", err)
		s.enqueue(ctx, msg.ID, "save_failed")
		return nil, fmt.Errorf("save classification: %w", err)
	}
	msg.Classification = result
	msg.ClassifiedAt = &now

	decision, err := s.router.Route(ctx, msg, result)
	if err != nil {
		slog.Error("routing failed", "message_id", msg.ID, "error", err)
		s.enqueue(ctx, msg.ID, "route_failed")
		return nil, fmt.Errorf("route message %s: %w", msg.ID, err)
	}
	return decision, nil
}

func (s *Service) newMessage(deliveryID string, pos int, p threadparse.ParsedMessage, forwarder string) *models.Message {
	return &models.Message{
		ID:             uuid.New().String(),
		DeliveryID:     deliveryID,
		Position:       pos,
		RawBody:        p.RawBody,
		Body:           p.Body,
		SenderName:     p.SenderName,
		SenderEmail:    p.SenderEmail,
		ForwarderEmail: forwarder,
		SentAt:         p.SentAt,
		SentAtRaw:      p.SentAtRaw,
		Subject:        p.Subject,
		To:             p.To,
		Cc:             p.Cc,
		CreatedAt:      s.now().UTC(),
	}
}

// isDuplicate runs the store precheck, then the fingerprint filter. A filter
// error is logged and treated as "not seen".
func (s *Service) isDuplicate(ctx context.Context, msg *models.Message) (bool, error) {
	id, err := s.store.FindDuplicateMessage(ctx, msg.SenderEmail, msg.Subject, prefix(msg.Body, duplicatePrefix))
	if err != nil {
		return false, fmt.Errorf("duplicate precheck: %w", err)
	}
	if id != "" {
		slog.Info("skipping duplicate message", "existing_id", id, "subject", msg.Subject)
		return true, nil
	}

	if s.seen == nil {
		return false, nil
	}
	isNew, err := s.seen.IsNew(ctx, fingerprint(msg))
	if err != nil {
		slog.Warn("dedup check failed, processing anyway", "error", err)
		return false, nil
	}
	if !isNew {
		slog.Info("skipping redelivered message", "subject", msg.Subject)
	}
	return !isNew, nil
}

func (s *Service) forget(ctx context.Context, msg *models.Message) {
	if s.seen == nil {
		return
	}
	if err := s.seen.Forget(ctx, fingerprint(msg)); err != nil {
		slog.Warn("failed to clear dedup fingerprint", "error", err)
	}
}

func (s *Service) enqueue(ctx context.Context, messageID, reason string) {
	if s.queue == nil {
		return
	}
	if err := s.queue.PublishReclassify(ctx, messageID, reason); err != nil {
		slog.Error("failed to queue reclassification", "message_id", messageID, "error", err)
		return
	}
	metrics.ReclassifyQueued.Inc()
}

func (o *Outcome) tally(d *routing.Decision) {
	if d == nil {
		return
	}
	switch d.Kind {
	case routing.DecisionReview:
		o.Reviews++
	default:
		o.Assigned++
	}
	o.Decisions = append(o.Decisions, *d)
}

func fingerprint(m *models.Message) string {
	return dedup.Fingerprint(m.SenderEmail, m.Subject, m.Body)
}

func threadSubjects(msgs []threadparse.ParsedMessage) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range msgs {
		if m.Subject == "" || seen[m.Subject] {
			continue
		}
		seen[m.Subject] = true
		out = append(out, m.Subject)
	}
	return out
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
