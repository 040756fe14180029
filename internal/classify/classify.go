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

// Package classify asks an LLM to match a parsed message against the known
// engagements, events and programs, and validates what comes back.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/engagetrack/intake/internal/models"
)

// ErrUnparsable is returned when the completion holds no decodable JSON
// object. No partial result is produced.
var ErrUnparsable = errors.New("classify: unparsable response")

// Completer sends one prompt pair to an LLM.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Unit is one classification call: a message plus what is known about the
// delivery it arrived in.
type Unit struct {
	Message        models.Message
	ThreadSubjects []string
	ForwarderName  string
	ForwarderEmail string
}

// Orchestrator builds context, calls the LLM and parses the result.
type Orchestrator struct {
	completer Completer
	contexts  *ContextBuilder
}

// New creates an Orchestrator.
func New(completer Completer, src ContextSource) *Orchestrator {
	return &Orchestrator{completer: completer, contexts: NewContextBuilder(src)}
}

// Classify runs one classification call for u.
func (o *Orchestrator) Classify(ctx context.Context, u Unit) (*models.ClassificationResult, error) {
	catalog, err := o.contexts.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}

	raw, err := o.completer.Complete(ctx, systemPrompt, userPrompt(catalog, u))
	if err != nil {
		return nil, fmt.Errorf("classify message %s: %w", u.Message.ID, err)
	}

	result, err := ParseResponse(raw)
	if err != nil {
		slog.Warn("unparsable classification",
			"message_id", u.Message.ID,
			"response_len", len(raw),
			"error", err,
		)
		return nil, err
	}
	slog.Info("message classified",
		"message_id", u.Message.ID,
		"engagement", result.EngagementMatch.Name,
		"confidence", result.EngagementMatch.Confidence,
		"is_new", result.EngagementMatch.IsNew,
	)
	return result, nil
}

func userPrompt(catalog string, u Unit) string {
	var sb strings.Builder
	sb.WriteString(catalog)
	sb.WriteString("\nFORWARDED BY: ")
	sb.WriteString(formatIdentity(u.ForwarderName, u.ForwarderEmail))
	sb.WriteString("\n")
	if len(u.ThreadSubjects) > 0 {
		sb.WriteString("OTHER SUBJECTS IN THIS THREAD:\n")
		for _, s := range u.ThreadSubjects {
			sb.WriteString("- ")
			sb.WriteString(oneLine(s))
			sb.WriteString("\n")
		}
	}

	m := u.Message
	sb.WriteString("\nMESSAGE:\n")
	fmt.Fprintf(&sb, "From: %s\n", formatIdentity(m.SenderName, m.SenderEmail))
	if m.SentAt != nil {
		fmt.Fprintf(&sb, "Sent: %s\n", m.SentAt.Format("2006-01-02 15:04 MST"))
	} else if m.SentAtRaw != "" {
		fmt.Fprintf(&sb, "Sent: %s\n", m.SentAtRaw)
	}
	if m.To != "" {
		fmt.Fprintf(&sb, "To: %s\n", m.To)
	}
	if m.Cc != "" {
		fmt.Fprintf(&sb, "Cc: %s\n", m.Cc)
	}
	fmt.Fprintf(&sb, "Subject: %s\n\n", m.Subject)
	sb.WriteString(truncate(m.Body, maxBody))
	return sb.String()
}

func formatIdentity(name, email string) string {
	switch {
	case name != "" && email != "":
		return name + " <" + email + ">"
	case email != "":
		return email
	case name != "":
		return name
	}
	return "unknown"
}

// ParseResponse extracts and validates the classification object in raw.
func ParseResponse(raw string) (*models.ClassificationResult, error) {
	body, ok := extractObject(stripFences(raw))
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object found", ErrUnparsable)
	}
	var r models.ClassificationResult
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	normalize(&r)
	return &r, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop the info string (json, JSON, etc.) on the opening fence line.
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// extractObject returns the text from the first '{' to the last '}'.
func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func normalize(r *models.ClassificationResult) {
	m := &r.EngagementMatch
	m.ID = strings.TrimSpace(m.ID)
	m.Name = strings.TrimSpace(m.Name)
	m.PartnerName = strings.TrimSpace(m.PartnerName)
	m.Confidence = clamp(m.Confidence)

	if r.EngagementAlternatives == nil {
		r.EngagementAlternatives = []models.EngagementCandidate{}
	}
	for i := range r.EngagementAlternatives {
		a := &r.EngagementAlternatives[i]
		a.ID = strings.TrimSpace(a.ID)
		a.Name = strings.TrimSpace(a.Name)
		a.Confidence = clamp(a.Confidence)
	}

	r.MatchedEvents = normalizeEvents(r.MatchedEvents)
	r.EventsReferenced = normalizeEvents(r.EventsReferenced)

	if r.MatchedPrograms == nil {
		r.MatchedPrograms = []models.ProgramReference{}
	}
	for i := range r.MatchedPrograms {
		r.MatchedPrograms[i].ID = strings.TrimSpace(r.MatchedPrograms[i].ID)
		r.MatchedPrograms[i].Name = strings.TrimSpace(r.MatchedPrograms[i].Name)
	}

	if r.Participants == nil {
		r.Participants = []models.ParticipantReference{}
	}
	for i := range r.Participants {
		p := &r.Participants[i]
		p.Name = strings.TrimSpace(p.Name)
		p.Email = strings.ToLower(strings.TrimSpace(p.Email))
		p.Organization = strings.TrimSpace(p.Organization)
		p.Role = strings.TrimSpace(p.Role)
	}

	if r.EntityLinks == nil {
		r.EntityLinks = []models.EntityLinkReference{}
	}
	for i := range r.EntityLinks {
		l := &r.EntityLinks[i]
		l.SourceName = strings.TrimSpace(l.SourceName)
		l.TargetName = strings.TrimSpace(l.TargetName)
		l.Relationship = strings.TrimSpace(l.Relationship)
	}

	if r.OpenItems == nil {
		r.OpenItems = []models.OpenItem{}
	}
	r.CurrentState = strings.TrimSpace(r.CurrentState)
	r.SummaryUpdate = strings.TrimSpace(r.SummaryUpdate)
}

func normalizeEvents(events []models.EventReference) []models.EventReference {
	if events == nil {
		return []models.EventReference{}
	}
	for i := range events {
		e := &events[i]
		e.ID = strings.TrimSpace(e.ID)
		e.Name = strings.TrimSpace(e.Name)
		e.Confidence = clamp(e.Confidence)
		e.DatePrecision = strings.ToLower(strings.TrimSpace(e.DatePrecision))
		if e.DatePrecision == "" {
			e.DatePrecision = "unknown"
		}
	}
	return events
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
