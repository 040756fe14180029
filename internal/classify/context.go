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

package classify

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/engagetrack/intake/internal/models"
)

const (
	maxEngagements = 40
	maxEvents      = 40
	maxPrograms    = 30
	maxSynopsis    = 280
	maxBody        = 12000
)

// ContextSource lists the entities the classifier may match against.
type ContextSource interface {
	ListActiveEngagements(ctx context.Context, limit int) ([]models.Engagement, error)
	ListEvents(ctx context.Context, limit int) ([]models.Event, error)
	ListPrograms(ctx context.Context, limit int) ([]models.Program, error)
}

// ContextBuilder renders the bounded catalog block sent with each call.
type ContextBuilder struct {
	src ContextSource
}

// NewContextBuilder creates a builder reading from src.
func NewContextBuilder(src ContextSource) *ContextBuilder {
	return &ContextBuilder{src: src}
}

// Build renders active engagements, events and programs.
func (b *ContextBuilder) Build(ctx context.Context) (string, error) {
	engagements, err := b.src.ListActiveEngagements(ctx, maxEngagements)
	if err != nil {
		return "", fmt.Errorf("list engagements: %w", err)
	}
	events, err := b.src.ListEvents(ctx, maxEvents)
	if err != nil {
		return "", fmt.Errorf("list events: %w", err)
	}
	programs, err := b.src.ListPrograms(ctx, maxPrograms)
	if err != nil {
		return "", fmt.Errorf("list programs: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("ACTIVE ENGAGEMENTS:\n")
	if len(engagements) == 0 {
		sb.WriteString("none\n")
	}
	for i, e := range engagements {
		if i >= maxEngagements {
			break
		}
		fmt.Fprintf(&sb, "- id=%s | name=%s | partner=%s | state=%s\n",
			e.ID, oneLine(e.Name), oneLine(e.PartnerName), truncate(oneLine(e.CurrentState), maxSynopsis))
	}

	sb.WriteString("\nTRACKED EVENTS:\n")
	if len(events) == 0 {
		sb.WriteString("none\n")
	}
	for i, e := range events {
		if i >= maxEvents {
			break
		}
		fmt.Fprintf(&sb, "- id=%s | name=%s | type=%s | dates=%s\n",
			e.ID, oneLine(e.Name), e.Type, dateRange(e))
	}

	sb.WriteString("\nTRACKED PROGRAMS:\n")
	if len(programs) == 0 {
		sb.WriteString("none\n")
	}
	for i, p := range programs {
		if i >= maxPrograms {
			break
		}
		fmt.Fprintf(&sb, "- id=%s | name=%s | description=%s\n",
			p.ID, oneLine(p.Name), truncate(oneLine(p.Description), maxSynopsis))
	}
	return sb.String(), nil
}

func dateRange(e models.Event) string {
	const layout = "2006-01-02"
	switch {
	case e.StartDate == nil:
		return "unknown"
	case e.EndDate == nil || e.EndDate.Equal(*e.StartDate):
		return e.StartDate.Format(layout)
	default:
		return e.StartDate.Format(layout) + ".." + e.EndDate.Format(layout)
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
