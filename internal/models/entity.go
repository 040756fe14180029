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

package models

import (
	"fmt"
	"strings"
	"time"
)

// EntityKind tags the concrete entity an EntityRef points at.
type EntityKind string

const (
	KindEngagement  EntityKind = "engagement"
	KindEvent       EntityKind = "event"
	KindProgram     EntityKind = "program"
	KindParticipant EntityKind = "participant"
)

// ParseEntityKind maps a free-form type name to a known kind.
func ParseEntityKind(s string) (EntityKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "engagement", "initiative":
		return KindEngagement, nil
	case "event":
		return KindEvent, nil
	case "program":
		return KindProgram, nil
	case "participant", "person", "contact":
		return KindParticipant, nil
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// EntityRef is a polymorphic reference: a kind tag plus an id. There is no
// referential integrity, so a ref may dangle after its target is removed.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

func (r EntityRef) String() string {
	return string(r.Kind) + ":" + r.ID
}

// EntityLink is a typed, directional relationship between two entities.
type EntityLink struct {
	ID           string    `json:"id"`
	Source       EntityRef `json:"source"`
	Target       EntityRef `json:"target"`
	Relationship string    `json:"relationship"`
	Context      string    `json:"context,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Participant is a person seen in messages, keyed by lowercased email.
type Participant struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Organization string    `json:"organization"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ParticipantLink attaches a participant to an entity. The tuple
// (ParticipantID, Entity) is unique.
type ParticipantLink struct {
	ParticipantID string    `json:"participant_id"`
	Entity        EntityRef `json:"entity"`
	Role          string    `json:"role,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// StepStatus is the outcome of one materialization step.
type StepStatus string

const (
	StepDone    StepStatus = "done"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepResult records what a materialization step did.
type StepResult struct {
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
	Detail string     `json:"detail,omitempty"`
	Errors []string   `json:"errors,omitempty"`
}

// MaterializationRun is the observable record of one materialization saga.
type MaterializationRun struct {
	ID           string       `json:"id"`
	MessageID    string       `json:"message_id"`
	EngagementID string       `json:"engagement_id"`
	Steps        []StepResult `json:"steps"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
}

// Complete reports whether every step finished without failure.
func (r *MaterializationRun) Complete() bool {
	for _, s := range r.Steps {
		if s.Status == StepFailed {
			return false
		}
	}
	return r.FinishedAt != nil
}
