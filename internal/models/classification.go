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

// ClassificationResult is the structured output of the classification step.
// Optional arrays are always non-nil after validation.
type ClassificationResult struct {
	EngagementMatch        EngagementMatch        `json:"engagement_match"`
	EngagementAlternatives []EngagementCandidate  `json:"engagement_alternatives"`
	MatchedEvents          []EventReference       `json:"matched_events"`
	EventsReferenced       []EventReference       `json:"events_referenced"`
	MatchedPrograms        []ProgramReference     `json:"matched_programs"`
	Participants           []ParticipantReference `json:"participants"`
	EntityLinks            []EntityLinkReference  `json:"entity_links"`
	CurrentState           string                 `json:"current_state"`
	SummaryUpdate          string                 `json:"summary_update"`
	OpenItems              []OpenItem             `json:"open_items"`
}

// EngagementMatch is the classifier's best guess for the owning engagement.
type EngagementMatch struct {
	ID          string  `json:"id,omitempty"`
	Name        string  `json:"name"`
	Confidence  float64 `json:"confidence"`
	IsNew       bool    `json:"is_new"`
	PartnerName string  `json:"partner_name,omitempty"`
}

// EngagementCandidate is a lower-ranked existing engagement the classifier
// considered plausible.
type EngagementCandidate struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// EventReference is an event mentioned by a message. ID is empty for events
// the classifier believes are not tracked yet.
type EventReference struct {
	ID            string  `json:"id,omitempty"`
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	Date          string  `json:"date,omitempty"`
	DatePrecision string  `json:"date_precision"`
	Confidence    float64 `json:"confidence"`
	IsNew         bool    `json:"is_new"`
}

// ProgramReference is a program mentioned by a message.
type ProgramReference struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ParticipantReference is a person mentioned by a message.
type ParticipantReference struct {
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	Organization string `json:"organization,omitempty"`
	Role         string `json:"role,omitempty"`
}

// EntityLinkReference is a name-based relationship between two entities,
// resolved to ids during materialization.
type EntityLinkReference struct {
	SourceType   string `json:"source_type"`
	SourceName   string `json:"source_name"`
	TargetType   string `json:"target_type"`
	TargetName   string `json:"target_name"`
	Relationship string `json:"relationship"`
	Context      string `json:"context"`
}

// OpenItem is an outstanding action on an engagement.
type OpenItem struct {
	Description string `json:"description"`
	Assignee    string `json:"assignee,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	Resolved    bool   `json:"resolved,omitempty"`
}

// AllEvents returns matched and referenced events, deduplicated by id (or
// by lowercased name when the id is empty), matched first.
func (r *ClassificationResult) AllEvents() []EventReference {
	seen := make(map[string]bool)
	var out []EventReference
	for _, list := range [][]EventReference{r.MatchedEvents, r.EventsReferenced} {
		for _, e := range list {
			key := "id:" + e.ID
			if e.ID == "" {
				key = "name:" + lower(e.Name)
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, e)
		}
	}
	return out
}
