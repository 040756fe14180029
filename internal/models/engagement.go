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
	"strings"
	"time"
)

// EngagementStatus is the lifecycle state of an engagement.
type EngagementStatus string

const (
	EngagementActive EngagementStatus = "active"
	EngagementPaused EngagementStatus = "paused"
	EngagementClosed EngagementStatus = "closed"
)

// Engagement is a tracked partner relationship that messages attach to.
type Engagement struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	PartnerName  string           `json:"partner_name"`
	Status       EngagementStatus `json:"status"`
	CurrentState string           `json:"current_state"`
	OpenItems    []OpenItem       `json:"open_items"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	ClosedAt     *time.Time       `json:"closed_at,omitempty"`
}

// Event is a tracked dated occurrence (conference, workshop, launch).
type Event struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Type          string     `json:"type"`
	StartDate     *time.Time `json:"start_date,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	DatePrecision string     `json:"date_precision"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Program is a tracked partner program. Names are unique ignoring case.
type Program struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// PendingEventApproval holds an event the classifier proposed that does not
// exist yet. Events are only created after a person confirms them.
type PendingEventApproval struct {
	ID            string    `json:"id"`
	MessageID     string    `json:"message_id"`
	EngagementID  string    `json:"engagement_id"`
	Name          string    `json:"name"`
	Type          string    `json:"type"`
	Date          string    `json:"date,omitempty"`
	DatePrecision string    `json:"date_precision"`
	Confidence    float64   `json:"confidence"`
	Resolved      bool      `json:"resolved"`
	CreatedAt     time.Time `json:"created_at"`
}

// MergeOpenItems appends items whose description is not already present.
func MergeOpenItems(existing, incoming []OpenItem) []OpenItem {
	seen := make(map[string]bool, len(existing))
	out := make([]OpenItem, 0, len(existing)+len(incoming))
	for _, it := range existing {
		seen[lower(it.Description)] = true
		out = append(out, it)
	}
	for _, it := range incoming {
		key := lower(it.Description)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return out
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
