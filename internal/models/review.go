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
	"time"
)

// ReviewOption is one numbered choice sent to the operator. Exactly one of
// EngagementID or IsNew is set.
type ReviewOption struct {
	Number       int     `json:"number"`
	EngagementID string  `json:"engagement_id,omitempty"`
	Label        string  `json:"label"`
	IsNew        bool    `json:"is_new,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
}

// PendingReview is a classification awaiting a human decision. The
// Classification snapshot and Options are fixed at creation.
type PendingReview struct {
	ID             string               `json:"id"`
	ShortCode      string               `json:"short_code"`
	MessageID      string               `json:"message_id"`
	Classification ClassificationResult `json:"classification"`
	Resolved       bool                 `json:"resolved"`
	Resolution     string               `json:"resolution,omitempty"`
	Options        []ReviewOption       `json:"options_sent"`
	SMSSent        bool                 `json:"sms_sent"`
	SMSSentAt      *time.Time           `json:"sms_sent_at,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	ResolvedAt     *time.Time           `json:"resolved_at,omitempty"`
}

// Option returns the option with the given number.
func (r *PendingReview) Option(number int) (ReviewOption, bool) {
	for _, o := range r.Options {
		if o.Number == number {
			return o, true
		}
	}
	return ReviewOption{}, false
}

// Resolution tags persisted on a resolved review.
const ResolutionSkipped = "skipped"

// AssignedResolution formats the tag for an assignment to an existing engagement.
func AssignedResolution(engagementID, label string) string {
	return fmt.Sprintf("assigned:%s:%s", engagementID, label)
}

// CreatedResolution formats the tag for a newly created engagement.
func CreatedResolution(engagementID, name string) string {
	return fmt.Sprintf("created:%s:%s", engagementID, name)
}
