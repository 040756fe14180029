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

// Package models defines the data structures shared across the intake service.
package models

import "time"

// EmailAddress represents a sender or recipient with an address and optional name.
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Message is one sub-message split out of a forwarded thread.
//
// SentAt is nil when the header date could not be parsed; SentAtRaw keeps
// the original string so nothing is lost.
type Message struct {
	ID             string                `json:"id"`
	DeliveryID     string                `json:"delivery_id"`
	Position       int                   `json:"position"`
	RawBody        string                `json:"raw_body"`
	Body           string                `json:"body"`
	SenderName     string                `json:"sender_name,omitempty"`
	SenderEmail    string                `json:"sender_email,omitempty"`
	ForwarderEmail string                `json:"forwarder_email,omitempty"`
	SentAt         *time.Time            `json:"sent_at,omitempty"`
	SentAtRaw      string                `json:"sent_at_raw,omitempty"`
	Subject        string                `json:"subject"`
	To             string                `json:"to,omitempty"`
	Cc             string                `json:"cc,omitempty"`
	EngagementID   *string               `json:"engagement_id,omitempty"`
	Classification *ClassificationResult `json:"classification,omitempty"`
	PendingReview  bool                  `json:"pending_review"`
	ClassifiedAt   *time.Time            `json:"classified_at,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

// Classified reports whether a classification result has been stored.
func (m *Message) Classified() bool {
	return m.Classification != nil
}
