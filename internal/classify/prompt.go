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

const systemPrompt = `You triage forwarded business email for a partnerships team.
Match the message to one of the ACTIVE ENGAGEMENTS listed in the context, or
propose a new engagement when none fit. Also pick out tracked events and
programs the message mentions, the people involved, relationships between
named entities, the current state of the engagement and any open items.

Rules:
- Only use ids that appear in the context. Leave id empty for anything new.
- confidence is a number between 0 and 1.
- date_precision is one of: day, month, quarter, year, unknown.
- entity types are: engagement, event, program, participant.

Respond with a single JSON object only, no markdown, in this shape:
{
  "engagement_match": {"id": "", "name": "", "confidence": 0.0, "is_new": false, "partner_name": ""},
  "engagement_alternatives": [{"id": "", "name": "", "confidence": 0.0}],
  "matched_events": [{"id": "", "name": "", "type": "", "date": "", "date_precision": "unknown", "confidence": 0.0, "is_new": false}],
  "events_referenced": [{"id": "", "name": "", "type": "", "date": "", "date_precision": "unknown", "confidence": 0.0, "is_new": true}],
  "matched_programs": [{"id": "", "name": "", "description": ""}],
  "participants": [{"name": "", "email": "", "organization": "", "role": ""}],
  "entity_links": [{"source_type": "", "source_name": "", "target_type": "", "target_name": "", "relationship": "", "context": ""}],
  "current_state": "",
  "summary_update": "",
  "open_items": [{"description": "", "assignee": "", "due_date": ""}]
}`
