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

package threadparse

import (
	"regexp"
	"strings"
	"time"
)

// timestampLayouts are tried in order. Outlook and Gmail render dates for
// humans, so several spellings of the same instant show up.
var timestampLayouts = []string{
	"Monday, January 2, 2006 3:04 PM",
	"Monday, January 2, 2006 at 3:04 PM",
	"Monday, January 2, 2006 3:04:05 PM",
	"Mon, Jan 2, 2006 at 3:04 PM",
	"Mon, Jan 2, 2006 3:04 PM",
	"Mon, Jan 2, 2006, 3:04 PM",
	"January 2, 2006 at 3:04:05 PM MST",
	"January 2, 2006 at 3:04 PM",
	"January 2, 2006 3:04 PM",
	"Jan 2, 2006, at 3:04 PM",
	"Jan 2, 2006 at 3:04 PM",
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"1/2/2006 3:04 PM",
	"1/2/2006 3:04:05 PM",
	"01/02/2006 15:04",
	"Monday, 2 January 2006 15:04",
	"2 January 2006 15:04",
}

var trailingParen = regexp.MustCompile(`\s*\([^)]*\)\s*$`)

// ParseTimestamp parses a human-readable header date. ok is false when no
// layout matches; callers keep the raw string in that case.
func ParseTimestamp(raw string) (t time.Time, ok bool) {
	s := normalizeTimestamp(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func normalizeTimestamp(raw string) string {
	s := strings.NewReplacer("\u202f", " ", "\u00a0", " ").Replace(raw)
	s = strings.Join(strings.Fields(s), " ")
	s = trailingParen.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, " a.m.", " AM")
	s = strings.ReplaceAll(s, " p.m.", " PM")
	return strings.TrimSpace(s)
}
