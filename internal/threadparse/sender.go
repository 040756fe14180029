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

	"github.com/engagetrack/intake/internal/models"
)

var (
	angleSender  = regexp.MustCompile(`^(.*?)<([^<>]+)>\s*$`)
	mailtoSender = regexp.MustCompile(`(?i)^(.*?)\[mailto:([^\]]+)\]\s*$`)
)

// ParseSender splits a From value into display name and email.
//
//	"Jane Doe <jane@acme.com>"  -> ("Jane Doe", "jane@acme.com")
//	"jane@acme.com"             -> ("", "jane@acme.com")
//	"Jane Doe"                  -> ("Jane Doe", "")
//
// The Outlook "Jane Doe [mailto:jane@acme.com]" form is accepted as well.
func ParseSender(raw string) (name, email string) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ""
	}

	if m := angleSender.FindStringSubmatch(s); m != nil {
		return cleanName(m[1]), normalizeEmail(m[2])
	}
	if m := mailtoSender.FindStringSubmatch(s); m != nil {
		return cleanName(m[1]), normalizeEmail(m[2])
	}
	if strings.Contains(s, "@") {
		return "", normalizeEmail(s)
	}
	return cleanName(s), ""
}

// ParseAddressList splits a To/Cc header value into addresses. Separators
// inside quotes or angle brackets are ignored, so "Doe, Jane" <j@x.com>
// stays one entry.
func ParseAddressList(raw string) []models.EmailAddress {
	var (
		out     []models.EmailAddress
		cur     strings.Builder
		inQuote bool
		inAngle bool
	)
	flush := func() {
		name, email := ParseSender(cur.String())
		cur.Reset()
		if name == "" && email == "" {
			return
		}
		out = append(out, models.EmailAddress{Address: email, Name: name})
	}
	for _, r := range raw {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == '<' && !inQuote:
			inAngle = true
		case r == '>' && !inQuote:
			inAngle = false
		case (r == ';' || r == ',') && !inQuote && !inAngle:
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return out
}

func cleanName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}

func normalizeEmail(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "mailto:"), "MAILTO:")
	return strings.ToLower(strings.Trim(s, `"'<> `))
}
