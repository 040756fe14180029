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

package review

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var shortCodePattern = regexp.MustCompile(`(?i)^[0-9a-f]{5}$`)

// SplitShortCode splits a leading review reference ("K7Q2M 2" or
// "Ref K7Q2M 2") off a reply. ok is false when there is no code-shaped
// first word or nothing follows it.
func SplitShortCode(body string) (code, rest string, ok bool) {
	fields, _ := trimRefPrefix(strings.Fields(body))
	if len(fields) < 2 {
		return "", strings.TrimSpace(body), false
	}
	first := strings.Trim(fields[0], "#:,")
	if !shortCodePattern.MatchString(first) {
		return "", strings.TrimSpace(body), false
	}
	return strings.ToUpper(first), strings.Join(fields[1:], " "), true
}

// BareReference reports whether body is only a review reference with no
// answer: "Ref", "Ref K7Q2M" or a lone code-shaped word. code is "" when
// none was given.
func BareReference(body string) (code string, ok bool) {
	fields, prefixed := trimRefPrefix(strings.Fields(body))
	switch {
	case prefixed && len(fields) == 0:
		return "", true
	case len(fields) == 1:
		first := strings.Trim(fields[0], "#:,.")
		if shortCodePattern.MatchString(first) {
			return strings.ToUpper(first), true
		}
		if prefixed {
			return "", true
		}
	}
	return "", false
}

func hasRefPrefix(body string) bool {
	_, prefixed := trimRefPrefix(strings.Fields(body))
	return prefixed
}

func trimRefPrefix(fields []string) ([]string, bool) {
	if len(fields) > 0 && strings.EqualFold(strings.TrimRight(fields[0], ":"), "ref") {
		return fields[1:], true
	}
	return fields, false
}

// ParseReply reads an operator reply: "skip", an option number, or a name
// for a new engagement, optionally prefixed with "new:". Trailing
// punctuation and a leading '#' are ignored for skip and numbers.
func ParseReply(body string) (Action, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Action{}, fmt.Errorf("%w: empty reply", ErrInvalid)
	}
	word := strings.TrimRight(strings.TrimPrefix(body, "#"), ".!?,;:")
	if strings.EqualFold(word, "skip") {
		return Action{Kind: ActionSkip}, nil
	}
	if n, err := strconv.Atoi(word); err == nil {
		return Action{Kind: ActionSelect, OptionNumber: n}, nil
	}
	name := body
	if len(body) >= 4 && strings.EqualFold(body[:4], "new:") {
		name = strings.TrimSpace(body[4:])
	}
	if name == "" {
		return Action{}, fmt.Errorf("%w: new engagement needs a name", ErrInvalid)
	}
	return Action{Kind: ActionNew, Name: name}, nil
}

// NormalizePhone keeps digits only and drops a leading country code 1.
func NormalizePhone(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return strings.TrimPrefix(sb.String(), "1")
}
