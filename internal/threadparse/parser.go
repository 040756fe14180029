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

// Package threadparse splits a forwarded email thread into its individual
// messages. Outlook ("Sent:") and Gmail/Apple ("Date:") header blocks are
// recognised; the text before the first block is kept as the forwarder's
// own note when it carries real content.
package threadparse

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
)

// minPrefaceChars is the number of significant characters a preface must
// exceed to be kept as a standalone message.
const minPrefaceChars = 10

// Envelope is the outer delivery metadata, used for the preface message and
// as a fallback when no header blocks are found.
type Envelope struct {
	Sender    string
	Subject   string
	Timestamp *time.Time
}

// ParsedMessage is one message recovered from a thread.
type ParsedMessage struct {
	SenderName  string
	SenderEmail string
	SentAt      *time.Time
	SentAtRaw   string
	Subject     string
	To          string
	Cc          string

	// Body has noise (signatures, footers, disclaimers) removed.
	Body string
	// RawBody is the exact text between this header block and the next.
	RawBody string
	// Header is the exact header block text; empty for envelope messages.
	Header string
	// FromEnvelope marks messages built from the delivery envelope.
	FromEnvelope bool
}

// headerLine builds the pattern for one "Label: value" header line. Quote
// markers and markdown bold are tolerated around the label.
func headerLine(label, group string) string {
	return `[ \t>]*\**` + label + `:\**[ \t]*(?P<` + group + `>[^\r\n]*)\r?\n`
}

var (
	sentStyle = regexp.MustCompile(`(?mi)^` +
		headerLine("From", "from") +
		headerLine("Sent", "date") +
		headerLine("To", "to") +
		`(?:` + headerLine("Cc", "cc") + `)?` +
		`[ \t>]*\**Subject:\**[ \t]*(?P<subject>[^\r\n]*)(?:\r?\n|\z)`)

	dateStyle = regexp.MustCompile(`(?mi)^` +
		headerLine("From", "from") +
		headerLine("Date", "date") +
		headerLine("To", "to") +
		`(?:` + headerLine("Cc", "cc") + `)?` +
		`[ \t>]*\**Subject:\**[ \t]*(?P<subject>[^\r\n]*)(?:\r?\n|\z)`)

	grammars = []*regexp.Regexp{sentStyle, dateStyle}
)

// headerMatch is one header block located in the thread text.
type headerMatch struct {
	start, end int
	from       string
	date       string
	to         string
	cc         string
	subject    string
}

// Parse splits text into messages ordered as they appear in the thread.
// Empty input yields nil. Input without any header block yields a single
// message built from the envelope.
func Parse(text string, env Envelope) []ParsedMessage {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	matches := findHeaders(text)
	if len(matches) == 0 {
		return []ParsedMessage{envelopeMessage(text, env)}
	}

	var out []ParsedMessage

	preface := text[:matches[0].start]
	if significantLen(preface) > minPrefaceChars {
		out = append(out, envelopeMessage(preface, env))
	}

	for i, m := range matches {
		bodyEnd := len(text)
		if i+1 < len(matches) {
			bodyEnd = matches[i+1].start
		}
		raw := text[m.end:bodyEnd]

		name, email := ParseSender(m.from)
		msg := ParsedMessage{
			SenderName:  name,
			SenderEmail: email,
			SentAtRaw:   strings.TrimSpace(m.date),
			Subject:     strings.TrimSpace(m.subject),
			To:          strings.TrimSpace(m.to),
			Cc:          strings.TrimSpace(m.cc),
			Body:        Clean(raw),
			RawBody:     raw,
			Header:      text[m.start:m.end],
		}
		if ts, ok := ParseTimestamp(m.date); ok {
			msg.SentAt = &ts
		}
		out = append(out, msg)
	}

	return out
}

// findHeaders collects header blocks from every grammar, deduplicated by
// start offset and sorted by position.
func findHeaders(text string) []headerMatch {
	byStart := make(map[int]headerMatch)
	for _, re := range grammars {
		names := re.SubexpNames()
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			m := headerMatch{start: loc[0], end: loc[1]}
			for gi, name := range names {
				if name == "" || loc[2*gi] < 0 {
					continue
				}
				val := text[loc[2*gi]:loc[2*gi+1]]
				switch name {
				case "from":
					m.from = val
				case "date":
					m.date = val
				case "to":
					m.to = val
				case "cc":
					m.cc = val
				case "subject":
					m.subject = val
				}
			}
			if _, dup := byStart[m.start]; !dup {
				byStart[m.start] = m
			}
		}
	}

	out := make([]headerMatch, 0, len(byStart))
	for _, m := range byStart {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}

func envelopeMessage(text string, env Envelope) ParsedMessage {
	name, email := ParseSender(env.Sender)
	msg := ParsedMessage{
		SenderName:   name,
		SenderEmail:  email,
		Subject:      strings.TrimSpace(env.Subject),
		Body:         Clean(stripBanners(text)),
		RawBody:      text,
		FromEnvelope: true,
	}
	if env.Timestamp != nil {
		ts := *env.Timestamp
		msg.SentAt = &ts
		msg.SentAtRaw = ts.Format(time.RFC3339)
	}
	return msg
}

var bannerPattern = regexp.MustCompile(`(?mi)^[ \t>]*(?:-+\s*(?:forwarded message|original message)\s*-+|begin forwarded message:?)[ \t]*$`)

func stripBanners(s string) string {
	return bannerPattern.ReplaceAllString(s, "")
}

// significantLen counts characters left once banners, whitespace and
// separator characters are removed.
func significantLen(s string) int {
	n := 0
	for _, r := range stripBanners(s) {
		if unicode.IsSpace(r) || strings.ContainsRune("-_=*>~#|", r) {
			continue
		}
		n++
	}
	return n
}
