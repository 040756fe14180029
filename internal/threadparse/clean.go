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
)

// noisePatterns are removed from message bodies in order. Confidentiality
// blocks run to the next blank line or the end of the text.
var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?mi)^[ \t>]*Sent from my (?:iPhone|iPad|Android|BlackBerry|mobile device|Galaxy|Pixel)[^\n]*$`),
	regexp.MustCompile(`(?mi)^[ \t>]*Sent from (?:Mail|Yahoo Mail|Outlook|Gmail) for [^\n]*$`),
	regexp.MustCompile(`(?mi)^[ \t>]*Get Outlook for (?:iOS|Android)[^\n]*$`),
	regexp.MustCompile(`(?mi)^[ \t>]*Sent (?:via|with) (?:Superhuman|Spark|BlackBerry|Proton Mail)[^\n]*$`),
	regexp.MustCompile(`(?is)(?:^|\n)[ \t>]*(?:CONFIDENTIALITY NOTICE|CONFIDENTIAL(?:ITY)?:|DISCLAIMER:|This (?:e-?mail|message|communication)(?: and any (?:attachments|files)[^\n]*?)? (?:is|are|may contain|contains?|is intended)[^\n]*(?:confidential|privileged|intended solely)).*?(?:\n[ \t]*\n|\z)`),
	regexp.MustCompile(`(?:\n[ \t>]*[-_=*]{10,}[ \t]*)+\s*\z`),
}

var excessBlankLines = regexp.MustCompile(`\n{3,}`)

// Clean strips signatures, provider footers, confidentiality boilerplate
// and trailing separator rules from a message body.
func Clean(body string) string {
	s := strings.ReplaceAll(body, "\r\n", "\n")
	for _, re := range noisePatterns {
		s = re.ReplaceAllString(s, "\n")
	}
	s = excessBlankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
