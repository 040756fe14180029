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

package routing

import (
	"strings"

	"github.com/engagetrack/intake/internal/models"
)

const (
	// AutoAssignThreshold is the confidence at or above which a message is
	// assigned without review.
	AutoAssignThreshold = 0.85
	// OptionThreshold is the minimum confidence for the primary match to be
	// offered as a review option.
	OptionThreshold = 0.5
	// AlternativeThreshold is the minimum confidence for an alternative.
	AlternativeThreshold = 0.3
	// MaxOptions caps the options list, fallback included.
	MaxOptions = 3
)

const defaultNewName = "New engagement"

// BuildOptions computes the numbered options for a review. The same slice
// is stored on the review and rendered into the notification.
//
// fallbackName names the "create new" option when the classification did
// not propose a new engagement of its own.
func BuildOptions(r *models.ClassificationResult, fallbackName string) []models.ReviewOption {
	var opts []models.ReviewOption
	listed := make(map[string]bool)
	m := r.EngagementMatch

	switch {
	case m.IsNew && m.Confidence >= OptionThreshold && m.Name != "":
		opts = append(opts, models.ReviewOption{Label: m.Name, IsNew: true, Confidence: m.Confidence})
	case !m.IsNew && m.ID != "" && m.Confidence >= OptionThreshold:
		opts = append(opts, models.ReviewOption{
			EngagementID: m.ID,
			Label:        labelOr(m.Name, m.ID),
			Confidence:   m.Confidence,
		})
		listed[m.ID] = true
	}

	for _, alt := range r.EngagementAlternatives {
		if alt.ID == "" || alt.Confidence < AlternativeThreshold || listed[alt.ID] {
			continue
		}
		opts = append(opts, models.ReviewOption{
			EngagementID: alt.ID,
			Label:        labelOr(alt.Name, alt.ID),
			Confidence:   alt.Confidence,
		})
		listed[alt.ID] = true
	}

	if hasNew(opts) {
		if len(opts) > MaxOptions {
			opts = opts[:MaxOptions]
		}
	} else {
		if len(opts) > MaxOptions-1 {
			opts = opts[:MaxOptions-1]
		}
		opts = append(opts, models.ReviewOption{Label: newName(m, fallbackName), IsNew: true})
	}

	for i := range opts {
		opts[i].Number = i + 1
	}
	return opts
}

func hasNew(opts []models.ReviewOption) bool {
	for _, o := range opts {
		if o.IsNew {
			return true
		}
	}
	return false
}

func newName(m models.EngagementMatch, fallback string) string {
	if m.IsNew && m.Name != "" {
		return m.Name
	}
	if s := strings.TrimSpace(fallback); s != "" {
		return s
	}
	return defaultNewName
}

func labelOr(label, fallback string) string {
	if strings.TrimSpace(label) == "" {
		return fallback
	}
	return label
}
