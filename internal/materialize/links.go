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

package materialize

import (
	"context"
	"fmt"

	"github.com/engagetrack/intake/internal/models"
)

// ResolvedLink is a stored link with the existence of both ends checked.
type ResolvedLink struct {
	models.EntityLink
	SourceExists bool `json:"source_exists"`
	TargetExists bool `json:"target_exists"`
}

// Dangling reports whether either end no longer exists.
func (l ResolvedLink) Dangling() bool {
	return !l.SourceExists || !l.TargetExists
}

// ResolveLinks returns the links touching ref, flagging dangling ends.
// Links carry no referential integrity, so ends are checked at read time.
func (m *Materializer) ResolveLinks(ctx context.Context, ref models.EntityRef) ([]ResolvedLink, error) {
	links, err := m.store.ListEntityLinks(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("list links for %s: %w", ref, err)
	}
	exists := make(map[models.EntityRef]bool)
	check := func(r models.EntityRef) (bool, error) {
		if v, ok := exists[r]; ok {
			return v, nil
		}
		v, err := m.store.EntityExists(ctx, r)
		if err != nil {
			return false, fmt.Errorf("check %s: %w", r, err)
		}
		exists[r] = v
		return v, nil
	}

	out := make([]ResolvedLink, 0, len(links))
	for _, l := range links {
		src, err := check(l.Source)
		if err != nil {
			return nil, err
		}
		dst, err := check(l.Target)
		if err != nil {
			return nil, err
		}
		out = append(out, ResolvedLink{EntityLink: l, SourceExists: src, TargetExists: dst})
	}
	return out, nil
}
