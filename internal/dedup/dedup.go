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

// Package dedup suppresses repeated webhook deliveries using a content
// fingerprint remembered in Redis with a TTL. It complements the store's
// sender/subject/prefix precheck with an exact-content match.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a fingerprint is remembered.
	DefaultTTL = 72 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "intake:seen:"
)

// Filter tracks which message fingerprints have already been ingested.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis. A zero ttl uses
// DefaultTTL.
func NewFilter(rdb *redis.Client, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Filter{
		rdb: rdb,
		ttl: ttl,
	}
}

// Fingerprint hashes the parts of a message that identify a redelivery.
// Case and whitespace differences do not change it.
func Fingerprint(senderEmail, subject, body string) string {
	h := sha256.New()
	for _, part := range []string{senderEmail, subject, body} {
		h.Write([]byte(strings.ToLower(strings.Join(strings.Fields(part), " "))))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IsNew returns true if the fingerprint has NOT been seen before.
// If true, the fingerprint is marked as seen atomically (SETNX).
func (f *Filter) IsNew(ctx context.Context, fingerprint string) (bool, error) {
	key := keyPrefix + fingerprint

	set, err := f.rdb.SetNX(ctx, key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

// Forget removes a fingerprint so a later delivery is processed again.
// Used when storing the message failed after IsNew marked it.
func (f *Filter) Forget(ctx context.Context, fingerprint string) error {
	if err := f.rdb.Del(ctx, keyPrefix+fingerprint).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}
