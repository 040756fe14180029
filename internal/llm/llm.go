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

// Package llm adapts hosted chat-completion APIs to a single
// system-prompt/user-prompt call.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Client completes one system/user prompt pair and returns the raw text.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

const (
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	defaultMaxTokens      = 4096
)

// Config selects and configures a provider.
type Config struct {
	Provider    string // "openai" or "anthropic"
	Model       string
	APIKey      string
	BaseURL     string // OpenAI-compatible endpoints only
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// New builds the client for cfg.Provider.
func New(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: api key is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	switch strings.ToLower(cfg.Provider) {
	case "openai", "":
		if cfg.Model == "" {
			cfg.Model = defaultOpenAIModel
		}
		return NewOpenAI(cfg), nil
	case "anthropic":
		if cfg.Model == "" {
			cfg.Model = defaultAnthropicModel
		}
		return NewAnthropic(cfg), nil
	}
	return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
}

// withTimeout bounds ctx by the configured per-call timeout, if any.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
