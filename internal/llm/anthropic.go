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

package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic calls the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
	cfg    Config
}

// NewAnthropic creates an Anthropic client.
func NewAnthropic(cfg Config) *Anthropic {
	return &Anthropic{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		cfg:    cfg,
	}
}

func (c *Anthropic) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := withTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.cfg.Model),
		MaxTokens:   int64(c.cfg.MaxTokens),
		Temperature: anthropic.Float(c.cfg.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			slog.Debug("llm response",
				"provider", "anthropic",
				"model", c.cfg.Model,
				"tokens_in", msg.Usage.InputTokens,
				"tokens_out", msg.Usage.OutputTokens,
			)
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic completion: no text content in response")
}
