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

	"github.com/sashabaranov/go-openai"
)

// OpenAI calls the chat completions API of OpenAI or any compatible server.
type OpenAI struct {
	client *openai.Client
	cfg    Config
}

// NewOpenAI creates an OpenAI client. A non-empty BaseURL points it at a
// compatible endpoint.
func NewOpenAI(cfg Config) *OpenAI {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(oc), cfg: cfg}
}

func (c *OpenAI) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := withTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: float32(c.cfg.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: no choices in response")
	}
	slog.Debug("llm response",
		"provider", "openai",
		"model", c.cfg.Model,
		"tokens_in", resp.Usage.PromptTokens,
		"tokens_out", resp.Usage.CompletionTokens,
	)
	return resp.Choices[0].Message.Content, nil
}
