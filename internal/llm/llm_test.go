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

import "testing"

func TestNewSelectsProvider(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantErr  bool
		wantType string
	}{
		{"default is openai", Config{APIKey: "k"}, false, "openai"},
		{"openai", Config{Provider: "OpenAI", APIKey: "k"}, false, "openai"},
		{"anthropic", Config{Provider: "anthropic", APIKey: "k"}, false, "anthropic"},
		{"missing key", Config{Provider: "openai"}, true, ""},
		{"unknown", Config{Provider: "mystery", APIKey: "k"}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			switch v := c.(type) {
			case *OpenAI:
				if tt.wantType != "openai" {
					t.Errorf("got openai, want %s", tt.wantType)
				}
				if v.cfg.Model != defaultOpenAIModel || v.cfg.MaxTokens != defaultMaxTokens {
					t.Errorf("defaults not applied: %+v", v.cfg)
				}
			case *Anthropic:
				if tt.wantType != "anthropic" {
					t.Errorf("got anthropic, want %s", tt.wantType)
				}
				if v.cfg.Model != defaultAnthropicModel {
					t.Errorf("model = %q", v.cfg.Model)
				}
			}
		})
	}
}
