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

// Package config loads configuration from config.yaml, a .env file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "/app/config/config.yaml"

// SMSConfig holds the SMS gateway settings. OAuth2 client credentials are
// used when TokenURL is set, basic auth otherwise.
type SMSConfig struct {
	BaseURL       string
	FromNumber    string
	Username      string
	Password      string
	TokenURL      string
	ClientID      string
	ClientSecret  string
	Scopes        []string
	RatePerMinute int
}

// LLMConfig selects and tunes the classification model.
type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Config holds all configuration for the intake service.
type Config struct {
	// Server
	Port int

	// Postgres
	DatabaseURL string

	// Redis. An empty URL disables the fingerprint filter and the
	// reclassification queue.
	RedisURL        string
	ReclassifyQueue string
	DedupTTL        time.Duration

	// Inbound email webhook signing
	WebhookSecret  string
	WebhookMaxSkew time.Duration

	// Operator identity
	OperatorPhone  string
	ForwarderEmail string

	SMS SMSConfig
	LLM LLMConfig

	// Reclassification batch
	ReclassifyCron    string
	ReclassifyBatch   int
	ReclassifyEnabled bool
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Reclassify string `yaml:"reclassify"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Webhook struct {
		Secret string `yaml:"secret"`
	} `yaml:"webhook"`
	Operator struct {
		Phone          string `yaml:"phone"`
		ForwarderEmail string `yaml:"forwarder_email"`
	} `yaml:"operator"`
	SMS struct {
		BaseURL      string   `yaml:"base_url"`
		FromNumber   string   `yaml:"from_number"`
		Username     string   `yaml:"username"`
		Password     string   `yaml:"password"`
		TokenURL     string   `yaml:"token_url"`
		ClientID     string   `yaml:"client_id"`
		ClientSecret string   `yaml:"client_secret"`
		Scopes       []string `yaml:"scopes"`
	} `yaml:"sms"`
	LLM struct {
		Provider string `yaml:"provider"`
		Model    string `yaml:"model"`
		APIKey   string `yaml:"api_key"`
		BaseURL  string `yaml:"base_url"`
	} `yaml:"llm"`
	Reclassify struct {
		Cron string `yaml:"cron"`
	} `yaml:"reclassify"`
}

// Load reads .env (if present), then config.yaml (with env var expansion),
// then environment variables for everything else. A missing config file is
// only an error when CONFIG_PATH names it explicitly.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	raw, err := readFile()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:            envOrDefaultInt("PORT", 8080),
		DatabaseURL:     firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		RedisURL:        firstNonEmpty(raw.Redis.URL, os.Getenv("REDIS_URL")),
		ReclassifyQueue: firstNonEmpty(raw.Redis.Queues.Reclassify, envOrDefault("RECLASSIFY_QUEUE", "intake:reclassify")),
		DedupTTL:        envOrDefaultDuration("DEDUP_TTL", 72*time.Hour),

		WebhookSecret:  firstNonEmpty(raw.Webhook.Secret, os.Getenv("WEBHOOK_SIGNING_SECRET")),
		WebhookMaxSkew: envOrDefaultDuration("WEBHOOK_MAX_SKEW", 300*time.Second),

		OperatorPhone:  firstNonEmpty(raw.Operator.Phone, os.Getenv("OPERATOR_PHONE")),
		ForwarderEmail: strings.ToLower(firstNonEmpty(raw.Operator.ForwarderEmail, os.Getenv("FORWARDER_EMAIL"))),

		SMS: SMSConfig{
			BaseURL:       firstNonEmpty(raw.SMS.BaseURL, os.Getenv("SMS_BASE_URL")),
			FromNumber:    firstNonEmpty(raw.SMS.FromNumber, os.Getenv("SMS_FROM_NUMBER")),
			Username:      firstNonEmpty(raw.SMS.Username, os.Getenv("SMS_USERNAME")),
			Password:      firstNonEmpty(raw.SMS.Password, os.Getenv("SMS_PASSWORD")),
			TokenURL:      firstNonEmpty(raw.SMS.TokenURL, os.Getenv("SMS_TOKEN_URL")),
			ClientID:      firstNonEmpty(raw.SMS.ClientID, os.Getenv("SMS_CLIENT_ID")),
			ClientSecret:  firstNonEmpty(raw.SMS.ClientSecret, os.Getenv("SMS_CLIENT_SECRET")),
			Scopes:        raw.SMS.Scopes,
			RatePerMinute: envOrDefaultInt("SMS_RATE_PER_MINUTE", 30),
		},

		LLM: LLMConfig{
			Provider:    firstNonEmpty(raw.LLM.Provider, envOrDefault("LLM_PROVIDER", "openai")),
			Model:       firstNonEmpty(raw.LLM.Model, os.Getenv("LLM_MODEL")),
			APIKey:      firstNonEmpty(raw.LLM.APIKey, os.Getenv("LLM_API_KEY")),
			BaseURL:     firstNonEmpty(raw.LLM.BaseURL, os.Getenv("LLM_BASE_URL")),
			MaxTokens:   envOrDefaultInt("LLM_MAX_TOKENS", 4096),
			Temperature: envOrDefaultFloat("LLM_TEMPERATURE", 0),
			Timeout:     envOrDefaultDuration("LLM_TIMEOUT", 60*time.Second),
		},

		ReclassifyCron:    firstNonEmpty(raw.Reclassify.Cron, envOrDefault("RECLASSIFY_CRON", "*/15 * * * *")),
		ReclassifyBatch:   envOrDefaultInt("RECLASSIFY_BATCH", 50),
		ReclassifyEnabled: envOrDefaultBool("RECLASSIFY_ENABLED", true),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile() (*rawConfig, error) {
	var raw rawConfig

	configPath, explicit := os.LookupEnv("CONFIG_PATH")
	if !explicit {
		configPath = defaultConfigPath
	}

	data, err := os.ReadFile(configPath)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return &raw, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}
	return &raw, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database url is required (database.url or DATABASE_URL)")
	}
	if !gronx.IsValid(c.ReclassifyCron) {
		return fmt.Errorf("invalid reclassify cron %q", c.ReclassifyCron)
	}
	if c.WebhookMaxSkew <= 0 {
		return fmt.Errorf("webhook max skew must be positive, got %s", c.WebhookMaxSkew)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
