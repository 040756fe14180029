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

// Package app wires the intake pipeline from configuration. Both binaries
// build the same graph; only the server exposes it over HTTP.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/engagetrack/intake/internal/classify"
	"github.com/engagetrack/intake/internal/config"
	"github.com/engagetrack/intake/internal/dedup"
	"github.com/engagetrack/intake/internal/ingest"
	"github.com/engagetrack/intake/internal/llm"
	"github.com/engagetrack/intake/internal/materialize"
	"github.com/engagetrack/intake/internal/notify"
	"github.com/engagetrack/intake/internal/queue"
	"github.com/engagetrack/intake/internal/reclassify"
	"github.com/engagetrack/intake/internal/review"
	"github.com/engagetrack/intake/internal/routing"
	"github.com/engagetrack/intake/internal/store"
	"github.com/engagetrack/intake/internal/webhook"
)

// App groups the pipeline components and the connections they share.
type App struct {
	Store        *store.Postgres
	Redis        *redis.Client // nil when REDIS_URL is unset
	Queue        *queue.Publisher
	Materializer *materialize.Materializer
	Reviews      *review.Service
	Ingest       *ingest.Service
	Reclassify   *reclassify.Runner
}

// New connects to Postgres and Redis and builds every component.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	slog.Info("connected to PostgreSQL")

	a := &App{Store: db}

	var (
		seen ingest.SeenFilter
		q    ingest.Queue
		rq   reclassify.Queue
	)
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		a.Redis = redis.NewClient(opt)
		a.Queue = queue.NewPublisher(a.Redis, cfg.ReclassifyQueue)
		if err := a.Queue.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		slog.Info("connected to Redis", "queue", cfg.ReclassifyQueue)

		seen = dedup.NewFilter(a.Redis, cfg.DedupTTL)
		q = a.Queue
		rq = a.Queue
	} else {
		slog.Warn("REDIS_URL not set, fingerprint dedup and reclassify queue disabled")
	}

	completer, err := llm.New(llm.Config{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	var (
		routeNotifier  routing.Notifier
		reviewNotifier review.Notifier
	)
	if cfg.SMS.BaseURL != "" && cfg.OperatorPhone != "" {
		gw := notify.NewGateway(ctx, notify.GatewayConfig{
			BaseURL:       cfg.SMS.BaseURL,
			FromNumber:    cfg.SMS.FromNumber,
			Username:      cfg.SMS.Username,
			Password:      cfg.SMS.Password,
			TokenURL:      cfg.SMS.TokenURL,
			ClientID:      cfg.SMS.ClientID,
			ClientSecret:  cfg.SMS.ClientSecret,
			Scopes:        cfg.SMS.Scopes,
			RatePerMinute: cfg.SMS.RatePerMinute,
		})
		n := notify.New(gw, cfg.OperatorPhone)
		routeNotifier, reviewNotifier = n, n
	} else {
		slog.Warn("SMS gateway not configured, reviews will not be sent")
	}

	a.Materializer = materialize.New(db, cfg.ForwarderEmail)
	a.Reviews = review.New(review.Config{
		Store:          db,
		Materializer:   a.Materializer,
		Notifier:       reviewNotifier,
		OperatorNumber: cfg.OperatorPhone,
	})
	a.Ingest = ingest.New(ingest.Config{
		Store:      db,
		Classifier: classify.New(completer, db),
		Router:     routing.New(db, a.Materializer, routeNotifier),
		Seen:       seen,
		Queue:      q,
	})
	a.Reclassify = reclassify.NewRunner(reclassify.RunnerConfig{
		Reclassifier: a.Ingest,
		Queue:        rq,
		Store:        db,
		BatchSize:    cfg.ReclassifyBatch,
		Cron:         cfg.ReclassifyCron,
	})
	return a, nil
}

// Handler builds the HTTP handler over the app's components.
func (a *App) Handler(cfg *config.Config) *webhook.Handler {
	checks := map[string]webhook.Pinger{"postgres": a.Store}
	if a.Queue != nil {
		checks["redis"] = a.Queue
	}
	return webhook.NewHandler(webhook.Config{
		Ingester:     a.Ingest,
		Reviewer:     a.Reviews,
		Materializer: a.Materializer,
		Secret:       cfg.WebhookSecret,
		MaxSkew:      cfg.WebhookMaxSkew,
		Checks:       checks,
	})
}

// Close releases the database and Redis connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			slog.Warn("redis close failed", "error", err)
		}
	}
	a.Store.Close()
}
