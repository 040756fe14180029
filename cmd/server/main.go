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

// Engagement intake service
//
// Entry point for the intake HTTP service. It:
//  1. Loads configuration from .env, config.yaml and the environment
//  2. Connects to PostgreSQL and (optionally) Redis
//  3. Wires parser, classifier, router, review workflow and materializer
//  4. Serves the email/SMS webhooks and review endpoints
//  5. Runs the scheduled reclassification pass
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/engagetrack/intake/internal/app"
	"github.com/engagetrack/intake/internal/config"
	"github.com/engagetrack/intake/internal/webhook"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting engagement intake service")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"port", cfg.Port,
		"llm_provider", cfg.LLM.Provider,
		"redis", cfg.RedisURL != "",
		"sms", cfg.SMS.BaseURL != "",
		"reclassify_cron", cfg.ReclassifyCron,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise pipeline", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	ready, err := webhook.Serve(ctx, cfg.Port, a.Handler(cfg).Routes())
	if err != nil {
		slog.Error("failed to start http server", "error", err)
		os.Exit(1)
	}
	<-ready

	if cfg.ReclassifyEnabled {
		if err := a.Reclassify.Start(ctx); err != nil {
			slog.Error("failed to start reclassify scheduler", "error", err)
			os.Exit(1)
		}
	}

	<-ctx.Done()
	slog.Info("received shutdown signal")

	a.Reclassify.Stop()

	slog.Info("intake service stopped")
}
