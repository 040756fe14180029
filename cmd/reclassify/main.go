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

// Engagement intake: reclassification command
//
// Standalone CLI that runs one reclassification pass: it drains the retry
// queue, then sweeps for stored messages that were never routed.
//
// Usage:
//
//	go run ./cmd/reclassify/ [--batch 50] [--message <id>]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/engagetrack/intake/internal/app"
	"github.com/engagetrack/intake/internal/config"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	batchFlag := flag.Int("batch", 0, "Maximum messages per pass (0 = RECLASSIFY_BATCH)")
	messageFlag := flag.String("message", "", "Reclassify a single message id and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *batchFlag > 0 {
		cfg.ReclassifyBatch = *batchFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise pipeline", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	var result any
	if *messageFlag != "" {
		result, err = a.Ingest.Reclassify(ctx, *messageFlag)
	} else {
		result, err = a.Reclassify.RunOnce(ctx)
	}
	if err != nil {
		slog.Error("reclassification failed", "error", err)
		a.Close()
		os.Exit(1)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		slog.Error("failed to encode result", "error", err)
		a.Close()
		os.Exit(1)
	}
	fmt.Println(string(out))
}
