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

// Package reclassify retries classification for messages that were stored
// but never classified. A pass drains the reclassification queue, then
// sweeps the store for anything the queue missed.
package reclassify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/engagetrack/intake/internal/ingest"
	"github.com/engagetrack/intake/internal/models"
	"github.com/engagetrack/intake/internal/queue"
	"github.com/engagetrack/intake/internal/routing"
)

const (
	// DefaultCron runs a pass every fifteen minutes.
	DefaultCron = "*/15 * * * *"

	// DefaultBatchSize bounds both the drain and the sweep of one pass.
	DefaultBatchSize = 50
)

// Reclassifier runs classification and routing for one stored message.
type Reclassifier interface {
	Reclassify(ctx context.Context, messageID string) (*routing.Decision, error)
}

// Queue yields queued message ids, oldest first, and (nil, nil) when empty.
type Queue interface {
	Pop(ctx context.Context) (*queue.Task, error)
}

// Store lists messages that were never routed to an engagement or a review.
type Store interface {
	ListUnrouted(ctx context.Context, limit int) ([]models.Message, error)
}

// Result summarises one pass.
type Result struct {
	Drained      int           `json:"drained"`
	Swept        int           `json:"swept"`
	Reclassified int           `json:"reclassified"`
	Skipped      int           `json:"skipped"`
	Errors       int           `json:"errors"`
	Elapsed      time.Duration `json:"elapsed"`
}

// RunnerConfig holds dependencies for the runner. Queue is optional.
type RunnerConfig struct {
	Reclassifier Reclassifier
	Queue        Queue
	Store        Store
	BatchSize    int
	Cron         string
}

// Runner performs reclassification passes, on demand or on a cron schedule.
type Runner struct {
	reclassifier Reclassifier
	queue        Queue
	store        Store
	batchSize    int
	cron         string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a runner.
func NewRunner(cfg RunnerConfig) *Runner {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	cron := cfg.Cron
	if cron == "" {
		cron = DefaultCron
	}
	return &Runner{
		reclassifier: cfg.Reclassifier,
		queue:        cfg.Queue,
		store:        cfg.Store,
		batchSize:    batch,
		cron:         cron,
	}
}

// RunOnce performs a single pass. Per-message failures are counted, not
// returned; an error means the queue or store could not be read.
func (r *Runner) RunOnce(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{}
	attempted := make(map[string]bool)

	if r.queue != nil {
		for res.Drained < r.batchSize {
			task, err := r.queue.Pop(ctx)
			if err != nil {
				return res, fmt.Errorf("drain queue: %w", err)
			}
			if task == nil {
				break
			}
			res.Drained++
			if attempted[task.MessageID] {
				res.Skipped++
				continue
			}
			attempted[task.MessageID] = true
			r.retry(ctx, task.MessageID, res)
		}
	}

	msgs, err := r.store.ListUnrouted(ctx, r.batchSize)
	if err != nil {
		return res, fmt.Errorf("list unrouted: %w", err)
	}
	for _, m := range msgs {
		if attempted[m.ID] {
			continue
		}
		attempted[m.ID] = true
		res.Swept++
		r.retry(ctx, m.ID, res)
	}

	res.Elapsed = time.Since(start)
	slog.Info("reclassify pass complete",
		"drained", res.Drained,
		"swept", res.Swept,
		"reclassified", res.Reclassified,
		"skipped", res.Skipped,
		"errors", res.Errors,
		"elapsed", res.Elapsed,
	)
	return res, nil
}

func (r *Runner) retry(ctx context.Context, id string, res *Result) {
	_, err := r.reclassifier.Reclassify(ctx, id)
	switch {
	case err == nil:
		res.Reclassified++
	case errors.Is(err, ingest.ErrAlreadyRouted), errors.Is(err, ingest.ErrNotFound):
		res.Skipped++
	default:
		res.Errors++
		slog.Warn("reclassify failed", "message_id", id, "error", err)
	}
}

// Start schedules passes on the configured cron expression until ctx is
// cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	if !gronx.IsValid(r.cron) {
		return fmt.Errorf("invalid reclassify cron %q", r.cron)
	}
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	slog.Info("reclassify scheduler started", "cron", r.cron, "batch_size", r.batchSize)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.scheduleLoop(ctx)
	}()
	return nil
}

// Stop cancels the schedule and waits for an in-flight pass to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

func (r *Runner) scheduleLoop(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(r.cron, time.Now(), false)
		if err != nil {
			slog.Error("reclassify next tick failed", "cron", r.cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			r.runJob(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// runJob skips the tick when a pass is still running.
func (r *Runner) runJob(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	if _, err := r.RunOnce(ctx); err != nil {
		slog.Error("reclassify pass failed", "error", err)
	}
}
