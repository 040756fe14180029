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

// Package queue carries message ids that need (re)classification through a
// Redis list. Ingestion pushes ids whose classification failed; the
// reclassify runner pops them.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Task is one queued reclassification request.
type Task struct {
	ID         string    `json:"id"`
	MessageID  string    `json:"message_id"`
	Reason     string    `json:"reason"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Publisher pushes and pops reclassification tasks.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a new Redis publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// PublishReclassify queues messageID for another classification attempt.
func (p *Publisher) PublishReclassify(ctx context.Context, messageID, reason string) error {
	task := Task{
		ID:         uuid.New().String(),
		MessageID:  messageID,
		Reason:     reason,
		EnqueuedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	// LPUSH here and RPOP in Pop gives FIFO order.
	if err := p.rdb.LPush(ctx, p.queueName, string(body)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("queued message for reclassification",
		"task_id", task.ID,
		"message_id", messageID,
		"queue", p.queueName,
	)
	return nil
}

// Pop removes the oldest task. It returns (nil, nil) when the queue is
// empty.
func (p *Publisher) Pop(ctx context.Context) (*Task, error) {
	raw, err := p.rdb.RPop(ctx, p.queueName).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis RPOP: %w", err)
	}
	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &task, nil
}

// Len returns the number of queued tasks.
func (p *Publisher) Len(ctx context.Context) (int64, error) {
	return p.rdb.LLen(ctx, p.queueName).Result()
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
