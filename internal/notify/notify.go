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

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/engagetrack/intake/internal/metrics"
	"github.com/engagetrack/intake/internal/models"
)

// Sender delivers a text message.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// Notifier addresses every message to the configured operator.
type Notifier struct {
	sender   Sender
	operator string
}

// New creates a Notifier sending to operator.
func New(sender Sender, operator string) *Notifier {
	return &Notifier{sender: sender, operator: operator}
}

// NotifyReview sends the review prompt.
func (n *Notifier) NotifyReview(ctx context.Context, review *models.PendingReview, msg *models.Message) error {
	if n.operator == "" {
		return fmt.Errorf("notify: no operator number configured")
	}
	err := n.sender.Send(ctx, n.operator, FormatReview(review, msg))
	if err != nil {
		metrics.Notifications.WithLabelValues("error").Inc()
		return err
	}
	metrics.Notifications.WithLabelValues("ok").Inc()
	slog.Info("review notification sent", "review_id", review.ID, "short_code", review.ShortCode)
	return nil
}

// SendText sends free text to the operator.
func (n *Notifier) SendText(ctx context.Context, text string) error {
	if n.operator == "" {
		return fmt.Errorf("notify: no operator number configured")
	}
	return n.sender.Send(ctx, n.operator, text)
}

const maxSubject = 60

// FormatReview renders the SMS for a review from its stored options.
func FormatReview(review *models.PendingReview, msg *models.Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[Ref %s] Review needed\n", review.ShortCode)
	if msg != nil {
		if from := fromLine(msg); from != "" {
			fmt.Fprintf(&sb, "From: %s\n", from)
		}
		if msg.Subject != "" {
			fmt.Fprintf(&sb, "Subj: %s\n", clip(msg.Subject, maxSubject))
		}
	}
	if m := review.Classification.EngagementMatch; m.Name != "" {
		fmt.Fprintf(&sb, "Best guess: %s (%d%%)\n", m.Name, int(m.Confidence*100+0.5))
	}
	for _, o := range review.Options {
		if o.IsNew {
			fmt.Fprintf(&sb, "%d) NEW: %s\n", o.Number, o.Label)
			continue
		}
		fmt.Fprintf(&sb, "%d) %s\n", o.Number, o.Label)
	}
	fmt.Fprintf(&sb, "Reply a number, SKIP, or a new name. Prefix %s to target this review.", review.ShortCode)
	return sb.String()
}

func fromLine(m *models.Message) string {
	switch {
	case m.SenderName != "" && m.SenderEmail != "":
		return m.SenderName + " <" + m.SenderEmail + ">"
	case m.SenderEmail != "":
		return m.SenderEmail
	}
	return m.SenderName
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
