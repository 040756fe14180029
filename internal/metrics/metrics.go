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

// Package metrics holds the pipeline's Prometheus collectors. They are
// registered with the default registry and served by promhttp.Handler.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// MessagesIngested counts parsed messages by outcome:
	// stored, duplicate, failed.
	MessagesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_messages_ingested_total",
			Help: "Parsed messages handled by the ingestion service.",
		},
		[]string{"outcome"},
	)

	// Classifications counts classification calls by result:
	// ok, error, unparsable.
	Classifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_classifications_total",
			Help: "Classification calls by result.",
		},
		[]string{"result"},
	)

	// Routes counts routing decisions: assigned, created, review.
	Routes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_route_decisions_total",
			Help: "Confidence router decisions.",
		},
		[]string{"decision"},
	)

	// Resolutions counts review resolutions by tag and channel.
	Resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_review_resolutions_total",
			Help: "Review resolutions.",
		},
		[]string{"kind", "channel"},
	)

	// MaterializeSteps counts materializer step outcomes.
	MaterializeSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_materialize_steps_total",
			Help: "Materializer step outcomes.",
		},
		[]string{"step", "status"},
	)

	// Notifications counts SMS sends by result.
	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_notifications_total",
			Help: "Review notifications sent.",
		},
		[]string{"result"},
	)

	// ReclassifyQueued counts message ids pushed for reclassification.
	ReclassifyQueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_reclassify_queued_total",
			Help: "Messages queued for reclassification.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesIngested,
		Classifications,
		Routes,
		Resolutions,
		MaterializeSteps,
		Notifications,
		ReclassifyQueued,
	)
}
