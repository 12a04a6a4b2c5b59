// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	filesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cgraph_files_processed_total",
		Help: "Source files that completed entity extraction, by outcome.",
	}, []string{"outcome"})

	entitiesEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cgraph_entities_emitted_total",
		Help: "Entities emitted, by kind.",
	}, []string{"kind"})

	relationsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cgraph_relations_emitted_total",
		Help: "Relations emitted, by kind.",
	}, []string{"kind"})

	macroAnchorsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cgraph_macro_anchors_dropped_total",
		Help: "Macro sites skipped because their token_before/token_after anchor could not be located in the preprocessor output.",
	})

	preprocessorFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cgraph_preprocessor_failures_total",
		Help: "Files whose preprocessor subprocess exited non-zero or whose output could not be parsed.",
	})

	phaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cgraph_phase_duration_seconds",
		Help:    "Wall-clock duration of each extraction phase.",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})

	registerOnce sync.Once
)

// RegisterMetrics registers every cgraph collector with the default
// Prometheus registry. Safe to call more than once; registration happens
// exactly once per process.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			filesProcessed,
			entitiesEmitted,
			relationsEmitted,
			macroAnchorsDropped,
			preprocessorFailures,
			phaseDuration,
		)
	})
}

func observePhase(phase string, start time.Time) {
	phaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

func recordFileOutcome(outcome string) {
	filesProcessed.WithLabelValues(outcome).Inc()
}

func recordEntities(entities []Entity) {
	for _, e := range entities {
		entitiesEmitted.WithLabelValues(string(e.Kind)).Inc()
	}
}

func recordRelations(relations []Relation) {
	for _, r := range relations {
		relationsEmitted.WithLabelValues(string(r.Kind)).Inc()
	}
}
