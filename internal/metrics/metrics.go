/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines Prometheus metrics for the selfheal daemon.
//
// Metric naming follows Prometheus conventions:
//   - selfheal_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TransitionsTotal counts applied transitions by source, destination
	// and trigger. No-op re-applications count with from == to.
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "selfheal_transitions_total",
			Help: "Total workflow transitions applied, by source/destination state and trigger.",
		},
		[]string{"from", "to", "trigger"},
	)

	// InvalidTransitionsTotal counts rejected transition requests.
	InvalidTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "selfheal_invalid_transitions_total",
			Help: "Total transition requests rejected by the transition table.",
		},
		[]string{"from", "to"},
	)

	// PartialWritesTotal counts transitions whose status change committed
	// but whose metadata comment failed.
	PartialWritesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "selfheal_partial_writes_total",
			Help: "Total transitions with a committed status change but a failed metadata comment.",
		},
	)

	// TrackerRetriesTotal counts retried tracker calls by operation.
	TrackerRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "selfheal_tracker_retries_total",
			Help: "Total retried tracker API calls, by operation.",
		},
		[]string{"op"},
	)

	// ActionableIncidents is the number of incidents the last poll found
	// ready for automated processing.
	ActionableIncidents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "selfheal_actionable_incidents",
			Help: "Incidents in an actionable state at the last poll.",
		},
	)

	// TimedOutIncidents is the number of timeout-escalation candidates the
	// last sweep found.
	TimedOutIncidents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "selfheal_timed_out_incidents",
			Help: "Incidents past their state wait bound at the last sweep.",
		},
	)

	// PollDurationSeconds is a histogram of poll cycle duration.
	PollDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "selfheal_poll_duration_seconds",
			Help:    "Duration of daemon poll cycles in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)
)

func init() {
	prometheus.MustRegister(
		TransitionsTotal,
		InvalidTransitionsTotal,
		PartialWritesTotal,
		TrackerRetriesTotal,
		ActionableIncidents,
		TimedOutIncidents,
		PollDurationSeconds,
	)
}

// RecordTransition records one applied transition.
func RecordTransition(from, to, trigger string) {
	TransitionsTotal.WithLabelValues(from, to, trigger).Inc()
}

// RecordInvalidTransition records one rejected transition request.
func RecordInvalidTransition(from, to string) {
	InvalidTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordPartialWrite records one partial write.
func RecordPartialWrite() {
	PartialWritesTotal.Inc()
}

// RecordTrackerRetry records one retried tracker call.
func RecordTrackerRetry(op string) {
	TrackerRetriesTotal.WithLabelValues(op).Inc()
}

// RecordPoll records one completed poll cycle.
func RecordPoll(actionable int, duration time.Duration) {
	ActionableIncidents.Set(float64(actionable))
	PollDurationSeconds.Observe(duration.Seconds())
}

// RecordSweep records one completed timeout sweep.
func RecordSweep(timedOut int) {
	TimedOutIncidents.Set(float64(timedOut))
}
