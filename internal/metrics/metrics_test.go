/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getCounterVecValue(cv *prometheus.CounterVec, labels ...string) float64 {
	m := &dto.Metric{}
	if err := cv.WithLabelValues(labels...).Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

func getHistogramCount(h prometheus.Histogram) uint64 {
	m := &dto.Metric{}
	if err := h.Write(m); err != nil {
		return 0
	}
	return m.GetHistogram().GetSampleCount()
}

func TestRecordTransition(t *testing.T) {
	RecordTransition("FIX_GENERATION_IN_PROGRESS", "FIX_GENERATED", "fix-complete")

	val := getCounterVecValue(TransitionsTotal, "FIX_GENERATION_IN_PROGRESS", "FIX_GENERATED", "fix-complete")
	if val < 1 {
		t.Errorf("TransitionsTotal = %f, want >= 1", val)
	}
}

func TestRecordInvalidTransition(t *testing.T) {
	RecordInvalidTransition("INCIDENT_DETECTED", "INCIDENT_RESOLVED")
	RecordInvalidTransition("INCIDENT_DETECTED", "INCIDENT_RESOLVED")

	val := getCounterVecValue(InvalidTransitionsTotal, "INCIDENT_DETECTED", "INCIDENT_RESOLVED")
	if val < 2 {
		t.Errorf("InvalidTransitionsTotal = %f, want >= 2", val)
	}
}

func TestRecordPartialWrite(t *testing.T) {
	before := getCounterValue(PartialWritesTotal)
	RecordPartialWrite()

	if got := getCounterValue(PartialWritesTotal); got != before+1 {
		t.Errorf("PartialWritesTotal = %f, want %f", got, before+1)
	}
}

func TestRecordTrackerRetry(t *testing.T) {
	RecordTrackerRetry("search_issues")

	val := getCounterVecValue(TrackerRetriesTotal, "search_issues")
	if val < 1 {
		t.Errorf("TrackerRetriesTotal = %f, want >= 1", val)
	}
}

func TestRecordPoll(t *testing.T) {
	before := getHistogramCount(PollDurationSeconds)
	RecordPoll(7, 3*time.Second)

	if got := getGaugeValue(ActionableIncidents); got != 7 {
		t.Errorf("ActionableIncidents = %f, want 7", got)
	}
	if got := getHistogramCount(PollDurationSeconds); got != before+1 {
		t.Errorf("PollDurationSeconds sample count = %d, want %d", got, before+1)
	}

	// Gauge tracks the latest poll only.
	RecordPoll(0, time.Second)
	if got := getGaugeValue(ActionableIncidents); got != 0 {
		t.Errorf("ActionableIncidents after update = %f, want 0", got)
	}
}

func TestRecordSweep(t *testing.T) {
	RecordSweep(2)
	if got := getGaugeValue(TimedOutIncidents); got != 2 {
		t.Errorf("TimedOutIncidents = %f, want 2", got)
	}
}

func TestLabelIsolation(t *testing.T) {
	RecordTransition("PR_CREATED", "INCIDENT_REQUIRES_HUMAN", "timeout-sweep")

	other := getCounterVecValue(TransitionsTotal, "PR_CREATED", "INCIDENT_RESOLVED", "timeout-sweep")
	if other != 0 {
		t.Errorf("unrelated label set = %f, want 0", other)
	}
}
