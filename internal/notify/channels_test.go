/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/selfheal/internal/workflow"
)

func TestForTransition(t *testing.T) {
	ts := time.Date(2026, 2, 20, 22, 0, 0, 0, time.UTC)
	tests := []struct {
		name         string
		from, to     workflow.State
		wantSeverity string
	}{
		{"escalation", workflow.PrCreated, workflow.IncidentRequiresHuman, "critical"},
		{"failure", workflow.VerificationComplete, workflow.IncidentFailed, "critical"},
		{"human wait", workflow.PrCreationInProgress, workflow.PrCreated, "warning"},
		{"resolved", workflow.VerificationComplete, workflow.IncidentResolved, "info"},
		{"routine", workflow.IncidentDetected, workflow.AnalysisInProgress, "info"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := ForTransition("OPS-1", tt.from, tt.to, "test", ts)
			if msg.Severity != tt.wantSeverity {
				t.Errorf("severity = %q, want %q", msg.Severity, tt.wantSeverity)
			}
			if msg.Key != "OPS-1" || msg.To != tt.to {
				t.Errorf("message fields not populated: %+v", msg)
			}
		})
	}
}

func TestSlackChannel_Send(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	ch := NewSlackChannel(server.URL, "#incidents")
	err := ch.Send(context.Background(), Message{
		Key:      "OPS-42",
		Severity: "critical",
		Title:    "OPS-42 needs human intervention",
		Body:     "Transition PR_CREATED -> INCIDENT_REQUIRES_HUMAN (trigger: timeout-sweep)",
	})

	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if received["channel"] != "#incidents" {
		t.Errorf("channel = %v, want #incidents", received["channel"])
	}
	text, _ := received["text"].(string)
	if text == "" {
		t.Error("expected text in payload")
	}
}

func TestWebhookChannel_Send(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)

		// Check custom header
		if r.Header.Get("X-Custom") != "test-value" {
			t.Errorf("missing custom header")
		}

		w.WriteHeader(200)
	}))
	defer server.Close()

	ch := NewWebhookChannel(server.URL, map[string]string{"X-Custom": "test-value"})
	err := ch.Send(context.Background(), Message{
		Key:       "OPS-7",
		Severity:  "warning",
		Title:     "OPS-7 is waiting on humans",
		Body:      "Transition PR_CREATION_IN_PROGRESS -> PR_CREATED (trigger: pr-created)",
		From:      workflow.PrCreationInProgress,
		To:        workflow.PrCreated,
		Trigger:   "pr-created",
		Timestamp: time.Date(2026, 2, 20, 22, 0, 0, 0, time.UTC),
	})

	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if received["key"] != "OPS-7" {
		t.Errorf("key = %v, want OPS-7", received["key"])
	}
	if received["severity"] != "warning" {
		t.Errorf("severity = %v, want warning", received["severity"])
	}
	if received["to"] != "PR_CREATED" {
		t.Errorf("to = %v, want PR_CREATED", received["to"])
	}
}

func TestWebhookChannel_SendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		w.Write([]byte("internal error"))
	}))
	defer server.Close()

	ch := NewWebhookChannel(server.URL, nil)
	err := ch.Send(context.Background(), Message{
		Key:      "OPS-1",
		Severity: "info",
	})

	if err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestRouter_Notify_Critical(t *testing.T) {
	var slackCalls, webhookCalls int

	slackServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slackCalls++
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}))
	defer slackServer.Close()

	webhookServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		webhookCalls++
		w.WriteHeader(200)
	}))
	defer webhookServer.Close()

	router := NewRouter(SeverityRoute{
		Info:     []Channel{NewWebhookChannel(webhookServer.URL, nil)},
		Warning:  []Channel{},
		Critical: []Channel{NewSlackChannel(slackServer.URL, "")},
	}, nil, zap.NewNop())

	errs := router.Notify(context.Background(), Message{
		Key:      "OPS-3",
		Severity: "critical",
		Title:    "OPS-3 needs human intervention",
	})

	if len(errs) > 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
	// Critical routes to critical + warning + info channels
	if slackCalls != 1 {
		t.Errorf("slack calls = %d, want 1", slackCalls)
	}
	if webhookCalls != 1 {
		t.Errorf("webhook calls = %d, want 1 (info channel gets critical too)", webhookCalls)
	}
}

func TestRouter_Notify_Info(t *testing.T) {
	var slackCalls, webhookCalls int

	slackServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slackCalls++
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}))
	defer slackServer.Close()

	webhookServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		webhookCalls++
		w.WriteHeader(200)
	}))
	defer webhookServer.Close()

	router := NewRouter(SeverityRoute{
		Info:     []Channel{NewWebhookChannel(webhookServer.URL, nil)},
		Critical: []Channel{NewSlackChannel(slackServer.URL, "")},
	}, nil, zap.NewNop())

	router.Notify(context.Background(), Message{
		Key:      "OPS-4",
		Severity: "info",
		Title:    "OPS-4 moved to ANALYSIS_IN_PROGRESS",
	})

	// Info should only go to info channels
	if slackCalls != 0 {
		t.Errorf("slack calls = %d, want 0 (info shouldn't go to critical channel)", slackCalls)
	}
	if webhookCalls != 1 {
		t.Errorf("webhook calls = %d, want 1", webhookCalls)
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(3)

	// First 3 should pass
	for i := 0; i < 3; i++ {
		if !rl.Allow("OPS-1") {
			t.Errorf("call %d should be allowed", i+1)
		}
	}

	// 4th should be blocked
	if rl.Allow("OPS-1") {
		t.Error("4th call should be rate-limited")
	}

	// Different ticket should still be allowed
	if !rl.Allow("OPS-2") {
		t.Error("different ticket should be allowed")
	}
}

func TestRateLimiter_PerTicket(t *testing.T) {
	rl := NewRateLimiter(1)

	rl.Allow("OPS-1")
	rl.Allow("OPS-2")

	// Both exhausted
	if rl.Allow("OPS-1") {
		t.Error("OPS-1 should be rate-limited")
	}
	if rl.Allow("OPS-2") {
		t.Error("OPS-2 should be rate-limited")
	}
}

func TestSeverityEmoji(t *testing.T) {
	tests := []struct {
		severity string
		want     string
	}{
		{"critical", "🔴"},
		{"warning", "🟡"},
		{"info", "🔵"},
		{"unknown", "⚪"},
	}
	for _, tt := range tests {
		got := severityEmoji(tt.severity)
		if got != tt.want {
			t.Errorf("severityEmoji(%q) = %q, want %q", tt.severity, got, tt.want)
		}
	}
}
