/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package notify delivers workflow transition notifications to external
// channels. The daemon publishes transition events; the router fans
// them out to Slack or generic webhooks based on severity, so humans
// hear about escalations without watching the tracker.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/selfheal/internal/workflow"
)

// Channel is the interface for all notification backends.
type Channel interface {
	// Send delivers a notification. Returns an error if delivery fails.
	Send(ctx context.Context, msg Message) error

	// Type returns the channel type name.
	Type() string
}

// Message is a notification to be delivered.
type Message struct {
	Key       string // ticket key
	Severity  string // info, warning, critical
	Title     string
	Body      string
	From      workflow.State
	To        workflow.State
	Trigger   string
	Timestamp time.Time
}

// ForTransition builds the notification for one applied transition.
// Escalations and failures are critical, entering a human-wait state is
// a warning, everything else is informational.
func ForTransition(key string, from, to workflow.State, trigger string, ts time.Time) Message {
	severity := "info"
	title := fmt.Sprintf("%s moved to %s", key, to)
	switch {
	case to == workflow.IncidentRequiresHuman:
		severity = "critical"
		title = fmt.Sprintf("%s needs human intervention", key)
	case to == workflow.IncidentFailed:
		severity = "critical"
		title = fmt.Sprintf("%s failed", key)
	case to.IsHumanWait():
		severity = "warning"
		title = fmt.Sprintf("%s is waiting on humans", key)
	case to == workflow.IncidentResolved:
		title = fmt.Sprintf("%s resolved", key)
	}
	return Message{
		Key:       key,
		Severity:  severity,
		Title:     title,
		Body:      fmt.Sprintf("Transition %s -> %s (trigger: %s)", from, to, trigger),
		From:      from,
		To:        to,
		Trigger:   trigger,
		Timestamp: ts,
	}
}

// --- Slack ---

// SlackChannel sends notifications to Slack via webhook.
type SlackChannel struct {
	WebhookURL string
	Channel    string // optional override
	client     *http.Client
}

// NewSlackChannel creates a Slack notification channel.
func NewSlackChannel(webhookURL, channel string) *SlackChannel {
	return &SlackChannel{
		WebhookURL: webhookURL,
		Channel:    channel,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackChannel) Type() string { return "slack" }

func (s *SlackChannel) Send(ctx context.Context, msg Message) error {
	emoji := severityEmoji(msg.Severity)
	text := fmt.Sprintf("%s *[%s] %s*\n%s", emoji, strings.ToUpper(msg.Severity), msg.Title, msg.Body)

	payload := map[string]interface{}{
		"text": text,
	}
	if s.Channel != "" {
		payload["channel"] = s.Channel
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, "POST", s.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// --- Webhook ---

// WebhookChannel sends JSON notifications to any HTTP endpoint.
type WebhookChannel struct {
	URL     string
	Headers map[string]string // optional auth headers
	client  *http.Client
}

// NewWebhookChannel creates a generic webhook notification channel.
func NewWebhookChannel(url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		URL:     url,
		Headers: headers,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookChannel) Type() string { return "webhook" }

func (w *WebhookChannel) Send(ctx context.Context, msg Message) error {
	payload := map[string]interface{}{
		"key":       msg.Key,
		"severity":  msg.Severity,
		"title":     msg.Title,
		"body":      msg.Body,
		"from":      string(msg.From),
		"to":        string(msg.To),
		"trigger":   msg.Trigger,
		"timestamp": msg.Timestamp.Format(time.RFC3339),
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, "POST", w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// --- Router ---

// SeverityRoute maps severity levels to channels.
type SeverityRoute struct {
	Info     []Channel
	Warning  []Channel
	Critical []Channel
}

// Router dispatches notifications to channels based on severity.
type Router struct {
	routes  SeverityRoute
	limiter *RateLimiter
	log     *zap.Logger
}

// NewRouter creates a notification router.
func NewRouter(routes SeverityRoute, limiter *RateLimiter, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{routes: routes, limiter: limiter, log: log.Named("notify")}
}

// Notify sends a message to all channels matching its severity.
func (r *Router) Notify(ctx context.Context, msg Message) []error {
	channels := r.channelsForSeverity(msg.Severity)
	if len(channels) == 0 {
		return nil
	}

	if r.limiter != nil && !r.limiter.Allow(msg.Key) {
		r.log.Info("notification rate-limited", zap.String("key", msg.Key))
		return nil
	}

	var errs []error
	for _, ch := range channels {
		if err := ch.Send(ctx, msg); err != nil {
			r.log.Error("notification failed",
				zap.String("type", ch.Type()),
				zap.String("key", msg.Key),
				zap.Error(err))
			errs = append(errs, err)
		} else {
			r.log.Info("notification sent",
				zap.String("type", ch.Type()),
				zap.String("key", msg.Key),
				zap.String("severity", msg.Severity))
		}
	}
	return errs
}

func (r *Router) channelsForSeverity(severity string) []Channel {
	switch severity {
	case "critical":
		// Critical goes to all levels
		var all []Channel
		all = append(all, r.routes.Critical...)
		all = append(all, r.routes.Warning...)
		all = append(all, r.routes.Info...)
		return all
	case "warning":
		var all []Channel
		all = append(all, r.routes.Warning...)
		all = append(all, r.routes.Info...)
		return all
	case "info":
		return r.routes.Info
	default:
		return r.routes.Info
	}
}

// --- Rate Limiter ---

// RateLimiter limits notifications per ticket per hour, so a flapping
// incident cannot flood a channel.
type RateLimiter struct {
	maxPerHour int
	mu         sync.Mutex
	counts     map[string][]time.Time
}

// NewRateLimiter creates a rate limiter with the given max per hour per ticket.
func NewRateLimiter(maxPerHour int) *RateLimiter {
	return &RateLimiter{
		maxPerHour: maxPerHour,
		counts:     make(map[string][]time.Time),
	}
}

// Allow checks if the ticket is within rate limits.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-1 * time.Hour)

	// Prune old entries
	recent := make([]time.Time, 0)
	for _, t := range rl.counts[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= rl.maxPerHour {
		return false
	}

	rl.counts[key] = append(recent, now)
	return true
}

// --- Helpers ---

func severityEmoji(severity string) string {
	switch severity {
	case "critical":
		return "🔴"
	case "warning":
		return "🟡"
	case "info":
		return "🔵"
	default:
		return "⚪"
	}
}
