/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package tracker

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy bounds how transient tracker failures are retried. Delays
// grow exponentially: InitialBackoff * Multiplier^(attempt-1), capped at
// MaxBackoff when set.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy returns the retry defaults: three attempts starting
// at one second, doubling, capped at ten seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		Multiplier:     2.0,
		MaxBackoff:     10 * time.Second,
	}
}

// nextDelay returns the delay before the attempt after failedAttempt.
func (p RetryPolicy) nextDelay(failedAttempt int) time.Duration {
	if failedAttempt < 1 {
		failedAttempt = 1
	}
	delay := time.Duration(float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(failedAttempt-1)))
	if delay <= 0 {
		delay = p.InitialBackoff
	}
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}

// retryClient wraps a Client with bounded exponential retry. Only transient
// I/O failures are retried; ErrNotFound and context cancellation pass
// through immediately because retrying cannot fix them.
type retryClient struct {
	inner  Client
	policy RetryPolicy
	log    *zap.Logger

	// onRetry is invoked once per retried attempt (for metrics).
	onRetry func(op string)
}

// WithRetry wraps a client with the given retry policy. The onRetry hook
// may be nil.
func WithRetry(inner Client, policy RetryPolicy, log *zap.Logger, onRetry func(op string)) Client {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = time.Second
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &retryClient{inner: inner, policy: policy, log: log, onRetry: onRetry}
}

func retryable(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// do runs fn up to MaxAttempts times, sleeping between attempts.
func (c *retryClient) do(ctx context.Context, op, key string, fn func() error) error {
	var last error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		last = fn()
		if last == nil {
			return nil
		}
		if !retryable(last) {
			return last
		}
		if attempt == c.policy.MaxAttempts {
			break
		}
		delay := c.policy.nextDelay(attempt)
		c.log.Warn("tracker call failed, retrying",
			zap.String("op", op),
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(last),
		)
		if c.onRetry != nil {
			c.onRetry(op)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return &TransientIOError{Op: op, Key: key, Attempts: c.policy.MaxAttempts, Err: last}
}

func (c *retryClient) GetIssue(ctx context.Context, key string) (*Issue, error) {
	var issue *Issue
	err := c.do(ctx, "get", key, func() error {
		var err error
		issue, err = c.inner.GetIssue(ctx, key)
		return err
	})
	return issue, err
}

func (c *retryClient) SearchIssues(ctx context.Context, statuses []string, max int) ([]*Issue, error) {
	var issues []*Issue
	err := c.do(ctx, "search", "", func() error {
		var err error
		issues, err = c.inner.SearchIssues(ctx, statuses, max)
		return err
	})
	return issues, err
}

func (c *retryClient) TransitionIssue(ctx context.Context, key, status string) error {
	return c.do(ctx, "transition", key, func() error {
		return c.inner.TransitionIssue(ctx, key, status)
	})
}

func (c *retryClient) AddComment(ctx context.Context, key, body string) error {
	return c.do(ctx, "comment", key, func() error {
		return c.inner.AddComment(ctx, key, body)
	})
}
