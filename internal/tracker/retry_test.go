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
	"testing"
	"time"
)

// flakyClient fails the first failures calls of every operation.
type flakyClient struct {
	failures int
	calls    int
	err      error
}

func (f *flakyClient) attempt() error {
	f.calls++
	if f.calls <= f.failures {
		if f.err != nil {
			return f.err
		}
		return errors.New("connection reset")
	}
	return nil
}

func (f *flakyClient) GetIssue(_ context.Context, key string) (*Issue, error) {
	if err := f.attempt(); err != nil {
		return nil, err
	}
	return &Issue{Key: key, Status: "To Do"}, nil
}

func (f *flakyClient) SearchIssues(_ context.Context, _ []string, _ int) ([]*Issue, error) {
	if err := f.attempt(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *flakyClient) TransitionIssue(_ context.Context, _, _ string) error {
	return f.attempt()
}

func (f *flakyClient) AddComment(_ context.Context, _, _ string) error {
	return f.attempt()
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		Multiplier:     2.0,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	inner := &flakyClient{failures: 2}
	var retried int
	c := WithRetry(inner, fastPolicy(3), nil, func(string) { retried++ })

	issue, err := c.GetIssue(context.Background(), "SUP-1")
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if issue.Key != "SUP-1" {
		t.Errorf("got key %q, want SUP-1", issue.Key)
	}
	if inner.calls != 3 {
		t.Errorf("inner called %d times, want 3", inner.calls)
	}
	if retried != 2 {
		t.Errorf("onRetry fired %d times, want 2", retried)
	}
}

func TestRetryGivesUpWithTransientIOError(t *testing.T) {
	inner := &flakyClient{failures: 10}
	c := WithRetry(inner, fastPolicy(3), nil, nil)

	err := c.TransitionIssue(context.Background(), "SUP-2", "In Progress")
	var ioErr *TransientIOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected TransientIOError, got %v", err)
	}
	if ioErr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", ioErr.Attempts)
	}
	if ioErr.Op != "transition" || ioErr.Key != "SUP-2" {
		t.Errorf("error context = %s/%s, want transition/SUP-2", ioErr.Op, ioErr.Key)
	}
	if inner.calls != 3 {
		t.Errorf("inner called %d times, want 3", inner.calls)
	}
}

func TestRetryDoesNotRetryNotFound(t *testing.T) {
	inner := &flakyClient{failures: 10, err: ErrNotFound}
	c := WithRetry(inner, fastPolicy(5), nil, nil)

	_, err := c.GetIssue(context.Background(), "SUP-3")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("not-found should not be retried, inner called %d times", inner.calls)
	}
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	inner := &flakyClient{failures: 10}
	c := WithRetry(inner, RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Hour, Multiplier: 2}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := c.AddComment(ctx, "SUP-4", "hi")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNextDelay(t *testing.T) {
	p := RetryPolicy{InitialBackoff: time.Second, Multiplier: 2.0, MaxBackoff: 5 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second}, // capped
		{0, time.Second},     // clamped to first attempt
	}
	for _, tt := range tests {
		if got := p.nextDelay(tt.attempt); got != tt.want {
			t.Errorf("nextDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
