/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package tracker talks to the external ticket system that holds durable
// incident state. The bot never stores workflow state of its own: ticket
// status plus comment history is the single source of truth, fetched fresh
// on every operation.
//
// The production client reaches the tracker through an MCP tool server
// (the same Atlassian tool surface the LLM agents use); everything above
// this package sees only the Client interface.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Issue is the tracker-side view of one ticket, reduced to the fields the
// state manager needs. Status is the tracker's native status name, not a
// workflow state; mapping between the two is the mapper's job.
type Issue struct {
	Key      string
	Status   string
	Summary  string
	Priority string
	Created  time.Time
	Updated  time.Time
	Comments []Comment
}

// Comment is one ticket comment, oldest first in Issue.Comments.
type Comment struct {
	Body    string
	Created time.Time
}

// Client is the boundary to the external ticket system.
type Client interface {
	// GetIssue fetches one ticket with its comment history.
	// Returns ErrNotFound if the key does not exist.
	GetIssue(ctx context.Context, key string) (*Issue, error)

	// SearchIssues returns tickets whose native status is one of the given
	// names, ordered by last update ascending (oldest-stale first), capped
	// at max results.
	SearchIssues(ctx context.Context, statuses []string, max int) ([]*Issue, error)

	// TransitionIssue moves a ticket to the given native status.
	TransitionIssue(ctx context.Context, key, status string) error

	// AddComment appends a comment to a ticket.
	AddComment(ctx context.Context, key, body string) error
}

// ErrNotFound reports a ticket key unknown to the tracker. Not retryable.
var ErrNotFound = errors.New("issue not found")

// TransientIOError is a tracker call that kept failing after bounded
// retries. The wrapped error is the last attempt's failure.
type TransientIOError struct {
	Op       string
	Key      string
	Attempts int
	Err      error
}

func (e *TransientIOError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("tracker %s %s: giving up after %d attempts: %v", e.Op, e.Key, e.Attempts, e.Err)
	}
	return fmt.Sprintf("tracker %s: giving up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientIOError) Unwrap() error {
	return e.Err
}
