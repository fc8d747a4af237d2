/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package mapper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/selfheal/internal/tracker"
	"github.com/marcus-qen/selfheal/internal/workflow"
)

// Well-known metadata keys. The metadata map is open — agents may attach
// anything JSON-compatible — but these keys have agreed meanings across
// the pipeline.
const (
	MetaRootCause         = "root_cause"
	MetaPRURL             = "pr_url"
	MetaDeploymentID      = "deployment_id"
	MetaValidationSummary = "validation_summary"
)

// Ticket is one external ticket under management, seen through the
// workflow lens: native status already mapped to a State, metadata
// accumulated from the comment history.
type Ticket struct {
	Key      string
	State    workflow.State
	Metadata map[string]any
	Created  time.Time
	Updated  time.Time

	// Deadline is when the ticket times out in its current state, derived
	// from the transition table's max-wait. Zero when the state has no
	// bound. Populated by the query engine, not by Read.
	Deadline time.Time
}

// StringMeta returns a well-known string-valued metadata entry.
func (t *Ticket) StringMeta(key string) (string, bool) {
	v, ok := t.Metadata[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// PartialWriteError reports a transition whose status change committed but
// whose metadata comment did not. The ticket IS in the new state; the
// caller should retry only the comment append (via RetryComment), never
// the status change.
type PartialWriteError struct {
	Key  string
	Note TransitionNote
	Err  error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("ticket %s: status changed to %s but metadata comment failed: %v", e.Key, e.Note.To, e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}

// Mapper reads and writes workflow state through the tracker.
type Mapper struct {
	client tracker.Client
	table  *StatusTable
	log    *zap.Logger
}

// New creates a mapper over the given tracker client and status table.
func New(client tracker.Client, table *StatusTable, log *zap.Logger) *Mapper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mapper{client: client, table: table, log: log.Named("mapper")}
}

// Read fetches a ticket and maps it into the workflow model. The raw
// tracker issue is returned alongside for callers that need native fields.
// An unmapped native status fails with UnknownStatusError.
func (m *Mapper) Read(ctx context.Context, key string) (*Ticket, *tracker.Issue, error) {
	issue, err := m.client.GetIssue(ctx, key)
	if err != nil {
		return nil, nil, fmt.Errorf("read ticket %s: %w", key, err)
	}
	ticket, err := m.FromIssue(issue)
	if err != nil {
		return nil, nil, err
	}
	return ticket, issue, nil
}

// FromIssue maps an already-fetched tracker issue into a Ticket.
func (m *Mapper) FromIssue(issue *tracker.Issue) (*Ticket, error) {
	state, err := m.table.State(issue.Status)
	if err != nil {
		var unknown *UnknownStatusError
		if errors.As(err, &unknown) {
			unknown.Key = issue.Key
		}
		return nil, err
	}

	notes := DecodeComments(issue.Comments, m.log)
	return &Ticket{
		Key:      issue.Key,
		State:    state,
		Metadata: MergeMetadata(notes),
		Created:  issue.Created,
		Updated:  issue.Updated,
	}, nil
}

// Write moves a ticket to a new state: first the native status change,
// then the transition comment. The two sub-requests are deliberately not
// atomic — the tracker offers no transaction — so a comment failure after
// a committed status change surfaces as PartialWriteError with everything
// needed to retry the comment alone.
func (m *Mapper) Write(ctx context.Context, key string, newState workflow.State, note TransitionNote) error {
	native := m.table.Native(newState)
	if err := m.client.TransitionIssue(ctx, key, native); err != nil {
		return fmt.Errorf("write ticket %s: %w", key, err)
	}

	if err := m.AppendNote(ctx, key, note); err != nil {
		m.log.Warn("status changed but comment append failed",
			zap.String("key", key),
			zap.String("to", string(newState)),
			zap.Error(err),
		)
		return &PartialWriteError{Key: key, Note: note, Err: err}
	}
	return nil
}

// RetryComment re-attempts only the comment half of a partial write. The
// status change is never re-submitted; the transition engine's idempotent
// no-op path covers state, this covers the metadata.
func (m *Mapper) RetryComment(ctx context.Context, pwe *PartialWriteError) error {
	return m.AppendNote(ctx, pwe.Key, pwe.Note)
}

// AppendNote writes a transition note comment without touching the ticket
// status. Used for metadata-only merges (idempotent re-application) and
// partial-write retries.
func (m *Mapper) AppendNote(ctx context.Context, key string, note TransitionNote) error {
	body, err := EncodeComment(note)
	if err != nil {
		return err
	}
	return m.client.AddComment(ctx, key, body)
}

// History returns the decoded transition notes from a ticket's comments,
// oldest first.
func (m *Mapper) History(ctx context.Context, key string) ([]TransitionNote, error) {
	issue, err := m.client.GetIssue(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read ticket %s: %w", key, err)
	}
	return DecodeComments(issue.Comments, m.log), nil
}

// Table exposes the status table for callers building native status
// queries (the query engine).
func (m *Mapper) Table() *StatusTable {
	return m.table
}
