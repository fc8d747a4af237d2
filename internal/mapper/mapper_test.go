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
	"testing"
	"time"

	"github.com/marcus-qen/selfheal/internal/tracker"
	"github.com/marcus-qen/selfheal/internal/workflow"
)

// fakeTracker is an in-memory tracker.Client for mapper tests.
type fakeTracker struct {
	issues map[string]*tracker.Issue

	transitionErr error
	commentErr    error

	transitions []string // "key:status"
	comments    []string // comment bodies, in append order
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{issues: make(map[string]*tracker.Issue)}
}

func (f *fakeTracker) GetIssue(_ context.Context, key string) (*tracker.Issue, error) {
	issue, ok := f.issues[key]
	if !ok {
		return nil, tracker.ErrNotFound
	}
	return issue, nil
}

func (f *fakeTracker) SearchIssues(_ context.Context, statuses []string, max int) ([]*tracker.Issue, error) {
	var out []*tracker.Issue
	for _, issue := range f.issues {
		for _, s := range statuses {
			if issue.Status == s {
				out = append(out, issue)
			}
		}
	}
	if len(out) > max {
		out = out[:max]
	}
	return out, nil
}

func (f *fakeTracker) TransitionIssue(_ context.Context, key, status string) error {
	if f.transitionErr != nil {
		return f.transitionErr
	}
	f.transitions = append(f.transitions, key+":"+status)
	if issue, ok := f.issues[key]; ok {
		issue.Status = status
		issue.Updated = time.Now()
	}
	return nil
}

func (f *fakeTracker) AddComment(_ context.Context, key, body string) error {
	if f.commentErr != nil {
		return f.commentErr
	}
	f.comments = append(f.comments, body)
	if issue, ok := f.issues[key]; ok {
		issue.Comments = append(issue.Comments, tracker.Comment{Body: body, Created: time.Now()})
	}
	return nil
}

func testMapper(f *fakeTracker) *Mapper {
	return New(f, DefaultStatusTable(), nil)
}

func TestReadMapsStatusAndMetadata(t *testing.T) {
	f := newFakeTracker()
	body, _ := EncodeComment(TransitionNote{
		From:    workflow.IncidentDetected,
		To:      workflow.AnalysisInProgress,
		Trigger: "rca-agent",
		Delta:   map[string]any{MetaRootCause: "bad deploy"},
	})
	f.issues["SUP-1"] = &tracker.Issue{
		Key:    "SUP-1",
		Status: "In Progress",
		Comments: []tracker.Comment{
			{Body: "human note"},
			{Body: body},
		},
	}

	ticket, raw, err := testMapper(f).Read(context.Background(), "SUP-1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if ticket.State != workflow.AnalysisInProgress {
		t.Errorf("State = %s", ticket.State)
	}
	if got, _ := ticket.StringMeta(MetaRootCause); got != "bad deploy" {
		t.Errorf("root_cause = %q", got)
	}
	if raw.Status != "In Progress" {
		t.Errorf("raw status = %q", raw.Status)
	}
}

func TestReadUnknownStatus(t *testing.T) {
	f := newFakeTracker()
	f.issues["SUP-2"] = &tracker.Issue{Key: "SUP-2", Status: "Blocked By Vendor"}

	_, _, err := testMapper(f).Read(context.Background(), "SUP-2")
	var unknown *UnknownStatusError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownStatusError, got %v", err)
	}
	if unknown.Key != "SUP-2" || unknown.Status != "Blocked By Vendor" {
		t.Errorf("error context = %+v", unknown)
	}
}

func TestWriteStatusThenComment(t *testing.T) {
	f := newFakeTracker()
	f.issues["SUP-3"] = &tracker.Issue{Key: "SUP-3", Status: "To Do"}
	m := testMapper(f)

	note := TransitionNote{
		From:      workflow.IncidentDetected,
		To:        workflow.AnalysisInProgress,
		Timestamp: time.Now().UTC(),
		Trigger:   "poller",
	}
	if err := m.Write(context.Background(), "SUP-3", workflow.AnalysisInProgress, note); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if len(f.transitions) != 1 || f.transitions[0] != "SUP-3:In Progress" {
		t.Errorf("transitions = %v", f.transitions)
	}
	if len(f.comments) != 1 {
		t.Fatalf("comments = %d, want 1", len(f.comments))
	}

	// Round-trip: the written ticket reads back in the new state.
	ticket, _, err := m.Read(context.Background(), "SUP-3")
	if err != nil {
		t.Fatalf("Read after Write: %v", err)
	}
	if ticket.State != workflow.AnalysisInProgress {
		t.Errorf("read-back state = %s", ticket.State)
	}
}

func TestWritePartialFailure(t *testing.T) {
	f := newFakeTracker()
	f.issues["SUP-4"] = &tracker.Issue{Key: "SUP-4", Status: "To Do"}
	f.commentErr = fmt.Errorf("comment API down")
	m := testMapper(f)

	note := TransitionNote{From: workflow.IncidentDetected, To: workflow.AnalysisInProgress, Trigger: "poller"}
	err := m.Write(context.Background(), "SUP-4", workflow.AnalysisInProgress, note)

	var pwe *PartialWriteError
	if !errors.As(err, &pwe) {
		t.Fatalf("expected PartialWriteError, got %v", err)
	}
	if pwe.Key != "SUP-4" || pwe.Note.To != workflow.AnalysisInProgress {
		t.Errorf("partial write context = %+v", pwe)
	}
	// The status half must have committed.
	if len(f.transitions) != 1 {
		t.Errorf("transitions = %v", f.transitions)
	}

	// Retrying the comment alone must not re-transition.
	f.commentErr = nil
	if err := m.RetryComment(context.Background(), pwe); err != nil {
		t.Fatalf("RetryComment: %v", err)
	}
	if len(f.transitions) != 1 {
		t.Errorf("RetryComment must not re-submit the status change, transitions = %v", f.transitions)
	}
	if len(f.comments) != 1 {
		t.Errorf("comments = %d, want 1", len(f.comments))
	}
}

func TestWriteTransitionFailureLeavesNoComment(t *testing.T) {
	f := newFakeTracker()
	f.issues["SUP-5"] = &tracker.Issue{Key: "SUP-5", Status: "To Do"}
	f.transitionErr = fmt.Errorf("transition API down")
	m := testMapper(f)

	err := m.Write(context.Background(), "SUP-5", workflow.AnalysisInProgress, TransitionNote{})
	if err == nil {
		t.Fatal("expected error")
	}
	var pwe *PartialWriteError
	if errors.As(err, &pwe) {
		t.Fatal("a failed status change is not a partial write")
	}
	if len(f.comments) != 0 {
		t.Errorf("no comment should be written when the status change fails")
	}
}

func TestNewStatusTableValidation(t *testing.T) {
	// Missing coverage.
	_, err := NewStatusTable(map[string]workflow.State{
		"To Do": workflow.IncidentDetected,
	})
	var cfgErr *workflow.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError for missing states, got %v", err)
	}

	// Two natives for one state.
	full := map[string]workflow.State{}
	for _, s := range workflow.All {
		full[DefaultStatusTable().Native(s)] = s
	}
	full["Open"] = workflow.IncidentDetected
	if _, err := NewStatusTable(full); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError for duplicate state mapping, got %v", err)
	}
}
