/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package query answers "what needs work" questions over the ticket
// tracker. Like the rest of the manager it holds no durable state:
// every call searches the tracker fresh.
package query

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/selfheal/internal/mapper"
	"github.com/marcus-qen/selfheal/internal/tracker"
	"github.com/marcus-qen/selfheal/internal/workflow"
)

// DefaultMaxResults bounds a single actionable-work query.
const DefaultMaxResults = 50

// Query finds tickets ready for automated work or stuck waiting on
// humans past their deadline.
type Query struct {
	client tracker.Client
	mapper *mapper.Mapper
	rules  *workflow.Rules
	log    *zap.Logger

	now func() time.Time
}

// New returns a Query reading through client and mapping via m.
func New(client tracker.Client, m *mapper.Mapper, rules *workflow.Rules, log *zap.Logger) *Query {
	if log == nil {
		log = zap.NewNop()
	}
	return &Query{
		client: client,
		mapper: m,
		rules:  rules,
		log:    log.Named("query"),
		now:    time.Now,
	}
}

// FindActionable returns tickets in a state the bot can act on without
// waiting on anything external, oldest update first, capped at max
// results (DefaultMaxResults when max <= 0). Tickets whose native
// status is not in the mapping table are skipped and logged rather than
// failing the whole query.
func (q *Query) FindActionable(ctx context.Context, max int) ([]*mapper.Ticket, error) {
	if max <= 0 {
		max = DefaultMaxResults
	}
	statuses := q.mapper.Table().Natives(workflow.Actionable)
	issues, err := q.client.SearchIssues(ctx, statuses, max)
	if err != nil {
		return nil, fmt.Errorf("searching actionable tickets: %w", err)
	}
	return q.collect(issues), nil
}

// FindTimedOut returns tickets sitting in one of the given states longer
// than the state's wait bound. With no states it checks the full
// human-wait set. States without a wait bound never time out, so passing
// one is harmless. Each returned ticket has Deadline set to the instant
// its wait expired.
//
// Time in state is taken from the last transition note entering the
// current state; tickets with no usable note fall back to the tracker's
// last-updated time.
func (q *Query) FindTimedOut(ctx context.Context, states ...workflow.State) ([]*mapper.Ticket, error) {
	if len(states) == 0 {
		states = workflow.HumanWait
	}
	statuses := q.mapper.Table().Natives(states)
	issues, err := q.client.SearchIssues(ctx, statuses, DefaultMaxResults)
	if err != nil {
		return nil, fmt.Errorf("searching waiting tickets: %w", err)
	}

	now := q.now()
	var out []*mapper.Ticket
	for _, iss := range issues {
		t, err := q.mapper.FromIssue(iss)
		if err != nil {
			q.log.Warn("skipping unmappable ticket",
				zap.String("key", iss.Key),
				zap.String("status", iss.Status),
				zap.Error(err))
			continue
		}
		wait, ok := q.rules.MaxWait(t.State)
		if !ok {
			continue
		}
		deadline := enteredAt(iss, t).Add(wait)
		if now.After(deadline) {
			t.Deadline = deadline
			out = append(out, t)
		}
	}
	return out, nil
}

// collect maps issues to tickets, dropping unmappable ones.
func (q *Query) collect(issues []*tracker.Issue) []*mapper.Ticket {
	out := make([]*mapper.Ticket, 0, len(issues))
	for _, iss := range issues {
		t, err := q.mapper.FromIssue(iss)
		if err != nil {
			q.log.Warn("skipping unmappable ticket",
				zap.String("key", iss.Key),
				zap.String("status", iss.Status),
				zap.Error(err))
			continue
		}
		out = append(out, t)
	}
	return out
}

// enteredAt estimates when the ticket entered its current state from
// the transition notes already on the issue.
func enteredAt(iss *tracker.Issue, t *mapper.Ticket) time.Time {
	notes := mapper.DecodeComments(iss.Comments, nil)
	for i := len(notes) - 1; i >= 0; i-- {
		if notes[i].To == t.State && !notes[i].Timestamp.IsZero() {
			return notes[i].Timestamp
		}
	}
	return t.Updated
}
