/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package engine applies workflow transitions to tracker tickets.
//
// The engine is stateless with respect to workflow position: the ticket
// tracker is the sole durable store, and every request re-reads the
// ticket before validating. Requests for the same ticket are serialized
// in-process; concurrent managers are arbitrated by the tracker itself,
// since the losing writer's read-back will reflect the winner's state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marcus-qen/selfheal/internal/mapper"
	"github.com/marcus-qen/selfheal/internal/metrics"
	"github.com/marcus-qen/selfheal/internal/workflow"
)

// InvalidTransitionError reports a requested transition with no edge in
// the transition table. The ticket is left untouched.
type InvalidTransitionError struct {
	Key  string
	From workflow.State
	To   workflow.State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("ticket %s: invalid transition %s -> %s", e.Key, e.From, e.To)
}

// Observer is notified after each applied transition. Observers run
// synchronously on the requesting goroutine and must not block.
type Observer func(rec TransitionRecord)

// Result describes the outcome of a transition request.
type Result struct {
	Record TransitionRecord
	// Applied is false when the ticket was already in the requested
	// state and the request degraded to a metadata merge.
	Applied bool
}

// Engine validates and applies workflow transitions.
type Engine struct {
	mapper    *mapper.Mapper
	rules     *workflow.Rules
	log       *zap.Logger
	locks     *keyLock
	records   *transitionLog
	observers []Observer

	now func() time.Time
}

// New returns an Engine writing through m and validating against rules.
func New(m *mapper.Mapper, rules *workflow.Rules, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		mapper:  m,
		rules:   rules,
		log:     log.Named("engine"),
		locks:   newKeyLock(),
		records: newTransitionLog(),
		now:     time.Now,
	}
}

// AddObserver registers fn for transition notifications. Not safe to
// call concurrently with RequestTransition; register during wiring.
func (e *Engine) AddObserver(fn Observer) {
	e.observers = append(e.observers, fn)
}

// RequestTransition moves ticket key to the desired state.
//
// The current state is always re-read from the tracker before
// validation. If the ticket is already in the desired state the request
// is an idempotent no-op: no status write happens, the metadata delta
// (if any) is still merged via a comment, and a record with From == To
// is kept. An edge missing from the transition table yields an
// InvalidTransitionError and no write.
//
// On a partial write (status committed, comment failed) the returned
// Result is valid and the error unwraps to *mapper.PartialWriteError.
func (e *Engine) RequestTransition(ctx context.Context, key string, to workflow.State, trigger string, delta map[string]any) (*Result, error) {
	e.locks.lock(key)
	defer e.locks.unlock(key)

	ticket, _, err := e.mapper.Read(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reading ticket %s: %w", key, err)
	}
	from := ticket.State

	note := mapper.TransitionNote{
		From:      from,
		To:        to,
		Timestamp: e.now().UTC(),
		Trigger:   trigger,
		Delta:     delta,
	}

	if from == to {
		if len(delta) > 0 {
			if err := e.mapper.AppendNote(ctx, key, note); err != nil {
				return nil, fmt.Errorf("merging metadata for %s: %w", key, err)
			}
		}
		e.log.Debug("transition is a no-op",
			zap.String("key", key),
			zap.String("state", string(to)),
			zap.String("trigger", trigger))
		res := e.finish(note, key, trigger)
		res.Applied = false
		return res, nil
	}

	if !e.rules.IsValid(from, to) {
		metrics.RecordInvalidTransition(string(from), string(to))
		e.log.Warn("rejecting invalid transition",
			zap.String("key", key),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("trigger", trigger))
		return nil, &InvalidTransitionError{Key: key, From: from, To: to}
	}

	err = e.mapper.Write(ctx, key, to, note)
	var pw *mapper.PartialWriteError
	if err != nil && !errors.As(err, &pw) {
		return nil, fmt.Errorf("writing transition for %s: %w", key, err)
	}

	res := e.finish(note, key, trigger)
	if pw != nil {
		// Status committed; the workflow advanced even though the
		// metadata comment is missing.
		metrics.RecordPartialWrite()
		e.log.Error("transition applied with missing metadata comment",
			zap.String("key", key),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Error(pw.Err))
		return res, err
	}

	e.log.Info("transition applied",
		zap.String("key", key),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("trigger", trigger))
	return res, nil
}

func (e *Engine) finish(note mapper.TransitionNote, key, trigger string) *Result {
	rec := TransitionRecord{
		ID:        uuid.New(),
		Key:       key,
		From:      note.From,
		To:        note.To,
		Timestamp: note.Timestamp,
		Trigger:   trigger,
		Delta:     note.Delta,
	}
	e.records.append(rec)
	metrics.RecordTransition(string(rec.From), string(rec.To), trigger)
	for _, fn := range e.observers {
		fn(rec)
	}
	return &Result{Record: rec, Applied: true}
}

// GetCurrentState re-reads ticket key from the tracker and returns its
// mapped workflow view.
func (e *Engine) GetCurrentState(ctx context.Context, key string) (*mapper.Ticket, error) {
	ticket, _, err := e.mapper.Read(ctx, key)
	return ticket, err
}

// Records returns the transitions this process applied to ticket key,
// oldest first.
func (e *Engine) Records(key string) []TransitionRecord {
	return e.records.forKey(key)
}

// AllRecords returns every transition this process applied, in order.
func (e *Engine) AllRecords() []TransitionRecord {
	return e.records.all()
}

// Rules exposes the transition table backing this engine.
func (e *Engine) Rules() *workflow.Rules {
	return e.rules
}
