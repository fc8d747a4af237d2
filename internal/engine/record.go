/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcus-qen/selfheal/internal/workflow"
)

// TransitionRecord is one entry in the in-process transition log. The
// durable history lives in the ticket tracker; this log exists for
// operator introspection of the current process only.
type TransitionRecord struct {
	ID        uuid.UUID      `json:"id"`
	Key       string         `json:"key"`
	From      workflow.State `json:"from"`
	To        workflow.State `json:"to"`
	Timestamp time.Time      `json:"timestamp"`
	Trigger   string         `json:"trigger"`
	Delta     map[string]any `json:"delta,omitempty"`
}

// transitionLog is an append-only record of transitions applied by this
// process, keyed by ticket.
type transitionLog struct {
	mu      sync.RWMutex
	byKey   map[string][]TransitionRecord
	ordered []TransitionRecord
}

func newTransitionLog() *transitionLog {
	return &transitionLog{byKey: make(map[string][]TransitionRecord)}
}

func (l *transitionLog) append(r TransitionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byKey[r.Key] = append(l.byKey[r.Key], r)
	l.ordered = append(l.ordered, r)
}

// forKey returns a copy of the records for one ticket, oldest first.
func (l *transitionLog) forKey(key string) []TransitionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]TransitionRecord, len(l.byKey[key]))
	copy(out, l.byKey[key])
	return out
}

// all returns a copy of every record, in append order.
func (l *transitionLog) all() []TransitionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]TransitionRecord, len(l.ordered))
	copy(out, l.ordered)
	return out
}
