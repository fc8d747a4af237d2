/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package mapper

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/selfheal/internal/tracker"
	"github.com/marcus-qen/selfheal/internal/workflow"
)

// TransitionNote is the machine-parseable record embedded in a ticket
// comment on every transition. The fenced JSON block round-trips through
// the tracker: Write encodes it, Read decodes it back out of the comment
// history.
type TransitionNote struct {
	From      workflow.State `json:"from_state"`
	To        workflow.State `json:"to_state"`
	Timestamp time.Time      `json:"timestamp"`
	Trigger   string         `json:"trigger"`
	Delta     map[string]any `json:"metadata_delta,omitempty"`
}

// commentEnvelope wraps the note under a stable top-level key so the
// decoder can tell workflow comments apart from ordinary human chatter.
type commentEnvelope struct {
	Transition *TransitionNote `json:"workflow_transition"`
}

const (
	commentHeader = "Workflow state transition"
	fenceOpen     = "```json"
	fenceClose    = "```"
)

// EncodeComment renders a transition note as a tracker comment: one
// human-readable line followed by the fenced JSON block.
func EncodeComment(note TransitionNote) (string, error) {
	body, err := json.MarshalIndent(commentEnvelope{Transition: &note}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode transition note: %w", err)
	}
	return fmt.Sprintf("%s: %s -> %s (%s)\n%s\n%s\n%s",
		commentHeader, note.From, note.To, note.Trigger,
		fenceOpen, body, fenceClose), nil
}

// DecodeComments walks a ticket's comment history oldest-first and pulls
// out every transition note. Malformed or unrelated comments are skipped
// (logged at debug), never fatal: humans comment on these tickets too.
func DecodeComments(comments []tracker.Comment, log *zap.Logger) []TransitionNote {
	if log == nil {
		log = zap.NewNop()
	}

	var notes []TransitionNote
	for i, c := range comments {
		note, ok, err := decodeComment(c.Body)
		if err != nil {
			log.Debug("skipping malformed workflow comment",
				zap.Int("index", i),
				zap.Error(err),
			)
			continue
		}
		if ok {
			notes = append(notes, note)
		}
	}
	return notes
}

// MergeMetadata folds the metadata deltas of the given notes into one map,
// oldest-first, later deltas overriding earlier values per key. The result
// is the ticket's accumulated workflow metadata.
func MergeMetadata(notes []TransitionNote) map[string]any {
	merged := make(map[string]any)
	for _, n := range notes {
		for k, v := range n.Delta {
			merged[k] = v
		}
	}
	return merged
}

// decodeComment extracts the fenced JSON block from one comment body.
// The bool result is false when the comment carries no workflow block at
// all; the error is non-nil when a block is present but unparseable.
func decodeComment(body string) (TransitionNote, bool, error) {
	start := strings.Index(body, fenceOpen)
	if start < 0 {
		return TransitionNote{}, false, nil
	}
	rest := body[start+len(fenceOpen):]
	end := strings.Index(rest, fenceClose)
	if end < 0 {
		return TransitionNote{}, false, fmt.Errorf("unterminated json fence")
	}

	var envelope commentEnvelope
	if err := json.Unmarshal([]byte(strings.TrimSpace(rest[:end])), &envelope); err != nil {
		return TransitionNote{}, false, fmt.Errorf("parse fenced json: %w", err)
	}
	if envelope.Transition == nil {
		// A fenced JSON block from some other tool; not ours.
		return TransitionNote{}, false, nil
	}

	note := *envelope.Transition
	if _, err := workflow.Parse(string(note.To)); err != nil {
		return TransitionNote{}, false, fmt.Errorf("transition note: %w", err)
	}
	if _, err := workflow.Parse(string(note.From)); err != nil {
		return TransitionNote{}, false, fmt.Errorf("transition note: %w", err)
	}
	return note, true, nil
}
