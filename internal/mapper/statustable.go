/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package mapper translates between the ticket tracker's native vocabulary
// and the internal workflow model: native status names to workflow states
// in both directions, and transition metadata in and out of ticket
// comments.
//
// The tracker's status names are controlled by the tracker's own workflow
// configuration, so the mapping is supplied as configuration and validated
// once at startup. An unmapped native status is an error, never a guess: a
// wrong mapping would corrupt the state machine.
package mapper

import (
	"fmt"

	"github.com/marcus-qen/selfheal/internal/workflow"
)

// StatusTable is the bidirectional mapping between native tracker status
// names and workflow states. Immutable after construction.
type StatusTable struct {
	toState  map[string]workflow.State
	toNative map[workflow.State]string
}

// UnknownStatusError reports a native status with no configured mapping.
// The ticket is left untouched; the operator has to extend the status
// table (or fix the tracker workflow) before the bot can act on it.
type UnknownStatusError struct {
	Key    string
	Status string
}

func (e *UnknownStatusError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("ticket %s: native status %q has no workflow state mapping", e.Key, e.Status)
	}
	return fmt.Sprintf("native status %q has no workflow state mapping", e.Status)
}

// NewStatusTable validates and builds a status table. Every workflow state
// must be reachable from exactly one native status; duplicates on either
// side fail with a ConfigurationError at load time.
func NewStatusTable(mapping map[string]workflow.State) (*StatusTable, error) {
	toState := make(map[string]workflow.State, len(mapping))
	toNative := make(map[workflow.State]string, len(mapping))

	for native, state := range mapping {
		if native == "" {
			return nil, &workflow.ConfigurationError{Reason: "empty native status name"}
		}
		if _, err := workflow.Parse(string(state)); err != nil {
			return nil, &workflow.ConfigurationError{Reason: fmt.Sprintf("status %q maps to unknown state %q", native, state)}
		}
		if prev, dup := toNative[state]; dup {
			return nil, &workflow.ConfigurationError{Reason: fmt.Sprintf("state %q mapped from both %q and %q", state, prev, native)}
		}
		toState[native] = state
		toNative[state] = native
	}

	for _, s := range workflow.All {
		if _, ok := toNative[s]; !ok {
			return nil, &workflow.ConfigurationError{Reason: fmt.Sprintf("no native status mapped for state %q", s)}
		}
	}

	return &StatusTable{toState: toState, toNative: toNative}, nil
}

// DefaultStatusTable returns the stock mapping for a tracker project using
// the bot's recommended workflow scheme.
func DefaultStatusTable() *StatusTable {
	t, err := NewStatusTable(map[string]workflow.State{
		"To Do":                    workflow.IncidentDetected,
		"In Progress":              workflow.AnalysisInProgress,
		"Analysis Complete":        workflow.AnalysisComplete,
		"Generating Fix":           workflow.FixGenerationInProgress,
		"Fix Generated":            workflow.FixGenerated,
		"Creating PR":              workflow.PrCreationInProgress,
		"PR Created":               workflow.PrCreated,
		"Under Review":             workflow.PrUnderReview,
		"PR Approved":              workflow.PrApproved,
		"PR Merged":                workflow.PrMerged,
		"Deploying":                workflow.DeploymentInProgress,
		"Deployed":                 workflow.DeploymentComplete,
		"Verifying Fix":            workflow.VerificationInProgress,
		"Verification Complete":    workflow.VerificationComplete,
		"Done":                     workflow.IncidentResolved,
		"Failed":                   workflow.IncidentFailed,
		"Needs Human Intervention": workflow.IncidentRequiresHuman,
	})
	if err != nil {
		panic(err) // covered by tests
	}
	return t
}

// State maps a native status to its workflow state.
func (t *StatusTable) State(native string) (workflow.State, error) {
	s, ok := t.toState[native]
	if !ok {
		return "", &UnknownStatusError{Status: native}
	}
	return s, nil
}

// Native maps a workflow state back to its native status name. The table
// covers the full closed state set, so this cannot miss.
func (t *StatusTable) Native(s workflow.State) string {
	return t.toNative[s]
}

// Natives returns the native status names for the given states, in order.
func (t *StatusTable) Natives(states []workflow.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = t.toNative[s]
	}
	return out
}
