/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package workflow defines the incident workflow state model: the closed set
// of states an incident moves through while the bot heals it, and the
// transition rules between them.
//
// The states mirror the lifecycle of a self-healing run: detection →
// root-cause analysis → fix generation → pull request → deployment →
// verification → resolution, with explicit failure and human-escalation
// terminals. The external ticket tracker is the durable store; this package
// only decides which moves are legal.
package workflow

import "fmt"

// State is one workflow state in the closed incident lifecycle set.
// The string value is the canonical encoding used in config files and in
// the machine-parseable transition comments written to tickets.
type State string

const (
	IncidentDetected        State = "INCIDENT_DETECTED"
	AnalysisInProgress      State = "ANALYSIS_IN_PROGRESS"
	AnalysisComplete        State = "ANALYSIS_COMPLETE"
	FixGenerationInProgress State = "FIX_GENERATION_IN_PROGRESS"
	FixGenerated            State = "FIX_GENERATED"
	PrCreationInProgress    State = "PR_CREATION_IN_PROGRESS"
	PrCreated               State = "PR_CREATED"
	PrUnderReview           State = "PR_UNDER_REVIEW"
	PrApproved              State = "PR_APPROVED"
	PrMerged                State = "PR_MERGED"
	DeploymentInProgress    State = "DEPLOYMENT_IN_PROGRESS"
	DeploymentComplete      State = "DEPLOYMENT_COMPLETE"
	VerificationInProgress  State = "VERIFICATION_IN_PROGRESS"
	VerificationComplete    State = "VERIFICATION_COMPLETE"
	IncidentResolved        State = "INCIDENT_RESOLVED"
	IncidentFailed          State = "INCIDENT_FAILED"
	IncidentRequiresHuman   State = "INCIDENT_REQUIRES_HUMAN"
)

// Initial is the state every new incident starts in.
const Initial = IncidentDetected

// All lists every member of the closed state set, in lifecycle order.
var All = []State{
	IncidentDetected,
	AnalysisInProgress,
	AnalysisComplete,
	FixGenerationInProgress,
	FixGenerated,
	PrCreationInProgress,
	PrCreated,
	PrUnderReview,
	PrApproved,
	PrMerged,
	DeploymentInProgress,
	DeploymentComplete,
	VerificationInProgress,
	VerificationComplete,
	IncidentResolved,
	IncidentFailed,
	IncidentRequiresHuman,
}

// Actionable lists the states whose next step is automatable: a poller can
// pick the incident up and advance it without waiting on a human or on an
// external system.
var Actionable = []State{
	IncidentDetected,
	AnalysisComplete,
	FixGenerated,
	PrMerged,
	DeploymentComplete,
}

// HumanWait lists the states whose next transition depends on something
// outside the bot (code review, a deploy pipeline, verification). Incidents
// parked here are candidates for timeout escalation, never for automatic
// pickup.
var HumanWait = []State{
	PrCreated,
	PrUnderReview,
	DeploymentInProgress,
	VerificationInProgress,
}

var valid = func() map[State]struct{} {
	m := make(map[State]struct{}, len(All))
	for _, s := range All {
		m[s] = struct{}{}
	}
	return m
}()

// Parse decodes the canonical string encoding of a state. It is the single
// decode path for states coming from config files and ticket comments;
// unknown strings are rejected, never defaulted.
func Parse(s string) (State, error) {
	if _, ok := valid[State(s)]; !ok {
		return "", fmt.Errorf("unknown workflow state %q", s)
	}
	return State(s), nil
}

// IsTerminal reports whether s is a terminal state. Terminal incidents are
// done as far as automation is concerned; only a human-initiated resume
// edge in the transition table can move them again.
func (s State) IsTerminal() bool {
	switch s {
	case IncidentResolved, IncidentFailed, IncidentRequiresHuman:
		return true
	}
	return false
}

// IsActionable reports whether s is in the actionable subset.
func (s State) IsActionable() bool {
	for _, a := range Actionable {
		if s == a {
			return true
		}
	}
	return false
}

// IsHumanWait reports whether s is a human-wait state.
func (s State) IsHumanWait() bool {
	for _, h := range HumanWait {
		if s == h {
			return true
		}
	}
	return false
}

// String returns the canonical encoding.
func (s State) String() string {
	return string(s)
}
