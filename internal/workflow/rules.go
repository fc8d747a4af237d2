/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package workflow

import (
	"fmt"
	"time"
)

// Rule describes the legal moves out of one source state.
type Rule struct {
	// Next holds the destination states a ticket in the source state may
	// move to.
	Next []State

	// MaxWait bounds how long a ticket may sit in the source state before
	// it is reported as a timeout-escalation candidate. Zero means no bound.
	MaxWait time.Duration
}

// Rules is the directed transition graph. It is built once at startup,
// validated, and never mutated during a run.
type Rules struct {
	rules map[State]Rule
}

// ConfigurationError reports a transition table or status mapping that
// cannot be used. It is only ever produced at load time; a table that
// validates once stays valid for the life of the process.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "workflow configuration invalid: " + e.Reason
}

// NewRules builds and validates a transition table. The table must give
// every non-terminal state at least one outgoing edge, must allow every
// non-terminal state to escalate to IncidentRequiresHuman, and must connect
// IncidentDetected to IncidentResolved by some directed path. Violations
// fail here, not at first use.
func NewRules(table map[State]Rule) (*Rules, error) {
	rules := make(map[State]Rule, len(table))
	for from, rule := range table {
		if _, ok := valid[from]; !ok {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown source state %q", from)}
		}
		for _, to := range rule.Next {
			if _, ok := valid[to]; !ok {
				return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown destination state %q (from %q)", to, from)}
			}
		}
		if rule.MaxWait < 0 {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("negative max wait for state %q", from)}
		}
		rules[from] = Rule{Next: append([]State(nil), rule.Next...), MaxWait: rule.MaxWait}
	}

	r := &Rules{rules: rules}

	for _, s := range All {
		if s.IsTerminal() {
			continue
		}
		rule, ok := rules[s]
		if !ok || len(rule.Next) == 0 {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("non-terminal state %q has no outgoing transitions", s)}
		}
		if !r.IsValid(s, IncidentRequiresHuman) {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("state %q cannot escalate to %q", s, IncidentRequiresHuman)}
		}
	}

	if !r.reaches(Initial, IncidentResolved) {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("no path from %q to %q", Initial, IncidentResolved)}
	}

	return r, nil
}

// DefaultRules returns the built-in transition table: the happy path from
// detection through verification to resolution, failure edges out of every
// in-progress stage, escalation to IncidentRequiresHuman from every
// non-terminal state, and a single human-initiated resume edge out of the
// escalation terminal.
func DefaultRules() *Rules {
	table := map[State]Rule{
		IncidentDetected:        {Next: []State{AnalysisInProgress}},
		AnalysisInProgress:      {Next: []State{AnalysisComplete, IncidentFailed}},
		AnalysisComplete:        {Next: []State{FixGenerationInProgress}},
		FixGenerationInProgress: {Next: []State{FixGenerated, IncidentFailed}},
		FixGenerated:            {Next: []State{PrCreationInProgress}},
		PrCreationInProgress:    {Next: []State{PrCreated, IncidentFailed}},
		PrCreated:               {Next: []State{PrUnderReview}, MaxWait: 24 * time.Hour},
		PrUnderReview:           {Next: []State{PrApproved}, MaxWait: 24 * time.Hour},
		PrApproved:              {Next: []State{PrMerged}},
		PrMerged:                {Next: []State{DeploymentInProgress}},
		DeploymentInProgress:    {Next: []State{DeploymentComplete, IncidentFailed}, MaxWait: 2 * time.Hour},
		DeploymentComplete:      {Next: []State{VerificationInProgress}},
		VerificationInProgress:  {Next: []State{VerificationComplete, IncidentFailed}, MaxWait: time.Hour},
		VerificationComplete:    {Next: []State{IncidentResolved}},

		// Resume edge: a human hands a stuck incident back to the bot.
		IncidentRequiresHuman: {Next: []State{IncidentDetected}},
	}
	for s, rule := range table {
		if s.IsTerminal() {
			continue
		}
		table[s] = Rule{Next: append(rule.Next, IncidentRequiresHuman), MaxWait: rule.MaxWait}
	}

	r, err := NewRules(table)
	if err != nil {
		// The built-in table is covered by tests; a validation failure here
		// is a programming error.
		panic(err)
	}
	return r
}

// IsValid reports whether the table permits moving from one state to
// another. Self-transitions are not part of the table; idempotent
// re-application is handled by the transition engine, not here.
func (r *Rules) IsValid(from, to State) bool {
	rule, ok := r.rules[from]
	if !ok {
		return false
	}
	for _, next := range rule.Next {
		if next == to {
			return true
		}
	}
	return false
}

// MaxWait returns the configured wait bound for a state. The second return
// is false when the state has no bound.
func (r *Rules) MaxWait(from State) (time.Duration, bool) {
	rule, ok := r.rules[from]
	if !ok || rule.MaxWait == 0 {
		return 0, false
	}
	return rule.MaxWait, true
}

// Next returns a copy of the legal destinations out of a state.
func (r *Rules) Next(from State) []State {
	rule, ok := r.rules[from]
	if !ok {
		return nil
	}
	return append([]State(nil), rule.Next...)
}

// reaches walks the graph breadth-first from src looking for dst.
func (r *Rules) reaches(src, dst State) bool {
	seen := map[State]bool{src: true}
	queue := []State{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == dst {
			return true
		}
		for _, next := range r.rules[cur].Next {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}
