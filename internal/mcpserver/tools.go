package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/marcus-qen/selfheal/internal/mapper"
	"github.com/marcus-qen/selfheal/internal/workflow"
)

type findActionableInput struct {
	Max int `json:"max,omitempty" jsonschema:"optional result cap (default 50)"`
}

type findTimedOutInput struct {
	States []string `json:"states,omitempty" jsonschema:"optional workflow states to check; defaults to all human-wait states"`
}

type getStateInput struct {
	Key string `json:"key" jsonschema:"ticket key, e.g. OPS-123"`
}

type requestTransitionInput struct {
	Key     string         `json:"key" jsonschema:"ticket key, e.g. OPS-123"`
	To      string         `json:"to" jsonschema:"destination workflow state, e.g. ANALYSIS_COMPLETE"`
	Trigger string         `json:"trigger" jsonschema:"short machine-readable reason for the transition"`
	Delta   map[string]any `json:"delta,omitempty" jsonschema:"optional workflow metadata to merge, e.g. root_cause or pr_url"`
}

type transitionLogInput struct {
	Key string `json:"key,omitempty" jsonschema:"optional ticket key filter"`
}

type ticketSummary struct {
	Key      string         `json:"key"`
	State    string         `json:"state"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Updated  time.Time      `json:"updated"`
	Deadline *time.Time     `json:"deadline,omitempty"`
}

type transitionResult struct {
	Key     string         `json:"key"`
	From    string         `json:"from"`
	To      string         `json:"to"`
	Applied bool           `json:"applied"`
	Trigger string         `json:"trigger"`
	Delta   map[string]any `json:"delta,omitempty"`
}

func (s *MCPServer) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "selfheal_find_actionable",
		Description: "List incident tickets ready for automated work, oldest first",
	}, s.handleFindActionable)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "selfheal_find_timed_out",
		Description: "List incident tickets stuck past their state wait bound",
	}, s.handleFindTimedOut)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "selfheal_get_current_state",
		Description: "Get the current workflow state and metadata of a ticket",
	}, s.handleGetCurrentState)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "selfheal_request_transition",
		Description: "Request a validated workflow transition for a ticket",
	}, s.handleRequestTransition)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "selfheal_transition_log",
		Description: "List transitions applied by this manager process",
	}, s.handleTransitionLog)
}

func summarize(t *mapper.Ticket) ticketSummary {
	out := ticketSummary{
		Key:      t.Key,
		State:    string(t.State),
		Metadata: t.Metadata,
		Updated:  t.Updated,
	}
	if !t.Deadline.IsZero() {
		d := t.Deadline
		out.Deadline = &d
	}
	return out
}

func (s *MCPServer) handleFindActionable(ctx context.Context, _ *mcp.CallToolRequest, input findActionableInput) (*mcp.CallToolResult, any, error) {
	if s.query == nil {
		return nil, nil, fmt.Errorf("query engine unavailable")
	}
	tickets, err := s.query.FindActionable(ctx, input.Max)
	if err != nil {
		return nil, nil, err
	}
	out := make([]ticketSummary, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, summarize(t))
	}
	return jsonToolResult(out)
}

func (s *MCPServer) handleFindTimedOut(ctx context.Context, _ *mcp.CallToolRequest, input findTimedOutInput) (*mcp.CallToolResult, any, error) {
	if s.query == nil {
		return nil, nil, fmt.Errorf("query engine unavailable")
	}
	states := make([]workflow.State, 0, len(input.States))
	for _, raw := range input.States {
		st, err := workflow.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, nil, err
		}
		states = append(states, st)
	}
	tickets, err := s.query.FindTimedOut(ctx, states...)
	if err != nil {
		return nil, nil, err
	}
	out := make([]ticketSummary, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, summarize(t))
	}
	return jsonToolResult(out)
}

func (s *MCPServer) handleGetCurrentState(ctx context.Context, _ *mcp.CallToolRequest, input getStateInput) (*mcp.CallToolResult, any, error) {
	if s.engine == nil {
		return nil, nil, fmt.Errorf("transition engine unavailable")
	}
	key := strings.TrimSpace(input.Key)
	if key == "" {
		return nil, nil, fmt.Errorf("key is required")
	}
	ticket, err := s.engine.GetCurrentState(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	return jsonToolResult(summarize(ticket))
}

func (s *MCPServer) handleRequestTransition(ctx context.Context, _ *mcp.CallToolRequest, input requestTransitionInput) (*mcp.CallToolResult, any, error) {
	if s.engine == nil {
		return nil, nil, fmt.Errorf("transition engine unavailable")
	}
	key := strings.TrimSpace(input.Key)
	if key == "" {
		return nil, nil, fmt.Errorf("key is required")
	}
	trigger := strings.TrimSpace(input.Trigger)
	if trigger == "" {
		return nil, nil, fmt.Errorf("trigger is required")
	}
	to, err := workflow.Parse(strings.TrimSpace(input.To))
	if err != nil {
		return nil, nil, err
	}

	res, err := s.engine.RequestTransition(ctx, key, to, trigger, input.Delta)
	if err != nil {
		s.logger.Warn("transition request failed",
			zap.String("key", key),
			zap.String("to", string(to)),
			zap.Error(err))
		return nil, nil, err
	}

	return jsonToolResult(transitionResult{
		Key:     key,
		From:    string(res.Record.From),
		To:      string(res.Record.To),
		Applied: res.Applied,
		Trigger: res.Record.Trigger,
		Delta:   res.Record.Delta,
	})
}

func (s *MCPServer) handleTransitionLog(_ context.Context, _ *mcp.CallToolRequest, input transitionLogInput) (*mcp.CallToolResult, any, error) {
	if s.engine == nil {
		return nil, nil, fmt.Errorf("transition engine unavailable")
	}
	key := strings.TrimSpace(input.Key)
	if key != "" {
		return jsonToolResult(s.engine.Records(key))
	}
	return jsonToolResult(s.engine.AllRecords())
}

func jsonToolResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return textToolResult(string(data)), nil, nil
}

func textToolResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
