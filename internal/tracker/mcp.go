/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// Tool names on the Atlassian MCP server.
const (
	toolGetIssue   = "get_jira_issue"
	toolSearch     = "search_jira_issues"
	toolTransition = "transition_jira_issue"
	toolAddComment = "add_jira_comment"
)

// MCPClient implements Client against an Atlassian MCP tool server over
// streamable HTTP.
type MCPClient struct {
	log         *zap.Logger
	client      *mcpsdk.Client
	session     *mcpsdk.ClientSession
	project     string
	httpTimeout time.Duration
}

// NewMCPClient creates an unconnected MCP tracker client for one tracker
// project. Call Connect before use.
func NewMCPClient(project string, log *zap.Logger) *MCPClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &MCPClient{
		log: log.Named("tracker"),
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{
				Name:    "selfheal",
				Version: "0.1.0",
			},
			nil,
		),
		project:     project,
		httpTimeout: 30 * time.Second,
	}
}

// Connect establishes the MCP session with the tracker tool server.
func (c *MCPClient) Connect(ctx context.Context, endpoint string) error {
	transport := &mcpsdk.StreamableClientTransport{
		Endpoint: endpoint,
		HTTPClient: &http.Client{
			Timeout: c.httpTimeout,
		},
		DisableStandaloneSSE: true, // no server-initiated notifications
	}

	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", endpoint, err)
	}
	c.session = session

	c.log.Info("connected to tracker MCP server", zap.String("endpoint", endpoint), zap.String("project", c.project))
	return nil
}

// Close tears down the MCP session.
func (c *MCPClient) Close() error {
	if c.session == nil {
		return nil
	}
	return c.session.Close()
}

func (c *MCPClient) GetIssue(ctx context.Context, key string) (*Issue, error) {
	text, err := c.callTool(ctx, toolGetIssue, map[string]any{"issue_key": key})
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", key, err)
	}

	var payload issuePayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("get issue %s: decode response: %w", key, err)
	}
	return payload.toIssue(), nil
}

func (c *MCPClient) SearchIssues(ctx context.Context, statuses []string, max int) ([]*Issue, error) {
	clauses := make([]string, len(statuses))
	for i, s := range statuses {
		clauses[i] = fmt.Sprintf("status=%q", s)
	}
	jql := fmt.Sprintf("project = %s AND (%s) ORDER BY updated ASC", c.project, strings.Join(clauses, " OR "))

	text, err := c.callTool(ctx, toolSearch, map[string]any{
		"jql":         jql,
		"max_results": max,
	})
	if err != nil {
		return nil, fmt.Errorf("search issues: %w", err)
	}

	var payload struct {
		Issues []issuePayload `json:"issues"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("search issues: decode response: %w", err)
	}

	issues := make([]*Issue, 0, len(payload.Issues))
	for i := range payload.Issues {
		issues = append(issues, payload.Issues[i].toIssue())
	}
	return issues, nil
}

func (c *MCPClient) TransitionIssue(ctx context.Context, key, status string) error {
	_, err := c.callTool(ctx, toolTransition, map[string]any{
		"issue_key": key,
		"status":    status,
	})
	if err != nil {
		return fmt.Errorf("transition issue %s to %q: %w", key, status, err)
	}
	return nil
}

func (c *MCPClient) AddComment(ctx context.Context, key, body string) error {
	_, err := c.callTool(ctx, toolAddComment, map[string]any{
		"issue_key": key,
		"comment":   body,
	})
	if err != nil {
		return fmt.Errorf("add comment to %s: %w", key, err)
	}
	return nil
}

// callTool invokes one MCP tool and returns the concatenated text content.
func (c *MCPClient) callTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if c.session == nil {
		return "", fmt.Errorf("tracker MCP session not connected")
	}

	result, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("MCP call %s: %w", name, err)
	}

	text := extractTextContent(result)
	if result.IsError {
		// The tracker tool server reports missing issues as tool errors;
		// surface those as ErrNotFound so they are never retried.
		if strings.Contains(strings.ToLower(text), "not found") ||
			strings.Contains(strings.ToLower(text), "does not exist") {
			return "", fmt.Errorf("%s: %w", text, ErrNotFound)
		}
		return "", fmt.Errorf("MCP tool error: %s", text)
	}

	return text, nil
}

// extractTextContent extracts text from MCP Content items.
func extractTextContent(result *mcpsdk.CallToolResult) string {
	if result == nil {
		return ""
	}

	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}

	return strings.Join(parts, "\n")
}

// issuePayload matches the Jira-shaped JSON the tracker tools return.
type issuePayload struct {
	Key    string `json:"key"`
	Fields struct {
		Summary string `json:"summary"`
		Status  struct {
			Name string `json:"name"`
		} `json:"status"`
		Priority struct {
			Name string `json:"name"`
		} `json:"priority"`
		Created string `json:"created"`
		Updated string `json:"updated"`
		Comment struct {
			Comments []struct {
				Body    string `json:"body"`
				Created string `json:"created"`
			} `json:"comments"`
		} `json:"comment"`
	} `json:"fields"`
}

func (p *issuePayload) toIssue() *Issue {
	issue := &Issue{
		Key:      p.Key,
		Status:   p.Fields.Status.Name,
		Summary:  p.Fields.Summary,
		Priority: p.Fields.Priority.Name,
		Created:  parseTrackerTime(p.Fields.Created),
		Updated:  parseTrackerTime(p.Fields.Updated),
	}
	for _, c := range p.Fields.Comment.Comments {
		issue.Comments = append(issue.Comments, Comment{
			Body:    c.Body,
			Created: parseTrackerTime(c.Created),
		})
	}
	return issue
}

// jiraTimeLayout matches Jira's REST timestamp format.
const jiraTimeLayout = "2006-01-02T15:04:05.000-0700"

// parseTrackerTime accepts RFC 3339 or Jira's millisecond variant. A zero
// time is returned for anything unparseable; callers treat missing
// timestamps as "unknown", not fatal.
func parseTrackerTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse(jiraTimeLayout, s); err == nil {
		return t
	}
	return time.Time{}
}
