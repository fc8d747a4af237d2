// Package mcpserver exposes the workflow manager to MCP agent clients.
// The automation agents drive the workflow through these tools instead
// of talking to the ticket tracker directly, so every state change goes
// through transition validation.
package mcpserver

import (
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/marcus-qen/selfheal/internal/engine"
	"github.com/marcus-qen/selfheal/internal/query"
)

// Version is injected from the daemon build metadata.
var Version = "dev"

// MCPServer exposes workflow operations as MCP tools.
type MCPServer struct {
	server  *mcp.Server
	handler http.Handler
	engine  *engine.Engine
	query   *query.Query
	logger  *zap.Logger
}

// New creates and wires the MCP tool surface.
func New(eng *engine.Engine, q *query.Query, logger *zap.Logger) *MCPServer {
	if logger == nil {
		logger = zap.NewNop()
	}

	implVersion := Version
	if implVersion == "" {
		implVersion = "dev"
	}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "selfheal",
		Version: implVersion,
	}, nil)

	m := &MCPServer{
		server: srv,
		engine: eng,
		query:  q,
		logger: logger.Named("mcp"),
	}

	m.registerTools()
	m.handler = mcp.NewSSEHandler(func(_ *http.Request) *mcp.Server {
		return m.server
	}, nil)

	return m
}

// Handler returns the HTTP SSE transport handler mounted at /mcp.
func (s *MCPServer) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return s.handler
}
