// Package mcp exposes prompt and experiment state over the Model Context
// Protocol, so agent clients can look up active prompts and experiment
// outcomes without going through the REST API.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/promptdeck/promptdeck/internal/domain/experiment"
	"github.com/promptdeck/promptdeck/internal/domain/prompt"
)

// PromptReader provides read access to prompt versions.
type PromptReader interface {
	GetActive(ctx context.Context, promptName string) (*prompt.Version, error)
	History(ctx context.Context, promptName string) ([]prompt.Version, error)
	PromptNames(ctx context.Context) ([]string, error)
}

// ExperimentReader provides read access to A/B tests.
type ExperimentReader interface {
	Get(ctx context.Context, id string) (*experiment.Test, error)
	List(ctx context.Context, filter experiment.Filter) ([]experiment.Test, error)
}

// Evaluator computes the statistical snapshot of a test on demand.
type Evaluator interface {
	Evaluate(ctx context.Context, testID string) (*experiment.Evaluation, error)
}

// ServerConfig holds MCP server configuration.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  string
}

// ServerDeps holds the read-side dependencies the tools answer from.
type ServerDeps struct {
	Prompts     PromptReader
	Experiments ExperimentReader
	Decisions   Evaluator
}

// Server wraps an MCP server served over streamable HTTP.
type Server struct {
	cfg        ServerConfig
	deps       ServerDeps
	mcpServer  *mcpserver.MCPServer
	httpServer *http.Server
}

// NewServer creates an MCP server with all tools and resources registered.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(true),
			mcpserver.WithResourceCapabilities(true, true),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying MCP server, mainly for tests.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Start binds the listener and serves in the background. Bind errors are
// returned synchronously; serve errors are logged.
func (s *Server) Start() error {
	handler := mcpserver.NewStreamableHTTPServer(s.mcpServer)
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           AuthMiddleware(s.cfg.APIKey, handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	go func() {
		slog.Info("mcp server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func toolResultJSON(data string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(data)
}
