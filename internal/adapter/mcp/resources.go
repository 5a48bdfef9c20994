package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/promptdeck/promptdeck/internal/domain/experiment"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"promptdeck://prompts",
			"Prompt Names",
			mcplib.WithResourceDescription("All prompt names with at least one version"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePromptsResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"promptdeck://experiments/running",
			"Running Experiments",
			mcplib.WithResourceDescription("All A/B tests currently collecting samples"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRunningExperimentsResource,
	)
}

func (s *Server) handlePromptsResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Prompts == nil {
		return []mcplib.ResourceContents{
			mcplib.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     `{"error":"prompt reader not configured"}`,
			},
		}, nil
	}
	names, err := s.deps.Prompts.PromptNames(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(names)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleRunningExperimentsResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Experiments == nil {
		return []mcplib.ResourceContents{
			mcplib.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     `{"error":"experiment reader not configured"}`,
			},
		}, nil
	}
	tests, err := s.deps.Experiments.List(ctx, experiment.Filter{Status: experiment.StatusRunning})
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(tests)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
