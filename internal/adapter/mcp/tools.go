package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/promptdeck/promptdeck/internal/domain/experiment"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.getActivePromptTool(),
		s.getPromptHistoryTool(),
		s.getExperimentTool(),
		s.listExperimentsTool(),
		s.evaluateExperimentTool(),
	)
}

func (s *Server) getActivePromptTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_active_prompt",
		mcplib.WithDescription("Get the active version of a prompt by name"),
		mcplib.WithString("prompt_name",
			mcplib.Required(),
			mcplib.Description("The prompt name to look up"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetActivePrompt,
	}
}

func (s *Server) getPromptHistoryTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_prompt_history",
		mcplib.WithDescription("Get all versions of a prompt, newest first"),
		mcplib.WithString("prompt_name",
			mcplib.Required(),
			mcplib.Description("The prompt name to look up"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetPromptHistory,
	}
}

func (s *Server) getExperimentTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_experiment",
		mcplib.WithDescription("Get an A/B test with its latest results snapshot"),
		mcplib.WithString("test_id",
			mcplib.Required(),
			mcplib.Description("The A/B test ID to look up"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetExperiment,
	}
}

func (s *Server) listExperimentsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_experiments",
		mcplib.WithDescription("List A/B tests, optionally filtered by prompt name and status"),
		mcplib.WithString("prompt_name",
			mcplib.Description("Only tests for this prompt name"),
		),
		mcplib.WithString("status",
			mcplib.Description("Only tests in this lifecycle status (draft, running, paused, completed, cancelled)"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleListExperiments,
	}
}

func (s *Server) evaluateExperimentTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("evaluate_experiment",
		mcplib.WithDescription("Evaluate a running A/B test's accumulated samples and return the statistical outcome"),
		mcplib.WithString("test_id",
			mcplib.Required(),
			mcplib.Description("The A/B test ID to evaluate"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleEvaluateExperiment,
	}
}

func (s *Server) handleGetActivePrompt(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Prompts == nil {
		return mcplib.NewToolResultError("prompt reader not configured"), nil
	}
	args := req.GetArguments()
	name, ok := args["prompt_name"].(string)
	if !ok || name == "" {
		return mcplib.NewToolResultError("prompt_name is required"), nil
	}
	v, err := s.deps.Prompts.GetActive(ctx, name)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get active version of %s", name), err,
		), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal version", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetPromptHistory(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Prompts == nil {
		return mcplib.NewToolResultError("prompt reader not configured"), nil
	}
	args := req.GetArguments()
	name, ok := args["prompt_name"].(string)
	if !ok || name == "" {
		return mcplib.NewToolResultError("prompt_name is required"), nil
	}
	versions, err := s.deps.Prompts.History(ctx, name)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get history of %s", name), err,
		), nil
	}
	data, err := json.Marshal(versions)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal versions", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetExperiment(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Experiments == nil {
		return mcplib.NewToolResultError("experiment reader not configured"), nil
	}
	args := req.GetArguments()
	testID, ok := args["test_id"].(string)
	if !ok || testID == "" {
		return mcplib.NewToolResultError("test_id is required"), nil
	}
	t, err := s.deps.Experiments.Get(ctx, testID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get experiment %s", testID), err,
		), nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal experiment", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleListExperiments(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Experiments == nil {
		return mcplib.NewToolResultError("experiment reader not configured"), nil
	}
	args := req.GetArguments()
	filter := experiment.Filter{}
	if name, ok := args["prompt_name"].(string); ok {
		filter.PromptName = name
	}
	if status, ok := args["status"].(string); ok {
		filter.Status = experiment.Status(status)
	}
	tests, err := s.deps.Experiments.List(ctx, filter)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list experiments", err), nil
	}
	data, err := json.Marshal(tests)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal experiments", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleEvaluateExperiment(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Decisions == nil {
		return mcplib.NewToolResultError("evaluator not configured"), nil
	}
	args := req.GetArguments()
	testID, ok := args["test_id"].(string)
	if !ok || testID == "" {
		return mcplib.NewToolResultError("test_id is required"), nil
	}
	ev, err := s.deps.Decisions.Evaluate(ctx, testID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to evaluate experiment %s", testID), err,
		), nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal evaluation", err), nil
	}
	return toolResultJSON(string(data)), nil
}
