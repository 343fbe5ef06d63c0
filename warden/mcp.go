package warden

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers the warden tools on an MCP server, exposing the
// history, on-demand checks, restore, and the export log to agents.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerHistoryTool(srv)
	s.registerCheckTool(srv)
	s.registerRestoreTool(srv)
	s.registerExportTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	sch := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sch["required"] = required
	}
	return sch
}

// addTool wires a decode-then-endpoint handler, reporting failures through
// the tool result rather than the transport.
func addTool[Req any](srv *mcp.Server, tool *mcp.Tool, endpoint func(ctx context.Context, req Req) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r Req
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("invalid arguments: %w", err))
				return &res, nil
			}
		}

		resp, err := endpoint(ctx, r)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

type emptyRequest struct{}

func (s *Service) registerHistoryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tabwarden_get_history",
		Description: "List recently auto-closed tabs, newest first.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	addTool(srv, tool, func(ctx context.Context, _ emptyRequest) (any, error) {
		return s.History(ctx)
	})
}

func (s *Service) registerCheckTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tabwarden_run_check",
		Description: "Run a tab check now: tabs open past the threshold and judged unread are closed.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	addTool(srv, tool, func(ctx context.Context, _ emptyRequest) (any, error) {
		if err := s.RunCheck(ctx); err != nil {
			return nil, err
		}
		return map[string]string{"status": "check complete"}, nil
	})
}

type restoreRequest struct {
	Index int `json:"index"`
}

func (s *Service) registerRestoreTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tabwarden_restore_entry",
		Description: "Reopen a closed tab by its history index (0 is the most recent) and remove it from the history.",
		InputSchema: inputSchema(map[string]any{
			"index": map[string]any{"type": "integer", "description": "History index, newest first"},
		}, []string{"index"}),
	}
	addTool(srv, tool, func(ctx context.Context, r restoreRequest) (any, error) {
		if err := s.RestoreHistoryEntry(ctx, r.Index); err != nil {
			return nil, err
		}
		return map[string]string{"status": "restored"}, nil
	})
}

func (s *Service) registerExportTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tabwarden_export_log",
		Description: "Rewrite the markdown export file from the accumulated closure log.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	addTool(srv, tool, func(ctx context.Context, _ emptyRequest) (any, error) {
		if err := s.ExportNow(ctx); err != nil {
			return nil, err
		}
		return map[string]string{"status": "exported"}, nil
	})
}
