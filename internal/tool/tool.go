// Package tool executes model-requested tool calls against an MCP server.
// The daemon is an MCP client here: tools live in an external process
// reached over stdio, and the executor forwards calls and collects text
// results.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/agentd/internal/config"
	"github.com/fyrsmithlabs/agentd/internal/fault"
)

// Call is one tool invocation to perform.
type Call struct {
	ID        string
	Name      string
	Arguments string // JSON-encoded
}

// Outcome is the result of one call.
type Outcome struct {
	CallID string
	Output string
	Failed bool
}

// Spec describes an available tool.
type Spec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Executor runs tool calls. Implementations must be safe for concurrent
// use.
type Executor interface {
	List(ctx context.Context) ([]Spec, error)
	Execute(ctx context.Context, call Call) (*Outcome, error)
}

// MCPExecutor speaks MCP to a subprocess over stdio.
type MCPExecutor struct {
	session *mcp.ClientSession
}

// NewMCPExecutor launches the configured MCP server and connects to it.
// The subprocess lives as long as the session; Close shuts both down.
func NewMCPExecutor(ctx context.Context, cfg config.ToolsConfig) (*MCPExecutor, error) {
	if cfg.MCPCommand == "" {
		return nil, fmt.Errorf("tools.mcp_command not configured")
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "agentd",
		Version: "1.0.0",
	}, nil)

	cmd := exec.Command(cfg.MCPCommand, cfg.MCPArgs...)
	session, err := client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to mcp server %s: %w", cfg.MCPCommand, err)
	}
	return &MCPExecutor{session: session}, nil
}

// List implements Executor.
func (e *MCPExecutor) List(ctx context.Context) ([]Spec, error) {
	res, err := e.session.ListTools(ctx, nil)
	if err != nil {
		return nil, fault.Dependency("tool.list", err)
	}
	specs := make([]Spec, 0, len(res.Tools))
	for _, t := range res.Tools {
		spec := Spec{Name: t.Name, Description: t.Description}
		if t.InputSchema != nil {
			if raw, merr := json.Marshal(t.InputSchema); merr == nil {
				_ = json.Unmarshal(raw, &spec.Schema)
			}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Execute implements Executor. Tool-reported errors come back as a failed
// outcome, not a Go error: the model gets to see what went wrong and
// react.
func (e *MCPExecutor) Execute(ctx context.Context, call Call) (*Outcome, error) {
	var args map[string]any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return nil, fault.Validationf("tool.execute",
				"arguments for %s are not valid JSON: %v", call.Name, err)
		}
	}

	res, err := e.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      call.Name,
		Arguments: args,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fault.Timeout("tool.execute", err)
		}
		return nil, fault.Dependency("tool.execute", err)
	}

	return &Outcome{
		CallID: call.ID,
		Output: flattenContent(res.Content),
		Failed: res.IsError,
	}, nil
}

// Close tears down the session and the server subprocess.
func (e *MCPExecutor) Close() error {
	return e.session.Close()
}

// flattenContent joins the text parts of a tool result.
func flattenContent(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if text, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}
