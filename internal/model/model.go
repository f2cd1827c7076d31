// Package model invokes the language model behind a request. The daemon
// talks to providers through langchaingo so swapping providers is a config
// change, not a code change.
package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/agentd/internal/config"
	"github.com/fyrsmithlabs/agentd/internal/fault"
)

// ToolCall is a tool invocation the model asked for.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Request is one model invocation.
type Request struct {
	System  string
	Prompt  string
	Context string // rendered context bundle, prepended as a system part
	Tools   []ToolSpec
}

// ToolSpec advertises a callable tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Response is what came back.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// Invoker generates responses. Implementations must be safe for concurrent
// use.
type Invoker interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// langchainInvoker adapts llms.Model to the Invoker interface.
type langchainInvoker struct {
	model llms.Model
}

// NewInvoker builds an invoker for the configured provider.
func NewInvoker(cfg config.ModelConfig) (Invoker, error) {
	var (
		m   llms.Model
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "fake":
		// Dry-run mode: no provider credentials needed, every request
		// gets a canned acknowledgement.
		return NewScriptedInvoker(), nil
	case "openai":
		m, err = openai.New(
			openai.WithModel(cfg.Name),
			openai.WithToken(cfg.APIKey.Value()),
		)
	case "anthropic":
		m, err = anthropic.New(
			anthropic.WithModel(cfg.Name),
			anthropic.WithToken(cfg.APIKey.Value()),
		)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", cfg.Provider, err)
	}
	return &langchainInvoker{model: m}, nil
}

// Generate implements Invoker.
func (i *langchainInvoker) Generate(ctx context.Context, req Request) (*Response, error) {
	messages := make([]llms.MessageContent, 0, 3)
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	if req.Context != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem,
			"Relevant context:\n"+req.Context))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	var options []llms.CallOption
	if len(req.Tools) > 0 {
		options = append(options, llms.WithTools(convertTools(req.Tools)))
	}

	resp, err := i.model.GenerateContent(ctx, messages, options...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fault.Timeout("model.generate", err)
		}
		return nil, fault.Dependency("model.generate", err)
	}
	return convertResponse(resp)
}

func convertTools(specs []ToolSpec) []llms.Tool {
	tools := make([]llms.Tool, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Schema,
			},
		})
	}
	return tools
}

func convertResponse(resp *llms.ContentResponse) (*Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fault.Dependency("model.generate",
			fmt.Errorf("model returned no choices"))
	}
	choice := resp.Choices[0]

	out := &Response{Text: choice.Content}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.FunctionCall.Name,
			Arguments: tc.FunctionCall.Arguments,
		})
	}
	return out, nil
}
