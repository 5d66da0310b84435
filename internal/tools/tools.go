// Package tools implements the tool invocation layer: a registry mapping
// tool names to typed handlers, validated at construction so an unknown or
// malformed tool definition is a startup error rather than a runtime
// surprise.
//
// Toward the pipeline the layer never fails: every outcome, including
// handler errors and unknown tool names, is normalized into the ToolResult
// error field, and execution time is measured regardless.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ensemblechat/ensemble/internal/llm"
	"github.com/ensemblechat/ensemble/internal/model"
)

// Handler executes one tool call. A returned error is captured into the
// ToolResult, never propagated.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Definition declares one tool: its manifest entry plus its handler.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler
}

// Registry dispatches tool calls to their handlers.
type Registry struct {
	logger *slog.Logger
	defs   map[string]Definition
	order  []string
}

// NewRegistry builds a registry from the given definitions, validating each
// one. Duplicate names, empty names, and nil handlers are configuration
// errors.
func NewRegistry(logger *slog.Logger, defs ...Definition) (*Registry, error) {
	r := &Registry{
		logger: logger.With("component", "tool_registry"),
		defs:   make(map[string]Definition, len(defs)),
	}
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("tool definition with empty name")
		}
		if def.Handler == nil {
			return nil, fmt.Errorf("tool %q has no handler", def.Name)
		}
		if _, dup := r.defs[def.Name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", def.Name)
		}
		r.defs[def.Name] = def
		r.order = append(r.order, def.Name)
	}
	r.logger.Info("tool registry initialized", "tools", r.order)
	return r, nil
}

// Manifest returns the tool declarations in registration order, in the
// shape the model-invocation capability expects.
func (r *Registry) Manifest() []llm.Tool {
	out := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		def := r.defs[name]
		out = append(out, llm.Tool{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}
	return out
}

// Invoke executes the named tool and normalizes the outcome into a
// ToolResult. It never panics out and never returns an error; an unknown
// tool name yields a result with the "Unknown function" error.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) model.ToolResult {
	start := time.Now()
	result := model.ToolResult{ToolName: name, Input: args}

	def, ok := r.defs[name]
	if !ok {
		result.Error = "Unknown function"
		result.ExecutionTime = time.Since(start)
		r.logger.WarnContext(ctx, "unknown tool requested", "tool", name)
		return result
	}

	output, err := func() (out any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("tool panicked: %v", rec)
			}
		}()
		return def.Handler(ctx, args)
	}()
	result.ExecutionTime = time.Since(start)

	if err != nil {
		result.Error = err.Error()
		r.logger.WarnContext(ctx, "tool invocation failed",
			"tool", name, "error", err, "duration", result.ExecutionTime)
		return result
	}

	result.Output = output
	r.logger.DebugContext(ctx, "tool invocation succeeded",
		"tool", name, "duration", result.ExecutionTime)
	return result
}
