// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/ensemblechat/ensemble/internal/llm"
)

// Step is one scripted invocation outcome.
type Step struct {
	Response *llm.Response
	Err      error
}

// Client replays a fixed script of responses, recording every request it
// receives. When the script runs out it keeps returning the last step, or a
// Fallback function's result when one is set.
type Client struct {
	mu       sync.Mutex
	script   []Step
	calls    []llm.Request
	Fallback func(req llm.Request) (*llm.Response, error)
}

// NewClient creates a scripted client.
func NewClient(steps ...Step) *Client {
	return &Client{script: steps}
}

// Text is shorthand for a successful text-only step.
func Text(content string) Step {
	return Step{Response: &llm.Response{Content: content}}
}

// Fail is shorthand for an error step.
func Fail(err error) Step {
	return Step{Err: err}
}

// Invoke implements llm.Client.
func (c *Client) Invoke(_ context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	idx := len(c.calls) - 1
	var step Step
	switch {
	case idx < len(c.script):
		step = c.script[idx]
	case c.Fallback != nil:
		fallback := c.Fallback
		c.mu.Unlock()
		return fallback(req)
	case len(c.script) > 0:
		step = c.script[len(c.script)-1]
	}
	c.mu.Unlock()

	if step.Err != nil {
		return nil, step.Err
	}
	if step.Response != nil {
		resp := *step.Response
		return &resp, nil
	}
	return &llm.Response{Content: "ok"}, nil
}

// Calls returns a copy of every request received so far.
func (c *Client) Calls() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Request, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallCount returns the number of invocations so far.
func (c *Client) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}
