// Package faketest provides a scripted Caller double for engine tests,
// playing the role the teacher's test_openrouter_client.go / mock HTTP
// server played for QueryModel — except in-process, since engine tests
// exercise the pipeline rather than the HTTP client.
package faketest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"llm-council-engine/internal/modelcaller"
)

// Script is one scripted outcome for a model. If Err is set, Call returns it
// (wrapped as a *modelcaller.CallError if it isn't one already). Delay, if
// set, is slept (bounded by the context) before responding — used to
// exercise per-call timeouts deterministically.
type Script struct {
	Text  string
	Err   error
	Delay time.Duration
}

// Caller is a goroutine-safe scripted Caller. Scripts are keyed by model;
// a model with no script returns a generic error, matching "this model
// doesn't exist for this test" rather than panicking.
type Caller struct {
	mu      sync.Mutex
	scripts map[string]Script
	calls   []string
}

func New() *Caller {
	return &Caller{scripts: make(map[string]Script)}
}

// Set scripts model's outcome for all future calls.
func (c *Caller) Set(model string, s Script) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[model] = s
}

// Calls returns the models Call was invoked on, in invocation order.
func (c *Caller) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

func (c *Caller) Call(ctx context.Context, model, prompt string, timeout time.Duration) (string, time.Duration, error) {
	c.mu.Lock()
	s, ok := c.scripts[model]
	c.calls = append(c.calls, model)
	c.mu.Unlock()

	if !ok {
		return "", 0, &modelcaller.CallError{Kind: modelcaller.FailureNetwork, Model: model, Err: fmt.Errorf("faketest: no script for model %q", model)}
	}

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return "", 0, &modelcaller.CallError{Kind: modelcaller.FailureTimeout, Model: model, Err: ctx.Err()}
		}
	}

	if s.Err != nil {
		if ce, ok := s.Err.(*modelcaller.CallError); ok {
			return "", 0, ce
		}
		return "", 0, &modelcaller.CallError{Kind: modelcaller.FailureUpstream5xx, Model: model, Err: s.Err}
	}

	return s.Text, s.Delay, nil
}
