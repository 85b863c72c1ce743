// Package mock provides a test double for the llm package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/chronicler/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Response is the default result returned by Complete.
	Response string

	// Script, if non-empty, overrides Response: each Complete call consumes
	// the next result. Once exhausted, Response is used again.
	Script []string

	// Err, if non-nil, is returned as the error from Complete.
	Err error

	// Fn, if non-nil, replaces the canned behaviour entirely.
	Fn func(ctx context.Context, req llm.Request) (string, error)

	// Calls records every request passed to Complete, in order.
	Calls []llm.Request
}

// Compile-time interface check.
var _ llm.Provider = (*Provider)(nil)

// Complete records the call and returns the scripted result.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (string, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	fn := p.Fn
	var resp string
	if len(p.Script) > 0 {
		resp = p.Script[0]
		p.Script = p.Script[1:]
	} else {
		resp = p.Response
	}
	err := p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return resp, err
}

// CallCount returns the number of Complete invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastCall returns the most recent request, or a zero request if none.
func (p *Provider) LastCall() llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return llm.Request{}
	}
	return p.Calls[len(p.Calls)-1]
}
