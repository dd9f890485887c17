// Package mock provides an in-memory test double for the [mcp.Registry] and
// [mcp.Dispatcher] interfaces.
//
// [Broker] records every method call for assertion in tests and exposes
// exported fields that control what the mock returns. It is safe for
// concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	b := &mock.Broker{}
//	b.ListToolsResult = []mcp.ToolDescriptor{{Name: "time_http_get_current_time"}}
//	b.InvokeResults = map[string]mcp.CallResult{
//	    "time_http_get_current_time": {OK: true, Content: "12:00"},
//	}
//
//	// inject b into the system under test …
//
//	if got := b.CallCount("Invoke"); got != 1 {
//	    t.Errorf("expected 1 Invoke call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/tealdrake/mantle/internal/mcp"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Broker is a configurable test double implementing both [mcp.Registry] and
// [mcp.Dispatcher].
type Broker struct {
	mu sync.Mutex

	// calls records every method invocation in order.
	calls []Call

	// RefreshErr is returned by [Broker.Refresh] when non-nil.
	RefreshErr error

	// ListToolsResult is returned by [Broker.ListTools] when ListToolsErr is
	// nil. When nil, ListTools returns an empty non-nil slice.
	ListToolsResult []mcp.ToolDescriptor

	// ListToolsErr is returned by [Broker.ListTools] when non-nil.
	ListToolsErr error

	// InvokeResults maps qualified tool names to the result [Broker.Invoke]
	// returns for them. Names without an entry yield a failed CallResult.
	InvokeResults map[string]mcp.CallResult
}

// Calls returns a copy of all recorded method invocations.
func (b *Broker) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (b *Broker) CallCount(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (b *Broker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

// Refresh implements [mcp.Registry].
func (b *Broker) Refresh(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, Call{Method: "Refresh"})
	return b.RefreshErr
}

// ListTools implements [mcp.Registry].
func (b *Broker) ListTools(_ context.Context) ([]mcp.ToolDescriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, Call{Method: "ListTools"})
	if b.ListToolsErr != nil {
		return nil, b.ListToolsErr
	}
	if b.ListToolsResult == nil {
		return []mcp.ToolDescriptor{}, nil
	}
	out := make([]mcp.ToolDescriptor, len(b.ListToolsResult))
	copy(out, b.ListToolsResult)
	return out, nil
}

// Invoke implements [mcp.Dispatcher].
func (b *Broker) Invoke(_ context.Context, name string, arguments string) mcp.CallResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, Call{Method: "Invoke", Args: []any{name, arguments}})
	if res, ok := b.InvokeResults[name]; ok {
		return res
	}
	return mcp.CallResult{OK: false, Error: "tool " + name + " not found"}
}

// Compile-time interface checks.
var (
	_ mcp.Registry   = (*Broker)(nil)
	_ mcp.Dispatcher = (*Broker)(nil)
)
