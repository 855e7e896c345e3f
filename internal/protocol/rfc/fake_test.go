package rfc

import (
	"context"
	"sync"
)

type invocation struct {
	function string
	params   Params
}

// fakeTransport answers calls through handler and records every invocation.
type fakeTransport struct {
	mu      sync.Mutex
	handler func(function string, params Params) (Result, error)
	openErr error
	opens   int
	closes  int
	calls   []invocation
}

func (f *fakeTransport) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	return f.openErr
}

func (f *fakeTransport) Invoke(ctx context.Context, function string, params Params) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, invocation{function: function, params: params})
	handler := f.handler
	f.mu.Unlock()
	if handler == nil {
		return Result{}, nil
	}
	return handler(function, params)
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTransport) functions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.function)
	}
	return out
}
