package automator

import (
	"context"
	"sync"

	"github.com/promptrelay/promptrelay/provider"
)

// MockFactory is a test double for Factory. It constructs Mock sessions,
// records every lifecycle event and prompt call, and tracks how many
// instances are live per provider so tests can assert the exclusive-
// ownership invariant.
type MockFactory struct {
	mu sync.Mutex

	// ConstructFunc, when set, runs inside construction. Returning an
	// error fails construction; sleeping inside it simulates slow logins.
	ConstructFunc func(ctx context.Context, p provider.Provider) error

	// SingleFunc overrides the response to ProcessSingle. The default
	// echoes the prompt with a "re:" prefix.
	SingleFunc func(p provider.Provider, prompt string) (string, error)

	// ChainFunc overrides the response to ProcessChain. The default
	// applies the single behavior to each prompt in order.
	ChainFunc func(p provider.Provider, prompts []string) ([]string, error)

	// CloseErr, when set, is returned by every Close.
	CloseErr error

	constructs map[string]int
	closes     map[string]int
	live       map[string]int
	maxLive    map[string]int
	calls      []MockCall
}

// MockCall records one prompt operation observed by a Mock.
type MockCall struct {
	Provider string
	Op       string // "single" or "chain"
	Prompts  []string
}

// NewMockFactory creates an empty MockFactory.
func NewMockFactory() *MockFactory {
	return &MockFactory{
		constructs: make(map[string]int),
		closes:     make(map[string]int),
		live:       make(map[string]int),
		maxLive:    make(map[string]int),
	}
}

// New is the Factory function; pass it wherever a Factory is expected.
func (f *MockFactory) New(ctx context.Context, p provider.Provider) (Automator, error) {
	if f.ConstructFunc != nil {
		if err := f.ConstructFunc(ctx, p); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructs[p.ID]++
	f.live[p.ID]++
	if f.live[p.ID] > f.maxLive[p.ID] {
		f.maxLive[p.ID] = f.live[p.ID]
	}
	return &Mock{factory: f, provider: p}, nil
}

func (f *MockFactory) record(call MockCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *MockFactory) recordClose(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes[id]++
	f.live[id]--
}

// Constructs returns how many sessions were constructed for a provider.
func (f *MockFactory) Constructs(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.constructs[id]
}

// Closes returns how many sessions were closed for a provider.
func (f *MockFactory) Closes(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes[id]
}

// Live returns constructs minus closes for a provider.
func (f *MockFactory) Live(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live[id]
}

// MaxLive returns the highest number of simultaneously live sessions ever
// observed for a provider.
func (f *MockFactory) MaxLive(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxLive[id]
}

// Calls returns a copy of all recorded prompt operations in order.
func (f *MockFactory) Calls() []MockCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]MockCall(nil), f.calls...)
}

// Mock is a scripted Automator created by MockFactory.
type Mock struct {
	factory  *MockFactory
	provider provider.Provider

	mu     sync.Mutex
	closed bool
}

// ProcessSingle implements Automator.
func (m *Mock) ProcessSingle(ctx context.Context, prompt string) (string, error) {
	m.factory.record(MockCall{Provider: m.provider.ID, Op: "single", Prompts: []string{prompt}})
	if m.factory.SingleFunc != nil {
		return m.factory.SingleFunc(m.provider, prompt)
	}
	return "re:" + prompt, nil
}

// ProcessChain implements Automator.
func (m *Mock) ProcessChain(ctx context.Context, prompts []string) ([]string, error) {
	m.factory.record(MockCall{Provider: m.provider.ID, Op: "chain", Prompts: append([]string(nil), prompts...)})
	if m.factory.ChainFunc != nil {
		return m.factory.ChainFunc(m.provider, prompts)
	}
	out := make([]string, 0, len(prompts))
	for _, prompt := range prompts {
		if m.factory.SingleFunc != nil {
			resp, err := m.factory.SingleFunc(m.provider, prompt)
			if err != nil {
				return nil, err
			}
			out = append(out, resp)
			continue
		}
		out = append(out, "re:"+prompt)
	}
	return out, nil
}

// Close implements Automator. Closing twice records only one close.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.factory.recordClose(m.provider.ID)
	return m.factory.CloseErr
}

// Closed reports whether this session has been closed.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
