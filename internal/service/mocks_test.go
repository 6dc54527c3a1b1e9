package service

import (
	"context"
	"sync"

	"warelay/pkg/waclient/types"
)

// mockWAClient is a field-programmable adapter for service tests. Unset
// function fields fall back to permissive defaults so each test only
// programs the behavior it exercises.
type mockWAClient struct {
	mu sync.Mutex

	name        string
	ready       bool
	state       types.ConnectionState
	readiness   types.ClientReadinessState
	sendFunc    func(ctx context.Context, chatID string, content types.OutboundContent) (*types.SendResult, error)
	hydrateFunc func(ctx context.Context, chatID string) error
	waitFunc    func(ctx context.Context) error

	sendCalls    int
	hydrateCalls int

	handlers map[types.EventType][]types.EventHandler
	nextID   int
}

func newMockClient(name string) *mockWAClient {
	return &mockWAClient{
		name:     name,
		ready:    true,
		state:    types.ConnectionConnected,
		handlers: make(map[types.EventType][]types.EventHandler),
	}
}

func (m *mockWAClient) Name() string { return m.name }

func (m *mockWAClient) Initialize(ctx context.Context) error { return nil }

func (m *mockWAClient) SendMessage(ctx context.Context, chatID string, content types.OutboundContent) (*types.SendResult, error) {
	m.mu.Lock()
	m.sendCalls++
	m.mu.Unlock()
	if m.sendFunc != nil {
		return m.sendFunc(ctx, chatID, content)
	}
	return &types.SendResult{MessageID: "mock-id"}, nil
}

func (m *mockWAClient) SendSeen(ctx context.Context, chatID string) error { return nil }

func (m *mockWAClient) GetState() types.ConnectionState { return m.state }

func (m *mockWAClient) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

func (m *mockWAClient) WaitReady(ctx context.Context) error {
	if m.waitFunc != nil {
		return m.waitFunc(ctx)
	}
	return nil
}

func (m *mockWAClient) Readiness() types.ClientReadinessState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.readiness
	if state.Name == "" {
		state.Name = m.name
	}
	return state
}

func (m *mockWAClient) GetNumberID(ctx context.Context, phone string) (*types.NumberID, error) {
	return nil, nil
}

func (m *mockWAClient) HydrateChat(ctx context.Context, chatID string) error {
	m.mu.Lock()
	m.hydrateCalls++
	m.mu.Unlock()
	if m.hydrateFunc != nil {
		return m.hydrateFunc(ctx, chatID)
	}
	return nil
}

func (m *mockWAClient) Logout(ctx context.Context) error { return nil }

func (m *mockWAClient) Destroy() error { return nil }

func (m *mockWAClient) On(event types.EventType, handler types.EventHandler) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.handlers[event] = append(m.handlers[event], handler)
	return m.nextID
}

func (m *mockWAClient) Once(event types.EventType, handler types.EventHandler) int {
	return m.On(event, handler)
}

func (m *mockWAClient) Off(event types.EventType, id int) {}

func (m *mockWAClient) ListenerCount(event types.EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers[event])
}

// emit delivers an event synchronously to the registered handlers
func (m *mockWAClient) emit(ev types.Event) {
	m.mu.Lock()
	handlers := append([]types.EventHandler(nil), m.handlers[ev.Type]...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (m *mockWAClient) sendCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendCalls
}

func (m *mockWAClient) hydrateCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hydrateCalls
}
