package types

import (
	"context"
)

// EventType names the events an adapter can emit
type EventType string

const (
	EventMessage       EventType = "message"
	EventQR            EventType = "qr"
	EventReady         EventType = "ready"
	EventAuthenticated EventType = "authenticated"
	EventDisconnected  EventType = "disconnected"
	EventAuthFailure   EventType = "auth_failure"
	EventChangeState   EventType = "change_state"
)

// Event is the payload delivered to subscribed handlers. Only the fields
// relevant to the event type are populated.
type Event struct {
	Type    EventType
	Message *NormalizedMessage
	QR      string
	Reason  string
	State   ConnectionState
}

// EventHandler receives adapter events. Handlers are invoked synchronously in
// provider event order; they must not block for long.
type EventHandler func(Event)

// WAClient is the uniform capability surface over one provider gateway.
// The rest of the system depends only on this contract; provider-native
// shapes never leak past the adapter boundary.
type WAClient interface {
	// Name identifies the adapter instance in logs and health output
	Name() string

	// Initialize establishes the underlying connection or session. It is
	// idempotent and does not fail on expected transient network issues;
	// those surface through disconnected/auth_failure events.
	Initialize(ctx context.Context) error

	// SendMessage delivers text or media to a chat. It returns ErrNotConnected
	// when no session is established; provider errors are propagated so the
	// reliable send layer can classify and retry them.
	SendMessage(ctx context.Context, chatID string, content OutboundContent) (*SendResult, error)

	// SendSeen marks a chat as read. Best-effort: provider failures are
	// logged, never returned.
	SendSeen(ctx context.Context, chatID string) error

	GetState() ConnectionState
	IsReady() bool

	// WaitReady blocks until the adapter is ready or the context is done
	WaitReady(ctx context.Context) error

	// Readiness returns a point-in-time snapshot for the health surface
	Readiness() ClientReadinessState

	// GetNumberID resolves a phone number to its WhatsApp identity. It
	// returns (nil, nil) when the number cannot be resolved.
	GetNumberID(ctx context.Context, phone string) (*NumberID, error)

	// HydrateChat re-fetches chat metadata to warm the provider's internal
	// cache. Used by the session-corruption recovery path.
	HydrateChat(ctx context.Context, chatID string) error

	// Logout terminates the session and clears local auth material
	Logout(ctx context.Context) error

	// Destroy tears down the connection and removes all listeners. Safe to
	// call multiple times.
	Destroy() error

	// Event subscription. On returns a subscription id usable with Off.
	On(event EventType, handler EventHandler) int
	Once(event EventType, handler EventHandler) int
	Off(event EventType, id int)
	ListenerCount(event EventType) int
}
