package core

import "encoding/json"

// EventHandler receives the raw payload of one signaling event.
type EventHandler func(payload json.RawMessage)

// Subscription undoes one On registration. Cancel is idempotent.
type Subscription interface {
	Cancel()
}

// SignalingBridge is the bidirectional event channel the call core
// speaks signaling over. It is shared and externally owned: the core
// only subscribes/unsubscribes and must cancel its subscriptions on
// every terminal transition. Delivery is best-effort; Send must never
// block the caller.
type SignalingBridge interface {
	Send(event EventType, payload any) error
	On(event EventType, h EventHandler) Subscription
}
