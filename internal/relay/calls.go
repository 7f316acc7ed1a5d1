package relay

import (
	"sync"
	"time"

	"github.com/petmatch/pawcall/internal/domain"
)

// CallStatus tracks a relayed call through its relay-visible phases.
type CallStatus string

const (
	CallRinging CallStatus = "ringing"
	CallActive  CallStatus = "active"
)

type callEntry struct {
	CallID    domain.CallID
	CallerID  domain.UserID
	CalleeID  domain.UserID
	Kind      domain.CallKind
	Status    CallStatus
	StartedAt time.Time
}

// peerOf returns the counterparty for a registered participant.
func (e *callEntry) peerOf(id domain.UserID) (domain.UserID, bool) {
	switch id {
	case e.CallerID:
		return e.CalleeID, true
	case e.CalleeID:
		return e.CallerID, true
	default:
		return "", false
	}
}

// CallRegistry is the relay's in-memory view of live calls, used to
// route signaling between the two participants of a call id and to
// answer "is this user busy".
type CallRegistry struct {
	mu     sync.Mutex
	calls  map[domain.CallID]*callEntry
	byUser map[domain.UserID]domain.CallID
}

func NewCallRegistry() *CallRegistry {
	return &CallRegistry{
		calls:  make(map[domain.CallID]*callEntry),
		byUser: make(map[domain.UserID]domain.CallID),
	}
}

// Add registers a ringing call. It fails when either participant is
// already in a live call.
func (r *CallRegistry) Add(id domain.CallID, caller, callee domain.UserID, kind domain.CallKind, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.byUser[caller]; busy {
		return false
	}
	if _, busy := r.byUser[callee]; busy {
		return false
	}
	r.calls[id] = &callEntry{
		CallID:    id,
		CallerID:  caller,
		CalleeID:  callee,
		Kind:      kind,
		Status:    CallRinging,
		StartedAt: now,
	}
	r.byUser[caller] = id
	r.byUser[callee] = id
	return true
}

func (r *CallRegistry) Get(id domain.CallID) (callEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.calls[id]
	if !ok {
		return callEntry{}, false
	}
	return *e, true
}

func (r *CallRegistry) MarkActive(id domain.CallID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.calls[id]; ok {
		e.Status = CallActive
	}
}

// Remove drops a call and frees both participants.
func (r *CallRegistry) Remove(id domain.CallID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.calls[id]
	if !ok {
		return
	}
	delete(r.calls, id)
	if r.byUser[e.CallerID] == id {
		delete(r.byUser, e.CallerID)
	}
	if r.byUser[e.CalleeID] == id {
		delete(r.byUser, e.CalleeID)
	}
}

// DropUser removes every call the user participates in, for connection
// teardown.
func (r *CallRegistry) DropUser(id domain.UserID) []callEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	callID, ok := r.byUser[id]
	if !ok {
		return nil
	}
	e := r.calls[callID]
	delete(r.calls, callID)
	delete(r.byUser, e.CallerID)
	delete(r.byUser, e.CalleeID)
	return []callEntry{*e}
}

// Busy reports whether the user is in a live call.
func (r *CallRegistry) Busy(id domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, busy := r.byUser[id]
	return busy
}
