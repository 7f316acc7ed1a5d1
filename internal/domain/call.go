package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallID is an opaque, globally unique identifier for one logical call.
// Assigned exactly once by whichever side creates the session and carried
// unchanged on every signaling message for that call.
type CallID string

func NewCallID() CallID {
	return CallID(uuid.NewString())
}

type CallKind string

const (
	KindVoice CallKind = "voice"
	KindVideo CallKind = "video"
)

type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// LifecycleState is the single source of truth for where a call is.
// Illegal combinations of "active/incoming/connected" booleans are
// unrepresentable by construction.
type LifecycleState int

const (
	StateIdle LifecycleState = iota
	StateOutgoingRinging
	StateIncomingRinging
	StateConnecting
	StateConnected
	StateEnded
)

func (s LifecycleState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOutgoingRinging:
		return "outgoing_ringing"
	case StateIncomingRinging:
		return "incoming_ringing"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can occur without
// creating a new session.
func (s LifecycleState) Terminal() bool {
	return s == StateEnded
}

// EndReason records why a call reached the terminal state.
type EndReason string

const (
	EndReasonNone         EndReason = ""
	EndReasonLocalHangup  EndReason = "local_hangup"
	EndReasonRemoteHangup EndReason = "remote_hangup"
	EndReasonRejected     EndReason = "rejected"
	EndReasonDeclined     EndReason = "declined"
	EndReasonMediaFailure EndReason = "media_failure"
	EndReasonNegotiation  EndReason = "negotiation_failure"
	EndReasonConnectivity EndReason = "connectivity_lost"
	EndReasonDisposed     EndReason = "disposed"
)

// ParticipantInfo is the caller metadata attached to a call at creation
// and never mutated afterwards.
type ParticipantInfo struct {
	UserID UserID   `json:"userId"`
	Name   string   `json:"name"`
	Avatar string   `json:"avatar,omitempty"`
	Kind   CallKind `json:"kind"`
}

// SessionDescription mirrors the wire shape of an SDP offer/answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate mirrors the wire shape of a trickled ICE candidate.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Snapshot is one atomic, self-contained view of the call session,
// emitted on every outward-facing change. Subscribers can render from
// it without tracking history.
type Snapshot struct {
	CallID          CallID         `json:"callId"`
	Direction       Direction      `json:"direction"`
	Kind            CallKind       `json:"kind"`
	State           LifecycleState `json:"-"`
	StateName       string         `json:"state"`
	Peer            ParticipantInfo `json:"peer"`
	IsMuted         bool           `json:"isMuted"`
	IsVideoEnabled  bool           `json:"isVideoEnabled"`
	IsSpeakerOn     bool           `json:"isSpeakerOn"`
	HasLocalMedia   bool           `json:"hasLocalMedia"`
	HasRemoteMedia  bool           `json:"hasRemoteMedia"`
	ConnectedAt     time.Time      `json:"connectedAt,omitzero"`
	DurationSeconds int            `json:"durationSeconds"`
	EndReason       EndReason      `json:"endReason,omitempty"`
}

// HistoryRecord is the terminal-state summary handed to the history
// sink once the call is over.
type HistoryRecord struct {
	CallID          CallID    `json:"callId"`
	Direction       Direction `json:"direction"`
	Kind            CallKind  `json:"kind"`
	PeerID          UserID    `json:"peerId"`
	StartedAt       time.Time `json:"startedAt"`
	ConnectedAt     time.Time `json:"connectedAt,omitzero"`
	EndedAt         time.Time `json:"endedAt"`
	DurationSeconds int       `json:"durationSeconds"`
	EndReason       EndReason `json:"endReason"`
}
