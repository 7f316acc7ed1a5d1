package core

import "github.com/petmatch/pawcall/internal/domain"

// EventType names a signaling message exchanged over the bridge.
type EventType string

const (
	EventInitiateCall EventType = "initiate-call"
	EventIncomingCall EventType = "incoming-call"
	EventAnswerCall   EventType = "answer-call"
	EventCallAnswered EventType = "call-answered"
	EventRejectCall   EventType = "reject-call"
	EventEndCall      EventType = "end-call"
	EventOffer        EventType = "webrtc-offer"
	EventAnswer       EventType = "webrtc-answer"
	EventICECandidate EventType = "webrtc-ice-candidate"
)

type InitiateCallPayload struct {
	CallID     domain.CallID   `json:"callId"`
	CalleeID   domain.UserID   `json:"calleeId"`
	Kind       domain.CallKind `json:"kind"`
	CallerName string          `json:"callerName"`
	Timestamp  int64           `json:"timestamp"`
}

type IncomingCallPayload struct {
	CallID       domain.CallID   `json:"callId"`
	CallerID     domain.UserID   `json:"callerId"`
	CallerName   string          `json:"callerName"`
	CallerAvatar string          `json:"callerAvatar,omitempty"`
	Kind         domain.CallKind `json:"kind"`
	Timestamp    int64           `json:"timestamp"`
}

type AnswerCallPayload struct {
	CallID domain.CallID `json:"callId"`
}

type CallAnsweredPayload struct {
	CallID   domain.CallID `json:"callId"`
	Accepted bool          `json:"accepted"`
}

type RejectCallPayload struct {
	CallID domain.CallID `json:"callId"`
}

type EndCallPayload struct {
	CallID domain.CallID `json:"callId"`
}

type OfferPayload struct {
	CallID domain.CallID             `json:"callId"`
	Offer  domain.SessionDescription `json:"offer"`
}

type AnswerPayload struct {
	CallID domain.CallID             `json:"callId"`
	Answer domain.SessionDescription `json:"answer"`
}

type ICECandidatePayload struct {
	CallID    domain.CallID       `json:"callId"`
	Candidate domain.ICECandidate `json:"candidate"`
}
