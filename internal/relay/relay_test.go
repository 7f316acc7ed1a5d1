package relay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/petmatch/pawcall/internal/adapters/signal"
	"github.com/petmatch/pawcall/internal/config"
	"github.com/petmatch/pawcall/internal/core"
	"github.com/petmatch/pawcall/internal/domain"
)

const recvTimeout = 2 * time.Second

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := New(&config.Config{Mode: "release", ReadLimit: 1 << 20, Secret: "test-secret"})
	srv := httptest.NewServer(r.SetupRouter())
	t.Cleanup(srv.Close)
	return srv
}

// wsPeer is one fake device connected to the relay under test.
type wsPeer struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialPeer(t *testing.T, srv *httptest.Server, id, name string) *wsPeer {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/call?user_id=" + id + "&display_name=" + name
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return &wsPeer{t: t, conn: conn}
}

func (p *wsPeer) send(event core.EventType, payload any) {
	p.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(p.t, err)
	frame, err := json.Marshal(signal.Envelope{Type: event, Payload: raw})
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteMessage(websocket.TextMessage, frame))
}

// recv reads the next frame, failing the test if none arrives in time.
func (p *wsPeer) recv(want core.EventType) json.RawMessage {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(recvTimeout)))
	_, data, err := p.conn.ReadMessage()
	require.NoError(p.t, err, "waiting for %s", want)
	var env signal.Envelope
	require.NoError(p.t, json.Unmarshal(data, &env))
	require.Equal(p.t, want, env.Type)
	return env.Payload
}

// ringBob puts alice and bob into a ringing call and returns the call id.
func ringBob(t *testing.T, alice, bob *wsPeer) domain.CallID {
	t.Helper()
	id := domain.CallID("call-" + t.Name())
	alice.send(core.EventInitiateCall, core.InitiateCallPayload{
		CallID:     id,
		CalleeID:   "bob",
		Kind:       domain.KindVoice,
		CallerName: "Alice",
	})
	var p core.IncomingCallPayload
	require.NoError(t, json.Unmarshal(bob.recv(core.EventIncomingCall), &p))
	require.Equal(t, id, p.CallID)
	return id
}

func TestInitiateRingsCallee(t *testing.T) {
	srv := newTestServer(t)
	alice := dialPeer(t, srv, "alice", "Alice")
	bob := dialPeer(t, srv, "bob", "Bob")

	alice.send(core.EventInitiateCall, core.InitiateCallPayload{
		CallID:     "c1",
		CalleeID:   "bob",
		Kind:       domain.KindVideo,
		CallerName: "Alice",
		Timestamp:  1234,
	})

	var p core.IncomingCallPayload
	require.NoError(t, json.Unmarshal(bob.recv(core.EventIncomingCall), &p))
	require.Equal(t, domain.CallID("c1"), p.CallID)
	require.Equal(t, domain.UserID("alice"), p.CallerID)
	require.Equal(t, "Alice", p.CallerName)
	require.Equal(t, domain.KindVideo, p.Kind)
	require.EqualValues(t, 1234, p.Timestamp)
}

func TestInitiateToOfflineCalleeIsDeclined(t *testing.T) {
	srv := newTestServer(t)
	alice := dialPeer(t, srv, "alice", "Alice")

	alice.send(core.EventInitiateCall, core.InitiateCallPayload{
		CallID:   "c1",
		CalleeID: "nobody-home",
		Kind:     domain.KindVoice,
	})

	var p core.CallAnsweredPayload
	require.NoError(t, json.Unmarshal(alice.recv(core.EventCallAnswered), &p))
	require.Equal(t, domain.CallID("c1"), p.CallID)
	require.False(t, p.Accepted)
}

func TestBusyCalleeIsDeclined(t *testing.T) {
	srv := newTestServer(t)
	alice := dialPeer(t, srv, "alice", "Alice")
	bob := dialPeer(t, srv, "bob", "Bob")
	carol := dialPeer(t, srv, "carol", "Carol")

	ringBob(t, alice, bob)

	carol.send(core.EventInitiateCall, core.InitiateCallPayload{
		CallID:   "c2",
		CalleeID: "bob",
		Kind:     domain.KindVoice,
	})

	var p core.CallAnsweredPayload
	require.NoError(t, json.Unmarshal(carol.recv(core.EventCallAnswered), &p))
	require.Equal(t, domain.CallID("c2"), p.CallID)
	require.False(t, p.Accepted)
}

func TestAnswerNotifiesCaller(t *testing.T) {
	srv := newTestServer(t)
	alice := dialPeer(t, srv, "alice", "Alice")
	bob := dialPeer(t, srv, "bob", "Bob")

	id := ringBob(t, alice, bob)
	bob.send(core.EventAnswerCall, core.AnswerCallPayload{CallID: id})

	var p core.CallAnsweredPayload
	require.NoError(t, json.Unmarshal(alice.recv(core.EventCallAnswered), &p))
	require.Equal(t, id, p.CallID)
	require.True(t, p.Accepted)
}

func TestRejectForwardedAndCallFreed(t *testing.T) {
	srv := newTestServer(t)
	alice := dialPeer(t, srv, "alice", "Alice")
	bob := dialPeer(t, srv, "bob", "Bob")

	id := ringBob(t, alice, bob)
	bob.send(core.EventRejectCall, core.RejectCallPayload{CallID: id})

	var p core.RejectCallPayload
	require.NoError(t, json.Unmarshal(alice.recv(core.EventRejectCall), &p))
	require.Equal(t, id, p.CallID)

	// Both participants are free again: a fresh call rings through.
	alice.send(core.EventInitiateCall, core.InitiateCallPayload{
		CallID:   "c-retry",
		CalleeID: "bob",
		Kind:     domain.KindVoice,
	})
	var inc core.IncomingCallPayload
	require.NoError(t, json.Unmarshal(bob.recv(core.EventIncomingCall), &inc))
	require.Equal(t, domain.CallID("c-retry"), inc.CallID)
}

func TestNegotiationEventsRoutedToCounterparty(t *testing.T) {
	srv := newTestServer(t)
	alice := dialPeer(t, srv, "alice", "Alice")
	bob := dialPeer(t, srv, "bob", "Bob")

	id := ringBob(t, alice, bob)
	bob.send(core.EventAnswerCall, core.AnswerCallPayload{CallID: id})
	alice.recv(core.EventCallAnswered)

	alice.send(core.EventOffer, core.OfferPayload{CallID: id, Offer: domain.SessionDescription{Type: "offer", SDP: "v=0 a"}})
	var offer core.OfferPayload
	require.NoError(t, json.Unmarshal(bob.recv(core.EventOffer), &offer))
	require.Equal(t, "v=0 a", offer.Offer.SDP)

	bob.send(core.EventAnswer, core.AnswerPayload{CallID: id, Answer: domain.SessionDescription{Type: "answer", SDP: "v=0 b"}})
	var answer core.AnswerPayload
	require.NoError(t, json.Unmarshal(alice.recv(core.EventAnswer), &answer))
	require.Equal(t, "v=0 b", answer.Answer.SDP)

	alice.send(core.EventICECandidate, core.ICECandidatePayload{CallID: id, Candidate: domain.ICECandidate{Candidate: "candidate:1"}})
	var cand core.ICECandidatePayload
	require.NoError(t, json.Unmarshal(bob.recv(core.EventICECandidate), &cand))
	require.Equal(t, "candidate:1", cand.Candidate.Candidate)
}

func TestDisconnectEndsLiveCall(t *testing.T) {
	srv := newTestServer(t)
	alice := dialPeer(t, srv, "alice", "Alice")
	bob := dialPeer(t, srv, "bob", "Bob")

	id := ringBob(t, alice, bob)
	require.NoError(t, alice.conn.Close())

	var p core.EndCallPayload
	require.NoError(t, json.Unmarshal(bob.recv(core.EventEndCall), &p))
	require.Equal(t, id, p.CallID)
}

func TestEndCallForwardedToPeer(t *testing.T) {
	srv := newTestServer(t)
	alice := dialPeer(t, srv, "alice", "Alice")
	bob := dialPeer(t, srv, "bob", "Bob")

	id := ringBob(t, alice, bob)
	alice.send(core.EventEndCall, core.EndCallPayload{CallID: id})

	var p core.EndCallPayload
	require.NoError(t, json.Unmarshal(bob.recv(core.EventEndCall), &p))
	require.Equal(t, id, p.CallID)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHistoryIngestAndList(t *testing.T) {
	srv := newTestServer(t)

	rec := domain.HistoryRecord{
		CallID:          "c1",
		Direction:       domain.DirectionOutgoing,
		Kind:            domain.KindVoice,
		PeerID:          "bob",
		StartedAt:       time.Now().Add(-time.Minute),
		EndedAt:         time.Now(),
		DurationSeconds: 42,
		EndReason:       domain.EndReasonLocalHangup,
	}
	body, err := json.Marshal(rec)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/api/calls/history", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/calls/history?peer=bob")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Calls []domain.HistoryRecord `json:"calls"`
		Count int                    `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, 1, out.Count)
	require.Equal(t, domain.CallID("c1"), out.Calls[0].CallID)
	require.Equal(t, 42, out.Calls[0].DurationSeconds)
}

func TestHistoryRejectsInvalidRecord(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/calls/history", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
