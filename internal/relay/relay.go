// Package relay is the signaling fan-out between call participants:
// one websocket per user, events routed to the counterparty of the
// call id they carry, plus the call-history ingest API.
package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/petmatch/pawcall/internal/adapters/signal"
	"github.com/petmatch/pawcall/internal/config"
	"github.com/petmatch/pawcall/internal/core"
	"github.com/petmatch/pawcall/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Relay struct {
	cfg     *config.Config
	hub     *Hub
	calls   *CallRegistry
	history *HistoryStore
}

func New(cfg *config.Config) *Relay {
	return &Relay{
		cfg:     cfg,
		hub:     NewHub(),
		calls:   NewCallRegistry(),
		history: NewHistoryStore(),
	}
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func (r *Relay) SetupRouter() *gin.Engine {
	if r.cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	e := gin.New()
	if r.cfg.Mode == "debug" {
		e.Use(gin.Logger())
	}
	e.Use(gin.Recovery())

	store := cookie.NewStore([]byte(r.cfg.Secret))
	e.Use(sessions.Sessions("PawcallSessions", store))
	e.Use(ClientTokenMiddleware())

	e.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := e.Group("/api")
	api.GET("/ws/call", r.handleWS)
	api.POST("/calls/history", r.postHistory)
	api.GET("/calls/history", r.listHistory)

	return e
}

// handleWS upgrades the connection and pumps signaling for one user.
func (r *Relay) handleWS(c *gin.Context) {
	userID := domain.UserID(c.Query("user_id"))
	if userID == "" {
		userID = domain.UserID(c.GetString("client_token"))
	}
	name := c.Query("display_name")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(r.cfg.ReadLimit)

	client := newClient(domain.User{ID: userID, DisplayName: name}, ws)
	r.hub.Register(client)
	go client.writePump()

	defer func() {
		// A dropped connection ends the user's live call so the peer is
		// not left ringing against a dead socket.
		for _, e := range r.calls.DropUser(userID) {
			if peerID, ok := e.peerOf(userID); ok {
				r.forward(peerID, core.EventEndCall, core.EndCallPayload{CallID: e.CallID})
			}
		}
		r.hub.Unregister(client)
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			log.Info().Err(err).Str("module", "relay").Str("user", string(userID)).Msg("read loop closing")
			return
		}
		var env signal.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Error().Err(err).Str("module", "relay").Msg("bad json frame")
			continue
		}
		r.route(client, env)
	}
}

func (r *Relay) route(from *Client, env signal.Envelope) {
	switch env.Type {
	case core.EventInitiateCall:
		r.onInitiate(from, env.Payload)
	case core.EventAnswerCall:
		r.onAnswer(from, env.Payload)
	case core.EventRejectCall:
		r.onReject(from, env.Payload)
	case core.EventEndCall:
		r.onEnd(from, env.Payload)
	case core.EventOffer, core.EventAnswer, core.EventICECandidate:
		r.forwardToPeer(from, env)
	default:
		log.Warn().Str("module", "relay").Str("type", string(env.Type)).Msg("unknown signal")
	}
}

// onInitiate rings the callee or answers busy. A callee that is
// offline or already in a call gets declined on the caller's behalf so
// the caller is never stuck ringing.
func (r *Relay) onInitiate(from *Client, raw json.RawMessage) {
	var p core.InitiateCallPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad initiate-call payload")
		return
	}

	decline := func() {
		r.forward(from.User.ID, core.EventCallAnswered, core.CallAnsweredPayload{CallID: p.CallID, Accepted: false})
	}

	callee, online := r.hub.Get(p.CalleeID)
	if !online || r.calls.Busy(p.CalleeID) {
		log.Info().Str("module", "relay").Str("call_id", string(p.CallID)).
			Bool("online", online).Msg("callee unavailable, declining")
		decline()
		return
	}
	if !r.calls.Add(p.CallID, from.User.ID, p.CalleeID, p.Kind, time.Now()) {
		decline()
		return
	}

	callerName := p.CallerName
	if callerName == "" {
		callerName = from.User.DisplayName
	}
	incoming := core.IncomingCallPayload{
		CallID:       p.CallID,
		CallerID:     from.User.ID,
		CallerName:   callerName,
		CallerAvatar: from.User.Avatar,
		Kind:         p.Kind,
		Timestamp:    p.Timestamp,
	}
	if !r.send(callee, core.EventIncomingCall, incoming) {
		r.calls.Remove(p.CallID)
		decline()
	}
}

func (r *Relay) onAnswer(from *Client, raw json.RawMessage) {
	var p core.AnswerCallPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad answer-call payload")
		return
	}
	entry, ok := r.calls.Get(p.CallID)
	if !ok || entry.CalleeID != from.User.ID {
		log.Warn().Str("module", "relay").Str("call_id", string(p.CallID)).Msg("answer for unknown call")
		return
	}
	r.calls.MarkActive(p.CallID)
	r.forward(entry.CallerID, core.EventCallAnswered, core.CallAnsweredPayload{CallID: p.CallID, Accepted: true})
}

func (r *Relay) onReject(from *Client, raw json.RawMessage) {
	var p core.RejectCallPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad reject-call payload")
		return
	}
	entry, ok := r.calls.Get(p.CallID)
	if !ok {
		return
	}
	peerID, ok := entry.peerOf(from.User.ID)
	if !ok {
		return
	}
	r.calls.Remove(p.CallID)
	r.forward(peerID, core.EventRejectCall, p)
}

func (r *Relay) onEnd(from *Client, raw json.RawMessage) {
	var p core.EndCallPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad end-call payload")
		return
	}
	entry, ok := r.calls.Get(p.CallID)
	if !ok {
		return
	}
	peerID, ok := entry.peerOf(from.User.ID)
	if !ok {
		return
	}
	r.calls.Remove(p.CallID)
	r.forward(peerID, core.EventEndCall, p)
}

// forwardToPeer relays a negotiation event to the counterparty of the
// call id it carries. Events from non-participants are dropped.
func (r *Relay) forwardToPeer(from *Client, env signal.Envelope) {
	var ref struct {
		CallID domain.CallID `json:"callId"`
	}
	if err := json.Unmarshal(env.Payload, &ref); err != nil {
		log.Error().Err(err).Str("module", "relay").Str("type", string(env.Type)).Msg("bad negotiation payload")
		return
	}
	entry, ok := r.calls.Get(ref.CallID)
	if !ok {
		log.Warn().Str("module", "relay").Str("call_id", string(ref.CallID)).Msg("negotiation event for unknown call")
		return
	}
	peerID, ok := entry.peerOf(from.User.ID)
	if !ok {
		return
	}
	if peer, online := r.hub.Get(peerID); online {
		frame, err := json.Marshal(env)
		if err != nil {
			return
		}
		if err := peer.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "relay").Str("user", string(peerID)).Msg("forward failed")
		}
	}
}

func (r *Relay) forward(to domain.UserID, event core.EventType, payload any) bool {
	client, ok := r.hub.Get(to)
	if !ok {
		return false
	}
	return r.send(client, event, payload)
}

func (r *Relay) send(to *Client, event core.EventType, payload any) bool {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("marshal payload")
		return false
	}
	frame, err := json.Marshal(signal.Envelope{Type: event, Payload: raw})
	if err != nil {
		return false
	}
	if err := to.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("user", string(to.User.ID)).Msg("send failed")
		return false
	}
	return true
}
