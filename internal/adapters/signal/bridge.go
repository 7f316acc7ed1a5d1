// Package signal carries call signaling over the relay's websocket
// endpoint and exposes it to the call core as a SignalingBridge.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/petmatch/pawcall/internal/core"
	"github.com/petmatch/pawcall/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

const (
	sendBuffer   = 32
	writeTimeout = 5 * time.Second
)

// Envelope is the wire frame for every signaling message.
type Envelope struct {
	Type    core.EventType  `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// WSBridge is a SignalingBridge over one websocket connection to the
// relay. Sends are fire-and-forget through a bounded queue; a full
// queue drops the message rather than blocking the call core.
type WSBridge struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu       sync.RWMutex
	handlers map[core.EventType]map[int]core.EventHandler
	nextID   int
	closed   bool
}

var _ core.SignalingBridge = (*WSBridge)(nil)

// Dial connects to the relay and starts the read/write pumps. Identity
// is announced in the query string; the relay keys its fan-out on it.
func Dial(ctx context.Context, relayURL string, user domain.User, pingPeriod time.Duration) (*WSBridge, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	q.Set("user_id", string(user.ID))
	q.Set("display_name", user.DisplayName)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	b := &WSBridge{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		handlers: make(map[core.EventType]map[int]core.EventHandler),
	}
	go b.writePump(pingPeriod)
	go b.readPump()
	return b, nil
}

func (b *WSBridge) Send(event core.EventType, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Type: event, Payload: raw})
	if err != nil {
		return err
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return errors.New("bridge closed")
	}

	select {
	case b.send <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

func (b *WSBridge) On(event core.EventType, h core.EventHandler) core.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[event] == nil {
		b.handlers[event] = make(map[int]core.EventHandler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[event][id] = h

	var once sync.Once
	return subscription{cancel: func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers[event], id)
			b.mu.Unlock()
		})
	}}
}

type subscription struct{ cancel func() }

func (s subscription) Cancel() { s.cancel() }

// Close is idempotent.
func (b *WSBridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	_ = b.conn.Close()
}

func (b *WSBridge) writePump(pingPeriod time.Duration) {
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case frame := <-b.send:
			if err := b.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := b.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := b.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		}
	}
}

func (b *WSBridge) readPump() {
	defer b.Close()
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			select {
			case <-b.done:
			default:
				log.Error().Err(err).Str("module", "signal").Msg("readPump read error")
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad json frame")
			continue
		}
		b.dispatch(env)
	}
}

// dispatch invokes the registered handlers for one inbound event.
// Handlers run on the read pump goroutine, so per-call ordering follows
// arrival order on the socket.
func (b *WSBridge) dispatch(env Envelope) {
	b.mu.RLock()
	hs := make([]core.EventHandler, 0, len(b.handlers[env.Type]))
	for _, h := range b.handlers[env.Type] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	if len(hs) == 0 {
		log.Warn().Str("module", "signal").Str("type", string(env.Type)).Msg("unhandled signal")
		return
	}
	for _, h := range hs {
		h(env.Payload)
	}
}
