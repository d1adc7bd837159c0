// Package websocket pushes run state changes to connected participants
// and drives the once-a-second countdown tick.
package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rlarsen/althing/internal/logger"
	"github.com/rlarsen/althing/internal/models"
	"github.com/rlarsen/althing/internal/services"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Participants connect from phones on the facilitator's LAN; the
	// server has no fixed origin to check against.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Sources are the services the countdown tick reads from and the one
// transition it drives (closing timed-out vote sessions).
type Sources struct {
	Run        services.RunServicer
	Phase      services.PhaseServicer
	Election   services.ElectionServicer
	Allegiance services.AllegianceServicer
}

// Hub maintains the set of connected clients and fans broadcast messages
// out to them and to in-process subscribers.
type Hub struct {
	log logger.Logger

	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan models.WSMessage

	mu      sync.Mutex
	subs    map[int64]*subscription
	nextSub int64

	sources Sources
	done    chan struct{}
	once    sync.Once
}

type subscription struct {
	ch    chan models.WSMessage
	types map[string]bool // empty means all types
}

// NewHub creates a new Hub
func NewHub(log logger.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan models.WSMessage, 64),
		subs:       make(map[int64]*subscription),
		done:       make(chan struct{}),
	}
}

// SetSources wires the countdown tick's inputs; must be called before Run
func (h *Hub) SetSources(s Sources) {
	h.sources = s
}

// Broadcast queues a message for every connected client and matching
// subscriber. Implements services.Broadcaster.
func (h *Hub) Broadcast(msg models.WSMessage) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// Subscribe returns a channel receiving broadcast messages of the given
// types (all types when none are given) and a cancel func. Cancelling
// twice is harmless.
func (h *Hub) Subscribe(types ...string) (<-chan models.WSMessage, func()) {
	sub := &subscription{
		ch:    make(chan models.WSMessage, 16),
		types: make(map[string]bool, len(types)),
	}
	for _, t := range types {
		sub.types[t] = true
	}

	h.mu.Lock()
	h.nextSub++
	id := h.nextSub
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub.ch)
			}
			h.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

func (h *Hub) deliver(msg models.WSMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if len(sub.types) > 0 && !sub.types[msg.Type] {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			// Slow subscriber: drop rather than stall the hub.
		}
	}
}

// Run processes registrations and broadcasts, and ticks the countdown
// every second. Blocks until Stop is called.
func (h *Hub) Run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.log.Debug("client connected", "clients", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.log.Debug("client disconnected", "clients", len(h.clients))

		case msg := <-h.broadcast:
			h.deliver(msg)
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}

		case <-ticker.C:
			h.tick()

		case <-h.done:
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return
		}
	}
}

// Stop shuts the hub down; safe to call more than once
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

// countdownPayload is the per-second state pushed to all clients
type countdownPayload struct {
	Phase      *phaseCountdown     `json:"phase,omitempty"`
	Sessions   []sessionCountdown  `json:"sessions,omitempty"`
	Allegiance *services.Remaining `json:"allegiance,omitempty"`
}

type phaseCountdown struct {
	PhaseID int64 `json:"phase_id"`
	services.Remaining
}

type sessionCountdown struct {
	SessionID int64 `json:"session_id"`
	services.Remaining
}

// tick assembles the countdown snapshot and closes any vote session
// whose window ran out. This close is the only automatic state
// transition; phases run over and wait for the facilitator.
func (h *Hub) tick() {
	if h.sources.Run == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 900*time.Millisecond)
	defer cancel()

	state, err := h.sources.Run.State(ctx)
	if err != nil {
		if !errors.Is(err, services.ErrNoRun) {
			h.log.Error("countdown tick: read state", "error", err)
		}
		return
	}

	payload := countdownPayload{}
	if state.Run.CurrentPhaseID != nil {
		if r, err := h.sources.Phase.Remaining(ctx, *state.Run.CurrentPhaseID); err == nil {
			payload.Phase = &phaseCountdown{PhaseID: *state.Run.CurrentPhaseID, Remaining: *r}
		}
	}
	for _, session := range state.Sessions {
		if r, err := h.sources.Election.Remaining(ctx, session.ID); err == nil {
			payload.Sessions = append(payload.Sessions, sessionCountdown{SessionID: session.ID, Remaining: *r})
		}
	}
	if r, err := h.sources.Allegiance.Remaining(ctx); err == nil && r.Running {
		payload.Allegiance = r
	}

	h.deliver(models.WSMessage{Type: "countdown", Payload: payload})
	for c := range h.clients {
		select {
		case c.send <- models.WSMessage{Type: "countdown", Payload: payload}:
		default:
		}
	}

	if _, err := h.sources.Election.CloseExpired(ctx); err != nil {
		h.log.Error("countdown tick: close expired sessions", "error", err)
	}
}

// client is one websocket connection
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan models.WSMessage
}

// ServeWS upgrades an HTTP request to a websocket connection and
// registers it with the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan models.WSMessage, 32)}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

// readPump drains the connection; clients only listen, so anything read
// beyond control frames is discarded.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
