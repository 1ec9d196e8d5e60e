// Package control exposes the daemon over a local HTTP and websocket API.
package control

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jawad360/phone-detox/internal/domain"
	"github.com/jawad360/phone-detox/internal/metrics"
)

// Message types on the websocket.
const (
	MessageEvent          = "event"
	MessagePrompt         = "prompt"
	MessageDismiss        = "dismiss"
	MessagePromptResponse = "promptResponse"
	MessageError          = "error"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 50 * time.Second
	maxReadBytes = 4096
)

var errAllClientsBusy = errors.New("no client accepted the prompt")

// Envelope is every message exchanged on the websocket.
type Envelope struct {
	Type     string                 `json:"type"`
	Event    *domain.Event          `json:"event,omitempty"`
	Prompt   *domain.Prompt         `json:"prompt,omitempty"`
	Response *domain.PromptResponse `json:"response,omitempty"`
	Message  string                 `json:"message,omitempty"`
}

// HubConfig bounds inbound traffic per connection.
type HubConfig struct {
	InboundRate  float64 // Messages per second
	InboundBurst int
}

// Hub fans engine events and prompts out to attached UI clients.
// It is the daemon's Notifier and Prompter.
type Hub struct {
	config HubConfig
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	done    chan struct{}
	once    sync.Once
}

// NewHub creates an empty hub.
func NewHub(config HubConfig, logger *zap.Logger) *Hub {
	if config.InboundRate <= 0 {
		config.InboundRate = 10
	}
	if config.InboundBurst <= 0 {
		config.InboundBurst = 20
	}
	return &Hub{
		config:  config,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Clients returns the number of attached clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify broadcasts an engine event. Slow clients lose the event.
func (h *Hub) Notify(ev domain.Event) {
	h.broadcast(Envelope{Type: MessageEvent, Event: &ev})
}

// Show broadcasts a prompt. It fails when no client could take it.
func (h *Hub) Show(p domain.Prompt) error {
	if h.Clients() == 0 {
		return domain.ErrNoUIAttached
	}
	if h.broadcast(Envelope{Type: MessagePrompt, Prompt: &p}) == 0 {
		return errAllClientsBusy
	}
	return nil
}

// Dismiss tells clients to close a prompt.
func (h *Hub) Dismiss(p domain.Prompt) {
	h.broadcast(Envelope{Type: MessageDismiss, Prompt: &p})
}

func (h *Hub) broadcast(env Envelope) int {
	payload, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to encode message", zap.String("type", env.Type), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.clients {
		select {
		case c.send <- payload:
			delivered++
			metrics.EventsDelivered.Inc()
		default:
			metrics.EventsDropped.Inc()
			h.logger.Warn("client send buffer full, dropping message",
				zap.String("client", c.id),
				zap.String("type", env.Type))
		}
	}
	return delivered
}

// Attach serves conn until it closes. Prompt responses read from the
// client are passed to onResponse.
func (h *Hub) Attach(conn *websocket.Conn, onResponse func(domain.PromptResponse)) {
	c := &client{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		limiter: rate.NewLimiter(rate.Limit(h.config.InboundRate), h.config.InboundBurst),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.ActiveClients.Inc()
	h.logger.Info("ui client attached", zap.String("client", c.id))

	go h.writeLoop(c)
	h.readLoop(c, onResponse)

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	metrics.ActiveClients.Dec()
	c.close()
	h.logger.Info("ui client detached", zap.String("client", c.id))
}

func (h *Hub) readLoop(c *client, onResponse func(domain.PromptResponse)) {
	c.conn.SetReadLimit(maxReadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("client read failed", zap.String("client", c.id), zap.Error(err))
			}
			return
		}

		if !c.limiter.Allow() {
			metrics.InboundThrottled.Inc()
			h.reply(c, Envelope{Type: MessageError, Message: "rate limited"})
			continue
		}

		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			h.reply(c, Envelope{Type: MessageError, Message: "invalid message"})
			continue
		}

		switch env.Type {
		case MessagePromptResponse:
			if env.Response == nil || env.Response.PromptID == "" {
				h.reply(c, Envelope{Type: MessageError, Message: "response.promptId is required"})
				continue
			}
			onResponse(*env.Response)
		default:
			h.reply(c, Envelope{Type: MessageError, Message: "unknown message type"})
		}
	}
}

func (h *Hub) reply(c *client, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Debug("client write failed", zap.String("client", c.id), zap.Error(err))
				c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.conn.Close()
	})
}

var (
	_ domain.Notifier = (*Hub)(nil)
	_ domain.Prompter = (*Hub)(nil)
)
