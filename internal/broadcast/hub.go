package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	sendBuffer = 32
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// DefaultService is used when a trigger command names no service.
const DefaultService = "shard-default"

// Commander answers the commands dashboard clients send over the socket.
type Commander interface {
	// Snapshot returns the status payload sent on connect and on request.
	Snapshot(ctx context.Context) (any, error)
	// TriggerAgent runs agent on service and reports whether it produced a result.
	TriggerAgent(ctx context.Context, agent, service string) (bool, error)
	ToggleAgent(ctx context.Context, agent string, enabled bool) error
}

// Command is a message received from a client.
type Command struct {
	Command string `json:"command"`
	Agent   string `json:"agent,omitempty"`
	Service string `json:"service,omitempty"`
	Enabled any    `json:"enabled,omitempty"`
}

// Hub keeps the set of connected websocket clients and broadcasts to them.
type Hub struct {
	commander Commander
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub creates a hub. commander may be nil, in which case commands are
// answered with an agent_error.
func NewHub(commander Commander, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		commander: commander,
		logger:    logger.With("component", "ws_hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// SetCommander wires the command handler after construction.
func (h *Hub) SetCommander(c Commander) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commander = c
}

// Name implements Broadcaster.
func (h *Hub) Name() string { return "websocket" }

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues evt for every client. Clients whose buffer is full are
// disconnected rather than allowed to block the sender.
func (h *Hub) Broadcast(_ context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var dropped int
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			c.close()
			dropped++
		}
	}
	if dropped > 0 {
		return errors.New("dropped " + strconv.Itoa(dropped) + " slow websocket clients")
	}
	return nil
}

// ServeHTTP upgrades the connection, sends the initial state and serves
// commands until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	ctx := context.WithoutCancel(r.Context())

	initial := NewEvent(TypeInitialState)
	initial.Payload = h.snapshot(ctx)
	if data, err := json.Marshal(initial); err == nil {
		c.send <- data
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.Clients())

	go h.writeLoop(c)
	h.readLoop(ctx, c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Info("websocket client disconnected", "error", err)
			}
			return
		}
		h.handle(ctx, c, cmd)
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

func (h *Hub) handle(ctx context.Context, c *client, cmd Command) {
	h.mu.RLock()
	commander := h.commander
	h.mu.RUnlock()

	if commander == nil {
		h.reply(c, agentError(cmd.Agent, "commands are not available"))
		return
	}

	switch cmd.Command {
	case "trigger_agent":
		service := cmd.Service
		if service == "" {
			service = DefaultService
		}
		ok, err := commander.TriggerAgent(ctx, cmd.Agent, service)
		if err != nil {
			h.reply(c, agentError(cmd.Agent, err.Error()))
			return
		}
		h.broadcastStatus(ctx)

		evt := NewEvent(TypeAgentTriggered)
		evt.Agent = cmd.Agent
		evt.Service = service
		evt.Payload = map[string]any{"result": ok}
		h.reply(c, evt)

	case "toggle_agent":
		enabled := castBool(cmd.Enabled)
		if err := commander.ToggleAgent(ctx, cmd.Agent, enabled); err != nil {
			h.reply(c, agentError(cmd.Agent, err.Error()))
			return
		}
		evt := NewEvent(TypeAgentToggled)
		evt.Agent = cmd.Agent
		evt.Payload = map[string]any{"enabled": enabled}
		Notify(ctx, h, h.logger, evt)
		h.broadcastStatus(ctx)

	case "request_status":
		evt := NewEvent(TypeStatusUpdate)
		evt.Payload = h.snapshot(ctx)
		h.reply(c, evt)

	default:
		h.reply(c, agentError(cmd.Agent, "unknown command "+strconv.Quote(cmd.Command)))
	}
}

func (h *Hub) broadcastStatus(ctx context.Context) {
	evt := NewEvent(TypeStatusUpdate)
	evt.Payload = h.snapshot(ctx)
	Notify(ctx, h, h.logger, evt)
}

func (h *Hub) snapshot(ctx context.Context) any {
	h.mu.RLock()
	commander := h.commander
	h.mu.RUnlock()
	if commander == nil {
		return nil
	}
	snap, err := commander.Snapshot(ctx)
	if err != nil {
		h.logger.Warn("failed to build status snapshot", "error", err)
		return nil
	}
	return snap
}

func (h *Hub) reply(c *client, evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func agentError(agent, msg string) Event {
	evt := NewEvent(TypeAgentError)
	evt.Agent = agent
	evt.Payload = map[string]any{"error": msg}
	return evt
}

// castBool accepts JSON booleans and the usual form strings.
func castBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		switch t {
		case "", "0", "f", "F", "false", "FALSE", "False", "off", "OFF":
			return false
		}
		return true
	}
	return false
}
