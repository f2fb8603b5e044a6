// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wneessen/geowatch/internal/logger"
)

const (
	clientSendBuffer = 64
	writeTimeout     = 5 * time.Second
)

// Message is the envelope written to WebSocket clients for events.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
	Stamp int64  `json:"stamp"`
}

// Command is a client request received over the WebSocket connection.
type Command struct {
	ID   string          `json:"id"`
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ErrorBody is the error part of a Reply.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Reply answers a Command. It is only sent to the client that issued the command.
type Reply struct {
	ID     string     `json:"id"`
	Op     string     `json:"op"`
	Result any        `json:"result,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// CommandHandler executes client commands.
type CommandHandler interface {
	HandleCommand(ctx context.Context, cmd Command) Reply
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	// pending tracks running commands; send is closed only once they are done.
	pending sync.WaitGroup
}

// Hub broadcasts events to all connected WebSocket clients and forwards their commands to a
// CommandHandler.
type Hub struct {
	logger   *logger.Logger
	handler  CommandHandler
	upgrader websocket.Upgrader
	now      func() time.Time

	clientsMu sync.RWMutex
	clients   map[*wsClient]struct{}
}

// NewHub returns a Hub. handler may be nil, in which case incoming commands are ignored.
func NewHub(log *logger.Logger, handler CommandHandler) *Hub {
	if log == nil {
		log = logger.Discard()
	}
	return &Hub{
		logger:  log.With(logger.Component("hub")),
		handler: handler,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		now:     time.Now,
		clients: make(map[*wsClient]struct{}),
	}
}

// SetHandler replaces the command handler. It must be called before the hub serves clients.
func (h *Hub) SetHandler(handler CommandHandler) {
	h.handler = handler
}

// Emit implements Emitter. Slow clients miss events instead of blocking the caller.
func (h *Hub) Emit(name string, payload any) {
	data, err := json.Marshal(Message{Event: name, Data: payload, Stamp: h.now().UnixMilli()})
	if err != nil {
		h.logger.Error("failed to encode event", slog.String("event", name), logger.Err(err))
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client. Their read loops end and release the client state.
func (h *Hub) Close() {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for client := range h.clients {
		if err := client.conn.Close(); err != nil {
			h.logger.Debug("failed to close websocket connection", logger.Err(err))
		}
	}
}

// ServeHTTP upgrades the connection and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket connection", logger.Err(err))
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}
	h.clientsMu.Lock()
	h.clients[client] = struct{}{}
	h.clientsMu.Unlock()
	h.logger.Debug("client connected", slog.String("remote", r.RemoteAddr), slog.Int("clients", h.Clients()))

	go h.writeLoop(client)
	h.readLoop(r.Context(), client)
}

func (h *Hub) writeLoop(client *wsClient) {
	defer func() {
		if err := client.conn.Close(); err != nil {
			h.logger.Debug("failed to close websocket connection", logger.Err(err))
		}
	}()
	for msg := range client.send {
		_ = client.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// readLoop reads commands until the connection fails. Each command runs on its own goroutine,
// so a command waiting for a fix does not hold up later ones. Running commands are cancelled
// when the client disconnects.
func (h *Hub) readLoop(ctx context.Context, client *wsClient) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		h.clientsMu.Lock()
		delete(h.clients, client)
		h.clientsMu.Unlock()
		cancel()
		client.pending.Wait()
		close(client.send)
		h.logger.Debug("client disconnected", slog.Int("clients", h.Clients()))
	}()

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		if h.handler == nil {
			continue
		}

		var cmd Command
		if err = json.Unmarshal(data, &cmd); err != nil {
			h.reply(client, Reply{Error: &ErrorBody{Code: "E_INVALID_ARGUMENT", Message: "malformed command"}})
			continue
		}
		client.pending.Go(func() {
			h.reply(client, h.handler.HandleCommand(ctx, cmd))
		})
	}
}

func (h *Hub) reply(client *wsClient, reply Reply) {
	data, err := json.Marshal(reply)
	if err != nil {
		h.logger.Error("failed to encode reply", slog.String("op", reply.Op), logger.Err(err))
		return
	}
	select {
	case client.send <- data:
	default:
		h.logger.Warn("dropping reply for slow client", slog.String("op", reply.Op))
	}
}
