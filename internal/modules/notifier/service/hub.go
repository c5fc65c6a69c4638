package service

import (
	"context"
	"net/http"
	"sync"
	"time"

	"rule_trader/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	conn   *websocket.Conn
	userID int64
	send   chan []byte
}

// Hub держит WebSocket-подписчиков по пользователям и раздает им события.
type Hub struct {
	mu      sync.Mutex
	clients map[int64]map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[int64]map[*client]struct{})}
}

func (h *Hub) Name() string { return "websocket" }

// Send не блокируется: медленный подписчик теряет события, а не тормозит движок.
func (h *Hub) Send(_ context.Context, e Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.clients[e.UserID]
	if len(subs) == 0 {
		return nil
	}
	payload, err := e.Encode()
	if err != nil {
		return err
	}
	for c := range subs {
		select {
		case c.send <- payload:
		default:
			logger.Warn("ws user=%d: send buffer full, event %s dropped", c.userID, e.EventID)
		}
	}
	return nil
}

// Subscribers возвращает число открытых соединений пользователя.
func (h *Hub) Subscribers(userID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[userID])
}

// Serve апгрейдит соединение и держит его до закрытия клиентом.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID int64) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws upgrade user=%d: %v", userID, err)
		return
	}
	c := &client{conn: conn, userID: userID, send: make(chan []byte, sendBuffer)}
	h.register(c)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.clients[c.userID]
	if !ok {
		subs = make(map[*client]struct{})
		h.clients[c.userID] = subs
	}
	subs[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.clients[c.userID]
	if _, ok := subs[c]; !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
}

// readPump только читает control-фреймы: входящие сообщения игнорируются.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close отключает всех подписчиков.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0)
	for _, subs := range h.clients {
		for c := range subs {
			conns = append(conns, c.conn)
		}
	}
	h.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}
