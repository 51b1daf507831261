package notify

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// TopicsFunc returns the topics the requesting observer is allowed to watch.
type TopicsFunc func(r *http.Request) ([]string, error)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type WebSocketHandler struct {
	hub    *Hub
	topics TopicsFunc
	log    *logrus.Logger
}

func NewWebSocketHandler(hub *Hub, topics TopicsFunc, log *logrus.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, topics: topics, log: log}
}

// ServeHTTP upgrades the connection and subscribes it to the observer's permitted
// topics. Extra topics may be requested with ?topic= and later subscribe messages.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	allowed, err := h.topics(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	requested := r.URL.Query()["topic"]
	if len(requested) == 0 {
		requested = allowed
	}

	client := NewClient(uuid.NewString(), allowed, sendBuffer)
	client.Topics = requested
	h.hub.Register(client)

	h.log.WithFields(logrus.Fields{"client_id": client.ID, "topics": client.Topics}).Debug("websocket client connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
}

func (h *WebSocketHandler) readPump(client *Client, ws *websocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			break
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		h.hub.ProcessMessage(client, msg)
	}
}

func (h *WebSocketHandler) writePump(client *Client, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
