package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client is one connected observer.
type Client struct {
	ID      string
	Topics  []string
	Send    chan []byte
	allowed map[string]struct{}
}

// NewClient creates a client that may only subscribe to allowed topics.
// A client allowed AllTopics may subscribe to any topic.
func NewClient(id string, allowed []string, buffer int) *Client {
	c := &Client{
		ID:      id,
		Send:    make(chan []byte, buffer),
		allowed: make(map[string]struct{}, len(allowed)),
	}
	for _, t := range allowed {
		c.allowed[t] = struct{}{}
	}
	return c
}

func (c *Client) may(topic string) bool {
	if _, ok := c.allowed[AllTopics]; ok {
		return true
	}
	_, ok := c.allowed[topic]
	return ok
}

func (c *Client) filter(topics []string) []string {
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if c.may(t) {
			out = append(out, t)
		}
	}
	return out
}

// Hub tracks clients and their topic subscriptions and delivers events to them.
// A client whose send buffer is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> clients
	all     map[*Client]struct{}
	log     *logrus.Logger
}

func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		log:     log,
	}
}

// Register adds a client and subscribes it to the permitted subset of its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	topics := client.filter(client.Topics)
	client.Topics = nil
	h.subscribeLocked(client, topics)
}

// Unregister removes the client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	h.unsubscribeLocked(client, client.Topics)
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[client]; !ok {
		return
	}
	h.subscribeLocked(client, client.filter(topics))
}

func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(client, topics)
}

func (h *Hub) subscribeLocked(client *Client, topics []string) {
	for _, topic := range topics {
		subs := h.clients[topic]
		if subs == nil {
			subs = make(map[*Client]struct{})
			h.clients[topic] = subs
		}
		if _, dup := subs[client]; dup {
			continue
		}
		subs[client] = struct{}{}
		client.Topics = append(client.Topics, topic)
	}
}

func (h *Hub) unsubscribeLocked(client *Client, topics []string) {
	remove := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		remove[topic] = struct{}{}
		if subs, ok := h.clients[topic]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.clients, topic)
			}
		}
	}
	remaining := client.Topics[:0]
	for _, t := range client.Topics {
		if _, rm := remove[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Broadcast delivers ev to subscribers of its topic and to platform subscribers.
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.WithError(err).WithField("event", ev.Type).Error("marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := make(map[*Client]struct{})
	deliver := func(subs map[*Client]struct{}) {
		for c := range subs {
			if _, done := sent[c]; done {
				continue
			}
			sent[c] = struct{}{}
			select {
			case c.Send <- data:
			default:
				h.log.WithFields(logrus.Fields{"client_id": c.ID, "event": ev.Type}).Debug("client buffer full, event dropped")
			}
		}
	}
	deliver(h.clients[ev.Topic])
	if ev.Topic != AllTopics {
		deliver(h.clients[AllTopics])
	}
}

// Publish implements Publisher for single process deployments.
func (h *Hub) Publish(_ context.Context, ev Event) {
	h.Broadcast(ev)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}
