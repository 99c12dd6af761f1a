// Package eventviewer tails the gateway's published events from Kafka and
// fans them out to browser clients over WebSocket.
package eventviewer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Event is what browser clients receive.
type Event struct {
	Topic      string          `json:"topic"`
	Key        string          `json:"key"`
	EventType  string          `json:"eventType"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt int64           `json:"receivedAt"`
}

// Decode turns a Kafka message into an Event. The event type comes from the
// payload, falling back to the eventType header.
func Decode(msg kafka.Message) (Event, error) {
	var head struct {
		EventType string `json:"eventType"`
	}
	if err := json.Unmarshal(msg.Value, &head); err != nil {
		return Event{}, err
	}
	if head.EventType == "" {
		for _, h := range msg.Headers {
			if h.Key == "eventType" {
				head.EventType = string(h.Value)
			}
		}
	}
	return Event{
		Topic:      msg.Topic,
		Key:        string(msg.Key),
		EventType:  head.EventType,
		Payload:    json.RawMessage(msg.Value),
		ReceivedAt: time.Now().UnixMilli(),
	}, nil
}

// Hub tracks connected clients.
type Hub struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Clients reports how many clients are connected.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends ev to every client, dropping the ones that fail.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			h.logger.Debug().Err(err).Msg("Dropping client")
			_ = conn.Close()
			delete(h.clients, conn)
		}
	}
}

// ServeHTTP upgrades the request and keeps the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info().Int("clients", n).Msg("Client connected")

	go func() {
		defer func() {
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				_ = conn.Close()
			}
			h.mu.Unlock()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// NewReader reads topic from partition 0, starting at since.
func NewReader(ctx context.Context, brokers []string, topic string, since time.Time) *kafka.Reader {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	_ = r.SetOffsetAt(ctx, since)
	return r
}

// Consume forwards decoded messages to hub until ctx ends.
func Consume(ctx context.Context, r MessageReader, hub *Hub, logger zerolog.Logger) {
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			logger.Warn().Err(err).Msg("Kafka read failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		ev, err := Decode(msg)
		if err != nil {
			logger.Warn().Err(err).Str("topic", msg.Topic).Msg("Undecodable message")
			continue
		}
		logger.Debug().Str("topic", ev.Topic).Str("eventType", ev.EventType).Str("key", ev.Key).Msg("Received")
		hub.Broadcast(ev)
	}
}

// Page is a minimal client that lists events as they arrive.
const Page = `<!doctype html>
<html><head><meta charset="utf-8"><title>Gateway events</title></head>
<body>
<h1>Gateway events</h1>
<ul id="events"></ul>
<script>
const list = document.getElementById("events");
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = (m) => {
  const ev = JSON.parse(m.data);
  const li = document.createElement("li");
  li.textContent = new Date(ev.receivedAt).toLocaleTimeString() + " " + ev.eventType + " " + JSON.stringify(ev.payload);
  list.prepend(li);
};
</script>
</body></html>
`

// Handler serves the page at / and the socket at /ws.
func Handler(hub *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(Page))
	})
	return mux
}
