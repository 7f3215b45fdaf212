package telemetry

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// wsClient mirrors sagostin-goefidash's wsClient: one buffered outbound
// channel drained by a dedicated writer goroutine per connection.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WebsocketPublisher is the read-only telemetry.Publisher adapter over
// gorilla/websocket (§4.9): broadcast-only, no inbound command handling, so
// it never reintroduces the out-of-scope configuration UI.
type WebsocketPublisher struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewWebsocketPublisher constructs a WebsocketPublisher. Call ServeHTTP (or
// pass it directly to http.Handle) to accept connections on a mux.
func NewWebsocketPublisher() *WebsocketPublisher {
	return &WebsocketPublisher{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// ServeHTTP upgrades an incoming connection and registers it as a telemetry
// subscriber.
func (p *WebsocketPublisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[telemetry] upgrade error: %v", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 64)}

	p.mu.Lock()
	p.clients[client] = struct{}{}
	p.mu.Unlock()
	log.Printf("[telemetry] client connected (%d total)", p.clientCount())

	go p.writeLoop(client)
	go p.readLoop(client)
}

func (p *WebsocketPublisher) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
}

func (p *WebsocketPublisher) readLoop(c *wsClient) {
	defer func() {
		p.mu.Lock()
		delete(p.clients, c)
		p.mu.Unlock()
		close(c.send)
		log.Printf("[telemetry] client disconnected (%d total)", p.clientCount())
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (p *WebsocketPublisher) clientCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

// Publish broadcasts sample to every connected client, dropping it for any
// client whose send buffer is full rather than blocking the publisher.
func (p *WebsocketPublisher) Publish(ctx context.Context, sample Sample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	for c := range p.clients {
		select {
		case c.send <- data:
		default:
			log.Printf("[telemetry] dropping sample for slow client")
		}
	}
	return nil
}
