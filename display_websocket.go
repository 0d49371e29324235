package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// displayClientBuffer is how many encoded frames a client may lag before
// frames are dropped for it. The sink is fire-and-forget: a slow viewer
// loses frames, it never backs the pipeline up.
const displayClientBuffer = 8

var displayUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// displayClient is one connected display websocket viewer.
type displayClient struct {
	conn     *websocket.Conn
	send     chan []byte
	compress bool
	closed   bool
	mu       sync.Mutex
}

// enqueue hands a packet to the client's writer without ever blocking. A
// full queue drops the packet for this client only.
func (c *displayClient) enqueue(packet []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- packet:
	default:
	}
}

// displayClientMessage is a control message from a viewer.
type displayClientMessage struct {
	Type     string `json:"type"`
	Compress bool   `json:"compress,omitempty"`
}

// DisplayWebSocketHub is the display sink: it pushes one binary display
// frame per synchronizer tick to every connected viewer.
type DisplayWebSocketHub struct {
	mu                sync.RWMutex
	clients           map[*displayClient]struct{}
	allowCompression  bool
	metrics           *PrometheusMetrics
	publishFailures   uint64
	lastFailureLogged time.Time
}

// NewDisplayWebSocketHub creates an empty hub.
func NewDisplayWebSocketHub(allowCompression bool, metrics *PrometheusMetrics) *DisplayWebSocketHub {
	return &DisplayWebSocketHub{
		clients:          make(map[*displayClient]struct{}),
		allowCompression: allowCompression,
		metrics:          metrics,
	}
}

// ServeHTTP upgrades the connection and serves it until the viewer leaves.
func (h *DisplayWebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := displayUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Display: websocket upgrade failed: %v", err)
		return
	}

	client := &displayClient{
		conn: conn,
		send: make(chan []byte, displayClientBuffer),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.viewersConnected.Set(float64(count))
	}
	log.Printf("Display: viewer connected from %s (%d total)", conn.RemoteAddr(), count)

	go h.writePump(client)
	h.readPump(client)
}

func (h *DisplayWebSocketHub) remove(client *displayClient) {
	h.mu.Lock()
	_, present := h.clients[client]
	delete(h.clients, client)
	count := len(h.clients)
	h.mu.Unlock()

	if present {
		client.mu.Lock()
		client.closed = true
		close(client.send)
		client.mu.Unlock()
		client.conn.Close()
		if h.metrics != nil {
			h.metrics.viewersConnected.Set(float64(count))
		}
		log.Printf("Display: viewer disconnected (%d total)", count)
	}
}

// readPump consumes control messages until the connection drops.
func (h *DisplayWebSocketHub) readPump(client *displayClient) {
	defer h.remove(client)
	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg displayClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "compress" {
			client.mu.Lock()
			client.compress = msg.Compress && h.allowCompression
			client.mu.Unlock()
		}
	}
}

func (h *DisplayWebSocketHub) writePump(client *displayClient) {
	for packet := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := client.conn.WriteMessage(websocket.BinaryMessage, packet); err != nil {
			h.remove(client)
			return
		}
	}
}

// Publish encodes the frame once and fans it out to every viewer. A full
// client queue drops the frame for that client only. Failure to reach
// anyone is logged at a bounded rate, never fatal.
func (h *DisplayWebSocketHub) Publish(frame DisplayFrame) {
	h.mu.RLock()
	clients := make([]*displayClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		h.notePublishFailure()
		return
	}

	packet := EncodeDisplayFrame(frame)
	var compressed []byte

	for _, client := range clients {
		client.mu.Lock()
		wantCompressed := client.compress
		client.mu.Unlock()

		payload := packet
		if wantCompressed {
			if compressed == nil {
				compressed = compressFrame(packet)
			}
			payload = compressed
		}

		client.enqueue(payload)
	}
}

func (h *DisplayWebSocketHub) notePublishFailure() {
	h.publishFailures++
	if time.Since(h.lastFailureLogged) >= 10*time.Second {
		log.Printf("Display: no viewers connected (%d frames unheard)", h.publishFailures)
		h.lastFailureLogged = time.Now()
	}
}
