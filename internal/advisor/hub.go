package advisor

import (
	"container/list"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Dashboard event names.
const (
	EventAdvice    = "advice"
	EventBatch     = "batch"
	EventState     = "state"
	EventConnected = "connected"
	EventPing      = "ping"
)

// HubConfig configures the dashboard stream.
type HubConfig struct {
	RetryDelay        time.Duration
	KeepaliveInterval time.Duration
	ReplaySize        int
	BufferSize        int
}

// DefaultHubConfig returns default configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		RetryDelay:        5 * time.Second,
		KeepaliveInterval: 10 * time.Second,
		ReplaySize:        100,
		BufferSize:        100,
	}
}

// Message is one dashboard event.
type Message struct {
	EventID   int64
	Event     string
	Data      json.RawMessage
	Timestamp time.Time
}

// replayQueue keeps the last messages for clients that reconnect.
type replayQueue struct {
	mu      sync.RWMutex
	l       *list.List
	maxSize int
}

func newReplayQueue(maxSize int) *replayQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &replayQueue{l: list.New(), maxSize: maxSize}
}

func (q *replayQueue) enqueue(m *Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.l.PushBack(m)
	for q.l.Len() > q.maxSize {
		q.l.Remove(q.l.Front())
	}
}

func (q *replayQueue) after(eventID int64) []*Message {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var missed []*Message
	for e := q.l.Front(); e != nil; e = e.Next() {
		m := e.Value.(*Message)
		if m.EventID > eventID {
			missed = append(missed, m)
		}
	}
	return missed
}

type sseConn struct {
	id      int64
	w       http.ResponseWriter
	flusher http.Flusher
	eventID int64
	mu      sync.Mutex
}

// Hub fans dashboard events out to every connected SSE client.
type Hub struct {
	cfg    HubConfig
	logger *slog.Logger

	in    chan *Message
	queue *replayQueue

	connsMu sync.RWMutex
	conns   map[int64]*sseConn

	counterMu    sync.Mutex
	eventCounter int64
	connectionID int64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewHub creates a hub and starts its broadcast loop.
func NewHub(cfg HubConfig, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultHubConfig()
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = def.KeepaliveInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	h := &Hub{
		cfg:    cfg,
		logger: logger,
		in:     make(chan *Message, cfg.BufferSize),
		queue:  newReplayQueue(cfg.ReplaySize),
		conns:  make(map[int64]*sseConn),
		done:   make(chan struct{}),
	}
	h.wg.Add(1)
	go h.broadcastLoop()
	return h
}

// Publish queues an event for broadcast. It never blocks; a full buffer drops
// the event and returns false.
func (h *Hub) Publish(event string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("[HUB] Failed to marshal event", "event", event, "error", err)
		return false
	}
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.in <- &Message{Event: event, Data: data, Timestamp: time.Now()}:
		return true
	default:
		h.logger.Warn("[HUB] Broadcast buffer full, dropping event", "event", event)
		return false
	}
}

// Recent returns buffered messages newer than eventID.
func (h *Hub) Recent(eventID int64) []*Message {
	return h.queue.after(eventID)
}

// Clients returns the number of connected dashboards.
func (h *Hub) Clients() int {
	h.connsMu.RLock()
	defer h.connsMu.RUnlock()
	return len(h.conns)
}

// Close stops the broadcast loop and ends open streams.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
	h.wg.Wait()
}

func (h *Hub) nextEventID() int64 {
	h.counterMu.Lock()
	defer h.counterMu.Unlock()
	h.eventCounter++
	return h.eventCounter
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			h.logger.Info("[HUB] Broadcast loop shutting down")
			return
		case m := <-h.in:
			m.EventID = h.nextEventID()
			h.queue.enqueue(m)

			h.connsMu.RLock()
			conns := make([]*sseConn, 0, len(h.conns))
			for _, c := range h.conns {
				conns = append(conns, c)
			}
			h.connsMu.RUnlock()

			for _, c := range conns {
				h.send(c, m)
			}
		}
	}
}

func (h *Hub) send(c *sseConn, m *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m.EventID <= c.eventID {
		return
	}
	if err := writeSSEWithID(c.w, m.EventID, m.Event, string(m.Data)); err != nil {
		h.logger.Warn("[HUB] Failed to write to SSE connection", "error", err, "conn_id", c.id)
		return
	}
	c.flusher.Flush()
	c.eventID = m.EventID
}

// ServeHTTP streams dashboard events. Clients reconnecting with Last-Event-ID
// (or ?lastEventId=) receive the buffered messages they missed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", h.cfg.RetryDelay.Milliseconds())); err != nil {
		h.logger.Warn("[HUB] Failed to write retry header", "error", err)
		return
	}
	flusher.Flush()

	h.counterMu.Lock()
	h.connectionID++
	connID := h.connectionID
	h.counterMu.Unlock()

	c := &sseConn{id: connID, w: w, flusher: flusher}

	// Hold the connection lock until the replay and connected event are out so
	// the broadcast loop cannot interleave.
	c.mu.Lock()
	h.connsMu.Lock()
	h.conns[connID] = c
	h.connsMu.Unlock()

	defer func() {
		h.connsMu.Lock()
		delete(h.conns, connID)
		h.connsMu.Unlock()
		h.logger.Info("[HUB] Dashboard disconnected", "conn_id", connID)
	}()

	if lastEventID > 0 {
		for _, m := range h.queue.after(lastEventID) {
			if err := writeSSEWithID(w, m.EventID, m.Event, string(m.Data)); err != nil {
				c.mu.Unlock()
				return
			}
			c.eventID = m.EventID
		}
	}

	connectedData := fmt.Sprintf(`{"status":"connected","conn_id":%d,"last_event_id":%d}`, connID, c.eventID)
	if err := writeSSE(w, EventConnected, connectedData); err != nil {
		c.mu.Unlock()
		h.logger.Warn("[HUB] Failed to write connected event", "error", err)
		return
	}
	flusher.Flush()
	c.mu.Unlock()

	h.logger.Info("[HUB] Dashboard connected", "conn_id", connID, "reconnect", lastEventID > 0)

	keepalive := time.NewTicker(h.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case <-keepalive.C:
			c.mu.Lock()
			err := writeSSE(w, EventPing, `{"status":"alive"}`)
			if err == nil {
				flusher.Flush()
			}
			c.mu.Unlock()
			if err != nil {
				h.logger.Warn("[HUB] Failed to write keepalive ping", "error", err, "conn_id", connID)
				return
			}
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
