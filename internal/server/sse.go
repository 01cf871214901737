package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/lambdaq/internal/events"
)

const (
	// sseRingBufferSize is how many recent events are kept for Last-Event-ID
	// replay.
	sseRingBufferSize = 1000

	sseKeepaliveInterval = 15 * time.Second

	sseClientBuffer = 64
)

// sseEvent is one event in the ring and on the wire.
type sseEvent struct {
	ID    uint64
	Topic string
	Data  []byte
}

// sseHub fans published events out to connected SSE clients and keeps a
// ring of recent events for reconnection.
type sseHub struct {
	mu      sync.Mutex
	clients map[*sseClient]struct{}
	lastID  uint64
	ring    []sseEvent
	next    int // write position in ring
	full    bool
}

type sseClient struct {
	topics  []string
	ch      chan *sseEvent
	dropped int
}

func newSSEHub(size int) *sseHub {
	return &sseHub{
		clients: make(map[*sseClient]struct{}),
		ring:    make([]sseEvent, size),
	}
}

// broadcast assigns the next id to the event, stores it, and hands it to
// every matching client. Slow clients lose events rather than block the
// publisher.
func (h *sseHub) broadcast(topic string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	evt := sseEvent{ID: h.lastID, Topic: topic, Data: payload}
	if len(h.ring) > 0 {
		h.ring[h.next] = evt
		h.next = (h.next + 1) % len(h.ring)
		if h.next == 0 {
			h.full = true
		}
	}

	for c := range h.clients {
		if !c.matchesTopic(topic) {
			continue
		}
		select {
		case c.ch <- &evt:
		default:
			c.dropped++
		}
	}
}

// subscribe registers a client and returns the events it must replay first.
// Registration and the replay snapshot happen under one lock so no event is
// both replayed and delivered, or neither.
func (h *sseHub) subscribe(topics []string, lastID uint64, replay bool) (*sseClient, []sseEvent) {
	c := &sseClient{topics: topics, ch: make(chan *sseEvent, sseClientBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	if !replay {
		return c, nil
	}
	return c, h.sinceLocked(lastID, c)
}

func (h *sseHub) unsubscribe(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// sinceLocked returns ring events newer than lastID that match c, oldest
// first.
func (h *sseHub) sinceLocked(lastID uint64, c *sseClient) []sseEvent {
	n := h.next
	if h.full {
		n = len(h.ring)
	}
	start := 0
	if h.full {
		start = h.next
	}

	var out []sseEvent
	for i := 0; i < n; i++ {
		evt := h.ring[(start+i)%len(h.ring)]
		if evt.ID > lastID && c.matchesTopic(evt.Topic) {
			out = append(out, evt)
		}
	}
	return out
}

func (h *sseHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// matchesTopic reports whether topic passes the client's filters. No filters
// means everything.
func (c *sseClient) matchesTopic(topic string) bool {
	if len(c.topics) == 0 {
		return true
	}
	for _, pattern := range c.topics {
		if matchTopicPattern(pattern, topic) {
			return true
		}
	}
	return false
}

// matchTopicPattern matches dot-separated topics NATS-style: "*" is one
// segment and a trailing ">" is one or more segments.
func matchTopicPattern(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	pat := strings.Split(pattern, ".")
	top := strings.Split(topic, ".")
	for i, p := range pat {
		if p == ">" {
			return i < len(top)
		}
		if i >= len(top) || (p != "*" && p != top[i]) {
			return false
		}
	}
	return len(pat) == len(top)
}

// handleEventStream handles GET /v1/events/stream?topics=a,b.
//
// A client connecting without Last-Event-ID first receives an id-less
// lambdaq.state.changed event with the current summary.
func (s *RuntimeServer) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var topics []string
	for _, t := range strings.Split(r.URL.Query().Get("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}

	var (
		lastID uint64
		replay bool
	)
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			lastID, replay = id, true
		}
	}

	client, backlog := s.sseHub.subscribe(topics, lastID, replay)
	defer s.sseHub.unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if replay {
		for i := range backlog {
			writeSSEEvent(w, &backlog[i])
		}
	} else if client.matchesTopic(events.TopicStateChanged) {
		sum := s.store.Summary()
		data, _ := json.Marshal(events.StateChanged{Pending: sum.Pending, Completed: sum.Completed, ActiveID: sum.ActiveID})
		writeSSEEvent(w, &sseEvent{Topic: events.TopicStateChanged, Data: data})
	}
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-client.ch:
			writeSSEEvent(w, evt)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes one event. ID 0 is sent without an id line so it does
// not move the client's Last-Event-ID.
func writeSSEEvent(w http.ResponseWriter, evt *sseEvent) {
	if evt.ID != 0 {
		fmt.Fprintf(w, "id:%d\n", evt.ID)
	}
	fmt.Fprintf(w, "event:%s\n", evt.Topic)
	fmt.Fprintf(w, "data:%s\n\n", evt.Data)
}
