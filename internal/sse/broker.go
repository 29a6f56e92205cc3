// Package sse streams delta-index updates to browsers as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// EventIndexUpdated is the event name sent when the delta index is rewritten.
const EventIndexUpdated = "index.updated"

// clientBuffer is the number of pending events a slow client may hold
// before further events are dropped for it.
const clientBuffer = 16

// IndexUpdate describes a rewritten delta index.
type IndexUpdate struct {
	Packages int    `json:"packages"`
	Changed  int    `json:"changed"`
	Checksum string `json:"checksum"`
}

// Broker fans index updates out to connected clients. Repeated updates
// carrying the checksum of the last delivered one are dropped while they
// arrive within the throttle window.
type Broker struct {
	throttle time.Duration
	now      func() time.Time

	mu       sync.Mutex
	clients  map[chan []byte]struct{}
	seq      uint64
	lastSum  string
	lastSent time.Time
	closed   bool
}

// NewBroker creates a broker. A non-positive throttle means two seconds.
func NewBroker(throttle time.Duration) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}
	return &Broker{
		throttle: throttle,
		now:      time.Now,
		clients:  make(map[chan []byte]struct{}),
	}
}

// Subscribe registers a client. The returned channel is closed by cancel or
// by Close, whichever comes first.
func (b *Broker) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, clientBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.clients[ch] = struct{}{}

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.clients[ch]; ok {
			delete(b.clients, ch)
			close(ch)
		}
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// PublishIndexUpdate sends upd to every client and reports whether it was
// delivered rather than throttled.
func (b *Broker) PublishIndexUpdate(upd IndexUpdate) bool {
	data, err := json.Marshal(upd)
	if err != nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	now := b.now()
	if upd.Checksum == b.lastSum && now.Sub(b.lastSent) < b.throttle {
		return false
	}
	b.lastSum, b.lastSent = upd.Checksum, now
	b.seq++

	msg := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", b.seq, EventIndexUpdated, data))
	for ch := range b.clients {
		select {
		case ch <- msg:
		default:
		}
	}
	return true
}

// Close disconnects every client. Later publishes are ignored.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.clients {
		close(ch)
	}
	clear(b.clients)
}

// ServeHTTP streams events until the client goes away or the broker closes.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, cancel := b.Subscribe()
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "retry: 5000\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
