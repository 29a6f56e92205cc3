package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeClock is advanced by hand.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBroker(throttle time.Duration) (*Broker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBroker(throttle)
	b.now = clk.Now
	return b, clk
}

func drain(ch <-chan []byte) []string {
	var msgs []string
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return msgs
			}
			msgs = append(msgs, string(msg))
		default:
			return msgs
		}
	}
}

func TestSubscribeCancel(t *testing.T) {
	b, _ := newTestBroker(time.Second)
	defer b.Close()

	ch, cancel := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	cancel()
	cancel()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after cancel")
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
}

func TestPublishIndexUpdate_Delivery(t *testing.T) {
	b, _ := newTestBroker(time.Second)
	defer b.Close()
	ch, cancel := b.Subscribe()
	defer cancel()

	if !b.PublishIndexUpdate(IndexUpdate{Packages: 3, Changed: 1, Checksum: "abc"}) {
		t.Fatal("first update should be delivered")
	}

	msgs := drain(ch)
	if len(msgs) != 1 {
		t.Fatalf("events = %d, want 1", len(msgs))
	}
	for _, want := range []string{"id: 1\n", "event: index.updated\n", `"changed":1`, `"checksum":"abc"`} {
		if !strings.Contains(msgs[0], want) {
			t.Errorf("event %q missing %q", msgs[0], want)
		}
	}
}

func TestPublishIndexUpdate_ThrottlesSameChecksum(t *testing.T) {
	b, clk := newTestBroker(500 * time.Millisecond)
	defer b.Close()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.PublishIndexUpdate(IndexUpdate{Packages: 2, Checksum: "aaa"})
	if b.PublishIndexUpdate(IndexUpdate{Packages: 2, Checksum: "aaa"}) {
		t.Error("repeat within the window should be throttled")
	}
	if !b.PublishIndexUpdate(IndexUpdate{Packages: 3, Checksum: "bbb"}) {
		t.Error("new checksum should be delivered")
	}
	clk.Advance(time.Second)
	if !b.PublishIndexUpdate(IndexUpdate{Packages: 3, Checksum: "bbb"}) {
		t.Error("repeat after the window should be delivered")
	}

	msgs := drain(ch)
	if len(msgs) != 3 {
		t.Fatalf("events = %d, want 3: %q", len(msgs), msgs)
	}
	if !strings.HasPrefix(msgs[2], "id: 3\n") {
		t.Errorf("third event id: %q", msgs[2])
	}
}

func TestPublishDropsForSlowClient(t *testing.T) {
	b, clk := newTestBroker(time.Millisecond)
	defer b.Close()
	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < clientBuffer+5; i++ {
		clk.Advance(time.Second)
		b.PublishIndexUpdate(IndexUpdate{Checksum: "x"})
	}
	if n := len(drain(ch)); n != clientBuffer {
		t.Errorf("buffered events = %d, want %d", n, clientBuffer)
	}
}

func TestServeHTTP(t *testing.T) {
	b, _ := newTestBroker(time.Second)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for b.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("handler did not subscribe")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.PublishIndexUpdate(IndexUpdate{Packages: 1, Checksum: "x"})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := w.Body.String()
	if !strings.HasPrefix(body, "retry: 5000\n\n") || !strings.Contains(body, "event: index.updated") {
		t.Errorf("unexpected stream %q", body)
	}
	if b.ClientCount() != 0 {
		t.Errorf("client not removed after disconnect")
	}
}

func TestCloseDisconnectsClients(t *testing.T) {
	b, _ := newTestBroker(time.Second)
	ch, cancel := b.Subscribe()

	b.Close()
	b.Close()

	if _, ok := <-ch; ok {
		t.Fatal("subscriber channel should be closed")
	}
	cancel()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}
	if b.PublishIndexUpdate(IndexUpdate{Checksum: "x"}) {
		t.Error("publish after close should be ignored")
	}
	late, _ := b.Subscribe()
	if _, ok := <-late; ok {
		t.Error("subscribe after close should return a closed channel")
	}
}
