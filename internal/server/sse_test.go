package server

import (
	"fmt"
	"testing"
	"time"
)

func TestSSEHub_BroadcastAndReceive(t *testing.T) {
	hub := newSSEHub(16)

	client, _ := hub.subscribe(nil, 0, false)
	defer hub.unsubscribe(client)

	hub.broadcast("lambdaq.invocation.queued", []byte(`{"id":"000000000001"}`))

	select {
	case evt := <-client.ch:
		if evt.Topic != "lambdaq.invocation.queued" {
			t.Fatalf("expected topic=%q, got %q", "lambdaq.invocation.queued", evt.Topic)
		}
		if string(evt.Data) != `{"id":"000000000001"}` {
			t.Fatalf("unexpected data %q", evt.Data)
		}
		if evt.ID != 1 {
			t.Fatalf("expected id=1, got %d", evt.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSSEHub_TopicFiltering(t *testing.T) {
	hub := newSSEHub(16)

	client, _ := hub.subscribe([]string{"lambdaq.invocation.*"}, 0, false)
	defer hub.unsubscribe(client)

	hub.broadcast("lambdaq.state.changed", []byte(`{}`))
	hub.broadcast("lambdaq.invocation.activated", []byte(`{}`))

	select {
	case evt := <-client.ch:
		if evt.Topic != "lambdaq.invocation.activated" {
			t.Fatalf("got topic %q", evt.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case evt := <-client.ch:
		t.Fatalf("unexpected event: topic=%q", evt.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSSEHub_Unsubscribe(t *testing.T) {
	hub := newSSEHub(16)

	client, _ := hub.subscribe(nil, 0, false)
	hub.unsubscribe(client)
	if hub.clientCount() != 0 {
		t.Fatalf("clientCount = %d", hub.clientCount())
	}

	hub.broadcast("lambdaq.state.changed", []byte(`{}`))

	select {
	case <-client.ch:
		t.Fatal("should not receive events after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSSEHub_SlowClientDropsEvents(t *testing.T) {
	hub := newSSEHub(16)
	client, _ := hub.subscribe(nil, 0, false)
	defer hub.unsubscribe(client)

	for range sseClientBuffer + 10 {
		hub.broadcast("lambdaq.state.changed", []byte(`{}`))
	}
	if len(client.ch) != sseClientBuffer {
		t.Fatalf("buffered %d, want %d", len(client.ch), sseClientBuffer)
	}
	if client.dropped != 10 {
		t.Fatalf("dropped = %d, want 10", client.dropped)
	}
}

func TestSSEHub_Replay(t *testing.T) {
	for _, tc := range []struct {
		name    string
		size    int
		sent    int
		lastID  uint64
		topics  []string
		wantIDs []uint64
	}{
		{"Empty", 8, 0, 0, nil, nil},
		{"AllNew", 8, 2, 0, nil, []uint64{1, 2}},
		{"Since", 8, 5, 2, nil, []uint64{3, 4, 5}},
		{"UpToDate", 8, 5, 5, nil, nil},
		{"Wrapped", 4, 10, 0, nil, []uint64{7, 8, 9, 10}},
		{"WrappedSince", 4, 10, 8, nil, []uint64{9, 10}},
		{"Filtered", 8, 6, 0, []string{"lambdaq.odd"}, []uint64{1, 3, 5}},
		{"NoRing", 0, 3, 0, nil, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			hub := newSSEHub(tc.size)
			for i := 1; i <= tc.sent; i++ {
				topic := "lambdaq.even"
				if i%2 == 1 {
					topic = "lambdaq.odd"
				}
				hub.broadcast(topic, []byte(fmt.Sprintf(`{"n":%d}`, i)))
			}

			client, backlog := hub.subscribe(tc.topics, tc.lastID, true)
			defer hub.unsubscribe(client)

			var got []uint64
			for _, evt := range backlog {
				got = append(got, evt.ID)
			}
			if fmt.Sprint(got) != fmt.Sprint(tc.wantIDs) {
				t.Fatalf("replayed %v, want %v", got, tc.wantIDs)
			}
		})
	}
}

func TestSSEHub_NoReplayWithoutLastEventID(t *testing.T) {
	hub := newSSEHub(8)
	hub.broadcast("lambdaq.state.changed", []byte(`{}`))
	client, backlog := hub.subscribe(nil, 0, false)
	defer hub.unsubscribe(client)
	if len(backlog) != 0 {
		t.Fatalf("backlog = %d events, want none", len(backlog))
	}
}

func TestMatchTopicPattern(t *testing.T) {
	for _, tc := range []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"lambdaq.state.changed", "lambdaq.state.changed", true},
		{"lambdaq.invocation.queued", "lambdaq.invocation.failed", false},
		{"lambdaq.invocation.*", "lambdaq.invocation.queued", true},
		{"lambdaq.invocation.*", "lambdaq.queue.cleared", false},
		{"lambdaq.>", "lambdaq.invocation.queued", true},
		{"lambdaq.>", "lambdaq.state.changed", true},
		{"lambdaq.>", "lambdaq", false},
		{"lambdaq.>", "other.topic", false},
		{"*.*.*", "lambdaq.queue.cleared", true},
		{"*.*.*", "lambdaq.queue", false},
		{"lambdaq.*", "lambdaq.queue.cleared", false},
	} {
		t.Run(tc.pattern+"_"+tc.topic, func(t *testing.T) {
			if got := matchTopicPattern(tc.pattern, tc.topic); got != tc.want {
				t.Fatalf("matchTopicPattern(%q, %q) = %v, want %v", tc.pattern, tc.topic, got, tc.want)
			}
		})
	}
}
