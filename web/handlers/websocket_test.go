package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lattice-kg/lattice/web/handlers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketHub_RejectsForeignOrigin(t *testing.T) {
	hub := handlers.NewWebSocketHub("localhost:7070")
	defer hub.Stop()

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")

	w := httptest.NewRecorder()
	hub.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWebSocketHub_Broadcast(t *testing.T) {
	hub := handlers.NewWebSocketHub()
	go hub.Run()
	defer hub.Stop()

	received := make(chan []byte, 1)
	mockClient := &handlers.MockClient{SendChan: received}

	hub.Register(mockClient)
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast("entity_created", map[string]string{"id": "e1"})

	select {
	case msg := <-received:
		assert.Contains(t, string(msg), "entity_created")
		assert.Contains(t, string(msg), "e1")
		assert.Contains(t, string(msg), "timestamp")
	case <-time.After(1 * time.Second):
		t.Fatal("broadcast never arrived")
	}
}

func TestWebSocketHub_BroadcastReachesAllClients(t *testing.T) {
	hub := handlers.NewWebSocketHub()
	go hub.Run()
	defer hub.Stop()

	a := &handlers.MockClient{SendChan: make(chan []byte, 1)}
	b := &handlers.MockClient{SendChan: make(chan []byte, 1)}
	hub.Register(a)
	hub.Register(b)
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast("project_deleted", map[string]string{"id": "p1"})

	for _, c := range []*handlers.MockClient{a, b} {
		select {
		case msg := <-c.SendChan:
			assert.Contains(t, string(msg), "project_deleted")
		case <-time.After(1 * time.Second):
			t.Fatal("client missed broadcast")
		}
	}
}

func TestWebSocketHub_SlowClientDropped(t *testing.T) {
	hub := handlers.NewWebSocketHub()
	go hub.Run()
	defer hub.Stop()

	// Unbuffered channel with no reader: the first fan-out cannot be
	// delivered and the client is evicted.
	slow := &handlers.MockClient{SendChan: make(chan []byte)}
	hub.Register(slow)
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast("entity_created", nil)
	time.Sleep(50 * time.Millisecond)

	// The send channel is closed on eviction.
	select {
	case _, ok := <-slow.SendChan:
		require.False(t, ok)
	case <-time.After(1 * time.Second):
		t.Fatal("slow client was not dropped")
	}
}

func TestWebSocketHub_Unregister(t *testing.T) {
	hub := handlers.NewWebSocketHub()
	go hub.Run()
	defer hub.Stop()

	c := &handlers.MockClient{SendChan: make(chan []byte, 1)}
	hub.Register(c)
	time.Sleep(10 * time.Millisecond)
	hub.Unregister(c)
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast("entity_created", nil)

	select {
	case _, ok := <-c.SendChan:
		// Channel closed by unregister; no event delivered.
		assert.False(t, ok)
	case <-time.After(100 * time.Millisecond):
	}
}
