package events

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(nil)
	router := chi.NewRouter()
	RegisterRoutes(router, hub)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	t.Cleanup(hub.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/events"
	return hub, wsURL
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", want, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	hub, wsURL := startHub(t)

	first := dial(t, wsURL)
	second := dial(t, wsURL)
	waitForClients(t, hub, 2)

	hub.Broadcast("fleet.updated", map[string]any{"nodes": 3})

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var event Event
		require.NoError(t, conn.ReadJSON(&event))
		require.Equal(t, "fleet.updated", event.Type)
		require.NotEmpty(t, event.At)
	}
}

func TestHub_DisconnectedClientIsDropped(t *testing.T) {
	hub, wsURL := startHub(t)

	conn := dial(t, wsURL)
	waitForClients(t, hub, 1)

	require.NoError(t, conn.Close())
	// The read loop notices the close and drops the client.
	waitForClients(t, hub, 0)

	// Broadcasting to an empty hub is a no-op.
	hub.Broadcast("fleet.updated", nil)
}
