package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestWebsocketPublisherBroadcastsToConnectedClients(t *testing.T) {
	pub := NewWebsocketPublisher()
	srv := httptest.NewServer(http.HandlerFunc(pub.ServeHTTP))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return pub.clientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, pub.Publish(context.Background(), Sample{Stamp: 123}))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), `"stamp":123`)
}
