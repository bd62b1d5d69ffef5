package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presenced/config"
	"presenced/handlers"
	"presenced/hub"
	"presenced/presence"
	"presenced/protocol"
)

func testConfig() *config.Config {
	return &config.Config{
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  90 * time.Second,
		SweepInterval:     15 * time.Second,
		EventRetention:    50,
		ClientSendBuffer:  64,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Second,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *presence.Coordinator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := hub.New()
	coord := presence.NewCoordinator(presence.CoordinatorConfig{
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		SweepInterval:     cfg.SweepInterval,
	}, presence.NewRegistry(), presence.NewRoomTable(cfg.MaxRooms), presence.NewEventFeed(cfg.EventRetention), h, nil)

	router := gin.New()
	handlers.RegisterRoutes(router, h, coord, cfg)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, coord
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/presence"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, typ protocol.MessageType, payload any) {
	t.Helper()
	frame, err := protocol.Encode(typ, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestJoinHandshake(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	conn := dial(t, srv)

	writeFrame(t, conn, protocol.TypeJoin, protocol.JoinPayload{Username: "Alice", RoomID: "general"})

	ack := readEnvelope(t, conn)
	require.Equal(t, protocol.TypeJoin, ack.Type)
	var joined protocol.JoinPayload
	require.NoError(t, json.Unmarshal(ack.Payload, &joined))
	assert.Equal(t, "Alice", joined.Username)

	sys := readEnvelope(t, conn)
	require.Equal(t, protocol.TypeSystem, sys.Type)

	roomSnap := readEnvelope(t, conn)
	require.Equal(t, protocol.TypeRoomPresence, roomSnap.Type)
	var rp protocol.RoomPresencePayload
	require.NoError(t, json.Unmarshal(roomSnap.Payload, &rp))
	assert.Equal(t, "general", rp.RoomID)
	require.Len(t, rp.Users, 1)
	assert.Equal(t, "Alice", rp.Users[0].Username)

	online := readEnvelope(t, conn)
	require.Equal(t, protocol.TypeOnlineUsers, online.Type)
	var ou protocol.OnlineUsersPayload
	require.NoError(t, json.Unmarshal(online.Payload, &ou))
	assert.Equal(t, 1, ou.TotalCount)
}

func TestJoinIsBroadcastToRoomMates(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	alice := dial(t, srv)
	writeFrame(t, alice, protocol.TypeJoin, protocol.JoinPayload{Username: "Alice", RoomID: "general"})
	for i := 0; i < 4; i++ {
		readEnvelope(t, alice) // drain Alice's own handshake
	}

	bob := dial(t, srv)
	writeFrame(t, bob, protocol.TypeJoin, protocol.JoinPayload{Username: "Bob", RoomID: "general"})

	// Alice hears about Bob: system event, then the refreshed snapshots.
	sys := readEnvelope(t, alice)
	require.Equal(t, protocol.TypeSystem, sys.Type)
	var ev protocol.SystemPayload
	require.NoError(t, json.Unmarshal(sys.Payload, &ev))
	assert.Contains(t, ev.Message, "Bob")

	roomSnap := readEnvelope(t, alice)
	require.Equal(t, protocol.TypeRoomPresence, roomSnap.Type)
	var rp protocol.RoomPresencePayload
	require.NoError(t, json.Unmarshal(roomSnap.Payload, &rp))
	assert.Len(t, rp.Users, 2)
}

func TestProtocolViolationClosesConnection(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"JOIN","payload":{"username":""},"timestamp":"x"}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "server should close on malformed payload")
}

func TestUnknownTypeKeepsConnectionOpen(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"TYPING","payload":{},"timestamp":"x"}`)))

	// The connection must still accept a real JOIN afterwards.
	writeFrame(t, conn, protocol.TypeJoin, protocol.JoinPayload{Username: "Alice", RoomID: "general"})
	ack := readEnvelope(t, conn)
	assert.Equal(t, protocol.TypeJoin, ack.Type)
}

func TestHeartbeatEviction(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.HeartbeatTimeout = 100 * time.Millisecond
	cfg.SweepInterval = 20 * time.Millisecond

	srv, coord := newTestServer(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	conn := dial(t, srv)
	writeFrame(t, conn, protocol.TypeJoin, protocol.JoinPayload{Username: "Alice", RoomID: "general"})

	// Never ping; the sweep must drop us and empty the room.
	assert.Eventually(t, func() bool {
		return len(coord.Rooms()) == 0
	}, 2*time.Second, 20*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func TestRESTMirror(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	conn := dial(t, srv)
	writeFrame(t, conn, protocol.TypeJoin, protocol.JoinPayload{Username: "Alice", RoomID: "general"})
	readEnvelope(t, conn) // wait until the join is applied

	resp, err := http.Get(srv.URL + "/api/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rooms struct {
		Rooms []struct {
			ID        string `json:"id"`
			UserCount int    `json:"userCount"`
		} `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	require.Len(t, rooms.Rooms, 1)
	assert.Equal(t, "general", rooms.Rooms[0].ID)
	assert.Equal(t, 1, rooms.Rooms[0].UserCount)

	health, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer health.Body.Close()
	var status struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
	}
	require.NoError(t, json.NewDecoder(health.Body).Decode(&status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, 1, status.Connections)

	events, err := http.Get(srv.URL + "/api/events")
	require.NoError(t, err)
	defer events.Body.Close()
	var feed struct {
		Events []struct {
			Message   string `json:"message"`
			EventType string `json:"eventType"`
		} `json:"events"`
	}
	require.NoError(t, json.NewDecoder(events.Body).Decode(&feed))
	require.NotEmpty(t, feed.Events)
	assert.Equal(t, "join", feed.Events[0].EventType)
}
