package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"presenced/config"
	"presenced/hub"
	"presenced/presence"
)

// Maximum inbound frame size; the protocol's largest client frame is a JOIN
// envelope well under this.
const maxMessageSize = 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades the request and attaches the connection to the hub and
// coordinator. Identity is not negotiated here: the connection stays pending
// until its first JOIN frame.
func ServeWS(h *hub.Hub, coord *presence.Coordinator, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logrus.WithError(err).Warn("websocket upgrade failed")
			return
		}

		client := &hub.Client{
			ID:   coord.Connect(),
			Conn: conn,
			Send: make(chan []byte, cfg.ClientSendBuffer),
		}
		h.Add(client)

		go writePump(client, cfg)
		go readPump(client, coord, cfg)
	}
}

// readPump moves frames from the socket into the coordinator. It owns the
// disconnect: whenever it exits, for any reason, the connection is evicted.
func readPump(client *hub.Client, session hub.Session, cfg *config.Config) {
	defer func() {
		session.Disconnect(client.ID)
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		_, data, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("conn_id", client.ID).WithError(err).Warn("websocket read error")
			}
			break
		}
		if err := session.HandleFrame(client.ID, data); err != nil {
			// Protocol violation: drop the connection before it can corrupt
			// room state any further.
			break
		}
	}
}

// writePump drains the client's send queue onto the socket and keeps the
// transport alive with pings. Frames already queued when the hub closes the
// channel are still flushed.
func writePump(client *hub.Client, cfg *config.Config) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
