package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"presenced/config"
	"presenced/hub"
	"presenced/presence"
)

// RegisterRoutes wires the WebSocket endpoint and the REST mirror of the
// presence state. The REST views are read-only snapshots for operators and
// dashboards that do not hold a socket open.
func RegisterRoutes(r *gin.Engine, h *hub.Hub, coord *presence.Coordinator, cfg *config.Config) {
	r.GET("/ws/presence", ServeWS(h, coord, cfg))

	api := r.Group("/api")
	api.GET("/rooms", listRooms(coord))
	api.GET("/online", onlineUsers(coord))
	api.GET("/events", recentEvents(coord))

	r.GET("/healthz", healthz(h, coord))
}

func listRooms(coord *presence.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": coord.RoomDetails()})
	}
}

func onlineUsers(coord *presence.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		users, total := coord.OnlineUsers()
		c.JSON(http.StatusOK, gin.H{"users": users, "totalCount": total})
	}
}

func recentEvents(coord *presence.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"events": coord.Events()})
	}
}

func healthz(h *hub.Hub, coord *presence.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		conns, rooms := coord.Stats()
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": conns,
			"rooms":       rooms,
			"transports":  h.Count(),
		})
	}
}
