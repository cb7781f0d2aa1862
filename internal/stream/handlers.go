package stream

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// RegisterRoutes exposes the live metrics feed. Each connection follows
// one session's snapshot stream until the viewer disconnects; the feed
// is one-way, reads only detect the hangup.
func RegisterRoutes(r fiber.Router, hub *Hub) {
	r.Get("/ws/:sessionID", websocket.New(func(conn *websocket.Conn) {
		sessionID := conn.Params("sessionID")
		viewer := hub.Register(sessionID)

		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for snapshot := range viewer.Send {
				if err := conn.WriteMessage(websocket.TextMessage, snapshot); err != nil {
					hub.log.Debug("metrics feed write failed",
						zap.String("session_id", sessionID), zap.Error(err))
					return
				}
			}
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		// unregister first; closing the send channel releases the writer
		// even when no snapshot is in flight
		hub.Unregister(viewer)
		<-writerDone
	}))
}
