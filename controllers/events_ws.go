package controller

import (
	"log"

	"github.com/gofiber/websocket/v2"

	"quorum/events"
)

// HandleEventsWS subscribes a websocket client to the domain event hub and
// forwards every event as JSON. Clients use the stream to invalidate their
// cached views and re-fetch; the payload is advisory.
func HandleEventsWS(hub *events.Hub, logger *log.Logger) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		ch, cancel := hub.Subscribe(32)
		defer cancel()

		// Drain client frames so closes and pings are noticed.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-done:
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if err := c.WriteJSON(ev); err != nil {
					logger.Printf("Failed to push event to client: %v", err)
					return
				}
			}
		}
	}
}
