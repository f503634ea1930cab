package stream

import (
	"context"

	"backend-safetrack/internal/auth"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const channelKey = "stream_channel"

// Access decides which channel a websocket client may follow. Owner checks
// that an event or session id belongs to the caller; Shared maps a share
// token to its session id.
type Access struct {
	Owner  func(ctx context.Context, ownerID, channelID string) error
	Shared func(ctx context.Context, token string) (string, error)
}

func RegisterRoutes(r fiber.Router, hub *Hub, access Access, authMiddleware fiber.Handler, sharedMiddleware ...fiber.Handler) {
	r.Get("/ws/:id", authMiddleware, requireUpgrade, func(c *fiber.Ctx) error {
		channelID := c.Params("id")
		if err := access.Owner(c.UserContext(), auth.OwnerID(c), channelID); err != nil {
			return err
		}
		c.Locals(channelKey, channelID)
		return c.Next()
	}, websocket.New(serve(hub)))

	shared := append(append([]fiber.Handler{}, sharedMiddleware...), requireUpgrade, func(c *fiber.Ctx) error {
		channelID, err := access.Shared(c.UserContext(), c.Params("token"))
		if err != nil {
			return err
		}
		c.Locals(channelKey, channelID)
		return c.Next()
	}, websocket.New(serve(hub)))
	r.Get("/shared/:token", shared...)
}

func requireUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}

func serve(hub *Hub) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		channelID, _ := c.Locals(channelKey).(string)
		client := hub.Register(channelID)

		done := make(chan struct{})
		go func() {
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					break
				}
			}
			close(done)
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		hub.Unregister(client)
		<-done
	}
}
