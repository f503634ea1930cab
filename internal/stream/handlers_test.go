package stream

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backend-safetrack/internal/shared/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
)

var testAccess = Access{
	Owner: func(_ context.Context, ownerID, channelID string) error {
		if ownerID != "owner-1" || channelID == "someone-else" {
			return apperr.NotFound("session not found")
		}
		return nil
	},
	Shared: func(_ context.Context, token string) (string, error) {
		switch token {
		case "good-token":
			return "session-shared", nil
		case "old-token":
			return "", apperr.ErrExpired
		}
		return "", apperr.NotFound("share link not found")
	},
}

func fakeAuth(c *fiber.Ctx) error {
	c.Locals("user_id", "owner-1")
	return c.Next()
}

func newStreamApp(hub *Hub) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: apperr.ErrorHandler})
	RegisterRoutes(app.Group("/stream"), hub, testAccess, fakeAuth)
	return app
}

func listen(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	go func() {
		_ = app.Listener(ln)
	}()
	t.Cleanup(func() { _ = app.Shutdown() })
	return "ws://" + ln.Addr().String()
}

func TestStreamHandlersUpgradeRequired(t *testing.T) {
	app := newStreamApp(NewHub(nil))

	req := httptest.NewRequest(http.MethodGet, "/stream/ws/session-1", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("expected 426 for non-websocket request, got %d", resp.StatusCode)
	}
}

func TestStreamHandlersWebsocketBroadcast(t *testing.T) {
	hub := NewHub(nil)
	base := listen(t, newStreamApp(hub))

	conn, _, err := websocket.DefaultDialer.Dial(base+"/stream/ws/session-1", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	waitForClient(t, hub, "session-1")
	hub.Broadcast("session-1", []byte("hello"))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(msg) != "hello" {
		t.Fatalf("unexpected message")
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("client")); err != nil {
		t.Fatalf("write error: %v", err)
	}
}

func TestStreamHandlersRejectsForeignChannel(t *testing.T) {
	base := listen(t, newStreamApp(NewHub(nil)))

	_, resp, err := websocket.DefaultDialer.Dial(base+"/stream/ws/someone-else", nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 handshake response")
	}
}

func TestStreamHandlersSharedToken(t *testing.T) {
	hub := NewHub(nil)
	base := listen(t, newStreamApp(hub))

	conn, _, err := websocket.DefaultDialer.Dial(base+"/stream/shared/good-token", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	waitForClient(t, hub, "session-shared")
	hub.Broadcast("session-shared", []byte("pos"))
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, msg, err := conn.ReadMessage(); err != nil || string(msg) != "pos" {
		t.Fatalf("expected shared message, got %q %v", msg, err)
	}

	_, resp, err := websocket.DefaultDialer.Dial(base+"/stream/shared/old-token", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected expired token to be refused")
	}
}

func TestStreamHandlersWebsocketCloseMessage(t *testing.T) {
	hub := NewHub(nil)
	base := listen(t, newStreamApp(hub))

	conn, _, err := websocket.DefaultDialer.Dial(base+"/stream/ws/session-3", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	waitForClient(t, hub, "session-3")

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.followers("session-3") > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client was not unregistered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	hub.Broadcast("session-3", []byte("ping"))
}

func TestStreamHandlersAccessError(t *testing.T) {
	access := testAccess
	access.Owner = func(context.Context, string, string) error { return errors.New("db down") }
	app := fiber.New(fiber.Config{ErrorHandler: apperr.ErrorHandler})
	RegisterRoutes(app.Group("/stream"), NewHub(nil), access, fakeAuth)
	base := listen(t, app)

	_, resp, err := websocket.DefaultDialer.Dial(base+"/stream/ws/session-1", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 handshake response")
	}
}

func waitForClient(t *testing.T, hub *Hub, channelID string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for hub.followers(channelID) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered on %s", channelID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
