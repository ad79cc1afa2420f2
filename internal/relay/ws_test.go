package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dappchat/dappchat-relay/internal/presence"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
)

func startWSServer(t *testing.T) *httptest.Server {
	t.Helper()
	h := NewHub(zaptest.NewLogger(t), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendWS(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	frame, err := NewFrame(event, payload)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func readWS(t *testing.T, conn *websocket.Conn, event string) Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read waiting for %s: %v", event, err)
		}
		if frame.Event == event {
			return frame
		}
	}
}

func TestWebsocketEndToEndDirectChat(t *testing.T) {
	srv := startWSServer(t)

	alice := dialWS(t, srv)
	bob := dialWS(t, srv)

	sendWS(t, alice, EventUserConnect, ConnectPayload{Address: "0xA11CE", UserName: "alice"})
	readWS(t, alice, EventUsersStatus)

	sendWS(t, bob, EventUserConnect, ConnectPayload{Address: "0xB0B", UserName: "bob"})
	frame := readWS(t, bob, EventUsersStatus)

	var statuses []presence.Info
	if err := json.Unmarshal(frame.Data, &statuses); err != nil {
		t.Fatalf("decode users_status: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected two participants, got %+v", statuses)
	}

	sendWS(t, alice, EventSendMessage, Message{Type: MessageDirect, From: "0xA11CE", To: "0xB0B", Body: "gm"})

	got := readWS(t, bob, EventNewMessage)
	var msg Message
	if err := json.Unmarshal(got.Data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Body != "gm" || msg.Delivered {
		t.Fatalf("unexpected delivery: %+v", msg)
	}

	echoFrame := readWS(t, alice, EventNewMessage)
	var echo Message
	if err := json.Unmarshal(echoFrame.Data, &echo); err != nil {
		t.Fatalf("decode echo: %v", err)
	}
	if !echo.Delivered || echo.Timestamp == 0 {
		t.Fatalf("unexpected echo: %+v", echo)
	}
}

func TestWebsocketDisconnectUpdatesPresence(t *testing.T) {
	srv := startWSServer(t)

	alice := dialWS(t, srv)
	bob := dialWS(t, srv)

	sendWS(t, alice, EventUserConnect, ConnectPayload{Address: "0xA", UserName: "alice"})
	readWS(t, alice, EventUsersStatus)
	sendWS(t, bob, EventUserConnect, ConnectPayload{Address: "0xB", UserName: "bob"})
	readWS(t, bob, EventUsersStatus)
	readWS(t, alice, EventUsersStatus)

	if err := alice.Close(); err != nil {
		t.Fatalf("close alice: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		frame := readWS(t, bob, EventUsersStatus)
		var statuses []presence.Info
		if err := json.Unmarshal(frame.Data, &statuses); err != nil {
			t.Fatalf("decode users_status: %v", err)
		}
		offline := false
		for _, s := range statuses {
			if s.Address == "0xa" && !s.IsOnline && s.LastSeen > 0 {
				offline = true
			}
		}
		if offline {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("never observed offline status: %+v", statuses)
		}
	}
}

func TestWebsocketUnparseableFramesAbsorbed(t *testing.T) {
	srv := startWSServer(t)
	conn := dialWS(t, srv)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json at all")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	// The connection stays usable afterwards.
	sendWS(t, conn, EventUserConnect, ConnectPayload{Address: "0xA", UserName: "alice"})
	readWS(t, conn, EventUsersStatus)
}
