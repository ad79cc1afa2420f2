package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dappchat/dappchat-relay/internal/relay"
	"go.uber.org/zap/zaptest"
)

func startRelayServer(t *testing.T) string {
	t.Helper()
	hub := relay.NewHub(zaptest.NewLogger(t), relay.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestConnectAnnouncesPresence(t *testing.T) {
	url := startRelayServer(t)
	c := New(url, zaptest.NewLogger(t))
	t.Cleanup(c.Disconnect)

	statuses := make(chan json.RawMessage, 4)
	c.Subscribe(relay.EventUsersStatus, func(data json.RawMessage) {
		statuses <- data
	})

	if err := c.Connect(context.Background(), Identity{Address: "0xA", UserName: "alice"}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	data := waitFor(t, statuses, "users_status")
	if !strings.Contains(string(data), "0xa") {
		t.Fatalf("expected own presence in snapshot, got %s", data)
	}

	// Reconnecting with the same identity is a harmless re-announce.
	if err := c.Connect(context.Background(), Identity{Address: "0xA", UserName: "alice"}); err != nil {
		t.Fatalf("re-announce: %v", err)
	}
	waitFor(t, statuses, "users_status after re-announce")
}

func TestDirectMessageBetweenClients(t *testing.T) {
	url := startRelayServer(t)

	alice := New(url, zaptest.NewLogger(t))
	bob := New(url, zaptest.NewLogger(t))
	t.Cleanup(alice.Disconnect)
	t.Cleanup(bob.Disconnect)

	bobInbox := make(chan relay.Message, 4)
	bob.Subscribe(relay.EventNewMessage, func(data json.RawMessage) {
		var msg relay.Message
		if err := json.Unmarshal(data, &msg); err == nil {
			bobInbox <- msg
		}
	})
	aliceInbox := make(chan relay.Message, 4)
	alice.Subscribe(relay.EventNewMessage, func(data json.RawMessage) {
		var msg relay.Message
		if err := json.Unmarshal(data, &msg); err == nil {
			aliceInbox <- msg
		}
	})

	if err := alice.Connect(context.Background(), Identity{Address: "0xA", UserName: "alice"}); err != nil {
		t.Fatalf("connect alice: %v", err)
	}
	if err := bob.Connect(context.Background(), Identity{Address: "0xB", UserName: "bob"}); err != nil {
		t.Fatalf("connect bob: %v", err)
	}
	// Let bob's announcement land before targeting him.
	time.Sleep(100 * time.Millisecond)

	if err := alice.SendDirectMessage(relay.Message{To: "0xB", Body: "hello"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	got := waitFor(t, bobInbox, "delivery to bob")
	if got.From != "0xA" || got.Body != "hello" || got.Delivered {
		t.Fatalf("unexpected delivery: %+v", got)
	}
	if got.ID == "" || got.Timestamp == 0 {
		t.Fatalf("expected facade to stamp id and timestamp: %+v", got)
	}

	echo := waitFor(t, aliceInbox, "echo to alice")
	if !echo.Delivered || echo.Body != "hello" {
		t.Fatalf("unexpected echo: %+v", echo)
	}
}

func TestSubscribeOrderAndUnsubscribe(t *testing.T) {
	c := New("ws://unused", zaptest.NewLogger(t))

	var calls []string
	c.Subscribe("ev", func(json.RawMessage) { calls = append(calls, "first") })
	unsub := c.Subscribe("ev", func(json.RawMessage) { calls = append(calls, "second") })
	c.Subscribe("ev", func(json.RawMessage) { calls = append(calls, "third") })

	c.dispatch(relay.Frame{Event: "ev"})
	if len(calls) != 3 || calls[0] != "first" || calls[1] != "second" || calls[2] != "third" {
		t.Fatalf("expected insertion-order dispatch, got %v", calls)
	}

	calls = nil
	unsub()
	unsub() // second call removes nothing further
	c.dispatch(relay.Frame{Event: "ev"})
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "third" {
		t.Fatalf("expected exactly one listener removed, got %v", calls)
	}
}

func TestListenersSurviveReconnect(t *testing.T) {
	url := startRelayServer(t)
	c := New(url, zaptest.NewLogger(t))

	statuses := make(chan json.RawMessage, 8)
	c.Subscribe(relay.EventUsersStatus, func(data json.RawMessage) {
		statuses <- data
	})

	if err := c.Connect(context.Background(), Identity{Address: "0xA"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, statuses, "initial users_status")

	c.Disconnect()
	if err := c.Send("ev", nil); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected after disconnect, got %v", err)
	}

	if err := c.Connect(context.Background(), Identity{Address: "0xA"}); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	t.Cleanup(c.Disconnect)
	waitFor(t, statuses, "users_status after reconnect")
}

func TestSendBeforeConnect(t *testing.T) {
	c := New("ws://unused", zaptest.NewLogger(t))
	if err := c.Send("ev", nil); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
