// Package client is the process-side relay facade: one long-lived websocket
// multiplexing outbound events and dispatching inbound events to registered
// listeners. Persistence to the ledger happens elsewhere and in parallel; this
// connection only accelerates delivery to currently reachable peers.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dappchat/dappchat-relay/internal/relay"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	sendBufferSize   = 64
)

// ErrNotConnected is returned by Send before the transport exists.
var ErrNotConnected = errors.New("relay client is not connected")

// Identity announces who this process is on the relay.
type Identity struct {
	Address  string
	UserName string
}

// Listener receives the raw payload of one inbound event.
type Listener func(data json.RawMessage)

type listenerEntry struct {
	id int
	fn Listener
}

// Client maintains exactly one underlying connection, lazily created on first
// Connect. Listener registrations live independently of the connection so UI
// components survive a reconnect without re-subscribing.
type Client struct {
	url string
	log *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	sendCh   chan relay.Frame
	done     chan struct{}
	identity Identity

	lmu       sync.Mutex
	listeners map[string][]listenerEntry
	nextID    int
}

// New builds a facade for the given relay websocket URL.
func New(url string, log *zap.Logger) *Client {
	return &Client{
		url:       url,
		log:       log,
		listeners: make(map[string][]listenerEntry),
	}
}

// Connect dials the relay if needed and announces the identity. Calling it
// again while connected just re-announces, so it is safe to invoke on every
// wallet unlock or network blip.
func (c *Client) Connect(ctx context.Context, identity Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.identity = identity
	if c.conn == nil {
		if err := c.dialLocked(ctx); err != nil {
			return err
		}
	}
	if identity.Address == "" {
		return nil
	}
	return c.enqueueLocked(relay.EventUserConnect, relay.ConnectPayload{
		Address:  identity.Address,
		UserName: identity.UserName,
	})
}

func (c *Client) dialLocked(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}

	c.conn = conn
	c.sendCh = make(chan relay.Frame, sendBufferSize)
	c.done = make(chan struct{})
	go c.sendLoop(conn, c.sendCh, c.done)
	go c.readLoop(conn)
	c.log.Info("relay connected", zap.String("url", c.url))
	return nil
}

// Send queues an event without blocking the caller. Delivery confirmation, if
// any, arrives later as an inbound event from the relay.
func (c *Client) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.enqueueLocked(event, payload)
}

func (c *Client) enqueueLocked(event string, payload any) error {
	frame, err := relay.NewFrame(event, payload)
	if err != nil {
		return err
	}
	select {
	case c.sendCh <- frame:
		return nil
	default:
		c.log.Warn("relay send buffer full, dropping event", zap.String("event", event))
		return errors.New("relay send buffer full")
	}
}

// Subscribe registers a listener for an event name. Listeners for the same
// event fire in registration order; the returned disposer removes exactly
// this registration.
func (c *Client) Subscribe(event string, fn Listener) func() {
	c.lmu.Lock()
	defer c.lmu.Unlock()

	c.nextID++
	id := c.nextID
	c.listeners[event] = append(c.listeners[event], listenerEntry{id: id, fn: fn})

	return func() {
		c.lmu.Lock()
		defer c.lmu.Unlock()
		entries := c.listeners[event]
		for i, entry := range entries {
			if entry.id == id {
				c.listeners[event] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

// Disconnect closes the transport. Listener registrations deliberately
// survive so a later Connect resumes dispatch without re-subscription.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	conn := c.conn
	c.conn = nil
	close(c.done)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
	_ = conn.Close()
	c.log.Info("relay disconnected")
}

func (c *Client) sendLoop(conn *websocket.Conn, ch chan relay.Frame, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case frame := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(frame); err != nil {
				c.log.Warn("relay write failed", zap.Error(err))
				c.dropConn(conn)
				return
			}
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var frame relay.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			c.dropConn(conn)
			return
		}
		c.dispatch(frame)
	}
}

// dropConn tears down state for a dead connection exactly once; a concurrent
// reconnect swaps c.conn first and wins.
func (c *Client) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.conn = nil
	close(c.done)
	_ = conn.Close()
	c.log.Warn("relay connection lost")
}

func (c *Client) dispatch(frame relay.Frame) {
	c.lmu.Lock()
	entries := make([]listenerEntry, len(c.listeners[frame.Event]))
	copy(entries, c.listeners[frame.Event])
	c.lmu.Unlock()

	for _, entry := range entries {
		entry.fn(frame.Data)
	}
}

// SendDirectMessage relays a direct message, stamping id and timestamp when
// the caller left them empty.
func (c *Client) SendDirectMessage(msg relay.Message) error {
	msg.Type = relay.MessageDirect
	if msg.From == "" {
		msg.From = c.currentIdentity().Address
	}
	fillDefaults(&msg)
	return c.Send(relay.EventSendMessage, msg)
}

// SendGroupMessage relays a group message.
func (c *Client) SendGroupMessage(msg relay.Message) error {
	msg.Type = relay.MessageGroup
	if msg.From == "" {
		msg.From = c.currentIdentity().Address
	}
	fillDefaults(&msg)
	return c.Send(relay.EventSendMessage, msg)
}

// SendTyping emits a typing signal toward a peer.
func (c *Client) SendTyping(to string, isTyping bool) error {
	return c.Send(relay.EventTyping, relay.TypingPayload{
		From:     c.currentIdentity().Address,
		To:       to,
		IsTyping: isTyping,
	})
}

// SendReadReceipt acknowledges a message back to its sender.
func (c *Client) SendReadReceipt(messageID, sender string) error {
	return c.Send(relay.EventMessageRead, relay.ReadPayload{
		MessageID: messageID,
		Reader:    c.currentIdentity().Address,
		Sender:    sender,
	})
}

func (c *Client) currentIdentity() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func fillDefaults(msg *relay.Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
}
