// Package relay implements the real-time presence and message-relay hub: a
// registry of live connections, best-effort routing of direct and group
// messages, and propagation of typing and read-receipt signals. Durable
// delivery is the ledger's job; the hub only guarantees "delivered if
// currently reachable".
package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dappchat/dappchat-relay/internal/ledger"
	"github.com/dappchat/dappchat-relay/internal/presence"
	"go.uber.org/zap"
)

const (
	sendBufferSize = 32
	eventQueueSize = 256

	defaultSweepInterval = time.Minute
)

// Options configures hub observability and policy hooks.
type Options struct {
	Metrics *Metrics
	// Membership resolves group members from the ledger. When nil, or when a
	// group is unknown, group messages fall back to broadcasting to every
	// connection and clients filter by groupId.
	Membership ledger.Membership
	// PresenceRetention evicts offline records idle longer than this; zero
	// keeps the last-known-offline set forever, growing with the process.
	PresenceRetention time.Duration
	SweepInterval     time.Duration
}

// Hub fans every transport event into one processing stream. Each inbound
// event is handled to completion before the next starts, so the registry
// never observes a partially applied connect or disconnect and a presence
// broadcast always reflects exactly the state its triggering event produced.
type Hub struct {
	log        *zap.Logger
	registry   *presence.Registry
	membership ledger.Membership
	metrics    *Metrics

	events   chan hubEvent
	done     chan struct{}
	sessions map[string]*session

	retention     time.Duration
	sweepInterval time.Duration
	nowFn         func() time.Time
}

// NewHub wires the hub with its dependencies.
func NewHub(log *zap.Logger, opts Options) *Hub {
	h := &Hub{
		log:           log,
		registry:      presence.NewRegistry(),
		membership:    opts.Membership,
		metrics:       opts.Metrics,
		events:        make(chan hubEvent, eventQueueSize),
		done:          make(chan struct{}),
		sessions:      make(map[string]*session),
		retention:     opts.PresenceRetention,
		sweepInterval: opts.SweepInterval,
		nowFn:         time.Now,
	}
	if h.sweepInterval <= 0 {
		h.sweepInterval = defaultSweepInterval
	}
	return h
}

// Run consumes the event stream until the context is cancelled. It must be
// running before any connection is attached.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, sess := range h.sessions {
				sess.cancel()
			}
			return
		case ev := <-h.events:
			h.handle(ev)
		case <-ticker.C:
			h.sweep()
		}
	}
}

type eventKind int

const (
	evAttach eventKind = iota
	evDetach
	evFrame
)

type hubEvent struct {
	kind  eventKind
	sess  *session
	frame Frame
}

// Attach registers a freshly accepted transport connection.
func (h *Hub) Attach(sess *session) {
	h.enqueue(hubEvent{kind: evAttach, sess: sess})
}

// Detach removes a connection after its read loop ends. Unlike Dispatch it
// must go through even when the session was already cancelled, or the hub
// would keep routing to a dead connection.
func (h *Hub) Detach(sess *session) {
	select {
	case h.events <- hubEvent{kind: evDetach, sess: sess}:
	case <-h.done:
	}
}

// Dispatch hands an inbound frame to the processing stream. Frames from the
// same connection keep their transport order.
func (h *Hub) Dispatch(sess *session, frame Frame) {
	h.enqueue(hubEvent{kind: evFrame, sess: sess, frame: frame})
}

func (h *Hub) enqueue(ev hubEvent) {
	select {
	case h.events <- ev:
	case <-ev.sess.ctx.Done():
	case <-h.done:
	}
}

func (h *Hub) handle(ev hubEvent) {
	switch ev.kind {
	case evAttach:
		h.sessions[ev.sess.id] = ev.sess
		h.metrics.incConnection()
		h.log.Debug("connection attached", zap.String("connection_id", ev.sess.id))
	case evDetach:
		h.detach(ev.sess)
	case evFrame:
		start := h.nowFn()
		err := h.routeFrame(ev.sess, ev.frame)
		h.metrics.observeLatency(ev.frame.Event, h.nowFn().Sub(start))
		if err == nil {
			return
		}
		rerr, ok := err.(*routeError)
		if !ok {
			rerr = &routeError{code: "INTERNAL", msg: err.Error()}
		}
		h.metrics.recordError(rerr.code)
		h.push(ev.sess, EventError, ErrorPayload{Code: rerr.code, Message: rerr.msg})
	}
}

func (h *Hub) detach(sess *session) {
	if _, ok := h.sessions[sess.id]; !ok {
		return
	}
	delete(h.sessions, sess.id)
	sess.cancel()
	close(sess.sendCh)
	h.metrics.decConnection()

	if h.registry.Disconnect(sess.id) {
		h.broadcastPresence()
		h.log.Info("participant disconnected",
			zap.String("address", sess.address),
			zap.String("connection_id", sess.id))
		return
	}
	h.log.Debug("connection detached", zap.String("connection_id", sess.id))
}

func (h *Hub) routeFrame(sess *session, frame Frame) error {
	h.metrics.recordEvent(frame.Event)

	switch frame.Event {
	case EventUserConnect:
		var payload ConnectPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return &routeError{code: "BAD_PAYLOAD", msg: "malformed user_connect payload"}
		}
		return h.handleConnect(sess, payload)
	case EventSendMessage:
		var msg Message
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			return &routeError{code: "BAD_PAYLOAD", msg: "malformed send_message payload"}
		}
		return h.relayMessage(sess, msg)
	case EventTyping:
		var payload TypingPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return &routeError{code: "BAD_PAYLOAD", msg: "malformed typing payload"}
		}
		h.forwardTo(payload.To, EventUserTyping, TypingNotice{From: payload.From, IsTyping: payload.IsTyping})
		return nil
	case EventMessageRead:
		var payload ReadPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return &routeError{code: "BAD_PAYLOAD", msg: "malformed message_read payload"}
		}
		h.forwardTo(payload.Sender, EventReadReceipt, ReceiptNotice{MessageID: payload.MessageID, Reader: payload.Reader})
		return nil
	default:
		return &routeError{code: "UNSUPPORTED_EVENT", msg: "unsupported event " + frame.Event}
	}
}

func (h *Hub) handleConnect(sess *session, payload ConnectPayload) error {
	addr := presence.Normalize(payload.Address)
	if addr == "" {
		return &routeError{code: "INVALID_ADDRESS", msg: "address required"}
	}

	// A connection re-announcing a different address releases its old record;
	// one connection never keeps two addresses live.
	if sess.address != "" && sess.address != addr {
		h.registry.Disconnect(sess.id)
	}

	sess.address = addr
	h.registry.Connect(addr, payload.UserName, sess.id)
	h.broadcastPresence()
	h.log.Info("participant connected",
		zap.String("address", addr),
		zap.String("user_name", payload.UserName),
		zap.String("connection_id", sess.id))
	return nil
}

func (h *Hub) relayMessage(sess *session, msg Message) error {
	if msg.From == "" {
		return &routeError{code: "INVALID_MESSAGE", msg: "sender required"}
	}

	switch msg.Type {
	case MessageDirect:
		if msg.To == "" {
			return &routeError{code: "INVALID_MESSAGE", msg: "direct message target required"}
		}
		// Forward unchanged if the target is reachable; offline targets are a
		// normal outcome, the ledger owns durable delivery.
		if peer, ok := h.liveSession(msg.To); ok {
			h.push(peer, EventNewMessage, msg)
		} else {
			h.metrics.recordDrop("offline")
		}

		echo := msg
		echo.Delivered = true
		if echo.Timestamp == 0 {
			echo.Timestamp = h.nowFn().UnixMilli()
		}
		h.push(sess, EventNewMessage, echo)
		return nil

	case MessageGroup:
		if msg.GroupID == "" {
			return &routeError{code: "INVALID_MESSAGE", msg: "group id required"}
		}
		if h.membership != nil {
			if members, ok := h.membership.Members(msg.GroupID); ok {
				for _, addr := range members {
					if peer, ok := h.liveSession(addr); ok {
						h.push(peer, EventNewGroupMessage, msg)
					}
				}
				return nil
			}
		}
		for _, peer := range h.sessions {
			h.push(peer, EventNewGroupMessage, msg)
		}
		return nil

	default:
		return &routeError{code: "INVALID_MESSAGE", msg: "unknown message type"}
	}
}

// forwardTo delivers an ephemeral signal to an address if it is currently
// reachable. No retry, no queuing.
func (h *Hub) forwardTo(address, event string, payload any) {
	peer, ok := h.liveSession(address)
	if !ok {
		h.metrics.recordDrop("offline")
		return
	}
	h.push(peer, event, payload)
}

func (h *Hub) liveSession(address string) (*session, bool) {
	rec, ok := h.registry.Lookup(address)
	if !ok || !rec.Online {
		return nil, false
	}
	sess, ok := h.sessions[rec.ConnectionID]
	return sess, ok
}

// broadcastPresence pushes the full snapshot to every connected transport,
// best effort per destination.
func (h *Hub) broadcastPresence() {
	snapshot := h.registry.Snapshot()
	for _, sess := range h.sessions {
		h.push(sess, EventUsersStatus, snapshot)
	}
}

func (h *Hub) push(sess *session, event string, payload any) {
	frame, err := NewFrame(event, payload)
	if err != nil {
		h.log.Warn("marshal frame", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case <-sess.ctx.Done():
	case sess.sendCh <- frame:
	default:
		// A consumer too slow to drain its buffer is dropped rather than
		// allowed to stall the processing stream.
		sess.cancel()
		h.metrics.recordDrop("backpressure")
		h.log.Warn("session send buffer full", zap.String("connection_id", sess.id))
	}
}

func (h *Hub) sweep() {
	if h.retention <= 0 {
		return
	}
	removed := h.registry.EvictStale(h.nowFn().Add(-h.retention))
	if removed == 0 {
		return
	}
	h.metrics.recordEviction(removed)
	h.broadcastPresence()
	h.log.Info("evicted stale presence records", zap.Int("count", removed))
}

// routeError maps validation failures to error frames for the offending
// sender; nothing else ever sees them.
type routeError struct {
	code string
	msg  string
}

func (e *routeError) Error() string {
	return e.msg
}
