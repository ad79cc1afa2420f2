package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from the dapp origin; the wallet signature on
	// ledger writes is the real authentication boundary, not the socket.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// session is one live transport connection. The hub owns its registration;
// the websocket handler owns the read loop and the writer drains sendCh.
type session struct {
	id     string
	sendCh chan Frame
	ctx    context.Context
	cancel context.CancelFunc

	address     string
	connectedAt time.Time
}

func newSession(id string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:          id,
		sendCh:      make(chan Frame, sendBufferSize),
		ctx:         ctx,
		cancel:      cancel,
		connectedAt: time.Now(),
	}
}

// HandleWS upgrades an HTTP request and pumps frames between the socket and
// the hub until either side goes away.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sess := newSession(uuid.NewString())
	h.Attach(sess)
	go h.writePump(conn, sess)
	h.readLoop(conn, sess)
}

func (h *Hub) readLoop(conn *websocket.Conn, sess *session) {
	defer func() {
		h.Detach(sess)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("websocket read ended", zap.String("connection_id", sess.id), zap.Error(err))
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			// Unparseable frames are absorbed; the sender gets nothing back.
			h.metrics.recordError("UNPARSEABLE_FRAME")
			continue
		}
		h.Dispatch(sess, frame)

		select {
		case <-sess.ctx.Done():
			return
		default:
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, sess *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-sess.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case frame, ok := <-sess.sendCh:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				h.log.Debug("websocket write failed", zap.String("connection_id", sess.id), zap.Error(err))
				sess.cancel()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sess.cancel()
				return
			}
		}
	}
}
