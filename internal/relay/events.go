package relay

import "encoding/json"

// Event names carried on the websocket, client to server.
const (
	EventUserConnect = "user_connect"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventMessageRead = "message_read"
)

// Event names pushed server to client.
const (
	EventUsersStatus     = "users_status"
	EventNewMessage      = "new_message"
	EventNewGroupMessage = "new_group_message"
	EventUserTyping      = "user_typing"
	EventReadReceipt     = "read_receipt"
	EventError           = "error"
)

// Message kinds accepted by send_message.
const (
	MessageDirect = "direct"
	MessageGroup  = "group"
)

// Frame is the wire envelope for every event in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals a payload into a wire frame.
func NewFrame(event string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: data}, nil
}

// ConnectPayload announces a participant on a fresh connection.
type ConnectPayload struct {
	Address  string `json:"address"`
	UserName string `json:"userName,omitempty"`
}

// Message is a transient relay message. The body is opaque text; reply and
// file envelopes ride inside it without this subsystem interpreting them.
type Message struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	From      string `json:"from"`
	To        string `json:"to,omitempty"`
	GroupID   string `json:"groupId,omitempty"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Delivered bool   `json:"delivered,omitempty"`
}

// TypingPayload is the client-side typing signal.
type TypingPayload struct {
	From     string `json:"from"`
	To       string `json:"to"`
	IsTyping bool   `json:"isTyping"`
}

// TypingNotice is what the recipient sees.
type TypingNotice struct {
	From     string `json:"from"`
	IsTyping bool   `json:"isTyping"`
}

// ReadPayload acknowledges a message was read.
type ReadPayload struct {
	MessageID string `json:"messageId"`
	Reader    string `json:"reader"`
	Sender    string `json:"sender"`
}

// ReceiptNotice is the read acknowledgement forwarded to the original sender.
type ReceiptNotice struct {
	MessageID string `json:"messageId"`
	Reader    string `json:"reader"`
}

// ErrorPayload reports a rejected event back to its sender.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
