package client

import (
	"context"
	"time"

	"github.com/dappchat/dappchat-relay/internal/envelope"
	"github.com/dappchat/dappchat-relay/internal/gateway"
	"github.com/dappchat/dappchat-relay/internal/ledger"
	"github.com/dappchat/dappchat-relay/internal/relay"
	"go.uber.org/zap"
)

// Uploader pins attachments and reports the absorbed outcome.
type Uploader interface {
	Upload(ctx context.Context, in gateway.FileInput) gateway.UploadResult
}

// ChatService drives a chat action down both paths at once: the ledger write
// that makes it durable and the relay emit that makes it instant. The two are
// independent; a relay hiccup never fails the send, the peer still sees the
// message on their next history read.
type ChatService struct {
	contract ledger.Contract
	uploads  Uploader
	relay    *Client
	log      *zap.Logger
}

// NewChatService wires the persistence, upload and relay collaborators.
func NewChatService(contract ledger.Contract, uploads Uploader, relayClient *Client, log *zap.Logger) *ChatService {
	return &ChatService{
		contract: contract,
		uploads:  uploads,
		relay:    relayClient,
		log:      log,
	}
}

// SendMessage persists a direct message and relays it to the peer if they are
// reachable right now.
func (s *ChatService) SendMessage(ctx context.Context, to, text string) error {
	if _, err := s.contract.SendMessage(ctx, to, text); err != nil {
		return err
	}
	if err := s.relay.SendDirectMessage(relay.Message{To: to, Body: text}); err != nil {
		s.log.Debug("relay emit skipped", zap.String("to", to), zap.Error(err))
	}
	return nil
}

// Reply sends a message quoting an earlier one, using the reply envelope the
// peer's client decodes back into a threaded view.
func (s *ChatService) Reply(ctx context.Context, to, originalSender, originalMessageID, originalText, text string) error {
	body := envelope.EncodeReply(originalSender, originalMessageID, originalText, text)
	return s.SendMessage(ctx, to, body)
}

// SendFile uploads an attachment and sends its file envelope as a regular
// message, keeping the ledger's message schema untouched. A failed upload is
// reported in the result and nothing is sent.
func (s *ChatService) SendFile(ctx context.Context, to string, in gateway.FileInput) (gateway.UploadResult, error) {
	res := s.uploads.Upload(ctx, in)
	if !res.Success {
		return res, nil
	}
	body, err := envelope.EncodeFile(envelope.File{
		Name:     in.Name,
		Size:     in.Size,
		FileType: in.ContentType,
		IPFSHash: res.IPFSHash,
		URL:      res.URL,
	})
	if err != nil {
		return res, err
	}
	return res, s.SendMessage(ctx, to, body)
}

// SendGroupMessage persists to the group's history and relays to the members
// currently online.
func (s *ChatService) SendGroupMessage(ctx context.Context, groupID, text string) error {
	if err := s.contract.SendGroupMessage(ctx, groupID, text); err != nil {
		return err
	}
	if err := s.relay.SendGroupMessage(relay.Message{GroupID: groupID, Body: text}); err != nil {
		s.log.Debug("relay emit skipped", zap.String("group_id", groupID), zap.Error(err))
	}
	return nil
}

// SendGroupFile uploads an attachment and shares it with a group.
func (s *ChatService) SendGroupFile(ctx context.Context, groupID string, in gateway.FileInput) (gateway.UploadResult, error) {
	res := s.uploads.Upload(ctx, in)
	if !res.Success {
		return res, nil
	}
	body, err := envelope.EncodeFile(envelope.File{
		Name:     in.Name,
		Size:     in.Size,
		FileType: in.ContentType,
		IPFSHash: res.IPFSHash,
		URL:      res.URL,
	})
	if err != nil {
		return res, err
	}
	return res, s.SendGroupMessage(ctx, groupID, body)
}

// HistoryItem is one persisted message with its body decoded exactly once at
// this boundary; render sites switch on Body.Kind instead of re-parsing
// marker strings.
type HistoryItem struct {
	Sender    string
	Body      envelope.Body
	Timestamp time.Time
}

// History reads the direct conversation with a friend from the ledger.
func (s *ChatService) History(ctx context.Context, friend string) ([]HistoryItem, error) {
	msgs, err := s.contract.ReadMessages(ctx, friend)
	if err != nil {
		return nil, err
	}
	return decodeHistory(msgs), nil
}

// GroupHistory reads a group's conversation from the ledger.
func (s *ChatService) GroupHistory(ctx context.Context, groupID string) ([]HistoryItem, error) {
	msgs, err := s.contract.GroupMessages(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return decodeHistory(msgs), nil
}

func decodeHistory(msgs []ledger.Message) []HistoryItem {
	out := make([]HistoryItem, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, HistoryItem{
			Sender:    msg.Sender,
			Body:      envelope.Decode(msg.Content),
			Timestamp: msg.Timestamp,
		})
	}
	return out
}
