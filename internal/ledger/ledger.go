// Package ledger defines the collaborator surface of the external system of
// record: the chat contract owning accounts, friend lists, message history and
// group membership. The relay never persists anything itself; it only consults
// these interfaces, and clients call them in parallel with the relay path.
package ledger

import (
	"context"
	"time"
)

// Message is one persisted chat message as the contract returns it.
type Message struct {
	Sender    string
	Content   string
	Timestamp time.Time
}

// TxReceipt identifies a committed ledger write.
type TxReceipt struct {
	TxHash string
}

// Contract mirrors the chat contract operations this system consumes.
type Contract interface {
	CreateAccount(ctx context.Context, name string) error
	AddFriend(ctx context.Context, address, name string) error
	SendMessage(ctx context.Context, address, text string) (TxReceipt, error)
	ReadMessages(ctx context.Context, address string) ([]Message, error)
	CreateGroupChat(ctx context.Context, name string, members []string) (string, error)
	SendGroupMessage(ctx context.Context, groupID, text string) error
	GroupMessages(ctx context.Context, groupID string) ([]Message, error)
	GroupMembers(ctx context.Context, groupID string) ([]string, error)
}

// Membership is the pass-through hook the relay hub uses to filter group
// fan-out. The source of truth lives on the ledger; implementations answer
// from whatever view of it they hold. Returning ok=false means membership is
// unknown and the hub falls back to broadcast.
type Membership interface {
	Members(groupID string) ([]string, bool)
}
