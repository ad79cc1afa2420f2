package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Contract and Membership implementation. It backs
// tests and local single-node runs where no chain endpoint is available; the
// real deployment talks to the contract through the wallet instead.
type Memory struct {
	mu       sync.RWMutex
	accounts map[string]string
	friends  map[string]string
	messages map[string][]Message
	groups   map[string]*group
	nextID   int
	nowFn    func() time.Time
}

type group struct {
	name     string
	members  []string
	messages []Message
}

// NewMemory builds an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]string),
		friends:  make(map[string]string),
		messages: make(map[string][]Message),
		groups:   make(map[string]*group),
		nowFn:    time.Now,
	}
}

// CreateAccount records a display name for the caller-side identity.
func (m *Memory) CreateAccount(_ context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("account name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[name] = name
	return nil
}

// AddFriend links an address to a friendly name.
func (m *Memory) AddFriend(_ context.Context, address, name string) error {
	if address == "" {
		return errors.New("friend address is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.friends[strings.ToLower(address)] = name
	return nil
}

// FriendName returns the stored name for a friend address.
func (m *Memory) FriendName(address string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.friends[strings.ToLower(address)]
	return name, ok
}

// SendMessage appends to the direct conversation keyed by peer address.
func (m *Memory) SendMessage(_ context.Context, address, text string) (TxReceipt, error) {
	if address == "" {
		return TxReceipt{}, errors.New("recipient address is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(address)
	m.messages[key] = append(m.messages[key], Message{
		Sender:    key,
		Content:   text,
		Timestamp: m.nowFn(),
	})
	m.nextID++
	return TxReceipt{TxHash: fmt.Sprintf("0xmem%06d", m.nextID)}, nil
}

// ReadMessages returns the direct conversation with an address.
func (m *Memory) ReadMessages(_ context.Context, address string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[strings.ToLower(address)]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// CreateGroupChat registers a group and returns its identifier.
func (m *Memory) CreateGroupChat(_ context.Context, name string, members []string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("group name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("group-%d", m.nextID)
	normalized := make([]string, 0, len(members))
	for _, member := range members {
		if member == "" {
			continue
		}
		normalized = append(normalized, strings.ToLower(member))
	}
	m.groups[id] = &group{name: name, members: normalized}
	return id, nil
}

// SendGroupMessage appends to a group's history.
func (m *Memory) SendGroupMessage(_ context.Context, groupID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return fmt.Errorf("unknown group %s", groupID)
	}
	g.messages = append(g.messages, Message{Content: text, Timestamp: m.nowFn()})
	return nil
}

// GroupMessages returns a group's history.
func (m *Memory) GroupMessages(_ context.Context, groupID string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("unknown group %s", groupID)
	}
	out := make([]Message, len(g.messages))
	copy(out, g.messages)
	return out, nil
}

// GroupMembers returns the membership list for a group.
func (m *Memory) GroupMembers(_ context.Context, groupID string) ([]string, error) {
	members, ok := m.Members(groupID)
	if !ok {
		return nil, fmt.Errorf("unknown group %s", groupID)
	}
	return members, nil
}

// Members implements the relay's Membership hook.
func (m *Memory) Members(groupID string) ([]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[groupID]
	if !ok {
		return nil, false
	}
	out := make([]string, len(g.members))
	copy(out, g.members)
	return out, true
}
