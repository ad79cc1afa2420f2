package presence

import (
	"sort"
	"strings"
	"time"
)

// Record tracks the live (or last known) connection state for one participant.
type Record struct {
	Address      string
	DisplayName  string
	ConnectionID string
	Online       bool
	LastSeen     time.Time
}

// Info is the wire-facing presence tuple pushed to clients in users_status.
type Info struct {
	Address  string `json:"address"`
	UserName string `json:"userName"`
	IsOnline bool   `json:"isOnline"`
	LastSeen int64  `json:"lastSeen,omitempty"`
}

// Registry maps participant addresses to live transport connections.
//
// It is owned by the relay hub's event-processing goroutine and carries no
// internal locking: every mutation and read happens on that single stream,
// which is what keeps connect/disconnect/snapshot linearizable. Addresses are
// case-insensitive; keys are normalized before every lookup.
type Registry struct {
	byAddr map[string]Record
	byConn map[string]string
	nowFn  func() time.Time
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byAddr: make(map[string]Record),
		byConn: make(map[string]string),
		nowFn:  time.Now,
	}
}

// Normalize canonicalizes an address for registry keying.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Connect registers or supersedes the live record for an address and reports
// whether membership changed. A prior live record for the same address is
// replaced outright; its connection is not closed here, the stale connectionID
// simply stops resolving.
func (r *Registry) Connect(address, displayName, connectionID string) bool {
	key := Normalize(address)
	if key == "" || connectionID == "" {
		return false
	}

	if prev, ok := r.byAddr[key]; ok && prev.ConnectionID != connectionID {
		delete(r.byConn, prev.ConnectionID)
	}
	if displayName == "" {
		displayName = "Anonymous"
	}
	r.byAddr[key] = Record{
		Address:      key,
		DisplayName:  displayName,
		ConnectionID: connectionID,
		Online:       true,
		LastSeen:     r.nowFn(),
	}
	r.byConn[connectionID] = key
	return true
}

// Disconnect marks the record owning connectionID as offline and stamps
// lastSeen. Unknown or already superseded connections are a no-op.
func (r *Registry) Disconnect(connectionID string) bool {
	key, ok := r.byConn[connectionID]
	if !ok {
		return false
	}
	delete(r.byConn, connectionID)

	rec, ok := r.byAddr[key]
	if !ok || rec.ConnectionID != connectionID {
		return false
	}
	rec.Online = false
	rec.ConnectionID = ""
	rec.LastSeen = r.nowFn()
	r.byAddr[key] = rec
	return true
}

// Lookup fetches the record for an address.
func (r *Registry) Lookup(address string) (Record, bool) {
	rec, ok := r.byAddr[Normalize(address)]
	return rec, ok
}

// Resolve maps a live connectionID back to its address.
func (r *Registry) Resolve(connectionID string) (string, bool) {
	addr, ok := r.byConn[connectionID]
	return addr, ok
}

// Snapshot returns the presence set for every address ever seen, online or
// last-known-offline, sorted by address.
func (r *Registry) Snapshot() []Info {
	out := make([]Info, 0, len(r.byAddr))
	for _, rec := range r.byAddr {
		out = append(out, Info{
			Address:  rec.Address,
			UserName: rec.DisplayName,
			IsOnline: rec.Online,
			LastSeen: rec.LastSeen.UnixMilli(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// EvictStale removes offline records whose lastSeen predates the cutoff and
// reports how many were dropped. Live records are never evicted.
func (r *Registry) EvictStale(cutoff time.Time) int {
	removed := 0
	for key, rec := range r.byAddr {
		if rec.Online || !rec.LastSeen.Before(cutoff) {
			continue
		}
		delete(r.byAddr, key)
		removed++
	}
	return removed
}
