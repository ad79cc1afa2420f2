package client

import (
	"sync"
	"time"
)

const defaultTypingIdle = 3 * time.Second

// TypingNotifier enforces the typing debounce policy: a start signal on the
// first keystroke after idle, a stop signal after the idle window elapses with
// no further keystrokes or immediately when the message is sent. At most one
// start is outstanding per recipient; repeated keystrokes only push the stop
// timer out.
//
// The idle expiry lives entirely on this side. If the process dies before the
// stop fires, the peer's indicator is stale until they time it out locally —
// the relay does not enforce it.
type TypingNotifier struct {
	idle time.Duration
	send func(to string, isTyping bool)

	mu     sync.Mutex
	timers map[string]*typingTimer
}

// typingTimer carries the authoritative deadline next to the timer. A timer
// can fire and then block on the mutex while a keystroke resets it; the
// deadline is what expire checks to tell a real expiry from that race.
type typingTimer struct {
	timer    *time.Timer
	deadline time.Time
}

// NewTypingNotifier builds a notifier; idle <= 0 uses the 3 second default.
func NewTypingNotifier(idle time.Duration, send func(to string, isTyping bool)) *TypingNotifier {
	if idle <= 0 {
		idle = defaultTypingIdle
	}
	return &TypingNotifier{
		idle:   idle,
		send:   send,
		timers: make(map[string]*typingTimer),
	}
}

// Keystroke records typing activity toward a recipient.
func (n *TypingNotifier) Keystroke(to string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if st, ok := n.timers[to]; ok {
		st.deadline = time.Now().Add(n.idle)
		st.timer.Reset(n.idle)
		return
	}
	n.send(to, true)
	st := &typingTimer{deadline: time.Now().Add(n.idle)}
	st.timer = time.AfterFunc(n.idle, func() { n.expire(to) })
	n.timers[to] = st
}

// MessageSent stops the indicator immediately.
func (n *TypingNotifier) MessageSent(to string) {
	n.mu.Lock()
	st, ok := n.timers[to]
	if ok {
		st.timer.Stop()
		delete(n.timers, to)
	}
	n.mu.Unlock()

	if ok {
		n.send(to, false)
	}
}

func (n *TypingNotifier) expire(to string) {
	n.mu.Lock()
	st, ok := n.timers[to]
	if ok && time.Now().Before(st.deadline) {
		// A keystroke pushed the deadline out after this fire was already in
		// flight; honor the new deadline instead of stopping early.
		st.timer.Reset(time.Until(st.deadline))
		n.mu.Unlock()
		return
	}
	if ok {
		delete(n.timers, to)
	}
	n.mu.Unlock()

	if ok {
		n.send(to, false)
	}
}
