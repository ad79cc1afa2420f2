package client

import (
	"sync"
	"testing"
	"time"
)

type typingRecorder struct {
	mu    sync.Mutex
	sends []bool
}

func (r *typingRecorder) send(_ string, isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, isTyping)
}

func (r *typingRecorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.sends))
	copy(out, r.sends)
	return out
}

func waitForSends(t *testing.T, r *typingRecorder, want int) []bool {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := r.snapshot()
		if len(got) >= want {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d sends, got %v", want, got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestContinuousTypingSendsSingleStart(t *testing.T) {
	rec := &typingRecorder{}
	n := NewTypingNotifier(80*time.Millisecond, rec.send)

	for i := 0; i < 5; i++ {
		n.Keystroke("0xB")
		time.Sleep(10 * time.Millisecond)
	}

	got := waitForSends(t, rec, 1)
	if len(got) != 1 || !got[0] {
		t.Fatalf("expected a single typing-start during continuous typing, got %v", got)
	}

	// Stop arrives once the idle window elapses.
	got = waitForSends(t, rec, 2)
	if len(got) != 2 || got[1] {
		t.Fatalf("expected typing-stop after idle, got %v", got)
	}
}

func TestMessageSentStopsImmediately(t *testing.T) {
	rec := &typingRecorder{}
	n := NewTypingNotifier(time.Minute, rec.send)

	n.Keystroke("0xB")
	n.MessageSent("0xB")

	got := rec.snapshot()
	if len(got) != 2 || !got[0] || got[1] {
		t.Fatalf("expected start then immediate stop, got %v", got)
	}

	// With no indicator outstanding, a send is a no-op.
	n.MessageSent("0xB")
	if got := rec.snapshot(); len(got) != 2 {
		t.Fatalf("expected no signal without outstanding indicator, got %v", got)
	}

	// The next keystroke starts a fresh indicator.
	n.Keystroke("0xB")
	if got := rec.snapshot(); len(got) != 3 || !got[2] {
		t.Fatalf("expected fresh typing-start, got %v", got)
	}
}

func TestExpiryRacingKeystrokeDoesNotStopEarly(t *testing.T) {
	rec := &typingRecorder{}
	n := NewTypingNotifier(100*time.Millisecond, rec.send)

	n.Keystroke("0xB")
	n.Keystroke("0xB")
	// An expiry that fired before the keystroke's reset landed finds the
	// deadline pushed out and must not emit a stop.
	n.expire("0xB")

	got := rec.snapshot()
	if len(got) != 1 || !got[0] {
		t.Fatalf("expected only the initial typing-start, got %v", got)
	}

	// The indicator still stops once the window genuinely elapses.
	got = waitForSends(t, rec, 2)
	if len(got) != 2 || got[1] {
		t.Fatalf("expected a single typing-stop after idle, got %v", got)
	}
}

func TestIndicatorsTrackedPerRecipient(t *testing.T) {
	rec := &typingRecorder{}
	n := NewTypingNotifier(time.Minute, rec.send)

	n.Keystroke("0xB")
	n.Keystroke("0xC")
	n.Keystroke("0xB")

	if got := rec.snapshot(); len(got) != 2 {
		t.Fatalf("expected one start per recipient, got %v", got)
	}
}
