package transcript

import (
	"strings"
	"testing"
	"time"
)

func TestContinuationLikely(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"I went to the store and", true},
		{"it reminds me of", true},
		{"I slept well last night", false},
		{"", false},
		{"um", true},
		{"I was thinking about", true},
	}
	for _, c := range cases {
		if got := continuationLikely(c.text); got != c.want {
			t.Errorf("continuationLikely(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestLastWordStripsPunctuation(t *testing.T) {
	if got := lastWord("well, you know..."); got != "know" {
		t.Fatalf("lastWord = %q", got)
	}
	if got := lastWord("  "); got != "" {
		t.Fatalf("lastWord on blank = %q", got)
	}
}

func TestFinalizerPendingDelta(t *testing.T) {
	f := newFinalizer(func(string) {})
	f.latest = "hello there"
	if got := f.flush(); got != "hello there" {
		t.Fatalf("first flush = %q", got)
	}
	// recognizer extends the same utterance; only the new suffix is pending
	f.latest = "hello there how are you"
	if got := f.flush(); got != "how are you" {
		t.Fatalf("second flush = %q", got)
	}
	if got := f.flush(); got != "" {
		t.Fatalf("third flush = %q", got)
	}
}

func TestFinalizerCommitsAfterSilence(t *testing.T) {
	committed := make(chan string, 1)
	f := newFinalizer(func(delta string) { committed <- delta })
	defer f.stop()

	// backdate the voice clock so silence is already satisfied
	f.mu.Lock()
	f.lastVoice = time.Now().Add(-2 * time.Second)
	f.mu.Unlock()
	f.observe("good morning dear")
	f.mu.Lock()
	f.lastUpdate = time.Now().Add(-2 * time.Second)
	f.arm(10 * time.Millisecond)
	f.mu.Unlock()

	select {
	case got := <-committed:
		if got != "good morning dear" {
			t.Fatalf("committed = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for commit")
	}
}

func TestFinalizerHoldsOnContinuationWord(t *testing.T) {
	committed := make(chan string, 1)
	f := newFinalizer(func(delta string) { committed <- delta })
	defer f.stop()

	f.mu.Lock()
	f.lastVoice = time.Now().Add(-time.Second)
	f.lastUpdate = time.Now().Add(-time.Second)
	f.latest = "I wanted to tell you about"
	f.arm(10 * time.Millisecond)
	f.mu.Unlock()

	// one second of inactivity is under the extended threshold for a
	// trailing preposition, so nothing should commit yet
	select {
	case got := <-committed:
		t.Fatalf("committed too early: %q", got)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestStreamRequiresKey(t *testing.T) {
	s := NewAssemblyAIStream("")
	if err := s.Connect(); err == nil || !strings.Contains(err.Error(), "API key") {
		t.Fatalf("expected missing key error, got %v", err)
	}
	if err := s.SendPCM16KLE(make([]byte, 640)); err == nil {
		t.Fatalf("expected not-connected error")
	}
}
