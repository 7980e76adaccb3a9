package barge

import (
	"strings"
	"sync"
	"time"
)

// defaultWPM approximates the synthesized speaking rate when no audio
// timeline is available for the interrupted utterance.
const defaultWPM = 150

// EstimateHeard returns the prefix of text the caller plausibly heard given
// how long playback ran before the interruption. Used as the fallback when
// the synthesizer's audio timeline cannot answer directly.
func EstimateHeard(text string, played time.Duration) string {
	words := strings.Fields(text)
	if len(words) == 0 || played <= 0 {
		return ""
	}
	n := int(played.Minutes() * defaultWPM)
	if n >= len(words) {
		return text
	}
	return strings.Join(words[:n], " ")
}

// ResumeGate decides whether an interruption turned out to be false. If no
// meaningful caller speech is committed within the window, the assistant may
// resume what it was saying. Marked from the run loop and read from the
// resume timer goroutine.
type ResumeGate struct {
	mu          sync.Mutex
	window      time.Duration
	interrupted time.Time
	resolved    bool
}

func NewResumeGate(window time.Duration) *ResumeGate {
	return &ResumeGate{window: window}
}

// Interrupted marks the moment playback was cut.
func (g *ResumeGate) Interrupted(at time.Time) {
	g.mu.Lock()
	g.interrupted = at
	g.resolved = false
	g.mu.Unlock()
}

// SpeechArrived marks that a real caller utterance followed the
// interruption, so resuming is off the table.
func (g *ResumeGate) SpeechArrived() {
	g.mu.Lock()
	g.resolved = true
	g.mu.Unlock()
}

// ShouldResume reports whether the window elapsed with no caller speech.
func (g *ResumeGate) ShouldResume(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resolved || g.interrupted.IsZero() {
		return false
	}
	return now.Sub(g.interrupted) >= g.window
}
