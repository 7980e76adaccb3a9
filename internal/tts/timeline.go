package tts

import (
	"strings"
	"sync"
	"time"
)

type timedUnit struct {
	text  string
	bytes int
}

// Timeline tracks how much synthesized audio belongs to each flush unit of
// the current utterance. Incoming PCM is attributed to the most recently
// spoken unit, which holds because units are flushed sequentially on one
// connection. HeardText converts a played duration back into the words the
// caller actually heard before an interruption.
type Timeline struct {
	mu         sync.Mutex
	sampleRate int
	units      []timedUnit
}

func NewTimeline(sampleRate int) *Timeline {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	return &Timeline{sampleRate: sampleRate}
}

// BeginUtterance resets the timeline at the start of an assistant turn.
func (t *Timeline) BeginUtterance() {
	t.mu.Lock()
	t.units = t.units[:0]
	t.mu.Unlock()
}

// MarkUnit records that a flush unit was sent for synthesis.
func (t *Timeline) MarkUnit(text string) {
	t.mu.Lock()
	t.units = append(t.units, timedUnit{text: text})
	t.mu.Unlock()
}

// AddAudio attributes n PCM bytes to the unit currently being synthesized.
func (t *Timeline) AddAudio(n int) {
	t.mu.Lock()
	if len(t.units) > 0 {
		t.units[len(t.units)-1].bytes += n
	}
	t.mu.Unlock()
}

func (t *Timeline) unitDuration(u timedUnit) time.Duration {
	// linear16 mono
	bytesPerSecond := t.sampleRate * 2
	return time.Duration(u.bytes) * time.Second / time.Duration(bytesPerSecond)
}

// Duration reports the total synthesized audio for the current utterance.
func (t *Timeline) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total time.Duration
	for _, u := range t.units {
		total += t.unitDuration(u)
	}
	return total
}

// HeardText returns the prefix of the utterance covered by played audio.
// Whole units are included while they fit; the boundary unit contributes a
// word-proportional slice.
func (t *Timeline) HeardText(played time.Duration) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var parts []string
	var cum time.Duration
	for _, u := range t.units {
		d := t.unitDuration(u)
		if d == 0 {
			continue
		}
		if cum+d <= played {
			parts = append(parts, u.text)
			cum += d
			continue
		}
		words := strings.Fields(u.text)
		frac := float64(played-cum) / float64(d)
		n := int(frac * float64(len(words)))
		if n > 0 {
			parts = append(parts, strings.Join(words[:n], " "))
		}
		break
	}
	return strings.Join(parts, " ")
}
