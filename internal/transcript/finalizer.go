package transcript

import (
	"strings"
	"sync"
	"time"
	"unicode"
)

// silenceThreshold is the base inactivity window before an utterance is
// considered complete. Conservative so we do not cut the caller mid-sentence.
const silenceThreshold = 700 * time.Millisecond

// continuationExtension is added when the last word suggests the caller is
// mid-thought ("and", "because", a trailing preposition). Elderly callers
// pause longer between clauses than typical ASR defaults assume.
const continuationExtension = 1200 * time.Millisecond

// stabilizationGrace absorbs late recognizer revisions after the silence
// threshold fires, before the delta is committed.
const stabilizationGrace = 250 * time.Millisecond

// finalizer accumulates recognizer hypotheses for the current utterance and
// decides when to commit a final delta. It owns a resettable silence timer;
// voice energy and hypothesis updates both push the deadline forward.
type finalizer struct {
	mu         sync.Mutex
	latest     string
	committed  string
	lastUpdate time.Time
	lastVoice  time.Time
	timer      *time.Timer
	commit     func(delta string)
	stopped    bool
}

func newFinalizer(commit func(delta string)) *finalizer {
	now := time.Now()
	return &finalizer{commit: commit, lastUpdate: now, lastVoice: now}
}

// observe records a new full-utterance hypothesis and arms the silence timer.
func (f *finalizer) observe(hypothesis string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	f.latest = hypothesis
	f.lastUpdate = time.Now()
	f.arm(silenceThreshold)
}

// voice records that non-silent energy was heard in the caller audio.
func (f *finalizer) voice(at time.Time) {
	f.mu.Lock()
	f.lastVoice = at
	f.mu.Unlock()
}

func (f *finalizer) lastVoiceAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastVoice
}

// arm resets the timer; caller must hold mu.
func (f *finalizer) arm(d time.Duration) {
	if f.timer == nil {
		f.timer = time.AfterFunc(d, f.onSilence)
		return
	}
	f.timer.Stop()
	f.timer.Reset(d)
}

func (f *finalizer) onSilence() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	threshold := silenceThreshold
	if continuationLikely(f.latest) {
		threshold += continuationExtension
	}
	now := time.Now()
	sinceText := now.Sub(f.lastUpdate)
	sinceVoice := now.Sub(f.lastVoice)
	if sinceText < threshold || sinceVoice < threshold {
		wait := threshold
		if rem := threshold - sinceText; sinceText < threshold && rem < wait {
			wait = rem
		}
		if rem := threshold - sinceVoice; sinceVoice < threshold && rem < wait {
			wait = rem
		}
		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		f.arm(wait)
		f.mu.Unlock()
		return
	}
	lastUpdateAt := f.lastUpdate
	f.mu.Unlock()

	// let late revisions land before committing
	time.Sleep(stabilizationGrace)

	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	if f.lastUpdate.After(lastUpdateAt) {
		f.arm(silenceThreshold)
		f.mu.Unlock()
		return
	}
	delta := f.pendingDeltaLocked()
	f.committed = f.latest
	f.mu.Unlock()

	if delta != "" {
		f.commit(delta)
	}
}

// flush commits any uncommitted tail. Called on shutdown so the caller's
// last words are not lost.
func (f *finalizer) flush() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	delta := f.pendingDeltaLocked()
	f.committed = f.latest
	return delta
}

func (f *finalizer) stop() {
	f.mu.Lock()
	f.stopped = true
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.mu.Unlock()
}

// pendingDeltaLocked computes the uncommitted suffix of the latest
// hypothesis. Caller must hold mu.
func (f *finalizer) pendingDeltaLocked() string {
	delta := strings.TrimSpace(strings.TrimPrefix(f.latest, f.committed))
	if delta == "" && f.committed != "" {
		if idx := strings.LastIndex(f.latest, f.committed); idx >= 0 {
			delta = strings.TrimSpace(f.latest[idx+len(f.committed):])
		}
	}
	return delta
}

// continuationLikely reports whether the last meaningful word indicates the
// speaker will keep going.
func continuationLikely(text string) bool {
	w := lastWord(text)
	if w == "" {
		return false
	}
	_, ok := continuationWords[w]
	return ok
}

func lastWord(text string) string {
	trim := strings.TrimSpace(text)
	if trim == "" {
		return ""
	}
	fields := strings.FieldsFunc(trim, func(r rune) bool { return !unicode.IsLetter(r) })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

var continuationWords = map[string]struct{}{
	"and": {}, "or": {}, "but": {}, "nor": {}, "yet": {}, "so": {},
	"if": {}, "when": {}, "while": {}, "though": {}, "although": {},
	"because": {}, "since": {}, "unless": {}, "until": {}, "whereas": {},
	"also": {}, "plus": {}, "um": {}, "uh": {}, "like": {},
	"about": {}, "with": {}, "to": {}, "of": {}, "for": {}, "on": {}, "in": {}, "at": {},
}
