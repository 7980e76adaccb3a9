package barge

import (
	"encoding/binary"
	"math"
	"strings"
	"sync"
	"time"
)

// energyVAD classifies 10ms frames by smoothed RMS energy.
type energyVAD struct {
	threshold float64
	smoothN   int
	win       []bool
}

func newEnergyVAD() *energyVAD { return &energyVAD{threshold: 300.0, smoothN: 4} }

func (v *energyVAD) isSpeech(frame Frame10ms) bool {
	if len(frame) == 0 {
		return false
	}
	var sum float64
	for _, s := range frame {
		f := float64(s)
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	v.win = append(v.win, rms >= v.threshold)
	if len(v.win) > v.smoothN {
		v.win = v.win[len(v.win)-v.smoothN:]
	}
	trueCount := 0
	for _, x := range v.win {
		if x {
			trueCount++
		}
	}
	return trueCount*2 >= len(v.win)
}

// pcmRing stores recent 16-bit PCM for pre-roll export.
type pcmRing struct {
	mu       sync.Mutex
	buf      []int16
	cap      int
	writePos int
	sr       int
}

func newPCMRing(capacityMs, sampleRate int) *pcmRing {
	samples := capacityMs * sampleRate / 1000
	if samples < sampleRate/10 {
		samples = sampleRate / 10
	}
	return &pcmRing{buf: make([]int16, samples), cap: samples, sr: sampleRate}
}

func (c *pcmRing) Write(frame Frame10ms) {
	c.mu.Lock()
	for _, s := range frame {
		c.buf[c.writePos] = s
		c.writePos = (c.writePos + 1) % c.cap
	}
	c.mu.Unlock()
}

func (c *pcmRing) ReadLastMs(ms int) []int16 {
	c.mu.Lock()
	n := ms * c.sr / 1000
	if n > c.cap {
		n = c.cap
	}
	out := make([]int16, n)
	start := (c.writePos - n + c.cap) % c.cap
	for i := 0; i < n; i++ {
		out[i] = c.buf[(start+i)%c.cap]
	}
	c.mu.Unlock()
	return out
}

// voteWindow keeps a rolling window of per-frame booleans.
type voteWindow struct {
	mu   sync.Mutex
	hist []bool
	max  int
}

func newVoteWindow(ms int) *voteWindow {
	max := ms/10 + 1
	return &voteWindow{max: max}
}

func (v *voteWindow) Push(b bool) {
	v.mu.Lock()
	v.hist = append(v.hist, b)
	if len(v.hist) > v.max {
		v.hist = v.hist[len(v.hist)-v.max:]
	}
	v.mu.Unlock()
}

func (v *voteWindow) Ratio() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.hist) == 0 {
		return 0
	}
	var t int
	for _, b := range v.hist {
		if b {
			t++
		}
	}
	return float64(t) / float64(len(v.hist))
}

func (v *voteWindow) Full() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.hist) >= v.max
}

func (v *voteWindow) Reset() {
	v.mu.Lock()
	v.hist = v.hist[:0]
	v.mu.Unlock()
}

// echoSet is a small bloom of the words currently being synthesized, used to
// discount recognizer tokens that are just the assistant's own voice leaking
// back through the caller mic.
type echoSet struct{ bits []byte }

func newEchoSet(n int) *echoSet { return &echoSet{bits: make([]byte, n)} }

func (b *echoSet) hash(s string) int {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return int(h) % len(b.bits)
}

func (b *echoSet) Add(s string) {
	if len(b.bits) > 0 {
		b.bits[b.hash(s)] = 1
	}
}

func (b *echoSet) Contains(s string) bool {
	return len(b.bits) > 0 && b.bits[b.hash(s)] == 1
}

// Detector watches caller audio while the assistant speaks and fires an
// interruption once speech is sustained past MinSpeechMs. Coughs and short
// backchannels ("mm-hm") stay under the threshold and are ignored.
type Detector struct {
	cfg Config
	ev  Events

	vad      *energyVAD
	preRoll  *pcmRing
	votesOn  *voteWindow
	votesOff *voteWindow
	echo     *echoSet

	mu          sync.Mutex
	speaking    bool
	lastPartial string
	lastTokens  []string
	asrHit      bool
}

func NewDetector(cfg Config, ev Events) *Detector {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.MinSpeechMs == 0 {
		cfg.MinSpeechMs = 350
	}
	return &Detector{
		cfg:      cfg,
		ev:       ev,
		vad:      newEnergyVAD(),
		preRoll:  newPCMRing(cfg.PreRollMs+100, cfg.SampleRate),
		votesOn:  newVoteWindow(cfg.MinSpeechMs),
		votesOff: newVoteWindow(cfg.HysteresisOffMs),
		echo:     newEchoSet(4096),
	}
}

// SetSpeaking toggles detection. Votes only accumulate while the assistant
// has the floor.
func (d *Detector) SetSpeaking(on bool) {
	d.mu.Lock()
	d.speaking = on
	d.mu.Unlock()
	if !on {
		d.votesOn.Reset()
		d.votesOff.Reset()
	}
}

// Reset clears window state between turns.
func (d *Detector) Reset() {
	d.votesOn.Reset()
	d.votesOff.Reset()
	d.mu.Lock()
	d.lastPartial = ""
	d.lastTokens = nil
	d.asrHit = false
	d.mu.Unlock()
}

// FeedMic16k accepts arbitrary-length caller PCM16LE and splits it into
// 10ms frames.
func (d *Detector) FeedMic16k(pcm []byte) {
	samplesPer10ms := d.cfg.SampleRate / 100
	for off := 0; off+samplesPer10ms*2 <= len(pcm); off += samplesPer10ms * 2 {
		frame := make([]int16, samplesPer10ms)
		for i := 0; i < samplesPer10ms; i++ {
			frame[i] = int16(binary.LittleEndian.Uint16(pcm[off+i*2 : off+i*2+2]))
		}
		d.onFrame(frame)
	}
}

// NotifyPartial supplies the latest running transcript hypothesis.
func (d *Detector) NotifyPartial(text string) {
	d.mu.Lock()
	d.lastPartial = text
	d.mu.Unlock()
}

// NotifyAssistantText records words being synthesized so recognizer echoes
// of them do not count as caller speech.
func (d *Detector) NotifyAssistantText(text string) {
	for _, w := range strings.Fields(strings.ToLower(text)) {
		d.echo.Add(w)
	}
}

func (d *Detector) onFrame(frame Frame10ms) {
	d.mu.Lock()
	speaking := d.speaking
	d.mu.Unlock()

	d.preRoll.Write(frame)
	voiced := d.vad.isSpeech(frame)
	if !speaking {
		return
	}

	asr := d.asrGrowth()
	d.votesOn.Push(voiced)
	d.votesOff.Push(!voiced)

	if d.votesOn.Full() && d.votesOn.Ratio() >= 0.7 {
		d.trigger(asr)
		return
	}
	if d.votesOff.Full() && d.votesOff.Ratio() >= 0.9 {
		d.votesOn.Reset()
	}
}

// asrGrowth reports whether enough novel non-echoed tokens appeared in the
// running partial since the last check.
func (d *Detector) asrGrowth() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.asrHit {
		return true
	}
	text := strings.TrimSpace(d.lastPartial)
	if text == "" {
		return false
	}
	tokens := strings.Fields(strings.ToLower(text))
	newCount := 0
	for i := len(d.lastTokens); i < len(tokens); i++ {
		w := tokens[i]
		if isStopword(w) || d.echo.Contains(w) {
			continue
		}
		newCount++
	}
	d.lastTokens = tokens
	if newCount >= d.cfg.ASRTokens {
		d.asrHit = true
		return true
	}
	return false
}

func (d *Detector) trigger(asr bool) {
	pre := d.preRoll.ReadLastMs(d.cfg.PreRollMs)
	preBytes := make([]byte, len(pre)*2)
	for i, s := range pre {
		binary.LittleEndian.PutUint16(preBytes[i*2:(i+1)*2], uint16(s))
	}
	if d.ev.OnInterrupt != nil {
		d.ev.OnInterrupt(time.Now(), Cues{Voice: true, ASR: asr}, preBytes)
	}
	d.votesOn.Reset()
	d.votesOff.Reset()
	d.mu.Lock()
	d.speaking = false
	d.asrHit = false
	d.mu.Unlock()
}

func isStopword(s string) bool {
	switch s {
	case "the", "a", "an", "and", "or", "to", "of", "in", "on", "for", "is", "it", "uh", "um":
		return true
	}
	return false
}
