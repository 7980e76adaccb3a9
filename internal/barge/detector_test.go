package barge

import (
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"
)

func pcmSine(sr int, hz float64, durMs int) []byte {
	n := sr * durMs / 1000
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*hz*float64(i)/float64(sr)))
		binary.LittleEndian.PutUint16(out[i*2:(i+1)*2], uint16(v))
	}
	return out
}

func pcmSilence(sr, durMs int) []byte {
	return make([]byte, sr*durMs/1000*2)
}

func TestDetectorTriggersOnSustainedSpeech(t *testing.T) {
	var triggered bool
	var cues Cues
	var pre []byte
	d := NewDetector(DefaultTelephony(), Events{
		OnInterrupt: func(ts time.Time, c Cues, p []byte) {
			triggered = true
			cues = c
			pre = p
		},
	})
	d.SetSpeaking(true)
	d.NotifyPartial("wait stop talking")
	d.FeedMic16k(pcmSine(16000, 220, 500))
	if !triggered {
		t.Fatalf("expected trigger after 500ms of speech")
	}
	if !cues.Voice {
		t.Fatalf("expected voice cue")
	}
	if len(pre) == 0 {
		t.Fatalf("expected pre-roll audio")
	}
}

func TestDetectorIgnoresShortBurst(t *testing.T) {
	triggered := false
	d := NewDetector(DefaultTelephony(), Events{
		OnInterrupt: func(time.Time, Cues, []byte) { triggered = true },
	})
	d.SetSpeaking(true)
	// a cough: 150ms of energy, then silence
	d.FeedMic16k(pcmSine(16000, 220, 150))
	d.FeedMic16k(pcmSilence(16000, 400))
	if triggered {
		t.Fatalf("short burst must not trigger")
	}
}

func TestDetectorIdleWhenNotSpeaking(t *testing.T) {
	triggered := false
	d := NewDetector(DefaultTelephony(), Events{
		OnInterrupt: func(time.Time, Cues, []byte) { triggered = true },
	})
	d.FeedMic16k(pcmSine(16000, 220, 600))
	if triggered {
		t.Fatalf("must not trigger while assistant is silent")
	}
}

func TestAsrGrowthDiscountsEcho(t *testing.T) {
	d := NewDetector(DefaultTelephony(), Events{})
	d.NotifyAssistantText("lovely weather today")
	d.NotifyPartial("lovely weather")
	if d.asrGrowth() {
		t.Fatalf("echoed words must not count as caller speech")
	}
	d.NotifyPartial("lovely weather wait stop")
	if !d.asrGrowth() {
		t.Fatalf("novel words should count")
	}
}

func TestEstimateHeard(t *testing.T) {
	text := "I was just going to say that your daughter called earlier today"
	// 150 wpm is 2.5 words per second; 2s of playback covers 5 words
	if got := EstimateHeard(text, 2*time.Second); got != "I was just going to" {
		t.Fatalf("heard = %q", got)
	}
	if got := EstimateHeard(text, time.Minute); got != text {
		t.Fatalf("long playback should cover full text, got %q", got)
	}
	if got := EstimateHeard("", time.Second); got != "" {
		t.Fatalf("empty text, got %q", got)
	}
}

func TestResumeGate(t *testing.T) {
	g := NewResumeGate(2 * time.Second)
	now := time.Now()
	if g.ShouldResume(now) {
		t.Fatalf("gate must be idle before any interruption")
	}
	g.Interrupted(now)
	if g.ShouldResume(now.Add(time.Second)) {
		t.Fatalf("window not elapsed yet")
	}
	if !g.ShouldResume(now.Add(3 * time.Second)) {
		t.Fatalf("window elapsed with no speech, should resume")
	}
	g.Interrupted(now)
	g.SpeechArrived()
	if g.ShouldResume(now.Add(3 * time.Second)) {
		t.Fatalf("real speech arrived, must not resume")
	}
}

func TestResumeGateConcurrentMarks(t *testing.T) {
	g := NewResumeGate(10 * time.Millisecond)
	start := time.Now()
	g.Interrupted(start)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				g.ShouldResume(time.Now())
			}
		}()
	}
	// speech lands while readers poll; resume must stay off afterwards
	g.SpeechArrived()
	wg.Wait()

	if g.ShouldResume(start.Add(time.Second)) {
		t.Fatalf("speech arrived, gate must not resume")
	}
}
