package tts

import (
	"context"
	"testing"
	"time"
)

func TestTimelineHeardText(t *testing.T) {
	// 48000 samples/s * 2 bytes = 96000 bytes per second of audio
	tl := NewTimeline(48000)
	tl.BeginUtterance()
	tl.MarkUnit("Good morning Margaret.")
	tl.AddAudio(96000) // 1s
	tl.MarkUnit("How did you sleep last night?")
	tl.AddAudio(192000) // 2s

	if got := tl.HeardText(1 * time.Second); got != "Good morning Margaret." {
		t.Fatalf("heard at 1s = %q", got)
	}
	// 2s in: full first unit plus half the six words of the second
	if got := tl.HeardText(2 * time.Second); got != "Good morning Margaret. How did you" {
		t.Fatalf("heard at 2s = %q", got)
	}
	if got := tl.HeardText(10 * time.Second); got != "Good morning Margaret. How did you sleep last night?" {
		t.Fatalf("heard at 10s = %q", got)
	}
}

func TestTimelineResetBetweenUtterances(t *testing.T) {
	tl := NewTimeline(48000)
	tl.MarkUnit("First turn.")
	tl.AddAudio(96000)
	tl.BeginUtterance()
	tl.MarkUnit("Second turn.")
	tl.AddAudio(96000)
	if got := tl.HeardText(5 * time.Second); got != "Second turn." {
		t.Fatalf("heard = %q", got)
	}
	if d := tl.Duration(); d != time.Second {
		t.Fatalf("duration = %v", d)
	}
}

func TestTimelineNothingHeardYet(t *testing.T) {
	tl := NewTimeline(48000)
	tl.MarkUnit("Hello there.")
	tl.AddAudio(96000)
	if got := tl.HeardText(0); got != "" {
		t.Fatalf("heard = %q", got)
	}
}

func TestDeepgramStreamNoKey(t *testing.T) {
	if _, err := NewDeepgramStream(context.Background(), "", ""); err == nil {
		t.Fatalf("expected error when api key missing")
	}
}

func TestElevenLabsNoKey(t *testing.T) {
	e := NewElevenLabsClient("", "")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	pcmCh, errCh := e.StreamPCM48k(ctx, "hello")
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected error when api key missing")
		}
	case <-pcmCh:
	case <-time.After(300 * time.Millisecond):
		t.Fatalf("timeout waiting for error")
	}
}
