package tts

import "context"

// Speaker is a per-call synthesis stream. One connection is opened when the
// call starts and every flush unit of every assistant turn is spoken over it,
// in order. Audio arrives as 48kHz linear16 PCM on Audio().
type Speaker interface {
	// Speak enqueues one flush unit for synthesis.
	Speak(ctx context.Context, unit string) error
	// Audio yields PCM as it arrives. Closed on Close.
	Audio() <-chan []byte
	// Timeline maps played audio back to spoken text for the current utterance.
	Timeline() *Timeline
	// Clear drops any synthesis queued server-side. Used on barge-in.
	Clear() error
	Close() error
}

// Fallback is a one-shot synthesizer used when the primary stream is down.
type Fallback interface {
	StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error)
}
