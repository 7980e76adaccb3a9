package tts

import (
	"context"
	"fmt"
	"log"
	"sync"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
)

// DeepgramStream keeps one speak WebSocket open for the lifetime of a call
// and pushes every flush unit through it. Avoids the per-utterance connect
// cost that would otherwise land on time-to-first-audio.
type DeepgramStream struct {
	mu       sync.Mutex
	dg       *speak.WSCallback
	pcm      chan []byte
	timeline *Timeline
	closed   bool
}

// NewDeepgramStream connects to Deepgram and returns a ready stream, or an
// error if the connection could not be established.
func NewDeepgramStream(ctx context.Context, apiKey, model string) (*DeepgramStream, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram: API key missing")
	}
	if model == "" {
		model = "aura-2-thalia-en"
	}

	s := &DeepgramStream{
		pcm:      make(chan []byte, 4096),
		timeline: NewTimeline(48000),
	}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      model,
		Encoding:   "linear16",
		SampleRate: 48000,
	}

	cb := &speakCallback{onBinary: func(data []byte) error {
		s.deliver(data)
		return nil
	}}

	dg, err := speak.NewWSUsingCallback(ctx, apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return nil, fmt.Errorf("deepgram: create ws client: %w", err)
	}
	if ok := dg.Connect(); !ok {
		return nil, fmt.Errorf("deepgram: connect failed")
	}
	s.dg = dg
	return s, nil
}

// Speak flushes one unit through the open connection. Units speak in the
// order they were enqueued.
func (s *DeepgramStream) Speak(ctx context.Context, unit string) error {
	if unit == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("deepgram: stream closed")
	}
	s.timeline.MarkUnit(unit)
	if err := s.dg.SpeakWithText(unit); err != nil {
		return fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := s.dg.Flush(); err != nil {
		log.Printf("deepgram: flush error: %v", err)
	}
	return nil
}

// deliver hands one chunk of synthesized PCM to the audio channel. The
// closed check and the send happen under the same lock Close holds, so a
// chunk arriving during teardown is dropped instead of hitting a closed
// channel.
func (s *DeepgramStream) deliver(data []byte) {
	if len(data) == 0 {
		return
	}
	b := make([]byte, len(data))
	copy(b, data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.timeline.AddAudio(len(data))
	select {
	case s.pcm <- b:
	default:
	}
}

func (s *DeepgramStream) Audio() <-chan []byte { return s.pcm }

func (s *DeepgramStream) Timeline() *Timeline { return s.timeline }

// Clear drops queued synthesis server-side so no stale audio arrives after
// an interruption.
func (s *DeepgramStream) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if err := s.dg.Reset(); err != nil {
		return fmt.Errorf("deepgram: clear: %w", err)
	}
	return nil
}

// Close marks the stream closed before stopping the connection, so a binary
// callback still in the SDK's dispatch cannot send on the closed channel.
func (s *DeepgramStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.dg.Stop()

	// Any callback that passed the closed check has finished its send by the
	// time the lock is reacquired.
	s.mu.Lock()
	close(s.pcm)
	s.mu.Unlock()
	return nil
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
