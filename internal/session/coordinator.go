package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmdzco/donna2-sub000/internal/llm"
	"github.com/dmdzco/donna2-sub000/internal/segment"
	"github.com/dmdzco/donna2-sub000/internal/tts"
)

// Sink consumes 48kHz PCM and performs delivery. Implementations buffer and
// pace internally; Reset drops queued frames immediately for barge-in.
type Sink interface {
	WritePCM(pcm []byte)
	FlushTail()
	Reset()
}

// speakResult is the outcome of one spoken assistant reply.
type speakResult struct {
	// Full is the complete generated text, spoken or not.
	Full string
	// Units are the flush units handed to the synthesizer, in order.
	Units []string
	// Interrupted is true when the caller cut the reply off.
	Interrupted bool
	// StartedSpeaking is when the first unit was flushed to the synthesizer.
	StartedSpeaking time.Time
}

// coordinator runs one streamed generation at a time: LLM deltas through the
// segmenter into the synthesizer. Interrupt cancels the in-flight stream;
// the single in-flight invariant is enforced here.
type coordinator struct {
	stream            llm.StreamGenerator
	speaker           tts.Speaker
	seg               *segment.Segmenter
	firstTokenTimeout time.Duration
	onUnit            func(unit string)

	mu          sync.Mutex
	cancel      context.CancelFunc
	interrupted bool
}

func newCoordinator(stream llm.StreamGenerator, speaker tts.Speaker, seg *segment.Segmenter, firstTokenTimeout time.Duration, onUnit func(string)) *coordinator {
	return &coordinator{
		stream:            stream,
		speaker:           speaker,
		seg:               seg,
		firstTokenTimeout: firstTokenTimeout,
		onUnit:            onUnit,
	}
}

// Busy reports whether a generation is in flight.
func (c *coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Interrupt cancels the in-flight generation and drops queued synthesis.
func (c *coordinator) Interrupt() {
	c.mu.Lock()
	cancel := c.cancel
	if cancel != nil {
		c.interrupted = true
	}
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		_ = c.speaker.Clear()
	}
}

func (c *coordinator) wasInterrupted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interrupted
}

// speakTurn streams one reply and feeds flush units to the synthesizer as
// they complete. Returns an error only for generation failures; an
// interruption is a normal outcome.
func (c *coordinator) speakTurn(ctx context.Context, model string, messages []llm.Message, maxTokens int) (speakResult, error) {
	genCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		cancel()
		return speakResult{}, fmt.Errorf("session: generation already in flight")
	}
	c.cancel = cancel
	c.interrupted = false
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
	}()

	c.seg.Reset()
	c.speaker.Timeline().BeginUtterance()

	var res speakResult
	var full strings.Builder
	speakUnit := func(u string) {
		if res.StartedSpeaking.IsZero() {
			res.StartedSpeaking = time.Now()
		}
		if c.onUnit != nil {
			c.onUnit(u)
		}
		if err := c.speaker.Speak(genCtx, u); err == nil {
			res.Units = append(res.Units, u)
		}
	}

	deltas, errs := c.stream.StreamGenerate(genCtx, model, messages, maxTokens)
	firstToken := time.NewTimer(c.firstTokenTimeout)
	defer firstToken.Stop()
	sawToken := false

stream:
	for {
		select {
		case d, ok := <-deltas:
			if !ok {
				break stream
			}
			if !sawToken {
				sawToken = true
				firstToken.Stop()
			}
			if d.Text != "" {
				full.WriteString(d.Text)
				for _, u := range c.seg.Add(d.Text) {
					speakUnit(u)
				}
			}
			if d.Done {
				break stream
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				if c.wasInterrupted() {
					break stream
				}
				res.Full = full.String()
				return res, err
			}
		case <-firstToken.C:
			if !sawToken {
				cancel()
				res.Full = full.String()
				return res, fmt.Errorf("session: no token within %s", c.firstTokenTimeout)
			}
		case <-genCtx.Done():
			break stream
		}
	}

	res.Interrupted = c.wasInterrupted()
	if tail := c.seg.Flush(); tail != "" && !res.Interrupted {
		speakUnit(tail)
	}
	res.Full = strings.TrimSpace(full.String())
	return res, nil
}

// speakDirect pushes literal text through the synthesizer without the LLM.
// Used for the static apology and for resuming a falsely interrupted reply.
func (c *coordinator) speakDirect(ctx context.Context, text string) speakResult {
	genCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		cancel()
		return speakResult{}
	}
	c.cancel = cancel
	c.interrupted = false
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
	}()

	c.seg.Reset()
	c.speaker.Timeline().BeginUtterance()

	var res speakResult
	res.Full = strings.TrimSpace(text)
	units := c.seg.Add(text)
	if tail := c.seg.Flush(); tail != "" {
		units = append(units, tail)
	}
	for _, u := range units {
		if genCtx.Err() != nil {
			break
		}
		if res.StartedSpeaking.IsZero() {
			res.StartedSpeaking = time.Now()
		}
		if c.onUnit != nil {
			c.onUnit(u)
		}
		if err := c.speaker.Speak(genCtx, u); err == nil {
			res.Units = append(res.Units, u)
		}
	}
	res.Interrupted = c.wasInterrupted()
	return res
}
