// Package director implements the Layer 2 pass: one asynchronous call per
// turn to a fast secondary reasoning service that steers topic flow, phase
// transitions, and reminder timing. The call races the turn; a late result is
// cached for the next turn instead of blocking this one.
package director

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/dmdzco/donna2-sub000/internal/llm"
	"github.com/dmdzco/donna2-sub000/internal/observer"
)

const directivePrompt = `You are the conversation director for a phone companion talking with an elderly caller. Analyze the conversation state and reply with ONLY a JSON object, no prose:
{"current_topic": "...", "phase_estimate": "opening|main|winding_down|closing", "engagement": "low|normal|high", "directive": "stay|transition|wrap_up", "transition_phrase": "...", "deliver_reminder": false, "tone": "...", "priority_action": "...", "avoid": ["..."], "token_budget": 80}

Call phase: %s. Elapsed: %s. Pending reminder: %v.
Recent conversation:
%s`

// maxCallDuration bounds the service call itself, independent of how long the
// current turn is willing to wait for the result.
const maxCallDuration = 5 * time.Second

// Director owns the single in-flight analysis call for one session. A new
// dispatch supersedes and cancels a stale one.
type Director struct {
	gen       llm.Generator
	model     string
	turnWait  time.Duration
	maxTokens int

	mu             sync.Mutex
	cached         observer.DirectorSignal
	hasCached      bool
	inflightTurn   int
	inflightDone   chan observer.DirectorSignal
	cancelInFlight context.CancelFunc
}

func New(gen llm.Generator, model string, turnWait time.Duration) *Director {
	if turnWait <= 0 {
		turnWait = 300 * time.Millisecond
	}
	return &Director{gen: gen, model: model, turnWait: turnWait, maxTokens: 300}
}

// Dispatch starts the analysis call for the given turn, superseding any
// pending call. transcriptTail is the recent conversation rendered as text.
func (d *Director) Dispatch(ctx context.Context, turn int, phase observer.CallPhase, elapsed time.Duration, pendingReminder bool, transcriptTail string) {
	d.mu.Lock()
	if d.cancelInFlight != nil {
		d.cancelInFlight()
	}
	callCtx, cancel := context.WithTimeout(ctx, maxCallDuration)
	d.cancelInFlight = cancel
	d.inflightTurn = turn
	done := make(chan observer.DirectorSignal, 1)
	d.inflightDone = done
	d.mu.Unlock()

	go func() {
		defer cancel()
		prompt := fmt.Sprintf(directivePrompt, phase, elapsed.Round(time.Second), pendingReminder, transcriptTail)
		raw, err := d.gen.Generate(callCtx, d.model, []llm.Message{{Role: "user", Content: prompt}}, d.maxTokens)
		sig, perr := Parse(raw, turn)
		if err != nil || perr != nil {
			if err != nil && callCtx.Err() == nil {
				log.Printf("director: turn %d call failed: %v", turn, err)
			}
			if perr != nil {
				log.Printf("director: turn %d malformed directive: %v", turn, perr)
			}
			sig = observer.DefaultDirectorSignal(turn)
		}

		d.mu.Lock()
		// A result for a superseded turn is discarded outright.
		if d.inflightTurn == turn {
			d.cached = sig
			d.hasCached = true
		}
		d.mu.Unlock()
		done <- sig
	}()
}

// Await returns the directive for the given turn: the in-flight result if it
// lands within the turn wait, otherwise the cached previous result, otherwise
// the safe default. It never blocks past the configured wait.
func (d *Director) Await(turn int) observer.DirectorSignal {
	d.mu.Lock()
	done := d.inflightDone
	inflight := d.inflightTurn
	cached, hasCached := d.cached, d.hasCached
	d.mu.Unlock()

	if done != nil && inflight == turn {
		select {
		case sig := <-done:
			return sig
		case <-time.After(d.turnWait):
		}
	}
	if hasCached {
		return cached
	}
	return observer.DefaultDirectorSignal(turn)
}

// Cached returns the most recent directive without waiting.
func (d *Director) Cached() (observer.DirectorSignal, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cached, d.hasCached
}

// Cancel aborts any pending call. Used at session teardown.
func (d *Director) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancelInFlight != nil {
		d.cancelInFlight()
		d.cancelInFlight = nil
	}
}

// Parse decodes a directive reply. Models wrap JSON in code fences often
// enough that the fences are stripped first. Any structural failure returns
// an error so the caller degrades to the safe default.
func Parse(raw string, turn int) (observer.DirectorSignal, error) {
	var sig observer.DirectorSignal
	body := strings.TrimSpace(raw)
	if body == "" {
		return sig, fmt.Errorf("empty directive")
	}
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		if idx := strings.LastIndex(body, "```"); idx >= 0 {
			body = body[:idx]
		}
		body = strings.TrimSpace(body)
	}
	// Tolerate prose around the object by slicing to the outermost braces.
	if start := strings.Index(body, "{"); start >= 0 {
		if end := strings.LastIndex(body, "}"); end > start {
			body = body[start : end+1]
		}
	}
	if err := json.Unmarshal([]byte(body), &sig); err != nil {
		return sig, fmt.Errorf("decode directive: %w", err)
	}
	switch sig.Directive {
	case observer.DirectiveStay, observer.DirectiveTransition, observer.DirectiveWrapUp:
	case "":
		sig.Directive = observer.DirectiveStay
	default:
		return sig, fmt.Errorf("unknown directive %q", sig.Directive)
	}
	if sig.Tone == "" {
		sig.Tone = "warm"
	}
	sig.Turn = turn
	sig.At = time.Now()
	return sig, nil
}
