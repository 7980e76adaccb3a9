// Package contextwin maintains the bounded conversation context for one call:
// the ordered turn history plus externally supplied memory snippets, kept
// under a hard token ceiling by either verbatim append or reset-with-summary.
package contextwin

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/dmdzco/donna2-sub000/internal/llm"
)

// SnippetTier controls when an external context snippet is injected.
type SnippetTier int

const (
	// TierCritical snippets are always injected.
	TierCritical SnippetTier = iota
	// TierContextual snippets are injected when relevant to the current turn.
	TierContextual
	// TierBackground snippets are injected once, early in the call.
	TierBackground
)

// Snippet is one externally supplied memory/context fragment.
type Snippet struct {
	SourceID string
	Tier     SnippetTier
	Text     string
}

// Turn is one completed user/assistant exchange. Assistant holds only what
// was actually spoken to the caller.
type Turn struct {
	User       string
	Assistant  string
	BudgetUsed int
}

// Summarizer compresses older turns into a short summary. One call per reset.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Window is the bounded context for one session. Not safe for concurrent use;
// the turn controller owns it.
type Window struct {
	ceiling     int
	keepTurns   int
	summarizer  Summarizer
	turns       []Turn
	summary     string
	snippets    []Snippet
	seenSources map[string]bool
	bgInjected  bool
}

func New(tokenCeiling, keepVerbatimTurns int, summarizer Summarizer) *Window {
	if tokenCeiling <= 0 {
		tokenCeiling = 3000
	}
	if keepVerbatimTurns <= 0 {
		keepVerbatimTurns = 6
	}
	return &Window{
		ceiling:     tokenCeiling,
		keepTurns:   keepVerbatimTurns,
		summarizer:  summarizer,
		seenSources: map[string]bool{},
	}
}

// AppendTurn records a completed exchange.
func (w *Window) AppendTurn(t Turn) {
	w.turns = append(w.turns, t)
}

// TurnCount returns how many exchanges have completed.
func (w *Window) TurnCount() int { return len(w.turns) }

// Turns returns a copy of the turn history.
func (w *Window) Turns() []Turn {
	out := make([]Turn, len(w.turns))
	copy(out, w.turns)
	return out
}

// TruncateLastAssistant replaces the last assistant text with the prefix the
// caller actually heard, so later context never references unheard speech.
func (w *Window) TruncateLastAssistant(heard string) {
	if len(w.turns) == 0 {
		return
	}
	w.turns[len(w.turns)-1].Assistant = strings.TrimSpace(heard)
}

// Inject adds external snippets, deduplicated by source id. Contextual
// snippets are dropped unless relevant to the current utterance or topic;
// background snippets are accepted only on the first injection pass.
func (w *Window) Inject(snippets []Snippet, currentUtterance, topic string) {
	early := len(w.turns) < 2 && !w.bgInjected
	for _, s := range snippets {
		if s.SourceID != "" && w.seenSources[s.SourceID] {
			continue
		}
		switch s.Tier {
		case TierCritical:
		case TierContextual:
			if !relevant(s.Text, currentUtterance, topic) {
				continue
			}
		case TierBackground:
			if !early {
				continue
			}
		}
		w.snippets = append(w.snippets, s)
		if s.SourceID != "" {
			w.seenSources[s.SourceID] = true
		}
	}
	if early {
		w.bgInjected = true
	}
}

// Messages assembles the prompt as chat messages: system context (summary +
// snippets + guidance fragment), the retained history, and the pending user
// utterance last. EnsureCeiling must have run for the ceiling invariant.
func (w *Window) Messages(systemPrompt, guidanceFragment, pendingUser string) []llm.Message {
	var sys strings.Builder
	sys.WriteString(systemPrompt)
	if w.summary != "" {
		sys.WriteString("\n\nEarlier in this call: ")
		sys.WriteString(w.summary)
	}
	for _, s := range w.snippets {
		sys.WriteString("\n- ")
		sys.WriteString(s.Text)
	}
	if guidanceFragment != "" {
		sys.WriteString("\n\n")
		sys.WriteString(guidanceFragment)
	}

	msgs := []llm.Message{{Role: "system", Content: sys.String()}}
	for _, t := range w.turns {
		msgs = append(msgs, llm.Message{Role: "user", Content: t.User})
		if t.Assistant != "" {
			msgs = append(msgs, llm.Message{Role: "assistant", Content: t.Assistant})
		}
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: pendingUser})
	return msgs
}

// EstimatedTokens approximates the assembled prompt size. A chars/4 heuristic
// is close enough for budget headroom; no tokenizer is pulled in for it.
func (w *Window) EstimatedTokens() int {
	total := len(w.summary)
	for _, s := range w.snippets {
		total += len(s.Text)
	}
	for _, t := range w.turns {
		total += len(t.User) + len(t.Assistant)
	}
	return total / 4
}

// EnsureCeiling enforces the hard token ceiling. When the estimate crosses
// the ceiling it compresses all but the last keepTurns exchanges through one
// summarization call; if the summarizer fails, oldest turns are dropped so
// the ceiling still holds.
func (w *Window) EnsureCeiling(ctx context.Context) {
	for w.EstimatedTokens() > w.ceiling {
		if len(w.turns) <= w.keepTurns {
			// Nothing left to fold into a summary; shed snippets beyond the
			// critical tier before touching recent turns.
			if w.dropOneNonCritical() {
				continue
			}
			if len(w.turns) == 0 {
				return
			}
			w.turns = w.turns[1:]
			continue
		}
		older := w.turns[:len(w.turns)-w.keepTurns]
		recent := w.turns[len(w.turns)-w.keepTurns:]

		summary, err := w.summarize(ctx, older)
		if err != nil {
			log.Printf("contextwin: summarization failed, dropping %d turns: %v", len(older), err)
			w.turns = append([]Turn(nil), recent...)
			continue
		}
		w.summary = summary
		w.turns = append([]Turn(nil), recent...)
	}
}

func (w *Window) summarize(ctx context.Context, older []Turn) (string, error) {
	if w.summarizer == nil {
		return "", fmt.Errorf("no summarizer configured")
	}
	var b strings.Builder
	if w.summary != "" {
		b.WriteString("Previous summary: ")
		b.WriteString(w.summary)
		b.WriteString("\n")
	}
	for _, t := range older {
		fmt.Fprintf(&b, "Caller: %s\n", t.User)
		if t.Assistant != "" {
			fmt.Fprintf(&b, "Companion: %s\n", t.Assistant)
		}
	}
	return w.summarizer.Summarize(ctx, b.String())
}

func (w *Window) dropOneNonCritical() bool {
	for i, s := range w.snippets {
		if s.Tier != TierCritical {
			w.snippets = append(w.snippets[:i], w.snippets[i+1:]...)
			return true
		}
	}
	return false
}

// relevant is a keyword-overlap test: a contextual snippet is injected when
// it shares a meaningful word with the current utterance or topic.
func relevant(snippet, utterance, topic string) bool {
	snip := strings.ToLower(snippet)
	if topic != "" && strings.Contains(snip, strings.ToLower(topic)) {
		return true
	}
	for _, word := range strings.Fields(strings.ToLower(utterance)) {
		if len(word) < 4 {
			continue
		}
		if strings.Contains(snip, word) {
			return true
		}
	}
	return false
}
