// Package scanner implements the synchronous Layer 1 pass over each finalized
// utterance. It is a pure function of the utterance text and a short rolling
// window of recent utterances: no I/O, no hidden state, deterministic.
package scanner

import (
	"strings"
	"unicode"

	"github.com/dmdzco/donna2-sub000/internal/observer"
)

// Budget recommendations per signal class. The session merges these with the
// director's recommendation; the configured bounds clamp the result.
const (
	budgetDefault       = 80
	budgetQuestion      = 120
	budgetHealthEmotion = 150
	budgetLowEngagement = 60
)

// shortUtteranceWords is the word count at or below which an utterance counts
// toward the short-response run used for engagement.
const shortUtteranceWords = 3

// lowEngagementRun is how many consecutive short responses (including the
// current one) report low engagement.
const lowEngagementRun = 3

// Scan analyzes one finalized utterance against the rule tables. recent is
// the rolling window of prior finalized user utterances, oldest first.
func Scan(text string, recent []string) observer.QuickSignal {
	normalized := normalize(text)
	padded := " " + normalized + " "

	var sig observer.QuickSignal
	sig.TokenBudget = budgetDefault

	for _, r := range rules {
		if !strings.Contains(padded, " "+r.phrase+" ") && !strings.Contains(normalized, r.phrase+" ") && !phraseMatch(normalized, r.phrase) {
			continue
		}
		switch r.signal {
		case sigHealth:
			sig.HealthMention = true
		case sigSafety:
			sig.SafetyMention = true
		case sigFamily:
			sig.FamilyMention = true
			if sig.Topic == "" {
				sig.Topic = topicOf[r.phrase]
			}
		case sigNegative:
			sig.Valence = observer.ValenceNegative
		case sigPositive:
			if sig.Valence == observer.ValenceNeutral {
				sig.Valence = observer.ValencePositive
			}
		case sigGoodbye:
			sig.GoodbyeCandidate = true
		}
		if r.guidance != "" {
			sig.Guidance = appendUnique(sig.Guidance, r.guidance)
		}
	}

	sig.ExplicitQuestion = strings.Contains(text, "?") || startsWithQuestionWord(normalized)
	sig.Engagement = engagement(normalized, recent)

	switch {
	case sig.HealthMention || sig.SafetyMention || sig.Valence == observer.ValenceNegative:
		sig.TokenBudget = budgetHealthEmotion
	case sig.ExplicitQuestion:
		sig.TokenBudget = budgetQuestion
	case sig.Engagement == observer.EngagementLow:
		sig.TokenBudget = budgetLowEngagement
	}

	return sig
}

// engagement derives the engagement level from utterance length and the
// short-response run across the rolling window.
func engagement(normalized string, recent []string) observer.Engagement {
	words := len(strings.Fields(normalized))
	if words >= 20 {
		return observer.EngagementHigh
	}
	if words > shortUtteranceWords {
		return observer.EngagementNormal
	}
	run := 1
	for i := len(recent) - 1; i >= 0; i-- {
		if len(strings.Fields(normalize(recent[i]))) > shortUtteranceWords {
			break
		}
		run++
	}
	if run >= lowEngagementRun {
		return observer.EngagementLow
	}
	return observer.EngagementNormal
}

// phraseMatch handles multi-word phrases that strings.Contains with word
// padding misses at string boundaries.
func phraseMatch(normalized, phrase string) bool {
	if !strings.Contains(phrase, " ") {
		return false
	}
	return strings.Contains(normalized, phrase)
}

func startsWithQuestionWord(normalized string) bool {
	fields := strings.Fields(normalized)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "what", "when", "where", "who", "why", "how", "can", "could", "would", "do", "did", "is", "are":
		return len(fields) > 1
	}
	return false
}

// normalize lowercases and strips punctuation so table phrases match speech
// transcripts regardless of ASR formatting.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '\'' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
