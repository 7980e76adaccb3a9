// Package segment converts streamed token deltas into flush units: chunks of
// text handed to speech synthesis as soon as they are speakable. A unit is
// emitted on sentence-terminal punctuation or when the word cap is reached,
// whichever comes first, bounding time-to-first-audio on long unpunctuated
// clauses.
package segment

import "strings"

// Segmenter accumulates deltas and yields flush units. Not safe for
// concurrent use; the generation coordinator owns one per in-flight response.
type Segmenter struct {
	punctuation string
	maxWords    int
	buf         strings.Builder
}

// New returns a Segmenter with the given boundary policy. punctuation lists
// the sentence-terminal runes; maxWords is the clause-length cap.
func New(punctuation string, maxWords int) *Segmenter {
	if punctuation == "" {
		punctuation = ".!?"
	}
	if maxWords <= 0 {
		maxWords = 12
	}
	return &Segmenter{punctuation: punctuation, maxWords: maxWords}
}

// Add appends a token delta and returns zero or more complete flush units.
// A single delta can close more than one unit (e.g. "...? Yes.").
func (s *Segmenter) Add(delta string) []string {
	if delta == "" {
		return nil
	}
	s.buf.WriteString(delta)

	var units []string
	for {
		content := s.buf.String()
		unit, rest, ok := s.split(content)
		if !ok {
			break
		}
		if unit != "" {
			units = append(units, unit)
		}
		s.buf.Reset()
		s.buf.WriteString(rest)
	}
	return units
}

// split finds the earliest boundary in content. Punctuation wins when both
// boundaries are present in the same span.
func (s *Segmenter) split(content string) (unit, rest string, ok bool) {
	if idx := strings.IndexAny(content, s.punctuation); idx >= 0 {
		// Consume any run of terminal punctuation ("?!", "...").
		end := idx + 1
		for end < len(content) && strings.ContainsRune(s.punctuation, rune(content[end])) {
			end++
		}
		unit = strings.TrimSpace(content[:end])
		rest = strings.TrimLeft(content[end:], " \n")
		if unit == "" {
			return "", rest, rest != content
		}
		return unit, rest, true
	}

	words := strings.Fields(content)
	if len(words) <= s.maxWords {
		return "", "", false
	}
	// Cut after the maxWords-th word, keeping the remainder buffered. The
	// last field may still be mid-token, so it never participates in the cut.
	unit = strings.Join(words[:s.maxWords], " ")
	rest = strings.Join(words[s.maxWords:], " ")
	return unit, rest, true
}

// Flush returns whatever is buffered, if anything. Call when the stream ends.
func (s *Segmenter) Flush() string {
	out := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return out
}

// Reset discards buffered text. Call on interruption so unflushed text is
// never spoken or committed.
func (s *Segmenter) Reset() {
	s.buf.Reset()
}

// Pending reports how many bytes are buffered but not yet flushed.
func (s *Segmenter) Pending() int {
	return s.buf.Len()
}
