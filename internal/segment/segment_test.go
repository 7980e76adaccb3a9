package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(s *Segmenter, deltas ...string) []string {
	var units []string
	for _, d := range deltas {
		units = append(units, s.Add(d)...)
	}
	return units
}

func TestEmitsOnSentencePunctuation(t *testing.T) {
	s := New(".!?", 12)
	units := feed(s, "Hello ", "there", ". How are", " you today?")
	require.Equal(t, []string{"Hello there.", "How are you today?"}, units)
	assert.Empty(t, s.Flush())
}

func TestWordCapBoundsUnpunctuatedClauses(t *testing.T) {
	s := New(".!?", 5)
	units := feed(s, "one two three four five six seven ")
	require.Len(t, units, 1)
	assert.Equal(t, "one two three four five", units[0])
	assert.Equal(t, "six seven", s.Flush())
}

func TestPunctuationRunStaysTogether(t *testing.T) {
	s := New(".!?", 12)
	units := feed(s, "Really?!", " Yes.")
	require.Equal(t, []string{"Really?!", "Yes."}, units)
}

func TestSingleDeltaCanCloseMultipleUnits(t *testing.T) {
	s := New(".!?", 12)
	units := s.Add("First. Second. Third")
	require.Equal(t, []string{"First.", "Second."}, units)
	assert.Equal(t, "Third", s.Flush())
}

func TestLastWordNeverCutMidToken(t *testing.T) {
	s := New(".!?", 3)
	// "wond" may be half of "wonderful"; the cap cuts before it, and the
	// fragment stays buffered until the rest of the token arrives.
	units := feed(s, "it was a wond")
	require.Equal(t, []string{"it was a"}, units)
	units = s.Add("erful day indeed")
	assert.Empty(t, units)
	assert.Equal(t, "wonderful day indeed", s.Flush())
}

func TestResetDiscardsBuffered(t *testing.T) {
	s := New(".!?", 12)
	s.Add("half a sentence that will be interru")
	s.Reset()
	assert.Zero(t, s.Pending())
	assert.Empty(t, s.Flush())
}
