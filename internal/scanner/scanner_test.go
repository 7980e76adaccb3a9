package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmdzco/donna2-sub000/internal/observer"
)

func TestScanHealthAndFear(t *testing.T) {
	sig := Scan("I fell yesterday and I'm scared", nil)
	assert.True(t, sig.HealthMention, "fall should raise a health mention")
	assert.True(t, sig.SafetyMention, "scared should raise a safety mention")
	assert.Equal(t, observer.ValenceNegative, sig.Valence, "fear is negative emotion")
	assert.GreaterOrEqual(t, sig.TokenBudget, 150)
	require.NotEmpty(t, sig.Guidance)
}

func TestFearHoldsPendingReminder(t *testing.T) {
	sig := Scan("I fell yesterday and I'm scared", nil)
	merged := observer.Merge(sig, observer.DirectorSignal{DeliverReminder: true, Tone: "warm"}, 60, 300)
	assert.False(t, merged.DeliverReminder, "reminder must stay held while valence is negative")
	assert.True(t, merged.Routing.ExpandedModel)
}

func TestScanNegativeValence(t *testing.T) {
	sig := Scan("I've been so lonely since Tom passed, I miss him", nil)
	assert.Equal(t, observer.ValenceNegative, sig.Valence)
	assert.GreaterOrEqual(t, sig.TokenBudget, 150)
}

func TestScanPositiveValence(t *testing.T) {
	sig := Scan("We had a wonderful time at the park", nil)
	assert.Equal(t, observer.ValencePositive, sig.Valence)
}

func TestScanIsDeterministic(t *testing.T) {
	recent := []string{"yes", "okay"}
	a := Scan("My daughter visited and we laughed all afternoon", recent)
	b := Scan("My daughter visited and we laughed all afternoon", recent)
	assert.Equal(t, a, b, "identical inputs must produce identical signals")
}

func TestScanFamilyTopic(t *testing.T) {
	sig := Scan("my granddaughter called me this morning", nil)
	assert.True(t, sig.FamilyMention)
	assert.Equal(t, "family", sig.Topic)
}

func TestScanExplicitQuestion(t *testing.T) {
	sig := Scan("What day is it today?", nil)
	assert.True(t, sig.ExplicitQuestion)
	assert.GreaterOrEqual(t, sig.TokenBudget, 120)
}

func TestScanLowEngagementRun(t *testing.T) {
	// Two prior short responses plus a short current one makes a run of three.
	recent := []string{"yes", "fine"}
	sig := Scan("okay", recent)
	assert.Equal(t, observer.EngagementLow, sig.Engagement)
	assert.Equal(t, 60, sig.TokenBudget)

	// A long response anywhere in the window breaks the run.
	recent = []string{"we went to the market and bought flowers", "fine"}
	sig = Scan("okay", recent)
	assert.Equal(t, observer.EngagementNormal, sig.Engagement)
}

func TestScanGoodbyeCandidate(t *testing.T) {
	for _, text := range []string{"Alright, goodbye dear", "I should go now", "talk to you later"} {
		sig := Scan(text, nil)
		assert.True(t, sig.GoodbyeCandidate, "expected goodbye candidate for %q", text)
	}
	sig := Scan("my friend said goodbye to her sister at the airport", nil)
	assert.True(t, sig.GoodbyeCandidate, "scanner flags candidates; the grace window filters false positives")
}

func TestScanIgnoresPunctuationAndCase(t *testing.T) {
	sig := Scan("LONELY... so lonely!", nil)
	assert.Equal(t, observer.ValenceNegative, sig.Valence)
}
