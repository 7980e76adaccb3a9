package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmdzco/donna2-sub000/internal/contextwin"
)

func TestSnippetsTiering(t *testing.T) {
	p := Profile{
		CallerID:   "c1",
		Name:       "Margaret",
		Conditions: []string{"arthritis", "high blood pressure"},
		Interests:  []string{"gardening"},
		Notes:      "Prefers morning calls.",
	}
	snips := Snippets(p)
	require.Len(t, snips, 3)

	byTier := map[contextwin.SnippetTier]int{}
	for _, s := range snips {
		byTier[s.Tier]++
	}
	assert.Equal(t, 1, byTier[contextwin.TierCritical])
	assert.Equal(t, 1, byTier[contextwin.TierContextual])
	assert.Equal(t, 1, byTier[contextwin.TierBackground])
	assert.Contains(t, snips[0].Text, "arthritis")
	assert.Contains(t, snips[0].Text, "Margaret")
}

func TestSnippetsEmptyProfile(t *testing.T) {
	assert.Empty(t, Snippets(Profile{CallerID: "c2"}))
}

func TestReminderSnippetIsCritical(t *testing.T) {
	s := ReminderSnippet(Reminder{ID: "r1", Text: "take the blue pill at noon"})
	assert.Equal(t, contextwin.TierCritical, s.Tier)
	assert.Contains(t, s.Text, "take the blue pill at noon")
	assert.Equal(t, "reminder:r1", s.SourceID)
}

func TestMemStoreReminderLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m := NewMemStore()
	m.PutReminder(Reminder{ID: "r1", CallerID: "c1", Text: "call the pharmacy", DueAt: now.Add(-time.Hour)})
	m.PutReminder(Reminder{ID: "r2", CallerID: "c1", Text: "dentist tomorrow", DueAt: now.Add(24 * time.Hour)})
	m.PutReminder(Reminder{ID: "r3", CallerID: "other", Text: "not yours", DueAt: now.Add(-time.Hour)})

	due, err := m.PendingReminders(ctx, "c1", now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "r1", due[0].ID)

	require.NoError(t, m.MarkDelivered(ctx, "r1", now))
	due, err = m.PendingReminders(ctx, "c1", now)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestMemStoreKeepsCallRecordFields(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	require.NoError(t, m.SaveCallRecord(ctx, CallRecord{
		CallID:     "call-1",
		CallerID:   "c1",
		Summary:    "short chat",
		Engagement: 0.35,
		Turns:      2,
	}))

	recs := m.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "call-1", recs[0].CallID)
	assert.Equal(t, 0.35, recs[0].Engagement)
	assert.Equal(t, 2, recs[0].Turns)
}
