package director

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmdzco/donna2-sub000/internal/llm"
	"github.com/dmdzco/donna2-sub000/internal/observer"
)

type slowGen struct {
	delay time.Duration
	reply string
	calls atomic.Int32
}

func (g *slowGen) Generate(ctx context.Context, model string, messages []llm.Message, maxTokens int) (string, error) {
	g.calls.Add(1)
	select {
	case <-time.After(g.delay):
		return g.reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

const goodReply = `{"current_topic":"garden","phase_estimate":"main","engagement":"normal","directive":"stay","deliver_reminder":true,"tone":"cheerful","token_budget":120}`

func TestFastResultUsedThisTurn(t *testing.T) {
	d := New(&slowGen{delay: 10 * time.Millisecond, reply: goodReply}, "fast", 200*time.Millisecond)
	d.Dispatch(context.Background(), 1, observer.PhaseMain, time.Minute, true, "Caller: the roses are blooming")
	sig := d.Await(1)
	assert.Equal(t, "garden", sig.Topic)
	assert.Equal(t, 120, sig.TokenBudget)
	assert.Equal(t, 1, sig.Turn)
}

func TestSlowResultFallsBackThenCachesForNextTurn(t *testing.T) {
	// 500ms call against a 50ms turn wait: this turn gets the default,
	// the next turn sees the cached late result.
	d := New(&slowGen{delay: 500 * time.Millisecond, reply: goodReply}, "fast", 50*time.Millisecond)
	d.Dispatch(context.Background(), 1, observer.PhaseMain, time.Minute, false, "tail")

	sig := d.Await(1)
	assert.Equal(t, observer.DirectiveStay, sig.Directive)
	assert.Empty(t, sig.Topic, "late turn must degrade to the safe default")

	require.Eventually(t, func() bool {
		cached, ok := d.Cached()
		return ok && cached.Topic == "garden"
	}, 2*time.Second, 20*time.Millisecond, "late result should be cached")

	next := d.Await(2) // no dispatch for turn 2: cached result is reused
	assert.Equal(t, "garden", next.Topic)
}

func TestSupersessionDiscardsStaleResult(t *testing.T) {
	gen := &slowGen{delay: 150 * time.Millisecond, reply: goodReply}
	d := New(gen, "fast", 20*time.Millisecond)
	d.Dispatch(context.Background(), 1, observer.PhaseMain, time.Minute, false, "tail")
	d.Dispatch(context.Background(), 2, observer.PhaseMain, time.Minute, false, "tail")

	sig := d.Await(2)
	_ = sig
	time.Sleep(300 * time.Millisecond)
	cached, ok := d.Cached()
	if ok {
		assert.Equal(t, 2, cached.Turn, "only the live dispatch may populate the cache")
	}
}

func TestMalformedDirectiveDegradesToDefault(t *testing.T) {
	d := New(&slowGen{delay: time.Millisecond, reply: "sorry, I cannot help with that"}, "fast", 200*time.Millisecond)
	d.Dispatch(context.Background(), 3, observer.PhaseOpening, time.Second, false, "tail")
	sig := d.Await(3)
	assert.Equal(t, observer.DirectiveStay, sig.Directive)
	assert.False(t, sig.DeliverReminder)
	assert.Equal(t, "warm", sig.Tone)
}

func TestParseStripsCodeFences(t *testing.T) {
	sig, err := Parse("```json\n"+goodReply+"\n```", 7)
	require.NoError(t, err)
	assert.Equal(t, "garden", sig.Topic)
	assert.Equal(t, 7, sig.Turn)
}

func TestParseToleratesSurroundingProse(t *testing.T) {
	sig, err := Parse("Here is the directive: "+goodReply+" hope that helps", 1)
	require.NoError(t, err)
	assert.Equal(t, observer.DirectiveStay, sig.Directive)
}

func TestParseRejectsUnknownDirective(t *testing.T) {
	_, err := Parse(`{"directive":"panic"}`, 1)
	require.Error(t, err)
}
