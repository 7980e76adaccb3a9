package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmdzco/donna2-sub000/internal/config"
	"github.com/dmdzco/donna2-sub000/internal/director"
	"github.com/dmdzco/donna2-sub000/internal/llm"
	"github.com/dmdzco/donna2-sub000/internal/memory"
	"github.com/dmdzco/donna2-sub000/internal/postcall"
	"github.com/dmdzco/donna2-sub000/internal/transcript"
)

type fakeRec struct {
	segs chan transcript.Segment
	once sync.Once
}

func newFakeRec() *fakeRec { return &fakeRec{segs: make(chan transcript.Segment, 16)} }

func (f *fakeRec) Connect() error                { return nil }
func (f *fakeRec) SendPCM16KLE(pcm []byte) error { return nil }
func (f *fakeRec) Segments() <-chan transcript.Segment {
	return f.segs
}
func (f *fakeRec) RecentlyDetectedVoice(window time.Duration) bool { return false }
func (f *fakeRec) Close() error {
	f.once.Do(func() { close(f.segs) })
	return nil
}

type fakeSink struct {
	mu     sync.Mutex
	bytes  int
	resets int
}

func (f *fakeSink) WritePCM(pcm []byte) {
	f.mu.Lock()
	f.bytes += len(pcm)
	f.mu.Unlock()
}
func (f *fakeSink) FlushTail() {}
func (f *fakeSink) Reset() {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}
func (f *fakeSink) Bytes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bytes
}

type fixedGen struct{ out string }

func (g *fixedGen) Generate(ctx context.Context, model string, msgs []llm.Message, maxTokens int) (string, error) {
	return g.out, nil
}

func testConfig() config.Config {
	return config.Config{
		CerebrasModelID:        "big",
		CerebrasFastModel:      "fast",
		MinTokenBudget:         60,
		MaxTokenBudget:         300,
		OpeningMaxDuration:     time.Minute,
		MainMaxDuration:        8 * time.Minute,
		WindingDownMaxDuration: 2 * time.Minute,
		CallHardCeiling:        12 * time.Minute,
		GoodbyeGrace:           150 * time.Millisecond,
		DirectorTimeout:        100 * time.Millisecond,
		FirstTokenTimeout:      2 * time.Second,
		FirstAudioTimeout:      time.Second,
		FalseInterruptWindow:   80 * time.Millisecond,
		InterruptMinSpeechMs:   350,
		FlushPunctuation:       ".!?",
		FlushMaxWords:          12,
		ContextTokenCeiling:    3000,
		KeepVerbatimTurns:      6,
	}
}

func newTestSession(t *testing.T, rec *fakeRec, sink *fakeSink, store *memory.MemStore) (*CallSession, *captureSpeaker) {
	t.Helper()
	sp := newCaptureSpeaker()
	dirGen := &fixedGen{out: `{"current_topic": "smalltalk", "directive": "stay", "tone": "warm", "token_budget": 80}`}
	analyzerGen := &fixedGen{out: `{"summary": "A short call.", "concerns": [], "engagement_score": 0.7}`}
	deps := Deps{
		Config:     testConfig(),
		Recognizer: rec,
		Speaker:    sp,
		Sink:       sink,
		Stream:     &scriptedStream{text: "It is so nice to hear your voice. How are you today?"},
		Director:   director.New(dirGen, "fast", 100*time.Millisecond),
		Memory:     store,
		Analyzer:   postcall.NewAnalyzer(analyzerGen, "fast", store),
	}
	return New("caller-1", deps), sp
}

func TestSessionHandlesTurnEndToEnd(t *testing.T) {
	rec := newFakeRec()
	sink := &fakeSink{}
	store := memory.NewMemStore()
	store.PutProfile(memory.Profile{CallerID: "caller-1", Name: "Margaret", Interests: []string{"gardening"}})

	s, sp := newTestSession(t, rec, sink, store)
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	rec.segs <- transcript.Segment{Text: "I slept very well thank you", Final: true, At: time.Now()}

	// opening line plus one full exchange
	waitFor(t, time.Second, func() bool { return len(s.TranscriptLines()) >= 3 })
	if sink.Bytes() == 0 {
		t.Fatalf("no audio reached the sink")
	}
	if len(sp.Units()) == 0 {
		t.Fatalf("nothing was spoken")
	}

	s.Hangup("test done")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after hangup")
	}

	turns := s.window.Turns()
	if len(turns) != 1 {
		t.Fatalf("turns = %d", len(turns))
	}
	if turns[0].User != "I slept very well thank you" {
		t.Fatalf("user turn = %q", turns[0].User)
	}
	if turns[0].Assistant == "" {
		t.Fatalf("assistant turn empty")
	}
	if turns[0].BudgetUsed < 80 {
		t.Fatalf("budget = %d, want at least the director's 80", turns[0].BudgetUsed)
	}

	waitFor(t, time.Second, func() bool { return len(store.Records()) == 1 })
	rec2 := store.Records()[0]
	if rec2.CallerID != "caller-1" || rec2.Turns != 1 {
		t.Fatalf("record = %+v", rec2)
	}
}

func TestSessionGoodbyeGraceTerminates(t *testing.T) {
	rec := newFakeRec()
	s, _ := newTestSession(t, rec, &fakeSink{}, memory.NewMemStore())
	go func() { _ = s.Run(context.Background()) }()

	rec.segs <- transcript.Segment{Text: "well goodbye dear", Final: true, At: time.Now()}

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("goodbye grace did not terminate the call")
	}
}

func TestSessionGoodbyeCancelledBySpeech(t *testing.T) {
	rec := newFakeRec()
	s, _ := newTestSession(t, rec, &fakeSink{}, memory.NewMemStore())
	go func() { _ = s.Run(context.Background()) }()

	rec.segs <- transcript.Segment{Text: "well goodbye dear", Final: true, At: time.Now()}
	waitFor(t, time.Second, func() bool { return len(s.TranscriptLines()) >= 3 })
	// more speech inside the grace window keeps the call alive
	rec.segs <- transcript.Segment{Text: "oh wait", At: time.Now()}
	rec.segs <- transcript.Segment{Text: "oh wait one more thing about my daughter", Final: true, At: time.Now()}

	select {
	case <-s.Done():
		t.Fatalf("call terminated despite continued speech")
	case <-time.After(200 * time.Millisecond):
	}
	s.Hangup("cleanup")
}

func TestSessionRemindersGatedByDirector(t *testing.T) {
	rec := newFakeRec()
	store := memory.NewMemStore()
	store.PutReminder(memory.Reminder{ID: "r1", CallerID: "caller-1", Text: "pharmacy pickup", DueAt: time.Now().Add(-time.Hour)})

	sp := newCaptureSpeaker()
	// director never clears the reminder
	dirGen := &fixedGen{out: `{"directive": "stay", "deliver_reminder": false, "tone": "warm"}`}
	deps := Deps{
		Config:     testConfig(),
		Recognizer: rec,
		Speaker:    sp,
		Sink:       &fakeSink{},
		Stream:     &scriptedStream{text: "That sounds lovely."},
		Director:   director.New(dirGen, "fast", 100*time.Millisecond),
		Memory:     store,
		Analyzer:   postcall.NewAnalyzer(&fixedGen{out: `{}`}, "fast", store),
	}
	s := New("caller-1", deps)
	go func() { _ = s.Run(context.Background()) }()

	rec.segs <- transcript.Segment{Text: "the garden looks nice", Final: true, At: time.Now()}
	waitFor(t, time.Second, func() bool { return len(s.TranscriptLines()) >= 3 })

	due, err := store.PendingReminders(context.Background(), "caller-1", time.Now())
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("reminder must stay pending until the director clears it")
	}
	s.Hangup("cleanup")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
