package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmdzco/donna2-sub000/internal/barge"
	"github.com/dmdzco/donna2-sub000/internal/config"
	"github.com/dmdzco/donna2-sub000/internal/contextwin"
	"github.com/dmdzco/donna2-sub000/internal/director"
	"github.com/dmdzco/donna2-sub000/internal/llm"
	"github.com/dmdzco/donna2-sub000/internal/memory"
	"github.com/dmdzco/donna2-sub000/internal/observer"
	"github.com/dmdzco/donna2-sub000/internal/postcall"
	"github.com/dmdzco/donna2-sub000/internal/scanner"
	"github.com/dmdzco/donna2-sub000/internal/segment"
	"github.com/dmdzco/donna2-sub000/internal/transcript"
	"github.com/dmdzco/donna2-sub000/internal/tts"
)

const apologyLine = "I'm sorry, I lost my train of thought for a moment. Could you say that again?"

const fallbackInstruction = "Your previous reply failed to send. Briefly acknowledge what the caller said and gently ask them to repeat or continue."

const ceilingFarewell = "It has been so lovely talking with you. I should let you go now. Take good care, and we'll speak again soon."

// recentWindow is how many finalized utterances the quick scanner sees.
const recentWindow = 8

// Deps wires a CallSession to its collaborators. The transport owns audio
// I/O; everything else is per-call.
type Deps struct {
	Config     config.Config
	Recognizer transcript.Stream
	Speaker    tts.Speaker
	Fallback   tts.Fallback
	Sink       Sink
	Stream     llm.StreamGenerator
	Director   *director.Director
	Memory     memory.Provider
	Analyzer   *postcall.Analyzer
}

// CallSession orchestrates one call end to end: recognizer segments in,
// synthesized audio out, with the scanner, director, context window and
// interruption detector in between. All turn processing happens on the run
// loop goroutine, so finalized utterances are handled strictly in order.
type CallSession struct {
	ID       string
	CallerID string

	cfg      config.Config
	rec      transcript.Stream
	speaker  tts.Speaker
	fallback tts.Fallback
	sink     Sink
	dir      *director.Director
	mem      memory.Provider
	analyzer *postcall.Analyzer

	detector *barge.Detector
	coord    *coordinator
	window   *contextwin.Window
	phases   *phaseClock
	resume   *barge.ResumeGate

	profile  memory.Profile
	snippets []contextwin.Snippet

	muted        atomic.Bool
	audioStarted atomic.Bool

	mu              sync.Mutex
	turnSeq         int
	recent          []string
	transcriptLog   []string
	pendingReminder *memory.Reminder
	goodbyeTimer    *time.Timer
	remainder       string
	startedAt       time.Time

	cancelRun  context.CancelFunc
	terminated chan struct{}
	termOnce   sync.Once
}

// New builds a session. The recognizer must not yet be connected; Run
// connects it.
func New(callerID string, deps Deps) *CallSession {
	s := &CallSession{
		ID:         uuid.NewString(),
		CallerID:   callerID,
		cfg:        deps.Config,
		rec:        deps.Recognizer,
		speaker:    deps.Speaker,
		fallback:   deps.Fallback,
		sink:       deps.Sink,
		dir:        deps.Director,
		mem:        deps.Memory,
		analyzer:   deps.Analyzer,
		terminated: make(chan struct{}),
	}

	bcfg := barge.DefaultTelephony()
	bcfg.MinSpeechMs = deps.Config.InterruptMinSpeechMs
	s.detector = barge.NewDetector(bcfg, barge.Events{OnInterrupt: s.onInterrupt})
	s.resume = barge.NewResumeGate(deps.Config.FalseInterruptWindow)

	seg := segment.New(deps.Config.FlushPunctuation, deps.Config.FlushMaxWords)
	s.coord = newCoordinator(deps.Stream, deps.Speaker, seg, deps.Config.FirstTokenTimeout, func(unit string) {
		s.detector.NotifyAssistantText(unit)
	})

	summarizer := &windowSummarizer{gen: streamAsGen{deps.Stream}, model: deps.Config.CerebrasFastModel}
	s.window = contextwin.New(deps.Config.ContextTokenCeiling, deps.Config.KeepVerbatimTurns, summarizer)
	return s
}

// Done closes when the call has fully terminated.
func (s *CallSession) Done() <-chan struct{} { return s.terminated }

// FeedCallerAudio accepts 16kHz PCM16LE from the transport leg and fans it
// out to the recognizer and the interruption detector.
func (s *CallSession) FeedCallerAudio(pcm []byte) {
	_ = s.rec.SendPCM16KLE(pcm)
	s.detector.FeedMic16k(pcm)
}

// Run drives the call until termination. It blocks.
func (s *CallSession) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel
	defer cancel()

	now := time.Now()
	s.mu.Lock()
	s.startedAt = now
	s.mu.Unlock()
	s.phases = newPhaseClock(now, phaseDeadlines{
		opening: s.cfg.OpeningMaxDuration,
		main:    s.cfg.MainMaxDuration,
		winding: s.cfg.WindingDownMaxDuration,
		ceiling: s.cfg.CallHardCeiling,
	})

	s.loadMemory(runCtx)

	if err := s.rec.Connect(); err != nil {
		return fmt.Errorf("session: connect recognizer: %w", err)
	}

	go s.pumpAudio()
	go s.watchDeadlines(runCtx)

	log.Printf("session %s: call started for caller %s", s.ID, s.CallerID)
	s.speakOpening(runCtx)

	for {
		select {
		case <-runCtx.Done():
			s.terminate(runCtx, "context cancelled")
			return nil
		case <-s.terminated:
			return nil
		case seg, ok := <-s.rec.Segments():
			if !ok {
				s.terminate(runCtx, "recognizer closed")
				return nil
			}
			if seg.Final {
				s.handleTurn(runCtx, seg.Text)
			} else {
				s.handlePartial(seg.Text)
			}
		}
	}
}

// Hangup terminates the call from outside (caller hung up, transport died).
func (s *CallSession) Hangup(reason string) {
	s.terminate(context.Background(), reason)
}

func (s *CallSession) loadMemory(ctx context.Context) {
	if s.mem == nil {
		return
	}
	profile, err := s.mem.LoadProfile(ctx, s.CallerID)
	if err != nil {
		log.Printf("session %s: load profile: %v", s.ID, err)
		profile = memory.Profile{CallerID: s.CallerID}
	}
	s.profile = profile
	s.snippets = memory.Snippets(profile)

	due, err := s.mem.PendingReminders(ctx, s.CallerID, time.Now())
	if err != nil {
		log.Printf("session %s: pending reminders: %v", s.ID, err)
		return
	}
	if len(due) > 0 {
		s.mu.Lock()
		s.pendingReminder = &due[0]
		s.mu.Unlock()
	}
}

// pumpAudio moves synthesized PCM to the transport sink unless playback is
// muted by an interruption.
func (s *CallSession) pumpAudio() {
	for pcm := range s.speaker.Audio() {
		s.audioStarted.Store(true)
		if s.muted.Load() {
			continue
		}
		s.sink.WritePCM(pcm)
	}
}

// watchDeadlines forces phase transitions the director failed to make and
// enforces the hard call ceiling.
func (s *CallSession) watchDeadlines(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.terminated:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			phase, changed := s.phases.Tick(now)
			s.mu.Unlock()
			if !changed {
				continue
			}
			log.Printf("session %s: deadline forced phase %s", s.ID, phase)
			if phase == observer.PhaseTerminated {
				s.speakAndLog(ctx, ceilingFarewell)
				s.terminate(ctx, "hard ceiling")
				return
			}
		}
	}
}

func (s *CallSession) handlePartial(text string) {
	s.detector.NotifyPartial(text)
	// live speech cancels any pending goodbye
	s.mu.Lock()
	if s.goodbyeTimer != nil {
		s.goodbyeTimer.Stop()
		s.goodbyeTimer = nil
		log.Printf("session %s: goodbye grace cancelled by speech", s.ID)
	}
	s.mu.Unlock()
}

// handleTurn runs the full pipeline for one finalized caller utterance.
func (s *CallSession) handleTurn(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.resume.SpeechArrived()
	s.handlePartial("") // clears pending goodbye timer

	s.mu.Lock()
	s.turnSeq++
	turn := s.turnSeq
	recent := append([]string(nil), s.recent...)
	s.recent = append(s.recent, text)
	if len(s.recent) > recentWindow {
		s.recent = s.recent[len(s.recent)-recentWindow:]
	}
	s.transcriptLog = append(s.transcriptLog, "caller: "+text)
	pendingReminder := s.pendingReminder != nil
	phase := s.phases.Phase()
	elapsed := s.phases.Elapsed(time.Now())
	s.mu.Unlock()

	if phase == observer.PhaseTerminated {
		return
	}

	quick := scanner.Scan(text, recent)

	s.dir.Dispatch(ctx, turn, phase, elapsed, pendingReminder, s.transcriptTail())
	dsig := s.dir.Await(turn)

	s.mu.Lock()
	if s.phases.ApplyDirective(dsig.Directive, time.Now()) {
		log.Printf("session %s: director moved phase to %s", s.ID, s.phases.Phase())
	}
	phase = s.phases.Phase()
	s.mu.Unlock()

	merged := observer.Merge(quick, dsig, s.cfg.MinTokenBudget, s.cfg.MaxTokenBudget)

	if merged.DeliverReminder {
		s.deliverReminder(ctx)
	}
	s.window.Inject(s.snippets, text, quick.Topic)
	s.window.EnsureCeiling(ctx)

	messages := s.window.Messages(s.systemPrompt(phase), merged.PromptFragment(), text)
	res := s.respond(ctx, messages, merged)
	s.finishTurn(ctx, text, res, merged, quick)
}

// respond speaks one reply, retrying once with the fallback prompt before
// degrading to the static apology.
func (s *CallSession) respond(ctx context.Context, messages []llm.Message, merged observer.MergedGuidance) speakResult {
	model := s.cfg.CerebrasFastModel
	if merged.Routing.ExpandedModel {
		model = s.cfg.CerebrasModelID
	}

	s.beginSpeaking()
	res, err := s.coord.speakTurn(ctx, model, messages, merged.Routing.TokenBudget)
	if err != nil && !res.Interrupted {
		log.Printf("session %s: generation failed, retrying: %v", s.ID, err)
		retry := append(append([]llm.Message(nil), messages...), llm.Message{Role: "system", Content: fallbackInstruction})
		res, err = s.coord.speakTurn(ctx, model, retry, s.cfg.MinTokenBudget)
		if err != nil && !res.Interrupted {
			log.Printf("session %s: retry failed, speaking apology: %v", s.ID, err)
			res = s.coord.speakDirect(ctx, apologyLine)
		}
	}
	s.ensureAudio(ctx, res)
	if !res.Interrupted {
		s.detector.SetSpeaking(false)
		s.sink.FlushTail()
	}
	return res
}

// beginSpeaking arms playback and interruption detection for a new reply.
func (s *CallSession) beginSpeaking() {
	s.muted.Store(false)
	s.audioStarted.Store(false)
	s.detector.Reset()
	s.detector.SetSpeaking(true)
}

// ensureAudio falls back to the secondary synthesizer when the primary
// produced no audio within the deadline.
func (s *CallSession) ensureAudio(ctx context.Context, res speakResult) {
	if s.fallback == nil || res.Full == "" || res.Interrupted || res.StartedSpeaking.IsZero() {
		return
	}
	deadline := res.StartedSpeaking.Add(s.cfg.FirstAudioTimeout)
	for time.Now().Before(deadline) && !s.audioStarted.Load() {
		time.Sleep(25 * time.Millisecond)
	}
	if s.audioStarted.Load() {
		return
	}
	log.Printf("session %s: no audio within %s, using fallback synthesizer", s.ID, s.cfg.FirstAudioTimeout)
	pcmCh, errCh := s.fallback.StreamPCM48k(ctx, res.Full)
	for pcmCh != nil || errCh != nil {
		select {
		case b, ok := <-pcmCh:
			if !ok {
				pcmCh = nil
				continue
			}
			if !s.muted.Load() {
				s.sink.WritePCM(b)
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				log.Printf("session %s: fallback synthesis: %v", s.ID, err)
			}
		}
	}
}

// finishTurn records the exchange and handles goodbye arming.
func (s *CallSession) finishTurn(ctx context.Context, userText string, res speakResult, merged observer.MergedGuidance, quick observer.QuickSignal) {
	spoken := res.Full
	if res.Interrupted {
		spoken = s.heardPrefix(res)
		words := strings.Fields(res.Full)
		heardN := len(strings.Fields(spoken))
		remainder := ""
		if heardN < len(words) {
			remainder = strings.Join(words[heardN:], " ")
		}
		s.mu.Lock()
		s.remainder = remainder
		s.mu.Unlock()
		s.resume.Interrupted(time.Now())
		go s.maybeResume(ctx)
	}

	s.window.AppendTurn(contextwin.Turn{
		User:       userText,
		Assistant:  spoken,
		BudgetUsed: merged.Routing.TokenBudget,
	})
	s.mu.Lock()
	if spoken != "" {
		s.transcriptLog = append(s.transcriptLog, "assistant: "+spoken)
	}
	s.mu.Unlock()

	if quick.GoodbyeCandidate && !res.Interrupted {
		s.armGoodbye(ctx)
	}
}

// heardPrefix resolves what the caller actually heard before cutting in,
// from the synthesizer's timeline when it has one, otherwise by elapsed
// speaking-rate estimate.
func (s *CallSession) heardPrefix(res speakResult) string {
	played := time.Since(res.StartedSpeaking)
	if heard := s.speaker.Timeline().HeardText(played); heard != "" {
		return heard
	}
	return barge.EstimateHeard(strings.Join(res.Units, " "), played)
}

// maybeResume re-speaks the cut remainder if the interruption produced no
// real caller speech within the window.
func (s *CallSession) maybeResume(ctx context.Context) {
	timer := time.NewTimer(s.cfg.FalseInterruptWindow)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-s.terminated:
		return
	case <-timer.C:
	}
	if !s.resume.ShouldResume(time.Now()) {
		return
	}
	s.mu.Lock()
	remainder := s.remainder
	s.remainder = ""
	s.mu.Unlock()
	if remainder == "" {
		return
	}
	log.Printf("session %s: false interrupt, resuming reply", s.ID)
	s.beginSpeaking()
	res := s.coord.speakDirect(ctx, remainder)
	if !res.Interrupted {
		s.detector.SetSpeaking(false)
		s.sink.FlushTail()
		s.mu.Lock()
		s.transcriptLog = append(s.transcriptLog, "assistant: "+remainder)
		s.mu.Unlock()
		s.window.TruncateLastAssistant(strings.TrimSpace(s.lastSpokenWithRemainder(remainder)))
	}
}

func (s *CallSession) lastSpokenWithRemainder(remainder string) string {
	turns := s.window.Turns()
	if len(turns) == 0 {
		return remainder
	}
	return strings.TrimSpace(turns[len(turns)-1].Assistant + " " + remainder)
}

// onInterrupt fires from the detector when sustained caller speech overlaps
// assistant playback.
func (s *CallSession) onInterrupt(ts time.Time, cues barge.Cues, preRoll []byte) {
	log.Printf("session %s: interruption (voice=%v asr=%v)", s.ID, cues.Voice, cues.ASR)
	s.muted.Store(true)
	s.sink.Reset()
	s.coord.Interrupt()
	// hand the pre-roll to the recognizer so the interruption's first
	// syllables are transcribed
	if len(preRoll) > 0 {
		_ = s.rec.SendPCM16KLE(preRoll)
	}
}

// deliverReminder injects the pending reminder into the context window and
// acknowledges it with the scheduler.
func (s *CallSession) deliverReminder(ctx context.Context) {
	s.mu.Lock()
	r := s.pendingReminder
	s.pendingReminder = nil
	s.mu.Unlock()
	if r == nil {
		return
	}
	s.window.Inject([]contextwin.Snippet{memory.ReminderSnippet(*r)}, r.Text, "")
	if s.mem != nil {
		if err := s.mem.MarkDelivered(ctx, r.ID, time.Now()); err != nil {
			log.Printf("session %s: mark reminder delivered: %v", s.ID, err)
		}
	}
	log.Printf("session %s: reminder %s queued for delivery", s.ID, r.ID)
}

// armGoodbye starts the grace window after a goodbye candidate. If no new
// speech arrives before it elapses, the call closes.
func (s *CallSession) armGoodbye(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.goodbyeTimer != nil {
		return
	}
	log.Printf("session %s: goodbye candidate, grace %s", s.ID, s.cfg.GoodbyeGrace)
	s.goodbyeTimer = time.AfterFunc(s.cfg.GoodbyeGrace, func() {
		s.mu.Lock()
		s.phases.advanceTo(observer.PhaseClosing, time.Now())
		s.mu.Unlock()
		s.terminate(ctx, "goodbye")
	})
}

// speakOpening greets the caller without waiting for them to speak first.
func (s *CallSession) speakOpening(ctx context.Context) {
	opening := "(The call just connected. Greet the caller warmly by name and ask how they are doing.)"
	messages := s.window.Messages(s.systemPrompt(observer.PhaseOpening), "", opening)
	res := s.respond(ctx, messages, observer.MergedGuidance{
		Routing: observer.RoutingDecision{TokenBudget: s.cfg.MinTokenBudget},
		Tone:    "warm",
	})
	if res.Full != "" {
		s.mu.Lock()
		s.transcriptLog = append(s.transcriptLog, "assistant: "+res.Full)
		s.mu.Unlock()
	}
}

// speakAndLog speaks literal text and records it.
func (s *CallSession) speakAndLog(ctx context.Context, text string) {
	s.beginSpeaking()
	res := s.coord.speakDirect(ctx, text)
	if !res.Interrupted {
		s.detector.SetSpeaking(false)
		s.sink.FlushTail()
	}
	s.mu.Lock()
	s.transcriptLog = append(s.transcriptLog, "assistant: "+text)
	s.mu.Unlock()
}

// TranscriptLines returns a copy of the running transcript log.
func (s *CallSession) TranscriptLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.transcriptLog...)
}

func (s *CallSession) transcriptTail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tail := s.transcriptLog
	if len(tail) > 12 {
		tail = tail[len(tail)-12:]
	}
	return strings.Join(tail, "\n")
}

func (s *CallSession) systemPrompt(phase observer.CallPhase) string {
	var b strings.Builder
	b.WriteString("You are Donna, a warm phone companion for ")
	if s.profile.Name != "" {
		b.WriteString(s.profile.Name)
	} else {
		b.WriteString("an elderly caller")
	}
	b.WriteString(". Speak naturally for a phone call: short sentences, no lists, no emoji. Never rush the caller.")
	switch phase {
	case observer.PhaseOpening:
		b.WriteString(" The call just started; be welcoming and unhurried.")
	case observer.PhaseWindingDown:
		b.WriteString(" The call is winding down; begin gently steering toward a warm close.")
	case observer.PhaseClosing:
		b.WriteString(" Say a brief, warm goodbye.")
	}
	return b.String()
}

// terminate tears the call down exactly once and dispatches the post-call
// analyzer in the background.
func (s *CallSession) terminate(ctx context.Context, reason string) {
	s.termOnce.Do(func() {
		log.Printf("session %s: terminating (%s)", s.ID, reason)
		s.mu.Lock()
		s.phases.advanceTo(observer.PhaseTerminated, time.Now())
		if s.goodbyeTimer != nil {
			s.goodbyeTimer.Stop()
			s.goodbyeTimer = nil
		}
		started := s.startedAt
		lines := append([]string(nil), s.transcriptLog...)
		turns := s.turnSeq
		s.mu.Unlock()

		s.dir.Cancel()
		s.coord.Interrupt()
		_ = s.rec.Close()
		_ = s.speaker.Close()
		close(s.terminated)
		if s.cancelRun != nil {
			s.cancelRun()
		}

		if s.analyzer != nil {
			go s.analyzer.Run(context.Background(), postcall.Input{
				CallID:     s.ID,
				CallerID:   s.CallerID,
				StartedAt:  started,
				EndedAt:    time.Now(),
				Transcript: lines,
				Turns:      turns,
			})
		}
	})
}

// streamAsGen adapts a StreamGenerator to the one-shot Generator interface
// for the summarizer.
type streamAsGen struct{ s llm.StreamGenerator }

func (a streamAsGen) Generate(ctx context.Context, model string, messages []llm.Message, maxTokens int) (string, error) {
	deltas, errs := a.s.StreamGenerate(ctx, model, messages, maxTokens)
	var b strings.Builder
	for deltas != nil || errs != nil {
		select {
		case d, ok := <-deltas:
			if !ok {
				deltas = nil
				continue
			}
			b.WriteString(d.Text)
			if d.Done {
				deltas = nil
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return "", err
			}
		}
	}
	return b.String(), nil
}

// windowSummarizer compresses older turns for Reset-with-Summary.
type windowSummarizer struct {
	gen   llm.Generator
	model string
}

func (w *windowSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	messages := []llm.Message{
		{Role: "system", Content: "Summarize this phone conversation in at most four sentences. Keep names, health mentions and anything the caller asked for."},
		{Role: "user", Content: transcript},
	}
	return w.gen.Generate(ctx, w.model, messages, 256)
}
