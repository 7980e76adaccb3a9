package postcall

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dmdzco/donna2-sub000/internal/llm"
	"github.com/dmdzco/donna2-sub000/internal/memory"
	"github.com/dmdzco/donna2-sub000/internal/observer"
)

const analysisPrompt = `You review a finished phone conversation between a companion assistant and an elderly caller. Read the transcript and respond with JSON only, no prose:
{
  "summary": "3-4 sentence summary of the call",
  "concerns": [{"category": "health|cognitive|safety|emotional|social", "severity": 1-5, "detail": "..."}],
  "engagement_score": 0.0-1.0
}
List a concern only when the transcript supports it. An empty concerns array is a fine answer.`

// analysisTimeout bounds the whole post-call pass. Analysis runs after
// teardown and must never hold call resources.
const analysisTimeout = 30 * time.Second

// Analyzer is the slow third reader of the conversation. It runs once, after
// the call ends, over the full transcript.
type Analyzer struct {
	gen       llm.Generator
	model     string
	maxTokens int
	sink      memory.Sink
}

func NewAnalyzer(gen llm.Generator, model string, sink memory.Sink) *Analyzer {
	return &Analyzer{gen: gen, model: model, maxTokens: 1024, sink: sink}
}

// Input carries everything the analyzer needs from the finished call.
type Input struct {
	CallID     string
	CallerID   string
	StartedAt  time.Time
	EndedAt    time.Time
	Transcript []string
	Turns      int
}

// Run analyzes the call and persists the record. Errors are logged, not
// returned; a failed analysis still writes a record with the raw turn count
// so the call is never silently lost.
func (a *Analyzer) Run(parent context.Context, in Input) {
	ctx, cancel := context.WithTimeout(parent, analysisTimeout)
	defer cancel()

	sig, err := a.Analyze(ctx, in)
	if err != nil {
		log.Printf("postcall: analysis failed for call %s: %v", in.CallID, err)
		sig = observer.DeepSignal{CallID: in.CallID, CreatedAt: time.Now()}
	}

	concerns, _ := json.Marshal(sig.Concerns)
	rec := memory.CallRecord{
		CallID:     in.CallID,
		CallerID:   in.CallerID,
		StartedAt:  in.StartedAt,
		EndedAt:    in.EndedAt,
		Summary:    sig.Summary,
		Concerns:   concerns,
		Engagement: sig.Engagement,
		Turns:      in.Turns,
	}
	if err := a.sink.SaveCallRecord(ctx, rec); err != nil {
		log.Printf("postcall: save record for call %s: %v", in.CallID, err)
		return
	}
	for _, c := range sig.Concerns {
		if c.Severity >= 4 {
			log.Printf("postcall: call %s raised %s concern severity=%d: %s", in.CallID, c.Category, c.Severity, c.Detail)
		}
	}
}

// Analyze produces the deep signal without persisting it.
func (a *Analyzer) Analyze(ctx context.Context, in Input) (observer.DeepSignal, error) {
	if len(in.Transcript) == 0 {
		return observer.DeepSignal{CallID: in.CallID, CreatedAt: time.Now()}, nil
	}
	messages := []llm.Message{
		{Role: "system", Content: analysisPrompt},
		{Role: "user", Content: strings.Join(in.Transcript, "\n")},
	}
	raw, err := a.gen.Generate(ctx, a.model, messages, a.maxTokens)
	if err != nil {
		return observer.DeepSignal{}, fmt.Errorf("postcall: generate: %w", err)
	}
	return Parse(raw, in.CallID)
}

// Parse extracts the deep signal from model output, tolerating code fences
// and prose around the JSON object.
func Parse(raw, callID string) (observer.DeepSignal, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	if i := strings.Index(s, "{"); i >= 0 {
		if j := strings.LastIndex(s, "}"); j > i {
			s = s[i : j+1]
		}
	}
	var sig observer.DeepSignal
	if err := json.Unmarshal([]byte(s), &sig); err != nil {
		return observer.DeepSignal{}, fmt.Errorf("postcall: parse analysis: %w", err)
	}
	sig.CallID = callID
	sig.CreatedAt = time.Now()
	if sig.Engagement < 0 {
		sig.Engagement = 0
	}
	if sig.Engagement > 1 {
		sig.Engagement = 1
	}
	for i := range sig.Concerns {
		if sig.Concerns[i].Severity < 1 {
			sig.Concerns[i].Severity = 1
		}
		if sig.Concerns[i].Severity > 5 {
			sig.Concerns[i].Severity = 5
		}
	}
	return sig, nil
}
