// Package llm provides the narrow contracts the orchestration engine consumes
// for language-model generation, plus the Cerebras implementation.
package llm

import "context"

// Generator performs a one-shot completion. The director, summarizer, and
// post-call analyzer run on this.
type Generator interface {
	Generate(ctx context.Context, model string, messages []Message, maxTokens int) (string, error)
}

// StreamGenerator performs a cancellable streaming completion. The response
// generation coordinator runs on this; cancellation must propagate to the
// underlying network call.
type StreamGenerator interface {
	StreamGenerate(ctx context.Context, model string, messages []Message, maxTokens int) (<-chan Delta, <-chan error)
}
