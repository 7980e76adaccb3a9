package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultEndpoint = "https://api.cerebras.ai/v1/chat/completions"

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for a completed request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Delta is one streamed token chunk. Done is set on the final delta, which
// may also carry usage counts.
type Delta struct {
	Text  string
	Done  bool
	Usage *Usage
}

// CerebrasClient talks to the Cerebras chat completions API.
type CerebrasClient struct {
	HTTPClient *http.Client
	APIKey     string
	Endpoint   string
}

func NewCerebrasClient(apiKey string) *CerebrasClient {
	return &CerebrasClient{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		APIKey:     apiKey,
		Endpoint:   defaultEndpoint,
	}
}

type chatCompletionsRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	Stream    bool      `json:"stream,omitempty"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason"`
	Message      Message `json:"message"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *Usage       `json:"usage"`
}

type streamChoice struct {
	Delta        Message `json:"delta"`
	FinishReason string  `json:"finish_reason"`
}

type streamChunk struct {
	Choices []streamChoice `json:"choices"`
	Usage   *Usage         `json:"usage"`
}

// Generate performs one non-streaming completion. Used for the director,
// summarization, and post-call passes where the full body is needed at once.
func (c *CerebrasClient) Generate(ctx context.Context, model string, messages []Message, maxTokens int) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("cerebras api key missing")
	}

	reqBody, _ := json.Marshal(chatCompletionsRequest{Model: model, Messages: messages, MaxTokens: maxTokens})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("cerebras error: status=%d body=%s", resp.StatusCode, string(b))
	}
	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", err
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("cerebras: empty choices")
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}

// StreamGenerate starts one streaming completion and emits token deltas on
// the returned channel. Cancelling ctx aborts the underlying HTTP request,
// not just the channel reads; the final delta has Done set.
func (c *CerebrasClient) StreamGenerate(ctx context.Context, model string, messages []Message, maxTokens int) (<-chan Delta, <-chan error) {
	deltas := make(chan Delta, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errCh)

		if c.APIKey == "" {
			errCh <- fmt.Errorf("cerebras api key missing")
			return
		}

		reqBody, _ := json.Marshal(chatCompletionsRequest{Model: model, Messages: messages, MaxTokens: maxTokens, Stream: true})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(reqBody))
		if err != nil {
			errCh <- err
			return
		}
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		// The shared client carries a hard timeout meant for one-shot calls;
		// streams are bounded by ctx instead.
		client := &http.Client{Transport: c.HTTPClient.Transport}
		resp, err := client.Do(req)
		if err != nil {
			errCh <- err
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(resp.Body)
			errCh <- fmt.Errorf("cerebras stream error: status=%d body=%s", resp.StatusCode, string(b))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		var usage *Usage
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				break
			}
			var chunk streamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if text := chunk.Choices[0].Delta.Content; text != "" {
				select {
				case deltas <- Delta{Text: text}:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("cerebras stream read: %w", err)
			return
		}
		if ctx.Err() != nil {
			errCh <- ctx.Err()
			return
		}
		deltas <- Delta{Done: true, Usage: usage}
	}()

	return deltas, errCh
}

func (c *CerebrasClient) endpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return defaultEndpoint
}
