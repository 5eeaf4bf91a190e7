package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ubk8751/cathyAI/internal/types"
)

// ErrTimeout means the chat request exceeded the configured timeout. It is
// fatal: a request that blew the deadline once is not retried.
var ErrTimeout = errors.New("chat request timed out")

// Chat talks to the Ollama-compatible chat backend and normalizes its
// cumulative-content stream into incremental deltas.
type Chat struct {
	apiURL string
	apiKey string
	client *http.Client
}

// NewChat returns a Chat client for apiURL.
func NewChat(apiURL, apiKey string, timeout time.Duration) *Chat {
	return &Chat{
		apiURL: apiURL,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model    string              `json:"model"`
	Messages []types.ChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

// streamEvent is one newline-delimited event. Content is cumulative: each
// event carries the full text generated so far, not a delta. Some backends
// emit a bare token field instead.
type streamEvent struct {
	Message *struct {
		Content *string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Token string `json:"token"`
}

func (c *Chat) post(ctx context.Context, model string, messages []types.ChatMessage, stream bool) (*http.Response, error) {
	body, err := json.Marshal(chatRequest{Model: model, Messages: messages, Stream: stream})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.client.Do(req)
}

// Stream yields reply deltas for one generation. Events arrive as NDJSON,
// optionally SSE-framed with a "data: " prefix, terminated by "[DONE]" or
// stream close. The delta is the suffix of the cumulative content beyond
// what was already emitted; when the cumulative content does not extend the
// previous event, the whole new string is emitted instead. Unparseable lines
// are skipped, never fatal.
//
// A timeout is fatal. An HTTP error status falls back to exactly one
// non-streaming call whose reply, if any, is yielded as a single terminal
// delta; if the fallback also fails, the combined error is yielded.
func (c *Chat) Stream(ctx context.Context, model string, messages []types.ChatMessage) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		resp, err := c.post(ctx, model, messages, true)
		if err != nil {
			if isTimeout(err) {
				slog.Error("chat API timeout")
				yield("", ErrTimeout)
				return
			}
			yield("", fmt.Errorf("chat request failed: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			c.fallback(ctx, model, messages, fmt.Errorf("chat API status %d", resp.StatusCode), yield)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		last := ""
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			line = strings.TrimPrefix(line, "data: ")
			if line == "[DONE]" {
				return
			}

			var event streamEvent
			if err := json.Unmarshal([]byte(line), &event); err != nil {
				continue
			}

			if event.Message != nil && event.Message.Content != nil {
				content := *event.Message.Content
				delta := content
				if strings.HasPrefix(content, last) {
					delta = content[len(last):]
				}
				last = content
				if delta != "" && !yield(delta, nil) {
					return
				}
				continue
			}
			if event.Token != "" && !yield(event.Token, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if isTimeout(err) {
				slog.Error("chat API timeout mid-stream")
				yield("", ErrTimeout)
				return
			}
			yield("", fmt.Errorf("chat stream failed: %w", err))
		}
	}
}

// fallback runs the one-shot non-streaming request after a recoverable
// streaming failure.
func (c *Chat) fallback(ctx context.Context, model string, messages []types.ChatMessage, cause error, yield func(string, error) bool) {
	slog.Error("chat API error, falling back to non-streaming", "error", cause)
	reply, err := c.Complete(ctx, model, messages)
	if err != nil {
		slog.Error("non-streaming fallback failed", "error", err)
		yield("", fmt.Errorf("%v; fallback failed: %w", cause, err))
		return
	}
	if reply != "" {
		yield(reply, nil)
	}
}

// Complete issues a single non-streaming generation and returns the reply.
func (c *Chat) Complete(ctx context.Context, model string, messages []types.ChatMessage) (string, error) {
	resp, err := c.post(ctx, model, messages, false)
	if err != nil {
		if isTimeout(err) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat API status %d", resp.StatusCode)
	}

	var body struct {
		Reply string `json:"reply"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	return body.Reply, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
