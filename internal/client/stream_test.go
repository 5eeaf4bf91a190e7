package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ubk8751/cathyAI/internal/types"
)

func streamServer(t *testing.T, lines []string) *Chat {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
	}))
	t.Cleanup(srv.Close)
	return NewChat(srv.URL, "", 5*time.Second)
}

func collect(t *testing.T, c *Chat) ([]string, error) {
	t.Helper()
	var deltas []string
	for delta, err := range c.Stream(context.Background(), "test-model", []types.ChatMessage{{Role: "user", Content: "hi"}}) {
		if err != nil {
			return deltas, err
		}
		deltas = append(deltas, delta)
	}
	return deltas, nil
}

func cumulativeLine(content string) string {
	data, _ := json.Marshal(map[string]any{"message": map[string]string{"content": content}, "done": false})
	return string(data)
}

func TestStreamEmitsDeltas(t *testing.T) {
	c := streamServer(t, []string{
		cumulativeLine("Hi"),
		cumulativeLine("Hi there"),
		cumulativeLine("Hi there!"),
	})
	deltas, err := collect(t, c)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !reflect.DeepEqual(deltas, []string{"Hi", " there", "!"}) {
		t.Fatalf("unexpected deltas: %#v", deltas)
	}
}

func TestStreamNonMonotonicContentReplaces(t *testing.T) {
	c := streamServer(t, []string{
		cumulativeLine("Hello"),
		cumulativeLine("Bye"),
	})
	deltas, err := collect(t, c)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !reflect.DeepEqual(deltas, []string{"Hello", "Bye"}) {
		t.Fatalf("unexpected deltas: %#v", deltas)
	}
}

func TestStreamSSEFramingAndDone(t *testing.T) {
	c := streamServer(t, []string{
		"data: " + cumulativeLine("Hi"),
		"",
		"data: [DONE]",
		cumulativeLine("Hi ignored after done"),
	})
	deltas, err := collect(t, c)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !reflect.DeepEqual(deltas, []string{"Hi"}) {
		t.Fatalf("unexpected deltas: %#v", deltas)
	}
}

func TestStreamSkipsUnparseableLines(t *testing.T) {
	c := streamServer(t, []string{
		cumulativeLine("Hi"),
		"{this is not json",
		cumulativeLine("Hi!"),
	})
	deltas, err := collect(t, c)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !reflect.DeepEqual(deltas, []string{"Hi", "!"}) {
		t.Fatalf("unexpected deltas: %#v", deltas)
	}
}

func TestStreamEmptyDeltasSuppressed(t *testing.T) {
	c := streamServer(t, []string{
		cumulativeLine("Hi"),
		cumulativeLine("Hi"),
		cumulativeLine("Hi!"),
	})
	deltas, err := collect(t, c)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !reflect.DeepEqual(deltas, []string{"Hi", "!"}) {
		t.Fatalf("unexpected deltas: %#v", deltas)
	}
}

func TestStreamTokenFallbackField(t *testing.T) {
	c := streamServer(t, []string{
		`{"token":"Hi"}`,
		`{"token":" there"}`,
	})
	deltas, err := collect(t, c)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !reflect.DeepEqual(deltas, []string{"Hi", " there"}) {
		t.Fatalf("unexpected deltas: %#v", deltas)
	}
}

// An HTTP error status on the streaming call degrades to one non-streaming
// request whose reply surfaces as a single terminal delta.
func TestStreamFallsBackToNonStreaming(t *testing.T) {
	var streamCalls, completeCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stream bool `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.Stream {
			streamCalls.Add(1)
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		completeCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"reply": "Hello from fallback"})
	}))
	defer srv.Close()

	c := NewChat(srv.URL, "", 5*time.Second)
	deltas, err := collect(t, c)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !reflect.DeepEqual(deltas, []string{"Hello from fallback"}) {
		t.Fatalf("expected single terminal delta, got %#v", deltas)
	}
	if streamCalls.Load() != 1 || completeCalls.Load() != 1 {
		t.Fatalf("expected one streaming and one fallback call, got %d/%d", streamCalls.Load(), completeCalls.Load())
	}
}

func TestStreamFallbackFailurePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewChat(srv.URL, "", 5*time.Second)
	deltas, err := collect(t, c)
	if err == nil {
		t.Fatal("expected an error when both paths fail")
	}
	if len(deltas) != 0 {
		t.Fatalf("expected no deltas, got %#v", deltas)
	}
}

func TestStreamTimeoutIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewChat(srv.URL, "", 100*time.Millisecond)
	_, err := collect(t, c)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.Stream {
			t.Error("expected non-streaming request")
		}
		json.NewEncoder(w).Encode(map[string]string{"reply": "pong"})
	}))
	defer srv.Close()

	c := NewChat(srv.URL, "", 5*time.Second)
	reply, err := c.Complete(context.Background(), "test-model", nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if reply != "pong" {
		t.Fatalf("unexpected reply: %q", reply)
	}
}
